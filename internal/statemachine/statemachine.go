// Package statemachine implements C1: a pure decision function over
// (from_status, to_status, actor) with no I/O. It is the single authority
// on which transitions are legal and which actors may invoke them.
package statemachine

import "github.com/oxzoid/ospay-core/internal/domain"

// Decision is the outcome of Validate.
type Decision struct {
	OK     bool
	Reason string
}

func allow() Decision        { return Decision{OK: true} }
func deny(reason string) Decision { return Decision{OK: false, Reason: reason} }

type edge struct {
	from, to domain.Status
}

// transitions is the static transition table from spec.md §4.1, keyed by
// (from, to) with the set of actor kinds permitted to invoke it.
var transitions = map[edge]map[domain.ActorKind]bool{
	{domain.StatusPending, domain.StatusAccepted}:         actors(domain.ActorMerchant),
	{domain.StatusPending, domain.StatusEscrowed}:         actors(domain.ActorUser, domain.ActorMerchant, domain.ActorSystem),
	{domain.StatusPending, domain.StatusCancelled}:        actors(domain.ActorUser, domain.ActorMerchant, domain.ActorSystem),
	{domain.StatusPending, domain.StatusExpired}:          actors(domain.ActorSystem),
	{domain.StatusAccepted, domain.StatusEscrowPending}:   actors(domain.ActorMerchant, domain.ActorSystem),
	{domain.StatusAccepted, domain.StatusEscrowed}:        actors(domain.ActorUser, domain.ActorMerchant, domain.ActorSystem),
	{domain.StatusAccepted, domain.StatusPaymentPending}:  actors(domain.ActorMerchant),
	{domain.StatusAccepted, domain.StatusPaymentSent}:     actors(domain.ActorMerchant),
	{domain.StatusAccepted, domain.StatusCancelled}:       actors(domain.ActorUser, domain.ActorMerchant, domain.ActorSystem),
	{domain.StatusAccepted, domain.StatusExpired}:         actors(domain.ActorSystem),
	{domain.StatusEscrowPending, domain.StatusEscrowed}:   actors(domain.ActorSystem),
	{domain.StatusEscrowPending, domain.StatusCancelled}:  actors(domain.ActorSystem),
	{domain.StatusEscrowPending, domain.StatusExpired}:    actors(domain.ActorSystem),
	{domain.StatusEscrowed, domain.StatusAccepted}:        actors(domain.ActorMerchant),
	{domain.StatusEscrowed, domain.StatusPaymentPending}:  actors(domain.ActorUser, domain.ActorMerchant, domain.ActorSystem),
	{domain.StatusEscrowed, domain.StatusPaymentSent}:     actors(domain.ActorUser, domain.ActorMerchant),
	{domain.StatusEscrowed, domain.StatusCompleted}:       actors(domain.ActorUser, domain.ActorMerchant, domain.ActorSystem),
	{domain.StatusEscrowed, domain.StatusCancelled}:       actors(domain.ActorUser, domain.ActorMerchant, domain.ActorSystem),
	{domain.StatusEscrowed, domain.StatusDisputed}:        actors(domain.ActorUser, domain.ActorMerchant),
	{domain.StatusEscrowed, domain.StatusExpired}:         actors(domain.ActorSystem),
	{domain.StatusPaymentPending, domain.StatusPaymentSent}:  actors(domain.ActorUser, domain.ActorMerchant),
	{domain.StatusPaymentPending, domain.StatusCancelled}:    actors(domain.ActorUser, domain.ActorMerchant, domain.ActorSystem),
	{domain.StatusPaymentPending, domain.StatusDisputed}:     actors(domain.ActorUser, domain.ActorMerchant),
	{domain.StatusPaymentPending, domain.StatusExpired}:      actors(domain.ActorSystem),
	{domain.StatusPaymentSent, domain.StatusPaymentConfirmed}: actors(domain.ActorUser, domain.ActorMerchant),
	{domain.StatusPaymentSent, domain.StatusCompleted}:       actors(domain.ActorUser, domain.ActorMerchant, domain.ActorSystem),
	{domain.StatusPaymentSent, domain.StatusDisputed}:        actors(domain.ActorUser, domain.ActorMerchant),
	{domain.StatusPaymentSent, domain.StatusExpired}:         actors(domain.ActorSystem),
	{domain.StatusPaymentConfirmed, domain.StatusReleasing}:  actors(domain.ActorSystem),
	{domain.StatusPaymentConfirmed, domain.StatusCompleted}:  actors(domain.ActorUser, domain.ActorMerchant, domain.ActorSystem),
	{domain.StatusPaymentConfirmed, domain.StatusDisputed}:   actors(domain.ActorUser, domain.ActorMerchant),
	{domain.StatusReleasing, domain.StatusCompleted}:         actors(domain.ActorSystem),
	{domain.StatusReleasing, domain.StatusDisputed}:          actors(domain.ActorUser, domain.ActorMerchant),
	{domain.StatusDisputed, domain.StatusCompleted}:          actors(domain.ActorSystem),
	{domain.StatusDisputed, domain.StatusCancelled}:          actors(domain.ActorSystem),
}

func actors(kinds ...domain.ActorKind) map[domain.ActorKind]bool {
	m := make(map[domain.ActorKind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

var terminalStatuses = map[domain.Status]bool{
	domain.StatusCompleted: true,
	domain.StatusCancelled: true,
	domain.StatusExpired:   true,
}

var transientStatuses = map[domain.Status]bool{
	domain.StatusEscrowPending:    true,
	domain.StatusPaymentPending:   true,
	domain.StatusPaymentConfirmed: true,
	domain.StatusReleasing:        true,
}

// preEscrowStatuses are the statuses from which cancel/expire restores
// offer liquidity directly (escrow-locked states have their refund handled
// by the finalization engine instead, per spec.md §4.1).
var preEscrowStatuses = map[domain.Status]bool{
	domain.StatusPending:       true,
	domain.StatusAccepted:      true,
	domain.StatusEscrowPending: true,
}

// Validate is C1's single entry point.
func Validate(from, to domain.Status, actor domain.Actor) Decision {
	if from == to {
		return deny("no-op")
	}
	if terminalStatuses[from] {
		return deny("terminal")
	}
	allowedActors, exists := transitions[edge{from, to}]
	if !exists {
		return deny("no-such-edge")
	}
	if !allowedActors[actor.Kind] {
		return deny("actor-not-allowed")
	}
	return allow()
}

// IsTerminal reports whether status is one of {completed, cancelled, expired}.
func IsTerminal(s domain.Status) bool { return terminalStatuses[s] }

// IsTransient reports whether status is one of the four brief intermediary
// statuses that public writes may never target (P6).
func IsTransient(s domain.Status) bool { return transientStatuses[s] }

// RestoreLiquidityOnExit reports whether exiting `from` into `to` should
// re-increment the originating offer's available_amount: true when to is a
// terminal cancel/expire and from was a pre-escrow status. Escrow-locked
// exits are refunded through the finalization engine instead (spec.md §4.1,
// §4.5.3/§4.5.4).
func RestoreLiquidityOnExit(from, to domain.Status) bool {
	if to != domain.StatusCancelled && to != domain.StatusExpired {
		return false
	}
	return preEscrowStatuses[from]
}
