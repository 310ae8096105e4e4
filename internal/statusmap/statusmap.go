// Package statusmap implements C2: the pure mapping between the twelve
// internal order statuses and the eight-status public surface consumers
// see. Internal transient statuses are collapsed into their nearest public
// neighbor; public writes of a transient value are rejected outright (P6).
package statusmap

import (
	"github.com/oxzoid/ospay-core/internal/coreerr"
	"github.com/oxzoid/ospay-core/internal/domain"
)

// toPublic is the collapsing table from spec.md §4.2.
var toPublic = map[domain.Status]domain.MinimalStatus{
	domain.StatusPending:          domain.MinimalOpen,
	domain.StatusAccepted:         domain.MinimalAccepted,
	domain.StatusEscrowPending:    domain.MinimalAccepted,
	domain.StatusEscrowed:         domain.MinimalEscrowed,
	domain.StatusPaymentPending:   domain.MinimalEscrowed,
	domain.StatusPaymentSent:      domain.MinimalPaymentSent,
	domain.StatusPaymentConfirmed: domain.MinimalPaymentSent,
	domain.StatusReleasing:        domain.MinimalCompleted,
	domain.StatusCompleted:        domain.MinimalCompleted,
	domain.StatusCancelled:        domain.MinimalCancelled,
	domain.StatusDisputed:         domain.MinimalDisputed,
	domain.StatusExpired:          domain.MinimalExpired,
}

// toInternal is the expansion table used for query filters: one public
// status may match several internal statuses.
var toInternal = map[domain.MinimalStatus][]domain.Status{
	domain.MinimalOpen:        {domain.StatusPending},
	domain.MinimalAccepted:    {domain.StatusAccepted, domain.StatusEscrowPending},
	domain.MinimalEscrowed:    {domain.StatusEscrowed, domain.StatusPaymentPending},
	domain.MinimalPaymentSent: {domain.StatusPaymentSent, domain.StatusPaymentConfirmed},
	domain.MinimalCompleted:   {domain.StatusReleasing, domain.StatusCompleted},
	domain.MinimalCancelled:   {domain.StatusCancelled},
	domain.MinimalDisputed:    {domain.StatusDisputed},
	domain.MinimalExpired:     {domain.StatusExpired},
}

// canonicalWriteBack is the minimal → preferred internal status used when a
// public write names a status; it only ever yields a non-transient value.
var canonicalWriteBack = map[domain.MinimalStatus]domain.Status{
	domain.MinimalOpen:        domain.StatusPending,
	domain.MinimalAccepted:    domain.StatusAccepted,
	domain.MinimalEscrowed:    domain.StatusEscrowed,
	domain.MinimalPaymentSent: domain.StatusPaymentSent,
	domain.MinimalCompleted:   domain.StatusCompleted,
	domain.MinimalCancelled:   domain.StatusCancelled,
	domain.MinimalDisputed:    domain.StatusDisputed,
	domain.MinimalExpired:     domain.StatusExpired,
}

// ToPublic collapses an internal status to its public representation.
func ToPublic(s domain.Status) domain.MinimalStatus {
	if m, ok := toPublic[s]; ok {
		return m
	}
	return domain.MinimalOpen
}

// Expand returns every internal status a public status filter should match.
func Expand(m domain.MinimalStatus) []domain.Status {
	return toInternal[m]
}

// CanonicalInternal resolves a public write request to the canonical
// non-transient internal status it maps to.
func CanonicalInternal(m domain.MinimalStatus) (domain.Status, bool) {
	s, ok := canonicalWriteBack[m]
	return s, ok
}

// ValidatePublicWrite rejects any write attempt naming a transient internal
// status directly, or an unrecognized public status, per spec.md §4.2/P6.
func ValidatePublicWrite(raw string) (domain.Status, error) {
	// A caller may send either a public (minimal) status name or, in error,
	// an internal transient name; both must be checked.
	if s := domain.Status(raw); isTransientName(s) {
		return "", coreerr.Validation("transient status " + raw + " cannot be written directly")
	}
	internal, ok := CanonicalInternal(domain.MinimalStatus(raw))
	if !ok {
		return "", coreerr.Validation("unrecognized status " + raw)
	}
	return internal, nil
}

func isTransientName(s domain.Status) bool {
	switch s {
	case domain.StatusEscrowPending, domain.StatusPaymentPending, domain.StatusPaymentConfirmed, domain.StatusReleasing:
		return true
	default:
		return false
	}
}
