package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oxzoid/ospay-core/internal/domain"
)

func TestValidate_SameStatusIsNoOp(t *testing.T) {
	d := Validate(domain.StatusEscrowed, domain.StatusEscrowed, domain.Actor{Kind: domain.ActorUser})
	assert.False(t, d.OK)
	assert.Equal(t, "no-op", d.Reason)
}

func TestValidate_TerminalStatusesAreFrozen(t *testing.T) {
	for _, from := range []domain.Status{domain.StatusCompleted, domain.StatusCancelled, domain.StatusExpired} {
		d := Validate(from, domain.StatusAccepted, domain.Actor{Kind: domain.ActorSystem})
		assert.False(t, d.OK, "from %s should be denied", from)
		assert.Equal(t, "terminal", d.Reason)
	}
}

func TestValidate_AllowedEdgeAndActor(t *testing.T) {
	d := Validate(domain.StatusPending, domain.StatusAccepted, domain.Actor{Kind: domain.ActorMerchant, ID: "m1"})
	assert.True(t, d.OK)
}

func TestValidate_DisallowedActorOnEdge(t *testing.T) {
	d := Validate(domain.StatusPending, domain.StatusAccepted, domain.Actor{Kind: domain.ActorUser, ID: "u1"})
	assert.False(t, d.OK)
	assert.Equal(t, "actor-not-allowed", d.Reason)
}

func TestValidate_NoSuchEdge(t *testing.T) {
	d := Validate(domain.StatusPending, domain.StatusReleasing, domain.Actor{Kind: domain.ActorSystem})
	assert.False(t, d.OK)
	assert.Equal(t, "no-such-edge", d.Reason)
}

func TestIsTransientCoversTheFourIntermediaries(t *testing.T) {
	for _, s := range []domain.Status{
		domain.StatusEscrowPending,
		domain.StatusPaymentPending,
		domain.StatusPaymentConfirmed,
		domain.StatusReleasing,
	} {
		assert.True(t, IsTransient(s), "%s should be transient", s)
	}
	assert.False(t, IsTransient(domain.StatusEscrowed))
}

func TestRestoreLiquidityOnExit(t *testing.T) {
	assert.True(t, RestoreLiquidityOnExit(domain.StatusPending, domain.StatusCancelled))
	assert.True(t, RestoreLiquidityOnExit(domain.StatusAccepted, domain.StatusExpired))
	assert.True(t, RestoreLiquidityOnExit(domain.StatusEscrowPending, domain.StatusCancelled))
	assert.False(t, RestoreLiquidityOnExit(domain.StatusEscrowed, domain.StatusCancelled), "escrow-locked exits are refunded, not liquidity-restored")
	assert.False(t, RestoreLiquidityOnExit(domain.StatusPending, domain.StatusAccepted))
}

func TestEveryTransitionTableEntryHasAtLeastOneActor(t *testing.T) {
	for e, allowed := range transitions {
		assert.NotEmpty(t, allowed, "edge %v has no allowed actors", e)
	}
}
