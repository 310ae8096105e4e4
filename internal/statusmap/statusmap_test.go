package statusmap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oxzoid/ospay-core/internal/domain"
)

func TestToPublicCollapsesTransientStatuses(t *testing.T) {
	assert.Equal(t, domain.MinimalAccepted, ToPublic(domain.StatusEscrowPending))
	assert.Equal(t, domain.MinimalEscrowed, ToPublic(domain.StatusPaymentPending))
	assert.Equal(t, domain.MinimalPaymentSent, ToPublic(domain.StatusPaymentConfirmed))
	assert.Equal(t, domain.MinimalCompleted, ToPublic(domain.StatusReleasing))
}

func TestExpandIsInverseOfCollapse(t *testing.T) {
	for _, s := range []domain.Status{
		domain.StatusPending, domain.StatusAccepted, domain.StatusEscrowPending,
		domain.StatusEscrowed, domain.StatusPaymentPending, domain.StatusPaymentSent,
		domain.StatusPaymentConfirmed, domain.StatusReleasing, domain.StatusCompleted,
		domain.StatusCancelled, domain.StatusDisputed, domain.StatusExpired,
	} {
		m := ToPublic(s)
		assert.Contains(t, Expand(m), s)
	}
}

func TestValidatePublicWrite_RejectsTransient(t *testing.T) {
	for _, raw := range []string{"escrow_pending", "payment_pending", "payment_confirmed", "releasing"} {
		_, err := ValidatePublicWrite(raw)
		assert.Error(t, err)
	}
}

func TestValidatePublicWrite_AcceptsCanonicalMinimal(t *testing.T) {
	s, err := ValidatePublicWrite("accepted")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, s)

	s, err = ValidatePublicWrite("cancelled")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, s)
}

func TestValidatePublicWrite_RejectsUnknown(t *testing.T) {
	_, err := ValidatePublicWrite("bogus")
	assert.Error(t, err)
}
