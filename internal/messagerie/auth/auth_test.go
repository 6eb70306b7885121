package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/millegrilles/messagerie/internal/messagerie/constants"
)

func TestClaimsAtLeast(t *testing.T) {
	c := Claims{Tier: constants.TierL2Prive}
	assert.True(t, c.AtLeast(constants.TierL1Public))
	assert.True(t, c.AtLeast(constants.TierL2Prive))
	assert.False(t, c.AtLeast(constants.TierL3Protege))
	assert.False(t, c.AtLeast(constants.TierL4Secure))
}

func TestClaimsAtLeastUnknownTierRanksZero(t *testing.T) {
	c := Claims{}
	assert.False(t, c.AtLeast(constants.TierL1Public))
}

func TestClaimsOwnsResource(t *testing.T) {
	cases := []struct {
		name  string
		c     Claims
		owner string
		want  bool
	}{
		{"matching owner", Claims{UserID: "u1"}, "u1", true},
		{"different owner", Claims{UserID: "u1"}, "u2", false},
		{"empty claim userID", Claims{}, "u2", false},
		{"delegation globale overrides mismatch", Claims{UserID: "u1", DelegationGlobale: true}, "u2", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.c.OwnsResource(tc.owner))
		})
	}
}
