// Package auth carries the per-action authorization checks scattered
// through the original's consommer_commande dispatch table: a caller must
// hold the required security tier (exchange) and, for user-owned
// resources, present the resource's own owner identity; a global
// delegation flag satisfies either check.
package auth

import (
	"context"

	"github.com/millegrilles/messagerie/internal/messagerie/constants"
	"github.com/millegrilles/messagerie/internal/platform/middleware"
)

// Claims is the minimal identity extracted from a bus envelope's
// certificate once the upstream validator has accepted it.
type Claims struct {
	UserID            string
	Tier              constants.Tier
	DelegationGlobale bool
}

// FromContext reads claims previously attached to ctx by the edge layer.
func FromContext(ctx context.Context) Claims {
	userID, _ := middleware.GetUserID(ctx)
	tier, _ := middleware.GetTier(ctx)
	return Claims{
		UserID:            userID,
		Tier:              constants.Tier(tier),
		DelegationGlobale: middleware.GetDelegationGlobale(ctx),
	}
}

var tierRank = map[constants.Tier]int{
	constants.TierL1Public:  1,
	constants.TierL2Prive:   2,
	constants.TierL3Protege: 3,
	constants.TierL4Secure:  4,
}

// AtLeast reports whether c's tier meets or exceeds min.
func (c Claims) AtLeast(min constants.Tier) bool {
	return tierRank[c.Tier] >= tierRank[min]
}

// OwnsResource reports whether c is either the named resource owner or
// carries global delegation — the "role_prive OR delegation_globale" check
// repeated throughout commandes.rs.
func (c Claims) OwnsResource(userID string) bool {
	return c.DelegationGlobale || (c.UserID != "" && c.UserID == userID)
}
