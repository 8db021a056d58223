package ws

import (
	"context"
	"errors"
	"time"

	"github.com/shopwire/shopwire/globals"
	"github.com/shopwire/shopwire/persistence"
)

// ErrNotAuthorized is returned for a user without a team-membership record for
// the shop, and equally for any verification-infrastructure failure.
var ErrNotAuthorized = errors.New("not authorized for shop")

// Verifier decides, once per join attempt, whether a verified user may receive
// a shop's events. The decision comes from the persisted team-membership
// relation and is neither cached nor re-checked on subsequent events.
type Verifier struct {
	persister persistence.Persister
	timeout   time.Duration
}

func NewVerifier(persister persistence.Persister, timeout time.Duration) *Verifier {
	return &Verifier{persister: persister, timeout: timeout}
}

// Allowed returns nil iff at least one team-membership record exists for the
// shop and user. The query is bounded by the configured timeout; a query error
// or timeout counts as a denial. Verification uncertainty must never admit.
func (v *Verifier) Allowed(ctx context.Context, shopId, userId string) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	rows, err := v.persister.FindTeamMemberships(ctx, shopId, userId)
	if err != nil {
		globals.AppLogger.Warn("membership query failed, denying join", "shop", shopId, "user", userId, "error", err)
		return ErrNotAuthorized
	}
	if len(rows) == 0 {
		return ErrNotAuthorized
	}
	return nil
}
