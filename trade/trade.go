/*
Package trade contains the marketplace workflows: listing management,
point purchases, card minting, and exchange proposals.

PURPOSE:
  Each exported operation runs as exactly one store transaction built from
  the market primitives (CardStateMachine, InventoryLedger, PointLedger).
  Workflows accumulate the ids of the notification rows they create and
  hand them to the Notifier only after the transaction has committed, so
  delivery failures can never roll back or retry committed business state.

EXHAUSTION RULE:
  When a listing's remaining quantity reaches zero - on either the
  point-purchase path or the exchange-accept path - the same handling
  fires: every other PENDING proposal on the listing is rejected, each
  rejected proposal's offered unit reverts to IDLE, and the seller gets a
  sold-out notification. Both paths are deliberately identical.

SEE ALSO:
  - market/: primitives and the Store interface
  - notify/: the Notifier implementation
*/
package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/card-market/market"
)

// Notifier receives the ids of committed notification rows for best-effort
// live delivery. Implementations must not fail the caller.
type Notifier interface {
	PublishMany(ctx context.Context, ids []int64)
}

// NopNotifier discards publishes. Useful in tests and batch tooling.
type NopNotifier struct{}

func (NopNotifier) PublishMany(context.Context, []int64) {}

// activeListing loads a listing and hides soft-deleted ones.
func activeListing(ctx context.Context, s market.Store, listingID string) (*market.SaleListing, error) {
	listing, err := s.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil || !listing.Active() {
		return nil, fmt.Errorf("listing %s: %w", listingID, market.ErrNotFound)
	}
	return listing, nil
}

// handleExhaustion runs the shared sold-out handling inside the current
// transaction: reject all remaining PENDING proposals (except
// exceptProposalID), revert their offered units to IDLE, and notify the
// seller. Returns the sold-out notification id.
func handleExhaustion(ctx context.Context, s market.Store, listing *market.SaleListing, exceptProposalID string, now time.Time) (int64, error) {
	cards := market.CardStateMachine{Store: s}

	siblings, err := s.PendingProposals(ctx, listing.ID, exceptProposalID)
	if err != nil {
		return 0, err
	}
	// All siblings are rejected together; there is no partial preference.
	for _, p := range siblings {
		n, err := s.SetProposalStatus(ctx, p.ID, market.ProposalPending, market.ProposalRejected)
		if err != nil {
			return 0, err
		}
		if n != 1 {
			return 0, fmt.Errorf("auto-reject proposal %s: %w", p.ID, market.ErrConflict)
		}
		if err := cards.Flip(ctx, p.OfferedUnitID, p.ProposerID, market.UnitProposed, market.UnitIdle); err != nil {
			return 0, err
		}
	}

	return s.InsertNotification(ctx, market.Notification{
		UserID:    listing.SellerID,
		Type:      market.NotifySoldOut,
		Content:   fmt.Sprintf("Your listing for %q has sold out.", listing.ID),
		Link:      "/marketplace/" + listing.ID + "/edit",
		CreatedAt: now,
	})
}
