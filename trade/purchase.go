/*
purchase.go - Point-currency purchase workflow

PURPOSE:
  Executes a buy end-to-end inside one transaction:
    1. advisory prechecks (listing visible, not own listing, enough stock
       and balance as of the read)
    2. select oldest-first ON_SALE units of the seller
    3. conditional transfer of each unit to the buyer
    4. guarded quantity decrement with a price check
    5. conditional debit, then credit, then point log
    6. seller notifications (purchase settled; sold out when exhausted)
  The prechecks are fast-fail only - the authoritative checks are the
  conditional updates, since state can change between read and write.

FAILURE SEMANTICS:
  Any conditional step reporting 0 affected rows aborts the whole
  transaction with CONFLICT. Nothing partial is ever committed.
*/
package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/card-market/market"
)

// Purchases executes buy operations.
type Purchases struct {
	Store    market.TxStore
	Notifier Notifier
	Now      func() time.Time
}

// NewPurchases wires the purchase workflow.
func NewPurchases(store market.TxStore, notifier Notifier) *Purchases {
	return &Purchases{Store: store, Notifier: notifier, Now: time.Now}
}

// PurchaseResult reports a settled buy.
type PurchaseResult struct {
	PurchaseIDs []string
	Remaining   int64
	SoldOut     bool
}

// Buy purchases quantity units from a listing with points.
func (w *Purchases) Buy(ctx context.Context, buyerID, listingID string, quantity int) (*PurchaseResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", market.ErrValidation)
	}

	var result PurchaseResult
	var notificationIDs []int64

	err := w.Store.WithTx(ctx, func(s market.Store) error {
		cards := market.CardStateMachine{Store: s}
		inventory := market.InventoryLedger{Store: s}
		points := market.PointLedger{Store: s}
		now := w.Now()

		listing, err := activeListing(ctx, s, listingID)
		if err != nil {
			return err
		}
		if listing.SellerID == buyerID {
			return fmt.Errorf("cannot buy own listing: %w", market.ErrValidation)
		}

		buyer, err := s.GetUser(ctx, buyerID)
		if err != nil {
			return err
		}
		if buyer == nil {
			return fmt.Errorf("buyer %s: %w", buyerID, market.ErrNotFound)
		}

		total := listing.Price * int64(quantity)

		// Advisory fast-fail. The conditional updates below decide.
		if listing.Quantity < int64(quantity) {
			return &market.InsufficientStockError{Requested: quantity, Available: int(listing.Quantity)}
		}
		if buyer.Points < total {
			return &market.InsufficientFundsError{UserID: buyerID, Required: total, Available: buyer.Points}
		}

		units, err := s.SelectUnits(ctx, listing.SellerID, listing.TemplateID, market.UnitOnSale, quantity)
		if err != nil {
			return err
		}
		if len(units) < quantity {
			// Another buyer drained the seller's reserved units already.
			return fmt.Errorf("only %d of %d units still on sale: %w", len(units), quantity, market.ErrConflict)
		}

		purchases := make([]market.Purchase, 0, quantity)
		for _, unit := range units {
			if err := cards.TransferIfStatus(ctx, unit.ID, listing.SellerID, market.UnitOnSale, buyerID, market.UnitIdle); err != nil {
				return err
			}
			purchases = append(purchases, market.Purchase{
				ID:        market.NewID(),
				BuyerID:   buyerID,
				ListingID: listing.ID,
				UnitID:    unit.ID,
				Type:      market.PurchasePoint,
				CreatedAt: now,
			})
		}
		if err := s.InsertPurchases(ctx, purchases); err != nil {
			return err
		}

		if err := inventory.Decrement(ctx, listing.ID, int64(quantity), &listing.Price); err != nil {
			return err
		}

		if err := points.Transfer(ctx, buyerID, listing.SellerID, total,
			fmt.Sprintf("purchase: listing %s x%d", listing.ID, quantity),
			fmt.Sprintf("sale: listing %s x%d", listing.ID, quantity),
		); err != nil {
			return err
		}

		id, err := s.InsertNotification(ctx, market.Notification{
			UserID: listing.SellerID,
			Type:   market.NotifyCardPurchased,
			Content: fmt.Sprintf("%s bought %d of your cards for %d points.",
				buyer.Nickname, quantity, total),
			Link:      "/marketplace/" + listing.ID + "/edit",
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		notificationIDs = append(notificationIDs, id)

		// Re-read inside the same transaction to detect exhaustion.
		after, err := s.GetListing(ctx, listing.ID)
		if err != nil {
			return err
		}
		result.Remaining = after.Quantity
		result.SoldOut = after.Quantity == 0
		if result.SoldOut {
			soldOutID, err := handleExhaustion(ctx, s, listing, "", now)
			if err != nil {
				return err
			}
			notificationIDs = append(notificationIDs, soldOutID)
		}

		for _, p := range purchases {
			result.PurchaseIDs = append(result.PurchaseIDs, p.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Delivery is decoupled from the committed transaction.
	w.Notifier.PublishMany(ctx, notificationIDs)
	return &result, nil
}
