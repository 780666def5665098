/*
inventory.go - Listing quantity ledger

PURPOSE:
  Owns a SaleListing's remaining quantity. The only mutation is an atomic
  guarded decrement; quantity is never read-then-written.
*/
package market

import (
	"context"
	"fmt"
)

// InventoryLedger guards listing quantities with conditional decrements.
type InventoryLedger struct {
	Store Store
}

// Decrement reduces the listing's quantity by amount, requiring
// quantity >= amount. When expectedPrice is non-nil the update also
// requires price == *expectedPrice, so a buyer who read a price cannot
// settle against a concurrently edited one. 0 affected rows means the
// listing sold out or changed under us: CONFLICT.
func (l InventoryLedger) Decrement(ctx context.Context, listingID string, amount int64, expectedPrice *int64) error {
	if amount <= 0 {
		return fmt.Errorf("decrement by %d: %w", amount, ErrValidation)
	}
	n, err := l.Store.DecrementQuantity(ctx, listingID, amount, expectedPrice)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("decrement listing %s by %d: %w", listingID, amount, ErrConflict)
	}
	return nil
}
