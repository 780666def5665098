/*
listing.go - Sale listing lifecycle

PURPOSE:
  Creating a listing reserves the offered units (IDLE -> ON_SALE) in the
  same transaction that inserts the listing row, so quantity and reserved
  units can never disagree. Cancelling reverts the remaining reserved
  units and soft-deletes the listing.
*/
package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/card-market/market"
)

// Listings manages sale listing creation and cancellation.
type Listings struct {
	Store market.TxStore
	Now   func() time.Time
}

// NewListings wires the listing workflow.
func NewListings(store market.TxStore) *Listings {
	return &Listings{Store: store, Now: time.Now}
}

// CreateListingInput describes a new sale.
type CreateListingInput struct {
	TemplateID string
	Price      int64
	Quantity   int

	// Optional barter preferences.
	DesiredGrade market.Grade
	DesiredGenre market.Genre
	DesiredDesc  string
}

// Create reserves quantity IDLE units of the template and publishes the
// listing. A shortfall aborts with INSUFFICIENT_STOCK and nothing stays
// reserved.
func (w *Listings) Create(ctx context.Context, sellerID string, in CreateListingInput) (*market.SaleListing, error) {
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", market.ErrValidation)
	}
	if in.Price <= 0 {
		return nil, fmt.Errorf("price must be positive: %w", market.ErrValidation)
	}

	var listing market.SaleListing
	err := w.Store.WithTx(ctx, func(s market.Store) error {
		cards := market.CardStateMachine{Store: s}

		template, err := s.GetTemplate(ctx, in.TemplateID)
		if err != nil {
			return err
		}
		if template == nil {
			return fmt.Errorf("template %s: %w", in.TemplateID, market.ErrNotFound)
		}

		if _, err := cards.ReserveForSale(ctx, sellerID, in.TemplateID, in.Quantity); err != nil {
			return err
		}

		listing = market.SaleListing{
			ID:              market.NewID(),
			SellerID:        sellerID,
			TemplateID:      in.TemplateID,
			Price:           in.Price,
			InitialQuantity: int64(in.Quantity),
			Quantity:        int64(in.Quantity),
			DesiredGrade:    in.DesiredGrade,
			DesiredGenre:    in.DesiredGenre,
			DesiredDesc:     in.DesiredDesc,
			CreatedAt:       w.Now(),
		}
		return s.InsertListing(ctx, listing)
	})
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// Cancel soft-deletes a listing and reverts its remaining ON_SALE units to
// IDLE. Only the seller may cancel; anyone else sees not found.
func (w *Listings) Cancel(ctx context.Context, sellerID, listingID string) (int, error) {
	var released int
	err := w.Store.WithTx(ctx, func(s market.Store) error {
		cards := market.CardStateMachine{Store: s}

		listing, err := activeListing(ctx, s, listingID)
		if err != nil {
			return err
		}
		if listing.SellerID != sellerID {
			return fmt.Errorf("listing %s: %w", listingID, market.ErrNotFound)
		}

		released, err = cards.Release(ctx, sellerID, listing.TemplateID, market.UnitOnSale, int(listing.Quantity))
		if err != nil {
			return err
		}

		n, err := s.SoftDeleteListing(ctx, listingID, sellerID, w.Now())
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("cancel listing %s: %w", listingID, market.ErrConflict)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}
