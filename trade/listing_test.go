/*
listing_test.go - Sale listing lifecycle tests

Tests for:
- Reservation of units at creation
- Cancellation releasing units and hiding the listing
- Ownership scoping
*/
package trade_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/card-market/market"
	"github.com/warp/card-market/trade"
)

func TestCreateListing_ReservesOldestIdleUnits(t *testing.T) {
	// GIVEN: A seller with 3 IDLE units
	// WHEN: Listing 2 of them
	// THEN: Exactly 2 units are ON_SALE; the listing carries the quantity

	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "seller", 0)
	templateID, unitIDs := f.mintCards(t, "seller", 3)

	listing, err := f.listings.Create(ctx, "seller", trade.CreateListingInput{
		TemplateID: templateID,
		Price:      500,
		Quantity:   2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), listing.Quantity)
	assert.Equal(t, int64(2), listing.InitialQuantity)

	onSale, err := f.store.SelectUnits(ctx, "seller", templateID, market.UnitOnSale, 10)
	require.NoError(t, err)
	assert.Len(t, onSale, 2)

	idle, err := f.store.SelectUnits(ctx, "seller", templateID, market.UnitIdle, 10)
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, unitIDs[2], idle[0].ID)
}

func TestCreateListing_NotEnoughIdleUnits_InsufficientStock(t *testing.T) {
	// GIVEN: A seller with 1 IDLE unit
	// WHEN: Listing 2
	// THEN: INSUFFICIENT_STOCK and the unit stays IDLE

	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "seller", 0)
	templateID, unitIDs := f.mintCards(t, "seller", 1)

	_, err := f.listings.Create(ctx, "seller", trade.CreateListingInput{
		TemplateID: templateID,
		Price:      500,
		Quantity:   2,
	})
	assert.ErrorIs(t, err, market.ErrInsufficientStock)

	_, status := f.unitStatus(t, unitIDs[0])
	assert.Equal(t, market.UnitIdle, status)
}

func TestCreateListing_UnknownTemplate_NotFound(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "seller", 0)

	_, err := f.listings.Create(context.Background(), "seller", trade.CreateListingInput{
		TemplateID: "missing",
		Price:      500,
		Quantity:   1,
	})
	assert.ErrorIs(t, err, market.ErrNotFound)
}

func TestCreateListing_BadInput_Validation(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "seller", 0)
	templateID, _ := f.mintCards(t, "seller", 1)

	_, err := f.listings.Create(context.Background(), "seller", trade.CreateListingInput{
		TemplateID: templateID, Price: 0, Quantity: 1,
	})
	assert.ErrorIs(t, err, market.ErrValidation)

	_, err = f.listings.Create(context.Background(), "seller", trade.CreateListingInput{
		TemplateID: templateID, Price: 100, Quantity: 0,
	})
	assert.ErrorIs(t, err, market.ErrValidation)
}

func TestCancelListing_ReleasesRemainingUnits(t *testing.T) {
	// GIVEN: A listing with 2 units, 1 already sold
	// WHEN: The seller cancels
	// THEN: The remaining unit reverts to IDLE and buyers see NOT_FOUND

	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "seller", 0)
	f.seedUser(t, "buyer", 500)
	listing := f.listCards(t, "seller", 2, 500)

	_, err := f.purchases.Buy(ctx, "buyer", listing.ID, 1)
	require.NoError(t, err)

	released, err := f.listings.Cancel(ctx, "seller", listing.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	idle, err := f.store.SelectUnits(ctx, "seller", listing.TemplateID, market.UnitIdle, 10)
	require.NoError(t, err)
	assert.Len(t, idle, 1)

	_, err = f.purchases.Buy(ctx, "buyer", listing.ID, 1)
	assert.ErrorIs(t, err, market.ErrNotFound)
}

func TestCancelListing_NotTheSeller_NotFound(t *testing.T) {
	// GIVEN: Someone else's listing
	// WHEN: Cancelling it
	// THEN: NOT_FOUND; existence is not leaked and nothing is released

	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "seller", 0)
	f.seedUser(t, "other", 0)
	listing := f.listCards(t, "seller", 1, 500)

	_, err := f.listings.Cancel(ctx, "other", listing.ID)
	assert.ErrorIs(t, err, market.ErrNotFound)

	onSale, err := f.store.SelectUnits(ctx, "seller", listing.TemplateID, market.UnitOnSale, 10)
	require.NoError(t, err)
	assert.Len(t, onSale, 1)
}

func TestCancelListing_Twice_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "seller", 0)
	listing := f.listCards(t, "seller", 1, 500)

	_, err := f.listings.Cancel(ctx, "seller", listing.ID)
	require.NoError(t, err)

	_, err = f.listings.Cancel(ctx, "seller", listing.ID)
	assert.ErrorIs(t, err, market.ErrNotFound)
}
