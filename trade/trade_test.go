/*
trade_test.go - Shared fixtures for the workflow tests

The fixture wires every workflow against one in-memory SQLite store, the
same way cmd/server does, plus a notifier that records published ids so
tests can assert post-commit delivery.
*/
package trade_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warp/card-market/market"
	"github.com/warp/card-market/store/sqlite"
	"github.com/warp/card-market/trade"
)

// captureNotifier records every published notification id.
type captureNotifier struct {
	mu  sync.Mutex
	ids []int64
}

func (c *captureNotifier) PublishMany(_ context.Context, ids []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, ids...)
}

func (c *captureNotifier) published() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.ids...)
}

type fixture struct {
	store     *sqlite.Store
	purchases *trade.Purchases
	listings  *trade.Listings
	exchanges *trade.Exchanges
	minter    *trade.Minter
	notifier  *captureNotifier
}

func newFixture(t *testing.T) *fixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	notifier := &captureNotifier{}
	return &fixture{
		store:     store,
		purchases: trade.NewPurchases(store, notifier),
		listings:  trade.NewListings(store),
		exchanges: trade.NewExchanges(store, notifier),
		minter:    trade.NewMinter(store),
		notifier:  notifier,
	}
}

func (f *fixture) seedUser(t *testing.T, id string, points int64) {
	t.Helper()
	require.NoError(t, f.store.InsertUser(context.Background(), market.User{
		ID: id, Nickname: id, Points: points,
	}))
}

// mintCards mints a template with count units for the owner and returns
// the template id plus the unit ids.
func (f *fixture) mintCards(t *testing.T, ownerID string, count int) (string, []string) {
	t.Helper()
	result, err := f.minter.Mint(context.Background(), ownerID, trade.MintInput{
		Name:          "test card",
		Grade:         market.GradeRare,
		Genre:         market.GenreAlbum,
		InitialPrice:  500,
		TotalQuantity: count,
	})
	require.NoError(t, err)
	return result.Template.ID, result.UnitIDs
}

// listCards mints count units and publishes them at the given price.
func (f *fixture) listCards(t *testing.T, sellerID string, count int, price int64) *market.SaleListing {
	t.Helper()
	templateID, _ := f.mintCards(t, sellerID, count)
	listing, err := f.listings.Create(context.Background(), sellerID, trade.CreateListingInput{
		TemplateID: templateID,
		Price:      price,
		Quantity:   count,
	})
	require.NoError(t, err)
	return listing
}

func (f *fixture) unitStatus(t *testing.T, unitID string) (string, market.UnitStatus) {
	t.Helper()
	u, err := f.store.GetUnit(context.Background(), unitID)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.OwnerID, u.Status
}

func (f *fixture) points(t *testing.T, userID string) int64 {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.Points
}

func (f *fixture) notificationTypes(t *testing.T, userID string) []market.NotificationType {
	t.Helper()
	rows, err := f.store.NotificationsSince(context.Background(), userID, 0, 100, nil)
	require.NoError(t, err)
	types := make([]market.NotificationType, 0, len(rows))
	for _, n := range rows {
		types = append(types, n.Type)
	}
	return types
}

