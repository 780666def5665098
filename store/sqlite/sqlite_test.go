/*
sqlite_test.go - Conditional update semantics of the SQLite store

Tests for:
- Affected-row counts as the winner/loser signal
- Guarded decrement and debit preconditions
- Cooldown reservation and the lazy epoch row
- Monthly mint counter bump
- Notification cursors and backfill ordering
*/
package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/card-market/market"
	"github.com/warp/card-market/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedUser(t *testing.T, s *sqlite.Store, id string, points int64) {
	t.Helper()
	err := s.InsertUser(context.Background(), market.User{
		ID:       id,
		Nickname: id,
		Points:   points,
	})
	require.NoError(t, err)
}

func seedTemplate(t *testing.T, s *sqlite.Store, id, creatorID string) {
	t.Helper()
	err := s.InsertTemplate(context.Background(), market.CardTemplate{
		ID:            id,
		CreatorID:     creatorID,
		Name:          "test card",
		Grade:         market.GradeRare,
		Genre:         market.GenreAlbum,
		InitialPrice:  500,
		TotalQuantity: 10,
	})
	require.NoError(t, err)
}

func seedUnit(t *testing.T, s *sqlite.Store, id, ownerID, templateID string, status market.UnitStatus) {
	t.Helper()
	err := s.InsertUnits(context.Background(), []market.OwnedUnit{{
		ID:         id,
		OwnerID:    ownerID,
		TemplateID: templateID,
		Status:     status,
	}})
	require.NoError(t, err)
}

// =============================================================================
// POINT BALANCE PRECONDITIONS
// =============================================================================

func TestDebitIfSufficient_EnoughBalance_Debits(t *testing.T) {
	// GIVEN: A user with 1000 points
	// WHEN: Debiting 600
	// THEN: 1 row affected, balance drops to 400

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 1000)

	n, err := s.DebitIfSufficient(ctx, "u1", 600)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(400), u.Points)
}

func TestDebitIfSufficient_NotEnoughBalance_NoChange(t *testing.T) {
	// GIVEN: A user with 100 points
	// WHEN: Debiting 101
	// THEN: 0 rows affected, balance untouched

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 100)

	n, err := s.DebitIfSufficient(ctx, "u1", 101)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Points)
}

func TestDebitIfSufficient_ExactBalance_Debits(t *testing.T) {
	// GIVEN: A user with exactly the debit amount
	// WHEN: Debiting it all
	// THEN: The debit succeeds and the balance is zero

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 250)

	n, err := s.DebitIfSufficient(ctx, "u1", 250)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.Points)
}

// =============================================================================
// UNIT TRANSITIONS
// =============================================================================

func TestUpdateUnitStatus_WrongCurrentStatus_ZeroRows(t *testing.T) {
	// GIVEN: An IDLE unit
	// WHEN: Flipping ON_SALE -> IDLE (wrong precondition)
	// THEN: 0 rows affected, status unchanged

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 0)
	seedTemplate(t, s, "tpl", "u1")
	seedUnit(t, s, "unit-1", "u1", "tpl", market.UnitIdle)

	n, err := s.UpdateUnitStatus(ctx, "unit-1", "u1", market.UnitOnSale, market.UnitIdle)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	u, err := s.GetUnit(ctx, "unit-1")
	require.NoError(t, err)
	assert.Equal(t, market.UnitIdle, u.Status)
}

func TestTransferUnit_PreconditionHolds_MovesOwnerAndStatus(t *testing.T) {
	// GIVEN: Seller's ON_SALE unit
	// WHEN: Transferring to the buyer with matching preconditions
	// THEN: The unit lands IDLE under the buyer

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "seller", 0)
	seedUser(t, s, "buyer", 0)
	seedTemplate(t, s, "tpl", "seller")
	seedUnit(t, s, "unit-1", "seller", "tpl", market.UnitOnSale)

	n, err := s.TransferUnit(ctx, "unit-1", "seller", market.UnitOnSale, "buyer", market.UnitIdle)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	u, err := s.GetUnit(ctx, "unit-1")
	require.NoError(t, err)
	assert.Equal(t, "buyer", u.OwnerID)
	assert.Equal(t, market.UnitIdle, u.Status)
}

func TestTransferUnit_WrongOwner_ZeroRows(t *testing.T) {
	// GIVEN: A unit owned by the seller
	// WHEN: Transferring with a stale expected owner
	// THEN: Nothing moves

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "seller", 0)
	seedUser(t, s, "thief", 0)
	seedTemplate(t, s, "tpl", "seller")
	seedUnit(t, s, "unit-1", "seller", "tpl", market.UnitOnSale)

	n, err := s.TransferUnit(ctx, "unit-1", "thief", market.UnitOnSale, "thief", market.UnitIdle)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSelectUnits_OldestFirst(t *testing.T) {
	// GIVEN: Three IDLE units created in order
	// WHEN: Selecting two
	// THEN: The two oldest come back, in creation order

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 0)
	seedTemplate(t, s, "tpl", "u1")

	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		err := s.InsertUnits(ctx, []market.OwnedUnit{{
			ID:         id,
			OwnerID:    "u1",
			TemplateID: "tpl",
			Status:     market.UnitIdle,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}})
		require.NoError(t, err)
	}

	units, err := s.SelectUnits(ctx, "u1", "tpl", market.UnitIdle, 2)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "a", units[0].ID)
	assert.Equal(t, "b", units[1].ID)
}

// =============================================================================
// LISTING QUANTITY GUARD
// =============================================================================

func seedListing(t *testing.T, s *sqlite.Store, id, sellerID, templateID string, price, quantity int64) {
	t.Helper()
	err := s.InsertListing(context.Background(), market.SaleListing{
		ID:              id,
		SellerID:        sellerID,
		TemplateID:      templateID,
		Price:           price,
		InitialQuantity: quantity,
		Quantity:        quantity,
	})
	require.NoError(t, err)
}

func TestDecrementQuantity_EnoughStock_Decrements(t *testing.T) {
	// GIVEN: A listing with quantity 5
	// WHEN: Decrementing 3 with the correct price expectation
	// THEN: Quantity becomes 2

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "seller", 0)
	seedTemplate(t, s, "tpl", "seller")
	seedListing(t, s, "sale-1", "seller", "tpl", 500, 5)

	price := int64(500)
	n, err := s.DecrementQuantity(ctx, "sale-1", 3, &price)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	l, err := s.GetListing(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), l.Quantity)
}

func TestDecrementQuantity_OverStock_ZeroRows(t *testing.T) {
	// GIVEN: A listing with quantity 2
	// WHEN: Decrementing 3
	// THEN: 0 rows affected, quantity unchanged

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "seller", 0)
	seedTemplate(t, s, "tpl", "seller")
	seedListing(t, s, "sale-1", "seller", "tpl", 500, 2)

	n, err := s.DecrementQuantity(ctx, "sale-1", 3, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	l, err := s.GetListing(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), l.Quantity)
}

func TestDecrementQuantity_PriceChanged_ZeroRows(t *testing.T) {
	// GIVEN: A listing priced at 500
	// WHEN: Decrementing with an expected price of 400 (stale read)
	// THEN: The guarded update refuses

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "seller", 0)
	seedTemplate(t, s, "tpl", "seller")
	seedListing(t, s, "sale-1", "seller", "tpl", 500, 5)

	stale := int64(400)
	n, err := s.DecrementQuantity(ctx, "sale-1", 1, &stale)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSoftDeleteListing_AlreadyDeleted_ZeroRows(t *testing.T) {
	// GIVEN: A soft-deleted listing
	// WHEN: Deleting again
	// THEN: The second delete reports zero rows

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "seller", 0)
	seedTemplate(t, s, "tpl", "seller")
	seedListing(t, s, "sale-1", "seller", "tpl", 500, 1)

	n, err := s.SoftDeleteListing(ctx, "sale-1", "seller", time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = s.SoftDeleteListing(ctx, "sale-1", "seller", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// =============================================================================
// PROPOSAL UNIQUENESS AND TRANSITIONS
// =============================================================================

func TestInsertProposal_DuplicatePending_Validation(t *testing.T) {
	// GIVEN: A PENDING proposal for (listing, proposer, unit)
	// WHEN: Inserting the same tuple again
	// THEN: The unique index rejects it as VALIDATION

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "seller", 0)
	seedUser(t, s, "proposer", 0)
	seedTemplate(t, s, "tpl", "seller")
	seedUnit(t, s, "unit-1", "proposer", "tpl", market.UnitProposed)
	seedListing(t, s, "sale-1", "seller", "tpl", 500, 1)

	p := market.ExchangeProposal{
		ID:            "prop-1",
		ListingID:     "sale-1",
		ProposerID:    "proposer",
		OfferedUnitID: "unit-1",
		Status:        market.ProposalPending,
	}
	require.NoError(t, s.InsertProposal(ctx, p))

	p.ID = "prop-2"
	err := s.InsertProposal(ctx, p)
	assert.ErrorIs(t, err, market.ErrValidation)
}

func TestInsertProposal_ResolvedTupleCanRepeat(t *testing.T) {
	// GIVEN: A REJECTED proposal for (listing, proposer, unit)
	// WHEN: Proposing the same tuple again
	// THEN: The partial index only guards PENDING rows, so it succeeds

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "seller", 0)
	seedUser(t, s, "proposer", 0)
	seedTemplate(t, s, "tpl", "seller")
	seedUnit(t, s, "unit-1", "proposer", "tpl", market.UnitProposed)
	seedListing(t, s, "sale-1", "seller", "tpl", 500, 1)

	first := market.ExchangeProposal{
		ID:            "prop-1",
		ListingID:     "sale-1",
		ProposerID:    "proposer",
		OfferedUnitID: "unit-1",
		Status:        market.ProposalRejected,
	}
	require.NoError(t, s.InsertProposal(ctx, first))

	second := first
	second.ID = "prop-2"
	second.Status = market.ProposalPending
	assert.NoError(t, s.InsertProposal(ctx, second))
}

func TestSetProposalStatus_TerminalState_ZeroRows(t *testing.T) {
	// GIVEN: An ACCEPTED proposal
	// WHEN: Trying PENDING -> REJECTED
	// THEN: The transition refuses; terminal states are final

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "seller", 0)
	seedUser(t, s, "proposer", 0)
	seedTemplate(t, s, "tpl", "seller")
	seedUnit(t, s, "unit-1", "proposer", "tpl", market.UnitIdle)
	seedListing(t, s, "sale-1", "seller", "tpl", 500, 1)
	require.NoError(t, s.InsertProposal(ctx, market.ExchangeProposal{
		ID:            "prop-1",
		ListingID:     "sale-1",
		ProposerID:    "proposer",
		OfferedUnitID: "unit-1",
		Status:        market.ProposalAccepted,
	}))

	n, err := s.SetProposalStatus(ctx, "prop-1", market.ProposalPending, market.ProposalRejected)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// =============================================================================
// COOLDOWN RESERVATION
// =============================================================================

func TestReserveCooldown_FirstClaim_Wins(t *testing.T) {
	// GIVEN: No cooldown row yet (lazy epoch creation)
	// WHEN: Reserving the window
	// THEN: The reservation wins and nextAllowedAt advances

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 0)

	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(time.Hour)

	require.NoError(t, s.EnsureCooldown(ctx, "u1", market.ReasonRandomReward))
	n, err := s.ReserveCooldown(ctx, "u1", market.ReasonRandomReward, now, next)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err := s.GetCooldown(ctx, "u1", market.ReasonRandomReward)
	require.NoError(t, err)
	assert.True(t, row.NextAllowedAt.Equal(next))
}

func TestReserveCooldown_WindowNotElapsed_Loses(t *testing.T) {
	// GIVEN: A reservation that advanced nextAllowedAt an hour out
	// WHEN: Reserving again one minute later
	// THEN: 0 rows affected and the stamp is untouched

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 0)

	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.EnsureCooldown(ctx, "u1", market.ReasonRandomReward))
	_, err := s.ReserveCooldown(ctx, "u1", market.ReasonRandomReward, now, now.Add(time.Hour))
	require.NoError(t, err)

	later := now.Add(time.Minute)
	n, err := s.ReserveCooldown(ctx, "u1", market.ReasonRandomReward, later, later.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	row, err := s.GetCooldown(ctx, "u1", market.ReasonRandomReward)
	require.NoError(t, err)
	assert.True(t, row.NextAllowedAt.Equal(now.Add(time.Hour)))
}

func TestEnsureCooldown_Idempotent(t *testing.T) {
	// GIVEN: An existing cooldown row with a future stamp
	// WHEN: Ensuring again
	// THEN: The upsert does nothing; the stamp survives

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 0)

	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.EnsureCooldown(ctx, "u1", market.ReasonRandomReward))
	_, err := s.ReserveCooldown(ctx, "u1", market.ReasonRandomReward, now, now.Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.EnsureCooldown(ctx, "u1", market.ReasonRandomReward))

	row, err := s.GetCooldown(ctx, "u1", market.ReasonRandomReward)
	require.NoError(t, err)
	assert.True(t, row.NextAllowedAt.Equal(now.Add(time.Hour)))
}

// =============================================================================
// MONTHLY MINT COUNTER
// =============================================================================

func TestBumpMintCount_UnderLimit_Increments(t *testing.T) {
	// GIVEN: A fresh month
	// WHEN: Bumping three times with limit 3
	// THEN: All three succeed, the fourth refuses

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 0)

	for i := 0; i < 3; i++ {
		n, err := s.BumpMintCount(ctx, "u1", 2026, 3, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "bump %d should succeed", i+1)
	}

	n, err := s.BumpMintCount(ctx, "u1", 2026, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBumpMintCount_NewMonthResets(t *testing.T) {
	// GIVEN: A user at the limit in March
	// WHEN: Bumping in April
	// THEN: The April counter starts fresh

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 0)

	n, err := s.BumpMintCount(ctx, "u1", 2026, 3, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	n, err = s.BumpMintCount(ctx, "u1", 2026, 3, 1)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	n, err = s.BumpMintCount(ctx, "u1", 2026, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// =============================================================================
// NOTIFICATION CURSORS
// =============================================================================

func insertNotifications(t *testing.T, s *sqlite.Store, userID string, count int) []int64 {
	t.Helper()
	ids := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		id, err := s.InsertNotification(context.Background(), market.Notification{
			UserID:  userID,
			Type:    market.NotifyCardPurchased,
			Content: "event",
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestInsertNotification_IDsAreMonotonic(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: Inserting several notifications
	// THEN: Assigned ids strictly increase

	s := newTestStore(t)
	seedUser(t, s, "u1", 0)

	ids := insertNotifications(t, s, "u1", 5)
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}
}

func TestNotificationsSince_ReplaysAscendingAfterCursor(t *testing.T) {
	// GIVEN: Five notifications, client last saw the second
	// WHEN: Backfilling since that id
	// THEN: Rows three to five come back ascending

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 0)
	ids := insertNotifications(t, s, "u1", 5)

	rows, err := s.NotificationsSince(ctx, "u1", ids[1], 10, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ids[2], rows[0].ID)
	assert.Equal(t, ids[3], rows[1].ID)
	assert.Equal(t, ids[4], rows[2].ID)
}

func TestNotificationsSince_RespectsLimit(t *testing.T) {
	// GIVEN: Five missed notifications
	// WHEN: Backfilling with limit 2
	// THEN: Only the first two after the cursor return

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 0)
	ids := insertNotifications(t, s, "u1", 5)

	rows, err := s.NotificationsSince(ctx, "u1", ids[0], 2, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ids[1], rows[0].ID)
	assert.Equal(t, ids[2], rows[1].ID)
}

func TestListNotifications_NewestFirstWithCursor(t *testing.T) {
	// GIVEN: Five notifications
	// WHEN: Paging with limit 2, then following the cursor
	// THEN: Pages descend without overlap

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 0)
	ids := insertNotifications(t, s, "u1", 5)

	page1, err := s.ListNotifications(ctx, "u1", market.NotificationQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, ids[4], page1[0].ID)
	assert.Equal(t, ids[3], page1[1].ID)

	page2, err := s.ListNotifications(ctx, "u1", market.NotificationQuery{Limit: 2, Cursor: page1[1].ID})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, ids[2], page2[0].ID)
	assert.Equal(t, ids[1], page2[1].ID)
}

func TestMarkRead_OtherUsersRow_ZeroRows(t *testing.T) {
	// GIVEN: A notification belonging to u1
	// WHEN: u2 marks it read
	// THEN: Nothing changes

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 0)
	seedUser(t, s, "u2", 0)
	ids := insertNotifications(t, s, "u1", 1)

	n, err := s.MarkRead(ctx, "u2", ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	count, err := s.CountUnread(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMarkAllRead_BoundedByID(t *testing.T) {
	// GIVEN: Five unread notifications
	// WHEN: Marking all up to the third id
	// THEN: Two stay unread

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 0)
	ids := insertNotifications(t, s, "u1", 5)

	n, err := s.MarkAllRead(ctx, "u1", market.MarkAllQuery{BeforeID: ids[2]})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	count, err := s.CountUnread(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_ErrorRollsBackEverything(t *testing.T) {
	// GIVEN: A transaction that debits then fails
	// WHEN: The callback returns an error
	// THEN: The debit is rolled back

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 1000)

	wantErr := assert.AnError
	err := s.WithTx(ctx, func(tx market.Store) error {
		n, err := tx.DebitIfSufficient(ctx, "u1", 600)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), u.Points)
}

func TestWithTx_NilCommits(t *testing.T) {
	// GIVEN: A transaction that credits and returns nil
	// WHEN: It commits
	// THEN: The credit is durable

	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 0)

	err := s.WithTx(ctx, func(tx market.Store) error {
		_, err := tx.Credit(ctx, "u1", 300)
		return err
	})
	require.NoError(t, err)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), u.Points)
}
