/*
store.go - Persistence interface for the marketplace engine

PURPOSE:
  Defines the interface between the domain logic and the database. Every
  write whose precondition matters is expressed as a conditional update
  returning the affected-row count; callers treat 0 as a lost race and
  abort the enclosing transaction.

KEY INTERFACES:
  Store:   all reads and conditional writes
  TxStore: Store plus WithTx for atomic multi-write workflows

TRANSACTION PATTERN:
  Workflows run entirely inside WithTx. The Store passed to the callback
  is scoped to the database transaction, so the same workflow code works
  against *sql.DB and *sql.Tx. Returning an error rolls back; returning
  nil commits.

IMPLEMENTATIONS:
  - store/sqlite: production implementation (SQLite; same patterns apply
    to PostgreSQL with minor dialect changes)

SEE ALSO:
  - cards.go, inventory.go, points.go, cooldown.go: primitives built on
    this interface
*/
package market

import (
	"context"
	"time"
)

// NotificationQuery selects a page of a user's notifications, newest first.
// Cursor, when non-zero, returns rows with id < Cursor.
type NotificationQuery struct {
	Cursor     int64
	Limit      int
	UnreadOnly bool
	Types      []NotificationType
}

// MarkAllQuery bounds a bulk mark-read.
type MarkAllQuery struct {
	BeforeID int64 // when non-zero, only ids <= BeforeID
	Types    []NotificationType
}

// Store is the single source of truth and the sole synchronization point
// between concurrent requests. Methods returning (int64, error) are
// conditional updates: the int64 is the affected-row count.
type Store interface {
	// Users and point balances.
	InsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (*User, error)
	// DebitIfSufficient decrements points only when points >= amount.
	DebitIfSufficient(ctx context.Context, userID string, amount int64) (int64, error)
	// Credit increments unconditionally (crediting never fails on balance).
	Credit(ctx context.Context, userID string, amount int64) (int64, error)
	AppendPointLog(ctx context.Context, entries []PointLogEntry) error
	PointLog(ctx context.Context, userID string, limit int) ([]PointLogEntry, error)

	// Card templates and owned units.
	InsertTemplate(ctx context.Context, t CardTemplate) error
	GetTemplate(ctx context.Context, id string) (*CardTemplate, error)
	InsertUnits(ctx context.Context, units []OwnedUnit) error
	GetUnit(ctx context.Context, id string) (*OwnedUnit, error)
	// SelectUnits returns up to limit units of (owner, template, status),
	// oldest first so selection order is deterministic.
	SelectUnits(ctx context.Context, ownerID, templateID string, status UnitStatus, limit int) ([]OwnedUnit, error)
	// UpdateUnitStatus flips one unit from->to without changing the owner.
	UpdateUnitStatus(ctx context.Context, unitID, ownerID string, from, to UnitStatus) (int64, error)
	// TransferUnit changes owner and status in one conditional update.
	TransferUnit(ctx context.Context, unitID, expectedOwnerID string, expectedStatus UnitStatus, newOwnerID string, newStatus UnitStatus) (int64, error)

	// BumpMintCount increments the caller's mint counter for (year, month)
	// only while it is below limit. 0 affected rows means the limit is hit.
	BumpMintCount(ctx context.Context, userID string, year, month, limit int) (int64, error)

	// Sale listings.
	InsertListing(ctx context.Context, l SaleListing) error
	GetListing(ctx context.Context, id string) (*SaleListing, error)
	// DecrementQuantity requires quantity >= amount and, when expectedPrice
	// is non-nil, price == *expectedPrice (protects a buyer mid-flight from
	// a concurrent price edit).
	DecrementQuantity(ctx context.Context, listingID string, amount int64, expectedPrice *int64) (int64, error)
	SoftDeleteListing(ctx context.Context, listingID, sellerID string, at time.Time) (int64, error)

	// Exchange proposals.
	InsertProposal(ctx context.Context, p ExchangeProposal) error
	GetProposal(ctx context.Context, id string) (*ExchangeProposal, error)
	FindPendingProposal(ctx context.Context, listingID, proposerID, unitID string) (*ExchangeProposal, error)
	// PendingProposals lists PENDING proposals on a listing, excluding
	// exceptID when non-empty, ordered by creation time.
	PendingProposals(ctx context.Context, listingID, exceptID string) ([]ExchangeProposal, error)
	// SetProposalStatus transitions only when the current status matches.
	SetProposalStatus(ctx context.Context, proposalID string, from, to ProposalStatus) (int64, error)

	// Purchase audit rows.
	InsertPurchases(ctx context.Context, ps []Purchase) error

	// Cooldowns.
	EnsureCooldown(ctx context.Context, userID string, reason CooldownReason) error
	// ReserveCooldown advances nextAllowedAt only when it is <= now.
	// Exactly one concurrent caller can win per window.
	ReserveCooldown(ctx context.Context, userID string, reason CooldownReason, now, next time.Time) (int64, error)
	GetCooldown(ctx context.Context, userID string, reason CooldownReason) (*PointCooldown, error)

	// Notifications.
	InsertNotification(ctx context.Context, n Notification) (int64, error)
	NotificationsByID(ctx context.Context, ids []int64) ([]Notification, error)
	// NotificationsSince returns rows with id > sinceID ascending, bounded
	// by limit. Used for reconnect backfill.
	NotificationsSince(ctx context.Context, userID string, sinceID int64, limit int, types []NotificationType) ([]Notification, error)
	ListNotifications(ctx context.Context, userID string, q NotificationQuery) ([]Notification, error)
	CountUnread(ctx context.Context, userID string, types []NotificationType) (int64, error)
	MarkRead(ctx context.Context, userID string, id int64) (int64, error)
	MarkAllRead(ctx context.Context, userID string, q MarkAllQuery) (int64, error)
}

// TxStore wraps Store with transaction support. The Store passed to fn is
// scoped to the transaction; every workflow runs exactly one WithTx.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
