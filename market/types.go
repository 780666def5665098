/*
Package market provides the core types and transactional primitives for the
card marketplace engine.

PURPOSE:
  This package contains the domain model and the low-level concurrency
  primitives every workflow is built from: the card lifecycle state machine,
  the listing inventory ledger, the per-user point ledger, and the cooldown
  gate. All shared mutable state lives in the relational store; primitives
  coordinate exclusively through conditional updates whose affected-row
  count tells the caller whether the precondition still held.

KEY CONCEPTS IN THIS FILE (types.go):
  - OwnedUnit: one individually-tracked instance of a card template,
    owned by exactly one user, with a lifecycle status
  - SaleListing: a seller's offer of N interchangeable units at a price
  - ExchangeProposal: a barter offer (unit swap instead of point payment)
  - PointCooldown: per-(user, reason) gate for time-limited rewards
  - Notification: append-only event row with a monotonic id

DESIGN PRINCIPLES:
  1. Store is the only synchronization point: no in-process locks guard
     shared state across requests.
  2. Conditional updates everywhere: any write whose precondition could
     have changed since the read is an UPDATE ... WHERE <precondition>.
  3. Workflows depend downward on primitives; primitives depend only on
     the Store interface. No primitive depends on a workflow.

SEE ALSO:
  - store.go: Store / TxStore interfaces
  - cards.go, inventory.go, points.go, cooldown.go: primitives
  - trade/: purchase, listing and exchange workflows
*/
package market

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh identifier for user-created rows.
// Notification and point-log rows instead use store-assigned integer ids
// because their ordering is semantically meaningful.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// USERS
// =============================================================================

// User is a marketplace participant with an integer point balance.
// The balance is only ever mutated by the PointLedger and never goes
// negative: debits are conditional on sufficiency.
type User struct {
	ID        string
	Nickname  string
	Points    int64
	CreatedAt time.Time
}

// =============================================================================
// CARD TEMPLATES AND OWNED UNITS
// =============================================================================

// Grade is a card rarity tier.
type Grade string

const (
	GradeCommon    Grade = "COMMON"
	GradeRare      Grade = "RARE"
	GradeSuperRare Grade = "SUPER_RARE"
	GradeLegendary Grade = "LEGENDARY"
)

// Genre categorizes a card template.
type Genre string

const (
	GenreAlbum          Genre = "ALBUM"
	GenreSpecial        Genre = "SPECIAL"
	GenreFansign        Genre = "FANSIGN"
	GenreSeasonGreeting Genre = "SEASON_GREETING"
	GenreFanmeeting     Genre = "FANMEETING"
	GenreConcert        Genre = "CONCERT"
	GenreMD             Genre = "MD"
	GenreCollab         Genre = "COLLAB"
	GenreFanclub        Genre = "FANCLUB"
	GenreEtc            Genre = "ETC"
)

// CardTemplate is an immutable catalog entry. Created once when minted,
// read-only afterwards.
type CardTemplate struct {
	ID            string
	CreatorID     string
	Name          string
	Description   string
	Grade         Grade
	Genre         Genre
	InitialPrice  int64
	TotalQuantity int
	CreatedAt     time.Time
}

// UnitStatus is the lifecycle status of an OwnedUnit.
//
// IDLE -> ON_SALE   reserved into a listing
// ON_SALE -> IDLE   listing cancelled, or ownership transferred (buyer side)
// IDLE -> PROPOSED  offered in an exchange proposal
// PROPOSED -> IDLE  proposal cancelled/rejected, or transferred (accepted)
//
// A unit is never in two conflicting roles at once; every status or owner
// change goes through CardStateMachine, never an unconditional write.
type UnitStatus string

const (
	UnitIdle     UnitStatus = "IDLE"
	UnitOnSale   UnitStatus = "ON_SALE"
	UnitProposed UnitStatus = "PROPOSED"
)

// OwnedUnit is one minted instance of a CardTemplate. Units are never
// destroyed, only transferred and re-statused.
type OwnedUnit struct {
	ID         string
	OwnerID    string
	TemplateID string
	Status     UnitStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// =============================================================================
// SALE LISTINGS
// =============================================================================

// SaleListing is a seller's offer of Quantity interchangeable units of one
// template at a fixed unit price. Quantity is monotonically non-increasing
// while the listing is active and only ever decremented atomically.
type SaleListing struct {
	ID              string
	SellerID        string
	TemplateID      string
	Price           int64
	InitialQuantity int64
	Quantity        int64

	// Optional barter preferences shown to prospective proposers.
	DesiredGrade Grade
	DesiredGenre Genre
	DesiredDesc  string

	CreatedAt time.Time
	DeletedAt *time.Time
}

// Active reports whether the listing is still visible to buyers.
func (l *SaleListing) Active() bool {
	return l.DeletedAt == nil
}

// =============================================================================
// EXCHANGE PROPOSALS
// =============================================================================

// ProposalStatus is the state of an ExchangeProposal.
// PENDING is the only non-terminal state.
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "PENDING"
	ProposalAccepted  ProposalStatus = "ACCEPTED"
	ProposalRejected  ProposalStatus = "REJECTED"
	ProposalCancelled ProposalStatus = "CANCELLED"
)

// ExchangeProposal is a barter offer: trade OfferedUnitID for one unit of
// the listing's template. At most one PENDING proposal may exist per
// (listing, proposer, offered unit) tuple.
type ExchangeProposal struct {
	ID            string
	ListingID     string
	ProposerID    string
	OfferedUnitID string
	Message       string
	Status        ProposalStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// =============================================================================
// PURCHASES (audit trail)
// =============================================================================

// PurchaseType distinguishes point sales from barter settlements.
type PurchaseType string

const (
	PurchasePoint    PurchaseType = "POINT"
	PurchaseExchange PurchaseType = "EXCHANGE"
)

// Purchase records one unit changing hands. Append-only.
type Purchase struct {
	ID        string
	BuyerID   string
	ListingID string
	UnitID    string
	Type      PurchaseType
	CreatedAt time.Time
}

// =============================================================================
// POINT LEDGER
// =============================================================================

// PointLogEntry is an append-only record of a balance change, written in
// the same transaction as the change itself. Never mutated.
type PointLogEntry struct {
	ID        int64
	UserID    string
	Amount    int64 // signed: debit < 0, credit > 0
	Reason    string
	CreatedAt time.Time
}

// CooldownReason keys a PointCooldown row.
type CooldownReason string

// ReasonRandomReward gates the timed random point draw.
const ReasonRandomReward CooldownReason = "RANDOM"

// PointCooldown holds the next-allowed timestamp for a (user, reason) pair.
// Exactly one row per key, created lazily with NextAllowedAt at the epoch.
type PointCooldown struct {
	UserID        string
	Reason        CooldownReason
	NextAllowedAt time.Time
	UpdatedAt     time.Time
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// NotificationType tags a notification event.
type NotificationType string

const (
	NotifyCardPurchased    NotificationType = "CARD_PURCHASED"
	NotifyProposalReceived NotificationType = "PROPOSAL_RECEIVED"
	NotifyProposalDecided  NotificationType = "PROPOSAL_DECIDED"
	NotifySoldOut          NotificationType = "SOLD_OUT"
)

// Notification is an append-only event row. ID is assigned by the store
// and is monotonically increasing per store, which makes it usable both as
// a delivery cursor and as a client-side idempotency key.
type Notification struct {
	ID        int64
	UserID    string
	Type      NotificationType
	Content   string
	Link      string
	Read      bool
	CreatedAt time.Time
}
