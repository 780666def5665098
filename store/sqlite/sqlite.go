/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements market.Store and market.TxStore using SQLite. The same
  patterns apply to PostgreSQL in production - only minor SQL dialect
  differences.

CONDITIONAL UPDATES:
  Every precondition-sensitive write is a single UPDATE whose WHERE clause
  encodes the precondition; sql.Result.RowsAffected is the winner/loser
  signal. There is no read-then-unconditional-write anywhere in this
  package.

KEY TABLES:
  users              point balances (points INTEGER, CHECK points >= 0)
  card_templates     immutable catalog entries
  owned_units        one row per minted unit (owner, status)
  sale_listings      remaining quantity (CHECK quantity >= 0), soft delete
  exchange_proposals proposal state machine rows
  purchases          append-only settlement audit
  point_logs         append-only balance-change log
  point_cooldowns    per-(user, reason) next-allowed-at
  mint_limits        per-(user, month) creation counters
  notifications      append-only events; id AUTOINCREMENT is the monotonic
                     delivery cursor

CONCURRENCY:
  The pool is capped at one connection: SQLite has a single writer anyway,
  and a single connection makes ":memory:" databases safe to share across
  the pool. Cross-request races are decided by the conditional updates,
  not by in-process locking.

TRANSACTIONS:
  WithTx runs the callback against a transaction-scoped Store and commits
  on nil. Each transaction carries a bounded timeout after which it is
  aborted and the caller sees a retryable context error.

SEE ALSO:
  - market/store.go: interface definitions
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/card-market/market"
)

// DefaultTxTimeout bounds every WithTx; in line with the 10-20s window the
// workflows are designed for.
const DefaultTxTimeout = 15 * time.Second

// Store implements market.TxStore using SQLite.
type Store struct {
	db *sql.DB
	runner
	TxTimeout time.Duration
}

// New opens (and migrates) a SQLite store. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: serializes the single SQLite writer and keeps
	// ":memory:" databases coherent across the pool.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, runner: runner{q: db}, TxTimeout: DefaultTxTimeout}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		nickname TEXT NOT NULL,
		points INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS card_templates (
		id TEXT PRIMARY KEY,
		creator_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		grade TEXT NOT NULL,
		genre TEXT NOT NULL,
		initial_price INTEGER NOT NULL,
		total_quantity INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS owned_units (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		template_id TEXT NOT NULL REFERENCES card_templates(id),
		status TEXT NOT NULL DEFAULT 'IDLE',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: oldest-first selection of available units.
	CREATE INDEX IF NOT EXISTS idx_units_owner_template_status
		ON owned_units(owner_id, template_id, status, created_at);

	CREATE TABLE IF NOT EXISTS sale_listings (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL REFERENCES users(id),
		template_id TEXT NOT NULL REFERENCES card_templates(id),
		price INTEGER NOT NULL,
		initial_quantity INTEGER NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		desired_grade TEXT,
		desired_genre TEXT,
		desired_desc TEXT,
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_listings_seller
		ON sale_listings(seller_id) WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS exchange_proposals (
		id TEXT PRIMARY KEY,
		listing_id TEXT NOT NULL REFERENCES sale_listings(id),
		proposer_id TEXT NOT NULL REFERENCES users(id),
		offered_unit_id TEXT NOT NULL REFERENCES owned_units(id),
		message TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- At most one PENDING proposal per (listing, proposer, offered unit).
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_pending_proposal
		ON exchange_proposals(listing_id, proposer_id, offered_unit_id)
		WHERE status = 'PENDING';

	CREATE INDEX IF NOT EXISTS idx_proposals_listing_status
		ON exchange_proposals(listing_id, status);

	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL REFERENCES users(id),
		listing_id TEXT NOT NULL REFERENCES sale_listings(id),
		unit_id TEXT NOT NULL REFERENCES owned_units(id),
		type TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_purchases_listing
		ON purchases(listing_id);

	CREATE TABLE IF NOT EXISTS point_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id),
		amount INTEGER NOT NULL,
		reason TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_point_logs_user
		ON point_logs(user_id, id DESC);

	CREATE TABLE IF NOT EXISTS point_cooldowns (
		user_id TEXT NOT NULL REFERENCES users(id),
		reason TEXT NOT NULL,
		next_allowed_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, reason)
	);

	CREATE TABLE IF NOT EXISTS mint_limits (
		user_id TEXT NOT NULL REFERENCES users(id),
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		created INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id),
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		link TEXT NOT NULL DEFAULT '',
		read INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user_id
		ON notifications(user_id, id);
	CREATE INDEX IF NOT EXISTS idx_notifications_user_unread
		ON notifications(user_id, read);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (market.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction bounded by TxTimeout.
// fn gets a transaction-scoped Store; an error rolls back, nil commits.
func (s *Store) WithTx(ctx context.Context, fn func(market.Store) error) error {
	timeout := s.TxTimeout
	if timeout <= 0 {
		timeout = DefaultTxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(runner{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runner carries all data operations so the same code serves the pool and
// transaction scopes.
type runner struct {
	q querier
}

var _ market.Store = runner{}

// stampLayout keeps the fractional part fixed-width so lexicographic
// comparison of stored stamps (ReserveCooldown's WHERE clause) matches
// chronological order. RFC3339Nano trims trailing zeros and breaks that.
const stampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func nowStamp() string {
	return time.Now().UTC().Format(stampLayout)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return nowStamp()
	}
	return t.UTC().Format(stampLayout)
}

func parseStamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

// =============================================================================
// USERS AND POINTS
// =============================================================================

func (r runner) InsertUser(ctx context.Context, u market.User) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO users (id, nickname, points, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Nickname, u.Points, stamp(u.CreatedAt),
	)
	return err
}

func (r runner) GetUser(ctx context.Context, id string) (*market.User, error) {
	var u market.User
	var createdAt string
	err := r.q.QueryRowContext(ctx,
		`SELECT id, nickname, points, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Nickname, &u.Points, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseStamp(createdAt)
	return &u, nil
}

func (r runner) DebitIfSufficient(ctx context.Context, userID string, amount int64) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE users SET points = points - ? WHERE id = ? AND points >= ?`,
		amount, userID, amount,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r runner) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE users SET points = points + ? WHERE id = ?`,
		amount, userID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r runner) AppendPointLog(ctx context.Context, entries []market.PointLogEntry) error {
	for _, e := range entries {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO point_logs (user_id, amount, reason, created_at) VALUES (?, ?, ?, ?)`,
			e.UserID, e.Amount, e.Reason, stamp(e.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to append point log: %w", err)
		}
	}
	return nil
}

func (r runner) PointLog(ctx context.Context, userID string, limit int) ([]market.PointLogEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, user_id, amount, reason, created_at FROM point_logs
		 WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []market.PointLogEntry
	for rows.Next() {
		var e market.PointLogEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Reason, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseStamp(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// CARD TEMPLATES AND OWNED UNITS
// =============================================================================

func (r runner) InsertTemplate(ctx context.Context, t market.CardTemplate) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO card_templates
		 (id, creator_id, name, description, grade, genre, initial_price, total_quantity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CreatorID, t.Name, t.Description, t.Grade, t.Genre,
		t.InitialPrice, t.TotalQuantity, stamp(t.CreatedAt),
	)
	return err
}

func (r runner) GetTemplate(ctx context.Context, id string) (*market.CardTemplate, error) {
	var t market.CardTemplate
	var createdAt string
	err := r.q.QueryRowContext(ctx,
		`SELECT id, creator_id, name, description, grade, genre, initial_price, total_quantity, created_at
		 FROM card_templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.CreatorID, &t.Name, &t.Description, &t.Grade, &t.Genre,
		&t.InitialPrice, &t.TotalQuantity, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.CreatedAt = parseStamp(createdAt)
	return &t, nil
}

func (r runner) InsertUnits(ctx context.Context, units []market.OwnedUnit) error {
	for _, u := range units {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO owned_units (id, owner_id, template_id, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			u.ID, u.OwnerID, u.TemplateID, statusOrIdle(u.Status), stamp(u.CreatedAt), stamp(u.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert unit: %w", err)
		}
	}
	return nil
}

func statusOrIdle(s market.UnitStatus) market.UnitStatus {
	if s == "" {
		return market.UnitIdle
	}
	return s
}

func (r runner) GetUnit(ctx context.Context, id string) (*market.OwnedUnit, error) {
	var u market.OwnedUnit
	var createdAt, updatedAt string
	err := r.q.QueryRowContext(ctx,
		`SELECT id, owner_id, template_id, status, created_at, updated_at
		 FROM owned_units WHERE id = ?`, id,
	).Scan(&u.ID, &u.OwnerID, &u.TemplateID, &u.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseStamp(createdAt)
	u.UpdatedAt = parseStamp(updatedAt)
	return &u, nil
}

func (r runner) SelectUnits(ctx context.Context, ownerID, templateID string, status market.UnitStatus, limit int) ([]market.OwnedUnit, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, owner_id, template_id, status, created_at, updated_at
		 FROM owned_units
		 WHERE owner_id = ? AND template_id = ? AND status = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		ownerID, templateID, status, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []market.OwnedUnit
	for rows.Next() {
		var u market.OwnedUnit
		var createdAt, updatedAt string
		if err := rows.Scan(&u.ID, &u.OwnerID, &u.TemplateID, &u.Status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = parseStamp(createdAt)
		u.UpdatedAt = parseStamp(updatedAt)
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r runner) UpdateUnitStatus(ctx context.Context, unitID, ownerID string, from, to market.UnitStatus) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE owned_units SET status = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ? AND status = ?`,
		to, nowStamp(), unitID, ownerID, from,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r runner) TransferUnit(ctx context.Context, unitID, expectedOwnerID string, expectedStatus market.UnitStatus, newOwnerID string, newStatus market.UnitStatus) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE owned_units SET owner_id = ?, status = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ? AND status = ?`,
		newOwnerID, newStatus, nowStamp(), unitID, expectedOwnerID, expectedStatus,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r runner) BumpMintCount(ctx context.Context, userID string, year, month, limit int) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO mint_limits (user_id, year, month, created) VALUES (?, ?, ?, 1)
		 ON CONFLICT(user_id, year, month) DO UPDATE SET created = created + 1
		 WHERE mint_limits.created < ?`,
		userID, year, month, limit,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// =============================================================================
// SALE LISTINGS
// =============================================================================

func (r runner) InsertListing(ctx context.Context, l market.SaleListing) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO sale_listings
		 (id, seller_id, template_id, price, initial_quantity, quantity,
		  desired_grade, desired_genre, desired_desc, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.SellerID, l.TemplateID, l.Price, l.InitialQuantity, l.Quantity,
		nullIfEmpty(string(l.DesiredGrade)), nullIfEmpty(string(l.DesiredGenre)),
		nullIfEmpty(l.DesiredDesc), stamp(l.CreatedAt),
	)
	return err
}

func (r runner) GetListing(ctx context.Context, id string) (*market.SaleListing, error) {
	var l market.SaleListing
	var grade, genre, desc, deletedAt sql.NullString
	var createdAt string
	err := r.q.QueryRowContext(ctx,
		`SELECT id, seller_id, template_id, price, initial_quantity, quantity,
		        desired_grade, desired_genre, desired_desc, created_at, deleted_at
		 FROM sale_listings WHERE id = ?`, id,
	).Scan(&l.ID, &l.SellerID, &l.TemplateID, &l.Price, &l.InitialQuantity, &l.Quantity,
		&grade, &genre, &desc, &createdAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.DesiredGrade = market.Grade(grade.String)
	l.DesiredGenre = market.Genre(genre.String)
	l.DesiredDesc = desc.String
	l.CreatedAt = parseStamp(createdAt)
	if deletedAt.Valid {
		t := parseStamp(deletedAt.String)
		l.DeletedAt = &t
	}
	return &l, nil
}

func (r runner) DecrementQuantity(ctx context.Context, listingID string, amount int64, expectedPrice *int64) (int64, error) {
	query := `UPDATE sale_listings SET quantity = quantity - ?
	          WHERE id = ? AND deleted_at IS NULL AND quantity >= ?`
	args := []any{amount, listingID, amount}
	if expectedPrice != nil {
		query += ` AND price = ?`
		args = append(args, *expectedPrice)
	}
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r runner) SoftDeleteListing(ctx context.Context, listingID, sellerID string, at time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE sale_listings SET deleted_at = ?
		 WHERE id = ? AND seller_id = ? AND deleted_at IS NULL`,
		stamp(at), listingID, sellerID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// =============================================================================
// EXCHANGE PROPOSALS
// =============================================================================

const proposalColumns = `id, listing_id, proposer_id, offered_unit_id, message, status, created_at, updated_at`

func (r runner) InsertProposal(ctx context.Context, p market.ExchangeProposal) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO exchange_proposals
		 (id, listing_id, proposer_id, offered_unit_id, message, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ListingID, p.ProposerID, p.OfferedUnitID, p.Message,
		p.Status, stamp(p.CreatedAt), stamp(p.CreatedAt),
	)
	if err != nil && isUniqueConstraintError(err) {
		return fmt.Errorf("duplicate pending proposal: %w", market.ErrValidation)
	}
	return err
}

func scanProposal(scan func(...any) error) (market.ExchangeProposal, error) {
	var p market.ExchangeProposal
	var createdAt, updatedAt string
	err := scan(&p.ID, &p.ListingID, &p.ProposerID, &p.OfferedUnitID,
		&p.Message, &p.Status, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}
	p.CreatedAt = parseStamp(createdAt)
	p.UpdatedAt = parseStamp(updatedAt)
	return p, nil
}

func (r runner) GetProposal(ctx context.Context, id string) (*market.ExchangeProposal, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM exchange_proposals WHERE id = ?`, id)
	p, err := scanProposal(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r runner) FindPendingProposal(ctx context.Context, listingID, proposerID, unitID string) (*market.ExchangeProposal, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM exchange_proposals
		 WHERE listing_id = ? AND proposer_id = ? AND offered_unit_id = ? AND status = 'PENDING'`,
		listingID, proposerID, unitID)
	p, err := scanProposal(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r runner) PendingProposals(ctx context.Context, listingID, exceptID string) ([]market.ExchangeProposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM exchange_proposals
	          WHERE listing_id = ? AND status = 'PENDING'`
	args := []any{listingID}
	if exceptID != "" {
		query += ` AND id != ?`
		args = append(args, exceptID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proposals []market.ExchangeProposal
	for rows.Next() {
		p, err := scanProposal(rows.Scan)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

func (r runner) SetProposalStatus(ctx context.Context, proposalID string, from, to market.ProposalStatus) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE exchange_proposals SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, nowStamp(), proposalID, from,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// =============================================================================
// PURCHASES
// =============================================================================

func (r runner) InsertPurchases(ctx context.Context, ps []market.Purchase) error {
	for _, p := range ps {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO purchases (id, buyer_id, listing_id, unit_id, type, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, p.BuyerID, p.ListingID, p.UnitID, p.Type, stamp(p.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert purchase: %w", err)
		}
	}
	return nil
}

// =============================================================================
// COOLDOWNS
// =============================================================================

func (r runner) EnsureCooldown(ctx context.Context, userID string, reason market.CooldownReason) error {
	// Lazy creation with the epoch: a first-time caller is eligible now.
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO point_cooldowns (user_id, reason, next_allowed_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, reason) DO NOTHING`,
		userID, reason, stamp(time.Unix(0, 0)), nowStamp(),
	)
	return err
}

func (r runner) ReserveCooldown(ctx context.Context, userID string, reason market.CooldownReason, now, next time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE point_cooldowns SET next_allowed_at = ?, updated_at = ?
		 WHERE user_id = ? AND reason = ? AND next_allowed_at <= ?`,
		stamp(next), nowStamp(), userID, reason, stamp(now),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r runner) GetCooldown(ctx context.Context, userID string, reason market.CooldownReason) (*market.PointCooldown, error) {
	var c market.PointCooldown
	var next, updated string
	err := r.q.QueryRowContext(ctx,
		`SELECT user_id, reason, next_allowed_at, updated_at
		 FROM point_cooldowns WHERE user_id = ? AND reason = ?`,
		userID, reason,
	).Scan(&c.UserID, &c.Reason, &next, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.NextAllowedAt = parseStamp(next)
	c.UpdatedAt = parseStamp(updated)
	return &c, nil
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func (r runner) InsertNotification(ctx context.Context, n market.Notification) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO notifications (user_id, type, content, link, read, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		n.UserID, n.Type, n.Content, n.Link, stamp(n.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert notification: %w", err)
	}
	return res.LastInsertId()
}

const notificationColumns = `id, user_id, type, content, link, read, created_at`

func scanNotification(scan func(...any) error) (market.Notification, error) {
	var n market.Notification
	var createdAt string
	err := scan(&n.ID, &n.UserID, &n.Type, &n.Content, &n.Link, &n.Read, &createdAt)
	if err != nil {
		return n, err
	}
	n.CreatedAt = parseStamp(createdAt)
	return n, nil
}

func (r runner) queryNotifications(ctx context.Context, query string, args ...any) ([]market.Notification, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r runner) NotificationsByID(ctx context.Context, ids []int64) ([]market.Notification, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return r.queryNotifications(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE id IN (`+placeholders+`) ORDER BY id ASC`, args...)
}

func typeFilterClause(types []market.NotificationType, args []any) (string, []any) {
	if len(types) == 0 {
		return "", args
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
	for _, t := range types {
		args = append(args, t)
	}
	return ` AND type IN (` + placeholders + `)`, args
}

func (r runner) NotificationsSince(ctx context.Context, userID string, sinceID int64, limit int, types []market.NotificationType) ([]market.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
	          WHERE user_id = ? AND id > ?`
	args := []any{userID, sinceID}
	clause, args := typeFilterClause(types, args)
	query += clause + ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	return r.queryNotifications(ctx, query, args...)
}

func (r runner) ListNotifications(ctx context.Context, userID string, q market.NotificationQuery) ([]market.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	args := []any{userID}
	if q.Cursor > 0 {
		query += ` AND id < ?`
		args = append(args, q.Cursor)
	}
	if q.UnreadOnly {
		query += ` AND read = 0`
	}
	clause, args := typeFilterClause(q.Types, args)
	query += clause + ` ORDER BY id DESC LIMIT ?`
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)
	return r.queryNotifications(ctx, query, args...)
}

func (r runner) CountUnread(ctx context.Context, userID string, types []market.NotificationType) (int64, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0`
	args := []any{userID}
	clause, args := typeFilterClause(types, args)
	query += clause

	var count int64
	err := r.q.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

func (r runner) MarkRead(ctx context.Context, userID string, id int64) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ? AND read = 0`,
		id, userID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r runner) MarkAllRead(ctx context.Context, userID string, q market.MarkAllQuery) (int64, error) {
	query := `UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0`
	args := []any{userID}
	if q.BeforeID > 0 {
		query += ` AND id <= ?`
		args = append(args, q.BeforeID)
	}
	clause, args := typeFilterClause(q.Types, args)
	query += clause

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
