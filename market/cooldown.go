/*
cooldown.go - Single-winner race gate for time-limited rewards

PURPOSE:
  Owns the per-(user, reason) next-allowed-at timestamp. Reserving the
  cooldown is a conditional update requiring nextAllowedAt <= now, so of N
  concurrent claims within one window exactly one succeeds. No lock table,
  no in-process mutex.

FAILURE CLASSIFICATION:
  When the reservation loses, the gate re-reads the row to tell apart two
  causes: if nextAllowedAt is still <= now another request raced us and
  won this instant (CONCURRENCY_CONFLICT, safe to retry immediately);
  otherwise the window genuinely has not elapsed (COOLDOWN_ACTIVE,
  carrying the remaining time for client retry scheduling).
*/
package market

import (
	"context"
	"time"
)

// CooldownGate reserves time-gated one-shot rewards.
type CooldownGate struct {
	Store Store
}

// Reserve atomically claims the (userID, reason) window, advancing
// nextAllowedAt to next. The row is created lazily with the epoch as its
// initial value, so a first-time caller is immediately eligible.
func (g CooldownGate) Reserve(ctx context.Context, userID string, reason CooldownReason, now, next time.Time) error {
	if err := g.Store.EnsureCooldown(ctx, userID, reason); err != nil {
		return err
	}

	n, err := g.Store.ReserveCooldown(ctx, userID, reason, now, next)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	row, err := g.Store.GetCooldown(ctx, userID, reason)
	if err != nil {
		return err
	}
	if row == nil {
		// Row vanished between upsert and re-read; treat as a race.
		return ErrConcurrencyConflict
	}
	if !row.NextAllowedAt.After(now) {
		return ErrConcurrencyConflict
	}
	return &CooldownActiveError{
		NextAllowedAt: row.NextAllowedAt,
		RetryAfter:    row.NextAllowedAt.Sub(now),
	}
}

// Remaining returns how long until the user is next eligible, zero when
// already eligible. Read-only helper for status endpoints.
func (g CooldownGate) Remaining(ctx context.Context, userID string, reason CooldownReason, now time.Time) (time.Duration, error) {
	row, err := g.Store.GetCooldown(ctx, userID, reason)
	if err != nil {
		return 0, err
	}
	if row == nil || !row.NextAllowedAt.After(now) {
		return 0, nil
	}
	return row.NextAllowedAt.Sub(now), nil
}
