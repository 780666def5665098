/*
points.go - Per-user point ledger

PURPOSE:
  Owns point balances and the append-only log of balance changes. A debit
  is conditional on sufficiency (points >= amount); a credit is
  unconditional. The log entries are written in the same transaction as
  the balance change they describe.

ORDERING RULE:
  Transfer always attempts the debit before the credit, so a failed debit
  aborts before any credit is applied.
*/
package market

import (
	"context"
	"fmt"
)

// PointLedger mutates balances through conditional updates and records
// every change in the point log.
type PointLedger struct {
	Store Store
}

// Transfer moves amount points from one user to another, logging both
// sides. A failed debit surfaces as INSUFFICIENT_FUNDS and nothing is
// credited.
func (l PointLedger) Transfer(ctx context.Context, fromUserID, toUserID string, amount int64, debitReason, creditReason string) error {
	if amount <= 0 {
		return fmt.Errorf("transfer of %d points: %w", amount, ErrValidation)
	}

	n, err := l.Store.DebitIfSufficient(ctx, fromUserID, amount)
	if err != nil {
		return err
	}
	if n != 1 {
		// Re-read for the shortfall detail; the authoritative decision was
		// the conditional update above.
		var available int64
		if u, uerr := l.Store.GetUser(ctx, fromUserID); uerr == nil && u != nil {
			available = u.Points
		}
		return &InsufficientFundsError{UserID: fromUserID, Required: amount, Available: available}
	}

	if _, err := l.Store.Credit(ctx, toUserID, amount); err != nil {
		return err
	}

	return l.Store.AppendPointLog(ctx, []PointLogEntry{
		{UserID: fromUserID, Amount: -amount, Reason: debitReason},
		{UserID: toUserID, Amount: amount, Reason: creditReason},
	})
}

// Award credits a user without a paired debit (reward payouts) and logs
// the grant.
func (l PointLedger) Award(ctx context.Context, userID string, amount int64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("award of %d points: %w", amount, ErrValidation)
	}
	if _, err := l.Store.Credit(ctx, userID, amount); err != nil {
		return err
	}
	return l.Store.AppendPointLog(ctx, []PointLogEntry{
		{UserID: userID, Amount: amount, Reason: reason},
	})
}
