/*
claim.go - Transactional reward claim

PURPOSE:
  Claim reserves the user's cooldown window and, in the same transaction,
  credits the drawn points and appends the ledger entry. Losing the
  reservation aborts before any business effect.
*/
package reward

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/card-market/market"
)

// DefaultCooldown is the window between claims.
const DefaultCooldown = 60 * time.Minute

// Service executes reward claims.
type Service struct {
	Store    market.TxStore
	Policy   DrawPolicy
	Cooldown time.Duration
	Now      func() time.Time

	// Roll overrides the random source; nil uses the default source.
	Roll func(n int64) int64
}

// NewService wires the reward workflow with production defaults.
func NewService(store market.TxStore) *Service {
	return &Service{
		Store:    store,
		Policy:   DefaultDrawPolicy(),
		Cooldown: DefaultCooldown,
		Now:      time.Now,
	}
}

// Claim is a settled reward.
type Claim struct {
	Points        int64
	TotalPoints   int64
	NextAllowedAt time.Time
}

// Claim draws and credits a random point reward, gated by the per-user
// cooldown. Of N concurrent claims in one window exactly one succeeds;
// the rest see COOLDOWN_ACTIVE or CONCURRENCY_CONFLICT.
func (s *Service) Claim(ctx context.Context, userID string) (*Claim, error) {
	now := s.Now()
	next := now.Add(s.Cooldown)
	points := Draw(s.Policy, s.Roll)

	var claim Claim
	err := s.Store.WithTx(ctx, func(tx market.Store) error {
		gate := market.CooldownGate{Store: tx}
		ledger := market.PointLedger{Store: tx}

		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("user %s: %w", userID, market.ErrNotFound)
		}

		if err := gate.Reserve(ctx, userID, market.ReasonRandomReward, now, next); err != nil {
			return err
		}

		if err := ledger.Award(ctx, userID, points, string(market.ReasonRandomReward)); err != nil {
			return err
		}

		after, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}

		claim = Claim{Points: points, TotalPoints: after.Points, NextAllowedAt: next}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claim, nil
}
