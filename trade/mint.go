/*
mint.go - Card template minting

PURPOSE:
  Creates a CardTemplate together with its full batch of OwnedUnits in one
  transaction. Minting is rate-limited per user per calendar month; the
  limit is enforced by a conditional counter bump, not a read-then-write,
  so concurrent mints cannot slip past it.
*/
package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/card-market/market"
)

// DefaultMonthlyMintLimit caps how many templates one user can mint per
// calendar month.
const DefaultMonthlyMintLimit = 35

// Minter creates card templates and their unit batches.
type Minter struct {
	Store        market.TxStore
	MonthlyLimit int
	Now          func() time.Time
}

// NewMinter wires the mint workflow.
func NewMinter(store market.TxStore) *Minter {
	return &Minter{Store: store, MonthlyLimit: DefaultMonthlyMintLimit, Now: time.Now}
}

// MintInput describes a new card template.
type MintInput struct {
	Name          string
	Description   string
	Grade         market.Grade
	Genre         market.Genre
	InitialPrice  int64
	TotalQuantity int
}

// MintResult reports the created template and batch.
type MintResult struct {
	Template market.CardTemplate
	UnitIDs  []string
	Limit    int
}

// Mint creates the template and mints TotalQuantity IDLE units to the
// creator. A caller at the monthly limit is rejected before anything is
// written.
func (w *Minter) Mint(ctx context.Context, creatorID string, in MintInput) (*MintResult, error) {
	if in.TotalQuantity <= 0 {
		return nil, fmt.Errorf("total quantity must be positive: %w", market.ErrValidation)
	}
	if in.Name == "" {
		return nil, fmt.Errorf("name is required: %w", market.ErrValidation)
	}

	var result MintResult
	err := w.Store.WithTx(ctx, func(s market.Store) error {
		now := w.Now()

		creator, err := s.GetUser(ctx, creatorID)
		if err != nil {
			return err
		}
		if creator == nil {
			return fmt.Errorf("user %s: %w", creatorID, market.ErrNotFound)
		}

		n, err := s.BumpMintCount(ctx, creatorID, now.Year(), int(now.Month()), w.MonthlyLimit)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("monthly mint limit of %d reached: %w", w.MonthlyLimit, market.ErrValidation)
		}

		template := market.CardTemplate{
			ID:            market.NewID(),
			CreatorID:     creatorID,
			Name:          in.Name,
			Description:   in.Description,
			Grade:         in.Grade,
			Genre:         in.Genre,
			InitialPrice:  in.InitialPrice,
			TotalQuantity: in.TotalQuantity,
			CreatedAt:     now,
		}
		if err := s.InsertTemplate(ctx, template); err != nil {
			return err
		}

		units := make([]market.OwnedUnit, in.TotalQuantity)
		for i := range units {
			units[i] = market.OwnedUnit{
				ID:         market.NewID(),
				OwnerID:    creatorID,
				TemplateID: template.ID,
				Status:     market.UnitIdle,
				CreatedAt:  now,
			}
		}
		if err := s.InsertUnits(ctx, units); err != nil {
			return err
		}

		result.Template = template
		result.Limit = w.MonthlyLimit
		for _, u := range units {
			result.UnitIDs = append(result.UnitIDs, u.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
