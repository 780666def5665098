/*
cards.go - Card lifecycle state machine

PURPOSE:
  Owns every status and ownership change of an OwnedUnit. Transitions:

    IDLE -> ON_SALE     reserved into a listing
    ON_SALE -> IDLE     listing cancelled / sold (new owner starts IDLE)
    IDLE -> PROPOSED    offered in an exchange proposal
    PROPOSED -> IDLE    proposal resolved

  All transitions are conditional updates. A 0-rows-affected result means
  another transaction changed the unit first; the caller must abort.

SEE ALSO:
  - trade/purchase.go, trade/exchange.go, trade/listing.go: callers
*/
package market

import (
	"context"
	"fmt"
)

// CardStateMachine executes unit transitions against a (usually
// transaction-scoped) Store.
type CardStateMachine struct {
	Store Store
}

// ReserveForSale selects up to count IDLE units of (ownerID, templateID),
// oldest first, and flips each to ON_SALE. If fewer than count are
// available it returns InsufficientStockError so the enclosing
// transaction aborts with nothing reserved.
func (m CardStateMachine) ReserveForSale(ctx context.Context, ownerID, templateID string, count int) ([]OwnedUnit, error) {
	units, err := m.Store.SelectUnits(ctx, ownerID, templateID, UnitIdle, count)
	if err != nil {
		return nil, err
	}
	if len(units) < count {
		return nil, &InsufficientStockError{Requested: count, Available: len(units)}
	}

	for i := range units {
		n, err := m.Store.UpdateUnitStatus(ctx, units[i].ID, ownerID, UnitIdle, UnitOnSale)
		if err != nil {
			return nil, err
		}
		if n != 1 {
			return nil, fmt.Errorf("reserve unit %s: %w", units[i].ID, ErrConflict)
		}
		units[i].Status = UnitOnSale
	}
	return units, nil
}

// Release flips up to count units of (ownerID, templateID) from the given
// status back to IDLE. Used when cancelling a listing. Returns how many
// were released.
func (m CardStateMachine) Release(ctx context.Context, ownerID, templateID string, from UnitStatus, count int) (int, error) {
	units, err := m.Store.SelectUnits(ctx, ownerID, templateID, from, count)
	if err != nil {
		return 0, err
	}
	for _, u := range units {
		n, err := m.Store.UpdateUnitStatus(ctx, u.ID, ownerID, from, UnitIdle)
		if err != nil {
			return 0, err
		}
		if n != 1 {
			return 0, fmt.Errorf("release unit %s: %w", u.ID, ErrConflict)
		}
	}
	return len(units), nil
}

// Flip transitions a single unit between statuses without an ownership
// change. 0 affected rows surfaces as CONFLICT.
func (m CardStateMachine) Flip(ctx context.Context, unitID, ownerID string, from, to UnitStatus) error {
	n, err := m.Store.UpdateUnitStatus(ctx, unitID, ownerID, from, to)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("flip unit %s %s->%s: %w", unitID, from, to, ErrConflict)
	}
	return nil
}

// TransferIfStatus moves a unit to a new owner in one conditional update.
// Every ownership change in the system goes through here; there is no
// unconditional owner write anywhere.
func (m CardStateMachine) TransferIfStatus(ctx context.Context, unitID, expectedOwnerID string, expectedStatus UnitStatus, newOwnerID string, newStatus UnitStatus) error {
	n, err := m.Store.TransferUnit(ctx, unitID, expectedOwnerID, expectedStatus, newOwnerID, newStatus)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("transfer unit %s: %w", unitID, ErrConflict)
	}
	return nil
}
