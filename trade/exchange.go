/*
exchange.go - Card-for-card exchange workflow

PURPOSE:
  Implements the proposal state machine:

    PENDING -> ACCEPTED   (seller accepts; units swap owners)
    PENDING -> REJECTED   (seller rejects, or auto-rejected on sell-out)
    PENDING -> CANCELLED  (proposer withdraws)

  Terminal states are final. Every transition is a conditional update on
  the current status, so two concurrent decisions on the same proposal
  resolve to exactly one winner.

OWNERSHIP SCOPING:
  Acting on a proposal you don't own reads as NOT_FOUND, not FORBIDDEN;
  lookups are scoped to the caller so existence is not leaked.
*/
package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/card-market/market"
)

// Exchanges executes propose/cancel/accept/reject operations.
type Exchanges struct {
	Store    market.TxStore
	Notifier Notifier
	Now      func() time.Time
}

// NewExchanges wires the exchange workflow.
func NewExchanges(store market.TxStore, notifier Notifier) *Exchanges {
	return &Exchanges{Store: store, Notifier: notifier, Now: time.Now}
}

// Propose creates a PENDING proposal offering one of the proposer's IDLE
// units against a listing, and flips the unit to PROPOSED.
func (w *Exchanges) Propose(ctx context.Context, proposerID, listingID, offeredUnitID, message string) (*market.ExchangeProposal, error) {
	var proposal market.ExchangeProposal
	var notificationIDs []int64

	err := w.Store.WithTx(ctx, func(s market.Store) error {
		cards := market.CardStateMachine{Store: s}
		now := w.Now()

		listing, err := activeListing(ctx, s, listingID)
		if err != nil {
			return err
		}

		unit, err := s.GetUnit(ctx, offeredUnitID)
		if err != nil {
			return err
		}
		if unit == nil || unit.OwnerID != proposerID {
			return fmt.Errorf("offered unit %s: %w", offeredUnitID, market.ErrNotFound)
		}
		if unit.Status != market.UnitIdle {
			return fmt.Errorf("offered unit %s is %s: %w", offeredUnitID, unit.Status, market.ErrValidation)
		}

		dup, err := s.FindPendingProposal(ctx, listingID, proposerID, offeredUnitID)
		if err != nil {
			return err
		}
		if dup != nil {
			return fmt.Errorf("identical proposal already pending: %w", market.ErrValidation)
		}

		proposal = market.ExchangeProposal{
			ID:            market.NewID(),
			ListingID:     listingID,
			ProposerID:    proposerID,
			OfferedUnitID: offeredUnitID,
			Message:       message,
			Status:        market.ProposalPending,
			CreatedAt:     now,
		}
		if err := s.InsertProposal(ctx, proposal); err != nil {
			return err
		}

		if err := cards.Flip(ctx, offeredUnitID, proposerID, market.UnitIdle, market.UnitProposed); err != nil {
			return err
		}

		proposer, err := s.GetUser(ctx, proposerID)
		if err != nil {
			return err
		}
		nickname := "someone"
		if proposer != nil {
			nickname = proposer.Nickname
		}
		id, err := s.InsertNotification(ctx, market.Notification{
			UserID:    listing.SellerID,
			Type:      market.NotifyProposalReceived,
			Content:   fmt.Sprintf("%s proposed an exchange on your listing.", nickname),
			Link:      "/marketplace/" + listing.ID + "/edit",
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		notificationIDs = append(notificationIDs, id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.Notifier.PublishMany(ctx, notificationIDs)
	return &proposal, nil
}

// Cancel withdraws a PENDING proposal. Only the proposer may cancel.
func (w *Exchanges) Cancel(ctx context.Context, proposerID, proposalID string) error {
	return w.Store.WithTx(ctx, func(s market.Store) error {
		cards := market.CardStateMachine{Store: s}

		proposal, err := s.GetProposal(ctx, proposalID)
		if err != nil {
			return err
		}
		if proposal == nil || proposal.ProposerID != proposerID || proposal.Status != market.ProposalPending {
			return fmt.Errorf("proposal %s: %w", proposalID, market.ErrNotFound)
		}

		n, err := s.SetProposalStatus(ctx, proposalID, market.ProposalPending, market.ProposalCancelled)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("cancel proposal %s: %w", proposalID, market.ErrConflict)
		}

		return cards.Flip(ctx, proposal.OfferedUnitID, proposerID, market.UnitProposed, market.UnitIdle)
	})
}

// AcceptResult reports a settled exchange.
type AcceptResult struct {
	ProposalID string
	Remaining  int64
	SoldOut    bool
}

// Accept settles a PENDING proposal: the offered unit moves to the seller,
// one of the seller's ON_SALE units of the listing's template moves to the
// proposer, and the listing quantity drops by one. When the listing is
// exhausted, every other PENDING proposal is auto-rejected.
func (w *Exchanges) Accept(ctx context.Context, sellerID, proposalID string) (*AcceptResult, error) {
	var result AcceptResult
	var notificationIDs []int64

	err := w.Store.WithTx(ctx, func(s market.Store) error {
		cards := market.CardStateMachine{Store: s}
		inventory := market.InventoryLedger{Store: s}
		now := w.Now()

		proposal, listing, err := w.proposalForSeller(ctx, s, sellerID, proposalID)
		if err != nil {
			return err
		}

		// The unit being traded away: one of the seller's reserved units.
		sellerUnits, err := s.SelectUnits(ctx, sellerID, listing.TemplateID, market.UnitOnSale, 1)
		if err != nil {
			return err
		}
		if len(sellerUnits) == 0 {
			return &market.InsufficientStockError{Requested: 1, Available: 0}
		}
		sellerUnit := sellerUnits[0]

		n, err := s.SetProposalStatus(ctx, proposalID, market.ProposalPending, market.ProposalAccepted)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("accept proposal %s: %w", proposalID, market.ErrConflict)
		}

		// Swap custody; both sides land IDLE under their new owners.
		if err := cards.TransferIfStatus(ctx, proposal.OfferedUnitID, proposal.ProposerID, market.UnitProposed, sellerID, market.UnitIdle); err != nil {
			return err
		}
		if err := cards.TransferIfStatus(ctx, sellerUnit.ID, sellerID, market.UnitOnSale, proposal.ProposerID, market.UnitIdle); err != nil {
			return err
		}

		// No price check: no points change hands on the barter path.
		if err := inventory.Decrement(ctx, listing.ID, 1, nil); err != nil {
			return err
		}

		// One audit row per direction.
		if err := s.InsertPurchases(ctx, []market.Purchase{
			{
				ID:        market.NewID(),
				BuyerID:   proposal.ProposerID,
				ListingID: listing.ID,
				UnitID:    sellerUnit.ID,
				Type:      market.PurchaseExchange,
				CreatedAt: now,
			},
			{
				ID:        market.NewID(),
				BuyerID:   sellerID,
				ListingID: listing.ID,
				UnitID:    proposal.OfferedUnitID,
				Type:      market.PurchaseExchange,
				CreatedAt: now,
			},
		}); err != nil {
			return err
		}

		after, err := s.GetListing(ctx, listing.ID)
		if err != nil {
			return err
		}
		result.ProposalID = proposalID
		result.Remaining = after.Quantity
		result.SoldOut = after.Quantity == 0

		for _, target := range []struct {
			userID string
			link   string
		}{
			{proposal.ProposerID, "/marketplace/" + listing.ID},
			{sellerID, "/marketplace/" + listing.ID + "/edit"},
		} {
			id, err := s.InsertNotification(ctx, market.Notification{
				UserID:    target.userID,
				Type:      market.NotifyProposalDecided,
				Content:   "Exchange proposal accepted: the cards have been swapped.",
				Link:      target.link,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
			notificationIDs = append(notificationIDs, id)
		}

		if result.SoldOut {
			soldOutID, err := handleExhaustion(ctx, s, listing, proposalID, now)
			if err != nil {
				return err
			}
			notificationIDs = append(notificationIDs, soldOutID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.Notifier.PublishMany(ctx, notificationIDs)
	return &result, nil
}

// Reject declines a PENDING proposal and reverts the offered unit.
func (w *Exchanges) Reject(ctx context.Context, sellerID, proposalID string) error {
	var notificationIDs []int64

	err := w.Store.WithTx(ctx, func(s market.Store) error {
		cards := market.CardStateMachine{Store: s}
		now := w.Now()

		proposal, listing, err := w.proposalForSeller(ctx, s, sellerID, proposalID)
		if err != nil {
			return err
		}

		n, err := s.SetProposalStatus(ctx, proposalID, market.ProposalPending, market.ProposalRejected)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("reject proposal %s: %w", proposalID, market.ErrConflict)
		}

		if err := cards.Flip(ctx, proposal.OfferedUnitID, proposal.ProposerID, market.UnitProposed, market.UnitIdle); err != nil {
			return err
		}

		id, err := s.InsertNotification(ctx, market.Notification{
			UserID:    proposal.ProposerID,
			Type:      market.NotifyProposalDecided,
			Content:   "Your exchange proposal was declined.",
			Link:      "/marketplace/" + listing.ID,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		notificationIDs = append(notificationIDs, id)
		return nil
	})
	if err != nil {
		return err
	}

	w.Notifier.PublishMany(ctx, notificationIDs)
	return nil
}

// proposalForSeller loads a PENDING proposal scoped to the seller of its
// listing. Anything else - absent, resolved, or someone else's - is not
// found.
func (w *Exchanges) proposalForSeller(ctx context.Context, s market.Store, sellerID, proposalID string) (*market.ExchangeProposal, *market.SaleListing, error) {
	proposal, err := s.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}
	if proposal == nil || proposal.Status != market.ProposalPending {
		return nil, nil, fmt.Errorf("proposal %s: %w", proposalID, market.ErrNotFound)
	}
	listing, err := s.GetListing(ctx, proposal.ListingID)
	if err != nil {
		return nil, nil, err
	}
	if listing == nil || listing.SellerID != sellerID {
		return nil, nil, fmt.Errorf("proposal %s: %w", proposalID, market.ErrNotFound)
	}
	return proposal, listing, nil
}
