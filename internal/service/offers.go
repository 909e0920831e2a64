package service

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/punchamoorthee/barterops/internal/domain"
)

// OfferRequest carries the terms of a new or counter offer.
type OfferRequest struct {
	ListingID    string                   `json:"listing_id"`
	CashCents    int64                    `json:"cash_cents"`
	CurrencyCode string                   `json:"currency_code"`
	Message      string                   `json:"message"`
	Items        []domain.BarterOfferItem `json:"items"`
}

// CreateOffer validates and persists a buyer's offer against a listing.
// Every validation failure is surfaced before anything is written.
func (e *Engine) CreateOffer(ctx context.Context, buyerID string, req OfferRequest) (*domain.BarterOffer, error) {
	listing, err := e.store.GetListing(ctx, req.ListingID)
	if err != nil {
		return nil, mapStoreErr(err, "listing", req.ListingID)
	}
	if listing.SellerID == buyerID {
		return nil, domain.ErrInvalidOperation("cannot make an offer on your own listing")
	}
	if !listing.IsActive() {
		return nil, domain.ErrInvalidOperation("listing %s is %s and not taking offers", listing.ID, listing.Status)
	}
	if !listing.AcceptsOffers() {
		return nil, domain.ErrInvalidOperation("listing %s accepts neither cash nor barter", listing.ID)
	}
	if req.CashCents < 0 {
		return nil, domain.ErrInvalidOperation("offered cash must not be negative")
	}
	if listing.DownpaymentRequiredCents > 0 && req.CashCents < listing.DownpaymentRequiredCents {
		return nil, domain.ErrInvalidOperation(
			"listing %s requires at least %d cents in cash, offered %d",
			listing.ID, listing.DownpaymentRequiredCents, req.CashCents)
	}

	pending, err := e.store.CountPendingOffers(ctx, listing.ID, buyerID)
	if err != nil {
		return nil, err
	}
	if pending >= maxPendingOffersPerListing {
		return nil, domain.ErrRateLimited(
			"you already have %d pending offer(s) on listing %s", pending, listing.ID)
	}

	if err := e.validatePledges(ctx, buyerID, req.Items, ""); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	offer := domain.NewOffer(
		listing.ID, buyerID, listing.SellerID,
		req.CashCents, req.CurrencyCode, req.Message, req.Items, now,
	)
	if err := e.store.CreateOffer(ctx, offer); err != nil {
		return nil, err
	}

	e.notify(ctx, offer.SellerID, NotifyOfferReceived, map[string]string{
		"offer_id": offer.ID, "listing_id": listing.ID, "buyer_id": buyerID,
	})
	return offer, nil
}

// validatePledges checks ownership, liveness and available capacity of every
// pledged listing. excludeOfferID carves an existing offer's own pledges out
// of the committed sum when its terms are being replaced.
func (e *Engine) validatePledges(ctx context.Context, pledgerID string, items []domain.BarterOfferItem, excludeOfferID string) error {
	// Pledges within the one offer against the same listing accumulate.
	sofar := make(map[string]int)
	for _, it := range items {
		if it.Quantity <= 0 {
			return domain.ErrInvalidOperation("pledged quantity for listing %s must be positive", it.OfferedListingID)
		}
		pledged, err := e.store.GetListing(ctx, it.OfferedListingID)
		if err != nil {
			return mapStoreErr(err, "pledged listing", it.OfferedListingID)
		}
		if pledged.SellerID != pledgerID {
			return domain.ErrForbidden("listing %s is not owned by %s", pledged.ID, pledgerID)
		}
		if !pledged.IsActive() {
			return domain.ErrInvalidOperation("pledged listing %s is %s", pledged.ID, pledged.Status)
		}
		available, err := e.AvailableQuantity(ctx, pledged.ID, pledgerID, excludeOfferID)
		if err != nil {
			return err
		}
		if sofar[pledged.ID]+it.Quantity > available {
			return domain.ErrInsufficientCapacity(
				"listing %s has %d unit(s) free for %s, %d pledged",
				pledged.ID, available-sofar[pledged.ID], pledgerID, it.Quantity)
		}
		sofar[pledged.ID] += it.Quantity
	}
	return nil
}

// Accept moves a pending offer to accepted. Only the offer's seller may
// accept. Accepting links (or creates) the parties' conversation, opens the
// downpayment track when the listing requires one, and revalidates other
// offers pledging the same inventory.
func (e *Engine) Accept(ctx context.Context, offerID, actingUserID string) (*domain.BarterOffer, error) {
	current, err := e.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, mapStoreErr(err, "offer", offerID)
	}
	listing, err := e.store.GetListing(ctx, current.ListingID)
	if err != nil {
		return nil, mapStoreErr(err, "listing", current.ListingID)
	}
	requiresDownpayment := listing.DownpaymentRequiredCents > 0

	// Conversation linking is idempotent, so doing it ahead of the status
	// transition is safe even if the transition loses a race. Failures are
	// best-effort: the trade proceeds without a linked thread.
	conversationID, err := e.messaging.CreateOrReuseConversation(
		ctx, current.BuyerID, current.SellerID, current.ListingID,
	)
	if err != nil {
		log.WithError(err).Warnf("conversation linking failed for offer %s", offerID)
		conversationID = ""
	}

	now := e.clock.Now()
	updated, err := e.store.UpdateOffer(ctx, offerID, func(o *domain.BarterOffer) error {
		if o.SellerID != actingUserID {
			return domain.ErrForbidden("only the seller may accept offer %s", o.ID)
		}
		if err := o.Accept(now, e.completionWindow, requiresDownpayment); err != nil {
			return err
		}
		o.ConversationID = conversationID
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err, "offer", offerID)
	}

	// Acceptance firms up the pledge commitments; other pending offers
	// drawing on the same inventory may no longer fit.
	seen := make(map[string]bool)
	for _, it := range updated.Items {
		if seen[it.OfferedListingID] {
			continue
		}
		seen[it.OfferedListingID] = true
		if err := e.RevalidateCommitments(ctx, it.OfferedListingID); err != nil {
			log.WithError(err).Warnf("revalidation failed for listing %s", it.OfferedListingID)
		}
	}

	e.notify(ctx, updated.BuyerID, NotifyOfferAccepted, map[string]string{
		"offer_id": updated.ID, "listing_id": updated.ListingID,
	})
	return updated, nil
}

// Reject moves a pending offer to rejected. Seller only.
func (e *Engine) Reject(ctx context.Context, offerID, actingUserID string) (*domain.BarterOffer, error) {
	now := e.clock.Now()
	updated, err := e.store.UpdateOffer(ctx, offerID, func(o *domain.BarterOffer) error {
		if o.SellerID != actingUserID {
			return domain.ErrForbidden("only the seller may reject offer %s", o.ID)
		}
		return o.Reject(now)
	})
	if err != nil {
		return nil, mapStoreErr(err, "offer", offerID)
	}

	e.notify(ctx, updated.BuyerID, NotifyOfferRejected, map[string]string{
		"offer_id": updated.ID, "listing_id": updated.ListingID,
	})
	return updated, nil
}

// Counter retires a pending offer and opens a sibling offer with the roles
// swapped: the original seller becomes the pledging party on the new terms.
func (e *Engine) Counter(ctx context.Context, offerID, actingUserID string, terms OfferRequest) (*domain.BarterOffer, error) {
	current, err := e.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, mapStoreErr(err, "offer", offerID)
	}
	if current.SellerID != actingUserID {
		return nil, domain.ErrForbidden("only the seller may counter offer %s", offerID)
	}
	if terms.CashCents < 0 {
		return nil, domain.ErrInvalidOperation("offered cash must not be negative")
	}
	if err := e.validatePledges(ctx, actingUserID, terms.Items, ""); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	original, err := e.store.UpdateOffer(ctx, offerID, func(o *domain.BarterOffer) error {
		if o.SellerID != actingUserID {
			return domain.ErrForbidden("only the seller may counter offer %s", o.ID)
		}
		return o.MarkCountered(now)
	})
	if err != nil {
		return nil, mapStoreErr(err, "offer", offerID)
	}

	currency := terms.CurrencyCode
	if currency == "" {
		currency = original.CurrencyCode
	}
	sibling := domain.NewOffer(
		original.ListingID, original.SellerID, original.BuyerID,
		terms.CashCents, currency, terms.Message, terms.Items, now,
	)
	sibling.ParentOfferID = original.ID
	if err := e.store.CreateOffer(ctx, sibling); err != nil {
		// The original is already countered; the caller can retry with a
		// fresh offer. Keep the failure loud.
		log.WithError(err).Errorf("sibling offer creation failed after countering %s", offerID)
		return nil, err
	}

	e.notify(ctx, original.BuyerID, NotifyOfferCountered, map[string]string{
		"offer_id": original.ID, "counter_offer_id": sibling.ID, "listing_id": original.ListingID,
	})
	return sibling, nil
}

// Cancel lets the buyer withdraw their own pending offer.
func (e *Engine) Cancel(ctx context.Context, offerID, actingUserID string) (*domain.BarterOffer, error) {
	now := e.clock.Now()
	updated, err := e.store.UpdateOffer(ctx, offerID, func(o *domain.BarterOffer) error {
		if o.BuyerID != actingUserID {
			return domain.ErrForbidden("only the buyer may cancel offer %s", o.ID)
		}
		if o.Status != domain.OfferStatusPending {
			return domain.ErrInvalidState("offer %s is %s, only pending offers can be withdrawn", o.ID, o.Status)
		}
		return o.Cancel("withdrawn by buyer", now)
	})
	if err != nil {
		return nil, mapStoreErr(err, "offer", offerID)
	}

	e.notify(ctx, updated.SellerID, NotifyOfferCancelled, map[string]string{
		"offer_id": updated.ID, "listing_id": updated.ListingID,
	})
	return updated, nil
}
