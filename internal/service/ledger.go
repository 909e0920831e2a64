package service

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/punchamoorthee/barterops/internal/domain"
)

// AvailableQuantity is how many units of a listing the user can still pledge:
// the listing's quantity minus what their other pending and accepted offers
// already commit. May go negative after a listing shrinks; callers treat
// negative as no capacity.
func (e *Engine) AvailableQuantity(ctx context.Context, listingID, userID, excludeOfferID string) (int, error) {
	listing, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return 0, mapStoreErr(err, "listing", listingID)
	}
	committed, err := e.store.PledgedQuantity(ctx, listingID, userID, excludeOfferID)
	if err != nil {
		return 0, err
	}
	return listing.Quantity - committed, nil
}

// RevalidateCommitments re-checks every pending offer touching a listing
// after its capacity shrank or it left the active pool. Offers targeting a
// dead listing are soft-cancelled; offers whose pledge of this listing no
// longer fits are soft-cancelled. Idempotent: cancelled offers are skipped,
// so re-running after a partial failure is safe. Per-offer failures are
// logged and do not stop the rest.
func (e *Engine) RevalidateCommitments(ctx context.Context, listingID string) error {
	listing, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return mapStoreErr(err, "listing", listingID)
	}
	now := e.clock.Now()

	if !listing.IsActive() {
		targeting, err := e.store.OffersTargeting(ctx, listingID, domain.OfferStatusPending)
		if err != nil {
			return err
		}
		for _, o := range targeting {
			e.softCancel(ctx, o.ID, o.BuyerID,
				"listing is no longer available", now)
		}
	}

	pledging, err := e.store.OffersPledging(ctx, listingID, domain.OfferStatusPending)
	if err != nil {
		return err
	}
	for _, o := range pledging {
		available, err := e.AvailableQuantity(ctx, listingID, o.BuyerID, o.ID)
		if err != nil {
			log.WithError(err).Warnf("availability check failed for offer %s", o.ID)
			continue
		}
		if o.PledgedQuantityOf(listingID) > available {
			e.softCancel(ctx, o.ID, o.SellerID,
				"pledged items are no longer available", now)
		}
	}
	return nil
}

// softCancel cancels a pending offer and notifies the counterparty. A lost
// race (the offer already moved on, or was already cancelled) is a no-op.
func (e *Engine) softCancel(ctx context.Context, offerID, notifyUserID, reason string, now time.Time) {
	changed := false
	updated, err := e.store.UpdateOffer(ctx, offerID, func(o *domain.BarterOffer) error {
		if o.Status != domain.OfferStatusPending {
			return nil
		}
		if err := o.Cancel(reason, now); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		log.WithError(err).Warnf("soft-cancel failed for offer %s", offerID)
		return
	}
	if !changed {
		return
	}
	e.notify(ctx, notifyUserID, NotifyOfferCancelled, map[string]string{
		"offer_id": updated.ID, "listing_id": updated.ListingID, "reason": reason,
	})
}
