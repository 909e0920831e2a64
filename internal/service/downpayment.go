package service

import (
	"context"

	"github.com/punchamoorthee/barterops/internal/domain"
)

// MarkDownpaymentPaid records the buyer's claim of having paid the required
// downpayment. Bookkeeping only: no money moves here and nothing downstream
// is gated on it.
func (e *Engine) MarkDownpaymentPaid(ctx context.Context, offerID, actingUserID string) (*domain.BarterOffer, error) {
	now := e.clock.Now()
	updated, err := e.store.UpdateOffer(ctx, offerID, func(o *domain.BarterOffer) error {
		if o.BuyerID != actingUserID {
			return domain.ErrForbidden("only the buyer may mark the downpayment paid on offer %s", o.ID)
		}
		return o.MarkDownpaymentPaid(now)
	})
	if err != nil {
		return nil, mapStoreErr(err, "offer", offerID)
	}

	e.notify(ctx, updated.SellerID, NotifyDownpaymentPaid, map[string]string{
		"offer_id": updated.ID, "listing_id": updated.ListingID,
	})
	return updated, nil
}

// ConfirmDownpaymentReceipt records the seller's acknowledgement of the
// downpayment.
func (e *Engine) ConfirmDownpaymentReceipt(ctx context.Context, offerID, actingUserID string) (*domain.BarterOffer, error) {
	now := e.clock.Now()
	updated, err := e.store.UpdateOffer(ctx, offerID, func(o *domain.BarterOffer) error {
		if o.SellerID != actingUserID {
			return domain.ErrForbidden("only the seller may confirm the downpayment on offer %s", o.ID)
		}
		return o.ConfirmDownpaymentReceipt(now)
	})
	if err != nil {
		return nil, mapStoreErr(err, "offer", offerID)
	}

	e.notify(ctx, updated.BuyerID, NotifyDownpaymentConfirmed, map[string]string{
		"offer_id": updated.ID, "listing_id": updated.ListingID,
	})
	return updated, nil
}
