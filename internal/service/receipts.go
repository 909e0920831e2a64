package service

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/punchamoorthee/barterops/internal/domain"
)

// Confirm records one party's attestation that the physical exchange
// happened. The second confirmation finalizes the trade: the receipt window
// opens and inventory is deducted, all inside one atomic store operation.
// Re-confirming is a no-op.
func (e *Engine) Confirm(ctx context.Context, offerID, actingUserID string) (*domain.BarterOffer, error) {
	current, err := e.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, mapStoreErr(err, "offer", offerID)
	}
	party, ok := current.PartyOf(actingUserID)
	if !ok {
		return nil, domain.ErrForbidden("%s is not a party to offer %s", actingUserID, offerID)
	}

	now := e.clock.Now()
	updated, finalized, touched, err := e.store.Confirm(ctx, offerID, party, now, e.receiptDelay)
	if err != nil {
		return nil, mapStoreErr(err, "offer", offerID)
	}
	if !finalized {
		return updated, nil
	}

	// The atomic unit has committed; revalidation of the shrunk listings is
	// eventual and must not fail the confirmation.
	for _, listingID := range touched {
		if err := e.RevalidateCommitments(ctx, listingID); err != nil {
			log.WithError(err).Warnf("revalidation failed for listing %s", listingID)
		}
	}

	if updated.ConversationID != "" {
		if err := e.messaging.PostSystemMessage(ctx, updated.ConversationID,
			"Both parties confirmed the trade. The receipt unlocks after the cooling-off window.",
		); err != nil {
			log.WithError(err).Warnf("system message failed for offer %s", offerID)
		}
	}
	return updated, nil
}

// Receipt is the proof of a completed trade.
type Receipt struct {
	OfferID       string    `json:"offer_id"`
	ReceiptNumber string    `json:"receipt_number"`
	GeneratedAt   time.Time `json:"generated_at"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id"`
	ListingID     string    `json:"listing_id"`
}

// GetReceipt returns the trade receipt once the eligibility window has
// passed, generating it lazily on first call. Subsequent calls return the
// identical receipt.
func (e *Engine) GetReceipt(ctx context.Context, offerID, actingUserID string) (*Receipt, error) {
	now := e.clock.Now()
	updated, err := e.store.UpdateOffer(ctx, offerID, func(o *domain.BarterOffer) error {
		if _, ok := o.PartyOf(actingUserID); !ok {
			return domain.ErrForbidden("%s is not a party to offer %s", actingUserID, o.ID)
		}
		return o.GenerateReceipt(now)
	})
	if err != nil {
		return nil, mapStoreErr(err, "offer", offerID)
	}

	return &Receipt{
		OfferID:       updated.ID,
		ReceiptNumber: updated.ReceiptNumber,
		GeneratedAt:   *updated.ReceiptGeneratedAt,
		BuyerID:       updated.BuyerID,
		SellerID:      updated.SellerID,
		ListingID:     updated.ListingID,
	}, nil
}
