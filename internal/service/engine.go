package service

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/punchamoorthee/barterops/internal/domain"
	"github.com/punchamoorthee/barterops/internal/store"
)

const (
	// DefaultReceiptDelay is the cooling-off window between mutual
	// confirmation and receipt issuance.
	DefaultReceiptDelay = 24 * time.Hour
	// DefaultCompletionWindow is how long an accepted trade may sit without
	// both confirmations before the sweep cancels it.
	DefaultCompletionWindow = 7 * 24 * time.Hour

	// maxPendingOffersPerListing caps a buyer's simultaneous pending offers
	// on one listing.
	maxPendingOffersPerListing = 2
)

// Config tunes the engine's time windows. Zero values fall back to defaults.
type Config struct {
	ReceiptDelay     time.Duration
	CompletionWindow time.Duration
}

// Engine is the barter offer engine: offer lifecycle, inventory ledger,
// dual-confirmation protocol, downpayment tracking and trade expiration.
type Engine struct {
	store     store.Store
	messaging Messaging
	notifier  Notifier
	clock     Clock

	receiptDelay     time.Duration
	completionWindow time.Duration
}

func NewEngine(s store.Store, m Messaging, n Notifier, c Clock, cfg Config) *Engine {
	if cfg.ReceiptDelay == 0 {
		cfg.ReceiptDelay = DefaultReceiptDelay
	}
	if cfg.CompletionWindow == 0 {
		cfg.CompletionWindow = DefaultCompletionWindow
	}
	return &Engine{
		store:            s,
		messaging:        m,
		notifier:         n,
		clock:            c,
		receiptDelay:     cfg.ReceiptDelay,
		completionWindow: cfg.CompletionWindow,
	}
}

// GetOffer fetches one offer.
func (e *Engine) GetOffer(ctx context.Context, id string) (*domain.BarterOffer, error) {
	o, err := e.store.GetOffer(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "offer", id)
	}
	return o, nil
}

// GetListing fetches one listing.
func (e *Engine) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	l, err := e.store.GetListing(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "listing", id)
	}
	return l, nil
}

// notify is best-effort: delivery failures are logged, never propagated into
// the offer mutation that triggered them.
func (e *Engine) notify(ctx context.Context, userID, kind string, payload map[string]string) {
	if err := e.notifier.Notify(ctx, userID, kind, payload); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user": userID, "kind": kind,
		}).Warn("notification delivery failed")
	}
}

func mapStoreErr(err error, entity, id string) error {
	if errors.Is(err, store.ErrListingNotFound) || errors.Is(err, store.ErrOfferNotFound) {
		return domain.ErrNotFound("%s %s not found", entity, id)
	}
	return err
}
