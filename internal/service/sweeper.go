package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/punchamoorthee/barterops/internal/domain"
)

var (
	sweepExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barter_sweep_expired_offers_total",
		Help: "Accepted offers cancelled by the expiration sweep",
	})
	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barter_sweep_errors_total",
		Help: "Per-offer failures during the expiration sweep",
	})
)

// RunExpirationSweep cancels every accepted offer whose completion timer
// lapsed without both confirmations and whose timer is not paused. Offers are
// processed independently: one bad row is logged and skipped, never halting
// the rest. Returns how many offers were expired.
func (e *Engine) RunExpirationSweep(ctx context.Context) (int, error) {
	now := e.clock.Now()
	candidates, err := e.store.ExpiredOffers(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range candidates {
		changed := false
		updated, err := e.store.UpdateOffer(ctx, candidate.ID, func(o *domain.BarterOffer) error {
			// Re-check under the row lock: a confirmation or pause may have
			// landed since the candidate query.
			if !o.TimerLapsed(now) {
				return nil
			}
			if err := o.Cancel("trade expired without both confirmations", now); err != nil {
				return err
			}
			changed = true
			return nil
		})
		if err != nil {
			sweepErrorsTotal.Inc()
			log.WithError(err).Warnf("expiration failed for offer %s", candidate.ID)
			continue
		}
		if !changed {
			continue
		}
		expired++
		sweepExpiredTotal.Inc()

		if updated.ConversationID != "" {
			if err := e.messaging.PostSystemMessage(ctx, updated.ConversationID,
				"This trade expired before both parties confirmed completion. Reserved items have been released.",
			); err != nil {
				log.WithError(err).Warnf("system message failed for offer %s", updated.ID)
			}
		}
		e.notify(ctx, updated.BuyerID, NotifyTradeExpired, map[string]string{
			"offer_id": updated.ID, "listing_id": updated.ListingID,
		})
		e.notify(ctx, updated.SellerID, NotifyItemsReleased, map[string]string{
			"offer_id": updated.ID, "listing_id": updated.ListingID,
		})
	}
	return expired, nil
}

// StartExpirationSweeper runs the sweep on a fixed interval until the context
// is cancelled.
func (e *Engine) StartExpirationSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := e.RunExpirationSweep(ctx)
				if err != nil {
					log.WithError(err).Warn("expiration sweep failed")
					continue
				}
				if n > 0 {
					log.Infof("expiration sweep cancelled %d stalled trade(s)", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
