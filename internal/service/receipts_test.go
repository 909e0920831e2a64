package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/barterops/internal/domain"
	"github.com/punchamoorthee/barterops/internal/service"
)

// Scenario: single-unit listing, cash-free offer, accept, then one
// confirmation from each side. Finalization must fire only on the second.
func TestDualConfirmationFinalizes(t *testing.T) {
	f := newFixture(t)
	f.addListing(t, "car", "alice", 1)
	offer := f.mustCreateOffer(t, "bob", service.OfferRequest{ListingID: "car", CurrencyCode: "USD"})
	f.mustAccept(t, offer.ID, "alice")

	afterFirst, err := f.engine.Confirm(context.Background(), offer.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, afterFirst.OfferMakerConfirmedAt)
	require.Nil(t, afterFirst.ReceiptAvailableAt, "first confirmation must not finalize")

	listing, err := f.engine.GetListing(context.Background(), "car")
	require.NoError(t, err)
	require.Equal(t, 1, listing.Quantity, "no deduction before both confirm")

	afterSecond, err := f.engine.Confirm(context.Background(), offer.ID, "alice")
	require.NoError(t, err)
	require.True(t, afterSecond.BothConfirmed())
	require.NotNil(t, afterSecond.ReceiptAvailableAt)
	require.Equal(t, t0.Add(24*time.Hour), *afterSecond.ReceiptAvailableAt)

	listing, err = f.engine.GetListing(context.Background(), "car")
	require.NoError(t, err)
	require.Equal(t, 0, listing.Quantity)
	require.Equal(t, domain.ListingStatusSold, listing.Status)
}

func TestConfirmRequiresParty(t *testing.T) {
	f := newFixture(t)
	f.addListing(t, "car", "alice", 1)
	offer := f.mustCreateOffer(t, "bob", service.OfferRequest{ListingID: "car", CurrencyCode: "USD"})
	f.mustAccept(t, offer.ID, "alice")

	_, err := f.engine.Confirm(context.Background(), offer.ID, "mallory")
	require.Equal(t, domain.KindForbidden, domain.KindOf(err))
}

func TestConfirmRequiresAccepted(t *testing.T) {
	f := newFixture(t)
	f.addListing(t, "car", "alice", 1)
	offer := f.mustCreateOffer(t, "bob", service.OfferRequest{ListingID: "car", CurrencyCode: "USD"})

	_, err := f.engine.Confirm(context.Background(), offer.ID, "bob")
	require.Equal(t, domain.KindInvalidState, domain.KindOf(err))
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addListing(t, "car", "alice", 2)
	offer := f.mustCreateOffer(t, "bob", service.OfferRequest{ListingID: "car", CurrencyCode: "USD"})
	f.mustAccept(t, offer.ID, "alice")

	first, err := f.engine.Confirm(context.Background(), offer.ID, "bob")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	again, err := f.engine.Confirm(context.Background(), offer.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, *first.OfferMakerConfirmedAt, *again.OfferMakerConfirmedAt)
	require.Nil(t, again.ReceiptAvailableAt)
}

// Both parties confirm once each from concurrent goroutines: inventory must
// be deducted exactly once.
func TestConcurrentConfirmFinalizesOnce(t *testing.T) {
	f := newFixture(t)
	f.addListing(t, "car", "alice", 1)
	f.addListing(t, "bike", "bob", 2)
	offer := f.mustCreateOffer(t, "bob", service.OfferRequest{
		ListingID: "car", CurrencyCode: "USD",
		Items: []domain.BarterOfferItem{{OfferedListingID: "bike", Quantity: 2}},
	})
	f.mustAccept(t, offer.ID, "alice")

	var wg sync.WaitGroup
	for _, user := range []string{"bob", "alice"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			_, err := f.engine.Confirm(context.Background(), offer.ID, u)
			require.NoError(t, err)
		}(user)
	}
	wg.Wait()

	final, err := f.engine.GetOffer(context.Background(), offer.ID)
	require.NoError(t, err)
	require.True(t, final.BothConfirmed())
	require.NotNil(t, final.ReceiptAvailableAt, "exactly one call must finalize")

	car, err := f.engine.GetListing(context.Background(), "car")
	require.NoError(t, err)
	require.Equal(t, 0, car.Quantity, "target deducted exactly once")
	require.Equal(t, domain.ListingStatusSold, car.Status)

	bike, err := f.engine.GetListing(context.Background(), "bike")
	require.NoError(t, err)
	require.Equal(t, 0, bike.Quantity, "pledge deducted exactly once")
}

// Finalizing one trade shrinks the pledged pool; other pending offers
// drawing on it must be revalidated away.
func TestFinalizationRevalidatesOtherOffers(t *testing.T) {
	f := newFixture(t)
	f.addListing(t, "car", "alice", 1)
	f.addListing(t, "van", "carol", 1)
	f.addListing(t, "bike", "bob", 3)

	winner := f.mustCreateOffer(t, "bob", service.OfferRequest{
		ListingID: "car", CurrencyCode: "USD",
		Items: []domain.BarterOfferItem{{OfferedListingID: "bike", Quantity: 2}},
	})
	loser := f.mustCreateOffer(t, "bob", service.OfferRequest{
		ListingID: "van", CurrencyCode: "USD",
		Items: []domain.BarterOfferItem{{OfferedListingID: "bike", Quantity: 1}},
	})

	f.mustAccept(t, winner.ID, "alice")
	_, err := f.engine.Confirm(context.Background(), winner.ID, "bob")
	require.NoError(t, err)
	_, err = f.engine.Confirm(context.Background(), winner.ID, "alice")
	require.NoError(t, err)

	// bike went 3 -> 1, so the loser's pledge no longer fits alongside the
	// winner's standing commitment.
	got, err := f.engine.GetOffer(context.Background(), loser.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OfferStatusCancelled, got.Status)
}

// Scenario: a receipt requested one hour into a 24h window is refused with
// roughly 23 hours remaining.
func TestGetReceiptTooEarly(t *testing.T) {
	f := newFixture(t)
	f.addListing(t, "car", "alice", 1)
	offer := f.mustCreateOffer(t, "bob", service.OfferRequest{ListingID: "car", CurrencyCode: "USD"})
	f.mustAccept(t, offer.ID, "alice")
	_, err := f.engine.Confirm(context.Background(), offer.ID, "bob")
	require.NoError(t, err)
	_, err = f.engine.Confirm(context.Background(), offer.ID, "alice")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.engine.GetReceipt(context.Background(), offer.ID, "bob")
	require.Equal(t, domain.KindNotYetAvailable, domain.KindOf(err))
	require.Contains(t, err.Error(), "23 hour")
}

func TestGetReceipt(t *testing.T) {
	f := newFixture(t)
	f.addListing(t, "car", "alice", 1)
	offer := f.mustCreateOffer(t, "bob", service.OfferRequest{ListingID: "car", CurrencyCode: "USD"})
	f.mustAccept(t, offer.ID, "alice")

	_, err := f.engine.GetReceipt(context.Background(), offer.ID, "bob")
	require.Equal(t, domain.KindInvalidState, domain.KindOf(err), "no receipt before both confirm")

	_, err = f.engine.Confirm(context.Background(), offer.ID, "bob")
	require.NoError(t, err)
	_, err = f.engine.Confirm(context.Background(), offer.ID, "alice")
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)

	_, err = f.engine.GetReceipt(context.Background(), offer.ID, "mallory")
	require.Equal(t, domain.KindForbidden, domain.KindOf(err))

	first, err := f.engine.GetReceipt(context.Background(), offer.ID, "bob")
	require.NoError(t, err)
	require.NotEmpty(t, first.ReceiptNumber)

	// The seller asking later gets the identical receipt.
	f.clock.Advance(time.Hour)
	second, err := f.engine.GetReceipt(context.Background(), offer.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, first.ReceiptNumber, second.ReceiptNumber)
	require.Equal(t, first.GeneratedAt, second.GeneratedAt)
}

func TestGetReceiptBlockedByDispute(t *testing.T) {
	f := newFixture(t)
	f.addListing(t, "car", "alice", 1)
	offer := f.mustCreateOffer(t, "bob", service.OfferRequest{ListingID: "car", CurrencyCode: "USD"})
	f.mustAccept(t, offer.ID, "alice")
	_, err := f.engine.Confirm(context.Background(), offer.ID, "bob")
	require.NoError(t, err)
	_, err = f.engine.Confirm(context.Background(), offer.ID, "alice")
	require.NoError(t, err)

	_, err = f.store.UpdateOffer(context.Background(), offer.ID, func(o *domain.BarterOffer) error {
		o.DisputeStatus = domain.DisputeOpened
		return nil
	})
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	_, err = f.engine.GetReceipt(context.Background(), offer.ID, "bob")
	require.Equal(t, domain.KindInvalidState, domain.KindOf(err))
}
