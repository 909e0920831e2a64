package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/barterops/internal/domain"
	"github.com/punchamoorthee/barterops/internal/service"
)

func (f *fixture) addListingWithFloor(t *testing.T, id, sellerID string, quantity int, floorCents int64) *domain.Listing {
	t.Helper()
	l := f.addListing(t, id, sellerID, quantity)
	_, err := f.store.UpdateListing(context.Background(), id, func(l *domain.Listing) error {
		l.DownpaymentRequiredCents = floorCents
		return nil
	})
	require.NoError(t, err)
	l.DownpaymentRequiredCents = floorCents
	return l
}

func TestDownpaymentFlow(t *testing.T) {
	f := newFixture(t)
	f.addListingWithFloor(t, "piano", "alice", 1, 5000)

	offer := f.mustCreateOffer(t, "bob", service.OfferRequest{
		ListingID: "piano", CashCents: 5000, CurrencyCode: "USD",
	})
	require.Equal(t, domain.DownpaymentNone, offer.DownpaymentStatus)

	accepted := f.mustAccept(t, offer.ID, "alice")
	require.Equal(t, domain.DownpaymentAwaiting, accepted.DownpaymentStatus)

	paid, err := f.engine.MarkDownpaymentPaid(context.Background(), offer.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, domain.DownpaymentPaid, paid.DownpaymentStatus)
	require.NotNil(t, paid.DownpaymentPaidAt)
	require.Contains(t, f.notifier.kindsFor("alice"), service.NotifyDownpaymentPaid)

	confirmed, err := f.engine.ConfirmDownpaymentReceipt(context.Background(), offer.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.DownpaymentConfirmed, confirmed.DownpaymentStatus)
	require.NotNil(t, confirmed.DownpaymentConfirmedAt)
	require.Contains(t, f.notifier.kindsFor("bob"), service.NotifyDownpaymentConfirmed)
}

func TestDownpaymentRoleEnforcement(t *testing.T) {
	f := newFixture(t)
	f.addListingWithFloor(t, "piano", "alice", 1, 5000)
	offer := f.mustCreateOffer(t, "bob", service.OfferRequest{
		ListingID: "piano", CashCents: 5000, CurrencyCode: "USD",
	})
	f.mustAccept(t, offer.ID, "alice")

	// Only the buyer marks paid; only the seller confirms.
	_, err := f.engine.MarkDownpaymentPaid(context.Background(), offer.ID, "alice")
	require.Equal(t, domain.KindForbidden, domain.KindOf(err))

	_, err = f.engine.MarkDownpaymentPaid(context.Background(), offer.ID, "bob")
	require.NoError(t, err)

	_, err = f.engine.ConfirmDownpaymentReceipt(context.Background(), offer.ID, "bob")
	require.Equal(t, domain.KindForbidden, domain.KindOf(err))
}

func TestDownpaymentStepsAreStrictlyOrdered(t *testing.T) {
	f := newFixture(t)
	f.addListingWithFloor(t, "piano", "alice", 1, 5000)
	offer := f.mustCreateOffer(t, "bob", service.OfferRequest{
		ListingID: "piano", CashCents: 5000, CurrencyCode: "USD",
	})
	f.mustAccept(t, offer.ID, "alice")

	// Confirming before the buyer has paid is out of order.
	_, err := f.engine.ConfirmDownpaymentReceipt(context.Background(), offer.ID, "alice")
	require.Equal(t, domain.KindInvalidState, domain.KindOf(err))

	_, err = f.engine.MarkDownpaymentPaid(context.Background(), offer.ID, "bob")
	require.NoError(t, err)

	// Marking paid twice is out of order too.
	_, err = f.engine.MarkDownpaymentPaid(context.Background(), offer.ID, "bob")
	require.Equal(t, domain.KindInvalidState, domain.KindOf(err))
}

func TestDownpaymentRejectedWhenNotRequired(t *testing.T) {
	f := newFixture(t)
	f.addListing(t, "car", "alice", 1)
	offer := f.mustCreateOffer(t, "bob", service.OfferRequest{ListingID: "car", CurrencyCode: "USD"})
	f.mustAccept(t, offer.ID, "alice")

	_, err := f.engine.MarkDownpaymentPaid(context.Background(), offer.ID, "bob")
	require.Equal(t, domain.KindInvalidState, domain.KindOf(err))
}
