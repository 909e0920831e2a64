package store

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/barterops/internal/domain"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrOfferNotFound   = errors.New("offer not found")
)

// Store is the persistence boundary of the offer engine. Implementations must
// serialize operations touching the same offer or listing: UpdateOffer and
// UpdateListing run their mutator under the row lock (or equivalent), and
// Confirm/CreateOffer perform their read-check-write as one atomic unit.
type Store interface {
	CreateListing(ctx context.Context, l *domain.Listing) error
	GetListing(ctx context.Context, id string) (*domain.Listing, error)
	// UpdateListing applies fn to the listing under its lock and persists the
	// result. An error from fn aborts the update and is returned verbatim.
	UpdateListing(ctx context.Context, id string, fn func(*domain.Listing) error) (*domain.Listing, error)

	// CreateOffer persists a new pending offer. Pledged-item capacity is
	// re-checked inside the same atomic unit as the insert; an oversubscribed
	// pledge fails with a domain InsufficientCapacity error.
	CreateOffer(ctx context.Context, o *domain.BarterOffer) error
	GetOffer(ctx context.Context, id string) (*domain.BarterOffer, error)
	// UpdateOffer applies fn to the offer under its lock and persists the
	// result. Offer items are immutable through this path.
	UpdateOffer(ctx context.Context, id string, fn func(*domain.BarterOffer) error) (*domain.BarterOffer, error)

	// PledgedQuantity sums item quantities pledging the listing across the
	// buyer's pending and accepted offers, optionally excluding one offer.
	PledgedQuantity(ctx context.Context, listingID, buyerID, excludeOfferID string) (int, error)
	// CountPendingOffers counts the buyer's pending offers targeting the listing.
	CountPendingOffers(ctx context.Context, listingID, buyerID string) (int, error)
	// OffersTargeting lists offers whose target is the listing, filtered by status.
	OffersTargeting(ctx context.Context, listingID string, statuses ...domain.OfferStatus) ([]*domain.BarterOffer, error)
	// OffersPledging lists offers that pledge the listing as a barter item,
	// filtered by status.
	OffersPledging(ctx context.Context, listingID string, statuses ...domain.OfferStatus) ([]*domain.BarterOffer, error)
	// ExpiredOffers lists accepted offers whose timer lapsed before now and is
	// not paused.
	ExpiredOffers(ctx context.Context, now time.Time) ([]*domain.BarterOffer, error)

	// Confirm records one party's completion attestation. The call that
	// observes the counterpart already confirmed finalizes the trade in the
	// same atomic unit: receipt eligibility is stamped and inventory is
	// deducted from the target and every pledged listing. Returns the updated
	// offer, whether finalization fired, and the ids of listings whose
	// quantity changed.
	Confirm(ctx context.Context, offerID string, party domain.TradeParty, now time.Time, receiptDelay time.Duration) (*domain.BarterOffer, bool, []string, error)
}
