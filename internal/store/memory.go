package store

import (
	"context"
	"sync"
	"time"

	"github.com/punchamoorthee/barterops/internal/domain"
)

// Memory is a mutex-serialized in-memory Store. It backs the test suites and
// doubles as a throwaway dev backend; it provides the same atomicity
// guarantees as the Postgres store by funnelling every operation through a
// single lock.
type Memory struct {
	mu       sync.Mutex
	listings map[string]*domain.Listing
	offers   map[string]*domain.BarterOffer
}

func NewMemory() *Memory {
	return &Memory{
		listings: make(map[string]*domain.Listing),
		offers:   make(map[string]*domain.BarterOffer),
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneListing(l *domain.Listing) *domain.Listing {
	c := *l
	return &c
}

func cloneOffer(o *domain.BarterOffer) *domain.BarterOffer {
	c := *o
	c.Items = append([]domain.BarterOfferItem(nil), o.Items...)
	c.ListingOwnerConfirmedAt = cloneTime(o.ListingOwnerConfirmedAt)
	c.OfferMakerConfirmedAt = cloneTime(o.OfferMakerConfirmedAt)
	c.ReceiptAvailableAt = cloneTime(o.ReceiptAvailableAt)
	c.ReceiptGeneratedAt = cloneTime(o.ReceiptGeneratedAt)
	c.DownpaymentPaidAt = cloneTime(o.DownpaymentPaidAt)
	c.DownpaymentConfirmedAt = cloneTime(o.DownpaymentConfirmedAt)
	c.TimerExpiresAt = cloneTime(o.TimerExpiresAt)
	c.TimerPausedAt = cloneTime(o.TimerPausedAt)
	return &c
}

func (m *Memory) CreateListing(ctx context.Context, l *domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = cloneListing(l)
	return nil
}

func (m *Memory) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	return cloneListing(l), nil
}

func (m *Memory) UpdateListing(ctx context.Context, id string, fn func(*domain.Listing) error) (*domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	work := cloneListing(l)
	if err := fn(work); err != nil {
		return nil, err
	}
	m.listings[id] = work
	return cloneListing(work), nil
}

func (m *Memory) CreateOffer(ctx context.Context, o *domain.BarterOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Final capacity guard, under the same lock as the insert.
	pledged := make(map[string]int)
	for _, it := range o.Items {
		pledged[it.OfferedListingID] += it.Quantity
	}
	for listingID, qty := range pledged {
		l, ok := m.listings[listingID]
		if !ok {
			return ErrListingNotFound
		}
		available := l.Quantity - m.pledgedQuantityLocked(listingID, o.BuyerID, o.ID)
		if qty > available {
			return domain.ErrInsufficientCapacity(
				"listing %s has %d unit(s) free for %s, %d pledged", listingID, available, o.BuyerID, qty)
		}
	}

	m.offers[o.ID] = cloneOffer(o)
	return nil
}

func (m *Memory) GetOffer(ctx context.Context, id string) (*domain.BarterOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, ErrOfferNotFound
	}
	return cloneOffer(o), nil
}

func (m *Memory) UpdateOffer(ctx context.Context, id string, fn func(*domain.BarterOffer) error) (*domain.BarterOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, ErrOfferNotFound
	}
	work := cloneOffer(o)
	if err := fn(work); err != nil {
		return nil, err
	}
	m.offers[id] = work
	return cloneOffer(work), nil
}

func (m *Memory) pledgedQuantityLocked(listingID, buyerID, excludeOfferID string) int {
	total := 0
	for _, o := range m.offers {
		if o.BuyerID != buyerID || o.ID == excludeOfferID {
			continue
		}
		if o.Status != domain.OfferStatusPending && o.Status != domain.OfferStatusAccepted {
			continue
		}
		total += o.PledgedQuantityOf(listingID)
	}
	return total
}

func (m *Memory) PledgedQuantity(ctx context.Context, listingID, buyerID, excludeOfferID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pledgedQuantityLocked(listingID, buyerID, excludeOfferID), nil
}

func (m *Memory) CountPendingOffers(ctx context.Context, listingID, buyerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.offers {
		if o.ListingID == listingID && o.BuyerID == buyerID && o.Status == domain.OfferStatusPending {
			n++
		}
	}
	return n, nil
}

func statusIn(s domain.OfferStatus, statuses []domain.OfferStatus) bool {
	for _, st := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (m *Memory) OffersTargeting(ctx context.Context, listingID string, statuses ...domain.OfferStatus) ([]*domain.BarterOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.BarterOffer
	for _, o := range m.offers {
		if o.ListingID == listingID && statusIn(o.Status, statuses) {
			out = append(out, cloneOffer(o))
		}
	}
	return out, nil
}

func (m *Memory) OffersPledging(ctx context.Context, listingID string, statuses ...domain.OfferStatus) ([]*domain.BarterOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.BarterOffer
	for _, o := range m.offers {
		if o.PledgedQuantityOf(listingID) > 0 && statusIn(o.Status, statuses) {
			out = append(out, cloneOffer(o))
		}
	}
	return out, nil
}

func (m *Memory) ExpiredOffers(ctx context.Context, now time.Time) ([]*domain.BarterOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.BarterOffer
	for _, o := range m.offers {
		if o.TimerLapsed(now) {
			out = append(out, cloneOffer(o))
		}
	}
	return out, nil
}

func (m *Memory) Confirm(ctx context.Context, offerID string, party domain.TradeParty, now time.Time, receiptDelay time.Duration) (*domain.BarterOffer, bool, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.offers[offerID]
	if !ok {
		return nil, false, nil, ErrOfferNotFound
	}
	offer := cloneOffer(stored)

	bothNow, err := offer.ConfirmBy(party, now)
	if err != nil {
		return nil, false, nil, err
	}

	var touched []string
	if bothNow {
		if err := offer.Finalize(now, receiptDelay); err != nil {
			return nil, false, nil, err
		}
		// Resolve every listing before mutating any of them.
		deductions := map[string]int{offer.ListingID: 1}
		for _, it := range offer.Items {
			deductions[it.OfferedListingID] += it.Quantity
		}
		for id := range deductions {
			if _, ok := m.listings[id]; !ok {
				return nil, false, nil, ErrListingNotFound
			}
		}
		for id, qty := range deductions {
			m.listings[id].Deduct(qty, now)
			touched = append(touched, id)
		}
	}

	m.offers[offerID] = offer
	return cloneOffer(offer), bothNow, touched, nil
}
