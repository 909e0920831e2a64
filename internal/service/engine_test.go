package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/barterops/internal/domain"
	"github.com/punchamoorthee/barterops/internal/service"
	"github.com/punchamoorthee/barterops/internal/store"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type notification struct {
	UserID  string
	Kind    string
	Payload map[string]string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (n *recordingNotifier) Notify(ctx context.Context, userID, kind string, payload map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{UserID: userID, Kind: kind, Payload: payload})
	return nil
}

func (n *recordingNotifier) kindsFor(userID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var kinds []string
	for _, ev := range n.events {
		if ev.UserID == userID {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}

type fixture struct {
	engine   *service.Engine
	store    *store.Memory
	clock    *fakeClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: t0}
	notifier := &recordingNotifier{}
	mem := store.NewMemory()
	engine := service.NewEngine(
		mem, service.NewMemoryMessaging(), notifier, clock,
		service.Config{ReceiptDelay: 24 * time.Hour, CompletionWindow: 72 * time.Hour},
	)
	return &fixture{engine: engine, store: mem, clock: clock, notifier: notifier}
}

func (f *fixture) addListing(t *testing.T, id, sellerID string, quantity int) *domain.Listing {
	t.Helper()
	l := &domain.Listing{
		ID:            id,
		SellerID:      sellerID,
		Title:         "test " + id,
		Quantity:      quantity,
		Status:        domain.ListingStatusActive,
		AcceptsCash:   true,
		AcceptsBarter: true,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
	require.NoError(t, f.store.CreateListing(context.Background(), l))
	return l
}

func (f *fixture) mustCreateOffer(t *testing.T, buyerID string, req service.OfferRequest) *domain.BarterOffer {
	t.Helper()
	o, err := f.engine.CreateOffer(context.Background(), buyerID, req)
	require.NoError(t, err)
	return o
}

func (f *fixture) mustAccept(t *testing.T, offerID, sellerID string) *domain.BarterOffer {
	t.Helper()
	o, err := f.engine.Accept(context.Background(), offerID, sellerID)
	require.NoError(t, err)
	return o
}
