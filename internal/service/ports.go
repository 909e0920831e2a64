package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Clock abstracts time so the receipt window and expiration timers are
// testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Messaging is the conversation transport, owned by another system.
type Messaging interface {
	// CreateOrReuseConversation returns the conversation between the two
	// parties about a listing, creating it only if absent.
	CreateOrReuseConversation(ctx context.Context, partyA, partyB, listingID string) (string, error)
	PostSystemMessage(ctx context.Context, conversationID, text string) error
}

// Notifier delivers user notifications. Fire-and-forget: callers log failures
// and move on.
type Notifier interface {
	Notify(ctx context.Context, userID, kind string, payload map[string]string) error
}

// Notification kinds emitted by the offer engine.
const (
	NotifyOfferReceived        = "offer_received"
	NotifyOfferAccepted        = "offer_accepted"
	NotifyOfferRejected        = "offer_rejected"
	NotifyOfferCountered       = "offer_countered"
	NotifyOfferCancelled       = "offer_cancelled"
	NotifyDownpaymentPaid      = "downpayment_paid"
	NotifyDownpaymentConfirmed = "downpayment_confirmed"
	NotifyTradeExpired         = "trade_expired"
	NotifyItemsReleased        = "items_released"
)

// MemoryMessaging is a process-local Messaging used in dev and tests. The
// real transport lives in the messaging system; this keeps the idempotent
// conversation contract.
type MemoryMessaging struct {
	mu            sync.Mutex
	conversations map[string]string
}

func NewMemoryMessaging() *MemoryMessaging {
	return &MemoryMessaging{conversations: make(map[string]string)}
}

func conversationKey(partyA, partyB, listingID string) string {
	parties := []string{partyA, partyB}
	sort.Strings(parties)
	return strings.Join(append(parties, listingID), "|")
}

func (m *MemoryMessaging) CreateOrReuseConversation(ctx context.Context, partyA, partyB, listingID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := conversationKey(partyA, partyB, listingID)
	if id, ok := m.conversations[key]; ok {
		return id, nil
	}
	id := uuid.New().String()
	m.conversations[key] = id
	return id, nil
}

func (m *MemoryMessaging) PostSystemMessage(ctx context.Context, conversationID, text string) error {
	log.WithField("conversation", conversationID).Debugf("system message: %s", text)
	return nil
}

// LogNotifier writes notifications to the log. Stands in for the delivery
// pipeline in dev.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, userID, kind string, payload map[string]string) error {
	log.WithFields(log.Fields{"user": userID, "kind": kind}).Debug("notification")
	return nil
}
