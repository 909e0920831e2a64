package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// OfferStatus is the lifecycle state of a barter offer.
//
// Legal transitions: pending -> accepted | rejected | countered | cancelled,
// accepted -> cancelled (expiration sweep or commitment revalidation only).
// rejected, countered and cancelled are terminal. Offers are never deleted;
// terminal rows are kept for history.
type OfferStatus string

const (
	OfferStatusPending   OfferStatus = "pending"
	OfferStatusAccepted  OfferStatus = "accepted"
	OfferStatusRejected  OfferStatus = "rejected"
	OfferStatusCountered OfferStatus = "countered"
	OfferStatusCancelled OfferStatus = "cancelled"
)

// IsTerminal reports whether no further lifecycle transition is possible.
func (s OfferStatus) IsTerminal() bool {
	return s == OfferStatusRejected || s == OfferStatusCountered || s == OfferStatusCancelled
}

// DownpaymentStatus tracks the auxiliary cash-floor flow. Strictly linear:
// none -> awaiting_payment -> paid -> confirmed.
type DownpaymentStatus string

const (
	DownpaymentNone      DownpaymentStatus = "none"
	DownpaymentAwaiting  DownpaymentStatus = "awaiting_payment"
	DownpaymentPaid      DownpaymentStatus = "paid"
	DownpaymentConfirmed DownpaymentStatus = "confirmed"
)

// DisputeStatus gates receipt generation.
type DisputeStatus string

const (
	DisputeNone     DisputeStatus = "none"
	DisputeOpened   DisputeStatus = "opened"
	DisputeResolved DisputeStatus = "resolved"
)

// TradeParty identifies which side of the trade a user is on.
type TradeParty string

const (
	PartyBuyer  TradeParty = "buyer"
	PartySeller TradeParty = "seller"
)

// BarterOfferItem is a listing owned by the offer's buyer, pledged as barter
// payment. Owned exclusively by its parent offer.
type BarterOfferItem struct {
	OfferedListingID string `json:"offered_listing_id"`
	Quantity         int    `json:"quantity"`
}

// BarterOffer is the aggregate root of the offer engine.
type BarterOffer struct {
	ID        string `json:"id"`
	ListingID string `json:"listing_id"`
	BuyerID   string `json:"buyer_id"`
	// SellerID is denormalized from the target listing's owner at creation.
	SellerID string `json:"seller_id"`

	OfferedCashCents int64             `json:"offered_cash_cents"`
	CurrencyCode     string            `json:"currency_code"`
	Message          string            `json:"message,omitempty"`
	Status           OfferStatus       `json:"status"`
	Items            []BarterOfferItem `json:"items,omitempty"`

	// ParentOfferID links a counter-offer back to the offer it superseded.
	ParentOfferID  string `json:"parent_offer_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	CancelReason   string `json:"cancel_reason,omitempty"`

	ListingOwnerConfirmedAt *time.Time `json:"listing_owner_confirmed_at,omitempty"`
	OfferMakerConfirmedAt   *time.Time `json:"offer_maker_confirmed_at,omitempty"`

	ReceiptAvailableAt *time.Time `json:"receipt_available_at,omitempty"`
	ReceiptGeneratedAt *time.Time `json:"receipt_generated_at,omitempty"`
	ReceiptNumber      string     `json:"receipt_number,omitempty"`

	DownpaymentStatus      DownpaymentStatus `json:"downpayment_status"`
	DownpaymentPaidAt      *time.Time        `json:"downpayment_paid_at,omitempty"`
	DownpaymentConfirmedAt *time.Time        `json:"downpayment_confirmed_at,omitempty"`

	TimerExpiresAt *time.Time    `json:"timer_expires_at,omitempty"`
	TimerPausedAt  *time.Time    `json:"timer_paused_at,omitempty"`
	DisputeStatus  DisputeStatus `json:"dispute_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewOffer returns a pending offer with a fresh id.
func NewOffer(
	listingID, buyerID, sellerID string,
	cashCents int64, currencyCode, message string,
	items []BarterOfferItem, now time.Time,
) *BarterOffer {
	return &BarterOffer{
		ID:                uuid.New().String(),
		ListingID:         listingID,
		BuyerID:           buyerID,
		SellerID:          sellerID,
		OfferedCashCents:  cashCents,
		CurrencyCode:      currencyCode,
		Message:           message,
		Status:            OfferStatusPending,
		Items:             items,
		DownpaymentStatus: DownpaymentNone,
		DisputeStatus:     DisputeNone,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// PartyOf resolves a user id to their side of this trade.
func (o *BarterOffer) PartyOf(userID string) (TradeParty, bool) {
	switch userID {
	case o.BuyerID:
		return PartyBuyer, true
	case o.SellerID:
		return PartySeller, true
	}
	return "", false
}

// Accept moves a pending offer to accepted, arms the completion timer and,
// when the target listing carries a cash floor, opens the downpayment track.
func (o *BarterOffer) Accept(now time.Time, completionWindow time.Duration, requiresDownpayment bool) error {
	if o.Status != OfferStatusPending {
		return ErrInvalidState("offer %s is %s, only pending offers can be accepted", o.ID, o.Status)
	}
	o.Status = OfferStatusAccepted
	expires := now.Add(completionWindow)
	o.TimerExpiresAt = &expires
	if requiresDownpayment {
		o.DownpaymentStatus = DownpaymentAwaiting
	}
	o.UpdatedAt = now
	return nil
}

// Reject moves a pending offer to rejected.
func (o *BarterOffer) Reject(now time.Time) error {
	if o.Status != OfferStatusPending {
		return ErrInvalidState("offer %s is %s, only pending offers can be rejected", o.ID, o.Status)
	}
	o.Status = OfferStatusRejected
	o.UpdatedAt = now
	return nil
}

// MarkCountered retires a pending offer that is being superseded by a
// counter-offer.
func (o *BarterOffer) MarkCountered(now time.Time) error {
	if o.Status != OfferStatusPending {
		return ErrInvalidState("offer %s is %s, only pending offers can be countered", o.ID, o.Status)
	}
	o.Status = OfferStatusCountered
	o.UpdatedAt = now
	return nil
}

// Cancel soft-cancels a pending or accepted offer, recording the reason.
// Cancelling an already-cancelled offer is a no-op so revalidation sweeps can
// re-run safely.
func (o *BarterOffer) Cancel(reason string, now time.Time) error {
	if o.Status == OfferStatusCancelled {
		return nil
	}
	if o.Status != OfferStatusPending && o.Status != OfferStatusAccepted {
		return ErrInvalidState("offer %s is %s and cannot be cancelled", o.ID, o.Status)
	}
	o.Status = OfferStatusCancelled
	o.CancelReason = reason
	o.UpdatedAt = now
	return nil
}

// ConfirmBy records one party's completion attestation. Re-confirming is a
// no-op. The returned flag is true only for the call that observes the
// counterpart already confirmed, i.e. the call that must trigger finalization.
func (o *BarterOffer) ConfirmBy(party TradeParty, now time.Time) (bothNow bool, err error) {
	if o.Status != OfferStatusAccepted {
		return false, ErrInvalidState("offer %s is %s, only accepted offers can be confirmed", o.ID, o.Status)
	}
	switch party {
	case PartySeller:
		if o.ListingOwnerConfirmedAt == nil {
			o.ListingOwnerConfirmedAt = &now
			o.UpdatedAt = now
			return o.OfferMakerConfirmedAt != nil, nil
		}
	case PartyBuyer:
		if o.OfferMakerConfirmedAt == nil {
			o.OfferMakerConfirmedAt = &now
			o.UpdatedAt = now
			return o.ListingOwnerConfirmedAt != nil, nil
		}
	}
	return false, nil
}

// BothConfirmed reports whether each party has attested completion.
func (o *BarterOffer) BothConfirmed() bool {
	return o.ListingOwnerConfirmedAt != nil && o.OfferMakerConfirmedAt != nil
}

// Finalize stamps the receipt eligibility window. Only legal once both
// confirmations are present, and only once.
func (o *BarterOffer) Finalize(now time.Time, receiptDelay time.Duration) error {
	if !o.BothConfirmed() {
		return ErrInvalidState("offer %s is not confirmed by both parties", o.ID)
	}
	if o.ReceiptAvailableAt != nil {
		return ErrInvalidState("offer %s is already finalized", o.ID)
	}
	at := now.Add(receiptDelay)
	o.ReceiptAvailableAt = &at
	// The trade is complete; the completion timer no longer applies.
	o.TimerExpiresAt = nil
	o.UpdatedAt = now
	return nil
}

// GenerateReceipt lazily issues the receipt once the eligibility window has
// passed. Idempotent: later calls keep the original number.
func (o *BarterOffer) GenerateReceipt(now time.Time) error {
	if o.ReceiptAvailableAt == nil {
		return ErrInvalidState("both parties must confirm the trade before a receipt is available")
	}
	if o.DisputeStatus != DisputeNone {
		return ErrInvalidState("receipt is blocked while a dispute is %s", o.DisputeStatus)
	}
	if now.Before(*o.ReceiptAvailableAt) {
		hours := int(math.Ceil(o.ReceiptAvailableAt.Sub(now).Hours()))
		return ErrNotYetAvailable("receipt unlocks in about %d hour(s)", hours)
	}
	if o.ReceiptNumber != "" {
		return nil
	}
	o.ReceiptNumber = "RCPT-" + uuid.New().String()
	o.ReceiptGeneratedAt = &now
	o.UpdatedAt = now
	return nil
}

// MarkDownpaymentPaid advances awaiting_payment -> paid.
func (o *BarterOffer) MarkDownpaymentPaid(now time.Time) error {
	if o.Status != OfferStatusAccepted {
		return ErrInvalidState("offer %s is %s, downpayment applies to accepted offers only", o.ID, o.Status)
	}
	if o.DownpaymentStatus != DownpaymentAwaiting {
		return ErrInvalidState("downpayment for offer %s is %s, expected %s", o.ID, o.DownpaymentStatus, DownpaymentAwaiting)
	}
	o.DownpaymentStatus = DownpaymentPaid
	o.DownpaymentPaidAt = &now
	o.UpdatedAt = now
	return nil
}

// ConfirmDownpaymentReceipt advances paid -> confirmed.
func (o *BarterOffer) ConfirmDownpaymentReceipt(now time.Time) error {
	if o.Status != OfferStatusAccepted {
		return ErrInvalidState("offer %s is %s, downpayment applies to accepted offers only", o.ID, o.Status)
	}
	if o.DownpaymentStatus != DownpaymentPaid {
		return ErrInvalidState("downpayment for offer %s is %s, expected %s", o.ID, o.DownpaymentStatus, DownpaymentPaid)
	}
	o.DownpaymentStatus = DownpaymentConfirmed
	o.DownpaymentConfirmedAt = &now
	o.UpdatedAt = now
	return nil
}

// TimerLapsed reports whether the completion timer has run out. Paused offers
// are exempt from expiration.
func (o *BarterOffer) TimerLapsed(now time.Time) bool {
	return o.Status == OfferStatusAccepted &&
		o.TimerPausedAt == nil &&
		o.TimerExpiresAt != nil &&
		o.TimerExpiresAt.Before(now)
}

// PledgedQuantityOf returns how many units of the given listing this offer
// pledges.
func (o *BarterOffer) PledgedQuantityOf(listingID string) int {
	total := 0
	for _, it := range o.Items {
		if it.OfferedListingID == listingID {
			total += it.Quantity
		}
	}
	return total
}
