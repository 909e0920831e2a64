package domain

import "time"

// ListingStatus is the lifecycle state of a marketplace listing.
type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusWithdrawn ListingStatus = "withdrawn"
	ListingStatusSuspended ListingStatus = "suspended"
)

// Listing is the slice of a marketplace listing the offer engine reads and
// writes. Listing CRUD itself lives elsewhere; the engine only touches
// quantity, status and the downpayment floor.
type Listing struct {
	ID                       string        `json:"id"`
	SellerID                 string        `json:"seller_id"`
	Title                    string        `json:"title"`
	Quantity                 int           `json:"quantity"`
	Status                   ListingStatus `json:"status"`
	AcceptsCash              bool          `json:"accepts_cash"`
	AcceptsBarter            bool          `json:"accepts_barter"`
	DownpaymentRequiredCents int64         `json:"downpayment_required_cents"`
	CreatedAt                time.Time     `json:"created_at"`
	UpdatedAt                time.Time     `json:"updated_at"`
}

func (l *Listing) IsActive() bool {
	return l.Status == ListingStatusActive
}

// AcceptsOffers reports whether the listing takes any form of payment at all.
func (l *Listing) AcceptsOffers() bool {
	return l.AcceptsCash || l.AcceptsBarter
}

// Deduct removes n units, clamping at zero. Reaching zero marks the listing
// sold.
func (l *Listing) Deduct(n int, now time.Time) {
	l.Quantity -= n
	if l.Quantity <= 0 {
		l.Quantity = 0
		l.Status = ListingStatusSold
	}
	l.UpdatedAt = now
}
