package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/barterops/internal/domain"
)

// Postgres is the production Store. Same-offer operations are serialized with
// SELECT ... FOR UPDATE on the offer row; multi-listing writes lock listing
// rows in id order to avoid deadlocks.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{db: pool}, nil
}

func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool}
}

func (s *Postgres) Close() {
	s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS listings (
	id TEXT PRIMARY KEY,
	seller_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	quantity INT NOT NULL CHECK (quantity >= 0),
	status TEXT NOT NULL,
	accepts_cash BOOLEAN NOT NULL DEFAULT TRUE,
	accepts_barter BOOLEAN NOT NULL DEFAULT TRUE,
	downpayment_required_cents BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS barter_offers (
	id TEXT PRIMARY KEY,
	listing_id TEXT NOT NULL REFERENCES listings(id),
	buyer_id TEXT NOT NULL,
	seller_id TEXT NOT NULL,
	offered_cash_cents BIGINT NOT NULL CHECK (offered_cash_cents >= 0),
	currency_code TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	parent_offer_id TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	cancel_reason TEXT NOT NULL DEFAULT '',
	listing_owner_confirmed_at TIMESTAMPTZ,
	offer_maker_confirmed_at TIMESTAMPTZ,
	receipt_available_at TIMESTAMPTZ,
	receipt_generated_at TIMESTAMPTZ,
	receipt_number TEXT NOT NULL DEFAULT '',
	downpayment_status TEXT NOT NULL,
	downpayment_paid_at TIMESTAMPTZ,
	downpayment_confirmed_at TIMESTAMPTZ,
	timer_expires_at TIMESTAMPTZ,
	timer_paused_at TIMESTAMPTZ,
	dispute_status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS barter_offer_items (
	offer_id TEXT NOT NULL REFERENCES barter_offers(id),
	offered_listing_id TEXT NOT NULL REFERENCES listings(id),
	quantity INT NOT NULL CHECK (quantity > 0)
);

CREATE INDEX IF NOT EXISTS idx_offers_listing_status ON barter_offers (listing_id, status);
CREATE INDEX IF NOT EXISTS idx_offers_buyer_status ON barter_offers (buyer_id, status);
CREATE INDEX IF NOT EXISTS idx_offers_timer ON barter_offers (status, timer_expires_at);
CREATE INDEX IF NOT EXISTS idx_offer_items_listing ON barter_offer_items (offered_listing_id);
`

// Init creates the schema if it does not exist yet.
func (s *Postgres) Init(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema init failed: %w", err)
	}
	return nil
}

const listingColumns = `id, seller_id, title, quantity, status, accepts_cash, accepts_barter,
	downpayment_required_cents, created_at, updated_at`

const offerColumns = `id, listing_id, buyer_id, seller_id, offered_cash_cents, currency_code,
	message, status, parent_offer_id, conversation_id, cancel_reason,
	listing_owner_confirmed_at, offer_maker_confirmed_at,
	receipt_available_at, receipt_generated_at, receipt_number,
	downpayment_status, downpayment_paid_at, downpayment_confirmed_at,
	timer_expires_at, timer_paused_at, dispute_status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanListing(row rowScanner) (*domain.Listing, error) {
	var l domain.Listing
	err := row.Scan(
		&l.ID, &l.SellerID, &l.Title, &l.Quantity, &l.Status, &l.AcceptsCash, &l.AcceptsBarter,
		&l.DownpaymentRequiredCents, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, err
	}
	return &l, nil
}

func scanOffer(row rowScanner) (*domain.BarterOffer, error) {
	var o domain.BarterOffer
	err := row.Scan(
		&o.ID, &o.ListingID, &o.BuyerID, &o.SellerID, &o.OfferedCashCents, &o.CurrencyCode,
		&o.Message, &o.Status, &o.ParentOfferID, &o.ConversationID, &o.CancelReason,
		&o.ListingOwnerConfirmedAt, &o.OfferMakerConfirmedAt,
		&o.ReceiptAvailableAt, &o.ReceiptGeneratedAt, &o.ReceiptNumber,
		&o.DownpaymentStatus, &o.DownpaymentPaidAt, &o.DownpaymentConfirmedAt,
		&o.TimerExpiresAt, &o.TimerPausedAt, &o.DisputeStatus, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	return &o, nil
}

func loadItems(ctx context.Context, q rowQuerier, offerID string) ([]domain.BarterOfferItem, error) {
	rows, err := q.Query(ctx,
		"SELECT offered_listing_id, quantity FROM barter_offer_items WHERE offer_id = $1",
		offerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.BarterOfferItem
	for rows.Next() {
		var it domain.BarterOfferItem
		if err := rows.Scan(&it.OfferedListingID, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func statusStrings(statuses []domain.OfferStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (s *Postgres) CreateListing(ctx context.Context, l *domain.Listing) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.SellerID, l.Title, l.Quantity, l.Status, l.AcceptsCash, l.AcceptsBarter,
		l.DownpaymentRequiredCents, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("listing insert failed: %w", err)
	}
	return nil
}

// BulkInsertListings loads listings with CopyFrom. Seeding only.
func (s *Postgres) BulkInsertListings(ctx context.Context, listings []*domain.Listing) (int64, error) {
	rows := make([][]any, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, []any{
			l.ID, l.SellerID, l.Title, l.Quantity, string(l.Status), l.AcceptsCash, l.AcceptsBarter,
			l.DownpaymentRequiredCents, l.CreatedAt, l.UpdatedAt,
		})
	}
	return s.db.CopyFrom(
		ctx,
		pgx.Identifier{"listings"},
		[]string{
			"id", "seller_id", "title", "quantity", "status", "accepts_cash", "accepts_barter",
			"downpayment_required_cents", "created_at", "updated_at",
		},
		pgx.CopyFromRows(rows),
	)
}

func (s *Postgres) CountListings(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM listings").Scan(&n)
	return n, err
}

func (s *Postgres) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	row := s.db.QueryRow(ctx, "SELECT "+listingColumns+" FROM listings WHERE id = $1", id)
	return scanListing(row)
}

// lockListing acquires a row lock and returns the current listing state.
func lockListing(ctx context.Context, tx pgx.Tx, id string) (*domain.Listing, error) {
	row := tx.QueryRow(ctx, "SELECT "+listingColumns+" FROM listings WHERE id = $1 FOR UPDATE", id)
	return scanListing(row)
}

func updateListingRow(ctx context.Context, tx pgx.Tx, l *domain.Listing) error {
	_, err := tx.Exec(ctx, `
		UPDATE listings SET quantity = $2, status = $3, downpayment_required_cents = $4, updated_at = $5
		WHERE id = $1`,
		l.ID, l.Quantity, l.Status, l.DownpaymentRequiredCents, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("listing update failed: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateListing(ctx context.Context, id string, fn func(*domain.Listing) error) (*domain.Listing, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := lockListing(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(l); err != nil {
		return nil, err
	}
	if err := updateListingRow(ctx, tx, l); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return l, nil
}

func pledgedQuantityQuery(ctx context.Context, q rowQuerier, listingID, buyerID, excludeOfferID string) (int, error) {
	var total int
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(i.quantity), 0)
		FROM barter_offer_items i
		JOIN barter_offers o ON o.id = i.offer_id
		WHERE i.offered_listing_id = $1
		  AND o.buyer_id = $2
		  AND o.status IN ('pending', 'accepted')
		  AND ($3 = '' OR o.id <> $3)`,
		listingID, buyerID, excludeOfferID,
	).Scan(&total)
	return total, err
}

func (s *Postgres) CreateOffer(ctx context.Context, o *domain.BarterOffer) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// Final capacity guard: lock pledged listings in id order, then re-check
	// the committed sums inside the same transaction as the insert.
	pledged := make(map[string]int)
	for _, it := range o.Items {
		pledged[it.OfferedListingID] += it.Quantity
	}
	ids := make([]string, 0, len(pledged))
	for id := range pledged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		l, err := lockListing(ctx, tx, id)
		if err != nil {
			return err
		}
		committed, err := pledgedQuantityQuery(ctx, tx, id, o.BuyerID, o.ID)
		if err != nil {
			return fmt.Errorf("committed quantity query failed: %w", err)
		}
		available := l.Quantity - committed
		if pledged[id] > available {
			return domain.ErrInsufficientCapacity(
				"listing %s has %d unit(s) free for %s, %d pledged", id, available, o.BuyerID, pledged[id])
		}
	}

	if err := insertOffer(ctx, tx, o); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func insertOffer(ctx context.Context, tx pgx.Tx, o *domain.BarterOffer) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO barter_offers (`+offerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		        $18, $19, $20, $21, $22, $23, $24)`,
		o.ID, o.ListingID, o.BuyerID, o.SellerID, o.OfferedCashCents, o.CurrencyCode,
		o.Message, o.Status, o.ParentOfferID, o.ConversationID, o.CancelReason,
		o.ListingOwnerConfirmedAt, o.OfferMakerConfirmedAt,
		o.ReceiptAvailableAt, o.ReceiptGeneratedAt, o.ReceiptNumber,
		o.DownpaymentStatus, o.DownpaymentPaidAt, o.DownpaymentConfirmedAt,
		o.TimerExpiresAt, o.TimerPausedAt, o.DisputeStatus, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("offer insert failed: %w", err)
	}
	for _, it := range o.Items {
		_, err := tx.Exec(ctx, `
			INSERT INTO barter_offer_items (offer_id, offered_listing_id, quantity)
			VALUES ($1, $2, $3)`,
			o.ID, it.OfferedListingID, it.Quantity,
		)
		if err != nil {
			return fmt.Errorf("offer item insert failed: %w", err)
		}
	}
	return nil
}

func updateOfferRow(ctx context.Context, tx pgx.Tx, o *domain.BarterOffer) error {
	_, err := tx.Exec(ctx, `
		UPDATE barter_offers SET
			status = $2, conversation_id = $3, cancel_reason = $4,
			listing_owner_confirmed_at = $5, offer_maker_confirmed_at = $6,
			receipt_available_at = $7, receipt_generated_at = $8, receipt_number = $9,
			downpayment_status = $10, downpayment_paid_at = $11, downpayment_confirmed_at = $12,
			timer_expires_at = $13, timer_paused_at = $14, dispute_status = $15, updated_at = $16
		WHERE id = $1`,
		o.ID, o.Status, o.ConversationID, o.CancelReason,
		o.ListingOwnerConfirmedAt, o.OfferMakerConfirmedAt,
		o.ReceiptAvailableAt, o.ReceiptGeneratedAt, o.ReceiptNumber,
		o.DownpaymentStatus, o.DownpaymentPaidAt, o.DownpaymentConfirmedAt,
		o.TimerExpiresAt, o.TimerPausedAt, o.DisputeStatus, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("offer update failed: %w", err)
	}
	return nil
}

func lockOffer(ctx context.Context, tx pgx.Tx, id string) (*domain.BarterOffer, error) {
	row := tx.QueryRow(ctx, "SELECT "+offerColumns+" FROM barter_offers WHERE id = $1 FOR UPDATE", id)
	o, err := scanOffer(row)
	if err != nil {
		return nil, err
	}
	items, err := loadItems(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (s *Postgres) GetOffer(ctx context.Context, id string) (*domain.BarterOffer, error) {
	row := s.db.QueryRow(ctx, "SELECT "+offerColumns+" FROM barter_offers WHERE id = $1", id)
	o, err := scanOffer(row)
	if err != nil {
		return nil, err
	}
	items, err := loadItems(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (s *Postgres) UpdateOffer(ctx context.Context, id string, fn func(*domain.BarterOffer) error) (*domain.BarterOffer, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOffer(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(o); err != nil {
		return nil, err
	}
	if err := updateOfferRow(ctx, tx, o); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return o, nil
}

func (s *Postgres) PledgedQuantity(ctx context.Context, listingID, buyerID, excludeOfferID string) (int, error) {
	return pledgedQuantityQuery(ctx, s.db, listingID, buyerID, excludeOfferID)
}

func (s *Postgres) CountPendingOffers(ctx context.Context, listingID, buyerID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM barter_offers
		WHERE listing_id = $1 AND buyer_id = $2 AND status = 'pending'`,
		listingID, buyerID,
	).Scan(&n)
	return n, err
}

func (s *Postgres) listOffers(ctx context.Context, query string, args ...any) ([]*domain.BarterOffer, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.BarterOffer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range out {
		items, err := loadItems(ctx, s.db, o.ID)
		if err != nil {
			return nil, err
		}
		o.Items = items
	}
	return out, nil
}

func (s *Postgres) OffersTargeting(ctx context.Context, listingID string, statuses ...domain.OfferStatus) ([]*domain.BarterOffer, error) {
	return s.listOffers(ctx, `
		SELECT `+offerColumns+` FROM barter_offers
		WHERE listing_id = $1 AND status = ANY($2)
		ORDER BY created_at`,
		listingID, statusStrings(statuses))
}

func (s *Postgres) OffersPledging(ctx context.Context, listingID string, statuses ...domain.OfferStatus) ([]*domain.BarterOffer, error) {
	return s.listOffers(ctx, `
		SELECT `+offerColumns+` FROM barter_offers o
		WHERE o.status = ANY($2) AND EXISTS (
			SELECT 1 FROM barter_offer_items i
			WHERE i.offer_id = o.id AND i.offered_listing_id = $1
		)`,
		listingID, statusStrings(statuses))
}

func (s *Postgres) ExpiredOffers(ctx context.Context, now time.Time) ([]*domain.BarterOffer, error) {
	return s.listOffers(ctx, `
		SELECT `+offerColumns+` FROM barter_offers
		WHERE status = 'accepted' AND timer_paused_at IS NULL AND timer_expires_at < $1
		ORDER BY timer_expires_at`,
		now)
}

func (s *Postgres) Confirm(ctx context.Context, offerID string, party domain.TradeParty, now time.Time, receiptDelay time.Duration) (*domain.BarterOffer, bool, []string, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// The offer row lock makes set-my-timestamp-and-check-counterpart a
	// single atomic read-modify-write: two near-simultaneous confirmations
	// serialize here and exactly one observes both timestamps set.
	offer, err := lockOffer(ctx, tx, offerID)
	if err != nil {
		return nil, false, nil, err
	}
	bothNow, err := offer.ConfirmBy(party, now)
	if err != nil {
		return nil, false, nil, err
	}

	var touched []string
	if bothNow {
		if err := offer.Finalize(now, receiptDelay); err != nil {
			return nil, false, nil, err
		}
		deductions := map[string]int{offer.ListingID: 1}
		for _, it := range offer.Items {
			deductions[it.OfferedListingID] += it.Quantity
		}
		ids := make([]string, 0, len(deductions))
		for id := range deductions {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			l, err := lockListing(ctx, tx, id)
			if err != nil {
				return nil, false, nil, err
			}
			l.Deduct(deductions[id], now)
			if err := updateListingRow(ctx, tx, l); err != nil {
				return nil, false, nil, err
			}
			touched = append(touched, id)
		}
	}

	if err := updateOfferRow(ctx, tx, offer); err != nil {
		return nil, false, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return offer, bothNow, touched, nil
}
