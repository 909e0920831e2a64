package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/barterops/internal/api"
	"github.com/punchamoorthee/barterops/internal/domain"
	"github.com/punchamoorthee/barterops/internal/service"
	"github.com/punchamoorthee/barterops/internal/store"
)

type harness struct {
	server *httptest.Server
	store  *store.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := store.NewMemory()
	engine := service.NewEngine(
		mem, service.NewMemoryMessaging(), service.LogNotifier{}, service.SystemClock{},
		service.Config{ReceiptDelay: 24 * time.Hour, CompletionWindow: 168 * time.Hour},
	)
	r := mux.NewRouter()
	api.NewHandler(engine).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &harness{server: srv, store: mem}
}

func (h *harness) seedListing(t *testing.T, id, sellerID string, quantity int) {
	t.Helper()
	now := time.Now()
	require.NoError(t, h.store.CreateListing(context.Background(), &domain.Listing{
		ID:            id,
		SellerID:      sellerID,
		Title:         "test " + id,
		Quantity:      quantity,
		Status:        domain.ListingStatusActive,
		AcceptsCash:   true,
		AcceptsBarter: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
}

func (h *harness) do(t *testing.T, method, path, userID string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.server.URL+path, &buf)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var fields map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fields))
	return resp, fields
}

func strField(t *testing.T, fields map[string]json.RawMessage, key string) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(fields[key], &s))
	return s
}

func TestCreateOfferEndpoint(t *testing.T) {
	h := newHarness(t)
	h.seedListing(t, "car", "alice", 1)

	resp, fields := h.do(t, "POST", "/offers", "bob", service.OfferRequest{
		ListingID: "car", CashCents: 2500, CurrencyCode: "USD",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "pending", strField(t, fields, "status"))
	require.Equal(t, "bob", strField(t, fields, "buyer_id"))

	offerID := strField(t, fields, "id")
	require.Equal(t, "/api/v1/offers/"+offerID, resp.Header.Get("Location"))

	resp, fields = h.do(t, "GET", "/offers/"+offerID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, offerID, strField(t, fields, "id"))
}

func TestCreateOfferRequiresIdentity(t *testing.T) {
	h := newHarness(t)
	h.seedListing(t, "car", "alice", 1)

	resp, fields := h.do(t, "POST", "/offers", "", service.OfferRequest{
		ListingID: "car", CurrencyCode: "USD",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Missing X-User-ID header", strField(t, fields, "error"))
}

func TestErrorStatusMapping(t *testing.T) {
	h := newHarness(t)
	h.seedListing(t, "car", "alice", 1)
	h.seedListing(t, "boat", "alice", 1)

	resp, _ := h.do(t, "POST", "/offers", "bob", service.OfferRequest{
		ListingID: "car", CashCents: 100, CurrencyCode: "USD",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, fields := h.do(t, "GET", "/offers/"+"no-such-offer", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, strField(t, fields, "error"), "no-such-offer")

	// A seller offering on their own listing is an invalid operation.
	resp, _ = h.do(t, "POST", "/offers", "alice", service.OfferRequest{
		ListingID: "car", CurrencyCode: "USD",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Pledging more than the buyer owns is a capacity failure.
	h.seedListing(t, "bike", "bob", 1)
	resp, _ = h.do(t, "POST", "/offers", "bob", service.OfferRequest{
		ListingID:    "boat",
		CurrencyCode: "USD",
		Items:        []domain.BarterOfferItem{{OfferedListingID: "bike", Quantity: 5}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// A third pending offer on the same listing trips the per-buyer cap.
	resp, _ = h.do(t, "POST", "/offers", "bob", service.OfferRequest{
		ListingID: "car", CashCents: 200, CurrencyCode: "USD",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = h.do(t, "POST", "/offers", "bob", service.OfferRequest{
		ListingID: "car", CashCents: 300, CurrencyCode: "USD",
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestOfferActionEndpoints(t *testing.T) {
	h := newHarness(t)
	h.seedListing(t, "car", "alice", 1)

	resp, fields := h.do(t, "POST", "/offers", "bob", service.OfferRequest{
		ListingID: "car", CashCents: 2500, CurrencyCode: "USD",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	offerID := strField(t, fields, "id")

	// Only the seller may accept.
	resp, _ = h.do(t, "POST", fmt.Sprintf("/offers/%s/accept", offerID), "mallory", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, fields = h.do(t, "POST", fmt.Sprintf("/offers/%s/accept", offerID), "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "accepted", strField(t, fields, "status"))

	// Accepting again conflicts with the current state.
	resp, _ = h.do(t, "POST", fmt.Sprintf("/offers/%s/accept", offerID), "alice", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Both parties confirm; then the receipt is still inside its delay.
	resp, _ = h.do(t, "POST", fmt.Sprintf("/offers/%s/confirm", offerID), "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = h.do(t, "POST", fmt.Sprintf("/offers/%s/confirm", offerID), "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, "GET", fmt.Sprintf("/offers/%s/receipt", offerID), "bob", nil)
	require.Equal(t, http.StatusTooEarly, resp.StatusCode)
}

func TestRevalidateListingEndpoint(t *testing.T) {
	h := newHarness(t)
	h.seedListing(t, "car", "alice", 1)

	resp, _ := h.do(t, "POST", "/listings/car/revalidate", "", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = h.do(t, "POST", "/listings/ghost/revalidate", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, fields := h.do(t, "GET", "/listings/car", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "alice", strField(t, fields, "seller_id"))
}
