package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/barterops/internal/domain"
	"github.com/punchamoorthee/barterops/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barter_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "barter_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	engine *service.Engine
}

func NewHandler(e *service.Engine) *Handler {
	return &Handler{engine: e}
}

// Register wires every offer-engine route onto the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/offers", h.CreateOffer).Methods("POST")
	r.HandleFunc("/offers/{id}", h.GetOffer).Methods("GET")
	r.HandleFunc("/offers/{id}/accept", h.AcceptOffer).Methods("POST")
	r.HandleFunc("/offers/{id}/reject", h.RejectOffer).Methods("POST")
	r.HandleFunc("/offers/{id}/counter", h.CounterOffer).Methods("POST")
	r.HandleFunc("/offers/{id}/cancel", h.CancelOffer).Methods("POST")
	r.HandleFunc("/offers/{id}/confirm", h.ConfirmOffer).Methods("POST")
	r.HandleFunc("/offers/{id}/receipt", h.GetReceipt).Methods("GET")
	r.HandleFunc("/offers/{id}/downpayment/paid", h.MarkDownpaymentPaid).Methods("POST")
	r.HandleFunc("/offers/{id}/downpayment/confirm", h.ConfirmDownpayment).Methods("POST")
	r.HandleFunc("/listings/{id}", h.GetListing).Methods("GET")
	r.HandleFunc("/listings/{id}/revalidate", h.RevalidateListing).Methods("POST")
}

// actingUser pulls the authenticated user from the gateway header. Identity
// itself is another system's problem.
func actingUser(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func statusForError(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindInvalidState, domain.KindConflict:
		return http.StatusConflict
	case domain.KindInvalidOperation, domain.KindInsufficientCapacity:
		return http.StatusUnprocessableEntity
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindNotYetAvailable:
		return http.StatusTooEarly
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error, method, endpoint string) {
	code := statusForError(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "Internal Server Error"
	}
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}

func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/offers"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	buyerID := actingUser(r)
	if buyerID == "" {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing X-User-ID header"}, "POST", endpoint)
		return
	}

	var req service.OfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Malformed JSON body"}, "POST", endpoint)
		return
	}

	offer, err := h.engine.CreateOffer(r.Context(), buyerID, req)
	if err != nil {
		h.respondError(w, err, "POST", endpoint)
		return
	}
	w.Header().Set("Location", "/api/v1/offers/"+offer.ID)
	h.respondJSON(w, http.StatusCreated, offer, "POST", endpoint)
}

func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/offers/{id}"
	offer, err := h.engine.GetOffer(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, offer, "GET", endpoint)
}

// offerAction adapts the accept/reject/cancel/confirm/downpayment family:
// path id plus acting user in, updated offer or domain error out.
func (h *Handler) offerAction(
	w http.ResponseWriter, r *http.Request, endpoint string,
	call func(ctx context.Context, offerID, userID string) (*domain.BarterOffer, error),
) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	userID := actingUser(r)
	if userID == "" {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing X-User-ID header"}, "POST", endpoint)
		return
	}
	offer, err := call(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		h.respondError(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, offer, "POST", endpoint)
}

func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	h.offerAction(w, r, "/offers/{id}/accept", h.engine.Accept)
}

func (h *Handler) RejectOffer(w http.ResponseWriter, r *http.Request) {
	h.offerAction(w, r, "/offers/{id}/reject", h.engine.Reject)
}

func (h *Handler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	h.offerAction(w, r, "/offers/{id}/cancel", h.engine.Cancel)
}

func (h *Handler) ConfirmOffer(w http.ResponseWriter, r *http.Request) {
	h.offerAction(w, r, "/offers/{id}/confirm", h.engine.Confirm)
}

func (h *Handler) MarkDownpaymentPaid(w http.ResponseWriter, r *http.Request) {
	h.offerAction(w, r, "/offers/{id}/downpayment/paid", h.engine.MarkDownpaymentPaid)
}

func (h *Handler) ConfirmDownpayment(w http.ResponseWriter, r *http.Request) {
	h.offerAction(w, r, "/offers/{id}/downpayment/confirm", h.engine.ConfirmDownpaymentReceipt)
}

func (h *Handler) CounterOffer(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/offers/{id}/counter"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	userID := actingUser(r)
	if userID == "" {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing X-User-ID header"}, "POST", endpoint)
		return
	}
	var terms service.OfferRequest
	if err := json.NewDecoder(r.Body).Decode(&terms); err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Malformed JSON body"}, "POST", endpoint)
		return
	}
	sibling, err := h.engine.Counter(r.Context(), mux.Vars(r)["id"], userID, terms)
	if err != nil {
		h.respondError(w, err, "POST", endpoint)
		return
	}
	w.Header().Set("Location", "/api/v1/offers/"+sibling.ID)
	h.respondJSON(w, http.StatusCreated, sibling, "POST", endpoint)
}

func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/offers/{id}/receipt"
	userID := actingUser(r)
	if userID == "" {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing X-User-ID header"}, "GET", endpoint)
		return
	}
	receipt, err := h.engine.GetReceipt(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		h.respondError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, receipt, "GET", endpoint)
}

func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/listings/{id}"
	listing, err := h.engine.GetListing(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, listing, "GET", endpoint)
}

// RevalidateListing re-checks every in-flight offer touching the listing.
// Meant for the listing system to call after it shrinks or closes a listing.
func (h *Handler) RevalidateListing(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/listings/{id}/revalidate"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	if err := h.engine.RevalidateCommitments(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.respondError(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "revalidated"}, "POST", endpoint)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}
