package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"tutorpay/internal/model"
	"tutorpay/internal/repository"
	"tutorpay/internal/service"
)

type Handler struct {
	svc service.PaymentService
}

func NewHandler(svc service.PaymentService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /evidence", h.SubmitEvidence)
	mux.HandleFunc("POST /decisions", h.Decide)
	mux.HandleFunc("GET /purchases", h.ListPurchases)
	mux.HandleFunc("GET /purchases/export.csv", h.ExportCSV)
	mux.HandleFunc("GET /purchases/{id}", h.GetPurchase)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// SubmitEvidence accepts a payment-evidence submission from the registration
// collaborator. Each outcome maps to a distinct status code so the UI can
// render it: 202 accepted, 429 rate limited, 409 duplicate evidence,
// 404 nothing awaiting evidence.
func (h *Handler) SubmitEvidence(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.BuyerID == 0 || req.ProductID == "" || req.EvidenceFingerprint == "" {
		h.respondError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if req.ProductType != model.ProductCourse && req.ProductType != model.ProductBook {
		h.respondError(w, http.StatusBadRequest, "unknown_product_type")
		return
	}

	res, err := h.svc.SubmitEvidence(r.Context(), req)
	if err != nil {
		var rl *service.RateLimitError
		switch {
		case errors.As(err, &rl):
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter/time.Second)+1))
			h.respondError(w, http.StatusTooManyRequests, "rate_limited")
		case errors.Is(err, repository.ErrDuplicateEvidence):
			h.respondError(w, http.StatusConflict, "duplicate_evidence")
		case errors.Is(err, repository.ErrNoPendingPurchase):
			h.respondError(w, http.StatusNotFound, "no_pending_purchase")
		default:
			h.respondError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}
	h.respondJSON(w, http.StatusAccepted, res)
}

// Decide accepts the raw callback data the chat platform delivers verbatim
// when an administrator taps a control. Contention outcomes come back as 200
// with a status body — losing a race is not an error.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdminID int64  `json:"admin_id"`
		Data    string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	cb, err := model.ParseDecisionCallback(req.Data)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed_callback")
		return
	}

	res, err := h.svc.Decide(r.Context(), cb, req.AdminID)
	if err != nil {
		var rl *service.RateLimitError
		switch {
		case errors.Is(err, service.ErrNotAuthorized):
			h.respondError(w, http.StatusForbidden, "not_an_admin")
		case errors.As(err, &rl):
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter/time.Second)+1))
			h.respondError(w, http.StatusTooManyRequests, "rate_limited")
		default:
			h.respondError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}
	if res.Status == service.StatusExpired {
		// Unknown or evicted token: this request is no longer awaiting a
		// decision.
		h.respondError(w, http.StatusGone, "token_expired")
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	filter, page, pageSize, err := parseListQuery(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	purchases, err := h.svc.ListPurchases(r.Context(), filter, page, pageSize)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if purchases == nil {
		purchases = []model.Purchase{}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"purchases": purchases,
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	p, err := h.svc.GetPurchase(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	h.respondJSON(w, http.StatusOK, p)
}

func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	filter, _, _, err := parseListQuery(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="purchases.csv"`)
	// Headers are already out once streaming starts; a mid-stream failure
	// can only truncate the download.
	_ = h.svc.ExportCSV(r.Context(), filter, w)
}

func parseListQuery(r *http.Request) (model.ListFilter, int, int, error) {
	q := r.URL.Query()
	filter := model.ListFilter{
		Status:       model.Status(q.Get("status")),
		ProductType:  model.ProductType(q.Get("product_type")),
		BuyerQuery:   q.Get("buyer"),
		ProductQuery: q.Get("product"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, 0, 0, errors.New("invalid_from")
		}
		filter.CreatedFrom = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, 0, 0, errors.New("invalid_to")
		}
		filter.CreatedTo = t
	}

	page, pageSize := 1, 50
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := q.Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageSize = n
		}
	}
	return filter, page, pageSize, nil
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
