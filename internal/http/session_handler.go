package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	d "github.com/fjod/go_cart/selfcheckout/internal/domain"
	"github.com/fjod/go_cart/selfcheckout/internal/logger"
	"github.com/fjod/go_cart/selfcheckout/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxRequestBodySize = 1 << 20 // 1MB

// SessionEngine is the session lifecycle the handlers drive. *service.SessionService implements it.
type SessionEngine interface {
	StartSession(ctx context.Context, in service.StartSessionInput) (*d.Session, error)
	AddItem(ctx context.Context, sessionID string, in service.AddItemInput) (*d.Session, error)
	RemoveItem(ctx context.Context, sessionID, itemID string) (*d.Session, error)
	SubmitSession(ctx context.Context, sessionID string) (*d.Session, error)
	MarkSessionPaid(ctx context.Context, sessionID string, in service.MarkPaidInput) (*service.PaymentResult, error)
	VerifySession(ctx context.Context, sessionID string, in service.VerifyInput) (*d.Session, error)
	UpdateSessionTable(ctx context.Context, sessionID string, in service.UpdateTableInput) (*d.Session, error)
	ListSessions(ctx context.Context, f service.ListFilter) ([]*d.Session, error)
	GetSession(ctx context.Context, sessionID string) (*d.Session, error)
	GetInvoice(ctx context.Context, sessionID string) (*d.Invoice, error)
}

type SessionHandler struct {
	engine  SessionEngine
	timeout time.Duration
	log     *zap.Logger
}

func NewSessionHandler(engine SessionEngine, timeout time.Duration, log *zap.Logger) *SessionHandler {
	return &SessionHandler{
		engine:  engine,
		timeout: timeout,
		log:     log,
	}
}

type StartSessionRequestDTO struct {
	RetailerCode         string            `json:"retailer_code"`
	CustomerPhone        string            `json:"customer_phone"`
	StoreType            string            `json:"store_type"`
	TableNumber          string            `json:"table_number"`
	GuestCount           *int              `json:"guest_count"`
	ServiceChargePct     decimal.Decimal   `json:"service_charge_pct"`
	PreferredPaymentMode string            `json:"preferred_payment_mode"`
	Context              map[string]string `json:"context"`
}

type AddItemRequestDTO struct {
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Quantity      int             `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	TaxPercentage decimal.Decimal `json:"tax_percentage"`
}

type MarkPaidRequestDTO struct {
	PaymentMode string `json:"payment_mode"`
	Notes       string `json:"notes"`
}

type VerifyRequestDTO struct {
	GuardID      string `json:"guard_id"`
	SecurityCode string `json:"security_code"`
}

type UpdateTableRequestDTO struct {
	TableNumber string `json:"table_number"`
	GuestCount  *int   `json:"guest_count"`
}

// decodeBody reads a JSON body into dst. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req StartSessionRequestDTO
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.engine.StartSession(ctx, service.StartSessionInput{
		RetailerCode:         req.RetailerCode,
		CustomerPhone:        req.CustomerPhone,
		StoreType:            d.StoreType(req.StoreType),
		TableNumber:          req.TableNumber,
		GuestCount:           req.GuestCount,
		ServiceChargePct:     req.ServiceChargePct,
		PreferredPaymentMode: req.PreferredPaymentMode,
		Context:              req.Context,
	})
	if err != nil {
		handleServiceError(w, logger.WithTrace(ctx, h.log), err)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	q := r.URL.Query()
	filter := service.ListFilter{
		Status:      d.SessionStatus(q.Get("status")),
		RetailerID:  q.Get("retailer_id"),
		StoreType:   d.StoreType(q.Get("store_type")),
		TableNumber: q.Get("table_number"),
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	// a scoped caller only ever sees its own sessions
	if scope := retailerFromContext(r.Context()); scope != "" {
		filter.RetailerID = scope
	}

	sessions, err := h.engine.ListSessions(ctx, filter)
	if err != nil {
		handleServiceError(w, logger.WithTrace(ctx, h.log), err)
		return
	}

	respondJSON(w, http.StatusOK, sessions)
}

func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, err := h.engine.GetSession(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, logger.WithTrace(ctx, h.log), err)
		return
	}

	respondJSON(w, http.StatusOK, session)
}

func (h *SessionHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.engine.AddItem(ctx, chi.URLParam(r, "id"), service.AddItemInput{
		SKU:           req.SKU,
		Name:          req.Name,
		Quantity:      req.Quantity,
		Price:         req.Price,
		TaxPercentage: req.TaxPercentage,
	})
	if err != nil {
		handleServiceError(w, logger.WithTrace(ctx, h.log), err)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

func (h *SessionHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, err := h.engine.RemoveItem(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "itemID"))
	if err != nil {
		handleServiceError(w, logger.WithTrace(ctx, h.log), err)
		return
	}

	respondJSON(w, http.StatusOK, session)
}

func (h *SessionHandler) SubmitSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, err := h.engine.SubmitSession(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, logger.WithTrace(ctx, h.log), err)
		return
	}

	respondJSON(w, http.StatusOK, session)
}

func (h *SessionHandler) MarkSessionPaid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req MarkPaidRequestDTO
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.engine.MarkSessionPaid(ctx, chi.URLParam(r, "id"), service.MarkPaidInput{
		PaymentMode: req.PaymentMode,
		Notes:       req.Notes,
		RetailerID:  retailerFromContext(r.Context()),
	})
	if err != nil {
		handleServiceError(w, logger.WithTrace(ctx, h.log), err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *SessionHandler) VerifySession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req VerifyRequestDTO
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.engine.VerifySession(ctx, chi.URLParam(r, "id"), service.VerifyInput{
		GuardID:      req.GuardID,
		SecurityCode: req.SecurityCode,
	})
	if err != nil {
		handleServiceError(w, logger.WithTrace(ctx, h.log), err)
		return
	}

	respondJSON(w, http.StatusOK, session)
}

func (h *SessionHandler) UpdateSessionTable(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateTableRequestDTO
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.engine.UpdateSessionTable(ctx, chi.URLParam(r, "id"), service.UpdateTableInput{
		TableNumber: req.TableNumber,
		GuestCount:  req.GuestCount,
	})
	if err != nil {
		handleServiceError(w, logger.WithTrace(ctx, h.log), err)
		return
	}

	respondJSON(w, http.StatusOK, session)
}

func (h *SessionHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	invoice, err := h.engine.GetInvoice(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, logger.WithTrace(ctx, h.log), err)
		return
	}

	respondJSON(w, http.StatusOK, invoice)
}
