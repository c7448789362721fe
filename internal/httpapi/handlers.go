package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/payflow/internal/common"
	"github.com/noah-isme/payflow/internal/lock"
	"github.com/noah-isme/payflow/internal/orchestrate"
	"github.com/noah-isme/payflow/internal/quote"
	"github.com/noah-isme/payflow/internal/rail"
)

// AttemptStore persists the durable record of an attempt when one is
// started.
type AttemptStore interface {
	UpsertAttempt(ctx context.Context, orderID, userID string, amountMinor int64, currency string) error
}

// Handler exposes the payment attempt lifecycle over HTTP.
type Handler struct {
	Registry *orchestrate.Registry
	Attempts AttemptStore
	Locker   *lock.Locker
	LockTTL  time.Duration
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// CreateAttempt starts (or returns) the attempt for an order. The call is
// idempotent per order: repeating it returns the existing attempt unchanged.
func (h *Handler) CreateAttempt(w http.ResponseWriter, r *http.Request) {
	if h.Registry == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "registry not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required", nil)
		return
	}
	var payload createAttemptRequest
	if err := h.decode(r, &payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalid, err.Error(), nil)
		return
	}

	order := orchestrate.Order{
		ID:          payload.OrderID,
		UserID:      userID,
		AmountMinor: payload.AmountMinor,
		Currency:    strings.ToUpper(payload.Currency),
		Description: payload.Description,
	}
	attempt, created, err := h.Registry.GetOrCreate(order)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalid, err.Error(), nil)
		return
	}
	if attempt.Order().UserID != userID {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "attempt not found", nil)
		return
	}
	if created && h.Attempts != nil {
		if err := h.Attempts.UpsertAttempt(r.Context(), order.ID, order.UserID, order.AmountMinor, order.Currency); err != nil {
			h.Logger.Warn().Err(err).Str("order_id", order.ID).Msg("persist attempt")
		}
	}
	if created && payload.Rail != "" {
		selected, err := rail.Parse(payload.Rail)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeInvalid, err.Error(), nil)
			return
		}
		if err := attempt.SelectRail(selected); err != nil {
			h.writeError(w, err)
			return
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	common.JSONData(w, status, toAttemptResponse(attempt.Snapshot()))
}

// GetAttempt returns the current snapshot for an order's attempt.
func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.lookup(w, r)
	if !ok {
		return
	}
	common.JSONData(w, http.StatusOK, toAttemptResponse(attempt.Snapshot()))
}

// SelectRail switches the attempt to a different payment rail.
func (h *Handler) SelectRail(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var payload selectRailRequest
	if err := h.decode(r, &payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalid, err.Error(), nil)
		return
	}
	selected, err := rail.Parse(payload.Rail)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalid, err.Error(), nil)
		return
	}
	if err := attempt.SelectRail(selected); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, toAttemptResponse(attempt.Snapshot()))
}

// SelectCoupon changes the coupon selection for the attempt.
func (h *Handler) SelectCoupon(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var payload selectCouponRequest
	if err := h.decode(r, &payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalid, err.Error(), nil)
		return
	}
	sel := quote.CouponSelection{Code: payload.CouponCode, UserCouponID: payload.UserCouponID}
	if err := sel.Validate(); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalid, err.Error(), nil)
		return
	}
	if err := attempt.SelectCoupon(sel); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, toAttemptResponse(attempt.Snapshot()))
}

// RequestQuote prices the order for the current rail and coupon selection.
func (h *Handler) RequestQuote(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.lookup(w, r)
	if !ok {
		return
	}
	snapshot, err := attempt.RequestQuote(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, toAttemptResponse(snapshot))
}

// Confirm drives the confirmation flow for the held quote.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var payload confirmRequest
	if err := h.decode(r, &payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalid, err.Error(), nil)
		return
	}
	params := orchestrate.ConfirmParams{BankCode: payload.BankCode}
	var snapshot orchestrate.Snapshot
	var confirmErr error
	if h.Locker != nil {
		ttl := h.LockTTL
		if ttl <= 0 {
			ttl = 2 * time.Minute
		}
		lockErr := h.Locker.WithLock(r.Context(), lock.OrderKey(attempt.Order().ID), ttl, func(ctx context.Context) error {
			snapshot, confirmErr = attempt.Confirm(ctx, params)
			return nil
		})
		if lockErr != nil {
			common.JSONError(w, http.StatusConflict, common.CodeConflict, "confirmation already in progress", nil)
			return
		}
	} else {
		snapshot, confirmErr = attempt.Confirm(r.Context(), params)
	}
	if confirmErr != nil {
		h.writeError(w, confirmErr)
		return
	}
	common.JSONData(w, http.StatusOK, toAttemptResponse(snapshot))
}

// Cancel abandons the attempt. The attempt becomes terminal and the order
// must be re-created to pay again.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := attempt.Abandon(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, toAttemptResponse(attempt.Snapshot()))
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*orchestrate.Attempt, bool) {
	if h.Registry == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "registry not configured", nil)
		return nil, false
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required", nil)
		return nil, false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalid, "order id is required", nil)
		return nil, false
	}
	attempt, found := h.Registry.Get(orderID)
	if !found || attempt.Order().UserID != userID {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "attempt not found", nil)
		return nil, false
	}
	return attempt, true
}

func (h *Handler) decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		if h.Validate != nil {
			return h.Validate.Struct(v)
		}
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid payload")
	}
	if h.Validate != nil {
		return h.Validate.Struct(v)
	}
	return nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unknown error", nil)
	case errors.Is(err, orchestrate.ErrQuoteInFlight),
		errors.Is(err, orchestrate.ErrConfirmInFlight),
		errors.Is(err, orchestrate.ErrSuperseded):
		common.JSONError(w, http.StatusConflict, common.CodeConflict, err.Error(), nil)
	case errors.Is(err, orchestrate.ErrAttemptSettled),
		errors.Is(err, orchestrate.ErrAttemptAbandoned):
		common.JSONError(w, http.StatusConflict, common.CodeConflict, err.Error(), nil)
	case errors.Is(err, orchestrate.ErrNoQuote):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeInvalid, err.Error(), nil)
	default:
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			common.JSONAppError(w, appErr)
			return
		}
		h.Logger.Error().Err(err).Msg("attempt operation failed")
		common.JSONError(w, http.StatusBadGateway, common.CodePaymentFailed, err.Error(), nil)
	}
}
