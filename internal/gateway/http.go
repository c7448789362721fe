package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/noah-isme/payflow/internal/quote"
	"github.com/noah-isme/payflow/internal/resilience"
)

// HTTPGateway talks JSON to the upstream gateway REST API. Quote creation is
// a pure read from the orchestrator's point of view and is retried through
// the resilience wrapper; confirmations are charged exactly once and never
// retried.
type HTTPGateway struct {
	BaseURL   string
	SecretKey string
	Quotes    resilience.HTTPClient
	Confirms  resilience.HTTPClient
}

type wireQuote struct {
	OriginalAmount     int64                  `json:"original_amount"`
	CouponDiscount     *int64                 `json:"coupon_discount"`
	FinalAmount        int64                  `json:"final_amount"`
	Currency           string                 `json:"currency"`
	ProcessorReference string                 `json:"processor_reference"`
	Customer           *wireCustomer          `json:"customer"`
	Steps              []wireCalculationEntry `json:"steps"`
	Note               string                 `json:"note"`
}

type wireCustomer struct {
	CustomerID   string `json:"customer_id"`
	EphemeralKey string `json:"ephemeral_key"`
}

type wireCalculationEntry struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
	Kind   string `json:"kind"`
}

// CreateQuote prices the order upstream and returns the resulting quote. The
// restriction parameter is forwarded so the gateway scopes the processor
// reference to the requested method family.
func (g HTTPGateway) CreateQuote(ctx context.Context, req QuoteRequest) (quote.Quote, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return quote.Quote{}, errors.New("gateway: order id is required")
	}
	payload := map[string]any{
		"order_id": req.OrderID,
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"note":     req.Note,
	}
	if req.CouponCode != "" {
		payload["coupon_code"] = req.CouponCode
	}
	if req.UserCouponID != "" {
		payload["user_coupon_id"] = req.UserCouponID
	}
	if req.MethodRestriction != "" {
		payload["method"] = req.MethodRestriction
	}

	var body struct {
		Quote wireQuote `json:"quote"`
	}
	if err := g.post(ctx, g.Quotes, "/v1/quotes", payload, &body); err != nil {
		return quote.Quote{}, err
	}

	q := quote.Quote{
		OriginalAmountMinor: body.Quote.OriginalAmount,
		CouponDiscountMinor: body.Quote.CouponDiscount,
		FinalAmountMinor:    body.Quote.FinalAmount,
		Currency:            body.Quote.Currency,
		ProcessorReference:  body.Quote.ProcessorReference,
		Note:                body.Quote.Note,
	}
	if body.Quote.Customer != nil {
		q.Customer = &quote.CustomerContext{
			CustomerID:   body.Quote.Customer.CustomerID,
			EphemeralKey: body.Quote.Customer.EphemeralKey,
		}
	}
	for _, step := range body.Quote.Steps {
		q.Steps = append(q.Steps, quote.Step{
			Label:       step.Label,
			AmountMinor: step.Amount,
			Kind:        quote.StepKind(step.Kind),
		})
	}
	if err := q.Validate(); err != nil {
		return quote.Quote{}, err
	}
	return q, nil
}

// Confirm finalizes a quoted reference and maps the gateway's answer into an
// Outcome.
func (g HTTPGateway) Confirm(ctx context.Context, req ConfirmRequest) (Outcome, error) {
	if strings.TrimSpace(req.ProcessorReference) == "" {
		return Outcome{}, errors.New("gateway: processor reference is required")
	}
	payload := map[string]any{
		"processor_reference": req.ProcessorReference,
		"method":              req.Method,
	}
	if req.DeviceToken != "" {
		payload["device_token"] = req.DeviceToken
	}
	if req.BankCode != "" {
		payload["bank_code"] = req.BankCode
	}
	if req.ReturnURL != "" {
		payload["return_url"] = req.ReturnURL
	}

	var body struct {
		Status string `json:"status"`
		Error  *Error `json:"error"`
	}
	if err := g.post(ctx, g.Confirms, "/v1/quotes/confirm", payload, &body); err != nil {
		var gwErr *Error
		if errors.As(err, &gwErr) {
			return Outcome{Status: OutcomeFailed, Err: gwErr}, nil
		}
		return Outcome{}, err
	}

	switch strings.ToLower(strings.TrimSpace(body.Status)) {
	case "completed", "succeeded":
		return Outcome{Status: OutcomeCompleted}, nil
	case "canceled", "cancelled":
		return Outcome{Status: OutcomeCanceled}, nil
	default:
		if body.Error == nil {
			body.Error = &Error{Message: "confirmation failed with status " + body.Status}
		}
		return Outcome{Status: OutcomeFailed, Err: body.Error}, nil
	}
}

func (g HTTPGateway) post(ctx context.Context, client resilience.HTTPClient, path string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gateway: encode request: %w", err)
	}
	url := strings.TrimRight(strings.TrimSpace(g.BaseURL), "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.SecretKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.SecretKey)
	}

	resp, err := client.Do(ctx, req)
	if err != nil {
		return &Error{Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeErrorEnvelope(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	return nil
}

func decodeErrorEnvelope(status int, raw []byte) *Error {
	var envelope struct {
		Error *Error `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil {
		return envelope.Error
	}
	return &Error{Message: fmt.Sprintf("gateway returned status %d", status)}
}
