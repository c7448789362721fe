package gateway

import (
	"context"

	"github.com/noah-isme/payflow/internal/quote"
)

// QuoteRequest asks the gateway to price an order and open a processor
// reference for it. MethodRestriction scopes the reference to a single
// payment-method family; an empty restriction leaves it open to any method.
type QuoteRequest struct {
	OrderID           string
	AmountMinor       int64
	Currency          string
	Note              string
	CouponCode        string
	UserCouponID      string
	MethodRestriction string
}

// ConfirmRequest finalizes a previously quoted reference. Exactly the fields
// relevant to the chosen method are set: DeviceToken for wallet
// confirmations, BankCode and ReturnURL for direct confirmations.
type ConfirmRequest struct {
	ProcessorReference string
	Method             string
	DeviceToken        string
	BankCode           string
	ReturnURL          string
}

// OutcomeStatus is the terminal result of a confirmation.
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "COMPLETED"
	OutcomeCanceled  OutcomeStatus = "CANCELED"
	OutcomeFailed    OutcomeStatus = "FAILED"
)

// Outcome reports how a confirmation ended. Err is set only for
// OutcomeFailed.
type Outcome struct {
	Status OutcomeStatus
	Err    *Error
}

// Client abstracts the upstream payment gateway.
type Client interface {
	CreateQuote(ctx context.Context, req QuoteRequest) (quote.Quote, error)
	Confirm(ctx context.Context, req ConfirmRequest) (Outcome, error)
}
