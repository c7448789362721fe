// Package present defines the UI/device surfaces a payment attempt hands a
// processor reference to. The surfaces themselves live outside this service;
// the orchestrator only consumes their terminal outcomes.
package present

import (
	"context"
	"errors"

	"github.com/noah-isme/payflow/internal/gateway"
)

// ErrWalletCanceled is reported by a wallet authorizer when the payer
// dismisses the device sheet.
var ErrWalletCanceled = errors.New("present: wallet authorization canceled")

// SheetSession is the pre-built state of an embedded confirmation sheet. It
// is assembled as soon as a chargeable quote arrives so presenting requires
// no further network round-trip, and it is discarded the moment the rail or
// coupon changes.
type SheetSession struct {
	ProcessorReference string
	CustomerID         string
	EphemeralKey       string
	MerchantName       string
}

// SheetPresenter is the embedded method-selection/confirmation sheet used by
// the card and e-wallet rails.
type SheetPresenter interface {
	Present(ctx context.Context, session SheetSession) (gateway.Outcome, error)
}

// PaymentSummary is what the native wallet shows the payer before producing
// a device-level authorization token.
type PaymentSummary struct {
	AmountMinor int64
	Currency    string
	Label       string
}

// WalletAuthorizer is the device wallet surface. Authorization is the first
// half of the wallet's two-phase confirmation; the orchestrator forwards the
// returned token to the gateway for the second half.
type WalletAuthorizer interface {
	Authorize(ctx context.Context, summary PaymentSummary) (string, error)
}
