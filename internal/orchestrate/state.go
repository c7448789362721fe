package orchestrate

import "errors"

// State is the phase of a payment attempt. The in-flight phases double as the
// idempotency guards: a second quote request or confirmation is rejected
// because the attempt is already in QuotePending or Presenting/Confirming,
// so no boolean flags exist to drift out of sync.
type State string

const (
	// StateIdle means no usable quote exists for the current rail and coupon
	// selection.
	StateIdle State = "IDLE"
	// StateQuotePending means a quote request is in flight.
	StateQuotePending State = "QUOTE_PENDING"
	// StateQuoteReady means a chargeable quote is held and confirmation can
	// start without another round-trip.
	StateQuoteReady State = "QUOTE_READY"
	// StatePresenting means a confirmation surface is in front of the payer.
	StatePresenting State = "PRESENTING"
	// StateConfirming means the gateway is finalizing the charge.
	StateConfirming State = "CONFIRMING"
	// StateSucceeded is terminal: the order is settled. Fully coupon-covered
	// orders reach it without any confirmation surface.
	StateSucceeded State = "SUCCEEDED"
	// StateFailed holds a classified, user-visible failure. Not terminal: an
	// explicit new confirmation or rail switch restarts the attempt.
	StateFailed State = "FAILED"
	// StateCanceled is terminal: the caller abandoned the attempt. A payer
	// cancelling a confirmation surface does NOT land here; that returns the
	// attempt to QuoteReady.
	StateCanceled State = "CANCELED"
)

// Terminal reports whether the attempt can make no further progress.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateCanceled
}

var (
	// ErrQuoteInFlight rejects a quote request while one is already pending
	// for the attempt. The duplicate is dropped, not queued.
	ErrQuoteInFlight = errors.New("orchestrate: quote request already in flight")
	// ErrConfirmInFlight rejects an operation while a confirmation is being
	// presented or finalized.
	ErrConfirmInFlight = errors.New("orchestrate: confirmation already in flight")
	// ErrNoQuote rejects a confirmation before a chargeable quote exists.
	ErrNoQuote = errors.New("orchestrate: no quote available to confirm")
	// ErrAttemptSettled rejects operations on an already settled attempt.
	ErrAttemptSettled = errors.New("orchestrate: attempt already settled")
	// ErrAttemptAbandoned rejects operations on an abandoned attempt.
	ErrAttemptAbandoned = errors.New("orchestrate: attempt abandoned")
	// ErrSuperseded reports that a response arrived after the rail or coupon
	// changed; the response was discarded without mutating the attempt.
	ErrSuperseded = errors.New("orchestrate: response superseded by a newer selection")
)

// Order identifies the thing being paid for. Immutable for the life of the
// attempt; the orchestrator only reads it.
type Order struct {
	ID          string
	UserID      string
	AmountMinor int64
	Currency    string
	Description string
}
