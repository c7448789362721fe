package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/payflow/internal/classify"
	"github.com/noah-isme/payflow/internal/events"
	"github.com/noah-isme/payflow/internal/gateway"
	"github.com/noah-isme/payflow/internal/obs"
	"github.com/noah-isme/payflow/internal/present"
	"github.com/noah-isme/payflow/internal/quote"
	"github.com/noah-isme/payflow/internal/rail"
)

// Journal records attempt state transitions for audit. Writes are
// best-effort: a journal failure never blocks orchestration.
type Journal interface {
	RecordTransition(ctx context.Context, orderID, from, to string, detail []byte) error
	MarkTerminal(ctx context.Context, orderID, state, category, message string) error
}

// Deps are the collaborators one attempt drives. Gateway is required; the
// presenters may be nil when the corresponding rail is never selected.
type Deps struct {
	Gateway      gateway.Client
	Sheet        present.SheetPresenter
	Wallet       present.WalletAuthorizer
	Events       *events.Bus
	Journal      Journal
	Logger       zerolog.Logger
	MerchantName string
	ReturnURL    string
}

// ConfirmParams carries rail-specific confirmation input from the caller.
type ConfirmParams struct {
	// BankCode selects the destination bank for virtual-account
	// confirmations.
	BankCode string
}

// Snapshot is a read-only view of the attempt handed to callers.
type Snapshot struct {
	OrderID         string
	State           State
	Rail            rail.Rail
	Coupon          quote.CouponSelection
	Quote           *quote.Quote
	FailureCategory classify.Category
	FailureMessage  string
}

// Attempt orchestrates the lifecycle of a single chargeable transaction.
// State is mutex-confined: network calls run unlocked and their completions
// are re-checked against the sequence counter before they may mutate
// anything, so a response that arrives after the rail or coupon changed is
// discarded.
type Attempt struct {
	mu     sync.Mutex
	order  Order
	deps   Deps
	rail   rail.Rail
	coupon quote.CouponSelection
	cache  quote.Cache
	state  State
	quote  *quote.Quote
	sheet  *present.SheetSession

	// seq increments on every rail or coupon change and on every issued
	// quote request; an async completion whose captured seq no longer
	// matches is stale.
	seq uint64

	failureCategory classify.Category
	failureMessage  string
}

// NewAttempt starts an attempt for the order on the default card rail.
func NewAttempt(order Order, deps Deps) (*Attempt, error) {
	if deps.Gateway == nil {
		return nil, errors.New("orchestrate: gateway client is required")
	}
	if strings.TrimSpace(order.ID) == "" {
		return nil, errors.New("orchestrate: order id is required")
	}
	if order.AmountMinor <= 0 {
		return nil, fmt.Errorf("orchestrate: order amount must be positive, got %d", order.AmountMinor)
	}
	return &Attempt{
		order: order,
		deps:  deps,
		rail:  rail.Card,
		state: StateIdle,
	}, nil
}

// Order returns the order this attempt pays for.
func (a *Attempt) Order() Order { return a.order }

// Snapshot returns the current state of the attempt.
func (a *Attempt) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// SelectRail switches the attempt to another payment rail. Selecting the
// current rail is a no-op. Switching discards the held quote and any
// pre-built sheet state immediately; only the wallet rail may keep a quote
// obtained for another rail, because the gateway accepts any method against
// the same reference.
func (a *Attempt) SelectRail(r rail.Rail) error {
	if !r.Valid() {
		return fmt.Errorf("orchestrate: invalid rail %q", r)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.guardTerminalLocked(); err != nil {
		return err
	}
	if a.state == StatePresenting || a.state == StateConfirming {
		return ErrConfirmInFlight
	}
	if r == a.rail {
		return nil
	}
	a.seq++
	a.rail = r
	a.clearFailureLocked()
	a.quote = nil
	a.sheet = nil
	if r.ReusesExistingQuote() {
		if q, ok := a.cache.GetAny(a.coupon); ok {
			a.quote = &q
			a.transitionLocked(context.Background(), StateQuoteReady, map[string]any{"rail": r.String(), "reused": true})
			return nil
		}
	} else {
		a.cache.Invalidate()
	}
	a.transitionLocked(context.Background(), StateIdle, map[string]any{"rail": r.String()})
	return nil
}

// SelectCoupon changes the coupon applied to the next quote. Any held quote
// is priced for the old selection and is discarded.
func (a *Attempt) SelectCoupon(sel quote.CouponSelection) error {
	if err := sel.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.guardTerminalLocked(); err != nil {
		return err
	}
	if a.state == StatePresenting || a.state == StateConfirming {
		return ErrConfirmInFlight
	}
	if sel.Fingerprint() == a.coupon.Fingerprint() {
		return nil
	}
	a.seq++
	a.coupon = sel
	a.clearFailureLocked()
	a.quote = nil
	a.sheet = nil
	a.cache.Invalidate()
	a.transitionLocked(context.Background(), StateIdle, map[string]any{"coupon": sel.Fingerprint()})
	return nil
}

// RequestQuote obtains a priced quote for the current rail and coupon
// selection, reusing the cached one when both are unchanged. A fully
// coupon-covered quote settles the attempt immediately; no confirmation
// surface ever sees a zero-amount reference.
func (a *Attempt) RequestQuote(ctx context.Context) (Snapshot, error) {
	ctx, span := otel.Tracer("orchestrate.Attempt").Start(ctx, "Attempt.RequestQuote")
	defer span.End()

	a.mu.Lock()
	if err := a.guardOperationLocked(); err != nil {
		snap := a.snapshotLocked()
		a.mu.Unlock()
		return snap, err
	}
	railNow := a.rail
	couponNow := a.coupon
	span.SetAttributes(
		attribute.String("order.id", a.order.ID),
		attribute.String("payment.rail", railNow.String()),
	)

	if q, ok := a.cachedQuoteLocked(railNow, couponNow); ok {
		a.applyQuoteLocked(ctx, railNow, q)
		snap := a.snapshotLocked()
		a.mu.Unlock()
		a.countQuote(railNow, "cached")
		return snap, nil
	}

	a.seq++
	seq := a.seq
	a.clearFailureLocked()
	a.transitionLocked(ctx, StateQuotePending, nil)
	a.mu.Unlock()

	start := time.Now()
	q, err := a.deps.Gateway.CreateQuote(ctx, gateway.QuoteRequest{
		OrderID:           a.order.ID,
		AmountMinor:       a.order.AmountMinor,
		Currency:          a.order.Currency,
		Note:              a.order.Description,
		CouponCode:        couponNow.Code,
		UserCouponID:      couponNow.UserCouponID,
		MethodRestriction: railNow.Restriction(),
	})
	span.SetAttributes(attribute.Float64("payment.quote.duration_ms", obs.DurationMillis(time.Since(start))))

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seq != seq {
		// the rail or coupon moved on while the request was in flight;
		// the response no longer describes what the payer would confirm
		a.countQuote(railNow, "stale")
		return a.snapshotLocked(), ErrSuperseded
	}
	if err == nil {
		err = q.Validate()
	}
	if err != nil {
		span.RecordError(err)
		res := classify.Classify(err)
		a.failureCategory = res.Category
		a.failureMessage = res.Message
		next := StateIdle
		if a.quote != nil {
			next = StateQuoteReady
		}
		a.transitionLocked(ctx, next, map[string]any{"quote_error": res.Category})
		a.countQuote(railNow, "error")
		return a.snapshotLocked(), fmt.Errorf("orchestrate: quote request: %w", err)
	}

	a.cache.Put(railNow, couponNow, q)
	a.applyQuoteLocked(ctx, railNow, q)
	a.countQuote(railNow, "success")
	return a.snapshotLocked(), nil
}

// Confirm executes the rail's confirmation strategy against the held quote.
// A payer cancellation returns the attempt to QuoteReady with no error
// surfaced; the same quote remains valid for another try.
func (a *Attempt) Confirm(ctx context.Context, params ConfirmParams) (Snapshot, error) {
	ctx, span := otel.Tracer("orchestrate.Attempt").Start(ctx, "Attempt.Confirm")
	defer span.End()

	a.mu.Lock()
	if err := a.guardOperationLocked(); err != nil {
		snap := a.snapshotLocked()
		a.mu.Unlock()
		return snap, err
	}
	if a.quote == nil {
		snap := a.snapshotLocked()
		a.mu.Unlock()
		return snap, ErrNoQuote
	}
	q := *a.quote
	sheet := a.sheet
	railNow := a.rail
	seq := a.seq
	a.clearFailureLocked()
	a.transitionLocked(ctx, StatePresenting, map[string]any{"rail": railNow.String()})
	a.mu.Unlock()

	span.SetAttributes(
		attribute.String("order.id", a.order.ID),
		attribute.String("payment.rail", railNow.String()),
	)

	outcome, err := a.dispatchConfirm(ctx, railNow, q, sheet, params, seq)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seq != seq {
		a.countConfirm(railNow, "stale")
		return a.snapshotLocked(), ErrSuperseded
	}

	if err != nil {
		if classify.IsCancellation(err) {
			a.cancelPresentationLocked(ctx)
			a.countConfirm(railNow, "canceled")
			return a.snapshotLocked(), nil
		}
		span.RecordError(err)
		a.failLocked(ctx, railNow, err)
		a.countConfirm(railNow, "error")
		return a.snapshotLocked(), nil
	}

	switch outcome.Status {
	case gateway.OutcomeCompleted:
		a.settleLocked(ctx, railNow)
		a.countConfirm(railNow, "success")
	case gateway.OutcomeCanceled:
		a.cancelPresentationLocked(ctx)
		a.countConfirm(railNow, "canceled")
	default:
		var failure error = outcome.Err
		if outcome.Err == nil {
			failure = errors.New("confirmation failed")
		}
		if classify.IsCancellation(failure) {
			a.cancelPresentationLocked(ctx)
			a.countConfirm(railNow, "canceled")
			break
		}
		a.failLocked(ctx, railNow, failure)
		a.countConfirm(railNow, "failed")
	}
	return a.snapshotLocked(), nil
}

// Abandon terminates the attempt without charging. Not permitted while a
// quote request or confirmation is in flight.
func (a *Attempt) Abandon(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.guardOperationLocked(); err != nil && !errors.Is(err, ErrAttemptAbandoned) {
		return err
	}
	if a.state == StateCanceled {
		return nil
	}
	a.seq++
	a.quote = nil
	a.sheet = nil
	a.cache.Invalidate()
	a.transitionLocked(ctx, StateCanceled, nil)
	if a.deps.Journal != nil {
		if err := a.deps.Journal.MarkTerminal(ctx, a.order.ID, string(StateCanceled), "", ""); err != nil {
			a.deps.Logger.Warn().Err(err).Str("order_id", a.order.ID).Msg("journal terminal state")
		}
	}
	return nil
}

func (a *Attempt) dispatchConfirm(ctx context.Context, r rail.Rail, q quote.Quote, sheet *present.SheetSession, params ConfirmParams, seq uint64) (gateway.Outcome, error) {
	switch r.Strategy() {
	case rail.StrategyEmbeddedSheet:
		if a.deps.Sheet == nil {
			return gateway.Outcome{}, errors.New("orchestrate: sheet presenter not configured")
		}
		session := present.SheetSession{
			ProcessorReference: q.ProcessorReference,
			MerchantName:       a.deps.MerchantName,
		}
		if sheet != nil {
			session = *sheet
		}
		return a.deps.Sheet.Present(ctx, session)

	case rail.StrategyNativeWallet:
		if a.deps.Wallet == nil {
			return gateway.Outcome{}, errors.New("orchestrate: wallet authorizer not configured")
		}
		token, err := a.deps.Wallet.Authorize(ctx, present.PaymentSummary{
			AmountMinor: q.FinalAmountMinor,
			Currency:    q.Currency,
			Label:       a.walletLabel(q),
		})
		if errors.Is(err, present.ErrWalletCanceled) {
			return gateway.Outcome{Status: gateway.OutcomeCanceled}, nil
		}
		if err != nil {
			return gateway.Outcome{}, err
		}
		if !a.enterConfirming(ctx, seq) {
			return gateway.Outcome{}, ErrSuperseded
		}
		return a.deps.Gateway.Confirm(ctx, gateway.ConfirmRequest{
			ProcessorReference: q.ProcessorReference,
			Method:             "wallet",
			DeviceToken:        token,
		})

	default: // rail.StrategyDirectConfirm
		if !a.enterConfirming(ctx, seq) {
			return gateway.Outcome{}, ErrSuperseded
		}
		return a.deps.Gateway.Confirm(ctx, gateway.ConfirmRequest{
			ProcessorReference: q.ProcessorReference,
			Method:             r.Restriction(),
			BankCode:           params.BankCode,
			ReturnURL:          a.deps.ReturnURL,
		})
	}
}

// enterConfirming moves Presenting -> Confirming, unless the attempt moved
// on in the meantime.
func (a *Attempt) enterConfirming(ctx context.Context, seq uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seq != seq || a.state != StatePresenting {
		return false
	}
	a.transitionLocked(ctx, StateConfirming, nil)
	return true
}

func (a *Attempt) guardTerminalLocked() error {
	switch a.state {
	case StateSucceeded:
		return ErrAttemptSettled
	case StateCanceled:
		return ErrAttemptAbandoned
	default:
		return nil
	}
}

func (a *Attempt) guardOperationLocked() error {
	if err := a.guardTerminalLocked(); err != nil {
		return err
	}
	switch a.state {
	case StateQuotePending:
		return ErrQuoteInFlight
	case StatePresenting, StateConfirming:
		return ErrConfirmInFlight
	default:
		return nil
	}
}

func (a *Attempt) cachedQuoteLocked(r rail.Rail, coupon quote.CouponSelection) (quote.Quote, bool) {
	if r.ReusesExistingQuote() {
		return a.cache.GetAny(coupon)
	}
	return a.cache.Get(r, coupon)
}

// applyQuoteLocked installs a fresh quote: zero-amount quotes settle
// immediately, chargeable ones pre-build the embedded sheet session so the
// sheet can present without another round-trip.
func (a *Attempt) applyQuoteLocked(ctx context.Context, r rail.Rail, q quote.Quote) {
	a.quote = &q
	a.sheet = nil
	if q.FullyCovered() {
		a.settleLocked(ctx, r)
		return
	}
	if r.Strategy() == rail.StrategyEmbeddedSheet {
		session := present.SheetSession{
			ProcessorReference: q.ProcessorReference,
			MerchantName:       a.deps.MerchantName,
		}
		if q.Customer != nil {
			session.CustomerID = q.Customer.CustomerID
			session.EphemeralKey = q.Customer.EphemeralKey
		}
		a.sheet = &session
	}
	a.transitionLocked(ctx, StateQuoteReady, map[string]any{
		"final_amount": q.FinalAmountMinor,
		"currency":     q.Currency,
	})
}

func (a *Attempt) settleLocked(ctx context.Context, r rail.Rail) {
	a.sheet = nil
	a.clearFailureLocked()
	a.transitionLocked(ctx, StateSucceeded, map[string]any{"rail": r.String()})
	if obs.PaymentSettledTotal != nil {
		obs.PaymentSettledTotal.WithLabelValues(strings.ToLower(r.String())).Inc()
	}
	amount := int64(0)
	currency := a.order.Currency
	if a.quote != nil {
		amount = a.quote.FinalAmountMinor
		currency = a.quote.Currency
	}
	if a.deps.Events != nil {
		_, err := a.deps.Events.Emit(ctx, events.TopicPaymentSettled, a.order.ID, events.SettledPayload{
			OrderID:     a.order.ID,
			UserID:      a.order.UserID,
			AmountMinor: amount,
			Currency:    currency,
			Rail:        r.String(),
		})
		if err != nil {
			a.deps.Logger.Warn().Err(err).Str("order_id", a.order.ID).Msg("settled event fanout")
		}
	}
	if a.deps.Journal != nil {
		if err := a.deps.Journal.MarkTerminal(ctx, a.order.ID, string(StateSucceeded), "", ""); err != nil {
			a.deps.Logger.Warn().Err(err).Str("order_id", a.order.ID).Msg("journal terminal state")
		}
	}
}

func (a *Attempt) failLocked(ctx context.Context, r rail.Rail, err error) {
	res := classify.Classify(err)
	a.failureCategory = res.Category
	a.failureMessage = res.Message
	a.transitionLocked(ctx, StateFailed, map[string]any{"category": res.Category})
	if a.deps.Journal != nil {
		// a later retry that settles overwrites these columns
		if err := a.deps.Journal.MarkTerminal(ctx, a.order.ID, string(StateFailed), string(res.Category), res.Message); err != nil {
			a.deps.Logger.Warn().Err(err).Str("order_id", a.order.ID).Msg("journal failure outcome")
		}
	}
	if a.deps.Events != nil {
		_, emitErr := a.deps.Events.Emit(ctx, events.TopicPaymentFailed, a.order.ID, events.FailedPayload{
			OrderID:  a.order.ID,
			UserID:   a.order.UserID,
			Rail:     r.String(),
			Category: string(res.Category),
		})
		if emitErr != nil {
			a.deps.Logger.Warn().Err(emitErr).Str("order_id", a.order.ID).Msg("failed event fanout")
		}
	}
	a.deps.Logger.Info().
		Str("order_id", a.order.ID).
		Str("rail", r.String()).
		Str("category", string(res.Category)).
		Err(err).
		Msg("payment confirmation failed")
}

// cancelPresentationLocked handles a payer-initiated cancellation: back to
// QuoteReady, quote intact, no user-visible error.
func (a *Attempt) cancelPresentationLocked(ctx context.Context) {
	a.clearFailureLocked()
	a.transitionLocked(ctx, StateQuoteReady, map[string]any{"canceled_by_payer": true})
}

func (a *Attempt) clearFailureLocked() {
	a.failureCategory = ""
	a.failureMessage = ""
}

func (a *Attempt) transitionLocked(ctx context.Context, next State, detail map[string]any) {
	prev := a.state
	if prev == next {
		return
	}
	a.state = next
	a.deps.Logger.Debug().
		Str("order_id", a.order.ID).
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("attempt transition")
	if a.deps.Journal == nil {
		return
	}
	var encoded []byte
	if detail != nil {
		encoded, _ = json.Marshal(detail)
	}
	if err := a.deps.Journal.RecordTransition(ctx, a.order.ID, string(prev), string(next), encoded); err != nil {
		a.deps.Logger.Warn().Err(err).Str("order_id", a.order.ID).Msg("journal transition")
	}
}

func (a *Attempt) snapshotLocked() Snapshot {
	snap := Snapshot{
		OrderID:         a.order.ID,
		State:           a.state,
		Rail:            a.rail,
		Coupon:          a.coupon,
		FailureCategory: a.failureCategory,
		FailureMessage:  a.failureMessage,
	}
	if a.quote != nil {
		q := *a.quote
		snap.Quote = &q
	}
	return snap
}

func (a *Attempt) walletLabel(q quote.Quote) string {
	if strings.TrimSpace(q.Note) != "" {
		return q.Note
	}
	if strings.TrimSpace(a.deps.MerchantName) != "" {
		return a.deps.MerchantName
	}
	return a.order.Description
}

func (a *Attempt) countQuote(r rail.Rail, result string) {
	if obs.PaymentQuoteTotal != nil {
		obs.PaymentQuoteTotal.WithLabelValues(strings.ToLower(r.String()), result).Inc()
	}
}

func (a *Attempt) countConfirm(r rail.Rail, result string) {
	if obs.PaymentConfirmTotal != nil {
		obs.PaymentConfirmTotal.WithLabelValues(strings.ToLower(r.String()), result).Inc()
	}
}
