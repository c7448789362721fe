package orchestrate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payflow/internal/classify"
	"github.com/noah-isme/payflow/internal/events"
	"github.com/noah-isme/payflow/internal/gateway"
	"github.com/noah-isme/payflow/internal/orchestrate"
	"github.com/noah-isme/payflow/internal/present"
	"github.com/noah-isme/payflow/internal/quote"
	"github.com/noah-isme/payflow/internal/rail"
)

type fakeGateway struct {
	mu           sync.Mutex
	quoteCalls   int
	confirmCalls int
	lastConfirm  gateway.ConfirmRequest

	quoteFn   func(gateway.QuoteRequest) (quote.Quote, error)
	confirmFn func(gateway.ConfirmRequest) (gateway.Outcome, error)

	quoteStarted chan struct{}
	quoteRelease chan struct{}
}

func (f *fakeGateway) CreateQuote(_ context.Context, req gateway.QuoteRequest) (quote.Quote, error) {
	f.mu.Lock()
	f.quoteCalls++
	f.mu.Unlock()
	if f.quoteStarted != nil {
		close(f.quoteStarted)
		f.quoteStarted = nil
	}
	if f.quoteRelease != nil {
		<-f.quoteRelease
	}
	if f.quoteFn != nil {
		return f.quoteFn(req)
	}
	return chargeableQuote(req.AmountMinor), nil
}

func (f *fakeGateway) Confirm(_ context.Context, req gateway.ConfirmRequest) (gateway.Outcome, error) {
	f.mu.Lock()
	f.confirmCalls++
	f.lastConfirm = req
	f.mu.Unlock()
	if f.confirmFn != nil {
		return f.confirmFn(req)
	}
	return gateway.Outcome{Status: gateway.OutcomeCompleted}, nil
}

func (f *fakeGateway) quoteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quoteCalls
}

func (f *fakeGateway) confirmCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmCalls
}

func (f *fakeGateway) lastConfirmRequest() gateway.ConfirmRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastConfirm
}

type fakeSheet struct {
	mu       sync.Mutex
	calls    int
	sessions []present.SheetSession
	fn       func(present.SheetSession) (gateway.Outcome, error)
}

func (f *fakeSheet) Present(_ context.Context, session present.SheetSession) (gateway.Outcome, error) {
	f.mu.Lock()
	f.calls++
	f.sessions = append(f.sessions, session)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(session)
	}
	return gateway.Outcome{Status: gateway.OutcomeCompleted}, nil
}

func (f *fakeSheet) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeWallet struct {
	token string
	err   error
	calls int
}

func (f *fakeWallet) Authorize(context.Context, present.PaymentSummary) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type terminalRecord struct {
	state    string
	category string
	message  string
}

type memJournal struct {
	mu          sync.Mutex
	transitions [][2]string
	terminal    []terminalRecord
}

func (j *memJournal) RecordTransition(_ context.Context, _, from, to string, _ []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transitions = append(j.transitions, [2]string{from, to})
	return nil
}

func (j *memJournal) MarkTerminal(_ context.Context, _, state, category, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.terminal = append(j.terminal, terminalRecord{state: state, category: category, message: message})
	return nil
}

type memEventStore struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *memEventStore) InsertEvent(_ context.Context, ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memEventStore) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Topic)
	}
	return out
}

func chargeableQuote(amount int64) quote.Quote {
	return quote.Quote{
		OriginalAmountMinor: amount,
		FinalAmountMinor:    amount,
		Currency:            "IDR",
		ProcessorReference:  "pi_test",
	}
}

func coveredQuote(amount int64) quote.Quote {
	d := amount
	return quote.Quote{
		OriginalAmountMinor: amount,
		CouponDiscountMinor: &d,
		FinalAmountMinor:    0,
		Currency:            "IDR",
	}
}

func testOrder() orchestrate.Order {
	return orchestrate.Order{
		ID:          "ord-1",
		UserID:      "user-1",
		AmountMinor: 10000,
		Currency:    "IDR",
		Description: "two concert tickets",
	}
}

func newAttempt(t *testing.T, gw *fakeGateway, sheet *fakeSheet, wallet *fakeWallet) (*orchestrate.Attempt, *memJournal, *memEventStore) {
	t.Helper()
	journal := &memJournal{}
	store := &memEventStore{}
	deps := orchestrate.Deps{
		Gateway:      gw,
		Events:       &events.Bus{Store: store},
		Journal:      journal,
		Logger:       zerolog.Nop(),
		MerchantName: "Payflow Test",
		ReturnURL:    "https://example.test/return",
	}
	if sheet != nil {
		deps.Sheet = sheet
	}
	if wallet != nil {
		deps.Wallet = wallet
	}
	attempt, err := orchestrate.NewAttempt(testOrder(), deps)
	require.NoError(t, err)
	return attempt, journal, store
}

func TestNewAttemptValidation(t *testing.T) {
	_, err := orchestrate.NewAttempt(testOrder(), orchestrate.Deps{})
	require.Error(t, err)

	order := testOrder()
	order.ID = " "
	_, err = orchestrate.NewAttempt(order, orchestrate.Deps{Gateway: &fakeGateway{}, Logger: zerolog.Nop()})
	require.Error(t, err)

	order = testOrder()
	order.AmountMinor = 0
	_, err = orchestrate.NewAttempt(order, orchestrate.Deps{Gateway: &fakeGateway{}, Logger: zerolog.Nop()})
	require.Error(t, err)
}

func TestAttemptStartsIdleOnCard(t *testing.T) {
	attempt, _, _ := newAttempt(t, &fakeGateway{}, nil, nil)
	snap := attempt.Snapshot()
	require.Equal(t, orchestrate.StateIdle, snap.State)
	require.Equal(t, rail.Card, snap.Rail)
	require.Nil(t, snap.Quote)
}

func TestRequestQuoteBecomesReady(t *testing.T) {
	gw := &fakeGateway{}
	attempt, journal, _ := newAttempt(t, gw, nil, nil)

	snap, err := attempt.RequestQuote(context.Background())
	require.NoError(t, err)
	require.Equal(t, orchestrate.StateQuoteReady, snap.State)
	require.NotNil(t, snap.Quote)
	require.Equal(t, int64(10000), snap.Quote.FinalAmountMinor)
	require.Equal(t, 1, gw.quoteCount())

	journal.mu.Lock()
	defer journal.mu.Unlock()
	require.Contains(t, journal.transitions, [2]string{"IDLE", "QUOTE_PENDING"})
	require.Contains(t, journal.transitions, [2]string{"QUOTE_PENDING", "QUOTE_READY"})
}

func TestRequestQuoteServedFromCache(t *testing.T) {
	gw := &fakeGateway{}
	attempt, _, _ := newAttempt(t, gw, nil, nil)

	_, err := attempt.RequestQuote(context.Background())
	require.NoError(t, err)
	_, err = attempt.RequestQuote(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, gw.quoteCount(), "unchanged selection must reuse the cached quote")
}

func TestZeroAmountQuoteSettlesWithoutPresenting(t *testing.T) {
	sheet := &fakeSheet{}
	gw := &fakeGateway{quoteFn: func(gateway.QuoteRequest) (quote.Quote, error) {
		return coveredQuote(10000), nil
	}}
	attempt, journal, store := newAttempt(t, gw, sheet, nil)

	snap, err := attempt.RequestQuote(context.Background())
	require.NoError(t, err)
	require.Equal(t, orchestrate.StateSucceeded, snap.State)
	require.Equal(t, 0, sheet.count(), "no confirmation surface for a fully covered order")
	require.Equal(t, []string{events.TopicPaymentSettled}, store.topics())

	journal.mu.Lock()
	terminal := append([]terminalRecord(nil), journal.terminal...)
	journal.mu.Unlock()
	require.Equal(t, []terminalRecord{{state: "SUCCEEDED"}}, terminal)

	_, err = attempt.RequestQuote(context.Background())
	require.ErrorIs(t, err, orchestrate.ErrAttemptSettled)
}

func TestDuplicateQuoteRequestRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{quoteStarted: started, quoteRelease: release}
	attempt, _, _ := newAttempt(t, gw, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := attempt.RequestQuote(context.Background())
		done <- err
	}()
	<-started

	_, err := attempt.RequestQuote(context.Background())
	require.ErrorIs(t, err, orchestrate.ErrQuoteInFlight)

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, 1, gw.quoteCount())
}

func TestQuoteResponseDiscardedAfterRailSwitch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{quoteStarted: started, quoteRelease: release}
	attempt, _, _ := newAttempt(t, gw, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := attempt.RequestQuote(context.Background())
		done <- err
	}()
	<-started

	require.NoError(t, attempt.SelectRail(rail.EWallet))
	close(release)
	require.ErrorIs(t, <-done, orchestrate.ErrSuperseded)

	snap := attempt.Snapshot()
	require.Nil(t, snap.Quote, "stale response must not install a quote")
	require.Equal(t, rail.EWallet, snap.Rail)
}

func TestQuoteErrorClassifiedAndReverted(t *testing.T) {
	gw := &fakeGateway{quoteFn: func(gateway.QuoteRequest) (quote.Quote, error) {
		return quote.Quote{}, &gateway.Error{VendorCode: 3001, VendorMessage: "method disabled"}
	}}
	attempt, _, _ := newAttempt(t, gw, nil, nil)

	snap, err := attempt.RequestQuote(context.Background())
	require.Error(t, err)
	require.Equal(t, orchestrate.StateIdle, snap.State)
	require.Equal(t, classify.MethodUnavailable, snap.FailureCategory)
	require.NotEmpty(t, snap.FailureMessage)
}

func TestSelectRailSameRailIsNoop(t *testing.T) {
	gw := &fakeGateway{}
	attempt, _, _ := newAttempt(t, gw, nil, nil)
	_, err := attempt.RequestQuote(context.Background())
	require.NoError(t, err)

	require.NoError(t, attempt.SelectRail(rail.Card))
	snap := attempt.Snapshot()
	require.Equal(t, orchestrate.StateQuoteReady, snap.State)
	require.NotNil(t, snap.Quote)
}

func TestSelectRailDiscardsQuote(t *testing.T) {
	gw := &fakeGateway{}
	attempt, _, _ := newAttempt(t, gw, nil, nil)
	_, err := attempt.RequestQuote(context.Background())
	require.NoError(t, err)

	require.NoError(t, attempt.SelectRail(rail.EWallet))
	snap := attempt.Snapshot()
	require.Equal(t, orchestrate.StateIdle, snap.State)
	require.Nil(t, snap.Quote)

	// the discarded quote must not resurface for the new rail
	_, err = attempt.RequestQuote(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, gw.quoteCount())
}

func TestWalletReusesQuoteFromOtherRail(t *testing.T) {
	gw := &fakeGateway{}
	attempt, _, _ := newAttempt(t, gw, nil, nil)
	_, err := attempt.RequestQuote(context.Background())
	require.NoError(t, err)

	require.NoError(t, attempt.SelectRail(rail.Wallet))
	snap := attempt.Snapshot()
	require.Equal(t, orchestrate.StateQuoteReady, snap.State)
	require.NotNil(t, snap.Quote)
	require.Equal(t, 1, gw.quoteCount(), "wallet must reuse the card quote")
}

func TestSelectCouponDiscardsQuote(t *testing.T) {
	gw := &fakeGateway{}
	attempt, _, _ := newAttempt(t, gw, nil, nil)
	_, err := attempt.RequestQuote(context.Background())
	require.NoError(t, err)

	require.NoError(t, attempt.SelectCoupon(quote.CouponCode("SAVE10")))
	snap := attempt.Snapshot()
	require.Equal(t, orchestrate.StateIdle, snap.State)
	require.Nil(t, snap.Quote)

	// re-selecting the identical coupon is a no-op
	_, err = attempt.RequestQuote(context.Background())
	require.NoError(t, err)
	require.NoError(t, attempt.SelectCoupon(quote.CouponCode("SAVE10")))
	require.Equal(t, orchestrate.StateQuoteReady, attempt.Snapshot().State)
}

func TestConfirmWithoutQuote(t *testing.T) {
	attempt, _, _ := newAttempt(t, &fakeGateway{}, nil, nil)
	_, err := attempt.Confirm(context.Background(), orchestrate.ConfirmParams{})
	require.ErrorIs(t, err, orchestrate.ErrNoQuote)
}

func TestConfirmCardThroughSheet(t *testing.T) {
	sheet := &fakeSheet{}
	gw := &fakeGateway{quoteFn: func(gateway.QuoteRequest) (quote.Quote, error) {
		q := chargeableQuote(10000)
		q.Customer = &quote.CustomerContext{CustomerID: "cus_1", EphemeralKey: "ek_1"}
		return q, nil
	}}
	attempt, _, store := newAttempt(t, gw, sheet, nil)

	_, err := attempt.RequestQuote(context.Background())
	require.NoError(t, err)

	snap, err := attempt.Confirm(context.Background(), orchestrate.ConfirmParams{})
	require.NoError(t, err)
	require.Equal(t, orchestrate.StateSucceeded, snap.State)
	require.Equal(t, 1, sheet.count())

	sheet.mu.Lock()
	session := sheet.sessions[0]
	sheet.mu.Unlock()
	require.Equal(t, "pi_test", session.ProcessorReference)
	require.Equal(t, "cus_1", session.CustomerID)
	require.Equal(t, "ek_1", session.EphemeralKey)
	require.Equal(t, "Payflow Test", session.MerchantName)

	require.Equal(t, []string{events.TopicPaymentSettled}, store.topics())
}

func TestConfirmCancelKeepsQuote(t *testing.T) {
	sheet := &fakeSheet{fn: func(present.SheetSession) (gateway.Outcome, error) {
		return gateway.Outcome{Status: gateway.OutcomeCanceled}, nil
	}}
	attempt, _, store := newAttempt(t, &fakeGateway{}, sheet, nil)

	_, err := attempt.RequestQuote(context.Background())
	require.NoError(t, err)

	snap, err := attempt.Confirm(context.Background(), orchestrate.ConfirmParams{})
	require.NoError(t, err)
	require.Equal(t, orchestrate.StateQuoteReady, snap.State)
	require.NotNil(t, snap.Quote, "cancellation must keep the quote for another try")
	require.Empty(t, snap.FailureMessage, "payer cancellation is not an error")
	require.Empty(t, store.topics())

	// the same quote confirms again without re-quoting
	sheet.fn = nil
	snap, err = attempt.Confirm(context.Background(), orchestrate.ConfirmParams{})
	require.NoError(t, err)
	require.Equal(t, orchestrate.StateSucceeded, snap.State)
}

func TestConfirmFailureClassified(t *testing.T) {
	sheet := &fakeSheet{fn: func(present.SheetSession) (gateway.Outcome, error) {
		return gateway.Outcome{
			Status: gateway.OutcomeFailed,
			Err:    &gateway.Error{VendorCode: 50, VendorMessage: "upstream unreachable"},
		}, nil
	}}
	attempt, journal, store := newAttempt(t, &fakeGateway{}, sheet, nil)

	_, err := attempt.RequestQuote(context.Background())
	require.NoError(t, err)

	snap, err := attempt.Confirm(context.Background(), orchestrate.ConfirmParams{})
	require.NoError(t, err)
	require.Equal(t, orchestrate.StateFailed, snap.State)
	require.Equal(t, classify.NetworkFailure, snap.FailureCategory)
	require.Equal(t, []string{events.TopicPaymentFailed}, store.topics())

	journal.mu.Lock()
	require.Len(t, journal.terminal, 1)
	failed := journal.terminal[0]
	journal.mu.Unlock()
	require.Equal(t, "FAILED", failed.state)
	require.Equal(t, string(classify.NetworkFailure), failed.category)
	require.Equal(t, snap.FailureMessage, failed.message)

	// a failed attempt is not terminal: confirming again restarts it
	sheet.fn = nil
	snap, err = attempt.Confirm(context.Background(), orchestrate.ConfirmParams{})
	require.NoError(t, err)
	require.Equal(t, orchestrate.StateSucceeded, snap.State)
	require.Empty(t, snap.FailureMessage)

	journal.mu.Lock()
	defer journal.mu.Unlock()
	require.Equal(t, terminalRecord{state: "SUCCEEDED"}, journal.terminal[1],
		"a settled retry clears the recorded failure")
}

func TestConfirmWalletTwoPhase(t *testing.T) {
	wallet := &fakeWallet{token: "devtok-1"}
	gw := &fakeGateway{}
	attempt, _, _ := newAttempt(t, gw, nil, wallet)

	require.NoError(t, attempt.SelectRail(rail.Wallet))
	_, err := attempt.RequestQuote(context.Background())
	require.NoError(t, err)

	snap, err := attempt.Confirm(context.Background(), orchestrate.ConfirmParams{})
	require.NoError(t, err)
	require.Equal(t, orchestrate.StateSucceeded, snap.State)
	require.Equal(t, 1, wallet.calls)
	require.Equal(t, 1, gw.confirmCount())

	confirm := gw.lastConfirmRequest()
	require.Equal(t, "wallet", confirm.Method)
	require.Equal(t, "devtok-1", confirm.DeviceToken)
	require.Equal(t, "pi_test", confirm.ProcessorReference)
}

func TestConfirmWalletCancelSkipsGateway(t *testing.T) {
	wallet := &fakeWallet{err: present.ErrWalletCanceled}
	gw := &fakeGateway{}
	attempt, _, _ := newAttempt(t, gw, nil, wallet)

	require.NoError(t, attempt.SelectRail(rail.Wallet))
	_, err := attempt.RequestQuote(context.Background())
	require.NoError(t, err)

	snap, err := attempt.Confirm(context.Background(), orchestrate.ConfirmParams{})
	require.NoError(t, err)
	require.Equal(t, orchestrate.StateQuoteReady, snap.State)
	require.Equal(t, 0, gw.confirmCount(), "a canceled device sheet must not reach the gateway")
}

func TestConfirmVirtualAccountDirect(t *testing.T) {
	gw := &fakeGateway{}
	attempt, _, _ := newAttempt(t, gw, nil, nil)

	require.NoError(t, attempt.SelectRail(rail.VirtualAccount))
	_, err := attempt.RequestQuote(context.Background())
	require.NoError(t, err)

	snap, err := attempt.Confirm(context.Background(), orchestrate.ConfirmParams{BankCode: "BCA"})
	require.NoError(t, err)
	require.Equal(t, orchestrate.StateSucceeded, snap.State)

	confirm := gw.lastConfirmRequest()
	require.Equal(t, "virtual_account", confirm.Method)
	require.Equal(t, "BCA", confirm.BankCode)
	require.Equal(t, "https://example.test/return", confirm.ReturnURL)
}

func TestAbandonIsTerminal(t *testing.T) {
	attempt, journal, _ := newAttempt(t, &fakeGateway{}, nil, nil)

	require.NoError(t, attempt.Abandon(context.Background()))
	require.Equal(t, orchestrate.StateCanceled, attempt.Snapshot().State)

	// idempotent
	require.NoError(t, attempt.Abandon(context.Background()))

	_, err := attempt.RequestQuote(context.Background())
	require.ErrorIs(t, err, orchestrate.ErrAttemptAbandoned)
	require.ErrorIs(t, attempt.SelectRail(rail.Wallet), orchestrate.ErrAttemptAbandoned)

	journal.mu.Lock()
	defer journal.mu.Unlock()
	require.Equal(t, []terminalRecord{{state: "CANCELED"}}, journal.terminal)
}

func TestRegistryOnePerOrder(t *testing.T) {
	reg := orchestrate.NewRegistry(orchestrate.Deps{Gateway: &fakeGateway{}, Logger: zerolog.Nop()})

	first, created, err := reg.GetOrCreate(testOrder())
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := reg.GetOrCreate(testOrder())
	require.NoError(t, err)
	require.False(t, created)
	require.Same(t, first, second)

	got, ok := reg.Get("ord-1")
	require.True(t, ok)
	require.Same(t, first, got)

	reg.Remove("ord-1")
	_, ok = reg.Get("ord-1")
	require.False(t, ok)

	_, _, err = reg.GetOrCreate(orchestrate.Order{ID: "ord-2"})
	require.Error(t, err, "invalid orders must not enter the registry")
}

func TestConcurrentConfirmsSingleCharge(t *testing.T) {
	var confirms int
	var mu sync.Mutex
	sheet := &fakeSheet{fn: func(present.SheetSession) (gateway.Outcome, error) {
		mu.Lock()
		confirms++
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return gateway.Outcome{Status: gateway.OutcomeCompleted}, nil
	}}
	attempt, _, _ := newAttempt(t, &fakeGateway{}, sheet, nil)

	_, err := attempt.RequestQuote(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := attempt.Confirm(context.Background(), orchestrate.ConfirmParams{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var inFlight, succeeded int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, orchestrate.ErrConfirmInFlight), errors.Is(err, orchestrate.ErrAttemptSettled):
			inFlight++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded, "exactly one confirm may proceed")
	require.Equal(t, 3, inFlight)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, confirms, "the payer must never be charged twice")
}
