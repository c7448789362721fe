package present

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payflow/internal/gateway"
	"github.com/noah-isme/payflow/internal/quote"
	"github.com/noah-isme/payflow/internal/resilience"
)

func walletAuthorizer(srv *httptest.Server) HTTPWalletAuthorizer {
	return HTTPWalletAuthorizer{
		BaseURL:   srv.URL,
		SecretKey: "sk_test_wallet",
		Client: resilience.HTTPClient{
			Client:      srv.Client(),
			Breaker:     resilience.NewBreaker(100, 1, time.Second),
			MaxAttempts: 1,
		},
	}
}

func TestWalletAuthorize(t *testing.T) {
	var got walletAuthRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/wallet/authorizations", r.URL.Path)
		require.Equal(t, "Bearer sk_test_wallet", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(walletAuthResponse{Status: "authorized", Token: "devtok-1"})
	}))
	defer srv.Close()

	token, err := walletAuthorizer(srv).Authorize(context.Background(), PaymentSummary{
		AmountMinor: 150000,
		Currency:    "IDR",
		Label:       "Payflow",
	})
	require.NoError(t, err)
	require.Equal(t, "devtok-1", token)
	require.Equal(t, walletAuthRequest{AmountMinor: 150000, Currency: "IDR", Label: "Payflow"}, got)
}

func TestWalletAuthorizeCanceled(t *testing.T) {
	for _, status := range []string{"canceled", "cancelled"} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(walletAuthResponse{Status: status})
		}))
		_, err := walletAuthorizer(srv).Authorize(context.Background(), PaymentSummary{AmountMinor: 100, Currency: "IDR"})
		srv.Close()
		require.ErrorIs(t, err, ErrWalletCanceled, "status %q", status)
	}
}

func TestWalletAuthorizeMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(walletAuthResponse{Status: "authorized"})
	}))
	defer srv.Close()

	_, err := walletAuthorizer(srv).Authorize(context.Background(), PaymentSummary{AmountMinor: 100, Currency: "IDR"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrWalletCanceled)
}

func TestWalletAuthorizeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := walletAuthorizer(srv).Authorize(context.Background(), PaymentSummary{AmountMinor: 100, Currency: "IDR"})
	require.Error(t, err)
}

func TestGatewaySheetConfirmsReference(t *testing.T) {
	var got gateway.ConfirmRequest
	sheet := GatewaySheet{Gateway: confirmFunc(func(req gateway.ConfirmRequest) (gateway.Outcome, error) {
		got = req
		return gateway.Outcome{Status: gateway.OutcomeCompleted}, nil
	})}

	outcome, err := sheet.Present(context.Background(), SheetSession{
		ProcessorReference: "pi_123",
		CustomerID:         "cus_1",
		EphemeralKey:       "ek_1",
		MerchantName:       "Payflow",
	})
	require.NoError(t, err)
	require.Equal(t, gateway.OutcomeCompleted, outcome.Status)
	require.Equal(t, "pi_123", got.ProcessorReference)
	require.Empty(t, got.Method, "the processor infers the method from the quote")
}

type confirmFunc func(gateway.ConfirmRequest) (gateway.Outcome, error)

func (f confirmFunc) CreateQuote(ctx context.Context, req gateway.QuoteRequest) (quote.Quote, error) {
	panic("not used")
}

func (f confirmFunc) Confirm(ctx context.Context, req gateway.ConfirmRequest) (gateway.Outcome, error) {
	return f(req)
}
