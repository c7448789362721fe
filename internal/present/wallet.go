package present

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/noah-isme/payflow/internal/resilience"
)

// HTTPWalletAuthorizer obtains a device-level authorization token from the
// wallet session service. The token is single-use; a fresh one is minted for
// every confirmation.
type HTTPWalletAuthorizer struct {
	BaseURL   string
	SecretKey string
	Client    resilience.HTTPClient
}

type walletAuthRequest struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Label       string `json:"label"`
}

type walletAuthResponse struct {
	Status string `json:"status"`
	Token  string `json:"token"`
}

// Authorize mints an authorization token for the summary. A dismissed sheet
// surfaces as ErrWalletCanceled.
func (a HTTPWalletAuthorizer) Authorize(ctx context.Context, summary PaymentSummary) (string, error) {
	payload, err := json.Marshal(walletAuthRequest{
		AmountMinor: summary.AmountMinor,
		Currency:    summary.Currency,
		Label:       summary.Label,
	})
	if err != nil {
		return "", fmt.Errorf("present: encode wallet authorization: %w", err)
	}
	url := strings.TrimRight(a.BaseURL, "/") + "/v1/wallet/authorizations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("present: build wallet authorization request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.SecretKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.SecretKey)
	}

	resp, err := a.Client.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("present: wallet authorization: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("present: read wallet authorization response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("present: wallet authorization returned %s", resp.Status)
	}

	var decoded walletAuthResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("present: decode wallet authorization response: %w", err)
	}
	switch decoded.Status {
	case "canceled", "cancelled":
		return "", ErrWalletCanceled
	case "authorized", "":
		if decoded.Token == "" {
			return "", errors.New("present: wallet authorization missing token")
		}
		return decoded.Token, nil
	default:
		return "", fmt.Errorf("present: unexpected wallet authorization status %q", decoded.Status)
	}
}
