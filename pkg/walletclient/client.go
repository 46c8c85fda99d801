/**
 * @description
 * This package provides a client for the managed wallet service's balance
 * endpoint. The wallet service fronts the blockchain RPC layer; this client
 * only reads the observed stablecoin balance and never touches keys or
 * signing.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package walletclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// Client is a client for the wallet service API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new wallet service client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// BalanceResponse is the balance payload returned by the wallet service.
type BalanceResponse struct {
	Data struct {
		WalletID        string `json:"wallet_id"`
		ObservedBalance int64  `json:"observed_balance"` // stablecoin base units
	} `json:"data"`
}

// ErrorResponse represents an error from the wallet service API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("wallet api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown wallet api error"
}

// GetObservedBalance fetches the current stablecoin balance for a wallet.
// The reading is eventually consistent with on-chain settlement; callers
// must not assume two successive readings arrive in settlement order.
func (c *Client) GetObservedBalance(ctx context.Context, walletID string) (*BalanceResponse, error) {
	endpoint := c.BaseURL + "/api/v1/wallets/" + url.PathEscape(walletID) + "/balance"

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute balance request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=wallet_client op=get_balance wallet_id=%s status=%d msg=\"non-2xx response (unparsable error body)\"", walletID, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=wallet_client op=get_balance wallet_id=%s status=%d title=%q", walletID, resp.StatusCode, firstErrorTitle(errResp))
		return nil, &errResp
	}

	var balanceResp BalanceResponse
	if err := json.Unmarshal(bodyBytes, &balanceResp); err != nil {
		return nil, fmt.Errorf("failed to decode balance response: %w", err)
	}

	return &balanceResp, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}
