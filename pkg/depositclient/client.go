/**
 * @description
 * This package provides a client for the external yield-strategy deposit
 * executor. A deposit is an irreversible on-chain action, so this client must
 * be treated as non-idempotent: callers only advance their own state after a
 * confirmed success response carrying the executor's transaction reference.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package depositclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the deposit executor API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new deposit executor client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// DepositRequest is the payload for executing a yield-strategy deposit.
type DepositRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			WalletID string `json:"wallet_id"`
			Amount   int64  `json:"amount"` // stablecoin base units
		} `json:"attributes"`
	} `json:"data"`
}

// DepositResponse is the expected response from the deposit endpoint.
type DepositResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status               string `json:"status"`
			TransactionReference string `json:"transaction_reference"`
		} `json:"attributes"`
	} `json:"data"`
}

// ErrorResponse represents an error from the deposit executor API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("deposit executor error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown deposit executor error"
}

// ExecuteDeposit submits a deposit of the given amount from a wallet into the
// yield strategy. The returned transaction reference is the only durable
// proof the deposit happened.
func (c *Client) ExecuteDeposit(ctx context.Context, walletID string, amount int64) (*DepositResponse, error) {
	reqPayload := DepositRequest{}
	reqPayload.Data.Type = "YieldDeposit"
	reqPayload.Data.Attributes.WalletID = walletID
	reqPayload.Data.Attributes.Amount = amount

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal deposit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/deposits", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create deposit request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute deposit request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read deposit response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=deposit_client op=execute wallet_id=%s status=%d msg=\"non-2xx response (unparsable error body)\"", walletID, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=deposit_client op=execute wallet_id=%s status=%d title=%q detail=%q", walletID, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var depositResp DepositResponse
	if err := json.Unmarshal(bodyBytes, &depositResp); err != nil {
		return nil, fmt.Errorf("failed to decode deposit response: %w", err)
	}

	return &depositResp, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
