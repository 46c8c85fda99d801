/**
 * @description
 * This package provides a client for the external ego-score graph service.
 * It encapsulates the logic for making authenticated HTTP requests to the
 * score endpoints and parsing responses. The score itself is an opaque
 * externally computed trust metric; this client never interprets it beyond
 * returning the decimal value.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package trustscoreclient

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

// Client is a client for the ego-score API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new ego-score API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ScoreResponse is the expected response from the score endpoint.
type ScoreResponse struct {
	Data struct {
		Identity string  `json:"identity"`
		Score    float64 `json:"score"`
	} `json:"data"`
}

// ErrorResponse represents an error from the ego-score API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("trust score api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown trust score api error"
}

// GetTrustScore fetches the ego score for a graph identity.
func (c *Client) GetTrustScore(ctx context.Context, identity string) (float64, error) {
	endpoint := c.BaseURL + "/api/v1/scores/" + url.PathEscape(identity)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create score request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute score request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read score response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=trustscore_client op=get_score identity=%s status=%d msg=\"non-2xx response (unparsable error body)\"", identity, resp.StatusCode)
			return 0, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=trustscore_client op=get_score identity=%s status=%d title=%q", identity, resp.StatusCode, firstErrorTitle(errResp))
		return 0, &errResp
	}

	var scoreResp ScoreResponse
	if err := json.Unmarshal(bodyBytes, &scoreResp); err != nil {
		return 0, fmt.Errorf("failed to decode score response: %w", err)
	}

	return scoreResp.Data.Score, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}
