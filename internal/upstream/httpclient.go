/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient is the production Client implementation: a thin JSON-over-HTTP
// wrapper around the upstream Transaction-Management system's read-only
// query endpoints (spec §6 Consumed).
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) GetTransactionOverview(ctx context.Context, transactionID string) (*TransactionOverview, error) {
	var out TransactionOverview
	if err := c.getJSON(ctx, fmt.Sprintf("/transactions/%s", url.PathEscape(transactionID)), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) QueryTransactions(ctx context.Context, cardID, merchantID, ip, deviceID string, window QueryWindow) ([]HistoricalTransaction, error) {
	q := url.Values{}
	if cardID != "" {
		q.Set("card_id", cardID)
	}
	if merchantID != "" {
		q.Set("merchant_id", merchantID)
	}
	if ip != "" {
		q.Set("ip", ip)
	}
	if deviceID != "" {
		q.Set("device_id", deviceID)
	}
	q.Set("since", window.Since.UTC().Format(time.RFC3339))
	q.Set("until", window.Until.UTC().Format(time.RFC3339))

	var out []HistoricalTransaction
	if err := c.getJSON(ctx, "/transactions?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetRuleMatches(ctx context.Context, transactionID string) ([]RuleMatch, error) {
	var out []RuleMatch
	err := c.getJSON(ctx, fmt.Sprintf("/transactions/%s/rule-matches", url.PathEscape(transactionID)), &out)
	return out, err
}

func (c *HTTPClient) GetReviews(ctx context.Context, transactionID string) ([]Review, error) {
	var out []Review
	err := c.getJSON(ctx, fmt.Sprintf("/transactions/%s/reviews", url.PathEscape(transactionID)), &out)
	return out, err
}

func (c *HTTPClient) GetNotes(ctx context.Context, transactionID string) ([]Note, error) {
	var out []Note
	err := c.getJSON(ctx, fmt.Sprintf("/transactions/%s/notes", url.PathEscape(transactionID)), &out)
	return out, err
}

func (c *HTTPClient) GetCase(ctx context.Context, transactionID string) (*Case, error) {
	var out Case
	if err := c.getJSON(ctx, fmt.Sprintf("/transactions/%s/case", url.PathEscape(transactionID)), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetHealth(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &Error{Kind: ErrDependencyFailure, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &Error{Kind: ErrTimeout, Message: err.Error()}
		}
		return &Error{Kind: ErrDependencyFailure, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Error{Kind: ErrNotFound, Message: "resource not found: " + path}
	}
	if resp.StatusCode >= 400 {
		return &Error{Kind: ErrDependencyFailure, Message: fmt.Sprintf("upstream returned status %d for %s", resp.StatusCode, path)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: ErrDependencyFailure, Message: "decode response: " + err.Error()}
	}
	return nil
}
