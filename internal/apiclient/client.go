// Package apiclient is a small HTTP client for the policy service's read and
// preview endpoints.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/limits"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/proration"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tokens"
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("policy api: status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Client talks to one policy service instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for baseURL. A nil httpClient gets a 10s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// TokenStatus is a user's balance reported against the tier ceilings.
type TokenStatus struct {
	Tier                 tiers.Tier       `json:"tier"`
	Balance              int              `json:"balance"`
	TotalTokensPurchased int              `json:"total_tokens_purchased"`
	CanBuyTokens         bool             `json:"can_buy_tokens"`
	RemainingAllowance   int              `json:"remaining_allowance"`
	Ceilings             tokens.Ceilings  `json:"ceilings"`
	LimitInfo            tokens.LimitInfo `json:"limit_info"`
}

// PurchaseCheck is the server's verdict on a prospective token purchase.
type PurchaseCheck struct {
	Decision  tokens.PurchaseDecision `json:"decision"`
	Optimal   tokens.PurchaseAmount   `json:"optimal"`
	UnitPrice tiers.Cents             `json:"unit_price"`
}

// Capability says whether the user's tier permits an action.
type Capability struct {
	Tier    tiers.Tier             `json:"tier"`
	Action  limits.Action          `json:"action"`
	Allowed bool                   `json:"allowed"`
	Upgrade *limits.Recommendation `json:"upgrade,omitempty"`
}

// PlanChangePreview is the prorated effect of a tier change.
type PlanChangePreview struct {
	Change  proration.PlanChangeInfo `json:"change"`
	Summary string                   `json:"summary"`
}

// Catalog lists every tier's entitlements.
func (c *Client) Catalog(ctx context.Context) ([]tiers.Entitlements, error) {
	var out struct {
		Tiers []tiers.Entitlements `json:"tiers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tiers", nil, &out); err != nil {
		return nil, err
	}
	return out.Tiers, nil
}

// Limits returns the raw limits document; quota values may be the "Unlimited" label.
func (c *Client) Limits(ctx context.Context, userID string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, userPath(userID, "limits"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Tokens returns the user's token status.
func (c *Client) Tokens(ctx context.Context, userID string) (*TokenStatus, error) {
	var out TokenStatus
	if err := c.do(ctx, http.MethodGet, userPath(userID, "tokens"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Capability checks a single action for the user.
func (c *Client) Capability(ctx context.Context, userID string, action limits.Action) (*Capability, error) {
	var out Capability
	path := userPath(userID, "capabilities") + "/" + url.PathEscape(string(action))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PurchaseCheck asks whether the user may buy amount tokens. Nothing is charged.
func (c *Client) PurchaseCheck(ctx context.Context, userID string, amount int) (*PurchaseCheck, error) {
	var out PurchaseCheck
	body := map[string]int{"amount": amount}
	if err := c.do(ctx, http.MethodPost, userPath(userID, "tokens/purchase-check"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PreviewPlanChange prices a move to tier. A zero changeDate means now on the server.
func (c *Client) PreviewPlanChange(ctx context.Context, userID string, to tiers.Tier, changeDate time.Time) (*PlanChangePreview, error) {
	body := map[string]string{"to_tier": string(to)}
	if !changeDate.IsZero() {
		body["change_date"] = changeDate.UTC().Format(time.RFC3339)
	}
	var out PlanChangePreview
	if err := c.do(ctx, http.MethodPost, userPath(userID, "plan-change/preview"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func userPath(userID, rest string) string {
	return "/api/users/" + url.PathEscape(userID) + "/" + rest
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
