package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/models"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
)

// Metadata keys attached to token-pack checkout sessions.
const (
	MetadataUserID = "user_id"
	MetadataTokens = "tokens"
)

// ErrMissingMetadata is returned when a completed checkout lacks the user or token count.
var ErrMissingMetadata = errors.New("checkout session missing token metadata")

// Client creates token-pack checkout sessions and verifies webhook payloads.
type Client struct {
	webhookSecret string
	successURL    string
	cancelURL     string

	newSession func(*stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error)
}

// NewClient configures the Stripe SDK key and returns a Client.
func NewClient(secretKey, webhookSecret, successURL, cancelURL string) *Client {
	stripego.Key = secretKey
	return &Client{
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
		newSession:    session.New,
	}
}

// CheckoutSession is the part of a Stripe checkout session callers need.
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"session_url"`
}

// CreateTokenCheckout opens a one-off payment session for tokens at unitPrice each.
func (c *Client) CreateTokenCheckout(ctx context.Context, userID string, tokens int, unitPrice tiers.Cents) (*CheckoutSession, error) {
	if tokens <= 0 {
		return nil, fmt.Errorf("create token checkout: tokens must be positive, got %d", tokens)
	}

	params := c.checkoutParams(userID, tokens, unitPrice)
	params.Context = ctx
	s, err := c.newSession(params)
	if err != nil {
		return nil, fmt.Errorf("create token checkout: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (c *Client) checkoutParams(userID string, tokens int, unitPrice tiers.Cents) *stripego.CheckoutSessionParams {
	return &stripego.CheckoutSessionParams{
		Mode:              stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL:        stripego.String(c.successURL),
		CancelURL:         stripego.String(c.cancelURL),
		ClientReferenceID: stripego.String(userID),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{
				PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripego.String(string(stripego.CurrencyUSD)),
					UnitAmount: stripego.Int64(int64(unitPrice)),
					ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripego.String("Message tokens"),
					},
				},
				Quantity: stripego.Int64(int64(tokens)),
			},
		},
		Metadata: map[string]string{
			MetadataUserID: userID,
			MetadataTokens: strconv.Itoa(tokens),
		},
	}
}

// Event is a verified webhook event reduced to what the service acts on.
// At most one of Checkout and Subscription is set.
type Event struct {
	ID           string
	Type         string
	Checkout     *CheckoutCompleted
	Subscription *SubscriptionChanged
}

// CheckoutCompleted describes a paid token-pack checkout.
type CheckoutCompleted struct {
	SessionID  string
	UserID     string
	Tokens     int
	CustomerID string
}

// SubscriptionChanged carries a subscription's new billing state.
type SubscriptionChanged struct {
	StripeSubscriptionID string
	Status               models.SubscriptionStatus
	Tier                 tiers.Tier // empty when the subscription carries no tier metadata
	PeriodStart          time.Time
	PeriodEnd            time.Time
}

// ParseEvent verifies the signature header and decodes the events the
// service handles. Unhandled types come back with only ID and Type set.
func (c *Client) ParseEvent(payload []byte, signature string) (*Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}

	out := &Event{ID: evt.ID, Type: string(evt.Type)}
	switch evt.Type {
	case "checkout.session.completed":
		completed, err := decodeCheckout(evt.Data.Raw)
		if err != nil {
			return nil, err
		}
		out.Checkout = completed
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		changed, err := decodeSubscription(evt.Data.Raw)
		if err != nil {
			return nil, err
		}
		if evt.Type == "customer.subscription.deleted" {
			changed.Status = models.SubscriptionCancelled
		}
		out.Subscription = changed
	}
	return out, nil
}

func decodeCheckout(raw json.RawMessage) (*CheckoutCompleted, error) {
	var s stripego.CheckoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse checkout session: %w", err)
	}

	userID := s.Metadata[MetadataUserID]
	if userID == "" {
		userID = s.ClientReferenceID
	}
	tokens, err := strconv.Atoi(s.Metadata[MetadataTokens])
	if userID == "" || err != nil || tokens <= 0 {
		return nil, fmt.Errorf("checkout %s: %w", s.ID, ErrMissingMetadata)
	}

	completed := &CheckoutCompleted{SessionID: s.ID, UserID: userID, Tokens: tokens}
	if s.Customer != nil {
		completed.CustomerID = s.Customer.ID
	}
	return completed, nil
}

// subscriptionPeriod reads the billing window from either the subscription
// or its first item, depending on API version.
type subscriptionPeriod struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func decodeSubscription(raw json.RawMessage) (*SubscriptionChanged, error) {
	var sub stripego.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("parse subscription: %w", err)
	}
	var period subscriptionPeriod
	if err := json.Unmarshal(raw, &period); err != nil {
		return nil, fmt.Errorf("parse subscription period: %w", err)
	}

	start, end := period.CurrentPeriodStart, period.CurrentPeriodEnd
	if start == 0 && len(period.Items.Data) > 0 {
		start = period.Items.Data[0].CurrentPeriodStart
		end = period.Items.Data[0].CurrentPeriodEnd
	}

	changed := &SubscriptionChanged{
		StripeSubscriptionID: sub.ID,
		Status:               mapStatus(sub.Status),
		PeriodStart:          time.Unix(start, 0).UTC(),
		PeriodEnd:            time.Unix(end, 0).UTC(),
	}
	if t, err := tiers.Parse(sub.Metadata["tier"]); err == nil {
		changed.Tier = t
	}
	return changed, nil
}

func mapStatus(s stripego.SubscriptionStatus) models.SubscriptionStatus {
	switch s {
	case stripego.SubscriptionStatusActive:
		return models.SubscriptionActive
	case stripego.SubscriptionStatusTrialing:
		return models.SubscriptionTrial
	case stripego.SubscriptionStatusCanceled:
		return models.SubscriptionCancelled
	default:
		return models.SubscriptionInactive
	}
}
