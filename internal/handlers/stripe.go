package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/metrics"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/models"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/store"
	stripeClient "github.com/Arwindpianist/sunrise-2025-sub000/internal/stripe"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tokens"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/worker"
)

// TokenCheckout opens payment sessions for token packs.
type TokenCheckout interface {
	CreateTokenCheckout(ctx context.Context, userID string, tokens int, unitPrice tiers.Cents) (*stripeClient.CheckoutSession, error)
}

// WebhookParser verifies and decodes billing webhooks.
type WebhookParser interface {
	ParseEvent(payload []byte, signature string) (*stripeClient.Event, error)
}

// WebhookStore applies verified billing events.
type WebhookStore interface {
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, stripeSubscriptionID string, status models.SubscriptionStatus, periodStart, periodEnd time.Time) error
	ChangeTier(ctx context.Context, userID string, tier tiers.Tier) error
	CreditPurchase(ctx context.Context, userID string, amount int, reference string) (int, bool, error)
}

// Enqueuer schedules background jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

type checkoutRequest struct {
	UserID string `json:"user_id"`
	Amount int    `json:"amount"`
}

// Checkout validates a token purchase against the policy and opens a Stripe
// checkout session for it. Denied purchases return 402 with the decision.
func Checkout(s AccountReader, checkout TokenCheckout) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req checkoutRequest
		if !decodeBody(w, r, &req) {
			return
		}
		req.UserID = strings.TrimSpace(req.UserID)
		if req.UserID == "" || req.Amount <= 0 {
			http.Error(w, "user_id and a positive amount are required", http.StatusBadRequest)
			return
		}
		if req.Amount > maxTokenAmount {
			http.Error(w, "amount is too large", http.StatusBadRequest)
			return
		}

		acct, err := loadAccount(r.Context(), s, req.UserID)
		if err != nil {
			log.Error().Err(err).Str("user_id", req.UserID).Msg("[checkout] failed to load account")
			http.Error(w, "failed to load account", http.StatusInternalServerError)
			return
		}

		decision := tokens.CheckPurchase(acct.snapshot(), req.Amount)
		metrics.RecordDecision("checkout", decision.CanPurchase)
		if !decision.CanPurchase {
			writeJSON(w, http.StatusPaymentRequired, map[string]any{"decision": decision})
			return
		}

		price := tiers.Of(acct.Tier).TokenPrice
		session, err := checkout.CreateTokenCheckout(r.Context(), req.UserID, req.Amount, price)
		if err != nil {
			log.Error().Err(err).Str("user_id", req.UserID).Msg("[checkout] stripe error")
			http.Error(w, "failed to create checkout session", http.StatusBadGateway)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"session":          session,
			"amount":           req.Amount,
			"unit_price_cents": price,
			"total_cents":      price * tiers.Cents(req.Amount),
		})
	}
}

// StripeWebhook applies verified Stripe events. Processing errors return 500
// so Stripe redelivers; credits are keyed by session id and replay safely.
func StripeWebhook(parser WebhookParser, s WebhookStore, jobs Enqueuer, nearLimitNotices bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		event, err := parser.ParseEvent(body, r.Header.Get("Stripe-Signature"))
		if err != nil {
			log.Warn().Err(err).Msg("[webhook] rejected event")
			http.Error(w, "invalid webhook payload", http.StatusBadRequest)
			return
		}

		log.Info().Str("event_id", event.ID).Str("type", event.Type).Msg("[webhook] received event")

		switch {
		case event.Checkout != nil:
			err = applyCheckout(r.Context(), s, jobs, nearLimitNotices, event.Checkout)
		case event.Subscription != nil:
			err = applySubscription(r.Context(), s, event.Subscription)
		default:
			log.Debug().Str("type", event.Type).Msg("[webhook] unhandled event type")
		}
		if err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("[webhook] processing failed")
			http.Error(w, "processing failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func applyCheckout(ctx context.Context, s WebhookStore, jobs Enqueuer, nearLimitNotices bool, c *stripeClient.CheckoutCompleted) error {
	balance, applied, err := s.CreditPurchase(ctx, c.UserID, c.Tokens, c.SessionID)
	if err != nil {
		return err
	}
	if !applied {
		log.Info().Str("session_id", c.SessionID).Msg("[webhook] checkout already credited")
		return nil
	}
	metrics.TokensPurchasedTotal.Add(float64(c.Tokens))
	log.Info().Str("user_id", c.UserID).Int("tokens", c.Tokens).Int("balance", balance).Msg("[webhook] tokens credited")

	if !nearLimitNotices || jobs == nil {
		return nil
	}

	tier := tiers.Free
	sub, err := s.GetSubscription(ctx, c.UserID)
	switch {
	case err == nil:
		tier = sub.EffectiveTier(now())
	case !errors.Is(err, store.ErrSubscriptionNotFound):
		log.Warn().Err(err).Str("user_id", c.UserID).Msg("[webhook] could not load tier for limit notice")
		return nil
	}

	if info := tokens.GetTokenLimitInfo(tier, balance); info.IsNearLimit || info.IsAtLimit {
		if err := jobs.Enqueue(ctx, worker.NewLimitNoticeJob(c.UserID, tier, balance)); err != nil {
			log.Warn().Err(err).Str("user_id", c.UserID).Msg("[webhook] failed to enqueue limit notice")
		}
	}
	return nil
}

func applySubscription(ctx context.Context, s WebhookStore, c *stripeClient.SubscriptionChanged) error {
	sub, err := s.GetSubscriptionByStripeID(ctx, c.StripeSubscriptionID)
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		log.Warn().Str("stripe_subscription_id", c.StripeSubscriptionID).Msg("[webhook] no local subscription")
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.UpdateSubscriptionStatus(ctx, c.StripeSubscriptionID, c.Status, c.PeriodStart, c.PeriodEnd); err != nil {
		return err
	}
	if c.Tier != "" && c.Tier != sub.Tier {
		if err := s.ChangeTier(ctx, sub.UserID, c.Tier); err != nil {
			return err
		}
	}
	log.Info().Str("user_id", sub.UserID).Str("status", string(c.Status)).Msg("[webhook] subscription updated")
	return nil
}
