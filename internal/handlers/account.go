package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/models"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/store"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tokens"
)

const maxBodyBytes = 65536

// maxWebhookBytes bounds a billing webhook body; Stripe events run larger than API requests.
const maxWebhookBytes = 1 << 20

// Bounds on request quantities. Larger values are rejected before any policy
// arithmetic runs on them.
const (
	maxTokenAmount = 1_000_000
	maxRecipients  = 100_000
)

// now is the handlers' clock; tests pin it.
var now = time.Now

// AccountReader loads the state every per-user policy decision starts from.
type AccountReader interface {
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	GetTokenBalance(ctx context.Context, userID string) (*models.TokenBalance, error)
	UsageCounts(ctx context.Context, userID string) (models.UsageCounts, error)
}

// account is a point-in-time view of one user.
type account struct {
	Subscription *models.Subscription
	Tier         tiers.Tier
	Balance      int
	Usage        models.UsageCounts
}

func (a *account) snapshot() tokens.Snapshot {
	return tokens.Snapshot{
		Tier:           a.Tier,
		Balance:        a.Balance,
		TotalPurchased: a.Subscription.TotalTokensPurchased,
	}
}

// loadAccount reads subscription, balance and usage concurrently. A user with
// no stored subscription gets the default free one.
func loadAccount(ctx context.Context, s AccountReader, userID string) (*account, error) {
	var (
		sub   *models.Subscription
		bal   *models.TokenBalance
		usage models.UsageCounts
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sub, err = s.GetSubscription(gctx, userID)
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			sub, err = models.DefaultSubscription(userID, now()), nil
		}
		return err
	})
	g.Go(func() error {
		var err error
		bal, err = s.GetTokenBalance(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		usage, err = s.UsageCounts(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load account %s: %w", userID, err)
	}

	return &account{
		Subscription: sub,
		Tier:         sub.EffectiveTier(now()),
		Balance:      bal.Balance,
		Usage:        usage,
	}, nil
}

// accountFor resolves {userID} and loads the account, writing the error response itself.
func accountFor(w http.ResponseWriter, r *http.Request, s AccountReader) (*account, bool) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return nil, false
	}
	acct, err := loadAccount(r.Context(), s, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("[handlers] failed to load account")
		http.Error(w, "failed to load account", http.StatusInternalServerError)
		return nil, false
	}
	return acct, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("[handlers] failed to encode response")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return false
	}
	return true
}

// Subscription returns the stored subscription, its effective tier and entitlements.
func Subscription(s AccountReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, ok := accountFor(w, r, s)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"subscription":   acct.Subscription,
			"effective_tier": acct.Tier,
			"entitlements":   tiers.Of(acct.Tier),
			"token_balance":  acct.Balance,
		})
	}
}
