package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/models"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/notify"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tokens"
)

// GrantStore is the persistence the token jobs need.
type GrantStore interface {
	ListActiveSubscriptions(ctx context.Context) ([]models.Subscription, error)
	GrantMonthlyTokens(ctx context.Context, userID string, amount int, reference string) (int, bool, error)
	RollSubscriptionPeriod(ctx context.Context, userID string, periodStart, periodEnd time.Time) error
}

// RegisterTokenJobs registers the monthly grant sweep, per-user grant and
// limit notice handlers.
func RegisterTokenJobs(w *Worker, store GrantStore, notifier notify.Notifier, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	w.RegisterHandler(models.JobTokenGrantSweep, grantSweepHandler(store, w, now))
	w.RegisterHandler(models.JobMonthlyTokenGrant, monthlyGrantHandler(store))
	w.RegisterHandler(models.JobTokenLimitNotice, limitNoticeHandler(notifier))

	log.Info().Msg("[worker] registered token job handlers: token_grant_sweep, monthly_token_grant, token_limit_notice")
}

// GrantReference identifies one monthly grant; crediting the same reference twice is a no-op.
func GrantReference(userID string, periodStart time.Time) string {
	return fmt.Sprintf("grant:%s:%s", userID, periodStart.UTC().Format(time.DateOnly))
}

// NewLimitNoticeJob builds a token_limit_notice job for a balance.
func NewLimitNoticeJob(userID string, tier tiers.Tier, balance int) *models.Job {
	return &models.Job{
		JobType:  models.JobTokenLimitNotice,
		Priority: models.JobPriorityHigh,
		Payload: models.JSONB{
			"user_id": userID,
			"tier":    string(tier),
			"balance": balance,
		},
	}
}

// NextPeriod returns the monthly window containing at, stepping forward from
// an ended period. ok is false when the period has not ended or is degenerate.
func NextPeriod(start, end, at time.Time) (time.Time, time.Time, bool) {
	if !end.After(start) || at.Before(end) {
		return start, end, false
	}
	for !at.Before(end) {
		start, end = end, end.AddDate(0, 1, 0)
	}
	return start, end, true
}

// grantSweepHandler enqueues one grant per active subscription whose effective
// tier carries monthly tokens. Subscriptions no billing provider renews have
// their ended period rolled forward first.
func grantSweepHandler(store GrantStore, w *Worker, now func() time.Time) Handler {
	return func(ctx context.Context, job *models.Job) error {
		subs, err := store.ListActiveSubscriptions(ctx)
		if err != nil {
			return fmt.Errorf("list active subscriptions: %w", err)
		}

		at := now()
		var enqueued int
		for _, sub := range subs {
			if sub.StripeSubscriptionID == nil {
				if start, end, ok := NextPeriod(sub.CurrentPeriodStart, sub.CurrentPeriodEnd, at); ok {
					if err := store.RollSubscriptionPeriod(ctx, sub.UserID, start, end); err != nil {
						return fmt.Errorf("roll period for %s: %w", sub.UserID, err)
					}
					sub.CurrentPeriodStart, sub.CurrentPeriodEnd = start, end
				}
			}

			tier := sub.EffectiveTier(at)
			amount := tiers.Of(tier).MonthlyTokens
			if amount <= 0 {
				continue
			}

			grant := &models.Job{
				JobType: models.JobMonthlyTokenGrant,
				Payload: models.JSONB{
					"user_id":   sub.UserID,
					"tokens":    amount,
					"reference": GrantReference(sub.UserID, sub.CurrentPeriodStart),
				},
			}
			if err := w.Enqueue(ctx, grant); err != nil {
				return fmt.Errorf("enqueue grant for %s: %w", sub.UserID, err)
			}
			enqueued++
		}

		log.Info().Int("subscriptions", len(subs)).Int("enqueued", enqueued).Msg("[grants] sweep finished")
		return nil
	}
}

func monthlyGrantHandler(store GrantStore) Handler {
	return func(ctx context.Context, job *models.Job) error {
		userID := job.Payload.String("user_id")
		reference := job.Payload.String("reference")
		amount, ok := job.Payload.Int("tokens")
		if userID == "" || reference == "" || !ok || amount <= 0 {
			return fmt.Errorf("monthly grant job %d: invalid payload", job.ID)
		}

		balance, applied, err := store.GrantMonthlyTokens(ctx, userID, amount, reference)
		if err != nil {
			return fmt.Errorf("grant monthly tokens: %w", err)
		}
		if !applied {
			log.Debug().Str("user_id", userID).Str("reference", reference).Msg("[grants] already granted")
			return nil
		}
		log.Info().Str("user_id", userID).Int("tokens", amount).Int("balance", balance).Msg("[grants] monthly tokens granted")
		return nil
	}
}

func limitNoticeHandler(notifier notify.Notifier) Handler {
	return func(ctx context.Context, job *models.Job) error {
		userID := job.Payload.String("user_id")
		tier, err := tiers.Parse(job.Payload.String("tier"))
		if err != nil {
			return fmt.Errorf("limit notice job %d: %w", job.ID, err)
		}
		balance, ok := job.Payload.Int("balance")
		if userID == "" || !ok {
			return fmt.Errorf("limit notice job %d: invalid payload", job.ID)
		}

		info := tokens.GetTokenLimitInfo(tier, balance)
		if !info.IsNearLimit && !info.IsAtLimit {
			return nil
		}
		return notifier.NotifyTokenLimit(ctx, notify.TokenLimitNotice{UserID: userID, Tier: tier, Info: info})
	}
}
