package models

import (
	"time"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
)

// SubscriptionStatus is the billing state of a subscription record.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionTrial     SubscriptionStatus = "trial"
)

// Subscription is a user's plan state as stored by the billing layer.
type Subscription struct {
	ID                   int64              `json:"id"`
	UserID               string             `json:"user_id"`
	Tier                 tiers.Tier         `json:"tier"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodStart   time.Time          `json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	TotalTokensPurchased int                `json:"total_tokens_purchased"`
	TrialDaysRemaining   *int               `json:"trial_days_remaining,omitempty"`
	StripeCustomerID     *string            `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string            `json:"stripe_subscription_id,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// EffectiveTier is the tier whose entitlements apply at now. Cancelled
// subscriptions keep their tier until the paid period ends; inactive ones fall
// back to free.
func (s *Subscription) EffectiveTier(now time.Time) tiers.Tier {
	if s == nil || !s.Tier.Valid() {
		return tiers.Free
	}
	switch s.Status {
	case SubscriptionActive, SubscriptionTrial:
		return s.Tier
	case SubscriptionCancelled:
		if now.Before(s.CurrentPeriodEnd) {
			return s.Tier
		}
		return tiers.Free
	default:
		return tiers.Free
	}
}

// DefaultSubscription is the record assumed for users with no stored subscription.
func DefaultSubscription(userID string, now time.Time) *Subscription {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return &Subscription{
		UserID:             userID,
		Tier:               tiers.Free,
		Status:             SubscriptionActive,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(0, 1, 0),
	}
}
