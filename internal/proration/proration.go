// Package proration computes what a mid-period plan change is worth in
// tokens and money. All inputs are explicit, including the change date.
package proration

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
)

const day = 24 * time.Hour

// Info is the share of a billing period left at the change date.
// Degenerate is set when the period has no positive length; the ratio is then 0.
type Info struct {
	DaysRemaining int     `json:"days_remaining"`
	DaysInPeriod  int     `json:"days_in_period"`
	Ratio         float64 `json:"proration_ratio"`
	Degenerate    bool    `json:"degenerate,omitempty"`
}

// Calculate measures the period in whole days, rounding partial days up, and
// returns the remaining share clamped to [0, 1].
func Calculate(periodStart, periodEnd, changeDate time.Time) Info {
	if !periodEnd.After(periodStart) {
		return Info{Degenerate: true}
	}

	info := Info{
		DaysInPeriod:  ceilDays(periodEnd.Sub(periodStart)),
		DaysRemaining: ceilDays(periodEnd.Sub(changeDate)),
	}
	if info.DaysRemaining < 0 {
		info.DaysRemaining = 0
	}
	if info.DaysRemaining > info.DaysInPeriod {
		info.DaysRemaining = info.DaysInPeriod
	}
	info.Ratio = float64(info.DaysRemaining) / float64(info.DaysInPeriod)
	return info
}

func ceilDays(d time.Duration) int {
	return int(math.Ceil(float64(d) / float64(day)))
}

// ProratedTokens is the token delta for moving from one tier to another for
// the rest of the period. Downgrades yield zero or a negative delta; the sign
// is left for the caller to act on.
func ProratedTokens(from, to tiers.Tier, info Info) int {
	toShare := math.Floor(float64(tiers.Of(to).MonthlyTokens) * info.Ratio)
	fromShare := math.Floor(float64(tiers.Of(from).MonthlyTokens) * info.Ratio)
	return int(toShare - fromShare)
}

// ProratedAmount is the price difference for the rest of the period, rounded
// to the nearest cent.
func ProratedAmount(from, to tiers.Tier, info Info) tiers.Cents {
	diff := float64(tiers.Of(to).MonthlyPrice - tiers.Of(from).MonthlyPrice)
	return tiers.Cents(math.Round(diff * info.Ratio))
}

// IsPlanUpgrade reports whether to ranks strictly above from.
func IsPlanUpgrade(from, to tiers.Tier) bool {
	return from.Less(to)
}

// PlanChangeInfo is everything a caller needs to preview a plan change.
type PlanChangeInfo struct {
	FromTier       tiers.Tier  `json:"from_tier"`
	ToTier         tiers.Tier  `json:"to_tier"`
	IsUpgrade      bool        `json:"is_upgrade"`
	Proration      Info        `json:"proration"`
	ProratedTokens int         `json:"prorated_tokens"`
	ProratedAmount tiers.Cents `json:"prorated_amount_cents"`
}

// PlanChange composes Calculate, ProratedTokens and ProratedAmount.
func PlanChange(from, to tiers.Tier, periodStart, periodEnd, changeDate time.Time) PlanChangeInfo {
	info := Calculate(periodStart, periodEnd, changeDate)
	return PlanChangeInfo{
		FromTier:       from,
		ToTier:         to,
		IsUpgrade:      IsPlanUpgrade(from, to),
		Proration:      info,
		ProratedTokens: ProratedTokens(from, to, info),
		ProratedAmount: ProratedAmount(from, to, info),
	}
}

// PlanChangeFromISO is PlanChange for period bounds given as RFC 3339
// timestamps or plain YYYY-MM-DD dates (taken as UTC midnight).
func PlanChangeFromISO(from, to tiers.Tier, periodStartISO, periodEndISO string, changeDate time.Time) (PlanChangeInfo, error) {
	start, err := ParseTime(periodStartISO)
	if err != nil {
		return PlanChangeInfo{}, fmt.Errorf("period start: %w", err)
	}
	end, err := ParseTime(periodEndISO)
	if err != nil {
		return PlanChangeInfo{}, fmt.Errorf("period end: %w", err)
	}
	return PlanChange(from, to, start, end, changeDate), nil
}

// ParseTime accepts RFC 3339 (with or without fractional seconds) or a date.
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

// Format summarises info for display, e.g. "50% of billing period remaining (15 of 30 days)".
// The percentage rounds half up.
func Format(info Info) string {
	if info.Degenerate {
		return "Billing period has no remaining time"
	}
	pct := int(math.Floor(info.Ratio*100 + 0.5))
	return fmt.Sprintf("%d%% of billing period remaining (%d of %d days)", pct, info.DaysRemaining, info.DaysInPeriod)
}
