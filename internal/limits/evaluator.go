// Package limits answers capability and quota questions for a tier. Every
// answer is read from the tier catalog; no tier-specific branching lives here.
package limits

import (
	"encoding/json"
	"math"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
)

// Action is a capability a tier may or may not grant.
type Action string

const (
	ActionUseTelegram        Action = "use_telegram"
	ActionCustomizeTemplates Action = "customize_templates"
	ActionCustomBranding     Action = "custom_branding"
	ActionUseAPI             Action = "use_api"
	ActionBuyTokens          Action = "buy_tokens"
)

// Actions lists every known action.
func Actions() []Action {
	return []Action{ActionUseTelegram, ActionCustomizeTemplates, ActionCustomBranding, ActionUseAPI, ActionBuyTokens}
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	for _, known := range Actions() {
		if a == known {
			return true
		}
	}
	return false
}

// CanPerformAction looks the action up on the tier's entitlements. Unknown
// actions are never allowed.
func CanPerformAction(tier tiers.Tier, action Action) bool {
	e := tiers.Of(tier)
	switch action {
	case ActionUseTelegram:
		return e.CanUseTelegram
	case ActionCustomizeTemplates:
		return e.CanCustomizeTemplates
	case ActionCustomBranding:
		return e.CanUseCustomBranding
	case ActionUseAPI:
		return e.CanUseAPI
	case ActionBuyTokens:
		return e.CanBuyTokens
	default:
		return false
	}
}

// HasReachedContactLimit reports whether currentCount has used up the tier's contact allowance.
func HasReachedContactLimit(tier tiers.Tier, currentCount int) bool {
	return reached(tiers.Of(tier).MaxContacts, currentCount)
}

// HasReachedEventLimit reports whether currentCount has used up the tier's event allowance.
func HasReachedEventLimit(tier tiers.Tier, currentCount int) bool {
	return reached(tiers.Of(tier).MaxEvents, currentCount)
}

func reached(max, current int) bool {
	if tiers.IsUnlimited(max) {
		return false
	}
	return current >= max
}

// Kind selects which quota GetLimitInfo describes.
type Kind string

const (
	KindContacts Kind = "contacts"
	KindEvents   Kind = "events"
	KindTokens   Kind = "tokens"
)

// LimitInfo is a display projection of a quota. Max and Remaining are
// meaningless when IsUnlimited is set and marshal as "Unlimited".
type LimitInfo struct {
	Current     int
	Max         int
	Remaining   int
	Percentage  float64
	IsUnlimited bool
}

const unlimitedLabel = "Unlimited"

// MarshalJSON renders unlimited quotas with the "Unlimited" label in place of numbers.
func (l LimitInfo) MarshalJSON() ([]byte, error) {
	var max, remaining any = l.Max, l.Remaining
	if l.IsUnlimited {
		max, remaining = unlimitedLabel, unlimitedLabel
	}
	return json.Marshal(map[string]any{
		"current":      l.Current,
		"max":          max,
		"remaining":    remaining,
		"percentage":   l.Percentage,
		"is_unlimited": l.IsUnlimited,
	})
}

// GetLimitInfo projects currentCount against the tier's quota of the given kind.
func GetLimitInfo(tier tiers.Tier, currentCount int, kind Kind) LimitInfo {
	max := maxFor(tiers.Of(tier), kind)
	if tiers.IsUnlimited(max) {
		return LimitInfo{Current: currentCount, Max: tiers.Unlimited, Remaining: tiers.Unlimited, IsUnlimited: true}
	}

	info := LimitInfo{
		Current:   currentCount,
		Max:       max,
		Remaining: maxInt(0, max-currentCount),
	}
	switch {
	case max > 0:
		info.Percentage = math.Min(100, 100*float64(currentCount)/float64(max))
	case currentCount > 0:
		// A zero quota with any usage is full.
		info.Percentage = 100
	}
	if info.Percentage < 0 {
		info.Percentage = 0
	}
	return info
}

func maxFor(e tiers.Entitlements, kind Kind) int {
	switch kind {
	case KindContacts:
		return e.MaxContacts
	case KindEvents:
		return e.MaxEvents
	case KindTokens:
		return e.MaxTokens
	default:
		panic("limits: unknown limit kind " + string(kind))
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
