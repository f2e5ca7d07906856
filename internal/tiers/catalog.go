package tiers

import (
	"fmt"
	"slices"
)

// Unlimited marks a numeric entitlement with no ceiling.
const Unlimited = -1

// Cents is a monetary amount in minor currency units (USD cents).
type Cents int64

// String renders the amount as dollars, e.g. "$9.99" or "-$1.50".
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}

// Entitlements is everything a tier grants. Features and Restrictions are
// display copy only; nothing branches on them.
type Entitlements struct {
	Tier                  Tier     `json:"tier"`
	MaxTokens             int      `json:"max_tokens"`
	MaxContacts           int      `json:"max_contacts"`
	MaxEvents             int      `json:"max_events"`
	CanUseTelegram        bool     `json:"can_use_telegram"`
	CanCustomizeTemplates bool     `json:"can_customize_templates"`
	CanUseCustomBranding  bool     `json:"can_use_custom_branding"`
	CanUseAPI             bool     `json:"can_use_api"`
	CanBuyTokens          bool     `json:"can_buy_tokens"`
	TokenPrice            Cents    `json:"token_price_cents"`
	MonthlyPrice          Cents    `json:"monthly_price_cents"`
	MonthlyTokens         int      `json:"monthly_tokens"`
	Features              []string `json:"features"`
	Restrictions          []string `json:"restrictions"`
}

// IsUnlimited reports whether a numeric entitlement carries the Unlimited sentinel.
func IsUnlimited(limit int) bool {
	return limit == Unlimited
}

// tokenPrice strictly decreases and monthlyTokens strictly increases down this table.
var catalog = map[Tier]Entitlements{
	Free: {
		Tier:          Free,
		MaxTokens:     0,
		MaxContacts:   50,
		MaxEvents:     5,
		TokenPrice:    15,
		MonthlyPrice:  0,
		MonthlyTokens: 0,
		Features: []string{
			"Up to 50 contacts",
			"Up to 5 events",
			"Email invitations",
		},
		Restrictions: []string{
			"No token purchases",
			"No Telegram invitations",
			"Default templates only",
		},
	},
	Basic: {
		Tier:                  Basic,
		MaxTokens:             100,
		MaxContacts:           500,
		MaxEvents:             20,
		CanCustomizeTemplates: true,
		CanBuyTokens:          true,
		TokenPrice:            10,
		MonthlyPrice:          999,
		MonthlyTokens:         10,
		Features: []string{
			"Up to 500 contacts",
			"Up to 20 events",
			"Email, Discord and Slack invitations",
			"Custom templates",
			"10 tokens every month",
		},
		Restrictions: []string{
			"Token purchases capped at 100 tokens lifetime",
			"No Telegram invitations",
		},
	},
	Pro: {
		Tier:                  Pro,
		MaxTokens:             Unlimited,
		MaxContacts:           5000,
		MaxEvents:             Unlimited,
		CanUseTelegram:        true,
		CanCustomizeTemplates: true,
		CanUseCustomBranding:  true,
		CanBuyTokens:          true,
		TokenPrice:            8,
		MonthlyPrice:          2999,
		MonthlyTokens:         30,
		Features: []string{
			"Up to 5,000 contacts",
			"Unlimited events",
			"Telegram invitations",
			"Custom branding",
			"30 tokens every month",
		},
		Restrictions: []string{
			"No API access",
		},
	},
	Enterprise: {
		Tier:                  Enterprise,
		MaxTokens:             Unlimited,
		MaxContacts:           Unlimited,
		MaxEvents:             Unlimited,
		CanUseTelegram:        true,
		CanCustomizeTemplates: true,
		CanUseCustomBranding:  true,
		CanUseAPI:             true,
		CanBuyTokens:          true,
		TokenPrice:            5,
		MonthlyPrice:          9999,
		MonthlyTokens:         100,
		Features: []string{
			"Unlimited contacts and events",
			"API access",
			"Priority support",
			"100 tokens every month",
		},
		Restrictions: []string{},
	},
}

// Of returns the entitlements for t. Passing a value outside the catalog is a
// programming error and panics.
func Of(t Tier) Entitlements {
	e, ok := catalog[t]
	if !ok {
		panic(fmt.Sprintf("tiers: no entitlements for tier %q", string(t)))
	}
	e.Features = slices.Clone(e.Features)
	e.Restrictions = slices.Clone(e.Restrictions)
	return e
}

// Catalog returns the entitlements of every tier in tier order.
func Catalog() []Entitlements {
	out := make([]Entitlements, 0, len(order))
	for _, t := range order {
		out = append(out, Of(t))
	}
	return out
}
