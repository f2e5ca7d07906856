// Package tokens decides whether a user may buy or spend tokens given a
// snapshot of their ledger. It never reads or writes the ledger itself; callers
// fetch a fresh snapshot and persist any resulting change atomically.
package tokens

import (
	"fmt"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/limits"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
)

// nearLimitPercent is the usage share at which a capped balance counts as near its limit.
const nearLimitPercent = 80.0

// Ceilings separates the two quantities the catalog's MaxTokens bounds: the
// lifetime total a user may ever purchase and the balance they may hold.
type Ceilings struct {
	LifetimePurchaseCap int `json:"lifetime_purchase_cap"`
	BalanceCap          int `json:"balance_cap"`
}

// CeilingsOf derives both ceilings from the tier catalog. They currently share
// one catalog value.
func CeilingsOf(tier tiers.Tier) Ceilings {
	max := tiers.Of(tier).MaxTokens
	return Ceilings{LifetimePurchaseCap: max, BalanceCap: max}
}

// Snapshot is the ledger state a decision is made against.
type Snapshot struct {
	Tier           tiers.Tier `json:"tier"`
	Balance        int        `json:"balance"`
	TotalPurchased int        `json:"total_tokens_purchased"`
}

// CanBuyTokens gates purchases on the tier flag and the lifetime purchase cap.
func CanBuyTokens(tier tiers.Tier, totalTokensPurchased int) bool {
	if !tiers.Of(tier).CanBuyTokens {
		return false
	}
	capped := CeilingsOf(tier).LifetimePurchaseCap
	if tiers.IsUnlimited(capped) {
		return true
	}
	return totalTokensPurchased < capped
}

// GetRemainingTokenAllowance is how many more tokens the user may purchase
// over their lifetime, or tiers.Unlimited. Tiers that cannot buy at all also
// report Unlimited; callers check CanBuyTokens first.
func GetRemainingTokenAllowance(tier tiers.Tier, totalTokensPurchased int) int {
	capped := CeilingsOf(tier).LifetimePurchaseCap
	if !tiers.Of(tier).CanBuyTokens || tiers.IsUnlimited(capped) {
		return tiers.Unlimited
	}
	return maxInt(0, capped-totalTokensPurchased)
}

// LimitInfo describes a balance against the tier's balance cap.
type LimitInfo struct {
	CurrentBalance     int        `json:"current_balance"`
	Limit              int        `json:"limit"`
	RemainingTokens    int        `json:"remaining_tokens"`
	PercentageUsed     float64    `json:"percentage_used"`
	IsUnlimited        bool       `json:"is_unlimited"`
	IsNearLimit        bool       `json:"is_near_limit"`
	IsAtLimit          bool       `json:"is_at_limit"`
	RecommendedUpgrade tiers.Tier `json:"recommended_upgrade,omitempty"`
}

// GetTokenLimitInfo projects currentBalance against the tier's balance cap.
func GetTokenLimitInfo(tier tiers.Tier, currentBalance int) LimitInfo {
	limit := CeilingsOf(tier).BalanceCap
	info := LimitInfo{CurrentBalance: currentBalance, Limit: limit}

	if tiers.IsUnlimited(limit) {
		info.IsUnlimited = true
		info.RemainingTokens = tiers.Unlimited
	} else {
		info.RemainingTokens = maxInt(0, limit-currentBalance)
		if limit > 0 {
			info.PercentageUsed = 100 * float64(currentBalance) / float64(limit)
		} else {
			// No headroom at all.
			info.PercentageUsed = 100
		}
		info.IsNearLimit = info.PercentageUsed >= nearLimitPercent
		info.IsAtLimit = currentBalance >= limit
	}

	info.RecommendedUpgrade = recommendedUpgrade(tier, info)
	return info
}

// recommendedUpgrade: a tier that cannot buy tokens always points one tier up;
// a capped tier points one tier up once near its cap. With the current catalog
// that is free->basic and basic->pro. The pro->enterprise case needs pro to
// carry a cap again and is unreachable today.
func recommendedUpgrade(tier tiers.Tier, info LimitInfo) tiers.Tier {
	next, ok := tier.Next()
	if !ok {
		return ""
	}
	if !tiers.Of(tier).CanBuyTokens {
		return next
	}
	if !info.IsUnlimited && info.IsNearLimit {
		return next
	}
	return ""
}

// PurchaseDecision is the answer to a purchase request. SuggestedAmount is
// set when a smaller purchase would be accepted.
type PurchaseDecision struct {
	CanPurchase     bool       `json:"can_purchase"`
	Reason          string     `json:"reason,omitempty"`
	SuggestedAmount *int       `json:"suggested_amount,omitempty"`
	UpgradeTo       tiers.Tier `json:"upgrade_to,omitempty"`
	LimitInfo       LimitInfo  `json:"limit_info"`
}

// CanPurchaseTokens checks a purchase against the tier flag and the balance cap.
func CanPurchaseTokens(tier tiers.Tier, currentBalance, purchaseAmount int) PurchaseDecision {
	info := GetTokenLimitInfo(tier, currentBalance)
	d := PurchaseDecision{LimitInfo: info}

	if !tiers.Of(tier).CanBuyTokens {
		d.Reason = fmt.Sprintf("Token purchases are not available on the %s plan. Upgrade to buy tokens.", tier.DisplayName())
		if rec := limits.GetUpgradeRecommendation(tier, limits.ReasonTokens); rec != nil {
			d.UpgradeTo = rec.Recommended
		}
		return d
	}

	if !info.IsUnlimited && purchaseAmount > info.Limit-currentBalance {
		suggested := maxInt(0, info.Limit-currentBalance)
		d.SuggestedAmount = &suggested
		d.Reason = fmt.Sprintf("Purchasing %d tokens would exceed the %s plan limit of %d tokens. You can purchase up to %d more tokens.",
			purchaseAmount, tier.DisplayName(), info.Limit, suggested)
		if rec := limits.GetUpgradeRecommendation(tier, limits.ReasonTokens); rec != nil {
			d.UpgradeTo = rec.Recommended
		}
		return d
	}

	d.CanPurchase = true
	return d
}

// CheckPurchase applies the lifetime purchase cap and then the balance cap.
// When both reject, the smaller suggestion wins.
func CheckPurchase(s Snapshot, purchaseAmount int) PurchaseDecision {
	d := CanPurchaseTokens(s.Tier, s.Balance, purchaseAmount)
	if !tiers.Of(s.Tier).CanBuyTokens {
		return d
	}

	lifetimeCap := CeilingsOf(s.Tier).LifetimePurchaseCap
	if tiers.IsUnlimited(lifetimeCap) || purchaseAmount <= lifetimeCap-s.TotalPurchased {
		return d
	}

	allowance := GetRemainingTokenAllowance(s.Tier, s.TotalPurchased)
	if d.SuggestedAmount == nil || allowance < *d.SuggestedAmount {
		d.SuggestedAmount = &allowance
	}
	d.CanPurchase = false
	if allowance == 0 {
		d.Reason = fmt.Sprintf("You have reached the %s plan's lifetime purchase limit of %d tokens.", s.Tier.DisplayName(), lifetimeCap)
	} else {
		d.Reason = fmt.Sprintf("The %s plan allows %d purchased tokens in total. You can purchase up to %d more tokens.",
			s.Tier.DisplayName(), lifetimeCap, *d.SuggestedAmount)
	}
	if rec := limits.GetUpgradeRecommendation(s.Tier, limits.ReasonTokens); rec != nil {
		d.UpgradeTo = rec.Recommended
	}
	return d
}

// UsageDecision is the answer to a spend request.
type UsageDecision struct {
	CanUse    bool      `json:"can_use"`
	Reason    string    `json:"reason,omitempty"`
	LimitInfo LimitInfo `json:"limit_info"`
}

// ValidateTokenUsage checks that currentBalance covers tokensToUse.
func ValidateTokenUsage(tier tiers.Tier, currentBalance, tokensToUse int) UsageDecision {
	info := GetTokenLimitInfo(tier, currentBalance)
	d := UsageDecision{LimitInfo: info}

	if currentBalance < tokensToUse {
		d.Reason = fmt.Sprintf("Insufficient tokens. This action needs %d tokens but your balance is %d.", tokensToUse, currentBalance)
		return d
	}

	// Redundant with the check above for every current tier; kept for caps
	// that could otherwise let the balance go negative.
	if !info.IsUnlimited && currentBalance-tokensToUse < 0 {
		d.Reason = fmt.Sprintf("Using %d tokens would leave a negative balance.", tokensToUse)
		return d
	}

	d.CanUse = true
	return d
}

// PurchaseAmount is an adjusted purchase size and why it was chosen.
type PurchaseAmount struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

// CalculateOptimalPurchaseAmount clamps desiredAmount to the headroom under
// the tier's balance cap.
func CalculateOptimalPurchaseAmount(tier tiers.Tier, currentBalance, desiredAmount int) PurchaseAmount {
	name := tier.DisplayName()
	if !tiers.Of(tier).CanBuyTokens {
		return PurchaseAmount{Amount: 0, Reason: fmt.Sprintf("Token purchases are not available on the %s plan.", name)}
	}

	limit := CeilingsOf(tier).BalanceCap
	if tiers.IsUnlimited(limit) {
		return PurchaseAmount{Amount: desiredAmount, Reason: fmt.Sprintf("No token limit on the %s plan.", name)}
	}

	headroom := limit - currentBalance
	switch {
	case headroom <= 0:
		return PurchaseAmount{Amount: 0, Reason: fmt.Sprintf("You have reached the %s plan limit of %d tokens.", name, limit)}
	case desiredAmount <= headroom:
		return PurchaseAmount{Amount: desiredAmount, Reason: "The full amount fits within your plan limit."}
	default:
		return PurchaseAmount{
			Amount: headroom,
			Reason: fmt.Sprintf("Reduced to %d tokens to stay within the %s plan limit of %d tokens.", headroom, name, limit),
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
