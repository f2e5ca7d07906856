package limits

import (
	"fmt"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
)

// Reason is why a caller is asking for an upgrade suggestion.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonTelegram      Reason = "telegram"
	ReasonTokens        Reason = "tokens"
	ReasonContacts      Reason = "contacts"
	ReasonEvents        Reason = "events"
	ReasonCustomization Reason = "customization"
)

// Valid reports whether r is a known reason. The empty reason is valid.
func (r Reason) Valid() bool {
	switch r {
	case ReasonNone, ReasonTelegram, ReasonTokens, ReasonContacts, ReasonEvents, ReasonCustomization:
		return true
	}
	return false
}

// Recommendation names the tier to move to and a message for the user.
type Recommendation struct {
	Recommended tiers.Tier `json:"recommended"`
	Reason      string     `json:"reason"`
}

// minimumTierFor is the lowest tier whose catalog entry unlocks the capability
// behind a reason. Quota reasons have no minimum beyond the next tier.
func minimumTierFor(r Reason) tiers.Tier {
	var action Action
	switch r {
	case ReasonTelegram:
		action = ActionUseTelegram
	case ReasonCustomization:
		action = ActionCustomizeTemplates
	default:
		return tiers.Free
	}
	for _, t := range tiers.All() {
		if CanPerformAction(t, action) {
			return t
		}
	}
	return tiers.Enterprise
}

// GetUpgradeRecommendation suggests the tier above current. Capability
// reasons jump straight to the lowest tier that grants the capability; all
// other reasons move exactly one tier up even when that tier does not raise the
// relevant quota. Enterprise has no recommendation.
func GetUpgradeRecommendation(current tiers.Tier, reason Reason) *Recommendation {
	next, ok := current.Next()
	if !ok {
		return nil
	}

	target := tiers.Max(next, minimumTierFor(reason))
	name := target.DisplayName()

	var msg string
	switch reason {
	case ReasonTelegram:
		msg = fmt.Sprintf("Upgrade to %s to send invitations over Telegram.", name)
	case ReasonTokens:
		msg = fmt.Sprintf("Upgrade to %s for more monthly tokens and a higher purchase limit.", name)
	case ReasonContacts:
		msg = fmt.Sprintf("Upgrade to %s to store more contacts.", name)
	case ReasonEvents:
		msg = fmt.Sprintf("Upgrade to %s to create more events.", name)
	case ReasonCustomization:
		msg = fmt.Sprintf("Upgrade to %s to customize invitation templates.", name)
	default:
		msg = fmt.Sprintf("Upgrade to %s to unlock more features.", name)
	}

	return &Recommendation{Recommended: target, Reason: msg}
}
