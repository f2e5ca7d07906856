package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/limits"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/metrics"
)

// Limits reports every quota for the user with reached flags.
func Limits(s AccountReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, ok := accountFor(w, r, s)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tier":                      acct.Tier,
			"contacts":                  limits.GetLimitInfo(acct.Tier, acct.Usage.Contacts, limits.KindContacts),
			"events":                    limits.GetLimitInfo(acct.Tier, acct.Usage.Events, limits.KindEvents),
			"tokens":                    limits.GetLimitInfo(acct.Tier, acct.Balance, limits.KindTokens),
			"has_reached_contact_limit": limits.HasReachedContactLimit(acct.Tier, acct.Usage.Contacts),
			"has_reached_event_limit":   limits.HasReachedEventLimit(acct.Tier, acct.Usage.Events),
		})
	}
}

// reasonFor maps a denied capability to the upgrade reason that unlocks it.
func reasonFor(action limits.Action) limits.Reason {
	switch action {
	case limits.ActionUseTelegram:
		return limits.ReasonTelegram
	case limits.ActionCustomizeTemplates, limits.ActionCustomBranding:
		return limits.ReasonCustomization
	case limits.ActionBuyTokens:
		return limits.ReasonTokens
	default:
		return limits.ReasonNone
	}
}

// Capability answers whether the user's tier grants {action}, with an upgrade
// suggestion when it does not.
func Capability(s AccountReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		action := limits.Action(chi.URLParam(r, "action"))
		if !action.Valid() {
			http.Error(w, "unknown action", http.StatusBadRequest)
			return
		}
		acct, ok := accountFor(w, r, s)
		if !ok {
			return
		}

		allowed := limits.CanPerformAction(acct.Tier, action)
		metrics.RecordDecision("capability", allowed)

		resp := map[string]any{
			"tier":    acct.Tier,
			"action":  action,
			"allowed": allowed,
		}
		if !allowed {
			resp["upgrade"] = limits.GetUpgradeRecommendation(acct.Tier, reasonFor(action))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Upgrade returns the recommendation for ?reason=, null at the top tier.
func Upgrade(s AccountReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reason := limits.Reason(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("reason"))))
		if !reason.Valid() {
			http.Error(w, "unknown reason", http.StatusBadRequest)
			return
		}
		acct, ok := accountFor(w, r, s)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tier":           acct.Tier,
			"recommendation": limits.GetUpgradeRecommendation(acct.Tier, reason),
		})
	}
}
