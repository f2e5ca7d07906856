package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/limits"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/metrics"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/store"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tokens"
)

// TokenSpender deducts tokens atomically against the stored balance.
type TokenSpender interface {
	AccountReader
	SpendTokens(ctx context.Context, userID string, amount int, channel string) (int, error)
}

// Tokens reports the balance against the tier ceilings.
func Tokens(s AccountReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, ok := accountFor(w, r, s)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tier":                   acct.Tier,
			"balance":                acct.Balance,
			"total_tokens_purchased": acct.Subscription.TotalTokensPurchased,
			"can_buy_tokens":         tokens.CanBuyTokens(acct.Tier, acct.Subscription.TotalTokensPurchased),
			"remaining_allowance":    tokens.GetRemainingTokenAllowance(acct.Tier, acct.Subscription.TotalTokensPurchased),
			"ceilings":               tokens.CeilingsOf(acct.Tier),
			"limit_info":             tokens.GetTokenLimitInfo(acct.Tier, acct.Balance),
		})
	}
}

type purchaseCheckRequest struct {
	Amount int `json:"amount"`
}

// PurchaseCheck evaluates a prospective purchase without charging anything.
func PurchaseCheck(s AccountReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req purchaseCheckRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Amount <= 0 {
			http.Error(w, "amount must be positive", http.StatusBadRequest)
			return
		}
		if req.Amount > maxTokenAmount {
			http.Error(w, "amount is too large", http.StatusBadRequest)
			return
		}
		acct, ok := accountFor(w, r, s)
		if !ok {
			return
		}

		decision := tokens.CheckPurchase(acct.snapshot(), req.Amount)
		metrics.RecordDecision("purchase", decision.CanPurchase)

		writeJSON(w, http.StatusOK, map[string]any{
			"decision":   decision,
			"optimal":    tokens.CalculateOptimalPurchaseAmount(acct.Tier, acct.Balance, req.Amount),
			"unit_price": tiers.Of(acct.Tier).TokenPrice,
		})
	}
}

type spendRequest struct {
	Channel    string `json:"channel"`
	Recipients int    `json:"recipients"`
}

// Spend charges the message cost for a send. Denials return 402 with the
// decision; a disallowed channel returns 403 with an upgrade suggestion.
func Spend(s TokenSpender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req spendRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ch, err := tokens.ParseChannel(req.Channel)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Recipients <= 0 || req.Recipients > maxRecipients {
			http.Error(w, "recipients must be between 1 and 100000", http.StatusBadRequest)
			return
		}
		acct, ok := accountFor(w, r, s)
		if !ok {
			return
		}
		userID := acct.Subscription.UserID

		if !tokens.ChannelAllowed(acct.Tier, ch) {
			metrics.RecordDecision("channel", false)
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error":   "channel not available on " + acct.Tier.DisplayName(),
				"upgrade": limits.GetUpgradeRecommendation(acct.Tier, limits.ReasonTelegram),
			})
			return
		}

		cost := tokens.MessageCost(ch, req.Recipients)
		decision := tokens.ValidateTokenUsage(acct.Tier, acct.Balance, cost)
		metrics.RecordDecision("spend", decision.CanUse)
		if !decision.CanUse {
			writeJSON(w, http.StatusPaymentRequired, map[string]any{"cost": cost, "decision": decision})
			return
		}

		balance, err := s.SpendTokens(r.Context(), userID, cost, string(ch))
		if errors.Is(err, store.ErrInsufficientTokens) {
			// balance moved between the read and the conditional update
			writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"cost":     cost,
				"decision": tokens.UsageDecision{CanUse: false, Reason: "Insufficient tokens", LimitInfo: decision.LimitInfo},
			})
			return
		}
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("[tokens] spend failed")
			http.Error(w, "failed to spend tokens", http.StatusInternalServerError)
			return
		}

		metrics.TokensSpentTotal.WithLabelValues(string(ch)).Add(float64(cost))
		writeJSON(w, http.StatusOK, map[string]any{
			"spent":      cost,
			"balance":    balance,
			"limit_info": tokens.GetTokenLimitInfo(acct.Tier, balance),
		})
	}
}
