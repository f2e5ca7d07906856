package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/models"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/proration"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/worker"
)

// PlanChanger persists a tier change and its prorated token credit as one unit.
type PlanChanger interface {
	AccountReader
	ApplyPlanChange(ctx context.Context, sub *models.Subscription, credit int, reference string) (int, bool, error)
}

type planChangeRequest struct {
	ToTier     string `json:"to_tier"`
	ChangeDate string `json:"change_date,omitempty"`
}

type planChangeResponse struct {
	Change  proration.PlanChangeInfo `json:"change"`
	Summary string                   `json:"summary"`
	Balance *int                     `json:"balance,omitempty"`
}

// parsePlanChange validates the request and computes the change against the
// account's current billing period.
func parsePlanChange(w http.ResponseWriter, acct *account, req planChangeRequest) (proration.PlanChangeInfo, time.Time, bool) {
	to, err := tiers.Parse(req.ToTier)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return proration.PlanChangeInfo{}, time.Time{}, false
	}
	if to == acct.Tier {
		http.Error(w, "already on "+to.DisplayName(), http.StatusBadRequest)
		return proration.PlanChangeInfo{}, time.Time{}, false
	}

	changeDate := now()
	if req.ChangeDate != "" {
		changeDate, err = proration.ParseTime(req.ChangeDate)
		if err != nil {
			http.Error(w, "invalid change_date", http.StatusBadRequest)
			return proration.PlanChangeInfo{}, time.Time{}, false
		}
	}

	sub := acct.Subscription
	return proration.PlanChange(acct.Tier, to, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, changeDate), changeDate, true
}

// PreviewPlanChange reports what moving to another tier now would be worth.
func PreviewPlanChange(s AccountReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req planChangeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		acct, ok := accountFor(w, r, s)
		if !ok {
			return
		}
		change, _, ok := parsePlanChange(w, acct, req)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, planChangeResponse{Change: change, Summary: proration.Format(change.Proration)})
	}
}

// prorationReference keys the credit for one change so a retried request does
// not credit twice. Leaving a tier without a monthly grant, the prorated share
// is this period's grant and takes the grant reference, so the sweep skips it.
func prorationReference(sub *models.Subscription, from, to tiers.Tier, changeDate time.Time) string {
	if tiers.Of(from).MonthlyTokens == 0 {
		return worker.GrantReference(sub.UserID, sub.CurrentPeriodStart)
	}
	return fmt.Sprintf("proration:%s:%s:%d", sub.UserID, to, changeDate.Unix())
}

// ApplyPlanChange moves the user to the requested tier and credits positive
// prorated tokens in the same store transaction. Downgrades never claw tokens
// back.
func ApplyPlanChange(s PlanChanger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req planChangeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		acct, ok := accountFor(w, r, s)
		if !ok {
			return
		}
		change, changeDate, ok := parsePlanChange(w, acct, req)
		if !ok {
			return
		}

		sub := *acct.Subscription
		sub.Tier = change.ToTier
		if sub.Status != models.SubscriptionTrial {
			sub.Status = models.SubscriptionActive
		}
		credit := max(change.ProratedTokens, 0)
		balance, _, err := s.ApplyPlanChange(r.Context(), &sub, credit,
			prorationReference(&sub, change.FromTier, change.ToTier, changeDate))
		if err != nil {
			log.Error().Err(err).Str("user_id", sub.UserID).Msg("[plan-change] failed to apply")
			http.Error(w, "failed to change plan", http.StatusInternalServerError)
			return
		}

		resp := planChangeResponse{Change: change, Summary: proration.Format(change.Proration)}
		if credit > 0 {
			resp.Balance = &balance
		}

		log.Info().Str("user_id", sub.UserID).Str("from", string(change.FromTier)).Str("to", string(change.ToTier)).
			Int("prorated_tokens", change.ProratedTokens).Msg("[plan-change] applied")
		writeJSON(w, http.StatusOK, resp)
	}
}
