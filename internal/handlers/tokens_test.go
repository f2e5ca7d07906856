package handlers

import (
	"fmt"
	"math"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/store"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
)

const spendPattern = "/users/{userID}/tokens/spend"

func TestTokensReportsCeilings(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Basic, 85)
	s.subs["u1"].TotalTokensPurchased = 60

	rec := serve(t, http.MethodGet, "/users/{userID}/tokens", "/users/u1/tokens", Tokens(s), "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(85), body["balance"])
	assert.Equal(t, float64(40), body["remaining_allowance"])
	assert.Equal(t, true, body["can_buy_tokens"])
	info := body["limit_info"].(map[string]any)
	assert.Equal(t, true, info["is_near_limit"])
	assert.Equal(t, "pro", info["recommended_upgrade"])
}

func TestPurchaseCheckOverBalanceCap(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Basic, 90)

	rec := serve(t, http.MethodPost, "/users/{userID}/tokens/purchase-check", "/users/u1/tokens/purchase-check",
		PurchaseCheck(s), `{"amount": 20}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	decision := body["decision"].(map[string]any)
	assert.Equal(t, false, decision["can_purchase"])
	assert.Equal(t, float64(10), decision["suggested_amount"])
	assert.Equal(t, "pro", decision["upgrade_to"])
	assert.Equal(t, float64(10), body["unit_price"])
}

func TestPurchaseCheckFreeTier(t *testing.T) {
	pinClock(t)
	rec := serve(t, http.MethodPost, "/users/{userID}/tokens/purchase-check", "/users/u1/tokens/purchase-check",
		PurchaseCheck(newFakeStore()), `{"amount": 5}`)

	require.Equal(t, http.StatusOK, rec.Code)
	decision := decode(t, rec)["decision"].(map[string]any)
	assert.Equal(t, false, decision["can_purchase"])
	assert.Equal(t, "basic", decision["upgrade_to"])
}

func TestPurchaseCheckRejectsBadAmount(t *testing.T) {
	rec := serve(t, http.MethodPost, "/users/{userID}/tokens/purchase-check", "/users/u1/tokens/purchase-check",
		PurchaseCheck(newFakeStore()), `{"amount": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, http.MethodPost, "/users/{userID}/tokens/purchase-check", "/users/u1/tokens/purchase-check",
		PurchaseCheck(newFakeStore()), `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurchaseCheckRejectsOversizedAmount(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Basic, 5)
	s.subs["u1"].TotalTokensPurchased = 10

	rec := serve(t, http.MethodPost, "/users/{userID}/tokens/purchase-check", "/users/u1/tokens/purchase-check",
		PurchaseCheck(s), fmt.Sprintf(`{"amount": %d}`, math.MaxInt-2))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, http.MethodPost, "/users/{userID}/tokens/purchase-check", "/users/u1/tokens/purchase-check",
		PurchaseCheck(s), fmt.Sprintf(`{"amount": %d}`, maxTokenAmount))
	require.Equal(t, http.StatusOK, rec.Code)
	decision := decode(t, rec)["decision"].(map[string]any)
	assert.Equal(t, false, decision["can_purchase"])
	assert.Equal(t, float64(90), decision["suggested_amount"])
}

func TestSpendDeductsCost(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Basic, 50)

	rec := serve(t, http.MethodPost, spendPattern, "/users/u1/tokens/spend", Spend(s), `{"channel":"email","recipients":5}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(5), body["spent"])
	assert.Equal(t, float64(45), body["balance"])
	assert.Equal(t, 45, s.balances["u1"])
	assert.Equal(t, []string{"email"}, s.spends)
}

func TestSpendTelegramChargesDouble(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Pro, 50)

	rec := serve(t, http.MethodPost, spendPattern, "/users/u1/tokens/spend", Spend(s), `{"channel":"telegram","recipients":5}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 40, s.balances["u1"])
}

func TestSpendChannelNotAllowed(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Basic, 50)

	rec := serve(t, http.MethodPost, spendPattern, "/users/u1/tokens/spend", Spend(s), `{"channel":"telegram","recipients":1}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "pro", decode(t, rec)["upgrade"].(map[string]any)["recommended"])
	assert.Equal(t, 50, s.balances["u1"])
}

func TestSpendInsufficientBalance(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Basic, 3)

	rec := serve(t, http.MethodPost, spendPattern, "/users/u1/tokens/spend", Spend(s), `{"channel":"email","recipients":5}`)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["decision"].(map[string]any)["can_use"])
	assert.Empty(t, s.spends)
}

func TestSpendLosesRaceToConcurrentSpend(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Basic, 50)
	s.spendErr = store.ErrInsufficientTokens

	rec := serve(t, http.MethodPost, spendPattern, "/users/u1/tokens/spend", Spend(s), `{"channel":"email","recipients":5}`)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestSpendValidatesRequest(t *testing.T) {
	s := newFakeStore()

	rec := serve(t, http.MethodPost, spendPattern, "/users/u1/tokens/spend", Spend(s), `{"channel":"pigeon","recipients":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, http.MethodPost, spendPattern, "/users/u1/tokens/spend", Spend(s), `{"channel":"email","recipients":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, http.MethodPost, spendPattern, "/users/u1/tokens/spend", Spend(s),
		fmt.Sprintf(`{"channel":"telegram","recipients":%d}`, math.MaxInt/2+1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, s.spends)
}
