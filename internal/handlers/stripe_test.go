package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/models"
	stripeClient "github.com/Arwindpianist/sunrise-2025-sub000/internal/stripe"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
)

type fakeCheckout struct {
	userID    string
	tokens    int
	unitPrice tiers.Cents
	err       error
}

func (f *fakeCheckout) CreateTokenCheckout(_ context.Context, userID string, tokens int, unitPrice tiers.Cents) (*stripeClient.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.userID, f.tokens, f.unitPrice = userID, tokens, unitPrice
	return &stripeClient.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}, nil
}

type fakeParser struct {
	event *stripeClient.Event
	err   error
}

func (f *fakeParser) ParseEvent([]byte, string) (*stripeClient.Event, error) {
	return f.event, f.err
}

func TestCheckoutCreatesSession(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Pro, 10)
	c := &fakeCheckout{}

	rec := serve(t, http.MethodPost, "/checkout", "/checkout", Checkout(s, c), `{"user_id":"u1","amount":25}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "cs_1", body["session"].(map[string]any)["session_id"])
	assert.Equal(t, float64(200), body["total_cents"])
	assert.Equal(t, "u1", c.userID)
	assert.Equal(t, 25, c.tokens)
	assert.Equal(t, tiers.Cents(8), c.unitPrice)
}

func TestCheckoutDeniedByPolicy(t *testing.T) {
	pinClock(t)
	c := &fakeCheckout{}
	s := newFakeStore().withSub("u1", tiers.Basic, 0)
	s.subs["u1"].TotalTokensPurchased = 95

	rec := serve(t, http.MethodPost, "/checkout", "/checkout", Checkout(s, c), `{"user_id":"u1","amount":20}`)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	decision := decode(t, rec)["decision"].(map[string]any)
	assert.Equal(t, float64(5), decision["suggested_amount"])
	assert.Empty(t, c.userID)

	rec = serve(t, http.MethodPost, "/checkout", "/checkout", Checkout(newFakeStore(), c), `{"user_id":"free-user","amount":1}`)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestCheckoutValidationAndUpstreamErrors(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Pro, 0)

	rec := serve(t, http.MethodPost, "/checkout", "/checkout", Checkout(s, &fakeCheckout{}), `{"user_id":"","amount":5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, http.MethodPost, "/checkout", "/checkout", Checkout(s, &fakeCheckout{err: errors.New("stripe down")}), `{"user_id":"u1","amount":5}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCheckoutRejectsOversizedAmountOnUncappedTier(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Enterprise, 0)
	c := &fakeCheckout{}

	rec := serve(t, http.MethodPost, "/checkout", "/checkout", Checkout(s, c), fmt.Sprintf(`{"user_id":"u1","amount":%d}`, math.MaxInt))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, c.userID)
}

func checkoutEvent(sessionID, userID string, tokens int) *stripeClient.Event {
	return &stripeClient.Event{
		ID:   "evt_" + sessionID,
		Type: "checkout.session.completed",
		Checkout: &stripeClient.CheckoutCompleted{
			SessionID: sessionID,
			UserID:    userID,
			Tokens:    tokens,
		},
	}
}

func TestWebhookCreditsCheckoutOnce(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Basic, 70)
	h := StripeWebhook(&fakeParser{event: checkoutEvent("cs_1", "u1", 15)}, s, s, true)

	rec := serve(t, http.MethodPost, "/webhook", "/webhook", h, `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(t, http.MethodPost, "/webhook", "/webhook", h, `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 85, s.balances["u1"])
	assert.Equal(t, 15, s.subs["u1"].TotalTokensPurchased)

	// 85 of 100 is near the basic cap; the replay must not queue a second notice
	require.Len(t, s.jobs, 1)
	assert.Equal(t, models.JobTokenLimitNotice, s.jobs[0].JobType)
	assert.Equal(t, "u1", s.jobs[0].Payload.String("user_id"))
}

func TestWebhookSkipsNoticeWhenDisabledOrFarFromLimit(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Basic, 70).withSub("u2", tiers.Basic, 0)

	rec := serve(t, http.MethodPost, "/webhook", "/webhook", StripeWebhook(&fakeParser{event: checkoutEvent("cs_1", "u1", 15)}, s, s, false), `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(t, http.MethodPost, "/webhook", "/webhook", StripeWebhook(&fakeParser{event: checkoutEvent("cs_2", "u2", 10)}, s, s, true), `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, s.jobs)
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	s := newFakeStore()
	h := StripeWebhook(&fakeParser{err: errors.New("bad signature")}, s, s, true)

	rec := serve(t, http.MethodPost, "/webhook", "/webhook", h, `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookRejectsOversizedPayload(t *testing.T) {
	s := newFakeStore()
	parser := &fakeParser{event: checkoutEvent("cs_big", "u1", 5)}

	rec := serve(t, http.MethodPost, "/webhook", "/webhook", StripeWebhook(parser, s, s, false), strings.Repeat("x", maxWebhookBytes+1))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, s.balances["u1"])
}

func TestWebhookAcceptsPayloadAboveRequestLimit(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Pro, 0)
	parser := &fakeParser{event: checkoutEvent("cs_large", "u1", 5)}

	rec := serve(t, http.MethodPost, "/webhook", "/webhook", StripeWebhook(parser, s, s, false), strings.Repeat("x", maxBodyBytes+1))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, s.balances["u1"])
}

func TestWebhookCreditFailureAsksForRedelivery(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Basic, 0)
	s.creditErr = errDB
	h := StripeWebhook(&fakeParser{event: checkoutEvent("cs_1", "u1", 5)}, s, s, true)

	rec := serve(t, http.MethodPost, "/webhook", "/webhook", h, `{}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookAppliesSubscriptionChange(t *testing.T) {
	pinClock(t)
	s := newFakeStore().withSub("u1", tiers.Basic, 0)
	stripeID := "sub_1"
	s.subs["u1"].StripeSubscriptionID = &stripeID

	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	event := &stripeClient.Event{
		ID:   "evt_sub",
		Type: "customer.subscription.updated",
		Subscription: &stripeClient.SubscriptionChanged{
			StripeSubscriptionID: "sub_1",
			Status:               models.SubscriptionTrial,
			Tier:                 tiers.Pro,
			PeriodStart:          start,
			PeriodEnd:            start.AddDate(0, 1, 0),
		},
	}

	rec := serve(t, http.MethodPost, "/webhook", "/webhook", StripeWebhook(&fakeParser{event: event}, s, s, true), `{}`)

	require.Equal(t, http.StatusOK, rec.Code)
	sub := s.subs["u1"]
	assert.Equal(t, tiers.Pro, sub.Tier)
	assert.Equal(t, models.SubscriptionTrial, sub.Status)
	assert.True(t, sub.CurrentPeriodStart.Equal(start))
}

func TestWebhookIgnoresUnknownSubscriptionAndEventTypes(t *testing.T) {
	s := newFakeStore()
	unknownSub := &stripeClient.Event{
		ID:           "evt_x",
		Type:         "customer.subscription.deleted",
		Subscription: &stripeClient.SubscriptionChanged{StripeSubscriptionID: "sub_missing", Status: models.SubscriptionCancelled},
	}

	rec := serve(t, http.MethodPost, "/webhook", "/webhook", StripeWebhook(&fakeParser{event: unknownSub}, s, s, true), `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	other := &stripeClient.Event{ID: "evt_y", Type: "invoice.paid"}
	rec = serve(t, http.MethodPost, "/webhook", "/webhook", StripeWebhook(&fakeParser{event: other}, s, s, true), `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}
