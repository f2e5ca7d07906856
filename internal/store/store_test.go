package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/models"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return &Store{db: db}, mock
}

func subscriptionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "tier", "status", "current_period_start", "current_period_end",
		"total_tokens_purchased", "trial_days_remaining", "stripe_customer_id", "stripe_subscription_id",
		"created_at", "updated_at",
	})
}

func TestNewStoreValidation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error when db is nil")
	}
	if _, err := NewJobStore(nil); err == nil {
		t.Fatal("expected error when db is nil")
	}
}

func TestGetSubscriptionSuccess(t *testing.T) {
	s, mock := newMockStore(t)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	rows := subscriptionRows().AddRow(
		int64(7), "user-1", "basic", "active", start, end,
		40, nil, "cus_123", nil, start, start,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE user_id = $1")).
		WithArgs("user-1").WillReturnRows(rows)

	sub, err := s.GetSubscription(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetSubscription returned error: %v", err)
	}
	if sub.Tier != tiers.Basic {
		t.Fatalf("expected basic tier, got %s", sub.Tier)
	}
	if sub.TotalTokensPurchased != 40 {
		t.Fatalf("expected 40 purchased, got %d", sub.TotalTokensPurchased)
	}
	if sub.StripeCustomerID == nil || *sub.StripeCustomerID != "cus_123" {
		t.Fatalf("unexpected customer id: %v", sub.StripeCustomerID)
	}
	if sub.StripeSubscriptionID != nil {
		t.Fatalf("expected nil stripe subscription id, got %v", *sub.StripeSubscriptionID)
	}
	if sub.TrialDaysRemaining != nil {
		t.Fatal("expected nil trial days")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetSubscriptionNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE user_id = $1")).
		WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := s.GetSubscription(context.Background(), "missing")
	if !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestGetSubscriptionRejectsUnknownTier(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	rows := subscriptionRows().AddRow(
		int64(1), "user-1", "platinum", "active", now, now,
		0, nil, nil, nil, now, now,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE user_id = $1")).
		WithArgs("user-1").WillReturnRows(rows)

	_, err := s.GetSubscription(context.Background(), "user-1")
	if !errors.Is(err, tiers.ErrUnknownTier) {
		t.Fatalf("expected ErrUnknownTier, got %v", err)
	}
}

func TestChangeTierNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions SET tier = $2")).
		WithArgs("user-1", "pro").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.ChangeTier(context.Background(), "user-1", tiers.Pro); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestGetTokenBalanceDefaultsToZero(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT balance, updated_at FROM token_balances")).
		WithArgs("user-1").WillReturnError(sql.ErrNoRows)

	bal, err := s.GetTokenBalance(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetTokenBalance returned error: %v", err)
	}
	if bal.Balance != 0 || bal.UserID != "user-1" {
		t.Fatalf("unexpected balance: %+v", bal)
	}
}

func TestSpendTokensSuccess(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND balance >= $2")).
		WithArgs("user-1", 3).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO token_transactions")).
		WithArgs(sqlmock.AnyArg(), "user-1", "spend", -3, "email").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	balance, err := s.SpendTokens(context.Background(), "user-1", 3, "email")
	if err != nil {
		t.Fatalf("SpendTokens returned error: %v", err)
	}
	if balance != 7 {
		t.Fatalf("expected balance 7, got %d", balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSpendTokensInsufficient(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND balance >= $2")).
		WithArgs("user-1", 50).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.SpendTokens(context.Background(), "user-1", 50, "telegram")
	if !errors.Is(err, ErrInsufficientTokens) {
		t.Fatalf("expected ErrInsufficientTokens, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSpendTokensRejectsNonPositive(t *testing.T) {
	s, _ := newMockStore(t)
	if _, err := s.SpendTokens(context.Background(), "user-1", 0, "email"); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestCreditTokensPurchase(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (reference) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "user-1", "purchase", 20, "cs_test_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO token_balances")).
		WithArgs("user-1", 20).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(25))
	mock.ExpectExec(regexp.QuoteMeta("SET total_tokens_purchased = total_tokens_purchased + $2")).
		WithArgs("user-1", 20).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	balance, applied, err := s.CreditTokens(context.Background(), "user-1", models.TokenPurchase, 20, "cs_test_1")
	if err != nil {
		t.Fatalf("CreditTokens returned error: %v", err)
	}
	if !applied || balance != 25 {
		t.Fatalf("expected applied credit to 25, got applied=%v balance=%d", applied, balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreditTokensReplayIsNoop(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (reference) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "user-1", "grant", 10, "grant:user-1:2025-01-01").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE((SELECT balance FROM token_balances")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(10))
	mock.ExpectRollback()

	balance, applied, err := s.CreditTokens(context.Background(), "user-1", models.TokenGrant, 10, "grant:user-1:2025-01-01")
	if err != nil {
		t.Fatalf("CreditTokens returned error: %v", err)
	}
	if applied {
		t.Fatal("expected replayed credit to be skipped")
	}
	if balance != 10 {
		t.Fatalf("expected balance 10, got %d", balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreditTokensGrantSkipsLifetimeCounter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO token_transactions")).
		WithArgs(sqlmock.AnyArg(), "user-1", "proration", 5, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO token_balances")).
		WithArgs("user-1", 5).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(5))
	mock.ExpectCommit()

	if _, _, err := s.CreditTokens(context.Background(), "user-1", models.TokenProrate, 5, ""); err != nil {
		t.Fatalf("CreditTokens returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUsageCounts(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM contacts")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"contacts", "events"}).AddRow(12, 3))

	counts, err := s.UsageCounts(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("UsageCounts returned error: %v", err)
	}
	if counts.Contacts != 12 || counts.Events != 3 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestListActiveSubscriptionsQueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status IN ('active', 'trial')")).
		WillReturnError(errors.New("boom"))

	if _, err := s.ListActiveSubscriptions(context.Background()); err == nil {
		t.Fatal("expected error when query fails")
	}
}

func expectSaveSubscription(mock sqlmock.Sqlmock, tier string) {
	now := time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO subscriptions")).
		WithArgs("user-1", tier, "active", sqlmock.AnyArg(), sqlmock.AnyArg(), 0, nil, nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(3), now, now))
}

func planChangeSub() *models.Subscription {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return &models.Subscription{
		UserID:             "user-1",
		Tier:               tiers.Pro,
		Status:             models.SubscriptionActive,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(0, 1, 0),
	}
}

func TestApplyPlanChangeSavesAndCreditsTogether(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	expectSaveSubscription(mock, "pro")
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (reference) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "user-1", "proration", 14, "grant:user-1:2025-03-01").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO token_balances")).
		WithArgs("user-1", 14).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(14))
	mock.ExpectCommit()

	sub := planChangeSub()
	balance, applied, err := s.ApplyPlanChange(context.Background(), sub, 14, "grant:user-1:2025-03-01")
	if err != nil {
		t.Fatalf("ApplyPlanChange returned error: %v", err)
	}
	if !applied || balance != 14 {
		t.Fatalf("expected applied credit to 14, got applied=%v balance=%d", applied, balance)
	}
	if sub.ID != 3 {
		t.Fatalf("expected saved id 3, got %d", sub.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyPlanChangeCreditFailureRollsBackTier(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	expectSaveSubscription(mock, "pro")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO token_transactions")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, _, err := s.ApplyPlanChange(context.Background(), planChangeSub(), 14, "proration:user-1:pro:1"); err == nil {
		t.Fatal("expected error when the credit fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyPlanChangeWithoutCreditOnlySaves(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	expectSaveSubscription(mock, "pro")
	mock.ExpectCommit()

	balance, applied, err := s.ApplyPlanChange(context.Background(), planChangeSub(), 0, "")
	if err != nil {
		t.Fatalf("ApplyPlanChange returned error: %v", err)
	}
	if applied || balance != 0 {
		t.Fatalf("expected no credit, got applied=%v balance=%d", applied, balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRollSubscriptionPeriod(t *testing.T) {
	s, mock := newMockStore(t)
	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	mock.ExpectExec(regexp.QuoteMeta("WHERE user_id = $1 AND stripe_subscription_id IS NULL")).
		WithArgs("user-1", start, end).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE user_id = $1 AND stripe_subscription_id IS NULL")).
		WithArgs("user-2", start, end).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.RollSubscriptionPeriod(context.Background(), "user-1", start, end); err != nil {
		t.Fatalf("RollSubscriptionPeriod returned error: %v", err)
	}
	if err := s.RollSubscriptionPeriod(context.Background(), "user-2", start, end); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
