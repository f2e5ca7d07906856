package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/models"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
)

var (
	// ErrSubscriptionNotFound is returned when a user has no stored subscription.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrInsufficientTokens is returned when a conditional spend finds the
	// balance too low at the moment of the update.
	ErrInsufficientTokens = errors.New("insufficient tokens")
)

// Store provides database-backed accessors for subscriptions, token ledgers
// and usage counts.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

const subscriptionColumns = `id, user_id, tier, status, current_period_start, current_period_end,
	total_tokens_purchased, trial_days_remaining, stripe_customer_id, stripe_subscription_id,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub        models.Subscription
		tier       string
		status     string
		trialDays  sql.NullInt64
		customerID sql.NullString
		stripeSub  sql.NullString
	)
	if err := row.Scan(
		&sub.ID, &sub.UserID, &tier, &status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.TotalTokensPurchased, &trialDays, &customerID, &stripeSub,
		&sub.CreatedAt, &sub.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := tiers.Parse(tier)
	if err != nil {
		return nil, fmt.Errorf("subscription %d: %w", sub.ID, err)
	}
	sub.Tier = parsed
	sub.Status = models.SubscriptionStatus(status)
	if trialDays.Valid {
		days := int(trialDays.Int64)
		sub.TrialDaysRemaining = &days
	}
	sub.StripeCustomerID = nullStringPtr(customerID)
	sub.StripeSubscriptionID = nullStringPtr(stripeSub)
	return &sub, nil
}

// GetSubscription returns the subscription stored for userID.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// GetSubscriptionByStripeID returns the subscription linked to a Stripe subscription id.
func (s *Store) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_subscription_id = $1`, stripeSubscriptionID)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription by stripe id: %w", err)
	}
	return sub, nil
}

// SaveSubscription inserts or replaces the subscription for sub.UserID. The
// lifetime purchase counter is never lowered by a save.
func (s *Store) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return saveSubscription(ctx, s.db, sub)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func saveSubscription(ctx context.Context, q queryRower, sub *models.Subscription) error {
	var trialDays any
	if sub.TrialDaysRemaining != nil {
		trialDays = *sub.TrialDaysRemaining
	}

	query := `
		INSERT INTO subscriptions (user_id, tier, status, current_period_start, current_period_end,
			total_tokens_purchased, trial_days_remaining, stripe_customer_id, stripe_subscription_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE
		SET tier = EXCLUDED.tier,
		    status = EXCLUDED.status,
		    current_period_start = EXCLUDED.current_period_start,
		    current_period_end = EXCLUDED.current_period_end,
		    total_tokens_purchased = GREATEST(subscriptions.total_tokens_purchased, EXCLUDED.total_tokens_purchased),
		    trial_days_remaining = EXCLUDED.trial_days_remaining,
		    stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscriptions.stripe_customer_id),
		    stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, subscriptions.stripe_subscription_id),
		    updated_at = now()
		RETURNING id, created_at, updated_at
	`

	err := q.QueryRowContext(ctx, query,
		sub.UserID, string(sub.Tier), string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.TotalTokensPurchased, trialDays, sub.StripeCustomerID, sub.StripeSubscriptionID,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// ApplyPlanChange saves sub and credits amount tokens under reference in one
// transaction, so a failed credit leaves the stored tier untouched. A zero
// amount only saves. The credit result follows CreditTokens.
func (s *Store) ApplyPlanChange(ctx context.Context, sub *models.Subscription, amount int, reference string) (int, bool, error) {
	if amount < 0 {
		return 0, false, fmt.Errorf("apply plan change: credit must not be negative, got %d", amount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("apply plan change: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := saveSubscription(ctx, tx, sub); err != nil {
		return 0, false, fmt.Errorf("apply plan change: %w", err)
	}

	var (
		balance int
		applied bool
	)
	if amount > 0 {
		balance, applied, err = creditTx(ctx, tx, sub.UserID, models.TokenProrate, amount, reference)
		if err != nil {
			return 0, false, fmt.Errorf("apply plan change: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("apply plan change: commit: %w", err)
	}
	return balance, applied, nil
}

// ChangeTier moves a stored subscription to tier.
func (s *Store) ChangeTier(ctx context.Context, userID string, tier tiers.Tier) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET tier = $2, updated_at = now() WHERE user_id = $1`,
		userID, string(tier))
	if err != nil {
		return fmt.Errorf("change tier: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// UpdateSubscriptionStatus applies a billing-provider status change and period window.
func (s *Store) UpdateSubscriptionStatus(ctx context.Context, stripeSubscriptionID string, status models.SubscriptionStatus, periodStart, periodEnd time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = $2, current_period_start = $3, current_period_end = $4, updated_at = now()
		WHERE stripe_subscription_id = $1`,
		stripeSubscriptionID, string(status), periodStart, periodEnd)
	if err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// RollSubscriptionPeriod moves the billing window of a subscription that no
// billing provider renews. Stripe-linked subscriptions are left to the webhook.
func (s *Store) RollSubscriptionPeriod(ctx context.Context, userID string, periodStart, periodEnd time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET current_period_start = $2, current_period_end = $3, updated_at = now()
		WHERE user_id = $1 AND stripe_subscription_id IS NULL`,
		userID, periodStart, periodEnd)
	if err != nil {
		return fmt.Errorf("roll subscription period: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ListActiveSubscriptions returns subscriptions that currently receive monthly grants.
func (s *Store) ListActiveSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status IN ('active', 'trial') ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

// GetTokenBalance returns the user's balance, zero when no ledger row exists yet.
func (s *Store) GetTokenBalance(ctx context.Context, userID string) (*models.TokenBalance, error) {
	bal := &models.TokenBalance{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT balance, updated_at FROM token_balances WHERE user_id = $1`, userID,
	).Scan(&bal.Balance, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return bal, nil
		}
		return nil, fmt.Errorf("get token balance: %w", err)
	}
	return bal, nil
}

// SpendTokens deducts amount in a single conditional update so two concurrent
// spends cannot both succeed against the same stale balance. It returns the new
// balance, or ErrInsufficientTokens when the guard rejects the update.
func (s *Store) SpendTokens(ctx context.Context, userID string, amount int, channel string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("spend tokens: amount must be positive, got %d", amount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("spend tokens: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var balance int
	err = tx.QueryRowContext(ctx, `
		UPDATE token_balances
		SET balance = balance - $2, updated_at = now()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance`, userID, amount,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrInsufficientTokens
		}
		return 0, fmt.Errorf("spend tokens: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO token_transactions (id, user_id, kind, amount, channel)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), userID, string(models.TokenSpend), -amount, channel,
	); err != nil {
		return 0, fmt.Errorf("spend tokens: record transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("spend tokens: commit: %w", err)
	}
	return balance, nil
}

// CreditTokens adds amount to the user's balance. A non-empty reference makes
// the credit idempotent: replaying it returns the current balance and false.
// Purchases also advance the lifetime purchase counter.
func (s *Store) CreditTokens(ctx context.Context, userID string, kind models.TokenTransactionKind, amount int, reference string) (int, bool, error) {
	if amount <= 0 {
		return 0, false, fmt.Errorf("credit tokens: amount must be positive, got %d", amount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("credit tokens: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	balance, applied, err := creditTx(ctx, tx, userID, kind, amount, reference)
	if err != nil || !applied {
		return balance, false, err
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("credit tokens: commit: %w", err)
	}
	return balance, true, nil
}

func creditTx(ctx context.Context, tx *sql.Tx, userID string, kind models.TokenTransactionKind, amount int, reference string) (int, bool, error) {
	var ref any
	if reference != "" {
		ref = reference
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO token_transactions (id, user_id, kind, amount, reference)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reference) DO NOTHING`,
		uuid.NewString(), userID, string(kind), amount, ref,
	)
	if err != nil {
		return 0, false, fmt.Errorf("credit tokens: record transaction: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		var balance int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE((SELECT balance FROM token_balances WHERE user_id = $1), 0)`, userID,
		).Scan(&balance)
		if err != nil {
			return 0, false, fmt.Errorf("credit tokens: read balance: %w", err)
		}
		return balance, false, nil
	}

	var balance int
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO token_balances (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = token_balances.balance + EXCLUDED.balance, updated_at = now()
		RETURNING balance`, userID, amount,
	).Scan(&balance); err != nil {
		return 0, false, fmt.Errorf("credit tokens: update balance: %w", err)
	}

	if kind == models.TokenPurchase {
		if _, err := tx.ExecContext(ctx, `
			UPDATE subscriptions
			SET total_tokens_purchased = total_tokens_purchased + $2, updated_at = now()
			WHERE user_id = $1`, userID, amount,
		); err != nil {
			return 0, false, fmt.Errorf("credit tokens: update lifetime purchases: %w", err)
		}
	}
	return balance, true, nil
}

// CreditPurchase credits purchased tokens once per payment reference.
func (s *Store) CreditPurchase(ctx context.Context, userID string, amount int, reference string) (int, bool, error) {
	return s.CreditTokens(ctx, userID, models.TokenPurchase, amount, reference)
}

// GrantMonthlyTokens credits a tier's monthly allotment once per reference.
func (s *Store) GrantMonthlyTokens(ctx context.Context, userID string, amount int, reference string) (int, bool, error) {
	return s.CreditTokens(ctx, userID, models.TokenGrant, amount, reference)
}

// UsageCounts returns how many contacts and events the user has stored.
func (s *Store) UsageCounts(ctx context.Context, userID string) (models.UsageCounts, error) {
	var counts models.UsageCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM contacts WHERE user_id = $1),
		  (SELECT COUNT(*) FROM events WHERE user_id = $1)`, userID,
	).Scan(&counts.Contacts, &counts.Events)
	if err != nil {
		return models.UsageCounts{}, fmt.Errorf("usage counts: %w", err)
	}
	return counts, nil
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
