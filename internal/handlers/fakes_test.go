package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/models"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/store"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
)

var testNow = time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC)

func pinClock(t *testing.T) {
	t.Helper()
	prev := now
	now = func() time.Time { return testNow }
	t.Cleanup(func() { now = prev })
}

// fakeStore is an in-memory stand-in for the Postgres store.
type fakeStore struct {
	mu        sync.Mutex
	subs      map[string]*models.Subscription
	balances  map[string]int
	usage     map[string]models.UsageCounts
	refs      map[string]bool
	spends    []string
	err       error
	spendErr  error
	creditErr error
	jobs      []*models.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subs:     map[string]*models.Subscription{},
		balances: map[string]int{},
		usage:    map[string]models.UsageCounts{},
		refs:     map[string]bool{},
	}
}

func (f *fakeStore) withSub(userID string, tier tiers.Tier, balance int) *fakeStore {
	f.subs[userID] = &models.Subscription{
		ID:                 int64(len(f.subs) + 1),
		UserID:             userID,
		Tier:               tier,
		Status:             models.SubscriptionActive,
		CurrentPeriodStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	f.balances[userID] = balance
	return f
}

func (f *fakeStore) GetSubscription(_ context.Context, userID string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[userID]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeStore) GetSubscriptionByStripeID(_ context.Context, id string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID == id {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, store.ErrSubscriptionNotFound
}

func (f *fakeStore) GetTokenBalance(_ context.Context, userID string) (*models.TokenBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.TokenBalance{UserID: userID, Balance: f.balances[userID]}, nil
}

func (f *fakeStore) UsageCounts(_ context.Context, userID string) (models.UsageCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage[userID], nil
}

func (f *fakeStore) SpendTokens(_ context.Context, userID string, amount int, channel string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spendErr != nil {
		return 0, f.spendErr
	}
	if f.balances[userID] < amount {
		return 0, store.ErrInsufficientTokens
	}
	f.balances[userID] -= amount
	f.spends = append(f.spends, channel)
	return f.balances[userID], nil
}

// ApplyPlanChange saves and credits together; a credit error leaves nothing written.
func (f *fakeStore) ApplyPlanChange(_ context.Context, sub *models.Subscription, credit int, reference string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, false, f.err
	}
	if credit > 0 && f.creditErr != nil {
		return 0, false, f.creditErr
	}
	cp := *sub
	f.subs[sub.UserID] = &cp
	if credit == 0 {
		return 0, false, nil
	}
	return f.creditLocked(sub.UserID, models.TokenProrate, credit, reference)
}

func (f *fakeStore) CreditTokens(_ context.Context, userID string, kind models.TokenTransactionKind, amount int, reference string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.creditErr != nil {
		return 0, false, f.creditErr
	}
	return f.creditLocked(userID, kind, amount, reference)
}

func (f *fakeStore) creditLocked(userID string, kind models.TokenTransactionKind, amount int, reference string) (int, bool, error) {
	if f.refs[reference] {
		return f.balances[userID], false, nil
	}
	f.refs[reference] = true
	f.balances[userID] += amount
	if kind == models.TokenPurchase {
		if sub, ok := f.subs[userID]; ok {
			sub.TotalTokensPurchased += amount
		}
	}
	return f.balances[userID], true, nil
}

func (f *fakeStore) CreditPurchase(ctx context.Context, userID string, amount int, reference string) (int, bool, error) {
	return f.CreditTokens(ctx, userID, models.TokenPurchase, amount, reference)
}

func (f *fakeStore) UpdateSubscriptionStatus(_ context.Context, id string, status models.SubscriptionStatus, start, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID == id {
			sub.Status = status
			sub.CurrentPeriodStart = start
			sub.CurrentPeriodEnd = end
			return nil
		}
	}
	return store.ErrSubscriptionNotFound
}

func (f *fakeStore) ChangeTier(_ context.Context, userID string, tier tiers.Tier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[userID]
	if !ok {
		return store.ErrSubscriptionNotFound
	}
	sub.Tier = tier
	return nil
}

func (f *fakeStore) Enqueue(_ context.Context, job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := job.Validate(); err != nil {
		return err
	}
	job.ID = int64(len(f.jobs) + 1)
	job.Status = models.JobStatusPending
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id int64) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, store.ErrJobNotFound
}

func (f *fakeStore) GetStats(context.Context) (*models.JobStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &models.JobStats{Pending: len(f.jobs), Total: len(f.jobs)}, nil
}

var errDB = errors.New("database unavailable")

// serve mounts h at pattern so chi URL params resolve, then issues one request.
func serve(t *testing.T, method, pattern, path string, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Method(method, pattern, h)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
