package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/limits"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
)

func TestCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tiers", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"tiers": tiers.Catalog()})
	}))
	defer srv.Close()

	got, err := New(srv.URL+"/", nil).Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, tiers.Enterprise, got[3].Tier)
}

func TestCapabilityEscapesPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/users/a%2Fb/capabilities/use_telegram", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"tier":"basic","action":"use_telegram","allowed":false,"upgrade":{"recommended":"pro","reason":"x"}}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL, nil).Capability(context.Background(), "a/b", limits.ActionUseTelegram)
	require.NoError(t, err)
	assert.False(t, got.Allowed)
	require.NotNil(t, got.Upgrade)
	assert.Equal(t, tiers.Pro, got.Upgrade.Recommended)
}

func TestPreviewPlanChangeSendsBody(t *testing.T) {
	changeDate := time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pro", body["to_tier"])
		assert.Equal(t, "2025-03-17T00:00:00Z", body["change_date"])
		_, _ = w.Write([]byte(`{"change":{"from_tier":"basic","to_tier":"pro","prorated_tokens":10},"summary":"48%"}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL, nil).PreviewPlanChange(context.Background(), "u1", tiers.Pro, changeDate)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Change.ProratedTokens)
	assert.Equal(t, "48%", got.Summary)
}

func TestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown action", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).PurchaseCheck(context.Background(), "u1", 5)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "unknown action")
}
