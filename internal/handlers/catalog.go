package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
)

// Catalog lists every tier's entitlements in ascending order.
func Catalog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"tiers": tiers.Catalog()})
	}
}

// TierDetail returns one tier's entitlements.
func TierDetail() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tier, err := tiers.Parse(chi.URLParam(r, "tier"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, tiers.Of(tier))
	}
}
