package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health responds with 200 when the service and its database are up, 503 otherwise.
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"status":    "ok",
			"timestamp": now().UTC().Format(time.RFC3339Nano),
		}
		status := http.StatusOK

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				log.Warn().Err(err).Msg("[health] database ping failed")
				payload["status"] = "degraded"
				payload["database"] = "unreachable"
				status = http.StatusServiceUnavailable
			} else {
				payload["database"] = "ok"
			}
		}

		writeJSON(w, status, payload)
	}
}
