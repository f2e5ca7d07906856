package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/models"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/store"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/worker"
)

// JobReader exposes read access to the background job queue.
type JobReader interface {
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	GetStats(ctx context.Context) (*models.JobStats, error)
}

// WorkerStats reports in-process worker counters.
type WorkerStats interface {
	GetStats() worker.Stats
}

// GetJob retrieves a job by ID
func GetJob(jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid job ID", http.StatusBadRequest)
			return
		}

		job, err := jobs.GetByID(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				http.Error(w, "job not found", http.StatusNotFound)
				return
			}
			log.Error().Err(err).Int64("job_id", jobID).Msg("[jobs] failed to get job")
			http.Error(w, "failed to retrieve job", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, job)
	}
}

// JobStats returns queue counts and, when a worker runs in-process, its counters.
func JobStats(jobs JobReader, wk WorkerStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := jobs.GetStats(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("[jobs] failed to get stats")
			http.Error(w, "failed to retrieve job stats", http.StatusInternalServerError)
			return
		}

		resp := map[string]any{"queue": stats}
		if wk != nil {
			resp["worker"] = wk.GetStats()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// TriggerGrantSweep enqueues a monthly token grant sweep outside the regular schedule.
func TriggerGrantSweep(jobs Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := &models.Job{JobType: models.JobTokenGrantSweep, Priority: models.JobPriorityNormal}
		if err := jobs.Enqueue(r.Context(), job); err != nil {
			log.Error().Err(err).Msg("[jobs] failed to enqueue grant sweep")
			http.Error(w, "failed to enqueue job", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"id": job.ID, "status": job.Status})
	}
}
