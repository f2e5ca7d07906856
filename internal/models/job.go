package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is where a job is in the queue lifecycle
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// JobPriority orders claims; higher weights are claimed first
type JobPriority string

const (
	JobPriorityLow    JobPriority = "low"
	JobPriorityNormal JobPriority = "normal"
	JobPriorityHigh   JobPriority = "high"
)

// PriorityWeights maps priorities to the numeric weight stored alongside each job
var PriorityWeights = map[JobPriority]int{
	JobPriorityHigh:   75,
	JobPriorityNormal: 50,
	JobPriorityLow:    25,
}

// Job types handled by the worker.
const (
	JobTokenGrantSweep   = "token_grant_sweep"
	JobMonthlyTokenGrant = "monthly_token_grant"
	JobTokenLimitNotice  = "token_limit_notice"
)

// Job is a unit of background work
type Job struct {
	ID          int64       `json:"id"`
	JobType     string      `json:"job_type"`
	Payload     JSONB       `json:"payload"`
	Status      JobStatus   `json:"status"`
	Priority    JobPriority `json:"priority"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	LastError   *string     `json:"last_error,omitempty"`
	RetryAfter  *time.Time  `json:"retry_after,omitempty"`
	WorkerID    *string     `json:"worker_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// JSONB maps a Postgres JSONB column
type JSONB map[string]any

// Value implements driver.Valuer
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return json.Marshal(map[string]any{})
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner
func (j *JSONB) Scan(value any) error {
	if value == nil {
		*j = JSONB{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into JSONB", value)
	}
	return json.Unmarshal(raw, j)
}

// String returns a string payload field, or "" when absent or not a string.
func (j JSONB) String(key string) string {
	s, _ := j[key].(string)
	return s
}

// Int returns a numeric payload field. JSON numbers decode as float64, values
// built in-process may still be ints.
func (j JSONB) Int(key string) (int, bool) {
	switch v := j[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}

// JobStats counts jobs per status
type JobStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// Validate fills defaults and rejects jobs that can never run
func (j *Job) Validate() error {
	if j.JobType == "" {
		return fmt.Errorf("job type is required")
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 3
	}
	if j.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if j.Priority == "" {
		j.Priority = JobPriorityNormal
	}
	if _, ok := PriorityWeights[j.Priority]; !ok {
		return fmt.Errorf("unknown priority %q", j.Priority)
	}
	return nil
}

// CanRetry reports whether another attempt is allowed
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts && j.Status != JobStatusCancelled
}
