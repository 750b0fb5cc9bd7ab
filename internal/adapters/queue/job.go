package queue

import (
	"encoding/json"
	"time"
)

// State is the lifecycle state of a job
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is one unit of queued work. Payload is opaque JSON owned by the
// enqueuing component.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	NotBefore   time.Time       `json:"not_before"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	State       State           `json:"state"`
	LastError   string          `json:"last_error,omitempty"`
}

// Decode unmarshals the payload into out
func (j *Job) Decode(out interface{}) error {
	return json.Unmarshal(j.Payload, out)
}

// AttemptsExhausted reports whether the job has no retries left
func (j *Job) AttemptsExhausted() bool {
	return j.Attempt >= j.MaxAttempts
}
