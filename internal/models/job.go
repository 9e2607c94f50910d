package models

import (
	"time"
)

// Job event names recorded while a worker handles a claim.
const (
	EventClaimed   = "claimed"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventReleased  = "released"
)

// JobEvent is one step of a job's life as seen by a single worker.
type JobEvent struct {
	ID       string        `json:"id"`
	JobKey   string        `json:"job_key"`
	WorkerID string        `json:"worker_id"`
	Event    string        `json:"event"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Recorded time.Time     `json:"recorded_at"`
}

// WorkerStatus is the heartbeat a worker publishes for operators.
type WorkerStatus struct {
	WorkerID  string    `json:"worker_id"`
	Hostname  string    `json:"hostname"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	Job       string    `json:"job,omitempty"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	UpdatedAt time.Time `json:"updated_at"`
}
