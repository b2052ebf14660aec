package models

import "time"

// Timer is one durable scheduler entry: resume this execution at this
// time. Timers live in a durable store, never in-process, so scheduled
// resumptions survive restarts.
type Timer struct {
	ExecutionID string    `json:"execution_id" validate:"required"`
	ResumeAt    time.Time `json:"resume_at"    validate:"required"`

	// Epoch pins the timer to the wait entry that created it. A resume
	// delivery with a stale epoch is dropped by the state machine.
	Epoch int `json:"epoch"`

	// Attempts counts failed resumption deliveries for backoff.
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}
