// Package queue implements the durable upload queue: jobs move through
// pending, uploading and one of complete, failed or paused, are pumped one
// at a time per provider through the matching storage adapter, and survive
// restarts in a SQLite database.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

// Status is a job's position in the upload state machine.
type Status string

// Job statuses.
const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusPaused    Status = "paused"
	StatusFailed    Status = "failed"
	StatusComplete  Status = "complete"
)

// AllStatuses lists statuses in display order.
var AllStatuses = []Status{StatusPending, StatusUploading, StatusPaused, StatusFailed, StatusComplete}

// Sentinel errors.
var (
	ErrJobNotFound       = errors.New("queue: job not found")
	ErrInvalidTransition = errors.New("queue: invalid status transition")
	ErrJobActive         = errors.New("queue: job is uploading")
)

// transitions lists the moves a caller may request. uploading -> pending is
// absent: only crash recovery and a cancelled pump demote a job, and both go
// through demote.
var transitions = map[Status][]Status{
	StatusPending:   {StatusUploading, StatusPaused},
	StatusUploading: {StatusComplete, StatusFailed, StatusPaused},
	StatusFailed:    {StatusPending},
	StatusPaused:    {StatusPending},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

// TransitionError reports a refused status change.
type TransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("queue: job %s cannot move from %s to %s", e.JobID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Job is one upload. Copies handed out by Queue are snapshots.
type Job struct {
	ID         string        `json:"id"`
	Provider   auth.Provider `json:"provider"`
	LocalPath  string        `json:"local_path"`
	RemotePath string        `json:"remote_path"`
	Status     Status        `json:"status"`
	Progress   float64       `json:"progress"`
	Retries    int           `json:"retries"`
	Error      string        `json:"error,omitempty"`
	ObjectID   string        `json:"object_id,omitempty"`
	WebURL     string        `json:"web_url,omitempty"`
	Size       int64         `json:"size,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`

	// NextAttempt holds an automatic retry back until the backoff elapses.
	NextAttempt time.Time `json:"next_attempt,omitzero"`

	pauseRequested bool
}

// Terminal reports whether the job needs user action to move again.
func (j *Job) Terminal() bool {
	return j.Status == StatusComplete || j.Status == StatusFailed || j.Status == StatusPaused
}

func (j *Job) snapshot() Job {
	c := *j
	c.pauseRequested = false

	return c
}

// EventKind names what happened to a job.
type EventKind string

// Event kinds.
const (
	EventEnqueued  EventKind = "enqueued"
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventRetrying  EventKind = "retrying"
	EventPaused    EventKind = "paused"
	EventResumed   EventKind = "resumed"
	EventRemoved   EventKind = "removed"
)

// Event is delivered to OnEvent listeners. Job is a snapshot taken when the
// event happened.
type Event struct {
	Kind EventKind `json:"kind"`
	Job  Job       `json:"job"`
	At   time.Time `json:"at"`
}
