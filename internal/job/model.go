package job

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mediacheck/mediacheck/internal/errors"
)

type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusOK        Status = "OK"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// DefaultDetails is the details text of a freshly added job.
const DefaultDetails = "Queued"

// IsTerminal returns true for statuses that represent a final state.
func (s Status) IsTerminal() bool {
	return s == StatusOK || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusOK, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", errors.Wrapf(errors.ErrInvalidArgument, "unknown status %q", s)
	}
	return st, nil
}

// CanTransition reports whether a run may move a job from one status to
// another. Re-queueing a non-OK job at the start of a run is the only edge
// leaving a terminal status.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusOK || to == StatusFailed
	case StatusFailed, StatusCancelled:
		return to == StatusQueued
	case StatusOK:
		return false
	}
	return false
}

type Job struct {
	ID          string     `json:"id"`
	Path        string     `json:"path"`
	Status      Status     `json:"status"`
	Details     string     `json:"details"`
	Attempts    int        `json:"attempts"`
	Seq         int64      `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New returns a QUEUED job for path.
func New(path string) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Path:      path,
		Status:    StatusQueued,
		Details:   DefaultDetails,
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a copy that shares no pointers with j.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
