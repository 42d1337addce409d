package batch

import (
	"time"

	"github.com/mediacheck/mediacheck/internal/job"
	"github.com/mediacheck/mediacheck/internal/results"
)

type EventType string

const (
	EventJobAdded      EventType = "job_added"
	EventJobRemoved    EventType = "job_removed"
	EventJobStatus     EventType = "job_status"
	EventProgress      EventType = "progress"
	EventState         EventType = "state"
	EventBatchFinished EventType = "batch_finished"
	EventMoveFinished  EventType = "move_finished"
	EventToolStatus    EventType = "tool_status"
)

// ToolStatus reports whether ffmpeg can be invoked.
type ToolStatus struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Event is published to observers after every change the controller makes.
// Only the fields relevant to Type are set.
type Event struct {
	Type      EventType            `json:"type"`
	Time      time.Time            `json:"time"`
	Run       int                  `json:"run,omitempty"`
	Job       *job.Job             `json:"job,omitempty"`
	JobIDs    []string             `json:"job_ids,omitempty"`
	State     State                `json:"state,omitempty"`
	Processed int                  `json:"processed"`
	Target    int                  `json:"target"`
	Summary   *results.Summary     `json:"summary,omitempty"`
	Move      *results.MoveSummary `json:"move,omitempty"`
	Tool      *ToolStatus          `json:"tool,omitempty"`
}

// Publisher receives controller events. Publish is called from the
// controller loop and must not block.
type Publisher interface {
	Publish(Event)
}

// Publishers fans an event out to several publishers in order.
type Publishers []Publisher

func (ps Publishers) Publish(ev Event) {
	for _, p := range ps {
		p.Publish(ev)
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
