// Package results tallies job outcomes and converts the job list to and
// from export formats.
package results

import (
	"fmt"
	"strings"

	"github.com/mediacheck/mediacheck/internal/job"
)

// Tally counts jobs per status.
type Tally struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	OK        int `json:"ok"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// Count tallies jobs by status.
func Count(jobs []*job.Job) Tally {
	var t Tally
	for _, j := range jobs {
		t.add(j.Status)
	}
	return t
}

func (t *Tally) add(s job.Status) {
	t.Total++
	switch s {
	case job.StatusQueued:
		t.Queued++
	case job.StatusRunning:
		t.Running++
	case job.StatusOK:
		t.OK++
	case job.StatusFailed:
		t.Failed++
	case job.StatusCancelled:
		t.Cancelled++
	}
}

// Of returns the count for s.
func (t Tally) Of(s job.Status) int {
	switch s {
	case job.StatusQueued:
		return t.Queued
	case job.StatusRunning:
		return t.Running
	case job.StatusOK:
		return t.OK
	case job.StatusFailed:
		return t.Failed
	case job.StatusCancelled:
		return t.Cancelled
	}
	return 0
}

// Has reports whether at least one job has status s.
func (t Tally) Has(s job.Status) bool {
	return t.Of(s) > 0
}

// Summary describes the end of a batch run.
type Summary struct {
	Run       int      `json:"run"`
	Cancelled bool     `json:"cancelled"`
	Processed int      `json:"processed"`
	Target    int      `json:"target"`
	Tally     Tally    `json:"tally"`
	Failed    []string `json:"failed,omitempty"`
}

// Summarize builds the summary of a finished or cancelled run.
func Summarize(jobs []*job.Job, cancelled bool) Summary {
	s := Summary{Cancelled: cancelled, Tally: Count(jobs)}
	for _, j := range jobs {
		if j.Status == job.StatusFailed {
			s.Failed = append(s.Failed, j.Path)
		}
	}
	return s
}

func (s Summary) String() string {
	var b strings.Builder
	if s.Cancelled {
		b.WriteString("Batch processing cancelled.")
	} else {
		b.WriteString("Processing complete!")
	}
	fmt.Fprintf(&b, "\n\n✅ Verified: %d\n❌ Failed: %d\n🚫 Cancelled: %d",
		s.Tally.OK, s.Tally.Failed, s.Tally.Cancelled)
	if len(s.Failed) > 0 {
		b.WriteString("\n\nFailed files:\n")
		b.WriteString(strings.Join(s.Failed, "\n"))
	}
	return b.String()
}

// MoveSummary reports the result of moving failed files.
type MoveSummary struct {
	Destination string   `json:"destination"`
	Moved       int      `json:"moved"`

	// Skipped counts failed files that already sat in Destination.
	Skipped int      `json:"skipped,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func (m MoveSummary) String() string {
	msg := fmt.Sprintf("Moved %d file(s).", m.Moved)
	if m.Skipped > 0 {
		msg += fmt.Sprintf(" %d already in the destination.", m.Skipped)
	}
	if len(m.Errors) > 0 {
		msg += "\n\nErrors:\n" + strings.Join(m.Errors, "\n")
	}
	return msg
}
