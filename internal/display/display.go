// Package display renders batch events in a terminal with pterm.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"

	"github.com/mediacheck/mediacheck/internal/batch"
	"github.com/mediacheck/mediacheck/internal/job"
	"github.com/mediacheck/mediacheck/internal/results"
)

// Options control what a Renderer prints.
type Options struct {
	// Verbose prints a line for every verified file, not only failures.
	Verbose bool
	// Plain disables the progress bar, for logs and non-terminal output.
	Plain bool
}

// Renderer prints per-file results, a progress bar and run summaries.
// It is driven from a single goroutine by Run or Render.
type Renderer struct {
	w    io.Writer
	opts Options
	bar  *pterm.ProgressbarPrinter
	run  int
}

func New(w io.Writer, opts Options) *Renderer {
	if w == nil {
		w = os.Stdout
	}
	return &Renderer{w: w, opts: opts}
}

// Run renders events until the channel is closed.
func (r *Renderer) Run(events <-chan batch.Event) {
	for ev := range events {
		r.Render(ev)
	}
	r.stopBar()
}

// Render prints a single event.
func (r *Renderer) Render(ev batch.Event) {
	switch ev.Type {
	case batch.EventJobStatus:
		r.jobStatus(ev.Job)
	case batch.EventProgress:
		r.progress(ev)
	case batch.EventBatchFinished:
		r.stopBar()
		if ev.Summary != nil {
			PrintSummary(r.w, *ev.Summary)
		}
	case batch.EventMoveFinished:
		if ev.Move != nil {
			PrintMove(r.w, *ev.Move)
		}
	case batch.EventToolStatus:
		if ev.Tool != nil && !ev.Tool.Available {
			pterm.Error.WithWriter(r.w).Printfln("ffmpeg unavailable: %s", ev.Tool.Error)
		}
	}
}

func (r *Renderer) jobStatus(j *job.Job) {
	if j == nil {
		return
	}
	switch j.Status {
	case job.StatusOK:
		if r.opts.Verbose {
			pterm.Fprintln(r.w, "✅ "+j.Path)
		}
	case job.StatusFailed:
		pterm.Fprintln(r.w, "❌ "+j.Path+pterm.Gray(" "+firstLine(j.Details)))
	}
}

func (r *Renderer) progress(ev batch.Event) {
	if r.opts.Plain || ev.Target == 0 {
		return
	}
	if r.bar == nil || ev.Run != r.run {
		r.stopBar()
		bar, err := pterm.DefaultProgressbar.
			WithTotal(ev.Target).
			WithTitle(fmt.Sprintf("Run %d", ev.Run)).
			WithWriter(r.w).
			Start()
		if err != nil {
			r.opts.Plain = true
			return
		}
		r.bar, r.run = bar, ev.Run
	}
	// The target grows when failed files are retried into a paused run.
	r.bar.Total = ev.Target
	if d := ev.Processed - r.bar.Current; d > 0 {
		r.bar.Add(d)
	}
}

func (r *Renderer) stopBar() {
	if r.bar != nil {
		r.bar.Stop() //nolint:errcheck
		r.bar = nil
	}
}

// PrintSummary prints the end-of-run report.
func PrintSummary(w io.Writer, s results.Summary) {
	if s.Cancelled {
		pterm.Warning.WithWriter(w).Printfln("Run %d cancelled", s.Run)
	} else {
		pterm.Success.WithWriter(w).Printfln("Run %d complete: %d files checked", s.Run, s.Processed)
	}
	pterm.DefaultTable.WithWriter(w).WithHasHeader().WithData(pterm.TableData{
		{"Status", "Files"},
		{"✅ Verified", fmt.Sprint(s.Tally.OK)},
		{"❌ Failed", fmt.Sprint(s.Tally.Failed)},
		{"🚫 Cancelled", fmt.Sprint(s.Tally.Cancelled)},
		{"Total", fmt.Sprint(s.Tally.Total)},
	}).Render() //nolint:errcheck

	if len(s.Failed) > 0 {
		pterm.Fprintln(w, "\nFailed files:")
		for _, p := range s.Failed {
			pterm.Fprintln(w, "  "+p)
		}
	}
}

// PrintMove prints the outcome of moving failed files.
func PrintMove(w io.Writer, m results.MoveSummary) {
	if m.Skipped > 0 {
		pterm.Info.WithWriter(w).Printfln("%d failed file(s) already in %s", m.Skipped, m.Destination)
	}
	if len(m.Errors) == 0 {
		pterm.Success.WithWriter(w).Printfln("Moved %d file(s) to %s", m.Moved, m.Destination)
		return
	}
	pterm.Warning.WithWriter(w).Printfln("Moved %d file(s) to %s, %d error(s)", m.Moved, m.Destination, len(m.Errors))
	for _, e := range m.Errors {
		pterm.Fprintln(w, "  "+e)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
