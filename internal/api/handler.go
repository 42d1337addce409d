// Package api exposes the batch controller over HTTP.
package api

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mediacheck/mediacheck/internal/batch"
	"github.com/mediacheck/mediacheck/internal/checker"
	"github.com/mediacheck/mediacheck/internal/errors"
	"github.com/mediacheck/mediacheck/internal/job"
	"github.com/mediacheck/mediacheck/internal/notify"
	"github.com/mediacheck/mediacheck/internal/results"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Options configures a Handler.
type Options struct {
	// FFmpegPath is used in generated repair commands.
	FFmpegPath string
	// AllowedOrigins are accepted by the WebSocket endpoint in addition to
	// same-origin requests. A single "*" accepts any origin.
	AllowedOrigins []string
}

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	ctrl *batch.Controller
	hub  *notify.Hub[batch.Event]
	opts Options
	log  *zap.SugaredLogger
}

// NewHandler constructs a Handler. hub must be registered as a publisher on
// ctrl for the event streams to receive anything.
func NewHandler(ctrl *batch.Controller, hub *notify.Hub[batch.Event], opts Options, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{ctrl: ctrl, hub: hub, opts: opts, log: log.Named("api")}
}

// RegisterRoutes registers all API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/health", h.Health)

	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("POST /api/v1/jobs", h.AddJobs)
	mux.HandleFunc("DELETE /api/v1/jobs", h.ClearJobs)
	mux.HandleFunc("POST /api/v1/jobs/remove", h.RemoveJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /api/v1/jobs/{id}", h.DeleteJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/repair", h.RepairCommand)

	mux.HandleFunc("GET /api/v1/batch", h.BatchStatus)
	mux.HandleFunc("POST /api/v1/batch/{action}", h.BatchAction)
	mux.HandleFunc("PUT /api/v1/settings", h.UpdateSettings)

	mux.HandleFunc("GET /api/v1/export", h.Export)
	mux.HandleFunc("POST /api/v1/import", h.Import)

	mux.HandleFunc("GET /api/v1/events", h.StreamSSE)
	mux.HandleFunc("GET /api/v1/ws", h.StreamWS)
}

// Health handles GET /api/v1/health. It reports whether ffmpeg is usable
// and is served without authentication.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	st, err := h.ctrl.Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  st.State,
		"ffmpeg": st.Tool,
	})
}

type addJobsRequest struct {
	Paths []string `json:"paths"`
	// Discover expands directories and filters by media extension.
	Discover bool `json:"discover"`
}

// AddJobs handles POST /api/v1/jobs and responds 201 with the added jobs.
func (h *Handler) AddJobs(w http.ResponseWriter, r *http.Request) {
	var req addJobsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "paths must not be empty")
		return
	}

	paths := req.Paths
	if req.Discover {
		var err error
		if paths, err = results.Discover(req.Paths...); err != nil {
			writeErr(w, err)
			return
		}
	}

	res, err := h.ctrl.AddJobs(r.Context(), paths)
	if err != nil {
		writeErr(w, err)
		return
	}
	if res.Added == nil {
		res.Added = []*job.Job{}
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListJobs handles GET /api/v1/jobs and responds 200 with a paginated list of
// jobs, optionally filtered by ?status=.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := min(parseIntParam(r.URL.Query().Get("limit"), defaultPageSize), maxPageSize)
	offset := max(parseIntParam(r.URL.Query().Get("offset"), 0), 0)
	if limit < 1 {
		limit = defaultPageSize
	}

	var filter job.Status
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := job.ParseStatus(s)
		if err != nil {
			writeErr(w, err)
			return
		}
		filter = st
	}

	all, err := h.ctrl.Jobs(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if filter != "" {
		kept := all[:0]
		for _, j := range all {
			if j.Status == filter {
				kept = append(kept, j)
			}
		}
		all = kept
	}

	total := len(all)
	page := []*job.Job{}
	if offset < total {
		page = all[offset:min(offset+limit, total)]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   page,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// parseIntParam parses a query string integer, returning the fallback on empty or invalid input.
func parseIntParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

// GetJob handles GET /api/v1/jobs/{id} and responds 200 with the job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.ctrl.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// DeleteJob handles DELETE /api/v1/jobs/{id} and responds 204.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.RemoveJob(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearJobs handles DELETE /api/v1/jobs.
func (h *Handler) ClearJobs(w http.ResponseWriter, r *http.Request) {
	n, err := h.ctrl.Clear(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// RemoveJobs handles POST /api/v1/jobs/remove with {"paths": [...]}.
func (h *Handler) RemoveJobs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths []string `json:"paths"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}
	n, err := h.ctrl.RemoveJobs(r.Context(), req.Paths)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// RepairCommand handles GET /api/v1/jobs/{id}/repair. It returns the ffmpeg
// command that re-muxes or re-encodes the job's file; nothing is executed.
func (h *Handler) RepairCommand(w http.ResponseWriter, r *http.Request) {
	j, err := h.ctrl.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	method, err := checker.ParseRepairMethod(r.URL.Query().Get("method"))
	if err != nil {
		writeErr(w, err)
		return
	}
	out := r.URL.Query().Get("output")
	if out == "" {
		out = checker.DefaultRepairOutput(j.Path)
	}
	args := checker.RepairArgs(h.opts.FFmpegPath, j.Path, out, method)
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  j.ID,
		"method":  method,
		"output":  out,
		"args":    args,
		"command": checker.QuoteArgs(args),
	})
}

// BatchStatus handles GET /api/v1/batch.
func (h *Handler) BatchStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.ctrl.Status(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// BatchAction handles POST /api/v1/batch/{action} and responds with the
// resulting status.
func (h *Handler) BatchAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	action := r.PathValue("action")

	var err error
	switch action {
	case "start":
		err = h.ctrl.Start(ctx)
	case "pause":
		err = h.ctrl.Pause(ctx)
	case "resume":
		err = h.ctrl.Resume(ctx)
	case "cancel":
		err = h.ctrl.Cancel(ctx)
	case "retry-failed":
		err = h.ctrl.RetryFailed(ctx)
	case "clear-verified":
		_, err = h.ctrl.ClearVerified(ctx)
	case "move-failed":
		var req struct {
			Destination string `json:"destination"`
		}
		if err = decodeBody(w, r, &req); err == nil {
			if strings.TrimSpace(req.Destination) == "" {
				err = errors.Wrap(errors.ErrInvalidArgument, "destination must not be empty")
			} else {
				err = h.ctrl.MoveFailed(ctx, req.Destination)
			}
		}
	case "verify-tool":
		_, err = h.ctrl.VerifyTool(ctx)
	default:
		writeError(w, http.StatusNotFound, "unknown batch action "+strconv.Quote(action))
		return
	}
	if err != nil {
		h.log.Debugw("batch action rejected", "action", action, "error", err)
		writeErr(w, err)
		return
	}
	h.BatchStatus(w, r)
}

type settingsRequest struct {
	Concurrency *int  `json:"concurrency"`
	FastCheck   *bool `json:"fast_check"`
	FastSeconds *int  `json:"fast_seconds"`
}

// UpdateSettings handles PUT /api/v1/settings. Omitted fields keep their
// current value.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}
	ctx := r.Context()
	if req.Concurrency != nil {
		if err := h.ctrl.SetConcurrency(ctx, *req.Concurrency); err != nil {
			writeErr(w, err)
			return
		}
	}
	if req.FastCheck != nil || req.FastSeconds != nil {
		cur, err := h.ctrl.Settings(ctx)
		if err != nil {
			writeErr(w, err)
			return
		}
		enabled := cur.FastCheck
		if req.FastCheck != nil {
			enabled = *req.FastCheck
		}
		secs := 0
		if req.FastSeconds != nil {
			secs = *req.FastSeconds
		}
		if err := h.ctrl.SetFastCheck(ctx, enabled, secs); err != nil {
			writeErr(w, err)
			return
		}
	}
	s, err := h.ctrl.Settings(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
