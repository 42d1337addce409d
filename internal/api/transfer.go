package api

import (
	"bytes"
	"net/http"

	"github.com/mediacheck/mediacheck/internal/errors"
	"github.com/mediacheck/mediacheck/internal/results"
)

// Export handles GET /api/v1/export?format=csv|json|yaml|toml.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	f, err := results.ParseFormat(r.URL.Query().Get("format"))
	if err == nil && f == results.FormatText {
		err = errors.Wrap(errors.ErrInvalidArgument, "path lists can only be imported")
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	jobs, err := h.ctrl.Jobs(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	var buf bytes.Buffer
	if err := results.Write(&buf, f, results.Entries(jobs)); err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="mediacheck.`+string(f)+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck
}

// Import handles POST /api/v1/import?format=. The body replaces the queue;
// entries whose file no longer exists are skipped and counted.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	f, err := results.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeErr(w, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 32<<20)
	rep, err := results.Import(r.Body, f)
	if err != nil {
		writeErr(w, err)
		return
	}
	loaded, err := h.ctrl.Replace(r.Context(), rep.Entries)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.log.Infow("queue imported", "format", f, "loaded", len(loaded), "skipped", rep.Skipped())
	writeJSON(w, http.StatusOK, map[string]int{
		"loaded":     len(loaded),
		"missing":    rep.Missing,
		"invalid":    rep.Invalid,
		"duplicates": rep.Duplicates,
	})
}
