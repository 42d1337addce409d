package api

import (
	"encoding/json"
	"net/http"

	"github.com/mediacheck/mediacheck/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps controller and import errors to HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	body := map[string]any{"error": err.Error()}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		body["hint"] = errors.FlattenHints(err)
	}
	writeJSON(w, status, body)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.IsAny(err, errors.ErrInvalidArgument, errors.ErrImport):
		return http.StatusBadRequest
	case errors.IsAny(err, errors.ErrInvalidState, errors.ErrRunActive, errors.ErrNothingToDo):
		return http.StatusConflict
	case errors.IsAny(err, errors.ErrToolUnavailable, errors.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON request body of at most 1 MB.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(errors.ErrInvalidArgument, "invalid JSON body")
	}
	return nil
}
