package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mediacheck/mediacheck/internal/batch"
	"github.com/mediacheck/mediacheck/internal/checker"
	"github.com/mediacheck/mediacheck/internal/dispatch"
	"github.com/mediacheck/mediacheck/internal/errors"
	"github.com/mediacheck/mediacheck/internal/notify"
)

const testAPIKey = "test-api-key"

// stubChecker fails every path containing "bad". With a gate, checks block
// until the gate is closed.
type stubChecker struct {
	gate chan struct{}
}

func (s *stubChecker) Check(ctx context.Context, path string, _ checker.Options) (checker.Result, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return checker.Result{Details: "Check interrupted."}, ctx.Err()
		}
	}
	if strings.Contains(filepath.Base(path), "bad") {
		return checker.Result{Details: "Invalid NAL unit size"}, errors.Mark(errors.New("decode errors"), errors.ErrToolFailure)
	}
	return checker.Result{Success: true, Details: "OK"}, nil
}

type testServer struct {
	*httptest.Server
	ctrl *batch.Controller
	hub  *notify.Hub[batch.Event]
}

func newTestServer(t *testing.T, chk checker.Checker) *testServer {
	t.Helper()

	hub := notify.NewHub[batch.Event]()
	pool := dispatch.New(context.Background(), 2, nil)
	ctrl := batch.New(pool, chk,
		batch.WithPublisher(hub),
		batch.WithSettings(batch.Settings{Concurrency: 2, MaxConcurrency: 4, FastSeconds: 60}),
	)
	h := NewHandler(ctrl, hub, Options{FFmpegPath: "ffmpeg"}, zap.NewNop().Sugar())

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	handler := Chain(mux,
		CORS([]string{"http://ui.example"}),
		RequestID,
		Logging(zap.NewNop().Sugar()),
		Auth([]string{testAPIKey}),
	)

	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ctrl.Close(ctx, true) //nolint:errcheck
	})
	return &testServer{Server: srv, ctrl: ctrl, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			r = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, s.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", testAPIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func mediaFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(out[i], []byte("x"), 0o644))
	}
	return out
}

func waitState(t *testing.T, s *testServer, want batch.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := s.ctrl.Status(context.Background())
		return err == nil && st.State == want
	}, 5*time.Second, 5*time.Millisecond)
}

func TestHealth_NoAuth(t *testing.T) {
	s := newTestServer(t, &stubChecker{})

	resp, err := http.Get(s.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "IDLE", body["state"])
}

func TestAuth_Rejects(t *testing.T) {
	s := newTestServer(t, &stubChecker{})

	resp, err := http.Get(s.URL + "/api/v1/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, s.URL+"/api/v1/jobs", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	resp3, err := http.Get(s.URL + "/api/v1/jobs?api_key=" + testAPIKey)
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)
}

func TestJobs_AddListGetDelete(t *testing.T) {
	s := newTestServer(t, &stubChecker{})
	files := mediaFiles(t, "a.mkv", "b.mp4")

	resp := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"paths": append(files, files[0])})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	added := decodeJSON[batch.AddResult](t, resp)
	require.Len(t, added.Added, 2)
	assert.Equal(t, []string{files[0]}, added.Duplicates)
	assert.Equal(t, "QUEUED", string(added.Added[0].Status))

	resp = s.do(t, http.MethodGet, "/api/v1/jobs?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeJSON[struct {
		Jobs  []map[string]any `json:"jobs"`
		Total int              `json:"total"`
		Limit int              `json:"limit"`
	}](t, resp)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 1, list.Limit)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, files[0], list.Jobs[0]["path"])

	id := added.Added[1].ID
	resp = s.do(t, http.MethodGet, "/api/v1/jobs/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeJSON[map[string]any](t, resp)
	assert.Equal(t, files[1], got["path"])

	resp = s.do(t, http.MethodDelete, "/api/v1/jobs/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/jobs/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/jobs?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobs_AddValidation(t *testing.T) {
	s := newTestServer(t, &stubChecker{})

	resp := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"paths": []string{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/jobs", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobs_AddDiscover(t *testing.T) {
	s := newTestServer(t, &stubChecker{})
	files := mediaFiles(t, "one.mkv", "notes.txt")

	resp := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{
		"paths":    []string{filepath.Dir(files[0])},
		"discover": true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	added := decodeJSON[batch.AddResult](t, resp)
	require.Len(t, added.Added, 1)
	assert.Equal(t, "one.mkv", filepath.Base(added.Added[0].Path))
}

func TestBatch_RunAndConflicts(t *testing.T) {
	gate := make(chan struct{})
	s := newTestServer(t, &stubChecker{gate: gate})
	files := mediaFiles(t, "good.mkv", "bad.mkv")
	s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"paths": files})

	resp := s.do(t, http.MethodPost, "/api/v1/batch/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decodeJSON[batch.Status](t, resp)
	assert.Equal(t, batch.StateRunning, st.State)
	assert.Equal(t, 2, st.Target)

	resp = s.do(t, http.MethodPost, "/api/v1/batch/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"paths": []string{"/x/late.mkv"}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/batch/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, batch.StatePaused, decodeJSON[batch.Status](t, resp).State)

	resp = s.do(t, http.MethodPost, "/api/v1/batch/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	close(gate)
	waitState(t, s, batch.StateIdle)

	resp = s.do(t, http.MethodGet, "/api/v1/batch", nil)
	st = decodeJSON[batch.Status](t, resp)
	assert.Equal(t, 1, st.Tally.OK)
	assert.Equal(t, 1, st.Tally.Failed)
	require.NotNil(t, st.LastSummary)
	assert.False(t, st.LastSummary.Cancelled)
	assert.True(t, st.Actions.MoveFailed)

	resp = s.do(t, http.MethodGet, "/api/v1/jobs?status=failed", nil)
	list := decodeJSON[struct {
		Total int `json:"total"`
	}](t, resp)
	assert.Equal(t, 1, list.Total)
}

func TestBatch_ActionErrors(t *testing.T) {
	s := newTestServer(t, &stubChecker{})

	resp := s.do(t, http.MethodPost, "/api/v1/batch/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "empty queue")

	resp = s.do(t, http.MethodPost, "/api/v1/batch/explode", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/batch/move-failed", map[string]string{"destination": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/batch/move-failed", map[string]string{"destination": "/does/not/exist"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/batch/move-failed", map[string]string{"destination": t.TempDir()})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "nothing failed yet")
}

func TestBatch_MoveFailed(t *testing.T) {
	s := newTestServer(t, &stubChecker{})
	files := mediaFiles(t, "good.mkv", "bad.mkv")
	s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"paths": files})
	s.do(t, http.MethodPost, "/api/v1/batch/start", nil)
	waitState(t, s, batch.StateIdle)

	dest := t.TempDir()
	resp := s.do(t, http.MethodPost, "/api/v1/batch/move-failed", map[string]string{"destination": dest})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	waitState(t, s, batch.StateIdle)

	assert.FileExists(t, filepath.Join(dest, "bad.mkv"))
	assert.NoFileExists(t, files[1])
	assert.FileExists(t, files[0])
}

func TestSettings(t *testing.T) {
	s := newTestServer(t, &stubChecker{})

	resp := s.do(t, http.MethodPut, "/api/v1/settings", map[string]any{"concurrency": 3, "fast_check": true, "fast_seconds": 30})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeJSON[batch.Settings](t, resp)
	assert.Equal(t, 3, got.Concurrency)
	assert.True(t, got.FastCheck)
	assert.Equal(t, 30, got.FastSeconds)

	resp = s.do(t, http.MethodPut, "/api/v1/settings", map[string]any{"concurrency": 99})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPut, "/api/v1/settings", map[string]any{"fast_seconds": 5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRepairCommand(t *testing.T) {
	s := newTestServer(t, &stubChecker{})
	files := mediaFiles(t, "clip.mkv")
	resp := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"paths": files})
	id := decodeJSON[batch.AddResult](t, resp).Added[0].ID

	resp = s.do(t, http.MethodGet, "/api/v1/jobs/"+id+"/repair", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[map[string]any](t, resp)
	assert.Equal(t, "copy", body["method"])
	assert.Equal(t, checker.DefaultRepairOutput(files[0]), body["output"])
	assert.Contains(t, body["command"], "ffmpeg")

	resp = s.do(t, http.MethodGet, "/api/v1/jobs/"+id+"/repair?method=nope", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExportImport(t *testing.T) {
	s := newTestServer(t, &stubChecker{})
	files := mediaFiles(t, "a.mkv", "b.mkv")
	s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"paths": files})

	resp := s.do(t, http.MethodGet, "/api/v1/export?format=csv", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "mediacheck.csv")
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "File Path,Status,Details\n"))

	resp = s.do(t, http.MethodGet, "/api/v1/export?format=txt", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	snapshot := `[
  {"path": "` + files[1] + `", "status": "FAILED", "details": "broken"},
  {"path": "/gone/missing.mkv", "status": "OK", "details": ""},
  {"path": "", "status": "OK", "details": ""}
]`
	resp = s.do(t, http.MethodPost, "/api/v1/import?format=json", snapshot)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rep := decodeJSON[map[string]int](t, resp)
	assert.Equal(t, map[string]int{"loaded": 1, "missing": 1, "invalid": 1, "duplicates": 0}, rep)

	st, err := s.ctrl.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Tally.Total)
	assert.Equal(t, 1, st.Tally.Failed)

	resp = s.do(t, http.MethodPost, "/api/v1/import?format=json", "{garbage")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClearAndRemove(t *testing.T) {
	s := newTestServer(t, &stubChecker{})
	files := mediaFiles(t, "a.mkv", "b.mkv", "c.mkv")
	s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"paths": files})

	resp := s.do(t, http.MethodPost, "/api/v1/jobs/remove", map[string]any{"paths": files[:1]})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int{"removed": 1}, decodeJSON[map[string]int](t, resp))

	resp = s.do(t, http.MethodDelete, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int{"removed": 2}, decodeJSON[map[string]int](t, resp))
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errors.Wrap(errors.ErrNotFound, "job"), http.StatusNotFound},
		{errors.ErrInvalidArgument, http.StatusBadRequest},
		{errors.Mark(errors.New("bad csv"), errors.ErrImport), http.StatusBadRequest},
		{errors.Wrap(errors.ErrInvalidState, "x"), http.StatusConflict},
		{errors.ErrRunActive, http.StatusConflict},
		{errors.ErrNothingToDo, http.StatusConflict},
		{errors.ErrToolUnavailable, http.StatusServiceUnavailable},
		{errors.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, errorStatus(tc.err), tc.err.Error())
	}
}

func TestWriteErr_Hint(t *testing.T) {
	rec := httptest.NewRecorder()
	writeErr(rec, errors.WithHint(errors.ErrInvalidArgument, "pass a directory"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "pass a directory", body["hint"])
}
