package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediacheck/mediacheck/internal/batch"
)

type sseFrame struct {
	event string
	data  string
}

func readFrame(t *testing.T, sc *bufio.Scanner) sseFrame {
	t.Helper()
	var f sseFrame
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if f.event != "" {
				return f
			}
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, sc.Err())
	t.Fatal("stream ended")
	return f
}

func TestStreamSSE(t *testing.T) {
	s := newTestServer(t, &stubChecker{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	first := readFrame(t, sc)
	assert.Equal(t, "status", first.event)
	var st batch.Status
	require.NoError(t, json.Unmarshal([]byte(first.data), &st))
	assert.Equal(t, batch.StateIdle, st.State)

	files := mediaFiles(t, "a.mkv")
	s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"paths": files})

	next := readFrame(t, sc)
	assert.Equal(t, string(batch.EventJobAdded), next.event)
	var ev batch.Event
	require.NoError(t, json.Unmarshal([]byte(next.data), &ev))
	require.NotNil(t, ev.Job)
	assert.Equal(t, files[0], ev.Job.Path)
}

func TestStreamSSE_EndsWithHub(t *testing.T) {
	s := newTestServer(t, &stubChecker{})

	req, _ := http.NewRequest(http.MethodGet, s.URL+"/api/v1/events?api_key="+testAPIKey, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	assert.Equal(t, "status", readFrame(t, sc).event)

	s.hub.Close()
	for sc.Scan() {
	}
	assert.NoError(t, sc.Err())
}

func wsURL(s *testServer) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/api/v1/ws?api_key=" + testAPIKey
}

func TestStreamWS(t *testing.T) {
	s := newTestServer(t, &stubChecker{})

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(s), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck

	var first wsMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first.Type)
	require.NotNil(t, first.Status)
	assert.Equal(t, batch.StateIdle, first.Status.State)

	files := mediaFiles(t, "a.mkv")
	s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"paths": files})

	var next wsMessage
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, string(batch.EventJobAdded), next.Type)
	require.NotNil(t, next.Event)
	assert.Equal(t, files[0], next.Event.Job.Path)
}

func TestStreamWS_Unauthorized(t *testing.T) {
	s := newTestServer(t, &stubChecker{})

	url := strings.TrimSuffix(wsURL(s), "?api_key="+testAPIKey)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStreamWS_ForeignOrigin(t *testing.T) {
	s := newTestServer(t, &stubChecker{})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(s), http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	h := &Handler{opts: Options{AllowedOrigins: []string{"http://ui.example"}}}
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://api.local:8080", true},
		{"http://ui.example", true},
		{"http://evil.example", false},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(http.MethodGet, "http://api.local:8080/api/v1/ws", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		assert.Equal(t, tc.want, h.checkOrigin(req), tc.origin)
	}
}
