package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetaudit/fleetaudit/pkg/progress"
	"github.com/fleetaudit/fleetaudit/pkg/server/api"
)

func TestGetProgressHandler_LivePublisher(t *testing.T) {
	pub := progress.NewPublisher()
	require.NoError(t, pub.Begin(10, "enumerating"))
	pub.Advance("probed dc01")

	deps := &api.Deps{Progress: pub, Config: api.DefaultConfig()}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil)
	w := httptest.NewRecorder()

	GetProgressHandler(deps).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var state progress.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, 1, state.CurrentStep)
	assert.Equal(t, 10, state.TotalSteps)
	assert.True(t, state.Running)
	assert.Equal(t, "probed dc01", state.StatusText)
}

func TestGetProgressHandler_DetachedWorkerEstimate(t *testing.T) {
	dir := t.TempDir()
	store, err := progress.NewFileStore(filepath.Join(dir, "progress.json"))
	require.NoError(t, err)

	// A detached worker wrote this state a while ago; the handler projects
	// the step count forward from the file's age.
	started := time.Now().Add(-30 * time.Second)
	require.NoError(t, store.WriteErr(progress.State{
		CurrentStep: 1,
		TotalSteps:  20,
		StatusText:  "probed dc01",
		Running:     true,
		StartedAt:   started,
	}))

	cfg := api.DefaultConfig()
	cfg.EstimateStep = 5 * time.Second
	deps := &api.Deps{ProgressStore: store, Config: cfg}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil)
	w := httptest.NewRecorder()

	GetProgressHandler(deps).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var state progress.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.GreaterOrEqual(t, state.CurrentStep, 5, "stale file state should be projected forward")
	assert.Less(t, state.CurrentStep, state.TotalSteps, "estimate never claims completion")
	assert.True(t, state.Running)
}

func TestGetProgressHandler_IdlePublisherFallsBackToFile(t *testing.T) {
	dir := t.TempDir()
	store, err := progress.NewFileStore(filepath.Join(dir, "progress.json"))
	require.NoError(t, err)
	require.NoError(t, store.WriteErr(progress.State{
		CurrentStep: 3,
		TotalSteps:  8,
		Running:     true,
		StartedAt:   time.Now(),
	}))

	deps := &api.Deps{
		Progress:      progress.NewPublisher(),
		ProgressStore: store,
		Config:        api.DefaultConfig(),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil)
	w := httptest.NewRecorder()

	GetProgressHandler(deps).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var state progress.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, 8, state.TotalSteps, "idle publisher should defer to the worker's file state")
}

func TestGetProgressHandler_NoSourceIs500(t *testing.T) {
	deps := &api.Deps{Config: api.DefaultConfig()}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil)
	w := httptest.NewRecorder()

	GetProgressHandler(deps).ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestProgressWSHandler_StreamsState(t *testing.T) {
	pub := progress.NewPublisher()
	require.NoError(t, pub.Begin(4, "enumerating"))

	cfg := api.DefaultConfig()
	cfg.WSPushInterval = 20 * time.Millisecond
	deps := &api.Deps{Progress: pub, Config: cfg}

	srv := httptest.NewServer(ProgressWSHandler(deps))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/progress/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// First payload arrives immediately.
	var first progress.State
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 4, first.TotalSteps)
	assert.True(t, first.Running)

	pub.Advance("probed dc01")
	pub.Advance("probed dc02")

	// A later tick reflects the advanced state.
	require.Eventually(t, func() bool {
		var state progress.State
		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return false
		}
		if err := conn.ReadJSON(&state); err != nil {
			return false
		}
		return state.CurrentStep == 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestProgressWSHandler_RejectsCrossOrigin(t *testing.T) {
	deps := &api.Deps{Progress: progress.NewPublisher(), Config: api.DefaultConfig()}

	srv := httptest.NewServer(ProgressWSHandler(deps))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/progress/ws"
	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if conn != nil {
		conn.Close()
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.Error(t, err)
	require.True(t, errors.Is(err, websocket.ErrBadHandshake))
}
