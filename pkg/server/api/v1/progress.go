package v1

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/fleetaudit/fleetaudit/pkg/progress"
	"github.com/fleetaudit/fleetaudit/pkg/server/api"
)

const wsWriteTimeout = 5 * time.Second

// progressUpgrader accepts same-origin websocket upgrades only.
var progressUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// GetProgressHandler handles GET /api/v1/progress
//
// Returns the current run's progress state. When audits run in a detached
// worker, the state is read from the shared progress file and the current
// step is projected forward from the file's age.
//
// Response format:
//
//	{
//	  "current_step": 5,
//	  "total_steps": 14,
//	  "status_text": "probed dc01.corp.example.com",
//	  "running": true,
//	  "started_at": "2024-01-01T00:00:00Z"
//	}
func GetProgressHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := currentProgress(deps)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, state)
	}
}

func currentProgress(deps *api.Deps) (progress.State, error) {
	if deps.Progress != nil {
		state := deps.Progress.Snapshot()
		// An idle in-process publisher may mean the run belongs to a
		// detached worker; prefer the file state in that case.
		if state.Running || deps.ProgressStore == nil {
			return state, nil
		}
		fileState, err := deps.ProgressStore.ReadEstimated(time.Now(), deps.Config.EstimateStep)
		if err != nil {
			return state, nil
		}
		if fileState.Running || fileState.TotalSteps > 0 {
			return fileState, nil
		}
		return state, nil
	}
	if deps.ProgressStore != nil {
		return deps.ProgressStore.ReadEstimated(time.Now(), deps.Config.EstimateStep)
	}
	return progress.State{}, errors.New("no progress source configured")
}

// ProgressWSHandler handles GET /api/v1/progress/ws
//
// Upgrades to a websocket and pushes the progress state on every interval
// tick until the client disconnects. The first state is pushed immediately.
func ProgressWSHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := progressUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serveProgressConnection(conn, deps)
	}
}

func serveProgressConnection(conn *websocket.Conn, deps *api.Deps) {
	defer conn.Close()

	logger := log.With().Str("component", "api.progress_ws").Logger()

	if err := writeProgressPayload(conn, deps); err != nil {
		return
	}

	interval := deps.Config.WSPushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Reader goroutine detects the client closing the connection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := writeProgressPayload(conn, deps); err != nil {
				logger.Debug().Err(err).Msg("Progress push failed, closing connection")
				return
			}
		}
	}
}

func writeProgressPayload(conn *websocket.Conn, deps *api.Deps) error {
	state, err := currentProgress(deps)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(state)
}
