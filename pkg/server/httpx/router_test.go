package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetaudit/fleetaudit/pkg/config"
	"github.com/fleetaudit/fleetaudit/pkg/server/api"
	"github.com/fleetaudit/fleetaudit/pkg/storage"
)

func testServerConfig() config.ServerConfig {
	cfg := config.DefaultServerConfig()
	cfg.Addr = "127.0.0.1"
	cfg.Port = 0
	return cfg
}

func testDeps(t *testing.T) *api.Deps {
	t.Helper()
	backend, err := storage.NewLocalBackend(context.Background(), &storage.Config{
		WorkspaceRoot: t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, backend.Initialize(context.Background()))
	t.Cleanup(func() { backend.Close() })

	return &api.Deps{
		Storage: backend,
		Config:  api.DefaultConfig(),
		Ready:   &atomic.Bool{},
	}
}

func TestNewRouter_HealthzMounted(t *testing.T) {
	router := NewRouter(testServerConfig(), testDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "OK", w.Body.String())
}

func TestNewRouter_ReadyzReflectsFlag(t *testing.T) {
	deps := testDeps(t)
	router := NewRouter(testServerConfig(), deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	deps.Ready.Store(true)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestNewRouter_APIRoutesMounted(t *testing.T) {
	router := NewRouter(testServerConfig(), testDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audits", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 0, resp["total"])
}

func TestNewRouter_APIRoutesNotMountedWhenDisabled(t *testing.T) {
	cfg := testServerConfig()
	cfg.APIEnabled = false
	router := NewRouter(cfg, testDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audits", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)

	// Health endpoints stay mounted regardless.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealthzHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	HealthzHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "OK", w.Body.String())
}

func TestServer_RunAndGracefulShutdown(t *testing.T) {
	deps := testDeps(t)
	srv := NewServer(testServerConfig(), deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	// Ready flips once the listener is up.
	require.Eventually(t, func() bool {
		return deps.Ready.Load()
	}, 3*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
	assert.False(t, deps.Ready.Load(), "shutdown should clear the ready flag")
}
