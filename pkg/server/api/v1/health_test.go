package v1

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadyzHandler_NotReady(t *testing.T) {
	ready := &atomic.Bool{}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	ReadyzHandler(ready).ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "Not Ready", w.Body.String())
}

func TestReadyzHandler_Ready(t *testing.T) {
	ready := &atomic.Bool{}
	ready.Store(true)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	ReadyzHandler(ready).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Ready", w.Body.String())
}

func TestReadyzHandler_TransitionToReady(t *testing.T) {
	ready := &atomic.Bool{}
	handler := ReadyzHandler(ready)

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w1.Code)

	ready.Store(true)

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, w2.Code)
}

func TestReadyzHandler_NilFlagIsNotReady(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	ReadyzHandler(nil).ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
