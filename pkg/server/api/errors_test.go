package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetaudit/fleetaudit/pkg/audit"
	"github.com/fleetaudit/fleetaudit/pkg/progress"
	"github.com/fleetaudit/fleetaudit/pkg/storage"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteError_NotFound(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audits/missing", nil)
	w := httptest.NewRecorder()

	WriteError(w, req, storage.NewNotFoundError("audit", "missing"))

	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "Not Found", resp.Error)
	assert.Equal(t, "RESOURCE_NOT_FOUND", resp.Code)
	assert.Contains(t, resp.Message, "missing")
}

func TestWriteError_RunInProgress(t *testing.T) {
	for _, err := range []error{audit.ErrRunInProgress, progress.ErrAlreadyRunning} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/audits", nil)
		w := httptest.NewRecorder()

		WriteError(w, req, err)

		require.Equal(t, http.StatusConflict, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "Conflict", resp.Error)
		assert.Equal(t, "RUN_IN_PROGRESS", resp.Code)
	}
}

func TestWriteError_AlreadyExists(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/audits", nil)
	w := httptest.NewRecorder()

	WriteError(w, req, storage.ErrAlreadyExists)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_EXISTS", decodeError(t, w).Code)
}

func TestWriteError_GenericIs500(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audits", nil)
	w := httptest.NewRecorder()

	WriteError(w, req, errors.New("disk on fire"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "Internal Server Error", resp.Error)
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
	assert.Equal(t, "disk on fire", resp.Message)
}

func TestWriteError_WrappedNotFoundStillMaps(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audits/x", nil)
	w := httptest.NewRecorder()

	wrapped := errors.Join(errors.New("lookup failed"), storage.NewNotFoundError("audit", "x"))
	WriteError(w, req, wrapped)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestWriteJSONError_CustomStatus(t *testing.T) {
	w := httptest.NewRecorder()

	WriteJSONError(w, http.StatusBadRequest, "Bad Request", "INVALID_QUERY", "limit must be positive")

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	resp := decodeError(t, w)
	assert.Equal(t, "INVALID_QUERY", resp.Code)
	assert.Equal(t, "limit must be positive", resp.Message)
}

func TestWriteJSON_EncodesPayload(t *testing.T) {
	w := httptest.NewRecorder()

	WriteJSON(w, http.StatusAccepted, map[string]any{"id": "run-1"})

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id": "run-1"}`, w.Body.String())
}
