package v1

import (
	"net/http"
	"sync/atomic"
)

// ReadyzHandler handles GET /readyz
//
// Reports readiness: 200 "Ready" once the server has finished startup,
// 503 "Not Ready" before that.
func ReadyzHandler(ready *atomic.Bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("Ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Not Ready"))
	}
}
