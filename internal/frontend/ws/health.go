package ws

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus is the body returned by the health endpoint.
type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Sessions  int    `json:"sessions"`
}

// HealthHandler reports liveness and the number of running sessions.
//
// Precondition: sessions must be non-nil and safe for concurrent use.
func HealthHandler(sessions func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(HealthStatus{
			Status:    "ok",
			Timestamp: time.Now().UnixMilli(),
			Sessions:  sessions(),
		})
	}
}
