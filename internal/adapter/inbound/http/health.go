package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	SessionCount  int    `json:"session_count"`
	Version       string `json:"version,omitempty"`
}

// HealthChecker reports liveness, uptime and the stored session count.
type HealthChecker struct {
	sessionCount func() int
	version      string
	startTime    time.Time
	now          func() time.Time
}

// NewHealthChecker creates a HealthChecker. sessionCount may be nil.
func NewHealthChecker(sessionCount func() int, version string, startTime time.Time) *HealthChecker {
	if startTime.IsZero() {
		startTime = time.Now()
	}
	return &HealthChecker{
		sessionCount: sessionCount,
		version:      version,
		startTime:    startTime,
		now:          time.Now,
	}
}

// Check builds the current health report.
func (h *HealthChecker) Check() HealthResponse {
	uptime := h.now().Sub(h.startTime).Truncate(time.Second)
	count := 0
	if h.sessionCount != nil {
		count = h.sessionCount()
	}
	return HealthResponse{
		Status:        "ok",
		Uptime:        uptime.String(),
		UptimeSeconds: int64(uptime.Seconds()),
		SessionCount:  count,
		Version:       h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(h.Check())
	})
}
