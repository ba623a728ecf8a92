package http

import (
	"net/http"

	"github.com/alem-hub/botcore/internal/interface/http/handlers"
)

// healthResponse is the /healthz body.
type healthResponse struct {
	handlers.HealthStatus
	Bot any `json:"bot,omitempty"`
}

// handleHealth reports check results and the bot's runtime status. It
// answers 503 when any check fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{}
	if s.deps.HealthChecker != nil {
		resp.HealthStatus = s.deps.HealthChecker.Check(r.Context())
	} else {
		resp.HealthStatus = handlers.HealthStatus{Healthy: true, Uptime: s.Uptime().String()}
	}
	if s.deps.Status != nil {
		resp.Bot = s.deps.Status()
	}

	code := http.StatusOK
	if !resp.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// handleLive is the liveness probe.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
