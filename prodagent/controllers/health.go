package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	httputils "prodagent/prodagent/utils/http"
)

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

type HealthController struct {
	checks map[string]Check
}

// NewHealthController builds the liveness and readiness handlers. checks are
// run by Ready; liveness never touches dependencies.
func NewHealthController(checks map[string]Check) *HealthController {
	if checks == nil {
		checks = map[string]Check{}
	}
	return &HealthController{checks: checks}
}

func (h *HealthController) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Ready runs every check. Any failure makes the service "degraded" with 503;
// the process keeps serving either way.
func (h *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := ReadyResponse{Status: "ok", Checks: map[string]string{}}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = "unavailable"
			continue
		}
		resp.Checks[name] = "ok"
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	httputils.WriteJSON(w, status, resp)
}
