package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is satisfied by the Postgres and Redis wrappers.
type Pinger interface {
	Health(ctx context.Context) error
}

type HealthHandler struct {
	db    Pinger
	redis Pinger
}

func NewHealthHandler(db, redis Pinger) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "alive"})
}

// Ready checks the dependencies requests cannot be served without.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	services := map[string]string{}
	for name, p := range map[string]Pinger{"postgres": h.db, "redis": h.redis} {
		if p == nil {
			continue
		}
		if err := p.Health(ctx); err != nil {
			services[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		services[name] = "healthy"
	}

	resp := HealthResponse{Status: "ready", Services: services}
	if status != http.StatusOK {
		resp.Status = "not ready"
	}
	writeJSON(w, status, resp)
}
