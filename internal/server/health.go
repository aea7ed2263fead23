package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kdsbridge/print-bridge/internal/control"
	"github.com/kdsbridge/print-bridge/pkg/config"
)

// HealthSource reports the agent state checked by /health.
type HealthSource interface {
	DeviceID() string
	ControlState() control.State
	Stations() []config.Printer
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status       string           `json:"status"`
	DeviceID     string           `json:"device_id"`
	ControlState string           `json:"control_state"`
	Stations     []config.Printer `json:"stations"`
	Timestamp    time.Time        `json:"timestamp"`
}

// HealthRegistrar handles health check endpoints
type HealthRegistrar struct {
	source HealthSource
}

// NewHealthRegistrar creates a new health check registrar
func NewHealthRegistrar(source HealthSource) *HealthRegistrar {
	return &HealthRegistrar{source: source}
}

// RegisterRoutes registers GET /health under the router prefix.
func (h *HealthRegistrar) RegisterRoutes(router Router) {
	router.Group("").HandleFunc("GET /health", h.healthHandler)
}

// healthHandler handles GET /health requests
func (h *HealthRegistrar) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := h.checkHealth()

	// Encode to buffer first to catch any encoding errors before writing headers
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return
	}
}

// checkHealth is healthy only while the control channel is open.
func (h *HealthRegistrar) checkHealth() HealthResponse {
	state := h.source.ControlState()
	response := HealthResponse{
		DeviceID:     h.source.DeviceID(),
		ControlState: state.String(),
		Stations:     h.source.Stations(),
		Timestamp:    time.Now(),
	}
	if response.Stations == nil {
		response.Stations = []config.Printer{}
	}

	if state == control.Open {
		response.Status = "healthy"
	} else {
		response.Status = "degraded"
	}

	return response
}
