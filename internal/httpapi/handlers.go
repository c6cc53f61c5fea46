package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aboamare/mms-router/pkg/router"
)

// Handlers contains the HTTP request handlers
type Handlers struct {
	router router.Router
	logger zerolog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(r router.Router, logger zerolog.Logger) *Handlers {
	return &Handlers{router: r, logger: logger}
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.router.GetHealth(r.Context())
	if err != nil {
		h.writeError(w, "Failed to get health status", http.StatusInternalServerError)
		return
	}

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSON(w, health, statusCode)
}

// AdminGetStats handles GET /api/v1/admin/stats
func (h *Handlers) AdminGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.router.GetStatistics(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("statistics unavailable")
		h.writeError(w, "Failed to get statistics", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, stats, http.StatusOK)
}

// AdminListAgents handles GET /api/v1/admin/agents
func (h *Handlers) AdminListAgents(w http.ResponseWriter, r *http.Request) {
	handles := h.router.ConnectedAgents()
	agents := make([]AgentInfo, 0, len(handles))
	for _, a := range handles {
		info := AgentInfo{
			ID:        a.ID(),
			MRN:       a.MRN(),
			Interests: a.Interests(),
		}
		if at := a.AuthenticatedAt(); !at.IsZero() {
			info.Authenticated = true
			info.AuthenticatedAt = &at
		}
		agents = append(agents, info)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	h.writeJSON(w, AdminAgentsResponse{Agents: agents}, http.StatusOK)
}

// AdminDeleteMessage handles DELETE /api/v1/admin/topics/{topic}/messages/{id}
func (h *Handlers) AdminDeleteMessage(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")
	id := r.PathValue("id")
	if topic == "" || id == "" {
		h.writeError(w, "Topic and message id required", http.StatusBadRequest)
		return
	}

	deleted, err := h.router.DeleteMessage(r.Context(), topic, id)
	if err != nil {
		h.writeError(w, "Failed to delete message: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info().Str("admin", GetClientID(r)).Str("topic", topic).Str("id", id).Bool("deleted", deleted).Msg("admin message deletion")

	resp := DeleteMessageResponse{Topic: topic, ID: id, Deleted: deleted}
	if !deleted {
		h.writeJSON(w, resp, http.StatusNotFound)
		return
	}
	h.writeJSON(w, resp, http.StatusOK)
}

// Helper methods

// writeError writes an error response as JSON
func (h *Handlers) writeError(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn().Err(err).Msg("write response")
	}
}
