package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/copperline-io/opswatch/internal/api/middleware"
	"github.com/copperline-io/opswatch/internal/models"
)

// ingestResponse acknowledges a metric sample.
type ingestResponse struct {
	DeviceID    string `json:"deviceId"`
	AlertsFired int    `json:"alertsFired"`
}

// handleIngestMetrics accepts one metric sample from an agent, runs the
// alert rules against it, and forwards it to realtime subscribers. Fired
// alerts travel over the event bus to the dispatcher and the hub.
func (s *Server) handleIngestMetrics(w http.ResponseWriter, r *http.Request) {
	var sample models.MetricSample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		JSONError(w, NewBadRequest("invalid metric sample"))
		return
	}
	if sample.DeviceID == "" {
		JSONError(w, NewValidationError("deviceId is required"))
		return
	}
	if len(sample.Metrics) == 0 {
		JSONError(w, NewValidationError("metrics are required"))
		return
	}

	// The agent's identity decides the organization, not the payload.
	sample.OrganizationID = middleware.GetOrganizationID(r.Context())
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	fired := s.engine.Evaluate(&sample)
	if s.hub != nil {
		s.hub.BroadcastMetrics(&sample)
	}

	Accepted(w, ingestResponse{
		DeviceID:    sample.DeviceID,
		AlertsFired: len(fired),
	})
}

// handleRealtimeStats reports hub connection and subscription counts.
func (s *Server) handleRealtimeStats(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		JSONError(w, ErrNotFound)
		return
	}
	OK(w, s.hub.Stats())
}
