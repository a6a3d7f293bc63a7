package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/copperline-io/opswatch/internal/api/middleware"
	"github.com/copperline-io/opswatch/internal/models"
	"github.com/copperline-io/opswatch/internal/notifier"
)

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrganizationID(r.Context())
	var out []*models.NotificationChannel
	for _, ch := range s.dispatcher.Channels() {
		if ch.OrganizationID == orgID {
			out = append(out, ch)
		}
	}
	OK(w, out)
}

// testChannelResponse reports the outcome of a channel test delivery.
type testChannelResponse struct {
	ChannelID string `json:"channelId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// handleTestChannel sends a canned test alert through one channel.
func (s *Server) handleTestChannel(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "id")
	orgID := middleware.GetOrganizationID(r.Context())

	ch, ok := s.dispatcher.Channel(channelID)
	if !ok || ch.OrganizationID != orgID {
		JSONError(w, NewNotFound("Notification channel not found"))
		return
	}

	success, err := s.dispatcher.TestChannel(r.Context(), channelID)
	if err != nil && errors.Is(err, notifier.ErrChannelNotFound) {
		JSONError(w, NewNotFound("Notification channel not found"))
		return
	}

	resp := testChannelResponse{ChannelID: channelID, Success: success}
	if err != nil {
		resp.Error = err.Error()
	}
	OK(w, resp)
}
