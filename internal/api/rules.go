package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/copperline-io/opswatch/internal/api/middleware"
	"github.com/copperline-io/opswatch/internal/models"
)

// orgRule fetches a rule and verifies it belongs to the caller's
// organization. Rules from other organizations look like missing rules.
func (s *Server) orgRule(r *http.Request) (*models.AlertRule, bool) {
	rule, ok := s.engine.Rule(chi.URLParam(r, "id"))
	if !ok || rule.OrganizationID != middleware.GetOrganizationID(r.Context()) {
		return nil, false
	}
	return rule, true
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrganizationID(r.Context())
	var out []*models.AlertRule
	for _, rule := range s.engine.Rules() {
		if rule.OrganizationID == orgID {
			out = append(out, rule)
		}
	}
	OK(w, out)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.orgRule(r)
	if !ok {
		JSONError(w, NewNotFound("Alert rule not found"))
		return
	}
	OK(w, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		JSONError(w, NewBadRequest("invalid alert rule"))
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.OrganizationID = middleware.GetOrganizationID(r.Context())

	if _, exists := s.engine.Rule(rule.ID); exists {
		JSONError(w, NewConflict("Alert rule already exists"))
		return
	}
	if err := s.engine.AddRule(&rule); err != nil {
		JSONError(w, NewValidationError(err.Error()))
		return
	}
	Created(w, &rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.orgRule(r)
	if !ok {
		JSONError(w, NewNotFound("Alert rule not found"))
		return
	}

	var rule models.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		JSONError(w, NewBadRequest("invalid alert rule"))
		return
	}
	rule.ID = existing.ID
	rule.OrganizationID = existing.OrganizationID

	// Disabling a rule removes it from the registry.
	if err := s.engine.UpdateRule(&rule); err != nil {
		JSONError(w, NewValidationError(err.Error()))
		return
	}
	OK(w, &rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.orgRule(r)
	if !ok {
		JSONError(w, NewNotFound("Alert rule not found"))
		return
	}
	s.engine.RemoveRule(rule.ID)
	NoContent(w)
}
