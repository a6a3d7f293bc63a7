package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/copperline-io/opswatch/internal/api/middleware"
	"github.com/copperline-io/opswatch/internal/models"
	"github.com/copperline-io/opswatch/internal/scheduler"
)

// handleSubmitExecutions queues a script run on one or more devices.
func (s *Server) handleSubmitExecutions(w http.ResponseWriter, r *http.Request) {
	var req models.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid execution request"))
		return
	}
	req.ExecutedBy = middleware.GetUserID(r.Context())
	req.OrganizationID = middleware.GetOrganizationID(r.Context())

	created, err := s.sched.Submit(req)
	if err != nil {
		JSONError(w, NewValidationError(err.Error()))
		return
	}
	Accepted(w, created)
}

// orgExecution fetches an execution and verifies organization ownership.
func (s *Server) orgExecution(r *http.Request) (models.ScriptExecution, bool) {
	ex, ok := s.sched.Execution(chi.URLParam(r, "id"))
	if !ok || ex.OrganizationID != middleware.GetOrganizationID(r.Context()) {
		return models.ScriptExecution{}, false
	}
	return ex, true
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	ex, ok := s.orgExecution(r)
	if !ok {
		JSONError(w, NewNotFound("Execution not found"))
		return
	}
	OK(w, ex)
}

// handleListExecutions filters by deviceId, scriptId, or status.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrganizationID(r.Context())

	var executions []models.ScriptExecution
	q := r.URL.Query()
	switch {
	case q.Get("deviceId") != "":
		executions = s.sched.DeviceExecutions(q.Get("deviceId"))
	case q.Get("scriptId") != "":
		executions = s.sched.ScriptExecutions(q.Get("scriptId"))
	case q.Get("status") != "":
		executions = s.sched.ExecutionsByStatus(models.ExecutionStatus(q.Get("status")))
	default:
		executions = s.sched.Executions()
	}

	out := make([]models.ScriptExecution, 0, len(executions))
	for _, ex := range executions {
		if ex.OrganizationID == orgID {
			out = append(out, ex)
		}
	}
	OK(w, out)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	ex, ok := s.orgExecution(r)
	if !ok {
		JSONError(w, NewNotFound("Execution not found"))
		return
	}
	if !s.sched.Cancel(ex.ID) {
		JSONError(w, NewConflict("Execution already finished"))
		return
	}
	NoContent(w)
}

func (s *Server) handleRetryExecution(w http.ResponseWriter, r *http.Request) {
	ex, ok := s.orgExecution(r)
	if !ok {
		JSONError(w, NewNotFound("Execution not found"))
		return
	}

	retry, err := s.sched.Retry(ex.ID)
	switch {
	case errors.Is(err, scheduler.ErrNotRetryable):
		JSONError(w, NewConflict("Only failed executions can be retried"))
		return
	case err != nil:
		JSONError(w, ErrInternalServer)
		return
	}
	Accepted(w, retry)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	OK(w, s.sched.QueueStatus())
}
