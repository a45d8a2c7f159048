package api

import (
	"net/http"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

const defaultScope = "published/production"

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInvoke starts a run from a trigger request.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req schema.TriggerRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Source) == 0 {
		req.Source = []string{"api"}
	}
	if req.Scope == "" {
		req.Scope = defaultScope
	}

	run, err := s.deps.Service.Invoke(r.Context(), &req)
	if err != nil {
		if run != nil {
			// Cycles leave the run behind in ERROR.
			s.deps.Logger.WarnContext(r.Context(), "run rejected",
				"run_id", run.RunID, "error", err.Error())
		}
		writeAutomationError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"runId":  run.RunID,
		"status": run.Status,
	})
}

// handleInvokeTemplate starts a run from a stored template.
func (s *Server) handleInvokeTemplate(w http.ResponseWriter, r *http.Request) {
	var inv schema.TemplateInvocation
	if !decode(w, r, &inv) {
		return
	}
	inv.Template = r.PathValue("name")
	if len(inv.Source) == 0 {
		inv.Source = []string{"api"}
	}
	if inv.Scope == "" {
		inv.Scope = defaultScope
	}

	runID, err := s.deps.Service.InvokeTemplate(r.Context(), inv)
	if err != nil {
		writeAutomationError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

// handleLookup returns a run with its steps.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Service.Lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAutomationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleCancel cancels every run of a tenant registered under a token.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID string `json:"tenantId"`
		Token    string `json:"token"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.TenantID == "" {
		writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, "tenantId is required")
		return
	}

	n, err := s.deps.Service.Cancel(r.Context(), body.TenantID, body.Token)
	if err != nil {
		writeAutomationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"canceled": n})
}
