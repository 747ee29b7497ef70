package app

import (
	"net/http"
	"strings"
)

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, identity Identity, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			projects, err := s.service.ListProjects(ctx, identity.UserID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeData(w, http.StatusOK, projects)
		case http.MethodPost:
			var body CreateProjectInput
			if !s.decode(w, r, &body) {
				return
			}
			project, err := s.service.CreateProject(ctx, identity.UserID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeData(w, http.StatusCreated, project)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	projectID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			project, err := s.service.GetProject(ctx, identity.UserID, projectID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeData(w, http.StatusOK, project)
		case http.MethodPut:
			var body UpdateProjectInput
			if !s.decode(w, r, &body) {
				return
			}
			project, err := s.service.UpdateProject(ctx, identity.UserID, projectID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeData(w, http.StatusOK, project)
		case http.MethodDelete:
			if err := s.service.DeleteProject(ctx, identity.UserID, projectID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeData(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "members" {
		s.handleMembers(w, r, identity, projectID)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleMembers(w http.ResponseWriter, r *http.Request, identity Identity, projectID string) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		members, err := s.service.ListMembers(ctx, identity.UserID, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, members)

	case http.MethodPost:
		var body AddMemberInput
		if !s.decode(w, r, &body) {
			return
		}
		member, err := s.service.AddMember(ctx, identity.UserID, projectID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, member)

	case http.MethodPut:
		var body UpdateMemberInput
		if !s.decode(w, r, &body) {
			return
		}
		member, err := s.service.UpdateMemberRole(ctx, identity.UserID, projectID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, member)

	case http.MethodDelete:
		// The target may come in the body or as ?userId=.
		var body struct {
			UserID string `json:"userId"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		target := strings.TrimSpace(body.UserID)
		if target == "" {
			target = strings.TrimSpace(r.URL.Query().Get("userId"))
		}
		if target == "" {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "userId is required", nil)
			return
		}
		if err := s.service.RemoveMember(ctx, identity.UserID, projectID, target); err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}
