package app

import (
	"net/http"
)

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, identity Identity, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			s.listDocuments(w, r, identity)
		case http.MethodPost:
			var body CreateDocumentInput
			if !s.decode(w, r, &body) {
				return
			}
			doc, err := s.service.CreateDocument(ctx, identity.UserID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeData(w, http.StatusCreated, doc)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	documentID := parts[0]
	switch {
	case len(parts) == 1:
		s.handleDocument(w, r, identity, documentID)
	case len(parts) == 2 && parts[1] == "versions" && r.Method == http.MethodGet:
		versions, err := s.service.ListVersions(ctx, identity.UserID, documentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, versions)
	case len(parts) == 3 && parts[1] == "versions" && r.Method == http.MethodGet:
		version, err := s.service.GetVersion(ctx, identity.UserID, documentID, parts[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, version)
	case len(parts) == 2 && parts[1] == "comments":
		s.handleComments(w, r, identity, documentID)
	case len(parts) == 3 && parts[1] == "comments":
		s.handleComment(w, r, identity, documentID, parts[2])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) listDocuments(w http.ResponseWriter, r *http.Request, identity Identity) {
	query := r.URL.Query()
	input := DocumentListInput{
		ProjectID: query.Get("projectId"),
		Type:      query.Get("type"),
		Status:    query.Get("status"),
		Search:    query.Get("search"),
	}
	var err error
	if input.Limit, err = intParam(query.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a number", nil)
		return
	}
	if input.Offset, err = intParam(query.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "offset must be a number", nil)
		return
	}

	docs, err := s.service.ListDocuments(r.Context(), identity.UserID, input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, docs)
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request, identity Identity, documentID string) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		doc, err := s.service.GetDocument(ctx, identity.UserID, documentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, doc)
	case http.MethodPut:
		var body UpdateDocumentInput
		if !s.decode(w, r, &body) {
			return
		}
		doc, err := s.service.UpdateDocument(ctx, identity.UserID, documentID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.service.DeleteDocument(ctx, identity.UserID, documentID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, identity Identity, documentID string) {
	switch r.Method {
	case http.MethodGet:
		comments, err := s.service.ListComments(r.Context(), identity.UserID, documentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, comments)
	case http.MethodPost:
		var body CreateCommentInput
		if !s.decode(w, r, &body) {
			return
		}
		comment, err := s.service.CreateComment(r.Context(), identity.UserID, documentID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, comment)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleComment(w http.ResponseWriter, r *http.Request, identity Identity, documentID, commentID string) {
	switch r.Method {
	case http.MethodPut:
		var body UpdateCommentInput
		if !s.decode(w, r, &body) {
			return
		}
		comment, err := s.service.UpdateComment(r.Context(), identity.UserID, documentID, commentID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, comment)
	case http.MethodDelete:
		deleted, err := s.service.DeleteComment(r.Context(), identity.UserID, documentID, commentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"ok": true, "deleted": deleted})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}
