package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"testdocs/api/internal/rbac"
	"testdocs/api/internal/search"
	"testdocs/api/internal/store"
	"testdocs/api/internal/util"
	"testdocs/api/internal/validate"
)

type CreateDocumentInput struct {
	ProjectID string `json:"projectId" validate:"required"`
	Title     string `json:"title" validate:"required,max=300"`
	Content   string `json:"content"`
	Type      string `json:"type" validate:"required,oneof=OVERALL_TEST_PLAN TEST_PLAN TEST_DESIGN TEST_CASE TEST_LOG DEFECT_REPORT PROGRESS_MANAGEMENT TEST_SUMMARY"`
	Status    string `json:"status" validate:"omitempty,oneof=DRAFT IN_REVIEW APPROVED ARCHIVED"`
}

// UpdateDocumentInput replaces title, content and status wholesale.
// ExpectedVersion, when set, must match the stored version.
type UpdateDocumentInput struct {
	Title           string `json:"title" validate:"required,max=300"`
	Content         string `json:"content"`
	Status          string `json:"status" validate:"required,oneof=DRAFT IN_REVIEW APPROVED ARCHIVED"`
	ExpectedVersion *int   `json:"expectedVersion" validate:"omitempty,gte=1"`
}

type DocumentListInput struct {
	ProjectID string `json:"projectId"`
	Type      string `json:"type" validate:"omitempty,oneof=OVERALL_TEST_PLAN TEST_PLAN TEST_DESIGN TEST_CASE TEST_LOG DEFECT_REPORT PROGRESS_MANAGEMENT TEST_SUMMARY"`
	Status    string `json:"status" validate:"omitempty,oneof=DRAFT IN_REVIEW APPROVED ARCHIVED"`
	Search    string `json:"search" validate:"max=200"`
	Limit     int    `json:"limit" validate:"gte=0,lte=200"`
	Offset    int    `json:"offset" validate:"gte=0"`
}

type SearchInput struct {
	Text      string `json:"q" validate:"max=200"`
	ProjectID string `json:"projectId"`
	Type      string `json:"type" validate:"omitempty,oneof=OVERALL_TEST_PLAN TEST_PLAN TEST_DESIGN TEST_CASE TEST_LOG DEFECT_REPORT PROGRESS_MANAGEMENT TEST_SUMMARY"`
	Status    string `json:"status" validate:"omitempty,oneof=DRAFT IN_REVIEW APPROVED ARCHIVED"`
	Limit     int    `json:"limit" validate:"gte=0,lte=100"`
	Offset    int    `json:"offset" validate:"gte=0"`
}

// documentAccess loads a document and checks the caller's project role
// against action. A missing document is 404, a non-member 403.
func (s *Service) documentAccess(ctx context.Context, userID, documentID string, action rbac.Action) (store.Document, store.ProjectMember, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, store.ProjectMember{}, notFound("Document not found")
	}
	if err != nil {
		return store.Document{}, store.ProjectMember{}, err
	}
	member, err := s.authorize(ctx, doc.ProjectID, userID, action)
	if err != nil {
		return store.Document{}, store.ProjectMember{}, err
	}
	return doc, member, nil
}

func (s *Service) CreateDocument(ctx context.Context, userID string, input CreateDocumentInput) (DocumentView, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Type = strings.ToUpper(strings.TrimSpace(input.Type))
	input.Status = strings.ToUpper(strings.TrimSpace(input.Status))
	if err := validate.Struct(input); err != nil {
		return DocumentView{}, validationFailed(err)
	}
	if input.Status == "" {
		input.Status = "DRAFT"
	}
	if _, err := s.authorize(ctx, input.ProjectID, userID, rbac.ActionWrite); err != nil {
		return DocumentView{}, err
	}

	doc, err := s.store.CreateDocument(ctx, store.Document{
		ID:        util.NewID("doc"),
		ProjectID: input.ProjectID,
		Title:     input.Title,
		Content:   input.Content,
		Type:      input.Type,
		Status:    input.Status,
		CreatedBy: userID,
	}, util.NewID("ver"))
	if err != nil {
		return DocumentView{}, err
	}
	s.search.IndexDocument(doc)
	s.logger.Info("document created", zap.String("document_id", doc.ID), zap.String("project_id", doc.ProjectID), zap.String("user_id", userID))
	return documentView(doc), nil
}

func (s *Service) ListDocuments(ctx context.Context, userID string, input DocumentListInput) ([]DocumentView, error) {
	input.Type = strings.ToUpper(strings.TrimSpace(input.Type))
	input.Status = strings.ToUpper(strings.TrimSpace(input.Status))
	input.Search = strings.TrimSpace(input.Search)
	if err := validate.Struct(input); err != nil {
		return nil, validationFailed(err)
	}
	docs, err := s.store.ListDocuments(ctx, store.DocumentFilter{
		UserID:    userID,
		ProjectID: strings.TrimSpace(input.ProjectID),
		Type:      input.Type,
		Status:    input.Status,
		Search:    input.Search,
		Limit:     input.Limit,
		Offset:    input.Offset,
	})
	if err != nil {
		return nil, err
	}
	out := make([]DocumentView, 0, len(docs))
	for _, doc := range docs {
		out = append(out, documentView(doc))
	}
	return out, nil
}

func (s *Service) GetDocument(ctx context.Context, userID, documentID string) (DocumentView, error) {
	doc, _, err := s.documentAccess(ctx, userID, documentID, rbac.ActionRead)
	if err != nil {
		return DocumentView{}, err
	}
	return documentView(doc), nil
}

// UpdateDocument bumps the version by exactly one per successful call, even
// when the payload matches what is stored.
func (s *Service) UpdateDocument(ctx context.Context, userID, documentID string, input UpdateDocumentInput) (DocumentView, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Status = strings.ToUpper(strings.TrimSpace(input.Status))
	if err := validate.Struct(input); err != nil {
		return DocumentView{}, validationFailed(err)
	}
	if _, _, err := s.documentAccess(ctx, userID, documentID, rbac.ActionWrite); err != nil {
		return DocumentView{}, err
	}

	doc, err := s.store.UpdateDocument(ctx, store.DocumentUpdate{
		ID:              documentID,
		Title:           input.Title,
		Content:         input.Content,
		Status:          input.Status,
		ExpectedVersion: input.ExpectedVersion,
		UpdatedBy:       userID,
		VersionID:       util.NewID("ver"),
	})
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		stale := conflict("VERSION_CONFLICT", "Document was changed by someone else")
		stale.Details = map[string]any{"expectedVersion": *input.ExpectedVersion}
		return DocumentView{}, stale
	case errors.Is(err, sql.ErrNoRows):
		return DocumentView{}, notFound("Document not found")
	case err != nil:
		return DocumentView{}, err
	}
	s.search.IndexDocument(doc)
	return documentView(doc), nil
}

// DeleteDocument is restricted to project managers.
func (s *Service) DeleteDocument(ctx context.Context, userID, documentID string) error {
	if _, _, err := s.documentAccess(ctx, userID, documentID, rbac.ActionDelete); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Document not found")
		}
		return err
	}
	s.search.DeleteDocument(documentID)
	s.logger.Info("document deleted", zap.String("document_id", documentID), zap.String("user_id", userID))
	return nil
}

func (s *Service) ListVersions(ctx context.Context, userID, documentID string) ([]VersionView, error) {
	if _, _, err := s.documentAccess(ctx, userID, documentID, rbac.ActionRead); err != nil {
		return nil, err
	}
	versions, err := s.store.ListDocumentVersions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]VersionView, 0, len(versions))
	for _, version := range versions {
		out = append(out, versionView(version))
	}
	return out, nil
}

func (s *Service) GetVersion(ctx context.Context, userID, documentID, versionID string) (VersionView, error) {
	if _, _, err := s.documentAccess(ctx, userID, documentID, rbac.ActionRead); err != nil {
		return VersionView{}, err
	}
	version, err := s.store.GetDocumentVersion(ctx, documentID, versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return VersionView{}, notFound("Version not found")
	}
	if err != nil {
		return VersionView{}, err
	}
	return versionView(version), nil
}

// Search queries documents across the caller's projects.
func (s *Service) Search(ctx context.Context, userID string, input SearchInput) (search.Response, error) {
	input.Text = strings.TrimSpace(input.Text)
	input.Type = strings.ToUpper(strings.TrimSpace(input.Type))
	input.Status = strings.ToUpper(strings.TrimSpace(input.Status))
	if err := validate.Struct(input); err != nil {
		return search.Response{}, validationFailed(err)
	}
	if input.ProjectID != "" {
		if _, err := s.authorize(ctx, input.ProjectID, userID, rbac.ActionRead); err != nil {
			return search.Response{}, err
		}
	}

	projects, err := s.store.ListProjectsForUser(ctx, userID)
	if err != nil {
		return search.Response{}, err
	}
	ids := make([]string, 0, len(projects))
	for _, project := range projects {
		ids = append(ids, project.ID)
	}
	return s.search.Search(ctx, search.Query{
		Text:       input.Text,
		UserID:     userID,
		ProjectIDs: ids,
		ProjectID:  input.ProjectID,
		Type:       input.Type,
		Status:     input.Status,
		Limit:      input.Limit,
		Offset:     input.Offset,
	})
}
