package app

import (
	"time"

	"testdocs/api/internal/store"
)

type MemberView struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"projectId"`
	UserID    string            `json:"userId"`
	Role      string            `json:"role"`
	User      store.UserSummary `json:"user"`
	CreatedAt time.Time         `json:"createdAt"`
}

type ProjectView struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Role        string       `json:"role,omitempty"`
	Members     []MemberView `json:"members"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type ProjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type DocumentView struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	Project   ProjectRef `json:"project"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Type      string     `json:"type"`
	Status    string     `json:"status"`
	Version   int        `json:"version"`
	CreatedBy string     `json:"createdBy,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type VersionView struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"documentId"`
	Version    int               `json:"version"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Status     string            `json:"status"`
	CreatedBy  store.UserSummary `json:"createdBy"`
	CreatedAt  time.Time         `json:"createdAt"`
}

type CommentView struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"documentId"`
	UserID     string            `json:"userId"`
	ParentID   *string           `json:"parentId"`
	Content    string            `json:"content"`
	User       store.UserSummary `json:"user"`
	Replies    []CommentView     `json:"replies,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

type CurrentUserView struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Email    string        `json:"email"`
	Role     string        `json:"role"`
	Projects []ProjectView `json:"projects"`
}

type LoginResult struct {
	User      store.UserSummary `json:"user"`
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

func memberView(member store.ProjectMember) MemberView {
	return MemberView{
		ID:        member.ID,
		ProjectID: member.ProjectID,
		UserID:    member.UserID,
		Role:      member.Role,
		User:      member.User,
		CreatedAt: member.CreatedAt,
	}
}

func memberViews(members []store.ProjectMember) []MemberView {
	out := make([]MemberView, 0, len(members))
	for _, member := range members {
		out = append(out, memberView(member))
	}
	return out
}

func projectView(project store.Project, role string, members []store.ProjectMember) ProjectView {
	return ProjectView{
		ID:          project.ID,
		Name:        project.Name,
		Description: project.Description,
		Role:        role,
		Members:     memberViews(members),
		CreatedAt:   project.CreatedAt,
		UpdatedAt:   project.UpdatedAt,
	}
}

func documentView(doc store.Document) DocumentView {
	return DocumentView{
		ID:        doc.ID,
		ProjectID: doc.ProjectID,
		Project:   ProjectRef{ID: doc.ProjectID, Name: doc.ProjectName},
		Title:     doc.Title,
		Content:   doc.Content,
		Type:      doc.Type,
		Status:    doc.Status,
		Version:   doc.Version,
		CreatedBy: doc.CreatedBy,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func versionView(version store.DocumentVersion) VersionView {
	return VersionView{
		ID:         version.ID,
		DocumentID: version.DocumentID,
		Version:    version.Version,
		Title:      version.Title,
		Content:    version.Content,
		Status:     version.Status,
		CreatedBy:  version.CreatedBy,
		CreatedAt:  version.CreatedAt,
	}
}

func commentView(comment store.Comment) CommentView {
	return CommentView{
		ID:         comment.ID,
		DocumentID: comment.DocumentID,
		UserID:     comment.UserID,
		ParentID:   comment.ParentID,
		Content:    comment.Content,
		User:       comment.User,
		CreatedAt:  comment.CreatedAt,
		UpdatedAt:  comment.UpdatedAt,
	}
}
