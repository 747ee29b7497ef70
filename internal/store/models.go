package store

import (
	"errors"
	"time"
)

var (
	// ErrDuplicate reports a unique constraint violation.
	ErrDuplicate = errors.New("duplicate record")
	// ErrLastManager reports a membership change that would leave a project
	// without a manager.
	ErrLastManager = errors.New("project must keep at least one manager")
	// ErrVersionConflict reports a conditional document update whose expected
	// version no longer matches.
	ErrVersionConflict = errors.New("document version conflict")
)

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
}

type UserSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Project struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ProjectMember struct {
	ID        string
	ProjectID string
	UserID    string
	Role      string
	User      UserSummary
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Document struct {
	ID          string
	ProjectID   string
	ProjectName string
	Title       string
	Content     string
	Type        string
	Status      string
	Version     int
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DocumentUpdate replaces title, content and status wholesale. A non-nil
// ExpectedVersion turns the update into a compare-and-swap.
type DocumentUpdate struct {
	ID              string
	Title           string
	Content         string
	Status          string
	ExpectedVersion *int
	UpdatedBy       string
	VersionID       string
}

type DocumentFilter struct {
	UserID    string
	ProjectID string
	Type      string
	Status    string
	Search    string
	Limit     int
	Offset    int
}

type DocumentVersion struct {
	ID         string
	DocumentID string
	Version    int
	Title      string
	Content    string
	Status     string
	CreatedBy  UserSummary
	CreatedAt  time.Time
}

type Comment struct {
	ID         string
	DocumentID string
	UserID     string
	User       UserSummary
	ParentID   *string
	Content    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
