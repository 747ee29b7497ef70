package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"testdocs/api/internal/authpw"
	"testdocs/api/internal/config"
	"testdocs/api/internal/search"
	"testdocs/api/internal/store"
	"testdocs/api/internal/validate"
)

var documentTypes = []string{
	"OVERALL_TEST_PLAN",
	"TEST_PLAN",
	"TEST_DESIGN",
	"TEST_CASE",
	"TEST_LOG",
	"DEFECT_REPORT",
	"PROGRESS_MANAGEMENT",
	"TEST_SUMMARY",
}

var documentStatuses = []string{"DRAFT", "IN_REVIEW", "APPROVED", "ARCHIVED"}

// DocumentTypes lists the accepted document kinds in display order.
func DocumentTypes() []string { return append([]string(nil), documentTypes...) }

// DocumentStatuses lists the accepted document statuses in workflow order.
func DocumentStatuses() []string { return append([]string(nil), documentStatuses...) }

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) error
	FindUsersByEmails(context.Context, []string) ([]store.User, error)

	CreateProject(context.Context, store.Project, []store.ProjectMember) (store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	ListProjectsForUser(context.Context, string) ([]store.Project, error)
	UpdateProject(context.Context, string, string, string) (store.Project, error)
	DeleteProject(context.Context, string) error

	GetMember(context.Context, string, string) (store.ProjectMember, error)
	ListMembers(context.Context, string) ([]store.ProjectMember, error)
	AddMember(context.Context, store.ProjectMember) (store.ProjectMember, error)
	UpdateMemberRole(context.Context, string, string, string) (store.ProjectMember, error)
	RemoveMember(context.Context, string, string) error

	CreateDocument(context.Context, store.Document, string) (store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	ListDocuments(context.Context, store.DocumentFilter) ([]store.Document, error)
	UpdateDocument(context.Context, store.DocumentUpdate) (store.Document, error)
	DeleteDocument(context.Context, string) error
	ListDocumentVersions(context.Context, string) ([]store.DocumentVersion, error)
	GetDocumentVersion(context.Context, string, string) (store.DocumentVersion, error)

	InsertComment(context.Context, store.Comment) (store.Comment, error)
	GetComment(context.Context, string, string) (store.Comment, error)
	ListComments(context.Context, string) ([]store.Comment, error)
	UpdateComment(context.Context, string, string, string) (store.Comment, error)
	DeleteCommentThread(context.Context, string, string) (int64, error)
}

// RevocationStore remembers logged-out token ids until they expire. Redis
// and Postgres both implement it.
type RevocationStore interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type Service struct {
	cfg     config.Config
	store   dataStore
	revoked RevocationStore
	auth    *authpw.Service
	search  *search.Service
	logger  *zap.Logger
	now     func() time.Time
}

// New wires the service. revoked defaults to the data store when nil, and
// searchService defaults to a Postgres-only search.
func New(cfg config.Config, dataStore dataStore, revoked RevocationStore, searchService *search.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if revoked == nil {
		if fallback, ok := dataStore.(RevocationStore); ok {
			revoked = fallback
		}
	}
	if searchService == nil {
		searchService = search.NewService(nil, search.NewStoreFallback(dataStore), logger)
	}
	return &Service{
		cfg:     cfg,
		store:   dataStore,
		revoked: revoked,
		auth:    authpw.NewService(dataStore, cfg.BcryptCost),
		search:  searchService,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SearchEngine reports which backend answers searches right now.
func (s *Service) SearchEngine() string {
	return s.search.Engine()
}

// validationFailed turns tag validation failures into a 400 carrying the
// per-field messages. Other errors pass through.
func validationFailed(err error) error {
	var fields validate.Errors
	if errors.As(err, &fields) {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", fields.First(), map[string]string(fields))
	}
	return err
}
