// Package web renders the server-side pages. Pages only read data; every
// write goes through the JSON API from the browser.
package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"testdocs/api/internal/app"
)

//go:embed templates/*.html
var templateFS embed.FS

// Lister is the read side the dashboard pages need.
type Lister interface {
	ListProjects(ctx context.Context, userID string) ([]app.ProjectView, error)
	ListDocuments(ctx context.Context, userID string, input app.DocumentListInput) ([]app.DocumentView, error)
	GetDocument(ctx context.Context, userID, documentID string) (app.DocumentView, error)
	ListVersions(ctx context.Context, userID, documentID string) ([]app.VersionView, error)
	ListComments(ctx context.Context, userID, documentID string) ([]app.CommentView, error)
}

type Pages struct {
	lister    Lister
	logger    *zap.Logger
	templates map[string]*template.Template
}

var pageNames = []string{"index", "login", "register", "dashboard", "projects", "documents", "document", "edit", "notfound"}

func humanize(value string) string {
	words := strings.Split(strings.ToLower(value), "_")
	for i, word := range words {
		if word != "" {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}

// New parses every page against the shared layout.
func New(lister Lister, logger *zap.Logger) (*Pages, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	funcMap := template.FuncMap{
		"lower":    strings.ToLower,
		"humanize": humanize,
		"formatDate": func(t time.Time) string {
			return t.Format("Jan 2, 2006 15:04")
		},
	}

	templates := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New("layout.html").Funcs(funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		templates[name] = tmpl
	}
	return &Pages{lister: lister, logger: logger.Named("web"), templates: templates}, nil
}

type pageData struct {
	Title     string
	Identity  app.Identity
	SignedIn  bool
	Projects  []app.ProjectView
	Documents []app.DocumentView
	Filter    app.DocumentListInput
	Types     []string
	Statuses  []string
	Document  app.DocumentView
	Versions  []app.VersionView
	Comments  []app.CommentView
}

func (p *Pages) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity, signedIn := app.IdentityFrom(r.Context())
	data := pageData{Identity: identity, SignedIn: signedIn}

	switch strings.TrimSuffix(r.URL.Path, "/") {
	case "":
		data.Title = "TestDocs"
		p.render(w, http.StatusOK, "index", data)
	case "/login":
		data.Title = "Sign in"
		p.render(w, http.StatusOK, "login", data)
	case "/register":
		data.Title = "Create account"
		p.render(w, http.StatusOK, "register", data)
	case "/dashboard":
		p.dashboard(w, r, data)
	case "/dashboard/projects":
		p.projects(w, r, data)
	case "/dashboard/documents":
		p.documents(w, r, data)
	default:
		p.documentPages(w, r, data)
	}
}

// documentPages serves /dashboard/documents/{id} and its /edit form.
func (p *Pages) documentPages(w http.ResponseWriter, r *http.Request, data pageData) {
	rest, ok := strings.CutPrefix(strings.TrimSuffix(r.URL.Path, "/"), "/dashboard/documents/")
	parts := strings.Split(rest, "/")
	switch {
	case ok && len(parts) == 1 && parts[0] != "":
		p.document(w, r, data, parts[0])
	case ok && len(parts) == 2 && parts[0] != "" && parts[1] == "edit":
		p.editDocument(w, r, data, parts[0])
	default:
		data.Title = "Not found"
		p.render(w, http.StatusNotFound, "notfound", data)
	}
}

func (p *Pages) document(w http.ResponseWriter, r *http.Request, data pageData, documentID string) {
	doc, err := p.lister.GetDocument(r.Context(), data.Identity.UserID, documentID)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	versions, err := p.lister.ListVersions(r.Context(), data.Identity.UserID, documentID)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	comments, err := p.lister.ListComments(r.Context(), data.Identity.UserID, documentID)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	data.Title = doc.Title
	data.Document = doc
	data.Versions = versions
	data.Comments = comments
	p.render(w, http.StatusOK, "document", data)
}

func (p *Pages) editDocument(w http.ResponseWriter, r *http.Request, data pageData, documentID string) {
	doc, err := p.lister.GetDocument(r.Context(), data.Identity.UserID, documentID)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	data.Title = "Edit " + doc.Title
	data.Document = doc
	data.Statuses = app.DocumentStatuses()
	p.render(w, http.StatusOK, "edit", data)
}

func (p *Pages) dashboard(w http.ResponseWriter, r *http.Request, data pageData) {
	projects, err := p.lister.ListProjects(r.Context(), data.Identity.UserID)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	docs, err := p.lister.ListDocuments(r.Context(), data.Identity.UserID, app.DocumentListInput{Limit: 10})
	if err != nil {
		p.fail(w, r, err)
		return
	}
	data.Title = "Dashboard"
	data.Projects = projects
	data.Documents = docs
	p.render(w, http.StatusOK, "dashboard", data)
}

func (p *Pages) projects(w http.ResponseWriter, r *http.Request, data pageData) {
	projects, err := p.lister.ListProjects(r.Context(), data.Identity.UserID)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	data.Title = "Projects"
	data.Projects = projects
	p.render(w, http.StatusOK, "projects", data)
}

func (p *Pages) documents(w http.ResponseWriter, r *http.Request, data pageData) {
	query := r.URL.Query()
	data.Filter = app.DocumentListInput{
		ProjectID: query.Get("projectId"),
		Type:      query.Get("type"),
		Status:    query.Get("status"),
		Search:    query.Get("search"),
		Limit:     100,
	}
	projects, err := p.lister.ListProjects(r.Context(), data.Identity.UserID)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	docs, err := p.lister.ListDocuments(r.Context(), data.Identity.UserID, data.Filter)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	data.Title = "Documents"
	data.Projects = projects
	data.Documents = docs
	data.Types = app.DocumentTypes()
	data.Statuses = app.DocumentStatuses()
	p.render(w, http.StatusOK, "documents", data)
}

func (p *Pages) fail(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *app.DomainError
	if errors.As(err, &domainErr) && domainErr.Status < http.StatusInternalServerError {
		http.Error(w, domainErr.Message, domainErr.Status)
		return
	}
	p.logger.Error("render page", zap.String("path", r.URL.Path), zap.Error(err))
	http.Error(w, "Server error", http.StatusInternalServerError)
}

// render executes into a buffer first so a template error never leaves a
// half-written page.
func (p *Pages) render(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := p.templates[name].Execute(&buf, data); err != nil {
		p.logger.Error("execute template", zap.String("template", name), zap.Error(err))
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
