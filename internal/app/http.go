package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"testdocs/api/internal/auth"
	"testdocs/api/internal/authpw"
)

const maxBodyBytes = 1 << 20

type HTTPServer struct {
	service       *Service
	corsOrigin    string
	logger        *zap.Logger
	secureCookies bool
	pages         http.Handler
	readyChecks   []readyCheck
}

type readyCheck struct {
	name string
	ping func(context.Context) error
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		service:       service,
		corsOrigin:    corsOrigin,
		logger:        logger.Named("http"),
		secureCookies: service.cfg.IsProduction(),
	}
}

// WithPages mounts the HTML pages for every non-API path.
func (s *HTTPServer) WithPages(pages http.Handler) *HTTPServer {
	s.pages = pages
	return s
}

// WithReadyCheck adds a dependency that /api/ready must reach, reported
// under checks[name].
func (s *HTTPServer) WithReadyCheck(name string, ping func(context.Context) error) *HTTPServer {
	s.readyChecks = append(s.readyChecks, readyCheck{name: name, ping: ping})
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.gate(http.HandlerFunc(s.handle)))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if !isAPIPath(r.URL.Path) {
		if s.pages != nil {
			s.pages.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) == 3 && parts[1] == "auth" {
		s.handleAuth(w, r, parts[2])
		return
	}

	if len(parts) < 2 || !resourceRoutes[parts[1]] {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	switch {
	case parts[1] == "projects":
		s.handleProjects(w, r, identity, parts[2:])
	case parts[1] == "documents":
		s.handleDocuments(w, r, identity, parts[2:])
	case len(parts) == 2 && r.Method == http.MethodGet:
		s.handleSearch(w, r, identity)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

var resourceRoutes = map[string]bool{"projects": true, "documents": true, "search": true}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"search":   map[string]any{"status": "ok", "engine": s.service.SearchEngine()},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	for _, check := range s.readyChecks {
		if err := check.ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[check.name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[check.name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleAuth(w http.ResponseWriter, r *http.Request, action string) {
	switch {
	case action == "register" && r.Method == http.MethodPost:
		var body authpw.RegisterRequest
		if !s.decode(w, r, &body) {
			return
		}
		user, err := s.service.Register(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, user)

	case action == "login" && r.Method == http.MethodPost:
		var body authpw.LoginRequest
		if !s.decode(w, r, &body) {
			return
		}
		result, err := s.service.Login(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.setSessionCookie(w, result.Token, result.ExpiresAt)
		writeData(w, http.StatusOK, result)

	case action == "logout" && r.Method == http.MethodPost:
		identity, _ := IdentityFrom(r.Context())
		if err := s.service.Logout(r.Context(), identity); err != nil {
			s.fail(w, r, err)
			return
		}
		s.clearSessionCookie(w)
		writeData(w, http.StatusOK, map[string]any{"ok": true})

	case action == "me" && r.Method == http.MethodGet:
		identity, _ := IdentityFrom(r.Context())
		user, err := s.service.CurrentUser(r.Context(), identity)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, user)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, identity Identity) {
	query := r.URL.Query()
	input := SearchInput{
		Text:      query.Get("q"),
		ProjectID: query.Get("projectId"),
		Type:      query.Get("type"),
		Status:    query.Get("status"),
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

	resp, err := s.service.Search(r.Context(), identity.UserID, input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

type requestMeta struct {
	requestID string
	userID    string
}

type requestMetaKey struct{}

func requestMetaFrom(ctx context.Context) *requestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(*requestMeta)
	return meta
}

func requestIDFrom(ctx context.Context) string {
	if meta := requestMetaFrom(ctx); meta != nil {
		return meta.requestID
	}
	return ""
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		meta := &requestMeta{requestID: requestID}
		r = r.WithContext(context.WithValue(r.Context(), requestMetaKey{}, meta))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Duration("duration", time.Since(started)),
		}
		if meta.userID != "" {
			fields = append(fields, zap.String("user_id", meta.userID))
		}
		s.logger.Info("request", fields...)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	if corsOrigin != "*" {
		header.Set("Access-Control-Allow-Credentials", "true")
	}
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, map[string]any{"data": payload})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// fail maps err to a response. Unexpected errors are logged with the request
// id and reported as a generic 500.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(w, r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func intParam(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return strconv.Atoi(strings.TrimSpace(raw))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
