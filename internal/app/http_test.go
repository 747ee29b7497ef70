package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type apiClient struct {
	t       *testing.T
	handler http.Handler
	token   string
}

func newTestServer(t *testing.T) (*HTTPServer, *memStore) {
	t.Helper()
	svc, ms := newTestService(t)
	return NewHTTPServer(svc, "*", nil), ms
}

func (c apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rr := httptest.NewRecorder()
	c.handler.ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	if len(envelope.Data) == 0 {
		t.Fatalf("expected data envelope, got %s", rr.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, target); err != nil {
		t.Fatalf("parse data: %v", err)
	}
}

func decodeErrorBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
}

// signUp registers and logs in a user, returning a client carrying the token.
func signUp(t *testing.T, handler http.Handler, email string) (apiClient, string) {
	t.Helper()
	anon := apiClient{t: t, handler: handler}
	rr := anon.do(http.MethodPost, "/api/auth/register", map[string]string{
		"email": email, "name": email, "password": "password123",
	})
	expectStatus(t, rr, http.StatusCreated)
	var user struct {
		ID string `json:"id"`
	}
	decodeData(t, rr, &user)

	rr = anon.do(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": "password123"})
	expectStatus(t, rr, http.StatusOK)
	var login LoginResult
	decodeData(t, rr, &login)
	return apiClient{t: t, handler: handler, token: login.Token}, user.ID
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	rr := apiClient{t: t, handler: server.Handler()}.do(http.MethodGet, "/api/health", nil)
	expectStatus(t, rr, http.StatusOK)
	if ok := decodeErrorBody(t, rr)["ok"]; ok != true {
		t.Fatalf("expected ok=true, got %v", ok)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("expected CORS origin=*, got %q", origin)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestReadyEndpointReportsDatabaseFailure(t *testing.T) {
	server, ms := newTestServer(t)
	client := apiClient{t: t, handler: server.Handler()}

	rr := client.do(http.MethodGet, "/api/ready", nil)
	expectStatus(t, rr, http.StatusOK)
	payload := decodeErrorBody(t, rr)
	checks, _ := payload["checks"].(map[string]any)
	searchCheck, _ := checks["search"].(map[string]any)
	if searchCheck["engine"] != "postgres" {
		t.Fatalf("expected postgres search engine, got %v", checks["search"])
	}

	ms.pingErr = errors.New("connection refused")
	rr = client.do(http.MethodGet, "/api/ready", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	payload = decodeErrorBody(t, rr)
	if payload["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %v", payload["status"])
	}
}

func TestReadyEndpointRunsExtraChecks(t *testing.T) {
	server, _ := newTestServer(t)
	var redisErr error
	server.WithReadyCheck("redis", func(context.Context) error { return redisErr })
	client := apiClient{t: t, handler: server.Handler()}

	rr := client.do(http.MethodGet, "/api/ready", nil)
	expectStatus(t, rr, http.StatusOK)
	checks, _ := decodeErrorBody(t, rr)["checks"].(map[string]any)
	redisCheck, _ := checks["redis"].(map[string]any)
	if redisCheck["status"] != "ok" {
		t.Fatalf("expected redis ok, got %v", checks["redis"])
	}

	redisErr = errors.New("dial tcp: connection refused")
	rr = client.do(http.MethodGet, "/api/ready", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	payload := decodeErrorBody(t, rr)
	checks, _ = payload["checks"].(map[string]any)
	redisCheck, _ = checks["redis"].(map[string]any)
	if redisCheck["status"] != "error" || payload["status"] != "not_ready" {
		t.Fatalf("expected failing redis check, got %v", payload)
	}
	databaseCheck, _ := checks["database"].(map[string]any)
	if databaseCheck["status"] != "ok" {
		t.Fatalf("expected database to stay ok, got %v", checks["database"])
	}
}

func TestOptionsIsAnsweredWithoutSession(t *testing.T) {
	server, _ := newTestServer(t)
	rr := apiClient{t: t, handler: server.Handler()}.do(http.MethodOptions, "/api/projects", nil)
	expectStatus(t, rr, http.StatusNoContent)
}

func TestRegisterDuplicateEmailIsBadRequest(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()
	signUp(t, handler, "x@a.com")

	rr := apiClient{t: t, handler: handler}.do(http.MethodPost, "/api/auth/register", map[string]string{
		"email": "X@A.com", "name": "Again", "password": "password123",
	})
	expectStatus(t, rr, http.StatusBadRequest)
	if code := decodeErrorBody(t, rr)["code"]; code != "EMAIL_EXISTS" {
		t.Fatalf("expected EMAIL_EXISTS, got %v", code)
	}
}

func TestRegisterRejectsMalformedBody(t *testing.T) {
	server, _ := newTestServer(t)
	rr := apiClient{t: t, handler: server.Handler()}.do(http.MethodPost, "/api/auth/register", `{"email":`)
	expectStatus(t, rr, http.StatusBadRequest)
	if code := decodeErrorBody(t, rr)["code"]; code != "INVALID_BODY" {
		t.Fatalf("expected INVALID_BODY, got %v", code)
	}
}

func TestRegisterRejectsPasswordOverBcryptByteLimit(t *testing.T) {
	server, ms := newTestServer(t)
	rr := apiClient{t: t, handler: server.Handler()}.do(http.MethodPost, "/api/auth/register", map[string]string{
		"email": "long@a.com", "name": "Long", "password": strings.Repeat("é", 40),
	})
	expectStatus(t, rr, http.StatusBadRequest)
	payload := decodeErrorBody(t, rr)
	if payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", payload["code"])
	}
	details, _ := payload["details"].(map[string]any)
	if _, ok := details["password"]; !ok {
		t.Fatalf("expected password detail, got %v", payload["details"])
	}
	if len(ms.users) != 0 {
		t.Fatalf("expected no user to be stored, got %d", len(ms.users))
	}
}

func TestLoginFailureBodiesAreIdentical(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()
	signUp(t, handler, "a@a.com")
	anon := apiClient{t: t, handler: handler}

	wrong := anon.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "a@a.com", "password": "nope-nope"})
	unknown := anon.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "ghost@a.com", "password": "nope-nope"})
	expectStatus(t, wrong, http.StatusUnauthorized)
	expectStatus(t, unknown, http.StatusUnauthorized)
	if wrong.Body.String() != unknown.Body.String() {
		t.Fatalf("expected identical bodies, got %s and %s", wrong.Body.String(), unknown.Body.String())
	}
}

func TestLoginSetsSessionCookie(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()
	signUp(t, handler, "a@a.com")

	rr := apiClient{t: t, handler: handler}.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "a@a.com", "password": "password123"})
	expectStatus(t, rr, http.StatusOK)

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == authCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatalf("expected %s cookie", authCookieName)
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode || cookie.Path != "/" {
		t.Fatalf("unexpected cookie attributes: %+v", cookie)
	}
	if cookie.MaxAge != 3600 {
		t.Fatalf("expected MaxAge 3600, got %d", cookie.MaxAge)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookie)
	me := httptest.NewRecorder()
	handler.ServeHTTP(me, req)
	expectStatus(t, me, http.StatusOK)
	var user CurrentUserView
	decodeData(t, me, &user)
	if user.Email != "a@a.com" {
		t.Fatalf("expected a@a.com, got %q", user.Email)
	}
}

func TestGateRejectsMissingSession(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	api := httptest.NewRecorder()
	handler.ServeHTTP(api, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	expectStatus(t, api, http.StatusUnauthorized)
	if code := decodeErrorBody(t, api)["code"]; code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %v", code)
	}

	page := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: authCookieName, Value: "garbage"})
	handler.ServeHTTP(page, req)
	expectStatus(t, page, http.StatusSeeOther)
	if location := page.Header().Get("Location"); location != "/login" {
		t.Fatalf("expected redirect to /login, got %q", location)
	}
	cleared := false
	for _, c := range page.Result().Cookies() {
		if c.Name == authCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected the session cookie to be cleared")
	}
}

func TestGateLeavesPublicPathsAlone(t *testing.T) {
	server, _ := newTestServer(t)
	server.WithPages(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("page " + r.URL.Path))
	}))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/login", nil))
	expectStatus(t, rr, http.StatusOK)
	if rr.Body.String() != "page /login" {
		t.Fatalf("expected page handler output, got %q", rr.Body.String())
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	server, _ := newTestServer(t)
	client, _ := signUp(t, server.Handler(), "a@a.com")

	expectStatus(t, client.do(http.MethodGet, "/api/auth/me", nil), http.StatusOK)
	rr := client.do(http.MethodPost, "/api/auth/logout", nil)
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Header().Get("Set-Cookie"), authCookieName+"=;") {
		t.Fatalf("expected cookie to be cleared, got %q", rr.Header().Get("Set-Cookie"))
	}
	expectStatus(t, client.do(http.MethodGet, "/api/auth/me", nil), http.StatusUnauthorized)
}

// Two users, one project: the member can read and write documents but only
// the manager can delete them, and an outsider sees nothing.
func TestProjectCollaborationScenario(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()
	alice, _ := signUp(t, handler, "a@a.com")
	bob, bobID := signUp(t, handler, "b@a.com")
	carol, _ := signUp(t, handler, "c@a.com")

	rr := alice.do(http.MethodPost, "/api/projects", map[string]any{"name": "Checkout", "memberEmails": []string{"b@a.com"}})
	expectStatus(t, rr, http.StatusCreated)
	var project ProjectView
	decodeData(t, rr, &project)
	if project.Role != "MANAGER" || len(project.Members) != 2 {
		t.Fatalf("unexpected project: %+v", project)
	}

	rr = bob.do(http.MethodPost, "/api/documents", map[string]any{
		"projectId": project.ID, "title": "Login cases", "content": "steps", "type": "TEST_CASE",
	})
	expectStatus(t, rr, http.StatusCreated)
	var doc DocumentView
	decodeData(t, rr, &doc)
	if doc.Version != 1 || doc.Status != "DRAFT" {
		t.Fatalf("unexpected document: %+v", doc)
	}

	rr = alice.do(http.MethodPut, "/api/documents/"+doc.ID, map[string]any{"title": "Login cases", "content": "more steps", "status": "IN_REVIEW"})
	expectStatus(t, rr, http.StatusOK)
	decodeData(t, rr, &doc)
	if doc.Version != 2 {
		t.Fatalf("expected version 2, got %d", doc.Version)
	}

	rr = alice.do(http.MethodPut, "/api/documents/"+doc.ID, map[string]any{"title": "x", "status": "DRAFT", "expectedVersion": 1})
	expectStatus(t, rr, http.StatusConflict)

	rr = bob.do(http.MethodGet, "/api/documents/"+doc.ID+"/versions", nil)
	expectStatus(t, rr, http.StatusOK)
	var versions []VersionView
	decodeData(t, rr, &versions)
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	expectStatus(t, bob.do(http.MethodGet, "/api/documents/"+doc.ID+"/versions/"+versions[1].ID, nil), http.StatusOK)

	rr = carol.do(http.MethodGet, "/api/documents/"+doc.ID, nil)
	expectStatus(t, rr, http.StatusForbidden)
	rr = carol.do(http.MethodGet, "/api/documents", nil)
	expectStatus(t, rr, http.StatusOK)
	var carolDocs []DocumentView
	decodeData(t, rr, &carolDocs)
	if len(carolDocs) != 0 {
		t.Fatalf("expected outsider to see no documents, got %d", len(carolDocs))
	}
	expectStatus(t, carol.do(http.MethodGet, "/api/documents/doc_missing", nil), http.StatusNotFound)

	rr = bob.do(http.MethodPost, "/api/documents/"+doc.ID+"/comments", map[string]any{"content": "looks good"})
	expectStatus(t, rr, http.StatusCreated)
	var comment CommentView
	decodeData(t, rr, &comment)
	rr = alice.do(http.MethodPost, "/api/documents/"+doc.ID+"/comments", map[string]any{"content": "thanks", "parentId": comment.ID})
	expectStatus(t, rr, http.StatusCreated)

	rr = alice.do(http.MethodGet, "/api/documents/"+doc.ID+"/comments", nil)
	expectStatus(t, rr, http.StatusOK)
	var threads []CommentView
	decodeData(t, rr, &threads)
	if len(threads) != 1 || len(threads[0].Replies) != 1 {
		t.Fatalf("expected one thread with one reply, got %+v", threads)
	}

	rr = alice.do(http.MethodDelete, "/api/documents/"+doc.ID+"/comments/"+comment.ID, nil)
	expectStatus(t, rr, http.StatusOK)
	var deleted struct {
		Deleted int `json:"deleted"`
	}
	decodeData(t, rr, &deleted)
	if deleted.Deleted != 2 {
		t.Fatalf("expected comment and reply deleted, got %d", deleted.Deleted)
	}

	expectStatus(t, bob.do(http.MethodDelete, "/api/documents/"+doc.ID, nil), http.StatusForbidden)
	expectStatus(t, alice.do(http.MethodDelete, "/api/documents/"+doc.ID, nil), http.StatusOK)
	expectStatus(t, bob.do(http.MethodGet, "/api/documents/"+doc.ID, nil), http.StatusNotFound)

	rr = alice.do(http.MethodDelete, "/api/projects/"+project.ID+"/members?userId="+bobID, nil)
	expectStatus(t, rr, http.StatusOK)
	expectStatus(t, bob.do(http.MethodGet, "/api/projects/"+project.ID, nil), http.StatusForbidden)
}

func TestMemberRoutesEnforceLastManager(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()
	alice, aliceID := signUp(t, handler, "a@a.com")
	signUp(t, handler, "b@a.com")

	rr := alice.do(http.MethodPost, "/api/projects", map[string]any{"name": "Solo"})
	expectStatus(t, rr, http.StatusCreated)
	var project ProjectView
	decodeData(t, rr, &project)

	rr = alice.do(http.MethodDelete, "/api/projects/"+project.ID+"/members", map[string]string{"userId": aliceID})
	expectStatus(t, rr, http.StatusBadRequest)
	if code := decodeErrorBody(t, rr)["code"]; code != "LAST_MANAGER" {
		t.Fatalf("expected LAST_MANAGER, got %v", code)
	}

	rr = alice.do(http.MethodPut, "/api/projects/"+project.ID+"/members", map[string]string{"userId": aliceID, "role": "MEMBER"})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = alice.do(http.MethodPost, "/api/projects/"+project.ID+"/members", map[string]string{"email": "b@a.com"})
	expectStatus(t, rr, http.StatusCreated)
	rr = alice.do(http.MethodPost, "/api/projects/"+project.ID+"/members", map[string]string{"email": "b@a.com"})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = alice.do(http.MethodGet, "/api/projects/"+project.ID+"/members", nil)
	expectStatus(t, rr, http.StatusOK)
	var members []MemberView
	decodeData(t, rr, &members)
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
}

func TestSearchRouteValidatesPaging(t *testing.T) {
	server, _ := newTestServer(t)
	client, _ := signUp(t, server.Handler(), "a@a.com")

	expectStatus(t, client.do(http.MethodGet, "/api/search?q=x&limit=abc", nil), http.StatusBadRequest)

	rr := client.do(http.MethodGet, "/api/search?q=anything", nil)
	expectStatus(t, rr, http.StatusOK)
	var resp struct {
		Results []any  `json:"results"`
		Engine  string `json:"engine"`
	}
	decodeData(t, rr, &resp)
	if resp.Engine != "postgres" || resp.Results == nil {
		t.Fatalf("unexpected search response: %+v", resp)
	}
}

func TestUnknownAPIRouteIsNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	client, _ := signUp(t, server.Handler(), "a@a.com")
	expectStatus(t, client.do(http.MethodGet, "/api/nope", nil), http.StatusNotFound)
	expectStatus(t, client.do(http.MethodPatch, "/api/projects", nil), http.StatusMethodNotAllowed)
}
