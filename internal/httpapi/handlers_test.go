package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"bazaar.app/internal/auth"
	"bazaar.app/internal/conversation"
	"bazaar.app/internal/messaging"
	"bazaar.app/internal/realtime"
	"bazaar.app/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	users   *auth.MemoryUserStore
	gateway *messaging.Gateway
}

func newTestAPI(t *testing.T, ready Readiness) *apiClient {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	users := auth.NewMemoryUserStore()
	dir, err := auth.NewDirectory(users, tokens)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	mem := conversation.NewMemory()
	hub := stream.NewHub()
	gw, err := messaging.NewGateway(mem.Conversations(), mem.Messages(), hub)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	hs, err := realtime.NewHandshake(tokens, users)
	if err != nil {
		t.Fatalf("NewHandshake: %v", err)
	}
	rt, err := realtime.NewServer(hs, gw, hub, realtime.Options{})
	if err != nil {
		t.Fatalf("realtime.NewServer: %v", err)
	}

	api := New(Deps{
		Directory:  dir,
		Gateway:    gw,
		Realtime:   rt,
		Ready:      ready,
		Version:    "test",
		RateBurst:  100,
		RatePerSec: 100,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		_ = rt.Shutdown(context.Background())
		srv.Close()
	})

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		users:   users,
		gateway: gw,
	}
}

func (c *apiClient) do(method, path string, params url.Values, body any, token string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, u.String(), bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d (%v)", want, resp.StatusCode, body)
	}
}

type sessionResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	IsAdmin   bool   `json:"isAdmin"`
}

func (c *apiClient) signup(name, email, password string) sessionResponse {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/signup", nil, map[string]string{"name": name, "email": email, "password": password}, "")
	expectStatus(c.t, resp, http.StatusCreated)
	return decodeBody[sessionResponse](c.t, resp)
}

func TestHealthAndReady(t *testing.T) {
	c := newTestAPI(t, nil)

	resp := c.do(http.MethodGet, "/healthz", nil, nil, "")
	expectStatus(t, resp, http.StatusOK)
	body := decodeBody[map[string]any](t, resp)
	if body["service"] != serviceName {
		t.Fatalf("unexpected health body: %v", body)
	}

	resp = c.do(http.MethodGet, "/readyz", nil, nil, "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestReadyFailure(t *testing.T) {
	c := newTestAPI(t, failingReadiness{})
	resp := c.do(http.MethodGet, "/readyz", nil, nil, "")
	expectStatus(t, resp, http.StatusServiceUnavailable)
	resp.Body.Close()
}

func TestUnknownPathIsJSON404(t *testing.T) {
	c := newTestAPI(t, nil)
	resp := c.do(http.MethodGet, "/v1/nothing-here", nil, nil, "")
	// Auth runs before routing, so anonymous callers see 401 first.
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	s := c.signup("Alice", "alice@example.com", "password123")
	resp = c.do(http.MethodGet, "/v1/nothing-here", nil, nil, s.Token)
	expectStatus(t, resp, http.StatusNotFound)
	body := decodeBody[map[string]any](t, resp)
	if body["request_id"] == nil || body["request_id"] == "" {
		t.Fatalf("expected request_id in error body: %v", body)
	}
}

func TestSignupLoginAndProfile(t *testing.T) {
	c := newTestAPI(t, nil)

	s := c.signup("Alice", "Alice@Example.com", "password123")
	if s.Token == "" || s.ExpiresIn != 3600 || s.ID == 0 || s.Email != "alice@example.com" || s.IsAdmin {
		t.Fatalf("unexpected signup response: %+v", s)
	}

	resp := c.do(http.MethodPost, "/v1/auth/signup", nil, map[string]string{"name": "Other", "email": "alice@example.com", "password": "password123"}, "")
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/auth/login", nil, map[string]string{"email": "alice@example.com", "password": "wrong-password"}, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/auth/login", nil, map[string]string{"email": "alice@example.com", "password": "password123"}, "")
	expectStatus(t, resp, http.StatusOK)
	login := decodeBody[sessionResponse](t, resp)
	if login.ID != s.ID || login.Token == "" {
		t.Fatalf("unexpected login response: %+v", login)
	}

	resp = c.do(http.MethodGet, "/v1/users/me", nil, nil, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/users/me", nil, nil, login.Token)
	expectStatus(t, resp, http.StatusOK)
	me := decodeBody[map[string]any](t, resp)
	if me["email"] != "alice@example.com" {
		t.Fatalf("unexpected profile: %v", me)
	}
	if _, leaked := me["passwordHash"]; leaked {
		t.Fatalf("password hash leaked: %v", me)
	}

	resp = c.do(http.MethodPut, "/v1/users/me", nil, map[string]string{"name": "Alice B", "email": "alice.b@example.com"}, login.Token)
	expectStatus(t, resp, http.StatusOK)
	updated := decodeBody[sessionResponse](t, resp)
	if updated.Name != "Alice B" || updated.Email != "alice.b@example.com" || updated.Token == "" {
		t.Fatalf("unexpected update response: %+v", updated)
	}

	// The old token names the old email and no longer resolves.
	resp = c.do(http.MethodGet, "/v1/users/me", nil, nil, login.Token)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.do(http.MethodPut, "/v1/users/me/password", nil, map[string]string{"currentPassword": "password123", "newPassword": "brand-new-pass"}, updated.Token)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/auth/login", nil, map[string]string{"email": "alice.b@example.com", "password": "brand-new-pass"}, "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestSignupValidation(t *testing.T) {
	c := newTestAPI(t, nil)
	for _, body := range []map[string]any{
		{"name": "A", "email": "not-an-email", "password": "password123"},
		{"name": "A", "email": "a@example.com", "password": "short"},
		{"name": "", "email": "a@example.com", "password": "password123"},
		{"name": "A", "email": "a@example.com", "password": "password123", "extra": true},
	} {
		resp := c.do(http.MethodPost, "/v1/auth/signup", nil, body, "")
		expectStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	}

	resp := c.do(http.MethodGet, "/v1/auth/signup", nil, nil, "")
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	resp.Body.Close()
}

func TestConversationEndpoints(t *testing.T) {
	c := newTestAPI(t, nil)
	alice := c.signup("Alice", "alice@example.com", "password123")
	bob := c.signup("Bob", "bob@example.com", "password123")

	aliceCtx := auth.ContextWithSession(context.Background(), auth.Session{UserID: alice.ID})
	msg, err := c.gateway.SendMessage(aliceCtx, messaging.SendMessageRequest{ItemID: 42, Content: "hello"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	convPath := "/v1/conversations/" + itoa(msg.ConversationID)

	resp := c.do(http.MethodGet, "/v1/conversations", nil, nil, alice.Token)
	expectStatus(t, resp, http.StatusOK)
	list := decodeBody[struct {
		Items []conversation.Conversation `json:"items"`
	}](t, resp)
	if len(list.Items) != 1 || list.Items[0].ItemID != 42 {
		t.Fatalf("unexpected conversation list: %+v", list)
	}

	resp = c.do(http.MethodGet, convPath, nil, nil, bob.Token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.do(http.MethodGet, convPath+"/messages", url.Values{"limit": {"10"}}, nil, alice.Token)
	expectStatus(t, resp, http.StatusOK)
	page := decodeBody[messagePage](t, resp)
	if len(page.Items) != 1 || page.Items[0].Content != "hello" {
		t.Fatalf("unexpected page: %+v", page)
	}

	resp = c.do(http.MethodGet, convPath+"/messages", url.Values{"limit": {"0"}}, nil, alice.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodGet, convPath+"/messages/latest", nil, nil, alice.Token)
	expectStatus(t, resp, http.StatusOK)
	latest := decodeBody[conversation.Message](t, resp)
	if latest.ID != msg.ID {
		t.Fatalf("unexpected latest message: %+v", latest)
	}

	resp = c.do(http.MethodDelete, convPath, nil, nil, bob.Token)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, convPath, nil, nil, alice.Token)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, convPath, nil, nil, alice.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/conversations/abc", nil, nil, alice.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestAdminUserLookup(t *testing.T) {
	c := newTestAPI(t, nil)
	alice := c.signup("Alice", "alice@example.com", "password123")
	root := c.signup("Root", "root@example.com", "password123")
	if err := c.users.SetAdmin(root.ID, true); err != nil {
		t.Fatalf("SetAdmin: %v", err)
	}

	path := "/v1/admin/users/" + itoa(alice.ID)
	resp := c.do(http.MethodGet, path, nil, nil, alice.Token)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.do(http.MethodGet, path, nil, nil, root.Token)
	expectStatus(t, resp, http.StatusOK)
	u := decodeBody[map[string]any](t, resp)
	if u["email"] != "alice@example.com" {
		t.Fatalf("unexpected user: %v", u)
	}

	resp = c.do(http.MethodGet, "/v1/admin/users/999", nil, nil, root.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestHandleConversationErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{conversation.NotFoundError("delete conversation"), http.StatusNotFound},
		{&conversation.ValidationError{Field: "content", Reason: "must not be blank"}, http.StatusBadRequest},
		{messaging.ErrForbidden, http.StatusForbidden},
		{messaging.ErrUnauthenticated, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		handleConversationError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		if rr.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, rr.Code)
		}
	}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
