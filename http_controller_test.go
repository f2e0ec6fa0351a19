package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*TestEnv
	app *fiber.App
}

func newTestServer(t *testing.T, opts ...AuthControllerOption) *testServer {
	t.Helper()

	env := NewTestEnv(t)
	app, r := NewTestRouter(FiberConfig(env.Deps.Logger))

	base := []AuthControllerOption{
		WithAuthenticator(env.Auther, ""),
		WithCommandDeps(env.Deps),
		WithControllerLogger(env.Deps.Logger),
	}
	RegisterAuthRoutes(r, append(base, opts...)...)

	return &testServer{TestEnv: env, app: app}
}

func (s *testServer) do(t *testing.T, method, target, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(DefaultTokenHeader, token)
	}

	res, err := s.app.Test(req, -1)
	require.NoError(t, err)

	out := map[string]any{}
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return res, out
}

func (s *testServer) token(t *testing.T, user *User) string {
	t.Helper()
	token, _, err := s.Tokens.Generate(context.Background(), NewIdentityFromUser(user))
	require.NoError(t, err)
	return token
}

func errorKind(body map[string]any) string {
	envelope, _ := body["error"].(map[string]any)
	kind, _ := envelope["kind"].(string)
	return kind
}

func errorDetails(body map[string]any) map[string]any {
	envelope, _ := body["error"].(map[string]any)
	details, _ := envelope["details"].(map[string]any)
	return details
}

func TestHTTP_RegisterLoginVerifyFlow(t *testing.T) {
	s := newTestServer(t)

	res, body := s.do(t, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "secret123",
		"role":     "admin",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, body)
	assert.NotEmpty(t, res.Header.Get(DefaultTokenHeader))

	user := body["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, "alice@example.com", user["email"])
	assert.NotContains(t, user, "password")

	s.DrainMail(t)
	sent := s.Notifier.Sent()
	require.Len(t, sent, 1)

	res, body = s.do(t, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"username": "alice2",
		"email":    "ALICE@example.com",
		"password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, TextCodeConflict, errorKind(body))

	res, body = s.do(t, http.MethodPost, "/api/auth/login", "", fiber.Map{
		"email":    "alice@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	token := body["token"].(string)
	assert.Equal(t, token, res.Header.Get(DefaultTokenHeader))

	res, body = s.do(t, http.MethodGet, "/api/users/profile", token, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	profile := body["user"].(map[string]any)
	assert.Equal(t, "buyer", profile["role"], "self registration cannot elevate")
	assert.Equal(t, false, profile["verified"])

	ticket := linkTicket(t, sent[0].Body)
	res, body = s.do(t, http.MethodGet, "/api/auth/verify?token="+url.QueryEscape(ticket), "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, false, body["already_verified"])

	res, body = s.do(t, http.MethodGet, "/api/auth/verify?token="+url.QueryEscape(ticket), "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["already_verified"])

	res, body = s.do(t, http.MethodGet, "/api/users/profile", token, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["user"].(map[string]any)["verified"])
}

func TestHTTP_RegisterValidation(t *testing.T) {
	s := newTestServer(t)

	res, body := s.do(t, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"username": "bad name",
		"email":    "nope",
		"password": "123",
	})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, TextCodeValidation, errorKind(body))
	details := errorDetails(body)
	assert.Contains(t, details, "username")
	assert.Contains(t, details, "email")
	assert.Contains(t, details, "password")
}

func TestHTTP_AdminRegistersSeller(t *testing.T) {
	s := newTestServer(t)
	admin := s.MustVerified(t, "admin", RoleAdmin)

	res, body := s.do(t, http.MethodPost, "/api/auth/register", s.token(t, admin), fiber.Map{
		"username": "shop",
		"email":    "shop@example.com",
		"password": "secret123",
		"role":     "seller",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, body)
	assert.Empty(t, res.Header.Get(DefaultTokenHeader))

	created, err := s.Repo.Users().FindByEmail(context.Background(), "shop@example.com")
	require.NoError(t, err)
	assert.Equal(t, RoleSeller, created.Role)

	res, body = s.do(t, http.MethodPost, "/api/auth/register", s.token(t, admin), fiber.Map{
		"username": "boss",
		"email":    "boss@example.com",
		"password": "secret123",
		"role":     "superadmin",
	})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, TextCodeForbidden, errorKind(body))
}

func TestHTTP_LoginFailures(t *testing.T) {
	s := newTestServer(t)
	s.MustVerified(t, "alice", RoleBuyer)

	res, wrong := s.do(t, http.MethodPost, "/api/auth/login", "", fiber.Map{
		"email": "alice@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, unknown := s.do(t, http.MethodPost, "/api/auth/login", "", fiber.Map{
		"email": "ghost@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, wrong, unknown)

	res, body := s.do(t, http.MethodPost, "/api/auth/login", "", fiber.Map{"email": "alice@example.com"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, TextCodeValidation, errorKind(body))
}

func TestHTTP_SessionRejections(t *testing.T) {
	s := newTestServer(t)
	alice := s.MustVerified(t, "alice", RoleBuyer)
	token := s.token(t, alice)

	foreign := NewTokenService([]byte("another-key"), DefaultTokenTTL, "go-auth-test", WithTokenClock(s.Clock))
	forged, _, err := foreign.Generate(context.Background(), NewIdentityFromUser(alice))
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{name: "missing", token: "", reason: "missing"},
		{name: "garbage", token: "not-a-jwt", reason: "invalid"},
		{name: "bad signature", token: forged, reason: "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, body := s.do(t, http.MethodGet, "/api/users/profile", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
			assert.Equal(t, TextCodeUnauthorized, errorKind(body))
			assert.Equal(t, tt.reason, errorDetails(body)["reason"])
		})
	}

	s.Clock.Advance(DefaultTokenTTL + time.Minute)
	res, body := s.do(t, http.MethodGet, "/api/users/profile", token, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "expired", errorDetails(body)["reason"])
}

func TestHTTP_DeletedUserTokenIsRejected(t *testing.T) {
	s := newTestServer(t)
	alice := s.MustVerified(t, "alice", RoleBuyer)
	token := s.token(t, alice)

	require.NoError(t, s.Repo.Users().Delete(context.Background(), alice.ID.String()))

	res, body := s.do(t, http.MethodGet, "/api/users/profile", token, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unknown subject", errorDetails(body)["reason"])
}

func TestHTTP_InvalidTokenOnOptionalRoute(t *testing.T) {
	s := newTestServer(t)

	res, body := s.do(t, http.MethodPost, "/api/auth/register", "not-a-jwt", fiber.Map{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "secret123",
	})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, TextCodeUnauthorized, errorKind(body))
}

func TestHTTP_RoleGuard(t *testing.T) {
	s := newTestServer(t)
	buyer := s.MustVerified(t, "buyer", RoleBuyer)
	admin := s.MustVerified(t, "admin", RoleAdmin)
	super := s.MustVerified(t, "root", RoleSuperAdmin)

	res, body := s.do(t, http.MethodGet, "/api/users", s.token(t, buyer), nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, TextCodeForbidden, errorKind(body))

	res, body = s.do(t, http.MethodGet, "/api/users?page=1&limit=2", s.token(t, admin), nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.EqualValues(t, 3, body["total"])
	assert.Len(t, body["users"], 2)

	target := "/api/users/" + buyer.ID.String() + "/role"

	res, _ = s.do(t, http.MethodPatch, target, s.token(t, admin), fiber.Map{"role": "seller"})
	assert.Equal(t, http.StatusForbidden, res.StatusCode, "role changes need superadmin")

	res, body = s.do(t, http.MethodPatch, "/api/users/not-a-uuid/role", s.token(t, super), fiber.Map{"role": "seller"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, errorDetails(body), "id")

	res, body = s.do(t, http.MethodPatch, target, s.token(t, super), fiber.Map{"role": "seller"})
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, "seller", body["user"].(map[string]any)["role"])

	// the stored role applies to the next request with the old token
	res, body = s.do(t, http.MethodGet, "/api/users/profile", s.token(t, buyer), nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "seller", body["user"].(map[string]any)["role"])
}

func TestHTTP_VerifyByEmail(t *testing.T) {
	s := newTestServer(t)
	s.MustRegister(t, "alice", nil, "")
	seller := s.MustVerified(t, "seller", RoleSeller)
	admin := s.MustVerified(t, "admin", RoleAdmin)

	res, _ := s.do(t, http.MethodPost, "/api/auth/verify", "", fiber.Map{"email": "alice@example.com"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = s.do(t, http.MethodPost, "/api/auth/verify", s.token(t, seller), fiber.Map{"email": "alice@example.com"})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, body := s.do(t, http.MethodPost, "/api/auth/verify", s.token(t, admin), fiber.Map{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, errorDetails(body), "email")

	res, body = s.do(t, http.MethodPost, "/api/auth/verify", s.token(t, admin), fiber.Map{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, false, body["already_verified"])
	assert.Equal(t, true, body["user"].(map[string]any)["verified"])
}

func TestHTTP_VerifyTicketErrors(t *testing.T) {
	s := newTestServer(t)
	reg := s.MustRegister(t, "alice", nil, "")

	res, body := s.do(t, http.MethodGet, "/api/auth/verify", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, TextCodeValidation, errorKind(body))

	res, body = s.do(t, http.MethodGet, "/api/auth/verify?token=short", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, TextCodeInvalidOrExpiredToken, errorKind(body))

	s.Clock.Advance(DefaultVerificationTTL + time.Second)
	res, body = s.do(t, http.MethodGet, "/api/auth/verify?token="+url.QueryEscape(reg.Ticket.Raw), "", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, TextCodeInvalidOrExpiredToken, errorKind(body))
}

func TestHTTP_VerifyRedirect(t *testing.T) {
	s := newTestServer(t, WithVerifyRedirect("https://shop.example.com/welcome?from=mail"))
	reg := s.MustRegister(t, "alice", nil, "")

	target := "/api/auth/verify?token=" + url.QueryEscape(reg.Ticket.Raw)

	res, _ := s.do(t, http.MethodGet, target, "", nil)
	require.Equal(t, http.StatusFound, res.StatusCode)
	location, err := url.Parse(res.Header.Get(fiber.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "verified", location.Query().Get("status"))
	assert.Equal(t, "mail", location.Query().Get("from"))

	res, _ = s.do(t, http.MethodGet, target, "", nil)
	require.Equal(t, http.StatusFound, res.StatusCode)
	location, err = url.Parse(res.Header.Get(fiber.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "already_verified", location.Query().Get("status"))
}

func TestHTTP_ProfileUpdate(t *testing.T) {
	s := newTestServer(t)
	alice := s.MustVerified(t, "alice", RoleBuyer)
	s.MustVerified(t, "bob", RoleBuyer)
	token := s.token(t, alice)

	res, body := s.do(t, http.MethodPut, "/api/users/profile", token, fiber.Map{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Contains(t, errorDetails(body), "body")

	res, body = s.do(t, http.MethodPut, "/api/users/profile", token, fiber.Map{"username": "bob"})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, TextCodeConflict, errorKind(body))

	res, body = s.do(t, http.MethodPut, "/api/users/profile", token, fiber.Map{"email": "alice@shop.example.com"})
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Empty(t, res.Header.Get(DefaultTokenHeader))
	assert.Equal(t, "alice@shop.example.com", body["user"].(map[string]any)["email"])

	res, body = s.do(t, http.MethodPut, "/api/users/profile", token, fiber.Map{"password": "n3w-secret"})
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.NotEmpty(t, res.Header.Get(DefaultTokenHeader))
	assert.Equal(t, res.Header.Get(DefaultTokenHeader), body["token"])
}

func TestHTTP_DeleteUsers(t *testing.T) {
	s := newTestServer(t)
	admin := s.MustVerified(t, "admin", RoleAdmin)
	s.MustRegister(t, "p1", nil, "")
	s.MustRegister(t, "p2", nil, "")
	buyer := s.MustVerified(t, "buyer", RoleBuyer)
	token := s.token(t, admin)

	res, body := s.do(t, http.MethodDelete, "/api/users", token, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, TextCodeValidation, errorKind(body))

	res, _ = s.do(t, http.MethodDelete, "/api/users?all=true&isverified=true", token, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = s.do(t, http.MethodDelete, "/api/users?id=nope", token, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body = s.do(t, http.MethodDelete, "/api/users?isverified=false", token, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.EqualValues(t, 2, body["deleted"])

	res, body = s.do(t, http.MethodDelete, "/api/users?id="+buyer.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.EqualValues(t, 1, body["deleted"])

	res, body = s.do(t, http.MethodDelete, "/api/users?id="+buyer.ID.String(), token, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, TextCodeNotFound, errorKind(body))
}

func TestHTTP_UnknownRoute(t *testing.T) {
	s := newTestServer(t)

	res, body := s.do(t, http.MethodGet, "/api/nothing", "", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, TextCodeNotFound, errorKind(body))
}

func linkTicket(t *testing.T, body string) string {
	t.Helper()
	marker := VerifyPath + "?token="
	start := strings.Index(body, marker)
	require.GreaterOrEqual(t, start, 0, "no verification link in mail")
	rest := body[start+len(marker):]
	end := strings.IndexAny(rest, "\"<& \n")
	if end >= 0 {
		rest = rest[:end]
	}
	ticket, err := url.QueryUnescape(rest)
	require.NoError(t, err)
	return ticket
}

func TestHTTP_StoreFailureDuringAuthenticationIsInternal(t *testing.T) {
	s := newTestServer(t)
	alice := s.MustVerified(t, "alice", RoleBuyer)
	token := s.token(t, alice)

	require.NoError(t, s.Repo.Close())

	res, body := s.do(t, http.MethodGet, "/api/users/profile", token, nil)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, TextCodeInternal, errorKind(body))
	assert.Empty(t, errorDetails(body))
}

func TestHTTP_ListUsersQueryBounds(t *testing.T) {
	s := newTestServer(t)
	admin := s.MustVerified(t, "admin", RoleAdmin)
	token := s.token(t, admin)

	tests := []struct {
		name  string
		query string
		field string
	}{
		{name: "page too large", query: "page=9223372036854775807", field: "page"},
		{name: "negative page", query: "page=-1", field: "page"},
		{name: "page not a number", query: "page=two", field: "page"},
		{name: "limit not a number", query: "limit=ten", field: "limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, body := s.do(t, http.MethodGet, "/api/users?"+tt.query, token, nil)
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			assert.Equal(t, TextCodeValidation, errorKind(body))
			assert.Contains(t, errorDetails(body), tt.field)
		})
	}

	res, body := s.do(t, http.MethodGet, "/api/users?page=1000000&limit=10", token, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Empty(t, body["users"])
}
