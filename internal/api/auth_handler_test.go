package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"erasmusjourney/internal/database"
)

func registerBody(email string) map[string]any {
	return map[string]any{
		"email":     email,
		"password":  "correct-horse",
		"firstName": "Eleni",
		"lastName":  "Georgiou",
	}
}

func TestRegister_RejectsNonUniversityEmail(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/auth/register", registerBody("student@gmail.com"), "")
	expectStatus(t, w, http.StatusForbidden)

	var count int64
	env.db.Model(&database.User{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no user created, got %d", count)
	}
}

func TestRegister_CreatesStudentAndRejectsDuplicate(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/auth/register", registerBody("Student@UCY.ac.cy"), "")
	expectStatus(t, w, http.StatusCreated)
	if strings.Contains(w.Body.String(), "passwordHash") {
		t.Fatalf("response must not expose the password hash: %s", w.Body.String())
	}
	user := decodeBody(t, w)["user"].(map[string]any)
	if user["email"] != "student@ucy.ac.cy" {
		t.Fatalf("expected normalised email, got %v", user["email"])
	}
	if user["role"] != database.RoleUser {
		t.Fatalf("expected USER role, got %v", user["role"])
	}

	w = env.do(t, http.MethodPost, "/api/auth/register", registerBody("student@ucy.ac.cy"), "")
	expectStatus(t, w, http.StatusConflict)
}

func TestRegister_AllowlistedEmailBecomesAdmin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/auth/register", registerBody(testAdminEmail), "")
	expectStatus(t, w, http.StatusCreated)
	user := decodeBody(t, w)["user"].(map[string]any)
	if user["role"] != database.RoleAdmin {
		t.Fatalf("expected ADMIN role, got %v", user["role"])
	}
}

func TestRegister_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/auth/register", map[string]any{"email": "x@ucy.ac.cy"}, "")
	expectStatus(t, w, http.StatusBadRequest)
}

func TestLogin_IssuesTokensAndMeWorks(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(t, http.MethodPost, "/api/auth/register", registerBody("login@cut.ac.cy"), ""), http.StatusCreated)

	w := env.do(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email": "LOGIN@cut.ac.cy", "password": "correct-horse",
	}, "")
	expectStatus(t, w, http.StatusOK)

	body := decodeBody(t, w)
	token, _ := body["accessToken"].(string)
	if token == "" {
		t.Fatalf("expected access token, got %v", body)
	}
	if body["tokenType"] != "Bearer" {
		t.Fatalf("unexpected token type %v", body["tokenType"])
	}
	var refreshCookie *http.Cookie
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == refreshTokenCookieName {
			refreshCookie = cookie
		}
	}
	if refreshCookie == nil || refreshCookie.Value == "" {
		t.Fatalf("expected refresh cookie")
	}

	me := env.do(t, http.MethodGet, "/api/auth/me", nil, token)
	expectStatus(t, me, http.StatusOK)
	if got := decodeBody(t, me)["user"].(map[string]any)["email"]; got != "login@cut.ac.cy" {
		t.Fatalf("unexpected profile %v", got)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(t, http.MethodPost, "/api/auth/register", registerBody("wrong@ucy.ac.cy"), ""), http.StatusCreated)

	w := env.do(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email": "wrong@ucy.ac.cy", "password": "not-the-password",
	}, "")
	expectStatus(t, w, http.StatusUnauthorized)
	if !env.mr.Exists(loginFailKey("wrong@ucy.ac.cy")) {
		t.Fatalf("expected failure counter to be recorded")
	}
}

func TestRefresh_RotatesAndRevokes(t *testing.T) {
	env := newTestEnv(t)
	user := env.fx.CreateUser("rotate@ucy.ac.cy")
	pair, err := env.auth.GenerateTokenPair(user.ID, user.Role, false)
	if err != nil {
		t.Fatalf("generate pair: %v", err)
	}

	refresh := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: refreshTokenCookieName, Value: pair.RefreshToken})
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w
	}

	expectStatus(t, refresh(), http.StatusOK)
	expectStatus(t, refresh(), http.StatusUnauthorized)
}

func TestMe_RequiresToken(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(t, http.MethodGet, "/api/auth/me", nil, ""), http.StatusUnauthorized)
}

func TestLogin_LocksAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(t, http.MethodPost, "/api/auth/register", registerBody("lock@ucy.ac.cy"), ""), http.StatusCreated)

	wrong := map[string]any{"email": "lock@ucy.ac.cy", "password": "not-the-password"}
	for i := 0; i < 5; i++ {
		expectStatus(t, env.do(t, http.MethodPost, "/api/auth/login", wrong, ""), http.StatusUnauthorized)
	}

	right := map[string]any{"email": "lock@ucy.ac.cy", "password": "correct-horse"}
	expectStatus(t, env.do(t, http.MethodPost, "/api/auth/login", right, ""), http.StatusTooManyRequests)

	env.mr.Del(loginLockKey("lock@ucy.ac.cy"))
	expectStatus(t, env.do(t, http.MethodPost, "/api/auth/login", right, ""), http.StatusOK)
	if env.mr.Exists(loginFailKey("lock@ucy.ac.cy")) {
		t.Fatalf("successful login must reset the failure counter")
	}
}
