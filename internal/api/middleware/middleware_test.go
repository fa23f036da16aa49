package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"erasmusjourney/internal/auth"
	"erasmusjourney/internal/database"
)

type stubValidator struct {
	claims *auth.TokenClaims
	err    error
}

func (s stubValidator) ValidateToken(string) (*auth.TokenClaims, error) {
	return s.claims, s.err
}

func newTestEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userID": c.GetUint(UserIDKey)})
	})
	r.GET("/", handlers...)
	return r
}

func serve(r *gin.Engine, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	access := &auth.TokenClaims{UserID: 7, Role: database.RoleUser, TokenType: auth.TokenTypeAccess}
	refresh := &auth.TokenClaims{UserID: 7, TokenType: auth.TokenTypeRefresh}

	cases := []struct {
		name      string
		validator stubValidator
		header    string
		want      int
	}{
		{"missing header", stubValidator{claims: access}, "", http.StatusUnauthorized},
		{"wrong scheme", stubValidator{claims: access}, "Basic abc", http.StatusUnauthorized},
		{"invalid token", stubValidator{err: errors.New("bad")}, "Bearer abc", http.StatusUnauthorized},
		{"refresh token", stubValidator{claims: refresh}, "Bearer abc", http.StatusUnauthorized},
		{"ok", stubValidator{claims: access}, "Bearer abc", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(newTestEngine(AuthMiddleware(tc.validator)), tc.header)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestAdminMiddleware(t *testing.T) {
	user := stubValidator{claims: &auth.TokenClaims{UserID: 1, Role: database.RoleUser, TokenType: auth.TokenTypeAccess}}
	admin := stubValidator{claims: &auth.TokenClaims{UserID: 2, Role: database.RoleAdmin, TokenType: auth.TokenTypeAccess}}

	if w := serve(newTestEngine(AuthMiddleware(user), AdminMiddleware()), "Bearer x"); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for student, got %d", w.Code)
	}
	if w := serve(newTestEngine(AuthMiddleware(admin), AdminMiddleware()), "Bearer x"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", w.Code)
	}
}

func TestRequirePasswordChangeCompleted(t *testing.T) {
	pending := stubValidator{claims: &auth.TokenClaims{UserID: 3, TokenType: auth.TokenTypeAccess, MustChangePassword: true}}
	w := serve(newTestEngine(AuthMiddleware(pending), RequirePasswordChangeCompletedMiddleware()), "Bearer x")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestCorrelationIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CorrelationIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetCorrelationID(c)) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "abc-123")
	r.ServeHTTP(w, req)
	if w.Body.String() != "abc-123" || w.Header().Get(CorrelationIDHeader) != "abc-123" {
		t.Fatalf("correlation id not propagated: body=%q header=%q", w.Body.String(), w.Header().Get(CorrelationIDHeader))
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Body.String() == "" {
		t.Fatalf("expected generated correlation id")
	}
}

func TestSlogLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(CorrelationIDMiddleware(), SlogLoggerMiddleware(logger))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/forms/:id", func(c *gin.Context) {
		c.Set(UserIDKey, uint(7))
		if LoggerFromContext(c) == slog.Default() {
			t.Errorf("expected request scoped logger")
		}
		c.Status(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if buf.Len() != 0 {
		t.Fatalf("health probe should not be logged: %s", buf.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/forms/3", nil)
	req.Header.Set(CorrelationIDHeader, "corr-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["level"] != "WARN" || line["route"] != "/api/forms/:id" || line["correlation_id"] != "corr-1" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if line["user_id"] != float64(7) {
		t.Fatalf("expected user_id 7, got %v", line["user_id"])
	}
}
