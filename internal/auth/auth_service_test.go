package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T, accessTTL time.Duration) *AuthService {
	t.Helper()
	privatePEM, publicPEM, err := GenerateKeyPairPEM(2048)
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	svc, err := NewAuthService(privatePEM, publicPEM, accessTTL, time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return svc
}

func TestGenerateTokenPair_RoundTrip(t *testing.T) {
	svc := newTestService(t, time.Minute)

	pair, err := svc.GenerateTokenPair(42, "ADMIN", true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	access, err := svc.ValidateToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if access.UserID != 42 || access.Role != "ADMIN" || access.TokenType != TokenTypeAccess || !access.MustChangePassword {
		t.Fatalf("unexpected access claims: %+v", access)
	}

	refresh, err := svc.ValidateToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("validate refresh: %v", err)
	}
	if refresh.TokenType != TokenTypeRefresh || refresh.ID == "" {
		t.Fatalf("refresh token must carry type and jti: %+v", refresh)
	}
}

func TestValidateToken_RejectsExpired(t *testing.T) {
	svc := newTestService(t, time.Minute)
	svc.accessTTL = -time.Minute

	pair, err := svc.GenerateTokenPair(1, "USER", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.ValidateToken(pair.AccessToken); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestValidateToken_RejectsForeignKey(t *testing.T) {
	issuer := newTestService(t, time.Minute)
	verifier := newTestService(t, time.Minute)

	pair, err := issuer.GenerateTokenPair(1, "USER", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := verifier.ValidateToken(pair.AccessToken); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}

func TestValidateToken_RejectsForeignIssuer(t *testing.T) {
	svc := newTestService(t, time.Minute)
	claims := svc.claims(1, "USER", TokenTypeAccess, time.Now(), time.Minute, func(c *TokenClaims) {
		c.Issuer = "someone-else"
	})
	token, err := svc.sign(claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatalf("expected issuer mismatch")
	}
	if _, err := svc.ValidateToken(""); err == nil {
		t.Fatalf("expected empty token error")
	}
}

func TestNewAuthService_RejectsNonPositiveTTL(t *testing.T) {
	privatePEM, publicPEM, err := GenerateKeyPairPEM(2048)
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	if _, err := NewAuthService(privatePEM, publicPEM, 0, time.Hour); err == nil {
		t.Fatalf("expected ttl validation error")
	}
	if _, err := NewAuthService(nil, publicPEM, time.Minute, time.Hour); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPasswordHash("correct horse battery", hash) {
		t.Fatalf("expected password to match")
	}
	if CheckPasswordHash("wrong", hash) {
		t.Fatalf("expected mismatch")
	}
	if CheckPasswordHash("correct horse battery", "") {
		t.Fatalf("empty hash must never match")
	}
	if NeedsRehash(hash) {
		t.Fatalf("fresh hash should not need rehash")
	}
	if !NeedsRehash("not-a-bcrypt-hash") {
		t.Fatalf("garbage hash should need rehash")
	}
}

func TestHashPassword_RejectsTruncatedInput(t *testing.T) {
	long := strings.Repeat("é", 40)
	if _, err := HashPassword(long); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}
