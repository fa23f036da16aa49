package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenIssuer is the iss claim on every token this service signs.
const TokenIssuer = "erasmus-journey"

// Token types carried in TokenClaims.TokenType.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var errEmptyToken = errors.New("empty token")

// AuthService hashes passwords and signs and verifies RS256 JWTs.
type AuthService struct {
	signKey    *rsa.PrivateKey
	verifyKey  *rsa.PublicKey
	accessTTL  time.Duration
	refreshTTL time.Duration
	parser     *jwt.Parser
}

// TokenPair bundles an access token with its refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenClaims are what the middleware and the refresh flow read back.
// Refresh tokens carry a jti (RegisteredClaims.ID) so they can be revoked.
type TokenClaims struct {
	UserID             uint   `json:"user_id"`
	Role               string `json:"role"`
	TokenType          string `json:"token_type"`
	MustChangePassword bool   `json:"must_change_password,omitempty"`
	jwt.RegisteredClaims
}

// NewAuthService parses a PEM encoded RSA key pair.
func NewAuthService(privateKeyPEM, publicKeyPEM []byte, accessTTL, refreshTTL time.Duration) (*AuthService, error) {
	switch {
	case len(privateKeyPEM) == 0:
		return nil, errors.New("jwt private key is empty")
	case len(publicKeyPEM) == 0:
		return nil, errors.New("jwt public key is empty")
	case accessTTL <= 0 || refreshTTL <= 0:
		return nil, errors.New("token ttls must be positive")
	}

	signKey, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("jwt private key: %w", err)
	}
	verifyKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("jwt public key: %w", err)
	}

	return &AuthService{
		signKey:    signKey,
		verifyKey:  verifyKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer(TokenIssuer),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// NewAuthServiceFromFiles loads the key pair written by `admin -keygen`.
func NewAuthServiceFromFiles(privateKeyPath, publicKeyPath string, accessTTL, refreshTTL time.Duration) (*AuthService, error) {
	privatePEM, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read jwt private key: %w", err)
	}
	publicPEM, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key: %w", err)
	}
	return NewAuthService(privatePEM, publicPEM, accessTTL, refreshTTL)
}

// HashPassword hashes password with bcrypt.
func (s *AuthService) HashPassword(password string) (string, error) {
	return HashPassword(password)
}

// CheckPasswordHash reports whether password matches hash.
func (s *AuthService) CheckPasswordHash(password, hash string) bool {
	return CheckPasswordHash(password, hash)
}

// GenerateTokenPair signs an access token and a refresh token with a fresh jti.
func (s *AuthService) GenerateTokenPair(userID uint, role string, mustChangePassword bool) (TokenPair, error) {
	now := time.Now()

	access, err := s.sign(s.claims(userID, role, TokenTypeAccess, now, s.accessTTL, func(c *TokenClaims) {
		c.MustChangePassword = mustChangePassword
	}))
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(s.claims(userID, role, TokenTypeRefresh, now, s.refreshTTL, func(c *TokenClaims) {
		c.ID = uuid.NewString()
	}))
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// ValidateToken verifies signature, issuer and expiry. Callers check TokenType.
func (s *AuthService) ValidateToken(tokenString string) (*TokenClaims, error) {
	if tokenString == "" {
		return nil, errEmptyToken
	}

	claims := &TokenClaims{}
	token, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.verifyKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// AccessTokenTTL is the access token lifetime.
func (s *AuthService) AccessTokenTTL() time.Duration { return s.accessTTL }

// RefreshTokenTTL is the refresh token lifetime and the refresh cookie max-age.
func (s *AuthService) RefreshTokenTTL() time.Duration { return s.refreshTTL }

func (s *AuthService) claims(userID uint, role, tokenType string, now time.Time, ttl time.Duration, extra func(*TokenClaims)) TokenClaims {
	c := TokenClaims{
		UserID:    userID,
		Role:      role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	extra(&c)
	return c
}

func (s *AuthService) sign(claims TokenClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.signKey)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", claims.TokenType, err)
	}
	return signed, nil
}
