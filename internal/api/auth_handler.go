package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"erasmusjourney/internal/auth"
	"erasmusjourney/internal/config"
	"erasmusjourney/internal/database"
)

const (
	refreshTokenCookieName         = "refresh_token"
	refreshTokenBlacklistKeyPrefix = "auth:refresh:blacklist:"
)

// AuthHandler serves registration, login, token refresh and logout.
type AuthHandler struct {
	db           *gorm.DB
	authService  *auth.AuthService
	gate         *auth.EmailGate
	redis        redis.UniversalClient
	throttle     loginThrottle
	logger       *slog.Logger
	cookieDomain string
}

// NewAuthHandler builds an AuthHandler from the auth section of the config.
func NewAuthHandler(db *gorm.DB, authService *auth.AuthService, gate *auth.EmailGate, redisClient redis.UniversalClient, logger *slog.Logger, cfg config.AuthConfig) *AuthHandler {
	return &AuthHandler{
		db:          db,
		authService: authService,
		gate:        gate,
		redis:       redisClient,
		throttle: loginThrottle{
			client:        redisClient,
			ratePerHour:   cfg.LoginRateLimitPerHour,
			lockThreshold: cfg.LoginLockThreshold,
			lockTTL:       cfg.LoginLockTTL,
		},
		logger:       logger,
		cookieDomain: cfg.CookieDomain,
	}
}

type registerRequest struct {
	Email          string `json:"email" binding:"required,email,max=255"`
	Password       string `json:"password" binding:"required,min=8,max=72"`
	FirstName      string `json:"firstName" binding:"required,max=128"`
	LastName       string `json:"lastName" binding:"required,max=128"`
	HomeCountry    string `json:"homeCountry" binding:"max=128"`
	HomeUniversity string `json:"homeUniversity" binding:"max=255"`
}

// Register creates a student account for a Cypriot university address.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	email := auth.NormalizeEmail(req.Email)
	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger).With(slog.String("email", email))

	if !h.gate.IsCyprusUniversityEmail(email) {
		logger.Info("register rejected: email outside university domains")
		Forbidden(c, "registration is limited to Cyprus university email addresses")
		return
	}

	var count int64
	if err := h.db.WithContext(ctx).Model(&database.User{}).Where("LOWER(email) = ?", email).Count(&count).Error; err != nil {
		logger.Error("register lookup failed", slog.Any("error", err))
		InternalError(c, "internal error", err)
		return
	}
	if count > 0 {
		logger.Info("register conflict: user already exists")
		Conflict(c, "email already registered")
		return
	}

	hashed, err := h.authService.HashPassword(req.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		BadRequest(c, err.Error())
		return
	}
	if err != nil {
		logger.Error("hash password failed", slog.Any("error", err))
		InternalError(c, "internal error", err)
		return
	}

	role := database.RoleUser
	if h.gate.IsAdminEmail(email) {
		role = database.RoleAdmin
	}

	user := database.User{
		Email:          email,
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		PasswordHash:   hashed,
		Role:           role,
		HomeCountry:    strings.TrimSpace(req.HomeCountry),
		HomeUniversity: strings.TrimSpace(req.HomeUniversity),
	}
	if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			Conflict(c, "email already registered")
			return
		}
		logger.Error("create user failed", slog.Any("error", err))
		InternalError(c, "internal error", err)
		return
	}

	logger.Info("user registered", slog.Uint64("user_id", uint64(user.ID)), slog.String("role", role))
	c.JSON(http.StatusCreated, gin.H{"user": newUserResponse(user)})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken        string       `json:"accessToken"`
	TokenType          string       `json:"tokenType"`
	ExpiresIn          int          `json:"expiresIn"`
	MustChangePassword bool         `json:"mustChangePassword"`
	User               userResponse `json:"user"`
}

// Login checks the password and returns a token pair, with per IP+email throttling
// and a temporary lock after repeated failures.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	email := auth.NormalizeEmail(req.Email)
	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger).With(slog.String("email", email))

	allowed, err := h.throttle.allow(ctx, c.ClientIP(), email)
	if err != nil {
		logger.Warn("login rate counter unavailable", slog.Any("error", err))
	}
	if !allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	if h.throttle.locked(ctx, email) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "account temporarily locked"})
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).Where("LOWER(email) = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("login failed: user not found")
			_ = h.throttle.fail(ctx, email)
			Unauthorized(c)
			return
		}
		logger.Error("login query failed", slog.Any("error", err))
		InternalError(c, "internal error", err)
		return
	}

	if !h.authService.CheckPasswordHash(req.Password, user.PasswordHash) {
		logger.Info("login failed: password mismatch", slog.Uint64("user_id", uint64(user.ID)))
		_ = h.throttle.fail(ctx, email)
		Unauthorized(c)
		return
	}

	h.throttle.reset(ctx, email)

	if auth.NeedsRehash(user.PasswordHash) {
		if hashed, err := h.authService.HashPassword(req.Password); err == nil {
			if err := h.db.WithContext(ctx).Model(&user).Update("password_hash", hashed).Error; err != nil {
				logger.Warn("password rehash failed", slog.Any("error", err))
			}
		}
	}

	tokenPair, err := h.authService.GenerateTokenPair(user.ID, user.Role, user.MustChangePassword)
	if err != nil {
		logger.Error("generate token pair failed", slog.Any("error", err))
		InternalError(c, "internal error", err)
		return
	}

	h.replyWithTokenPair(c, tokenPair, user)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh rotates the refresh token: the old jti is blacklisted and a new pair issued.
func (h *AuthHandler) Refresh(c *gin.Context) {
	refreshToken := h.extractRefreshToken(c)
	if refreshToken == "" {
		Unauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger)

	claims, ok := h.validRefreshClaims(c, refreshToken, logger)
	if !ok {
		return
	}

	key := refreshTokenBlacklistKeyPrefix + claims.ID
	if err := h.redis.Get(ctx, key).Err(); err == nil {
		logger.Info("refresh token revoked", slog.String("jti", claims.ID))
		Unauthorized(c)
		return
	} else if !errors.Is(err, redis.Nil) {
		logger.Error("refresh token blacklist lookup failed", slog.Any("error", err))
		InternalError(c, "internal error", err)
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, claims.UserID).Error; err != nil {
		logger.Info("refresh user not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	// Role changes made by an admin take effect here.
	tokenPair, err := h.authService.GenerateTokenPair(user.ID, user.Role, user.MustChangePassword)
	if err != nil {
		logger.Error("refresh generate token pair failed", slog.Any("error", err))
		InternalError(c, "internal error", err)
		return
	}

	if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
		logger.Error("refresh revoke old token failed", slog.Any("error", err))
		InternalError(c, "internal error", err)
		return
	}

	h.replyWithTokenPair(c, tokenPair, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required,min=8,max=72"`
	NewPassword     string `json:"newPassword" binding:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirmPassword" binding:"required,min=8,max=72"`
}

// ChangePassword replaces the caller's password and clears the forced-change flag.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		BadRequest(c, "password confirmation does not match")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger).With(slog.Uint64("user_id", uint64(userID)))

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		logger.Info("change password: user not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	if !h.authService.CheckPasswordHash(req.CurrentPassword, user.PasswordHash) {
		logger.Info("change password: current password mismatch")
		Unauthorized(c)
		return
	}

	if strings.TrimSpace(req.NewPassword) == strings.TrimSpace(req.CurrentPassword) {
		BadRequest(c, "new password must be different from current password")
		return
	}

	hashed, err := h.authService.HashPassword(req.NewPassword)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		BadRequest(c, err.Error())
		return
	}
	if err != nil {
		logger.Error("change password: hash failed", slog.Any("error", err))
		InternalError(c, "internal error", err)
		return
	}

	if err := h.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"password_hash":        hashed,
		"must_change_password": false,
	}).Error; err != nil {
		logger.Error("change password: update failed", slog.Any("error", err))
		InternalError(c, "internal error", err)
		return
	}
	user.MustChangePassword = false

	if refreshToken, err := c.Cookie(refreshTokenCookieName); err == nil && refreshToken != "" {
		if claims, err := h.authService.ValidateToken(refreshToken); err == nil && claims.TokenType == auth.TokenTypeRefresh && claims.ID != "" {
			key := refreshTokenBlacklistKeyPrefix + claims.ID
			if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
				logger.Error("change password: revoke refresh failed", slog.Any("error", err))
				InternalError(c, "internal error", err)
				return
			}
		}
	}

	tokenPair, err := h.authService.GenerateTokenPair(user.ID, user.Role, false)
	if err != nil {
		logger.Error("change password: generate token pair failed", slog.Any("error", err))
		InternalError(c, "internal error", err)
		return
	}

	h.replyWithTokenPair(c, tokenPair, user)
}

// Me returns the caller's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var user database.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Unauthorized(c)
			return
		}
		InternalError(c, "failed to load user", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": newUserResponse(user)})
}

// Logout blacklists the refresh token and clears its cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	refreshToken := h.extractRefreshToken(c)
	if refreshToken == "" {
		BadRequest(c, "refresh token missing")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger)

	claims, ok := h.validRefreshClaims(c, refreshToken, logger)
	if !ok {
		return
	}

	key := refreshTokenBlacklistKeyPrefix + claims.ID
	if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
		logger.Error("logout revoke token failed", slog.Any("error", err))
		InternalError(c, "internal error", err)
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    "",
		MaxAge:   -1,
		Path:     "/",
		Secure:   isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Domain:   strings.TrimSpace(h.cookieDomain),
	})
	c.Status(http.StatusOK)
}

func (h *AuthHandler) validRefreshClaims(c *gin.Context, token string, logger *slog.Logger) (*auth.TokenClaims, bool) {
	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		logger.Info("refresh token invalid", slog.Any("error", err))
		Unauthorized(c)
		return nil, false
	}
	if claims.TokenType != auth.TokenTypeRefresh {
		logger.Info("refresh token wrong type", slog.String("token_type", claims.TokenType))
		Unauthorized(c)
		return nil, false
	}
	if claims.ID == "" {
		logger.Info("refresh token missing jti")
		Unauthorized(c)
		return nil, false
	}
	return claims, true
}

func (h *AuthHandler) replyWithTokenPair(c *gin.Context, tokenPair auth.TokenPair, user database.User) {
	h.setRefreshCookie(c, tokenPair.RefreshToken)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:        tokenPair.AccessToken,
		TokenType:          "Bearer",
		ExpiresIn:          int(h.authService.AccessTokenTTL().Seconds()),
		MustChangePassword: user.MustChangePassword,
		User:               newUserResponse(user),
	})
}

func (h *AuthHandler) extractRefreshToken(c *gin.Context) string {
	if token, err := c.Cookie(refreshTokenCookieName); err == nil && token != "" {
		return token
	}

	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	return ""
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, refreshToken string) {
	ttl := h.authService.RefreshTokenTTL()
	if ttl <= 0 {
		ttl = time.Hour
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    refreshToken,
		MaxAge:   int(ttl.Seconds()),
		Path:     "/",
		Secure:   isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Domain:   strings.TrimSpace(h.cookieDomain),
		Expires:  time.Now().Add(ttl),
	})
}

func (h *AuthHandler) revokeRefreshToken(ctx context.Context, key string, expiresAt *jwt.NumericDate) error {
	ttl := h.authService.RefreshTokenTTL()
	if expiresAt != nil {
		ttl = time.Until(expiresAt.Time)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return h.redis.Set(ctx, key, "revoked", ttl).Err()
}

func isHTTPSRequest(c *gin.Context) bool {
	if c.Request == nil {
		return false
	}
	if c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(c.Request.Header.Get("X-Forwarded-Proto"), "https")
}
