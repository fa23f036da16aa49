package api

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"erasmusjourney/internal/api/middleware"
)

var errInvalidID = errors.New("invalid id")

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, exists := c.Get(middleware.UserIDKey)
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, v != 0
	case int:
		if v <= 0 {
			return 0, false
		}
		return uint(v), true
	case uint64:
		return uint(v), v != 0
	default:
		return 0, false
	}
}

func parseIDParam(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, errInvalidID
	}
	return uint(id), nil
}

func loggerFromContext(c *gin.Context, fallback *slog.Logger) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil && logger != slog.Default() {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// pagination is the page/limit pair of list endpoints.
type pagination struct {
	Page  int
	Limit int
}

func parsePagination(c *gin.Context, defaultLimit, maxLimit int) pagination {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return pagination{Page: page, Limit: limit}
}

func (p pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// envelope renders the paging fields shared by list responses.
func (p pagination) envelope(key string, items any, total int64) gin.H {
	return gin.H{
		key:       items,
		"total":   total,
		"page":    p.Page,
		"limit":   p.Limit,
		"hasNext": int64(p.Page*p.Limit) < total,
		"hasPrev": p.Page > 1,
	}
}

// parseBoolQuery returns nil when the query value is absent or unparsable.
func parseBoolQuery(c *gin.Context, key string) *bool {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}
