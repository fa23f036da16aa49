package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const exposeErrorDetailKey = "exposeErrorDetail"

// Error writes the {"error": msg} body every endpoint uses for failures.
func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func BadRequest(c *gin.Context, msg string)  { Error(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)   { Error(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)    { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)    { Error(c, http.StatusConflict, msg) }
func Unavailable(c *gin.Context, msg string) { Error(c, http.StatusServiceUnavailable, msg) }

func Unauthorized(c *gin.Context) { Error(c, http.StatusUnauthorized, "unauthorized") }

// AbortUnauthorized is Unauthorized for handlers that find no user in the context.
func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// InternalError answers 500. err's text is added as "detail" outside production.
func InternalError(c *gin.Context, msg string, err error) {
	if err == nil || !c.GetBool(exposeErrorDetailKey) {
		Error(c, http.StatusInternalServerError, msg)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg, "detail": err.Error()})
}

func errorDetailMiddleware(expose bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(exposeErrorDetailKey, expose)
		c.Next()
	}
}
