package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"

	userIDKey = "userID"
)

// RequireUser reads the identity set by the upstream gateway and makes sure a
// user row exists for it. Requests without one are rejected with 401.
func (h *Handler) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
			return
		}
		if err := h.Users.Ensure(c.Request.Context(), userID, c.GetHeader(HeaderUserName)); err != nil {
			h.respondError(c, err)
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// RequireAdmin lets through only the configured admin users. It must run after
// RequireUser.
func (h *Handler) RequireAdmin() gin.HandlerFunc {
	admins := make(map[string]struct{}, len(h.Admins))
	for _, id := range h.Admins {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		if _, ok := admins[c.GetString(userIDKey)]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

// RateLimit admits requests per user, or per client IP for anonymous reads.
// Limiter failures let the request through.
func (h *Handler) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Limiter == nil {
			c.Next()
			return
		}

		key := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if key == "" {
			key = "ip:" + c.ClientIP()
		} else {
			key = "user:" + key
		}

		allowed, err := h.Limiter.Allow(c.Request.Context(), key)
		if err != nil {
			h.Logger.Warn("rate limiter unavailable", "key", key, "error", err.Error())
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request.
func (h *Handler) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if uid := c.GetString(userIDKey); uid != "" {
			attrs = append(attrs, "user_id", uid)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			h.Logger.Error("http request", attrs...)
			return
		}
		h.Logger.Debug("http request", attrs...)
	}
}
