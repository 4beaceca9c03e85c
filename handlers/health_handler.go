package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"polls-backend/database"
)

// SystemInfo is the body of GET /api/status.
type SystemInfo struct {
	Status          string    `json:"status"`
	Version         string    `json:"version"`
	Uptime          string    `json:"uptime"`
	StartTime       time.Time `json:"start_time"`
	CurrentTime     time.Time `json:"current_time"`
	GoVersion       string    `json:"go_version"`
	NumGoroutine    int       `json:"num_goroutine"`
	NumCPU          int       `json:"num_cpu"`
	DBStatus        string    `json:"db_status"`
	RedisStatus     string    `json:"redis_status"`
	EventPublisher  string    `json:"event_publisher"`
	LiveSubscribers int       `json:"live_subscribers"`
}

var (
	startTime = time.Now()
	// Version is set at build time with -ldflags "-X polls-backend/handlers.Version=...".
	Version = "dev"
)

// HealthCheck is a liveness probe.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// SystemStatus reports dependency health. It answers 503 when the database
// is unreachable.
func (h *Handler) SystemStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	info := SystemInfo{
		Status:         "ok",
		Version:        Version,
		Uptime:         time.Since(startTime).Round(time.Second).String(),
		StartTime:      startTime,
		CurrentTime:    time.Now(),
		GoVersion:      runtime.Version(),
		NumGoroutine:   runtime.NumGoroutine(),
		NumCPU:         runtime.NumCPU(),
		DBStatus:       "ok",
		RedisStatus:    "disabled",
		EventPublisher: h.Publisher.Name(),
	}
	if h.Hub != nil {
		info.LiveSubscribers = h.Hub.Total()
	}

	if err := database.Ping(ctx, h.DB); err != nil {
		info.DBStatus = "error"
		info.Status = "degraded"
		h.Logger.Error("database ping failed", "error", err.Error())
	}
	if h.Redis != nil {
		info.RedisStatus = "ok"
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			info.RedisStatus = "error"
			h.Logger.Warn("redis ping failed", "error", err.Error())
		}
	}

	status := http.StatusOK
	if info.DBStatus != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, info)
}
