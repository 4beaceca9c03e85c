package handlers

import (
	"log/slog"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"polls-backend/cache"
	"polls-backend/mq"
	"polls-backend/service"
)

// Deps are the collaborators the HTTP layer needs. Redis and Limiter may be
// nil. Admins lists the user ids allowed on /api/admin.
type Deps struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Votes      *service.VoteService
	Polls      *service.PollService
	Users      *service.UserService
	Reader     *service.PollReader
	Reconciler *service.Reconciler
	Cache      cache.PollCache
	Publisher  mq.Publisher
	Hub        *Hub
	Limiter    cache.RateLimiter
	Admins     []string
	Logger     *slog.Logger
}

// Handler serves the polls API.
type Handler struct {
	Deps

	// tracks post-commit fan-out still running
	pending sync.WaitGroup
}

func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Publisher == nil {
		d.Publisher = mq.NoopPublisher{}
	}
	return &Handler{Deps: d}
}

// Wait blocks until post-commit work (event publishing, live updates) of
// already answered requests has finished.
func (h *Handler) Wait() {
	h.pending.Wait()
}

// Register mounts the API under api. Mutating routes require a caller
// identity.
func (h *Handler) Register(api *gin.RouterGroup) {
	api.GET("/health", h.HealthCheck)
	api.GET("/status", h.SystemStatus)

	polls := api.Group("/polls")
	polls.GET("", h.ListPolls)
	polls.GET("/:id", h.GetPoll)
	polls.GET("/:id/ws", h.ServeWS)
	polls.GET("/:id/events", h.ServeSSE)

	authed := polls.Group("", h.RequireUser())
	authed.POST("", h.CreatePoll)
	authed.DELETE("/:id", h.DeletePoll)
	authed.POST("/vote", h.CastVote)
	authed.DELETE("/:id/vote", h.RetractVote)

	admin := api.Group("/admin", h.RequireUser(), h.RequireAdmin())
	admin.POST("/reconcile", h.Reconcile)
}
