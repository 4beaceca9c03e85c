package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const sseKeepAlive = 25 * time.Second

// ServeSSE streams updates of one poll as server-sent events, for clients
// that cannot open a websocket.
func (h *Handler) ServeSSE(c *gin.Context) {
	if h.Hub.full() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "too many live connections"})
		return
	}
	pollID, first, ok := h.snapshot(c)
	if !ok {
		return
	}

	client, ok := h.Hub.join(pollID, nil, first)
	if !ok {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "live updates unavailable"})
		return
	}
	defer h.Hub.leave(client)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client.send:
			if !ok {
				return false
			}
			c.SSEvent("message", string(msg))
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().Format(time.RFC3339))
			return true
		case <-ctx.Done():
			return false
		}
	})
}
