package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"polls-backend/cache"
	"polls-backend/mq"
	"polls-backend/service"
)

// VoteRequest is the body of POST /api/polls/vote.
type VoteRequest struct {
	PollID    uint   `json:"pollId" binding:"required"`
	Name      string `json:"name" binding:"required"`
	Anonymous bool   `json:"anonymous"`
}

const jsonContentType = "application/json; charset=utf-8"

func parsePollID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid poll id %q", service.ErrInvalidInput, c.Param("id"))
	}
	return uint(id), nil
}

// ListPolls returns every poll, newest first. Responses are served from the
// read cache while it is fresh. A load that overlaps a write is not cached.
func (h *Handler) ListPolls(c *gin.Context) {
	ctx := c.Request.Context()
	if data, err := h.Cache.GetList(ctx); err == nil {
		c.Data(http.StatusOK, jsonContentType, data)
		return
	} else if !errors.Is(err, cache.ErrKeyNotFound) {
		h.Logger.Warn("poll cache read failed", "error", err.Error())
	}

	gen, genErr := h.Cache.Generation(ctx)
	views, err := h.Reader.ListPolls(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	data, err := json.Marshal(views)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if genErr == nil {
		if err := h.Cache.SetList(ctx, gen, data); err != nil {
			h.Logger.Warn("poll cache write failed", "error", err.Error())
		}
	}
	c.Data(http.StatusOK, jsonContentType, data)
}

// GetPoll returns one poll view.
func (h *Handler) GetPoll(c *gin.Context) {
	id, err := parsePollID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	if data, err := h.Cache.GetPoll(ctx, id); err == nil {
		c.Data(http.StatusOK, jsonContentType, data)
		return
	}

	gen, genErr := h.Cache.Generation(ctx)
	view, err := h.Reader.GetPoll(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	data, err := json.Marshal(view)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if genErr == nil {
		if err := h.Cache.SetPoll(ctx, id, gen, data); err != nil {
			h.Logger.Warn("poll cache write failed", "poll_id", id, "error", err.Error())
		}
	}
	c.Data(http.StatusOK, jsonContentType, data)
}

// CreatePoll creates a poll owned by the caller.
func (h *Handler) CreatePoll(c *gin.Context) {
	var in service.CreatePollInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.respondError(c, fmt.Errorf("%w: %v", service.ErrInvalidInput, err))
		return
	}

	ctx := c.Request.Context()
	poll, err := h.Polls.CreatePoll(ctx, c.GetString(userIDKey), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(ctx, poll.ID)

	view, err := h.Reader.GetPoll(ctx, poll.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// DeletePoll deletes a poll owned by the caller together with its votes.
func (h *Handler) DeletePoll(c *gin.Context) {
	id, err := parsePollID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.Polls.DeletePoll(ctx, id, c.GetString(userIDKey)); err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidate(ctx, id)
	if h.Hub != nil {
		h.Hub.Broadcast(id, MessagePollDeleted, gin.H{"poll_id": id})
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CastVote records, changes or re-casts the caller's vote.
func (h *Handler) CastVote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, fmt.Errorf("%w: %v", service.ErrInvalidInput, err))
		return
	}

	userID := c.GetString(userIDKey)
	res, err := h.Votes.CastVote(c.Request.Context(), service.CastVoteInput{
		PollID:     req.PollID,
		ChoiceName: req.Name,
		UserID:     userID,
		Anonymous:  req.Anonymous,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.invalidate(c.Request.Context(), req.PollID)
	h.afterCommit(mq.NewVoteEvent(mq.EventVoteCast, req.PollID, req.Name, res.PreviousChoice, userID, req.Anonymous, res.PreviousAnonymous))
	c.JSON(http.StatusOK, gin.H{"success": res.Success})
}

// RetractVote removes the caller's vote on a poll.
func (h *Handler) RetractVote(c *gin.Context) {
	id, err := parsePollID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	userID := c.GetString(userIDKey)
	res, err := h.Votes.RetractVote(c.Request.Context(), id, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.invalidate(c.Request.Context(), id)
	h.afterCommit(mq.NewVoteEvent(mq.EventVoteRetracted, id, "", res.PreviousChoice, userID, res.PreviousAnonymous, false))
	c.JSON(http.StatusOK, gin.H{"success": res.Success})
}

// Reconcile compares the counters with the vote rows and optionally repairs
// them.
func (h *Handler) Reconcile(c *gin.Context) {
	repair := c.Query("repair") == "true"

	report, err := h.Reconciler.Reconcile(c.Request.Context(), repair)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if report.Repaired {
		ids := make([]uint, 0, len(report.Choices)+len(report.Polls))
		for _, d := range report.Choices {
			ids = append(ids, d.PollID)
		}
		for _, d := range report.Polls {
			ids = append(ids, d.PollID)
		}
		h.invalidate(c.Request.Context(), ids...)
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) invalidate(ctx context.Context, ids ...uint) {
	if err := h.Cache.Invalidate(ctx, ids...); err != nil {
		h.Logger.Warn("poll cache invalidation failed", "poll_ids", ids, "error", err.Error())
	}
}

// afterCommit publishes the event and pushes the new poll view to live
// subscribers. It runs after the response is decided and never affects it.
func (h *Handler) afterCommit(ev mq.VoteEvent) {
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.Publisher.Publish(ctx, ev); err != nil {
			h.Logger.Warn("publish vote event failed",
				"event_id", ev.EventID,
				"poll_id", ev.PollID,
				"publisher", h.Publisher.Name(),
				"error", err.Error(),
			)
		}

		if h.Hub == nil || h.Hub.Subscribers(ev.PollID) == 0 {
			return
		}
		view, err := h.Reader.GetPoll(ctx, ev.PollID)
		if err != nil {
			h.Logger.Warn("load poll for live update failed", "poll_id", ev.PollID, "error", err.Error())
			return
		}
		h.Hub.Broadcast(ev.PollID, MessagePollUpdate, view)
	}()
}
