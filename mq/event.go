package mq

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventVoteCast      = "vote.cast"
	EventVoteRetracted = "vote.retracted"
)

// VoteEvent is published after a vote transaction commits. Consumers treat
// events as notifications; the database stays authoritative.
type VoteEvent struct {
	EventID        string    `json:"event_id"`
	Type           string    `json:"type"`
	PollID         uint      `json:"poll_id"`
	ChoiceName     string    `json:"choice_name,omitempty"`
	PreviousChoice string    `json:"previous_choice,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Anonymous      bool      `json:"anonymous"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewVoteEvent builds an event with a fresh id. Anonymous describes the vote
// the event is about; for a retraction that is the removed vote.
// previousAnonymous describes the vote it replaced. The voter is left out when
// either is anonymous.
func NewVoteEvent(eventType string, pollID uint, choice, previous, userID string, anonymous, previousAnonymous bool) VoteEvent {
	ev := VoteEvent{
		EventID:        uuid.NewString(),
		Type:           eventType,
		PollID:         pollID,
		ChoiceName:     choice,
		PreviousChoice: previous,
		Anonymous:      anonymous,
		OccurredAt:     time.Now().UTC(),
	}
	if !anonymous && !previousAnonymous {
		ev.UserID = userID
	}
	return ev
}

// Publisher delivers vote events to a broker.
type Publisher interface {
	Publish(ctx context.Context, ev VoteEvent) error
	Name() string
	Close() error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, VoteEvent) error { return nil }
func (NoopPublisher) Name() string                             { return "none" }
func (NoopPublisher) Close() error                             { return nil }
