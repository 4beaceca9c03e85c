package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"polls-backend/models"
)

// ChoiceView is a choice as presented to clients.
type ChoiceView struct {
	PollID     uint    `json:"poll_id"`
	Name       string  `json:"name"`
	VoteCount  int64   `json:"vote_count"`
	Percentage float64 `json:"percentage"`
	// Voters holds the display names of public votes only.
	Voters         []string `json:"voters"`
	AnonymousVotes int64    `json:"anonymous_votes"`
}

// PollView is a poll with its choices, counters and public voters.
type PollView struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	VotersCount int64     `json:"voters_count"`
	Anonymous   bool      `json:"anonymous"`
	CreatedAt   time.Time `json:"created_at"`
	// Creator is nil for anonymous polls.
	Creator    *string      `json:"creator"`
	UserID     string       `json:"user_id"`
	TotalVotes int64        `json:"total_votes"`
	Choices    []ChoiceView `json:"choices"`
}

// PollReader assembles PollViews with a fixed number of indexed queries,
// independent of how many polls or votes exist.
type PollReader struct {
	db *gorm.DB
}

func NewPollReader(db *gorm.DB) *PollReader {
	return &PollReader{db: db}
}

type pollRow struct {
	ID          uint
	UserID      string
	Title       string
	Description *string
	VotersCount int64
	Anonymous   bool
	CreatedAt   time.Time
	CreatorName *string
}

type voterRow struct {
	PollID     uint
	ChoiceName string
	Name       string
}

// ListPolls returns every poll, newest first.
func (r *PollReader) ListPolls(ctx context.Context) ([]PollView, error) {
	return r.assemble(ctx, nil)
}

// GetPoll returns a single poll view or ErrPollNotFound.
func (r *PollReader) GetPoll(ctx context.Context, id uint) (*PollView, error) {
	views, err := r.assemble(ctx, &id)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, ErrPollNotFound
	}
	return &views[0], nil
}

func (r *PollReader) assemble(ctx context.Context, only *uint) ([]PollView, error) {
	db := r.db.WithContext(ctx)

	var polls []pollRow
	q := db.Table("polls").
		Select("polls.id, polls.user_id, polls.title, polls.description, polls.voters_count, " +
			"polls.anonymous, polls.created_at, users.name AS creator_name").
		Joins("LEFT JOIN users ON users.id = polls.user_id")
	if only != nil {
		q = q.Where("polls.id = ?", *only)
	}
	if err := q.Order("polls.id DESC").Scan(&polls).Error; err != nil {
		return nil, fmt.Errorf("load polls: %w", err)
	}

	views := make([]PollView, 0, len(polls))
	if len(polls) == 0 {
		return views, nil
	}

	ids := make([]uint, len(polls))
	for i, p := range polls {
		ids[i] = p.ID
	}

	var choices []models.Choice
	if err := db.Where("poll_id IN ?", ids).Order("poll_id, position").Find(&choices).Error; err != nil {
		return nil, fmt.Errorf("load choices: %w", err)
	}

	var voters []voterRow
	err := db.Table("votes").
		Select("votes.poll_id, votes.choice_name, COALESCE(NULLIF(users.name, ''), 'Unknown') AS name").
		Joins("LEFT JOIN users ON users.id = votes.user_id").
		Where("votes.poll_id IN ? AND votes.anonymous = ?", ids, false).
		Order("votes.created_at, votes.user_id").
		Scan(&voters).Error
	if err != nil {
		return nil, fmt.Errorf("load voters: %w", err)
	}

	type choiceKey struct {
		pollID uint
		name   string
	}
	names := make(map[choiceKey][]string, len(voters))
	for _, v := range voters {
		k := choiceKey{v.PollID, v.ChoiceName}
		names[k] = append(names[k], v.Name)
	}

	byPoll := make(map[uint][]models.Choice, len(polls))
	for _, c := range choices {
		byPoll[c.PollID] = append(byPoll[c.PollID], c)
	}

	for _, p := range polls {
		view := PollView{
			ID:          p.ID,
			Title:       p.Title,
			Description: p.Description,
			VotersCount: p.VotersCount,
			Anonymous:   p.Anonymous,
			CreatedAt:   p.CreatedAt,
			UserID:      p.UserID,
		}
		if !p.Anonymous && p.CreatorName != nil && *p.CreatorName != "" {
			name := *p.CreatorName
			view.Creator = &name
		}

		pollChoices := byPoll[p.ID]
		for _, c := range pollChoices {
			view.TotalVotes += c.VoteCount
		}
		view.Choices = make([]ChoiceView, 0, len(pollChoices))
		for _, c := range pollChoices {
			public := names[choiceKey{c.PollID, c.Name}]
			if public == nil {
				public = []string{}
			}
			anon := c.VoteCount - int64(len(public))
			if anon < 0 {
				anon = 0
			}
			view.Choices = append(view.Choices, ChoiceView{
				PollID:         c.PollID,
				Name:           c.Name,
				VoteCount:      c.VoteCount,
				Percentage:     percentage(c.VoteCount, view.TotalVotes),
				Voters:         public,
				AnonymousVotes: anon,
			})
		}
		views = append(views, view)
	}
	return views, nil
}

// percentage is rounded to two decimals; 0 when there are no votes.
func percentage(count, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(count)/float64(total)*10000) / 100
}
