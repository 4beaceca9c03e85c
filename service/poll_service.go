package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"polls-backend/models"
)

const (
	MaxTitleLength       = 50
	MaxDescriptionLength = 500
	MaxChoiceLength      = 50
	MinChoices           = 2
	MaxChoices           = 8
)

// CreatePollInput is the payload for a new poll.
type CreatePollInput struct {
	Title       string   `json:"title"`
	Description *string  `json:"description"`
	Choices     []string `json:"choices"`
	Anonymous   bool     `json:"anonymous"`
}

// PollService handles the poll lifecycle around the vote engine.
type PollService struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewPollService(db *gorm.DB, logger *slog.Logger) *PollService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollService{db: db, logger: logger}
}

// Normalize trims the input and checks the poll limits.
func (in *CreatePollInput) Normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(in.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidInput, MaxTitleLength)
	}

	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		if d == "" {
			in.Description = nil
		} else if utf8.RuneCountInString(d) > MaxDescriptionLength {
			return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidInput, MaxDescriptionLength)
		} else {
			in.Description = &d
		}
	}

	if len(in.Choices) < MinChoices || len(in.Choices) > MaxChoices {
		return fmt.Errorf("%w: a poll needs %d to %d choices", ErrInvalidInput, MinChoices, MaxChoices)
	}
	seen := make(map[string]struct{}, len(in.Choices))
	for i, c := range in.Choices {
		c = strings.TrimSpace(c)
		if c == "" {
			return fmt.Errorf("%w: choice %d is empty", ErrInvalidInput, i+1)
		}
		if utf8.RuneCountInString(c) > MaxChoiceLength {
			return fmt.Errorf("%w: choice %q exceeds %d characters", ErrInvalidInput, c, MaxChoiceLength)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: duplicate choice %q", ErrInvalidInput, c)
		}
		seen[c] = struct{}{}
		in.Choices[i] = c
	}
	return nil
}

// CreatePoll inserts a poll owned by userID together with its choices.
func (s *PollService) CreatePoll(ctx context.Context, userID string, in CreatePollInput) (*models.Poll, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if err := in.Normalize(); err != nil {
		return nil, err
	}

	poll := &models.Poll{
		UserID:      userID,
		Title:       in.Title,
		Description: in.Description,
		Anonymous:   in.Anonymous,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(poll).Error; err != nil {
			return err
		}
		choices := make([]models.Choice, len(in.Choices))
		for i, name := range in.Choices {
			choices[i] = models.Choice{PollID: poll.ID, Name: name, Position: i}
		}
		if err := tx.Create(&choices).Error; err != nil {
			return err
		}
		poll.Choices = choices
		return nil
	})
	if err != nil {
		err = storageError("create poll", err)
		s.logger.Error("create poll failed", "event", "create_poll_failed", "user_id", userID, "error", err.Error())
		return nil, err
	}

	s.logger.Info("poll created", "poll_id", poll.ID, "user_id", userID, "choices", len(in.Choices))
	return poll, nil
}

// DeletePoll removes a poll owned by userID. Choices and votes go with it.
func (s *PollService) DeletePoll(ctx context.Context, id uint, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrUnauthorized
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var poll models.Poll
		if err := tx.Select("id", "user_id").First(&poll, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPollNotFound
			}
			return err
		}
		if poll.UserID != userID {
			return fmt.Errorf("%w: poll %d belongs to another user", ErrForbidden, id)
		}
		return tx.Delete(&models.Poll{}, id).Error
	})
	if err != nil {
		return storageError("delete poll", err)
	}

	s.logger.Info("poll deleted", "poll_id", id, "user_id", userID)
	return nil
}
