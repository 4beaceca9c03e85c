package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"polls-backend/models"
)

// CastVoteInput is one call to cast, change or re-cast a vote.
type CastVoteInput struct {
	PollID     uint
	ChoiceName string
	UserID     string
	Anonymous  bool
}

// VoteResult reports a committed vote operation. There is no partial success:
// a non-nil error means nothing was written.
type VoteResult struct {
	Success bool `json:"success"`
	// FirstVote is true when the poll gained a voter.
	FirstVote bool `json:"-"`
	// PreviousChoice is the choice the replaced or retracted vote referenced.
	PreviousChoice string `json:"-"`
	// PreviousAnonymous is set when that vote was anonymous.
	PreviousAnonymous bool `json:"-"`
}

// VoteService keeps votes and the per-choice and per-poll counters consistent.
// Each operation is a single database transaction. Counters are only changed
// with relative updates evaluated by the database.
type VoteService struct {
	db        *gorm.DB
	txTimeout time.Duration
	logger    *slog.Logger
}

func NewVoteService(db *gorm.DB, txTimeout time.Duration, logger *slog.Logger) *VoteService {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoteService{db: db, txTimeout: txTimeout, logger: logger}
}

// CastVote records the caller's vote on a poll. An existing vote by the same
// user on the same poll is replaced, even when it names the same choice; that
// is how a voter changes only the anonymity of their vote.
func (s *VoteService) CastVote(ctx context.Context, in CastVoteInput) (*VoteResult, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, ErrUnauthorized
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result := &VoteResult{Success: true}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requirePoll(tx, in.PollID); err != nil {
			return err
		}
		if err := requireChoice(tx, in.PollID, in.ChoiceName); err != nil {
			return err
		}

		existing, found, err := findVote(tx, userID, in.PollID)
		if err != nil {
			return err
		}
		if found {
			if err := deleteVote(tx, userID, in.PollID); err != nil {
				return err
			}
			if err := adjustChoice(tx, in.PollID, existing.ChoiceName, -1); err != nil {
				return err
			}
			result.PreviousChoice = existing.ChoiceName
			result.PreviousAnonymous = existing.Anonymous
		}

		vote := models.Vote{
			UserID:     userID,
			PollID:     in.PollID,
			ChoiceName: in.ChoiceName,
			Anonymous:  in.Anonymous,
		}
		if err := tx.Omit(clause.Associations).Create(&vote).Error; err != nil {
			return err
		}
		if err := adjustChoice(tx, in.PollID, in.ChoiceName, 1); err != nil {
			return err
		}

		if !found {
			if err := adjustVoters(tx, in.PollID, 1); err != nil {
				return err
			}
			result.FirstVote = true
		}
		return nil
	})
	if err != nil {
		err = storageError("cast vote", err)
		s.logFailure("cast_vote_failed", err, in.PollID, userID)
		return nil, err
	}

	s.logger.Debug("vote cast",
		"poll_id", in.PollID,
		"choice", in.ChoiceName,
		"first_vote", result.FirstVote,
		"previous_choice", result.PreviousChoice,
	)
	return result, nil
}

// RetractVote removes the caller's vote on a poll and gives back its counts.
func (s *VoteService) RetractVote(ctx context.Context, pollID uint, userID string) (*VoteResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUnauthorized
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result := &VoteResult{Success: true}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requirePoll(tx, pollID); err != nil {
			return err
		}
		existing, found, err := findVote(tx, userID, pollID)
		if err != nil {
			return err
		}
		if !found {
			return ErrVoteNotFound
		}
		if err := deleteVote(tx, userID, pollID); err != nil {
			return err
		}
		if err := adjustChoice(tx, pollID, existing.ChoiceName, -1); err != nil {
			return err
		}
		if err := adjustVoters(tx, pollID, -1); err != nil {
			return err
		}
		result.PreviousChoice = existing.ChoiceName
		result.PreviousAnonymous = existing.Anonymous
		return nil
	})
	if err != nil {
		err = storageError("retract vote", err)
		s.logFailure("retract_vote_failed", err, pollID, userID)
		return nil, err
	}

	s.logger.Debug("vote retracted", "poll_id", pollID, "choice", result.PreviousChoice)
	return result, nil
}

func (s *VoteService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.txTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.txTimeout)
}

func (s *VoteService) logFailure(event string, err error, pollID uint, userID string) {
	// not-found and conflicts are caller errors, not service failures
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		s.logger.Info("vote rejected", "event", event, "poll_id", pollID, "user_id", userID, "error", err.Error())
		return
	}
	s.logger.Error("vote transaction rolled back", "event", event, "poll_id", pollID, "user_id", userID, "error", err.Error())
}

func requirePoll(tx *gorm.DB, pollID uint) error {
	var n int64
	if err := tx.Model(&models.Poll{}).Where("id = ?", pollID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrPollNotFound
	}
	return nil
}

func requireChoice(tx *gorm.DB, pollID uint, name string) error {
	var n int64
	if err := tx.Model(&models.Choice{}).Where("poll_id = ? AND name = ?", pollID, name).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrChoiceNotFound
	}
	return nil
}

// findVote reads the live vote for (user, poll). On servers with row locking
// the row stays locked until the transaction ends.
func findVote(tx *gorm.DB, userID string, pollID uint) (models.Vote, bool, error) {
	var vote models.Vote
	q := tx
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	res := q.Where("user_id = ? AND poll_id = ?", userID, pollID).Limit(1).Find(&vote)
	if res.Error != nil {
		return models.Vote{}, false, res.Error
	}
	return vote, res.RowsAffected > 0, nil
}

func deleteVote(tx *gorm.DB, userID string, pollID uint) error {
	res := tx.Where("user_id = ? AND poll_id = ?", userID, pollID).Delete(&models.Vote{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// removed by a concurrent transaction after we read it
		return ErrConflict
	}
	return nil
}

// adjustChoice applies a relative delta to a choice's vote_count. Decrements
// never take the counter below zero.
func adjustChoice(tx *gorm.DB, pollID uint, name string, delta int64) error {
	q := tx.Model(&models.Choice{}).Where("poll_id = ? AND name = ?", pollID, name)
	if delta < 0 {
		q = q.Where("vote_count >= ?", -delta)
	}
	res := q.UpdateColumn("vote_count", gorm.Expr("vote_count + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("%w: vote_count of choice %q in poll %d by %+d", ErrConstraintViolation, name, pollID, delta)
	}
	return nil
}

// adjustVoters applies a relative delta to a poll's voters_count.
func adjustVoters(tx *gorm.DB, pollID uint, delta int64) error {
	q := tx.Model(&models.Poll{}).Where("id = ?", pollID)
	if delta < 0 {
		q = q.Where("voters_count >= ?", -delta)
	}
	res := q.UpdateColumn("voters_count", gorm.Expr("voters_count + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("%w: voters_count of poll %d by %+d", ErrConstraintViolation, pollID, delta)
	}
	return nil
}
