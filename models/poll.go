package models

import (
	"time"
)

// User is the identity record behind a poll owner or a voter. Rows are
// upserted from the identity supplied by the upstream gateway.
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null;default:''" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Poll represents a multiple-choice question owned by one user.
// VotersCount is denormalized: the number of distinct users holding a live vote.
type Poll struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Title       string    `gorm:"type:varchar(50);not null" json:"title"`
	Description *string   `gorm:"type:varchar(500)" json:"description"`
	VotersCount int64     `gorm:"not null;default:0;check:chk_polls_voters_count,voters_count >= 0" json:"voters_count"`
	Anonymous   bool      `gorm:"not null;default:false" json:"anonymous"` // hides the creator in reads
	CreatedAt   time.Time `json:"created_at"`

	Creator *User    `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Choices []Choice `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"choices,omitempty"`
	Votes   []Vote   `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"-"`
}

// Choice is one selectable option of a poll, keyed by (poll_id, name).
// VoteCount is denormalized: the number of live votes referencing it.
type Choice struct {
	PollID    uint   `gorm:"primaryKey;autoIncrement:false" json:"poll_id"`
	Name      string `gorm:"primaryKey;type:varchar(50)" json:"name"`
	Position  int    `gorm:"not null;default:0" json:"-"`
	VoteCount int64  `gorm:"not null;default:0;check:chk_choices_vote_count,vote_count >= 0" json:"vote_count"`
}

// Vote is one user's current ballot on one poll. The primary key is the
// (user, poll, choice) triple; idx_votes_user_poll enforces at most one live
// vote per (user, poll).
type Vote struct {
	UserID     string    `gorm:"primaryKey;type:varchar(64);uniqueIndex:idx_votes_user_poll,priority:1" json:"user_id"`
	PollID     uint      `gorm:"primaryKey;autoIncrement:false;uniqueIndex:idx_votes_user_poll,priority:2" json:"poll_id"`
	ChoiceName string    `gorm:"primaryKey;type:varchar(50)" json:"choice_name"`
	Anonymous  bool      `gorm:"not null;default:false" json:"anonymous"`
	CreatedAt  time.Time `json:"created_at"`

	User   *User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Choice *Choice `gorm:"foreignKey:PollID,ChoiceName;references:PollID,Name;constraint:OnDelete:CASCADE" json:"-"`
}

// All lists the models in migration order.
func All() []interface{} {
	return []interface{}{&User{}, &Poll{}, &Choice{}, &Vote{}}
}
