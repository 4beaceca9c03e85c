package service

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"polls-backend/models"
)

// UserService maintains the identity records supplied by the gateway.
type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// Ensure upserts the user row. A non-empty name replaces the stored one; an
// empty name leaves it untouched.
func (s *UserService) Ensure(ctx context.Context, id, name string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrUnauthorized
	}
	name = strings.TrimSpace(name)

	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}
	if name != "" {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}
	}

	user := models.User{ID: id, Name: name}
	if err := s.db.WithContext(ctx).Clauses(onConflict).Create(&user).Error; err != nil {
		return storageError("ensure user", err)
	}
	return nil
}
