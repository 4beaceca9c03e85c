package migrations

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polls-backend/config"
	"polls-backend/database"
	"polls-backend/models"
)

func TestRun_IsIdempotent(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "migrate.db") + "?_foreign_keys=on"
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn, LogLevel: "silent"}, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	require.NoError(t, Run(db, nil))
	require.NoError(t, Run(db, nil))

	m := db.Migrator()
	for _, model := range models.All() {
		assert.True(t, m.HasTable(model))
	}
	assert.True(t, m.HasIndex(&models.Vote{}, "idx_votes_user_poll"))
	assert.True(t, m.HasIndex(&models.Vote{}, "idx_votes_poll_anonymous"))
	assert.True(t, m.HasIndex(&models.Vote{}, "idx_votes_poll_choice"))
}

func TestRun_CountersCannotGoNegative(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "check.db") + "?_foreign_keys=on"
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn, LogLevel: "silent"}, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, Run(db, nil))

	require.NoError(t, db.Create(&models.User{ID: "u1", Name: "Ann"}).Error)
	poll := models.Poll{UserID: "u1", Title: "Q"}
	require.NoError(t, db.Create(&poll).Error)

	err = db.Model(&models.Poll{}).Where("id = ?", poll.ID).
		UpdateColumn("voters_count", -1).Error
	require.Error(t, err)
	assert.Equal(t, database.KindCheckViolation, database.Classify(err))
}
