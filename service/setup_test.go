package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"polls-backend/config"
	"polls-backend/database"
	"polls-backend/migrations"
	"polls-backend/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "polls.db") + "?_foreign_keys=on&_busy_timeout=5000"
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn, LogLevel: "silent"}, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, migrations.Run(db, quietLogger()))
	return db
}

type fixture struct {
	db       *gorm.DB
	votes    *VoteService
	polls    *PollService
	users    *UserService
	reader   *PollReader
	reconcil *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	return &fixture{
		db:       db,
		votes:    NewVoteService(db, 0, quietLogger()),
		polls:    NewPollService(db, quietLogger()),
		users:    NewUserService(db),
		reader:   NewPollReader(db),
		reconcil: NewReconciler(db, nil, quietLogger()),
	}
}

func (f *fixture) user(t *testing.T, id, name string) {
	t.Helper()
	require.NoError(t, f.users.Ensure(context.Background(), id, name))
}

func (f *fixture) poll(t *testing.T, owner string, anonymous bool, choices ...string) *models.Poll {
	t.Helper()
	p, err := f.polls.CreatePoll(context.Background(), owner, CreatePollInput{
		Title:     "Lunch?",
		Choices:   choices,
		Anonymous: anonymous,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) choiceCount(t *testing.T, pollID uint, name string) int64 {
	t.Helper()
	var c models.Choice
	require.NoError(t, f.db.Where("poll_id = ? AND name = ?", pollID, name).First(&c).Error)
	return c.VoteCount
}

func (f *fixture) votersCount(t *testing.T, pollID uint) int64 {
	t.Helper()
	var p models.Poll
	require.NoError(t, f.db.First(&p, pollID).Error)
	return p.VotersCount
}

// requireConsistent fails when any counter disagrees with the vote rows.
func (f *fixture) requireConsistent(t *testing.T) {
	t.Helper()
	report, err := f.reconcil.Check(context.Background())
	require.NoError(t, err)
	require.True(t, report.Clean(), "drift: choices=%+v polls=%+v", report.Choices, report.Polls)
}
