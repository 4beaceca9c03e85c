package migrations

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"polls-backend/models"
)

// index is a secondary index the read path depends on that the model tags
// do not declare.
type index struct {
	name    string
	table   interface{}
	columns string
}

var readIndexes = []index{
	// public voter lookup by poll in the read assembler
	{name: "idx_votes_poll_anonymous", table: &models.Vote{}, columns: "poll_id, anonymous"},
	// choice counters touched by the vote engine
	{name: "idx_votes_poll_choice", table: &models.Vote{}, columns: "poll_id, choice_name"},
}

// Run creates or updates the schema: tables, keys, foreign keys with
// cascading deletes, CHECK constraints on the counters, and read indexes.
func Run(db *gorm.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	m := db.Migrator()
	for _, idx := range readIndexes {
		if m.HasIndex(idx.table, idx.name) {
			logger.Debug("migration skipped, index exists", "index", idx.name)
			continue
		}
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(idx.table); err != nil {
			return fmt.Errorf("parse %s: %w", idx.name, err)
		}
		sql := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx.name, stmt.Schema.Table, idx.columns)
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
		logger.Info("migration applied", "index", idx.name)
	}

	return nil
}
