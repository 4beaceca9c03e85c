package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// Drift is a stored counter that disagrees with the vote rows.
type Drift struct {
	PollID     uint   `json:"poll_id"`
	ChoiceName string `json:"choice_name,omitempty"`
	Stored     int64  `json:"stored"`
	Actual     int64  `json:"actual"`
}

// ReconcileReport is the outcome of one reconciliation pass.
type ReconcileReport struct {
	Choices      []Drift   `json:"choices"`
	Polls        []Drift   `json:"polls"`
	Repaired     bool      `json:"repaired"`
	RowsAffected int64     `json:"rows_affected"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Clean reports whether no drift was found.
func (r *ReconcileReport) Clean() bool {
	return len(r.Choices) == 0 && len(r.Polls) == 0
}

// Locker serializes a job across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Reconciler recomputes the denormalized counters from the vote rows.
type Reconciler struct {
	db     *gorm.DB
	locker Locker
	logger *slog.Logger
}

func NewReconciler(db *gorm.DB, locker Locker, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{db: db, locker: locker, logger: logger}
}

const (
	choiceDriftQuery = `SELECT c.poll_id AS poll_id, c.name AS choice_name, c.vote_count AS stored, COUNT(v.user_id) AS actual
FROM choices c
LEFT JOIN votes v ON v.poll_id = c.poll_id AND v.choice_name = c.name
GROUP BY c.poll_id, c.name, c.vote_count
HAVING c.vote_count <> COUNT(v.user_id)
ORDER BY c.poll_id, c.name`

	pollDriftQuery = `SELECT p.id AS poll_id, p.voters_count AS stored, COUNT(DISTINCT v.user_id) AS actual
FROM polls p
LEFT JOIN votes v ON v.poll_id = p.id
GROUP BY p.id, p.voters_count
HAVING p.voters_count <> COUNT(DISTINCT v.user_id)
ORDER BY p.id`

	repairChoicesQuery = `UPDATE choices SET vote_count = (
	SELECT COUNT(*) FROM votes WHERE votes.poll_id = choices.poll_id AND votes.choice_name = choices.name
) WHERE vote_count <> (
	SELECT COUNT(*) FROM votes WHERE votes.poll_id = choices.poll_id AND votes.choice_name = choices.name
)`

	repairPollsQuery = `UPDATE polls SET voters_count = (
	SELECT COUNT(DISTINCT votes.user_id) FROM votes WHERE votes.poll_id = polls.id
) WHERE voters_count <> (
	SELECT COUNT(DISTINCT votes.user_id) FROM votes WHERE votes.poll_id = polls.id
)`
)

// Check lists every counter that disagrees with the vote rows.
func (r *Reconciler) Check(ctx context.Context) (*ReconcileReport, error) {
	return r.check(r.db.WithContext(ctx))
}

func (r *Reconciler) check(db *gorm.DB) (*ReconcileReport, error) {
	report := &ReconcileReport{
		Choices:   []Drift{},
		Polls:     []Drift{},
		CheckedAt: time.Now().UTC(),
	}
	if err := db.Raw(choiceDriftQuery).Scan(&report.Choices).Error; err != nil {
		return nil, fmt.Errorf("check choice counters: %w", err)
	}
	if err := db.Raw(pollDriftQuery).Scan(&report.Polls).Error; err != nil {
		return nil, fmt.Errorf("check poll counters: %w", err)
	}
	return report, nil
}

// Repair checks and, when drift is found, rewrites the counters from the vote
// rows in one transaction.
func (r *Reconciler) Repair(ctx context.Context) (*ReconcileReport, error) {
	var report *ReconcileReport
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		report, err = r.check(tx)
		if err != nil {
			return err
		}
		if report.Clean() {
			return nil
		}
		res := tx.Exec(repairChoicesQuery)
		if res.Error != nil {
			return fmt.Errorf("repair choice counters: %w", res.Error)
		}
		report.RowsAffected += res.RowsAffected
		res = tx.Exec(repairPollsQuery)
		if res.Error != nil {
			return fmt.Errorf("repair poll counters: %w", res.Error)
		}
		report.RowsAffected += res.RowsAffected
		report.Repaired = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Reconcile runs Check, or Repair when repair is set, and logs any drift.
func (r *Reconciler) Reconcile(ctx context.Context, repair bool) (*ReconcileReport, error) {
	var (
		report *ReconcileReport
		err    error
	)
	if repair {
		report, err = r.Repair(ctx)
	} else {
		report, err = r.Check(ctx)
	}
	if err != nil {
		r.logger.Error("reconcile failed", "event", "reconcile_failed", "error", err.Error())
		return nil, err
	}
	if !report.Clean() {
		r.logger.Warn("counter drift detected",
			"event", "counter_drift",
			"choices", len(report.Choices),
			"polls", len(report.Polls),
			"repaired", report.Repaired,
		)
	}
	return report, nil
}

const reconcileLockKey = "polls:reconcile"

// Run reconciles every interval until ctx is done. With a Locker only one
// process runs a given pass.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration, repair bool) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, interval, repair)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context, interval time.Duration, repair bool) {
	pass := func(ctx context.Context) error {
		_, err := r.Reconcile(ctx, repair)
		return err
	}
	if r.locker == nil {
		_ = pass(ctx)
		return
	}
	if err := r.locker.WithLock(ctx, reconcileLockKey, interval, pass); err != nil {
		r.logger.Debug("reconcile pass skipped", "error", err.Error())
	}
}
