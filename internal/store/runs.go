package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
)

// RecordRun persists a finished run and its task results
func (s *Store) RecordRun(ctx context.Context, run domain.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var finished interface{}
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, user_id, user_name, mode, outcome, final_status, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.UserID,
		run.UserName,
		string(run.Mode),
		string(run.Outcome),
		string(run.FinalStatus),
		run.StartedAt.UTC(),
		finished,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, r := range run.Results {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_results (run_id, position, task_id, success, message, started_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, string(r.TaskID), r.Success, r.Message, r.StartedAt.UTC(), r.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert task result: %w", err)
		}
	}

	return tx.Commit()
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	UserID  string
	Outcome domain.RunOutcome
	Since   time.Time
	Limit   int
}

// ListRuns returns runs newest first, without task results
func (s *Store) ListRuns(ctx context.Context, opts ListOptions) ([]*domain.Run, error) {
	query := `SELECT id, user_id, user_name, mode, outcome, final_status, started_at, finished_at FROM runs WHERE 1=1`
	var args []interface{}

	if opts.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, opts.UserID)
	}
	if opts.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(opts.Outcome))
	}
	if !opts.Since.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	query += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun retrieves a run with its task results
func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, user_name, mode, outcome, final_status, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, success, message, started_at, duration_ms
		FROM task_results WHERE run_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r domain.TaskResult
		var taskID string
		var message sql.NullString
		var started sql.NullTime
		var durationMS int64
		if err := rows.Scan(&taskID, &r.Success, &message, &started, &durationMS); err != nil {
			return nil, err
		}
		r.TaskID = domain.TaskID(taskID)
		r.Message = message.String
		r.StartedAt = started.Time
		r.Duration = time.Duration(durationMS) * time.Millisecond
		run.Results = append(run.Results, r)
	}
	return run, rows.Err()
}

// StuckUser is a user whose latest run left it in progress
type StuckUser struct {
	UserID    string
	UserName  string
	RunID     string
	Outcome   domain.RunOutcome
	StartedAt time.Time
}

// StuckUsers returns users whose most recent run ended in_progress before
// olderThan, oldest first
func (s *Store) StuckUsers(ctx context.Context, olderThan time.Time) ([]StuckUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.user_id, r.user_name, r.id, r.outcome, r.started_at
		FROM runs r
		WHERE r.final_status = ?
		  AND r.started_at < ?
		  AND r.started_at = (SELECT MAX(r2.started_at) FROM runs r2 WHERE r2.user_id = r.user_id)
		ORDER BY r.started_at
	`, string(domain.StatusInProgress), olderThan.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stuck []StuckUser
	for rows.Next() {
		var u StuckUser
		var name sql.NullString
		var outcome string
		if err := rows.Scan(&u.UserID, &name, &u.RunID, &outcome, &u.StartedAt); err != nil {
			return nil, err
		}
		u.UserName = name.String
		u.Outcome = domain.RunOutcome(outcome)
		stuck = append(stuck, u)
	}
	return stuck, rows.Err()
}

// RunStats counts runs by outcome
type RunStats struct {
	Total       int
	Succeeded   int
	Failed      int
	Interrupted int
	Skipped     int
}

// Stats counts runs started at or after since
func (s *Store) Stats(ctx context.Context, since time.Time) (RunStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM runs WHERE started_at >= ? GROUP BY outcome
	`, since.UTC())
	if err != nil {
		return RunStats{}, err
	}
	defer rows.Close()

	var stats RunStats
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return RunStats{}, err
		}
		stats.Total += n
		switch domain.RunOutcome(outcome) {
		case domain.OutcomeSucceeded:
			stats.Succeeded = n
		case domain.OutcomeFailed:
			stats.Failed = n
		case domain.OutcomeInterrupted:
			stats.Interrupted = n
		case domain.OutcomeSkipped:
			stats.Skipped = n
		}
	}
	return stats, rows.Err()
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var name, finalStatus sql.NullString
	var mode, outcome string
	var finished sql.NullTime

	err := row.Scan(&run.ID, &run.UserID, &name, &mode, &outcome, &finalStatus, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	run.UserName = name.String
	run.Mode = domain.RunMode(mode)
	run.Outcome = domain.RunOutcome(outcome)
	run.FinalStatus = domain.LifecycleStatus(finalStatus.String)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
