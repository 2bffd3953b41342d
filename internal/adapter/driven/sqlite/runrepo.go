package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nickel-lang/nickel-customs/internal/domain/model"
	"github.com/nickel-lang/nickel-customs/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RunStore = (*RunRepo)(nil)

// RunRepo is the SQLite implementation of the RunStore port interface. It
// records completed check runs for the status API and restart-surviving
// audit; it is never consulted for orchestration decisions.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new RunRepo backed by the given DB.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Record persists a run together with its outcomes and their diagnostics in
// a single transaction. Each call appends a new history row; re-runs of the
// same commit produce separate records.
func (r *RunRepo) Record(ctx context.Context, run model.CheckRun) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const insertRun = `
		INSERT INTO runs (repo_full_name, head_sha, status, conclusion, external_id, pr_number, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var completedAt any
	if !run.CompletedAt.IsZero() {
		completedAt = run.CompletedAt.UTC()
	}

	res, err := tx.ExecContext(ctx, insertRun,
		run.RepoFullName, run.HeadSHA, string(run.Status), string(run.Conclusion),
		run.ExternalID, run.PRNumber, run.CreatedAt.UTC(), completedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s@%s: %w", run.RepoFullName, run.HeadSHA, err)
	}

	runID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("run insert id: %w", err)
	}

	const insertOutcome = `
		INSERT INTO run_outcomes (run_id, root, manifest_path, kind, err_reason)
		VALUES (?, ?, ?, ?, ?)
	`
	const insertDiagnostic = `
		INSERT INTO outcome_diagnostics (outcome_id, path, line, severity, message)
		VALUES (?, ?, ?, ?, ?)
	`

	for _, po := range run.Outcomes {
		res, err := tx.ExecContext(ctx, insertOutcome,
			runID, po.Root, po.ManifestPath, string(po.Outcome.Kind), po.Outcome.ErrReason,
		)
		if err != nil {
			return fmt.Errorf("insert outcome %s for run %d: %w", po.Root, runID, err)
		}

		outcomeID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("outcome insert id: %w", err)
		}

		for _, d := range po.Outcome.Diagnostics {
			if _, err := tx.ExecContext(ctx, insertDiagnostic,
				outcomeID, d.Path, d.Line, string(d.Severity), d.Message,
			); err != nil {
				return fmt.Errorf("insert diagnostic %s:%d for outcome %d: %w", d.Path, d.Line, outcomeID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s@%s: %w", run.RepoFullName, run.HeadSHA, err)
	}

	return nil
}

// GetBySHA returns the most recent recorded run for a commit including its
// outcomes and diagnostics. Returns nil, nil when no run exists.
func (r *RunRepo) GetBySHA(ctx context.Context, repoFullName, headSHA string) (*model.CheckRun, error) {
	const query = `
		SELECT id, repo_full_name, head_sha, status, conclusion, external_id, pr_number, created_at, completed_at
		FROM runs
		WHERE repo_full_name = ? AND head_sha = ?
		ORDER BY id DESC
		LIMIT 1
	`

	var rowID int64
	run, err := scanRun(r.db.Reader.QueryRowContext(ctx, query, repoFullName, headSHA), &rowID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query run %s@%s: %w", repoFullName, headSHA, err)
	}

	run.Outcomes, err = r.loadOutcomes(ctx, rowID)
	if err != nil {
		return nil, fmt.Errorf("load outcomes for run %d: %w", rowID, err)
	}

	return run, nil
}

// ListRecent returns the most recently created runs, newest first, without
// their outcome lists.
func (r *RunRepo) ListRecent(ctx context.Context, limit int) ([]model.CheckRun, error) {
	const query = `
		SELECT id, repo_full_name, head_sha, status, conclusion, external_id, pr_number, created_at, completed_at
		FROM runs
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []model.CheckRun
	for rows.Next() {
		var rowID int64
		run, err := scanRun(rows, &rowID)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// loadOutcomes returns a run's outcomes ordered by package root, each with
// its diagnostics in recorded order.
func (r *RunRepo) loadOutcomes(ctx context.Context, runID int64) ([]model.PackageOutcome, error) {
	const outcomesQuery = `
		SELECT id, root, manifest_path, kind, err_reason
		FROM run_outcomes
		WHERE run_id = ?
		ORDER BY root
	`

	rows, err := r.db.Reader.QueryContext(ctx, outcomesQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []model.PackageOutcome
	index := make(map[int64]int)

	for rows.Next() {
		var id int64
		var po model.PackageOutcome
		var kind, errReason string
		if err := rows.Scan(&id, &po.Root, &po.ManifestPath, &kind, &errReason); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		po.Outcome = model.ValidationOutcome{Kind: model.OutcomeKind(kind), ErrReason: errReason}
		index[id] = len(outcomes)
		outcomes = append(outcomes, po)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}

	const diagnosticsQuery = `
		SELECT d.outcome_id, d.path, d.line, d.severity, d.message
		FROM outcome_diagnostics d
		JOIN run_outcomes o ON o.id = d.outcome_id
		WHERE o.run_id = ?
		ORDER BY d.outcome_id, d.id
	`

	diagRows, err := r.db.Reader.QueryContext(ctx, diagnosticsQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer diagRows.Close()

	for diagRows.Next() {
		var outcomeID int64
		var d model.Diagnostic
		var severity string
		if err := diagRows.Scan(&outcomeID, &d.Path, &d.Line, &severity, &d.Message); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		d.Severity = model.Severity(severity)

		i, ok := index[outcomeID]
		if !ok {
			return nil, fmt.Errorf("diagnostic references unknown outcome %d", outcomeID)
		}
		outcomes[i].Outcome.Diagnostics = append(outcomes[i].Outcome.Diagnostics, d)
	}
	if err := diagRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnostics: %w", err)
	}

	return outcomes, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner, rowID *int64) (*model.CheckRun, error) {
	var run model.CheckRun
	var status, conclusion, createdAt string
	var completedAt sql.NullString

	err := s.Scan(
		rowID, &run.RepoFullName, &run.HeadSHA, &status, &conclusion,
		&run.ExternalID, &run.PRNumber, &createdAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = model.RunStatus(status)
	run.Conclusion = model.Conclusion(conclusion)

	run.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	if completedAt.Valid {
		run.CompletedAt, err = parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
	}

	return &run, nil
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
