package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/homework-scanner/constants"
	"github.com/joseph-ayodele/homework-scanner/internal/common"
	"github.com/joseph-ayodele/homework-scanner/internal/entity"
)

// SolutionRecord is a terminal solution as stored in history.
type SolutionRecord struct {
	ID         uuid.UUID                `json:"id"`
	RunID      *uuid.UUID               `json:"run_id,omitempty"`
	URL        string                   `json:"url"`
	FileName   string                   `json:"file_name"`
	MimeType   string                   `json:"mime_type"`
	Status     constants.SolutionStatus `json:"status"`
	AISourceID string                   `json:"ai_source_id,omitempty"`
	Problems   []entity.ProblemSolution `json:"problems"`
	RecordedAt time.Time                `json:"recorded_at"`
}

type SolutionRepository interface {
	StartRun(ctx context.Context, run entity.ScanRun) error
	FinishRun(ctx context.Context, run entity.ScanRun) error
	ListRuns(ctx context.Context, limit int) ([]entity.ScanRun, error)
	GetRun(ctx context.Context, id uuid.UUID) (*entity.ScanRun, error)

	SaveSolution(ctx context.Context, runID *uuid.UUID, item entity.FileItem, sol entity.Solution) (*SolutionRecord, error)
	ListSolutions(ctx context.Context, runID *uuid.UUID, limit int) ([]SolutionRecord, error)
}

type solutionRepository struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSolutionRepository(db *DB, logger *slog.Logger) SolutionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &solutionRepository{db: db, logger: logger, now: time.Now}
}

func (r *solutionRepository) StartRun(ctx context.Context, run entity.ScanRun) error {
	_, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`INSERT INTO scan_runs (id, started_at, items) VALUES (?, ?, ?)`),
		run.ID.String(), run.StartedAt.UnixMilli(), run.Items)
	if err != nil {
		r.logger.Error("db.run.start_failed", "run_id", run.ID, "error", err)
		return fmt.Errorf("%w: start run: %w", common.ErrDatabase, err)
	}
	r.logger.Debug("db.run.started", "run_id", run.ID, "items", run.Items)
	return nil
}

func (r *solutionRepository) FinishRun(ctx context.Context, run entity.ScanRun) error {
	finished := r.now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	var errText sql.NullString
	if run.Error != nil {
		errText = sql.NullString{String: *run.Error, Valid: true}
	}
	res, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`UPDATE scan_runs SET finished_at = ?, succeeded = ?, failed = ?, error = ? WHERE id = ?`),
		finished.UnixMilli(), run.Succeeded, run.Failed, errText, run.ID.String())
	if err != nil {
		r.logger.Error("db.run.finish_failed", "run_id", run.ID, "error", err)
		return fmt.Errorf("%w: finish run: %w", common.ErrDatabase, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: run %s", common.ErrNotFound, run.ID)
	}
	r.logger.Debug("db.run.finished", "run_id", run.ID, "succeeded", run.Succeeded, "failed", run.Failed)
	return nil
}

const runColumns = `id, started_at, finished_at, items, succeeded, failed, error`

func (r *solutionRepository) ListRuns(ctx context.Context, limit int) ([]entity.ScanRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.SQL.QueryContext(ctx, r.db.rebind(
		`SELECT `+runColumns+` FROM scan_runs ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list runs: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []entity.ScanRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func (r *solutionRepository) GetRun(ctx context.Context, id uuid.UUID) (*entity.ScanRun, error) {
	row := r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		`SELECT `+runColumns+` FROM scan_runs WHERE id = ?`), id.String())
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", common.ErrNotFound, id)
	}
	return run, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*entity.ScanRun, error) {
	var (
		id       string
		started  int64
		finished sql.NullInt64
		errText  sql.NullString
		run      entity.ScanRun
	)
	if err := row.Scan(&id, &started, &finished, &run.Items, &run.Succeeded, &run.Failed, &errText); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("run id %q: %w", id, err)
	}
	run.ID = parsed
	run.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		run.FinishedAt = &t
	}
	if errText.Valid {
		run.Error = &errText.String
	}
	return &run, nil
}

func (r *solutionRepository) SaveSolution(ctx context.Context, runID *uuid.UUID, item entity.FileItem, sol entity.Solution) (*SolutionRecord, error) {
	if !sol.Status.Terminal() {
		return nil, common.NewAppError(common.CodeConflict, fmt.Sprintf("solution for %s is still %s", sol.URL, sol.Status), common.ErrConflict)
	}
	problems := sol.Problems
	if problems == nil {
		problems = []entity.ProblemSolution{}
	}
	payload, err := json.Marshal(problems)
	if err != nil {
		return nil, fmt.Errorf("encode problems: %w", err)
	}

	rec := &SolutionRecord{
		ID:         uuid.New(),
		RunID:      runID,
		URL:        sol.URL,
		FileName:   item.File.Name,
		MimeType:   item.File.MimeType,
		Status:     sol.Status,
		AISourceID: sol.AISourceID,
		Problems:   problems,
		RecordedAt: r.now().UTC(),
	}
	var run sql.NullString
	if runID != nil {
		run = sql.NullString{String: runID.String(), Valid: true}
	}
	_, err = r.db.SQL.ExecContext(ctx, r.db.rebind(
		`INSERT INTO solutions (id, run_id, url, file_name, mime_type, status, ai_source_id, problems, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID.String(), run, rec.URL, rec.FileName, rec.MimeType, string(rec.Status), rec.AISourceID, string(payload), rec.RecordedAt.UnixMilli())
	if err != nil {
		r.logger.Error("db.solution.save_failed", "url", sol.URL, "error", err)
		return nil, fmt.Errorf("%w: save solution: %w", common.ErrDatabase, err)
	}
	r.logger.Debug("db.solution.saved", "id", rec.ID, "url", rec.URL, "status", rec.Status)
	return rec, nil
}

// ListSolutions returns the newest records first, optionally limited to one run.
func (r *solutionRepository) ListSolutions(ctx context.Context, runID *uuid.UUID, limit int) ([]SolutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, run_id, url, file_name, mime_type, status, ai_source_id, problems, recorded_at FROM solutions`
	args := []any{}
	if runID != nil {
		q += ` WHERE run_id = ?`
		args = append(args, runID.String())
	}
	q += ` ORDER BY recorded_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.SQL.QueryContext(ctx, r.db.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list solutions: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []SolutionRecord
	for rows.Next() {
		var (
			id, url, name, mime, status, problems string
			run, source                           sql.NullString
			recorded                              int64
		)
		if err := rows.Scan(&id, &run, &url, &name, &mime, &status, &source, &problems, &recorded); err != nil {
			return nil, err
		}
		rec := SolutionRecord{
			URL:        url,
			FileName:   name,
			MimeType:   mime,
			Status:     constants.SolutionStatus(status),
			AISourceID: source.String,
			RecordedAt: time.UnixMilli(recorded).UTC(),
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("solution id %q: %w", id, err)
		}
		if run.Valid {
			rid, err := uuid.Parse(run.String)
			if err != nil {
				return nil, fmt.Errorf("run id %q: %w", run.String, err)
			}
			rec.RunID = &rid
		}
		if err := json.Unmarshal([]byte(problems), &rec.Problems); err != nil {
			return nil, fmt.Errorf("decode problems for %s: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
