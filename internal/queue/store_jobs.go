package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const jobColumns = "id, idx, label, mode, strategy, config, sources_json, source_cursor, success_count, failure_count, added_at, updated_at"

// errInvalidRow marks rows whose stored form no longer satisfies job
// invariants. List and Front skip such rows; the startup repair pass
// removes them.
var errInvalidRow = errors.New("invalid queue row")

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id          string
		idx         int64
		label       string
		modeStr     string
		strategy    string
		configText  sql.NullString
		sourcesJSON string
		cursor      int
		success     int
		failure     int
		addedRaw    string
		updatedRaw  string
	)

	if err := scanner.Scan(
		&id,
		&idx,
		&label,
		&modeStr,
		&strategy,
		&configText,
		&sourcesJSON,
		&cursor,
		&success,
		&failure,
		&addedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	mode, ok := ParseMode(modeStr)
	if !ok {
		return nil, fmt.Errorf("%w: job %s has unknown mode %q", errInvalidRow, id, modeStr)
	}

	var sources []Source
	if err := json.Unmarshal([]byte(sourcesJSON), &sources); err != nil {
		return nil, fmt.Errorf("%w: job %s sources: %v", errInvalidRow, id, err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: job %s has no sources", errInvalidRow, id)
	}
	for i, src := range sources {
		if err := src.Validate(); err != nil {
			return nil, fmt.Errorf("%w: job %s source %d: %v", errInvalidRow, id, i, err)
		}
	}

	job := &Job{
		ID:           id,
		Index:        idx,
		Label:        label,
		Mode:         mode,
		Strategy:     strategy,
		Config:       configText.String,
		Sources:      sources,
		SourceCursor: cursor,
		SuccessCount: success,
		FailureCount: failure,
	}
	if added, err := parseTimeString(addedRaw); err == nil {
		job.AddedAt = added
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

// Insert persists a new job at the tail of the queue, assigning the next
// queue index atomically.
func (s *Store) Insert(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if strings.TrimSpace(job.ID) == "" {
		return errors.New("job id is empty")
	}
	if len(job.Sources) == 0 {
		return errors.New("job has no sources")
	}
	for i, src := range job.Sources {
		if err := src.Validate(); err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
	}

	encoded, err := json.Marshal(job.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}

	now := time.Now().UTC()
	if job.AddedAt.IsZero() {
		job.AddedAt = now
	}
	job.UpdatedAt = now

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var next int64
		if err := tx.QueryRowContext(ctx, `SELECT next_index FROM queue_meta WHERE id = 1`).Scan(&next); err != nil {
			return fmt.Errorf("read next index: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO queue_jobs (
                id, idx, label, mode, strategy, config, sources_json,
                source_cursor, success_count, failure_count, added_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID,
			next,
			job.Label,
			string(job.Mode),
			job.Strategy,
			nullableString(job.Config),
			string(encoded),
			job.SourceCursor,
			job.SuccessCount,
			job.FailureCount,
			job.AddedAt.Format(time.RFC3339Nano),
			job.UpdatedAt.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE queue_meta SET next_index = ? WHERE id = 1`, next+1); err != nil {
			return fmt.Errorf("advance next index: %w", err)
		}
		job.Index = next
		return nil
	})
}

// Front returns the job at the head of the queue, or nil when the queue is
// empty. Rows that fail invariant checks are skipped.
func (s *Store) Front(ctx context.Context) (*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM queue_jobs ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("query front: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		job, err := scanJob(rows)
		if errors.Is(err, errInvalidRow) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return job, rows.Err()
	}
	return nil, rows.Err()
}

// GetByID fetches a job by identifier. Returns nil when no job matches.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM queue_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetByIndex fetches a job by queue index. Returns nil when no job matches.
func (s *Store) GetByIndex(ctx context.Context, index int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM queue_jobs WHERE idx = ?`, index)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job by index: %w", err)
	}
	return job, nil
}

// Resolve finds a job by queue index or by unique ID prefix. Returns nil
// when nothing matches and an error when a prefix is ambiguous.
func (s *Store) Resolve(ctx context.Context, ref string) (*Job, error) {
	ref = strings.TrimSpace(strings.TrimPrefix(ref, "#"))
	if ref == "" {
		return nil, errors.New("empty job reference")
	}
	if index, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.GetByIndex(ctx, index)
	}

	jobs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var match *Job
	for _, job := range jobs {
		if !strings.HasPrefix(job.ID, ref) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("job reference %q is ambiguous", ref)
		}
		match = job
	}
	return match, nil
}

// List returns all jobs in queue order. Rows that fail invariant checks are
// skipped.
func (s *Store) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM queue_jobs ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if errors.Is(err, errInvalidRow) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Checkpoint durably records progress through a job's source list. The
// counters must partition the cursor and may not regress behind or run past
// what is already stored.
func (s *Store) Checkpoint(ctx context.Context, id string, cursor, success, failure int) error {
	if cursor < 0 || success < 0 || failure < 0 {
		return fmt.Errorf("checkpoint counters must be non-negative (cursor=%d success=%d failure=%d)", cursor, success, failure)
	}
	if success+failure != cursor {
		return fmt.Errorf("checkpoint counters do not partition the cursor (cursor=%d success=%d failure=%d)", cursor, success, failure)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			sourcesJSON string
			current     int
		)
		err := tx.QueryRowContext(ctx, `SELECT sources_json, source_cursor FROM queue_jobs WHERE id = ?`, id).Scan(&sourcesJSON, &current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("read job: %w", err)
		}
		var sources []Source
		if err := json.Unmarshal([]byte(sourcesJSON), &sources); err != nil {
			return fmt.Errorf("decode sources: %w", err)
		}
		if cursor > len(sources) {
			return fmt.Errorf("cursor %d exceeds %d sources", cursor, len(sources))
		}
		if cursor < current {
			return fmt.Errorf("cursor %d regresses behind stored cursor %d", cursor, current)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE queue_jobs SET source_cursor = ?, success_count = ?, failure_count = ?, updated_at = ? WHERE id = ?`,
			cursor,
			success,
			failure,
			time.Now().UTC().Format(time.RFC3339Nano),
			id,
		); err != nil {
			return fmt.Errorf("write checkpoint: %w", err)
		}
		return nil
	})
}

// Remove deletes a job by identifier. Returns false when no job matched.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Clear removes all jobs and resets the queue index counter.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM queue_jobs`)
		if err != nil {
			return fmt.Errorf("clear queue: %w", err)
		}
		if removed, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE queue_meta SET next_index = 1 WHERE id = 1`); err != nil {
			return fmt.Errorf("reset next index: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
