package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RepairSummary reports what the startup repair pass changed.
type RepairSummary struct {
	RemovedJobs    int
	RepairedJobs   int
	NextIndexReset bool
}

// Empty reports whether the repair pass left the queue untouched.
func (r RepairSummary) Empty() bool {
	return r.RemovedJobs == 0 && r.RepairedJobs == 0 && !r.NextIndexReset
}

type repairFix struct {
	id      string
	cursor  int
	success int
	failure int
}

// repairQueue drops rows that no longer satisfy job invariants and clamps
// progress counters so every surviving job can be resumed. Crashes can leave
// counters that disagree with the cursor; the cursor wins and the success
// count is capped by it.
func (s *Store) repairQueue(ctx context.Context) (RepairSummary, error) {
	var summary RepairSummary
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		summary = RepairSummary{}

		drops, fixes, maxIdx, err := collectRepairs(ctx, tx)
		if err != nil {
			return err
		}

		for _, id := range drops {
			if _, err := tx.ExecContext(ctx, `DELETE FROM queue_jobs WHERE id = ?`, id); err != nil {
				return fmt.Errorf("drop invalid job %q: %w", id, err)
			}
		}
		summary.RemovedJobs = len(drops)

		now := time.Now().UTC().Format(time.RFC3339Nano)
		for _, fix := range fixes {
			if _, err := tx.ExecContext(
				ctx,
				`UPDATE queue_jobs SET source_cursor = ?, success_count = ?, failure_count = ?, updated_at = ? WHERE id = ?`,
				fix.cursor, fix.success, fix.failure, now, fix.id,
			); err != nil {
				return fmt.Errorf("clamp job %q: %w", fix.id, err)
			}
		}
		summary.RepairedJobs = len(fixes)

		want := maxIdx + 1
		var next int64
		err = tx.QueryRowContext(ctx, `SELECT next_index FROM queue_meta WHERE id = 1`).Scan(&next)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `INSERT INTO queue_meta (id, next_index) VALUES (1, ?)`, want); err != nil {
				return fmt.Errorf("seed queue meta: %w", err)
			}
			summary.NextIndexReset = true
		case err != nil:
			return fmt.Errorf("read next index: %w", err)
		case next < want:
			if _, err := tx.ExecContext(ctx, `UPDATE queue_meta SET next_index = ? WHERE id = 1`, want); err != nil {
				return fmt.Errorf("reset next index: %w", err)
			}
			summary.NextIndexReset = true
		}
		return nil
	})
	if err != nil {
		return RepairSummary{}, err
	}
	return summary, nil
}

func collectRepairs(ctx context.Context, tx *sql.Tx) (drops []string, fixes []repairFix, maxIdx int64, err error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, idx, mode, sources_json, source_cursor, success_count, failure_count FROM queue_jobs ORDER BY idx`)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("scan queue: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id          string
			idx         int64
			modeStr     string
			sourcesJSON string
			cursor      int
			success     int
			failure     int
		)
		if err := rows.Scan(&id, &idx, &modeStr, &sourcesJSON, &cursor, &success, &failure); err != nil {
			return nil, nil, 0, fmt.Errorf("scan queue row: %w", err)
		}
		if idx > maxIdx {
			maxIdx = idx
		}

		sources, valid := decodeValidSources(sourcesJSON)
		if strings.TrimSpace(id) == "" || !valid {
			drops = append(drops, id)
			continue
		}
		if _, ok := ParseMode(modeStr); !ok {
			drops = append(drops, id)
			continue
		}

		fixedCursor := cursor
		if fixedCursor < 0 {
			fixedCursor = 0
		}
		if fixedCursor > len(sources) {
			fixedCursor = len(sources)
		}
		fixedSuccess := success
		if fixedSuccess < 0 {
			fixedSuccess = 0
		}
		if fixedSuccess > fixedCursor {
			fixedSuccess = fixedCursor
		}
		fixedFailure := fixedCursor - fixedSuccess
		if fixedCursor != cursor || fixedSuccess != success || fixedFailure != failure {
			fixes = append(fixes, repairFix{id: id, cursor: fixedCursor, success: fixedSuccess, failure: fixedFailure})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, 0, err
	}
	return drops, fixes, maxIdx, nil
}

func decodeValidSources(sourcesJSON string) ([]Source, bool) {
	var sources []Source
	if err := json.Unmarshal([]byte(sourcesJSON), &sources); err != nil {
		return nil, false
	}
	if len(sources) == 0 {
		return nil, false
	}
	for _, src := range sources {
		if err := src.Validate(); err != nil {
			return nil, false
		}
	}
	return sources, true
}
