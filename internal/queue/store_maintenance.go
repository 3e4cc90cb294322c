package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Stats aggregates queue counts for status output.
func (s *Store) Stats(ctx context.Context) (QueueStats, error) {
	jobs, err := s.List(ctx)
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	stats := QueueStats{Jobs: len(jobs)}
	for _, job := range jobs {
		stats.Sources += len(job.Sources)
		stats.SourcesProcessed += job.SourceCursor
		stats.SourcesFailed += job.FailureCount
	}
	return stats, nil
}

// ReferencedBlobKeys returns every blob key referenced by any queued job.
// Invalid rows are included so a concurrent repair cannot race blob cleanup
// into deleting payloads a later pass may still want to inspect.
func (s *Store) ReferencedBlobKeys(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sources_json FROM queue_jobs`)
	if err != nil {
		return nil, fmt.Errorf("query blob keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var sourcesJSON string
		if err := rows.Scan(&sourcesJSON); err != nil {
			return nil, fmt.Errorf("scan sources: %w", err)
		}
		var sources []Source
		if err := json.Unmarshal([]byte(sourcesJSON), &sources); err != nil {
			continue
		}
		for _, src := range sources {
			if src.Type == SourceBlob && src.Key != "" {
				keys[src.Key] = struct{}{}
			}
		}
	}
	return keys, rows.Err()
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{
		DBPath:        s.path,
		SchemaVersion: "unknown",
	}

	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	var version int
	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err == nil {
		health.SchemaVersion = fmt.Sprintf("%d", version)
	}

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'queue_jobs'")
	if err := row.Scan(&tableName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			health.TableExists = false
		} else {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	} else {
		health.TableExists = true
	}

	if health.TableExists {
		colsRows, err := s.db.QueryContext(connCtx, "PRAGMA table_info(queue_jobs)")
		if err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("table info: %w", err)
		}
		defer colsRows.Close()

		var columns []string
		for colsRows.Next() {
			var (
				cid     int
				name    string
				typeStr string
				notNull int
				dflt    any
				pk      int
			)
			if err := colsRows.Scan(&cid, &name, &typeStr, &notNull, &dflt, &pk); err != nil {
				health.Error = err.Error()
				return health, fmt.Errorf("scan table info: %w", err)
			}
			columns = append(columns, name)
		}
		if err := colsRows.Err(); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("iterate table info: %w", err)
		}
		health.ColumnsPresent = append(health.ColumnsPresent, columns...)

		expected := []string{
			"id",
			"idx",
			"label",
			"mode",
			"strategy",
			"config",
			"sources_json",
			"source_cursor",
			"success_count",
			"failure_count",
			"added_at",
			"updated_at",
		}
		missingMap := make(map[string]struct{}, len(expected))
		for _, col := range expected {
			missingMap[col] = struct{}{}
		}
		for _, col := range columns {
			delete(missingMap, col)
		}
		for col := range missingMap {
			health.MissingColumns = append(health.MissingColumns, col)
		}

		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM queue_jobs")
		if err := row.Scan(&health.TotalJobs); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count queue jobs: %w", err)
		}
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
