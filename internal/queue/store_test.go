package queue_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"runq/internal/queue"
	"runq/internal/testsupport"
)

func execSQL(t *testing.T, dbPath, query string, args ...any) {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func TestEnqueueAssignsMonotonicIndices(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var jobs []*queue.Job
	for i := 0; i < 3; i++ {
		job, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 1))
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		jobs = append(jobs, job)
	}
	for i, job := range jobs {
		if job.Index != int64(i+1) {
			t.Fatalf("job %d has index %d, want %d", i, job.Index, i+1)
		}
	}

	// Removing a job must not free its index for reuse.
	removed, err := store.Remove(ctx, jobs[1].ID)
	if err != nil || !removed {
		t.Fatalf("Remove = (%v, %v)", removed, err)
	}
	next, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 1))
	if err != nil {
		t.Fatalf("Enqueue after remove: %v", err)
	}
	if next.Index != 4 {
		t.Fatalf("index after removal = %d, want 4", next.Index)
	}
}

func TestFrontReturnsOldestJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	empty, err := store.Front(ctx)
	if err != nil {
		t.Fatalf("Front on empty queue: %v", err)
	}
	if empty != nil {
		t.Fatalf("Front on empty queue = %+v", empty)
	}

	first, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 1))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	front, err := store.Front(ctx)
	if err != nil {
		t.Fatalf("Front: %v", err)
	}
	if front == nil || front.ID != first.ID {
		t.Fatalf("Front = %+v, want job %s", front, first.ID)
	}
}

func TestCheckpointPersistsProgress(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 3))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := store.Checkpoint(ctx, job.ID, 2, 1, 1); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	reloaded, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.SourceCursor != 2 || reloaded.SuccessCount != 1 || reloaded.FailureCount != 1 {
		t.Fatalf("reloaded counters = %d/%d/%d", reloaded.SourceCursor, reloaded.SuccessCount, reloaded.FailureCount)
	}
	if reloaded.Remaining() != 1 {
		t.Fatalf("Remaining = %d, want 1", reloaded.Remaining())
	}
}

func TestCheckpointRejectsInvalidCounters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 2))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := store.Checkpoint(ctx, job.ID, 1, 1, 0); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	cases := []struct {
		name                     string
		cursor, success, failure int
	}{
		{"counters do not partition cursor", 2, 1, 0},
		{"negative cursor", -1, 0, 0},
		{"negative success", 2, -1, 3},
		{"cursor regression", 0, 0, 0},
		{"cursor past source count", 3, 2, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := store.Checkpoint(ctx, job.ID, tc.cursor, tc.success, tc.failure); err == nil {
				t.Fatalf("Checkpoint(%d,%d,%d) succeeded", tc.cursor, tc.success, tc.failure)
			}
		})
	}

	// The stored checkpoint must be untouched by the rejected writes.
	reloaded, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.SourceCursor != 1 || reloaded.SuccessCount != 1 || reloaded.FailureCount != 0 {
		t.Fatalf("counters after rejected writes = %d/%d/%d", reloaded.SourceCursor, reloaded.SuccessCount, reloaded.FailureCount)
	}
}

func TestCheckpointSameCursorIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 2))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := store.Checkpoint(ctx, job.ID, 1, 0, 1); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	// Re-running the source after a crash rewrites the same checkpoint.
	if err := store.Checkpoint(ctx, job.ID, 1, 0, 1); err != nil {
		t.Fatalf("repeat Checkpoint: %v", err)
	}
}

func TestCheckpointUnknownJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if err := store.Checkpoint(context.Background(), "no-such-job", 1, 1, 0); err == nil {
		t.Fatal("Checkpoint on missing job succeeded")
	}
}

func insertJobWithID(t *testing.T, store *queue.Store, sourcePath, id string) *queue.Job {
	t.Helper()
	job := &queue.Job{
		ID:       id,
		Label:    "fixed id",
		Mode:     queue.ModeOptimization,
		Strategy: "momentum-v1",
		Sources:  []queue.Source{{Type: queue.SourcePath, Path: sourcePath}},
	}
	if err := store.Insert(context.Background(), job); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return job
}

func TestResolveByIndexAndPrefix(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	sourcePath := filepath.Join(testsupport.BaseDir(cfg), "datasets", "series-01.csv")
	testsupport.WriteFile(t, sourcePath, 16)

	first := insertJobWithID(t, store, sourcePath, "adc83b19-0000-4000-8000-000000000001")
	second := insertJobWithID(t, store, sourcePath, "b1946ac9-0000-4000-8000-000000000002")

	byIndex, err := store.Resolve(ctx, "2")
	if err != nil {
		t.Fatalf("Resolve by index: %v", err)
	}
	if byIndex == nil || byIndex.ID != second.ID {
		t.Fatalf("Resolve(2) = %+v", byIndex)
	}

	byHashIndex, err := store.Resolve(ctx, "#1")
	if err != nil {
		t.Fatalf("Resolve by #index: %v", err)
	}
	if byHashIndex == nil || byHashIndex.ID != first.ID {
		t.Fatalf("Resolve(#1) = %+v", byHashIndex)
	}

	byPrefix, err := store.Resolve(ctx, "adc83b19")
	if err != nil {
		t.Fatalf("Resolve by prefix: %v", err)
	}
	if byPrefix == nil || byPrefix.ID != first.ID {
		t.Fatalf("Resolve(adc83b19) = %+v", byPrefix)
	}

	missing, err := store.Resolve(ctx, "99")
	if err != nil {
		t.Fatalf("Resolve missing index: %v", err)
	}
	if missing != nil {
		t.Fatalf("Resolve(99) = %+v, want nil", missing)
	}
}

func TestResolveAmbiguousPrefix(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	sourcePath := filepath.Join(testsupport.BaseDir(cfg), "datasets", "series-01.csv")
	testsupport.WriteFile(t, sourcePath, 16)

	insertJobWithID(t, store, sourcePath, "aaaa0001-0000-4000-8000-000000000001")
	insertJobWithID(t, store, sourcePath, "aaaa0002-0000-4000-8000-000000000002")

	if _, err := store.Resolve(context.Background(), "aaaa"); err == nil {
		t.Fatal("expected ambiguity error for shared prefix")
	}
}

func TestRemoveReportsMissingJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 1))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	removed, err := store.Remove(ctx, job.ID)
	if err != nil || !removed {
		t.Fatalf("Remove = (%v, %v)", removed, err)
	}
	removed, err = store.Remove(ctx, job.ID)
	if err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if removed {
		t.Fatal("second Remove reported a deletion")
	}
}

func TestClearResetsIndexCounter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 1)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	removed, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed != 3 {
		t.Fatalf("Clear removed %d jobs, want 3", removed)
	}

	job, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 1))
	if err != nil {
		t.Fatalf("Enqueue after clear: %v", err)
	}
	if job.Index != 1 {
		t.Fatalf("index after clear = %d, want 1", job.Index)
	}
}

func TestReopenPreservesQueueState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 2))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := store.Checkpoint(ctx, first.ID, 1, 1, 0); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	if !reopened.RepairReport().Empty() {
		t.Fatalf("clean restart reported repairs: %+v", reopened.RepairReport())
	}
	jobs, err := reopened.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].SourceCursor != 1 || jobs[0].SuccessCount != 1 {
		t.Fatalf("reloaded jobs = %+v", jobs)
	}

	next, err := queue.Enqueue(ctx, reopened, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 1))
	if err != nil {
		t.Fatalf("Enqueue after reopen: %v", err)
	}
	if next.Index != 2 {
		t.Fatalf("index after reopen = %d, want 2", next.Index)
	}
}

func TestReopenDropsInvalidRows(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	bad, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 1))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	good, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 1))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	dbPath := store.Path()
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	execSQL(t, dbPath, `UPDATE queue_jobs SET sources_json = 'not json' WHERE id = ?`, bad.ID)

	reopened := testsupport.MustOpenStore(t, cfg)
	report := reopened.RepairReport()
	if report.RemovedJobs != 1 {
		t.Fatalf("RemovedJobs = %d, want 1", report.RemovedJobs)
	}
	jobs, err := reopened.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != good.ID {
		t.Fatalf("surviving jobs = %+v", jobs)
	}
}

func TestReopenClampsCounterDrift(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	job, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 3))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	dbPath := store.Path()
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A crash can leave counters that disagree with the cursor.
	execSQL(t, dbPath, `UPDATE queue_jobs SET source_cursor = 99, success_count = 7, failure_count = 0 WHERE id = ?`, job.ID)

	reopened := testsupport.MustOpenStore(t, cfg)
	report := reopened.RepairReport()
	if report.RepairedJobs != 1 {
		t.Fatalf("RepairedJobs = %d, want 1", report.RepairedJobs)
	}
	fixed, err := reopened.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fixed.SourceCursor != 3 {
		t.Fatalf("cursor = %d, want clamp to source count 3", fixed.SourceCursor)
	}
	if fixed.SuccessCount != 3 || fixed.FailureCount != 0 {
		t.Fatalf("counters = %d/%d, want 3/0", fixed.SuccessCount, fixed.FailureCount)
	}
	if fixed.SuccessCount+fixed.FailureCount != fixed.SourceCursor {
		t.Fatal("repaired counters do not partition the cursor")
	}
}

func TestReopenRestoresStaleNextIndex(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 1)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	dbPath := store.Path()
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	execSQL(t, dbPath, `UPDATE queue_meta SET next_index = 1 WHERE id = 1`)

	reopened := testsupport.MustOpenStore(t, cfg)
	if !reopened.RepairReport().NextIndexReset {
		t.Fatal("stale next_index was not reset")
	}
	job, err := queue.Enqueue(ctx, reopened, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 1))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Index != 3 {
		t.Fatalf("index after repair = %d, want 3", job.Index)
	}
}

func TestStatsAggregatesProgress(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 3))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 2)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := store.Checkpoint(ctx, first.ID, 2, 1, 1); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := queue.QueueStats{Jobs: 2, Sources: 5, SourcesProcessed: 2, SourcesFailed: 1}
	if stats != want {
		t.Fatalf("Stats = %+v, want %+v", stats, want)
	}
}

func TestReferencedBlobKeysIncludesInvalidRows(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	blobs := testsupport.MustOpenBlobs(t, cfg)

	draft := queue.Draft{
		Mode:     queue.ModeOptimization,
		Strategy: "momentum-v1",
		Sources:  []queue.DraftSource{{Name: "upload.csv", Payload: []byte("a,b\n")}},
	}
	blobJob, err := queue.Enqueue(ctx, store, blobs, draft)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	key := blobJob.BlobKeys()[0]
	if _, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Mark the blob job invalid without touching its sources. The key must
	// still count as referenced so cleanup cannot outrun repair.
	execSQL(t, store.Path(), `UPDATE queue_jobs SET mode = 'bogus' WHERE id = ?`, blobJob.ID)

	keys, err := store.ReferencedBlobKeys(ctx)
	if err != nil {
		t.Fatalf("ReferencedBlobKeys: %v", err)
	}
	if _, ok := keys[key]; !ok {
		t.Fatalf("key %s missing from referenced set %v", key, keys)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCheckHealthReportsHealthyDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.TableExists {
		t.Fatalf("health = %+v", health)
	}
	if health.SchemaVersion != "1" {
		t.Fatalf("SchemaVersion = %q, want \"1\"", health.SchemaVersion)
	}
	if len(health.MissingColumns) != 0 {
		t.Fatalf("missing columns: %v", health.MissingColumns)
	}
	if !health.IntegrityCheck {
		t.Fatal("integrity check failed")
	}
	if health.TotalJobs != 1 {
		t.Fatalf("TotalJobs = %d, want 1", health.TotalJobs)
	}
}

func TestListOrdersByIndex(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := queue.Enqueue(ctx, store, nil, testsupport.NewDraft(t, testsupport.BaseDir(cfg), 1)); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	jobs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 4 {
		t.Fatalf("List returned %d jobs", len(jobs))
	}
	for i, job := range jobs {
		if job.Index != int64(i+1) {
			t.Fatalf("position %d has index %d", i, job.Index)
		}
	}
}
