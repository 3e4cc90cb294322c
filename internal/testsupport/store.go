package testsupport

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"runq/internal/blobstore"
	"runq/internal/config"
	"runq/internal/logging"
	"runq/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenBlobs opens a blobstore.Store for tests rooted at the configured
// blob directory.
func MustOpenBlobs(t testing.TB, cfg *config.Config) *blobstore.Store {
	t.Helper()

	blobs, err := blobstore.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	return blobs
}

// SeedJob enqueues a draft built from sourceCount path sources rooted under
// the config's base directory and returns the stored job.
func SeedJob(t testing.TB, store *queue.Store, blobs queue.BlobWriter, cfg *config.Config, sourceCount int) *queue.Job {
	t.Helper()

	draft := NewDraft(t, BaseDir(cfg), sourceCount)
	job, err := queue.Enqueue(context.Background(), store, blobs, draft)
	if err != nil {
		t.Fatalf("queue.Enqueue: %v", err)
	}
	return job
}

// NewDraft builds an optimization draft whose sources point at small dataset
// files created under dir.
func NewDraft(t testing.TB, dir string, sourceCount int) queue.Draft {
	t.Helper()

	if sourceCount < 1 {
		sourceCount = 1
	}
	draft := queue.Draft{
		Mode:     queue.ModeOptimization,
		Strategy: "momentum-v1",
		Config:   `{"lookback": 20}`,
	}
	for i := 0; i < sourceCount; i++ {
		path := filepath.Join(dir, "datasets", fmt.Sprintf("series-%02d.csv", i+1))
		WriteFile(t, path, 64)
		draft.Sources = append(draft.Sources, queue.DraftSource{Path: path})
	}
	return draft
}
