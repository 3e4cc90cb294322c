package runner

import (
	"context"
	"testing"

	"runq/internal/dataset"
	"runq/internal/queue"
	"runq/internal/services/engine"
	"runq/internal/testsupport"
)

type stubEngine struct{}

func (stubEngine) Submit(ctx context.Context, req engine.SubmitRequest) (*engine.Result, error) {
	return &engine.Result{Status: engine.StatusCompleted}, nil
}

func (stubEngine) RequestCancel(ctx context.Context) error { return nil }

// Zero-source jobs are rejected at enqueue and dropped by the startup
// repair, so the drain-side guard can only be exercised directly.
func TestProcessJobClassifiesZeroSourceJobFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.MustOpenBlobs(t, cfg)
	resolver, err := dataset.NewResolver(blobs)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	r, err := New(store, blobs, resolver, stubEngine{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report := &Report{}
	job := &queue.Job{ID: "11111111-2222-4333-8444-555555555555", Index: 7, Label: "empty"}
	stopped, err := r.processJob(context.Background(), job, report)
	if err != nil {
		t.Fatalf("processJob: %v", err)
	}
	if stopped {
		t.Fatal("zero-source job must not stop the drain")
	}
	if report.FailedJobs != 1 {
		t.Fatalf("zero-source job should classify failed, got %+v", report)
	}
}
