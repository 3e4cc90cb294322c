package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"runq/internal/control"
	"runq/internal/logging"
	"runq/internal/queue"
	"runq/internal/services"
	"runq/internal/services/engine"
)

// Run drains the queue until it is empty or cancellation is observed. Every
// source outcome is checkpointed durably before the next source starts, so a
// crash or cancellation resumes from the last completed source. The returned
// report aggregates the drain even when an error cut it short.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if err := r.begin(); err != nil {
		return nil, err
	}
	started := time.Now()
	report := &Report{}
	defer r.finishRun(report, started)

	if r.bus != nil {
		sub, err := r.bus.Subscribe(ctx)
		if err != nil {
			logging.WarnWithContext(r.logger, "control subscription failed", "control_subscribe_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "cancel requests from other sessions will not stop this drain"),
				logging.String(logging.FieldErrorHint, "restart the daemon to restore the control channel"),
			)
		} else {
			defer sub.Cancel()
			go r.watchControl(ctx, sub.C)
		}
	}

	r.sweepBlobs(ctx)

	pending, err := r.store.List(ctx)
	if err != nil {
		return report, fmt.Errorf("inspect queue: %w", err)
	}
	if len(pending) > 0 {
		r.notifyRunStarted(ctx, len(pending))
	}

	for {
		if r.stopRequested(ctx) {
			report.Cancelled = true
			break
		}
		job, err := r.store.Front(ctx)
		if err != nil {
			r.notifyError(ctx, err, "queue drain")
			return report, fmt.Errorf("load front job: %w", err)
		}
		if job == nil {
			break
		}
		stopped, err := r.processJob(ctx, job, report)
		if err != nil {
			r.notifyError(ctx, err, "queue drain")
			return report, err
		}
		if stopped {
			report.Cancelled = true
			break
		}
	}

	report.Elapsed = time.Since(started)
	if report.Jobs() == 0 && !report.Cancelled {
		r.logger.Debug("queue empty; nothing to drain")
		return report, nil
	}

	r.logger.Info("drain finished",
		logging.String(logging.FieldEventType, "run_finished"),
		logging.Int("completed", report.CompletedJobs),
		logging.Int("partial", report.PartialJobs),
		logging.Int("failed", report.FailedJobs),
		logging.Int("sources_succeeded", report.SourcesSucceeded),
		logging.Int("sources_failed", report.SourcesFailed),
		logging.Bool("cancelled", report.Cancelled),
		logging.Duration("elapsed", report.Elapsed),
	)
	r.notifyRunSummary(ctx, report)
	return report, nil
}

func (r *Runner) begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning {
		return ErrAlreadyRunning
	}
	r.state = StateRunning
	// A fresh drain starts clean; stale cancel requests from a previous
	// drain do not carry over.
	r.stop.Store(false)
	return nil
}

func (r *Runner) finishRun(report *Report, started time.Time) {
	if report.Elapsed == 0 {
		report.Elapsed = time.Since(started)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if report.Cancelled {
		r.state = StateCancelled
	} else {
		r.state = StateIdle
	}
	cp := *report
	r.lastReport = &cp
}

// watchControl relays cancel messages from the control bus into the stop
// flag. It exits when the subscription is cancelled at the end of the drain.
func (r *Runner) watchControl(ctx context.Context, messages <-chan control.Message) {
	for msg := range messages {
		if msg.Action != control.ActionCancel {
			continue
		}
		r.requestStop(ctx, "control")
	}
}

// processJob drives one job from its checkpoint to a terminal class. It
// reports stopped=true when cancellation interrupted the job, leaving it in
// the store at its current cursor. A non-nil error means the store refused a
// mutation the drain cannot proceed without.
func (r *Runner) processJob(ctx context.Context, job *queue.Job, report *Report) (bool, error) {
	job = job.Clone()
	jobCtx := services.WithJobID(ctx, job.ID)
	jobCtx = services.WithJobIndex(jobCtx, job.Index)
	logger := logging.WithContext(jobCtx, r.logger)

	total := len(job.Sources)
	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("label", job.Label),
		logging.String(logging.FieldMode, string(job.Mode)),
		logging.Int(logging.FieldSourceCount, total),
		logging.Int("resume_cursor", job.SourceCursor),
	)
	r.publishProgress(jobSnapshot(job, JobActive))

	if total == 0 {
		// A job with no sources can never succeed and must not block the
		// queue behind it.
		logging.WarnWithContext(logger, "job has no sources", "job_empty",
			logging.String(logging.FieldImpact, "job is classified failed and removed"),
			logging.String(logging.FieldErrorHint, "re-enqueue the job with at least one data source"),
		)
		return false, r.finishJob(jobCtx, logger, job, report)
	}

	for idx := job.SourceCursor; idx < total; idx++ {
		if r.stopRequested(ctx) {
			r.skipJob(logger, job, idx)
			return true, nil
		}
		srcCtx := services.WithSourceIndex(jobCtx, idx)
		srcLogger := logging.WithContext(srcCtx, r.logger)
		src := job.Sources[idx]

		outcome := r.processSource(srcCtx, srcLogger, job, idx)
		switch outcome {
		case outcomeSuccess:
			job.SuccessCount++
			report.SourcesSucceeded++
		case outcomeFailure:
			job.FailureCount++
			report.SourcesFailed++
		case outcomeStopped:
			// The interrupted source keeps its slot; the cursor stays put so
			// a later drain resubmits it.
			r.skipJob(logger, job, idx)
			return true, nil
		}
		job.SourceCursor = idx + 1
		r.checkpoint(srcCtx, srcLogger, job)

		snap := jobSnapshot(job, JobActive)
		snap.SourceName = src.Display()
		r.publishProgress(snap)
	}

	return false, r.finishJob(jobCtx, logger, job, report)
}

type sourceOutcome int

const (
	outcomeSuccess sourceOutcome = iota
	outcomeFailure
	outcomeStopped
)

// processSource resolves one source and submits it to the engine. All
// per-source errors are absorbed into an outcome; nothing escapes except
// cancellation.
func (r *Runner) processSource(ctx context.Context, logger *slog.Logger, job *queue.Job, idx int) sourceOutcome {
	src := job.Sources[idx]
	logger.Info("source started",
		logging.String(logging.FieldEventType, "source_start"),
		logging.String("source", src.Display()),
		logging.String("source_type", string(src.Type)),
	)

	ds, err := r.resolver.Resolve(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeStopped
		}
		logging.WarnWithContext(logger, "source resolution failed", "source_resolve_failed",
			logging.Error(err),
			logging.String("source", src.Display()),
			logging.String(logging.FieldImpact, "source counts as failed; engine was not invoked"),
			logging.String(logging.FieldErrorHint, "verify the path exists or re-upload the dataset"),
		)
		return outcomeFailure
	}

	started := time.Now()
	result, err := r.engine.Submit(ctx, engine.SubmitRequest{
		Mode:     string(job.Mode),
		Strategy: job.Strategy,
		Config:   job.Config,
		Dataset:  ds,
	})
	elapsed := time.Since(started)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrCancelled):
			// Engine-side cancellation stops the drain exactly like an
			// operator request.
			r.stop.Store(true)
			logger.Info("engine reported cancellation",
				logging.String(logging.FieldEventType, "engine_cancelled"),
				logging.Duration("elapsed", elapsed),
			)
			return outcomeStopped
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			return outcomeStopped
		default:
			logging.WarnWithContext(logger, "engine run failed", "engine_run_failed",
				logging.Error(err),
				logging.String("source", src.Display()),
				logging.Duration("elapsed", elapsed),
				logging.String(logging.FieldImpact, "source counts as failed; the job continues"),
				logging.String(logging.FieldErrorHint, "check engine health and logs"),
			)
			return outcomeFailure
		}
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "source_completed"),
		logging.String("source", src.Display()),
		logging.Duration("elapsed", elapsed),
	}
	if result != nil && result.Summary != "" {
		attrs = append(attrs, logging.String("summary", result.Summary))
	}
	logger.Info("source completed", logging.Args(attrs...)...)
	return outcomeSuccess
}

// checkpoint persists the job's absolute progress counters. Failed writes are
// logged and the drain continues; the next successful checkpoint supersedes
// the missed one, so the only exposure is replayed sources after a crash.
func (r *Runner) checkpoint(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	err := r.store.Checkpoint(ctx, job.ID, job.SourceCursor, job.SuccessCount, job.FailureCount)
	if err == nil {
		return
	}
	logging.ErrorWithContext(logger, "checkpoint write failed", "checkpoint_write_failed",
		logging.Error(err),
		logging.Alert("checkpoint_write_failed"),
		logging.Int("cursor", job.SourceCursor),
		logging.String(logging.FieldErrorHint, "check queue database disk space and permissions"),
	)
}

// skipJob records the cancellation interruption without mutating the store;
// the job stays queued at its checkpointed cursor for the next drain.
func (r *Runner) skipJob(logger *slog.Logger, job *queue.Job, idx int) {
	logger.Info("job interrupted; remaining sources stay queued",
		logging.String(logging.FieldEventType, "job_skipped"),
		logging.Int(logging.FieldSourceIndex, idx),
		logging.Int("remaining", len(job.Sources)-idx),
	)
	r.publishProgress(jobSnapshot(job, JobSkipped))
}

// finishJob classifies a fully traversed job, dequeues it, and releases its
// blobs. A dequeue failure aborts the drain; retrying would resubmit sources
// the classification already consumed.
func (r *Runner) finishJob(ctx context.Context, logger *slog.Logger, job *queue.Job, report *Report) error {
	class := Classify(job.SuccessCount, len(job.Sources))
	switch class {
	case JobCompleted:
		report.CompletedJobs++
	case JobPartialSuccess:
		report.PartialJobs++
	default:
		report.FailedJobs++
	}

	logger.Info("job finished",
		logging.String(logging.FieldEventType, "job_finished"),
		logging.String("class", string(class)),
		logging.String("label", job.Label),
		logging.Int("succeeded", job.SuccessCount),
		logging.Int("failed", job.FailureCount),
	)

	removed, err := r.store.Remove(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("dequeue job %s: %w", job.ID, err)
	}
	if !removed {
		logging.WarnWithContext(logger, "finished job was already gone", "job_vanished",
			logging.String(logging.FieldImpact, "job outcome is still counted; blobs may already be swept"),
			logging.String(logging.FieldErrorHint, "another session may have removed the job"),
		)
	}
	r.deleteJobBlobs(ctx, logger, job)
	r.notifyJobFinished(ctx, logger, job)
	r.publishProgress(jobSnapshot(job, class))
	return nil
}

// deleteJobBlobs removes the job's uploaded payloads, keeping any key that a
// remaining job still references. Failures are left for the next
// reconciliation sweep.
func (r *Runner) deleteJobBlobs(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	keys := job.BlobKeys()
	if len(keys) == 0 {
		return
	}
	referenced, err := r.store.ReferencedBlobKeys(ctx)
	if err != nil {
		logger.Debug("blob cleanup deferred; queue references unavailable", logging.Error(err))
		return
	}
	for _, key := range keys {
		if _, ok := referenced[key]; ok {
			continue
		}
		if err := r.blobs.Delete(ctx, key); err != nil {
			logger.Debug("blob delete failed; sweep will retry",
				logging.String("blob_key", key),
				logging.Error(err),
			)
		}
	}
}

// sweepBlobs reconciles blob storage against the queue, deleting partial
// files and payloads no job references. Runs at every drain start so crashes
// between dequeue and blob deletion cannot leak storage.
func (r *Runner) sweepBlobs(ctx context.Context) {
	referenced, err := r.store.ReferencedBlobKeys(ctx)
	if err != nil {
		logging.WarnWithContext(r.logger, "blob sweep skipped", "blob_sweep_skipped",
			logging.Error(err),
			logging.String(logging.FieldImpact, "orphaned blobs stay on disk until the next drain"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		return
	}
	removed, err := r.blobs.Sweep(ctx, referenced)
	if err != nil {
		logging.WarnWithContext(r.logger, "blob sweep incomplete", "blob_sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "orphaned blobs stay on disk until the next drain"),
			logging.String(logging.FieldErrorHint, "check blob directory permissions"),
		)
		return
	}
	if len(removed) > 0 {
		r.logger.Info("swept orphaned blobs",
			logging.String(logging.FieldEventType, "blob_sweep"),
			logging.Int("count", len(removed)),
		)
	}
}

func (r *Runner) publishProgress(snap Snapshot) {
	if r.progress == nil {
		return
	}
	snap.At = time.Now()
	r.progress(snap)
}

func jobSnapshot(job *queue.Job, state JobState) Snapshot {
	return Snapshot{
		JobID:        job.ID,
		JobIndex:     job.Index,
		Label:        job.Label,
		State:        state,
		SourceCursor: job.SourceCursor,
		SourceCount:  len(job.Sources),
		SuccessCount: job.SuccessCount,
		FailureCount: job.FailureCount,
	}
}
