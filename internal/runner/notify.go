package runner

import (
	"context"
	"errors"
	"log/slog"

	"runq/internal/logging"
	"runq/internal/queue"
)

func (r *Runner) notifyRunStarted(ctx context.Context, pending int) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.NotifyRunStarted(ctx, pending); err != nil {
		if errors.Is(err, context.Canceled) {
			r.logger.Debug("shutdown interrupted run start notification")
		} else {
			r.logger.Debug("run start notification failed", logging.Error(err))
		}
	}
}

func (r *Runner) notifyJobFinished(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.NotifyJobFinished(ctx, job.Label, job.SuccessCount, job.FailureCount); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutdown interrupted job notification")
		} else {
			logger.Debug("job notification failed", logging.Error(err))
		}
	}
}

func (r *Runner) notifyRunSummary(ctx context.Context, report *Report) {
	if r.notifier == nil {
		return
	}
	err := r.notifier.NotifyRunSummary(ctx, report.CompletedJobs, report.PartialJobs, report.FailedJobs, report.Elapsed)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			r.logger.Debug("shutdown interrupted run summary notification")
		} else {
			r.logger.Debug("run summary notification failed", logging.Error(err))
		}
	}
}

func (r *Runner) notifyError(ctx context.Context, cause error, contextLabel string) {
	if r.notifier == nil || cause == nil {
		return
	}
	if err := r.notifier.NotifyError(ctx, cause, contextLabel); err != nil {
		if errors.Is(err, context.Canceled) {
			r.logger.Debug("shutdown interrupted error notification")
		} else {
			r.logger.Debug("error notification failed", logging.Error(err))
		}
	}
}
