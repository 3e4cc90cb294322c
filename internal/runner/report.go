package runner

import (
	"fmt"
	"time"
)

// State is the runner lifecycle: Idle before and after a drain, Running while
// one is active, Cancelled after a drain stopped on a cancel request.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCancelled State = "cancelled"
)

// JobState tracks a job through a drain: Pending until the runner picks it
// up, Active while its sources are processing, then one of the terminal
// classes.
type JobState string

const (
	JobPending        JobState = "pending"
	JobActive         JobState = "active"
	JobCompleted      JobState = "completed"
	JobPartialSuccess JobState = "partial_success"
	JobFailed         JobState = "failed"
	JobSkipped        JobState = "skipped"
)

// Display returns the operator-facing name for the state.
func (s JobState) Display() string {
	switch s {
	case JobPending:
		return "Pending"
	case JobActive:
		return "Running"
	case JobCompleted:
		return "Completed"
	case JobPartialSuccess:
		return "Partial success"
	case JobFailed:
		return "Failed"
	case JobSkipped:
		return "Skipped"
	default:
		return string(s)
	}
}

// Classify maps final source counters to a terminal job state: every source
// succeeded yields JobCompleted, none JobFailed, anything between
// JobPartialSuccess. A job with no sources classifies as JobFailed.
func Classify(succeeded, total int) JobState {
	switch {
	case total > 0 && succeeded == total:
		return JobCompleted
	case succeeded > 0:
		return JobPartialSuccess
	default:
		return JobFailed
	}
}

// Snapshot is one externally observable progress update, published when a job
// becomes active, after every checkpoint, and when a job reaches a terminal
// state.
type Snapshot struct {
	JobID        string
	JobIndex     int64
	Label        string
	State        JobState
	SourceCursor int
	SourceCount  int
	SuccessCount int
	FailureCount int
	SourceName   string
	At           time.Time
}

// ProgressFunc receives progress snapshots. Callbacks run on the drain
// goroutine, so they must return quickly.
type ProgressFunc func(Snapshot)

// Report aggregates the outcome of one drain.
type Report struct {
	CompletedJobs    int
	PartialJobs      int
	FailedJobs       int
	SourcesSucceeded int
	SourcesFailed    int
	Cancelled        bool
	Elapsed          time.Duration
}

// Jobs returns how many jobs reached a terminal class during the drain.
func (r Report) Jobs() int {
	return r.CompletedJobs + r.PartialJobs + r.FailedJobs
}

// Summary renders the one-line aggregate shown after a drain.
func (r Report) Summary() string {
	elapsed := r.Elapsed.Round(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if r.Jobs() == 0 {
		if r.Cancelled {
			return "run cancelled before any job finished"
		}
		return "queue empty, nothing to run"
	}
	noun := "jobs"
	if r.Jobs() == 1 {
		noun = "job"
	}
	summary := fmt.Sprintf("%d %s in %s: %d completed, %d partial, %d failed",
		r.Jobs(), noun, elapsed, r.CompletedJobs, r.PartialJobs, r.FailedJobs)
	if r.Cancelled {
		summary += " (cancelled)"
	}
	return summary
}
