package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"runq/internal/control"
	"runq/internal/logging"
	"runq/internal/notifications"
	"runq/internal/queue"
	"runq/internal/services/engine"
)

var (
	// ErrAlreadyRunning reports that a drain is active on this Runner; a
	// second concurrent Run is refused rather than interleaved.
	ErrAlreadyRunning = errors.New("runner already running")
	// ErrBusy reports that a queue mutation was refused while a drain holds
	// the queue.
	ErrBusy = errors.New("runner is draining the queue")
)

// Engine submits dataset runs and relays cancellation to the execution
// engine.
type Engine interface {
	Submit(ctx context.Context, req engine.SubmitRequest) (*engine.Result, error)
	RequestCancel(ctx context.Context) error
}

// Resolver converts stored sources into engine datasets.
type Resolver interface {
	Resolve(ctx context.Context, src queue.Source) (engine.Dataset, error)
}

// BlobStore is the slice of blob storage the runner touches: enqueue writes,
// per-job cleanup after dequeue, and the reconciliation sweep at drain start.
type BlobStore interface {
	queue.BlobWriter
	Sweep(ctx context.Context, referenced map[string]struct{}) ([]string, error)
}

// Runner drains the queue front to back: sources in stored order, one engine
// submission in flight at a time, a durable checkpoint after every source.
// Construct one per drain; the single-active-runner rule across processes is
// enforced by the caller, not here.
type Runner struct {
	store    *queue.Store
	blobs    BlobStore
	resolver Resolver
	engine   Engine
	logger   *slog.Logger
	notifier notifications.Service
	bus      control.Bus
	progress ProgressFunc
	session  string

	mu         sync.RWMutex
	state      State
	lastReport *Report

	stop atomic.Bool
}

// Option configures optional Runner behavior.
type Option func(*Runner)

// WithLogger attaches a structured logger. Without it the runner is silent.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithNotifier attaches a notification service for run and job events.
func WithNotifier(svc notifications.Service) Option {
	return func(r *Runner) {
		r.notifier = svc
	}
}

// WithBus attaches a control bus. The runner subscribes during a drain so
// cancel requests from other sessions stop it, and publishes wake messages
// when jobs are enqueued.
func WithBus(bus control.Bus) Option {
	return func(r *Runner) {
		r.bus = bus
	}
}

// WithProgress registers a callback for progress snapshots.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) {
		r.progress = fn
	}
}

// New constructs a Runner over the given stores and engine client.
func New(store *queue.Store, blobs BlobStore, resolver Resolver, eng Engine, opts ...Option) (*Runner, error) {
	if store == nil {
		return nil, errors.New("runner: queue store is required")
	}
	if blobs == nil {
		return nil, errors.New("runner: blob store is required")
	}
	if resolver == nil {
		return nil, errors.New("runner: resolver is required")
	}
	if eng == nil {
		return nil, errors.New("runner: engine client is required")
	}
	r := &Runner{
		store:    store,
		blobs:    blobs,
		resolver: resolver,
		engine:   eng,
		state:    StateIdle,
		session:  control.NewSessionID(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "runner")
	return r, nil
}

// State returns the current runner lifecycle state.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// LastReport returns the report from the most recent drain, or nil if none
// has finished yet.
func (r *Runner) LastReport() *Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastReport == nil {
		return nil
	}
	cp := *r.lastReport
	return &cp
}

// SessionID identifies this runner on the control channel.
func (r *Runner) SessionID() string {
	return r.session
}

// Status couples the runner state with the current queue contents.
type Status struct {
	State State
	Jobs  []*queue.Job
}

// Status reports the runner state alongside the queued jobs in index order.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	jobs, err := r.store.List(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list queue: %w", err)
	}
	return Status{State: r.State(), Jobs: jobs}, nil
}

// Cancel requests cooperative cancellation of the active drain and broadcasts
// the request on the control bus so other sessions observe it too.
func (r *Runner) Cancel(ctx context.Context) {
	r.requestStop(ctx, "local")
	if r.bus == nil {
		return
	}
	msg := control.NewMessage(control.ActionCancel, r.session)
	if err := r.bus.Publish(ctx, msg); err != nil {
		r.logger.Debug("cancel broadcast failed", logging.Error(err))
	}
}

// Enqueue validates and persists a draft at the tail of the queue, then
// publishes a wake so a listening daemon starts draining. Enqueueing is
// allowed while a drain is active; the new job is picked up in index order.
func (r *Runner) Enqueue(ctx context.Context, draft queue.Draft) (*queue.Job, error) {
	job, err := queue.Enqueue(ctx, r.store, r.blobs, draft)
	if err != nil {
		return nil, err
	}
	r.logger.Info("job enqueued",
		logging.String(logging.FieldEventType, "job_enqueued"),
		logging.String(logging.FieldJobID, job.ID),
		logging.Int64(logging.FieldJobIndex, job.Index),
		logging.String("label", job.Label),
		logging.Int(logging.FieldSourceCount, len(job.Sources)),
	)
	if r.bus != nil {
		msg := control.NewMessage(control.ActionWake, r.session)
		if err := r.bus.Publish(ctx, msg); err != nil {
			r.logger.Debug("wake broadcast failed", logging.Error(err))
		}
	}
	return job, nil
}

// Remove deletes the job matching ref (queue index, job ID, or ID prefix)
// and deletes its blobs. Refused while a drain is active.
func (r *Runner) Remove(ctx context.Context, ref string) (*queue.Job, error) {
	if err := r.guardIdle(); err != nil {
		return nil, err
	}
	job, err := r.store.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("no job matches %q", ref)
	}
	removed, err := r.store.Remove(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("remove job: %w", err)
	}
	if !removed {
		return nil, fmt.Errorf("no job matches %q", ref)
	}
	r.deleteJobBlobs(ctx, r.logger, job)
	r.logger.Info("job removed",
		logging.String(logging.FieldEventType, "job_removed"),
		logging.String(logging.FieldJobID, job.ID),
		logging.Int64(logging.FieldJobIndex, job.Index),
	)
	return job, nil
}

// Clear empties the queue and sweeps every blob that is no longer
// referenced. Refused while a drain is active.
func (r *Runner) Clear(ctx context.Context) (int64, error) {
	if err := r.guardIdle(); err != nil {
		return 0, err
	}
	removed, err := r.store.Clear(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	r.sweepBlobs(ctx)
	r.logger.Info("queue cleared",
		logging.String(logging.FieldEventType, "queue_cleared"),
		logging.Int64("removed", removed),
	)
	return removed, nil
}

func (r *Runner) guardIdle() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state == StateRunning {
		return ErrBusy
	}
	return nil
}

// requestStop flips the cooperative stop flag once and nudges the engine so
// an in-flight submission can wind down early.
func (r *Runner) requestStop(ctx context.Context, origin string) {
	if r.stop.Swap(true) {
		return
	}
	r.logger.Info("cancellation requested",
		logging.String(logging.FieldEventType, "cancel_requested"),
		logging.String("origin", origin),
	)
	if err := r.engine.RequestCancel(ctx); err != nil {
		r.logger.Debug("engine cancel request failed", logging.Error(err))
	}
}

func (r *Runner) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return r.stop.Load()
}
