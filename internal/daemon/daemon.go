package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"runq/internal/blobstore"
	"runq/internal/config"
	"runq/internal/control"
	"runq/internal/dataset"
	"runq/internal/logging"
	"runq/internal/notifications"
	"runq/internal/queue"
	"runq/internal/runner"
	"runq/internal/services/engine"
)

// Daemon owns the queue for its lifetime: it holds the runner lock, hosts
// the control socket, and drains the queue whenever a wake broadcast or the
// poll interval says work may be waiting.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	blobs    *blobstore.Store
	resolver *dataset.Resolver
	engine   *engine.Client
	notifier notifications.Service
	bus      *control.MemoryBus
	hub      *control.Hub

	lockPath string
	lock     *flock.Flock

	running  atomic.Bool
	draining atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu         sync.Mutex
	lastReport *runner.Report
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, blobs *blobstore.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || blobs == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, blob store, and logger")
	}

	resolver, err := dataset.NewResolver(blobs)
	if err != nil {
		return nil, fmt.Errorf("build resolver: %w", err)
	}
	client, err := engine.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build engine client: %w", err)
	}

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		blobs:    blobs,
		resolver: resolver,
		engine:   client,
		notifier: notifications.NewService(cfg),
		bus:      control.NewMemoryBus(),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the runner lock, hosts the control socket, and launches the
// drain loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire runner lock: %w", err)
	}
	if !ok {
		return errors.New("another runq runner instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	hub, err := control.NewHub(d.ctx, d.cfg.ControlSocketPath(), d.bus, d.logger)
	if err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("host control socket: %w", err)
	}
	d.hub = hub
	d.hub.Serve()

	d.wg.Add(1)
	go d.loop()

	d.running.Store(true)
	d.logger.Info("runq daemon started",
		logging.String("lock", d.lockPath),
		logging.String("control_socket", d.hub.Path()),
		logging.Bool("drain_on_start", d.cfg.Runner.DrainOnStart),
	)
	return nil
}

// Stop halts the drain loop, closes the control socket, and releases the
// runner lock. The daemon can be started again afterwards.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if d.hub != nil {
		d.hub.Close()
		d.hub = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release runner lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("runq daemon stopped")
}

// Close stops the daemon and releases the resources it owns, including the
// queue store handed to New.
func (d *Daemon) Close() error {
	d.Stop()
	_ = d.bus.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the daemon has been started and not yet stopped.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Draining reports whether a drain is currently in flight.
func (d *Daemon) Draining() bool {
	return d.draining.Load()
}

// LastReport returns the report from the most recent drain that reached at
// least one job, or nil.
func (d *Daemon) LastReport() *runner.Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastReport
}

// loop waits for a wake broadcast or the poll interval, then drains. Wake
// messages that arrive mid-drain buffer on the subscription, so a job
// enqueued just as a drain winds down is picked up immediately rather than
// waiting a full poll cycle.
func (d *Daemon) loop() {
	defer d.wg.Done()

	sub, err := d.bus.Subscribe(d.ctx)
	if err != nil {
		d.logger.Error("subscribe to control bus", logging.Error(err))
		return
	}
	defer sub.Cancel()

	if d.cfg.Runner.DrainOnStart {
		d.drain()
	}

	poll := time.Duration(d.cfg.Runner.PollIntervalSeconds) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}
	for {
		select {
		case <-d.ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if msg.Action != control.ActionWake {
				continue
			}
		case <-time.After(poll):
		}
		d.drain()
	}
}

// drain runs one full queue drain. Each drain gets a fresh runner so a
// failure never poisons the next cycle.
func (d *Daemon) drain() {
	d.draining.Store(true)
	defer d.draining.Store(false)

	r, err := runner.New(d.store, d.blobs, d.resolver, d.engine,
		runner.WithLogger(d.logger),
		runner.WithNotifier(d.notifier),
		runner.WithBus(d.bus),
	)
	if err != nil {
		d.logger.Error("construct runner", logging.Error(err))
		return
	}

	report, err := r.Run(d.ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logging.ErrorWithContext(d.logger, "queue drain failed", "drain_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database and engine connectivity"),
		)
		return
	}
	if report.Jobs() > 0 {
		d.mu.Lock()
		d.lastReport = report
		d.mu.Unlock()
	}
}
