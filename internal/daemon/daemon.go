package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"blueline/internal/broker"
	"blueline/internal/compare"
	"blueline/internal/config"
	"blueline/internal/deadletter"
	"blueline/internal/diff"
	"blueline/internal/extraction"
	"blueline/internal/logging"
	"blueline/internal/ocr"
	"blueline/internal/orchestrator"
	"blueline/internal/stage"
	"blueline/internal/store"
	"blueline/internal/summarize"
)

// workTopics lists the stage queues in pipeline order.
var workTopics = []string{broker.TopicOCR, broker.TopicDiff, broker.TopicSummary}

// Daemon owns the comparison pipeline: the store, the in-memory broker, the
// orchestrator, and one worker pool per stage plus the dead-letter routers.
// It enforces single-instance execution through a file lock.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	broker broker.Broker
	orch   *orchestrator.Orchestrator
	pools  []*stage.Pool
	// stagePools is the subset of pools that report stage health; the
	// dead-letter routers share one handler and add no signal.
	stagePools []*stage.Pool
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with all pipeline services wired. The extractor is
// injectable so tests can run the pipeline against a stub service.
func New(cfg *config.Config, st *store.Store, ex extraction.Extractor, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || ex == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, extractor, and logger")
	}

	mb := broker.NewMemory(cfg)
	orch := orchestrator.New(st, mb, logger)

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		broker:   mb,
		orch:     orch,
		lockPath: filepath.Join(cfg.Paths.LogDir, "bluelined.lock"),
	}
	d.lock = flock.New(d.lockPath)

	stagePools := []struct {
		name    string
		topic   string
		handler stage.Handler
		workers int
	}{
		{compare.StageOCR, broker.TopicOCR, ocr.NewWorker(st, mb, ex, orch.HandleEvent, cfg, logger), cfg.Workflow.OCRWorkers},
		{compare.StageDiff, broker.TopicDiff, diff.NewWorker(st, mb, orch.HandleEvent, logger), cfg.Workflow.DiffWorkers},
		{compare.StageSummary, broker.TopicSummary, summarize.NewWorker(st, orch.HandleEvent, logger), cfg.Workflow.SummaryWorkers},
	}
	for _, sp := range stagePools {
		pool, err := stage.NewPool(stage.PoolConfig{
			Name:        sp.name,
			Topic:       sp.topic,
			Handler:     sp.handler,
			Broker:      mb,
			Workers:     sp.workers,
			MaxAttempts: cfg.Broker.MaxAttempts,
			CancelCheck: st.CancelRequested,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build %s pool: %w", sp.name, err)
		}
		d.pools = append(d.pools, pool)
		d.stagePools = append(d.stagePools, pool)
	}

	router := deadletter.NewRouter(st, orch.HandleEvent, logger)
	for _, topic := range workTopics {
		pool, err := stage.NewPool(stage.PoolConfig{
			Name:        "dead-letter",
			Topic:       broker.DeadLetterTopic(topic),
			Handler:     router,
			Broker:      mb,
			MaxAttempts: cfg.Broker.MaxAttempts,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build dead-letter pool: %w", err)
		}
		d.pools = append(d.pools, pool)
	}

	d.api = newAPIServer(cfg.Paths.APIBind, d, logging.NewComponentLogger(logger, "api"))
	return d, nil
}

// Start acquires the daemon lock, launches the worker pools and API server,
// and resumes interrupted jobs when configured to.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another blueline daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	for _, pool := range d.pools {
		pool.Start(runCtx)
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("blueline daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.addr()))

	if d.cfg.Workflow.ResumeOnStart {
		if err := d.orch.Resume(runCtx); err != nil {
			d.logger.Error("resume interrupted jobs", logging.Error(err))
		}
	}
	return nil
}

// Stop halts the API server and worker pools and releases the daemon lock.
// In-flight deliveries finish before the broker shuts down.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	for _, pool := range d.pools {
		pool.Wait()
	}
	if err := d.broker.Close(); err != nil {
		d.logger.Warn("close broker", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("blueline daemon stopped")
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// APIAddr reports the bound API address, useful when the configured bind
// uses an ephemeral port.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Submit registers both drawing versions and creates a comparison job.
func (d *Daemon) Submit(ctx context.Context, oldVersion, newVersion *compare.DrawingVersion) (string, error) {
	return d.orch.Submit(ctx, oldVersion, newVersion)
}

// Cancel requests cooperative cancellation of a job.
func (d *Daemon) Cancel(ctx context.Context, jobID string) (bool, error) {
	return d.orch.Cancel(ctx, jobID)
}

// ListJobs returns jobs filtered by optional statuses.
func (d *Daemon) ListJobs(ctx context.Context, statuses ...compare.JobStatus) ([]*compare.Job, error) {
	return d.store.ListJobs(ctx, statuses...)
}

// GetJob returns one job, or nil when absent.
func (d *Daemon) GetJob(ctx context.Context, id string) (*compare.Job, error) {
	return d.store.GetJob(ctx, id)
}

// ListChanges returns a job's detected changes in presentation order.
func (d *Daemon) ListChanges(ctx context.Context, jobID string) ([]compare.ChangeRecord, error) {
	return d.store.ListChanges(ctx, jobID)
}

// GetLog returns the extraction log for a drawing version, or nil when absent.
func (d *Daemon) GetLog(ctx context.Context, versionID string) (*compare.OcrLog, error) {
	return d.store.GetLog(ctx, versionID)
}

// ListDeadLetters returns parked messages, most recent first.
func (d *Daemon) ListDeadLetters(ctx context.Context) ([]compare.DeadLetterRecord, error) {
	return d.store.ListDeadLetters(ctx)
}

// GetDeadLetter returns one parked message, or nil when absent.
func (d *Daemon) GetDeadLetter(ctx context.Context, id int64) (*compare.DeadLetterRecord, error) {
	return d.store.GetDeadLetter(ctx, id)
}

// RetryDeadLetter replays a parked message through its stage queue.
func (d *Daemon) RetryDeadLetter(ctx context.Context, id int64) error {
	return d.orch.RetryDeadLetter(ctx, id)
}

// Status reports daemon runtime information: job counts per status, queue
// depths per topic, and per-stage handler readiness.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	status := Status{
		Running:     d.running.Load(),
		JobStats:    make(map[string]int, len(stats)),
		QueueDepths: make(map[string]int, len(workTopics)*2),
	}
	for jobStatus, count := range stats {
		status.JobStats[string(jobStatus)] = count
	}
	for _, topic := range workTopics {
		status.QueueDepths[topic] = d.broker.Depth(topic)
		dlq := broker.DeadLetterTopic(topic)
		status.QueueDepths[dlq] = d.broker.Depth(dlq)
	}
	for _, pool := range d.stagePools {
		status.StageHealth = append(status.StageHealth, pool.Health(ctx))
	}
	return status, nil
}

// Status represents daemon runtime information.
type Status struct {
	Running     bool
	JobStats    map[string]int
	QueueDepths map[string]int
	StageHealth []stage.Health
}
