package detection

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mindmesh/sentinel/internal/models"
)

// Pool defaults. The queue is deliberately small; when the platform produces
// messages faster than analysis drains them, callers get an immediate
// ErrAnalysisQueueFull instead of unbounded buffering.
const (
	DefaultPoolWorkers   = 4
	DefaultPoolQueueSize = 256
)

// ResultFunc receives the outcome of an asynchronous analysis. It is called
// with a nil result when the message scored below the detection threshold.
type ResultFunc func(ctx context.Context, result *models.CrisisDetectionResult)

// poolJob is one queued analysis.
type poolJob struct {
	req      models.AnalyzeRequest
	onResult ResultFunc
}

// Pool runs message analyses on a fixed set of workers behind a bounded
// queue, so a burst of inbound messages cannot stall the message path.
type Pool struct {
	detector *Detector
	jobs     chan poolJob
	workers  int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// PoolOpts holds configuration options for the Pool.
type PoolOpts struct {
	Workers   int
	QueueSize int
}

// PoolOption defines a configuration option for the Pool.
type PoolOption func(*PoolOpts)

// WithPoolWorkers sets the number of analysis workers.
func WithPoolWorkers(n int) PoolOption {
	return func(o *PoolOpts) { o.Workers = n }
}

// WithPoolQueueSize sets the bounded queue capacity.
func WithPoolQueueSize(n int) PoolOption {
	return func(o *PoolOpts) { o.QueueSize = n }
}

// NewPool creates a Pool over the given detector.
func NewPool(detector *Detector, opts ...PoolOption) *Pool {
	cfg := PoolOpts{
		Workers:   DefaultPoolWorkers,
		QueueSize: DefaultPoolQueueSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	return &Pool{
		detector: detector,
		jobs:     make(chan poolJob, cfg.QueueSize),
		workers:  cfg.Workers,
	}
}

// Start launches the worker goroutines. The workers run until Stop is called
// or the given context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil || p.stopped {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	slog.Info("Pool started", "workers", p.workers, "queueSize", cap(p.jobs))
}

// Submit queues a message for analysis. It never blocks: when the queue is
// full it returns ErrAnalysisQueueFull and the caller decides whether to
// analyze inline or drop.
func (p *Pool) Submit(req models.AnalyzeRequest, onResult ResultFunc) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return models.ErrPoolStopped
	}
	select {
	case p.jobs <- poolJob{req: req, onResult: onResult}:
		return nil
	default:
		slog.Warn("Pool.Submit queue full, rejecting", "messageID", req.MessageID)
		return models.ErrAnalysisQueueFull
	}
}

// Stop cancels the workers and waits for in-flight analyses to finish.
// Queued jobs that have not started are discarded.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	slog.Debug("Pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			result, err := p.detector.Analyze(ctx, job.req)
			if err != nil {
				// Validation errors only; analysis failures are absorbed by the detector.
				slog.Error("Pool worker analyze failed", "worker", id, "error", err, "messageID", job.req.MessageID)
				continue
			}
			if job.onResult != nil {
				job.onResult(ctx, result)
			}
		}
	}
}
