// Package asrpool implements §4.8's SharedASRPool: the process-wide
// singleton that serializes local-model inference so CPU/GPU work
// never runs concurrently with itself, grounded on the reference
// service's pooled-resource pattern in internal/pipeline/httpclient.go
// (bounded capacity, shared executor) generalized from an HTTP
// connection pool to a single-worker inference queue.
package asrpool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicegate/gateway/internal/metrics"
)

// ErrBusy is returned by Submit when the queue is at capacity. Callers
// must translate this into a synthesized "service busy" reply, never a
// hard failure, per §7's Pipeline backpressure disposition.
var ErrBusy = errors.New("asrpool: queue full")

// ErrShuttingDown is returned by Submit after Shutdown has been called,
// and to any task still sitting in the queue when Shutdown drains it.
var ErrShuttingDown = errors.New("asrpool: shutting down")

// Recognizer performs one blocking local-model inference call. Pool
// never calls it concurrently with itself — that is the entire point
// of the shared pool (§4.8's "CPU/GPU inference is not I/O-bound; one
// process-wide worker prevents memory blow-up and GPU contention").
type Recognizer interface {
	Recognize(ctx context.Context, audio []float32, format string) (text string, sourcePath string, err error)
}

// Request is one inference task.
type Request struct {
	Audio     []float32
	SessionID string
	Format    string
}

// Result is Recognize's output.
type Result struct {
	Text       string
	SourcePath string
}

type task struct {
	ctx   context.Context
	req   Request
	reply chan reply
}

type reply struct {
	res Result
	err error
}

// Pool is the bounded-queue, single-worker shared ASR executor. The
// zero value is not usable; construct with New and call Start once
// before the first Submit.
type Pool struct {
	recognizer Recognizer
	logger     *slog.Logger

	queue chan task

	stopped       atomic.Bool
	stopRequested atomic.Bool
	workerDone    chan struct{}

	inferenceMu sync.Mutex
}

// New creates a Pool with the given bounded queue capacity (default
// 100 per §4.8 if capacity <= 0). recognizer's model instance should
// already be loaded (eager preload, per §4.8) before Start is called.
func New(recognizer Recognizer, capacity int, logger *slog.Logger) *Pool {
	if capacity <= 0 {
		capacity = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		recognizer: recognizer,
		logger:     logger,
		queue:      make(chan task, capacity),
		workerDone: make(chan struct{}),
	}
}

// Start launches the single worker goroutine. Must be called exactly
// once.
func (p *Pool) Start() {
	go p.worker()
}

// Submit enqueues one inference task and blocks until it completes, ctx
// is cancelled, or the pool is shutting down. A full queue returns
// ErrBusy immediately without blocking, per §8 invariant 7.
func (p *Pool) Submit(ctx context.Context, req Request) (Result, error) {
	if p.stopped.Load() {
		return Result{}, ErrShuttingDown
	}

	t := task{ctx: ctx, req: req, reply: make(chan reply, 1)}

	select {
	case p.queue <- t:
		metrics.ASRPoolQueueDepth.Set(float64(p.QueueDepth()))
	default:
		metrics.Errors.WithLabelValues("asrpool", "busy").Inc()
		return Result{}, ErrBusy
	}

	select {
	case r := <-t.reply:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// QueueDepth reports the number of tasks currently buffered, for
// diagnostics/metrics.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

func (p *Pool) worker() {
	defer close(p.workerDone)
	for t := range p.queue {
		metrics.ASRPoolQueueDepth.Set(float64(p.QueueDepth()))
		if p.stopRequested.Load() {
			t.reply <- reply{err: ErrShuttingDown}
			continue
		}
		p.runTask(t)
	}
}

func (p *Pool) runTask(t task) {
	p.inferenceMu.Lock()
	defer p.inferenceMu.Unlock()

	start := time.Now()
	text, src, err := p.recognizer.Recognize(t.ctx, t.req.Audio, t.req.Format)
	metrics.StageDuration.WithLabelValues("asr_pool").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Errors.WithLabelValues("asrpool", "recognize").Inc()
	}
	t.reply <- reply{res: Result{Text: text, SourcePath: src}, err: err}
}

// Shutdown stops accepting new tasks, lets whichever task the worker is
// currently running finish (bounded by drainTimeout), cancels every
// task still sitting in the queue with ErrShuttingDown, and closes the
// recognizer if it implements io.Closer, per §4.8.
func (p *Pool) Shutdown(drainTimeout time.Duration) {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	p.stopRequested.Store(true)
	close(p.queue)

	select {
	case <-p.workerDone:
	case <-time.After(drainTimeout):
		p.logger.Warn("asrpool: shutdown drain timed out")
	}

	if closer, ok := p.recognizer.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error("asrpool: recognizer close failed", "error", err)
		}
	}
}
