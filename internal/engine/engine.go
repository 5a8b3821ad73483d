package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	errs "bskycrawler/pkg/errors"
	"bskycrawler/pkg/logger"
	"bskycrawler/pkg/ratelimit"
	"bskycrawler/pkg/retry"
)

// Request is a fetch descriptor. Requests with the same key are fetched at most once per run.
type Request struct {
	URL       string
	Label     string
	UniqueKey string
	Headers   map[string]string
}

// Key returns UniqueKey, or the URL when no key was set
func (r Request) Key() string {
	if r.UniqueKey != "" {
		return r.UniqueKey
	}
	return r.URL
}

// Response is a successfully fetched request
type Response struct {
	Request    Request
	StatusCode int
	Body       []byte
	Attempts   int
}

// Handler is invoked once per successful fetch, possibly from several workers at once
type Handler func(ctx context.Context, resp *Response) error

// FailureHandler is invoked once per request that could not be fetched or handled
type FailureHandler func(req Request, err error)

// Options configures an Engine
type Options struct {
	// Concurrency is the number of workers
	Concurrency int
	// MaxRequests caps accepted requests for the run. 0 means unbounded.
	MaxRequests int
	// Limiter is waited on before every fetch attempt
	Limiter ratelimit.Limiter
	// Retry is the template for per-request retries. Context and OnRetry are set per request.
	Retry *retry.Config
}

// Stats summarizes a run
type Stats struct {
	Submitted  int64
	Succeeded  int64
	Failed     int64
	Duplicates int64
	Rejected   int64
	Retries    int64
	InFlight   int64
	Queued     int64
	Duration   time.Duration
}

// ErrAlreadyRun is returned when Run is called twice on one Engine
var ErrAlreadyRun = errors.New("engine: already run")

// Engine executes requests on a bounded worker pool until the queue is empty and nothing is in flight
type Engine struct {
	fetcher Fetcher
	opts    Options
	logger  logger.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Request
	seen     map[string]struct{}
	pending  int
	accepted int
	draining bool
	started  bool

	submitted  atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	duplicates atomic.Int64
	rejected   atomic.Int64
	retries    atomic.Int64
	inFlight   atomic.Int64
	startedAt  time.Time
}

// New creates an engine around fetcher
func New(fetcher Fetcher, opts Options, log logger.Logger) *Engine {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.Retry == nil {
		opts.Retry = &retry.Config{MaxAttempts: 1}
	}

	e := &Engine{
		fetcher: fetcher,
		opts:    opts,
		logger:  log.WithField("component", "engine"),
		seen:    make(map[string]struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Submit queues req. It returns false when req was already seen, the request budget
// is spent, or the engine is draining. It never blocks.
func (e *Engine) Submit(req Request) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.draining {
		e.rejected.Add(1)
		return false
	}

	key := req.Key()
	if _, dup := e.seen[key]; dup {
		e.duplicates.Add(1)
		return false
	}

	if e.opts.MaxRequests > 0 && e.accepted >= e.opts.MaxRequests {
		e.rejected.Add(1)
		e.logger.DebugWithFields("request budget reached", map[string]interface{}{
			"url":    req.URL,
			"budget": e.opts.MaxRequests,
		})
		return false
	}

	e.seen[key] = struct{}{}
	e.accepted++
	e.pending++
	e.queue = append(e.queue, req)
	e.submitted.Add(1)
	e.cond.Signal()

	return true
}

// Remaining returns how many more requests the budget allows, or -1 when unbounded
func (e *Engine) Remaining() int {
	if e.opts.MaxRequests <= 0 {
		return -1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.MaxRequests - e.accepted
}

// Snapshot returns the current counters
func (e *Engine) Snapshot() Stats {
	e.mu.Lock()
	queued := int64(len(e.queue))
	startedAt := e.startedAt
	e.mu.Unlock()

	s := Stats{
		Submitted:  e.submitted.Load(),
		Succeeded:  e.succeeded.Load(),
		Failed:     e.failed.Load(),
		Duplicates: e.duplicates.Load(),
		Rejected:   e.rejected.Load(),
		Retries:    e.retries.Load(),
		InFlight:   e.inFlight.Load(),
		Queued:     queued,
	}
	if !startedAt.IsZero() {
		s.Duration = time.Since(startedAt)
	}
	return s
}

// Run seeds the queue and processes requests until the queue is exhausted or ctx is done.
// In-flight requests always finish and are handled before Run returns.
func (e *Engine) Run(ctx context.Context, seeds []Request, handle Handler, onFailure FailureHandler) (Stats, error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return e.Snapshot(), ErrAlreadyRun
	}
	e.started = true
	e.startedAt = time.Now()
	e.mu.Unlock()

	for _, req := range seeds {
		e.Submit(req)
	}

	e.logger.InfoWithFields("Starting crawl engine", map[string]interface{}{
		"workers": e.opts.Concurrency,
		"seeds":   len(seeds),
		"budget":  e.opts.MaxRequests,
	})

	// Wake idle workers when ctx is cancelled
	stop := context.AfterFunc(ctx, func() {
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	})
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.opts.Concurrency; i++ {
		id := i
		g.Go(func() error {
			return e.worker(gctx, id, handle, onFailure)
		})
	}
	err := g.Wait()

	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()

	stats := e.Snapshot()
	e.logger.InfoWithFields("Crawl engine finished", map[string]interface{}{
		"submitted":  stats.Submitted,
		"succeeded":  stats.Succeeded,
		"failed":     stats.Failed,
		"duplicates": stats.Duplicates,
		"rejected":   stats.Rejected,
		"retries":    stats.Retries,
		"duration":   stats.Duration,
	})

	if err == nil {
		err = ctx.Err()
	}
	return stats, err
}

func (e *Engine) worker(ctx context.Context, id int, handle Handler, onFailure FailureHandler) error {
	for {
		req, ok := e.next(ctx)
		if !ok {
			return nil
		}
		e.process(ctx, id, req, handle, onFailure)
		e.finish()
	}
}

// next blocks until a request is queued, the run has drained, or ctx is done
func (e *Engine) next(ctx context.Context) (Request, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for len(e.queue) == 0 {
		if e.pending == 0 || e.draining || ctx.Err() != nil {
			return Request{}, false
		}
		e.cond.Wait()
	}
	if ctx.Err() != nil {
		return Request{}, false
	}

	req := e.queue[0]
	e.queue[0] = Request{}
	e.queue = e.queue[1:]
	e.inFlight.Add(1)
	return req, true
}

// finish marks one request done and releases idle workers once nothing is left
func (e *Engine) finish() {
	e.inFlight.Add(-1)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending--
	if e.pending == 0 {
		e.draining = true
		e.cond.Broadcast()
	}
}

func (e *Engine) process(ctx context.Context, workerID int, req Request, handle Handler, onFailure FailureHandler) {
	attempts := 0
	cfg := *e.opts.Retry
	cfg.Context = ctx
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.retries.Add(1)
		if errs.IsType(err, errs.ErrorTypeRateLimit) {
			logger.LogRateLimit(req.URL, delay)
		}
		e.logger.WarnWithFields("Retrying request", map[string]interface{}{
			"worker_id": workerID,
			"url":       req.URL,
			"attempt":   attempt,
			"delay":     delay,
			"error":     err.Error(),
		})
	}

	resp, err := retry.DoWithResult(func() (*Response, error) {
		attempts++
		if err := e.opts.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return e.fetcher.Fetch(ctx, req)
	}, &cfg)
	if err != nil {
		e.fail(req, fmt.Errorf("fetch %s: %w", req.URL, err), onFailure)
		return
	}
	resp.Attempts = attempts

	if err := e.safeHandle(ctx, handle, resp); err != nil {
		e.fail(req, err, onFailure)
		return
	}
	e.succeeded.Add(1)
}

func (e *Engine) safeHandle(ctx context.Context, handle Handler, resp *Response) (err error) {
	if handle == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorWithFields("Handler panicked", map[string]interface{}{
				"url":   resp.Request.URL,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handle(ctx, resp)
}

func (e *Engine) fail(req Request, err error, onFailure FailureHandler) {
	e.failed.Add(1)
	if onFailure != nil {
		onFailure(req, err)
		return
	}
	e.logger.WithError(err).ErrorWithFields("Request failed", map[string]interface{}{
		"url":   req.URL,
		"label": req.Label,
	})
}
