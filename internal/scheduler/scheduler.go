package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"bskycrawler/pkg/logger"
)

// Job is a scheduled task. ctx expires after the job timeout or when the scheduler stops.
type Job func(ctx context.Context) error

// JobInfo describes a scheduled job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}

// Scheduler runs jobs on cron schedules. A job that is still running when its
// next tick arrives is skipped for that tick.
type Scheduler struct {
	cron     *cron.Cron
	logger   logger.Logger
	timezone *time.Location

	mu     sync.Mutex
	jobs   map[string]cron.EntryID
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler in the given timezone. An empty timezone means local time.
func New(timezone string, log logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	loc := time.Local
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
		}
	}

	log = log.WithField("component", "scheduler")
	cl := cronLogger{log}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:   log,
		timezone: loc,
		jobs:     make(map[string]cron.EntryID),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// AddJob schedules job under name. spec is a standard five-field cron expression
// or a descriptor such as "@hourly" or "@every 6h". A timeout of 0 means none.
func (s *Scheduler) AddJob(name, spec string, timeout time.Duration, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s is already scheduled", name)
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		s.run(name, timeout, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = entryID
	s.logger.InfoWithFields("Added job", map[string]interface{}{
		"job":      name,
		"schedule": spec,
	})

	return nil
}

// RunNow executes job immediately in the calling goroutine
func (s *Scheduler) RunNow(name string, timeout time.Duration, job Job) error {
	return s.run(name, timeout, job)
}

func (s *Scheduler) run(name string, timeout time.Duration, job Job) error {
	ctx := s.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.logger.WithField("job", name).Info("Starting job")
	start := time.Now()

	err := job(ctx)
	if err != nil {
		s.logger.WithError(err).ErrorWithFields("Job failed", map[string]interface{}{
			"job":      name,
			"duration": time.Since(start),
		})
		return err
	}

	s.logger.InfoWithFields("Job completed", map[string]interface{}{
		"job":      name,
		"duration": time.Since(start),
	})
	return nil
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		s.logger.WithField("job", name).Info("Removed job")
	}
}

// Start begins running scheduled jobs in the background
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler and cancels running jobs. The returned context is done
// once running jobs have returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("Stopping scheduler")
	s.cancel()
	return s.cron.Stop()
}

// ListJobs returns the scheduled jobs with their next and previous run times
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, entryID := range s.jobs {
		entry := s.cron.Entry(entryID)
		infos = append(infos, JobInfo{
			Name:    name,
			NextRun: entry.Next,
			LastRun: entry.Prev,
		})
	}
	return infos
}

// Location returns the scheduler timezone
func (s *Scheduler) Location() *time.Location {
	return s.timezone
}

// cronLogger routes cron's own messages to the crawler logger
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.DebugWithFields("cron: "+msg, kvFields(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.WithError(err).ErrorWithFields("cron: "+msg, kvFields(keysAndValues))
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
