// Package scheduler fires configured prompts on cron schedules. Each job
// talks to its own agent channel, so scheduled turns never interleave with
// chat traffic.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"spellcast/internal/domain"
)

// ChannelPrefix prefixes the channel a job's prompts are routed to.
const ChannelPrefix = "cron:"

// Job sends Prompt to the channel cron:<ID> on every tick of CronExpr
// (5-field cron or a descriptor such as "@every 1h").
type Job struct {
	ID       string
	Name     string
	CronExpr string
	Prompt   string
}

// JobFromConfig converts a configured job.
func JobFromConfig(c domain.JobConfig) Job {
	return Job{ID: c.ID, Name: c.Name, CronExpr: c.CronExpr, Prompt: c.Prompt}
}

// ChannelID returns the channel the job's turns run on.
func (j Job) ChannelID() string {
	return ChannelPrefix + j.ID
}

// EventHandler is called when a scheduled job fires. ctx is cancelled when
// the scheduler stops.
type EventHandler func(ctx context.Context, job Job) error

// Router runs one turn on a channel. *router.Router implements it.
type Router interface {
	Route(ctx context.Context, channelID, prompt string, sink io.WriteCloser) (string, error)
}

// RouteHandler returns an EventHandler that sends the job's prompt to the
// job's channel and logs the answer. Streamed text is discarded.
func RouteHandler(rt Router, logger *slog.Logger) EventHandler {
	if rt == nil {
		panic("scheduler: RouteHandler requires a non-nil Router")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, job Job) error {
		answer, err := rt.Route(ctx, job.ChannelID(), job.Prompt, nopCloser{io.Discard})
		if err != nil {
			return fmt.Errorf("scheduler: job %q: %w", job.ID, err)
		}
		logger.Info("job answered", "job_id", job.ID, "channel", job.ChannelID(), "answer", answer)
		return nil
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// CronEngine runs funcs on cron schedules. RobfigCronEngine implements it.
type CronEngine interface {
	AddFunc(spec string, cmd func()) (int, error)
	Remove(id int)
	Start()
	Stop()
}

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithLogger sets a structured logger for the Scheduler. If l is nil it is
// ignored and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Sentinel errors for validation.
var (
	ErrEmptyJobID   = errors.New("scheduler: job ID must not be empty")
	ErrEmptyCron    = errors.New("scheduler: cron expression must not be empty")
	ErrEmptyPrompt  = errors.New("scheduler: prompt must not be empty")
	ErrDuplicateJob = errors.New("scheduler: job with this ID already exists")
	ErrJobNotFound  = errors.New("scheduler: job not found")
)

type jobEntry struct {
	job     Job
	entryID int
}

// Scheduler owns the configured jobs and calls the EventHandler when one fires.
type Scheduler struct {
	engine  CronEngine
	handler EventHandler
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	jobs    map[string]jobEntry
}

// NewScheduler panics if engine or handler is nil.
func NewScheduler(engine CronEngine, handler EventHandler, opts ...Option) *Scheduler {
	if engine == nil {
		panic("scheduler: engine must not be nil")
	}
	if handler == nil {
		panic("scheduler: handler must not be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		engine:  engine,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]jobEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// log returns the Scheduler's logger, falling back to the default slog logger.
func (s *Scheduler) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func (j Job) validate() error {
	switch {
	case j.ID == "":
		return ErrEmptyJobID
	case j.CronExpr == "":
		return ErrEmptyCron
	case j.Prompt == "":
		return ErrEmptyPrompt
	}
	return nil
}

// AddJob validates job and registers it with the engine. IDs are unique.
func (s *Scheduler) AddJob(job Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	entryID, err := s.engine.AddFunc(job.CronExpr, func() { s.fire(job) })
	if err != nil {
		return fmt.Errorf("scheduler: job %q: bad schedule %q: %w", job.ID, job.CronExpr, err)
	}
	s.jobs[job.ID] = jobEntry{job: job, entryID: entryID}
	s.log().Info("job registered", "job_id", job.ID, "cron_expr", job.CronExpr, "channel", job.ChannelID())
	return nil
}

// Load registers every configured job. All failures are reported together;
// valid jobs are registered even when others fail.
func (s *Scheduler) Load(cfgs []domain.JobConfig) error {
	var errs []error
	for _, c := range cfgs {
		if err := s.AddJob(JobFromConfig(c)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) fire(job Job) {
	if s.ctx.Err() != nil {
		return
	}
	start := time.Now()
	s.log().Info("job fired", "job_id", job.ID, "channel", job.ChannelID())
	if err := s.handler(s.ctx, job); err != nil {
		s.log().Warn("job failed", "job_id", job.ID, "error", err, "duration", time.Since(start))
		return
	}
	s.log().Debug("job done", "job_id", job.ID, "duration", time.Since(start))
}

// Start starts the engine.
func (s *Scheduler) Start() {
	s.engine.Start()
}

// Stop cancels running handlers and halts the engine. A stopped Scheduler
// does not fire jobs again.
func (s *Scheduler) Stop() {
	s.cancel()
	s.engine.Stop()
}

// RemoveJob unregisters the job with id.
func (s *Scheduler) RemoveJob(id string) error {
	if id == "" {
		return ErrEmptyJobID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %q", ErrJobNotFound, id)
	}
	s.engine.Remove(entry.entryID)
	delete(s.jobs, id)
	s.log().Info("job removed", "job_id", id)
	return nil
}

// ListJobs returns the registered jobs sorted by ID, never nil.
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, entry := range s.jobs {
		jobs = append(jobs, entry.job)
	}
	slices.SortFunc(jobs, func(a, b Job) int { return strings.Compare(a.ID, b.ID) })
	return jobs
}

// GetJob returns the job with id.
func (s *Scheduler) GetJob(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.jobs[id]
	return entry.job, ok
}
