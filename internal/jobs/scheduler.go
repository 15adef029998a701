package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// Task is the work a scheduled job performs
type Task func(ctx context.Context) error

// CronJob represents a scheduled job
type CronJob struct {
	ID       string
	Schedule Schedule
	Task     Task
	Timeout  time.Duration
	Enabled  bool
}

// Schedule defines when a job should run
type Schedule interface {
	// Next returns the next execution time after the given time
	Next(t time.Time) time.Time
}

// IntervalSchedule runs a job at fixed intervals
type IntervalSchedule struct {
	Interval time.Duration
}

func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// Every creates an interval schedule
func Every(interval time.Duration) Schedule {
	return &IntervalSchedule{Interval: interval}
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	// Logger for structured logging
	Logger *slog.Logger

	// Resolution is how often due jobs are checked
	Resolution time.Duration
}

// DefaultSchedulerConfig returns a default scheduler configuration
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Logger:     nil,
		Resolution: 1 * time.Second,
	}
}

// Scheduler runs registered jobs in-process on their schedules. Every
// instance runs its own jobs.
type Scheduler struct {
	jobs       map[string]*CronJob
	nextRuns   map[string]time.Time
	running    map[string]bool
	mu         sync.RWMutex
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	logger     *slog.Logger
	resolution time.Duration
}

// NewScheduler creates a new job scheduler
func NewScheduler(config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolution := config.Resolution
	if resolution <= 0 {
		resolution = time.Second
	}

	return &Scheduler{
		jobs:       make(map[string]*CronJob),
		nextRuns:   make(map[string]time.Time),
		running:    make(map[string]bool),
		logger:     logger,
		stopCh:     make(chan struct{}),
		resolution: resolution,
	}
}

// Register registers a scheduled job
func (s *Scheduler) Register(cronJob *CronJob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[cronJob.ID] = cronJob
	s.nextRuns[cronJob.ID] = cronJob.Schedule.Next(time.Now())

	s.logger.Info("cron job registered",
		"id", cronJob.ID,
		"next_run", s.nextRuns[cronJob.ID].Format(time.RFC3339),
	)
}

// Unregister removes a scheduled job
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, id)
	delete(s.nextRuns, id)

	s.logger.Info("cron job unregistered", "id", id)
}

// Enable enables a scheduled job
func (s *Scheduler) Enable(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[id]; ok {
		job.Enabled = true
		s.nextRuns[id] = job.Schedule.Next(time.Now())
		s.logger.Info("cron job enabled", "id", id)
	}
}

// Disable disables a scheduled job
func (s *Scheduler) Disable(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[id]; ok {
		job.Enabled = false
		s.logger.Info("cron job disabled", "id", id)
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("scheduler started", "resolution", s.resolution)
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Name implements server.Resource
func (s *Scheduler) Name() string { return "scheduler" }

// Close implements server.Resource
func (s *Scheduler) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	jobsToRun := make([]*CronJob, 0)

	for id, nextRun := range s.nextRuns {
		job, ok := s.jobs[id]
		if !ok || !job.Enabled || s.running[id] || now.Before(nextRun) {
			continue
		}
		s.running[id] = true
		jobsToRun = append(jobsToRun, job)
	}
	s.mu.Unlock()

	// Execute jobs outside of lock; a slow job never overlaps itself
	for _, job := range jobsToRun {
		s.wg.Add(1)
		go s.execute(ctx, job)
	}
}

func (s *Scheduler) execute(ctx context.Context, cronJob *CronJob) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.running, cronJob.ID)
		if _, ok := s.jobs[cronJob.ID]; ok {
			s.nextRuns[cronJob.ID] = cronJob.Schedule.Next(time.Now())
		}
		s.mu.Unlock()
	}()

	if cronJob.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cronJob.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.safeRun(ctx, cronJob); err != nil {
		s.logger.Error("scheduled job failed",
			"id", cronJob.ID,
			"duration", time.Since(start),
			"error", err,
		)
		return
	}

	s.logger.Debug("scheduled job completed",
		"id", cronJob.ID,
		"duration", time.Since(start),
	)
}

func (s *Scheduler) safeRun(ctx context.Context, cronJob *CronJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return cronJob.Task(ctx)
}

// RunNow executes a job immediately, outside its schedule
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("cron job not found: %s", id)
	}
	return s.safeRun(ctx, job)
}

// List returns all registered cron jobs, ordered by id
func (s *Scheduler) List() []*CronJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*CronJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// NextRun returns the next run time for a cron job
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nextRun, ok := s.nextRuns[id]
	return nextRun, ok
}
