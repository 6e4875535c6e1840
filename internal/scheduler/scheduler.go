package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"subscription-service/internal/domain/ports"
	"subscription-service/pkg/observability"
	"subscription-service/pkg/timeutil"
)

const (
	// DefaultResolution is how often the driver loop checks for due tasks
	DefaultResolution = time.Second
	// DefaultTaskTimeout bounds a single task execution
	DefaultTaskTimeout = 5 * time.Minute
	// DefaultJoinTimeout bounds how long Stop waits for running tasks
	DefaultJoinTimeout = 10 * time.Second
	// DefaultMaxWorkers bounds how many tasks run concurrently
	DefaultMaxWorkers = 10
	// panicBackoff pauses a task slot after a panic so a crashing task
	// cannot spin the loop
	panicBackoff = 5 * time.Second
)

// Task is one unit of scheduled work
type Task func(ctx context.Context) error

// TaskStatus is the externally visible state of a scheduled task
type TaskStatus struct {
	Name      string     `json:"name"`
	NextRun   time.Time  `json:"next_run"`
	LastRun   *time.Time `json:"last_run"`
	LastError string     `json:"last_error"`
	Runs      int        `json:"runs"`
	Failures  int        `json:"failures"`
	Running   bool       `json:"running"`
	Cancelled bool       `json:"cancelled"`
}

type job struct {
	name     string
	task     Task
	interval time.Duration // zero for daily jobs
	hour     int
	minute   int
	daily    bool

	nextRun   time.Time
	lastRun   *time.Time
	lastError string
	runs      int
	failures  int
	running   bool
	cancelled bool
	backoff   time.Time
}

// Scheduler runs registered tasks at wall-clock times or fixed
// intervals on a bounded worker pool. A task that is still running when
// its next slot arrives is dropped for that slot, never run
// concurrently with itself.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job

	resolution  time.Duration
	taskTimeout time.Duration
	joinTimeout time.Duration

	logger ports.Logger
	clock  timeutil.Clock

	stopCh   chan struct{}
	loopDone chan struct{}
	tasks    sync.WaitGroup
	workers  chan struct{}
	started  bool
}

// New creates a scheduler with the default timings. maxWorkers bounds
// how many tasks run at once; zero or negative means the default.
func New(logger ports.Logger, clock timeutil.Clock, maxWorkers int) *Scheduler {
	if clock == nil {
		clock = timeutil.Now
	}
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &Scheduler{
		jobs:        make(map[string]*job),
		resolution:  DefaultResolution,
		taskTimeout: DefaultTaskTimeout,
		joinTimeout: DefaultJoinTimeout,
		logger:      logger,
		clock:       clock,
		workers:     make(chan struct{}, maxWorkers),
	}
}

// ScheduleDaily registers a task to run every day at hour:minute UTC
func (s *Scheduler) ScheduleDaily(name string, hour, minute int, task Task) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("invalid wall-clock time %02d:%02d", hour, minute)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("task %q is already scheduled", name)
	}
	s.jobs[name] = &job{
		name:    name,
		task:    task,
		daily:   true,
		hour:    hour,
		minute:  minute,
		nextRun: nextDaily(s.clock(), hour, minute),
	}
	s.logger.Info("scheduled daily task",
		ports.String("task", name),
		ports.String("at", fmt.Sprintf("%02d:%02d UTC", hour, minute)),
	)
	return nil
}

// ScheduleInterval registers a task to run every interval. Intervals
// below the driver resolution are quantized up to it.
func (s *Scheduler) ScheduleInterval(name string, interval time.Duration, task Task) error {
	if interval < s.resolution {
		interval = s.resolution
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("task %q is already scheduled", name)
	}
	s.jobs[name] = &job{
		name:     name,
		task:     task,
		interval: interval,
		nextRun:  s.clock().Add(interval),
	}
	s.logger.Info("scheduled interval task",
		ports.String("task", name),
		ports.String("every", interval.String()),
	)
	return nil
}

// Cancel stops future runs of a task. The task keeps its status entry
// so operators can still see its history.
func (s *Scheduler) Cancel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("task %q is not scheduled", name)
	}
	j.cancelled = true
	s.logger.Info("cancelled task", ports.String("task", name))
	return nil
}

// Status returns a snapshot of every known task
func (s *Scheduler) Status() map[string]TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TaskStatus, len(s.jobs))
	for name, j := range s.jobs {
		out[name] = TaskStatus{
			Name:      j.name,
			NextRun:   j.nextRun,
			LastRun:   j.lastRun,
			LastError: j.lastError,
			Runs:      j.runs,
			Failures:  j.failures,
			Running:   j.running,
			Cancelled: j.cancelled,
		}
	}
	return out
}

// Start launches the driver loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	go s.loop()
	s.logger.Info("scheduler started")
}

// Stop halts the driver loop and waits up to the join timeout for
// running tasks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.loopDone

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
	case <-time.After(s.joinTimeout):
		s.logger.Warn("scheduler stopped with tasks still running",
			ports.String("join_timeout", s.joinTimeout.String()))
	}
}

func (s *Scheduler) loop() {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runPending(s.clock())
		}
	}
}

// runPending fires every due task. Exposed to the loop only; tests call
// it directly to avoid real time.
func (s *Scheduler) runPending(now time.Time) {
	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if j.cancelled || now.Before(j.nextRun) || now.Before(j.backoff) {
			continue
		}
		if j.running {
			// Previous run still going: drop this slot
			j.nextRun = j.next(now)
			observability.RecordTaskRun("overlap_dropped")
			s.logger.Warn("task still running, dropping slot", ports.String("task", j.name))
			continue
		}
		j.running = true
		j.nextRun = j.next(now)
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		s.tasks.Add(1)
		go s.execute(j, now)
	}
}

func (s *Scheduler) execute(j *job, started time.Time) {
	defer s.tasks.Done()

	// Wait for a worker slot; dispatch never runs unbounded
	s.workers <- struct{}{}
	defer func() { <-s.workers }()

	ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
	defer cancel()

	err := s.runSafely(ctx, j)

	s.mu.Lock()
	defer s.mu.Unlock()
	j.running = false
	j.lastRun = &started
	j.runs++
	if err != nil {
		j.failures++
		j.lastError = err.Error()
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			observability.RecordTaskRun("timeout")
		default:
			observability.RecordTaskRun("failure")
		}
		s.logger.Error("task failed", ports.String("task", j.name), ports.Err(err))
		return
	}
	j.lastError = ""
	observability.RecordTaskRun("success")
}

// runSafely converts a task panic into an error and backs the task off
func (s *Scheduler) runSafely(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			s.mu.Lock()
			j.backoff = s.clock().Add(panicBackoff)
			s.mu.Unlock()
		}
	}()
	return j.task(ctx)
}

// next computes the run after now
func (j *job) next(now time.Time) time.Time {
	if j.daily {
		return nextDaily(now, j.hour, j.minute)
	}
	return now.Add(j.interval)
}

// nextDaily returns the next occurrence of hour:minute UTC strictly
// after now.
func nextDaily(now time.Time, hour, minute int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
