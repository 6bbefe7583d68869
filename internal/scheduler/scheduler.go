// Package scheduler runs named periodic jobs: world-clock advancement, the
// layer integrity sweep, and cost window flushing. Each job runs on its own
// interval and never overlaps itself; a slow run simply absorbs the ticks it
// missed.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/telemetry"
)

// JobFunc is one unit of scheduled work. Errors are logged and reported in
// telemetry; they never stop the schedule.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
}

// Scheduler owns a set of named jobs and drives them until its context ends.
type Scheduler struct {
	emitter *telemetry.Emitter
	logger  *zap.Logger

	mu      sync.Mutex
	jobs    []job
	started bool
}

// New builds an empty scheduler.
func New(emitter *telemetry.Emitter, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		emitter: emitter,
		logger:  logger.Named("scheduler"),
	}
}

// Add registers a job. Names must be unique and intervals positive; jobs
// cannot be added after Run started.
func (s *Scheduler) Add(name string, interval time.Duration, fn JobFunc) error {
	if name == "" {
		return &storage.ErrInvalidInput{Field: "name", Message: "must not be empty"}
	}
	if interval <= 0 {
		return &storage.ErrInvalidInput{Field: "interval", Message: "must be positive"}
	}
	if fn == nil {
		return &storage.ErrInvalidInput{Field: "fn", Message: "must not be nil"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already running")
	}
	for _, j := range s.jobs {
		if j.name == name {
			return &storage.ErrInvalidInput{Field: "name", Message: "duplicate job " + name}
		}
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, fn: fn})
	return nil
}

// Run drives all registered jobs until ctx is cancelled, then waits for any
// in-flight runs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	jobs := make([]job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	wg.Wait()

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// RunJobOnce executes one registered job by name outside its schedule.
func (s *Scheduler) RunJobOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	var found *job
	for i := range s.jobs {
		if s.jobs[i].name == name {
			found = &s.jobs[i]
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return &storage.ErrNotFound{Type: "job", ID: name}
	}
	return s.runJob(ctx, *found)
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	s.logger.Info("job scheduled",
		zap.String("job", j.name),
		zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The run happens on this goroutine, so a job can never
			// overlap itself; ticks that arrive mid-run are dropped.
			_ = s.runJob(ctx, j)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, j job) error {
	start := time.Now()
	err := j.fn(ctx)
	elapsed := time.Since(start)

	fields := map[string]interface{}{
		"job":        j.name,
		"durationMs": elapsed.Milliseconds(),
		"success":    err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Warn("job failed",
			zap.String("job", j.name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		s.logger.Debug("job completed",
			zap.String("job", j.name),
			zap.Duration("elapsed", elapsed))
	}
	s.emitter.Emit(ctx, telemetry.EventSchedulerJobCompleted, fields)
	return err
}
