// Package scheduler is the heartbeat: it fires registered jobs on a
// jittered interval, never overlaps runs of the same job, caps global
// concurrency through a worker pool and parks failing jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/sentinel/internal/logging"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/worker"
	"github.com/sirupsen/logrus"
)

var (
	// ErrDegrade marks a job failure that needs an operator. Wrapping it
	// parks the job in degraded immediately.
	ErrDegrade = errors.New("job needs operator attention")

	// ErrUnknownJob is returned for ids that were never scheduled
	ErrUnknownJob = errors.New("unknown job")

	// ErrShutdownTimeout means in-flight jobs were abandoned at shutdown
	ErrShutdownTimeout = worker.ErrShutdownTimeout
)

// JobFunc is the body of a job
type JobFunc func(ctx context.Context) error

// Options configures the scheduler
type Options struct {
	Jitter      float64 // fraction of the interval, e.g. 0.1 for ±10%
	MaxFailures int     // consecutive failures before degraded
	JobTimeout  time.Duration
	Rand        func() float64 // [0,1), defaults to math/rand/v2
	Log         *logrus.Entry
}

type job struct {
	id       string
	interval time.Duration
	fn       JobFunc

	state    model.JobState
	timer    *time.Timer
	gen      uint64 // bumped whenever the timer is re-armed, stale fires are ignored
	lastRun  time.Time
	lastErr  string
	failures int
	removed  bool
}

// Scheduler owns the job table
type Scheduler struct {
	pool *worker.Pool
	opts Options
	log  *logrus.Entry

	mu      sync.Mutex
	jobs    map[string]*job
	retired map[string]*job // unscheduled while running, until the run ends
	ctx     context.Context
	started bool
	stopped bool
}

// New creates a scheduler running jobs on pool
func New(pool *worker.Pool, opts Options) *Scheduler {
	if opts.Jitter < 0 {
		opts.Jitter = 0
	}
	if opts.Jitter > 0.5 {
		opts.Jitter = 0.5
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 5
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	if opts.Log == nil {
		opts.Log = logging.New("scheduler")
	}
	return &Scheduler{
		pool: pool,
		opts: opts,
		log:  opts.Log,
		jobs:    make(map[string]*job),
		retired: make(map[string]*job),
	}
}

// Schedule registers or updates a job. Updating swaps fn immediately; a
// changed interval re-arms an idle job's timer. A running execution is left alone.
func (s *Scheduler) Schedule(id string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[id]; ok {
		j.fn = fn
		if j.interval != interval {
			j.interval = interval
			if s.started && !s.stopped && j.state == model.JobIdle {
				s.armLocked(j, s.nextDelay(interval))
			}
		}
		return nil
	}

	// a run of the same id is still in flight: adopt it so the two never overlap
	if j, ok := s.retired[id]; ok {
		delete(s.retired, id)
		j.removed = false
		j.fn = fn
		j.interval = interval
		s.jobs[id] = j
		if s.started && !s.stopped && j.state == model.JobIdle {
			s.armLocked(j, s.initialDelay(interval))
		}
		return nil
	}

	j := &job{id: id, interval: interval, fn: fn, state: model.JobIdle}
	s.jobs[id] = j
	if s.started && !s.stopped {
		s.armLocked(j, s.initialDelay(interval))
	}
	return nil
}

// Unschedule removes a job. A running execution finishes but is not
// re-armed; rescheduling the id before it ends adopts that execution.
func (s *Scheduler) Unschedule(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	j.removed = true
	s.stopTimerLocked(j)
	delete(s.jobs, id)
	if j.state == model.JobRunning {
		s.retired[id] = j
	}
	return true
}

// Reset clears a job's failure history after its configuration changed.
// A degraded or backing-off job returns to idle and is triggered now; a
// running job keeps running and is judged on its next outcome alone.
func (s *Scheduler) Reset(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	j.failures = 0
	j.lastErr = ""
	if j.state != model.JobDegraded && j.state != model.JobBackoff {
		return nil
	}

	j.state = model.JobIdle
	s.log.WithField("job_id", id).Info("Job reset after reconfiguration")
	if s.started && !s.stopped {
		s.triggerLocked(j, false)
	}
	return nil
}

// Has reports whether id is scheduled
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// IDs lists scheduled job ids
func (s *Scheduler) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start arms every job and starts the pool. Runs derive their context from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx = ctx
	s.pool.Start(ctx)

	for _, j := range s.jobs {
		if j.state == model.JobIdle {
			s.armLocked(j, s.initialDelay(j.interval))
		}
	}
	s.log.WithField("jobs", len(s.jobs)).Info("Scheduler started")
}

// RunOnce triggers a job now. It returns false when the job is busy.
// Degraded jobs may be triggered manually; a success re-arms them.
func (s *Scheduler) RunOnce(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if !s.started || s.stopped {
		return false, fmt.Errorf("run %s: scheduler not running", id)
	}
	return s.triggerLocked(j, true), nil
}

// Status returns a snapshot of every job, sorted by id
func (s *Scheduler) Status() []model.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, model.JobStatus{
			ID:                  j.id,
			State:               j.state,
			Interval:            j.interval,
			LastRun:             j.lastRun,
			LastError:           j.lastErr,
			ConsecutiveFailures: j.failures,
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Shutdown stops all triggers and waits up to grace for running jobs
func (s *Scheduler) Shutdown(grace time.Duration) error {
	s.mu.Lock()
	s.stopped = true
	for _, j := range s.jobs {
		s.stopTimerLocked(j)
	}
	s.mu.Unlock()

	err := s.pool.Shutdown(grace)
	if err != nil {
		s.log.WithError(err).Warn("Abandoned in-flight jobs at shutdown")
		return err
	}
	s.log.Info("Scheduler stopped")
	return nil
}

// triggerLocked moves an idle job to running and hands it to the pool.
// Any other state makes the trigger a no-op.
func (s *Scheduler) triggerLocked(j *job, manual bool) bool {
	allowed := j.state == model.JobIdle || (manual && j.state == model.JobDegraded)
	if !allowed {
		s.log.WithFields(logrus.Fields{
			"job_id": j.id,
			"state":  j.state,
			"manual": manual,
		}).Info("Trigger ignored, job not idle")
		return false
	}

	s.stopTimerLocked(j)
	prev := j.state
	j.state = model.JobRunning
	fn := j.fn
	ctx := s.ctx

	go func() {
		err := s.pool.Submit(ctx, func(runCtx context.Context) {
			s.execute(j, fn, runCtx)
		})
		if err != nil {
			s.mu.Lock()
			if j.state == model.JobRunning {
				j.state = prev
			}
			if j.removed && s.retired[j.id] == j {
				delete(s.retired, j.id)
			}
			s.mu.Unlock()
			s.log.WithError(err).WithField("job_id", j.id).Debug("Job not submitted")
		}
	}()
	return true
}

func (s *Scheduler) execute(j *job, fn JobFunc, ctx context.Context) {
	if s.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.JobTimeout)
		defer cancel()
	}

	started := time.Now()
	err := runSafely(ctx, fn)
	elapsed := time.Since(started)

	s.mu.Lock()
	defer s.mu.Unlock()

	if j.removed && s.retired[j.id] == j {
		delete(s.retired, j.id)
	}
	j.lastRun = started
	entry := s.log.WithFields(logrus.Fields{
		"job_id":   j.id,
		"duration": elapsed.String(),
	})

	if err == nil {
		j.failures = 0
		j.lastErr = ""
		j.state = model.JobIdle
		entry.Debug("Job finished")
		if !j.removed && !s.stopped {
			s.armLocked(j, s.nextDelay(j.interval))
		}
		return
	}

	j.failures++
	j.lastErr = err.Error()
	if errors.Is(err, ErrDegrade) || j.failures >= s.opts.MaxFailures {
		j.state = model.JobDegraded
		entry.WithError(err).WithField("failures", j.failures).Error("Job degraded, automatic runs stopped")
		return
	}

	j.state = model.JobBackoff
	entry.WithError(err).WithField("failures", j.failures).Warn("Job failed, backing off")
	if !j.removed && !s.stopped {
		s.armLocked(j, s.nextDelay(j.interval))
	}
}

func runSafely(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// armLocked schedules the next automatic trigger. A job in backoff returns
// to idle when the timer fires and is triggered right away.
func (s *Scheduler) armLocked(j *job, delay time.Duration) {
	s.stopTimerLocked(j)
	j.gen++
	gen := j.gen
	j.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if j.gen != gen || j.removed || s.stopped {
			return
		}
		if j.state == model.JobBackoff {
			j.state = model.JobIdle
		}
		s.triggerLocked(j, false)
	})
}

func (s *Scheduler) stopTimerLocked(j *job) {
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
	j.gen++
}

// nextDelay applies ±jitter to interval
func (s *Scheduler) nextDelay(interval time.Duration) time.Duration {
	return Jitter(interval, s.opts.Jitter, s.opts.Rand())
}

// initialDelay spreads first runs over [0, jitter*interval] so a fleet of
// sources does not fire at once on startup
func (s *Scheduler) initialDelay(interval time.Duration) time.Duration {
	return time.Duration(float64(interval) * s.opts.Jitter * s.opts.Rand())
}

// Jitter maps r in [0,1) onto interval ± fraction*interval
func Jitter(interval time.Duration, fraction, r float64) time.Duration {
	if fraction <= 0 {
		return interval
	}
	factor := 1 + fraction*(2*r-1)
	return time.Duration(float64(interval) * factor)
}
