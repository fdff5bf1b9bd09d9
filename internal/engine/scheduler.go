package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/seantiz/compatscan/internal/model"
	"github.com/seantiz/compatscan/internal/store"
)

// DefaultMaxConcurrent is used when the configured concurrency is not positive.
const DefaultMaxConcurrent = 2

// Default cancellation reasons.
const (
	ReasonUserCancelled = "cancelled by request"
	ReasonRemoved       = "job removed"
)

// ErrShuttingDown is returned by CreateJob once Shutdown has begun.
var ErrShuttingDown = errors.New("scheduler is shutting down")

// Options configures a Scheduler.
type Options struct {
	// MaxConcurrent bounds the active set. Values <= 0 use
	// DefaultMaxConcurrent.
	MaxConcurrent int
	// Timeout is the soft wall-clock budget per job. Zero disables it.
	Timeout time.Duration
}

// CancelOutcome reports what CancelJob did.
type CancelOutcome struct {
	Found   bool   `json:"found"`
	Changed bool   `json:"changed"`
	Status  string `json:"status,omitempty"`
}

// SchedulerStats is a point-in-time view of the scheduler.
type SchedulerStats struct {
	Pending       int `json:"pending"`
	Active        int `json:"active"`
	MaxConcurrent int `json:"maxConcurrent"`
	PeakActive    int `json:"peakActive"`
}

// Scheduler owns job admission: the pending FIFO and the bounded active set.
// It is the only component that starts job runs.
//
// Every read and write of pending, active and closed happens under mu, so
// two dispatch decisions can never race past maxConcurrent or start the
// same job twice.
type Scheduler struct {
	store    *store.JobStore
	bus      *EventBus
	registry *Registry
	logger   *slog.Logger

	maxConcurrent int
	timeout       time.Duration

	mu      sync.Mutex
	pending []string
	active  map[string]*Execution
	peak    int
	closed  bool

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler. Call Start to recover persisted jobs.
func NewScheduler(js *store.JobStore, bus *EventBus, reg *Registry, opts Options, logger *slog.Logger) *Scheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Scheduler{
		store:         js,
		bus:           bus,
		registry:      reg,
		logger:        logger,
		maxConcurrent: opts.MaxConcurrent,
		timeout:       opts.Timeout,
		active:        make(map[string]*Execution),
	}
}

// Bus returns the scheduler's event bus.
func (s *Scheduler) Bus() *EventBus { return s.bus }

// Store returns the scheduler's job store.
func (s *Scheduler) Store() *store.JobStore { return s.store }

// Registry returns the scheduler's runner registry.
func (s *Scheduler) Registry() *Registry { return s.registry }

// Start recovers persisted jobs and enqueues the unfinished ones in
// creation order.
func (s *Scheduler) Start(ctx context.Context) error {
	requeue, err := s.store.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range requeue {
		if s.queuedLocked(j.ID) {
			continue
		}
		s.pending = append(s.pending, j.ID)
	}
	s.scheduleNextLocked()
	if len(requeue) > 0 {
		s.logger.Info("recovered jobs requeued", "count", len(requeue))
	}
	return nil
}

// CreateJob records a new queued job, enqueues it and returns without
// waiting for it to run.
func (s *Scheduler) CreateJob(ctx context.Context, kind string, payload model.Payload) (*model.Job, error) {
	now := time.Now().UTC()
	j := &model.Job{
		ID:        model.NewID(),
		Kind:      kind,
		Status:    model.StatusQueued,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShuttingDown
	}
	s.store.Create(ctx, j)
	s.pending = append(s.pending, j.ID)
	s.scheduleNextLocked()

	s.logger.Info("job created", "job_id", j.ID, "kind", kind)
	return j, nil
}

// scheduleNextLocked starts pending jobs, oldest first, while the active set
// has room. s.mu must be held.
func (s *Scheduler) scheduleNextLocked() {
	for !s.closed && len(s.pending) > 0 && len(s.active) < s.maxConcurrent {
		id := s.pending[0]
		s.pending = s.pending[1:]

		exec := &Execution{
			jobID:  id,
			token:  NewCancelToken(context.Background()),
			sched:  s,
			logger: s.logger.With("job_id", id),
		}
		s.active[id] = exec
		if len(s.active) > s.peak {
			s.peak = len(s.active)
		}
		s.wg.Go(func() {
			s.run(exec)
		})
	}
	jobsActive.Set(float64(len(s.active)))
	jobsPending.Set(float64(len(s.pending)))
}

func (s *Scheduler) queuedLocked(id string) bool {
	if _, ok := s.active[id]; ok {
		return true
	}
	for _, p := range s.pending {
		if p == id {
			return true
		}
	}
	return false
}

// run drives one job from queued to a terminal status, then frees its slot
// and dispatches the next pending job.
func (s *Scheduler) run(exec *Execution) {
	defer func() {
		s.mu.Lock()
		delete(s.active, exec.jobID)
		s.scheduleNextLocked()
		s.mu.Unlock()
	}()
	defer exec.token.release()

	ctx := context.Background()
	start := time.Now()
	job, err := s.store.Transition(ctx, exec.jobID, model.StatusProcessing, func(j *model.Job) {
		j.StartedAt = &start
		j.Progress = ProgressQueued
	})
	if err != nil {
		// Removed or cancelled before it started.
		exec.logger.Debug("job not started", "error", err)
		return
	}
	exec.kind = job.Kind
	exec.payload = job.Payload
	exec.started = start

	if s.timeout > 0 {
		timer := time.AfterFunc(s.timeout, func() {
			reason := fmt.Sprintf("timed out after %s", s.timeout)
			if exec.token.Cancel(reason) {
				exec.logger.Warn("job exceeded its time budget", "timeout", s.timeout.String())
				s.markCancelRequested(exec.jobID, reason)
			}
		})
		defer timer.Stop()
	}

	// A cancel that raced the queued -> processing transition.
	if job.CancelRequested && !exec.token.Cancelled() {
		exec.token.Cancel(job.CancelReason)
	}

	runner, err := s.registry.Resolve(job.Kind)
	if err != nil {
		s.finishFailed(exec, err)
		return
	}

	exec.logger.Info("job started", "kind", job.Kind)
	result, err := invoke(runner, exec)
	switch {
	case err == nil:
		s.finishDone(exec, result)
	case errors.Is(err, ErrCancelled) || exec.token.Cancelled():
		s.finishCancelled(exec, exec.token.Reason())
	default:
		s.finishFailed(exec, err)
	}
}

// invoke calls the runner, converting a panic into an error.
func invoke(runner Runner, exec *Execution) (result *model.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			exec.logger.Error("runner panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("runner panicked: %v", r)
		}
	}()
	return runner.Run(exec.token.Context(), exec)
}

func (s *Scheduler) finishDone(exec *Execution, result *model.Result) {
	if result == nil {
		result = &model.Result{}
	}
	now := time.Now().UTC()
	result.DurationMS = int(now.Sub(exec.started).Milliseconds())

	_, err := s.store.Transition(context.Background(), exec.jobID, model.StatusDone, func(j *model.Job) {
		j.Progress = ProgressDone
		j.Step = StepCompleted
		j.Result = result
		j.FinishedAt = &now
	})
	if err != nil {
		exec.logger.Debug("completed job not recorded", "error", err)
		return
	}
	s.observeFinish(exec, model.StatusDone)
	exec.logger.Info("job completed", "duration_ms", result.DurationMS)

	s.bus.Publish(Event{Kind: EventProgress, JobID: exec.jobID, Progress: ProgressDone, Step: StepCompleted})
	s.bus.Publish(Event{Kind: EventDone, JobID: exec.jobID, Result: result})
}

func (s *Scheduler) finishFailed(exec *Execution, cause error) {
	now := time.Now().UTC()
	msg := cause.Error()
	result := &model.Result{Error: msg}
	if !exec.started.IsZero() {
		result.DurationMS = int(now.Sub(exec.started).Milliseconds())
	}

	_, err := s.store.Transition(context.Background(), exec.jobID, model.StatusFailed, func(j *model.Job) {
		j.Error = msg
		j.Result = result
		j.FinishedAt = &now
	})
	if err != nil {
		exec.logger.Debug("failed job not recorded", "error", err)
		return
	}
	s.observeFinish(exec, model.StatusFailed)
	exec.logger.Error("job failed", "error", cause)

	s.bus.Publish(Event{Kind: EventFailed, JobID: exec.jobID, Error: msg, Result: result})
}

func (s *Scheduler) finishCancelled(exec *Execution, reason string) {
	now := time.Now().UTC()
	result := &model.Result{Cancelled: true, Reason: reason}
	if !exec.started.IsZero() {
		result.DurationMS = int(now.Sub(exec.started).Milliseconds())
	}

	_, err := s.store.Transition(context.Background(), exec.jobID, model.StatusCancelled, func(j *model.Job) {
		j.CancelRequested = true
		j.CancelReason = reason
		j.Result = result
		j.FinishedAt = &now
	})
	if err != nil {
		exec.logger.Debug("cancelled job not recorded", "error", err)
		return
	}
	s.observeFinish(exec, model.StatusCancelled)
	exec.logger.Info("job cancelled", "reason", reason)

	s.bus.Publish(Event{Kind: EventDone, JobID: exec.jobID, Result: result})
}

func (s *Scheduler) observeFinish(exec *Execution, status string) {
	jobsTotal.WithLabelValues(exec.kind, status).Inc()
	if !exec.started.IsZero() {
		jobDuration.WithLabelValues(exec.kind).Observe(time.Since(exec.started).Seconds())
	}
}

func (s *Scheduler) markCancelRequested(id, reason string) {
	_, err := s.store.Update(context.Background(), id, func(j *model.Job) error {
		if model.IsTerminal(j.Status) {
			return nil
		}
		j.CancelRequested = true
		j.CancelReason = reason
		return nil
	})
	if err != nil {
		s.logger.Debug("cancel request not recorded", "job_id", id, "error", err)
	}
}

// CancelJob cancels a job. A pending job is cancelled synchronously; an
// active job has its token tripped and stops at its next checkpoint.
// Terminal jobs are left alone. An empty reason uses ReasonUserCancelled.
func (s *Scheduler) CancelJob(ctx context.Context, id, reason string) (CancelOutcome, error) {
	if reason == "" {
		reason = ReasonUserCancelled
	}

	s.mu.Lock()
	job, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		s.mu.Unlock()
		return CancelOutcome{}, nil
	}
	if err != nil {
		s.mu.Unlock()
		return CancelOutcome{}, fmt.Errorf("get job: %w", err)
	}
	if model.IsTerminal(job.Status) {
		s.mu.Unlock()
		return CancelOutcome{Found: true, Status: job.Status}, nil
	}

	if exec, ok := s.active[id]; ok {
		exec.token.Cancel(reason)
		s.mu.Unlock()
		s.markCancelRequested(id, reason)
		s.logger.Info("cancellation requested", "job_id", id, "reason", reason)
		return CancelOutcome{Found: true, Changed: true, Status: job.Status}, nil
	}

	// Pending, or queued without being enqueued (recovered but not started).
	s.removePendingLocked(id)
	now := time.Now().UTC()
	result := &model.Result{Cancelled: true, Reason: reason}
	cancelled, err := s.store.Transition(ctx, id, model.StatusCancelled, func(j *model.Job) {
		j.CancelRequested = true
		j.CancelReason = reason
		j.Result = result
		j.FinishedAt = &now
	})
	jobsPending.Set(float64(len(s.pending)))
	s.mu.Unlock()
	if err != nil {
		return CancelOutcome{Found: true, Status: job.Status}, fmt.Errorf("cancel job: %w", err)
	}

	jobsTotal.WithLabelValues(cancelled.Kind, model.StatusCancelled).Inc()
	s.logger.Info("job cancelled before start", "job_id", id, "reason", reason)
	s.bus.Publish(Event{Kind: EventDone, JobID: id, Result: result})
	return CancelOutcome{Found: true, Changed: true, Status: model.StatusCancelled}, nil
}

// RemoveJob forgets a job entirely and publishes a removed event. An
// in-flight run is cancelled first; it unwinds at its next checkpoint and
// its final write is dropped because the job no longer exists.
func (s *Scheduler) RemoveJob(ctx context.Context, id string) bool {
	s.mu.Lock()
	s.removePendingLocked(id)
	if exec, ok := s.active[id]; ok {
		exec.token.Cancel(ReasonRemoved)
	}
	existed := s.store.Delete(ctx, id)
	jobsPending.Set(float64(len(s.pending)))
	s.mu.Unlock()

	if existed {
		s.logger.Info("job removed", "job_id", id)
		s.bus.Publish(Event{Kind: EventRemoved, JobID: id})
	}
	return existed
}

func (s *Scheduler) removePendingLocked(id string) {
	for i, p := range s.pending {
		if p == id {
			s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
			return
		}
	}
}

// Shutdown stops dispatching and waits for in-flight runs to finish, or for
// ctx to expire. Pending jobs stay queued in the store for the next Start.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	pending := len(s.pending)
	active := len(s.active)
	s.mu.Unlock()

	s.logger.Info("scheduler shutting down", "active", active, "pending", pending)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the queue and active set.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		Pending:       len(s.pending),
		Active:        len(s.active),
		MaxConcurrent: s.maxConcurrent,
		PeakActive:    s.peak,
	}
}
