package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/seantiz/compatscan/internal/model"
)

// JobStore is the in-memory job cache that is authoritative at runtime.
// Every mutation is written through to the durable Store when one is
// configured; persistence failures are logged and never returned to callers
// that mutate a job.
//
// Jobs handed out by JobStore are copies; callers mutate through Update.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]*model.Job
	durable Store
	logger  *slog.Logger

	// persistMu orders write-through calls so the durable copy of a job
	// never goes backwards.
	persistMu sync.Mutex
}

// NewJobStore creates a job cache backed by durable. durable may be nil, in
// which case jobs live in memory only.
func NewJobStore(durable Store, logger *slog.Logger) *JobStore {
	return &JobStore{
		jobs:    make(map[string]*model.Job),
		durable: durable,
		logger:  logger,
	}
}

// Durable reports whether a durable backing store is configured.
func (s *JobStore) Durable() bool {
	return s.durable != nil
}

// Recover loads every durable job into the cache. Jobs found queued or
// processing are reset to queued with their progress discarded, persisted,
// and returned oldest first so the caller can enqueue them again.
func (s *JobStore) Recover(ctx context.Context) ([]*model.Job, error) {
	if s.durable == nil {
		return nil, nil
	}
	loaded, err := s.durable.LoadJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	var requeue []*model.Job
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	for _, j := range loaded {
		if j.Status == model.StatusQueued || j.Status == model.StatusProcessing {
			resetForRequeue(j)
			if err := s.durable.UpdateJob(ctx, j); err != nil {
				s.logger.Error("failed to persist recovered job", "job_id", j.ID, "error", err)
			}
			requeue = append(requeue, j.Clone())
		}
		s.mu.Lock()
		s.jobs[j.ID] = j
		s.mu.Unlock()
	}

	sort.SliceStable(requeue, func(a, b int) bool {
		return requeue[a].CreatedAt.Before(requeue[b].CreatedAt)
	})

	s.logger.Info("job store recovered", "loaded", len(loaded), "requeued", len(requeue))
	return requeue, nil
}

// resetForRequeue discards everything a previous run left on a job that
// never finished. There is no mid-stage resume; the pipeline restarts.
func resetForRequeue(j *model.Job) {
	j.Status = model.StatusQueued
	j.Progress = 0
	j.Step = ""
	j.Result = nil
	j.Error = ""
	j.CancelRequested = false
	j.CancelReason = ""
	j.StartedAt = nil
	j.FinishedAt = nil
	j.UpdatedAt = time.Now().UTC()
}

// Create adds a new job to the cache and writes it through.
func (s *JobStore) Create(ctx context.Context, j *model.Job) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.jobs[j.ID] = j.Clone()
	s.mu.Unlock()

	if s.durable != nil {
		if err := s.durable.CreateJob(context.WithoutCancel(ctx), j); err != nil {
			s.logger.Error("failed to persist new job", "job_id", j.ID, "error", err)
		}
	}
}

// Get returns a copy of the job. On a cache miss it falls back to the
// durable store and repopulates the cache.
func (s *JobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	j, ok := s.jobs[id]
	if ok {
		cp := j.Clone()
		s.mu.RUnlock()
		return cp, nil
	}
	s.mu.RUnlock()

	if s.durable == nil {
		return nil, ErrNotFound
	}
	j, err := s.durable.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if cached, ok := s.jobs[id]; ok {
		j = cached
	} else {
		s.jobs[id] = j
	}
	cp := j.Clone()
	s.mu.Unlock()
	return cp, nil
}

// Update applies fn to the cached job and writes the result through. If fn
// returns an error the job is left untouched and the error is returned.
// ErrNotFound is returned for jobs that are not in the cache.
func (s *JobStore) Update(ctx context.Context, id string, fn func(j *model.Job) error) (*model.Job, error) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	cur, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	s.jobs[id] = next
	snapshot := next.Clone()
	s.mu.Unlock()

	s.persist(ctx, snapshot)
	return snapshot.Clone(), nil
}

// Transition moves a job to status `to`, applying fn to the job first when
// fn is non-nil. Invalid transitions return ErrInvalidTransition.
func (s *JobStore) Transition(ctx context.Context, id, to string, fn func(j *model.Job)) (*model.Job, error) {
	return s.Update(ctx, id, func(j *model.Job) error {
		if !model.ValidTransition(j.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
		}
		j.Status = to
		if fn != nil {
			fn(j)
		}
		return nil
	})
}

// SetProgress records progress for a processing job. Progress never moves
// backwards: a lower value than the one stored is clamped up. The stored
// value is returned.
func (s *JobStore) SetProgress(ctx context.Context, id string, progress int, step string) (int, error) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j, err := s.Update(ctx, id, func(j *model.Job) error {
		if j.Status != model.StatusProcessing {
			return fmt.Errorf("%w: progress on %s job", ErrInvalidTransition, j.Status)
		}
		if progress > j.Progress {
			j.Progress = progress
		}
		if step != "" {
			j.Step = step
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return j.Progress, nil
}

// Delete removes a job from the cache and the durable store. It reports
// whether the job existed in either.
func (s *JobStore) Delete(ctx context.Context, id string) bool {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	_, cached := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()

	durable := false
	if s.durable != nil {
		err := s.durable.DeleteJob(ctx, id)
		switch {
		case err == nil:
			durable = true
		case errors.Is(err, ErrNotFound):
		default:
			s.logger.Error("failed to delete persisted job", "job_id", id, "error", err)
		}
	}
	return cached || durable
}

// List returns a page of jobs, newest first, and the total number of jobs.
func (s *JobStore) List(limit, offset int) ([]*model.Job, int) {
	s.mu.RLock()
	all := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		all = append(all, j.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(all, func(a, b int) bool {
		if all[a].CreatedAt.Equal(all[b].CreatedAt) {
			return all[a].ID > all[b].ID
		}
		return all[a].CreatedAt.After(all[b].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []*model.Job{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total
}

// Stats computes aggregate statistics over the cached jobs.
func (s *JobStore) Stats() *JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &JobStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}
	var durSum, durCount int
	for _, j := range s.jobs {
		stats.Total++
		stats.CountByStatus[j.Status]++
		stats.CountByKind[j.Kind]++
		if j.Result != nil && j.Status == model.StatusDone {
			durSum += j.Result.DurationMS
			durCount++
		}
	}
	if durCount > 0 {
		stats.AvgDurationMS = float64(durSum) / float64(durCount)
	}
	return stats
}

func (s *JobStore) persist(ctx context.Context, j *model.Job) {
	if s.durable == nil {
		return
	}
	// A cancelled job still has to record how it ended.
	ctx = context.WithoutCancel(ctx)
	if err := s.durable.UpdateJob(ctx, j); err != nil {
		s.logger.Error("failed to persist job", "job_id", j.ID, "status", j.Status, "error", err)
	}
}
