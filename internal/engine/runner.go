package engine

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

// ErrNoRunner is returned when no Runner is registered for a job kind.
var ErrNoRunner = errors.New("no runner registered for job kind")

// Runner executes one kind of job.
type Runner interface {
	// Run executes the job behind exec. ctx is cancelled when the job's
	// cancellation token trips. Returning an error wrapping ErrCancelled
	// ends the job as cancelled; any other error fails it.
	Run(ctx context.Context, exec *Execution) (*model.Result, error)

	// Info describes the runner for the API.
	Info() RunnerInfo
}

// RunnerInfo describes a registered runner.
type RunnerInfo struct {
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Stages      []string `json:"stages,omitempty"`
}

// Registry maps job kinds to runners.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates an empty runner registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register adds a runner for kind, replacing any previous one.
func (r *Registry) Register(kind string, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[kind] = runner
}

// Resolve returns the runner for kind.
func (r *Registry) Resolve(kind string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.runners[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoRunner, kind)
	}
	return runner, nil
}

// List returns information about all registered runners, sorted by kind.
func (r *Registry) List() []RunnerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]RunnerInfo, 0, len(r.runners))
	for kind, runner := range r.runners {
		info := runner.Info()
		info.Kind = kind
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Kind < infos[j].Kind
	})
	return infos
}

// Execution is the handle a Runner gets for one job run: the job's input,
// its cancellation token, and progress reporting.
type Execution struct {
	jobID   string
	kind    string
	payload model.Payload
	token   *CancelToken
	started time.Time

	sched  *Scheduler
	logger *slog.Logger
}

// JobID returns the ID of the job being run.
func (e *Execution) JobID() string { return e.jobID }

// Kind returns the job kind.
func (e *Execution) Kind() string { return e.kind }

// Payload returns the job payload.
func (e *Execution) Payload() model.Payload { return e.payload }

// Logger returns a logger annotated with the job ID.
func (e *Execution) Logger() *slog.Logger { return e.logger }

// Token returns the job's cancellation token.
func (e *Execution) Token() *CancelToken { return e.token }

// Checkpoint returns an error wrapping ErrCancelled once cancellation has
// been requested, and nil otherwise.
func (e *Execution) Checkpoint() error {
	return e.token.Err()
}

// Progress records progress for the job and publishes a progress event.
// Progress never moves backwards; the published value is the stored one.
// eta is omitted from the event when zero.
func (e *Execution) Progress(progress int, step string, eta time.Duration) {
	stored, err := e.sched.store.SetProgress(context.Background(), e.jobID, progress, step)
	if err != nil {
		// The job was removed or already left processing.
		e.logger.Debug("progress not recorded", "progress", progress, "error", err)
		return
	}
	e.sched.bus.Publish(Event{
		Kind:     EventProgress,
		JobID:    e.jobID,
		Progress: stored,
		Step:     step,
		ETAMS:    eta.Milliseconds(),
	})
}
