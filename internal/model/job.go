package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Job status constants.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Job kind constants.
const (
	KindScan  = "scan"
	KindApply = "apply"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusQueued: {
		StatusProcessing: true,
		StatusFailed:     true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusDone:      true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is one a job never leaves.
func IsTerminal(status string) bool {
	return status == StatusDone || status == StatusFailed || status == StatusCancelled
}

// NewID generates a new ULID string for use as an entity identifier.
func NewID() string {
	return ulid.Make().String()
}

// Payload describes where a scan job gets its source tree from. Exactly one
// of RemoteURL, Archive and LocalPath is set.
type Payload struct {
	RemoteURL string `json:"remoteUrl,omitempty"`
	Ref       string `json:"ref,omitempty"`
	// Archive holds a zip or tar.gz archive; encoding/json carries it as base64.
	Archive   []byte   `json:"archive,omitempty"`
	LocalPath string   `json:"localPath,omitempty"`
	Targets   []string `json:"targets,omitempty"`
	Exclude   []string `json:"exclude,omitempty"`
}

// Sources returns how many workspace sources the payload names.
func (p Payload) Sources() int {
	n := 0
	if p.RemoteURL != "" {
		n++
	}
	if len(p.Archive) > 0 {
		n++
	}
	if p.LocalPath != "" {
		n++
	}
	return n
}

// Job is a unit of orchestrated work tracked by the scheduler.
//
// Result is set once, when the job reaches a terminal status, and is never
// mutated afterwards, so copies of a Job may share it.
type Job struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind"`
	Status          string     `json:"status"`
	Progress        int        `json:"progress"`
	Step            string     `json:"step,omitempty"`
	Payload         Payload    `json:"payload"`
	Result          *Result    `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
	CancelRequested bool       `json:"cancelRequested"`
	CancelReason    string     `json:"cancelReason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
}

// Clone returns a copy of j that can be handed out without sharing the
// mutable top-level fields.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
