// Package models contains shared data models used across the ReelQueue codebase.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job. Values match jobs.status in the database.
type Status string

const (
	JobStatusPending Status = "pending"
	JobStatusRunning Status = "running"
	JobStatusDone    Status = "done"
	JobStatusFailed  Status = "failed"
)

// Terminal reports whether no further worker-driven transition is allowed.
func (s Status) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

var validTransitions = map[Status][]Status{
	JobStatusPending: {JobStatusRunning, JobStatusFailed},
	JobStatusRunning: {JobStatusDone, JobStatusFailed},
}

// CanTransition reports whether from -> to is a normal transition.
// pending -> failed covers jobs rejected before a handler runs (unknown kind, cancellation).
// Stuck-job recovery (running -> pending) is a maintenance action and is not listed.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Kind selects which job handler applies.
type Kind string

const (
	KindScriptBreakdown Kind = "script-breakdown"
	KindRoto            Kind = "roto"
	KindColorGrade      Kind = "color-grade"
	KindMeshGenerate    Kind = "mesh-generate"
	KindAudioClean      Kind = "audio-clean"
)

// AllKinds returns every job kind the system knows about. The worker refuses to
// start unless each one has a registered handler.
func AllKinds() []Kind {
	return []Kind{KindScriptBreakdown, KindRoto, KindColorGrade, KindMeshGenerate, KindAudioClean}
}

func (k Kind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Job is the durable unit of work. Clients create it pending; the dispatcher claims it;
// a handler writes exactly one terminal result.
type Job struct {
	ID          uuid.UUID       `db:"id"           json:"id"`
	OwnerID     uuid.UUID       `db:"owner_id"     json:"owner_id"`
	ScopeID     *uuid.UUID      `db:"scope_id"     json:"scope_id,omitempty"`
	Kind        Kind            `db:"kind"         json:"kind"`
	Status      Status          `db:"status"       json:"status"`
	Input       json.RawMessage `db:"input"        json:"input"`
	Output      json.RawMessage `db:"output"       json:"output,omitempty"`
	Error       *string         `db:"error"        json:"error,omitempty"`
	Attempts    int             `db:"attempts"     json:"attempts"`
	StartedAt   *time.Time      `db:"started_at"   json:"started_at,omitempty"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time       `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"   json:"updated_at"`
}

// Validate checks that output, error and completed_at agree with the status.
func (j *Job) Validate() error {
	switch j.Status {
	case JobStatusPending, JobStatusRunning:
		if j.Output != nil || j.Error != nil || j.CompletedAt != nil {
			return fmt.Errorf("job %s: %s job must not carry a result", j.ID, j.Status)
		}
	case JobStatusDone:
		if j.Output == nil || j.Error != nil {
			return fmt.Errorf("job %s: done job requires output and no error", j.ID)
		}
	case JobStatusFailed:
		if j.Error == nil || j.Output != nil {
			return fmt.Errorf("job %s: failed job requires error and no output", j.ID)
		}
	default:
		return fmt.Errorf("job %s: unknown status %q", j.ID, j.Status)
	}
	if j.Status.Terminal() && j.CompletedAt == nil {
		return fmt.Errorf("job %s: terminal job requires completed_at", j.ID)
	}
	return nil
}
