package migration

import (
	"time"

	"github.com/quizdesk/quizstore/internal/store"
)

// Phase is a state of the migration state machine.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseBackingUp          Phase = "backing_up"
	PhaseInitializingSchema Phase = "initializing_schema"
	PhaseTransferring       Phase = "transferring"
	PhaseVerifying          Phase = "verifying"
	PhaseCommitted          Phase = "committed"
	PhaseFailed             Phase = "failed"
)

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseCommitted || p == PhaseFailed
}

// Report kinds.
const (
	KindMigration    = "migration"
	KindVerification = "verification"
)

// EntityReport holds the per-entity counts of a run.
type EntityReport struct {
	Entity string `json:"entity"`
	// Source is the number of entries in the source document.
	Source int64 `json:"source"`
	// Transferred is the number of records inserted, or that would be
	// inserted for a verification-only run.
	Transferred int64 `json:"transferred"`
	Skipped     int64 `json:"skipped"`
	Destination int64 `json:"destination"`
}

// Matches reports whether the destination holds exactly the records
// that were transferred.
func (e EntityReport) Matches() bool {
	return e.Destination == e.Transferred
}

// Skip describes a source record left out of the transfer.
type Skip struct {
	Entity string `json:"entity"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Report is the outcome of a migration or verification run.
type Report struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	// Phase is the terminal phase reached.
	Phase Phase `json:"phase"`
	// FailedPhase is the phase that was active when the run failed.
	FailedPhase    Phase          `json:"failed_phase,omitempty"`
	Error          string         `json:"error,omitempty"`
	NoBackup       bool           `json:"no_backup"`
	Force          bool           `json:"force"`
	BackupLocation string         `json:"backup_location,omitempty"`
	Phases         []Phase        `json:"phases"`
	Entities       []EntityReport `json:"entities"`
	Skipped        []Skip         `json:"skipped,omitempty"`
	Issues         []store.Issue  `json:"issues,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`

	current Phase
}

func (r *Report) enter(p Phase) {
	r.current = p
	r.Phases = append(r.Phases, p)
}

func (r *Report) entity(name string) *EntityReport {
	for i := range r.Entities {
		if r.Entities[i].Entity == name {
			return &r.Entities[i]
		}
	}
	r.Entities = append(r.Entities, EntityReport{Entity: name})
	return &r.Entities[len(r.Entities)-1]
}

// Succeeded reports whether the run reached the committed phase.
func (r *Report) Succeeded() bool {
	return r.Phase == PhaseCommitted
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
