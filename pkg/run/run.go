package run

import (
	"time"

	"github.com/google/uuid"

	"github.com/shipd-io/shipd/pkg/image"
	"github.com/shipd-io/shipd/pkg/trigger"
)

type ID string

func NewID() ID {
	return ID(uuid.New().String())
}

// Status is the overall state of a run. Terminal statuses are
// "succeeded" and "failed"; "awaiting-approval" is a durable
// suspension, not a terminal state.
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusSucceeded        Status = "succeeded"
	StatusFailed           Status = "failed"
	StatusAwaitingApproval Status = "awaiting-approval"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageResult records one stage's execution within a run. Once the
// status is terminal the result is append-only; nothing rewrites it.
type StageResult struct {
	Name        StageName   `json:"name"`
	Status      StageStatus `json:"status"`
	Started     *time.Time  `json:"started,omitempty"`
	Ended       *time.Time  `json:"ended,omitempty"`
	ArtifactRef string      `json:"artifactRef,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Run is one execution of the pipeline for a revision. It is owned
// exclusively by the orchestrator; everyone else reads copies.
type Run struct {
	ID       ID             `json:"id"`
	Revision image.Revision `json:"revision"`
	Trigger  trigger.Kind   `json:"trigger"`
	Branch   string         `json:"branch"`
	Status   Status         `json:"status"`
	Stages   []StageResult  `json:"stages"`

	// Image is set once docker_build has produced something; its scan
	// outcome is attached by the scan, and nothing changes after
	// publish.
	Image *image.Image `json:"image,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New creates a pending run for a trigger event, with every stage of
// the fixed topology pending.
func New(ev trigger.Event) *Run {
	now := time.Now().UTC()
	r := &Run{
		ID:        NewID(),
		Revision:  ev.Revision,
		Trigger:   ev.Kind,
		Branch:    ev.Branch,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, name := range AllStages {
		r.Stages = append(r.Stages, StageResult{Name: name, Status: StagePending})
	}
	return r
}

// Stage returns a pointer to the named stage's result, or nil if the
// name is not part of the topology.
func (r *Run) Stage(name StageName) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i]
		}
	}
	return nil
}

func (r *Run) StageStatus(name StageName) StageStatus {
	if s := r.Stage(name); s != nil {
		return s.Status
	}
	return ""
}

func (r *Run) StartStage(name StageName) {
	if s := r.Stage(name); s != nil {
		now := time.Now().UTC()
		s.Status = StageRunning
		s.Started = &now
		r.UpdatedAt = now
	}
}

func (r *Run) FinishStage(name StageName, err error) {
	s := r.Stage(name)
	if s == nil {
		return
	}
	now := time.Now().UTC()
	s.Ended = &now
	r.UpdatedAt = now
	if err != nil {
		s.Status = StageFailed
		s.Error = err.Error()
		return
	}
	s.Status = StageSucceeded
}

// SkipDownstream marks every not-yet-started stage downstream of name
// as skipped. Already-terminal stages are left alone.
func (r *Run) SkipDownstream(name StageName) {
	for _, dep := range Downstream(name) {
		s := r.Stage(dep)
		if s == nil {
			continue
		}
		switch s.Status {
		case StagePending, StageRunning:
			s.Status = StageSkipped
		}
	}
	r.UpdatedAt = time.Now().UTC()
}

func (r *Run) SetStatus(status Status) {
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
}

// Copy returns a deep enough copy for handing out of the
// orchestrator's lock.
func (r *Run) Copy() *Run {
	c := *r
	c.Stages = append([]StageResult(nil), r.Stages...)
	if r.Image != nil {
		img := *r.Image
		c.Image = &img
	}
	return &c
}
