// Package job models one isolated execution of the pipeline stage sequence
// for a single matrix leg, including its state machine and per-stage
// results. Jobs are created when a trigger activates and carry no state
// across runs.
package job

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vk/pipegrid/internal/matrix"
	"github.com/vk/pipegrid/internal/trigger"
)

// State is the job's position in its lifecycle.
type State int32

const (
	// Pending indicates the job is waiting for a worker.
	Pending State = iota
	// Provisioning indicates the runtime toolchain is being installed.
	Provisioning
	// Installing indicates the locked dependency set is being materialized.
	Installing
	// Testing indicates the test suite is running.
	Testing
	// Reporting indicates coverage and results are being uploaded.
	Reporting
	// PublishingDocs indicates the documentation site is being published.
	PublishingDocs
	// PublishingPackage indicates the release artifact is being published.
	PublishingPackage
	// Succeeded is the terminal success state.
	Succeeded
	// Failed is the terminal failure state.
	Failed
)

// String renders the state for logs and the status API.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Provisioning:
		return "provisioning"
	case Installing:
		return "installing"
	case Testing:
		return "testing"
	case Reporting:
		return "reporting"
	case PublishingDocs:
		return "publishing-docs"
	case PublishingPackage:
		return "publishing-package"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// StageStatus is the recorded outcome of one stage within a job.
type StageStatus string

const (
	StagePassed  StageStatus = "passed"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// StageResult is one entry in a job's stage ledger.
type StageResult struct {
	Stage    string        `json:"stage"`
	Status   StageStatus   `json:"status"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// Job is one isolated run of the stage sequence for a matrix leg.
type Job struct {
	// ID is the unique run identifier.
	ID string
	// Spec is the matrix leg this job executes.
	Spec matrix.JobSpec
	// Trigger is the event that created the job.
	Trigger trigger.Trigger

	state atomic.Int32

	mu       sync.Mutex
	stages   []StageResult
	err      error
	failDone bool
}

// New creates a Pending job for the given leg and trigger.
func New(spec matrix.JobSpec, tr trigger.Trigger) *Job {
	return &Job{
		ID:      uuid.NewString(),
		Spec:    spec,
		Trigger: tr,
	}
}

// SetState atomically moves the job to the given state.
func (j *Job) SetState(s State) {
	j.state.Store(int32(s))
}

// State atomically reads the job's current state.
func (j *Job) State() State {
	return State(j.state.Load())
}

// RecordStage appends one stage outcome to the job's ledger.
func (j *Job) RecordStage(stage string, status StageStatus, d time.Duration, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	r := StageResult{Stage: stage, Status: status, Duration: d}
	if err != nil {
		r.Error = err.Error()
	}
	j.stages = append(j.stages, r)
}

// Fail moves the job to the terminal Failed state, keeping the first error
// as the job's error. Safe to call more than once.
func (j *Job) Fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.failDone {
		j.err = err
		j.failDone = true
	}
	j.state.Store(int32(Failed))
}

// Succeed moves the job to the terminal Succeeded state.
func (j *Job) Succeed() {
	j.state.Store(int32(Succeeded))
}

// Failed reports whether the job ended in the Failed state.
func (j *Job) Failed() bool {
	return j.State() == Failed
}

// Err returns the job's recorded error, nil if it succeeded.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Snapshot is a race-free, JSON-friendly view of a job for the status API.
type Snapshot struct {
	ID       string        `json:"id"`
	Runtime  string        `json:"runtime"`
	Coverage bool          `json:"coverage"`
	Role     string        `json:"role"`
	State    string        `json:"state"`
	Stages   []StageResult `json:"stages"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot returns a copy of the job's current state and stage ledger.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		ID:       j.ID,
		Runtime:  j.Spec.RuntimeVersion,
		Coverage: j.Spec.Coverage,
		Role:     string(j.Spec.Role),
		State:    State(j.state.Load()).String(),
		Stages:   append([]StageResult(nil), j.stages...),
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	return s
}
