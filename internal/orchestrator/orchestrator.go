// Package orchestrator drives the planned jobs of a run to completion on a
// fixed worker pool. Jobs are independent and unordered; the only ordering
// the orchestrator enforces is each job's own sequential stage plan.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/job"
	"github.com/vk/pipegrid/internal/stage"
)

// ContextBuilder prepares the per-job stage context, including the job's
// isolated workspace. It is called once per job, on the worker goroutine.
type ContextBuilder func(j *job.Job) (*stage.Context, error)

// partialReporter marks stages that still run after a recorded TestFailure,
// so partial results can reach the telemetry service.
type partialReporter interface {
	ReportsPartialResults() bool
}

// Orchestrator executes a set of jobs against a stage sequence.
type Orchestrator struct {
	jobs       []*job.Job
	stages     []stage.Stage
	workers    int
	newContext ContextBuilder
}

// New builds an orchestrator. The stage slice is the full ordered sequence;
// each job runs the subset its trigger and spec make eligible.
func New(jobs []*job.Job, stages []stage.Stage, workers int, newContext ContextBuilder) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) && len(jobs) > 0 {
		workers = len(jobs)
	}
	return &Orchestrator{
		jobs:       jobs,
		stages:     stages,
		workers:    workers,
		newContext: newContext,
	}
}

// Run executes all jobs and blocks until they reach a terminal state. The
// returned error aggregates every failed job, with the first failure as the
// root cause. A failed job never cancels its siblings; only ctx does.
func (o *Orchestrator) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	if len(o.jobs) == 0 {
		logger.Warn("No jobs planned for this trigger, nothing to execute.")
		return nil
	}

	jobsChan := make(chan *job.Job, len(o.jobs))
	for _, j := range o.jobs {
		jobsChan <- j
	}
	close(jobsChan)

	logger.Debug("Starting worker pool.", "workers", o.workers, "jobs", len(o.jobs))
	var wg sync.WaitGroup
	wg.Add(o.workers)
	for i := 0; i < o.workers; i++ {
		go func(workerID int) {
			defer wg.Done()
			for j := range jobsChan {
				o.runJob(ctx, j, workerID)
			}
		}(i)
	}

	logger.Info("Waiting for all jobs to complete...")
	wg.Wait()
	logger.Info("All jobs completed.")

	var failed []string
	var rootCause error
	for _, j := range o.jobs {
		if !j.Failed() {
			continue
		}
		failed = append(failed, j.Spec.Label())
		logger.Error("Job failed.", "job", j.Spec.Label(), "error", j.Err())
		if rootCause == nil {
			rootCause = j.Err()
		}
	}
	if rootCause != nil {
		return fmt.Errorf("run failed for %s: %w", strings.Join(failed, ", "), rootCause)
	}
	return nil
}

// runJob drives one job through its eligible stages in strict sequence.
func (o *Orchestrator) runJob(ctx context.Context, j *job.Job, workerID int) {
	logger := ctxlog.FromContext(ctx).With("workerID", workerID, "job", j.Spec.Label(), "runID", j.ID)
	logger.Info("▶️ Job started.")

	jc, err := o.newContext(j)
	if err != nil {
		logger.Error("Failed to prepare job workspace.", "error", err)
		j.Fail(err)
		return
	}

	// Evaluate each stage's predicate exactly once, before execution.
	plan := make([]stage.Stage, 0, len(o.stages))
	for _, st := range o.stages {
		if st.Eligible(j.Trigger, j.Spec) {
			plan = append(plan, st)
		}
	}

	var testFailure error
	for i, st := range plan {
		if err := ctx.Err(); err != nil {
			logger.Warn("Job cancelled, skipping remaining stages.", "stage", st.Name())
			o.skipRemaining(j, plan[i:], err)
			j.Fail(err)
			return
		}

		// After a recorded test failure only partial-result reporting runs;
		// publish stages must not ship a failing build.
		if testFailure != nil {
			if pr, ok := st.(partialReporter); !ok || !pr.ReportsPartialResults() {
				j.RecordStage(st.Name(), job.StageSkipped, 0, nil)
				continue
			}
		}

		j.SetState(stateFor(st.Name()))
		start := time.Now()
		runErr := st.Run(ctx, jc)
		elapsed := time.Since(start)

		if runErr == nil {
			j.RecordStage(st.Name(), job.StagePassed, elapsed, nil)
			continue
		}

		j.RecordStage(st.Name(), job.StageFailed, elapsed, runErr)

		var tf *stage.TestFailure
		if errors.As(runErr, &tf) {
			// Non-fatal: the job will end up failed, but later reporting
			// still happens.
			logger.Warn("Test stage recorded failures, continuing to reporting.", "error", runErr)
			testFailure = runErr
			continue
		}

		logger.Error("Stage failed, aborting job.", "stage", st.Name(), "error", runErr)
		o.skipRemaining(j, plan[i+1:], nil)
		j.Fail(runErr)
		return
	}

	if testFailure != nil {
		logger.Warn("🏁 Job finished with test failures.")
		j.Fail(testFailure)
		return
	}
	logger.Info("✅ Job succeeded.")
	j.Succeed()
}

// skipRemaining records the stages a job never reached.
func (o *Orchestrator) skipRemaining(j *job.Job, stages []stage.Stage, cause error) {
	for _, st := range stages {
		j.RecordStage(st.Name(), job.StageSkipped, 0, cause)
	}
}

// stateFor maps a stage name onto the job state machine.
func stateFor(name string) job.State {
	switch name {
	case "provision":
		return job.Provisioning
	case "install":
		return job.Installing
	case "test":
		return job.Testing
	case "report":
		return job.Reporting
	case "docs":
		return job.PublishingDocs
	case "release":
		return job.PublishingPackage
	default:
		return job.Pending
	}
}
