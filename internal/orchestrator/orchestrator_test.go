package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pipegrid/internal/job"
	"github.com/vk/pipegrid/internal/matrix"
	"github.com/vk/pipegrid/internal/stage"
	"github.com/vk/pipegrid/internal/trigger"
)

var pushTrigger = trigger.Trigger{Kind: trigger.Push, Ref: "main"}

// fakeStage is a scripted stage. Its Run function can be swapped per test;
// executions are recorded per run-ID so ordering is verifiable.
type fakeStage struct {
	name     string
	eligible func(trigger.Trigger, matrix.JobSpec) bool
	run      func(ctx context.Context, jc *stage.Context) error
	partial  bool

	mu   sync.Mutex
	runs []string
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Eligible(tr trigger.Trigger, spec matrix.JobSpec) bool {
	if f.eligible == nil {
		return true
	}
	return f.eligible(tr, spec)
}

func (f *fakeStage) Run(ctx context.Context, jc *stage.Context) error {
	f.mu.Lock()
	f.runs = append(f.runs, jc.RunID)
	f.mu.Unlock()
	if f.run == nil {
		return nil
	}
	return f.run(ctx, jc)
}

func (f *fakeStage) ReportsPartialResults() bool { return f.partial }

func (f *fakeStage) ranFor(runID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.runs {
		if id == runID {
			return true
		}
	}
	return false
}

func newJobs(n int) []*job.Job {
	jobs := make([]*job.Job, n)
	versions := []string{"3.9", "3.10", "3.11", "3.12"}
	for i := range jobs {
		jobs[i] = job.New(matrix.JobSpec{
			RuntimeVersion: versions[i%len(versions)],
			Role:           matrix.RoleTest,
			Coverage:       i == n-1,
		}, pushTrigger)
	}
	return jobs
}

func contextBuilder(j *job.Job) (*stage.Context, error) {
	return &stage.Context{RunID: j.ID, Spec: j.Spec, Trigger: j.Trigger}, nil
}

func stageStatus(t *testing.T, j *job.Job, name string) job.StageStatus {
	t.Helper()
	for _, r := range j.Snapshot().Stages {
		if r.Stage == name {
			return r.Status
		}
	}
	t.Fatalf("stage %s not recorded for job %s", name, j.Spec.Label())
	return ""
}

func TestRun(t *testing.T) {
	t.Run("all jobs succeed through the stage sequence", func(t *testing.T) {
		first := &fakeStage{name: "provision"}
		second := &fakeStage{name: "test"}
		jobs := newJobs(3)

		o := New(jobs, []stage.Stage{first, second}, 2, contextBuilder)
		require.NoError(t, o.Run(context.Background()))

		for _, j := range jobs {
			assert.Equal(t, job.Succeeded, j.State())
			assert.True(t, first.ranFor(j.ID))
			assert.True(t, second.ranFor(j.ID))
		}
	})

	t.Run("empty plan is a successful no-op", func(t *testing.T) {
		o := New(nil, []stage.Stage{&fakeStage{name: "test"}}, 4, contextBuilder)
		assert.NoError(t, o.Run(context.Background()))
	})

	t.Run("a failed job does not cancel its siblings", func(t *testing.T) {
		boom := errors.New("toolchain install failed")
		provision := &fakeStage{name: "provision", run: func(_ context.Context, jc *stage.Context) error {
			if jc.Spec.RuntimeVersion == "3.10" {
				return boom
			}
			return nil
		}}
		test := &fakeStage{name: "test"}
		jobs := newJobs(4)

		o := New(jobs, []stage.Stage{provision, test}, 4, contextBuilder)
		err := o.Run(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)

		var failed, succeeded int
		for _, j := range jobs {
			if j.Failed() {
				failed++
				assert.Equal(t, job.StageSkipped, stageStatus(t, j, "test"))
			} else {
				succeeded++
				assert.Equal(t, job.Succeeded, j.State())
			}
		}
		assert.Equal(t, 1, failed)
		assert.Equal(t, 3, succeeded)
	})

	t.Run("test failure still reports but skips publish stages", func(t *testing.T) {
		test := &fakeStage{name: "test", run: func(context.Context, *stage.Context) error {
			return &stage.TestFailure{Failed: 2}
		}}
		report := &fakeStage{name: "report", partial: true}
		docs := &fakeStage{name: "docs"}
		jobs := newJobs(1)

		o := New(jobs, []stage.Stage{test, report, docs}, 1, contextBuilder)
		err := o.Run(context.Background())
		require.Error(t, err)

		j := jobs[0]
		assert.True(t, j.Failed())
		var tf *stage.TestFailure
		assert.ErrorAs(t, j.Err(), &tf)

		assert.True(t, report.ranFor(j.ID), "reporter must run after a test failure")
		assert.False(t, docs.ranFor(j.ID), "publish stages must not ship a failing build")
		assert.Equal(t, job.StageFailed, stageStatus(t, j, "test"))
		assert.Equal(t, job.StagePassed, stageStatus(t, j, "report"))
		assert.Equal(t, job.StageSkipped, stageStatus(t, j, "docs"))
	})

	t.Run("a reporter failure after a test failure keeps the test outcome", func(t *testing.T) {
		test := &fakeStage{name: "test", run: func(context.Context, *stage.Context) error {
			return &stage.TestFailure{Failed: 1}
		}}
		report := &fakeStage{name: "report", partial: true, run: func(context.Context, *stage.Context) error {
			return &stage.UploadError{Endpoint: "https://t.example.com", Err: errors.New("503")}
		}}
		jobs := newJobs(1)

		o := New(jobs, []stage.Stage{test, report}, 1, contextBuilder)
		require.Error(t, o.Run(context.Background()))

		j := jobs[0]
		assert.True(t, j.Failed())
		assert.Equal(t, job.StageFailed, stageStatus(t, j, "test"))
		assert.Equal(t, job.StageFailed, stageStatus(t, j, "report"))
	})

	t.Run("ineligible stages are excluded from the plan", func(t *testing.T) {
		report := &fakeStage{name: "report", eligible: func(_ trigger.Trigger, spec matrix.JobSpec) bool {
			return spec.Coverage
		}}
		jobs := newJobs(3)

		o := New(jobs, []stage.Stage{&fakeStage{name: "test"}, report}, 3, contextBuilder)
		require.NoError(t, o.Run(context.Background()))

		for _, j := range jobs {
			assert.Equal(t, j.Spec.Coverage, report.ranFor(j.ID))
		}
	})

	t.Run("cancellation fails jobs and skips their remaining stages", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		started := make(chan struct{})
		slow := &fakeStage{name: "provision", run: func(ctx context.Context, _ *stage.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}}
		test := &fakeStage{name: "test"}
		jobs := newJobs(1)

		o := New(jobs, []stage.Stage{slow, test}, 1, contextBuilder)
		go func() {
			<-started
			cancel()
		}()
		err := o.Run(ctx)
		require.Error(t, err)

		j := jobs[0]
		assert.True(t, j.Failed())
		assert.False(t, test.ranFor(j.ID))
	})

	t.Run("a context builder failure fails only that job", func(t *testing.T) {
		jobs := newJobs(2)
		broken := jobs[0].ID
		builder := func(j *job.Job) (*stage.Context, error) {
			if j.ID == broken {
				return nil, errors.New("workspace disk full")
			}
			return contextBuilder(j)
		}

		o := New(jobs, []stage.Stage{&fakeStage{name: "test"}}, 2, builder)
		err := o.Run(context.Background())
		require.Error(t, err)
		assert.True(t, jobs[0].Failed())
		assert.Equal(t, job.Succeeded, jobs[1].State())
	})

	t.Run("worker pool bounds concurrency", func(t *testing.T) {
		var active, peak atomic.Int32
		slow := &fakeStage{name: "test", run: func(context.Context, *stage.Context) error {
			cur := active.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
			return nil
		}}
		jobs := newJobs(8)

		o := New(jobs, []stage.Stage{slow}, 2, contextBuilder)
		require.NoError(t, o.Run(context.Background()))
		assert.LessOrEqual(t, peak.Load(), int32(2))
	})

	t.Run("aggregated error names every failed job", func(t *testing.T) {
		test := &fakeStage{name: "test", run: func(_ context.Context, jc *stage.Context) error {
			if jc.Spec.RuntimeVersion != "3.12" {
				return &stage.ExecutionError{Err: errors.New("runner crashed")}
			}
			return nil
		}}
		jobs := newJobs(4)

		o := New(jobs, []stage.Stage{test}, 4, contextBuilder)
		err := o.Run(context.Background())
		require.Error(t, err)
		assert.ErrorContains(t, err, "run failed for")
		assert.ErrorContains(t, err, "3.9")
		assert.ErrorContains(t, err, "3.10")
		assert.ErrorContains(t, err, "3.11")
	})
}

func TestStateFor(t *testing.T) {
	assert.Equal(t, job.Provisioning, stateFor("provision"))
	assert.Equal(t, job.Installing, stateFor("install"))
	assert.Equal(t, job.Testing, stateFor("test"))
	assert.Equal(t, job.Reporting, stateFor("report"))
	assert.Equal(t, job.PublishingDocs, stateFor("docs"))
	assert.Equal(t, job.PublishingPackage, stateFor("release"))
	assert.Equal(t, job.Pending, stateFor("unknown"))
}
