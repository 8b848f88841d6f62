package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/pipegrid/internal/artifact"
	"github.com/vk/pipegrid/internal/creds"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/deps"
	"github.com/vk/pipegrid/internal/docs"
	"github.com/vk/pipegrid/internal/job"
	"github.com/vk/pipegrid/internal/matrix"
	"github.com/vk/pipegrid/internal/orchestrator"
	"github.com/vk/pipegrid/internal/provision"
	"github.com/vk/pipegrid/internal/release"
	"github.com/vk/pipegrid/internal/report"
	"github.com/vk/pipegrid/internal/shell"
	"github.com/vk/pipegrid/internal/stage"
	"github.com/vk/pipegrid/internal/testexec"
)

// stageSequence is the full ordered stage pipeline; each job runs the
// subset its trigger and matrix leg make eligible.
func stageSequence() []stage.Stage {
	return []stage.Stage{
		provision.New(),
		deps.New(),
		testexec.New(),
		report.New(),
		docs.New(),
		release.New(),
	}
}

// Run executes the pipeline for the configured trigger: plan the matrix,
// verify gated credentials, then drive all jobs to a terminal state.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	tr := a.appCfg.Trigger
	a.logger.Info("Run starting.", "pipeline", a.pipeline.Name, "trigger", tr.String())

	specs, err := matrix.Plan(tr, a.pipeline)
	if err != nil {
		return fmt.Errorf("failed to plan matrix: %w", err)
	}
	a.logger.Debug("Matrix planned.", "jobs", len(specs))

	credentials := creds.NewEnv()
	// Gated stages must have their credentials before anything executes.
	if err := credentials.Validate(a.pipeline, specs); err != nil {
		return err
	}

	sink, err := a.artifactSink(credentials)
	if err != nil {
		return err
	}

	a.jobs = make([]*job.Job, 0, len(specs))
	for _, spec := range specs {
		a.jobs = append(a.jobs, job.New(spec, tr))
	}

	if a.appCfg.StatusPort > 0 {
		a.startStatusServer(a.appCfg.StatusPort)
		defer a.closeStatusServer()
	}

	workspaceRoot, err := a.workspaceRoot()
	if err != nil {
		return fmt.Errorf("failed to prepare workspace root: %w", err)
	}
	cacheRoot, err := a.cacheRoot()
	if err != nil {
		return fmt.Errorf("failed to prepare toolchain cache: %w", err)
	}

	newContext := func(j *job.Job) (*stage.Context, error) {
		// Every job gets its own scratch directory; matrix legs share
		// nothing mutable but the toolchain cache.
		workspace := filepath.Join(workspaceRoot, j.ID)
		if err := os.MkdirAll(workspace, 0o755); err != nil {
			return nil, err
		}
		return &stage.Context{
			RunID:      j.ID,
			Spec:       j.Spec,
			Trigger:    j.Trigger,
			Pipeline:   a.pipeline,
			Shell:      shell.Local{},
			Creds:      credentials,
			Artifacts:  sink,
			Workspace:  workspace,
			ProjectDir: a.appCfg.ProjectDir,
			CacheDir:   cacheRoot,
		}, nil
	}

	orch := orchestrator.New(a.jobs, stageSequence(), a.appCfg.WorkerCount, newContext)
	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	a.logger.Info("🏁 Run finished.", "jobs", len(a.jobs))
	return nil
}

// artifactSink builds the configured artifact store, or a discarding sink
// when none is declared.
func (a *App) artifactSink(credentials *creds.Env) (stage.ArtifactSink, error) {
	cfg := a.pipeline.Artifacts
	if cfg == nil {
		return artifact.Discard{}, nil
	}
	access, _ := credentials.Get(cfg.AccessKeyEnv)
	secret, _ := credentials.Get(cfg.SecretKeyEnv)
	store, err := artifact.NewS3Store(cfg, access, secret, a.pipeline.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to configure artifact store: %w", err)
	}
	return store, nil
}
