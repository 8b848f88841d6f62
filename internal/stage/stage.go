// Package stage defines the contract every pipeline stage implements, the
// shared per-job context stages communicate through, and the error taxonomy
// that makes stage failures individually attributable.
package stage

import (
	"context"
	"io"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/matrix"
	"github.com/vk/pipegrid/internal/shell"
	"github.com/vk/pipegrid/internal/trigger"
)

// Stage is one named phase of a job's sequential pipeline.
type Stage interface {
	// Name identifies the stage in logs and job results.
	Name() string
	// Eligible reports whether the stage runs for the given trigger and job
	// spec. It is evaluated exactly once per job, before execution begins.
	Eligible(tr trigger.Trigger, spec matrix.JobSpec) bool
	// Run executes the stage against the job context. Stages run strictly
	// in sequence; each consumes what its predecessors left on the context.
	Run(ctx context.Context, jc *Context) error
}

// ArtifactSink receives a copy of every artifact a job produces. The zero
// sink discards.
type ArtifactSink interface {
	// Store writes one artifact under the given job-scoped name.
	Store(ctx context.Context, runID, name string, r io.Reader, size int64, contentType string) error
}

// Credentials resolves named credential environment variables. Values are
// read-only and forwarded at publish time, never persisted.
type Credentials interface {
	// Get returns the credential bound to the named environment variable.
	Get(name string) (string, bool)
}

// ProjectMeta is the package metadata introspected from the manifest during
// dependency resolution.
type ProjectMeta struct {
	Name    string
	Version string
}

// TestSummary is the recorded outcome of the test stage.
type TestSummary struct {
	Passed  int
	Failed  int
	Summary string
}

// Context carries everything a stage needs and everything it leaves behind
// for its successors. One Context exists per job; jobs never share one.
type Context struct {
	// RunID is the job's unique run identifier.
	RunID string
	// Spec is the matrix leg this job executes.
	Spec matrix.JobSpec
	// Trigger is the event that activated the run.
	Trigger trigger.Trigger
	// Pipeline is the loaded pipeline definition (read-only).
	Pipeline *config.Pipeline

	// Shell executes external commands for the job.
	Shell shell.Runner
	// Creds resolves credential environment variables.
	Creds Credentials
	// Artifacts receives copies of produced artifacts.
	Artifacts ArtifactSink

	// Workspace is the job-scoped scratch directory. Isolated per job.
	Workspace string
	// ProjectDir is the checked-out project the pipeline operates on.
	ProjectDir string
	// CacheDir is the shared toolchain cache consulted by the provisioner.
	CacheDir string

	// ToolchainDir is set by the provision stage.
	ToolchainDir string
	// EnvDir is the isolated dependency environment, set by the deps stage.
	EnvDir string
	// Project is set by the deps stage from the manifest.
	Project ProjectMeta

	// Tests is set by the test stage once the suite has run.
	Tests *TestSummary
	// CoveragePath and ResultsPath locate the structured reports emitted by
	// a coverage-mode test run.
	CoveragePath string
	ResultsPath  string
}

// Token resolves the credential named by envName. The empty envName returns
// an empty token, which gated stages treat as "not configured".
func (jc *Context) Token(envName string) string {
	if envName == "" || jc.Creds == nil {
		return ""
	}
	v, _ := jc.Creds.Get(envName)
	return v
}
