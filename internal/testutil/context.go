package testutil

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/creds"
	"github.com/vk/pipegrid/internal/matrix"
	"github.com/vk/pipegrid/internal/stage"
	"github.com/vk/pipegrid/internal/trigger"
)

// MemorySink collects stored artifacts in memory for assertions.
type MemorySink struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemorySink returns an empty in-memory artifact sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{blobs: make(map[string][]byte)}
}

// Store implements stage.ArtifactSink.
func (s *MemorySink) Store(_ context.Context, runID, name string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[runID+"/"+name] = data
	return nil
}

// Get returns the stored artifact bytes, if any.
func (s *MemorySink) Get(runID, name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[runID+"/"+name]
	return data, ok
}

// Names lists the stored artifact keys.
func (s *MemorySink) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		names = append(names, k)
	}
	return names
}

// DefaultPipeline returns a pipeline definition covering every block, with
// version 3.12 carrying coverage.
func DefaultPipeline() *config.Pipeline {
	return &config.Pipeline{
		Name:          "demo",
		PrimaryBranch: "main",
		Runtime: config.Runtime{
			Versions:        []string{"3.11", "3.12"},
			CoverageVersion: "3.12",
			InstallCommand:  "pyenv install -s",
			Manager:         "pip",
		},
		Dependencies: config.Dependencies{
			Manifest: "project.yaml",
			Lockfile: "project.lock",
		},
		Tests: config.Tests{Command: "python -m pytest"},
		Telemetry: &config.Telemetry{
			Endpoint: "https://telemetry.example.com/upload",
			TokenEnv: "TELEMETRY_TOKEN",
		},
		Docs: &config.Docs{
			Source:   "docs",
			Branch:   "gh-pages",
			Remote:   "https://github.com/example/demo.git",
			TokenEnv: "DOCS_TOKEN",
		},
		Release: &config.Release{
			Registry: "https://registry.example.com/upload",
			TokenEnv: "REGISTRY_TOKEN",
		},
	}
}

// NewContext builds a job context wired with a fake runner, an in-memory
// sink, static credentials, and temp workspace/project directories.
func NewContext(t *testing.T, spec matrix.JobSpec, tr trigger.Trigger) (*stage.Context, *FakeRunner, *MemorySink) {
	t.Helper()

	runner := NewFakeRunner()
	sink := NewMemorySink()
	jc := &stage.Context{
		RunID:    "run-test",
		Spec:     spec,
		Trigger:  tr,
		Pipeline: DefaultPipeline(),
		Shell:    runner,
		Creds: creds.NewStatic(map[string]string{
			"TELEMETRY_TOKEN": "tele-secret",
			"DOCS_TOKEN":      "docs-secret",
			"REGISTRY_TOKEN":  "reg-secret",
		}),
		Artifacts:  sink,
		Workspace:  t.TempDir(),
		ProjectDir: t.TempDir(),
		CacheDir:   t.TempDir(),
	}
	return jc, runner, sink
}
