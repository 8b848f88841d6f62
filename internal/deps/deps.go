// Package deps implements the dependency resolver/installer stage: it reads
// the lockfile-backed manifest and materializes exactly the locked versions
// into an isolated, job-scoped environment.
package deps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/matrix"
	"github.com/vk/pipegrid/internal/shell"
	"github.com/vk/pipegrid/internal/stage"
	"github.com/vk/pipegrid/internal/trigger"
)

// Manifest is the project's dependency declaration.
type Manifest struct {
	Name         string        `yaml:"name"`
	Version      string        `yaml:"version"`
	Dependencies []Requirement `yaml:"dependencies"`
}

// Requirement is one declared dependency with its version constraint.
type Requirement struct {
	Name string `yaml:"name"`
	Spec string `yaml:"spec"`
}

// Lockfile pins the exact versions resolved from a specific manifest.
type Lockfile struct {
	// ManifestDigest is "sha256:<hex>" of the manifest the lock was
	// generated from. A mismatch means the lock is stale.
	ManifestDigest string `yaml:"manifest_digest"`
	Packages       []Pin  `yaml:"packages"`
}

// Pin is one exactly-versioned package in the lockfile.
type Pin struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Digest computes the manifest digest recorded in a lockfile.
func Digest(manifest []byte) string {
	sum := sha256.Sum256(manifest)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Verify checks that the lockfile was generated from this manifest and pins
// every declared dependency.
func Verify(manifestRaw []byte, m *Manifest, lock *Lockfile) error {
	if lock.ManifestDigest != Digest(manifestRaw) {
		return fmt.Errorf("lockfile is out of date with the manifest")
	}
	pinned := make(map[string]bool, len(lock.Packages))
	for _, p := range lock.Packages {
		if p.Name == "" || p.Version == "" {
			return fmt.Errorf("lockfile pin %q is incomplete", p.Name)
		}
		pinned[p.Name] = true
	}
	for _, req := range m.Dependencies {
		if !pinned[req.Name] {
			return fmt.Errorf("dependency %q declared in manifest but not pinned in lockfile", req.Name)
		}
	}
	return nil
}

// Stage materializes the locked dependency set for a job.
type Stage struct{}

// New returns the dependency-installation stage.
func New() *Stage {
	return &Stage{}
}

// Name implements stage.Stage.
func (s *Stage) Name() string { return "install" }

// Eligible implements stage.Stage. Every job installs its dependencies.
func (s *Stage) Eligible(trigger.Trigger, matrix.JobSpec) bool { return true }

// Run reads the manifest and lockfile, verifies their consistency, and
// installs the pinned versions into a job-scoped environment directory.
func (s *Stage) Run(ctx context.Context, jc *stage.Context) error {
	cfg := jc.Pipeline.Dependencies
	logger := ctxlog.FromContext(ctx).With("stage", s.Name())

	manifestPath := filepath.Join(jc.ProjectDir, cfg.Manifest)
	lockPath := filepath.Join(jc.ProjectDir, cfg.Lockfile)
	fail := func(err error) error {
		return &stage.ResolutionError{Lockfile: cfg.Lockfile, Err: err}
	}

	manifestRaw, err := os.ReadFile(manifestPath)
	if err != nil {
		return fail(fmt.Errorf("read manifest: %w", err))
	}
	var manifest Manifest
	if err := yaml.Unmarshal(manifestRaw, &manifest); err != nil {
		return fail(fmt.Errorf("manifest is corrupt: %w", err))
	}

	lockRaw, err := os.ReadFile(lockPath)
	if err != nil {
		return fail(fmt.Errorf("read lockfile: %w", err))
	}
	var lock Lockfile
	if err := yaml.Unmarshal(lockRaw, &lock); err != nil {
		return fail(fmt.Errorf("lockfile is corrupt: %w", err))
	}

	if err := Verify(manifestRaw, &manifest, &lock); err != nil {
		return fail(err)
	}

	envDir := filepath.Join(jc.Workspace, "env")
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		return fail(err)
	}

	// Write the pins to a requirements file so the whole locked set installs
	// in one manager invocation.
	pins := make([]string, 0, len(lock.Packages))
	for _, p := range lock.Packages {
		pins = append(pins, p.Name+"=="+p.Version)
	}
	pinsPath := filepath.Join(jc.Workspace, "requirements.lock")
	if err := os.WriteFile(pinsPath, []byte(strings.Join(pins, "\n")+"\n"), 0o644); err != nil {
		return fail(err)
	}

	opts := shell.Options{
		Dir: jc.ProjectDir,
		Env: []string{"TOOLCHAIN_DIR=" + jc.ToolchainDir},
	}
	manager := jc.Pipeline.Runtime.Manager

	logger.Info("Installing locked dependencies.", "packages", len(lock.Packages), "env", envDir)
	install := fmt.Sprintf("%s install --no-deps --prefix %s -r %s", manager, envDir, pinsPath)
	res, err := jc.Shell.Run(ctx, opts, install)
	if err != nil {
		return fail(err)
	}
	if res.ExitCode != 0 {
		return fail(fmt.Errorf("install exited with code %d: %s", res.ExitCode, shell.Tail(res.Output, 3)))
	}

	// Documentation builds introspect the package itself, so the docs job
	// additionally installs the project in editable mode.
	if jc.Spec.Role == matrix.RoleDocs {
		editable := fmt.Sprintf("%s install --prefix %s -e %s", manager, envDir, jc.ProjectDir)
		res, err := jc.Shell.Run(ctx, opts, editable)
		if err != nil {
			return fail(err)
		}
		if res.ExitCode != 0 {
			return fail(fmt.Errorf("editable install exited with code %d: %s", res.ExitCode, shell.Tail(res.Output, 3)))
		}
	}

	jc.EnvDir = envDir
	jc.Project = stage.ProjectMeta{Name: manifest.Name, Version: manifest.Version}
	logger.Info("Dependency environment ready.", "project", manifest.Name, "version", manifest.Version)
	return nil
}
