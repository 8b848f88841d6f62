// Package provision implements the environment-provisioner stage: it
// installs the requested runtime version and verifies the dependency
// manager, making both available to later stages of the same job.
package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/matrix"
	"github.com/vk/pipegrid/internal/shell"
	"github.com/vk/pipegrid/internal/stage"
	"github.com/vk/pipegrid/internal/trigger"
)

// marker is written into a toolchain directory once provisioning completes.
// Its presence makes re-provisioning the same version a no-op.
const marker = ".provisioned"

// Stage installs the runtime toolchain for a job.
type Stage struct{}

// New returns the provision stage.
func New() *Stage {
	return &Stage{}
}

// Name implements stage.Stage.
func (s *Stage) Name() string { return "provision" }

// Eligible implements stage.Stage. Every job provisions.
func (s *Stage) Eligible(trigger.Trigger, matrix.JobSpec) bool { return true }

// Run installs the requested runtime version into the shared toolchain
// cache, or reuses an already-provisioned one.
func (s *Stage) Run(ctx context.Context, jc *stage.Context) error {
	version := jc.Spec.RuntimeVersion
	logger := ctxlog.FromContext(ctx).With("stage", s.Name(), "runtime", version)

	dir := filepath.Join(jc.CacheDir, "toolchains", version)
	if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
		logger.Debug("Toolchain already provisioned, reusing.", "dir", dir)
		jc.ToolchainDir = dir
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &stage.ProvisionError{Version: version, Err: err}
	}

	install := fmt.Sprintf("%s %s", jc.Pipeline.Runtime.InstallCommand, version)
	opts := shell.Options{Env: []string{"TOOLCHAIN_DIR=" + dir}}

	logger.Info("Provisioning runtime toolchain.")
	res, err := jc.Shell.Run(ctx, opts, install)
	if err != nil {
		return &stage.ProvisionError{Version: version, Err: err}
	}
	if res.ExitCode != 0 {
		return &stage.ProvisionError{
			Version: version,
			Err:     fmt.Errorf("installer exited with code %d: %s", res.ExitCode, shell.Tail(res.Output, 3)),
		}
	}

	// The dependency manager must be usable before any later stage relies
	// on it.
	res, err = jc.Shell.Run(ctx, opts, jc.Pipeline.Runtime.Manager+" --version")
	if err != nil {
		return &stage.ProvisionError{Version: version, Err: err}
	}
	if res.ExitCode != 0 {
		return &stage.ProvisionError{
			Version: version,
			Err:     fmt.Errorf("dependency manager %q unavailable: %s", jc.Pipeline.Runtime.Manager, shell.Tail(res.Output, 3)),
		}
	}

	if err := os.WriteFile(filepath.Join(dir, marker), []byte(version+"\n"), 0o644); err != nil {
		return &stage.ProvisionError{Version: version, Err: err}
	}

	jc.ToolchainDir = dir
	logger.Info("Runtime toolchain ready.", "dir", dir)
	return nil
}
