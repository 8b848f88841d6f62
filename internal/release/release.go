// Package release implements the release packager/publisher stage: it
// builds a versioned distributable archive and publishes it to the staging
// package registry. Tag gating is enforced twice — in the plan and here —
// because an accidental release is the one failure mode this stage must
// never have.
package release

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"resty.dev/v3"

	"github.com/vk/pipegrid/internal/archive"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/matrix"
	"github.com/vk/pipegrid/internal/stage"
	"github.com/vk/pipegrid/internal/trigger"
)

const publishTimeout = 120 * time.Second

// Stage packages and publishes a release.
type Stage struct {
	timeout time.Duration
}

// New returns the release stage.
func New() *Stage {
	return &Stage{timeout: publishTimeout}
}

// Name implements stage.Stage.
func (s *Stage) Name() string { return "release" }

// Eligible implements stage.Stage. Runs only for the release job of a
// semantic-version tag push or an explicit manual release dispatch.
func (s *Stage) Eligible(tr trigger.Trigger, spec matrix.JobSpec) bool {
	return spec.Role == matrix.RoleRelease && tr.ReleaseEligible()
}

// Run builds the distributable archive and uploads it to the registry.
func (s *Stage) Run(ctx context.Context, jc *stage.Context) error {
	logger := ctxlog.FromContext(ctx).With("stage", s.Name())

	version, err := s.resolveVersion(jc)
	if err != nil {
		return &stage.PackageError{Err: err}
	}

	name := archive.SafeName(jc.Project.Name)
	distDir := filepath.Join(jc.Workspace, "dist")
	if err := os.MkdirAll(distDir, 0o755); err != nil {
		return &stage.PackageError{Err: err}
	}

	pkgPath := filepath.Join(distDir, fmt.Sprintf("%s-%s.tar.gz", name, version))
	logger.Info("Building package artifact.", "package", filepath.Base(pkgPath))
	if err := archive.Create(pkgPath, jc.ProjectDir, fmt.Sprintf("%s-%s", name, version)); err != nil {
		return &stage.PackageError{Err: err}
	}
	s.storePackage(ctx, jc, pkgPath)

	return s.publish(ctx, jc, pkgPath, version)
}

// resolveVersion takes the version from the release tag, falling back to
// the manifest for manual dispatches. A tag that disagrees with the
// manifest is refused rather than shipped.
func (s *Stage) resolveVersion(jc *stage.Context) (string, error) {
	if v, ok := jc.Trigger.ReleaseVersion(); ok {
		if jc.Project.Version != "" && jc.Project.Version != v {
			return "", fmt.Errorf("tag %s does not match manifest version %s", jc.Trigger.Tag, jc.Project.Version)
		}
		return v, nil
	}
	if jc.Project.Version == "" {
		return "", fmt.Errorf("no version: not a release tag and the manifest declares none")
	}
	return jc.Project.Version, nil
}

func (s *Stage) publish(ctx context.Context, jc *stage.Context, pkgPath, version string) error {
	cfg := jc.Pipeline.Release
	logger := ctxlog.FromContext(ctx)

	client := resty.New().SetTimeout(s.timeout)
	defer client.Close()

	logger.Info("Publishing package to registry.", "registry", cfg.Registry, "version", version)
	res, err := client.R().
		SetContext(ctx).
		SetAuthToken(jc.Token(cfg.TokenEnv)).
		SetFile("package", pkgPath).
		SetFormData(map[string]string{
			"name":    jc.Project.Name,
			"version": version,
		}).
		Post(cfg.Registry)
	if err != nil {
		return &stage.PublishError{Registry: cfg.Registry, Err: err}
	}
	if res.IsError() {
		err := fmt.Errorf("registry rejected upload: %s", res.Status())
		if res.StatusCode() == http.StatusConflict {
			err = fmt.Errorf("version %s already exists in the registry", version)
		}
		return &stage.PublishError{Registry: cfg.Registry, Err: err}
	}

	logger.Info("Package published.", "status", res.Status())
	return nil
}

func (s *Stage) storePackage(ctx context.Context, jc *stage.Context, pkgPath string) {
	if jc.Artifacts == nil {
		return
	}
	logger := ctxlog.FromContext(ctx)
	f, err := os.Open(pkgPath)
	if err != nil {
		logger.Warn("Failed to open package for artifact store.", "error", err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		logger.Warn("Failed to stat package for artifact store.", "error", err)
		return
	}
	if err := jc.Artifacts.Store(ctx, jc.RunID, filepath.Base(pkgPath), f, info.Size(), "application/gzip"); err != nil {
		logger.Warn("Failed to store package artifact.", "error", err)
	}
}
