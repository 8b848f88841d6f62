package hcl

import (
	"errors"
	"fmt"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/schema"
)

// translatePipeline converts the HCL-specific pipeline schema into the
// agnostic model, applying defaults and validating required fields.
func (l *Loader) translatePipeline(s *schema.Pipeline) (*config.Pipeline, error) {
	if s.Name == "" {
		return nil, errors.New("pipeline label must not be empty")
	}
	if s.Runtime == nil {
		return nil, errors.New("a runtime block is required")
	}
	if len(s.Runtime.Versions) == 0 {
		return nil, errors.New("runtime.versions must declare at least one version")
	}
	if s.Dependencies == nil {
		return nil, errors.New("a dependencies block is required")
	}
	if s.Dependencies.Manifest == "" || s.Dependencies.Lockfile == "" {
		return nil, errors.New("dependencies.manifest and dependencies.lockfile are required")
	}

	p := &config.Pipeline{
		Name:          s.Name,
		PrimaryBranch: withDefault(s.PrimaryBranch, defaultPrimaryBranch),
		Runtime: config.Runtime{
			Versions:        s.Runtime.Versions,
			CoverageVersion: s.Runtime.CoverageVersion,
			InstallCommand:  withDefault(s.Runtime.InstallCommand, defaultInstallCommand),
			Manager:         withDefault(s.Runtime.Manager, defaultManager),
		},
		Dependencies: config.Dependencies{
			Manifest: s.Dependencies.Manifest,
			Lockfile: s.Dependencies.Lockfile,
		},
		Tests: config.Tests{Command: defaultTestCommand},
	}
	if s.Tests != nil && s.Tests.Command != "" {
		p.Tests.Command = s.Tests.Command
	}

	if s.Telemetry != nil {
		p.Telemetry = &config.Telemetry{
			Endpoint: s.Telemetry.Endpoint,
			TokenEnv: s.Telemetry.TokenEnv,
		}
	}
	if s.Docs != nil {
		p.Docs = &config.Docs{
			Source:   s.Docs.Source,
			Branch:   withDefault(s.Docs.Branch, defaultDocsBranch),
			Remote:   s.Docs.Remote,
			TokenEnv: s.Docs.TokenEnv,
		}
	}
	if s.Release != nil {
		p.Release = &config.Release{
			Registry: s.Release.Registry,
			TokenEnv: s.Release.TokenEnv,
		}
	}
	if s.Artifacts != nil {
		p.Artifacts = &config.Artifacts{
			Endpoint:     s.Artifacts.Endpoint,
			Bucket:       s.Artifacts.Bucket,
			Region:       s.Artifacts.Region,
			UseSSL:       s.Artifacts.UseSSL,
			AccessKeyEnv: s.Artifacts.AccessKeyEnv,
			SecretKeyEnv: s.Artifacts.SecretKeyEnv,
		}
	}

	if s.Runtime.CoverageVersion != "" && !contains(s.Runtime.Versions, s.Runtime.CoverageVersion) {
		return nil, fmt.Errorf("runtime.coverage_version %q is not in runtime.versions", s.Runtime.CoverageVersion)
	}

	return p, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
