// Package matrix expands the configured axes into the set of job
// specifications for a trigger. The expansion is a pure builder so the
// cross-product and its invariants are testable independent of execution.
package matrix

import (
	"fmt"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/trigger"
)

// Role is the publishing responsibility of a job beyond running tests.
// At most one publish-class stage runs per job.
type Role string

const (
	// RoleTest runs the test suite only; the coverage leg also reports.
	RoleTest Role = "test"
	// RoleDocs builds and publishes the documentation site.
	RoleDocs Role = "docs"
	// RoleRelease packages and publishes a release artifact.
	RoleRelease Role = "release"
)

// JobSpec is one combination of the configured axes, bound to a role.
type JobSpec struct {
	// RuntimeVersion is the language-runtime version the job provisions.
	RuntimeVersion string
	// Coverage marks the single leg that runs instrumented and reports.
	Coverage bool
	// Role selects which publish stage, if any, the job may run.
	Role Role
}

// Label renders a short human-readable identity for logs and status output.
func (s JobSpec) Label() string {
	if s.Coverage {
		return fmt.Sprintf("%s/%s+coverage", s.Role, s.RuntimeVersion)
	}
	return fmt.Sprintf("%s/%s", s.Role, s.RuntimeVersion)
}

// Expand produces the test legs of the matrix: one JobSpec per declared
// runtime version, with exactly one carrying the coverage flag. An unset
// coverage version defaults to the last declared version.
func Expand(rt config.Runtime) ([]JobSpec, error) {
	if len(rt.Versions) == 0 {
		return nil, fmt.Errorf("matrix has no runtime versions")
	}

	coverage := rt.CoverageVersion
	if coverage == "" {
		coverage = rt.Versions[len(rt.Versions)-1]
	}

	seen := make(map[string]bool, len(rt.Versions))
	specs := make([]JobSpec, 0, len(rt.Versions))
	covCount := 0
	for _, v := range rt.Versions {
		if seen[v] {
			return nil, fmt.Errorf("duplicate runtime version %q in matrix", v)
		}
		seen[v] = true

		spec := JobSpec{RuntimeVersion: v, Role: RoleTest, Coverage: v == coverage}
		if spec.Coverage {
			covCount++
		}
		specs = append(specs, spec)
	}

	if covCount != 1 {
		return nil, fmt.Errorf("coverage version %q matched %d matrix legs, want exactly 1", coverage, covCount)
	}
	return specs, nil
}

// Plan selects and expands the jobs a trigger activates. Test triggers
// produce the full matrix; docs and release triggers produce a single job
// on the coverage version's runtime. A trigger that activates nothing
// (e.g. a tag that is not a release tag) yields an empty plan.
func Plan(tr trigger.Trigger, p *config.Pipeline) ([]JobSpec, error) {
	publishVersion := p.Runtime.CoverageVersion
	if publishVersion == "" && len(p.Runtime.Versions) > 0 {
		publishVersion = p.Runtime.Versions[len(p.Runtime.Versions)-1]
	}

	var specs []JobSpec
	if tr.TestsEligible() {
		expanded, err := Expand(p.Runtime)
		if err != nil {
			return nil, err
		}
		specs = append(specs, expanded...)
	}
	if tr.DocsEligible(p.PrimaryBranch) && p.Docs != nil {
		specs = append(specs, JobSpec{RuntimeVersion: publishVersion, Role: RoleDocs})
	}
	if tr.ReleaseEligible() && p.Release != nil {
		specs = append(specs, JobSpec{RuntimeVersion: publishVersion, Role: RoleRelease})
	}
	return specs, nil
}
