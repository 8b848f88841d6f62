package stage

import "fmt"

// The error taxonomy below gives every stage an individually attributable
// failure type. Provision, resolution and execution errors are fatal to the
// job; a TestFailure is recorded but still allows the reporter to run;
// upload, deploy and publish errors are terminal for their own stage without
// rewriting the already-recorded test outcome.

// ProvisionError indicates the requested runtime version could not be
// installed or selected.
type ProvisionError struct {
	Version string
	Err     error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision runtime %s: %v", e.Version, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// ResolutionError indicates the lockfile is missing, corrupt, or
// inconsistent with the manifest, or that installing the locked set failed.
type ResolutionError struct {
	Lockfile string
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve dependencies from %s: %v", e.Lockfile, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// TestFailure indicates the suite ran to completion with failing tests. It
// is the only non-fatal stage error: the job is ultimately marked failed,
// but later reporting still happens.
type TestFailure struct {
	Failed  int
	Summary string
}

func (e *TestFailure) Error() string {
	if e.Failed > 0 {
		return fmt.Sprintf("test suite failed: %d failing test(s)", e.Failed)
	}
	return fmt.Sprintf("test suite failed: %s", e.Summary)
}

// ExecutionError indicates the test runner itself could not start or
// aborted internally, as opposed to tests failing.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string { return fmt.Sprintf("test runner error: %v", e.Err) }

func (e *ExecutionError) Unwrap() error { return e.Err }

// UploadError indicates the telemetry service rejected or never received
// the coverage and test-result reports.
type UploadError struct {
	Endpoint string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload reports to %s: %v", e.Endpoint, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// BuildError indicates the documentation site could not be built from its
// source content.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string { return fmt.Sprintf("build documentation site: %v", e.Err) }

func (e *BuildError) Unwrap() error { return e.Err }

// DeployError indicates the built site could not be published to the
// hosting branch, typically a permission or transport problem.
type DeployError struct {
	Target string
	Err    error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("deploy documentation to %s: %v", e.Target, e.Err)
}

func (e *DeployError) Unwrap() error { return e.Err }

// PackageError indicates the distributable archive could not be built.
type PackageError struct {
	Err error
}

func (e *PackageError) Error() string { return fmt.Sprintf("build package artifact: %v", e.Err) }

func (e *PackageError) Unwrap() error { return e.Err }

// PublishError indicates the package registry rejected the upload, e.g. a
// duplicate version or an authentication failure.
type PublishError struct {
	Registry string
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish package to %s: %v", e.Registry, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
