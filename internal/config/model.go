package config

// Model is the unified, format-agnostic representation of a pipeline
// definition. Loaders translate their source format into this model; nothing
// downstream of the loader sees format-specific types.
type Model struct {
	Pipeline *Pipeline
}

// Pipeline is the root of a single pipeline definition.
type Pipeline struct {
	// Name identifies the pipeline in logs and artifact keys.
	Name string
	// PrimaryBranch is the branch whose pushes may publish documentation.
	PrimaryBranch string

	Runtime      Runtime
	Dependencies Dependencies
	Tests        Tests

	// Telemetry, Docs, Release and Artifacts are optional; a nil block
	// disables the corresponding stage or sink.
	Telemetry *Telemetry
	Docs      *Docs
	Release   *Release
	Artifacts *Artifacts
}

// Runtime declares the matrix axis of language-runtime versions and the
// single version that runs under coverage instrumentation.
type Runtime struct {
	// Versions is the ordered list of runtime versions to test against.
	Versions []string
	// CoverageVersion is the one version that runs in coverage mode.
	// Empty means the last entry of Versions.
	CoverageVersion string
	// InstallCommand is the command prefix used to provision a version,
	// invoked as "<InstallCommand> <version>".
	InstallCommand string
	// Manager is the dependency-manager executable used to install packages.
	Manager string
}

// Dependencies locates the manifest and its lockfile.
type Dependencies struct {
	Manifest string
	Lockfile string
}

// Tests configures the test suite invocation.
type Tests struct {
	// Command is the base test command; coverage and report flags are
	// appended for the coverage leg.
	Command string
}

// Telemetry is the external service that receives coverage and test-result
// reports.
type Telemetry struct {
	Endpoint string
	// TokenEnv names the environment variable holding the upload token.
	TokenEnv string
}

// Docs configures the documentation build and its publish target.
type Docs struct {
	// Source is the directory containing the documentation content.
	Source string
	// Branch is the hosting branch that is force-overwritten on publish.
	Branch string
	// Remote is the git remote URL the hosting branch is pushed to.
	Remote string
	// TokenEnv names the environment variable holding the write-scoped
	// deploy token.
	TokenEnv string
}

// Release configures package publishing to a staging registry.
type Release struct {
	// Registry is the upload endpoint of the package registry.
	Registry string
	// TokenEnv names the environment variable holding the publish token.
	TokenEnv string
}

// Artifacts configures an optional S3-compatible store that receives a copy
// of every artifact a job produces.
type Artifacts struct {
	Endpoint string
	Bucket   string
	Region   string
	UseSSL   bool
	// AccessKeyEnv and SecretKeyEnv name the credential environment
	// variables for the store.
	AccessKeyEnv string
	SecretKeyEnv string
}
