// Package schema holds the HCL-specific structures a pipeline definition
// file decodes into. These types carry HCL struct tags only; the loader
// translates them into the format-agnostic config model.
package schema

import "github.com/hashicorp/hcl/v2"

// Pipeline represents a top-level `pipeline` block.
type Pipeline struct {
	Name          string `hcl:"name,label"`
	PrimaryBranch string `hcl:"primary_branch,optional"`

	Runtime      *Runtime      `hcl:"runtime,block"`
	Dependencies *Dependencies `hcl:"dependencies,block"`
	Tests        *Tests        `hcl:"tests,block"`
	Telemetry    *Telemetry    `hcl:"telemetry,block"`
	Docs         *Docs         `hcl:"docs,block"`
	Release      *Release      `hcl:"release,block"`
	Artifacts    *Artifacts    `hcl:"artifacts,block"`
}

// Runtime represents the `runtime` block: the version axis of the matrix.
type Runtime struct {
	Versions        []string `hcl:"versions"`
	CoverageVersion string   `hcl:"coverage_version,optional"`
	InstallCommand  string   `hcl:"install_command,optional"`
	Manager         string   `hcl:"manager,optional"`
}

// Dependencies represents the `dependencies` block.
type Dependencies struct {
	Manifest string `hcl:"manifest"`
	Lockfile string `hcl:"lockfile"`
}

// Tests represents the `tests` block.
type Tests struct {
	Command string `hcl:"command,optional"`
}

// Telemetry represents the `telemetry` block.
type Telemetry struct {
	Endpoint string `hcl:"endpoint"`
	TokenEnv string `hcl:"token_env"`
}

// Docs represents the `docs` block.
type Docs struct {
	Source   string `hcl:"source"`
	Branch   string `hcl:"branch,optional"`
	Remote   string `hcl:"remote"`
	TokenEnv string `hcl:"token_env"`
}

// Release represents the `release` block.
type Release struct {
	Registry string `hcl:"registry"`
	TokenEnv string `hcl:"token_env"`
}

// Artifacts represents the optional `artifacts` block.
type Artifacts struct {
	Endpoint     string `hcl:"endpoint"`
	Bucket       string `hcl:"bucket"`
	Region       string `hcl:"region,optional"`
	UseSSL       bool   `hcl:"use_ssl,optional"`
	AccessKeyEnv string `hcl:"access_key_env"`
	SecretKeyEnv string `hcl:"secret_key_env"`
}

// File represents the top-level structure of a pipeline definition file.
type File struct {
	Pipelines []*Pipeline `hcl:"pipeline,block"`
	Body      hcl.Body    `hcl:",remain"`
}
