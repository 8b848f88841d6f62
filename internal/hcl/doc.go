// Package hcl implements the config.Loader interface for HCL pipeline
// definition files.
package hcl
