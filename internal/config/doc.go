// Package config defines the format-agnostic pipeline configuration model
// and the Loader interface that format-specific loaders implement.
package config
