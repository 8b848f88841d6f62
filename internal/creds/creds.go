// Package creds resolves credential environment variables and verifies,
// before any job starts, that every gated stage in the plan has the
// credential it needs. Credentials are read-only process state; jobs only
// forward them at publish time.
package creds

import (
	"fmt"
	"os"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/matrix"
)

// Env resolves credentials from the process environment.
type Env struct {
	lookup func(string) (string, bool)
}

// NewEnv returns a credential store backed by os.LookupEnv.
func NewEnv() *Env {
	return &Env{lookup: os.LookupEnv}
}

// NewStatic returns a credential store backed by a fixed map, for tests.
func NewStatic(values map[string]string) *Env {
	return &Env{lookup: func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}}
}

// Get returns the credential bound to the named variable. Empty values are
// treated as absent.
func (e *Env) Get(name string) (string, bool) {
	v, ok := e.lookup(name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Validate checks that every credential required by the planned jobs is
// present. A missing credential for a stage the trigger gates in is a
// configuration error, detected here rather than at publish time.
func (e *Env) Validate(p *config.Pipeline, specs []matrix.JobSpec) error {
	require := func(envName, need string) error {
		if envName == "" {
			return fmt.Errorf("configuration error: no credential variable named for %s", need)
		}
		if _, ok := e.Get(envName); !ok {
			return fmt.Errorf("configuration error: %s requires credential %s, which is not set", need, envName)
		}
		return nil
	}

	for _, spec := range specs {
		switch {
		case spec.Role == matrix.RoleDocs && p.Docs != nil:
			if err := require(p.Docs.TokenEnv, "documentation publishing"); err != nil {
				return err
			}
		case spec.Role == matrix.RoleRelease && p.Release != nil:
			if err := require(p.Release.TokenEnv, "package publishing"); err != nil {
				return err
			}
		case spec.Coverage && p.Telemetry != nil:
			if err := require(p.Telemetry.TokenEnv, "telemetry upload"); err != nil {
				return err
			}
		}
	}

	if p.Artifacts != nil && len(specs) > 0 {
		if err := require(p.Artifacts.AccessKeyEnv, "artifact store access"); err != nil {
			return err
		}
		if err := require(p.Artifacts.SecretKeyEnv, "artifact store access"); err != nil {
			return err
		}
	}

	return nil
}
