package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pipegrid/internal/trigger"
)

func TestParse(t *testing.T) {
	t.Run("positional pipeline path with defaults", func(t *testing.T) {
		out := &bytes.Buffer{}
		cfg, shouldExit, err := Parse([]string{"pipeline.hcl"}, out)
		require.NoError(t, err)
		require.False(t, shouldExit)

		assert.Equal(t, "pipeline.hcl", cfg.PipelinePath)
		assert.Equal(t, ".", cfg.ProjectDir)
		assert.Equal(t, trigger.Push, cfg.Trigger.Kind)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, 4, cfg.WorkerCount)
		assert.Equal(t, 0, cfg.StatusPort)
	})

	t.Run("pipeline flag takes priority over positional", func(t *testing.T) {
		cfg, _, err := Parse([]string{"--pipeline", "a.hcl", "b.hcl"}, &bytes.Buffer{})
		require.NoError(t, err)
		assert.Equal(t, "a.hcl", cfg.PipelinePath)
	})

	t.Run("full trigger flags are forwarded", func(t *testing.T) {
		args := []string{
			"--event", "tag",
			"--tag", "v1.2.3",
			"--workers", "8",
			"--status-port", "8080",
			"--log-format", "text",
			"--log-level", "debug",
			"pipeline.hcl",
		}
		cfg, _, err := Parse(args, &bytes.Buffer{})
		require.NoError(t, err)

		assert.Equal(t, trigger.Tag, cfg.Trigger.Kind)
		assert.Equal(t, "v1.2.3", cfg.Trigger.Tag)
		assert.Equal(t, 8, cfg.WorkerCount)
		assert.Equal(t, 8080, cfg.StatusPort)
		assert.Equal(t, "text", cfg.LogFormat)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("manual dispatch parses its target", func(t *testing.T) {
		cfg, _, err := Parse([]string{"--event", "manual", "--dispatch", "release", "p.hcl"}, &bytes.Buffer{})
		require.NoError(t, err)
		assert.Equal(t, trigger.Manual, cfg.Trigger.Kind)
		assert.Equal(t, trigger.TargetRelease, cfg.Trigger.Dispatch)
	})

	t.Run("no path prints usage and exits cleanly", func(t *testing.T) {
		out := &bytes.Buffer{}
		_, shouldExit, err := Parse([]string{}, out)
		require.NoError(t, err)
		assert.True(t, shouldExit)
		assert.Contains(t, out.String(), "Usage:")
	})

	t.Run("help flag exits cleanly", func(t *testing.T) {
		out := &bytes.Buffer{}
		_, shouldExit, err := Parse([]string{"-h"}, out)
		require.NoError(t, err)
		assert.True(t, shouldExit)
	})

	t.Run("unknown flag is an exit error", func(t *testing.T) {
		_, _, err := Parse([]string{"--bogus"}, &bytes.Buffer{})
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 2, exitErr.Code)
	})

	t.Run("invalid event is an exit error", func(t *testing.T) {
		_, _, err := Parse([]string{"--event", "cron", "p.hcl"}, &bytes.Buffer{})
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Contains(t, exitErr.Message, "unknown event")
	})

	t.Run("tag event without a tag is an exit error", func(t *testing.T) {
		_, _, err := Parse([]string{"--event", "tag", "p.hcl"}, &bytes.Buffer{})
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Contains(t, exitErr.Message, "requires --tag")
	})

	t.Run("invalid dispatch target is an exit error", func(t *testing.T) {
		_, _, err := Parse([]string{"--event", "manual", "--dispatch", "ship-it", "p.hcl"}, &bytes.Buffer{})
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Contains(t, exitErr.Message, "unknown dispatch target")
	})

	t.Run("invalid log format is an exit error", func(t *testing.T) {
		_, _, err := Parse([]string{"--log-format", "xml", "p.hcl"}, &bytes.Buffer{})
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Contains(t, exitErr.Message, "invalid log-format")
	})

	t.Run("invalid log level is an exit error", func(t *testing.T) {
		_, _, err := Parse([]string{"--log-level", "verbose", "p.hcl"}, &bytes.Buffer{})
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Contains(t, exitErr.Message, "invalid log-level")
	})
}
