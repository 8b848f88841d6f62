package testexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pipegrid/internal/matrix"
	"github.com/vk/pipegrid/internal/shell"
	"github.com/vk/pipegrid/internal/stage"
	"github.com/vk/pipegrid/internal/testutil"
	"github.com/vk/pipegrid/internal/trigger"
)

var pushTrigger = trigger.Trigger{Kind: trigger.Push, Ref: "main"}

const coverageJSON = `{"files": {"src/editor.py": {"branches": [{"line": 10, "taken": true}, {"line": 22, "taken": false}]}}}`

const resultsJSON = `{"tests": [
  {"id": "test_filter_ok", "outcome": "passed", "duration_ms": 3.1},
  {"id": "test_merge_ok", "outcome": "passed", "duration_ms": 1.8}
]}`

const failingResultsJSON = `{"tests": [
  {"id": "test_filter_ok", "outcome": "passed", "duration_ms": 3.1},
  {"id": "test_merge_broken", "outcome": "failed", "duration_ms": 2.2}
]}`

// writeReports scripts the runner to drop report files like an instrumented
// suite would.
func writeReports(t *testing.T, jc *stage.Context, runner *testutil.FakeRunner, results string, exitCode int) {
	t.Helper()
	runner.On("pytest", testutil.Response{
		Result: shell.Result{ExitCode: exitCode, Output: "collected 2 items\n"},
		Do: func(testutil.Call) {
			require.NoError(t, os.WriteFile(filepath.Join(jc.Workspace, "coverage.json"), []byte(coverageJSON), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(jc.Workspace, "results.json"), []byte(results), 0o644))
		},
	})
}

func TestRunPlain(t *testing.T) {
	spec := matrix.JobSpec{RuntimeVersion: "3.11", Role: matrix.RoleTest}

	t.Run("passing suite summarizes from runner output", func(t *testing.T) {
		jc, runner, _ := testutil.NewContext(t, spec, pushTrigger)
		runner.On("pytest", testutil.Response{
			Result: shell.Result{ExitCode: 0, Output: "12 passed in 0.34s\n"},
		})

		err := New().Run(context.Background(), jc)
		require.NoError(t, err)
		require.NotNil(t, jc.Tests)
		assert.Equal(t, 12, jc.Tests.Passed)
		assert.Equal(t, 0, jc.Tests.Failed)
		assert.Empty(t, jc.CoveragePath, "plain legs emit no coverage report")
	})

	t.Run("plain legs run without instrumentation flags", func(t *testing.T) {
		jc, runner, _ := testutil.NewContext(t, spec, pushTrigger)
		require.NoError(t, New().Run(context.Background(), jc))
		require.NotEmpty(t, runner.Commands())
		assert.NotContains(t, runner.Commands()[0], "--cov")
	})

	t.Run("exit code 1 is a test failure with counts from output", func(t *testing.T) {
		jc, runner, _ := testutil.NewContext(t, spec, pushTrigger)
		runner.On("pytest", testutil.Response{
			Result: shell.Result{ExitCode: 1, Output: "9 passed, 3 failed in 1.02s\n"},
		})

		err := New().Run(context.Background(), jc)
		var failure *stage.TestFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, 3, failure.Failed)
		require.NotNil(t, jc.Tests)
		assert.Equal(t, 9, jc.Tests.Passed)
	})

	t.Run("other exit codes are execution errors", func(t *testing.T) {
		jc, runner, _ := testutil.NewContext(t, spec, pushTrigger)
		runner.On("pytest", testutil.Response{
			Result: shell.Result{ExitCode: 2, Output: "INTERNALERROR: collection crashed\n"},
		})

		err := New().Run(context.Background(), jc)
		var execErr *stage.ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.ErrorContains(t, err, "exited with code 2")
	})

	t.Run("a runner that cannot start is an execution error", func(t *testing.T) {
		jc, runner, _ := testutil.NewContext(t, spec, pushTrigger)
		runner.On("pytest", testutil.Response{Err: os.ErrPermission})

		err := New().Run(context.Background(), jc)
		var execErr *stage.ExecutionError
		require.ErrorAs(t, err, &execErr)
	})
}

func TestRunCoverage(t *testing.T) {
	spec := matrix.JobSpec{RuntimeVersion: "3.12", Coverage: true, Role: matrix.RoleTest}

	t.Run("coverage leg collects both reports", func(t *testing.T) {
		jc, runner, sink := testutil.NewContext(t, spec, pushTrigger)
		writeReports(t, jc, runner, resultsJSON, 0)

		err := New().Run(context.Background(), jc)
		require.NoError(t, err)

		assert.Contains(t, runner.Commands()[0], "--cov-branch")
		assert.Contains(t, runner.Commands()[0], "--json-report")
		assert.Equal(t, filepath.Join(jc.Workspace, "coverage.json"), jc.CoveragePath)
		assert.Equal(t, filepath.Join(jc.Workspace, "results.json"), jc.ResultsPath)

		// Both reports are mirrored to the artifact sink.
		_, ok := sink.Get(jc.RunID, "coverage.json")
		assert.True(t, ok)
		_, ok = sink.Get(jc.RunID, "results.json")
		assert.True(t, ok)
	})

	t.Run("summary prefers the structured result report", func(t *testing.T) {
		jc, runner, _ := testutil.NewContext(t, spec, pushTrigger)
		writeReports(t, jc, runner, failingResultsJSON, 1)

		err := New().Run(context.Background(), jc)
		var failure *stage.TestFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, 1, failure.Failed)
		assert.Equal(t, 1, jc.Tests.Passed)
	})

	t.Run("failing coverage run still produces reports", func(t *testing.T) {
		jc, runner, sink := testutil.NewContext(t, spec, pushTrigger)
		writeReports(t, jc, runner, failingResultsJSON, 1)

		err := New().Run(context.Background(), jc)
		var failure *stage.TestFailure
		require.ErrorAs(t, err, &failure)
		assert.NotEmpty(t, jc.CoveragePath)
		_, ok := sink.Get(jc.RunID, "coverage.json")
		assert.True(t, ok)
	})

	t.Run("missing reports are an execution error", func(t *testing.T) {
		jc, runner, _ := testutil.NewContext(t, spec, pushTrigger)
		runner.On("pytest", testutil.Response{Result: shell.Result{ExitCode: 0, Output: "2 passed\n"}})

		err := New().Run(context.Background(), jc)
		var execErr *stage.ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.ErrorContains(t, err, "coverage report")
	})

	t.Run("corrupt coverage report is an execution error", func(t *testing.T) {
		jc, runner, _ := testutil.NewContext(t, spec, pushTrigger)
		runner.On("pytest", testutil.Response{
			Result: shell.Result{ExitCode: 0, Output: "2 passed\n"},
			Do: func(testutil.Call) {
				require.NoError(t, os.WriteFile(filepath.Join(jc.Workspace, "coverage.json"), []byte("{broken"), 0o644))
				require.NoError(t, os.WriteFile(filepath.Join(jc.Workspace, "results.json"), []byte(resultsJSON), 0o644))
			},
		})

		err := New().Run(context.Background(), jc)
		var execErr *stage.ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.ErrorContains(t, err, "invalid coverage report")
	})
}

func TestEnvironmentIsolation(t *testing.T) {
	spec := matrix.JobSpec{RuntimeVersion: "3.12", Role: matrix.RoleTest}
	jc, runner, _ := testutil.NewContext(t, spec, pushTrigger)
	jc.EnvDir = filepath.Join(jc.Workspace, "env")
	jc.ToolchainDir = filepath.Join(jc.CacheDir, "toolchains", "3.12")

	require.NoError(t, New().Run(context.Background(), jc))

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Opts.Env, "VIRTUAL_ENV="+jc.EnvDir)
	assert.Equal(t, jc.ProjectDir, calls[0].Opts.Dir)
}
