// Package testexec implements the test-executor stage. It runs the suite in
// plain mode or, for the single coverage leg, under instrumentation that
// also emits a branch-level coverage report and a per-test result report.
package testexec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/matrix"
	"github.com/vk/pipegrid/internal/shell"
	"github.com/vk/pipegrid/internal/stage"
	"github.com/vk/pipegrid/internal/trigger"
)

// Exit codes of the test runner. One failing test is a recorded job
// failure; anything else from the runner is fatal.
const (
	exitPassed     = 0
	exitTestFailed = 1
)

// CoverageReport is the structured coverage artifact: per-file branch
// coverage at source-region granularity.
type CoverageReport struct {
	Files map[string]FileCoverage `json:"files"`
}

// FileCoverage is the branch list for one source file.
type FileCoverage struct {
	Branches []Branch `json:"branches"`
}

// Branch records whether one source branch was executed.
type Branch struct {
	Line  int  `json:"line"`
	Taken bool `json:"taken"`
}

// TestReport is the structured test-result artifact.
type TestReport struct {
	Tests []TestCase `json:"tests"`
}

// TestCase is one test's identifier, outcome and duration.
type TestCase struct {
	ID         string  `json:"id"`
	Outcome    string  `json:"outcome"`
	DurationMS float64 `json:"duration_ms"`
}

var (
	passedRe = regexp.MustCompile(`(\d+) passed`)
	failedRe = regexp.MustCompile(`(\d+) failed`)
)

// Stage runs the test suite for a job.
type Stage struct{}

// New returns the test-executor stage.
func New() *Stage {
	return &Stage{}
}

// Name implements stage.Stage.
func (s *Stage) Name() string { return "test" }

// Eligible implements stage.Stage. Every job runs the suite before any
// publish stage.
func (s *Stage) Eligible(trigger.Trigger, matrix.JobSpec) bool { return true }

// Run executes the suite. Exit code 1 yields a TestFailure with the suite
// outcome still recorded on the context; any other non-zero exit, or a
// runner that cannot start, yields a fatal ExecutionError.
func (s *Stage) Run(ctx context.Context, jc *stage.Context) error {
	logger := ctxlog.FromContext(ctx).With("stage", s.Name(), "runtime", jc.Spec.RuntimeVersion, "coverage", jc.Spec.Coverage)

	command := jc.Pipeline.Tests.Command
	covPath := filepath.Join(jc.Workspace, "coverage.json")
	resPath := filepath.Join(jc.Workspace, "results.json")
	if jc.Spec.Coverage {
		command = fmt.Sprintf("%s --cov --cov-branch --cov-report=json:%s --json-report --json-report-file=%s",
			command, covPath, resPath)
	}

	opts := shell.Options{
		Dir: jc.ProjectDir,
		Env: []string{
			"VIRTUAL_ENV=" + jc.EnvDir,
			fmt.Sprintf("PATH=%s:%s:%s",
				filepath.Join(jc.EnvDir, "bin"),
				filepath.Join(jc.ToolchainDir, "bin"),
				os.Getenv("PATH")),
		},
	}

	logger.Info("Running test suite.")
	res, err := jc.Shell.Run(ctx, opts, command)
	if err != nil {
		return &stage.ExecutionError{Err: err}
	}

	switch res.ExitCode {
	case exitPassed, exitTestFailed:
		// The suite ran to completion either way; collect its outcome.
	default:
		return &stage.ExecutionError{
			Err: fmt.Errorf("test runner exited with code %d: %s", res.ExitCode, shell.Tail(res.Output, 5)),
		}
	}

	summary := s.summarize(res.Output, resPath, jc.Spec.Coverage)
	jc.Tests = summary

	if jc.Spec.Coverage {
		if err := s.collectReports(ctx, jc, covPath, resPath); err != nil {
			return err
		}
	}

	if res.ExitCode == exitTestFailed {
		logger.Warn("Test suite completed with failures.", "failed", summary.Failed)
		return &stage.TestFailure{Failed: summary.Failed, Summary: shell.Tail(res.Output, 3)}
	}

	logger.Info("Test suite passed.", "passed", summary.Passed)
	return nil
}

// summarize extracts pass/fail counts, preferring the structured result
// report over scraping runner output.
func (s *Stage) summarize(output, resPath string, coverage bool) *stage.TestSummary {
	summary := &stage.TestSummary{Summary: shell.Tail(output, 1)}

	if coverage {
		if report, err := readTestReport(resPath); err == nil {
			for _, tc := range report.Tests {
				if tc.Outcome == "passed" {
					summary.Passed++
				} else {
					summary.Failed++
				}
			}
			return summary
		}
	}

	if m := passedRe.FindStringSubmatch(output); m != nil {
		summary.Passed, _ = strconv.Atoi(m[1])
	}
	if m := failedRe.FindStringSubmatch(output); m != nil {
		summary.Failed, _ = strconv.Atoi(m[1])
	}
	return summary
}

// collectReports validates the instrumented run's artifacts, records their
// locations for the reporter, and forwards copies to the artifact sink.
func (s *Stage) collectReports(ctx context.Context, jc *stage.Context, covPath, resPath string) error {
	logger := ctxlog.FromContext(ctx)

	if _, err := readCoverageReport(covPath); err != nil {
		return &stage.ExecutionError{Err: fmt.Errorf("coverage report: %w", err)}
	}
	if _, err := readTestReport(resPath); err != nil {
		return &stage.ExecutionError{Err: fmt.Errorf("test-result report: %w", err)}
	}
	jc.CoveragePath = covPath
	jc.ResultsPath = resPath

	for name, path := range map[string]string{"coverage.json": covPath, "results.json": resPath} {
		if err := storeFile(ctx, jc, name, path); err != nil {
			// The artifact store is a convenience copy; losing it never
			// fails the test stage.
			logger.Warn("Failed to store report artifact.", "artifact", name, "error", err)
		}
	}
	return nil
}

func storeFile(ctx context.Context, jc *stage.Context, name, path string) error {
	if jc.Artifacts == nil {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	return jc.Artifacts.Store(ctx, jc.RunID, name, f, info.Size(), "application/json")
}

func readCoverageReport(path string) (*CoverageReport, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report CoverageReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("invalid coverage report: %w", err)
	}
	return &report, nil
}

func readTestReport(path string) (*TestReport, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report TestReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("invalid test-result report: %w", err)
	}
	return &report, nil
}
