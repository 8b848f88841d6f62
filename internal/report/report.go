// Package report implements the coverage/results reporter stage: it
// transmits the coverage and test-result artifacts of the coverage leg to
// the external telemetry service.
package report

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/matrix"
	"github.com/vk/pipegrid/internal/stage"
	"github.com/vk/pipegrid/internal/trigger"
)

const uploadTimeout = 60 * time.Second

// Stage uploads coverage and test results to the telemetry endpoint.
type Stage struct {
	// timeout is overridable in tests.
	timeout time.Duration
}

// New returns the reporter stage.
func New() *Stage {
	return &Stage{timeout: uploadTimeout}
}

// Name implements stage.Stage.
func (s *Stage) Name() string { return "report" }

// ReportsPartialResults marks the reporter as runnable after a recorded
// TestFailure, so partial results still reach the telemetry service.
func (s *Stage) ReportsPartialResults() bool { return true }

// Eligible implements stage.Stage. Only the coverage leg reports, and only
// when a telemetry service is configured, so the matrix never uploads the
// same coverage twice.
func (s *Stage) Eligible(_ trigger.Trigger, spec matrix.JobSpec) bool {
	return spec.Coverage
}

// Run uploads whatever reports the test stage produced. It runs after a
// TestFailure too, so partial results still reach the service, but never
// after the job has been cancelled.
func (s *Stage) Run(ctx context.Context, jc *stage.Context) error {
	logger := ctxlog.FromContext(ctx).With("stage", s.Name(), "runtime", jc.Spec.RuntimeVersion)

	if jc.Pipeline.Telemetry == nil {
		logger.Debug("No telemetry service configured, nothing to report.")
		return nil
	}
	// Upload on not-cancelled: a failed suite still reports, a cancelled
	// job does not.
	if err := ctx.Err(); err != nil {
		logger.Warn("Job cancelled, skipping report upload.")
		return err
	}
	if jc.CoveragePath == "" && jc.ResultsPath == "" {
		logger.Warn("No reports were produced, skipping upload.")
		return nil
	}

	endpoint := jc.Pipeline.Telemetry.Endpoint
	client := resty.New().SetTimeout(s.timeout)
	defer client.Close()

	req := client.R().
		SetContext(ctx).
		SetAuthToken(jc.Token(jc.Pipeline.Telemetry.TokenEnv)).
		SetFormData(map[string]string{
			"project": jc.Pipeline.Name,
			"run_id":  jc.RunID,
			"flag":    "py" + jc.Spec.RuntimeVersion,
		})
	if jc.CoveragePath != "" {
		req.SetFile("coverage", jc.CoveragePath)
	}
	if jc.ResultsPath != "" {
		req.SetFile("results", jc.ResultsPath)
	}

	logger.Info("Uploading reports to telemetry service.", "endpoint", endpoint)
	res, err := req.Post(endpoint)
	if err != nil {
		return &stage.UploadError{Endpoint: endpoint, Err: err}
	}
	if res.IsError() {
		return &stage.UploadError{
			Endpoint: endpoint,
			Err:      fmt.Errorf("telemetry service rejected upload: %s", res.Status()),
		}
	}

	logger.Info("Reports uploaded.", "status", res.Status())
	return nil
}
