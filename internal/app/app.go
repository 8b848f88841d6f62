package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/job"
	"github.com/vk/pipegrid/internal/trigger"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// PipelinePath locates the HCL pipeline definition (file or directory).
	PipelinePath string
	// ProjectDir is the checked-out project the pipeline operates on.
	ProjectDir string
	// Workspace is the root under which each job gets an isolated scratch
	// directory. Empty selects a per-process temporary directory.
	Workspace string
	// CacheDir is the shared toolchain cache. Empty selects the user cache.
	CacheDir string

	// Trigger is the event that activated this run.
	Trigger trigger.Trigger

	LogFormat   string
	LogLevel    string
	StatusPort  int
	WorkerCount int
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.PipelinePath == "" {
		return nil, errors.New("PipelinePath is a required configuration field and cannot be empty")
	}
	if cfg.ProjectDir == "" {
		cfg.ProjectDir = "."
	}
	return &cfg, nil
}

// App encapsulates the orchestrator's dependencies, configuration, and
// lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	appCfg   *Config
	pipeline *config.Pipeline

	jobs       []*job.Job
	httpServer *http.Server
}

// NewApp is the constructor for the application. It returns a fully
// initialized App with its own isolated logger and a loaded pipeline model.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, appConfig.PipelinePath)
	if err != nil {
		// A failure to load the pipeline definition is a fatal startup error.
		panic(fmt.Errorf("failed to load pipeline definition: %w", err))
	}
	logger.Debug("Pipeline definition loaded into unified model.", "pipeline", model.Pipeline.Name)

	return &App{
		outW:     outW,
		logger:   logger,
		appCfg:   appConfig,
		pipeline: model.Pipeline,
	}
}

// Pipeline returns the loaded pipeline model. This is primarily for testing.
func (a *App) Pipeline() *config.Pipeline {
	return a.pipeline
}

// workspaceRoot resolves the directory job workspaces are created under.
func (a *App) workspaceRoot() (string, error) {
	if a.appCfg.Workspace != "" {
		return a.appCfg.Workspace, os.MkdirAll(a.appCfg.Workspace, 0o755)
	}
	return os.MkdirTemp("", "pipegrid-*")
}

// cacheRoot resolves the shared toolchain cache directory.
func (a *App) cacheRoot() (string, error) {
	if a.appCfg.CacheDir != "" {
		return a.appCfg.CacheDir, os.MkdirAll(a.appCfg.CacheDir, 0o755)
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "pipegrid")
	return dir, os.MkdirAll(dir, 0o755)
}
