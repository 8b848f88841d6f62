package hcl

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/fsutil"
	"github.com/vk/pipegrid/internal/schema"
)

// Default commands used when the definition leaves them unset.
const (
	defaultInstallCommand = "pyenv install -s"
	defaultManager        = "pip"
	defaultTestCommand    = "python -m pytest"
	defaultDocsBranch     = "gh-pages"
	defaultPrimaryBranch  = "main"
)

// Loader implements config.Loader for HCL pipeline definitions.
type Loader struct{}

// NewLoader returns a Loader for HCL pipeline files.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses the pipeline definition at path — a single .hcl file or a
// directory containing one — and translates it into the format-agnostic
// model. Exactly one pipeline block must be defined across all files.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading pipeline definition.", "path", path)

	files, err := l.resolveFiles(path)
	if err != nil {
		return nil, err
	}

	evalCtx := newEvalContext()
	parser := hclparse.NewParser()
	var pipelines []*schema.Pipeline
	for _, file := range files {
		parsed, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse %s: %w", file, diags)
		}
		var root schema.File
		if diags := gohcl.DecodeBody(parsed.Body, evalCtx, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode %s: %w", file, diags)
		}
		pipelines = append(pipelines, root.Pipelines...)
	}

	if len(pipelines) != 1 {
		return nil, fmt.Errorf("%s must define exactly one pipeline block, found %d", path, len(pipelines))
	}

	pipeline, err := l.translatePipeline(pipelines[0])
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline %q: %w", pipelines[0].Name, err)
	}

	logger.Debug("Pipeline definition loaded.", "pipeline", pipeline.Name, "versions", len(pipeline.Runtime.Versions))
	return &config.Model{Pipeline: pipeline}, nil
}

// newEvalContext exposes the process environment to expressions in the
// definition file as the `env` object, e.g. `remote = env.DOCS_REMOTE`.
func newEvalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}

func (l *Loader) resolveFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline definition not found: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	files, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", path, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl files found under %s", path)
	}
	return files, nil
}
