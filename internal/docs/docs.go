// Package docs implements the documentation builder/publisher stage: it
// assembles a static site from the documentation source plus introspected
// package metadata, then force-overwrites the hosting branch with it.
package docs

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/pipegrid/internal/archive"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/matrix"
	"github.com/vk/pipegrid/internal/shell"
	"github.com/vk/pipegrid/internal/stage"
	"github.com/vk/pipegrid/internal/trigger"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Name}} {{.Version}}</title></head>
<body>
<h1>{{.Name}} <small>{{.Version}}</small></h1>
<ul>
{{- range .Pages}}
<li><a href="{{.}}">{{.}}</a></li>
{{- end}}
</ul>
</body>
</html>
`))

// Stage builds and publishes the documentation site.
type Stage struct{}

// New returns the docs stage.
func New() *Stage {
	return &Stage{}
}

// Name implements stage.Stage.
func (s *Stage) Name() string { return "docs" }

// Eligible implements stage.Stage. Docs publish only for the docs job of a
// primary-branch push or an explicit manual docs dispatch; pull requests
// never reach here.
func (s *Stage) Eligible(tr trigger.Trigger, spec matrix.JobSpec) bool {
	return spec.Role == matrix.RoleDocs && tr.Kind != trigger.PullRequest
}

// Run builds the site into the job workspace and force-pushes it to the
// hosting branch.
func (s *Stage) Run(ctx context.Context, jc *stage.Context) error {
	cfg := jc.Pipeline.Docs
	logger := ctxlog.FromContext(ctx).With("stage", s.Name())

	siteDir, err := s.build(jc)
	if err != nil {
		return &stage.BuildError{Err: err}
	}
	logger.Info("Documentation site built.", "dir", siteDir)

	// Keep a bundle copy in the artifact store before publishing.
	bundle := filepath.Join(jc.Workspace, "site.tar.gz")
	if err := archive.Create(bundle, siteDir, "site"); err != nil {
		return &stage.BuildError{Err: err}
	}
	s.storeBundle(ctx, jc, bundle)

	if err := s.publish(ctx, jc, siteDir); err != nil {
		return err
	}

	logger.Info("Documentation published.", "branch", cfg.Branch)
	return nil
}

// build assembles the static site: the copied source tree plus an index
// rendered from the package metadata the deps stage introspected.
func (s *Stage) build(jc *stage.Context) (string, error) {
	cfg := jc.Pipeline.Docs
	srcDir := filepath.Join(jc.ProjectDir, cfg.Source)
	if info, err := os.Stat(srcDir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("documentation source %s is not a directory", cfg.Source)
	}

	siteDir := filepath.Join(jc.Workspace, "site")
	// Clean overwrite of any previous build in this workspace.
	if err := os.RemoveAll(siteDir); err != nil {
		return "", err
	}

	var pages []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(siteDir, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".md") {
			pages = append(pages, filepath.ToSlash(rel))
		}
		return copyFile(path, dst)
	})
	if err != nil {
		return "", err
	}
	sort.Strings(pages)

	index, err := os.Create(filepath.Join(siteDir, "index.html"))
	if err != nil {
		return "", err
	}
	defer index.Close()

	data := struct {
		Name    string
		Version string
		Pages   []string
	}{jc.Project.Name, jc.Project.Version, pages}
	if err := indexTemplate.Execute(index, data); err != nil {
		return "", fmt.Errorf("render index: %w", err)
	}
	return siteDir, nil
}

// publish force-replaces the hosting branch with the built site. This needs
// a write-scoped deploy token, unlike the read-only credentials the rest of
// the pipeline runs with.
func (s *Stage) publish(ctx context.Context, jc *stage.Context, siteDir string) error {
	cfg := jc.Pipeline.Docs

	remote, err := authenticatedRemote(cfg.Remote, jc.Token(cfg.TokenEnv))
	if err != nil {
		return &stage.DeployError{Target: cfg.Branch, Err: err}
	}

	message := fmt.Sprintf("docs: site build for %s %s", jc.Project.Name, jc.Project.Version)
	steps := []string{
		"git init -q",
		fmt.Sprintf("git checkout -q -b %s", cfg.Branch),
		"git add -A",
		fmt.Sprintf("git -c user.name=pipegrid -c user.email=pipegrid@localhost commit -q -m %q", message),
		fmt.Sprintf("git push -q --force %s HEAD:%s", remote, cfg.Branch),
	}

	opts := shell.Options{Dir: siteDir}
	for _, step := range steps {
		res, err := jc.Shell.Run(ctx, opts, step)
		if err != nil {
			return &stage.DeployError{Target: cfg.Branch, Err: err}
		}
		if res.ExitCode != 0 {
			return &stage.DeployError{
				Target: cfg.Branch,
				Err:    fmt.Errorf("%s exited with code %d: %s", firstWords(step, 2), res.ExitCode, shell.Tail(res.Output, 3)),
			}
		}
	}
	return nil
}

func (s *Stage) storeBundle(ctx context.Context, jc *stage.Context, bundle string) {
	if jc.Artifacts == nil {
		return
	}
	logger := ctxlog.FromContext(ctx)
	f, err := os.Open(bundle)
	if err != nil {
		logger.Warn("Failed to open site bundle for artifact store.", "error", err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		logger.Warn("Failed to stat site bundle for artifact store.", "error", err)
		return
	}
	if err := jc.Artifacts.Store(ctx, jc.RunID, "site.tar.gz", f, info.Size(), "application/gzip"); err != nil {
		logger.Warn("Failed to store site bundle.", "error", err)
	}
}

// authenticatedRemote embeds the deploy token into the remote URL.
func authenticatedRemote(remote, token string) (string, error) {
	u, err := url.Parse(remote)
	if err != nil {
		return "", fmt.Errorf("invalid docs remote: %w", err)
	}
	if token != "" {
		u.User = url.UserPassword("x-access-token", token)
	}
	return u.String(), nil
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
