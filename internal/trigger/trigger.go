// Package trigger models the external events that activate a pipeline run
// and the gating predicates derived from them. Every stage that is
// conditional on the event type asks the Trigger once, up front, instead of
// scattering event checks through the stage implementations.
package trigger

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is the class of event that activated the run.
type Kind string

const (
	// Push is a commit pushed to a branch.
	Push Kind = "push"
	// PullRequest is a pull request opened or updated.
	PullRequest Kind = "pull_request"
	// Tag is a tag pushed to the repository.
	Tag Kind = "tag"
	// Manual is an operator-initiated dispatch.
	Manual Kind = "manual"
)

// Target selects what a manual dispatch should do. Publish targets are
// mutually exclusive per run, so a manual trigger must name exactly one.
type Target string

const (
	// TargetTests runs the test matrix only.
	TargetTests Target = "tests"
	// TargetDocs builds and publishes the documentation site.
	TargetDocs Target = "docs"
	// TargetRelease packages and publishes a release artifact.
	TargetRelease Target = "release"
)

// releaseTag is the only tag shape that may produce a release.
var releaseTag = regexp.MustCompile(`^v\d+\.\d+\.\d+$`)

// Trigger describes a single activation event.
type Trigger struct {
	Kind Kind
	// Ref is the branch name for push events.
	Ref string
	// Tag is the tag name for tag events.
	Tag string
	// Dispatch is the target of a manual event. Ignored for other kinds.
	Dispatch Target
}

// ParseKind validates and normalizes an event name from the CLI.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case Push:
		return Push, nil
	case PullRequest:
		return PullRequest, nil
	case Tag:
		return Tag, nil
	case Manual:
		return Manual, nil
	}
	return "", fmt.Errorf("unknown event %q: must be one of 'push', 'pull_request', 'tag', or 'manual'", s)
}

// ParseTarget validates a manual dispatch target. The empty string defaults
// to running the test matrix.
func ParseTarget(s string) (Target, error) {
	switch Target(strings.ToLower(s)) {
	case "", TargetTests:
		return TargetTests, nil
	case TargetDocs:
		return TargetDocs, nil
	case TargetRelease:
		return TargetRelease, nil
	}
	return "", fmt.Errorf("unknown dispatch target %q: must be one of 'tests', 'docs', or 'release'", s)
}

// IsReleaseTag reports whether a tag name matches the v<major>.<minor>.<patch>
// release pattern.
func IsReleaseTag(tag string) bool {
	return releaseTag.MatchString(tag)
}

// ReleaseEligible reports whether this event may publish a package: a tag
// matching the release pattern, or an explicit manual release dispatch.
// Tag gating is a hard invariant; a plain push never releases.
func (t Trigger) ReleaseEligible() bool {
	switch t.Kind {
	case Tag:
		return IsReleaseTag(t.Tag)
	case Manual:
		return t.Dispatch == TargetRelease
	}
	return false
}

// DocsEligible reports whether this event may publish documentation: a push
// to the primary branch, or an explicit manual docs dispatch. Pull requests
// never publish docs.
func (t Trigger) DocsEligible(primaryBranch string) bool {
	switch t.Kind {
	case Push:
		return t.Ref == primaryBranch
	case Manual:
		return t.Dispatch == TargetDocs
	}
	return false
}

// TestsEligible reports whether this event runs the test matrix.
func (t Trigger) TestsEligible() bool {
	switch t.Kind {
	case Push, PullRequest:
		return true
	case Manual:
		return t.Dispatch == TargetTests
	}
	return false
}

// ReleaseVersion extracts the version from a release tag, without the
// leading 'v'. Returns false if the tag is not a release tag.
func (t Trigger) ReleaseVersion() (string, bool) {
	if t.Kind != Tag || !IsReleaseTag(t.Tag) {
		return "", false
	}
	return strings.TrimPrefix(t.Tag, "v"), true
}

// String renders the trigger for logs.
func (t Trigger) String() string {
	switch t.Kind {
	case Push:
		return fmt.Sprintf("push(%s)", t.Ref)
	case Tag:
		return fmt.Sprintf("tag(%s)", t.Tag)
	case Manual:
		return fmt.Sprintf("manual(%s)", t.Dispatch)
	default:
		return string(t.Kind)
	}
}
