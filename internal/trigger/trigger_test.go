package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	t.Run("accepts all known events", func(t *testing.T) {
		for in, want := range map[string]Kind{
			"push":         Push,
			"pull_request": PullRequest,
			"tag":          Tag,
			"manual":       Manual,
			"PUSH":         Push, // case-insensitive
		} {
			got, err := ParseKind(in)
			require.NoError(t, err, in)
			assert.Equal(t, want, got)
		}
	})

	t.Run("rejects unknown events", func(t *testing.T) {
		_, err := ParseKind("cron")
		assert.ErrorContains(t, err, "unknown event")
	})
}

func TestParseTarget(t *testing.T) {
	t.Run("empty string defaults to tests", func(t *testing.T) {
		got, err := ParseTarget("")
		require.NoError(t, err)
		assert.Equal(t, TargetTests, got)
	})

	t.Run("accepts the publish targets", func(t *testing.T) {
		got, err := ParseTarget("docs")
		require.NoError(t, err)
		assert.Equal(t, TargetDocs, got)

		got, err = ParseTarget("release")
		require.NoError(t, err)
		assert.Equal(t, TargetRelease, got)
	})

	t.Run("rejects unknown targets", func(t *testing.T) {
		_, err := ParseTarget("deploy")
		assert.ErrorContains(t, err, "unknown dispatch target")
	})
}

func TestIsReleaseTag(t *testing.T) {
	valid := []string{"v1.2.3", "v0.0.1", "v10.20.30"}
	for _, tag := range valid {
		assert.True(t, IsReleaseTag(tag), tag)
	}

	invalid := []string{"1.2.3", "v1.2", "v1.2.3-rc1", "release-1", "v1.2.3.4", ""}
	for _, tag := range invalid {
		assert.False(t, IsReleaseTag(tag), tag)
	}
}

func TestReleaseEligible(t *testing.T) {
	t.Run("release tag is eligible", func(t *testing.T) {
		tr := Trigger{Kind: Tag, Tag: "v1.2.3"}
		assert.True(t, tr.ReleaseEligible())
	})

	t.Run("non-release tag is not eligible", func(t *testing.T) {
		tr := Trigger{Kind: Tag, Tag: "release-1"}
		assert.False(t, tr.ReleaseEligible())
	})

	t.Run("manual release dispatch is eligible", func(t *testing.T) {
		tr := Trigger{Kind: Manual, Dispatch: TargetRelease}
		assert.True(t, tr.ReleaseEligible())
	})

	t.Run("a plain push never releases", func(t *testing.T) {
		tr := Trigger{Kind: Push, Ref: "main"}
		assert.False(t, tr.ReleaseEligible())
	})
}

func TestDocsEligible(t *testing.T) {
	t.Run("push to the primary branch is eligible", func(t *testing.T) {
		tr := Trigger{Kind: Push, Ref: "main"}
		assert.True(t, tr.DocsEligible("main"))
	})

	t.Run("push to another branch is not eligible", func(t *testing.T) {
		tr := Trigger{Kind: Push, Ref: "feature/x"}
		assert.False(t, tr.DocsEligible("main"))
	})

	t.Run("pull requests never publish docs", func(t *testing.T) {
		tr := Trigger{Kind: PullRequest, Ref: "main"}
		assert.False(t, tr.DocsEligible("main"))
	})

	t.Run("manual docs dispatch is eligible", func(t *testing.T) {
		tr := Trigger{Kind: Manual, Dispatch: TargetDocs}
		assert.True(t, tr.DocsEligible("main"))
	})
}

func TestTestsEligible(t *testing.T) {
	assert.True(t, Trigger{Kind: Push, Ref: "main"}.TestsEligible())
	assert.True(t, Trigger{Kind: PullRequest}.TestsEligible())
	assert.True(t, Trigger{Kind: Manual, Dispatch: TargetTests}.TestsEligible())
	assert.False(t, Trigger{Kind: Manual, Dispatch: TargetDocs}.TestsEligible())
	assert.False(t, Trigger{Kind: Tag, Tag: "v1.0.0"}.TestsEligible())
}

func TestReleaseVersion(t *testing.T) {
	t.Run("extracts the version from a release tag", func(t *testing.T) {
		v, ok := Trigger{Kind: Tag, Tag: "v1.2.3"}.ReleaseVersion()
		require.True(t, ok)
		assert.Equal(t, "1.2.3", v)
	})

	t.Run("returns false for non-release tags", func(t *testing.T) {
		_, ok := Trigger{Kind: Tag, Tag: "nightly"}.ReleaseVersion()
		assert.False(t, ok)
	})

	t.Run("returns false for non-tag events", func(t *testing.T) {
		_, ok := Trigger{Kind: Manual, Dispatch: TargetRelease}.ReleaseVersion()
		assert.False(t, ok)
	})
}

func TestString(t *testing.T) {
	assert.Equal(t, "push(main)", Trigger{Kind: Push, Ref: "main"}.String())
	assert.Equal(t, "tag(v1.0.0)", Trigger{Kind: Tag, Tag: "v1.0.0"}.String())
	assert.Equal(t, "manual(docs)", Trigger{Kind: Manual, Dispatch: TargetDocs}.String())
	assert.Equal(t, "pull_request", Trigger{Kind: PullRequest}.String())
}
