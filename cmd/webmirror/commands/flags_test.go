package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webmirror/webmirror/internal/model"
)

func TestStartArgsAppliesOverrides(t *testing.T) {
	url, opts, err := StartArgs(
		[]string{"https://example.com/", "--max-depth", "4", "--rate-rps", "2.5", "--no-headless"},
		model.DefaultStartOptions(),
	)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", url)
	assert.Equal(t, 4, opts.MaxDepth)
	assert.Equal(t, 2.5, opts.RateRPS)
	assert.False(t, opts.BrowserHeadless, "expected BrowserHeadless to be false after --no-headless")
}

func TestStartArgsClampsMaxDepth(t *testing.T) {
	_, opts, err := StartArgs([]string{"https://example.com/", "--max-depth", "99"}, model.DefaultStartOptions())
	require.NoError(t, err)
	assert.Equal(t, 5, opts.MaxDepth, "expected MaxDepth clamped to 5")
}

func TestStartArgsMissingURL(t *testing.T) {
	_, _, err := StartArgs([]string{"--max-depth", "2"}, model.DefaultStartOptions())
	assert.Error(t, err, "expected an error for a missing URL")
}

func TestBuildResultError(t *testing.T) {
	r := BuildResult("status", "sess-1", nil, errMissingURL)
	assert.False(t, r.Success)
	assert.NotEmpty(t, r.Error)
}

func TestSessionDataIncludesStats(t *testing.T) {
	sess := &model.Session{
		StartURL: "https://example.com/",
		Status:   model.SessionCrawling,
		Stats:    model.Stats{AssetsDiscovered: 10, AssetsDownloaded: 7},
	}
	data := SessionData(sess)
	assert.EqualValues(t, 10, data["assets_discovered"])
	assert.Equal(t, "crawling", data["status"])
}
