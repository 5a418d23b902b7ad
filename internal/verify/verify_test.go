package verify

import (
	"context"
	"testing"

	"github.com/webmirror/webmirror/internal/model"
)

type fakeFS struct {
	sizes map[string]int64
}

func (f *fakeFS) Stat(path string) (bool, int64, error) {
	size, ok := f.sizes[path]
	if !ok {
		return false, 0, nil
	}
	return true, size, nil
}

func TestVerifyPartitionsByStatus(t *testing.T) {
	fs := &fakeFS{sizes: map[string]int64{
		"out/style.css": 5000,
	}}
	assets := []*model.Asset{
		{CanonicalURL: "https://x/style.css", Type: model.AssetStylesheet, Status: model.StatusDownloaded, LocalPath: "style.css", ExpectedSize: 5000},
		{CanonicalURL: "https://x/missing.png", Status: model.StatusPending},
		{CanonicalURL: "https://x/failed.js", Status: model.StatusFailed},
		{CanonicalURL: "https://x/ghost.png", Status: model.StatusDownloaded, LocalPath: "ghost.png"},
	}
	report := Verify(context.Background(), assets, fs, func(p string) string { return "out/" + p }, nil)

	if len(report.Downloaded) != 1 {
		t.Fatalf("downloaded = %d, want 1", len(report.Downloaded))
	}
	if len(report.Missing) != 1 {
		t.Fatalf("missing = %d, want 1", len(report.Missing))
	}
	if len(report.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(report.Failed))
	}
	if len(report.FileMissingOnDisk) != 1 {
		t.Fatalf("file-missing-on-disk = %d, want 1", len(report.FileMissingOnDisk))
	}
}

func TestVerifyFlagsSuspiciousSize(t *testing.T) {
	fs := &fakeFS{sizes: map[string]int64{"out/tiny.css": 10}}
	assets := []*model.Asset{
		{CanonicalURL: "https://x/tiny.css", Type: model.AssetStylesheet, Status: model.StatusDownloaded, LocalPath: "tiny.css", ExpectedSize: 5000},
	}
	report := Verify(context.Background(), assets, fs, func(p string) string { return "out/" + p }, nil)
	if len(report.Suspicious) != 1 {
		t.Fatalf("suspicious = %d, want 1", len(report.Suspicious))
	}
}

func TestVerifyRecoversCriticalMiss(t *testing.T) {
	fs := &fakeFS{sizes: map[string]int64{}}
	assets := []*model.Asset{
		{CanonicalURL: "https://x/main.css", Type: model.AssetStylesheet, Status: model.StatusFailed, Critical: true},
	}
	recovered := false
	directFetch := func(ctx context.Context, a *model.Asset) error {
		recovered = true
		a.MarkDownloaded("main.css", 100, "abc", a.DownloadedAt)
		return nil
	}
	report := Verify(context.Background(), assets, fs, func(p string) string { return "out/" + p }, directFetch)
	if !recovered {
		t.Fatal("expected direct fetch to be attempted for critical miss")
	}
	if len(report.Recovered) != 1 {
		t.Fatalf("recovered = %d, want 1", len(report.Recovered))
	}
	if len(report.Failed) != 0 {
		t.Fatalf("failed = %d, want 0 after recovery", len(report.Failed))
	}
}

func TestQualityScoreWeightsByType(t *testing.T) {
	downloaded := []*model.Asset{
		{Type: model.AssetStylesheet},
		{Type: model.AssetImage},
	}
	got := qualityScore(downloaded)
	if got != 35 {
		t.Fatalf("quality score = %v, want 35 (25 css + 10 image)", got)
	}
}

type identityResolver struct{}

func (identityResolver) Resolve(sourcePageURL, baseTagURL, link string) string {
	return "https://example.com/" + link
}

func TestScanMissedReferencesExcludesKnown(t *testing.T) {
	disk := []DiskAsset{
		{URL: "https://example.com/main.css", Kind: model.AssetStylesheet, Data: []byte(`@import url(fonts.css);`)},
	}
	known := map[string]bool{"https://example.com/fonts.css": true}
	missed := ScanMissedReferences(disk, known, identityResolver{})
	if len(missed) != 0 {
		t.Fatalf("missed = %v, want none (already known)", missed)
	}

	known2 := map[string]bool{}
	missed2 := ScanMissedReferences(disk, known2, identityResolver{})
	if len(missed2) != 1 {
		t.Fatalf("missed = %v, want 1 unknown reference", missed2)
	}
}
