// Package verify implements the Completeness Verifier (spec §4.10):
// cross-references expected against downloaded assets, attempts recovery
// of critical misses via a direct fetch bypassing cache, and produces a
// weighted quality score.
package verify

import (
	"context"
	"time"

	"github.com/webmirror/webmirror/internal/collab"
	"github.com/webmirror/webmirror/internal/discovery"
	"github.com/webmirror/webmirror/internal/errs"
	"github.com/webmirror/webmirror/internal/model"
)

// qualityWeight is the per-type weighting for the quality score (spec
// §4.10's point table).
var qualityWeight = map[model.AssetType]float64{
	model.AssetStylesheet: 25,
	model.AssetJavaScript: 20,
	model.AssetFont:       15,
	model.AssetImage:      10,
	model.Asset3DModel:    30,
	model.AssetVideo:      15,
	model.AssetAudio:      10,
	model.AssetOther:      5,
}

// Filesystem is the narrow on-disk-presence seam the verifier needs.
type Filesystem interface {
	Stat(path string) (exists bool, size int64, err error)
}

// Report is the Completeness Verifier's output (spec §4.10).
type Report struct {
	Downloaded       []*model.Asset
	Missing          []*model.Asset
	Failed           []*model.Asset
	FileMissingOnDisk []*model.Asset
	Suspicious       []*model.Asset
	Recovered        []*model.Asset
	MissedReferences []string
	CompletenessPercent float64
	QualityScore        float64
}

// sizeThreshold is the absolute floor below which a non-"other" asset is
// flagged suspicious regardless of the expected-size ratio (spec §4.10).
const sizeThresholdBytes = 100

// sizeDeviationRatio is the fraction difference between expected and
// actual size beyond which an asset is flagged suspicious.
const sizeDeviationRatio = 0.10

// Verify runs phases 1-4 of spec §4.10 against the session's Asset Table,
// recovering critical misses via directFetch before finalizing the
// report. outputRoot joins with each asset's local path to check on-disk
// presence.
func Verify(ctx context.Context, assets []*model.Asset, fs Filesystem, outputRoot func(localPath string) string, directFetch func(ctx context.Context, asset *model.Asset) error) Report {
	var report Report

	for _, a := range assets {
		switch a.Status {
		case model.StatusDownloaded:
			exists, size, _ := fs.Stat(outputRoot(a.LocalPath))
			if !exists {
				report.FileMissingOnDisk = append(report.FileMissingOnDisk, a)
				continue
			}
			if isSuspicious(a, size) {
				report.Suspicious = append(report.Suspicious, a)
			}
			report.Downloaded = append(report.Downloaded, a)
		case model.StatusFailed:
			report.Failed = append(report.Failed, a)
		case model.StatusPending, model.StatusDownloading:
			report.Missing = append(report.Missing, a)
		case model.StatusFailedPermanent:
			report.Missing = append(report.Missing, a)
		}
	}

	for _, a := range report.Failed {
		if !a.Critical || directFetch == nil {
			continue
		}
		if err := attemptRecovery(ctx, a, directFetch); err == nil {
			report.Recovered = append(report.Recovered, a)
			report.Downloaded = append(report.Downloaded, a)
		}
	}
	report.Failed = dropRecovered(report.Failed, report.Recovered)

	report.CompletenessPercent = completenessPercent(assets, report.Downloaded)
	report.QualityScore = qualityScore(report.Downloaded)

	return report
}

func attemptRecovery(ctx context.Context, asset *model.Asset, directFetch func(ctx context.Context, asset *model.Asset) error) error {
	recoverCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return directFetch(recoverCtx, asset)
}

func dropRecovered(failed, recovered []*model.Asset) []*model.Asset {
	if len(recovered) == 0 {
		return failed
	}
	recoveredSet := make(map[string]bool, len(recovered))
	for _, a := range recovered {
		recoveredSet[a.CanonicalURL] = true
	}
	out := failed[:0]
	for _, a := range failed {
		if !recoveredSet[a.CanonicalURL] {
			out = append(out, a)
		}
	}
	return out
}

func isSuspicious(a *model.Asset, diskSize int64) bool {
	if a.Type != model.AssetOther && diskSize < sizeThresholdBytes {
		return true
	}
	if a.ExpectedSize <= 0 {
		return false
	}
	diff := diskSize - a.ExpectedSize
	if diff < 0 {
		diff = -diff
	}
	return float64(diff)/float64(a.ExpectedSize) > sizeDeviationRatio
}

func completenessPercent(expected, downloaded []*model.Asset) float64 {
	if len(expected) == 0 {
		return 100
	}
	return 100 * float64(len(downloaded)) / float64(len(expected))
}

func qualityScore(downloaded []*model.Asset) float64 {
	var total float64
	for _, a := range downloaded {
		w, ok := qualityWeight[a.Type]
		if !ok {
			w = qualityWeight[model.AssetOther]
		}
		total += w
	}
	return total
}

// DiskAsset is one on-disk file handed to ScanMissedReferences: its kind
// (html/css/js) selects which discovery scanner applies.
type DiskAsset struct {
	URL  string
	Kind model.AssetType
	Data []byte
}

// ScanMissedReferences implements spec §4.10 phase 5: scan downloaded
// HTML/CSS/JS for URL patterns absent from the Asset Table, reusing the
// same extraction rules as Recursive Discovery. Callers may feed the
// result back into the Fetch Pipeline.
func ScanMissedReferences(disk []DiskAsset, known map[string]bool, resolver discovery.Resolver) []string {
	var missed []string
	seen := map[string]bool{}
	record := func(found []discovery.Found) {
		for _, f := range found {
			if f.CanonicalURL == "" || known[f.CanonicalURL] || seen[f.CanonicalURL] {
				continue
			}
			seen[f.CanonicalURL] = true
			missed = append(missed, f.CanonicalURL)
		}
	}
	for _, d := range disk {
		switch d.Kind {
		case model.AssetStylesheet:
			record(discovery.ScanCSS(d.URL, d.Data, resolver))
		case model.AssetJavaScript:
			record(discovery.ScanJS(d.URL, d.Data, resolver))
		case model.AssetHTML:
			record(discovery.ScanHTML(d.URL, d.Data, resolver))
		}
	}
	return missed
}

// DirectFetch builds a directFetch closure that bypasses the cache and
// issues its own transport call with a dedicated timeout, per spec
// §4.10 phase 3.
func DirectFetch(transport collab.Transport, timeout time.Duration, onSuccess func(asset *model.Asset, result collab.FetchResult)) func(ctx context.Context, asset *model.Asset) error {
	return func(ctx context.Context, asset *model.Asset) error {
		result, err := transport.Fetch(ctx, asset.CanonicalURL, nil, timeout)
		if err != nil {
			return errs.Wrap(errs.KindNetwork, "recovery fetch failed", err)
		}
		if result.Status < 200 || result.Status >= 300 {
			return errs.HTTPStatus(result.Status)
		}
		onSuccess(asset, result)
		return nil
	}
}
