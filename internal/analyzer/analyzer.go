// Package analyzer implements the Payload Analyzer (spec §4.5): launches a
// headless page, triggers the site's lazy-load mechanisms, enumerates every
// referenceable asset from the settled DOM, and scores the result into a
// PayloadReport. Grounded on the teacher's internal/capture/network_waterfall.go
// (per-asset entry collection) and internal/performance (weighted-rubric
// scoring over a fixed set of signals), generalized from browser performance
// telemetry to a pre-crawl payload estimate.
package analyzer

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/webmirror/webmirror/internal/collab"
	"github.com/webmirror/webmirror/internal/model"
	"github.com/webmirror/webmirror/internal/resolve"
)

// Resolver is the narrow seam the analyzer needs to turn a page-relative
// reference into a canonical URL.
type Resolver interface {
	Resolve(sourcePageURL, baseTagURL, link string) string
}

var _ Resolver = (*resolve.Resolver)(nil)

// Options configures one analysis run.
type Options struct {
	AnalysisDepth int // bounds recursive @import/url() harvesting of discovered stylesheets
	HeadTimeout   time.Duration
}

// DefaultOptions matches spec §6's analysis_depth default.
func DefaultOptions() Options {
	return Options{AnalysisDepth: 2, HeadTimeout: 10 * time.Second}
}

// AssetObservation is one asset discovered during analysis, prior to being
// handed to the Fetch Pipeline.
type AssetObservation struct {
	CanonicalURL string
	Type         model.AssetType
	Critical     bool
	ExpectedSize int64
}

// PayloadReport is the analyzer's contract output (spec §4.5).
type PayloadReport struct {
	Assets            []AssetObservation
	CountsByType      map[model.AssetType]int
	TotalBytes        int64
	CompletenessScore float64 // 0-100, the 25/20/20/15/20 rubric
	ComplexityScore   float64
	ETASeconds        float64
}

// assumedBandwidthBytesPerSec is the bandwidth assumption behind the ETA
// estimate (spec §4.5 "estimated download time against an assumed bandwidth").
const assumedBandwidthBytesPerSec = 1_000_000 // ~8 Mbps

// complexityWeight mirrors the Hybrid Processor's per-type weighting
// (spec §4.6), reused here for the analyzer's complexity score so the two
// reports stay comparable.
var complexityWeight = map[model.AssetType]float64{
	model.AssetJavaScript: 3,
	model.AssetStylesheet: 2,
	model.AssetFont:       1,
	model.AssetImage:      1,
	model.Asset3DModel:    4,
	model.AssetVideo:      2,
	model.AssetAudio:      1,
	model.AssetOther:      0.5,
}

// lazyTriggerScript is evaluated in-page to settle lazy-load mechanisms
// before extraction: full-document scroll, hover/focus on data-src/data-lazy
// elements, and a best-effort click of "load more"-shaped buttons.
const lazyTriggerScript = `
(function() {
  window.scrollTo(0, document.body.scrollHeight);
  document.querySelectorAll('[data-src],[data-lazy]').forEach(function(el) {
    el.dispatchEvent(new Event('mouseover', {bubbles: true}));
    el.dispatchEvent(new Event('focus', {bubbles: true}));
  });
  var loadWords = /load|show|more/i;
  document.querySelectorAll('button,a').forEach(function(el) {
    if (loadWords.test(el.textContent || '')) {
      try { el.click(); } catch (e) {}
    }
  });
  return true;
})()
`

var urlInCSS = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)
var cssImport = regexp.MustCompile(`@import\s+(?:url\(\s*)?['"]([^'"]+)['"]`)

// Analyze implements the analyzer contract: navigate, settle lazy content,
// extract every referenceable asset, and score the result.
func Analyze(ctx context.Context, driver collab.HeadlessDriver, transport collab.Transport, resolver Resolver, startURL string, opts Options) (PayloadReport, error) {
	page, err := driver.NewPage(ctx, 1280, 800)
	if err != nil {
		return PayloadReport{}, err
	}
	defer page.Close()

	if err := page.Goto(ctx, startURL); err != nil {
		return PayloadReport{}, err
	}
	if _, err := page.Evaluate(ctx, lazyTriggerScript); err != nil {
		// Best-effort: a page with no lazy mechanisms, or one that blocks
		// script evaluation, still yields whatever static DOM it has.
	}

	html, err := page.Content(ctx)
	if err != nil {
		return PayloadReport{}, err
	}

	observations := extractDOMReferences(startURL, html, resolver)
	observations = append(observations, harvestStylesheets(ctx, transport, resolver, observations, opts.AnalysisDepth)...)
	observations = dedup(observations)

	probeSizes(ctx, transport, observations, opts.HeadTimeout)

	return buildReport(observations), nil
}

// extractDOMReferences implements the DOM-enumeration half of spec §4.5:
// every asset-bearing element and attribute in the settled document.
func extractDOMReferences(pageURL, html string, resolver Resolver) []AssetObservation {
	var out []AssetObservation
	add := func(link string, t model.AssetType, critical bool) {
		if link == "" || strings.HasPrefix(link, "data:") || strings.HasPrefix(link, "javascript:") {
			return
		}
		out = append(out, AssetObservation{
			CanonicalURL: resolver.Resolve(pageURL, "", link),
			Type:         t,
			Critical:     critical,
		})
	}

	for _, m := range hrefPattern(`<link[^>]+rel=["']?stylesheet["']?[^>]*href=["']([^"']+)["']`).FindAllStringSubmatch(html, -1) {
		add(m[1], model.AssetStylesheet, true)
	}
	for _, m := range hrefPattern(`<link[^>]+href=["']([^"']+)["'][^>]*rel=["']?stylesheet["']?`).FindAllStringSubmatch(html, -1) {
		add(m[1], model.AssetStylesheet, true)
	}
	for _, m := range hrefPattern(`<script[^>]+src=["']([^"']+)["']`).FindAllStringSubmatch(html, -1) {
		add(m[1], model.AssetJavaScript, !strings.Contains(m[0], "defer") && !strings.Contains(m[0], "async"))
	}
	for _, attr := range []string{"src", "data-src", "data-lazy-src", "data-original"} {
		for _, m := range hrefPattern(`<img[^>]+`+attr+`=["']([^"']+)["']`).FindAllStringSubmatch(html, -1) {
			add(m[1], model.AssetImage, false)
		}
	}
	for _, m := range hrefPattern(`srcset=["']([^"']+)["']`).FindAllStringSubmatch(html, -1) {
		for _, candidate := range strings.Split(m[1], ",") {
			fields := strings.Fields(strings.TrimSpace(candidate))
			if len(fields) > 0 {
				add(fields[0], model.AssetImage, false)
			}
		}
	}
	for _, tag := range []string{"video", "audio", "source"} {
		for _, m := range hrefPattern(`<`+tag+`[^>]+src=["']([^"']+)["']`).FindAllStringSubmatch(html, -1) {
			add(m[1], assetKindFor(tag), false)
		}
	}
	for _, m := range hrefPattern(`<link[^>]+rel=["']?(?:icon|shortcut icon)["']?[^>]*href=["']([^"']+)["']`).FindAllStringSubmatch(html, -1) {
		add(m[1], model.AssetImage, true)
	}
	for _, m := range hrefPattern(`<link[^>]+rel=["']?manifest["']?[^>]*href=["']([^"']+)["']`).FindAllStringSubmatch(html, -1) {
		add(m[1], model.AssetManifest, false)
	}

	// Inline <style> and every element's style attribute: url()/@import.
	for _, m := range urlInCSS.FindAllStringSubmatch(html, -1) {
		add(m[1], model.AssetImage, false)
	}
	for _, m := range cssImport.FindAllStringSubmatch(html, -1) {
		add(m[1], model.AssetStylesheet, false)
	}

	return out
}

func assetKindFor(tag string) model.AssetType {
	if tag == "audio" {
		return model.AssetAudio
	}
	return model.AssetVideo
}

var patternCache = map[string]*regexp.Regexp{}

func hrefPattern(pattern string) *regexp.Regexp {
	if re, ok := patternCache[pattern]; ok {
		return re
	}
	re := regexp.MustCompile(pattern)
	patternCache[pattern] = re
	return re
}

// harvestStylesheets dereferences each discovered stylesheet to recursively
// pull its own @import/url() references, bounded by AnalysisDepth.
func harvestStylesheets(ctx context.Context, transport collab.Transport, resolver Resolver, seed []AssetObservation, depth int) []AssetObservation {
	if depth <= 0 {
		return nil
	}
	var out []AssetObservation
	for _, a := range seed {
		if a.Type != model.AssetStylesheet {
			continue
		}
		result, err := transport.Fetch(ctx, a.CanonicalURL, nil, 10*time.Second)
		if err != nil || result.Status < 200 || result.Status >= 300 {
			continue
		}
		css := string(result.Bytes)
		for _, m := range urlInCSS.FindAllStringSubmatch(css, -1) {
			out = append(out, AssetObservation{CanonicalURL: resolver.Resolve(a.CanonicalURL, "", m[1]), Type: model.AssetOther})
		}
		for _, m := range cssImport.FindAllStringSubmatch(css, -1) {
			out = append(out, AssetObservation{CanonicalURL: resolver.Resolve(a.CanonicalURL, "", m[1]), Type: model.AssetStylesheet})
		}
	}
	return out
}

func dedup(in []AssetObservation) []AssetObservation {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, a := range in {
		if seen[a.CanonicalURL] {
			continue
		}
		seen[a.CanonicalURL] = true
		out = append(out, a)
	}
	return out
}

// probeSizes attempts a HEAD request per asset to capture content-length;
// absent that, estimates size by type/URL heuristics (spec §4.5).
func probeSizes(ctx context.Context, transport collab.Transport, observations []AssetObservation, timeout time.Duration) {
	for i := range observations {
		result, err := transport.Head(ctx, observations[i].CanonicalURL, nil, timeout)
		if err == nil && result.Status >= 200 && result.Status < 300 {
			if lengths, ok := result.Headers["Content-Length"]; ok && len(lengths) > 0 {
				if n := parseContentLength(lengths[0]); n > 0 {
					observations[i].ExpectedSize = n
					continue
				}
			}
		}
		observations[i].ExpectedSize = estimateSize(observations[i])
	}
}

func parseContentLength(s string) int64 {
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int64(r-'0')
	}
	return n
}

// estimateSize heuristics by type when no content-length is available.
func estimateSize(a AssetObservation) int64 {
	switch a.Type {
	case model.AssetStylesheet:
		return 15 * 1024
	case model.AssetJavaScript:
		return 60 * 1024
	case model.AssetImage:
		return 80 * 1024
	case model.AssetFont:
		return 40 * 1024
	case model.AssetVideo:
		return 2 * 1024 * 1024
	case model.AssetAudio:
		return 500 * 1024
	case model.Asset3DModel:
		return 1024 * 1024
	default:
		return 10 * 1024
	}
}

func buildReport(observations []AssetObservation) PayloadReport {
	report := PayloadReport{
		Assets:       observations,
		CountsByType: map[model.AssetType]int{},
	}
	for _, a := range observations {
		report.CountsByType[a.Type]++
		report.TotalBytes += a.ExpectedSize
		report.ComplexityScore += complexityWeight[a.Type]
	}
	report.CompletenessScore = completenessRubric(report.CountsByType)
	if assumedBandwidthBytesPerSec > 0 {
		report.ETASeconds = float64(report.TotalBytes) / float64(assumedBandwidthBytesPerSec)
	}
	return report
}

// completenessRubric implements spec §4.5's 25/20/20/15/20 point table for
// presence of CSS/JS/images/fonts/depth (depth credited as long as any
// asset beyond the root page was found).
func completenessRubric(counts map[model.AssetType]int) float64 {
	var score float64
	if counts[model.AssetStylesheet] > 0 {
		score += 25
	}
	if counts[model.AssetJavaScript] > 0 {
		score += 20
	}
	if counts[model.AssetImage] > 0 {
		score += 20
	}
	if counts[model.AssetFont] > 0 {
		score += 15
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total > 0 {
		score += 20
	}
	return score
}
