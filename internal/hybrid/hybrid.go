// Package hybrid implements the Content Analyzer and Hybrid Processing
// Engine (spec §4.6): scores a page's static/dynamic/hybrid processing
// strategy from a fixed set of JS-complexity, framework, and dynamic-content
// signals, then runs the chosen extraction path(s) and merges their
// results. Grounded on the teacher's internal/analysis package (the same
// "score a fixed signal set into a classification" shape, there used for
// DOM/action classification) generalized to page-processing-strategy
// selection, and on internal/capture/enhanced_actions.go for the
// independent-weighted-signal accumulation idiom already reused in
// internal/buildtool.
package hybrid

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/webmirror/webmirror/internal/collab"
	"github.com/webmirror/webmirror/internal/model"
)

// Resolver is the narrow seam the engine needs to turn page-relative
// references into canonical URLs.
type Resolver interface {
	Resolve(sourcePageURL, baseTagURL, link string) string
}

// Strategy is the processing path chosen for a page (spec §4.6).
type Strategy string

const (
	StrategyStatic  Strategy = "static"
	StrategyDynamic Strategy = "dynamic"
	StrategyHybrid  Strategy = "hybrid"
)

// ContentSignals is the Content Analyzer's output (spec §4.6 first
// paragraph).
type ContentSignals struct {
	HTMLSize              int
	JSComplexity          float64 // [0,1]
	Frameworks             map[string]float64 // name -> confidence
	DynamicContentSignals float64
	EstimatedAssetCount   int
	IsSPA                 bool
	InteractiveElements   int
}

var (
	moduleImport    = regexp.MustCompile(`\bimport\s+[\w{}\s,*]+\s+from\s+['"]`)
	classOrFunc     = regexp.MustCompile(`\b(class|function)\s+\w+`)
	asyncAwait      = regexp.MustCompile(`\b(async|await)\b`)
	fetchOrXHR      = regexp.MustCompile(`\b(fetch\(|XMLHttpRequest|axios\.)`)
	eventListener   = regexp.MustCompile(`addEventListener\(`)
	lazyAttr        = regexp.MustCompile(`data-src|data-lazy`)
	lazyClass       = regexp.MustCompile(`class=["'][^"']*lazy`)
	asyncDeferTag   = regexp.MustCompile(`<script[^>]+(async|defer)`)
	interactiveTags = regexp.MustCompile(`<(button|input|select|textarea)\b`)
)

// AnalyzeContent implements the Content Analyzer half of spec §4.6.
func AnalyzeContent(html string) ContentSignals {
	signals := ContentSignals{
		HTMLSize:  len(html),
		Frameworks: map[string]float64{},
	}

	jsRaw := extractInlineScripts(html)
	var jsScore float64
	jsScore += countNormalized(moduleImport, jsRaw, 10)
	jsScore += countNormalized(classOrFunc, jsRaw, 10)
	jsScore += countNormalized(asyncAwait, jsRaw, 10)
	jsScore += countNormalized(fetchOrXHR, jsRaw, 5)
	jsScore += countNormalized(eventListener, jsRaw, 10)
	signals.JSComplexity = clamp01(jsScore / 5)

	if strings.Contains(html, "data-reactroot") || strings.Contains(html, "id=\"root\"") {
		signals.Frameworks["react"] = 0.6
	}
	if strings.Contains(html, "data-v-") || strings.Contains(html, "id=\"app\"") {
		signals.Frameworks["vue"] = 0.6
	}
	if strings.Contains(html, "ng-version") || strings.Contains(html, "_nghost") {
		signals.Frameworks["angular"] = 0.6
	}

	dynScore := countNormalized(lazyAttr, html, 10) + countNormalized(lazyClass, html, 10) + countNormalized(asyncDeferTag, html, 10)
	signals.DynamicContentSignals = clamp01(dynScore / 3)

	signals.EstimatedAssetCount = strings.Count(html, "<img") + strings.Count(html, "<script") + strings.Count(html, "<link")
	signals.InteractiveElements = len(interactiveTags.FindAllString(html, -1))
	signals.IsSPA = len(signals.Frameworks) > 0 && signals.EstimatedAssetCount < 10
	return signals
}

func extractInlineScripts(html string) string {
	re := regexp.MustCompile(`(?s)<script(?:\s[^>]*)?>(.*?)</script>`)
	var sb strings.Builder
	for _, m := range re.FindAllStringSubmatch(html, -1) {
		sb.WriteString(m[1])
		sb.WriteString("\n")
	}
	return sb.String()
}

func countNormalized(re *regexp.Regexp, text string, cap int) float64 {
	n := len(re.FindAllString(text, -1))
	if n > cap {
		n = cap
	}
	return float64(n) / float64(cap)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ScoreStrategy implements spec §4.6's additive scoring rule: low JS
// complexity, absent frameworks, low dynamic signals, and small page size
// push toward static; the inverse pushes toward dynamic.
func ScoreStrategy(s ContentSignals) int {
	score := 0

	if s.JSComplexity < 0.3 {
		score++
	} else if s.JSComplexity > 0.7 {
		score--
	}

	var maxFrameworkConfidence float64
	for _, c := range s.Frameworks {
		if c > maxFrameworkConfidence {
			maxFrameworkConfidence = c
		}
	}
	if maxFrameworkConfidence == 0 {
		score++
	} else if maxFrameworkConfidence > 0.8 {
		score -= 2
	}

	if s.DynamicContentSignals < 0.3 {
		score++
	} else if s.DynamicContentSignals > 0.7 {
		score--
	}

	if s.HTMLSize < 50_000 {
		score++
	} else if s.HTMLSize > 500_000 {
		score--
	}

	return score
}

// SelectStrategy applies spec §4.6's thresholds: score >= 4 selects static,
// <= -3 selects dynamic, otherwise hybrid. forced overrides the computed
// result when non-empty (spec: "Context may force a strategy").
func SelectStrategy(score int, forced Strategy) Strategy {
	if forced != "" {
		return forced
	}
	switch {
	case score >= 4:
		return StrategyStatic
	case score <= -3:
		return StrategyDynamic
	default:
		return StrategyHybrid
	}
}

// Found is one asset or link discovered by the static or dynamic path.
type Found struct {
	CanonicalURL    string
	Type            model.AssetType
	DiscoveryMethod model.DiscoveryMethod
}

// Link is a crawlable page reference (spec §4.6 static extraction, `<a href>`).
type Link struct {
	CanonicalURL string
}

// PageResult is the engine's contract output.
type PageResult struct {
	Assets       []Found
	Links        []Link
	Completeness float64
	Strategy     Strategy
	Errors       []string
}

var (
	staticImg    = regexp.MustCompile(`<img[^>]+src=["']([^"']+)["']`)
	staticScript = regexp.MustCompile(`<script[^>]+src=["']([^"']+)["']`)
	staticLink   = regexp.MustCompile(`<link[^>]+rel=["']?stylesheet["']?[^>]*href=["']([^"']+)["']`)
	staticAnchor = regexp.MustCompile(`<a[^>]+href=["']([^"']+)["']`)
	staticStyle  = regexp.MustCompile(`style=["']([^"']*url\(([^)]+)\)[^"']*)["']`)
)

// extractStatic implements spec §4.6's static path: parse HTML with a
// regex-based scan (the same approach internal/discovery takes for its
// HTML pass) and pull assets from the fixed element/attribute set.
func extractStatic(pageURL, html string, resolver Resolver) ([]Found, []Link) {
	var assets []Found
	var links []Link
	add := func(link string, t model.AssetType) {
		if link == "" || strings.HasPrefix(link, "data:") {
			return
		}
		assets = append(assets, Found{CanonicalURL: resolver.Resolve(pageURL, "", link), Type: t, DiscoveryMethod: model.DiscoveryStatic})
	}
	for _, m := range staticImg.FindAllStringSubmatch(html, -1) {
		add(m[1], model.AssetImage)
	}
	for _, m := range staticScript.FindAllStringSubmatch(html, -1) {
		add(m[1], model.AssetJavaScript)
	}
	for _, m := range staticLink.FindAllStringSubmatch(html, -1) {
		add(m[1], model.AssetStylesheet)
	}
	for _, m := range staticStyle.FindAllStringSubmatch(html, -1) {
		add(strings.Trim(m[2], `'" `), model.AssetImage)
	}
	for _, m := range staticAnchor.FindAllStringSubmatch(html, -1) {
		if m[1] == "" || strings.HasPrefix(m[1], "#") || strings.HasPrefix(m[1], "javascript:") {
			continue
		}
		links = append(links, Link{CanonicalURL: resolver.Resolve(pageURL, "", m[1])})
	}
	return assets, links
}

// dynamicResourceTypes restricts the observed network log to the resource
// types spec §4.6 names for the dynamic path.
var dynamicResourceTypes = map[string]model.AssetType{
	"image":      model.AssetImage,
	"stylesheet": model.AssetStylesheet,
	"script":     model.AssetJavaScript,
	"font":       model.AssetFont,
	"media":      model.AssetVideo,
}

// extractDynamic implements spec §4.6's dynamic path: trigger lazy
// mechanisms, then read the post-settlement DOM plus the observed network
// log restricted to image/stylesheet/script/font/media.
func extractDynamic(ctx context.Context, page collab.HeadlessPage, pageURL string, resolver Resolver) ([]Found, []Link, error) {
	if _, err := page.Evaluate(ctx, lazyTriggerScript); err != nil {
		return nil, nil, err
	}
	html, err := page.Content(ctx)
	if err != nil {
		return nil, nil, err
	}
	assets, links := extractStatic(pageURL, html, resolver)
	for i := range assets {
		assets[i].DiscoveryMethod = model.DiscoveryDynamic
	}

	entries, err := page.NetworkLog(ctx)
	if err != nil {
		return assets, links, nil
	}
	for _, e := range entries {
		t, ok := dynamicResourceTypes[e.ResourceType]
		if !ok {
			continue
		}
		assets = append(assets, Found{CanonicalURL: e.URL, Type: t, DiscoveryMethod: model.DiscoveryDynamic})
	}
	return assets, links, nil
}

const lazyTriggerScript = `
(function() {
  window.scrollTo(0, document.body.scrollHeight);
  document.querySelectorAll('[data-src],[data-lazy]').forEach(function(el) {
    el.dispatchEvent(new Event('mouseover', {bubbles: true}));
  });
  return true;
})()
`

// Process implements the engine's top-level contract: score a strategy,
// run the corresponding extraction path(s), and merge.
func Process(ctx context.Context, page collab.HeadlessPage, pageURL string, html string, resolver Resolver, forced Strategy, parseTimeout time.Duration) PageResult {
	signals := AnalyzeContent(html)
	score := ScoreStrategy(signals)
	strategy := SelectStrategy(score, forced)

	switch strategy {
	case StrategyStatic:
		return processStatic(ctx, pageURL, html, resolver, signals, parseTimeout, page)
	case StrategyDynamic:
		return processDynamic(ctx, page, pageURL, resolver, signals)
	default:
		return processHybrid(ctx, page, pageURL, html, resolver, signals, parseTimeout)
	}
}

func processStatic(ctx context.Context, pageURL, html string, resolver Resolver, signals ContentSignals, parseTimeout time.Duration, fallbackPage collab.HeadlessPage) PageResult {
	done := make(chan struct {
		assets []Found
		links  []Link
	}, 1)
	go func() {
		a, l := extractStatic(pageURL, html, resolver)
		done <- struct {
			assets []Found
			links  []Link
		}{a, l}
	}()

	select {
	case r := <-done:
		return PageResult{Assets: r.assets, Links: r.links, Strategy: StrategyStatic, Completeness: completeness(r.assets, signals, false)}
	case <-time.After(parseTimeout):
		if fallbackPage != nil {
			return processDynamic(ctx, fallbackPage, pageURL, resolver, signals)
		}
		return PageResult{Strategy: StrategyStatic, Errors: []string{"static parse timed out"}}
	}
}

func processDynamic(ctx context.Context, page collab.HeadlessPage, pageURL string, resolver Resolver, signals ContentSignals) PageResult {
	if page == nil {
		return PageResult{Strategy: StrategyDynamic, Errors: []string{"no page handle available for dynamic processing"}}
	}
	assets, links, err := extractDynamic(ctx, page, pageURL, resolver)
	result := PageResult{Assets: assets, Links: links, Strategy: StrategyDynamic, Completeness: completeness(assets, signals, false)}
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	return result
}

func processHybrid(ctx context.Context, page collab.HeadlessPage, pageURL, html string, resolver Resolver, signals ContentSignals, parseTimeout time.Duration) PageResult {
	type outcome struct {
		assets []Found
		links  []Link
		err    error
	}
	staticCh := make(chan outcome, 1)
	dynamicCh := make(chan outcome, 1)

	go func() {
		a, l := extractStatic(pageURL, html, resolver)
		staticCh <- outcome{assets: a, links: l}
	}()
	go func() {
		if page == nil {
			dynamicCh <- outcome{err: errNoPage}
			return
		}
		a, l, err := extractDynamic(ctx, page, pageURL, resolver)
		dynamicCh <- outcome{assets: a, links: l, err: err}
	}()

	staticOut := <-staticCh
	dynamicOut := <-dynamicCh

	merged, bothCount := mergeByCanonicalURL(staticOut.assets, dynamicOut.assets)
	result := PageResult{
		Assets:       merged,
		Links:        append(staticOut.links, dynamicOut.links...),
		Strategy:     StrategyHybrid,
		Completeness: completeness(merged, signals, true) + float64(bothCount)*0.01,
	}
	if dynamicOut.err != nil {
		result.Errors = append(result.Errors, dynamicOut.err.Error())
	}
	return result
}

var errNoPage = &hybridError{"no page handle available for dynamic path"}

type hybridError struct{ msg string }

func (e *hybridError) Error() string { return e.msg }

// mergeByCanonicalURL implements spec §4.6's merge rule: static-discovered
// assets take precedence on metadata; dynamic-only additions are appended;
// assets found by both are marked discovery_method=both.
func mergeByCanonicalURL(static, dynamic []Found) ([]Found, int) {
	byURL := make(map[string]int, len(static))
	merged := make([]Found, len(static))
	copy(merged, static)
	for i, a := range merged {
		byURL[a.CanonicalURL] = i
	}
	var bothCount int
	for _, d := range dynamic {
		if idx, ok := byURL[d.CanonicalURL]; ok {
			merged[idx].DiscoveryMethod = model.DiscoveryBoth
			bothCount++
			continue
		}
		byURL[d.CanonicalURL] = len(merged)
		merged = append(merged, d)
	}
	return merged, bothCount
}

// completeness scores asset coverage against the analyzer's estimate, with
// bonuses for each major type found (spec §4.6).
func completeness(found []Found, signals ContentSignals, hybrid bool) float64 {
	byType := map[model.AssetType]bool{}
	for _, f := range found {
		byType[f.Type] = true
	}
	var score float64
	if signals.EstimatedAssetCount > 0 {
		ratio := float64(len(found)) / float64(signals.EstimatedAssetCount)
		if ratio > 1 {
			ratio = 1
		}
		score = ratio * 0.7
	} else if len(found) > 0 {
		score = 0.7
	}
	for _, t := range []model.AssetType{model.AssetStylesheet, model.AssetJavaScript, model.AssetImage, model.AssetFont} {
		if byType[t] {
			score += 0.075
		}
	}
	return clamp01(score)
}
