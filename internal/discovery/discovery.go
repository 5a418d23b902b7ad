// Package discovery implements Recursive Discovery (spec §4.9): after the
// initial fetch pass, downloaded CSS/JS/HTML are re-scanned for asset
// references the first pass missed, bounded to a small number of passes.
package discovery

import (
	"regexp"
	"strings"

	"github.com/webmirror/webmirror/internal/model"
)

// MaxPasses bounds recursive discovery iterations (spec §4.9: "implementation: 3").
const MaxPasses = 3

// Resolver is the narrow URL-resolution seam discovery needs.
type Resolver interface {
	Resolve(sourcePageURL, baseTagURL, link string) string
}

// Found is one newly discovered reference, ready for classification and
// insertion into the Asset Table with discovery_method=recursive-*.
type Found struct {
	CanonicalURL string
	Method       model.DiscoverySource
}

var (
	cssImportOrURL = regexp.MustCompile(`(?:@import\s+(?:url\()?|url\()\s*['"]?([^'")\s;]+)['"]?\)?`)
	jsStringAsset  = regexp.MustCompile(`["'` + "`" + `]([^"'` + "`" + `]+\.(?:png|jpe?g|gif|webp|svg|css|js|woff2?|mp4|mp3|glb|gltf))["'` + "`" + `]`)
	jsDynamicImport = regexp.MustCompile(`import\(\s*["']([^"']+)["']\s*\)`)
	htmlDataAttr    = regexp.MustCompile(`(?:data-src|data-lazy|data-original|data-bg|data-background)=["']([^"']+)["']`)
	htmlSrcset      = regexp.MustCompile(`srcset=["']([^"']+)["']`)
)

// ScanCSS harvests @import and url(...) references from downloaded CSS
// (spec §4.9, also exercised by scenario 5's @import + url(..) mix).
func ScanCSS(cssURL string, css []byte, resolver Resolver) []Found {
	var found []Found
	for _, m := range cssImportOrURL.FindAllStringSubmatch(string(css), -1) {
		ref := resolver.Resolve(cssURL, "", m[1])
		found = append(found, Found{CanonicalURL: ref, Method: model.SourceRecursiveCSS})
	}
	return found
}

// ScanJS scans string literals and dynamic import() calls for
// asset-looking references.
func ScanJS(jsURL string, js []byte, resolver Resolver) []Found {
	var found []Found
	text := string(js)
	for _, m := range jsStringAsset.FindAllStringSubmatch(text, -1) {
		ref := resolver.Resolve(jsURL, "", m[1])
		found = append(found, Found{CanonicalURL: ref, Method: model.SourceRecursiveJS})
	}
	for _, m := range jsDynamicImport.FindAllStringSubmatch(text, -1) {
		ref := resolver.Resolve(jsURL, "", m[1])
		found = append(found, Found{CanonicalURL: ref, Method: model.SourceRecursiveJS})
	}
	return found
}

// ScanHTML scans data attributes and srcset values not already handled by
// the first-pass Payload Analyzer/Hybrid Processor extraction.
func ScanHTML(pageURL string, html []byte, resolver Resolver) []Found {
	var found []Found
	text := string(html)
	for _, m := range htmlDataAttr.FindAllStringSubmatch(text, -1) {
		ref := resolver.Resolve(pageURL, "", m[1])
		found = append(found, Found{CanonicalURL: ref, Method: model.SourceRecursiveHTML})
	}
	for _, m := range htmlSrcset.FindAllStringSubmatch(text, -1) {
		for _, candidate := range strings.Split(m[1], ",") {
			fields := strings.Fields(strings.TrimSpace(candidate))
			if len(fields) == 0 {
				continue
			}
			ref := resolver.Resolve(pageURL, "", fields[0])
			found = append(found, Found{CanonicalURL: ref, Method: model.SourceRecursiveHTML})
		}
	}
	return found
}

// AssetTable is the narrow seam discovery needs: lookup for dedup, insert
// for newly discovered references.
type AssetTable interface {
	Lookup(canonicalURL string) (*model.Asset, bool)
	Insert(asset *model.Asset)
}

// ClassifyFunc assigns an AssetType to a newly discovered URL (delegated
// to the Hybrid Processor's content-type/extension heuristics).
type ClassifyFunc func(canonicalURL string) model.AssetType

// Pass runs one recursive-discovery iteration over already-downloaded
// content and inserts newly discovered, not-yet-known assets into table.
// It never re-enters a URL that is already downloaded or failed-permanent
// (spec §5 ordering guarantee 2). Returns the count of newly inserted
// assets so the caller can decide whether another pass is warranted.
func Pass(table AssetTable, classify ClassifyFunc, candidates []Found) int {
	inserted := 0
	for _, c := range candidates {
		if c.CanonicalURL == "" {
			continue
		}
		if existing, ok := table.Lookup(c.CanonicalURL); ok {
			if existing.Status == model.StatusDownloaded || existing.Status == model.StatusFailedPermanent {
				continue
			}
			continue
		}
		table.Insert(&model.Asset{
			CanonicalURL: c.CanonicalURL,
			OriginalURL:  c.CanonicalURL,
			Type:         classify(c.CanonicalURL),
			Source:       c.Method,
			Status:       model.StatusPending,
		})
		inserted++
	}
	return inserted
}
