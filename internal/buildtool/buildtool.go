// Package buildtool implements the Build-Tool Detector and the path
// strategies it selects between (spec §4.7). Detection is signature-based:
// a small table of (signal, tool, weight) rules is evaluated against a
// page's discovered assets and HTML, and the tool with the highest
// accumulated confidence wins; path mapping then branches on that tool,
// applying only once confidence clears 0.8.
package buildtool

import (
	"regexp"
	"strings"

	"github.com/webmirror/webmirror/internal/model"
)

// Signals is the raw evidence gathered from a page: asset paths, inline
// script snippets, and meta tags, handed to Detect.
type Signals struct {
	AssetPaths []string
	HTML       string
}

type rule struct {
	tool   model.BuildTool
	weight float64
	match  func(Signals) (bool, string)
}

func pathContains(sig Signals, substr string) (bool, string) {
	for _, p := range sig.AssetPaths {
		if strings.Contains(p, substr) {
			return true, "asset path contains " + substr
		}
	}
	return false, ""
}

func pathMatches(sig Signals, re *regexp.Regexp, desc string) (bool, string) {
	for _, p := range sig.AssetPaths {
		if re.MatchString(p) {
			return true, desc
		}
	}
	return false, ""
}

func htmlContains(sig Signals, substr string) (bool, string) {
	if strings.Contains(sig.HTML, substr) {
		return true, "html contains " + substr
	}
	return false, ""
}

var (
	viteChunkPattern    = regexp.MustCompile(`/assets/[\w-]+-[0-9a-fA-F]{8}\.(js|css)`)
	webpackChunkPattern = regexp.MustCompile(`(chunk|runtime|vendor)[\w.-]*\.js`)
	craStaticJSPattern  = regexp.MustCompile(`/static/js/[\w.-]+\.js`)
	vueChunkPattern     = regexp.MustCompile(`chunk-vendors|app\.[\w]+\.js`)
)

// rules score each tool from 0 upward; the score is clamped to [0, 0.95]
// or, when a single rule names its own absolute confidence (e.g. vite's
// query-param signature), that confidence is used directly.
var rules = []rule{
	// Vue CLI: presence (0.8) raised to 0.9 by chunk-vendors/app.*.js.
	{model.BuildToolVueCLI, 0.8, func(s Signals) (bool, string) { return htmlContains(s, "data-v-") }},
	{model.BuildToolVueCLI, 0.1, func(s Signals) (bool, string) { return pathMatches(s, vueChunkPattern, "vue-cli chunk-vendors/app.*.js naming") }},

	// create-react-app: #root presence (0.8) raised to 0.9 by static/js/.
	{model.BuildToolCRA, 0.8, func(s Signals) (bool, string) { return htmlContains(s, `id="root"`) }},
	{model.BuildToolCRA, 0.1, func(s Signals) (bool, string) { return pathMatches(s, craStaticJSPattern, "CRA static/js/ bundle path") }},

	// vite: any /@vite/, .vite/, ?v= is near-certain (0.95).
	{model.BuildToolVite, 0.95, func(s Signals) (bool, string) { return pathContains(s, "/@vite/") }},
	{model.BuildToolVite, 0.95, func(s Signals) (bool, string) { return pathContains(s, ".vite/") }},
	{model.BuildToolVite, 0.95, func(s Signals) (bool, string) { return pathContains(s, "?v=") }},
	{model.BuildToolVite, 0.7, func(s Signals) (bool, string) {
		return pathMatches(s, viteChunkPattern, "vite-style hashed /assets chunk path")
	}},

	// webpack: chunk/runtime/vendor naming without a stronger framework
	// signal (0.7).
	{model.BuildToolWebpack, 0.7, func(s Signals) (bool, string) {
		return pathMatches(s, webpackChunkPattern, "webpack chunk/runtime/vendor naming")
	}},

	// Angular: root selector/polyfills (0.8) raised to 0.9 by
	// polyfills|main|runtime naming.
	{model.BuildToolAngularCLI, 0.8, func(s Signals) (bool, string) { return htmlContains(s, "ng-version") }},
	{model.BuildToolAngularCLI, 0.1, func(s Signals) (bool, string) { return pathContains(s, "polyfills.") }},
	{model.BuildToolAngularCLI, 0.05, func(s Signals) (bool, string) { return pathContains(s, "runtime.") }},
}

// Detect scores each known build tool against the given signals and
// returns the fingerprint for the highest-scoring one. When no rule
// matches at all, it returns BuildToolUnknown with confidence 0.
func Detect(sig Signals) model.BuildToolFingerprint {
	scores := make(map[model.BuildTool]float64)
	signalsByTool := make(map[model.BuildTool][]string)

	for _, r := range rules {
		if ok, detail := r.match(sig); ok {
			scores[r.tool] += r.weight
			signalsByTool[r.tool] = append(signalsByTool[r.tool], detail)
		}
	}

	best := model.BuildToolUnknown
	var bestScore float64
	for tool, score := range scores {
		if score > bestScore {
			best = tool
			bestScore = score
		}
	}
	if bestScore > 0.95 {
		bestScore = 0.95
	}

	return model.BuildToolFingerprint{
		Tool:       best,
		Confidence: bestScore,
		Signals:    signalsByTool[best],
	}
}

// Strategy implements fetch.PathStrategy, mapping an asset to its on-disk
// destination according to the fingerprint's tool (when confidence
// clears the threshold) or a structure-preserving fallback otherwise.
type Strategy struct {
	Fingerprint model.BuildToolFingerprint
}

// pathTable holds the per-tool, per-asset-kind directory from spec §4.7's
// mapping table. "dist/<type>" for webpack media is resolved per-type in
// TargetPath since the table's placeholder needs the asset's own kind.
var pathTable = map[model.BuildTool]map[string]string{
	model.BuildToolVueCLI: {
		"image": "img", "stylesheet": "css", "javascript": "js", "font": "fonts", "media": "media",
	},
	model.BuildToolCRA: {
		"image": "static/media", "stylesheet": "static/css", "javascript": "static/js",
		"font": "static/media", "media": "static/media",
	},
	model.BuildToolVite: {
		"image": "img", "stylesheet": "css", "javascript": "js", "font": "fonts", "media": "assets",
	},
	model.BuildToolWebpack: {
		"image": "images", "stylesheet": "css", "javascript": "js", "font": "fonts",
	},
}

// TargetPath derives the relative output path for asset.
func (s Strategy) TargetPath(asset *model.Asset) string {
	if s.Fingerprint.PathStrategyApplies() {
		if s.Fingerprint.Tool == model.BuildToolAngularCLI {
			return join("assets", lastSegment(asset.CanonicalURL))
		}
		if dirs, ok := pathTable[s.Fingerprint.Tool]; ok {
			kind := assetKindKey(asset.Type)
			dir, ok := dirs[kind]
			if !ok && s.Fingerprint.Tool == model.BuildToolWebpack {
				dir = join("dist", kind)
			}
			if dir != "" {
				return join(dir, lastSegment(asset.CanonicalURL))
			}
		}
	}
	return preservePath(asset)
}

func assetKindKey(t model.AssetType) string {
	switch t {
	case model.AssetImage, model.AssetTexture, model.AssetEnvironmentMap:
		return "image"
	case model.AssetStylesheet:
		return "stylesheet"
	case model.AssetJavaScript:
		return "javascript"
	case model.AssetFont:
		return "font"
	case model.AssetVideo, model.AssetAudio:
		return "media"
	default:
		return "other"
	}
}

// preservePath mirrors the asset's original URL path under the output
// root, the fallback for unknown or low-confidence tools, and the
// sole strategy's path for every tool's "other" asset kind.
func preservePath(asset *model.Asset) string {
	u := asset.CanonicalURL
	if idx := strings.Index(u, "://"); idx != -1 {
		u = u[idx+3:]
	}
	if idx := strings.IndexByte(u, '/'); idx != -1 {
		u = u[idx+1:]
	} else {
		u = ""
	}
	if q := strings.IndexByte(u, '?'); q != -1 {
		u = u[:q]
	}
	if u == "" {
		u = "index"
	}
	return u
}

func lastSegment(rawURL string) string {
	u := rawURL
	if q := strings.IndexByte(u, '?'); q != -1 {
		u = u[:q]
	}
	if idx := strings.LastIndexByte(u, '/'); idx != -1 {
		return u[idx+1:]
	}
	return u
}

func join(parts ...string) string {
	return strings.Join(parts, "/")
}
