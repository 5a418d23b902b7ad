// Package model defines the entities shared across webmirror's crawl
// pipeline: Asset, Page, BuildToolFingerprint, Session, CacheEntry, and
// CircuitBreakerState. Layout follows the teacher's capture/session type
// packages (plain structs, JSON tags, no behavior beyond small invariant
// helpers) adapted to the crawl domain.
package model

import "time"

// AssetType classifies a discovered asset.
type AssetType string

const (
	AssetHTML           AssetType = "html"
	AssetStylesheet     AssetType = "stylesheet"
	AssetJavaScript     AssetType = "javascript"
	AssetImage          AssetType = "image"
	AssetFont           AssetType = "font"
	AssetVideo          AssetType = "video"
	AssetAudio          AssetType = "audio"
	Asset3DModel        AssetType = "3d-model"
	AssetTexture        AssetType = "texture"
	AssetEnvironmentMap AssetType = "environment-map"
	AssetManifest       AssetType = "manifest"
	AssetOther          AssetType = "other"
)

// DiscoverySource records how an asset reference was found.
type DiscoverySource string

const (
	SourceNetworkResponse DiscoverySource = "network-response"
	SourceDOMScan         DiscoverySource = "dom-scan"
	SourceCSSURL          DiscoverySource = "css-url"
	SourceCSSImport       DiscoverySource = "css-import"
	SourceSrcset          DiscoverySource = "srcset"
	SourceDataAttr        DiscoverySource = "data-attr"
	SourceJSLiteral       DiscoverySource = "js-literal"
	SourceRecursiveCSS    DiscoverySource = "recursive-css"
	SourceRecursiveJS     DiscoverySource = "recursive-js"
	SourceRecursiveHTML   DiscoverySource = "recursive-html"
)

// DiscoveryMethod records whether an asset was found by the static path, the
// dynamic path, or both (Hybrid Processor merge, spec §4.6).
type DiscoveryMethod string

const (
	DiscoveryStatic  DiscoveryMethod = "static"
	DiscoveryDynamic DiscoveryMethod = "dynamic"
	DiscoveryBoth    DiscoveryMethod = "both"
)

// DownloadStatus is the Asset lifecycle state.
type DownloadStatus string

const (
	StatusPending        DownloadStatus = "pending"
	StatusDownloading    DownloadStatus = "downloading"
	StatusDownloaded     DownloadStatus = "downloaded"
	StatusFailed         DownloadStatus = "failed"
	StatusFailedPermanent DownloadStatus = "failed-permanent"
)

// Asset is the central crawl entity, keyed by canonical URL within a
// session. See spec §3 "Asset" for the field-by-field contract.
type Asset struct {
	CanonicalURL    string          `json:"canonical_url"`
	OriginalURL     string          `json:"original_url"`
	Type            AssetType       `json:"type"`
	Source          DiscoverySource `json:"source"`
	DiscoveryMethod DiscoveryMethod `json:"discovery_method,omitempty"`
	Critical        bool            `json:"critical"`
	ExpectedSize    int64           `json:"expected_size,omitempty"`
	ActualSize      int64           `json:"actual_size,omitempty"`
	ContentType     string          `json:"content_type,omitempty"`
	Checksum        string          `json:"checksum,omitempty"`
	LocalPath       string          `json:"local_path,omitempty"`
	Status          DownloadStatus  `json:"status"`
	ErrorKind       string          `json:"error_kind,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	DiscoveredAt    time.Time       `json:"discovered_at"`
	DownloadedAt    time.Time       `json:"downloaded_at,omitempty"`
}

// MarkDownloaded transitions the asset to downloaded, committing local
// path, size, and checksum together. Invariant (b): these fields become
// immutable once set here; callers must not mutate them afterwards.
func (a *Asset) MarkDownloaded(localPath string, size int64, checksum string, downloadedAt time.Time) {
	a.Status = StatusDownloaded
	a.LocalPath = localPath
	a.ActualSize = size
	a.Checksum = checksum
	a.DownloadedAt = downloadedAt
}

// MarkFailed transitions the asset to failed, recording the error kind and
// message without failing the owning session (spec §7 propagation policy).
func (a *Asset) MarkFailed(kind, msg string) {
	a.Status = StatusFailed
	a.ErrorKind = kind
	a.ErrorMessage = msg
}

// IsImmutable reports whether the asset has reached a state where its
// download-result fields (local path, size, checksum) must not change.
func (a *Asset) IsImmutable() bool {
	return a.Status == StatusDownloaded
}

// DiscoveredVia records how a Page entered the crawl.
type DiscoveredVia string

const (
	ViaRoot       DiscoveredVia = "root"
	ViaSPARoute   DiscoveredVia = "spa-route"
	ViaLinkFollow DiscoveredVia = "link-follow"
)

// Page is a crawled HTML document. Pages own no assets directly; they
// reference them via discovery events recorded against the Asset Table.
type Page struct {
	URL            string              `json:"url"`
	Depth          int                 `json:"depth"`
	LocalPath      string              `json:"local_path"`
	DiscoveredVia  DiscoveredVia       `json:"discovered_via"`
	BuildTool      *BuildToolFingerprint `json:"build_tool,omitempty"`
	RenderedAt     time.Time           `json:"rendered_at"`
}

// BuildTool is the set of recognized build-tool tags.
type BuildTool string

const (
	BuildToolVueCLI       BuildTool = "vue-cli"
	BuildToolCRA          BuildTool = "create-react-app"
	BuildToolVite         BuildTool = "vite"
	BuildToolWebpack      BuildTool = "webpack"
	BuildToolAngularCLI   BuildTool = "angular-cli"
	BuildToolUnknown      BuildTool = "unknown"
)

// BuildToolFingerprint records the detector's verdict and the raw signals
// that produced it (spec §4.7).
type BuildToolFingerprint struct {
	Tool       BuildTool `json:"tool"`
	Confidence float64   `json:"confidence"`
	Signals    []string  `json:"signals"`
}

// PathStrategyApplies reports whether the fingerprint's confidence clears
// the 0.8 threshold required to use its tool-specific path mapping instead
// of preserve-structure (spec §4.7, Open Question in §9 resolved as: below
// 0.8 always falls back to preserve-structure, annotate-only signals are
// still recorded on the fingerprint but never change path mapping).
func (f BuildToolFingerprint) PathStrategyApplies() bool {
	return f.Confidence >= 0.8
}
