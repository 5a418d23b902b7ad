// Package fetch implements the Fetch Pipeline (spec §4.4): a
// concurrency-bounded downloader composing the Cache Store, Retry
// Manager, and external Transport collaborator. Per-URL serialization and
// filename derivation follow the contract in spec §4.4; the concurrency
// cap itself lives in the Retry Manager (spec §5, pool i).
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/webmirror/webmirror/internal/cachestore"
	"github.com/webmirror/webmirror/internal/collab"
	"github.com/webmirror/webmirror/internal/errs"
	"github.com/webmirror/webmirror/internal/model"
	"github.com/webmirror/webmirror/internal/retry"
)

// PathStrategy resolves an asset to its on-disk destination (supplied by
// the Build-Tool Detector, spec §4.7); the Fetch Pipeline only needs this
// narrow seam.
type PathStrategy interface {
	TargetPath(asset *model.Asset) string
}

// Pipeline is the Fetch Pipeline.
type Pipeline struct {
	cache     *cachestore.Store
	retry     *retry.Manager
	transport collab.Transport
	fs        collab.Filesystem
	outputRoot string
	strategy  PathStrategy

	mu        sync.Mutex
	inFlight  map[string]*sync.WaitGroup // per-canonical-URL serialization, spec §5
	nameUsed  map[string]int             // collision counter per directory+basename
}

// New builds a Fetch Pipeline.
func New(cache *cachestore.Store, retryMgr *retry.Manager, transport collab.Transport, fs collab.Filesystem, outputRoot string, strategy PathStrategy) *Pipeline {
	return &Pipeline{
		cache:      cache,
		retry:      retryMgr,
		transport:  transport,
		fs:         fs,
		outputRoot: outputRoot,
		strategy:   strategy,
		inFlight:   make(map[string]*sync.WaitGroup),
		nameUsed:   make(map[string]int),
	}
}

// Fetch implements fetch(asset) -> Asset, mutating asset in place to
// downloaded or failed.
func (p *Pipeline) Fetch(ctx context.Context, asset *model.Asset) error {
	p.mu.Lock()
	if wg, busy := p.inFlight[asset.CanonicalURL]; busy {
		p.mu.Unlock()
		wg.Wait()
		return nil
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	p.inFlight[asset.CanonicalURL] = wg
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.inFlight, asset.CanonicalURL)
		p.mu.Unlock()
		wg.Done()
	}()

	asset.Status = model.StatusDownloading

	if item, ok := p.cache.Get(asset.CanonicalURL, cachestore.RequestOptions{}); ok {
		return p.commit(asset, item.Bytes, item.Metadata.ContentType)
	}

	var result collab.FetchResult
	err := p.retry.Execute(ctx, asset.CanonicalURL, func(attemptCtx context.Context, attempt int) error {
		headers := browserHeaders()
		r, fetchErr := p.transport.Fetch(attemptCtx, asset.CanonicalURL, headers, 0)
		if fetchErr != nil {
			return classifyTransportError(fetchErr)
		}
		if r.Status < 200 || r.Status >= 300 {
			return errs.HTTPStatus(r.Status)
		}
		result = r
		return nil
	})
	if err != nil {
		kind, msg := classifyForAsset(err)
		asset.MarkFailed(kind, msg)
		return err
	}

	contentType := firstHeader(result.Headers, "Content-Type")
	if err := p.cache.Set(asset.CanonicalURL, result.Bytes, cachestore.Metadata{ContentType: contentType}, cachestore.RequestOptions{}); err != nil {
		// Cache write failures don't fail the fetch; the bytes are still
		// committed to disk.
		_ = err
	}

	return p.commit(asset, result.Bytes, contentType)
}

func (p *Pipeline) commit(asset *model.Asset, data []byte, contentType string) error {
	localPath := p.resolvePath(asset)
	absPath := filepath.Join(p.outputRoot, localPath)
	if err := p.fs.WriteFileAtomic(absPath, data, 0o644); err != nil {
		asset.MarkFailed(string(errs.KindDiskFull), err.Error())
		return errs.Wrap(errs.KindDiskFull, "write asset to disk", err)
	}
	checksum := fmt.Sprintf("%016x", xxhash.Sum64(data))
	if contentType != "" {
		asset.ContentType = contentType
	}
	asset.MarkDownloaded(localPath, int64(len(data)), checksum, time.Now())
	return nil
}

// resolvePath derives the on-disk path, applying the strategy and
// resolving filename collisions via a numeric suffix then a timestamp
// (spec §4.4).
func (p *Pipeline) resolvePath(asset *model.Asset) string {
	target := p.strategy.TargetPath(asset)
	target = ensureExtension(target, asset)

	dir := path.Dir(target)
	base := path.Base(target)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	p.mu.Lock()
	defer p.mu.Unlock()

	key := path.Join(dir, base)
	count := p.nameUsed[key]
	p.nameUsed[key] = count + 1
	if count == 0 {
		return target
	}
	if count < 10 {
		return path.Join(dir, fmt.Sprintf("%s-%d%s", stem, count, ext))
	}
	return path.Join(dir, fmt.Sprintf("%s-%d%s", stem, time.Now().UnixNano(), ext))
}

var reservedChars = regexp.MustCompile(`[<>:"|?*\x00-\x1f]`)

func sanitizeFilename(name string) string {
	name = reservedChars.ReplaceAllString(name, "_")
	return strings.TrimRight(name, ". ")
}

// ensureExtension infers a missing extension from content-type, URL
// pattern, or asset type, in that priority order (spec §4.4).
func ensureExtension(target string, asset *model.Asset) string {
	if path.Ext(target) != "" {
		return target
	}
	ext := extFromContentType(asset.ContentType)
	if ext == "" {
		ext = extFromURL(asset.CanonicalURL)
	}
	if ext == "" {
		ext = extFromType(asset.Type)
	}
	if ext == "" {
		return target
	}
	return target + ext
}

var contentTypeExt = map[string]string{
	"text/css":               ".css",
	"application/javascript": ".js",
	"text/javascript":        ".js",
	"image/png":              ".png",
	"image/jpeg":             ".jpg",
	"image/gif":              ".gif",
	"image/webp":             ".webp",
	"image/svg+xml":          ".svg",
	"font/woff2":             ".woff2",
	"font/woff":              ".woff",
	"application/json":       ".json",
}

func extFromContentType(contentType string) string {
	ct := strings.SplitN(contentType, ";", 2)[0]
	ct = strings.TrimSpace(ct)
	return contentTypeExt[ct]
}

func extFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}

var typeExt = map[model.AssetType]string{
	model.AssetStylesheet: ".css",
	model.AssetJavaScript: ".js",
	model.AssetImage:      ".png",
	model.AssetFont:       ".woff2",
	model.AssetVideo:      ".mp4",
	model.AssetAudio:      ".mp3",
	model.Asset3DModel:    ".glb",
	model.AssetHTML:       ".html",
}

func extFromType(t model.AssetType) string {
	return typeExt[t]
}

func browserHeaders() map[string]string {
	return map[string]string{
		"User-Agent": "Mozilla/5.0 (compatible; webmirror/1.0; +https://github.com/webmirror/webmirror)",
		"Accept":     "*/*",
	}
}

func firstHeader(h map[string][]string, key string) string {
	if h == nil {
		return ""
	}
	if v, ok := h[key]; ok && len(v) > 0 {
		return v[0]
	}
	if v, ok := h[http.CanonicalHeaderKey(key)]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func classifyTransportError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return errs.Network("timeout", msg)
	case strings.Contains(msg, "connection refused"):
		return errs.Network("refused", msg)
	case strings.Contains(msg, "no such host"):
		return errs.Network("dns", msg)
	case strings.Contains(msg, "unreachable"):
		return errs.Network("unreachable", msg)
	default:
		return errs.Wrap(errs.KindNetwork, msg, err)
	}
}

func classifyForAsset(err error) (kind, msg string) {
	if e, ok := errs.AsError(err); ok {
		return string(e.Kind), e.Error()
	}
	return string(errs.KindNetwork), err.Error()
}
