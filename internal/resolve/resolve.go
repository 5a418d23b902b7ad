// Package resolve implements the URL Resolver (spec §4.1): canonicalizing
// and resolving relative/protocol-relative/base-tag-scoped URLs against a
// source page. Grounded on the teacher's internal/util/url.go — small,
// stateless net/url-backed helpers — generalized from path/origin
// extraction into full reference resolution plus a bounded result cache.
package resolve

import (
	"net/url"
	"strings"
	"sync"
)

// Resolver resolves link references against a source page and an optional
// stack of active <base> tag values. It never errors: malformed input
// fails soft by returning the original link unchanged (spec §4.1).
type Resolver struct {
	mu        sync.Mutex
	cache     map[cacheKey]string
	cacheCap  int
	dropFragment bool
	lowercaseHost bool
}

type cacheKey struct {
	source, base, link string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCacheCapacity bounds the resolution cache (default 2048).
func WithCacheCapacity(n int) Option {
	return func(r *Resolver) { r.cacheCap = n }
}

// WithDropFragment drops URL fragments during normalization unless the
// caller configures otherwise (spec §4.1: "fragment dropped unless
// configured otherwise").
func WithDropFragment(drop bool) Option {
	return func(r *Resolver) { r.dropFragment = drop }
}

// WithLowercaseHost lowercases the resolved host (optional per spec §4.1).
func WithLowercaseHost(v bool) Option {
	return func(r *Resolver) { r.lowercaseHost = v }
}

// New builds a Resolver with a default bounded cache and fragment-dropping
// enabled, matching the spec's default normalization.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		cache:        make(map[cacheKey]string),
		cacheCap:     2048,
		dropFragment: true,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// BaseStack tracks nested <base href> scopes for one page; the topmost
// non-empty value wins over the page URL (spec §4.1).
type BaseStack struct {
	values []string
}

// Push adds a base-tag value (may be relative; caller is expected to have
// already resolved it against the enclosing scope).
func (b *BaseStack) Push(v string) {
	if v != "" {
		b.values = append(b.values, v)
	}
}

// Pop removes the most recently pushed base-tag value.
func (b *BaseStack) Pop() {
	if len(b.values) > 0 {
		b.values = b.values[:len(b.values)-1]
	}
}

// Top returns the active base URL, or "" if the stack is empty.
func (b *BaseStack) Top() string {
	if len(b.values) == 0 {
		return ""
	}
	return b.values[len(b.values)-1]
}

// Resolve implements the resolver contract: resolve(source_page_url,
// base_tag_url_or_null, link_value) -> absolute_url.
func (r *Resolver) Resolve(sourcePageURL, baseTagURL, link string) string {
	key := cacheKey{sourcePageURL, baseTagURL, link}
	r.mu.Lock()
	if v, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return v
	}
	r.mu.Unlock()

	result := r.resolveUncached(sourcePageURL, baseTagURL, link)

	r.mu.Lock()
	if len(r.cache) >= r.cacheCap {
		// Simple unordered eviction: bounded cache is an accelerator, not a
		// correctness requirement, so a single arbitrary delete suffices.
		for k := range r.cache {
			delete(r.cache, k)
			break
		}
	}
	r.cache[key] = result
	r.mu.Unlock()

	return result
}

func (r *Resolver) resolveUncached(sourcePageURL, baseTagURL, link string) string {
	if link == "" {
		return link
	}

	// Absolute URLs are returned unchanged (after normalization).
	if linkURL, err := url.Parse(link); err == nil && linkURL.IsAbs() {
		return r.normalize(linkURL, link)
	}

	effectiveBase := baseTagURL
	if effectiveBase == "" {
		effectiveBase = sourcePageURL
	}

	baseURL, err := url.Parse(effectiveBase)
	if err != nil || effectiveBase == "" {
		// Fail soft: cannot establish a base, return link unchanged.
		return link
	}

	// Scheme-relative: //host/...  takes the scheme of the source.
	if strings.HasPrefix(link, "//") {
		resolved := baseURL.Scheme + ":" + link
		if ru, err := url.Parse(resolved); err == nil {
			return r.normalize(ru, link)
		}
		return link
	}

	linkURL, err := url.Parse(link)
	if err != nil {
		return link
	}

	resolved := baseURL.ResolveReference(linkURL)
	resolved.Path = cleanDotSegments(resolved.Path)
	return r.normalize(resolved, link)
}

// cleanDotSegments removes "." and ".." segments without ever escaping
// above the root, per spec §4.1.
func cleanDotSegments(p string) string {
	if p == "" {
		return p
	}
	trailingSlash := strings.HasSuffix(p, "/")
	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1] != "" {
				out = out[:len(out)-1]
			}
			// else: already at root, drop the ".." rather than escaping.
		default:
			out = append(out, seg)
		}
	}
	cleaned := strings.Join(out, "/")
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	if trailingSlash && !strings.HasSuffix(cleaned, "/") {
		cleaned += "/"
	}
	return cleaned
}

func (r *Resolver) normalize(u *url.URL, fallback string) string {
	out := *u
	out.Path = cleanDotSegments(out.Path)
	if out.Path == "" {
		out.Path = "/"
	}
	if r.lowercaseHost {
		out.Host = strings.ToLower(out.Host)
	}
	out.Host = dropDefaultPort(out.Scheme, out.Host)
	if r.dropFragment {
		out.Fragment = ""
	}
	result := out.String()
	if result == "" {
		return fallback
	}
	return result
}

func dropDefaultPort(scheme, host string) string {
	defaults := map[string]string{"http": ":80", "https": ":443", "ws": ":80", "wss": ":443"}
	if suffix, ok := defaults[scheme]; ok && strings.HasSuffix(host, suffix) {
		return strings.TrimSuffix(host, suffix)
	}
	return host
}

// Canonicalize is the idempotent normalization entry point used outside of
// reference resolution (e.g. by the Asset Table's canonical-URL key and by
// §8's canonicalize(canonicalize(U)) = canonicalize(U) property).
func Canonicalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Path = cleanDotSegments(u.Path)
	if u.Path == "" {
		u.Path = "/"
	}
	u.Host = dropDefaultPort(u.Scheme, u.Host)
	u.Fragment = ""
	return u.String()
}
