// Package rewrite implements the HTML/CSS Rewriter (spec §4.8): given a
// parsed page and the session's Asset Table, it rewrites every reference
// to point at the local, downloaded copy under the chosen path strategy.
// Node-tree walking follows the golang.org/x/net/html idiom used
// elsewhere in the pack for HTML crawling (rather than string-based
// regex rewriting, which cannot track nesting or attribute boundaries
// safely).
package rewrite

import (
	"bytes"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/webmirror/webmirror/internal/model"
)

// AssetTable is the narrow read lookup the rewriter needs: canonical URL
// to the asset's final state. The Session owns the real table; this
// interface keeps the rewriter decoupled from its storage.
type AssetTable interface {
	Lookup(canonicalURL string) (*model.Asset, bool)
}

// Resolver is the narrow URL-resolution seam the rewriter needs.
type Resolver interface {
	Resolve(sourcePageURL, baseTagURL, link string) string
}

// PathStrategy resolves an asset to its on-disk destination.
type PathStrategy interface {
	TargetPath(asset *model.Asset) string
}

// Rewriter rewrites one page's worth of HTML/CSS against an Asset Table.
type Rewriter struct {
	assets   AssetTable
	resolver Resolver
	strategy PathStrategy
	// routeFiles lists SPA routes that have a corresponding static file
	// (spec §4.8 "SPA-route-to-static-file mappings"), e.g. "/about" ->
	// "_about.html".
	routeFiles map[string]string
}

func New(assets AssetTable, resolver Resolver, strategy PathStrategy, routeFiles map[string]string) *Rewriter {
	return &Rewriter{assets: assets, resolver: resolver, strategy: strategy, routeFiles: routeFiles}
}

var cssURLPattern = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)
var cssImportPattern = regexp.MustCompile(`@import\s+(?:url\()?['"]?([^'")\s;]+)['"]?\)?`)

// RewritePage implements rewrite_page: resolve references, look them up
// in the Asset Table, and emit relative paths under the output strategy.
// Rewriting is idempotent: a link already pointing at a relative,
// already-downloaded path resolves to itself and is left unchanged.
func (r *Rewriter) RewritePage(htmlBytes []byte, pageURL string) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(htmlBytes))
	if err != nil {
		return htmlBytes, err
	}

	baseTag := r.injectBaseHref(doc)
	pageLocalPath := r.pageLocalPath(pageURL)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			r.rewriteElement(n, pageURL, baseTag, pageLocalPath)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return htmlBytes, err
	}
	return buf.Bytes(), nil
}

// injectBaseHref ensures <head> contains <base href="./">, returning the
// effective base URL (empty if none existed and one needed to be added).
func (r *Rewriter) injectBaseHref(doc *html.Node) string {
	var head *html.Node
	var existingBase string

	var find func(*html.Node)
	find = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Head:
				head = n
			case atom.Base:
				for _, a := range n.Attr {
					if a.Key == "href" {
						existingBase = a.Val
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)

	if existingBase != "" {
		return existingBase
	}
	if head == nil {
		return ""
	}
	baseNode := &html.Node{
		Type:     html.ElementNode,
		Data:     "base",
		DataAtom: atom.Base,
		Attr:     []html.Attribute{{Key: "href", Val: "./"}},
	}
	head.InsertBefore(baseNode, head.FirstChild)
	return "./"
}

func (r *Rewriter) pageLocalPath(pageURL string) string {
	return flattenPagePath(pageURL)
}

// flattenPagePath mirrors spec §6's persisted-layout rule: the root page
// is index.html; other pages flatten their pathname with "/" -> "_".
func flattenPagePath(pageURL string) string {
	p := pageURL
	if idx := strings.Index(p, "://"); idx != -1 {
		p = p[idx+3:]
	}
	if idx := strings.IndexByte(p, '/'); idx != -1 {
		p = p[idx+1:]
	} else {
		p = ""
	}
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "index.html"
	}
	flat := strings.ReplaceAll(p, "/", "_")
	if !strings.HasSuffix(flat, ".html") {
		flat += ".html"
	}
	return flat
}

func (r *Rewriter) rewriteElement(n *html.Node, pageURL, baseTag, pageLocalPath string) {
	switch n.DataAtom {
	case atom.Link:
		r.rewriteAttr(n, "href", pageURL, baseTag, pageLocalPath)
		r.maybeRewriteRoute(n, "href")
	case atom.Script:
		r.rewriteAttr(n, "src", pageURL, baseTag, pageLocalPath)
	case atom.Img:
		r.rewriteAttr(n, "src", pageURL, baseTag, pageLocalPath)
		r.rewriteSrcset(n, pageURL, baseTag, pageLocalPath)
	case atom.Source:
		r.rewriteAttr(n, "src", pageURL, baseTag, pageLocalPath)
		r.rewriteSrcset(n, pageURL, baseTag, pageLocalPath)
	case atom.Video, atom.Audio:
		r.rewriteAttr(n, "src", pageURL, baseTag, pageLocalPath)
	case atom.Style:
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			n.FirstChild.Data = r.rewriteCSSText(n.FirstChild.Data, pageURL, pageLocalPath)
		}
	case atom.A:
		r.stripRouterActiveClass(n)
	}

	r.rewriteStyleAttr(n, pageURL, pageLocalPath)
}

func (r *Rewriter) attr(n *html.Node, key string) (int, bool) {
	for i, a := range n.Attr {
		if a.Key == key {
			return i, true
		}
	}
	return -1, false
}

func (r *Rewriter) rewriteAttr(n *html.Node, key, pageURL, baseTag, pageLocalPath string) {
	idx, ok := r.attr(n, key)
	if !ok || n.Attr[idx].Val == "" {
		return
	}
	n.Attr[idx].Val = r.rewriteOneURL(n.Attr[idx].Val, pageURL, baseTag, pageLocalPath)
}

// rewriteOneURL resolves link against the page, looks it up in the Asset
// Table, and returns a path relative to pageLocalPath if downloaded;
// otherwise the original link is retained (spec §4.8 error policy).
func (r *Rewriter) rewriteOneURL(link, pageURL, baseTag, pageLocalPath string) string {
	if link == "" || strings.HasPrefix(link, "data:") || strings.HasPrefix(link, "#") || strings.HasPrefix(link, "javascript:") {
		return link
	}
	canonical := r.resolver.Resolve(pageURL, baseTag, link)
	asset, ok := r.assets.Lookup(canonical)
	if !ok || asset.Status != model.StatusDownloaded {
		return link
	}
	target := r.strategy.TargetPath(asset)
	return relativeFrom(pageLocalPath, target)
}

// relativeFrom computes a path from fromFile's directory to target,
// both expressed relative to the output root.
func relativeFrom(fromFile, target string) string {
	fromDir := path.Dir(fromFile)
	if fromDir == "." {
		return target
	}
	depth := strings.Count(fromDir, "/") + 1
	prefix := strings.Repeat("../", depth)
	return prefix + target
}

func (r *Rewriter) rewriteSrcset(n *html.Node, pageURL, baseTag, pageLocalPath string) {
	idx, ok := r.attr(n, "srcset")
	if !ok {
		return
	}
	n.Attr[idx].Val = r.rewriteSrcsetValue(n.Attr[idx].Val, pageURL, baseTag, pageLocalPath)
}

// rewriteSrcsetValue rewrites each URL in a srcset list while preserving
// its descriptor (1x, 2x, 480w, ...) — spec §9 Open Question, resolved:
// descriptors are always retained verbatim alongside the rewritten URL.
func (r *Rewriter) rewriteSrcsetValue(value, pageURL, baseTag, pageLocalPath string) string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		url := r.rewriteOneURL(fields[0], pageURL, baseTag, pageLocalPath)
		if len(fields) > 1 {
			out = append(out, url+" "+strings.Join(fields[1:], " "))
		} else {
			out = append(out, url)
		}
	}
	return strings.Join(out, ", ")
}

func (r *Rewriter) rewriteStyleAttr(n *html.Node, pageURL, pageLocalPath string) {
	idx, ok := r.attr(n, "style")
	if !ok {
		return
	}
	n.Attr[idx].Val = r.rewriteCSSText(n.Attr[idx].Val, pageURL, pageLocalPath)
}

func (r *Rewriter) rewriteCSSText(css, pageURL, pageLocalPath string) string {
	css = cssImportPattern.ReplaceAllStringFunc(css, func(m string) string {
		sub := cssImportPattern.FindStringSubmatch(m)
		if len(sub) < 2 {
			return m
		}
		rewritten := r.rewriteOneURL(sub[1], pageURL, "", pageLocalPath)
		return `@import url("` + rewritten + `")`
	})
	css = cssURLPattern.ReplaceAllStringFunc(css, func(m string) string {
		sub := cssURLPattern.FindStringSubmatch(m)
		if len(sub) < 2 {
			return m
		}
		rewritten := r.rewriteOneURL(sub[1], pageURL, "", pageLocalPath)
		return `url("` + rewritten + `")`
	})
	return css
}

// RewriteStylesheet implements rewrite_stylesheet: same reference rewrite
// as RewritePage's CSS handling, but paths are resolved relative to the
// stylesheet's own location rather than an HTML page's.
func (r *Rewriter) RewriteStylesheet(cssBytes []byte, cssURL string) ([]byte, error) {
	asset, ok := r.assets.Lookup(cssURL)
	cssLocalPath := cssURL
	if ok {
		cssLocalPath = r.strategy.TargetPath(asset)
	}
	return []byte(r.rewriteCSSText(string(cssBytes), cssURL, cssLocalPath)), nil
}

func (r *Rewriter) maybeRewriteRoute(n *html.Node, key string) {
	idx, ok := r.attr(n, key)
	if !ok {
		return
	}
	if file, exists := r.routeFiles[n.Attr[idx].Val]; exists {
		n.Attr[idx].Val = file
	}
}

// stripRouterActiveClass removes router-link-active marker classes (spec
// §4.8); these reflect client-side routing state meaningless in a static
// mirror.
func (r *Rewriter) stripRouterActiveClass(n *html.Node) {
	idx, ok := r.attr(n, "class")
	if !ok {
		return
	}
	classes := strings.Fields(n.Attr[idx].Val)
	kept := classes[:0]
	for _, c := range classes {
		if c != "router-link-active" && c != "router-link-exact-active" {
			kept = append(kept, c)
		}
	}
	n.Attr[idx].Val = strings.Join(kept, " ")
}
