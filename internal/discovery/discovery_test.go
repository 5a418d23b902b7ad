package discovery

import (
	"strings"
	"testing"

	"github.com/webmirror/webmirror/internal/model"
)

type identityResolver struct{}

func (identityResolver) Resolve(sourcePageURL, baseTagURL, link string) string {
	clean := strings.TrimPrefix(link, "./")
	clean = strings.TrimPrefix(clean, "../")
	clean = strings.TrimPrefix(clean, "/")
	return "https://example.com/" + clean
}

type fakeTable struct {
	entries map[string]*model.Asset
}

func newFakeTable() *fakeTable { return &fakeTable{entries: map[string]*model.Asset{}} }

func (f *fakeTable) Lookup(url string) (*model.Asset, bool) {
	a, ok := f.entries[url]
	return a, ok
}

func (f *fakeTable) Insert(a *model.Asset) {
	f.entries[a.CanonicalURL] = a
}

func TestScanCSSFindsImportAndURL(t *testing.T) {
	css := []byte(`@import url(./fonts.css); .hero { background: url(../img/bg.png); }`)
	found := ScanCSS("https://example.com/css/main.css", css, identityResolver{})
	if len(found) != 2 {
		t.Fatalf("found %d refs, want 2: %+v", len(found), found)
	}
	for _, f := range found {
		if f.Method != model.SourceRecursiveCSS {
			t.Fatalf("method = %s, want recursive-css", f.Method)
		}
	}
}

func TestScanJSFindsStringLiteralsAndDynamicImport(t *testing.T) {
	js := []byte(`const a = "/img/sprite.png"; import("./chunks/extra.js");`)
	found := ScanJS("https://example.com/app.js", js, identityResolver{})
	if len(found) != 2 {
		t.Fatalf("found %d refs, want 2: %+v", len(found), found)
	}
}

func TestScanHTMLFindsDataAttrsAndSrcset(t *testing.T) {
	html := []byte(`<img data-src="/lazy/a.png"><img srcset="/img/b.png 1x, /img/b@2x.png 2x">`)
	found := ScanHTML("https://example.com/index.html", html, identityResolver{})
	if len(found) != 3 {
		t.Fatalf("found %d refs, want 3: %+v", len(found), found)
	}
}

func TestPassSkipsAlreadyDownloadedAndInsertsNew(t *testing.T) {
	table := newFakeTable()
	table.Insert(&model.Asset{CanonicalURL: "https://example.com/known.css", Status: model.StatusDownloaded})

	candidates := []Found{
		{CanonicalURL: "https://example.com/known.css", Method: model.SourceRecursiveCSS},
		{CanonicalURL: "https://example.com/new.css", Method: model.SourceRecursiveCSS},
	}
	classify := func(url string) model.AssetType { return model.AssetStylesheet }
	inserted := Pass(table, classify, candidates)
	if inserted != 1 {
		t.Fatalf("inserted = %d, want 1", inserted)
	}
	newAsset, ok := table.Lookup("https://example.com/new.css")
	if !ok {
		t.Fatal("expected new.css inserted")
	}
	if newAsset.Source != model.SourceRecursiveCSS {
		t.Fatalf("source = %s, want recursive-css", newAsset.Source)
	}
}
