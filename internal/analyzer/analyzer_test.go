package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/webmirror/webmirror/internal/collab"
)

type identityResolver struct{}

func (identityResolver) Resolve(sourcePageURL, baseTagURL, link string) string {
	if len(link) > 0 && link[0] == '/' {
		return "https://example.com" + link
	}
	return link
}

type fakePage struct {
	html string
}

func (p *fakePage) Goto(ctx context.Context, url string) error { return nil }
func (p *fakePage) Evaluate(ctx context.Context, script string) (any, error) {
	return true, nil
}
func (p *fakePage) Content(ctx context.Context) (string, error) { return p.html, nil }
func (p *fakePage) NetworkLog(ctx context.Context) ([]collab.NetworkLogEntry, error) {
	return nil, nil
}
func (p *fakePage) Close() error { return nil }

type fakeDriver struct {
	page *fakePage
}

func (d *fakeDriver) NewPage(ctx context.Context, w, h int) (collab.HeadlessPage, error) {
	return d.page, nil
}

type fakeTransport struct {
	headStatus int
}

func (t *fakeTransport) Fetch(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (collab.FetchResult, error) {
	return collab.FetchResult{Status: 200, Bytes: []byte(`@import url("fonts.css");`)}, nil
}

func (t *fakeTransport) Head(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (collab.FetchResult, error) {
	return collab.FetchResult{Status: t.headStatus, Headers: map[string][]string{"Content-Length": {"12345"}}}, nil
}

func TestAnalyzeExtractsAssetsAndScoresCompleteness(t *testing.T) {
	html := `<html><head>
<link rel="stylesheet" href="/style.css">
<script src="/app.js"></script>
</head><body>
<img src="/logo.png">
<img data-src="/lazy.png">
</body></html>`
	driver := &fakeDriver{page: &fakePage{html: html}}
	transport := &fakeTransport{headStatus: 200}

	report, err := Analyze(context.Background(), driver, transport, identityResolver{}, "https://example.com/", DefaultOptions())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if report.CountsByType["stylesheet"] == 0 {
		t.Error("expected at least one stylesheet asset")
	}
	if report.CountsByType["javascript"] == 0 {
		t.Error("expected at least one javascript asset")
	}
	if report.CountsByType["image"] == 0 {
		t.Error("expected at least one image asset")
	}
	// 25 (css) + 20 (js) + 20 (image) + 20 (depth bonus, no fonts present) = 85
	if report.CompletenessScore != 85 {
		t.Errorf("CompletenessScore = %v, want 85", report.CompletenessScore)
	}
}

func TestAnalyzeMarksScriptCriticalUnlessDeferred(t *testing.T) {
	html := `<script src="/eager.js"></script><script src="/lazy.js" defer></script>`
	driver := &fakeDriver{page: &fakePage{html: html}}
	transport := &fakeTransport{headStatus: 200}

	report, err := Analyze(context.Background(), driver, transport, identityResolver{}, "https://example.com/", DefaultOptions())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	var eagerCritical, lazyCritical bool
	for _, a := range report.Assets {
		switch a.CanonicalURL {
		case "https://example.com/eager.js":
			eagerCritical = a.Critical
		case "https://example.com/lazy.js":
			lazyCritical = a.Critical
		}
	}
	if !eagerCritical {
		t.Error("expected non-deferred script to be critical")
	}
	if lazyCritical {
		t.Error("expected deferred script to not be critical")
	}
}

func TestAnalyzeEstimatesSizeWhenHeadFails(t *testing.T) {
	html := `<img src="/a.png">`
	driver := &fakeDriver{page: &fakePage{html: html}}
	transport := &fakeTransport{headStatus: 404}

	report, err := Analyze(context.Background(), driver, transport, identityResolver{}, "https://example.com/", DefaultOptions())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.Assets) == 0 {
		t.Fatal("expected at least one asset")
	}
	if report.Assets[0].ExpectedSize != 80*1024 {
		t.Errorf("ExpectedSize = %d, want image heuristic 80KiB", report.Assets[0].ExpectedSize)
	}
}
