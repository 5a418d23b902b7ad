package hybrid

import (
	"context"
	"testing"
	"time"

	"github.com/webmirror/webmirror/internal/collab"
	"github.com/webmirror/webmirror/internal/model"
)

type identityResolver struct{}

func (identityResolver) Resolve(sourcePageURL, baseTagURL, link string) string {
	if len(link) > 0 && link[0] == '/' {
		return "https://example.com" + link
	}
	return link
}

func TestScoreStrategySelectsStaticForSimplePage(t *testing.T) {
	signals := ContentSignals{JSComplexity: 0.1, DynamicContentSignals: 0.1, HTMLSize: 1000, Frameworks: map[string]float64{}}
	score := ScoreStrategy(signals)
	if got := SelectStrategy(score, ""); got != StrategyStatic {
		t.Fatalf("strategy = %v, want static (score %d)", got, score)
	}
}

func TestScoreStrategySelectsDynamicForComplexFrameworkPage(t *testing.T) {
	signals := ContentSignals{
		JSComplexity:          0.9,
		DynamicContentSignals: 0.9,
		HTMLSize:              600_000,
		Frameworks:            map[string]float64{"react": 0.9},
	}
	score := ScoreStrategy(signals)
	if got := SelectStrategy(score, ""); got != StrategyDynamic {
		t.Fatalf("strategy = %v, want dynamic (score %d)", got, score)
	}
}

func TestSelectStrategyForcedOverridesScore(t *testing.T) {
	if got := SelectStrategy(10, StrategyDynamic); got != StrategyDynamic {
		t.Fatalf("forced strategy ignored, got %v", got)
	}
}

func TestAnalyzeContentDetectsFrameworkMarkers(t *testing.T) {
	html := `<div id="root" data-reactroot></div><script>class Foo { async run() { await fetch('/x'); } }</script>`
	signals := AnalyzeContent(html)
	if signals.Frameworks["react"] == 0 {
		t.Error("expected react framework signal")
	}
	if signals.JSComplexity == 0 {
		t.Error("expected non-zero JS complexity from class/async/fetch usage")
	}
}

func TestExtractStaticFindsAssetsAndLinks(t *testing.T) {
	html := `<img src="/a.png"><script src="/b.js"></script><link rel="stylesheet" href="/c.css"><a href="/page2">next</a>`
	assets, links := extractStatic("https://example.com/", html, identityResolver{})
	if len(assets) != 3 {
		t.Fatalf("assets = %d, want 3", len(assets))
	}
	if len(links) != 1 || links[0].CanonicalURL != "https://example.com/page2" {
		t.Fatalf("links = %+v", links)
	}
}

func TestMergeByCanonicalURLMarksBoth(t *testing.T) {
	static := []Found{{CanonicalURL: "https://x/a.png", Type: model.AssetImage, DiscoveryMethod: model.DiscoveryStatic}}
	dynamic := []Found{
		{CanonicalURL: "https://x/a.png", Type: model.AssetImage, DiscoveryMethod: model.DiscoveryDynamic},
		{CanonicalURL: "https://x/b.png", Type: model.AssetImage, DiscoveryMethod: model.DiscoveryDynamic},
	}
	merged, bothCount := mergeByCanonicalURL(static, dynamic)
	if len(merged) != 2 {
		t.Fatalf("merged = %d, want 2", len(merged))
	}
	if bothCount != 1 {
		t.Fatalf("bothCount = %d, want 1", bothCount)
	}
	if merged[0].DiscoveryMethod != model.DiscoveryBoth {
		t.Fatalf("merged[0].DiscoveryMethod = %v, want both", merged[0].DiscoveryMethod)
	}
}

type fakePage struct {
	html    string
	entries []collab.NetworkLogEntry
}

func (p *fakePage) Goto(ctx context.Context, url string) error                  { return nil }
func (p *fakePage) Evaluate(ctx context.Context, script string) (any, error)    { return true, nil }
func (p *fakePage) Content(ctx context.Context) (string, error)                 { return p.html, nil }
func (p *fakePage) NetworkLog(ctx context.Context) ([]collab.NetworkLogEntry, error) {
	return p.entries, nil
}
func (p *fakePage) Close() error { return nil }

func TestProcessStaticPath(t *testing.T) {
	html := `<img src="/a.png">`
	result := Process(context.Background(), nil, "https://example.com/", html, identityResolver{}, StrategyStatic, time.Second)
	if result.Strategy != StrategyStatic {
		t.Fatalf("strategy = %v", result.Strategy)
	}
	if len(result.Assets) != 1 {
		t.Fatalf("assets = %d, want 1", len(result.Assets))
	}
}

func TestProcessHybridMergesStaticAndDynamic(t *testing.T) {
	html := `<img src="/a.png">`
	page := &fakePage{
		html:    html,
		entries: []collab.NetworkLogEntry{{URL: "https://example.com/b.png", ResourceType: "image"}},
	}
	result := Process(context.Background(), page, "https://example.com/", html, identityResolver{}, StrategyHybrid, time.Second)
	if result.Strategy != StrategyHybrid {
		t.Fatalf("strategy = %v", result.Strategy)
	}
	if len(result.Assets) != 2 {
		t.Fatalf("assets = %d, want 2 (a.png from both, b.png from network log)", len(result.Assets))
	}
}
