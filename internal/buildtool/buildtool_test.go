package buildtool

import (
	"testing"

	"github.com/webmirror/webmirror/internal/model"
)

func TestDetectVite(t *testing.T) {
	sig := Signals{
		AssetPaths: []string{"/assets/index-a1b2c3d4.js", "/assets/index-a1b2c3d4.css?v=123"},
	}
	fp := Detect(sig)
	if fp.Tool != model.BuildToolVite {
		t.Fatalf("tool = %s, want vite", fp.Tool)
	}
	if !fp.PathStrategyApplies() {
		t.Fatalf("confidence %v should clear threshold", fp.Confidence)
	}
}

func TestDetectVueCLI(t *testing.T) {
	sig := Signals{
		AssetPaths: []string{"/js/chunk-vendors.a1b2c3.js"},
		HTML:       `<div data-v-7ba5bd90 id="app"></div>`,
	}
	fp := Detect(sig)
	if fp.Tool != model.BuildToolVueCLI {
		t.Fatalf("tool = %s, want vue-cli", fp.Tool)
	}
	if fp.Confidence < 0.8 {
		t.Fatalf("confidence = %v, want >= 0.8", fp.Confidence)
	}
}

func TestDetectUnknownBelowThreshold(t *testing.T) {
	sig := Signals{AssetPaths: []string{"/img/logo.png"}}
	fp := Detect(sig)
	if fp.PathStrategyApplies() {
		t.Fatal("expected low-confidence fingerprint not to apply a path strategy")
	}
}

func TestStrategyFallsBackToPreserveStructure(t *testing.T) {
	s := Strategy{Fingerprint: model.BuildToolFingerprint{Tool: model.BuildToolUnknown, Confidence: 0}}
	asset := &model.Asset{CanonicalURL: "https://example.com/img/logo.png"}
	got := s.TargetPath(asset)
	if got != "img/logo.png" {
		t.Fatalf("TargetPath = %q, want img/logo.png", got)
	}
}

func TestStrategyAppliesVitePath(t *testing.T) {
	s := Strategy{Fingerprint: model.BuildToolFingerprint{Tool: model.BuildToolVite, Confidence: 0.9}}
	asset := &model.Asset{CanonicalURL: "https://example.com/assets/index-a1b2c3d4.js", Type: model.AssetJavaScript}
	got := s.TargetPath(asset)
	if got != "js/index-a1b2c3d4.js" {
		t.Fatalf("TargetPath = %q, want js/index-a1b2c3d4.js", got)
	}
}

func TestStrategyAppliesAngularAssetsDir(t *testing.T) {
	s := Strategy{Fingerprint: model.BuildToolFingerprint{Tool: model.BuildToolAngularCLI, Confidence: 0.9}}
	asset := &model.Asset{CanonicalURL: "https://example.com/styles.css", Type: model.AssetStylesheet}
	got := s.TargetPath(asset)
	if got != "assets/styles.css" {
		t.Fatalf("TargetPath = %q, want assets/styles.css", got)
	}
}
