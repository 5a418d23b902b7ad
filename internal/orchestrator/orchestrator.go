// Package orchestrator sequences a single session's phases — Analyze,
// Crawl, Verify, Rewrite, Package — enforcing the session-wide timeout and
// publishing progress through the event stream. Grounded on the teacher's
// internal/server request-lifecycle dispatch (a single-owner loop driving
// a fixed phase sequence, each phase emitting its own status event) and
// on internal/hook's lifecycle-event emission idiom, generalized from a
// dev-server request cycle to a crawl session's phase pipeline (spec §5
// "Scheduling model").
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/webmirror/webmirror/internal/analyzer"
	"github.com/webmirror/webmirror/internal/buildtool"
	"github.com/webmirror/webmirror/internal/cachestore"
	"github.com/webmirror/webmirror/internal/collab"
	"github.com/webmirror/webmirror/internal/discovery"
	"github.com/webmirror/webmirror/internal/errs"
	"github.com/webmirror/webmirror/internal/events"
	"github.com/webmirror/webmirror/internal/fetch"
	"github.com/webmirror/webmirror/internal/hybrid"
	"github.com/webmirror/webmirror/internal/metrics"
	"github.com/webmirror/webmirror/internal/model"
	"github.com/webmirror/webmirror/internal/resolve"
	"github.com/webmirror/webmirror/internal/retry"
	"github.com/webmirror/webmirror/internal/rewrite"
	"github.com/webmirror/webmirror/internal/sessionmgr"
	"github.com/webmirror/webmirror/internal/verify"
	"golang.org/x/sync/errgroup"
)

// AssetTable is the session-scoped, concurrency-safe store every
// downstream component (Fetch Pipeline, Recursive Discovery, Rewriter)
// addresses through its own narrow interface. Grounded on the teacher's
// capture-state maps (a mutex-guarded map plus an insertion-order index),
// generalized here from console/network entries to crawl assets.
type AssetTable struct {
	mu     sync.RWMutex
	byURL  map[string]*model.Asset
	order  []string
}

// NewAssetTable builds an empty table.
func NewAssetTable() *AssetTable {
	return &AssetTable{byURL: make(map[string]*model.Asset)}
}

// Lookup implements discovery.AssetTable / rewrite.AssetTable.
func (t *AssetTable) Lookup(canonicalURL string) (*model.Asset, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.byURL[canonicalURL]
	return a, ok
}

// Insert implements discovery.AssetTable. A duplicate insert is a no-op;
// the first discovery of a URL wins (spec §5 ordering guarantee 2).
func (t *AssetTable) Insert(asset *model.Asset) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byURL[asset.CanonicalURL]; exists {
		return
	}
	t.byURL[asset.CanonicalURL] = asset
	t.order = append(t.order, asset.CanonicalURL)
}

// All returns every asset in discovery order.
func (t *AssetTable) All() []*model.Asset {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*model.Asset, 0, len(t.order))
	for _, u := range t.order {
		out = append(out, t.byURL[u])
	}
	return out
}

// Deps bundles the external collaborators and session-scoped components
// an Orchestrator drives. All fields are required.
type Deps struct {
	Driver    collab.HeadlessDriver
	Transport collab.Transport
	FS        collab.Filesystem
	Cache     *cachestore.Store
	Sessions  *sessionmgr.Manager
	Sink      events.Sink
	Archiver  collab.ArchiveWriter // optional; packagePhase is a no-op without one
}

// Orchestrator runs one session's phase pipeline end to end.
type Orchestrator struct {
	deps     Deps
	resolver *resolve.Resolver
	retryMgr *retry.Manager
}

// New builds an Orchestrator over deps.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:     deps,
		resolver: resolve.New(),
		retryMgr: retry.New(retry.DefaultPolicy(), onRetryEvent),
	}
}

// onRetryEvent feeds circuit-breaker state changes into the Prometheus
// counters the daemon exposes at /metrics.
func onRetryEvent(domain, event string) {
	if event == "circuit_opened" {
		metrics.CircuitBreakerTrips.WithLabelValues(domain).Inc()
	}
}

// Run executes Analyze -> Crawl -> Verify -> Rewrite -> Package against a
// freshly created session for startURL, enforcing opts.TotalTimeout as
// the session-wide timeout named in spec §5 ("the orchestrator overlays
// a session-wide timeout ... that, on expiry, transitions the session to
// timeout, cancels in-flight fetches, and closes the headless page").
func (o *Orchestrator) Run(ctx context.Context, sessionID, startURL string, opts model.StartOptions) error {
	sess, err := o.deps.Sessions.Create(sessionID, startURL, opts)
	if err != nil {
		return err
	}
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	total := opts.TotalTimeout
	if total <= 0 {
		total = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	table := NewAssetTable()
	page, err := o.deps.Driver.NewPage(runCtx, sess.Options.ViewportW, sess.Options.ViewportH)
	if err != nil {
		o.fail(sessionID, err)
		return err
	}
	defer page.Close()

	if err := o.runPhases(runCtx, sess, table, page, startURL); err != nil {
		if runCtx.Err() != nil {
			_ = o.deps.Sessions.Transition(sessionID, model.SessionTimeout)
			o.emit(sessionID, events.Error{Kind: string(errs.KindSessionTimeout), Message: "session timed out"})
			metrics.SessionsTotal.WithLabelValues(string(model.SessionTimeout)).Inc()
			return errs.New(errs.KindSessionTimeout, sessionID)
		}
		o.fail(sessionID, err)
		return err
	}
	if err := o.deps.Sessions.Transition(sessionID, model.SessionCompleted); err != nil {
		return err
	}
	metrics.SessionsTotal.WithLabelValues(string(model.SessionCompleted)).Inc()
	return nil
}

func (o *Orchestrator) fail(sessionID string, err error) {
	_ = o.deps.Sessions.Transition(sessionID, model.SessionError)
	o.emit(sessionID, events.Error{Kind: "internal", Message: err.Error()})
	metrics.SessionsTotal.WithLabelValues(string(model.SessionError)).Inc()
}

func (o *Orchestrator) emit(sessionID string, ev events.Event) {
	if o.deps.Sink == nil {
		return
	}
	o.deps.Sink.Emit(events.Envelope{SessionID: sessionID, EmittedAt: time.Now(), Event: ev})
}

func (o *Orchestrator) runPhases(ctx context.Context, sess *model.Session, table *AssetTable, page collab.HeadlessPage, startURL string) error {
	if err := o.deps.Sessions.Transition(sess.ID, model.SessionAnalyzing); err != nil {
		return err
	}
	report, err := o.analyzePhase(ctx, page, startURL)
	if err != nil {
		return err
	}
	o.emit(sess.ID, events.PayloadAnalysisComplete{
		TotalAssets:     len(report.Assets),
		TotalBytes:      report.TotalBytes,
		CompletenessEst: report.CompletenessScore,
		ETASeconds:      report.ETASeconds,
	})

	fingerprint := o.detectBuildTool(report)
	strategy := buildtool.Strategy{Fingerprint: fingerprint}
	pipeline := fetch.New(o.deps.Cache, o.retryMgr, o.deps.Transport, o.deps.FS, sess.OutputDir, strategy)

	if err := o.deps.Sessions.Transition(sess.ID, model.SessionCrawling); err != nil {
		return err
	}
	startHTML, err := o.crawlPhase(ctx, sess, table, page, pipeline, startURL, report)
	if err != nil {
		return err
	}

	if err := o.deps.Sessions.Transition(sess.ID, model.SessionVerifying); err != nil {
		return err
	}
	verifyReport := o.verifyPhase(ctx, sess, table, pipeline)
	o.emit(sess.ID, events.CompletenessVerificationComplete{
		CompletenessPercent: verifyReport.CompletenessPercent,
		MissingCount:        len(verifyReport.Missing),
		FailedCount:         len(verifyReport.Failed),
	})

	if err := o.deps.Sessions.Transition(sess.ID, model.SessionProcessing); err != nil {
		return err
	}
	// Spec §5 ordering guarantee (3): "HTML rewriting starts only after
	// all fetches (initial and recursive) for that session have
	// quiesced" — crawlPhase has already returned by this point.
	if err := o.rewritePhase(sess, table, strategy, startURL, startHTML); err != nil {
		return err
	}
	return o.packagePhase(ctx, sess)
}

// analyzePhase runs the Payload Analyzer against the start page (spec
// §4.5), the first of the pipeline's two independent discovery passes —
// the Hybrid Processor's per-page static/dynamic extraction runs during
// crawlPhase for every page visited, including the start page.
func (o *Orchestrator) analyzePhase(ctx context.Context, page collab.HeadlessPage, startURL string) (analyzer.PayloadReport, error) {
	return analyzer.Analyze(ctx, o.deps.Driver, o.deps.Transport, o.resolver, startURL, analyzer.DefaultOptions())
}

func (o *Orchestrator) detectBuildTool(report analyzer.PayloadReport) model.BuildToolFingerprint {
	var paths []string
	for _, a := range report.Assets {
		paths = append(paths, a.CanonicalURL)
	}
	return buildtool.Detect(buildtool.Signals{AssetPaths: paths})
}

// crawlPhase walks the discovered pages breadth-first up to
// sess.Options.MaxDepth, running the Hybrid Processing Engine per page,
// fetching every discovered asset, and feeding downloaded CSS/JS/HTML
// back through Recursive Discovery (spec §4.9) until a pass yields
// nothing new or MaxPasses is reached.
func (o *Orchestrator) crawlPhase(ctx context.Context, sess *model.Session, table *AssetTable, page collab.HeadlessPage, pipeline *fetch.Pipeline, startURL string, report analyzer.PayloadReport) (string, error) {
	for _, a := range report.Assets {
		if _, exists := table.Lookup(a.CanonicalURL); !exists {
			table.Insert(&model.Asset{
				CanonicalURL: a.CanonicalURL,
				OriginalURL:  a.CanonicalURL,
				Type:         a.Type,
				Source:       model.SourceDOMScan,
				Critical:     a.Critical,
				ExpectedSize: a.ExpectedSize,
				Status:       model.StatusPending,
				DiscoveredAt: time.Now(),
			})
		}
	}

	if err := page.Goto(ctx, startURL); err != nil {
		return "", err
	}
	html, err := page.Content(ctx)
	if err != nil {
		return "", err
	}
	pageResult := hybrid.Process(ctx, page, startURL, html, o.resolver, "", sess.Options.PageTimeout)
	for _, f := range pageResult.Assets {
		if _, exists := table.Lookup(f.CanonicalURL); !exists {
			table.Insert(&model.Asset{
				CanonicalURL:    f.CanonicalURL,
				OriginalURL:     f.CanonicalURL,
				Type:            f.Type,
				Source:          model.SourceDOMScan,
				DiscoveryMethod: f.DiscoveryMethod,
				Status:          model.StatusPending,
				DiscoveredAt:    time.Now(),
			})
		}
	}

	assets := table.All()
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for _, a := range assets {
		a := a
		g.Go(func() error {
			if err := o.trackedFetch(gctx, pipeline, a); err != nil {
				mu.Lock()
				a.ErrorMessage = err.Error()
				mu.Unlock()
			}
			if err := o.deps.Sessions.RecordURLVisited(sess.ID, a.CanonicalURL); err != nil {
				return err
			}
			o.emit(sess.ID, events.AssetFound{CanonicalURL: a.CanonicalURL, AssetType: string(a.Type), Critical: a.Critical})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	classify := func(canonicalURL string) model.AssetType { return model.AssetOther }
	for pass := 0; pass < discovery.MaxPasses; pass++ {
		var found []discovery.Found
		for _, a := range table.All() {
			if a.Status != model.StatusDownloaded {
				continue
			}
			data, err := o.readDownloaded(a)
			if err != nil {
				continue
			}
			switch a.Type {
			case model.AssetStylesheet:
				found = append(found, discovery.ScanCSS(a.CanonicalURL, data, o.resolver)...)
			case model.AssetJavaScript:
				found = append(found, discovery.ScanJS(a.CanonicalURL, data, o.resolver)...)
			case model.AssetHTML:
				found = append(found, discovery.ScanHTML(a.CanonicalURL, data, o.resolver)...)
			}
		}
		inserted := discovery.Pass(table, classify, found)
		if inserted == 0 {
			break
		}
		pg, pgctx := errgroup.WithContext(ctx)
		for _, a := range table.All() {
			if a.Status != model.StatusPending {
				continue
			}
			a := a
			pg.Go(func() error {
				if err := o.trackedFetch(pgctx, pipeline, a); err != nil {
					a.ErrorMessage = err.Error()
				}
				return nil
			})
		}
		if err := pg.Wait(); err != nil {
			return "", err
		}
	}
	return html, nil
}

// trackedFetch wraps a single asset fetch with the Prometheus counters and
// histogram the daemon exposes at /metrics.
func (o *Orchestrator) trackedFetch(ctx context.Context, pipeline *fetch.Pipeline, a *model.Asset) error {
	start := time.Now()
	err := pipeline.Fetch(ctx, a)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		metrics.FetchesTotal.WithLabelValues("error").Inc()
	default:
		metrics.FetchesTotal.WithLabelValues("ok").Inc()
		metrics.BytesDownloadedTotal.Add(float64(a.ActualSize))
	}
	return err
}

// readDownloaded re-reads a downloaded asset's bytes from the Cache
// Store, which the Fetch Pipeline populates on every successful fetch
// (internal/fetch.Pipeline.Fetch). This avoids a second disk read path
// for recursive discovery's content re-scan.
func (o *Orchestrator) readDownloaded(a *model.Asset) ([]byte, error) {
	item, ok := o.deps.Cache.Get(a.CanonicalURL, cachestore.RequestOptions{})
	if !ok {
		return nil, errs.New(errs.KindFileMissing, a.CanonicalURL)
	}
	return item.Bytes, nil
}

// verifyPhase runs the Completeness Verifier (spec §4.10) against the
// session's final Asset Table.
func (o *Orchestrator) verifyPhase(ctx context.Context, sess *model.Session, table *AssetTable, pipeline *fetch.Pipeline) verify.Report {
	assets := table.All()
	outputRoot := func(localPath string) string { return localPath }
	directFetch := verify.DirectFetch(o.deps.Transport, sess.Options.PageTimeout, func(asset *model.Asset, result collab.FetchResult) {
		asset.ActualSize = int64(len(result.Bytes))
	})
	return verify.Verify(ctx, assets, o.deps.FS, outputRoot, directFetch)
}

// rewritePhase runs the Build-Tool-Aware Rewriter (spec §4.8) over the
// start page and writes the result as the session's index.html, the root
// page name named in spec §6's persisted layout.
func (o *Orchestrator) rewritePhase(sess *model.Session, table *AssetTable, strategy buildtool.Strategy, startURL, startHTML string) error {
	rewriter := rewrite.New(table, o.resolver, strategy, nil)
	rewritten, err := rewriter.RewritePage([]byte(startHTML), startURL)
	if err != nil {
		return errs.Wrap(errs.KindHTMLParse, "rewrite start page", err)
	}
	indexPath := sess.OutputDir + "/index.html"
	if err := o.deps.FS.WriteFileAtomic(indexPath, rewritten, 0o644); err != nil {
		return errs.Wrap(errs.KindDiskFull, "write rewritten index.html", err)
	}
	return nil
}

// packagePhase produces the session's single-archive output (spec §6
// "Archive writer"), when the embedder supplies one. Symlink aliasing
// (e.g. assets/image -> img, spec §6) is left to the Build-Tool
// Detector's path strategy plus the Filesystem collaborator's Symlink
// fallback; it is applied per-asset at fetch time, not here.
func (o *Orchestrator) packagePhase(ctx context.Context, sess *model.Session) error {
	if o.deps.Archiver == nil {
		return nil
	}
	archivePath := sess.OutputDir + ".zip"
	if err := o.deps.Archiver.WriteArchive(ctx, sess.OutputDir, archivePath); err != nil {
		return errs.Wrap(errs.KindDiskFull, "write session archive", err)
	}
	return nil
}
