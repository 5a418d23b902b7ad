// Command webmirrord is the mirroring daemon: it owns the Session State
// Machine and drives each session's Orchestrator, exposing its HTTP API
// on localhost for the webmirror CLI (and any other client) to talk to.
// Flag parsing, the --version/--help short-circuit, and the startup
// banner are adapted directly from the teacher's cmd/dev-console/main.go
// main(); unlike the teacher, webmirrord has no MCP-stdio mode to juggle,
// so it always runs the HTTP-only path the teacher calls --server mode.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/webmirror/webmirror/internal/archive"
	"github.com/webmirror/webmirror/internal/browserbridge"
	"github.com/webmirror/webmirror/internal/cachestore"
	"github.com/webmirror/webmirror/internal/collab"
	"github.com/webmirror/webmirror/internal/config"
	"github.com/webmirror/webmirror/internal/daemon"
	"github.com/webmirror/webmirror/internal/events"
	"github.com/webmirror/webmirror/internal/orchestrator"
	"github.com/webmirror/webmirror/internal/security"
	"github.com/webmirror/webmirror/internal/sessionmgr"
)

var version = "0.1.0"

func main() {
	port := flag.Int("port", 8411, "Port to listen on")
	cacheDir := flag.String("cache-dir", "", "Directory for the on-disk fetch cache (default: from config cascade)")
	sessionsDir := flag.String("sessions-dir", "", "Directory for session bookkeeping (default: from config cascade)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (default: from config cascade)")
	bridgeURL := flag.String("bridge-url", "http://127.0.0.1:9222", "Base URL of the headless browser bridge process")
	allowPrivateHosts := flag.Bool("allow-private-hosts", false, "Permit crawling loopback/RFC1918 targets (testing only)")
	showVersion := flag.Bool("version", false, "Show version")
	showHelp := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *showVersion {
		fmt.Printf("webmirrord %s\n", version)
		os.Exit(0)
	}
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine working directory: %v\n", err)
		os.Exit(1)
	}

	flags := &config.FlagOverrides{}
	if *cacheDir != "" {
		flags.CacheDir = cacheDir
	}
	if *logLevel != "" {
		flags.LogLevel = logLevel
	}
	cfg, err := config.Load(cwd, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: configuration: %v\n", err)
		os.Exit(1)
	}
	if *sessionsDir != "" {
		cfg.SessionsDir = *sessionsDir
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	guard := &security.Guard{AllowPrivate: *allowPrivateHosts}
	fs := collab.OSFilesystem{}
	transport := collab.NewHTTPTransport(guard)
	driver := browserbridge.New(*bridgeURL)

	cache, err := cachestore.Open(cfg.CacheDir, cfg.CacheMaxSize, 24*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open cache store: %v\n", err)
		os.Exit(1)
	}

	sink := events.NewChannelSink(256)
	go logEvents(sink)

	sessions, err := sessionmgr.New(cfg.SessionsDir, fs, sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open session store: %v\n", err)
		os.Exit(1)
	}

	orch := orchestrator.New(orchestrator.Deps{
		Driver:    driver,
		Transport: transport,
		FS:        fs,
		Cache:     cache,
		Sessions:  sessions,
		Sink:      sink,
		Archiver:  archive.ZipWriter{},
	})

	server := daemon.New(sessions, orch, version)

	printBanner(*port, cfg)

	addr := fmt.Sprintf("127.0.0.1:%d", *port)
	logger.Info("webmirrord listening", "addr", addr, "bridge_url", *bridgeURL, "cache_dir", cfg.CacheDir, "sessions_dir", cfg.SessionsDir)
	if err := http.ListenAndServe(addr, server); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// logEvents drains the session sink and logs each envelope; the channel
// is the only consumer ChannelSink has, so something must read it or the
// buffer fills and events.ChannelSink.Emit starts silently dropping.
func logEvents(sink *events.ChannelSink) {
	for env := range sink.C() {
		slog.Info("session event", "session", env.SessionID, "type", string(env.Event.Type()))
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printBanner(port int, cfg config.Config) {
	fmt.Println()
	fmt.Println("+---------------------------------------------------------+")
	fmt.Println("|                        webmirrord                        |")
	fmt.Println("|           website mirroring daemon, local HTTP API      |")
	fmt.Println("+---------------------------------------------------------+")
	fmt.Println()
	fmt.Printf("Listening on http://127.0.0.1:%d\n", port)
	fmt.Printf("Cache:    %s (max %d bytes)\n", cfg.CacheDir, cfg.CacheMaxSize)
	fmt.Printf("Sessions: %s\n", cfg.SessionsDir)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}

func printHelp() {
	fmt.Print(`webmirrord - website mirroring daemon

Usage: webmirrord [options]

Options:
  --port <number>            Port to listen on (default: 8411)
  --cache-dir <path>         Directory for the on-disk fetch cache
  --sessions-dir <path>      Directory for session bookkeeping
  --log-level <level>        debug, info, warn, or error (default: info)
  --bridge-url <url>         Base URL of the headless browser bridge process
  --allow-private-hosts      Permit crawling loopback/RFC1918 targets (testing only)
  --version                  Show version
  --help                     Show this help message

Example:
  webmirrord --port 8411 --cache-dir ./.webmirror-cache
`)
}
