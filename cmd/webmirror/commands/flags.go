// Package commands parses per-subcommand CLI arguments into StartOptions
// overrides and builds output.Results from session state. Flag extraction
// is hand-rolled rather than via the flag package, matching the teacher's
// cmd/gasoline-cmd/commands/common.go parseFlag/parseFlagInt/parseFlagBool
// trio — each subcommand's flags are a handful of --key value pairs, not
// worth a full flag.FlagSet per command.
package commands

import (
	"errors"
	"strconv"
	"strings"

	"github.com/webmirror/webmirror/internal/model"
	"github.com/webmirror/webmirror/internal/output"
)

var errMissingURL = errors.New("a URL is required")

// parseFlag extracts a flag value from an args slice, returning the value
// and the remaining args with the flag pair removed.
func parseFlag(args []string, flag string) (string, []string) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			val := args[i+1]
			remaining := make([]string, 0, len(args)-2)
			remaining = append(remaining, args[:i]...)
			remaining = append(remaining, args[i+2:]...)
			return val, remaining
		}
	}
	return "", args
}

// parseFlagInt extracts an integer flag value from an args slice.
func parseFlagInt(args []string, flag string) (int, bool, []string) {
	val, remaining := parseFlag(args, flag)
	if val == "" {
		return 0, false, args
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, args
	}
	return n, true, remaining
}

// parseFlagFloat extracts a float flag value from an args slice.
func parseFlagFloat(args []string, flag string) (float64, bool, []string) {
	val, remaining := parseFlag(args, flag)
	if val == "" {
		return 0, false, args
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, args
	}
	return f, true, remaining
}

// parseFlagBool checks whether a boolean flag is present in args.
func parseFlagBool(args []string, flag string) (bool, []string) {
	for i, a := range args {
		if a == flag {
			remaining := make([]string, 0, len(args)-1)
			remaining = append(remaining, args[:i]...)
			remaining = append(remaining, args[i+1:]...)
			return true, remaining
		}
	}
	return false, args
}

// StartArgs parses "webmirror start <url> [--max-depth N] [--max-files N]
// [--rate-rps F] [--max-concurrent N] [--no-headless]" into a start URL
// and the base options it overrides.
func StartArgs(args []string, base model.StartOptions) (string, model.StartOptions, error) {
	opts := base

	if n, ok, rest := parseFlagInt(args, "--max-depth"); ok {
		opts.MaxDepth = n
		args = rest
	}
	if n, ok, rest := parseFlagInt(args, "--max-files"); ok {
		opts.MaxFiles = n
		args = rest
	}
	if f, ok, rest := parseFlagFloat(args, "--rate-rps"); ok {
		opts.RateRPS = f
		args = rest
	}
	if n, ok, rest := parseFlagInt(args, "--max-concurrent"); ok {
		opts.RateMaxConcurrent = n
		args = rest
	}
	if headless, rest := parseFlagBool(args, "--no-headless"); headless {
		opts.BrowserHeadless = false
		args = rest
	}
	if follow, rest := parseFlagBool(args, "--follow-external"); follow {
		opts.FollowExternalLinks = true
		args = rest
	}

	var positional []string
	for _, a := range args {
		if !strings.HasPrefix(a, "--") {
			positional = append(positional, a)
		}
	}
	if len(positional) == 0 {
		return "", opts, errMissingURL
	}
	return positional[0], opts.Clamp(), nil
}

// BuildResult constructs an output.Result for a session-shaped command.
func BuildResult(command, sessionID string, data map[string]any, err error) *output.Result {
	if err != nil {
		return &output.Result{Success: false, Command: command, Session: sessionID, Error: err.Error()}
	}
	return &output.Result{Success: true, Command: command, Session: sessionID, Data: data}
}

// SessionData flattens the fields of a session that matter to a CLI user
// into the map output.Result renders.
func SessionData(sess *model.Session) map[string]any {
	return map[string]any{
		"start_url":         sess.StartURL,
		"status":            string(sess.Status),
		"progress":          sess.Progress,
		"assets_discovered": sess.Stats.AssetsDiscovered,
		"assets_downloaded": sess.Stats.AssetsDownloaded,
		"assets_failed":     sess.Stats.AssetsFailed,
		"pages_visited":     sess.Stats.PagesVisited,
		"bytes_downloaded":  sess.Stats.BytesDownloaded,
		"output_dir":        sess.OutputDir,
	}
}
