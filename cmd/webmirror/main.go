// Command webmirror is the CLI front end for webmirrord: it submits
// start/resume/delete requests and renders session status, talking to a
// running daemon over HTTP (auto-starting one if none answers). Top-level
// argument handling, global-flag extraction, and the --version/--help
// short-circuit are adapted directly from the teacher's
// cmd/gasoline-cmd/main.go run().
//
// Usage: webmirror <command> [args] [--flags]
//
// Exit codes:
//
//	0 = success
//	1 = error (command failed)
//	2 = usage error (missing args, invalid flags)
package main

import (
	"fmt"
	"os"

	"github.com/webmirror/webmirror/cmd/webmirror/client"
	"github.com/webmirror/webmirror/cmd/webmirror/commands"
	"github.com/webmirror/webmirror/internal/config"
	"github.com/webmirror/webmirror/internal/output"
)

var version = "0.1.0"

const usageText = `webmirror — CLI for mirroring websites via webmirrord

Usage:
  webmirror <command> [args] [--flags]

Commands:
  start <url>        Start mirroring a site
  status <session>    Show a session's current status
  list                List all known sessions
  resume <session>    Resume an interrupted session
  delete <session>    Delete a session's bookkeeping

Flags:
  --format <human|json|csv>   Output format (default: human)
  --port <port>                webmirrord port (default: 8411)
  --no-auto-start               Don't auto-start webmirrord if not running
  --max-depth <n>               Max crawl depth (start only)
  --max-files <n>               Max files to fetch (start only)
  --rate-rps <f>                Requests per second (start only)
  --max-concurrent <n>          Max concurrent fetches (start only)
  --no-headless                  Run the browser with a visible window (start only)
  --follow-external              Follow links off the start domain (start only)
  --version                     Show version
  --help                        Show this help

Examples:
  webmirror start https://example.com/ --max-depth 2
  webmirror status sess-1234
  webmirror list
  webmirror resume sess-1234
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	for _, a := range args {
		if a == "--version" || a == "-v" {
			fmt.Printf("webmirror %s\n", version)
			return 0
		}
		if a == "--help" || a == "-h" {
			fmt.Print(usageText)
			return 0
		}
	}

	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		return 2
	}

	command := args[0]
	if command == "help" {
		fmt.Print(usageText)
		return 0
	}
	rest := args[1:]

	format, rest := extractStringFlag(rest, "--format", "human")
	port, rest := extractIntFlag(rest, "--port", client.DefaultPort)
	noAutoStart, rest := extractBoolFlag(rest, "--no-auto-start")

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine working directory: %v\n", err)
		return 1
	}
	cfg, err := config.Load(cwd, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: configuration: %v\n", err)
		return 2
	}

	formatter := output.GetFormatter(format)

	c, err := client.EnsureRunning(port, !noAutoStart)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var result *output.Result
	switch command {
	case "start":
		result = cmdStart(c, cfg, rest)
	case "status":
		result = cmdStatus(c, rest)
	case "list":
		result = cmdList(c)
	case "resume":
		result = cmdResume(c, rest)
	case "delete":
		result = cmdDelete(c, rest)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		fmt.Fprint(os.Stderr, usageText)
		return 2
	}

	if err := formatter.Format(os.Stdout, result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: format output: %v\n", err)
		return 1
	}
	if !result.Success {
		return 1
	}
	return 0
}

func extractStringFlag(args []string, flag, def string) (string, []string) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			val := args[i+1]
			remaining := append(append([]string{}, args[:i]...), args[i+2:]...)
			return val, remaining
		}
	}
	return def, args
}

func extractIntFlag(args []string, flag string, def int) (int, []string) {
	val, remaining := extractStringFlag(args, flag, "")
	if val == "" {
		return def, args
	}
	n := 0
	for _, ch := range val {
		if ch < '0' || ch > '9' {
			return def, args
		}
		n = n*10 + int(ch-'0')
	}
	return n, remaining
}

func extractBoolFlag(args []string, flag string) (bool, []string) {
	for i, a := range args {
		if a == flag {
			remaining := append(append([]string{}, args[:i]...), args[i+1:]...)
			return true, remaining
		}
	}
	return false, args
}
