// Command authflow plays authentication flow timelines in the terminal,
// serves the web player and exposes playback over MCP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0" ./cmd/authflow/
var version = "dev"

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, cfg Config, args []string, out io.Writer) error
}

var commands = []command{
	{"list", "list registered flows", runList},
	{"validate", "validate flow documents: validate <file>...", runValidate},
	{"play", "play a flow in the terminal: play [flags] <flow>", runPlay},
	{"diagram", "render a flow diagram: diagram [flags] <flow>", runDiagram},
	{"serve", "serve the web player (and MCP over stdio with --mcp)", runServe},
	{"mcp", "serve MCP tools over stdio", runMCP},
	{"sessions", "list recorded sessions", runSessions},
	{"trace", "print a recorded trace: trace [--filter jq] <session>", runTrace},
	{"replay", "summarize a recorded trace: replay <session>", runReplay},
	{"prune", "delete closed sessions older than --max-age", runPrune},
	{"install", "write settings.json and install mermaid-ascii", runInstall},
	{"version", "print the version", runVersion},
}

// errUsage reports a bad invocation; the caller prints usage and exits 2.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage(stderr)
		if len(args) == 0 {
			return 2
		}
		return 0
	}

	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		err := c.run(ctx, loadConfig(), args[1:], stdout)
		switch {
		case err == nil:
			return 0
		case errors.Is(err, flag.ErrHelp):
			return 0
		case errors.Is(err, errUsage):
			fmt.Fprintf(stderr, "usage: authflow %s\n", c.usage)
			return 2
		default:
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	fmt.Fprintf(stderr, "unknown command %q\n", args[0])
	printUsage(stderr)
	return 2
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: authflow <command> [flags]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.usage)
	}
}

func runVersion(_ context.Context, _ Config, _ []string, out io.Writer) error {
	_, err := fmt.Fprintln(out, version)
	return err
}

// newFlagSet returns a FlagSet carrying the flags every command shares. Flag
// values override cfg.
func newFlagSet(name string, cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.FlowsDir, "flows-dir", cfg.FlowsDir, "directory of extra flow documents")
	return fs
}

func storeFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "trace database path")
}

// parseArgs parses args and requires exactly want positional arguments
// (at least one when want < 0).
func parseArgs(fs *flag.FlagSet, args []string, want int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, errUsage
	}
	rest := fs.Args()
	if (want < 0 && len(rest) == 0) || (want >= 0 && len(rest) != want) {
		return nil, errUsage
	}
	return rest, nil
}
