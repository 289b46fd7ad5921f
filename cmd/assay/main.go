package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	pidFile = "assayd.pid"
	logFile = "assayd.log"
)

// Exit statuses
const (
	exitOK         = 0
	exitError      = 1
	exitNotPassing = 2
)

// errNotPassing is returned by assess when the verdict does not pass
var errNotPassing = errors.New("verdict is not passing")

// errUsage marks argument errors; the usage text has already been printed
var errUsage = errors.New("usage")

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches a command and maps its error to an exit status
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitError
	}

	var err error
	switch args[0] {
	case "init":
		err = cmdInit(stdout)
	case "assess":
		err = cmdAssess(ctx, args[1:], stdin, stdout)
	case "synth":
		err = cmdSynth(ctx, args[1:], stdin, stdout)
	case "exercise":
		err = cmdExercise(ctx, args[1:], stdout)
	case "history":
		err = cmdHistory(ctx, args[1:], stdout)
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop()
	case "status":
		err = cmdStatus(stdout)
	case "logs":
		err = cmdLogs(stdout)
	case "config":
		err = cmdConfig(stdout)
	case "mcp":
		err = cmdMCP(ctx)
	case "help", "-h", "--help":
		printUsage(stdout)
	case "version", "-v", "--version":
		fmt.Fprintf(stdout, "assay %s\n", Version)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return exitError
	}

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errNotPassing):
		return exitNotPassing
	case errors.Is(err, errUsage):
		return exitError
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Assay - Rule-based code assessment

Usage:
  assay <command> [arguments]

Assessment Commands:
  assess          Assess a submission against an exercise or a rules file
  synth           Derive a starter rule list from a reference solution
  history         Show recorded attempts

Exercise Commands:
  exercise list   List available exercises
  exercise info   Show exercise details

Daemon Commands:
  start           Start the assay daemon
  stop            Stop the assay daemon
  status          Show daemon status
  logs            View daemon logs

Setup Commands:
  init            Create ~/.assay and a default configuration
  config          Show current configuration

Integration Commands:
  mcp             Start MCP server on stdio

Other:
  help            Show this help message
  version         Show version information

Examples:
  assay assess --exercise javascript-easy/functions/add solution.js
  assay assess --rules rules.yaml --lang go main.go
  cat ref.py | assay synth --lang python -
  assay exercise list

assess exits with status 2 when the verdict is not a pass.`)
}

// renderProgressBar creates a visual progress bar
func renderProgressBar(value float64, width int) string {
	filled := int(value * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	empty := width - filled

	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", empty) + "]"
}
