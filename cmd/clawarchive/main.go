// Command clawarchive is the archival CLI for the agent platform's session
// logs and chat history: incremental scans into the archive database,
// bulk imports of third-party chat exports, and the read-side query and
// export surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/basket/claw-archive/internal/archive"
	"github.com/basket/claw-archive/internal/config"
	"github.com/basket/claw-archive/internal/scanner"
	"github.com/basket/claw-archive/internal/summarize"
	"github.com/basket/claw-archive/internal/telemetry"
)

const version = "v0.3"

func printUsage() {
	fmt.Fprintf(os.Stderr, `clawarchive %s - session and conversation archive

USAGE:
  %s <subcommand> [options]

SUBCOMMANDS:
  %s scan [options]           Incremental scan of session event logs
                              Options: --mode {messages|events|sessions|both|all}
                                       --force, --dir <path>
  %s import [options]         Import a chat export or historical sessions
                              Options: --source {telegram|whatsapp|discord|sessions}
                                       --path <file-or-dir>, --self <identifier>
  %s sessions [options]       List archived sessions
  %s search <query>           Full-text search over messages
  %s export [options]         Export one session
                              Options: --session <id>
                                       --format {json|markdown|text|csv|jsonl}
  %s stats --session <id>     Aggregate statistics for one session
  %s backfills                Show the bulk-import audit log
  %s watch                    Daemon: scheduled + file-triggered scans
  %s doctor                   Run diagnostic checks

ENVIRONMENT VARIABLES:
  OPENCLAW_STATE_DIR      Platform state directory (default: ~/.openclaw)
  CLAW_ARCHIVE_DB         Archive database path override
  CLAW_ARCHIVE_LOG_LEVEL  Log level (debug|info|warn|error)
`, version, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0],
		os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
	case "scan":
		os.Exit(runScanCommand(ctx, args[1:]))
	case "import":
		os.Exit(runImportCommand(ctx, args[1:]))
	case "sessions":
		os.Exit(runSessionsCommand(ctx, args[1:]))
	case "search":
		os.Exit(runSearchCommand(ctx, args[1:]))
	case "export":
		os.Exit(runExportCommand(ctx, args[1:]))
	case "stats":
		os.Exit(runStatsCommand(ctx, args[1:]))
	case "backfills":
		os.Exit(runBackfillsCommand(ctx, args[1:]))
	case "watch":
		os.Exit(runWatchCommand(ctx, args[1:]))
	case "doctor":
		os.Exit(runDoctorCommand(ctx, args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

// app bundles the wiring every subcommand needs.
type app struct {
	cfg     config.Config
	store   *archive.Store
	metrics *telemetry.Metrics
	scanner *scanner.Scanner
	close   func()
}

// newApp loads config and opens the store. Quiet logging is the default
// for read commands so their stdout stays parseable.
func newApp(ctx context.Context, quiet bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		quiet = true
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.StateDir, cfg.LogLevel, quiet || cfg.Quiet)
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}

	metrics, err := telemetry.NewMetrics(ctx, cfg.Metrics)
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("set up metrics: %w", err)
	}

	store, err := archive.Open(cfg.DBPath, archive.Options{Logger: logger})
	if err != nil {
		_ = metrics.Shutdown(ctx)
		_ = logCloser.Close()
		return nil, err
	}

	sc := scanner.New(scanner.Config{
		Store:      store,
		Logger:     logger,
		Metrics:    metrics,
		Summarizer: summarize.Local{},
	})

	return &app{
		cfg:     cfg,
		store:   store,
		metrics: metrics,
		scanner: sc,
		close: func() {
			_ = store.Close()
			_ = metrics.Shutdown(context.Background())
			_ = logCloser.Close()
		},
	}, nil
}

func fatal(err error) int {
	fmt.Fprintln(os.Stderr, "error:", err)
	return 1
}
