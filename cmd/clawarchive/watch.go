package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/basket/claw-archive/internal/scanner"
)

// runWatchCommand runs the archive daemon: a cron-scheduled periodic scan
// plus a filesystem watcher that rescans shortly after session logs change.
func runWatchCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("clawarchive watch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	mode := fs.String("mode", "all", "scan mode for triggered scans")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	m, err := scanner.ParseMode(*mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	a, err := newApp(ctx, false)
	if err != nil {
		return fatal(err)
	}
	defer a.close()

	opts := scanner.Options{Roots: a.cfg.Scan.Roots, Mode: m}

	sched, err := scanner.NewSchedule(a.cfg.Scan.Schedule, a.scanner, opts, nil)
	if err != nil {
		return fatal(fmt.Errorf("parse scan schedule %q: %w", a.cfg.Scan.Schedule, err))
	}
	sched.Start(ctx)
	defer sched.Stop()

	watcher := scanner.NewWatcher(
		a.cfg.Scan.Roots,
		time.Duration(a.cfg.Scan.DebounceSeconds)*time.Second,
		func(ctx context.Context) {
			if _, err := a.scanner.Scan(ctx, opts); err != nil && ctx.Err() == nil {
				fmt.Fprintln(os.Stderr, "triggered scan failed:", err)
			}
		},
		nil,
	)

	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fatal(err)
	}
	return 0
}
