package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/basket/claw-archive/internal/scanner"
)

func runScanCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("clawarchive scan", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	mode := fs.String("mode", "messages", "scan mode: messages|events|sessions|both|all")
	force := fs.Bool("force", false, "ignore watermarks and suspend referential checks (backfill)")
	dir := fs.String("dir", "", "override scan root directory")
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

	roots := a.cfg.Scan.Roots
	if *dir != "" {
		roots = []string{*dir}
	}

	res, err := a.scanner.Scan(ctx, scanner.Options{Roots: roots, Mode: m, Force: *force})
	if err != nil {
		return fatal(err)
	}

	fmt.Printf("scanned %d files (%d skipped) in %s\n",
		res.FilesScanned, res.FilesSkipped, res.Duration.Round(timeRound))
	fmt.Printf("events:   %d inserted, %d skipped, %d errors\n",
		res.Events.Inserted, res.Events.Skipped, res.Events.Errors)
	fmt.Printf("messages: %d inserted, %d skipped, %d errors\n",
		res.Messages.Inserted, res.Messages.Skipped, res.Messages.Errors)
	if res.SessionsUpdated > 0 {
		fmt.Printf("sessions: %d updated\n", res.SessionsUpdated)
	}
	return 0
}
