package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/basket/claw-archive/internal/importers"
)

func runImportCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("clawarchive import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	source := fs.String("source", "", "import source: telegram|whatsapp|discord|sessions")
	path := fs.String("path", "", "export file (or directory for --source sessions)")
	self := fs.String("self", "", "self identifier for direction detection")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *source == "" || *path == "" {
		fmt.Fprintln(os.Stderr, "usage: clawarchive import --source <source> --path <path> [--self <id>]")
		return 2
	}

	a, err := newApp(ctx, false)
	if err != nil {
		return fatal(err)
	}
	defer a.close()

	if *source == "sessions" {
		res, err := a.scanner.BulkImportSessions(ctx, *path)
		if err != nil {
			return fatal(err)
		}
		fmt.Printf("imported %d session files: %d events inserted, %d skipped, %d errors\n",
			res.FilesScanned, res.Events.Inserted, res.Events.Skipped, res.Events.Errors)
		return 0
	}

	selfID := *self
	if selfID == "" {
		switch *source {
		case importers.ChannelTelegram:
			selfID = a.cfg.Import.TelegramSelfID
		case importers.ChannelWhatsApp:
			selfID = a.cfg.Import.WhatsAppSelfName
		}
	}
	parser, err := importers.ForSource(*source, selfID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	res, err := a.scanner.ImportFile(ctx, parser, *path)
	if err != nil {
		return fatal(err)
	}
	fmt.Printf("%s import: %d inserted, %d skipped, %d errors\n",
		*source, res.Inserted, res.Skipped, res.Errors)
	return 0
}
