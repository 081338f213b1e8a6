package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/basket/claw-archive/internal/archive"
	"github.com/basket/claw-archive/internal/config"
)

type checkResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // PASS, FAIL, WARN
	Message string `json:"message"`
}

// runDoctorCommand checks the environment the archive depends on: state
// dir, scan roots, database health, migration ledger.
func runDoctorCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("clawarchive doctor", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	asJSON := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var results []checkResult
	add := func(name, status, message string) {
		results = append(results, checkResult{Name: name, Status: status, Message: message})
	}

	stateDir := config.StateDir()
	if st, err := os.Stat(stateDir); err == nil && st.IsDir() {
		add("state_dir", "PASS", stateDir)
	} else {
		add("state_dir", "FAIL", fmt.Sprintf("%s not found", stateDir))
	}

	for _, root := range config.DefaultScanRoots(stateDir) {
		rel, _ := filepath.Rel(stateDir, root)
		if st, err := os.Stat(root); err == nil && st.IsDir() {
			add("scan_root:"+rel, "PASS", root)
		} else {
			add("scan_root:"+rel, "WARN", fmt.Sprintf("%s not found (nothing to scan there yet)", root))
		}
	}

	cfg, err := config.Load()
	if err != nil {
		add("config", "FAIL", err.Error())
	} else {
		add("config", "PASS", config.ConfigPath(cfg.StateDir))

		store, err := archive.Open(cfg.DBPath, archive.Options{})
		if err != nil {
			add("database", "FAIL", err.Error())
		} else {
			version, checksum, err := store.SchemaVersion(ctx)
			if err != nil {
				add("database", "FAIL", err.Error())
			} else {
				add("database", "PASS", fmt.Sprintf("%s (schema v%d %s)", cfg.DBPath, version, checksum))
			}
			_ = store.Close()
		}
	}

	if *asJSON {
		out, _ := json.MarshalIndent(map[string]any{
			"os":      runtime.GOOS,
			"arch":    runtime.GOARCH,
			"go":      runtime.Version(),
			"version": version,
			"results": results,
		}, "", "  ")
		fmt.Println(string(out))
	} else {
		for _, r := range results {
			fmt.Printf("%-24s %-4s %s\n", r.Name, r.Status, r.Message)
		}
	}
	for _, r := range results {
		if r.Status == "FAIL" {
			return 1
		}
	}
	return 0
}
