package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher triggers a rescan when session logs change on disk. Bursts of
// writes collapse into one scan through the debounce window.
type Watcher struct {
	roots    []string
	logger   *slog.Logger
	debounce time.Duration
	trigger  func(ctx context.Context)
}

// NewWatcher watches the scan roots and calls trigger after activity
// settles for the debounce window.
func NewWatcher(roots []string, debounce time.Duration, trigger func(ctx context.Context), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	cp := make([]string, 0, len(roots))
	for _, r := range roots {
		if strings.TrimSpace(r) != "" {
			cp = append(cp, r)
		}
	}
	return &Watcher{roots: cp, logger: logger, debounce: debounce, trigger: trigger}
}

// Run blocks until ctx is done, dispatching debounced rescans.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer fsw.Close()

	for _, root := range w.roots {
		w.addTree(fsw, root)
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			// New session directories appear at runtime; watch them too.
			if ev.Op.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					w.addTree(fsw, ev.Name)
					continue
				}
			}
			if filepath.Ext(ev.Name) != ".jsonl" {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			w.trigger(ctx)
		}
	}
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("watch add failed", "dir", path, "error", err)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		w.logger.Warn("watch walk failed", "root", root, "error", err)
	}
}
