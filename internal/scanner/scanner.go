// Package scanner is the ingest executive: it discovers session event-log
// files under the platform's state tree, replays them through the event-log
// parser into the store with checkpoints and duplicate elision, and drives
// session summarization. Imports of third-party chat exports funnel through
// the same counters and audit trail.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/claw-archive/internal/archive"
	"github.com/basket/claw-archive/internal/eventlog"
	"github.com/basket/claw-archive/internal/summarize"
	"github.com/basket/claw-archive/internal/telemetry"
)

// Mode selects what a scan ingests.
type Mode string

const (
	ModeMessages Mode = "messages"
	ModeEvents   Mode = "events"
	ModeSessions Mode = "sessions"
	ModeBoth     Mode = "both" // messages + events
	ModeAll      Mode = "all"  // messages + events + sessions
)

// ParseMode validates a CLI mode flag.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMessages:
		return ModeMessages, nil
	case ModeEvents:
		return ModeEvents, nil
	case ModeSessions:
		return ModeSessions, nil
	case ModeBoth:
		return ModeBoth, nil
	case ModeAll:
		return ModeAll, nil
	}
	return "", fmt.Errorf("unknown scan mode %q", s)
}

func (m Mode) wantsMessages() bool { return m == ModeMessages || m == ModeBoth || m == ModeAll }
func (m Mode) wantsEvents() bool   { return m == ModeEvents || m == ModeBoth || m == ModeAll }
func (m Mode) wantsSessions() bool { return m == ModeSessions || m == ModeAll }

// Options configures one scan run.
type Options struct {
	Roots []string
	Mode  Mode
	// Force ignores watermarks and suspends referential checking for the
	// run's batches, permitting historical backfill with incomplete parent
	// chains.
	Force bool
}

// Result aggregates counters across all files of a run.
type Result struct {
	RunID           string
	FilesScanned    int
	FilesSkipped    int
	Events          archive.BatchResult
	Messages        archive.BatchResult
	SessionsUpdated int
	Duration        time.Duration
}

// Scanner wires the parser, store, summarizer and instruments together.
type Scanner struct {
	store      *archive.Store
	parser     *eventlog.Parser
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	summarizer summarize.Summarizer
}

// Config holds the Scanner's dependencies.
type Config struct {
	Store      *archive.Store
	Logger     *slog.Logger
	Metrics    *telemetry.Metrics
	Summarizer summarize.Summarizer
}

// New creates a Scanner. Logger and Summarizer default sensibly; Metrics
// may be nil.
func New(cfg Config) *Scanner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	summarizer := cfg.Summarizer
	if summarizer == nil {
		summarizer = summarize.Local{}
	}
	return &Scanner{
		store:      cfg.Store,
		parser:     eventlog.New(logger),
		logger:     logger,
		metrics:    cfg.Metrics,
		summarizer: summarizer,
	}
}

type logFile struct {
	path string
	root string
}

// Scan runs one pass over the roots in the requested mode. It is
// interruptible between files: cancellation leaves the watermark unchanged
// so the next scan re-covers the same window.
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{RunID: uuid.NewString()}
	start := time.Now()

	files, err := enumerate(opts.Roots)
	if err != nil {
		return nil, err
	}
	s.logger.Info("scan started",
		"run_id", res.RunID, "mode", string(opts.Mode), "force", opts.Force, "files", len(files))

	if opts.Mode.wantsMessages() {
		if err := s.scanPass(ctx, files, archive.KeyLastScan, opts.Force, res, s.ingestMessages); err != nil {
			return res, err
		}
	}
	if opts.Mode.wantsEvents() {
		if err := s.scanPass(ctx, files, archive.KeyLastEventsScan, opts.Force, res, s.ingestEvents); err != nil {
			return res, err
		}
	}
	if opts.Mode.wantsSessions() {
		if err := s.scanPass(ctx, files, archive.KeyLastSessionsScan, opts.Force, res, s.ingestSession); err != nil {
			return res, err
		}
	}

	res.Duration = time.Since(start)
	if s.metrics != nil {
		s.metrics.ScanDuration.Record(ctx, res.Duration.Seconds())
	}
	s.logger.Info("scan finished",
		"run_id", res.RunID,
		"files", res.FilesScanned,
		"events_inserted", res.Events.Inserted,
		"events_skipped", res.Events.Skipped,
		"events_errors", res.Events.Errors,
		"messages_inserted", res.Messages.Inserted,
		"messages_skipped", res.Messages.Skipped,
		"sessions_updated", res.SessionsUpdated,
		"duration", res.Duration.String())
	return res, nil
}

// ingestFn commits one parsed file in one of the scan sub-modes.
type ingestFn func(ctx context.Context, file logFile, events []*archive.Event, force bool, res *Result) error

func (s *Scanner) scanPass(ctx context.Context, files []logFile, watermarkKey string, force bool, res *Result, ingest ingestFn) error {
	var watermark int64
	if !force {
		wm, err := s.store.Watermark(ctx, watermarkKey)
		if err != nil {
			return err
		}
		watermark = wm
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			// Watermark stays put: the interrupted window is re-covered
			// next run, and deduplication makes that cheap.
			return err
		}
		events, err := s.parser.ParseFile(file.path, watermark)
		if err != nil {
			res.FilesSkipped++
			s.logger.Warn("file skipped", "path", file.path, "error", err)
			continue
		}
		res.FilesScanned++
		if s.metrics != nil {
			s.metrics.FilesScanned.Add(ctx, 1)
		}
		if len(events) == 0 {
			continue
		}
		if err := ingest(ctx, file, events, force, res); err != nil {
			return err
		}
	}

	// End-of-run wall clock, not per-file maxima: keeps the checkpoint
	// monotonic across files.
	return s.store.SetWatermark(ctx, watermarkKey, time.Now().UnixMilli())
}

func (s *Scanner) ingestEvents(ctx context.Context, file logFile, events []*archive.Event, force bool, res *Result) error {
	sessionID := sessionIDFromPath(file.path)
	batch, err := s.store.InsertEventsBatch(ctx, events, sessionKeyFromPath(file.root, file.path), archive.EventBatchOptions{
		SessionID: sessionID,
		SuspendFK: force,
	})
	if err != nil {
		return fmt.Errorf("commit events for %s: %w", file.path, err)
	}
	res.Events.Inserted += batch.Inserted
	res.Events.Skipped += batch.Skipped
	res.Events.Errors += batch.Errors
	if s.metrics != nil {
		s.metrics.EventsInserted.Add(ctx, int64(batch.Inserted))
		s.metrics.EventsSkipped.Add(ctx, int64(batch.Skipped))
		s.metrics.EventErrors.Add(ctx, int64(batch.Errors))
	}
	return nil
}

// ingestMessages lifts the chat turns out of a session log into the
// messages table under the platform's own channel tag.
func (s *Scanner) ingestMessages(ctx context.Context, file logFile, events []*archive.Event, _ bool, res *Result) error {
	sessionID := sessionIDFromPath(file.path)
	sessionKey := sessionKeyFromPath(file.root, file.path)

	var records []*archive.Message
	for _, ev := range events {
		if ev.Type != archive.EventTypeMessage {
			continue
		}
		if ev.Role != "user" && ev.Role != "assistant" {
			continue
		}
		text := eventlog.MessageText(ev.RawJSON)
		if strings.TrimSpace(text) == "" {
			continue
		}
		direction := archive.DirectionInbound
		if ev.Role == "assistant" {
			direction = archive.DirectionOutbound
		}
		records = append(records, &archive.Message{
			MessageID:   ev.EventID,
			SessionKey:  sessionKey,
			SessionID:   sessionID,
			Direction:   direction,
			SenderID:    ev.Role,
			SenderName:  ev.Role,
			Channel:     "openclaw",
			ContentType: "text",
			ContentText: text,
			RawJSON:     ev.RawJSON,
			Timestamp:   ev.Timestamp,
		})
	}
	if len(records) == 0 {
		return nil
	}
	batch, err := s.store.InsertMessagesBatch(ctx, records)
	if err != nil {
		return fmt.Errorf("commit messages for %s: %w", file.path, err)
	}
	res.Messages.Inserted += batch.Inserted
	res.Messages.Skipped += batch.Skipped
	res.Messages.Errors += batch.Errors
	if s.metrics != nil {
		s.metrics.MessagesInserted.Add(ctx, int64(batch.Inserted))
		s.metrics.MessagesSkipped.Add(ctx, int64(batch.Skipped))
	}
	return nil
}

// ingestSession refreshes the summary row for a session whose log gained
// events since the last sessions scan. The summarizer failing is never
// fatal: the deterministic local label takes over.
func (s *Scanner) ingestSession(ctx context.Context, file logFile, _ []*archive.Event, _ bool, res *Result) error {
	// The watermark told us the session changed; the summary itself is
	// built from the full log.
	events, err := s.parser.ParseFile(file.path, 0)
	if err != nil {
		res.FilesSkipped++
		s.logger.Warn("session rebuild skipped", "path", file.path, "error", err)
		return nil
	}

	sessionID := sessionIDFromPath(file.path)
	sessionKey := sessionKeyFromPath(file.root, file.path)
	meta := eventlog.DeriveSessionMeta(events)
	if meta.SessionID == "" {
		meta.SessionID = sessionID
	}

	title, summary, err := s.summarizer.Summarize(ctx, meta, events)
	if err != nil {
		s.logger.Warn("summarizer failed, using local fallback", "session_id", sessionID, "error", err)
		title, summary, _ = summarize.Local{}.Summarize(ctx, meta, events)
	}

	status := archive.SessionStatusCompleted
	endedAt := meta.LastTimestamp
	if _, err := os.Stat(file.path + ".lock"); err == nil {
		status = archive.SessionStatusActive
		endedAt = 0
	}

	sess := &archive.Session{
		SessionID:    sessionID,
		SessionKey:   sessionKey,
		SessionType:  sessionTypeFromKey(sessionKey),
		AgentID:      agentIDFromKey(sessionKey),
		Model:        meta.ModelID,
		StartedAt:    meta.FirstTimestamp,
		EndedAt:      endedAt,
		Status:       status,
		Title:        title,
		Summary:      summary,
		MessageCount: int64(meta.MessageCount),
		EventCount:   int64(meta.EventCount),
	}
	if _, err := s.store.UpsertSession(ctx, sess); err != nil {
		return fmt.Errorf("upsert session %s: %w", sessionID, err)
	}
	if err := s.store.RefreshSessionCounts(ctx, sessionID); err != nil {
		return err
	}
	res.SessionsUpdated++
	return nil
}

// enumerate walks the roots for *.jsonl files, skipping lock files and
// logs marked deleted. A root that does not exist is fine; failing to read
// every root is fatal.
func enumerate(roots []string) ([]logFile, error) {
	var files []logFile
	var readable int
	var lastErr error

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable subtree: skip it, keep walking.
				if path == root {
					return err
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			name := d.Name()
			if filepath.Ext(name) != ".jsonl" {
				return nil
			}
			if strings.Contains(name, ".deleted.") {
				return nil
			}
			files = append(files, logFile{path: path, root: root})
			return nil
		})
		switch {
		case err == nil:
			readable++
		case os.IsNotExist(err):
			readable++
		default:
			lastErr = err
		}
	}
	if readable == 0 && lastErr != nil {
		return nil, fmt.Errorf("cannot read scan roots: %w", lastErr)
	}
	return files, nil
}

func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// sessionKeyFromPath maps a log file's location to its colon-joined origin
// key: agents/<agent>/sessions → agent:<agent>:main,
// agents/<agent>/subagent/sessions → agent:<agent>:subagent,
// cron/runs → cron:runs. Unknown layouts fall back to joining the
// directory segments.
func sessionKeyFromPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	segments := strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/")

	if filepath.Base(root) == "runs" && filepath.Base(filepath.Dir(root)) == "cron" {
		return "cron:runs"
	}
	if filepath.Base(root) == "agents" && len(segments) >= 2 {
		agent := segments[0]
		if len(segments) >= 3 && segments[1] == "subagent" {
			return "agent:" + agent + ":subagent"
		}
		if segments[1] == "sessions" {
			return "agent:" + agent + ":main"
		}
	}

	joined := strings.Join(segments, ":")
	if joined == "" || joined == "." {
		return filepath.Base(root)
	}
	return joined
}

func sessionTypeFromKey(key string) string {
	switch {
	case strings.HasPrefix(key, "cron:"):
		return archive.SessionTypeCron
	case strings.HasSuffix(key, ":subagent"):
		return archive.SessionTypeSubagent
	case strings.HasPrefix(key, "imported:"):
		return archive.SessionTypeIsolated
	}
	return archive.SessionTypeMain
}

func agentIDFromKey(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) >= 2 && parts[0] == "agent" {
		return parts[1]
	}
	return ""
}
