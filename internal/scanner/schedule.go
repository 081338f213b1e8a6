package scanner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field cron expressions (minute, hour, dom,
// month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Schedule runs periodic scans in watch mode.
type Schedule struct {
	scanner *Scanner
	logger  *slog.Logger
	sched   cronlib.Schedule
	opts    Options

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSchedule parses spec and returns a periodic scan runner.
func NewSchedule(spec string, scanner *Scanner, opts Options, logger *slog.Logger) (*Schedule, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Schedule{
		scanner: scanner,
		logger:  logger,
		sched:   sched,
		opts:    opts,
	}, nil
}

// Start begins the schedule loop in a background goroutine.
func (s *Schedule) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scan schedule started", "next", s.sched.Next(time.Now()).Format(time.RFC3339))
}

// Stop cancels the loop and waits for it to exit.
func (s *Schedule) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scan schedule stopped")
}

func (s *Schedule) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		next := s.sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.scanner.Scan(ctx, s.opts); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduled scan failed", "error", err)
		}
	}
}
