// Package scheduler runs periodic incremental ingestions on a cron
// expression: each tick fetches the trailing lookback window for the
// configured countries.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"comtradepipe/internal/daterange"
	"comtradepipe/internal/pipeline"
)

type Scheduler struct {
	cron           *cron.Cron
	pipe           *pipeline.Pipeline
	countries      []string
	lookbackMonths int
	log            *slog.Logger
	ctx            context.Context
}

func New(ctx context.Context, pipe *pipeline.Pipeline, countries []string, lookbackMonths int, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if lookbackMonths <= 0 {
		lookbackMonths = 3
	}
	return &Scheduler{
		// A run that outlasts the cron interval must not overlap the next
		// tick; late ticks are skipped, not queued.
		cron:           cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log}))),
		pipe:           pipe,
		countries:      countries,
		lookbackMonths: lookbackMonths,
		log:            log,
		ctx:            ctx,
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Info(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}

// Register installs the incremental task under the given cron expression.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.incrementalRun); err != nil {
		return fmt.Errorf("register incremental task: %w", err)
	}
	return nil
}

// Start launches the cron loop; it returns immediately.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "lookback_months", s.lookbackMonths)
}

// Stop halts the cron loop and waits for a running task to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.log.Info("scheduler stopped")
}

// incrementalRun ingests the trailing lookback window ending at the current
// month. Overlap with already-stored observations is harmless: the bulk
// loader skips existing rows.
func (s *Scheduler) incrementalRun() {
	now := time.Now().UTC()
	end := daterange.FormatMonth(now)
	start := daterange.FormatMonth(now.AddDate(0, -(s.lookbackMonths - 1), 0))

	s.log.Info("scheduled incremental run", "start", start, "end", end)
	summary, err := s.pipe.Run(s.ctx, s.countries, start, end)
	if err != nil {
		s.log.Error("scheduled run failed", "error", err)
		return
	}
	if !summary.Success {
		s.log.Warn("scheduled run completed with issues", "run_id", summary.RunID)
	}
}
