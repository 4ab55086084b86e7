// Package pipeline orchestrates the ingestion run: split the requested
// period, consult the cache, fall back to the API client, normalize and
// persist, and accumulate run statistics.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"comtradepipe/internal/cache"
	"comtradepipe/internal/comtrade"
	"comtradepipe/internal/daterange"
	"comtradepipe/internal/model"
	"comtradepipe/internal/processor"
	"comtradepipe/internal/store"
)

// Stats are the process-scoped counters for one run, reset at run start.
type Stats struct {
	TotalCalls       int
	CacheHits        int
	APICalls         int
	FailedCalls      int
	ProcessedRecords int
	StoredRecords    int
	SkippedRecords   int
}

// Summary is the run-level report produced for external consumers.
type Summary struct {
	RunID     string
	Countries []string
	StartDate string
	EndDate   string
	Stats     Stats
	Duration  time.Duration
	Success   bool
}

type Config struct {
	Countries     []string // full configured country list
	MonthsPerCall int
	Pause         time.Duration // pause after each sub-range
}

// Pipeline processes countries and sub-ranges strictly one at a time. Runs
// are serialized by runMu, so a scheduled run overlapping a manual one waits
// instead of interleaving stats.
type Pipeline struct {
	cfg    Config
	client *comtrade.Client
	cache  *cache.Cache
	store  store.Store
	proc   *processor.Processor
	log    *slog.Logger

	runMu sync.Mutex
	stats Stats
}

func New(cfg Config, client *comtrade.Client, c *cache.Cache, st store.Store, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MonthsPerCall <= 0 {
		cfg.MonthsPerCall = 3
	}
	if cfg.Pause < 0 {
		cfg.Pause = 0
	}
	return &Pipeline{
		cfg:    cfg,
		client: client,
		cache:  c,
		store:  st,
		proc:   processor.New(st, log),
		log:    log,
	}
}

// Run processes every requested country over [startDate, endDate] (YYYY-MM).
// countries may be explicit codes or the single element "all". Failures
// downgrade the run to unsuccessful but never abort remaining work.
func (p *Pipeline) Run(ctx context.Context, countries []string, startDate, endDate string) (Summary, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	started := time.Now()
	p.stats = Stats{}

	summary := Summary{
		RunID:     uuid.NewString(),
		StartDate: startDate,
		EndDate:   endDate,
	}

	if err := p.store.InitSchema(ctx); err != nil {
		return summary, fmt.Errorf("pipeline: init schema: %w", err)
	}

	targets := p.resolveCountries(countries)
	if len(targets) == 0 {
		return summary, fmt.Errorf("pipeline: no valid countries to process")
	}
	summary.Countries = targets

	ranges, err := daterange.Split(startDate, endDate, p.cfg.MonthsPerCall)
	if err != nil {
		return summary, err
	}

	p.log.Info("starting pipeline run",
		"run_id", summary.RunID, "countries", len(targets),
		"start", startDate, "end", endDate, "sub_ranges", len(ranges))

	success := true
	for i, country := range targets {
		p.log.Info("processing country", "country", country, "index", i+1, "total", len(targets))
		if !p.processReporter(ctx, summary.RunID, country, ranges) {
			success = false
			p.log.Warn("problems encountered while processing country", "country", country)
		}
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
	}

	summary.Stats = p.stats
	summary.Duration = time.Since(started)
	summary.Success = success
	p.logSummary(summary)
	return summary, nil
}

// Stats returns a copy of the counters from the most recent run.
func (p *Pipeline) Stats() Stats {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.stats
}

func (p *Pipeline) resolveCountries(requested []string) []string {
	if len(requested) == 1 && strings.EqualFold(requested[0], "all") {
		return append([]string(nil), p.cfg.Countries...)
	}
	known := make(map[string]struct{}, len(p.cfg.Countries))
	for _, code := range p.cfg.Countries {
		known[code] = struct{}{}
	}
	targets := make([]string, 0, len(requested))
	for _, code := range requested {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if _, ok := known[code]; !ok {
			p.log.Warn("ignoring unknown country code", "code", code)
			continue
		}
		targets = append(targets, code)
	}
	return targets
}

// processReporter runs every sub-range for one country. Each failed
// sub-range is recorded and the loop continues.
func (p *Pipeline) processReporter(ctx context.Context, runID, country string, ranges []daterange.Range) bool {
	success := true
	for i, r := range ranges {
		p.log.Info("processing date range",
			"country", country, "range", fmt.Sprintf("%d/%d", i+1, len(ranges)),
			"start", r.Start, "end", r.End)

		if !p.processRange(ctx, runID, country, r) {
			success = false
		}
		if ctx.Err() != nil {
			return success
		}
		if p.cfg.Pause > 0 {
			p.sleep(ctx, p.cfg.Pause)
		}
	}
	return success
}

func (p *Pipeline) processRange(ctx context.Context, runID, country string, r daterange.Range) bool {
	rangeStart := time.Now()
	data, ok := p.fetchData(ctx, country, r)
	if !ok {
		p.log.Error("failed to fetch data", "country", country, "start", r.Start, "end", r.End)
		return false
	}

	// An empty response leaves no audit row; there was no import to record.
	if !data.HasData() {
		p.log.Warn("no data available", "country", country, "start", r.Start, "end", r.End)
		return false
	}

	stored, inserted, skipped, processed, errMsg := p.processAndStore(ctx, data, country, r)

	status := "FAILED"
	switch {
	case inserted > 0:
		status = "SUCCESS"
	case skipped > 0:
		status = "PARTIAL"
	}
	if err := p.store.LogImport(ctx, store.ImportLog{
		RunID:            runID,
		ReporterCode:     country,
		StartPeriod:      daterange.Compact(r.Start),
		EndPeriod:        daterange.Compact(r.End),
		RecordsProcessed: processed,
		RecordsInserted:  inserted,
		RecordsSkipped:   skipped,
		APICalls:         p.stats.APICalls,
		CacheHits:        p.stats.CacheHits,
		Duration:         time.Since(rangeStart),
		Status:           status,
		ErrorMessage:     errMsg,
		StartedAt:        rangeStart,
		CompletedAt:      time.Now(),
	}); err != nil {
		p.log.Warn("failed to log import operation", "error", err)
	}

	if !stored {
		p.log.Warn("no data stored for range", "country", country, "start", r.Start, "end", r.End)
	}
	return stored
}

// fetchData consults the cache first, then the API client, saving fresh
// responses back into the cache.
func (p *Pipeline) fetchData(ctx context.Context, country string, r daterange.Range) (*model.APIResponse, bool) {
	req := comtrade.FetchRequest{
		ReporterCode: country,
		PeriodStart:  daterange.Compact(r.Start),
		PeriodEnd:    daterange.Compact(r.End),
	}
	params := p.client.Params(req)

	if data, hit := p.cache.Get(params); hit {
		p.log.Info("cache hit", "country", country, "start", r.Start, "end", r.End)
		p.stats.CacheHits++
		p.stats.TotalCalls++
		return data, true
	}

	p.log.Info("cache miss, fetching from api", "country", country, "start", r.Start, "end", r.End)
	data, err := p.client.Fetch(ctx, req)
	p.stats.APICalls++
	p.stats.TotalCalls++
	if err != nil {
		p.stats.FailedCalls++
		p.log.Error("api fetch failed", "country", country, "error", err)
		return nil, false
	}

	p.cache.Save(params, data)
	return data, true
}

// processAndStore normalizes and persists one non-empty response. A sub-range
// counts as successful only when at least one row was newly stored; an
// all-skips outcome is reported as failed for the sub-range without aborting
// the run. errMsg carries the failure reason for the audit row.
func (p *Pipeline) processAndStore(ctx context.Context, data *model.APIResponse, country string, r daterange.Range) (ok bool, inserted, skipped, processed int, errMsg string) {
	sourceID := fmt.Sprintf("%s_%s_%s", country, daterange.Compact(r.Start), daterange.Compact(r.End))
	rows, _ := p.proc.ProcessResponse(ctx, data, sourceID)
	if len(rows) == 0 {
		p.log.Warn("no valid records", "country", country, "start", r.Start, "end", r.End)
		return false, 0, 0, 0, "no valid records in response"
	}
	p.stats.ProcessedRecords += len(rows)

	inserted, skipped, err := p.store.BulkInsertFacts(ctx, rows, sourceID)
	if err != nil {
		p.log.Error("bulk insert failed", "country", country, "error", err)
		return false, 0, 0, len(rows), err.Error()
	}
	p.stats.StoredRecords += inserted
	p.stats.SkippedRecords += skipped

	return inserted > 0, inserted, skipped, len(rows), ""
}

func (p *Pipeline) logSummary(s Summary) {
	level := slog.LevelInfo
	if !s.Success {
		level = slog.LevelWarn
	}
	p.log.Log(context.Background(), level, "pipeline run complete",
		"run_id", s.RunID,
		"success", s.Success,
		"duration", s.Duration,
		"total_calls", s.Stats.TotalCalls,
		"cache_hits", s.Stats.CacheHits,
		"api_calls", s.Stats.APICalls,
		"failed_calls", s.Stats.FailedCalls,
		"processed_records", s.Stats.ProcessedRecords,
		"stored_records", s.Stats.StoredRecords,
		"skipped_records", s.Stats.SkippedRecords,
	)
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
