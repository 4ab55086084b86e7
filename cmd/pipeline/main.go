package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"comtradepipe/internal/cache"
	"comtradepipe/internal/comtrade"
	"comtradepipe/internal/config"
	"comtradepipe/internal/pipeline"
	"comtradepipe/internal/scheduler"
	"comtradepipe/internal/store"
	"comtradepipe/internal/store/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runCmd(os.Args[2:])
	case "init-db":
		initDBCmd(os.Args[2:])
	case "clear-cache":
		clearCacheCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pipeline <command> [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  run          fetch and store tariffline data for a period")
	fmt.Fprintln(os.Stderr, "  init-db      initialize the database schema and exit")
	fmt.Fprintln(os.Stderr, "  clear-cache  remove cached responses")
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	countries := fs.String("countries", "all", `comma-separated country codes or "all"`)
	startDate := fs.String("start", "", "start date in YYYY-MM format")
	endDate := fs.String("end", "", "end date in YYYY-MM format")
	dbPath := fs.String("db", "", "sqlite database path (overrides config)")
	schedule := fs.String("schedule", "", "cron expression for periodic incremental runs")
	clearCache := fs.Bool("clear-cache", false, "clear the cache before running")
	cacheDays := fs.Int("cache-days", -1, "with -clear-cache, only clear entries older than this many days")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	fs.Parse(args)

	log := newLogger(*verbose)

	if *schedule == "" && (*startDate == "" || *endDate == "") {
		fmt.Fprintln(os.Stderr, "run: -start and -end are required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(log, "load config", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	client, err := comtrade.New(comtrade.Config{
		BaseURL:        cfg.API.BaseURL,
		PrimaryKey:     cfg.API.PrimaryKey,
		SecondaryKey:   cfg.API.SecondaryKey,
		DailyLimit:     cfg.API.DailyLimit,
		RecordLimit:    cfg.API.RecordLimit,
		MaxRetries:     cfg.API.MaxRetries,
		BaseRetryDelay: cfg.RetryDelay(),
		TypeCode:       cfg.Comtrade.TypeCode,
		Frequency:      cfg.Comtrade.Frequency,
		Classification: cfg.Comtrade.Classification,
		FlowCode:       cfg.Comtrade.FlowCode,
	}, log)
	if err != nil {
		fatal(log, "create api client", err)
	}

	responseCache, err := cache.New(cache.Config{
		Dir:     cfg.Cache.Dir,
		Enabled: cfg.CacheEnabled(),
		TTLDays: cfg.Cache.TTLDays,
	}, log)
	if err != nil {
		fatal(log, "create cache", err)
	}
	if *clearCache {
		removed := responseCache.Clear(*cacheDays)
		log.Info("cache cleared before run", "removed", removed)
	}

	st, err := openStore(cfg.Database.Path)
	if err != nil {
		fatal(log, "open store", err)
	}
	defer st.Close()

	pipe := pipeline.New(pipeline.Config{
		Countries:     cfg.Countries,
		MonthsPerCall: cfg.Comtrade.MonthsPerCall,
		Pause:         cfg.Pause(),
	}, client, responseCache, st, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *schedule != "" {
		sched := scheduler.New(ctx, pipe, parseList(*countries), cfg.Schedule.LookbackMonths, log)
		if err := sched.Register(*schedule); err != nil {
			fatal(log, "register schedule", err)
		}
		sched.Start()
		<-ctx.Done()
		sched.Stop()
		return
	}

	summary, err := pipe.Run(ctx, parseList(*countries), *startDate, *endDate)
	if err != nil {
		fatal(log, "pipeline run", err)
	}
	printSummary(summary)
	if !summary.Success {
		os.Exit(1)
	}
}

func initDBCmd(args []string) {
	fs := flag.NewFlagSet("init-db", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	dbPath := fs.String("db", "", "sqlite database path (overrides config)")
	fs.Parse(args)

	log := newLogger(false)
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(log, "load config", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	st, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		fatal(log, "init database", err)
	}
	defer st.Close()
	log.Info("database schema initialized", "path", cfg.Database.Path)
}

func clearCacheCmd(args []string) {
	fs := flag.NewFlagSet("clear-cache", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	days := fs.Int("days", -1, "only clear entries older than this many days (-1 = all)")
	fs.Parse(args)

	log := newLogger(false)
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(log, "load config", err)
	}

	responseCache, err := cache.New(cache.Config{
		Dir:     cfg.Cache.Dir,
		Enabled: true,
		TTLDays: cfg.Cache.TTLDays,
	}, log)
	if err != nil {
		fatal(log, "create cache", err)
	}
	removed := responseCache.Clear(*days)
	fmt.Printf("cleared %d cache entries\n", removed)
}

func openStore(path string) (store.Store, error) {
	if strings.TrimSpace(path) == "" {
		return &store.NopStore{}, nil
	}
	return sqlite.New(path)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func parseList(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printSummary(s pipeline.Summary) {
	fmt.Printf("pipeline run %s complete (success=%t duration=%s)\n",
		s.RunID, s.Success, s.Duration.Round(time.Millisecond))
	fmt.Printf("  countries=%d period=%s..%s\n", len(s.Countries), s.StartDate, s.EndDate)
	fmt.Printf("  calls total=%d api=%d cache=%d failed=%d\n",
		s.Stats.TotalCalls, s.Stats.APICalls, s.Stats.CacheHits, s.Stats.FailedCalls)
	fmt.Printf("  records processed=%d stored=%d skipped=%d\n",
		s.Stats.ProcessedRecords, s.Stats.StoredRecords, s.Stats.SkippedRecords)
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
