package store

import (
	"context"
	"time"

	"comtradepipe/internal/model"
)

// ImportLog records one ingestion operation for auditability. Writing it is
// best-effort; a failed log row never fails the run.
type ImportLog struct {
	RunID            string
	ReporterCode     string
	StartPeriod      string // YYYYMM
	EndPeriod        string // YYYYMM
	RecordsProcessed int
	RecordsInserted  int
	RecordsSkipped   int
	APICalls         int
	CacheHits        int
	Duration         time.Duration
	Status           string // SUCCESS, PARTIAL or FAILED
	ErrorMessage     string
	StartedAt        time.Time
	CompletedAt      time.Time
}

// Store is the durable backend consumed by the processor and the pipeline.
// Dimension upserts are idempotent; BulkInsertFacts has insert-or-ignore
// semantics on the natural key tuple (reporter, partner, commodity, flow,
// period).
type Store interface {
	InitSchema(ctx context.Context) error

	UpsertReporters(ctx context.Context, entries []model.RefEntry) error
	UpsertPartners(ctx context.Context, entries []model.RefEntry) error
	UpsertCommodities(ctx context.Context, entries []model.RefEntry) error
	UpsertFlows(ctx context.Context, entries []model.RefEntry) error

	ReporterID(ctx context.Context, code string) (int64, bool, error)
	PartnerID(ctx context.Context, code string) (int64, bool, error)
	CommodityID(ctx context.Context, code string) (int64, bool, error)
	FlowID(ctx context.Context, code string) (int64, bool, error)

	BulkInsertFacts(ctx context.Context, rows []model.TarifflineRow, sourceID string) (inserted, skipped int, err error)
	LogImport(ctx context.Context, entry ImportLog) error

	Close() error
}

// NopStore discards everything. Useful for dry runs and as a test double.
type NopStore struct{}

func (s *NopStore) InitSchema(ctx context.Context) error { return nil }

func (s *NopStore) UpsertReporters(ctx context.Context, entries []model.RefEntry) error { return nil }

func (s *NopStore) UpsertPartners(ctx context.Context, entries []model.RefEntry) error { return nil }

func (s *NopStore) UpsertCommodities(ctx context.Context, entries []model.RefEntry) error {
	return nil
}

func (s *NopStore) UpsertFlows(ctx context.Context, entries []model.RefEntry) error { return nil }

func (s *NopStore) ReporterID(ctx context.Context, code string) (int64, bool, error) {
	return 0, false, nil
}

func (s *NopStore) PartnerID(ctx context.Context, code string) (int64, bool, error) {
	return 0, false, nil
}

func (s *NopStore) CommodityID(ctx context.Context, code string) (int64, bool, error) {
	return 0, false, nil
}

func (s *NopStore) FlowID(ctx context.Context, code string) (int64, bool, error) {
	return 0, false, nil
}

func (s *NopStore) BulkInsertFacts(ctx context.Context, rows []model.TarifflineRow, sourceID string) (int, int, error) {
	return 0, 0, nil
}

func (s *NopStore) LogImport(ctx context.Context, entry ImportLog) error { return nil }

func (s *NopStore) Close() error { return nil }

var _ Store = (*NopStore)(nil)
