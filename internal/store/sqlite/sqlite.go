package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"comtradepipe/internal/model"
	"comtradepipe/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.InitSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema creates the dimension tables, the fact table and the import
// log. All statements are idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS reporters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reporter_code TEXT UNIQUE NOT NULL,
			reporter_name TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
		`CREATE TABLE IF NOT EXISTS partners (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			partner_code TEXT UNIQUE NOT NULL,
			partner_name TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
		`CREATE TABLE IF NOT EXISTS commodities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			commodity_code TEXT UNIQUE NOT NULL,
			commodity_description TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
		`CREATE TABLE IF NOT EXISTS flows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			flow_code TEXT UNIQUE NOT NULL,
			flow_desc TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
		`CREATE TABLE IF NOT EXISTS tariffline_data (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reporter_id INTEGER NOT NULL REFERENCES reporters(id),
			partner_id INTEGER NOT NULL REFERENCES partners(id),
			commodity_id INTEGER NOT NULL REFERENCES commodities(id),
			flow_id INTEGER NOT NULL REFERENCES flows(id),
			period TEXT NOT NULL,
			year INTEGER NOT NULL,
			month INTEGER NOT NULL,
			net_weight REAL,
			quantity REAL,
			qty_unit TEXT,
			qty_unit_code TEXT,
			alt_qty REAL,
			alt_qty_unit_code TEXT,
			trade_value REAL,
			flag INTEGER,
			is_reporter_estimate INTEGER,
			customs REAL,
			gross_weight REAL,
			cif_value REAL,
			fob_value REAL,
			source_file TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(reporter_id, partner_id, commodity_id, flow_id, period)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tariffline_reporter ON tariffline_data(reporter_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tariffline_partner ON tariffline_data(partner_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tariffline_commodity ON tariffline_data(commodity_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tariffline_period ON tariffline_data(period);`,
		`CREATE INDEX IF NOT EXISTS idx_tariffline_year_month ON tariffline_data(year, month);`,
		`CREATE TABLE IF NOT EXISTS import_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			reporter_code TEXT NOT NULL,
			start_period TEXT NOT NULL,
			end_period TEXT NOT NULL,
			records_processed INTEGER NOT NULL DEFAULT 0,
			records_inserted INTEGER NOT NULL DEFAULT 0,
			records_skipped INTEGER NOT NULL DEFAULT 0,
			api_calls INTEGER NOT NULL DEFAULT 0,
			cache_hits INTEGER NOT NULL DEFAULT 0,
			duration_seconds REAL,
			status TEXT NOT NULL,
			error_message TEXT,
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("sqlite: init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) UpsertReporters(ctx context.Context, entries []model.RefEntry) error {
	return s.upsertDimension(ctx, "reporters", "reporter_code", "reporter_name", entries)
}

func (s *Store) UpsertPartners(ctx context.Context, entries []model.RefEntry) error {
	return s.upsertDimension(ctx, "partners", "partner_code", "partner_name", entries)
}

func (s *Store) UpsertCommodities(ctx context.Context, entries []model.RefEntry) error {
	return s.upsertDimension(ctx, "commodities", "commodity_code", "commodity_description", entries)
}

func (s *Store) UpsertFlows(ctx context.Context, entries []model.RefEntry) error {
	return s.upsertDimension(ctx, "flows", "flow_code", "flow_desc", entries)
}

func (s *Store) upsertDimension(ctx context.Context, table, codeCol, nameCol string, entries []model.RefEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s) VALUES (?, ?)
		ON CONFLICT(%s) DO UPDATE SET %s = excluded.%s, updated_at = datetime('now')
	`, table, codeCol, nameCol, codeCol, nameCol, nameCol)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, entry := range entries {
		if entry.Code == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, entry.Code, entry.Label); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: upsert %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ReporterID(ctx context.Context, code string) (int64, bool, error) {
	return s.dimensionID(ctx, "reporters", "reporter_code", code)
}

func (s *Store) PartnerID(ctx context.Context, code string) (int64, bool, error) {
	return s.dimensionID(ctx, "partners", "partner_code", code)
}

func (s *Store) CommodityID(ctx context.Context, code string) (int64, bool, error) {
	return s.dimensionID(ctx, "commodities", "commodity_code", code)
}

func (s *Store) FlowID(ctx context.Context, code string) (int64, bool, error) {
	return s.dimensionID(ctx, "flows", "flow_code", code)
}

func (s *Store) dimensionID(ctx context.Context, table, codeCol, code string) (int64, bool, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE %s = ?`, table, codeCol)
	var id int64
	err := s.db.QueryRowContext(ctx, query, code).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: lookup %s: %w", table, err)
	}
	return id, true, nil
}

// BulkInsertFacts loads normalized rows with insert-or-ignore semantics on
// the natural key tuple. Re-inserting an existing observation is a skip, not
// a duplicate.
func (s *Store) BulkInsertFacts(ctx context.Context, rows []model.TarifflineRow, sourceID string) (int, int, error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO tariffline_data (
			reporter_id, partner_id, commodity_id, flow_id,
			period, year, month,
			net_weight, quantity, qty_unit, qty_unit_code,
			alt_qty, alt_qty_unit_code, trade_value, flag,
			is_reporter_estimate, customs, gross_weight,
			cif_value, fob_value, source_file
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return 0, 0, err
	}
	defer stmt.Close()

	inserted := 0
	for i := range rows {
		row := rows[i]
		source := row.SourceID
		if source == "" {
			source = sourceID
		}
		res, err := stmt.ExecContext(ctx,
			row.ReporterID, row.PartnerID, row.CommodityID, row.FlowID,
			row.Period, row.Year, row.Month,
			row.NetWeight, row.Quantity, row.QtyUnit, row.QtyUnitCode,
			row.AltQty, row.AltQtyUnitCode, row.TradeValue, row.Flag,
			row.IsReporterEstimate, row.Customs, row.GrossWeight,
			row.CIFValue, row.FOBValue, source,
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, 0, fmt.Errorf("sqlite: insert fact: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return 0, 0, err
		}
		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return inserted, len(rows) - inserted, nil
}

func (s *Store) LogImport(ctx context.Context, entry store.ImportLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_logs (
			run_id, reporter_code, start_period, end_period,
			records_processed, records_inserted, records_skipped,
			api_calls, cache_hits, duration_seconds, status,
			error_message, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.RunID, entry.ReporterCode, entry.StartPeriod, entry.EndPeriod,
		entry.RecordsProcessed, entry.RecordsInserted, entry.RecordsSkipped,
		entry.APICalls, entry.CacheHits, entry.Duration.Seconds(), entry.Status,
		nullable(entry.ErrorMessage), timestamp(entry.StartedAt), timestamp(entry.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: log import: %w", err)
	}
	return nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func timestamp(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

var _ store.Store = (*Store)(nil)
