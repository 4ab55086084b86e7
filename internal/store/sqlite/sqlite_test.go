package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comtradepipe/internal/model"
	"comtradepipe/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedDimensions(t *testing.T, s *Store) (reporterID, partnerID, commodityID, flowID int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertReporters(ctx, []model.RefEntry{{Code: "276", Label: "Germany"}}))
	require.NoError(t, s.UpsertPartners(ctx, []model.RefEntry{{Code: "124", Label: "Canada"}}))
	require.NoError(t, s.UpsertCommodities(ctx, []model.RefEntry{{Code: "TOTAL", Label: "All commodities"}}))
	require.NoError(t, s.UpsertFlows(ctx, []model.RefEntry{{Code: "M", Label: "Import"}}))

	var found bool
	var err error
	reporterID, found, err = s.ReporterID(ctx, "276")
	require.NoError(t, err)
	require.True(t, found)
	partnerID, found, err = s.PartnerID(ctx, "124")
	require.NoError(t, err)
	require.True(t, found)
	commodityID, found, err = s.CommodityID(ctx, "TOTAL")
	require.NoError(t, err)
	require.True(t, found)
	flowID, found, err = s.FlowID(ctx, "M")
	require.NoError(t, err)
	require.True(t, found)
	return reporterID, partnerID, commodityID, flowID
}

func testRow(reporterID, partnerID, commodityID, flowID int64, period string) model.TarifflineRow {
	value := 1234.5
	return model.TarifflineRow{
		ReporterID:  reporterID,
		PartnerID:   partnerID,
		CommodityID: commodityID,
		FlowID:      flowID,
		Period:      period,
		Year:        2022,
		Month:       1,
		TradeValue:  &value,
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InitSchema(context.Background()))
	require.NoError(t, s.InitSchema(context.Background()))
}

func TestUpsertDimension_InsertThenUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertReporters(ctx, []model.RefEntry{{Code: "276", Label: "Germany"}}))
	id1, found, err := s.ReporterID(ctx, "276")
	require.NoError(t, err)
	require.True(t, found)

	// Re-upserting the same code keeps the surrogate key and replaces the name.
	require.NoError(t, s.UpsertReporters(ctx, []model.RefEntry{{Code: "276", Label: "Deutschland"}}))
	id2, found, err := s.ReporterID(ctx, "276")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id1, id2)

	var name string
	require.NoError(t, s.db.QueryRow(`SELECT reporter_name FROM reporters WHERE reporter_code = ?`, "276").Scan(&name))
	assert.Equal(t, "Deutschland", name)
}

func TestDimensionID_Absent(t *testing.T) {
	s := newTestStore(t)
	_, found, err := s.PartnerID(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBulkInsertFacts_InsertOrIgnore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reporterID, partnerID, commodityID, flowID := seedDimensions(t, s)

	rows := []model.TarifflineRow{
		testRow(reporterID, partnerID, commodityID, flowID, "202201"),
		testRow(reporterID, partnerID, commodityID, flowID, "202202"),
	}

	inserted, skipped, err := s.BulkInsertFacts(ctx, rows, "src_1")
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.Equal(t, 0, skipped)

	// Re-ingesting the same logical observations is a no-op.
	inserted, skipped, err = s.BulkInsertFacts(ctx, rows, "src_1")
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, 2, skipped)

	// A mixed batch only inserts the genuinely new row.
	rows = append(rows, testRow(reporterID, partnerID, commodityID, flowID, "202203"))
	inserted, skipped, err = s.BulkInsertFacts(ctx, rows, "src_1")
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 2, skipped)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM tariffline_data`).Scan(&count))
	assert.Equal(t, 3, count)
}

func TestBulkInsertFacts_Empty(t *testing.T) {
	s := newTestStore(t)
	inserted, skipped, err := s.BulkInsertFacts(context.Background(), nil, "src")
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Zero(t, skipped)
}

func TestBulkInsertFacts_NullableMeasures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reporterID, partnerID, commodityID, flowID := seedDimensions(t, s)

	row := testRow(reporterID, partnerID, commodityID, flowID, "202201")
	row.TradeValue = nil
	row.NetWeight = nil

	inserted, _, err := s.BulkInsertFacts(ctx, []model.TarifflineRow{row}, "src")
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	var tradeValue *float64
	require.NoError(t, s.db.QueryRow(`SELECT trade_value FROM tariffline_data`).Scan(&tradeValue))
	assert.Nil(t, tradeValue)
}

func TestLogImport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := store.ImportLog{
		RunID:            "run-1",
		ReporterCode:     "276",
		StartPeriod:      "202201",
		EndPeriod:        "202203",
		RecordsProcessed: 10,
		RecordsInserted:  8,
		RecordsSkipped:   2,
		APICalls:         1,
		Duration:         1500 * time.Millisecond,
		Status:           "SUCCESS",
		StartedAt:        time.Now().Add(-2 * time.Second),
		CompletedAt:      time.Now(),
	}
	require.NoError(t, s.LogImport(ctx, entry))

	var status string
	var duration float64
	require.NoError(t, s.db.QueryRow(`SELECT status, duration_seconds FROM import_logs WHERE run_id = ?`, "run-1").
		Scan(&status, &duration))
	assert.Equal(t, "SUCCESS", status)
	assert.InDelta(t, 1.5, duration, 0.001)
}
