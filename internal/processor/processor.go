// Package processor normalizes raw tariffline records into dimension-keyed
// rows. Dimension codes are resolved to surrogate keys through per-run
// memoized lookups against the store.
package processor

import (
	"context"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"comtradepipe/internal/model"
	"comtradepipe/internal/store"
)

const lookupCacheSize = 4096

// Processor converts raw API records into normalized rows. A Processor is
// scoped to one pipeline run; its lookup caches are not shared.
type Processor struct {
	store store.Store
	log   *slog.Logger

	reporterIDs  *lru.Cache[string, int64]
	partnerIDs   *lru.Cache[string, int64]
	commodityIDs *lru.Cache[string, int64]
	flowIDs      *lru.Cache[string, int64]
}

func New(st store.Store, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	reporters, _ := lru.New[string, int64](lookupCacheSize)
	partners, _ := lru.New[string, int64](lookupCacheSize)
	commodities, _ := lru.New[string, int64](lookupCacheSize)
	flows, _ := lru.New[string, int64](lookupCacheSize)
	return &Processor{
		store:        st,
		log:          log,
		reporterIDs:  reporters,
		partnerIDs:   partners,
		commodityIDs: commodities,
		flowIDs:      flows,
	}
}

// ExtractMetadata pulls the embedded dimension-label lists from a response.
// Any absent list yields an empty slice.
func (p *Processor) ExtractMetadata(resp *model.APIResponse) (reporters, partners, commodities, flows []model.RefEntry) {
	if resp == nil {
		return nil, nil, nil, nil
	}
	reporters = refEntries(resp.ReporterAreas)
	partners = refEntries(resp.PartnerAreas)
	commodities = refEntries(resp.CmdCodes)
	flows = refEntries(resp.FlowCodes)
	p.log.Info("extracted metadata",
		"reporters", len(reporters), "partners", len(partners),
		"commodities", len(commodities), "flows", len(flows))
	return reporters, partners, commodities, flows
}

func refEntries(rows []model.Record) []model.RefEntry {
	entries := make([]model.RefEntry, 0, len(rows))
	for _, row := range rows {
		code, okCode := row.String("id")
		label, okLabel := row.String("text")
		if !okCode || !okLabel {
			continue
		}
		entries = append(entries, model.RefEntry{Code: code, Label: label})
	}
	return entries
}

// StoreMetadata extracts and upserts every non-empty dimension list. All
// four are attempted even after a failure so partial progress is preserved;
// the return value is the logical AND of the attempted upserts.
func (p *Processor) StoreMetadata(ctx context.Context, resp *model.APIResponse) bool {
	reporters, partners, commodities, flows := p.ExtractMetadata(resp)

	success := true
	if len(reporters) > 0 {
		if err := p.store.UpsertReporters(ctx, reporters); err != nil {
			success = false
			p.log.Error("failed to store reporter metadata", "error", err)
		}
	}
	if len(partners) > 0 {
		if err := p.store.UpsertPartners(ctx, partners); err != nil {
			success = false
			p.log.Error("failed to store partner metadata", "error", err)
		}
	}
	if len(commodities) > 0 {
		if err := p.store.UpsertCommodities(ctx, commodities); err != nil {
			success = false
			p.log.Error("failed to store commodity metadata", "error", err)
		}
	}
	if len(flows) > 0 {
		if err := p.store.UpsertFlows(ctx, flows); err != nil {
			success = false
			p.log.Error("failed to store flow metadata", "error", err)
		}
	}
	return success
}

func (p *Processor) reporterID(ctx context.Context, code string) (int64, bool) {
	return p.lookup(ctx, p.reporterIDs, code, "reporter", p.store.ReporterID)
}

func (p *Processor) partnerID(ctx context.Context, code string) (int64, bool) {
	return p.lookup(ctx, p.partnerIDs, code, "partner", p.store.PartnerID)
}

func (p *Processor) commodityID(ctx context.Context, code string) (int64, bool) {
	return p.lookup(ctx, p.commodityIDs, code, "commodity", p.store.CommodityID)
}

func (p *Processor) flowID(ctx context.Context, code string) (int64, bool) {
	return p.lookup(ctx, p.flowIDs, code, "flow", p.store.FlowID)
}

// lookup resolves code to surrogate key through the memo cache, falling back
// to the store. A miss is logged and reported as absent, never an error.
func (p *Processor) lookup(ctx context.Context, cache *lru.Cache[string, int64], code, kind string,
	fetch func(context.Context, string) (int64, bool, error)) (int64, bool) {
	if code == "" {
		return 0, false
	}
	if id, ok := cache.Get(code); ok {
		return id, true
	}
	id, found, err := fetch(ctx, code)
	if err != nil {
		p.log.Error("dimension lookup failed", "kind", kind, "code", code, "error", err)
		return 0, false
	}
	if !found {
		p.log.Warn("dimension code not found", "kind", kind, "code", code)
		return 0, false
	}
	cache.Add(code, id)
	return id, true
}

// ParsePeriod parses a YYYYMM period string. Year must be within
// [1900, 2100] and month within [1, 12].
func (p *Processor) ParsePeriod(period string) (int, int, bool) {
	if len(period) != 6 {
		p.log.Warn("invalid period format", "period", period)
		return 0, 0, false
	}
	year, okYear := digits(period[:4])
	month, okMonth := digits(period[4:])
	if !okYear || !okMonth {
		p.log.Warn("could not parse period", "period", period)
		return 0, 0, false
	}
	if year < 1900 || year > 2100 || month < 1 || month > 12 {
		p.log.Warn("period out of range", "period", period)
		return 0, 0, false
	}
	return year, month, true
}

func digits(value string) (int, bool) {
	n := 0
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// ProcessRecord normalizes one raw record. A record whose dimension codes
// cannot all be resolved, or whose period is invalid, is dropped.
func (p *Processor) ProcessRecord(ctx context.Context, rec model.Record, sourceID string) *model.TarifflineRow {
	if len(rec) == 0 {
		return nil
	}

	reporterCode, _ := rec.String("reporterCode")
	partnerCode, _ := rec.String("partnerCode")
	commodityCode, _ := rec.String("cmdCode")
	flowCode, _ := rec.String("flowCode")

	reporterID, okReporter := p.reporterID(ctx, reporterCode)
	partnerID, okPartner := p.partnerID(ctx, partnerCode)
	commodityID, okCommodity := p.commodityID(ctx, commodityCode)
	flowID, okFlow := p.flowID(ctx, flowCode)

	if !okReporter || !okPartner || !okCommodity || !okFlow {
		missing := make([]string, 0, 4)
		if !okReporter {
			missing = append(missing, "reporter="+reporterCode)
		}
		if !okPartner {
			missing = append(missing, "partner="+partnerCode)
		}
		if !okCommodity {
			missing = append(missing, "commodity="+commodityCode)
		}
		if !okFlow {
			missing = append(missing, "flow="+flowCode)
		}
		p.log.Warn("record rejected, unresolved dimensions", "missing", strings.Join(missing, ", "))
		return nil
	}

	period, _ := rec.String("period")
	year, month, ok := p.ParsePeriod(period)
	if !ok {
		return nil
	}

	row := &model.TarifflineRow{
		ReporterID:  reporterID,
		PartnerID:   partnerID,
		CommodityID: commodityID,
		FlowID:      flowID,
		Period:      period,
		Year:        year,
		Month:       month,
		SourceID:    sourceID,
	}
	row.NetWeight = floatField(rec, "netWgt")
	row.Quantity = floatField(rec, "qty")
	row.QtyUnit = stringField(rec, "qtyUnit")
	row.QtyUnitCode = stringField(rec, "qtyUnitCode")
	row.AltQty = floatField(rec, "altQty")
	row.AltQtyUnitCode = stringField(rec, "altQtyUnitCode")
	row.TradeValue = floatField(rec, "primaryValue")
	row.Flag = intField(rec, "flag")
	row.IsReporterEstimate = boolField(rec, "isReporterEstimate")
	row.Customs = floatField(rec, "customs")
	row.GrossWeight = floatField(rec, "grossWgt")
	row.CIFValue = floatField(rec, "cifvalue")
	row.FOBValue = floatField(rec, "fobvalue")
	return row
}

// ProcessResponse normalizes every record in the response. Metadata is
// stored first, best-effort; per-record failures are counted and logged but
// never abort the batch.
func (p *Processor) ProcessResponse(ctx context.Context, resp *model.APIResponse, sourceID string) ([]model.TarifflineRow, int) {
	if !resp.HasData() {
		p.log.Warn("api response contains no data")
		return nil, 0
	}

	if !p.StoreMetadata(ctx, resp) {
		p.log.Warn("some metadata could not be stored")
	}

	p.log.Info("processing raw records", "count", len(resp.Data))
	rows := make([]model.TarifflineRow, 0, len(resp.Data))
	rejected := 0
	for _, rec := range resp.Data {
		row := p.ProcessRecord(ctx, rec, sourceID)
		if row == nil {
			rejected++
			continue
		}
		rows = append(rows, *row)
	}
	if rejected > 0 {
		p.log.Warn("rejected records during processing", "rejected", rejected)
	}
	p.log.Info("processed records", "ok", len(rows), "rejected", rejected)
	return rows, rejected
}

func floatField(rec model.Record, key string) *float64 {
	if v, ok := rec.Float(key); ok {
		return &v
	}
	return nil
}

func intField(rec model.Record, key string) *int64 {
	if v, ok := rec.Int(key); ok {
		return &v
	}
	return nil
}

func boolField(rec model.Record, key string) *bool {
	if v, ok := rec.Bool(key); ok {
		return &v
	}
	return nil
}

func stringField(rec model.Record, key string) *string {
	if v, ok := rec.String(key); ok {
		return &v
	}
	return nil
}
