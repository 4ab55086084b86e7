package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// SecretParam is the request parameter carrying the API credential. It is
// added by the client at request time and must never reach the cache key.
const SecretParam = "subscription-key"

// Params holds the query parameters of one upstream request, keyed by the
// Comtrade query names (reporterCode, period, cmdCode, ...).
type Params map[string]string

func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Record is one raw row as returned by the upstream service. Field names and
// value types vary between datasets, so access goes through the permissive
// accessors below.
type Record map[string]any

// APIResponse is the decoded upstream payload: the data collection plus the
// optional embedded dimension-label lists.
type APIResponse struct {
	Data          []Record  `json:"data"`
	ReporterAreas []Record  `json:"reporterAreas,omitempty"`
	PartnerAreas  []Record  `json:"partnerAreas,omitempty"`
	CmdCodes      []Record  `json:"cmdCodes,omitempty"`
	FlowCodes     []Record  `json:"flowCodes,omitempty"`
	Error         *APIError `json:"error,omitempty"`
}

// HasData reports whether the payload carries a non-empty data collection.
func (r *APIResponse) HasData() bool {
	return r != nil && len(r.Data) > 0
}

// APIError is the upstream error descriptor. The service returns either a
// bare string or an object with a message field.
type APIError struct {
	Message string `json:"message"`
}

func (e *APIError) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Message = s
		return nil
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		e.Message = strings.TrimSpace(string(data))
		return nil
	}
	e.Message = obj.Message
	return nil
}

// IsRateLimit reports whether the error looks like an upstream rate-limit
// signal, which triggers key rotation instead of plain backoff.
func (e *APIError) IsRateLimit() bool {
	return e != nil && strings.Contains(strings.ToLower(e.Message), "rate limit")
}

// RefEntry is a code/label pair extracted from an embedded reference list.
type RefEntry struct {
	Code  string
	Label string
}

// TarifflineRow is one normalized trade observation. Dimension fields are
// surrogate keys resolved against the store; optional measures are nil when
// the source value was missing or unparseable.
type TarifflineRow struct {
	ReporterID  int64
	PartnerID   int64
	CommodityID int64
	FlowID      int64

	Period string
	Year   int
	Month  int

	NetWeight          *float64
	Quantity           *float64
	QtyUnit            *string
	QtyUnitCode        *string
	AltQty             *float64
	AltQtyUnitCode     *string
	TradeValue         *float64
	Flag               *int64
	IsReporterEstimate *bool
	Customs            *float64
	GrossWeight        *float64
	CIFValue           *float64
	FOBValue           *float64

	SourceID string
}

// String returns the first present key as a trimmed string. Numeric values
// are formatted; empty strings count as absent.
func (r Record) String(keys ...string) (string, bool) {
	value, ok := r.value(keys...)
	if !ok {
		return "", false
	}
	switch typed := value.(type) {
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return "", false
		}
		return trimmed, true
	case json.Number:
		return typed.String(), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32), true
	case int:
		return strconv.Itoa(typed), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	case uint64:
		return strconv.FormatUint(typed, 10), true
	default:
		return "", false
	}
}

// Float returns the first present key coerced to float64.
func (r Record) Float(keys ...string) (float64, bool) {
	value, ok := r.value(keys...)
	if !ok {
		return 0, false
	}
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Int returns the first present key coerced to int64. Fractional floats are
// rejected rather than truncated.
func (r Record) Int(keys ...string) (int64, bool) {
	value, ok := r.value(keys...)
	if !ok {
		return 0, false
	}
	switch typed := value.(type) {
	case int:
		return int64(typed), true
	case int64:
		return typed, true
	case uint64:
		return int64(typed), true
	case float64:
		return intFromFloat(typed)
	case float32:
		return intFromFloat(float64(typed))
	case json.Number:
		parsed, err := typed.Int64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func intFromFloat(f float64) (int64, bool) {
	if f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

// Bool returns the first present key coerced to bool. Common truthy and
// falsy spellings are accepted; anything else falls through to numeric
// truthiness.
func (r Record) Bool(keys ...string) (bool, bool) {
	value, ok := r.value(keys...)
	if !ok {
		return false, false
	}
	switch typed := value.(type) {
	case bool:
		return typed, true
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "true", "yes", "1", "t", "y":
			return true, true
		case "false", "no", "0", "f", "n":
			return false, true
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return false, false
		}
		return parsed != 0, true
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return false, false
		}
		return parsed != 0, true
	case float64:
		return typed != 0, true
	case float32:
		return typed != 0, true
	case int:
		return typed != 0, true
	case int64:
		return typed != 0, true
	default:
		return false, false
	}
}

func (r Record) value(keys ...string) (any, bool) {
	for _, key := range keys {
		if value, ok := r[key]; ok && value != nil {
			return value, true
		}
	}
	for rowKey, value := range r {
		if value == nil {
			continue
		}
		for _, key := range keys {
			if strings.EqualFold(rowKey, key) {
				return value, true
			}
		}
	}
	return nil, false
}
