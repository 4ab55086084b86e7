package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordString(t *testing.T) {
	rec := Record{"code": "276", "num": 842.0, "blank": "  ", "nothing": nil}

	v, ok := rec.String("code")
	require.True(t, ok)
	assert.Equal(t, "276", v)

	v, ok = rec.String("num")
	require.True(t, ok)
	assert.Equal(t, "842", v)

	_, ok = rec.String("blank")
	assert.False(t, ok, "whitespace-only strings count as absent")

	_, ok = rec.String("nothing")
	assert.False(t, ok)

	_, ok = rec.String("missing")
	assert.False(t, ok)
}

func TestRecordString_CaseInsensitiveFallback(t *testing.T) {
	rec := Record{"ReporterCode": "276"}
	v, ok := rec.String("reporterCode")
	require.True(t, ok)
	assert.Equal(t, "276", v)
}

func TestRecordFloat(t *testing.T) {
	rec := Record{"a": 1.5, "b": "2.25", "c": "not a number", "d": 7}

	v, ok := rec.Float("a")
	require.True(t, ok)
	assert.Equal(t, 1.5, v)

	v, ok = rec.Float("b")
	require.True(t, ok)
	assert.Equal(t, 2.25, v)

	_, ok = rec.Float("c")
	assert.False(t, ok)

	v, ok = rec.Float("d")
	require.True(t, ok)
	assert.Equal(t, 7.0, v)
}

func TestRecordInt(t *testing.T) {
	rec := Record{"whole": 4.0, "frac": 4.5, "text": "12"}

	v, ok := rec.Int("whole")
	require.True(t, ok)
	assert.Equal(t, int64(4), v)

	_, ok = rec.Int("frac")
	assert.False(t, ok, "fractional floats are rejected, not truncated")

	v, ok = rec.Int("text")
	require.True(t, ok)
	assert.Equal(t, int64(12), v)
}

func TestRecordBool(t *testing.T) {
	truthy := []any{"true", "yes", "1", "t", "y", "Y", "TRUE", 1, 2.0, true}
	for _, value := range truthy {
		v, ok := Record{"k": value}.Bool("k")
		require.True(t, ok, "value %v should coerce", value)
		assert.True(t, v, "value %v should be true", value)
	}

	falsy := []any{"false", "no", "0", "f", "n", "N", "FALSE", 0, 0.0, false}
	for _, value := range falsy {
		v, ok := Record{"k": value}.Bool("k")
		require.True(t, ok, "value %v should coerce", value)
		assert.False(t, v, "value %v should be false", value)
	}

	_, ok := Record{"k": "maybe"}.Bool("k")
	assert.False(t, ok)
	_, ok = Record{}.Bool("k")
	assert.False(t, ok)
}

func TestAPIError_DecodesStringAndObject(t *testing.T) {
	var resp APIResponse
	require.NoError(t, json.Unmarshal([]byte(`{"error":"rate limit exceeded"}`), &resp))
	require.NotNil(t, resp.Error)
	assert.True(t, resp.Error.IsRateLimit())

	resp = APIResponse{}
	require.NoError(t, json.Unmarshal([]byte(`{"error":{"message":"something broke"}}`), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "something broke", resp.Error.Message)
	assert.False(t, resp.Error.IsRateLimit())
}

func TestHasData(t *testing.T) {
	var nilResp *APIResponse
	assert.False(t, nilResp.HasData())
	assert.False(t, (&APIResponse{}).HasData())
	assert.False(t, (&APIResponse{Data: []Record{}}).HasData())
	assert.True(t, (&APIResponse{Data: []Record{{}}}).HasData())
}
