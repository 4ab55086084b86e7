package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comtradepipe/internal/model"
)

func newTestCache(t *testing.T, ttlDays int) *Cache {
	t.Helper()
	c, err := New(Config{Dir: t.TempDir(), Enabled: true, TTLDays: ttlDays}, nil)
	require.NoError(t, err)
	return c
}

func testParams() model.Params {
	return model.Params{
		"reporterCode":    "276",
		"partnerCode":     "ALL",
		"period":          "202201:202203",
		"cmdCode":         "TOTAL",
		model.SecretParam: "key-one",
	}
}

func TestFingerprint_IgnoresSecret(t *testing.T) {
	p1 := testParams()
	p2 := testParams()
	p2[model.SecretParam] = "a-completely-different-key"

	assert.Equal(t, Fingerprint(p1), Fingerprint(p2))

	p3 := p1.Clone()
	delete(p3, model.SecretParam)
	assert.Equal(t, Fingerprint(p1), Fingerprint(p3))
}

func TestFingerprint_DiffersOnAnyOtherField(t *testing.T) {
	base := Fingerprint(testParams())
	for _, key := range []string{"reporterCode", "partnerCode", "period", "cmdCode"} {
		changed := testParams()
		changed[key] = changed[key] + "x"
		assert.NotEqual(t, base, Fingerprint(changed), "changing %s should change the fingerprint", key)
	}

	extra := testParams()
	extra["partner2Code"] = "490"
	assert.NotEqual(t, base, Fingerprint(extra))
}

func TestGetSave_RoundTrip(t *testing.T) {
	c := newTestCache(t, 30)
	params := testParams()
	payload := &model.APIResponse{
		Data: []model.Record{{"reporterCode": "276", "primaryValue": 42.5}},
	}

	_, hit := c.Get(params)
	assert.False(t, hit, "empty cache should miss")

	require.True(t, c.Save(params, payload))

	got, hit := c.Get(params)
	require.True(t, hit)
	require.Len(t, got.Data, 1)
	value, ok := got.Data[0].Float("primaryValue")
	require.True(t, ok)
	assert.Equal(t, 42.5, value)
}

func TestGet_TTLBoundary(t *testing.T) {
	const ttl = 30
	c := newTestCache(t, ttl)
	params := testParams()
	require.True(t, c.Save(params, &model.APIResponse{Data: []model.Record{{"x": 1}}}))

	// Entry just short of the TTL is a hit.
	c.now = func() time.Time { return time.Now().Add((ttl - 1) * 24 * time.Hour) }
	_, hit := c.Get(params)
	assert.True(t, hit, "entry aged ttl-1 days should hit")

	// Entry past the TTL is a miss, and is not removed on read.
	c.now = func() time.Time { return time.Now().Add((ttl + 1) * 24 * time.Hour) }
	_, hit = c.Get(params)
	assert.False(t, hit, "entry aged ttl+1 days should miss")

	c.now = time.Now
	_, hit = c.Get(params)
	assert.True(t, hit, "stale read must not evict the entry")
}

func TestSave_Overwrites(t *testing.T) {
	c := newTestCache(t, 30)
	params := testParams()
	require.True(t, c.Save(params, &model.APIResponse{Data: []model.Record{{"v": "old"}}}))
	require.True(t, c.Save(params, &model.APIResponse{Data: []model.Record{{"v": "new"}}}))

	got, hit := c.Get(params)
	require.True(t, hit)
	value, _ := got.Data[0].String("v")
	assert.Equal(t, "new", value)
}

func TestDisabledCache(t *testing.T) {
	c, err := New(Config{Dir: t.TempDir(), Enabled: false, TTLDays: 30}, nil)
	require.NoError(t, err)

	assert.False(t, c.Save(testParams(), &model.APIResponse{Data: []model.Record{{}}}))
	_, hit := c.Get(testParams())
	assert.False(t, hit)
	assert.Zero(t, c.Clear(-1))
}

func TestClear_All(t *testing.T) {
	c := newTestCache(t, 30)
	for i := 0; i < 3; i++ {
		params := testParams()
		params["reporterCode"] = string(rune('a' + i))
		require.True(t, c.Save(params, &model.APIResponse{Data: []model.Record{{}}}))
	}

	assert.Equal(t, 3, c.Clear(-1))
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestClear_ByAge(t *testing.T) {
	c := newTestCache(t, 30)
	require.True(t, c.Save(testParams(), &model.APIResponse{Data: []model.Record{{}}}))

	// Everything is brand new, so an age threshold removes nothing.
	assert.Equal(t, 0, c.Clear(7))

	// From seven days in the future the same entry qualifies.
	c.now = func() time.Time { return time.Now().Add(7 * 24 * time.Hour) }
	assert.Equal(t, 1, c.Clear(7))
}

func TestStats(t *testing.T) {
	c := newTestCache(t, 30)
	assert.Equal(t, 0, c.Stats().Entries)

	require.True(t, c.Save(testParams(), &model.APIResponse{Data: []model.Record{{}}}))
	stats := c.Stats()
	assert.True(t, stats.Enabled)
	assert.Equal(t, 1, stats.Entries)
	assert.Greater(t, stats.SizeBytes, int64(0))
}
