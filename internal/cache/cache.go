// Package cache is a disk-backed, content-addressed store for upstream
// responses. Entries are keyed by a fingerprint of the request parameters
// with the credential removed, so responses fetched under different keys
// share cache slots.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"comtradepipe/internal/model"
)

type Config struct {
	Dir     string
	Enabled bool
	TTLDays int
}

type Cache struct {
	dir     string
	enabled bool
	ttlDays int
	log     *slog.Logger
	now     func() time.Time
}

// Stats summarizes the cache directory contents.
type Stats struct {
	Enabled       bool
	Entries       int
	SizeBytes     int64
	OldestAgeDays int
	NewestAgeDays int
}

func New(cfg Config, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{
		dir:     cfg.Dir,
		enabled: cfg.Enabled,
		ttlDays: cfg.TTLDays,
		log:     log,
		now:     time.Now,
	}
	if c.dir == "" {
		c.dir = "cache"
	}
	if c.ttlDays <= 0 {
		c.ttlDays = 30
	}
	if c.enabled {
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			return nil, err
		}
		log.Debug("cache initialized", "dir", c.dir, "ttl_days", c.ttlDays)
	} else {
		log.Debug("cache disabled")
	}
	return c, nil
}

// Fingerprint computes the deterministic cache key for a parameter set: an
// md5 digest over the JSON encoding of the parameters sorted by key, with
// the credential field removed first. Two parameter sets differing only in
// the credential therefore map to the same entry.
func Fingerprint(params model.Params) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		if key == model.SecretParam {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	ordered := make([][2]string, 0, len(keys))
	for _, key := range keys {
		ordered = append(ordered, [2]string{key, params[key]})
	}
	encoded, _ := json.Marshal(ordered)
	sum := md5.Sum(encoded)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached payload for the parameter set, or a miss when the
// cache is disabled, no entry exists, or the entry's whole-day age exceeds
// the TTL. Stale entries are left in place for Clear to collect.
func (c *Cache) Get(params model.Params) (*model.APIResponse, bool) {
	if !c.enabled {
		return nil, false
	}

	key := Fingerprint(params)
	path := c.entryPath(key)

	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	age := c.ageDays(info.ModTime())
	if age > c.ttlDays {
		c.log.Debug("cache entry expired", "key", key, "age_days", age, "ttl_days", c.ttlDays)
		return nil, false
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		c.log.Error("cache read failed", "key", key, "error", err)
		return nil, false
	}
	var payload model.APIResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.log.Error("cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	c.log.Debug("cache hit", "key", key, "age_days", age)
	return &payload, true
}

// Save writes the payload under the parameter fingerprint, overwriting any
// existing entry. Returns false when the cache is disabled or the write
// fails.
func (c *Cache) Save(params model.Params, payload *model.APIResponse) bool {
	if !c.enabled || payload == nil {
		return false
	}

	key := Fingerprint(params)
	raw, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("cache encode failed", "key", key, "error", err)
		return false
	}
	if err := os.WriteFile(c.entryPath(key), raw, 0o644); err != nil {
		c.log.Error("cache write failed", "key", key, "error", err)
		return false
	}
	c.log.Debug("cache saved", "key", key, "bytes", len(raw))
	return true
}

// Clear removes cache entries and returns how many were removed. With a
// negative minAgeDays every entry goes; otherwise only entries whose
// whole-day age is at least minAgeDays. Individual removal failures are
// logged and skipped.
func (c *Cache) Clear(minAgeDays int) int {
	if !c.enabled {
		return 0
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("cache dir unreadable", "dir", c.dir, "error", err)
		return 0
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if minAgeDays >= 0 {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if c.ageDays(info.ModTime()) < minAgeDays {
				continue
			}
		}
		if err := os.Remove(path); err != nil {
			c.log.Error("cache remove failed", "path", path, "error", err)
			continue
		}
		count++
	}
	c.log.Info("cache cleared", "removed", count, "min_age_days", minAgeDays)
	return count
}

// Stats walks the cache directory and reports entry count, total size and
// the age spread.
func (c *Cache) Stats() Stats {
	stats := Stats{Enabled: c.enabled}
	if !c.enabled {
		return stats
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return stats
	}
	first := true
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		age := c.ageDays(info.ModTime())
		stats.Entries++
		stats.SizeBytes += info.Size()
		if first || age > stats.OldestAgeDays {
			stats.OldestAgeDays = age
		}
		if first || age < stats.NewestAgeDays {
			stats.NewestAgeDays = age
		}
		first = false
	}
	return stats
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *Cache) ageDays(modTime time.Time) int {
	return int(c.now().Sub(modTime).Hours() / 24)
}
