// Package comtrade is the client for the UN Comtrade tariffline endpoint.
// It enforces a rolling daily call quota, rotates between two credential
// slots, and retries transient failures with exponential backoff.
package comtrade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"comtradepipe/internal/model"
)

const (
	defaultBaseURL        = "https://comtradeapi.un.org/"
	defaultDataPath       = "data/v1/getTariffline/{type}/{freq}/{cl}"
	defaultAPIKeyParam    = model.SecretParam
	defaultTypeCode       = "C"
	defaultFrequency      = "M"
	defaultClassification = "HS"
	defaultFlowCode       = "M"
	defaultPartnerCode    = "ALL"
	defaultCommodityCode  = "TOTAL"
	defaultDailyLimit     = 500
	defaultRecordLimit    = 100000
	defaultMaxRetries     = 5
	defaultRetryDelay     = 2 * time.Second
	defaultRateLimitPause = 5 * time.Second
	defaultTimeout        = 60 * time.Second
	defaultUserAgent      = "comtradepipe/0.1"
)

var (
	ErrNoCredentials    = errors.New("comtrade: primary api key is required")
	ErrQuotaExceeded    = errors.New("comtrade: daily call quota exceeded")
	ErrRetriesExhausted = errors.New("comtrade: all retries exhausted")
)

type Config struct {
	BaseURL        string
	DataPath       string
	APIKeyParam    string
	PrimaryKey     string
	SecondaryKey   string
	DailyLimit     int
	RecordLimit    int
	MaxRetries     int
	BaseRetryDelay time.Duration
	RateLimitPause time.Duration
	Timeout        time.Duration
	UserAgent      string

	TypeCode       string
	Frequency      string
	Classification string
	FlowCode       string
}

// FetchRequest describes one tariffline query. Zero-valued fields fall back
// to the client's configured defaults.
type FetchRequest struct {
	ReporterCode string
	PartnerCode  string
	Partner2Code string
	PeriodStart  string // YYYYMM
	PeriodEnd    string // YYYYMM
	HSCode       string
	FlowCode     string
	Extra        model.Params
}

// Client issues tariffline fetches under a hard daily quota. The call
// counter and active-key slot are guarded by a mutex, so concurrent fetches
// are safe; the pipeline nevertheless issues them one at a time.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
	now  func() time.Time

	mu         sync.Mutex
	callCount  int
	resetAt    time.Time
	usePrimary bool
	currentKey string
}

func New(cfg Config, log *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.PrimaryKey) == "" {
		return nil, ErrNoCredentials
	}
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.DataPath) == "" {
		cfg.DataPath = defaultDataPath
	}
	if strings.TrimSpace(cfg.APIKeyParam) == "" {
		cfg.APIKeyParam = defaultAPIKeyParam
	}
	if strings.TrimSpace(cfg.TypeCode) == "" {
		cfg.TypeCode = defaultTypeCode
	}
	if strings.TrimSpace(cfg.Frequency) == "" {
		cfg.Frequency = defaultFrequency
	}
	if strings.TrimSpace(cfg.Classification) == "" {
		cfg.Classification = defaultClassification
	}
	if strings.TrimSpace(cfg.FlowCode) == "" {
		cfg.FlowCode = defaultFlowCode
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = defaultDailyLimit
	}
	if cfg.RecordLimit <= 0 {
		cfg.RecordLimit = defaultRecordLimit
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = defaultRetryDelay
	}
	if cfg.RateLimitPause <= 0 {
		cfg.RateLimitPause = defaultRateLimitPause
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	now := time.Now
	c := &Client{
		cfg:        cfg,
		http:       &http.Client{Timeout: cfg.Timeout},
		log:        log,
		now:        now,
		usePrimary: true,
		currentKey: cfg.PrimaryKey,
	}
	c.resetAt = nextDay(now())
	return c, nil
}

// Params builds the full parameter set for a request. The credential slot is
// present but empty; the active key is filled in at request time so the same
// parameter set can serve as the cache key.
func (c *Client) Params(req FetchRequest) model.Params {
	params := model.Params{
		"typeCode":        c.cfg.TypeCode,
		"freqCode":        c.cfg.Frequency,
		"classCode":       c.cfg.Classification,
		"reporterCode":    req.ReporterCode,
		"partnerCode":     orDefault(req.PartnerCode, defaultPartnerCode),
		"flowCode":        orDefault(req.FlowCode, c.cfg.FlowCode),
		"period":          req.PeriodStart + ":" + req.PeriodEnd,
		"cmdCode":         orDefault(req.HSCode, defaultCommodityCode),
		model.SecretParam: "",
	}
	if req.Partner2Code != "" {
		params["partner2Code"] = req.Partner2Code
	}
	for key, value := range req.Extra {
		params[key] = value
	}
	return params
}

// Fetch retrieves tariffline data for the request. The quota is checked
// before any network attempt; a quota-exhausted client fails fast with
// ErrQuotaExceeded. A rate-limited response rotates to the secondary key
// (when configured and inactive) and retries after a fixed pause; that retry
// consumes one of the MaxRetries attempts. Other failures back off
// exponentially with jitter.
func (c *Client) Fetch(ctx context.Context, req FetchRequest) (*model.APIResponse, error) {
	c.mu.Lock()
	c.resetIfNewDayLocked()
	if c.callCount >= c.cfg.DailyLimit {
		c.mu.Unlock()
		c.log.Error("daily api call limit reached", "limit", c.cfg.DailyLimit)
		return nil, ErrQuotaExceeded
	}
	c.mu.Unlock()

	params := c.Params(req)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		resp, status, err := c.do(ctx, params)
		if err == nil && resp.Data != nil {
			c.recordCall()
			if len(resp.Data) >= c.cfg.RecordLimit {
				c.log.Warn("response at or beyond record ceiling, data may be truncated",
					"records", len(resp.Data), "limit", c.cfg.RecordLimit)
			}
			c.log.Debug("api call succeeded", "attempt", attempt, "records", len(resp.Data))
			return resp, nil
		}
		if err == nil {
			err = upstreamError(resp)
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Error("api call failed", "attempt", attempt, "error", err)

		if c.isRateLimited(resp, status) && c.rotateForRateLimit() {
			if sleepErr := sleepWithContext(ctx, c.cfg.RateLimitPause); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		if attempt < c.cfg.MaxRetries {
			delay := c.backoff(attempt)
			c.log.Info("retrying api call", "attempt", attempt, "delay", delay)
			if sleepErr := sleepWithContext(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}

	c.log.Error("giving up on api call", "attempts", c.cfg.MaxRetries, "error", lastErr)
	return nil, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

// CallCount returns the number of quota-counted calls made today.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callCount
}

// UsingPrimary reports which credential slot is active.
func (c *Client) UsingPrimary() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usePrimary
}

// SwitchKey toggles between the primary and secondary credential. Rotation
// back to the primary key is only ever manual.
func (c *Client) SwitchKey() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.switchKeyLocked()
}

func (c *Client) switchKeyLocked() {
	switch {
	case c.usePrimary && c.cfg.SecondaryKey != "":
		c.currentKey = c.cfg.SecondaryKey
		c.usePrimary = false
		c.log.Info("switched to secondary api key")
	case !c.usePrimary && c.cfg.PrimaryKey != "":
		c.currentKey = c.cfg.PrimaryKey
		c.usePrimary = true
		c.log.Info("switched to primary api key")
	default:
		c.log.Warn("cannot switch keys, only one key configured")
	}
}

func (c *Client) recordCall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callCount++
	c.log.Debug("api call counted", "count", c.callCount, "limit", c.cfg.DailyLimit)
	if c.usePrimary && c.cfg.SecondaryKey != "" && c.callCount >= c.cfg.DailyLimit/2 {
		c.switchKeyLocked()
	}
}

func (c *Client) resetIfNewDayLocked() {
	today := dateOf(c.now())
	if !today.Before(c.resetAt) {
		c.log.Info("resetting api call count", "previous", c.callCount)
		c.callCount = 0
		c.resetAt = nextDay(c.now())
	}
}

// rotateForRateLimit switches to the secondary key when one is configured
// and not already active. Returns whether a rotation happened.
func (c *Client) rotateForRateLimit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.SecondaryKey == "" || !c.usePrimary {
		return false
	}
	c.switchKeyLocked()
	return true
}

func (c *Client) isRateLimited(resp *model.APIResponse, status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return resp != nil && resp.Error.IsRateLimit()
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.cfg.BaseRetryDelay * (1 << (attempt - 1))
	jitter := time.Duration(rand.Float64() * float64(time.Second))
	return delay + jitter
}

// do performs one network attempt and decodes the body. A decoded payload is
// returned even on non-2xx statuses so the caller can inspect the upstream
// error descriptor.
func (c *Client) do(ctx context.Context, params model.Params) (*model.APIResponse, int, error) {
	uri, err := c.buildURL(params)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.activeKey())
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("comtrade: transport: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("comtrade: read body: %w", err)
	}

	var payload model.APIResponse
	if decodeErr := json.Unmarshal(body, &payload); decodeErr != nil {
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return nil, resp.StatusCode, fmt.Errorf("comtrade: request failed (%s): %s",
				resp.Status, strings.TrimSpace(string(body)))
		}
		return nil, resp.StatusCode, fmt.Errorf("comtrade: malformed response: %w", decodeErr)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		if payload.Error == nil {
			payload.Error = &model.APIError{Message: resp.Status}
		}
		return &payload, resp.StatusCode, nil
	}
	return &payload, resp.StatusCode, nil
}

func (c *Client) buildURL(params model.Params) (string, error) {
	path := strings.TrimLeft(c.cfg.DataPath, "/")
	path = strings.ReplaceAll(path, "{type}", url.PathEscape(paramOr(params, "typeCode", c.cfg.TypeCode)))
	path = strings.ReplaceAll(path, "{freq}", url.PathEscape(paramOr(params, "freqCode", c.cfg.Frequency)))
	path = strings.ReplaceAll(path, "{cl}", url.PathEscape(paramOr(params, "classCode", c.cfg.Classification)))
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + path

	query := url.Values{}
	for key, value := range params {
		switch key {
		case "typeCode", "freqCode", "classCode", model.SecretParam:
			continue
		}
		query.Set(key, value)
	}
	query.Set(c.cfg.APIKeyParam, c.activeKey())
	return endpoint + "?" + query.Encode(), nil
}

func (c *Client) activeKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentKey
}

func upstreamError(resp *model.APIResponse) error {
	if resp != nil && resp.Error != nil && resp.Error.Message != "" {
		return fmt.Errorf("comtrade: upstream error: %s", resp.Error.Message)
	}
	return errors.New("comtrade: response has no data collection")
}

func paramOr(params model.Params, key, fallback string) string {
	if value, ok := params[key]; ok && value != "" {
		return value
	}
	return fallback
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func dateOf(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func nextDay(t time.Time) time.Time {
	return dateOf(t).AddDate(0, 0, 1)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
