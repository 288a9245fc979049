package linkcheck

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// ExternalResult is the cached outcome of probing one external URL.
type ExternalResult struct {
	URL        string
	StatusCode int
	OK         bool
	Err        string
}

// Cache persists external-link probe results keyed by (url, day
// bucket), so repeated builds within the same day never re-probe the
// same URL (§4.K "cached by (url, day_bucket)").
type Cache interface {
	Get(url, dayBucket string) (ExternalResult, bool)
	Put(url, dayBucket string, result ExternalResult)
}

// Checker probes external URLs with per-domain rate limiting and a
// skip list, backed by Cache for same-day dedup.
type Checker struct {
	client      *http.Client
	cache       Cache
	skipList    map[string]bool
	minInterval time.Duration

	mu          sync.Mutex
	nextAllowed map[string]time.Time
}

// NewChecker builds a Checker. minInterval is the minimum time between
// requests to the same domain; skipList domains are never probed.
func NewChecker(client *http.Client, cache Cache, skipList []string, minInterval time.Duration) *Checker {
	skip := make(map[string]bool, len(skipList))
	for _, d := range skipList {
		skip[d] = true
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Checker{
		client: client, cache: cache, skipList: skip, minInterval: minInterval,
		nextAllowed: make(map[string]time.Time),
	}
}

// dayBucket returns a stable per-day cache partition key.
func dayBucket(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// Check probes rawURL, honoring the cache, skip list, and per-domain
// rate limit. now is injected so callers control bucketing and
// rate-limit timing deterministically in tests.
func (c *Checker) Check(ctx context.Context, rawURL string, now time.Time) ExternalResult {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ExternalResult{URL: rawURL, Err: err.Error()}
	}
	if c.skipList[u.Host] {
		return ExternalResult{URL: rawURL, OK: true}
	}

	bucket := dayBucket(now)
	if cached, ok := c.cache.Get(rawURL, bucket); ok {
		return cached
	}

	c.waitForSlot(u.Host, now)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		result := ExternalResult{URL: rawURL, Err: err.Error()}
		c.cache.Put(rawURL, bucket, result)
		return result
	}
	resp, err := c.client.Do(req)
	if err != nil {
		result := ExternalResult{URL: rawURL, Err: err.Error()}
		c.cache.Put(rawURL, bucket, result)
		return result
	}
	defer resp.Body.Close()

	result := ExternalResult{URL: rawURL, StatusCode: resp.StatusCode, OK: resp.StatusCode < 400}
	c.recordRetryAfter(u.Host, resp, now)
	c.cache.Put(rawURL, bucket, result)
	return result
}

// waitForSlot blocks (outside of tests, where `now` tracks real time)
// until this domain's rate-limit window has elapsed.
func (c *Checker) waitForSlot(host string, now time.Time) {
	c.mu.Lock()
	next, ok := c.nextAllowed[host]
	c.mu.Unlock()
	if !ok || !now.Before(next) {
		return
	}
	time.Sleep(next.Sub(now))
}

const maxRetryAfterHonored = 5 * time.Minute

// recordRetryAfter honors a server's Retry-After header by extending
// this domain's next-allowed time, capped so one misbehaving server
// cannot stall the whole check pass (§4.K "honor any server-returned
// retry directive by adding its value (capped) to the effective
// interval").
func (c *Checker) recordRetryAfter(host string, resp *http.Response, now time.Time) {
	interval := c.minInterval
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			extra := time.Duration(secs) * time.Second
			if extra > maxRetryAfterHonored {
				extra = maxRetryAfterHonored
			}
			interval += extra
		}
	}
	c.mu.Lock()
	c.nextAllowed[host] = now.Add(interval)
	c.mu.Unlock()
}
