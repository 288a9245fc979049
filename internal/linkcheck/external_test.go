package linkcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestCheckerOKResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewChecker(srv.Client(), NewMemoryCache(), nil, 0)
	result := checker.Check(context.Background(), srv.URL+"/page", time.Now())
	if !result.OK || result.StatusCode != http.StatusOK {
		t.Fatalf("expected OK 200, got %+v", result)
	}
}

func TestCheckerRecordsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	checker := NewChecker(srv.Client(), NewMemoryCache(), nil, 0)
	result := checker.Check(context.Background(), srv.URL+"/missing", time.Now())
	if result.OK || result.StatusCode != http.StatusNotFound {
		t.Fatalf("expected not-ok 404, got %+v", result)
	}
}

func TestCheckerCachesWithinSameDayBucket(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewChecker(srv.Client(), NewMemoryCache(), nil, 0)
	now := time.Now()
	checker.Check(context.Background(), srv.URL+"/x", now)
	checker.Check(context.Background(), srv.URL+"/x", now.Add(time.Minute))
	if hits != 1 {
		t.Fatalf("expected exactly 1 probe due to same-day caching, got %d", hits)
	}
}

func TestCheckerReProbesNextDayBucket(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewChecker(srv.Client(), NewMemoryCache(), nil, 0)
	day1 := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	checker.Check(context.Background(), srv.URL+"/x", day1)
	checker.Check(context.Background(), srv.URL+"/x", day2)
	if hits != 2 {
		t.Fatalf("expected a re-probe on the next day bucket, got %d hits", hits)
	}
}

func TestCheckerSkipListNeverProbed(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	parsed, _ := url.Parse(srv.URL)
	checker := NewChecker(srv.Client(), NewMemoryCache(), []string{parsed.Host}, 0)
	result := checker.Check(context.Background(), srv.URL+"/x", time.Now())
	if hits != 0 {
		t.Fatalf("expected skip-listed domain to never be probed, got %d hits", hits)
	}
	if !result.OK {
		t.Fatalf("expected skip-listed domain to be treated as OK, got %+v", result)
	}
}

func TestCheckerHonorsRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	checker := NewChecker(srv.Client(), NewMemoryCache(), nil, time.Second)
	now := time.Now()
	checker.Check(context.Background(), srv.URL+"/limited", now)

	parsed, _ := url.Parse(srv.URL)
	checker.mu.Lock()
	next := checker.nextAllowed[parsed.Host]
	checker.mu.Unlock()
	if next.Sub(now) < 30*time.Second {
		t.Fatalf("expected Retry-After to push next-allowed out by ~30s, got %v", next.Sub(now))
	}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	if _, ok := c.Get("https://x.test", "2026-07-30"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Put("https://x.test", "2026-07-30", ExternalResult{URL: "https://x.test", OK: true, StatusCode: 200})
	result, ok := c.Get("https://x.test", "2026-07-30")
	if !ok || !result.OK || result.StatusCode != 200 {
		t.Fatalf("expected cached hit, got %+v ok=%v", result, ok)
	}
}
