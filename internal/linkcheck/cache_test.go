package linkcheck

import (
	"path/filepath"
	"testing"

	"github.com/bearcove/dodeca-sub000/internal/query/cache"
)

func TestStoreCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkcheck.db")
	store, err := cache.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sc := NewStoreCache(store)
	if _, ok := sc.Get("https://x.test", "2026-07-30"); ok {
		t.Fatal("expected miss before any Put")
	}

	sc.Put("https://x.test", "2026-07-30", ExternalResult{URL: "https://x.test", OK: false, StatusCode: 404})
	result, ok := sc.Get("https://x.test", "2026-07-30")
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if result.OK || result.StatusCode != 404 {
		t.Fatalf("got %+v", result)
	}

	if _, ok := sc.Get("https://x.test", "2026-07-31"); ok {
		t.Fatal("expected a different day bucket to miss")
	}
}
