package query

import (
	"context"
	"sync/atomic"
	"testing"

	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
	"github.com/bearcove/dodeca-sub000/internal/logging"
)

func transientErrForTest() error {
	return dodecaerr.New(dodecaerr.Transient, "simulated transient failure")
}

func TestEarlyCutoffSkipsRecomputeWhenDependencyUnchanged(t *testing.T) {
	e := New(logging.Nop())
	var leafCalls, rootCalls atomic.Int32

	e.Register("leaf", func(qctx *QueryContext, key string) (any, error) {
		leafCalls.Add(1)
		return "same-value", nil
	})
	e.Register("root", func(qctx *QueryContext, key string) (any, error) {
		rootCalls.Add(1)
		v, err := qctx.Get("leaf", "k")
		if err != nil {
			return nil, err
		}
		return "root:" + v.(string), nil
	})

	ctx := context.Background()
	if _, err := e.Query(ctx, "root", "a"); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if leafCalls.Load() != 1 || rootCalls.Load() != 1 {
		t.Fatalf("expected one compute each, got leaf=%d root=%d", leafCalls.Load(), rootCalls.Load())
	}

	e.BumpRevision()
	if _, err := e.Query(ctx, "root", "a"); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if leafCalls.Load() != 2 {
		t.Fatalf("expected leaf to be reverified once after revision bump, got %d", leafCalls.Load())
	}
	if rootCalls.Load() != 1 {
		t.Fatalf("expected root to be cut off since leaf's value didn't change, got %d calls", rootCalls.Load())
	}
}

func TestChangedDependencyTriggersRecompute(t *testing.T) {
	e := New(logging.Nop())
	var counter atomic.Int32
	var rootCalls atomic.Int32

	e.Register("leaf", func(qctx *QueryContext, key string) (any, error) {
		return counter.Load(), nil
	})
	e.Register("root", func(qctx *QueryContext, key string) (any, error) {
		rootCalls.Add(1)
		v, err := qctx.Get("leaf", "k")
		return v, err
	})

	ctx := context.Background()
	e.Query(ctx, "root", "a")
	counter.Add(1)
	e.BumpRevision()
	e.Query(ctx, "root", "a")
	if rootCalls.Load() != 2 {
		t.Fatalf("expected root to recompute after leaf's value changed, got %d calls", rootCalls.Load())
	}
}

func TestSelfReferentialQueryReportsCycle(t *testing.T) {
	e := New(logging.Nop())
	e.Register("loopy", func(qctx *QueryContext, key string) (any, error) {
		return qctx.Get("loopy", key)
	})
	if _, err := e.Query(context.Background(), "loopy", "x"); err == nil {
		t.Fatal("expected a cycle error, got nil")
	}
}

func TestUnregisteredQueryNameReturnsError(t *testing.T) {
	e := New(logging.Nop())
	if _, err := e.Query(context.Background(), "nope", "x"); err == nil {
		t.Fatal("expected an error for an unregistered query name")
	}
}

func TestConcurrentCallersOfSameKeyComputeOnce(t *testing.T) {
	e := New(logging.Nop())
	var calls atomic.Int32
	e.Register("slow", func(qctx *QueryContext, key string) (any, error) {
		calls.Add(1)
		return key, nil
	})

	const n = 16
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			e.Query(context.Background(), "slow", "same-key")
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one compute across concurrent callers, got %d", calls.Load())
	}
}

func TestTransientErrorIsNotCached(t *testing.T) {
	e := New(logging.Nop())
	var calls atomic.Int32
	e.Register("flaky", func(qctx *QueryContext, key string) (any, error) {
		calls.Add(1)
		return nil, transientErrForTest()
	})

	ctx := context.Background()
	e.Query(ctx, "flaky", "x")
	e.Query(ctx, "flaky", "x")
	if calls.Load() != 2 {
		t.Fatalf("expected transient failures to recompute on every call, got %d calls", calls.Load())
	}
}
