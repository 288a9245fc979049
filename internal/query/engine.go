// Package query implements the content-addressed incremental query
// engine (spec.md §4.F): a table of (query_name, key) -> {value, deps,
// revision, verified_at}, with early-cutoff recomputation and
// per-query single-flight deduplication via golang.org/x/sync/singleflight.
package query

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
)

// Key identifies a memoized query instance (spec.md §3 Query).
type Key struct {
	Name string
	Raw  string
}

func (k Key) String() string { return k.Name + "\x00" + k.Raw }

// Hash returns the content-addressed key hash, which selects the key's
// shard. The engine keeps its table in memory only; no on-disk cache
// file is named by this hash.
func (k Key) Hash() uint64 { return xxhash.Sum64String(k.String()) }

// Hashable lets a query value provide its own content hash for the
// early-cutoff comparison (spec.md §4.F step 4). Values that don't
// implement it fall back to hashing fmt.Sprintf("%#v", value), which is
// deterministic but coarser (distinct values that print identically
// hash the same, so a change between them is not seen and dependents
// are cut off).
type Hashable interface {
	QueryHash() uint64
}

// ComputeFunc is a pure function of its tracked inputs, registered once
// per query name. Sub-queries are requested through qctx, which records
// them as this query's dependency set.
type ComputeFunc func(qctx *QueryContext, key string) (any, error)

type entry struct {
	mu         sync.Mutex
	value      any
	err        error
	deps       []Key
	revision   uint64
	verifiedAt uint64
	valueHash  uint64
	hasValue   bool
}

const shardCount = 32

type shard struct {
	mu    sync.Mutex
	table map[Key]*entry
}

// Engine is the sharded, concurrent query table plus the registered
// compute functions for every known query name.
type Engine struct {
	log      zerolog.Logger
	shards   [shardCount]*shard
	fns      map[string]ComputeFunc
	fnsMu    sync.RWMutex
	revision atomic.Uint64
	group    singleflight.Group
}

// New constructs an empty Engine at revision 0.
func New(log zerolog.Logger) *Engine {
	e := &Engine{log: log, fns: make(map[string]ComputeFunc)}
	for i := range e.shards {
		e.shards[i] = &shard{table: make(map[Key]*entry)}
	}
	return e
}

// Register binds a query name to its pure compute function. Queries
// must be registered before they are first requested.
func (e *Engine) Register(name string, fn ComputeFunc) {
	e.fnsMu.Lock()
	defer e.fnsMu.Unlock()
	e.fns[name] = fn
}

func (e *Engine) fn(name string) (ComputeFunc, bool) {
	e.fnsMu.RLock()
	defer e.fnsMu.RUnlock()
	fn, ok := e.fns[name]
	return fn, ok
}

func (e *Engine) shardFor(k Key) *shard {
	return e.shards[k.Hash()%shardCount]
}

// CurrentRevision returns the engine's current logical snapshot counter.
func (e *Engine) CurrentRevision() uint64 { return e.revision.Load() }

// BumpRevision advances the global revision, marking the start of a new
// build over a batch of external input changes (spec.md §4.F).
func (e *Engine) BumpRevision() uint64 { return e.revision.Add(1) }

// QueryContext threads dependency recording and cycle detection through
// a chain of nested query calls (spec.md §9 "explicit EngineContext
// passed to every component" — this is that context for the query
// graph specifically).
type QueryContext struct {
	engine     *Engine
	ctx        context.Context
	inProgress []Key // the chain of queries currently being computed, for cycle detection
	deps       map[Key]struct{}
	depsMu     sync.Mutex
}

// Context returns the underlying context.Context, e.g. for honoring
// cancellation inside a long-running compute function.
func (qc *QueryContext) Context() context.Context { return qc.ctx }

func (qc *QueryContext) recordDep(k Key) {
	qc.depsMu.Lock()
	defer qc.depsMu.Unlock()
	qc.deps[k] = struct{}{}
}

func (qc *QueryContext) depsSlice() []Key {
	qc.depsMu.Lock()
	defer qc.depsMu.Unlock()
	out := make([]Key, 0, len(qc.deps))
	for k := range qc.deps {
		out = append(out, k)
	}
	return out
}

// Get resolves a sub-query, recording it as a dependency of the query
// currently being computed under qc.
func (qc *QueryContext) Get(name, key string) (any, error) {
	k := Key{Name: name, Raw: key}
	qc.recordDep(k)
	for _, ancestor := range qc.inProgress {
		if ancestor == k {
			return nil, cycleError(append(qc.inProgress, k))
		}
	}
	return qc.engine.resolve(qc.ctx, k, qc.inProgress)
}

func cycleError(chain []Key) error {
	names := make([]string, len(chain))
	for i, k := range chain {
		names[i] = k.String()
	}
	return dodecaerr.New(dodecaerr.Internal, fmt.Sprintf("query cycle detected: %v", names)).WithHelp("CycleDetected")
}

// Query is the top-level entry point: it resolves (name, key), creating
// a fresh root QueryContext for dependency tracking.
func (e *Engine) Query(ctx context.Context, name, key string) (any, error) {
	return e.resolve(ctx, Key{Name: name, Raw: key}, nil)
}

func (e *Engine) resolve(ctx context.Context, key Key, inProgress []Key) (any, error) {
	cur := e.revision.Load()

	sh := e.shardFor(key)
	sh.mu.Lock()
	ent, existed := sh.table[key]
	if !existed {
		ent = &entry{}
		sh.table[key] = ent
	}
	sh.mu.Unlock()

	ent.mu.Lock()
	if existed && ent.hasValue && ent.verifiedAt == cur {
		val, err := ent.value, ent.err
		ent.mu.Unlock()
		return val, err
	}
	ent.mu.Unlock()

	// Single-flight: concurrent callers of the same key await the one
	// in-flight computation/verification rather than racing it
	// (spec.md §4.F Concurrency: "a per-query mutex prevents two
	// threads from computing the same query").
	v, err, _ := e.group.Do(key.String(), func() (any, error) {
		return e.computeOrVerify(ctx, key, ent, existed, cur, inProgress)
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	pair := v.(valueErrPair)
	return pair.value, pair.err
}

type valueErrPair struct {
	value any
	err   error
}

func (e *Engine) computeOrVerify(ctx context.Context, key Key, ent *entry, existed bool, cur uint64, inProgress []Key) (any, error) {
	if existed {
		ent.mu.Lock()
		if ent.hasValue && ent.verifiedAt == cur {
			val, err := ent.value, ent.err
			ent.mu.Unlock()
			return valueErrPair{val, err}, nil
		}
		deps := append([]Key(nil), ent.deps...)
		prevVerifiedAt := ent.verifiedAt
		ent.mu.Unlock()

		// A query with no recorded dependencies is a leaf/input query:
		// there is nothing to check staleness against, so it must be
		// recomputed on every revision rather than assumed constant
		// forever. computeFresh's own value-hash comparison still cuts
		// off anything depending on it when the recomputed value is
		// unchanged (spec.md §4.F step 4).
		stale := len(deps) == 0
		for _, dep := range deps {
			depRevision, err := e.revisionAfterEnsuring(ctx, dep, append(inProgress, key))
			if err != nil || depRevision > prevVerifiedAt {
				stale = true
				break
			}
		}
		if !stale {
			ent.mu.Lock()
			ent.verifiedAt = cur
			val, err := ent.value, ent.err
			ent.mu.Unlock()
			return valueErrPair{val, err}, nil
		}
	}
	return e.computeFresh(ctx, key, ent, cur, inProgress)
}

// revisionAfterEnsuring resolves dep (computing or verifying it as
// needed) and returns its resulting revision counter.
func (e *Engine) revisionAfterEnsuring(ctx context.Context, dep Key, inProgress []Key) (uint64, error) {
	for _, ancestor := range inProgress {
		if ancestor == dep {
			return 0, cycleError(append(inProgress, dep))
		}
	}
	if _, err := e.resolve(ctx, dep, inProgress); err != nil {
		return 0, err
	}
	sh := e.shardFor(dep)
	sh.mu.Lock()
	ent := sh.table[dep]
	sh.mu.Unlock()
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.revision, nil
}

func (e *Engine) computeFresh(ctx context.Context, key Key, ent *entry, cur uint64, inProgress []Key) (any, error) {
	fn, ok := e.fn(key.Name)
	if !ok {
		err := dodecaerr.New(dodecaerr.Internal, fmt.Sprintf("query %q not registered", key.Name))
		return valueErrPair{nil, err}, nil
	}

	child := &QueryContext{engine: e, ctx: ctx, inProgress: append(inProgress, key), deps: make(map[Key]struct{})}
	val, err := fn(child, key.Raw)
	newDeps := child.depsSlice()
	newHash := hashValue(val, err)

	ent.mu.Lock()
	changed := !ent.hasValue || ent.valueHash != newHash
	ent.deps = newDeps
	ent.verifiedAt = cur
	if changed {
		ent.revision = cur
	}
	ent.value = val
	ent.err = err
	ent.valueHash = newHash
	ent.hasValue = true
	ent.mu.Unlock()

	if dodecaerr.IsTransient(err) {
		// Transient failures are never cached (spec.md §4.F Failure
		// model): drop the entry so the next Get recomputes rather than
		// reusing this revision's verifiedAt on a future call.
		sh := e.shardFor(key)
		sh.mu.Lock()
		delete(sh.table, key)
		sh.mu.Unlock()
	}

	return valueErrPair{val, err}, nil
}

func hashValue(val any, err error) uint64 {
	if err != nil {
		return xxhash.Sum64String("err:" + err.Error())
	}
	if h, ok := val.(Hashable); ok {
		return h.QueryHash()
	}
	return xxhash.Sum64String(fmt.Sprintf("%#v", val))
}

// Revision reports the (revision, verifiedAt) pair the engine currently
// holds for key, for tests and diagnostics that assert early-cutoff
// behavior (spec.md §8 property 4).
func (e *Engine) Revision(key Key) (revision, verifiedAt uint64, ok bool) {
	sh := e.shardFor(key)
	sh.mu.Lock()
	ent, exists := sh.table[key]
	sh.mu.Unlock()
	if !exists {
		return 0, 0, false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.revision, ent.verifiedAt, true
}
