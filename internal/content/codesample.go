package content

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
)

// Sample is one fenced code block selected for execution (spec.md §4.G).
type Sample struct {
	Index    int
	Language string
	Code     string
}

// ExtractCodeSamples selects the fences eligible for execution. Every
// fence is a candidate; a Runner simply may not be registered for its
// language, which surfaces as a per-sample error rather than a build
// failure.
func ExtractCodeSamples(doc *Document) []Sample {
	samples := make([]Sample, len(doc.Fences))
	for i, f := range doc.Fences {
		samples[i] = Sample{Index: f.Index, Language: f.Language, Code: f.Code}
	}
	return samples
}

// Runner builds the *exec.Cmd that executes code (already wrapped into a
// compile unit if needed) in workDir. Language-specific compiler/interpreter
// invocation is cell-side plumbing (spec.md Non-goals); the core only
// needs a uniform execute-and-capture contract.
type Runner func(ctx context.Context, workDir, code string) (*exec.Cmd, error)

// Result is one sample's captured execution outcome (spec.md §4.G).
type Result struct {
	Index    int
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Err      error
}

// ExecConfig parameterizes ExecuteCodeSamples.
type ExecConfig struct {
	WorkDir        string
	CacheDir       string        // where shared dependency prefixes are built (spec.md §4.G+)
	Timeout        time.Duration // default 5 minutes (spec.md §5)
	OutputCapBytes int64         // default 10 MiB (spec.md §5)
	Runners        map[string]Runner
	SharedPrefixes map[string]string // language -> prefix source, built once per build (spec.md §4.G+)
	PrefixBuilders map[string]func(dir, source string) error
}

var reentrancyGuard atomic.Bool

// ExecuteCodeSamples runs each sample, bounded by a wall-clock timeout
// and an output-size cap, guarded against reentrant invocation (spec.md
// §4.G: "this prevents recursion if a sample itself invokes the
// engine").
func ExecuteCodeSamples(ctx context.Context, samples []Sample, cfg ExecConfig) []Result {
	if !reentrancyGuard.CompareAndSwap(false, true) {
		blocked := dodecaerr.New(dodecaerr.Resource, "code sample execution already in progress in this process").WithHelp("ReentrancyBlocked")
		results := make([]Result, len(samples))
		for i, s := range samples {
			results[i] = Result{Index: s.Index, Err: blocked}
		}
		return results
	}
	defer reentrancyGuard.Store(false)

	prefixes := newPrefixCache(cfg)

	results := make([]Result, len(samples))
	for i, s := range samples {
		results[i] = executeOne(ctx, s, cfg, prefixes)
	}
	return results
}

func executeOne(ctx context.Context, s Sample, cfg ExecConfig, prefixes *prefixCache) Result {
	runner, ok := cfg.Runners[s.Language]
	if !ok {
		return Result{Index: s.Index, Err: dodecaerr.New(dodecaerr.Input, fmt.Sprintf("no runner configured for language %q", s.Language))}
	}

	if prefixSrc, ok := cfg.SharedPrefixes[s.Language]; ok {
		if err := prefixes.ensureBuilt(s.Language, prefixSrc, cfg.PrefixBuilders[s.Language]); err != nil {
			return Result{Index: s.Index, Err: dodecaerr.Wrap(dodecaerr.Transient, err, "build shared dependency prefix")}
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	unit := wrapIfNoEntryPoint(s.Language, s.Code)

	cmd, err := runner(cctx, cfg.WorkDir, unit)
	if err != nil {
		return Result{Index: s.Index, Err: dodecaerr.Wrap(dodecaerr.Input, err, "build sample command")}
	}

	cap := cfg.OutputCapBytes
	if cap <= 0 {
		cap = 10 << 20
	}
	// Overflowing either stream must terminate the process, not just
	// stop buffering it (spec.md §4.G/§5: "on either [timeout or output
	// cap], the process is terminated") — cancelling cctx does that for
	// any Runner built on exec.CommandContext, the same path the
	// timeout itself relies on.
	stdout := &cappedWriter{limit: cap, onOverflow: cancel}
	stderr := &cappedWriter{limit: cap, onOverflow: cancel}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := Result{
		Index:    s.Index,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	switch {
	case cctx.Err() == context.DeadlineExceeded:
		result.Err = dodecaerr.New(dodecaerr.Transient, fmt.Sprintf("sample %d exceeded timeout %s", s.Index, timeout)).WithHelp("Timeout")
	case stdout.overflowed || stderr.overflowed:
		result.Err = dodecaerr.New(dodecaerr.Resource, fmt.Sprintf("sample %d exceeded output cap %d bytes", s.Index, cap)).WithHelp("OutputOverflow")
	case runErr != nil:
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Err = dodecaerr.Wrap(dodecaerr.Transient, runErr, fmt.Sprintf("run sample %d", s.Index))
		}
	}

	return result
}

// wrapIfNoEntryPoint wraps code lacking an obvious entry point into a
// minimal compile unit (spec.md §4.G). Only the languages with an
// easily-detectable entry-point convention get a heuristic; others are
// passed through unmodified.
func wrapIfNoEntryPoint(language, code string) string {
	switch language {
	case "go":
		if strings.Contains(code, "func main(") {
			return code
		}
		if strings.HasPrefix(strings.TrimSpace(code), "package ") {
			return code
		}
		return "package main\n\nfunc main() {\n" + indent(code) + "\n}\n"
	default:
		return code
	}
}

func indent(code string) string {
	lines := strings.Split(code, "\n")
	for i, l := range lines {
		lines[i] = "\t" + l
	}
	return strings.Join(lines, "\n")
}

// cappedWriter bounds how many bytes it will buffer, matching §5's
// "hard output-size cap" terminating condition. onOverflow fires at
// most once, the instant the cap is first exceeded, so the caller can
// kill the producing process instead of merely discarding its output.
type cappedWriter struct {
	buf        bytes.Buffer
	limit      int64
	overflowed bool
	onOverflow func()
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	if w.overflowed {
		return len(p), nil // keep draining the pipe to avoid blocking the child
	}
	remaining := w.limit - int64(w.buf.Len())
	if int64(len(p)) > remaining {
		w.buf.Write(p[:remaining])
		w.overflowed = true
		if w.onOverflow != nil {
			w.onOverflow()
		}
		return len(p), nil
	}
	return w.buf.Write(p)
}

func (w *cappedWriter) String() string { return w.buf.String() }

// prefixCache amortizes the shared-dependency-prefix build across
// samples within one ExecuteCodeSamples call, keyed by a hash of the
// prefix's own source so an edit invalidates the cache (spec.md §4.G+).
type prefixCache struct {
	cacheDir string
	mu       sync.Mutex
	built    map[string]bool
}

func newPrefixCache(cfg ExecConfig) *prefixCache {
	return &prefixCache{cacheDir: cfg.CacheDir, built: make(map[string]bool)}
}

func (p *prefixCache) ensureBuilt(language, source string, build func(dir, source string) error) error {
	if build == nil {
		return nil
	}
	key := fmt.Sprintf("%s-%016x", language, xxhash.Sum64String(source))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.built[key] {
		return nil
	}
	dir := filepath.Join(p.cacheDir, "prefixes", key)
	if err := build(dir, source); err != nil {
		return err
	}
	p.built[key] = true
	return nil
}
