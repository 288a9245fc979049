package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bearcove/dodeca-sub000/internal/config"
	"github.com/bearcove/dodeca-sub000/internal/live"
	"github.com/bearcove/dodeca-sub000/internal/logging"
)

func newTestPipeline(t *testing.T, hub *live.Hub) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "templates"), 0o755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(dir, "templates", "page.html"), "<html>{{ page.content }}</html>")

	cfg := &config.Config{ContentDir: dir}
	return New(cfg, logging.Nop(), hub), dir
}

func TestBuildRendersMarkdownThroughTemplate(t *testing.T) {
	p, dir := newTestPipeline(t, nil)
	mustWrite(t, filepath.Join(dir, "intro.md"), "# Hello\n\nWorld.\n")

	result, err := p.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	route, ok := result.Routes["/intro"]
	if !ok {
		t.Fatalf("expected a /intro route, got %+v", result.Routes)
	}
	if route.HTML == "" {
		t.Fatal("expected non-empty rendered html")
	}
	if len(result.RenderErrors) != 0 {
		t.Fatalf("expected no render errors, got %+v", result.RenderErrors)
	}
}

func TestBuildHashesAssets(t *testing.T) {
	p, dir := newTestPipeline(t, nil)
	mustWrite(t, filepath.Join(dir, "logo.png"), "not-really-a-png")

	if _, err := p.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	p.mu.Lock()
	_, tracked := p.prevAssets["logo.png"]
	p.mu.Unlock()
	if !tracked {
		t.Fatal("expected logo.png's content hash to be tracked after a build")
	}
}

func TestBuildPreservesAssetDirectoryInPublicPath(t *testing.T) {
	p, dir := newTestPipeline(t, nil)
	if err := os.MkdirAll(filepath.Join(dir, "img"), 0o755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(dir, "img", "logo.png"), "not-really-a-png")

	if _, err := p.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	p.mu.Lock()
	var publicPath string
	for path := range p.assets {
		publicPath = path
	}
	p.mu.Unlock()

	if filepath.ToSlash(filepath.Dir(publicPath)) != "img" {
		t.Fatalf("expected hashed asset to keep its img/ prefix, got %q", publicPath)
	}
	data, stable, ok := p.Asset(publicPath)
	if !ok {
		t.Fatalf("expected Asset(%q) to be found", publicPath)
	}
	if stable {
		t.Fatal("expected logo.png to get a content-hashed name, not a stable one")
	}
	if string(data) != "not-really-a-png" {
		t.Fatalf("unexpected asset bytes: %q", data)
	}
}

func TestBuildIsIncrementalAcrossUnchangedSources(t *testing.T) {
	p, dir := newTestPipeline(t, nil)
	mustWrite(t, filepath.Join(dir, "intro.md"), "# Hello\n")

	first, err := p.Build(context.Background())
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}
	second, err := p.Build(context.Background())
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if len(second.Dirty) != 0 {
		t.Fatalf("expected no dirty routes on an unchanged rebuild, got %v", second.Dirty)
	}
	if first.Routes["/intro"].HTML != second.Routes["/intro"].HTML {
		t.Fatal("expected identical html across unchanged rebuilds")
	}
}

func TestBuildDetectsDirtyRouteAfterEdit(t *testing.T) {
	p, dir := newTestPipeline(t, nil)
	path := filepath.Join(dir, "intro.md")
	mustWrite(t, path, "# Hello\n")
	if _, err := p.Build(context.Background()); err != nil {
		t.Fatalf("first Build: %v", err)
	}

	mustWrite(t, path, "# Hello There\n")
	result, err := p.Build(context.Background())
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if len(result.Dirty) != 1 || result.Dirty[0] != "/intro" {
		t.Fatalf("expected /intro to be dirty, got %v", result.Dirty)
	}
}

func TestBuildPublishesPatchesToHub(t *testing.T) {
	hub := live.NewHub()
	p, dir := newTestPipeline(t, hub)
	path := filepath.Join(dir, "intro.md")
	mustWrite(t, path, "# Hello\n")
	if _, err := p.Build(context.Background()); err != nil {
		t.Fatalf("first Build: %v", err)
	}

	client, unsubscribe := hub.Subscribe("/intro")
	defer unsubscribe()

	mustWrite(t, path, "# Hello There\n")
	if _, err := p.Build(context.Background()); err != nil {
		t.Fatalf("second Build: %v", err)
	}

	select {
	case ev := <-client.Events():
		if ev.Kind != live.EventPatches && ev.Kind != live.EventReload {
			t.Fatalf("expected a Patches or Reload event, got %+v", ev)
		}
	default:
		t.Fatal("expected an event to be published after a dirty rebuild")
	}
}

func TestBuildCallsOnSourceProcessedOncePerSource(t *testing.T) {
	p, dir := newTestPipeline(t, nil)
	mustWrite(t, filepath.Join(dir, "intro.md"), "# Hello\n")
	mustWrite(t, filepath.Join(dir, "logo.png"), "bytes")

	var processed []string
	p.OnSourceProcessed = func(path string) { processed = append(processed, path) }

	if _, err := p.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(processed) != 2 {
		t.Fatalf("expected 2 OnSourceProcessed calls, got %v", processed)
	}
}

func TestBuildCollectsExternalLinks(t *testing.T) {
	p, dir := newTestPipeline(t, nil)
	mustWrite(t, filepath.Join(dir, "intro.md"), "# Hello\n\n[ref](https://example.com/docs)\n")

	result, err := p.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	found := false
	for _, ref := range result.ExternalLinks {
		if ref.Route == "/intro" && ref.URL == "https://example.com/docs" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an external link ref for /intro, got %+v", result.ExternalLinks)
	}
}

func TestBuildRecordsRenderErrorForMissingLayout(t *testing.T) {
	p, dir := newTestPipeline(t, nil)
	mustWrite(t, filepath.Join(dir, "broken.md"), "+++\nlayout = \"missing.html\"\n+++\n# oops\n")

	result, err := p.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := result.RenderErrors["/broken"]; !ok {
		t.Fatalf("expected a render error for /broken, got %+v", result.RenderErrors)
	}
}
