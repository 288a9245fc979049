package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bearcove/dodeca-sub000/internal/config"
	"github.com/bearcove/dodeca-sub000/internal/content"
	"github.com/bearcove/dodeca-sub000/internal/htmldiff"
	"github.com/bearcove/dodeca-sub000/internal/linkcheck"
	"github.com/bearcove/dodeca-sub000/internal/live"
	"github.com/bearcove/dodeca-sub000/internal/query"
	"github.com/bearcove/dodeca-sub000/internal/rpc"
	"github.com/bearcove/dodeca-sub000/internal/template"
)

// Route is one page the pipeline has rendered: its path and html. The
// link checker (§4.K) extracts ids and links from the html itself.
type Route struct {
	Path string
	HTML string
}

// ExternalLinkRef is one outbound href found on a rendered route,
// carried through Build's result so a `check-links` run can probe it
// without re-rendering (spec.md §4.K).
type ExternalLinkRef struct {
	Route string
	URL   string
}

// Result is a single Build's outcome.
type Result struct {
	Routes        map[string]Route
	Dirty         []string // routes whose rendered html changed since the previous build
	RenderErrors  map[string]error
	LinkIssues    []linkcheck.Issue
	ExternalLinks []ExternalLinkRef
}

// assetEntry is a served asset's bytes plus whether it kept a stable
// (non-content-hashed) public name, so the dev server knows whether to
// answer with an immutable or a no-cache Cache-Control header (spec.md
// §6 HTTP surface).
type assetEntry struct {
	Data   []byte
	Stable bool
}

// Pipeline wires source discovery, the query engine, the template
// environment, asset hashing, DOM diffing, and the live-update hub into
// one incremental build (spec.md §2 "Control flow").
type Pipeline struct {
	cfg *config.Config
	log zerolog.Logger

	engine *query.Engine
	hub    *live.Hub // optional: nil in one-shot (non-serving) builds

	// OnSourceProcessed, if set, is called once per source file before
	// Build hashes or renders it — `dodeca build`'s progress bar
	// hooks this rather than Build taking a progressbar dependency
	// directly.
	OnSourceProcessed func(path string)

	// highlightSession, if set, is an RPC session to a spawned
	// cmd/cell-highlight cell (spec.md §4.E+); code fences render
	// through it instead of falling back to escaped-plain text.
	highlightSession *rpc.Session

	mu          sync.Mutex
	sources     map[string]*SourceFile
	prevRoutes  map[string]string     // route -> previously rendered html
	prevAssets  map[string]uint64     // asset path -> previous content hash, for CssChanged detection
	assets      map[string]assetEntry // public asset path -> served bytes
	prevErrored map[string]bool       // route -> had a render error as of the last build
	knownRoutes map[string]bool
}

// New builds a Pipeline. hub may be nil; when non-nil, successful
// incremental builds publish patches/reloads to it (§4.J).
func New(cfg *config.Config, log zerolog.Logger, hub *live.Hub) *Pipeline {
	p := &Pipeline{
		cfg:         cfg,
		log:         log.With().Str("component", "build").Logger(),
		engine:      query.New(log),
		hub:         hub,
		sources:     make(map[string]*SourceFile),
		prevRoutes:  make(map[string]string),
		prevAssets:  make(map[string]uint64),
		assets:      make(map[string]assetEntry),
		prevErrored: make(map[string]bool),
		knownRoutes: make(map[string]bool),
	}
	p.registerQueries()
	return p
}

// SetHighlightSession wires an RPC session to a spawned highlighting
// cell into subsequent renders. Passing nil reverts to the
// escaped-plain-text fallback.
func (p *Pipeline) SetHighlightSession(sess *rpc.Session) {
	p.mu.Lock()
	p.highlightSession = sess
	p.mu.Unlock()
}

// highlightFunc adapts the wired highlighting cell's Session into a
// content.HighlightFunc, round-tripping each fence through
// MethodHighlight (spec.md §4.E+).
func (p *Pipeline) highlightFunc(ctx context.Context) content.HighlightFunc {
	p.mu.Lock()
	sess := p.highlightSession
	p.mu.Unlock()
	if sess == nil {
		return nil
	}
	return func(language, code string) (string, error) {
		resp, err := sess.Call(ctx, content.MethodHighlight, content.EncodeHighlightRequest(language, code))
		if err != nil {
			return "", err
		}
		return content.DecodeHighlightResponse(resp)
	}
}

func (p *Pipeline) registerQueries() {
	p.engine.Register("source_file", func(qctx *query.QueryContext, key string) (any, error) {
		p.mu.Lock()
		src, ok := p.sources[key]
		p.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("source file %q not loaded", key)
		}
		return src, nil
	})

	p.engine.Register("parse_markdown", func(qctx *query.QueryContext, key string) (any, error) {
		raw, err := qctx.Get("source_file", key)
		if err != nil {
			return nil, err
		}
		src := raw.(*SourceFile)
		return content.ParseMarkdown(src.Path, src.Data)
	})

	p.engine.Register("hash_asset", func(qctx *query.QueryContext, key string) (any, error) {
		raw, err := qctx.Get("source_file", key)
		if err != nil {
			return nil, err
		}
		src := raw.(*SourceFile)
		hashed := content.HashAsset(filepath.Base(src.Path), src.Data, p.cfg.StableAssetNames)
		return hashed, nil
	})

	p.engine.Register("render_document", func(qctx *query.QueryContext, key string) (any, error) {
		raw, err := qctx.Get("parse_markdown", key)
		if err != nil {
			return nil, err
		}
		doc := raw.(*content.Document)
		renderedHTML := content.RenderFences(doc.HTML, doc.Fences, p.highlightFunc(qctx.Context()))
		env := p.newTemplateEnvironment()
		data := map[string]template.Value{
			"page": documentToTemplateValue(doc, renderedHTML),
		}
		return env.Render(templateNameFor(doc), data)
	})
}

// newTemplateEnvironment builds a fresh Environment loading `.html`
// templates from the configured content directory's `templates/`
// subdirectory. A fresh Environment per build keeps template reparsing
// cheap rather than needing a cache-invalidation path inside
// internal/template — watch-mode edits to a .html file are picked up
// on the very next build with no extra bookkeeping.
func (p *Pipeline) newTemplateEnvironment() *template.Environment {
	templatesDir := filepath.Join(p.cfg.ContentDir, "templates")
	return template.NewEnvironment(func(name string) (string, error) {
		data, err := os.ReadFile(filepath.Join(templatesDir, name))
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
}

func templateNameFor(doc *content.Document) string {
	if layout, ok := doc.Metadata["layout"].(string); ok && layout != "" {
		return layout
	}
	return "page.html"
}

func documentToTemplateValue(doc *content.Document, renderedHTML string) map[string]template.Value {
	headings := make([]template.Value, len(doc.Headings))
	for i, h := range doc.Headings {
		headings[i] = map[string]template.Value{"title": h.Title, "id": h.ID, "level": h.Level}
	}
	return map[string]template.Value{
		"content":    template.Safe(renderedHTML),
		"headings":   headings,
		"summary":    doc.Summary,
		"word_count": doc.WordCount,
		"metadata":   doc.Metadata,
	}
}

// Build discovers sources under cfg.ContentDir, bumps the query engine's
// revision, and recomputes every route. Only markdown sources produce a
// route; assets are hashed and copied under their content-addressed
// name. After the first build, subsequent calls are incremental: queries
// whose inputs didn't change are cut off rather than recomputed
// (§4.F). When a hub was supplied, changed routes are diffed and
// published as live-update events (§4.J).
func (p *Pipeline) Build(ctx context.Context) (*Result, error) {
	sources, err := DiscoverSources(p.cfg.ContentDir)
	if err != nil {
		return nil, fmt.Errorf("discover sources: %w", err)
	}

	p.mu.Lock()
	p.sources = make(map[string]*SourceFile, len(sources))
	for _, s := range sources {
		p.sources[s.Path] = s
	}
	p.mu.Unlock()

	p.engine.BumpRevision()

	result := &Result{
		Routes:       make(map[string]Route),
		RenderErrors: make(map[string]error),
	}

	routesByID := make(map[string]bool, len(sources))
	idsByRoute := make(map[string]map[string]bool, len(sources))
	pagesByRoute := make(map[string]*linkcheck.PageLinks, len(sources))

	for _, src := range sources {
		if p.OnSourceProcessed != nil {
			p.OnSourceProcessed(src.Path)
		}
		if src.IsAsset {
			val, err := p.engine.Query(ctx, "hash_asset", src.Path)
			if err != nil {
				p.log.Error().Err(err).Str("path", src.Path).Msg("hash asset failed")
				continue
			}
			hashed := val.(content.HashedAsset)
			publicPath := filepath.ToSlash(filepath.Join(filepath.Dir(src.Path), hashed.PublicName))
			stable := slices.Contains(p.cfg.StableAssetNames, filepath.Base(src.Path))

			p.mu.Lock()
			prevHash, hadPrev := p.prevAssets[src.Path]
			p.prevAssets[src.Path] = hashed.ContentHash
			p.assets[publicPath] = assetEntry{Data: src.Data, Stable: stable}
			p.mu.Unlock()
			if p.hub != nil && hadPrev && prevHash != hashed.ContentHash && isCSS(src.Path) {
				p.hub.PublishCssChanged(RouteForSource(src.Path), publicPath)
			}
			continue
		}

		route := RouteForSource(src.Path)
		routesByID[route] = true

		val, err := p.engine.Query(ctx, "render_document", src.Path)
		if err != nil {
			result.RenderErrors[route] = err
			if p.hub != nil {
				p.hub.PublishError(route, template.FormatReportHTML(err, ""))
			}
			p.log.Error().Err(err).Str("route", route).Msg("render failed")
			continue
		}
		html := val.(string)
		result.Routes[route] = Route{Path: route, HTML: html}

		// ownHost is left blank: the pipeline has no configured site
		// hostname, so only relative/rootless hrefs are treated as
		// internal — an absolute same-host URL in content is rare
		// enough in practice to accept as external here.
		if page, err := linkcheck.ExtractPageLinks(route, "", html); err == nil {
			pagesByRoute[route] = page
			idsByRoute[route] = page.ElementIDs
		}
	}

	p.mu.Lock()
	p.knownRoutes = routesByID
	if p.hub != nil {
		for route := range p.prevErrored {
			if _, stillErrored := result.RenderErrors[route]; !stillErrored {
				p.hub.PublishErrorResolved(route)
			}
		}
	}
	p.prevErrored = make(map[string]bool, len(result.RenderErrors))
	for route := range result.RenderErrors {
		p.prevErrored[route] = true
	}
	p.mu.Unlock()

	p.diffAndPublish(result)

	for _, page := range pagesByRoute {
		for _, url := range page.ExternalRefs {
			result.ExternalLinks = append(result.ExternalLinks, ExternalLinkRef{Route: page.Route, URL: url})
		}
	}

	if p.cfg.LinkCheckEnabled {
		for _, page := range pagesByRoute {
			result.LinkIssues = append(result.LinkIssues, linkcheck.CheckInternalLinks(page, routesByID, idsByRoute)...)
		}
	}

	return result, nil
}

func (p *Pipeline) diffAndPublish(result *Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for route, r := range result.Routes {
		prevHTML, existed := p.prevRoutes[route]
		p.prevRoutes[route] = r.HTML
		if !existed || prevHTML == r.HTML {
			continue
		}
		result.Dirty = append(result.Dirty, route)
		if p.hub == nil {
			continue
		}

		oldTree, err1 := htmldiff.Parse(prevHTML)
		newTree, err2 := htmldiff.Parse(r.HTML)
		if err1 != nil || err2 != nil {
			p.hub.PublishReload(route)
			continue
		}
		patches := htmldiff.Diff(oldTree, newTree)
		p.hub.PublishPatches(route, patches)
	}
}

func isCSS(path string) bool {
	return filepath.Ext(path) == ".css"
}

// KnownRoutes returns the route set from the most recent build, used by
// the dev server's 404 handler to suggest nearby routes.
func (p *Pipeline) KnownRoutes() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]bool, len(p.knownRoutes))
	for r := range p.knownRoutes {
		out[r] = true
	}
	return out
}

// LatestRoute returns the most recently rendered html for route, if any
// — used by the dev server to serve a page without forcing a rebuild.
func (p *Pipeline) LatestRoute(route string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	html, ok := p.prevRoutes[route]
	return html, ok
}

// Asset returns the bytes served at publicPath (e.g. "img/logo.1a2b.png")
// from the most recent build, and whether it kept a stable name rather
// than a content hash — the dev server uses Stable to pick between an
// immutable and a no-cache Cache-Control header (spec.md §6).
func (p *Pipeline) Asset(publicPath string) (data []byte, stable bool, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.assets[publicPath]
	return a.Data, a.Stable, ok
}
