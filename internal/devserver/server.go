// Package devserver implements the HTTP surface spec.md §6 describes:
// rendered routes, content-addressed and stable assets with the right
// Cache-Control headers, the live-update WebSocket tunnel, and a 404
// page that suggests nearby routes. Grounded on the teacher's
// internal/web/server.go for the overall Server shape (embedded
// mux/templates/http.Server triple), generalized from a plain
// http.ServeMux to go-chi/chi/v5 the way the pack's other HTTP
// services (e.g. the httpapi package other repos in the corpus mount
// their routes with) compose routing with middleware.
package devserver

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/bearcove/dodeca-sub000/internal/build"
	"github.com/bearcove/dodeca-sub000/internal/config"
	"github.com/bearcove/dodeca-sub000/internal/live"
)

// servedBy identifies this engine in the x-served-by response header on
// every response, the way a reverse proxy stamps which backend answered.
const servedBy = "dodeca"

// Server is dodeca's development HTTP server: it answers rendered
// pages and built assets straight out of a *build.Pipeline's in-memory
// state, and upgrades /_/ws to the live-update tunnel.
type Server struct {
	cfg      *config.Config
	pipeline *build.Pipeline
	hub      *live.Hub
	log      zerolog.Logger

	router chi.Router
	server *http.Server
}

// New builds a Server. hub may be nil, in which case /_/ws answers 404
// (a one-shot `dodeca build` has no live-update server to upgrade to).
func New(cfg *config.Config, pipeline *build.Pipeline, hub *live.Hub, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		hub:      hub,
		log:      log.With().Str("component", "devserver").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.servedByMiddleware)
	r.Use(s.requestLogMiddleware)

	if hub != nil {
		r.Get("/_/ws", live.Handler(hub, s.log))
	}
	r.NotFound(s.handleRoute)
	r.Get("/*", s.handleRoute)

	s.router = r
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ServeAddr, cfg.ServePort),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the websocket tunnel and SSE-like long polls must not be cut off
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the server until it errors or Shutdown is called,
// mirroring the teacher's Start/Shutdown split so cmd/dodeca can run it
// in a goroutine and wait on a signal.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("dev server listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) servedByMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-served-by", servedBy)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// handleRoute answers a request for a page route or a built asset,
// falling back to a 404 page with nearby-route suggestions.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if data, stable, ok := s.pipeline.Asset(strings.TrimPrefix(path, "/")); ok {
		serveAsset(w, r, path, data, stable)
		return
	}

	route := path
	if route != "/" {
		route = strings.TrimSuffix(route, "/")
	}
	if html, ok := s.pipeline.LatestRoute(route); ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write([]byte(html))
		return
	}

	s.handleNotFound(w, r, route)
}

// serveAsset answers a content-addressed or stable asset. Hashed names
// embed a content hash in the filename, so they're safe to cache
// forever (spec.md §6); stable names can change bytes under the same
// name across a rebuild, so they must always be revalidated.
func serveAsset(w http.ResponseWriter, r *http.Request, path string, data []byte, stable bool) {
	if stable {
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	}
	http.ServeContent(w, r, path, time.Time{}, bytes.NewReader(data))
}
