// Package live implements the dev-server's live-update fanout
// (spec.md §4.J): a WebSocket tunnel per browser tab, subscribed to one
// route, fed `Patches`/`CssChanged`/`Error`/`ErrorResolved`/`Reload`
// events as builds complete.
//
// Generalizes the teacher's internal/hub (one circular-buffered fanout
// per CLI session, subscribed by id) to fan out by *route* instead of
// session id, and by typed devtools events instead of raw log lines —
// there's no catchup buffer here, since a reconnecting client just
// triggers a fresh full render rather than replaying stale patches.
package live

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bearcove/dodeca-sub000/internal/htmldiff"
)

const defaultClientQueueCap = 64

// EventKind tags the payload carried by an Event.
type EventKind int

const (
	EventPatches EventKind = iota
	EventCssChanged
	EventError
	EventErrorResolved
	EventReload
)

// Event is one message sent down a client's WebSocket tunnel.
type Event struct {
	Kind         EventKind
	Route        string
	Patches      []htmldiff.WirePatch
	CssPath      string
	ErrorMessage string
}

var (
	subscriberGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dodeca_live_subscribers",
		Help: "Current number of connected live-update WebSocket clients.",
	})
	patchesSentCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dodeca_live_patches_sent_total",
		Help: "Total number of Patches events sent to live-update clients.",
	})
	reloadsSentCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dodeca_live_reloads_sent_total",
		Help: "Total number of Reload events sent, including backpressure drops.",
	})
)

func init() {
	prometheus.MustRegister(subscriberGauge, patchesSentCounter, reloadsSentCounter)
}

// Client is one subscriber's event queue. The server-side WebSocket
// write loop drains Ch and serializes each Event as JSON.
type Client struct {
	route string
	ch    chan Event
}

func (c *Client) Events() <-chan Event { return c.ch }

type routeState struct {
	clients map[*Client]struct{}
}

// Hub fans out build events to every client subscribed to a route.
type Hub struct {
	mu     sync.Mutex
	routes map[string]*routeState
}

func NewHub() *Hub {
	return &Hub{routes: make(map[string]*routeState)}
}

func (h *Hub) getOrCreate(route string) *routeState {
	rs, ok := h.routes[route]
	if !ok {
		rs = &routeState{clients: make(map[*Client]struct{})}
		h.routes[route] = rs
	}
	return rs
}

// Subscribe registers a client for route and returns it with an
// unsubscribe function.
func (h *Hub) Subscribe(route string) (*Client, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &Client{route: route, ch: make(chan Event, defaultClientQueueCap)}
	rs := h.getOrCreate(route)
	rs.clients[c] = struct{}{}
	subscriberGauge.Inc()

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if rs, ok := h.routes[route]; ok {
			if _, ok := rs.clients[c]; ok {
				delete(rs.clients, c)
				subscriberGauge.Dec()
			}
		}
	}
	return c, unsubscribe
}

// broadcast delivers ev to every subscriber of route. A full client
// queue is backpressure (§4.J): its pending events are dropped and
// replaced with a single Reload, rather than blocking the publisher or
// growing the queue unboundedly.
func (h *Hub) broadcast(route string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.routes[route]
	if !ok {
		return
	}
	for c := range rs.clients {
		select {
		case c.ch <- ev:
		default:
			drain(c.ch)
			reloadsSentCounter.Inc()
			select {
			case c.ch <- Event{Kind: EventReload, Route: route}:
			default:
			}
		}
	}
}

func drain(ch chan Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// PublishPatches sends a computed patch list to every subscriber of
// route, or a Reload if the list is too large to apply incrementally.
func (h *Hub) PublishPatches(route string, patches []htmldiff.Patch) {
	if htmldiff.TooLargeForPatching(patches) {
		h.broadcast(route, Event{Kind: EventReload, Route: route})
		reloadsSentCounter.Inc()
		return
	}
	patchesSentCounter.Inc()
	h.broadcast(route, Event{Kind: EventPatches, Route: route, Patches: htmldiff.ToWire(patches)})
}

// PublishCssChanged notifies subscribers that a hashed stylesheet path
// changed, so the client can swap the <link> element instead of
// reloading.
func (h *Hub) PublishCssChanged(route, cssPath string) {
	h.broadcast(route, Event{Kind: EventCssChanged, Route: route, CssPath: cssPath})
}

// PublishError notifies subscribers that route failed to render.
func (h *Hub) PublishError(route, message string) {
	h.broadcast(route, Event{Kind: EventError, Route: route, ErrorMessage: message})
}

// PublishErrorResolved notifies subscribers that route, previously
// erroring, now renders successfully.
func (h *Hub) PublishErrorResolved(route string) {
	h.broadcast(route, Event{Kind: EventErrorResolved, Route: route})
}

// PublishReload forces every subscriber of route to perform a full page
// refresh (e.g. a structurally incompatible change).
func (h *Hub) PublishReload(route string) {
	reloadsSentCounter.Inc()
	h.broadcast(route, Event{Kind: EventReload, Route: route})
}
