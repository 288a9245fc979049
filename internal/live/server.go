package live

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dev server only ever serves same-origin tabs; origin checking
	// is handled upstream by the HTTP router, not the WebSocket layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

// wireEvent is Event's JSON shape (spec.md §4.J devtools event stream).
type wireEvent struct {
	Type    string      `json:"type"`
	Route   string      `json:"route,omitempty"`
	Patches []jsonPatch `json:"patches,omitempty"`
	CssPath string      `json:"cssPath,omitempty"`
	Message string      `json:"message,omitempty"`
}

type jsonPatch struct {
	Op    string `json:"op"`
	Path  []int  `json:"path"`
	Text  string `json:"text,omitempty"`
	Attr  string `json:"attr,omitempty"`
	Value string `json:"value,omitempty"`
	HTML  string `json:"html,omitempty"`
}

var eventTypeNames = map[EventKind]string{
	EventPatches:       "patches",
	EventCssChanged:    "css_changed",
	EventError:         "error",
	EventErrorResolved: "error_resolved",
	EventReload:        "reload",
}

func toWireEvent(ev Event) wireEvent {
	w := wireEvent{Type: eventTypeNames[ev.Kind], Route: ev.Route, CssPath: ev.CssPath, Message: ev.ErrorMessage}
	for _, p := range ev.Patches {
		w.Patches = append(w.Patches, jsonPatch{Op: p.Op, Path: p.Path, Text: p.Text, Attr: p.Attr, Value: p.Value, HTML: p.HTML})
	}
	return w
}

// Handler upgrades the request to a WebSocket tunnel for the route
// named by the `route` query parameter, subscribes it to hub, and
// streams events until the client disconnects (spec.md §4.J "a client
// opens a WebSocket tunnel").
func Handler(hub *Hub, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Query().Get("route")
		if route == "" {
			http.Error(w, "missing route query parameter", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("route", route).Msg("live: websocket upgrade failed")
			return
		}
		defer conn.Close()

		client, unsubscribe := hub.Subscribe(route)
		defer unsubscribe()
		log.Debug().Str("route", route).Msg("live: client subscribed")

		// Drain and discard client->server frames; this tunnel is
		// server-push only, but reads must continue so gorilla's pong
		// handler fires and a client-initiated close is observed.
		go func() {
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for ev := range client.Events() {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			payload, err := json.Marshal(toWireEvent(ev))
			if err != nil {
				log.Error().Err(err).Msg("live: failed to marshal event")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Str("route", route).Msg("live: write failed, dropping client")
				return
			}
		}
	}
}
