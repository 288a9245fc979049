// Package service provides the typed service layer on top of internal/rpc
// (spec.md §4.D): named method tables, client stubs, and a routed
// dispatcher composition that overlays universal services (tracing,
// introspection) onto user-defined service sets without altering
// individual service tables.
package service

import (
	"context"
	"fmt"

	"github.com/bearcove/dodeca-sub000/internal/rpc"
)

// Method describes one RPC method's identity within a service.
type Method struct {
	ID   uint32
	Name string
}

// Table is a named capability: a method-ID to method-name mapping. The
// handler functions a server registers for each live on HandlerDispatcher.
type Table struct {
	Name    string
	Methods map[uint32]Method
}

// NewTable constructs an empty Table.
func NewTable(name string) *Table {
	return &Table{Name: name, Methods: make(map[uint32]Method)}
}

// Register adds a method to the table.
func (t *Table) Register(id uint32, name string) {
	t.Methods[id] = Method{ID: id, Name: name}
}

// HandlerDispatcher dispatches by looking up a Go function per method ID.
// It implements rpc.Dispatcher.
type HandlerDispatcher struct {
	table    *Table
	handlers map[uint32]func(ctx context.Context, payload []byte) ([]byte, error)
}

// NewHandlerDispatcher constructs a dispatcher bound to table.
func NewHandlerDispatcher(table *Table) *HandlerDispatcher {
	return &HandlerDispatcher{table: table, handlers: make(map[uint32]func(context.Context, []byte) ([]byte, error))}
}

// Handle registers the Go function invoked for methodID.
func (d *HandlerDispatcher) Handle(methodID uint32, fn func(ctx context.Context, payload []byte) ([]byte, error)) {
	d.handlers[methodID] = fn
}

// Dispatch implements rpc.Dispatcher.
func (d *HandlerDispatcher) Dispatch(ctx context.Context, methodID uint32, payload []byte) ([]byte, error) {
	fn, ok := d.handlers[methodID]
	if !ok {
		return nil, fmt.Errorf("method %d unknown in service %q", methodID, d.table.Name)
	}
	return fn(ctx, payload)
}

// Ids returns the set of method IDs this table answers for, used by
// RoutedDispatcher to decide primary-vs-fallback routing.
func (d *HandlerDispatcher) Ids() map[uint32]struct{} {
	ids := make(map[uint32]struct{}, len(d.handlers))
	for id := range d.handlers {
		ids[id] = struct{}{}
	}
	return ids
}

// RoutedDispatcher routes a Request whose method_id is claimed by the
// primary dispatcher to it, and every other method_id to the fallback
// (spec.md §4.D). This lets a universal service (e.g. tracing) overlay
// a user-defined service set without either one needing to know about
// the other's table.
type RoutedDispatcher struct {
	primaryIDs map[uint32]struct{}
	primary    rpc.Dispatcher
	fallback   rpc.Dispatcher
}

// NewRoutedDispatcher builds a dispatcher that sends methods in
// primaryIDs to primary and all others to fallback.
func NewRoutedDispatcher(primaryIDs map[uint32]struct{}, primary, fallback rpc.Dispatcher) *RoutedDispatcher {
	return &RoutedDispatcher{primaryIDs: primaryIDs, primary: primary, fallback: fallback}
}

// Dispatch implements rpc.Dispatcher.
func (d *RoutedDispatcher) Dispatch(ctx context.Context, methodID uint32, payload []byte) ([]byte, error) {
	if _, ok := d.primaryIDs[methodID]; ok {
		return d.primary.Dispatch(ctx, methodID, payload)
	}
	return d.fallback.Dispatch(ctx, methodID, payload)
}

// Client is a thin typed stub over a Session: it looks up a method by
// name in the service's table and issues the call.
type Client struct {
	table   *Table
	session *Session
}

// Session is the subset of *rpc.Session a Client needs, kept narrow so
// tests can substitute a fake.
type Session interface {
	Call(ctx context.Context, methodID uint32, payload []byte) ([]byte, error)
	Notify(methodID uint32, payload []byte) error
}

// NewClient builds a Client bound to table and session.
func NewClient(table *Table, session Session) *Client {
	return &Client{table: table, session: session}
}

// Call invokes the named method with an already-encoded payload and
// returns the response bytes as received. Leaving (de)serialization to
// the caller keeps this package wire-format
// agnostic, matching spec.md §1's "no prescribed wire codec" non-goal.
func (c *Client) Call(ctx context.Context, methodName string, payload []byte) ([]byte, error) {
	id, err := c.methodID(methodName)
	if err != nil {
		return nil, err
	}
	return c.session.Call(ctx, id, payload)
}

// Notify invokes the named method as a fire-and-forget notification.
func (c *Client) Notify(methodName string, payload []byte) error {
	id, err := c.methodID(methodName)
	if err != nil {
		return err
	}
	return c.session.Notify(id, payload)
}

func (c *Client) methodID(name string) (uint32, error) {
	for _, m := range c.table.Methods {
		if m.Name == name {
			return m.ID, nil
		}
	}
	return 0, fmt.Errorf("method %q not registered in service %q", name, c.table.Name)
}
