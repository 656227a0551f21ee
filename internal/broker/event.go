package broker

import (
	"context"
	"time"
)

// Event is a domain event received from or published to the exchange.
// Routing keys are dot-segmented strings, e.g. "order.created".
type Event struct {
	RoutingKey string
	Payload    map[string]any
	Timestamp  time.Time
}

// PendingEvent is an outbound event retained locally while the
// exchange is unreachable. Attempts counts failed replay publishes so
// a poison entry is visible in the logs.
type PendingEvent struct {
	RoutingKey string
	Payload    map[string]any
	EnqueuedAt time.Time
	Attempts   int
}

// Handler processes one kind of inbound event. One implementation per
// event kind, resolved through the HandlerTable.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// HandlerTable maps exact routing keys to handlers. It is built at
// construction and read-only once the client starts.
type HandlerTable struct {
	handlers map[string]Handler
}

func NewHandlerTable() *HandlerTable {
	return &HandlerTable{handlers: make(map[string]Handler)}
}

// Register binds a routing key to a handler, replacing any previous
// binding, and returns the table for chaining.
func (t *HandlerTable) Register(routingKey string, h Handler) *HandlerTable {
	t.handlers[routingKey] = h
	return t
}

// Lookup resolves a routing key to its handler.
func (t *HandlerTable) Lookup(routingKey string) (Handler, bool) {
	h, ok := t.handlers[routingKey]
	return h, ok
}

// Keys returns the registered routing keys.
func (t *HandlerTable) Keys() []string {
	keys := make([]string, 0, len(t.handlers))
	for k := range t.handlers {
		keys = append(keys, k)
	}
	return keys
}
