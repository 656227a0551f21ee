package broker

import "context"

// Delivery is a raw message consumed from the exchange.
type Delivery struct {
	RoutingKey string
	Body       []byte
}

// Transport dials the message exchange. Implementations own the wire
// protocol; the Client owns connection lifecycle, retry, and buffering.
type Transport interface {
	Dial(ctx context.Context) (Session, error)
}

// Session is one live connection to the exchange.
type Session interface {
	// Publish sends a message under the given routing key.
	Publish(ctx context.Context, routingKey string, body []byte) error
	// Consume binds the dot-segment routing patterns (e.g. "order.*")
	// and returns a delivery stream. The channel closes when the
	// session is closed or the connection is lost.
	Consume(ctx context.Context, patterns []string) (<-chan Delivery, error)
	// Ping verifies the connection is still usable.
	Ping(ctx context.Context) error
	Close() error
}
