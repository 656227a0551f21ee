// Package broker provides the resilient client that keeps the service
// connected to the shared message exchange, buffering outbound events
// locally while the exchange is unreachable and replaying them in
// order on reconnect.
package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aabine/flow-realtime/internal/metrics"
	"github.com/aabine/flow-realtime/pkg/log"
)

// Config tunes the client's retry, keepalive and buffering behaviour.
type Config struct {
	// Patterns are the routing patterns bound on connect, e.g. "order.*".
	Patterns []string

	MaxRetries     int           `mapstructure:"max_retries"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	BufferCapacity int           `mapstructure:"buffer_capacity"`
}

func (c *Config) applyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = 1000
	}
}

// Client is the resilient broker client. One instance per process,
// constructed by the composition root and injected into whatever needs
// to publish.
type Client struct {
	cfg       Config
	transport Transport
	handlers  *HandlerTable
	buffer    *PendingBuffer
	logger    zerolog.Logger

	mu      sync.Mutex
	state   State
	session Session
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a client. Start must be called before it will connect.
func New(transport Transport, handlers *HandlerTable, cfg Config, logger zerolog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:       cfg,
		transport: transport,
		handlers:  handlers,
		buffer:    NewPendingBuffer(cfg.BufferCapacity),
		logger:    logger,
		state:     StateDisconnected,
	}
}

// Start launches the connection supervisor and returns immediately.
// Startup never blocks on exchange availability: the service comes up
// and events are buffered until the exchange is reachable. Calling
// Start on a running client is a no-op; calling it after the client
// reached StateFailed re-arms the retry loop.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.running = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	c.logger.Info().Strs("patterns", c.cfg.Patterns).Msg("starting broker client")
	go c.supervise(ctx)
}

// Stop cancels the supervisor, closes any live session and leaves the
// client disconnected. Idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done

	c.setState(StateDisconnected)
	c.logger.Info().Msg("broker client stopped")
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PendingCount returns the number of locally buffered events.
func (c *Client) PendingCount() int {
	return c.buffer.Len()
}

// Publish sends an event to the exchange, falling back to the local
// buffer when the exchange is unreachable. It reports whether the
// event reached the exchange; a buffered or dropped event returns
// false, never an error.
func (c *Client) Publish(ctx context.Context, routingKey string, payload map[string]any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error().Err(err).Str(log.FieldRoutingKey, routingKey).Msg("unencodable payload")
		return false
	}

	c.mu.Lock()
	sess := c.session
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected && sess != nil {
		err := sess.Publish(ctx, routingKey, body)
		if err == nil {
			return true
		}
		c.logger.Warn().Err(err).Str(log.FieldRoutingKey, routingKey).Msg("publish failed, buffering event")
	}

	evt := PendingEvent{RoutingKey: routingKey, Payload: payload, EnqueuedAt: time.Now()}
	if !c.buffer.Append(evt) {
		metrics.IncBufferDrop()
		c.logger.Warn().
			Str(log.FieldRoutingKey, routingKey).
			Int("capacity", c.cfg.BufferCapacity).
			Msg("pending buffer full, dropping event")
	}
	metrics.SetBufferDepth(c.buffer.Len())
	return false
}

// supervise owns the connection lifecycle: connect with backoff,
// consume until the connection is lost, reconnect. It exits when the
// context is cancelled or retries are exhausted.
func (c *Client) supervise(ctx context.Context) {
	defer close(c.done)

	for {
		sess := c.connectWithRetry(ctx)
		if sess == nil {
			if ctx.Err() != nil {
				c.setState(StateDisconnected)
			} else {
				// Terminal until Start is called again.
				c.mu.Lock()
				c.state = StateFailed
				c.running = false
				c.mu.Unlock()
				metrics.SetBrokerState(int(StateFailed))
				c.logger.Error().
					Int("max_retries", c.cfg.MaxRetries).
					Msg("exchange unreachable after exhausting retries, broker client degraded")
			}
			return
		}

		deliveries, err := sess.Consume(ctx, c.cfg.Patterns)
		if err != nil {
			c.logger.Warn().Err(err).Msg("failed to bind routing patterns")
			sess.Close()
			c.setState(StateDisconnected)
			continue
		}

		c.mu.Lock()
		c.session = sess
		c.state = StateConnected
		c.mu.Unlock()
		metrics.SetBrokerState(int(StateConnected))
		c.logger.Info().Msg("connected to exchange")

		c.drain(ctx, sess)
		c.consume(ctx, sess, deliveries)

		c.mu.Lock()
		c.session = nil
		c.mu.Unlock()
		sess.Close()
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn().Msg("exchange connection lost, reconnecting")
	}
}

// connectWithRetry dials the exchange with exponential backoff. It
// returns nil when the context is cancelled or retries are exhausted.
func (c *Client) connectWithRetry(ctx context.Context) Session {
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		c.setState(StateConnecting)
		c.logger.Info().Int("attempt", attempt).Int("max_retries", c.cfg.MaxRetries).Msg("connecting to exchange")

		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		sess, err := c.transport.Dial(dialCtx)
		cancel()
		if err == nil {
			return sess
		}

		if attempt == c.cfg.MaxRetries {
			c.logger.Error().Err(err).Msg("connect attempt failed, no retries remain")
			return nil
		}

		delay := backoffDelay(attempt, c.cfg.BaseDelay, c.cfg.MaxDelay)
		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("connect attempt failed")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// backoffDelay returns the wait after the i-th failed attempt
// (1-indexed): base * 2^i capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

// drain replays buffered events in FIFO order. Entries that fail to
// publish stay in the buffer, in their original order, for the next
// drain; this is best-effort, at-least-once replay.
func (c *Client) drain(ctx context.Context, sess Session) {
	events := c.buffer.TakeAll()
	if len(events) == 0 {
		return
	}
	c.logger.Info().Int("count", len(events)).Msg("replaying buffered events")

	var failed []PendingEvent
	for i := range events {
		evt := events[i]
		body, err := json.Marshal(evt.Payload)
		if err == nil {
			err = sess.Publish(ctx, evt.RoutingKey, body)
		}
		if err != nil {
			evt.Attempts++
			failed = append(failed, evt)
			c.logger.Warn().Err(err).
				Str(log.FieldRoutingKey, evt.RoutingKey).
				Int("attempts", evt.Attempts).
				Msg("failed to replay buffered event")
		}
	}
	if len(failed) > 0 {
		if dropped := c.buffer.Restore(failed); dropped > 0 {
			metrics.AddBufferDrops(dropped)
			c.logger.Warn().
				Int("dropped", dropped).
				Int("capacity", c.cfg.BufferCapacity).
				Msg("pending buffer overflowed during replay, dropping newest events")
		}
	}
	metrics.SetBufferDepth(c.buffer.Len())
}

// consume dispatches deliveries until the stream closes, the keepalive
// ping fails, or the context is cancelled.
func (c *Client) consume(ctx context.Context, sess Session, deliveries <-chan Delivery) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.dispatch(ctx, d)
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
			err := sess.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Warn().Err(err).Msg("exchange keepalive failed")
				return
			}
		}
	}
}

// dispatch resolves a delivery's routing key to its handler. Messages
// with no handler are logged and dropped, never requeued, so a message
// this service cannot interpret does not loop forever.
func (c *Client) dispatch(ctx context.Context, d Delivery) {
	handler, ok := c.handlers.Lookup(d.RoutingKey)
	if !ok {
		c.logger.Warn().Str(log.FieldRoutingKey, d.RoutingKey).Msg("no handler for event, dropping")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldRoutingKey, d.RoutingKey).Msg("undecodable event payload, dropping")
		return
	}

	evt := Event{RoutingKey: d.RoutingKey, Payload: payload, Timestamp: time.Now()}
	if err := handler.Handle(ctx, evt); err != nil {
		c.logger.Error().Err(err).Str(log.FieldRoutingKey, d.RoutingKey).Msg("event handler failed")
	}
}

// setState records a state transition and mirrors it to the metrics.
func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	metrics.SetBrokerState(int(s))
}
