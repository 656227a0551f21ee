package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aabine/flow-realtime/internal/domain"
	"github.com/aabine/flow-realtime/internal/geo"
	"github.com/aabine/flow-realtime/pkg/log"
)

// Config tunes per-connection socket behaviour and liveness.
type Config struct {
	SendBuffer     int           `mapstructure:"send_buffer"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	MaxIdle        time.Duration `mapstructure:"max_idle"`
}

func (c *Config) applyDefaults() {
	if c.SendBuffer == 0 {
		c.SendBuffer = 256
	}
	if c.WriteWait == 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait == 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 4096
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 30 * time.Minute
	}
}

// Location is a client's last known position.
type Location struct {
	Point     geo.Point
	UpdatedAt time.Time
}

// Client is one live authenticated connection. Its id is the
// authenticated user id; location, topic and liveness state are owned
// by the Hub and guarded by the Hub's lock.
type Client struct {
	ID   string
	Role domain.Role
	Hub  *Hub

	conn *websocket.Conn
	cfg  Config

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	// Guarded by Hub.mu.
	location     *Location
	topics       map[string]struct{}
	connectedAt  time.Time
	lastLiveness time.Time
}

// NewClient wraps an upgraded websocket connection. The hub reference
// lets the pumps unregister on socket failure.
func NewClient(id string, role domain.Role, h *Hub, conn *websocket.Conn) *Client {
	cfg := h.cfg
	return &Client{
		ID:     id,
		Role:   role,
		Hub:    h,
		conn:   conn,
		cfg:    cfg,
		send:   make(chan []byte, cfg.SendBuffer),
		topics: make(map[string]struct{}),
	}
}

// ReadPump reads frames off the socket and hands them to the handler.
// It unregisters the client and closes the socket on exit.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.Hub.Disconnect(c.ID)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.L().Debug().Err(err).Str(log.FieldUserID, c.ID).Msg("websocket read error")
			}
			break
		}

		c.Hub.Touch(c.ID)
		handler(c, message)
	}
}

// WritePump moves queued frames onto the socket and keeps the
// underlying connection alive with protocol-level pings. A write that
// blocks past WriteWait tears the connection down.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON marshals and queues a frame for this client.
func (c *Client) SendJSON(message any) bool {
	data, err := json.Marshal(message)
	if err != nil {
		return false
	}
	return c.enqueue(data)
}

// Queued returns the number of frames waiting in the send queue.
func (c *Client) Queued() int {
	return len(c.send)
}

// Frames exposes the outbound queue for readers other than the write
// pump, e.g. tests.
func (c *Client) Frames() <-chan []byte {
	return c.send
}

// enqueue queues raw bytes without blocking. A full queue or a closed
// client reports failure; the caller decides whether that kills the
// connection.
func (c *Client) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
