package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Inbound is one frame read off the signaling channel. Data holds the full
// envelope so callers can decode the fields their message type carries.
type Inbound struct {
	Type string
	Data json.RawMessage
}

// Channel is the client side of the signaling websocket. It owns a single
// connection and pumps inbound envelopes into Messages until the connection
// dies or Close is called.
type Channel struct {
	url          string
	writeTimeout time.Duration

	conn     *websocket.Conn
	writeMu  sync.Mutex
	messages chan Inbound

	mu     sync.Mutex
	closed bool

	logger *zap.SugaredLogger
}

func NewChannel(url string, logger *zap.SugaredLogger) *Channel {
	return &Channel{
		url:          url,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// Connect dials the signaling server and starts the read pump. A channel
// can be connected once; create a new Channel for each attempt.
func (c *Channel) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}

	c.conn = conn
	c.messages = make(chan Inbound, 16)

	go c.readPump()
	return nil
}

// Messages returns the inbound frame stream. The channel is closed when the
// connection drops.
func (c *Channel) Messages() <-chan Inbound {
	return c.messages
}

func (c *Channel) Send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(v)
}

// Close tears the connection down deliberately; the read pump exits without
// logging the close as an error.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Closed reports whether Close was called locally.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) readPump() {
	defer close(c.messages)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.Closed() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnw("signaling channel read failed", "error", err)
			}
			return
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil || head.Type == "" {
			c.logger.Warnw("dropping malformed frame from server", "error", err)
			continue
		}
		c.messages <- Inbound{Type: head.Type, Data: data}
	}
}
