package bridge

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/codex-core/codex/internal/protocol"
)

// Client drives a remote session over the websocket transport, presenting
// the same Submit/Events shape as a local *session.Session.
type Client struct {
	conn   *websocket.Conn
	events chan protocol.Event
}

// Dial opens a websocket connection to url and starts reading events.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, events: make(chan protocol.Event, 256)}
	go c.readLoop()
	return c, nil
}

// Submit encodes and sends one submission.
func (c *Client) Submit(sub protocol.Submission) error {
	b, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Events returns the event stream; closed when the connection drops.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev protocol.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		c.events <- ev
	}
}
