package bridge

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opentranslator/client/internal/logger"
	"github.com/opentranslator/client/internal/metrics"
	"github.com/opentranslator/client/internal/poller"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 32
)

// Client is one WebSocket subscriber
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan poller.Event
	log  *logger.Logger
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	metrics.Default().IncSubscribers()
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan poller.Event, sendBuffer),
		log:  logger.Default().WithComponent("bridge"),
	}
}

// writePump serializes events to the connection and keeps it alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames and unregisters on disconnect. Subscribers
// are read-only; the read loop exists to notice closes and answer pings.
func (c *Client) readPump() {
	defer func() {
		metrics.Default().DecSubscribers()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug(context.Background(), "subscriber disconnected unexpectedly", map[string]any{
					"error": err.Error(),
				})
			}
			return
		}
	}
}
