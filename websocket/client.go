package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocket upgrader used by the server side of this package
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks are left to the CORS middleware in front of the handler
		return true
	},
}

// GetUpgrader returns the WebSocket upgrader
func GetUpgrader() websocket.Upgrader {
	return upgrader
}

const (
	peerWriteWait  = 10 * time.Second
	peerPongWait   = 60 * time.Second
	peerPingPeriod = 54 * time.Second
	peerReadLimit  = 64 << 10
)

// MessageHandler handles one frame received from a peer. A non-nil return
// value is sent back to that peer only.
type MessageHandler func(data []byte) any

// Client is the server side of one WebSocket connection. It relays every
// message of a subscription to the remote end as JSON.
type Client[T any] struct {
	sub       *Subscription[T]
	release   func()
	conn      *websocket.Conn
	replies   chan any
	onMessage MessageHandler
	log       logrus.FieldLogger
}

// NewClient creates a client relaying sub. release is called once the
// connection ends and must unsubscribe sub.
func NewClient[T any](sub *Subscription[T], release func(), conn *websocket.Conn, onMessage MessageHandler, log logrus.FieldLogger) *Client[T] {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client[T]{
		sub:       sub,
		release:   release,
		conn:      conn,
		replies:   make(chan any, 16),
		onMessage: onMessage,
		log:       log.WithField("remote", conn.RemoteAddr().String()),
	}
}

// Reply queues v for this client only. It reports false when the queue is full.
func (c *Client[T]) Reply(v any) bool {
	select {
	case c.replies <- v:
		return true
	default:
		return false
	}
}

// StartPumps starts the read and write pumps for the client
func (c *Client[T]) StartPumps() {
	go c.writePump()
	go c.readPump()
}

// readPump handles reading from the WebSocket connection
func (c *Client[T]) readPump() {
	defer func() {
		c.release()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(peerReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(peerPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(peerPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("websocket read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(peerPongWait))

		if c.onMessage == nil {
			continue
		}
		if reply := c.onMessage(data); reply != nil {
			if !c.Reply(reply) {
				c.log.Warn("reply queue full, dropping reply")
			}
		}
	}
}

// writePump handles writing to the WebSocket connection
func (c *Client[T]) writePump() {
	ticker := time.NewTicker(peerPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sub.C:
			c.conn.SetWriteDeadline(time.Now().Add(peerWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.log.WithError(err).Debug("websocket write error")
				return
			}

		case reply := <-c.replies:
			c.conn.SetWriteDeadline(time.Now().Add(peerWriteWait))
			if err := c.conn.WriteJSON(reply); err != nil {
				c.log.WithError(err).Debug("websocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(peerWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
