package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// AuthHeader carries the bearer token on both the command and push channels
const AuthHeader = "X-Authentication"

const (
	defaultPingInterval   = 54 * time.Second
	defaultWriteWait      = 10 * time.Second
	defaultMaxMessageSize = 4 << 20
	defaultSendQueue      = 64
)

var (
	// ErrNotConnected is returned by Send when no connection is open
	ErrNotConnected = errors.New("websocket: not connected")
	// ErrSendQueueFull is returned by Send when the outbound queue is saturated
	ErrSendQueueFull = errors.New("websocket: send queue full")
	// ErrClosedWhileConnecting is returned by Connect when Close cancels the dial
	ErrClosedWhileConnecting = errors.New("websocket: closed while connecting")
)

// SocketConfig configures a Socket
type SocketConfig struct {
	// URL is the push endpoint, e.g. "ws://localhost:3033/rpc/ws"
	URL string
	// Token is attached as the X-Authentication header and the token query
	// parameter. Empty means anonymous.
	Token string
	// Dialer defaults to a dialer honouring proxy environment variables
	Dialer         *websocket.Dialer
	PingInterval   time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	Logger         logrus.FieldLogger
}

// Socket owns one persistent connection to the server's push endpoint and
// republishes what it receives as an ordered stream of Events. It never
// reconnects on its own.
type Socket struct {
	config SocketConfig
	dialer *websocket.Dialer
	hub    Hub[Event]
	log    logrus.FieldLogger

	mu      sync.Mutex
	state   ConnectionState
	current *connection
	// set while a dial is in flight
	dialCancel context.CancelFunc
	dialDone   chan struct{}
}

// connection is the state of one connect attempt
type connection struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	finished chan struct{}
	closing  atomic.Bool
}

// NewSocket creates a disconnected socket and starts its broadcast hub
func NewSocket(config SocketConfig) *Socket {
	if config.PingInterval <= 0 {
		config.PingInterval = defaultPingInterval
	}
	if config.WriteWait <= 0 {
		config.WriteWait = defaultWriteWait
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaultMaxMessageSize
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	dialer := config.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}

	log := config.Logger.WithField("component", "socket")
	s := &Socket{
		config: config,
		dialer: dialer,
		hub:    NewHub[Event]("socket", DefaultSubscriberBuffer, log),
		log:    log,
	}
	go s.hub.Run()
	return s
}

// State returns the current connection state
func (s *Socket) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a listener on the event stream
func (s *Socket) Subscribe() *Subscription[Event] {
	return s.hub.Subscribe()
}

// Unsubscribe removes a listener. The connection stays open.
func (s *Socket) Unsubscribe(sub *Subscription[Event]) {
	s.hub.Unsubscribe(sub)
}

// Connect dials the push endpoint. It is a no-op while a connection is open
// or being opened. A failed dial leaves the socket Errored and publishes an
// EventError; a dial cancelled by Close leaves it Disconnected and publishes
// nothing.
func (s *Socket) Connect(ctx context.Context) error {
	endpoint, err := s.endpoint()
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	dialCtx, cancel := context.WithCancel(ctx)
	dialDone := make(chan struct{})
	s.state = StateConnecting
	s.dialCancel = cancel
	s.dialDone = dialDone
	s.mu.Unlock()

	defer func() {
		cancel()
		close(dialDone)
	}()

	header := http.Header{}
	if s.config.Token != "" {
		header.Set(AuthHeader, s.config.Token)
	}

	conn, resp, err := s.dialer.DialContext(dialCtx, endpoint, header)

	var c *connection
	s.mu.Lock()
	aborted := s.dialCancel == nil
	s.dialCancel = nil
	s.dialDone = nil
	switch {
	case aborted:
		s.state = StateDisconnected
	case err == nil:
		c = &connection{
			conn:     conn,
			send:     make(chan []byte, defaultSendQueue),
			done:     make(chan struct{}),
			finished: make(chan struct{}),
		}
		s.current = c
		s.state = StateConnected
	}
	s.mu.Unlock()

	if aborted {
		if err == nil {
			conn.Close()
		}
		s.log.Debug("dial cancelled by close")
		return ErrClosedWhileConnecting
	}

	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket: dial %s: %w (status %d)", s.config.URL, err, resp.StatusCode)
		} else {
			err = fmt.Errorf("websocket: dial %s: %w", s.config.URL, err)
		}
		s.fail(err)
		return err
	}

	s.log.WithField("url", s.config.URL).Info("push channel connected")
	s.hub.Broadcast(Event{Kind: EventOpen})

	go s.writePump(c)
	go s.readPump(c)
	return nil
}

// Send queues v, JSON encoded, for the server
func (s *Socket) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("websocket: encode message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.current == nil {
		return ErrNotConnected
	}

	select {
	case s.current.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close releases the current connection, if any, and waits for its read
// loop to publish the final EventClose. A dial in flight is cancelled and
// waited for. The socket can be connected again.
func (s *Socket) Close() error {
	s.mu.Lock()
	c := s.current
	cancel, dialDone := s.dialCancel, s.dialDone
	if c == nil {
		s.dialCancel = nil
		if cancel == nil {
			s.state = StateDisconnected
		}
	}
	s.mu.Unlock()

	if c == nil {
		if cancel != nil {
			cancel()
			<-dialDone
		}
		return nil
	}

	c.closing.Store(true)
	deadline := time.Now().Add(s.config.WriteWait)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.log.WithError(err).Debug("close frame not sent")
	}
	err := c.conn.Close()
	<-c.finished
	return err
}

// Shutdown closes the connection and stops the event stream for good
func (s *Socket) Shutdown() error {
	err := s.Close()
	s.hub.Stop()
	return err
}

func (s *Socket) endpoint() (string, error) {
	u, err := url.Parse(s.config.URL)
	if err != nil {
		return "", fmt.Errorf("websocket: invalid url %q: %w", s.config.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("websocket: unsupported scheme %q", u.Scheme)
	}
	if s.config.Token != "" {
		q := u.Query()
		q.Set("token", s.config.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *Socket) fail(err error) {
	s.mu.Lock()
	s.state = StateErrored
	s.current = nil
	s.mu.Unlock()

	s.log.WithError(err).Warn("push channel failed")
	s.hub.Broadcast(Event{Kind: EventError, Err: err})
}

// readPump forwards frames to the hub until the connection ends
func (s *Socket) readPump(c *connection) {
	defer close(c.finished)

	pongWait := s.config.PingInterval * 10 / 9
	c.conn.SetReadLimit(s.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var readErr error
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.hub.Broadcast(Event{Kind: EventMessage, Data: message})
	}

	close(c.done)
	c.conn.Close()

	local := c.closing.Load()
	graceful := websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway)

	s.mu.Lock()
	if s.current == c {
		s.current = nil
		if local {
			s.state = StateDisconnected
		} else {
			s.state = StateErrored
		}
	}
	s.mu.Unlock()

	switch {
	case local:
		s.log.Debug("push channel closed locally")
		s.hub.Broadcast(Event{Kind: EventClose})
	case graceful:
		s.log.Info("push channel closed by server")
		s.hub.Broadcast(Event{Kind: EventClose})
	default:
		s.log.WithError(readErr).Warn("push channel lost")
		s.hub.Broadcast(Event{Kind: EventError, Err: readErr})
	}
}

// writePump serializes outbound frames and keep-alive pings
func (s *Socket) writePump(c *connection) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.WithError(err).Debug("websocket write failed")
				c.conn.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}

		case <-c.done:
			return
		}
	}
}
