package stream

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"bustrack/internal/apperr"
	"bustrack/internal/auth"
	"bustrack/pkg/realtime"
)

// State is the lifecycle state of a streaming connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one websocket client. The write pump is the only goroutine that
// writes to the socket; everything else goes through the bounded send queue.
type Conn struct {
	id       string
	ws       *websocket.Conn
	hub      *realtime.Broadcaster
	opts     Options
	logger   *slog.Logger
	identity auth.Identity

	send      chan []byte
	final     chan []byte
	done      chan struct{}
	closeCode atomic.Int32
	closeOnce sync.Once
	state     atomic.Int32
}

func newConn(id string, ws *websocket.Conn, hub *realtime.Broadcaster, opts Options, logger *slog.Logger) *Conn {
	c := &Conn{
		id:     id,
		ws:     ws,
		hub:    hub,
		opts:   opts,
		logger: logger.With("conn_id", id),
		send:   make(chan []byte, opts.QueueSize),
		final:  make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	c.closeCode.Store(websocket.CloseNormalClosure)
	return c
}

// ID implements realtime.Peer.
func (c *Conn) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Identity returns the authenticated caller.
func (c *Conn) Identity() auth.Identity { return c.identity }

// Enqueue implements realtime.Peer. It never blocks.
func (c *Conn) Enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Closed implements realtime.Peer.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close implements realtime.Peer. The connection is Closed and out of the
// registry when Close returns; the write pump finishes the socket teardown.
func (c *Conn) Close() {
	c.closeWith(websocket.CloseNormalClosure, nil)
}

func (c *Conn) closeWith(code int, final []byte) {
	c.closeOnce.Do(func() {
		if final != nil {
			c.final <- final
		}
		c.closeCode.Store(int32(code))
		c.state.Store(int32(StateClosed))
		close(c.done)
		c.hub.Unregister(c.id)
		c.logger.Debug("stream connection closed")
	})
}

func (c *Conn) authenticate(id auth.Identity) {
	c.identity = id
	c.logger = c.logger.With("user_id", id.UserID, "role", id.Role)
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated))
	c.hub.Register(c)
}

// reject writes a final error synchronously and closes the socket. Only used
// before the pumps start.
func (c *Conn) reject(code apperr.Code, message string) {
	c.state.Store(int32(StateClosed))
	c.closeOnce.Do(func() { close(c.done) })
	deadline := time.Now().Add(c.opts.WriteTimeout)
	_ = c.ws.SetWriteDeadline(deadline)
	_ = c.ws.WriteMessage(websocket.TextMessage, errorMessage(code, message))
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), deadline)
	_ = c.ws.Close()
}

// run serves the connection until it closes.
func (c *Conn) run() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()
	c.readPump()
	c.Close()
	<-writerDone
}

func (c *Conn) pongWait() time.Duration {
	return c.opts.PingInterval + c.opts.WriteTimeout
}

func (c *Conn) readPump() {
	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Info("stream read failed", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
		if !c.handle(data) {
			return
		}
	}
}

// handle applies one client message and reports whether to keep reading.
func (c *Conn) handle(data []byte) bool {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.closeWith(websocket.CloseUnsupportedData, errorMessage(apperr.CodeInvalidArgument, "malformed message"))
		return false
	}
	switch msg.Event {
	case EventSubscribe:
		channel := strings.TrimSpace(msg.Channel)
		if channel == "" {
			channel = realtime.ChannelBusLocations
		}
		if !c.hub.Subscribe(c.id, channel) {
			return false
		}
		c.state.CompareAndSwap(int32(StateAuthenticated), int32(StateSubscribed))
		c.logger.Debug("subscribed", "channel", channel)
		return c.reply(Envelope{Event: EventSubscriptionConfirmed, Channel: channel})
	case EventUnsubscribe:
		channel := strings.TrimSpace(msg.Channel)
		c.hub.Unsubscribe(c.id, channel)
		return c.reply(Envelope{Event: EventUnsubscriptionConfirmed, Channel: channel})
	case EventPing:
		return c.reply(Envelope{Event: EventPong})
	default:
		return true
	}
}

func (c *Conn) reply(env Envelope) bool {
	if c.Enqueue(encodeEnvelope(env)) {
		return true
	}
	c.logger.Warn("stream queue full, closing")
	c.Close()
	return false
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case <-c.done:
			c.writeFinal()
			return
		default:
		}
		select {
		case <-c.done:
			c.writeFinal()
			return
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.logger.Info("stream write failed", "err", err)
				c.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Info("stream ping failed", "err", err)
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) write(msg []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

func (c *Conn) writeFinal() {
	select {
	case msg := <-c.final:
		_ = c.write(msg)
	default:
	}
	deadline := time.Now().Add(c.opts.WriteTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(int(c.closeCode.Load()), ""), deadline)
}
