package hub

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/cuinjune/ar-peggiator/internal/protocol"
)

// State is the lifecycle state of a connection.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

// Client is one connected peer. conn is nil for clients driven directly
// through Register and Submit.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	state   atomic.Int32
	limiter *rate.Limiter
	logger  *slog.Logger

	poseMu      sync.Mutex
	pendingPose *protocol.UpdateState
	poseTimer   *time.Timer
}

// NewClient creates a client in the connecting state.
func (h *Hub) NewClient(conn *websocket.Conn) *Client {
	id := uuid.NewString()
	limit := rate.Inf
	if h.cfg.EventsPerSecond > 0 {
		limit = rate.Limit(h.cfg.EventsPerSecond)
	}
	burst := h.cfg.EventBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		id:      id,
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, h.cfg.SendBuffer),
		limiter: rate.NewLimiter(limit, burst),
		logger:  h.logger.With("conn", id),
	}
}

// ID returns the server-assigned connection identity.
func (c *Client) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

// Messages exposes the send queue. It is closed when the client leaves.
func (c *Client) Messages() <-chan []byte { return c.send }

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := h.NewClient(conn)
	if err := h.Register(c); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump decodes frames and submits them to the hub. Malformed frames and
// rate-limited note edits are dropped here, before they reach shared state.
// Any read error, graceful or not, ends the connection the same way.
func (c *Client) readPump() {
	h := c.hub
	defer h.guard()
	defer func() {
		c.dropPendingPose()
		h.Unregister(c)
		c.conn.Close()
	}()

	pongWait := 2 * h.cfg.PingInterval
	c.conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("read ended", "err", err)
			}
			return
		}
		msg, err := protocol.Decode(message)
		if err != nil {
			typ := "unknown"
			if errors.Is(err, protocol.ErrInvalid) {
				if env, envErr := protocol.DecodeEnvelope(message); envErr == nil {
					typ = string(env.Type)
				}
			}
			h.metrics.InboundEvents.WithLabelValues(typ, outcomeInvalid).Inc()
			c.logger.Debug("dropping malformed event", "err", err)
			continue
		}

		pose, isPose := msg.(*protocol.UpdateState)
		if !c.limiter.Allow() {
			if isPose {
				c.deferPose(pose)
				h.metrics.InboundEvents.WithLabelValues(string(msg.Type()), outcomeCoalesced).Inc()
			} else {
				h.metrics.InboundEvents.WithLabelValues(string(msg.Type()), outcomeRateLimited).Inc()
			}
			continue
		}
		if isPose {
			err = c.submitPose(pose)
		} else {
			err = h.Submit(c, msg)
		}
		if err != nil {
			return
		}
	}
}

// submitPose submits m and discards any older held pose. poseMu keeps a
// flushed pose from overtaking a newer one.
func (c *Client) submitPose(m *protocol.UpdateState) error {
	c.poseMu.Lock()
	defer c.poseMu.Unlock()
	c.pendingPose = nil
	return c.hub.Submit(c, m)
}

// deferPose holds m until a limiter token frees up. Only the newest held
// pose is kept, so peers always end on the latest pose.
func (c *Client) deferPose(m *protocol.UpdateState) {
	c.poseMu.Lock()
	defer c.poseMu.Unlock()
	c.pendingPose = m
	if c.poseTimer == nil {
		c.poseTimer = time.AfterFunc(c.hub.tokenInterval(), c.flushPose)
	}
}

func (c *Client) flushPose() {
	defer c.hub.guard()
	c.poseMu.Lock()
	defer c.poseMu.Unlock()
	c.poseTimer = nil
	m := c.pendingPose
	if m == nil || c.State() == StateClosed {
		c.pendingPose = nil
		return
	}
	if !c.limiter.Allow() {
		c.poseTimer = time.AfterFunc(c.hub.tokenInterval(), c.flushPose)
		return
	}
	c.pendingPose = nil
	_ = c.hub.Submit(c, m)
}

func (c *Client) dropPendingPose() {
	c.poseMu.Lock()
	defer c.poseMu.Unlock()
	if c.poseTimer != nil {
		c.poseTimer.Stop()
		c.poseTimer = nil
	}
	c.pendingPose = nil
}

// writePump drains the send queue to the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	h := c.hub
	defer h.guard()
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
