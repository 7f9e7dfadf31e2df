// Package hub runs the connection lifecycle and the fan-out of state changes.
//
// A single goroutine (Run) owns the set of live clients and is the only
// writer of the registry and the note store. Each connection has a read pump
// that decodes and validates frames before submitting them, and a write pump
// that drains the connection's send queue. Handling an event is two-phase:
// the mutation happens inside the registry or store (their locks are held
// only for that call), then the resulting messages are enqueued. Enqueueing
// never blocks; a client whose queue is full is evicted as if it had
// disconnected.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuinjune/ar-peggiator/internal/notes"
	"github.com/cuinjune/ar-peggiator/internal/protocol"
	"github.com/cuinjune/ar-peggiator/internal/registry"
)

// ErrHubClosed is returned when submitting to a hub whose Run has returned.
var ErrHubClosed = errors.New("hub: closed")

// Config holds the per-connection limits.
type Config struct {
	SendBuffer      int
	MaxMessageBytes int64
	EventsPerSecond float64
	EventBurst      int
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		SendBuffer:      256,
		MaxMessageBytes: 64 << 10,
		EventsPerSecond: 60,
		EventBurst:      120,
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
	}
}

// Option customizes a Hub.
type Option func(*Hub)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithMetrics sets the metrics sink. Default: metrics registered on a
// private registry.
func WithMetrics(m *Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithPanicHook sets a function called with any panic that escapes a hub
// goroutine (the dispatcher or a connection pump). The panic continues
// after the hook returns.
func WithPanicHook(f func(r any)) Option {
	return func(h *Hub) { h.onPanic = f }
}

type event struct {
	client *Client
	msg    protocol.Inbound
}

// Hub maintains the set of active clients and routes messages between them.
type Hub struct {
	cfg      Config
	registry *registry.Registry
	notes    *notes.Store
	logger   *slog.Logger
	metrics  *Metrics
	onPanic  func(r any)
	upgrader websocket.Upgrader

	// clients is owned by the Run goroutine.
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	events     chan event
	done       chan struct{}
}

// New creates a hub over the given registry and note store.
func New(reg *registry.Registry, store *notes.Store, cfg Config, opts ...Option) *Hub {
	def := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(r *http.Request) bool { return true }
	}

	h := &Hub{
		cfg:        cfg,
		registry:   reg,
		notes:      store,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan event),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("component", "hub")
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     cfg.CheckOrigin,
	}
	return h
}

// Run processes joins, leaves and events until ctx is cancelled. On return
// every remaining client's send queue is closed, which makes its write pump
// send a close frame.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.guard()
	h.metrics.Notes.Set(float64(h.notes.Len()))
	h.logger.Info("hub started", "notes", h.notes.Len())

	for {
		select {
		case c := <-h.register:
			h.join(c)
		case c := <-h.unregister:
			h.leave(c, "disconnect")
		case ev := <-h.events:
			h.handle(ev)
		case <-ctx.Done():
			for id, c := range h.clients {
				delete(h.clients, id)
				h.registry.Remove(id)
				c.setState(StateClosed)
				close(c.send)
			}
			h.metrics.ActiveConnections.Set(0)
			h.logger.Info("hub stopped")
			return
		}
	}
}

// guard is deferred at the top of every goroutine the hub starts.
func (h *Hub) guard() {
	if r := recover(); r != nil {
		h.logger.Error("fatal panic", "panic", fmt.Sprint(r))
		if h.onPanic != nil {
			h.onPanic(r)
		}
		panic(r)
	}
}

// tokenInterval is how long the rate limiter takes to free one token.
func (h *Hub) tokenInterval() time.Duration {
	if h.cfg.EventsPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / h.cfg.EventsPerSecond)
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Register queues c to join. It returns ErrHubClosed once Run has returned.
func (h *Hub) Register(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Unregister queues c to leave. Leaving twice is a no-op.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Submit queues a decoded inbound message from c.
func (h *Hub) Submit(c *Client, msg protocol.Inbound) error {
	select {
	case h.events <- event{client: c, msg: msg}:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) join(c *Client) {
	state, err := h.registry.Register(c.id)
	if err != nil {
		h.logger.Error("refusing connection", "conn", c.id, "err", err)
		c.setState(StateClosed)
		close(c.send)
		return
	}
	h.clients[c.id] = c
	c.setState(StateActive)
	h.metrics.ConnectionsTotal.Inc()
	h.metrics.ActiveConnections.Set(float64(len(h.clients)))

	peers := h.registry.Snapshot()
	delete(peers, c.id)
	total := len(peers) + 1

	c.logger.Info("connected", "connections", total)
	h.dispatch(
		delivery{audience: toSender, origin: c, typ: protocol.TypeIntroduction, data: protocol.Introduction{
			SelfID: c.id,
			Peers:  peers,
			Notes:  protocol.NonNilNotes(h.notes.List()),
		}},
		delivery{audience: toOthers, origin: c, typ: protocol.TypePeerJoined, data: protocol.PeerJoined{
			PeerID: c.id,
			State:  state,
			Total:  total,
		}},
	)
}

func (h *Hub) leave(c *Client, reason string) {
	if !h.detach(c) {
		return
	}
	c.logger.Info("disconnected", "reason", reason, "connections", len(h.clients))
	h.announceLeave(c)
}

// detach removes c from every live structure. It reports false if c had
// already been removed.
func (h *Hub) detach(c *Client) bool {
	if cur, ok := h.clients[c.id]; !ok || cur != c {
		return false
	}
	delete(h.clients, c.id)
	h.registry.Remove(c.id)
	c.setState(StateClosed)
	close(c.send)
	h.metrics.ActiveConnections.Set(float64(len(h.clients)))
	return true
}

func (h *Hub) announceLeave(c *Client) {
	h.dispatch(delivery{audience: toAll, typ: protocol.TypePeerLeft, data: protocol.PeerLeft{
		PeerID: c.id,
		Total:  len(h.clients),
	}})
}

func (h *Hub) handle(ev event) {
	c := ev.client
	typ := string(ev.msg.Type())
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panic", "type", typ, "panic", fmt.Sprint(r))
			h.metrics.InboundEvents.WithLabelValues(typ, outcomePanic).Inc()
		}
	}()

	if cur, ok := h.clients[c.id]; !ok || cur != c {
		// The connection left while this event was in flight.
		h.metrics.InboundEvents.WithLabelValues(typ, outcomeStale).Inc()
		return
	}

	var outcome string
	switch msg := ev.msg.(type) {
	case *protocol.UpdateState:
		outcome = h.updateState(c, msg)
	case *protocol.AddNote:
		outcome = h.addNote(c, msg)
	case *protocol.UpdateNote:
		outcome = h.updateNote(c, msg)
	case *protocol.DeleteNotes:
		outcome = h.deleteNotes(c, msg)
	default:
		outcome = outcomeInvalid
	}
	h.metrics.InboundEvents.WithLabelValues(typ, outcome).Inc()
}

func (h *Hub) updateState(c *Client, msg *protocol.UpdateState) string {
	state, ok := h.registry.Update(c.id, msg.Partial())
	if !ok {
		return outcomeStale
	}
	h.dispatch(
		delivery{audience: toSender, origin: c, typ: protocol.TypeStateEcho, data: protocol.StateEcho{
			Peers: h.registry.Snapshot(),
		}},
		delivery{audience: toOthers, origin: c, typ: protocol.TypePeerMoved, data: protocol.PeerMoved{
			PeerID: c.id,
			State:  state,
		}},
	)
	return outcomeAccepted
}

func (h *Hub) addNote(c *Client, msg *protocol.AddNote) string {
	n, err := h.notes.Add(msg.Color, msg.Vec())
	if err != nil {
		c.logger.Warn("note rejected", "err", err)
		return outcomeRejected
	}
	h.metrics.Notes.Set(float64(h.notes.Len()))
	h.dispatch(
		delivery{audience: toSender, origin: c, typ: protocol.TypeNoteCreated, data: protocol.NoteCreated{
			Note: n,
			Ref:  msg.Ref,
		}},
		h.noteListChanged(),
	)
	return outcomeAccepted
}

func (h *Hub) updateNote(c *Client, msg *protocol.UpdateNote) string {
	if _, err := h.notes.Update(msg.ID, msg.Color, msg.Vec()); err != nil {
		c.logger.Debug("note update ignored", "note", msg.ID, "err", err)
		return outcomeNotFound
	}
	h.dispatch(h.noteListChanged())
	return outcomeAccepted
}

func (h *Hub) deleteNotes(c *Client, msg *protocol.DeleteNotes) string {
	if h.notes.RemoveMany(msg.IDs) == 0 {
		return outcomeNoop
	}
	h.metrics.Notes.Set(float64(h.notes.Len()))
	h.dispatch(h.noteListChanged())
	return outcomeAccepted
}

func (h *Hub) noteListChanged() delivery {
	return delivery{audience: toAll, typ: protocol.TypeNoteListChanged, data: protocol.NoteListChanged{
		Notes: protocol.NonNilNotes(h.notes.List()),
	}}
}
