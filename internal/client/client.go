// Package client is a small reconnecting websocket client for the hub.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/cuinjune/ar-peggiator/internal/protocol"
)

// ErrNotConnected is returned by Send while no connection is up.
var ErrNotConnected = errors.New("client: not connected")

// Handler receives every envelope read from the hub, in order.
type Handler func(env protocol.Envelope)

// Client dials url and redials after every disconnect.
type Client struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	// MaxElapsed bounds the time spent redialing after a disconnect; zero
	// retries until the context ends.
	MaxElapsed time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// New returns a client for the hub at url (ws:// or wss://).
func New(url string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		dialer: websocket.DefaultDialer,
		logger: logger.With("component", "client", "url", url),
	}
}

// Run connects, streams envelopes to h and reconnects with exponential
// backoff until ctx ends or the retry budget is exhausted.
func (c *Client) Run(ctx context.Context, h Handler) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = c.MaxElapsed

	for {
		var conn *websocket.Conn
		err := backoff.RetryNotify(func() error {
			var err error
			conn, _, err = c.dialer.DialContext(ctx, c.url, nil)
			return err
		}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
			c.logger.Warn("dial failed, retrying", "err", err, "wait", wait)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("connect %s: %w", c.url, err)
		}

		c.logger.Info("connected")
		c.setConn(conn)
		err = c.readLoop(ctx, conn, h)
		c.setConn(nil)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("connection lost", "err", err)
		b.Reset()
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, h Handler) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		env, err := protocol.DecodeEnvelope(msg)
		if err != nil {
			c.logger.Debug("ignoring undecodable frame", "err", err)
			continue
		}
		h(env)
	}
}

// Send writes one inbound event on the current connection.
func (c *Client) Send(typ protocol.Type, data any) error {
	frame, err := protocol.Encode(typ, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}
