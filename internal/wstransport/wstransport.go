// Package wstransport is the gorilla/websocket-backed transport for the
// DMS JSON Data Exchange protocol: it dials the server, decodes each
// incoming text frame as a JSON object, and hands it to the caller over
// a channel, isolated from whatever the caller does with it.
package wstransport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport dials one DMS server over WebSocket. The zero value is not
// usable; construct with New.
type Transport struct {
	url    string
	logger *slog.Logger

	dialer *websocket.Dialer

	connMu sync.Mutex
	conn   *websocket.Conn

	frameCh chan map[string]any
	errCh   chan error
	closeMu sync.Mutex
	closed  bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New builds a Transport for the given "ws://" or "wss://" URL.
func New(url string, opts ...Option) *Transport {
	t := &Transport{
		url:    url,
		logger: slog.Default(),
		dialer: &websocket.Dialer{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		frameCh: make(chan map[string]any, 64),
		errCh:   make(chan error, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Connect dials the server and starts the background read loop. The
// DMS protocol has no post-connect handshake: the connection is ready
// for commands as soon as the dial succeeds (spec §4.7, "Connect").
func (t *Transport) Connect(ctx context.Context) error {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, http.Header{})
	if err != nil {
		return fmt.Errorf("wstransport: dial %s: %w", t.url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	conn.SetReadLimit(64 * 1024 * 1024)

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	go t.readLoop(conn)
	return nil
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	defer close(t.frameCh)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Debug("wstransport: connection closed", "error", err)
			} else {
				t.reportError(fmt.Errorf("wstransport: read: %w", err))
			}
			return
		}

		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.logger.Warn("wstransport: dropping unparseable frame", "error", err)
			continue
		}

		t.frameCh <- frame
	}
}

func (t *Transport) reportError(err error) {
	select {
	case t.errCh <- err:
	default:
	}
}

// Send marshals envelope and writes it as a single text frame.
func (t *Transport) Send(ctx context.Context, envelope map[string]any) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("wstransport: encode envelope: %w", err)
	}

	// connMu is held for the whole write: gorilla/websocket allows only
	// one concurrent writer per connection.
	t.connMu.Lock()
	defer t.connMu.Unlock()
	conn := t.conn
	if conn == nil {
		return fmt.Errorf("wstransport: send before connect")
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Time{})
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("wstransport: write: %w", err)
	}
	return nil
}

// Frames returns the channel of decoded incoming frames.
func (t *Transport) Frames() <-chan map[string]any { return t.frameCh }

// CloseErrors returns the channel carrying the fatal read error, if any.
func (t *Transport) CloseErrors() <-chan error { return t.errCh }

// Close closes the underlying connection. Safe to call more than once.
func (t *Transport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}
