package dmsconnector

import (
	"context"
	"log/slog"

	"github.com/nugget/dms-connector/internal/wstransport"
)

// wsTransport adapts *wstransport.Transport's exported methods to the
// unexported transport interface this package's Client depends on.
type wsTransport struct {
	t *wstransport.Transport
}

func newWSTransport(url string, logger *slog.Logger) *wsTransport {
	return &wsTransport{t: wstransport.New(url, wstransport.WithLogger(logger))}
}

func (w *wsTransport) connect(ctx context.Context) error                  { return w.t.Connect(ctx) }
func (w *wsTransport) send(ctx context.Context, env map[string]any) error { return w.t.Send(ctx, env) }
func (w *wsTransport) frames() <-chan map[string]any                      { return w.t.Frames() }
func (w *wsTransport) closeErrors() <-chan error                          { return w.t.CloseErrors() }
func (w *wsTransport) close() error                                       { return w.t.Close() }
