package dmsconnector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Defaults for operation timeouts and dispatcher sizing (spec §5).
const (
	DefaultTimeout       = 300 * time.Second
	DefaultReadyTimeout  = 60 * time.Second
	DefaultEventQueue    = 256
	DefaultQueueWarnSize = 100
	DefaultCallbackWarn  = 10 * time.Second
)

// Client is a connected DMS JSON Data Exchange session. One Client owns
// one transport connection; construct with New and Connect before
// issuing commands.
type Client struct {
	url   string
	whois string
	user  string

	logger *slog.Logger

	timeout      time.Duration
	readyTimeout time.Duration

	transport transport
	tags      *tagTable
	subs      *subscriptionRegistry
	disp      *dispatcher

	readyCh chan struct{}

	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// ClientOption configures a Client built by New.
type ClientOption func(*Client)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithTimeout overrides the default per-operation timeout of DefaultTimeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithReadyTimeout overrides DefaultReadyTimeout: how long Connect waits
// for the transport to connect, and how long an operation waits for the
// client to become ready to send before returning ErrNotReady.
func WithReadyTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.readyTimeout = d }
}

// WithEventQueue overrides the dispatcher's queue depth and the
// edge-triggered warning threshold logged when it is exceeded.
func WithEventQueue(size, warnSize int) ClientOption {
	return func(c *Client) {
		c.disp = newDispatcher(c.logger, size, warnSize, DefaultCallbackWarn)
	}
}

// withTransport substitutes a fake transport; used by tests.
func withTransport(tr transport) ClientOption {
	return func(c *Client) { c.transport = tr }
}

// New constructs a Client for the given "ws://" or "wss://" URL. whois
// (application identifier) and user (user identity) are fixed for the
// life of the connection and replayed verbatim in every envelope (spec
// §3, §6, "Identity"). Call Connect before issuing any command.
func New(url, whois, user string, opts ...ClientOption) *Client {
	c := &Client{
		url:          url,
		whois:        whois,
		user:         user,
		logger:       slog.Default(),
		timeout:      DefaultTimeout,
		readyTimeout: DefaultReadyTimeout,
		tags:         newTagTable(),
		subs:         newSubscriptionRegistry(),
		readyCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.disp == nil {
		c.disp = newDispatcher(c.logger, DefaultEventQueue, DefaultQueueWarnSize, DefaultCallbackWarn)
	}
	if c.transport == nil {
		c.transport = newWSTransport(url, c.logger)
	}
	return c
}

// Connect dials the server, starts the background read-dispatch
// goroutine and the event dispatcher, and waits up to the configured
// ready timeout for the transport to come up (spec §4.7, §5).
func (c *Client) Connect(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, c.readyTimeout)
	defer cancel()

	if err := c.transport.connect(readyCtx); err != nil {
		return fmt.Errorf("dmsconnector: connect: %w", err)
	}
	close(c.readyCh)

	c.dispatchCtx, c.dispatchCancel = context.WithCancel(context.Background())
	go c.disp.run(c.dispatchCtx)
	go c.readLoop()

	return nil
}

func (c *Client) readLoop() {
	for {
		select {
		case raw, ok := <-c.transport.frames():
			if !ok {
				c.handleTransportClosed()
				return
			}
			c.handleFrame(raw)
		case err := <-c.transport.closeErrors():
			c.logger.Error("dmsconnector: transport error", "error", err)
		}
	}
}

func (c *Client) handleFrame(raw map[string]any) {
	groups, events, err := decodeFrame(raw)
	if err != nil {
		c.logger.Error("dmsconnector: protocol error decoding frame", "error", err)
		return
	}

	for tag, list := range groups {
		if tag == "" {
			c.logger.Warn("dmsconnector: dropping untagged reply")
			continue
		}
		if !c.tags.complete(tag, list) {
			c.logger.Debug("dmsconnector: dropping reply for unknown tag", "tag", tag)
		}
	}

	for _, ev := range events {
		entry, ok := c.subs.lookup(ev.Tag)
		if !ok {
			c.logger.Debug("dmsconnector: dropping event for unknown subscription", "tag", ev.Tag, "path", ev.Path)
			continue
		}
		c.disp.enqueue(queuedEvent{entry: entry, event: ev})
	}
}

func (c *Client) handleTransportClosed() {
	c.logger.Info("dmsconnector: transport closed")
	c.tags.drain()
}

// Close tears down the connection, stops the dispatcher, and fails any
// in-flight operation with ErrClosed (spec §5, "Shutdown").
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.transport.close()
	c.tags.drain()
	c.subs.closeAll()
	if c.dispatchCancel != nil {
		c.dispatchCancel()
	}
	return err
}

// waitReady blocks until the transport is ready to send, ctx is done, or
// the client is closed.
func (c *Client) waitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return nil
}

// send reserves a tag for cmd, transmits it as a single-command
// envelope, and blocks for its response group.
func (c *Client) send(ctx context.Context, cmd preparedCommand) (responseGroup, error) {
	return c.sendWithTag(ctx, "", cmd)
}

// sendWithTag is send, but reuses want as the correlation tag instead of
// minting a new one — used for subscribe/unsubscribe pairs that must
// share a tag (spec §4.5).
func (c *Client) sendWithTag(ctx context.Context, want string, cmd preparedCommand) (responseGroup, error) {
	readyCtx, readyCancel := context.WithTimeout(ctx, c.readyTimeout)
	err := c.waitReady(readyCtx)
	readyCancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrNotReady
		}
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tag := c.tags.reserve(want)

	req := newRequest(c.whois, c.user)
	req.add(tag, cmd)

	if err := c.transport.send(opCtx, req.encode()); err != nil {
		return nil, fmt.Errorf("dmsconnector: send %s: %w", cmd.verb, err)
	}

	list, err := c.tags.take(opCtx, tag)
	if err != nil {
		return nil, err
	}
	return list, nil
}

func firstResponse[T Response](list responseGroup) (T, error) {
	var zero T
	if len(list) == 0 {
		return zero, fmt.Errorf("dmsconnector: empty response for tag")
	}
	r, ok := list[0].(T)
	if !ok {
		return zero, fmt.Errorf("dmsconnector: unexpected response type %T", list[0])
	}
	return r, nil
}

// DpGet issues a "get" command (spec §4.2, §8).
func (c *Client) DpGet(ctx context.Context, path string, opts GetOptions) (*RespGet, error) {
	cmd, err := buildGet(path, opts)
	if err != nil {
		return nil, err
	}
	list, err := c.send(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return firstResponse[*RespGet](list)
}

// DpSet issues a "set" command (spec §4.2, §8).
func (c *Client) DpSet(ctx context.Context, path string, value any, opts SetOptions) (*RespSet, error) {
	cmd, err := buildSet(path, value, opts)
	if err != nil {
		return nil, err
	}
	list, err := c.send(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return firstResponse[*RespSet](list)
}

// DpRen issues a "rename" command (spec §4.2, §8).
func (c *Client) DpRen(ctx context.Context, path, newPath string) (*RespRen, error) {
	cmd, err := buildRename(path, newPath)
	if err != nil {
		return nil, err
	}
	list, err := c.send(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return firstResponse[*RespRen](list)
}

// DpDel issues a "delete" command (spec §4.2, §8).
func (c *Client) DpDel(ctx context.Context, path string, opts DeleteOptions) (*RespDel, error) {
	cmd, err := buildDelete(path, opts)
	if err != nil {
		return nil, err
	}
	list, err := c.send(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return firstResponse[*RespDel](list)
}

// GetDPSubscription issues a "subscribe" command and, on success,
// registers listener to receive its events until Unsubscribe is called.
// Unlike the operations that return a typed response, a non-ok response
// is returned as an error wrapping both ErrSubscriptionFailed and the
// underlying *ServerError, since no usable Subscription exists to return
// otherwise (spec §7, "Server-signalled failure" exception).
func (c *Client) GetDPSubscription(ctx context.Context, path string, opts SubscribeOptions, listener Listener) (*Subscription, error) {
	cmd, err := buildSubscribe(path, opts)
	if err != nil {
		return nil, err
	}
	list, err := c.send(ctx, cmd)
	if err != nil {
		return nil, err
	}
	resp, err := firstResponse[*RespSub](list)
	if err != nil {
		return nil, err
	}
	if se := resp.ServerErr(); se != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscriptionFailed, se)
	}

	sub := newSubscription(resp.Tag, path)
	c.subs.register(sub, listener)
	return sub, nil
}

// Unsubscribe cancels a subscription, reusing its tag as the
// correlation tag for the "unsubscribe" command (spec §4.5).
func (c *Client) Unsubscribe(ctx context.Context, sub *Subscription) error {
	c.subs.unregister(sub.Tag)

	cmd, err := buildUnsubscribe(sub.Path)
	if err != nil {
		return err
	}
	list, err := c.sendWithTag(ctx, sub.Tag, cmd)
	if err != nil {
		return err
	}
	resp, err := firstResponse[*RespUnsub](list)
	if err != nil {
		return err
	}
	if se := resp.ServerErr(); se != nil {
		return se
	}
	return nil
}

// ChangelogGetGroups issues a tag-less "changelogGetGroups" command
// (spec §4.3, §8).
func (c *Client) ChangelogGetGroups(ctx context.Context) (*RespChangelogGetGroups, error) {
	cmd, err := buildChangelogGetGroups()
	if err != nil {
		return nil, err
	}
	list, err := c.send(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return firstResponse[*RespChangelogGetGroups](list)
}

// ChangelogRead issues a "changelogRead" command (spec §4.2, §8).
func (c *Client) ChangelogRead(ctx context.Context, path string, start any, opts ChangelogReadOptions) (*RespChangelogRead, error) {
	cmd, err := buildChangelogRead(path, start, opts)
	if err != nil {
		return nil, err
	}
	list, err := c.send(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return firstResponse[*RespChangelogRead](list)
}
