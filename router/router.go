// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/openparley/parley/transport"
)

// ErrChannelDisposed is returned by operations on a channel after
// Dispose. Disposal is bookkeeping only — it never unsends anything —
// but a disposed handle is dead and a new one must be made.
var ErrChannelDisposed = errors.New("router: channel disposed")

// Namespace is a routing partition. Group traffic is broadcast-shaped,
// direct traffic is one-to-one; both share the same action vocabulary
// without colliding on the wire.
type Namespace string

const (
	// NamespaceGroup carries traffic addressed to the whole session.
	NamespaceGroup Namespace = "group"
	// NamespaceDirect carries one-to-one traffic.
	NamespaceDirect Namespace = "direct"
)

// progressSuffix extends a channel's wire name for its progress
// sibling, keeping progress updates off the primary handler.
const progressSuffix = ".progress"

// Wire is the slice of the transport the router needs: named-channel
// send and per-channel handler registration.
type Wire interface {
	Send(ctx context.Context, channel string, payload []byte, peerID string) error
	OnReceive(channel string, handler transport.ReceiveHandler)
}

// Router multiplexes typed channels and peer lifecycle hooks over one
// transport session. Each Router owns its channel memo table and hook
// registry; independent sessions never share state.
type Router struct {
	wire   Wire
	logger *slog.Logger

	mu       sync.Mutex
	channels map[string]*Channel
	hooks    map[hookKey][]*hookEntry
}

// New creates a router on the given wire.
func New(wire Wire, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		wire:     wire,
		logger:   logger,
		channels: make(map[string]*Channel),
		hooks:    make(map[hookKey][]*hookEntry),
	}
}

// MakeChannel returns the channel for (namespace, action), creating it
// on first use. Calls with the same pair return the identical handle
// until it is disposed; after disposal the pair maps to a fresh
// channel.
func (r *Router) MakeChannel(action string, namespace Namespace) *Channel {
	key := string(namespace) + "." + action

	r.mu.Lock()
	defer r.mu.Unlock()

	if channel, ok := r.channels[key]; ok {
		return channel
	}
	channel := &Channel{router: r, name: key}
	r.channels[key] = channel
	r.logger.Debug("channel created", "channel", key)
	return channel
}

// Channel is a typed message lane over the transport, identified by
// "namespace.action". Obtain channels through [Router.MakeChannel].
type Channel struct {
	router *Router
	name   string

	mu       sync.Mutex
	disposed bool
}

// Name returns the channel's wire name, "namespace.action".
func (c *Channel) Name() string { return c.name }

// Send delivers payload to the peer with the given ID, or to every
// connected peer when peerID is empty. Delivery guarantees are the
// transport's: best effort, ordered only within this channel.
func (c *Channel) Send(ctx context.Context, payload []byte, peerID string) error {
	if c.isDisposed() {
		return ErrChannelDisposed
	}
	return c.router.wire.Send(ctx, c.name, payload, peerID)
}

// OnReceive registers the channel's primary receive handler. A channel
// has exactly one: a later registration replaces an earlier one at the
// transport level, and nil removes it.
func (c *Channel) OnReceive(handler transport.ReceiveHandler) {
	if c.isDisposed() {
		return
	}
	c.router.wire.OnReceive(c.name, handler)
}

// SendProgress delivers a progress update for a long-running operation
// on this channel (chunked transfers report through these). Progress
// travels on a sibling wire kind so it never displaces the primary
// handler.
func (c *Channel) SendProgress(ctx context.Context, payload []byte, peerID string) error {
	if c.isDisposed() {
		return ErrChannelDisposed
	}
	return c.router.wire.Send(ctx, c.name+progressSuffix, payload, peerID)
}

// OnProgress registers the handler for progress updates. Like
// OnReceive, last registration wins.
func (c *Channel) OnProgress(handler transport.ReceiveHandler) {
	if c.isDisposed() {
		return
	}
	c.router.wire.OnReceive(c.name+progressSuffix, handler)
}

// Dispose removes the channel from the router's memo table and drops
// its transport handlers. Already-sent messages are unaffected.
// Idempotent.
func (c *Channel) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.mu.Unlock()

	r := c.router
	r.mu.Lock()
	// Only remove the memo entry if it still points at this handle; a
	// replacement created after our disposal must not be evicted.
	if current, ok := r.channels[c.name]; ok && current == c {
		delete(r.channels, c.name)
	}
	r.mu.Unlock()

	r.wire.OnReceive(c.name, nil)
	r.wire.OnReceive(c.name+progressSuffix, nil)
	r.logger.Debug("channel disposed", "channel", c.name)
}

func (c *Channel) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}
