// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream serializes media stream attachment to the transport.
//
// The transport delivers a stream's metadata and its raw media as
// separate messages that race independently. If a second attach is
// issued before the first attach's metadata has propagated, a receiver
// can associate metadata with the wrong stream. The [Coordinator]
// eliminates that race by construction: every attach goes through one
// FIFO queue, runs alone, and is followed by a quiescence delay before
// the next queued task may start.
//
// Detachment is exempt. It carries no metadata message, so no ordering
// hazard exists and [Coordinator.RemoveStream] bypasses the queue.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/openparley/parley/lib/clock"
	"github.com/openparley/parley/transport"
)

// DefaultQuiescence is the settling window inserted after each attach,
// sized for metadata to cross the wire well ahead of the next attach.
const DefaultQuiescence = time.Second

// ErrClosed is returned by operations on a closed Coordinator.
var ErrClosed = errors.New("stream: coordinator closed")

// Attacher is the slice of the transport the coordinator drives.
type Attacher interface {
	AttachStream(ctx context.Context, stream transport.MediaStream, peers []string, metadata transport.StreamMetadata) error
	DetachStream(stream transport.MediaStream, peers []string) error
}

// Config configures a Coordinator.
type Config struct {
	// Attacher performs the actual attach and detach. Required.
	Attacher Attacher

	// Quiescence is the delay after each attach. Zero means
	// DefaultQuiescence.
	Quiescence time.Duration

	// Clock drives the quiescence delay. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives queue diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// Coordinator owns the attach queue for one session. Tasks run
// strictly FIFO, one at a time, on a single worker goroutine that
// lives only while the queue is non-empty.
type Coordinator struct {
	attacher   Attacher
	quiescence time.Duration
	clock      clock.Clock
	logger     *slog.Logger

	mu       sync.Mutex
	queue    []task
	draining bool
	closed   bool
}

// task is one queued unit of work: an attach when stream is non-nil,
// otherwise a delay.
type task struct {
	stream   transport.MediaStream
	peers    []string
	metadata transport.StreamMetadata
	delay    time.Duration
}

// New creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Attacher == nil {
		return nil, errors.New("stream: Config.Attacher is required")
	}
	if cfg.Quiescence == 0 {
		cfg.Quiescence = DefaultQuiescence
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		attacher:   cfg.Attacher,
		quiescence: cfg.Quiescence,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}, nil
}

// AddStream enqueues an attach of stream for the given peers (all
// connected peers when empty) carrying metadata, followed by the
// quiescence delay. The attach of a later AddStream never starts
// before an earlier one's delay has elapsed.
func (c *Coordinator) AddStream(stream transport.MediaStream, peers []string, metadata transport.StreamMetadata) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue,
		task{stream: stream, peers: peers, metadata: metadata},
		task{delay: c.quiescence},
	)
	start := !c.draining
	if start {
		c.draining = true
	}
	c.mu.Unlock()

	if start {
		go c.drain()
	}
	return nil
}

// RemoveStream detaches stream from the given peers immediately,
// independent of any queued attach tasks.
func (c *Coordinator) RemoveStream(stream transport.MediaStream, peers []string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.attacher.DetachStream(stream, peers)
}

// Cleanup discards every task that has not started. A task already
// executing finishes; the queue is empty when it does.
func (c *Coordinator) Cleanup() {
	c.mu.Lock()
	dropped := len(c.queue)
	c.queue = nil
	c.mu.Unlock()
	if dropped > 0 {
		c.logger.Debug("queued stream tasks dropped", "count", dropped)
	}
}

// Close discards pending tasks and rejects further use.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closed = true
	c.queue = nil
	c.mu.Unlock()
	return nil
}

// drain runs queued tasks one at a time until the queue is empty.
// Exactly one drain goroutine exists while it is; c.draining guards
// the invariant.
func (c *Coordinator) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 || c.closed {
			c.draining = false
			c.mu.Unlock()
			return
		}
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if next.stream != nil {
			err := c.attacher.AttachStream(context.Background(), next.stream, next.peers, next.metadata)
			if err != nil {
				// A failed attach does not poison the queue; later
				// streams still get their chance.
				c.logger.Warn("stream attach failed",
					"stream", next.stream.StreamID(), "error", err)
			}
		} else {
			<-c.clock.After(next.delay)
		}
	}
}
