// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openparley/parley/lib/clock"
	"github.com/openparley/parley/lib/rsaseal"
	"github.com/openparley/parley/router"
	"github.com/openparley/parley/stream"
	"github.com/openparley/parley/transport"
	"github.com/openparley/parley/verify"
)

// Config configures a Session.
type Config struct {
	// Transport carries the session's channels, streams, and peer
	// events. Required. The session takes ownership and closes it.
	Transport transport.Transport

	// Cipher is the asymmetric primitive for peer verification.
	// Defaults to rsaseal.Sealer.
	Cipher verify.Cipher

	// LocalPrivateKey answers inbound verification challenges.
	LocalPrivateKey crypto.PrivateKey

	// VerifyTimeout bounds each verification attempt. Zero means
	// verify.DefaultTimeout.
	VerifyTimeout time.Duration

	// QuiesceDelay is the settle time between consecutive stream
	// attaches. Zero means stream.DefaultQuiescence.
	QuiesceDelay time.Duration

	// AutoVerify initiates verification when a peer joins and a
	// public key for it is already registered.
	AutoVerify bool

	// Clock drives the session's timers. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives diagnostics from the session and every
	// component it owns. Defaults to slog.Default.
	Logger *slog.Logger
}

// Session composes the channel router, stream coordinator,
// verification engine, and connection classifier over one transport.
// Each Session owns its component state; independent sessions share
// nothing.
type Session struct {
	transport   transport.Transport
	router      *router.Router
	coordinator *stream.Coordinator
	engine      *verify.Engine
	classifier  *classifier
	autoVerify  bool
	logger      *slog.Logger
}

// New builds a Session and subscribes it to the transport's peer
// events.
func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, errors.New("session: Config.Transport is required")
	}
	if cfg.Cipher == nil {
		cfg.Cipher = rsaseal.Sealer{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := router.New(cfg.Transport, cfg.Logger)
	engine, err := verify.New(verify.Config{
		Router:          r,
		Cipher:          cfg.Cipher,
		LocalPrivateKey: cfg.LocalPrivateKey,
		Timeout:         cfg.VerifyTimeout,
		Clock:           cfg.Clock,
		Logger:          cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building verification engine: %w", err)
	}
	coordinator, err := stream.New(stream.Config{
		Attacher:   cfg.Transport,
		Quiescence: cfg.QuiesceDelay,
		Clock:      cfg.Clock,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building stream coordinator: %w", err)
	}

	s := &Session{
		transport:   cfg.Transport,
		router:      r,
		coordinator: coordinator,
		engine:      engine,
		classifier:  &classifier{transport: cfg.Transport, logger: cfg.Logger},
		autoVerify:  cfg.AutoVerify,
		logger:      cfg.Logger,
	}
	cfg.Transport.OnPeerEvent(s.handlePeerEvent)
	return s, nil
}

// handlePeerEvent runs the session's own bookkeeping for a transport
// event, then fans it out to every registered lifecycle handler.
func (s *Session) handlePeerEvent(event transport.PeerEvent) {
	switch event.Kind {
	case transport.PeerJoined:
		if s.autoVerify {
			if key, ok := s.engine.PublicKey(event.PeerID); ok {
				if err := s.engine.Initiate(context.Background(), event.PeerID, key, nil); err != nil {
					s.logger.Warn("auto-verification failed to start",
						"peer", event.PeerID, "error", err)
				}
			}
		}
	case transport.PeerLeft:
		s.engine.RemovePeer(event.PeerID)
	}
	s.router.Trigger(router.AllCategories, event)
}

// MakeChannel returns the channel for (action, namespace), creating it
// on first use.
func (s *Session) MakeChannel(action string, namespace router.Namespace) *router.Channel {
	return s.router.MakeChannel(action, namespace)
}

// OnEvent registers a peer lifecycle handler under a category.
func (s *Session) OnEvent(category string, kind transport.PeerEventKind, handler transport.PeerEventHandler) {
	s.router.OnEvent(category, kind, handler)
}

// FlushCategory removes every lifecycle handler registered under a
// category.
func (s *Session) FlushCategory(category string) {
	s.router.FlushCategory(category)
}

// RegisterPublicKey records a peer's claimed public key for later
// verification.
func (s *Session) RegisterPublicKey(peerID string, key crypto.PublicKey) {
	s.engine.RegisterPublicKey(peerID, key)
}

// InitiateVerification challenges a peer using its registered public
// key. The outcome lands in VerificationState when the peer answers or
// the attempt times out.
func (s *Session) InitiateVerification(ctx context.Context, peerID string) error {
	key, ok := s.engine.PublicKey(peerID)
	if !ok {
		return fmt.Errorf("session: no registered public key for peer %s", peerID)
	}
	return s.engine.Initiate(ctx, peerID, key, nil)
}

// VerificationState returns the peer's verification state.
func (s *Session) VerificationState(peerID string) verify.State {
	return s.engine.State(peerID)
}

// IsVerified reports whether the peer has proven key possession.
func (s *Session) IsVerified(peerID string) bool {
	return s.engine.IsVerified(peerID)
}

// VerifiedPeers returns the IDs of all verified peers, sorted.
func (s *Session) VerifiedPeers() []string {
	return s.engine.VerifiedPeers()
}

// RemovePeer drops the peer's verification session and registered key.
func (s *Session) RemovePeer(peerID string) {
	s.engine.RemovePeer(peerID)
}

// AddStream queues a media stream for attachment. Attaches run
// strictly in order with a settle delay between them.
func (s *Session) AddStream(media transport.MediaStream, peers []string, metadata transport.StreamMetadata) error {
	return s.coordinator.AddStream(media, peers, metadata)
}

// RemoveStream detaches a media stream immediately, ahead of any
// queued attaches.
func (s *Session) RemoveStream(media transport.MediaStream, peers []string) error {
	return s.coordinator.RemoveStream(media, peers)
}

// ConnectionTypes classifies every connected peer as DIRECT or RELAY
// from live transport statistics. Peers whose statistics cannot be
// read are omitted.
func (s *Session) ConnectionTypes(ctx context.Context) map[string]ConnectionType {
	return s.classifier.connectionTypes(ctx)
}

// ConnectedPeers returns the transport's connected peer IDs.
func (s *Session) ConnectedPeers() []string {
	return s.transport.ConnectedPeers()
}

// Close tears down the session's components and the transport.
func (s *Session) Close() error {
	return errors.Join(
		s.coordinator.Close(),
		s.engine.Close(),
		s.transport.Close(),
	)
}
