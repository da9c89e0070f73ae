// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package verify

import (
	"context"
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openparley/parley/lib/clock"
	"github.com/openparley/parley/lib/codec"
	"github.com/openparley/parley/router"
)

// DefaultTimeout is how long an initiated verification waits for a
// response before resolving to Unverified.
const DefaultTimeout = 30 * time.Second

// DefaultTokenSize is the challenge token length in random bytes
// before hex encoding.
const DefaultTokenSize = 32

// State is a peer's verification state. The zero value is Unverified:
// a peer with no session and a peer that failed verification look the
// same to callers.
type State int

const (
	// StateUnverified means the peer has not proven key possession:
	// never challenged, failed the challenge, or timed out.
	StateUnverified State = iota
	// StateVerifying means a challenge is outstanding.
	StateVerifying
	// StateVerified means the peer echoed the challenge token
	// correctly.
	StateVerified
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateVerifying:
		return "verifying"
	case StateVerified:
		return "verified"
	default:
		return "unverified"
	}
}

// Cipher is the asymmetric primitive the engine runs on. The engine
// treats keys and ciphertexts as opaque; rsaseal.Sealer is the
// production implementation.
type Cipher interface {
	// Encrypt seals plaintext to the holder of the private key paired
	// with pub.
	Encrypt(pub crypto.PublicKey, plaintext []byte) ([]byte, error)

	// Decrypt opens ciphertext with priv.
	Decrypt(priv crypto.PrivateKey, ciphertext []byte) ([]byte, error)
}

// Config configures an Engine.
type Config struct {
	// Router supplies the engine's two wire channels. Required.
	Router *router.Router

	// Cipher is the asymmetric primitive. Required.
	Cipher Cipher

	// LocalPrivateKey answers inbound challenges. May be nil if this
	// side only initiates and a key is supplied via Initiate.
	LocalPrivateKey crypto.PrivateKey

	// Timeout bounds each verification attempt. Zero means
	// DefaultTimeout; negative is invalid.
	Timeout time.Duration

	// TokenSize is the challenge token length in bytes before hex
	// encoding. Zero means DefaultTokenSize.
	TokenSize int

	// Clock drives timeouts. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives engine diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// Engine runs the challenge-response state machine for one session.
// Each Engine owns its session table and public-key registry;
// independent sessions never share state.
type Engine struct {
	cipher    Cipher
	timeout   time.Duration
	tokenSize int
	clock     clock.Clock
	logger    *slog.Logger

	requests  *router.Channel
	responses *router.Channel

	mu         sync.Mutex
	sessions   map[string]*session
	keys       map[string]crypto.PublicKey
	localKey   crypto.PrivateKey
	generation uint64
}

// session is one live verification attempt. Exactly one exists per
// peer; re-initiating replaces it.
type session struct {
	state     State
	token     string
	requestID string
	createdAt time.Time

	// generation stamps the session so the timer it armed can detect
	// that it has been superseded and no-op.
	generation uint64
	timer      *clock.Timer
}

// New creates an Engine and registers its handlers on the router's
// verification channels.
func New(cfg Config) (*Engine, error) {
	if cfg.Router == nil {
		return nil, errors.New("verify: Config.Router is required")
	}
	if cfg.Cipher == nil {
		return nil, errors.New("verify: Config.Cipher is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("verify: negative timeout %s", cfg.Timeout)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TokenSize == 0 {
		cfg.TokenSize = DefaultTokenSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Engine{
		cipher:    cfg.Cipher,
		timeout:   cfg.Timeout,
		tokenSize: cfg.TokenSize,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		requests:  cfg.Router.MakeChannel(requestAction, router.NamespaceDirect),
		responses: cfg.Router.MakeChannel(responseAction, router.NamespaceDirect),
		sessions:  make(map[string]*session),
		keys:      make(map[string]crypto.PublicKey),
		localKey:  cfg.LocalPrivateKey,
	}
	e.requests.OnReceive(e.handleRequest)
	e.responses.OnReceive(e.handleResponse)
	return e, nil
}

// Initiate challenges peerID to prove possession of the private key
// paired with peerKey. Any prior session for the peer is replaced and
// its timer invalidated. localKey, when non-nil, becomes the key this
// engine answers inbound challenges with; callers that configured
// LocalPrivateKey may pass nil.
//
// Initiate returns once the challenge is sent; the outcome lands in
// the session table when the response arrives or the timeout fires.
func (e *Engine) Initiate(ctx context.Context, peerID string, peerKey crypto.PublicKey, localKey crypto.PrivateKey) error {
	if peerID == "" {
		return errors.New("verify: empty peer ID")
	}
	if peerKey == nil {
		return fmt.Errorf("verify: no public key for peer %s", peerID)
	}

	tokenBytes := make([]byte, e.tokenSize)
	if _, err := rand.Read(tokenBytes); err != nil {
		return fmt.Errorf("generating challenge token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)
	requestID := uuid.NewString()

	encrypted, err := e.cipher.Encrypt(peerKey, []byte(token))
	if err != nil {
		return fmt.Errorf("encrypting challenge for %s: %w", peerID, err)
	}

	e.mu.Lock()
	if localKey != nil {
		e.localKey = localKey
	}
	if old, ok := e.sessions[peerID]; ok && old.timer != nil {
		old.timer.Stop()
	}
	e.generation++
	generation := e.generation
	s := &session{
		state:      StateVerifying,
		token:      token,
		requestID:  requestID,
		createdAt:  e.clock.Now(),
		generation: generation,
	}
	e.sessions[peerID] = s
	s.timer = e.clock.AfterFunc(e.timeout, func() {
		e.expire(peerID, generation)
	})
	sentAt := e.clock.Now().UnixMilli()
	e.mu.Unlock()

	payload, err := codec.Marshal(requestPayload{
		Version:        wireVersion,
		RequestID:      requestID,
		EncryptedToken: encrypted,
		SentAt:         sentAt,
	})
	if err != nil {
		return fmt.Errorf("encoding challenge: %w", err)
	}
	if err := e.requests.Send(ctx, payload, peerID); err != nil {
		// The session stays pending; the timer resolves it to
		// Unverified if the peer never saw the challenge.
		return fmt.Errorf("sending challenge to %s: %w", peerID, err)
	}

	e.logger.Info("verification initiated", "peer", peerID, "request_id", requestID)
	return nil
}

// handleRequest answers an inbound challenge. The responder role is
// stateless: it always answers, regardless of any session this side
// holds for the asking peer. A challenge we cannot decrypt (sealed to
// a key that is not ours, or garbled) is dropped without a response —
// the asker's timeout is the negative acknowledgement.
func (e *Engine) handleRequest(peerID string, data []byte) {
	var request requestPayload
	if err := codec.Unmarshal(data, &request); err != nil {
		e.logger.Warn("undecodable verification request dropped", "peer", peerID, "error", err)
		return
	}
	if request.Version != wireVersion {
		e.logger.Warn("verification request with unknown version dropped",
			"peer", peerID, "version", request.Version)
		return
	}

	e.mu.Lock()
	localKey := e.localKey
	e.mu.Unlock()
	if localKey == nil {
		e.logger.Warn("verification request dropped, no local private key", "peer", peerID)
		return
	}

	token, err := e.cipher.Decrypt(localKey, request.EncryptedToken)
	if err != nil {
		e.logger.Warn("challenge decryption failed, no response sent",
			"peer", peerID, "request_id", request.RequestID, "error", err)
		return
	}

	payload, err := codec.Marshal(responsePayload{
		Version:        wireVersion,
		RequestID:      request.RequestID,
		DecryptedToken: string(token),
		SentAt:         e.clock.Now().UnixMilli(),
	})
	if err != nil {
		e.logger.Warn("encoding verification response failed", "peer", peerID, "error", err)
		return
	}
	if err := e.responses.Send(context.Background(), payload, peerID); err != nil {
		e.logger.Warn("sending verification response failed", "peer", peerID, "error", err)
		return
	}
	e.logger.Debug("challenge answered", "peer", peerID, "request_id", request.RequestID)
}

// handleResponse resolves a pending session against an inbound answer.
func (e *Engine) handleResponse(peerID string, data []byte) {
	var response responsePayload
	if err := codec.Unmarshal(data, &response); err != nil {
		e.logger.Warn("undecodable verification response dropped", "peer", peerID, "error", err)
		return
	}
	if response.Version != wireVersion {
		e.logger.Warn("verification response with unknown version dropped",
			"peer", peerID, "version", response.Version)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[peerID]
	if !ok {
		e.logger.Debug("response without a session ignored", "peer", peerID)
		return
	}
	if s.state != StateVerifying {
		// Already resolved; a late or duplicate answer changes
		// nothing.
		e.logger.Debug("response for resolved session ignored",
			"peer", peerID, "state", s.state.String())
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}

	switch {
	case response.RequestID != s.requestID:
		// Stale or replayed answer: fail closed.
		s.state = StateUnverified
		e.logger.Info("verification failed, request ID mismatch",
			"peer", peerID, "got", response.RequestID, "want", s.requestID)
	case response.DecryptedToken == s.token:
		s.state = StateVerified
		e.logger.Info("peer verified", "peer", peerID)
	default:
		s.state = StateUnverified
		e.logger.Info("verification failed, token mismatch", "peer", peerID)
	}
}

// expire resolves a still-pending session to Unverified when its timer
// fires. A timer whose session was replaced or already resolved finds
// the generation or state mismatched and no-ops.
func (e *Engine) expire(peerID string, generation uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[peerID]
	if !ok || s.generation != generation || s.state != StateVerifying {
		return
	}
	s.state = StateUnverified
	e.logger.Info("verification timed out", "peer", peerID, "timeout", e.timeout.String())
}

// State returns the peer's verification state. A peer without a
// session is Unverified.
func (e *Engine) State(peerID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[peerID]; ok {
		return s.state
	}
	return StateUnverified
}

// IsVerified reports whether the peer has proven key possession.
func (e *Engine) IsVerified(peerID string) bool {
	return e.State(peerID) == StateVerified
}

// VerifiedPeers returns the IDs of all verified peers, sorted.
func (e *Engine) VerifiedPeers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var peers []string
	for peerID, s := range e.sessions {
		if s.state == StateVerified {
			peers = append(peers, peerID)
		}
	}
	sort.Strings(peers)
	return peers
}

// RegisterPublicKey records a peer's claimed public key. The registry
// is populated by whatever metadata exchange the application runs;
// verification is what makes the claim trustworthy.
func (e *Engine) RegisterPublicKey(peerID string, key crypto.PublicKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keys[peerID] = key
}

// PublicKey returns a peer's registered public key, if any.
func (e *Engine) PublicKey(peerID string) (crypto.PublicKey, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key, ok := e.keys[peerID]
	return key, ok
}

// RemovePeer cancels any pending verification and deletes the peer's
// session and registered public key. The peer reads as Unverified
// afterwards.
func (e *Engine) RemovePeer(peerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.sessions[peerID]; ok && s.timer != nil {
		s.timer.Stop()
	}
	delete(e.sessions, peerID)
	delete(e.keys, peerID)
}

// Close cancels all pending timers and disposes the engine's wire
// channels.
func (e *Engine) Close() error {
	e.mu.Lock()
	for _, s := range e.sessions {
		if s.timer != nil {
			s.timer.Stop()
		}
	}
	e.sessions = make(map[string]*session)
	e.mu.Unlock()

	e.requests.Dispose()
	e.responses.Dispose()
	return nil
}
