// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Compile-time interface check.
var _ Transport = (*MemoryTransport)(nil)

// MemoryMesh connects in-process MemoryTransport endpoints. Every
// endpoint joined to the same mesh sees every other endpoint as a
// connected peer. Delivery is synchronous: Send invokes the target's
// receive handler on the caller's goroutine, so tests observe effects
// without sleeping. Handlers therefore must not call back into the
// transport while holding their component's lock.
type MemoryMesh struct {
	mu        sync.Mutex
	endpoints map[string]*MemoryTransport
}

// NewMemoryMesh creates an empty mesh.
func NewMemoryMesh() *MemoryMesh {
	return &MemoryMesh{endpoints: make(map[string]*MemoryTransport)}
}

// Join adds an endpoint with the given peer ID to the mesh. Existing
// endpoints receive a PeerJoined event for the new peer, and the new
// endpoint receives a PeerJoined event for each existing peer.
// Panics on a duplicate ID — that is a test bug, not a runtime
// condition.
func (m *MemoryMesh) Join(peerID string) *MemoryTransport {
	m.mu.Lock()
	if _, exists := m.endpoints[peerID]; exists {
		m.mu.Unlock()
		panic(fmt.Sprintf("transport: duplicate mesh peer ID %q", peerID))
	}

	endpoint := &MemoryTransport{
		mesh:      m,
		peerID:    peerID,
		handlers:  make(map[string]ReceiveHandler),
		stats:     make(map[string][]CandidatePair),
		statsErrs: make(map[string]error),
	}
	m.endpoints[peerID] = endpoint

	var others []*MemoryTransport
	for id, other := range m.endpoints {
		if id != peerID {
			others = append(others, other)
		}
	}
	m.mu.Unlock()

	// Events fire outside the mesh lock: handlers may call back into
	// the mesh (listing peers, sending greetings).
	for _, other := range others {
		other.deliverEvent(PeerEvent{Kind: PeerJoined, PeerID: peerID})
		endpoint.deliverEvent(PeerEvent{Kind: PeerJoined, PeerID: other.peerID})
	}

	return endpoint
}

// leave removes the endpoint and notifies the remaining ones.
func (m *MemoryMesh) leave(peerID string) {
	m.mu.Lock()
	if _, exists := m.endpoints[peerID]; !exists {
		m.mu.Unlock()
		return
	}
	delete(m.endpoints, peerID)
	remaining := m.others("")
	m.mu.Unlock()

	for _, other := range remaining {
		other.deliverEvent(PeerEvent{Kind: PeerLeft, PeerID: peerID})
	}
}

// others returns every endpoint except the one with the given ID.
// Caller must hold m.mu.
func (m *MemoryMesh) others(exclude string) []*MemoryTransport {
	var result []*MemoryTransport
	for id, endpoint := range m.endpoints {
		if id != exclude {
			result = append(result, endpoint)
		}
	}
	return result
}

// MemoryTransport is one endpoint of a MemoryMesh. Tests configure
// per-peer statistics with SetPeerStats and FailPeerStats.
type MemoryTransport struct {
	mesh   *MemoryMesh
	peerID string

	mu           sync.Mutex
	handlers     map[string]ReceiveHandler
	eventHandler PeerEventHandler
	stats        map[string][]CandidatePair
	statsErrs    map[string]error
	closed       bool
}

// PeerID returns this endpoint's own ID in the mesh.
func (t *MemoryTransport) PeerID() string { return t.peerID }

// Send delivers payload synchronously to the target endpoint's handler
// for the channel, or to every other endpoint when peerID is empty.
// Sending to an unknown peer or on a channel the target has no handler
// for is not an error: delivery is best effort, matching a real wire.
func (t *MemoryTransport) Send(_ context.Context, channel string, payload []byte, peerID string) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("transport: endpoint %s is closed", t.peerID)
	}

	t.mesh.mu.Lock()
	var targets []*MemoryTransport
	if peerID == "" {
		targets = t.mesh.others(t.peerID)
	} else if target, ok := t.mesh.endpoints[peerID]; ok {
		targets = []*MemoryTransport{target}
	}
	t.mesh.mu.Unlock()

	for _, target := range targets {
		target.deliver(channel, t.peerID, payload)
	}
	return nil
}

// OnReceive registers the handler for a channel; the last registration
// wins and nil removes.
func (t *MemoryTransport) OnReceive(channel string, handler ReceiveHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handler == nil {
		delete(t.handlers, channel)
		return
	}
	t.handlers[channel] = handler
}

// OnPeerEvent registers the peer lifecycle handler; the last
// registration wins.
func (t *MemoryTransport) OnPeerEvent(handler PeerEventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eventHandler = handler
}

// AttachStream delivers a PeerStream event carrying the stream and its
// metadata to each target endpoint.
func (t *MemoryTransport) AttachStream(_ context.Context, stream MediaStream, peers []string, metadata StreamMetadata) error {
	for _, target := range t.resolve(peers) {
		meta := metadata
		target.deliverEvent(PeerEvent{
			Kind:     PeerStream,
			PeerID:   t.peerID,
			Stream:   stream,
			Metadata: &meta,
		})
	}
	return nil
}

// DetachStream is bookkeeping-free for the memory transport: there is
// no media plane to withdraw from.
func (t *MemoryTransport) DetachStream(MediaStream, []string) error {
	return nil
}

// ConnectedPeers lists the other endpoints in the mesh, sorted for
// deterministic assertions.
func (t *MemoryTransport) ConnectedPeers() []string {
	t.mesh.mu.Lock()
	defer t.mesh.mu.Unlock()

	var peers []string
	for id := range t.mesh.endpoints {
		if id != t.peerID {
			peers = append(peers, id)
		}
	}
	sort.Strings(peers)
	return peers
}

// PeerStats returns the statistics configured for peerID. Without
// prior configuration, a connected peer reports a single succeeded
// host-to-host pair.
func (t *MemoryTransport) PeerStats(_ context.Context, peerID string) ([]CandidatePair, error) {
	t.mesh.mu.Lock()
	_, connected := t.mesh.endpoints[peerID]
	t.mesh.mu.Unlock()
	if !connected {
		return nil, fmt.Errorf("transport: peer %s is not connected", peerID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.statsErrs[peerID]; ok {
		return nil, err
	}
	if pairs, ok := t.stats[peerID]; ok {
		return pairs, nil
	}
	return []CandidatePair{
		{State: PairSucceeded, LocalType: CandidateHost, RemoteType: CandidateHost},
	}, nil
}

// SetPeerStats configures the candidate pairs PeerStats reports for
// one peer.
func (t *MemoryTransport) SetPeerStats(peerID string, pairs []CandidatePair) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats[peerID] = pairs
	delete(t.statsErrs, peerID)
}

// FailPeerStats makes PeerStats fail for one peer with the given
// error.
func (t *MemoryTransport) FailPeerStats(peerID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statsErrs[peerID] = err
}

// Close removes the endpoint from the mesh; the other endpoints see a
// PeerLeft event. Idempotent.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.mesh.leave(t.peerID)
	return nil
}

// resolve maps an optional peer subset to concrete endpoints,
// defaulting to every other endpoint.
func (t *MemoryTransport) resolve(peers []string) []*MemoryTransport {
	t.mesh.mu.Lock()
	defer t.mesh.mu.Unlock()

	if len(peers) == 0 {
		return t.mesh.others(t.peerID)
	}
	var targets []*MemoryTransport
	for _, id := range peers {
		if endpoint, ok := t.mesh.endpoints[id]; ok && id != t.peerID {
			targets = append(targets, endpoint)
		}
	}
	return targets
}

func (t *MemoryTransport) deliver(channel, fromPeer string, payload []byte) {
	t.mu.Lock()
	handler := t.handlers[channel]
	t.mu.Unlock()
	if handler != nil {
		handler(fromPeer, payload)
	}
}

func (t *MemoryTransport) deliverEvent(event PeerEvent) {
	t.mu.Lock()
	handler := t.eventHandler
	t.mu.Unlock()
	if handler != nil {
		handler(event)
	}
}

// StaticStream is a MediaStream that is nothing but an ID. The memory
// transport and tests use it where the WebRTC transport would carry
// real tracks.
type StaticStream string

// StreamID returns the stream's ID.
func (s StaticStream) StreamID() string { return string(s) }
