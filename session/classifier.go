// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/openparley/parley/transport"
)

// ConnectionType says how traffic reaches a peer.
type ConnectionType string

const (
	// ConnectionDirect means media flows peer to peer, possibly
	// through NAT hole punching.
	ConnectionDirect ConnectionType = "DIRECT"
	// ConnectionRelay means media is forwarded through a TURN relay.
	ConnectionRelay ConnectionType = "RELAY"
)

// classifier maps connected peers to their connection type from live
// transport statistics. Results are never cached: connections migrate
// between candidate pairs as network conditions change, so every call
// reads fresh stats.
type classifier struct {
	transport transport.Transport
	logger    *slog.Logger
}

// connectionTypes classifies every connected peer. A peer is RELAY
// when the succeeded candidate pair runs over a local relay candidate,
// DIRECT otherwise. Peers whose stats cannot be read are omitted from
// the result; one peer's failure never aborts the others.
func (c *classifier) connectionTypes(ctx context.Context) map[string]ConnectionType {
	peers := c.transport.ConnectedPeers()
	result := make(map[string]ConnectionType, len(peers))
	if len(peers) == 0 {
		return result
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, peerID := range peers {
		wg.Add(1)
		go func(peerID string) {
			defer wg.Done()
			pairs, err := c.transport.PeerStats(ctx, peerID)
			if err != nil {
				c.logger.Warn("peer stats unavailable, omitting from classification",
					"peer", peerID, "error", err)
				return
			}
			kind := classifyPairs(pairs)
			mu.Lock()
			result[peerID] = kind
			mu.Unlock()
		}(peerID)
	}
	wg.Wait()
	return result
}

// classifyPairs reduces a candidate-pair report to a connection type.
// Only the succeeded pair carries traffic; without one the connection
// is still direct as far as anyone can tell.
func classifyPairs(pairs []transport.CandidatePair) ConnectionType {
	for _, pair := range pairs {
		if pair.State != transport.PairSucceeded {
			continue
		}
		if pair.LocalType == transport.CandidateRelay {
			return ConnectionRelay
		}
		return ConnectionDirect
	}
	return ConnectionDirect
}
