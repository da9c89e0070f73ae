// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler is an in-process Signaler. WebRTCTransport instances
// sharing one MemorySignaler can establish PeerConnections without any
// external rendezvous, which is how the transport tests and the demo
// binary run.
type MemorySignaler struct {
	mu       sync.Mutex
	offers   map[string]SignalMessage // key: "offerer|target"
	answers  map[string]SignalMessage // key: "offerer|target"
	lastSeen map[string]time.Time     // key: "<store>:<consumer>:<pair>"
}

// NewMemorySignaler creates an empty in-process signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		offers:   make(map[string]SignalMessage),
		answers:  make(map[string]SignalMessage),
		lastSeen: make(map[string]time.Time),
	}
}

func (s *MemorySignaler) PublishOffer(_ context.Context, peerID, targetID, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[signalKey(peerID, targetID)] = SignalMessage{
		PeerID:    peerID,
		SDP:       sdp,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	return nil
}

func (s *MemorySignaler) PublishAnswer(_ context.Context, offererID, peerID, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[signalKey(offererID, peerID)] = SignalMessage{
		PeerID:    peerID,
		SDP:       sdp,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	return nil
}

func (s *MemorySignaler) PollOffers(_ context.Context, peerID string) ([]SignalMessage, error) {
	// Offers for us have a key ending in "|<peerID>".
	return s.poll("offers", s.offers, peerID, func(key string) bool {
		return strings.HasSuffix(key, "|"+peerID)
	}), nil
}

func (s *MemorySignaler) PollAnswers(_ context.Context, peerID string) ([]SignalMessage, error) {
	// Answers to our offers have a key starting with "<peerID>|".
	return s.poll("answers", s.answers, peerID, func(key string) bool {
		return strings.HasPrefix(key, peerID+"|")
	}), nil
}

// poll returns the messages in store whose keys match and whose
// timestamps are newer than what this consumer has already seen.
func (s *MemorySignaler) poll(storeLabel string, store map[string]SignalMessage, consumer string, match func(key string) bool) []SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []SignalMessage
	for key, msg := range store {
		if !match(key) {
			continue
		}
		timestamp, err := time.Parse(time.RFC3339Nano, msg.Timestamp)
		if err != nil {
			continue
		}
		seenKey := storeLabel + ":" + consumer + ":" + key
		if last, ok := s.lastSeen[seenKey]; ok && !timestamp.After(last) {
			continue
		}
		s.lastSeen[seenKey] = timestamp
		messages = append(messages, msg)
	}
	return messages
}
