// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/openparley/parley/lib/testutil"
)

// newWebRTCPair creates two WebRTCTransports connected through an
// in-process MemorySignaler, with both signaling pollers running.
// Loopback candidates mean the pair connects with no network
// interface at all. The returned IDs sort so that a < b, keeping
// dial-race tie-breaking out of tests that do not target it.
func newWebRTCPair(t *testing.T) (a, b *WebRTCTransport, idA, idB string) {
	t.Helper()

	signaler := NewMemorySignaler()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	idA = testutil.UniqueID("alpha")
	idB = testutil.UniqueID("beta")

	build := func(peerID string) *WebRTCTransport {
		transport, err := NewWebRTCTransport(WebRTCConfig{
			PeerID:   peerID,
			Signaler: signaler,
			Logger:   logger,
		})
		if err != nil {
			t.Fatalf("NewWebRTCTransport(%s): %v", peerID, err)
		}
		t.Cleanup(func() { transport.Close() })
		return transport
	}
	a = build(idA)
	b = build(idB)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Serve(ctx)
	go b.Serve(ctx)
	testutil.RequireClosed(t, a.Ready(), 5*time.Second, "transport A poller start")
	testutil.RequireClosed(t, b.Ready(), 5*time.Second, "transport B poller start")

	return a, b, idA, idB
}

// TestWebRTCTransport_ConnectAndSend establishes a PeerConnection via
// the in-process signaler and round-trips a payload over a data
// channel.
func TestWebRTCTransport_ConnectAndSend(t *testing.T) {
	a, b, idA, idB := newWebRTCPair(t)

	joinsA := make(chan PeerEvent, 4)
	joinsB := make(chan PeerEvent, 4)
	a.OnPeerEvent(func(event PeerEvent) {
		if event.Kind == PeerJoined {
			joinsA <- event
		}
	})
	b.OnPeerEvent(func(event PeerEvent) {
		if event.Kind == PeerJoined {
			joinsB <- event
		}
	})

	received := make(chan string, 1)
	b.OnReceive("group.chat", func(peerID string, payload []byte) {
		received <- peerID + ":" + string(payload)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Connect(ctx, idB); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Both sides observe the join when ICE connects.
	if event := testutil.RequireReceive(t, joinsA, 10*time.Second, "join on A"); event.PeerID != idB {
		t.Errorf("A saw join from %s, want %s", event.PeerID, idB)
	}
	if event := testutil.RequireReceive(t, joinsB, 10*time.Second, "join on B"); event.PeerID != idA {
		t.Errorf("B saw join from %s, want %s", event.PeerID, idA)
	}

	if err := a.Send(ctx, "group.chat", []byte("hello"), idB); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := testutil.RequireReceive(t, received, 10*time.Second, "chat payload"); got != idA+":hello" {
		t.Errorf("received %q, want %q", got, idA+":hello")
	}

	peers := a.ConnectedPeers()
	if len(peers) != 1 || peers[0] != idB {
		t.Errorf("ConnectedPeers() = %v, want [%s]", peers, idB)
	}
}

// TestWebRTCTransport_BidirectionalSend verifies that the answering
// side can send back over the PeerConnection the dialer established,
// reusing the dialer's data channel for the same label.
func TestWebRTCTransport_BidirectionalSend(t *testing.T) {
	a, b, idA, idB := newWebRTCPair(t)

	receivedOnA := make(chan string, 1)
	a.OnReceive("direct.reply", func(peerID string, payload []byte) {
		receivedOnA <- peerID + ":" + string(payload)
	})
	receivedOnB := make(chan string, 1)
	b.OnReceive("direct.reply", func(peerID string, payload []byte) {
		receivedOnB <- peerID + ":" + string(payload)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Connect(ctx, idB); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := a.Send(ctx, "direct.reply", []byte("ping"), idB); err != nil {
		t.Fatalf("A Send: %v", err)
	}
	testutil.RequireReceive(t, receivedOnB, 10*time.Second, "ping on B")

	if err := b.Send(ctx, "direct.reply", []byte("pong"), idA); err != nil {
		t.Fatalf("B Send: %v", err)
	}
	if got := testutil.RequireReceive(t, receivedOnA, 10*time.Second, "pong on A"); got != idB+":pong" {
		t.Errorf("received %q, want %q", got, idB+":pong")
	}
}

// TestWebRTCTransport_PeerStats reads candidate-pair statistics over a
// live connection.
func TestWebRTCTransport_PeerStats(t *testing.T) {
	a, _, _, idB := newWebRTCPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Connect(ctx, idB); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	pairs, err := a.PeerStats(ctx, idB)
	if err != nil {
		t.Fatalf("PeerStats: %v", err)
	}
	// A connected loopback link carries at least one pair; the report
	// shape matters more than its exact contents here.
	if len(pairs) == 0 {
		t.Error("PeerStats returned no candidate pairs on a live connection")
	}
}

func TestWebRTCTransport_SendToUnknownPeer(t *testing.T) {
	a, _, _, _ := newWebRTCPair(t)

	err := a.Send(context.Background(), "group.chat", []byte("x"), "nobody")
	if err == nil {
		t.Fatal("Send to an unconnected peer succeeded")
	}
}

func TestWebRTCTransport_ReservedChannelRejected(t *testing.T) {
	a, _, _, idB := newWebRTCPair(t)

	err := a.Send(context.Background(), metaChannelLabel, []byte("x"), idB)
	if err == nil {
		t.Fatal("Send on the reserved metadata channel succeeded")
	}
}

func TestWebRTCTransport_ConnectAfterClose(t *testing.T) {
	signaler := NewMemorySignaler()
	transport, err := NewWebRTCTransport(WebRTCConfig{
		PeerID:   testutil.UniqueID("alpha"),
		Signaler: signaler,
	})
	if err != nil {
		t.Fatalf("NewWebRTCTransport: %v", err)
	}
	transport.Close()

	if err := transport.Connect(context.Background(), "anyone"); err == nil {
		t.Fatal("expected error from Connect after Close, got nil")
	}
}

func TestNewWebRTCTransport_Validation(t *testing.T) {
	if _, err := NewWebRTCTransport(WebRTCConfig{Signaler: NewMemorySignaler()}); err == nil {
		t.Fatal("expected error without PeerID, got nil")
	}
	if _, err := NewWebRTCTransport(WebRTCConfig{PeerID: "alpha"}); err == nil {
		t.Fatal("expected error without Signaler, got nil")
	}
}
