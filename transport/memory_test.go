// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestMemoryMeshJoinEvents(t *testing.T) {
	mesh := NewMemoryMesh()

	alpha := mesh.Join("alpha")
	var alphaSaw []string
	alpha.OnPeerEvent(func(event PeerEvent) {
		if event.Kind == PeerJoined {
			alphaSaw = append(alphaSaw, event.PeerID)
		}
	})

	mesh.Join("beta")
	mesh.Join("gamma")

	if !reflect.DeepEqual(alphaSaw, []string{"beta", "gamma"}) {
		t.Errorf("alpha saw joins %v, want [beta gamma]", alphaSaw)
	}
	if got := alpha.ConnectedPeers(); !reflect.DeepEqual(got, []string{"beta", "gamma"}) {
		t.Errorf("ConnectedPeers = %v, want [beta gamma]", got)
	}
}

func TestMemorySendUnicastAndBroadcast(t *testing.T) {
	mesh := NewMemoryMesh()
	alpha := mesh.Join("alpha")
	beta := mesh.Join("beta")
	gamma := mesh.Join("gamma")

	type delivery struct {
		from    string
		payload string
	}
	var betaGot, gammaGot []delivery
	beta.OnReceive("group.chat", func(peerID string, payload []byte) {
		betaGot = append(betaGot, delivery{peerID, string(payload)})
	})
	gamma.OnReceive("group.chat", func(peerID string, payload []byte) {
		gammaGot = append(gammaGot, delivery{peerID, string(payload)})
	})

	ctx := context.Background()
	if err := alpha.Send(ctx, "group.chat", []byte("to beta"), "beta"); err != nil {
		t.Fatalf("unicast Send: %v", err)
	}
	if err := alpha.Send(ctx, "group.chat", []byte("to all"), ""); err != nil {
		t.Fatalf("broadcast Send: %v", err)
	}

	wantBeta := []delivery{{"alpha", "to beta"}, {"alpha", "to all"}}
	if !reflect.DeepEqual(betaGot, wantBeta) {
		t.Errorf("beta received %v, want %v", betaGot, wantBeta)
	}
	wantGamma := []delivery{{"alpha", "to all"}}
	if !reflect.DeepEqual(gammaGot, wantGamma) {
		t.Errorf("gamma received %v, want %v", gammaGot, wantGamma)
	}
}

func TestMemoryReceiveHandlerLastWins(t *testing.T) {
	mesh := NewMemoryMesh()
	alpha := mesh.Join("alpha")
	beta := mesh.Join("beta")

	var first, second int
	beta.OnReceive("direct.ping", func(string, []byte) { first++ })
	beta.OnReceive("direct.ping", func(string, []byte) { second++ })

	if err := alpha.Send(context.Background(), "direct.ping", nil, "beta"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if first != 0 || second != 1 {
		t.Errorf("first handler ran %d times, second %d; want 0 and 1", first, second)
	}
}

func TestMemoryAttachStreamDeliversToSubset(t *testing.T) {
	mesh := NewMemoryMesh()
	alpha := mesh.Join("alpha")
	beta := mesh.Join("beta")
	gamma := mesh.Join("gamma")

	var betaEvents, gammaEvents []PeerEvent
	beta.OnPeerEvent(func(event PeerEvent) {
		if event.Kind == PeerStream {
			betaEvents = append(betaEvents, event)
		}
	})
	gamma.OnPeerEvent(func(event PeerEvent) {
		if event.Kind == PeerStream {
			gammaEvents = append(gammaEvents, event)
		}
	})

	metadata := StreamMetadata{Kind: StreamScreen, StreamID: "share-1", Label: "demo"}
	err := alpha.AttachStream(context.Background(), StaticStream("share-1"), []string{"beta"}, metadata)
	if err != nil {
		t.Fatalf("AttachStream: %v", err)
	}

	if len(betaEvents) != 1 {
		t.Fatalf("beta got %d stream events, want 1", len(betaEvents))
	}
	event := betaEvents[0]
	if event.PeerID != "alpha" || event.Stream.StreamID() != "share-1" {
		t.Errorf("event = %+v, want stream share-1 from alpha", event)
	}
	if event.Metadata == nil || event.Metadata.Kind != StreamScreen {
		t.Errorf("metadata = %+v, want screen kind", event.Metadata)
	}
	if len(gammaEvents) != 0 {
		t.Errorf("gamma got %d stream events, want 0", len(gammaEvents))
	}
}

func TestMemoryPeerStatsConfigurable(t *testing.T) {
	mesh := NewMemoryMesh()
	alpha := mesh.Join("alpha")
	mesh.Join("beta")

	ctx := context.Background()

	pairs, err := alpha.PeerStats(ctx, "beta")
	if err != nil {
		t.Fatalf("default PeerStats: %v", err)
	}
	if len(pairs) != 1 || pairs[0].LocalType != CandidateHost {
		t.Errorf("default pairs = %v, want one host pair", pairs)
	}

	alpha.SetPeerStats("beta", []CandidatePair{
		{State: PairSucceeded, LocalType: CandidateRelay, RemoteType: CandidateHost},
	})
	pairs, err = alpha.PeerStats(ctx, "beta")
	if err != nil {
		t.Fatalf("configured PeerStats: %v", err)
	}
	if pairs[0].LocalType != CandidateRelay {
		t.Errorf("configured local type = %q, want relay", pairs[0].LocalType)
	}

	statsErr := errors.New("stats backend down")
	alpha.FailPeerStats("beta", statsErr)
	if _, err := alpha.PeerStats(ctx, "beta"); !errors.Is(err, statsErr) {
		t.Errorf("PeerStats error = %v, want %v", err, statsErr)
	}

	if _, err := alpha.PeerStats(ctx, "nobody"); err == nil {
		t.Error("PeerStats for unknown peer succeeded")
	}
}

func TestMemoryCloseNotifiesPeers(t *testing.T) {
	mesh := NewMemoryMesh()
	alpha := mesh.Join("alpha")
	beta := mesh.Join("beta")

	var left []string
	alpha.OnPeerEvent(func(event PeerEvent) {
		if event.Kind == PeerLeft {
			left = append(left, event.PeerID)
		}
	})

	if err := beta.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := beta.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if !reflect.DeepEqual(left, []string{"beta"}) {
		t.Errorf("alpha saw leaves %v, want [beta]", left)
	}
	if got := alpha.ConnectedPeers(); len(got) != 0 {
		t.Errorf("ConnectedPeers after leave = %v, want none", got)
	}
	if err := beta.Send(context.Background(), "group.chat", nil, ""); err == nil {
		t.Error("Send on closed endpoint succeeded")
	}
}
