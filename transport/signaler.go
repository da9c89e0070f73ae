// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "context"

// Signaler abstracts the mechanism for exchanging WebRTC session
// descriptions between peers. The library ships an in-process
// implementation for tests and the demo; deployments plug in whatever
// rendezvous they already have (a chat room, a key-value store, a
// signaling server).
//
// The signaling model is vanilla ICE: every ICE candidate is gathered
// before the SDP is published, so establishing a connection costs
// exactly one round-trip (offer → answer). Renegotiation offers for an
// already-connected peer travel the same path and supersede earlier
// messages by timestamp.
type Signaler interface {
	// PublishOffer stores a complete SDP offer from peerID directed
	// at targetID, where the target's PollOffers can find it.
	PublishOffer(ctx context.Context, peerID, targetID, sdp string) error

	// PublishAnswer stores a complete SDP answer from peerID to the
	// offer previously published by offererID.
	PublishAnswer(ctx context.Context, offererID, peerID, sdp string) error

	// PollOffers returns the offers directed at peerID that have not
	// been returned to it before.
	PollOffers(ctx context.Context, peerID string) ([]SignalMessage, error)

	// PollAnswers returns the answers to offers originated by peerID
	// that have not been returned to it before.
	PollAnswers(ctx context.Context, peerID string) ([]SignalMessage, error)
}

// SignalMessage is one signaling message, offer or answer. PeerID is
// the other party: the offerer on received offers, the answerer on
// received answers.
type SignalMessage struct {
	PeerID string

	// SDP is the complete session description with all ICE candidates
	// embedded.
	SDP string

	// Timestamp is the RFC 3339 creation time, used to supersede
	// stale messages for the same peer pair.
	Timestamp string
}

// signalKey builds the storage key for a peer pair.
func signalKey(offererID, targetID string) string {
	return offererID + "|" + targetID
}
