// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "context"

// Transport is the peer-to-peer session the coordination layer runs
// on. Implementations must be safe for concurrent use. Delivery is
// best effort: messages may be lost, and ordering is only guaranteed
// within a single channel, never across channels.
type Transport interface {
	// Send delivers payload on the named channel to the peer with the
	// given ID, or to every connected peer when peerID is empty.
	Send(ctx context.Context, channel string, payload []byte, peerID string) error

	// OnReceive registers the receive handler for a channel. Each
	// channel has exactly one handler: a later registration replaces
	// an earlier one, and a nil handler removes it.
	OnReceive(channel string, handler ReceiveHandler)

	// OnPeerEvent registers the handler for peer lifecycle events.
	// Like OnReceive, the last registration wins. Fan-out to multiple
	// interested parties is the router's job, not the transport's.
	OnPeerEvent(handler PeerEventHandler)

	// AttachStream makes a local media stream available to the given
	// peers (all connected peers when peers is empty), carrying
	// metadata describing the stream. The transport delivers metadata
	// and media as separate messages that race independently; callers
	// that attach more than one stream should serialize attaches (see
	// the stream package) rather than call this back to back.
	AttachStream(ctx context.Context, stream MediaStream, peers []string, metadata StreamMetadata) error

	// DetachStream withdraws a previously attached stream from the
	// given peers (all of them when peers is empty). Detachment
	// carries no metadata and is safe to call at any time.
	DetachStream(stream MediaStream, peers []string) error

	// ConnectedPeers returns the IDs of currently connected peers.
	ConnectedPeers() []string

	// PeerStats returns the ICE candidate pairs for the connection to
	// one peer. Fails if the peer is not connected or the underlying
	// session cannot produce statistics.
	PeerStats(ctx context.Context, peerID string) ([]CandidatePair, error)

	// Close tears the session down. Idempotent.
	Close() error
}

// ReceiveHandler consumes one inbound payload from a peer.
type ReceiveHandler func(peerID string, payload []byte)

// PeerEventHandler consumes peer lifecycle notifications.
type PeerEventHandler func(event PeerEvent)

// PeerEventKind enumerates peer lifecycle notifications.
type PeerEventKind int

const (
	// PeerJoined fires when a peer's session becomes usable.
	PeerJoined PeerEventKind = iota + 1
	// PeerLeft fires when a peer's session ends.
	PeerLeft
	// PeerStream fires when a remote peer's media stream arrives.
	PeerStream
)

// String returns the event kind's wire-stable name.
func (k PeerEventKind) String() string {
	switch k {
	case PeerJoined:
		return "joined"
	case PeerLeft:
		return "left"
	case PeerStream:
		return "stream"
	default:
		return "unknown"
	}
}

// PeerEvent is a peer lifecycle notification. Stream and Metadata are
// set only for PeerStream events.
type PeerEvent struct {
	Kind     PeerEventKind
	PeerID   string
	Stream   MediaStream
	Metadata *StreamMetadata
}

// MediaStream is an opaque handle on a media stream. The WebRTC
// implementation backs it with RTP tracks; tests back it with nothing
// but an ID. Capture and rendering are out of scope for this library.
type MediaStream interface {
	// StreamID identifies the stream across attach, detach, and
	// remote delivery.
	StreamID() string
}

// StreamKind is the closed set of media stream types the session
// carries. Dispatch on it is exhaustive; there is no "other".
type StreamKind int

const (
	// StreamAudio is a microphone or audio-only stream.
	StreamAudio StreamKind = iota + 1
	// StreamVideo is a camera stream.
	StreamVideo
	// StreamScreen is a screen share.
	StreamScreen
)

// String returns the kind's wire-stable name.
func (k StreamKind) String() string {
	switch k {
	case StreamAudio:
		return "audio"
	case StreamVideo:
		return "video"
	case StreamScreen:
		return "screen"
	default:
		return "unknown"
	}
}

// StreamMetadata describes an attached stream to its receivers.
type StreamMetadata struct {
	// Kind is the stream type.
	Kind StreamKind `cbor:"kind"`

	// StreamID matches MediaStream.StreamID of the attached stream,
	// letting receivers pair metadata with media.
	StreamID string `cbor:"stream_id"`

	// Label is a human-readable description ("front camera",
	// "workroom screen"). Optional.
	Label string `cbor:"label,omitempty"`
}

// PairState is the ICE candidate pair state, mirroring the WebRTC
// stats vocabulary.
type PairState string

// Candidate pair states. Only Succeeded matters for classification;
// the rest are carried for diagnostics.
const (
	PairWaiting    PairState = "waiting"
	PairInProgress PairState = "in-progress"
	PairSucceeded  PairState = "succeeded"
	PairFailed     PairState = "failed"
)

// CandidateType is the ICE candidate type of one side of a pair.
type CandidateType string

// Candidate types, as reported by ICE.
const (
	CandidateHost            CandidateType = "host"
	CandidateServerReflexive CandidateType = "srflx"
	CandidatePeerReflexive   CandidateType = "prflx"
	CandidateRelay           CandidateType = "relay"
)

// CandidatePair is one row of a peer connection's candidate-pair
// statistics: the pair's state plus the candidate types on each end.
type CandidatePair struct {
	State      PairState
	LocalType  CandidateType
	RemoteType CandidateType
}
