// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the peer-to-peer session the coordination
// layer runs on, and provides two implementations of it.
//
// The [Transport] interface is the contract the rest of the library
// consumes: named-channel message delivery (unicast or broadcast),
// a single receive handler per channel, peer lifecycle notifications
// (join, leave, inbound media stream), media stream attach/detach, and
// per-peer ICE candidate-pair statistics. Everything below the channel
// abstraction — wire framing, NAT traversal, session negotiation,
// reconnection — is the transport's own business and deliberately
// invisible to callers.
//
// [WebRTCTransport] is the production implementation: one pion
// PeerConnection per remote peer, one SCTP data channel per logical
// channel name, media carried as RTP tracks, and statistics read from
// pion's stats report. Signaling is abstracted behind the [Signaler]
// interface using vanilla ICE: all candidates are gathered before the
// SDP is published, so establishment costs one signaling round-trip.
// When both sides dial simultaneously, the peer with the
// lexicographically smaller ID is the canonical offerer and the other
// side drops its redundant attempt.
//
// [MemoryMesh] connects any number of in-process [MemoryTransport]
// endpoints with synchronous delivery and configurable per-peer
// statistics. It backs the package tests, the higher layers' tests,
// and the demo binary.
package transport
