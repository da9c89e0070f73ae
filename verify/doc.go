// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package verify proves that a remote peer controls the private key
// paired with the public key it claims.
//
// The protocol is a one-way challenge-response. The initiator
// generates a random token, encrypts it with the peer's claimed public
// key, and sends the ciphertext with a fresh request ID. Only the
// holder of the matching private key can decrypt the token; the peer
// sends the plaintext back, and the initiator compares it against the
// original. A correct echo moves the peer to Verified; a wrong token,
// a stale request ID, or silence past the timeout moves it to
// Unverified. Both roles run independently: answering a peer's
// challenge never touches the session this side may hold for that
// peer, so two peers verifying each other simultaneously do not
// interfere.
//
// What verification proves — and what it does not: success binds the
// party answering on the transport session to possession of the
// private key for the supplied public key, defeating a relay that
// substitutes its own key during metadata exchange. It does not
// establish that the key belongs to the expected human. Key trust must
// come from somewhere else before the result means anything.
//
// The [Engine] holds at most one live session per peer. Re-initiating
// replaces the session; each session carries a generation number so a
// timer from a superseded session detects its own staleness and
// no-ops instead of flipping the newer session to Unverified.
package verify
