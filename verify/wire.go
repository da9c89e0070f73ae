// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package verify

// Channel actions for the two wire message kinds. Both live in the
// direct namespace: challenges are always addressed to one peer.
const (
	requestAction  = "verify-request"
	responseAction = "verify-response"
)

// wireVersion tags payloads so future revisions can change shape
// without silent misdecodes. Decoders reject any other version.
const wireVersion = 1

// requestPayload is the wire shape of a verification challenge.
type requestPayload struct {
	Version int `cbor:"v"`

	// RequestID pairs the eventual response with this challenge. A
	// response carrying any other ID is treated as stale or replayed.
	RequestID string `cbor:"request_id"`

	// EncryptedToken is the challenge token sealed to the peer's
	// claimed public key.
	EncryptedToken []byte `cbor:"encrypted_token"`

	// SentAt is the sender's clock in Unix milliseconds. Diagnostic
	// only; no protocol decision reads it.
	SentAt int64 `cbor:"timestamp_ms"`
}

// responsePayload is the wire shape of a challenge answer.
type responsePayload struct {
	Version int `cbor:"v"`

	// RequestID echoes the challenge this answers.
	RequestID string `cbor:"request_id"`

	// DecryptedToken is the challenge token recovered with the
	// responder's private key.
	DecryptedToken string `cbor:"decrypted_token"`

	// SentAt is the sender's clock in Unix milliseconds.
	SentAt int64 `cbor:"timestamp_ms"`
}
