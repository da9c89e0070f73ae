// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package session ties the library together: one Session per
// conversation, composing the channel router, the stream attachment
// coordinator, the peer verification engine, and the connection
// classifier over a single transport.
//
// The Session subscribes itself to the transport's peer events. A
// departing peer has its verification state cleaned up before the
// event reaches application lifecycle handlers; a joining peer is
// optionally challenged automatically when its public key is already
// registered.
package session
