// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package router multiplexes typed message channels and peer lifecycle
// notifications over a single transport session.
//
// [Router.MakeChannel] creates a channel for a (namespace, action)
// pair and memoizes it: the same pair always yields the same
// [*Channel] until that channel is disposed, after which the pair maps
// to a fresh one. A channel sends to one peer or broadcasts to all,
// and carries exactly one primary receive handler — registering a
// second replaces the first at the transport level.
//
// Peer lifecycle handling works differently from channel dispatch:
// handlers for join, leave, and stream events register under a
// category, and an event fired for a category reaches only the
// handlers registered under it. Firing with [AllCategories] reaches
// every handler for that event kind, which is how transport-driven
// events propagate since they concern every feature. A category's
// handlers are bulk-removed with [Router.FlushCategory], letting a
// feature tear down everything it registered in one call.
//
// The router adds nothing to the transport's delivery guarantees: no
// retries, no cross-channel ordering, and disposal never unsends.
package router
