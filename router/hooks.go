// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"sort"

	"github.com/openparley/parley/transport"
)

// AllCategories fires an event at every category's handlers. Use it
// for transport-driven lifecycle events, which no single feature owns.
const AllCategories = ""

// hookKey indexes the hook registry by (category, event kind).
type hookKey struct {
	category string
	kind     transport.PeerEventKind
}

// hookEntry wraps a registered handler; the pointer identity allows
// stable ordering and removal.
type hookEntry struct {
	handler transport.PeerEventHandler
}

// OnEvent registers a lifecycle handler for one event kind under a
// category. Unlike channel receive handlers, any number of lifecycle
// handlers may coexist; the category exists so a feature can register
// several and later remove them all with FlushCategory. Registering
// under AllCategories is not allowed — it is a delivery scope, not a
// category.
func (r *Router) OnEvent(category string, kind transport.PeerEventKind, handler transport.PeerEventHandler) {
	if category == AllCategories || handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := hookKey{category: category, kind: kind}
	r.hooks[key] = append(r.hooks[key], &hookEntry{handler: handler})
}

// Trigger fires an event at the handlers registered for event.Kind
// under the given category, or at every category's handlers when
// category is AllCategories. Handlers run on the caller's goroutine,
// in registration order within a category and in category name order
// across categories.
func (r *Router) Trigger(category string, event transport.PeerEvent) {
	r.mu.Lock()
	var entries []*hookEntry
	if category != AllCategories {
		entries = append(entries, r.hooks[hookKey{category: category, kind: event.Kind}]...)
	} else {
		var keys []hookKey
		for key := range r.hooks {
			if key.kind == event.Kind {
				keys = append(keys, key)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].category < keys[j].category })
		for _, key := range keys {
			entries = append(entries, r.hooks[key]...)
		}
	}
	r.mu.Unlock()

	for _, entry := range entries {
		entry.handler(event)
	}
}

// FlushCategory removes every handler registered under a category, for
// all event kinds. Events already being delivered are unaffected.
func (r *Router) FlushCategory(category string) {
	if category == AllCategories {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.hooks {
		if key.category == category {
			delete(r.hooks, key)
		}
	}
	r.logger.Debug("hook category flushed", "category", category)
}
