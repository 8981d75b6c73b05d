/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ledger

import (
	"context"
	"sync"
)

// windowLocks hands out one exclusive slot per window id. Entries are
// reference counted and dropped once nobody waits on them.
type windowLocks struct {
	mu    sync.Mutex
	slots map[string]*windowSlot
}

type windowSlot struct {
	sem  chan struct{}
	refs int
}

func newWindowLocks() *windowLocks {
	return &windowLocks{slots: make(map[string]*windowSlot)}
}

// acquire blocks until the window is free or ctx is done. The returned
// release func must be called exactly once on success.
func (w *windowLocks) acquire(ctx context.Context, windowID string) (func(), error) {
	w.mu.Lock()
	slot, ok := w.slots[windowID]
	if !ok {
		slot = &windowSlot{sem: make(chan struct{}, 1)}
		w.slots[windowID] = slot
	}
	slot.refs++
	w.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		return func() {
			<-slot.sem
			w.unref(windowID, slot)
		}, nil
	case <-ctx.Done():
		w.unref(windowID, slot)
		return nil, ctx.Err()
	}
}

func (w *windowLocks) unref(windowID string, slot *windowSlot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(w.slots, windowID)
	}
}

func (w *windowLocks) size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.slots)
}
