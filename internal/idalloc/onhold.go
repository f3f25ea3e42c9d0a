package idalloc

import "sync"

// OnHold is the process-wide set of identifiers reserved but not yet
// persisted (spec §3 OnHold, §9 "mutex-guarded set with a deferred
// release"). An entry is removed when either the owning request finishes
// or DB insertion confirms uniqueness — whichever the caller does first,
// Release is idempotent.
type OnHold struct {
	mu  sync.Mutex
	set map[string]struct{}
}

// NewOnHold constructs an empty reservation set.
func NewOnHold() *OnHold {
	return &OnHold{set: make(map[string]struct{})}
}

// TryHold reserves id, returning false if it is already held.
func (h *OnHold) TryHold(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.set[id]; exists {
		return false
	}
	h.set[id] = struct{}{}
	return true
}

// Release removes id from the set. Safe to call more than once, and safe
// to call for an id that was never held (panics/exceptions during the
// request must still be able to call this unconditionally).
func (h *OnHold) Release(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.set, id)
}

// Len reports how many identifiers are currently reserved. Exposed for
// tests asserting the "OnHold is empty whenever no in-flight upload
// exists" invariant.
func (h *OnHold) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.set)
}
