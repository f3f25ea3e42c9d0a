// Package idalloc implements the collision-free public identifier
// allocator (spec §4.1): generate a random alphanumeric string, reserve it
// in the process-wide OnHold set, confirm it is unused in persistent
// state, and hand the caller a release function tied to request
// completion. Grounded on the teacher's md5-derived upload-id scheme in
// internal/storage/chunk.go's InitUpload, generalized from a single
// deterministic hash into a retrying random allocator with a collision
// check against live state.
package idalloc

import (
	"crypto/rand"
	"errors"
	"fmt"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// ErrExhausted is returned when maxTries random candidates all collided.
var ErrExhausted = errors.New("idalloc: exhausted retries without finding a free identifier")

// Checker tests whether identifier is already used in persistent state.
// Two implementations satisfy spec §4.1 mode (a)/(b): a DB-backed checker
// (required when multiple extensions may share one identifier, e.g. a
// file and its thumbnail) and a filesystem-backed checker.
type Checker interface {
	Exists(identifier string) (bool, error)
}

// IdStore allocates identifiers of a fixed length, deduplicated against
// both the process-wide OnHold set and a Checker.
type IdStore struct {
	hold     *OnHold
	maxTries int
}

// New constructs an IdStore backed by the given (normally process-wide)
// OnHold set.
func New(hold *OnHold, maxTries int) *IdStore {
	if maxTries <= 0 {
		maxTries = 50
	}
	return &IdStore{hold: hold, maxTries: maxTries}
}

// Hold is a successful reservation. Release must be called exactly once
// the request completes — whether or not the identifier was ultimately
// persisted — per spec §4.1 step 6. Release is idempotent, so deferring
// it unconditionally is always correct.
type Hold struct {
	ID      string
	release func()
}

// Release frees the identifier from the OnHold set.
func (h *Hold) Release() {
	if h.release != nil {
		h.release()
	}
}

// Allocate generates a length-character random identifier, on-holds it,
// and confirms it against checker. On collision (either against OnHold or
// against checker) it retries up to maxTries times.
func (s *IdStore) Allocate(length int, checker Checker) (*Hold, error) {
	for attempt := 0; attempt < s.maxTries; attempt++ {
		candidate, err := randomString(length)
		if err != nil {
			return nil, fmt.Errorf("idalloc: generating candidate: %w", err)
		}

		if !s.hold.TryHold(candidate) {
			continue
		}

		exists, err := checker.Exists(candidate)
		if err != nil {
			s.hold.Release(candidate)
			return nil, fmt.Errorf("idalloc: checking uniqueness: %w", err)
		}
		if exists {
			s.hold.Release(candidate)
			continue
		}

		id := candidate
		return &Hold{ID: id, release: func() { s.hold.Release(id) }}, nil
	}

	return nil, ErrExhausted
}

func randomString(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}
