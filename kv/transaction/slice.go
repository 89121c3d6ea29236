package transaction

import (
	"github.com/Connor1996/badger/y"
)

// PinnedSlice holds the value of one point lookup. The bytes belong to the engine and are handed out without a
// copy, so they are only valid while the parent the lookup was issued on (a transaction, a shared snapshot or the
// database) is live. Any access after that panics.
//
// The caller owns the PinnedSlice itself and may pass it as the slot of later lookups; each lookup resets it first.
type PinnedSlice struct {
	data    []byte
	parent  owner
	gen     uint64
	pinned  bool
	release func()
}

func (s *PinnedSlice) pin(data []byte, parent owner, release func()) {
	s.data = data
	s.parent = parent
	s.gen = parent.generation()
	s.pinned = true
	s.release = release
}

// Data returns the value. The slice must not be modified or retained past the parent's lifetime.
func (s *PinnedSlice) Data() []byte {
	s.check()
	return s.data
}

// Size returns the value length.
func (s *PinnedSlice) Size() int {
	s.check()
	return len(s.data)
}

// Copy returns the value in a new slice which the caller owns.
func (s *PinnedSlice) Copy() []byte {
	return y.SafeCopy(nil, s.Data())
}

// Valid reports whether the slice holds a value whose parent is still live.
func (s *PinnedSlice) Valid() bool {
	return s.pinned && s.parent.generation() == s.gen
}

// Reset releases the value. Lookups on the database pin an engine read view which is held until Reset.
func (s *PinnedSlice) Reset() {
	if s.release != nil {
		s.release()
	}
	*s = PinnedSlice{}
}

func (s *PinnedSlice) check() {
	if !s.pinned {
		panic(preconditionf("read of an empty pinned slice"))
	}
	checkLive(s.parent, s.gen, "pinned slice")
}

// prepareSlot returns slot reset for a new lookup, or a new slice when slot is nil.
func prepareSlot(slot *PinnedSlice) *PinnedSlice {
	if slot == nil {
		return new(PinnedSlice)
	}
	slot.Reset()
	return slot
}
