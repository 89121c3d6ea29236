package transaction

import (
	"time"

	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
)

// Direction is the order in which a DBIterator produces keys.
type Direction int

const (
	// Forward iterates in ascending key order.
	Forward Direction = iota
	// Reverse iterates in descending key order.
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// ReadOptions configure a point lookup or an iterator. The zero value reads the transaction's own view: its pending
// writes over the state it began on.
type ReadOptions struct {
	// Snapshot replaces the base view the read is served from. The transaction's pending writes are still applied
	// on top of it unless SkipPendingWrites is set.
	Snapshot Snapshot
	// SkipPendingWrites turns off read-your-own-writes: only the base view is read.
	SkipPendingWrites bool
	// LowerBound (inclusive) and UpperBound (exclusive) limit iteration. Point lookups ignore them.
	LowerBound []byte
	UpperBound []byte
}

func (o ReadOptions) cfIterOptions(dir Direction) engine_util.CFIterOptions {
	return engine_util.CFIterOptions{
		Reverse:    dir == Reverse,
		LowerBound: o.LowerBound,
		UpperBound: o.UpperBound,
	}
}

type TransactionOptions struct {
	// SetSnapshot makes Snapshot and TimestampedSnapshot available. The snapshot is the committed state the
	// transaction began on.
	SetSnapshot bool
	// Pessimistic transactions latch every key they write until they finish. Optimistic ones detect conflicts at
	// commit.
	Pessimistic bool
	// LockTimeout bounds how long a pessimistic write waits for a latch. Zero uses the database default.
	LockTimeout time.Duration
}

// owner is a parent which borrowed handles (pinned slices, iterators, snapshot refs) are tied to. Its generation
// changes when it finishes, which invalidates every handle created before.
type owner interface {
	generation() uint64
	describe() string
	// registry holds the owner's open iterators, closed when it finishes.
	registry() *cursorSet
}

func checkLive(o owner, gen uint64, what string) {
	if o.generation() != gen {
		panic(preconditionf("%s used after its %s finished", what, o.describe()))
	}
}
