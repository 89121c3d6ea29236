package latches

import (
	"sync"
	"time"

	"github.com/dgryski/go-farm"
)

// Latches implement the write locks of pessimistic transactions. A transaction latches every key it writes when it
// writes it, and keeps the latches until it commits or rolls back. Another transaction writing one of those keys waits
// for the latch, or gives up after its lock timeout.
//
// A latch is identified by the farm fingerprint of the encoded key (column family prefix included), so two keys
// whose fingerprints collide share one latch. That only costs a spurious wait, never a missed one.
//
// Latches are re-entrant per owner: a transaction acquiring a latch it already holds succeeds immediately.
type Latches struct {
	// latchMap maps each latched fingerprint to its holder. Threads who find a latch held wait on its done channel.
	latchMap map[uint64]*latch
	// Mutex to guard latchMap. A thread must hold this mutex while it makes any change to latchMap.
	latchGuard sync.Mutex
}

type latch struct {
	owner uint64
	done  chan struct{}
}

// NewLatches creates a new Latches object for managing a databases latches. There should only be one such object, shared
// between all threads.
func NewLatches() *Latches {
	l := new(Latches)
	l.latchMap = make(map[uint64]*latch)
	return l
}

// AcquireLatch tries to latch key for owner. If this succeeds, nil is returned. If the key is latched by another owner,
// AcquireLatch returns a channel which is closed once that latch is released.
func (l *Latches) AcquireLatch(owner uint64, key []byte) <-chan struct{} {
	slot := farm.Fingerprint64(key)

	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()

	if lt, ok := l.latchMap[slot]; ok {
		if lt.owner == owner {
			return nil
		}
		return lt.done
	}
	l.latchMap[slot] = &latch{owner: owner, done: make(chan struct{})}
	return nil
}

// WaitForLatch latches key for owner, waiting at most timeout for the current holder to release it. It reports whether
// the latch was acquired.
func (l *Latches) WaitForLatch(owner uint64, key []byte, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		done := l.AcquireLatch(owner, key)
		if done == nil {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-done:
			timer.Stop()
		case <-timer.C:
			return false
		}
	}
}

// ReleaseLatches releases the latches owner holds on keys and wakes up everyone waiting on them. Keys not latched by
// owner are ignored.
func (l *Latches) ReleaseLatches(owner uint64, keys [][]byte) {
	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()

	for _, key := range keys {
		slot := farm.Fingerprint64(key)
		lt, ok := l.latchMap[slot]
		if !ok || lt.owner != owner {
			continue
		}
		delete(l.latchMap, slot)
		close(lt.done)
	}
}

// Len returns the number of latches currently held.
func (l *Latches) Len() int {
	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()
	return len(l.latchMap)
}
