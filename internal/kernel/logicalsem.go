package kernel

import (
	"fmt"

	"github.com/pandos-go/kernel/internal/acct"
)

// MaxLogicalSemaphores bounds the Active Logical Semaphore List the way
// every other pool in this package is bounded: a fixed arena, exhausted
// only if user processes coordinate on more distinct shared-segment
// semaphores than the machine was sized for (spec.md §4.8).
const MaxLogicalSemaphores = 64

// logSemID is the arena index type for ALSL descriptors.
type logSemID int32

const noLogSem logSemID = -1

// logsem is one logical semaphore: spec.md §4.8 models the shared-segment
// semaphore's value as living only in the kernel's own bookkeeping (this
// simulator never executes user instructions that would read/write the
// shared page directly, per SPEC_FULL.md §0), keyed by the caller-chosen
// semaphore number rather than by address. Unlike the ASL, a descriptor is
// never freed once allocated: it is the only place its value is held, so a
// positive count must survive even when no one is waiting.
type logsem struct {
	key   int32
	value int32
	q     pcbQueue
	inUse bool
}

// alsl is the Active Logical Semaphore List (spec.md §4.8): a small fixed
// pool of logical semaphores, looked up by key, each with its own FIFO
// waiter queue.
type alsl struct {
	pool  *pcbPool
	descs [MaxLogicalSemaphores]logsem
	count int
}

func newALSL(pool *pcbPool) *alsl {
	return &alsl{pool: pool}
}

// getOrCreate returns the descriptor for key, allocating one (value 0) if
// this is the first time key has been used. Returns false if the pool is
// exhausted.
func (a *alsl) getOrCreate(key int32) (logSemID, bool) {
	for i := 0; i < a.count; i++ {
		if a.descs[i].inUse && a.descs[i].key == key {
			return logSemID(i), true
		}
	}
	if a.count >= MaxLogicalSemaphores {
		return noLogSem, false
	}
	id := logSemID(a.count)
	a.count++
	a.descs[id] = logsem{key: key, inUse: true, q: pcbQueue{pool: a.pool, tail: NoProcess}}
	return id, true
}

// outBlocked removes id from whichever logical semaphore queue it sits in
// (cascaded termination, spec.md §4.8 mirroring §4.2's outBlocked).
func (a *alsl) outBlocked(id ProcessID) (logSemID, error) {
	for i := 0; i < a.count; i++ {
		if a.descs[i].inUse && a.descs[i].q.removeArbitrary(id) {
			return logSemID(i), nil
		}
	}
	return noLogSem, fmt.Errorf("alsl: pcb %d not found in any logical semaphore queue", id)
}

// LogicalP implements SYS19 (spec.md §4.8): P on the logical semaphore
// identified by key, lazily creating it at value 0 on first use. The
// no-contention fast path (value stays >= 0) never touches the waiter
// queue at all, exactly mirroring SYS3's P.
func (k *Kernel) LogicalP(key int32) error {
	id, ok := k.alsl.getOrCreate(key)
	if !ok {
		return fmt.Errorf("kernel: SYS19 logical P: semaphore pool exhausted")
	}
	ls := &k.alsl.descs[id]
	ls.value--
	if ls.value < 0 {
		cur := k.current
		k.chargeVoluntary(acct.ReasonVoluntaryBlock)
		ls.q.insertTail(cur)
		k.pcbs.get(cur).blockedLogical = true
		k.current = NoProcess
	}
	return nil
}

// LogicalV implements SYS20 (spec.md §4.8): V on the logical semaphore
// identified by key, releasing its longest-waiting blocked process (if
// any) straight to the ready queue.
func (k *Kernel) LogicalV(key int32) error {
	id, ok := k.alsl.getOrCreate(key)
	if !ok {
		return fmt.Errorf("kernel: SYS20 logical V: semaphore pool exhausted")
	}
	ls := &k.alsl.descs[id]
	ls.value++
	if ls.value <= 0 {
		waiter := ls.q.removeHead()
		if waiter != NoProcess {
			k.pcbs.get(waiter).blockedLogical = false
			k.ready.insertTail(waiter)
		}
	}
	return nil
}
