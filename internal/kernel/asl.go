package kernel

import (
	"fmt"
	"unsafe"
)

// MaxSemaphoreDescriptors is 20 live descriptors plus the two bracketing
// sentinels (spec.md §4.2).
const MaxSemaphoreDescriptors = MaxProcesses + 2

// semdID is the arena index type for semaphore descriptors.
type semdID int32

const noSemd semdID = -1

// semd is one active-semaphore descriptor: a semaphore is in the ASL iff
// its waiter queue is non-empty (invariant I3).
type semd struct {
	addr SemAddr
	next semdID
	q    pcbQueue
}

// asl is the sorted singly-linked Active Semaphore List, keyed by the
// numeric value of the semaphore's address (spec.md §4.2). Two sentinel
// descriptors (key 0 and +∞) bracket the list so insert/remove never need
// to special-case the ends.
type asl struct {
	descs    [MaxSemaphoreDescriptors]semd
	freeNext [MaxSemaphoreDescriptors]semdID
	freeHead semdID

	head semdID // sentinel, key 0
	tail semdID // sentinel, key +inf

	pool *pcbPool
}

func addrKey(a SemAddr) uintptr { return uintptr(unsafe.Pointer(a)) }

func newASL(pool *pcbPool) *asl {
	a := &asl{pool: pool}
	// descriptors 0 and 1 are the sentinels; the rest form the free list.
	a.head, a.tail = 0, 1
	a.descs[a.head] = semd{addr: nil, next: a.tail, q: pcbQueue{pool: pool, tail: NoProcess}}
	a.descs[a.tail] = semd{addr: nil, next: noSemd, q: pcbQueue{pool: pool, tail: NoProcess}}

	a.freeHead = 2
	for i := semdID(2); i < MaxSemaphoreDescriptors; i++ {
		if i == MaxSemaphoreDescriptors-1 {
			a.freeNext[i] = noSemd
		} else {
			a.freeNext[i] = i + 1
		}
	}
	return a
}

// find returns the descriptor for addr and its predecessor in the sorted
// chain (predecessor is always valid since head is a sentinel).
func (a *asl) find(addr SemAddr) (prev, cur semdID) {
	key := addrKey(addr)
	prev = a.head
	cur = a.descs[prev].next
	for cur != noSemd && a.descs[cur].addr != nil && addrKey(a.descs[cur].addr) < key {
		prev = cur
		cur = a.descs[cur].next
	}
	return prev, cur
}

// insertBlocked finds-or-allocates the descriptor for addr and appends pcb
// to its waiter queue (spec.md §4.2). Returns false if a new descriptor was
// needed but the pool is exhausted.
func (a *asl) insertBlocked(addr SemAddr, id ProcessID) bool {
	prev, cur := a.find(addr)
	if cur == noSemd || a.descs[cur].addr == nil || addrKey(a.descs[cur].addr) != addrKey(addr) {
		if a.freeHead == noSemd {
			return false
		}
		newID := a.freeHead
		a.freeHead = a.freeNext[newID]
		a.descs[newID] = semd{addr: addr, next: cur, q: pcbQueue{pool: a.pool, tail: NoProcess}}
		a.descs[prev].next = newID
		cur = newID
	}
	a.descs[cur].q.insertTail(id)
	a.pool.get(id).blockedOn = addr
	return true
}

// removeBlocked pops and returns the head waiter of addr's queue, freeing
// the descriptor if the queue becomes empty. Returns NoProcess if addr has
// no descriptor (nothing blocked on it).
func (a *asl) removeBlocked(addr SemAddr) ProcessID {
	prev, cur := a.find(addr)
	if cur == noSemd || a.descs[cur].addr == nil || addrKey(a.descs[cur].addr) != addrKey(addr) {
		return NoProcess
	}
	id := a.descs[cur].q.removeHead()
	if id != NoProcess {
		a.pool.get(id).blockedOn = nil
	}
	if a.descs[cur].q.isEmpty() {
		a.descs[prev].next = a.descs[cur].next
		a.freeNext[cur] = a.freeHead
		a.freeHead = cur
	}
	return id
}

// outBlocked removes a specific pcb from whichever semaphore queue it sits
// in, used by cascaded termination (spec.md §4.2). It does not clear
// blockedOn — the caller (SYS2) has already decided what to do with it.
func (a *asl) outBlocked(id ProcessID) (ProcessID, error) {
	addr := a.pool.get(id).blockedOn
	if addr == nil {
		return NoProcess, fmt.Errorf("asl: pcb %d is not blocked on any semaphore", id)
	}
	prev, cur := a.find(addr)
	if cur == noSemd || a.descs[cur].addr == nil || addrKey(a.descs[cur].addr) != addrKey(addr) {
		return NoProcess, fmt.Errorf("asl: no descriptor for address blocking pcb %d", id)
	}
	if !a.descs[cur].q.removeArbitrary(id) {
		return NoProcess, fmt.Errorf("asl: pcb %d not found in its own semaphore queue", id)
	}
	if a.descs[cur].q.isEmpty() {
		a.descs[prev].next = a.descs[cur].next
		a.freeNext[cur] = a.freeHead
		a.freeHead = cur
	}
	return id, nil
}

// headBlocked peeks at addr's queue head without removing it.
func (a *asl) headBlocked(addr SemAddr) ProcessID {
	_, cur := a.find(addr)
	if cur == noSemd || a.descs[cur].addr == nil || addrKey(a.descs[cur].addr) != addrKey(addr) {
		return NoProcess
	}
	return a.descs[cur].q.head()
}
