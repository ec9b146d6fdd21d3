package kernel

import (
	"fmt"
	"math"

	"github.com/pandos-go/kernel/internal/acct"
)

// ticksPerSecond converts SYS18's second-granularity argument into
// pseudo-clock ticks (spec.md §4.4.1: one tick every TickMicros, 100ms).
const ticksPerSecond = 1000000 / TickMicros

// adlID is the arena index type for Active Delay List nodes.
type adlID int32

const noDelay adlID = -1

// delayNode is one ADL entry: the absolute tick count at which the waiting
// process should be woken, and the private semaphore the delay daemon V's
// to wake it (spec.md §4.7).
type delayNode struct {
	wakeTick int64
	sem      SemAddr
	next     adlID
}

// maxDelayDescriptors bounds the ADL the same way the ASL is bounded: one
// entry per live process plus two sentinels (spec.md §4.7 mirrors §4.2's
// sentinel-bracketed sorted list).
const maxDelayDescriptors = MaxProcesses + 2

// adl is the sorted-by-wake-time Active Delay List (spec.md §4.7). Unlike
// the ASL, it is never touched by more than one kernel call at a time in
// this call-driven simulator (no interrupt can land mid-syscall), so the
// mutex field exists for parity with the original algorithm's description
// rather than to resolve real contention.
type adl struct {
	descs    [maxDelayDescriptors]delayNode
	freeNext [maxDelayDescriptors]adlID
	freeHead adlID

	head, tail adlID

	mutex int32
}

func newADL() *adl {
	a := &adl{mutex: 1}
	a.head, a.tail = 0, 1
	a.descs[a.head] = delayNode{wakeTick: -1, next: a.tail}
	a.descs[a.tail] = delayNode{wakeTick: math.MaxInt64, next: noDelay}

	a.freeHead = 2
	for i := adlID(2); i < maxDelayDescriptors; i++ {
		if i == maxDelayDescriptors-1 {
			a.freeNext[i] = noDelay
		} else {
			a.freeNext[i] = i + 1
		}
	}
	return a
}

// insert places a new node ahead of the first existing node with a strictly
// later wake time, keeping the list sorted ascending (spec.md §4.7). Returns
// false if the descriptor pool is exhausted.
func (a *adl) insert(wakeTick int64, sem SemAddr) bool {
	prev := a.head
	cur := a.descs[prev].next
	for cur != a.tail && a.descs[cur].wakeTick <= wakeTick {
		prev = cur
		cur = a.descs[cur].next
	}
	if a.freeHead == noDelay {
		return false
	}
	id := a.freeHead
	a.freeHead = a.freeNext[id]
	a.descs[id] = delayNode{wakeTick: wakeTick, sem: sem, next: cur}
	a.descs[prev].next = id
	return true
}

// popReady unlinks and returns the semaphores of every node whose wake time
// has arrived (wakeTick <= nowTick), in wake order, as the delay daemon's
// pseudo-clock-tick handler does (spec.md §4.7).
func (a *adl) popReady(nowTick int64) []SemAddr {
	var woken []SemAddr
	cur := a.descs[a.head].next
	for cur != a.tail && a.descs[cur].wakeTick <= nowTick {
		woken = append(woken, a.descs[cur].sem)
		next := a.descs[cur].next
		a.freeNext[cur] = a.freeHead
		a.freeHead = cur
		cur = next
	}
	a.descs[a.head].next = cur
	return woken
}

// removeBySem unlinks the node (if any) waiting on sem, used when a process
// blocked in Delay is killed before its wake time arrives (spec.md §4.4.2
// SYS2's cascaded termination must not leave a stale ADL entry pointing at
// a Support structure that gets reused for a different ASID).
func (a *adl) removeBySem(sem SemAddr) bool {
	prev := a.head
	cur := a.descs[prev].next
	for cur != a.tail {
		if a.descs[cur].sem == sem {
			a.descs[prev].next = a.descs[cur].next
			a.freeNext[cur] = a.freeHead
			a.freeHead = cur
			return true
		}
		prev = cur
		cur = a.descs[cur].next
	}
	return false
}

// Delay implements SYS18 (spec.md §4.7): validate seconds, compute the
// absolute wake tick, insert into the ADL under its (uncontended) mutex,
// then unconditionally block on the caller's private semaphore. The delay
// daemon (wired through the pseudo-clock tick handler, dispatch.go) wakes it
// later by V'ing that same address.
func (k *Kernel) Delay(seconds int32) error {
	if seconds < 0 {
		return fmt.Errorf("kernel: SYS18 delay: negative seconds %d", seconds)
	}
	id := k.current
	s := k.pcbs.get(id).support
	if s == nil {
		return fmt.Errorf("kernel: SYS18 delay: pid %d has no Support structure", id)
	}

	a := k.adl
	a.mutex--
	wake := k.tickCount + int64(seconds)*ticksPerSecond
	if !a.insert(wake, &s.PrivateSem) {
		return fmt.Errorf("kernel: SYS18 delay: ADL descriptor pool exhausted")
	}
	a.mutex++

	s.PrivateSem--
	k.softBlock++
	k.blockCurrent(&s.PrivateSem, acct.ReasonVoluntaryBlock)
	k.pcbs.get(id).blockedDelay = true
	return nil
}

// wakeDelayed implements the delay daemon's half of spec.md §4.7: called
// from the pseudo-clock tick handler (dispatch.go onIntervalTick) after
// bumping tickCount, it releases every process whose wake time has
// arrived. A delay-blocked process counts toward soft-block (invariant I4:
// it can only become ready again via a future interrupt, never a
// voluntary V), so waking it V's the private semaphore inline and also
// decrements soft-block, as the pseudo-clock release loop does, rather than
// calling plain V.
func (k *Kernel) wakeDelayed() {
	for _, sem := range k.adl.popReady(k.tickCount) {
		*sem++
		waiter := k.asl.removeBlocked(sem)
		if waiter == NoProcess {
			continue
		}
		k.softBlock--
		k.pcbs.get(waiter).blockedDelay = false
		k.ready.insertTail(waiter)
	}
}
