// Package kernel implements the Nucleus and Support levels of spec.md: the
// process table and queues (§4.1), the active semaphore list (§4.2), the
// scheduler (§4.3), the exception/interrupt dispatcher (§4.4), the pager and
// swap pool (§4.5), the support-level syscall dispatcher (§4.6), the delay
// daemon (§4.7) and the logical-semaphore facility (§4.8).
//
// Every static pool in this package (PCBs, semaphore descriptors, Support
// structures) is a fixed-size array indexed by an opaque ID, following the
// arena pattern spec.md §9 prescribes in place of the original's raw
// pointer arithmetic over static C arrays: the arena owns storage, callers
// hold indices, and the pools are allocated once, by New, and never grow.
package kernel

import "github.com/pandos-go/kernel/internal/acct"

// MaxProcesses is the fixed PCB pool size (spec.md §4.1).
const MaxProcesses = 20

// ProcessID is an index into the PCB arena. The sentinel NoProcess (-1)
// means "no process" wherever a field would otherwise be a null pointer.
type ProcessID int32

const NoProcess ProcessID = -1

// SemAddr is a semaphore's identity: spec.md is explicit that "the identity
// of a semaphore is its address", so callers pass the address of the int32
// they are synchronizing on. The device/pseudo-clock semaphores and every
// shared-segment logical semaphore are just entries in a backing []int32,
// addressed this way.
type SemAddr = *int32

// State is the saved processor state spec.md §3 lists: general registers,
// PC, status word, cause, and TLB EntryHi. Register indexing and the
// specific MIPS register file are left abstract (out of scope per spec.md
// §1) — only the fields the kernel itself reads or writes are named.
type State struct {
	Regs     [32]uint32
	PC       uint32
	Status   uint32
	Cause    uint32
	EntryHi  uint32
	EntryLo  uint32 // not set by the kernel; the pager and TLB-refill take EntryLo from the page tables
}

// V0 is the conventional MIPS result register callers use for syscall
// return values.
func (s *State) V0() uint32     { return s.Regs[2] }
func (s *State) SetV0(v uint32) { s.Regs[2] = v }

// A0..A3 are the conventional MIPS argument registers syscalls read.
func (s *State) A0() uint32 { return s.Regs[4] }
func (s *State) A1() uint32 { return s.Regs[5] }
func (s *State) A2() uint32 { return s.Regs[6] }
func (s *State) A3() uint32 { return s.Regs[7] }

// pcb is one process descriptor (spec.md §3). It is owned by exactly one of
// {free list, ready queue, a semaphore queue, the current-process slot} at
// any time (invariant I2); qNext/qPrev serve whichever of those it is
// presently in, since a PCB is never in two queues simultaneously.
type pcb struct {
	inUse bool

	state State

	parent      ProcessID
	firstChild  ProcessID
	prevSibling ProcessID
	nextSibling ProcessID

	qNext ProcessID
	qPrev ProcessID

	blockedOn SemAddr

	// blockedLogical distinguishes a block on the Active Logical Semaphore
	// List (spec.md §4.8, SYS19) from a block on the physical ASL: logical
	// semaphores have no address, only a caller-chosen key, so they can't
	// share blockedOn's SemAddr representation.
	blockedLogical bool

	// blockedDelay marks a block on the caller's own Support.PrivateSem via
	// SYS18 (spec.md §4.7): like a device block it only ever resolves via a
	// future interrupt (the pseudo-clock tick), never a voluntary V, so it
	// counts toward soft-block the same way.
	blockedDelay bool

	support *Support
}

// pcbPool is the static arena of MaxProcesses PCBs plus its free list.
type pcbPool struct {
	procs    [MaxProcesses]pcb
	freeNext [MaxProcesses]ProcessID
	freeHead ProcessID
	live     int
}

func newPCBPool() *pcbPool {
	p := &pcbPool{}
	p.freeHead = 0
	for i := 0; i < MaxProcesses; i++ {
		if i == MaxProcesses-1 {
			p.freeNext[i] = NoProcess
		} else {
			p.freeNext[i] = ProcessID(i + 1)
		}
	}
	return p
}

// allocPCB pops the free list and clears every field. Returns NoProcess if
// the pool is exhausted (spec.md §4.9: kill the requester, or panic during
// init — the caller decides which).
func (p *pcbPool) allocPCB() ProcessID {
	if p.freeHead == NoProcess {
		return NoProcess
	}
	id := p.freeHead
	p.freeHead = p.freeNext[id]

	p.procs[id] = pcb{
		inUse:       true,
		parent:      NoProcess,
		firstChild:  NoProcess,
		prevSibling: NoProcess,
		nextSibling: NoProcess,
		qNext:       NoProcess,
		qPrev:       NoProcess,
	}
	p.live++
	return id
}

// freePCB returns id to the free list.
func (p *pcbPool) freePCB(id ProcessID) {
	p.procs[id] = pcb{}
	p.freeNext[id] = p.freeHead
	p.freeHead = id
	p.live--
}

func (p *pcbPool) get(id ProcessID) *pcb {
	if id == NoProcess {
		return nil
	}
	return &p.procs[id]
}

// chargeCPU adds micros to id's accumulated CPU time via the shared
// accounting recorder, so SYS6 and the monotonicity property in spec.md §8
// read from a single source of truth.
func (k *Kernel) chargeCPU(id ProcessID, micros int64, reason acct.Reason) int64 {
	return k.acct.Charge(uint32(id), micros, reason)
}
