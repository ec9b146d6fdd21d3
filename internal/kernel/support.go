package kernel

// MaxSupportStructures is one per ASID (spec.md §3: ASIDs run 1..8).
const MaxSupportStructures = 8

// PageTableSize is the fixed private page-table size (spec.md §3).
const PageTableSize = 32

// PTE is a page-table entry: EntryHi carries VPN+ASID, EntryLo carries the
// frame number plus the Valid/Dirty/Global bits (spec.md §3).
type PTE struct {
	EntryHi uint32
	EntryLo uint32
}

const (
	peBitGlobal = 1 << 0
	peBitDirty  = 1 << 1
	peBitValid  = 1 << 2
)

func (p PTE) Valid() bool  { return p.EntryLo&peBitValid != 0 }
func (p PTE) Dirty() bool  { return p.EntryLo&peBitDirty != 0 }
func (p PTE) Global() bool { return p.EntryLo&peBitGlobal != 0 }
func (p PTE) Frame() uint32 { return p.EntryLo >> 12 }

func makePTE(entryHi, frame uint32, valid, dirty, global bool) PTE {
	lo := frame << 12
	if valid {
		lo |= peBitValid
	}
	if dirty {
		lo |= peBitDirty
	}
	if global {
		lo |= peBitGlobal
	}
	return PTE{EntryHi: entryHi, EntryLo: lo}
}

// ExceptionContext is the (stack pointer, status, PC) triple the pass-up
// mechanism loads when handing an exception to a process's Support handler
// (spec.md §3).
type ExceptionContext struct {
	StackPtr uint32
	Status   uint32
	PC       uint32
}

// Support is the per-user-process Support structure (spec.md §3): ASID,
// two saved exception states (page-fault and general), two exception
// contexts for pass-up, a private page table, and a private semaphore used
// by the delay daemon and the logical-semaphore facility.
type Support struct {
	ASID int

	PageFaultState State
	GeneralState   State

	PageFaultContext ExceptionContext
	GeneralContext   ExceptionContext

	PageTable [PageTableSize]PTE

	PrivateSem int32

	owner ProcessID
}

type supportPool struct {
	entries  [MaxSupportStructures]Support
	freeNext [MaxSupportStructures]int
	freeHead int
	inUse    [MaxSupportStructures]bool
}

const noSupportSlot = -1

func newSupportPool() *supportPool {
	p := &supportPool{freeHead: 0}
	for i := 0; i < MaxSupportStructures; i++ {
		if i == MaxSupportStructures-1 {
			p.freeNext[i] = noSupportSlot
		} else {
			p.freeNext[i] = i + 1
		}
	}
	return p
}

// alloc assigns the next free ASID (1..8) and returns its Support
// structure, or nil if all 8 are in use.
func (p *supportPool) alloc(owner ProcessID) *Support {
	if p.freeHead == noSupportSlot {
		return nil
	}
	slot := p.freeHead
	p.freeHead = p.freeNext[slot]
	p.inUse[slot] = true

	p.entries[slot] = Support{ASID: slot + 1, owner: owner}
	return &p.entries[slot]
}

func (p *supportPool) free(s *Support) {
	slot := s.ASID - 1
	p.inUse[slot] = false
	p.freeNext[slot] = p.freeHead
	p.freeHead = slot
}

// AllocSupport is the exported entry point CreateProcess callers use to
// build a Support structure before calling CreateProcess itself.
func (k *Kernel) AllocSupport(owner ProcessID) *Support {
	return k.supports.alloc(owner)
}

// releaseSupport returns every swap frame s owns to the pool and frees s
// itself, as SYS9 Terminate requires before calling SYS2 (spec.md §4.6 #9).
func (k *Kernel) releaseSupport(_ ProcessID, s *Support) {
	k.swap.releaseOwner(s.ASID)
	k.supports.free(s)
}
