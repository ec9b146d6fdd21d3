package kernel

import "github.com/pandos-go/kernel/internal/klog"

// PrivateVPNCount is the number of private VPNs a process maps directly by
// VPN mod PageTableSize (spec.md §4.5.1 step 3).
const PrivateVPNCount = PageTableSize

// SharedVPNBase is the first VPN of the 32-page shared segment (spec.md
// §6.5: private then shared, both 32 pages).
const SharedVPNBase = PageTableSize

// SetBackingStore wires the pager to disk 0 (spec.md §6.4). The boot path
// must call this before any process can fault.
func (k *Kernel) SetBackingStore(store BackingStore) { k.backing = store }

// pagerTarget resolves a faulting VPN to the page-table slot it maps,
// distinguishing private VPNs (process-local, mod PageTableSize) from
// shared VPNs (the dedicated 32-page shared segment, global table) per
// spec.md §4.5.1 step 3.
func (k *Kernel) pagerTarget(s *Support, vpn int) (pt *[PageTableSize]PTE, slot int, asid int) {
	if vpn >= SharedVPNBase && vpn < SharedVPNBase+PageTableSize {
		return &k.sharedPT, vpn - SharedVPNBase, sharedOwner
	}
	return &s.PageTable, vpn % PrivateVPNCount, s.ASID
}

// HandleTLBInvalid implements spec.md §4.5.1: the TLB-invalid fault path
// reached by pass-up of exception codes 1-3 onto a process's page-fault
// Support slot. vpn is extracted from the saved EntryHi by the caller.
func (k *Kernel) HandleTLBInvalid(s *Support, vpn int, entryHi uint32) {
	k.P(&k.swapMutex)
	defer k.V(&k.swapMutex)

	pt, slot, asid := k.pagerTarget(s, vpn)

	if asid == sharedOwner && pt[slot].Valid() {
		// Another process installed this shared page between the fault and
		// our acquiring the mutex; nothing left to do (spec.md step 4).
		return
	}

	frame := k.swap.pickFrame()
	if k.swap.isOccupied(frame) {
		k.evict(frame)
	}

	var page [FrameSize]byte
	if k.backing == nil {
		klog.Panicf("pager", "no backing store configured")
	}
	if err := k.backing.ReadSector(sectorFor(asid, slot), &page); err != nil {
		klog.Panicf("pager", "backing-store read asid=%d vpn=%d: %v", asid, slot, err)
	}
	k.swap.memory[frame] = page

	k.swap.occupy(frame, asid, slot, &pt[slot])

	newPTE := makePTE(entryHi, uint32(frame), true, true, asid == sharedOwner)
	pt[slot] = newPTE

	if idx, found := k.tlb.Probe(entryHi); found {
		k.tlb.WriteIndexed(idx, entryHi, newPTE)
	} else {
		k.tlb.WriteRandom(entryHi, newPTE)
	}

	k.log.Writef("pager install asid=%d vpn=%d frame=%d", asid, slot, frame)
}

// evict implements spec.md §4.5.1 step 5: invalidate the old mapping and
// flush its TLB entry (both with interrupts conceptually disabled, i.e.
// performed atomically here before anything else can observe half-evicted
// state — invariant I6), then write the frame back to its backing-store
// slot.
func (k *Kernel) evict(frame int) {
	entry := k.swap.entries[frame]
	old := *entry.pte
	*entry.pte = PTE{EntryHi: old.EntryHi, EntryLo: old.EntryLo &^ peBitValid}
	k.tlb.Invalidate(old.EntryHi)

	page := k.swap.memory[frame]
	if err := k.backing.WriteSector(sectorFor(entry.asid, entry.vpn), &page); err != nil {
		klog.Panicf("pager", "backing-store writeback asid=%d vpn=%d: %v", entry.asid, entry.vpn, err)
	}
	k.log.Writef("pager evict asid=%d vpn=%d frame=%d", entry.asid, entry.vpn, frame)
}

// HandleTLBRefill implements spec.md §4.5.3: a TLB miss on an already
// resident page. No fault, no pager mutex — just re-populate the TLB from
// whichever page table already maps vpn.
func (k *Kernel) HandleTLBRefill(s *Support, vpn int, entryHi uint32) {
	if s == nil {
		klog.Panicf("nucleus", "TLB refill with no Support structure")
	}
	pt, slot, _ := k.pagerTarget(s, vpn)
	k.tlb.WriteRandom(entryHi, pt[slot])
}
