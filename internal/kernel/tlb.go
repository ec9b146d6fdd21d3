package kernel

// TLBSize is a small, fixed software TLB. The real machine's TLB size is
// hardware-defined and out of scope (spec.md §1); only its behavior
// (probe/write-indexed/write-random/invalidate) matters to the pager and
// TLB-refill handler.
const TLBSize = 16

type tlbEntry struct {
	valid   bool
	entryHi uint32
	pte     PTE
}

// TLB is the software-managed translation cache spec.md §3/§4.5 requires
// the pager and nucleus to keep consistent with the page tables (invariant
// I6).
type TLB struct {
	entries [TLBSize]tlbEntry
	cursor  int
}

// Probe returns the index of the entry matching entryHi, or (-1, false).
func (t *TLB) Probe(entryHi uint32) (int, bool) {
	for i, e := range t.entries {
		if e.valid && e.entryHi == entryHi {
			return i, true
		}
	}
	return -1, false
}

// WriteIndexed installs pte at a known index (used after Probe finds a
// match, per spec.md §4.5.1 step 8: "write the new entry either by index if
// present").
func (t *TLB) WriteIndexed(i int, entryHi uint32, pte PTE) {
	t.entries[i] = tlbEntry{valid: true, entryHi: entryHi, pte: pte}
}

// WriteRandom installs pte into a round-robin slot (spec.md §4.5.1 step 8:
// "...or random if not").
func (t *TLB) WriteRandom(entryHi uint32, pte PTE) {
	t.entries[t.cursor] = tlbEntry{valid: true, entryHi: entryHi, pte: pte}
	t.cursor = (t.cursor + 1) % TLBSize
}

// Invalidate clears the entry for entryHi if cached, as spec.md §4.5.1 step
// 5a requires before a frame holding that mapping is evicted.
func (t *TLB) Invalidate(entryHi uint32) {
	if i, ok := t.Probe(entryHi); ok {
		t.entries[i].valid = false
	}
}
