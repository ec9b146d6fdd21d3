package kernel

import (
	"github.com/pandos-go/kernel/internal/acct"
	"github.com/pandos-go/kernel/internal/bus"
	"github.com/pandos-go/kernel/internal/klog"
)

// Kernel syscall numbers (spec.md §6.1), valid only in kernel-previous mode.
const (
	SYSCreate      = 1
	SYSTerminate   = 2
	SYSP           = 3
	SYSV           = 4
	SYSWaitIO      = 5
	SYSGetCPUTime  = 6
	SYSWaitForClock = 7
	SYSGetSupport  = 8
)

// CreateProcess implements SYS1 (spec.md §4.4.2 #1): allocate a PCB, copy
// the initial state, attach the (optional) Support structure, insert it
// into the ready queue and as a child of the creating process. Returns the
// new ProcessID and true on success, or NoProcess/false if the PCB pool is
// exhausted (v0 = -1 at the syscall boundary is the caller's job to set).
func (k *Kernel) CreateProcess(creator ProcessID, initial State, sup *Support) (ProcessID, bool) {
	id := k.pcbs.allocPCB()
	if id == NoProcess {
		return NoProcess, false
	}
	node := k.pcbs.get(id)
	node.state = initial
	node.support = sup

	if creator != NoProcess {
		k.pcbs.insertChild(creator, id)
	}
	k.ready.insertTail(id)
	k.log.Writef("SYS1 create pid=%d creator=%d", id, creator)
	return id, true
}

// Terminate implements SYS2 (spec.md §4.4.2 #2): recursively kill the
// subtree rooted at id. For each process: unlink from parent, from the
// ready queue, or from its semaphore queue; device-blocked waiters only
// decrement soft-block (the pending I/O still completes and still V's the
// semaphore itself, spec.md §5), anything else blocked has its semaphore
// re-incremented to cancel the earlier P. id itself is included.
func (k *Kernel) Terminate(id ProcessID) {
	// Gather the whole subtree first (children mutate the tree as we go).
	var subtree []ProcessID
	var walk func(ProcessID)
	walk = func(p ProcessID) {
		subtree = append(subtree, p)
		for _, c := range k.pcbs.children(p) {
			walk(c)
		}
	}
	walk(id)

	for _, p := range subtree {
		k.killOne(p)
	}

	if id == k.current {
		k.current = NoProcess
	}
	k.log.Writef("SYS2 terminate pid=%d subtree=%d", id, len(subtree))
}

func (k *Kernel) killOne(id ProcessID) {
	node := k.pcbs.get(id)

	k.pcbs.removeChild(id)

	if id == k.current {
		// handled by the caller once the whole subtree is down
	} else if node.blockedLogical {
		logID, err := k.alsl.outBlocked(id)
		if err != nil {
			klog.Panicf("nucleus", "cascaded termination: %v", err)
		}
		// Not device/clock-backed: cancel the earlier P, same as the
		// ordinary-semaphore case below.
		k.alsl.descs[logID].value++
		node.blockedLogical = false
	} else if node.blockedOn != nil {
		addr := node.blockedOn
		if k.isDeviceOrClockSem(addr) || node.blockedDelay {
			k.softBlock--
			k.adl.removeBySem(addr)
		} else {
			*addr++
		}
		if _, err := k.asl.outBlocked(id); err != nil {
			klog.Panicf("nucleus", "cascaded termination: %v", err)
		}
		node.blockedOn = nil
		node.blockedDelay = false
	} else {
		k.ready.removeArbitrary(id)
	}

	if node.support != nil {
		k.releaseSupport(id, node.support)
		node.support = nil
	}

	k.acct.Forget(uint32(id))
	k.pcbs.freePCB(id)
}

// isDeviceOrClockSem reports whether addr is one of the 49 fixed
// device/pseudo-clock semaphores, as opposed to a user- or shared-segment
// semaphore (spec.md §5 cancellation rule).
func (k *Kernel) isDeviceOrClockSem(addr SemAddr) bool {
	for i := range k.deviceSems {
		if &k.deviceSems[i] == addr {
			return true
		}
	}
	return false
}

// P implements SYS3 (spec.md §4.4.2 #3).
func (k *Kernel) P(addr SemAddr) {
	*addr--
	if *addr < 0 {
		k.blockCurrent(addr, acct.ReasonVoluntaryBlock)
	}
}

// V implements SYS4 (spec.md §4.4.2 #4).
func (k *Kernel) V(addr SemAddr) {
	*addr++
	if *addr <= 0 {
		if waiter := k.asl.removeBlocked(addr); waiter != NoProcess {
			k.ready.insertTail(waiter)
		}
	}
}

// blockCurrent saves the current process's state into its PCB, charges its
// elapsed quantum, inserts it into the ASL for addr, and clears the current
// slot. Every blocking kernel syscall (P, Wait-I/O, Wait-for-clock) funnels
// through this.
func (k *Kernel) blockCurrent(addr SemAddr, reason acct.Reason) {
	id := k.current
	k.chargeVoluntary(reason)
	if ok := k.asl.insertBlocked(addr, id); !ok {
		klog.Panicf("nucleus", "semaphore descriptor pool exhausted blocking pid=%d", id)
	}
	k.current = NoProcess
}

// WaitIO implements SYS5 (spec.md §4.4.2 #5): unconditionally block the
// current process on the device semaphore identified by (line, devNum,
// termRead), incrementing the soft-block count first.
func (k *Kernel) WaitIO(line int, devNum int, termRead bool) {
	idx := bus.SemaphoreIndex(bus.Line(line), devNum, termRead)
	addr := &k.deviceSems[idx]
	*addr--
	k.softBlock++
	k.blockCurrent(addr, acct.ReasonVoluntaryBlock)
}

// GetCPUTime implements SYS6: accumulated time plus the elapsed slice of
// the currently running quantum.
func (k *Kernel) GetCPUTime(id ProcessID) int64 {
	total := k.acct.Total(uint32(id))
	if id == k.current {
		total += k.now() - k.quantumStart
	}
	return total
}

// WaitForClock implements SYS7: P on the pseudo-clock semaphore, which
// always blocks since it is reset to 0 (never positive) outside a tick.
func (k *Kernel) WaitForClock() {
	addr := &k.deviceSems[PseudoClockIndex]
	*addr--
	k.softBlock++
	k.blockCurrent(addr, acct.ReasonVoluntaryBlock)
}

// GetSupport implements SYS8.
func (k *Kernel) GetSupport(id ProcessID) *Support {
	return k.pcbs.get(id).support
}
