package kernel

import (
	"github.com/pandos-go/kernel/internal/acct"
	"github.com/pandos-go/kernel/internal/bus"
	"github.com/pandos-go/kernel/internal/klog"
)

// Exception codes the Cause word carries (spec.md §4.4), abstracted away
// from the real machine's bit layout per spec.md §1.
const (
	ExcInterrupt       = 0
	ExcTLBModification = 1
	ExcTLBInvalidLoad  = 2
	ExcTLBInvalidStore = 3
	ExcSyscall         = 8
)

// Slot selects which of a Support structure's two saved-exception slots a
// pass-up targets (spec.md §3).
type Slot int

const (
	PageFaultSlot Slot = iota
	GeneralSlot
)

// ClassifyException implements spec.md §4.4's code split.
func ClassifyException(code int) (isInterrupt, isPageFault, isSyscall, isProgramTrap bool) {
	switch {
	case code == ExcInterrupt:
		return true, false, false, false
	case code >= 1 && code <= 3:
		return false, true, false, false
	case code == ExcSyscall:
		return false, false, true, false
	case (code >= 4 && code <= 7) || (code >= 9 && code <= 12):
		return false, false, false, true
	default:
		return false, false, false, false
	}
}

// PassUpOrDie implements spec.md §4.4's pass-up-or-die protocol: if id has
// no Support structure it (and its subtree) is terminated and does not
// return; otherwise state is copied into the matching Support slot and the
// matching exception context is returned for the caller to resume into.
func (k *Kernel) PassUpOrDie(id ProcessID, slot Slot, state State) (ExceptionContext, bool) {
	s := k.pcbs.get(id).support
	if s == nil {
		k.Terminate(id)
		return ExceptionContext{}, false
	}
	if slot == PageFaultSlot {
		s.PageFaultState = state
		return s.PageFaultContext, true
	}
	s.GeneralState = state
	return s.GeneralContext, true
}

// HandleException is the dispatcher's outer entry point (spec.md §4.4): it
// classifies cause code and routes to the interrupt handler, the pass-up
// path, or the kernel syscall handler. Program traps and syscalls
// themselves are serviced by the caller (syscalls_kernel.go /
// syscalls_support.go) once pass-up has handed them a Support context;
// HandleException only performs the routing/pass-up decision itself.
func (k *Kernel) HandleException(id ProcessID, code int, state State) {
	isInterrupt, isPageFault, isSyscall, isProgramTrap := ClassifyException(code)
	switch {
	case isInterrupt:
		k.HandleInterrupt()
	case isPageFault:
		k.PassUpOrDie(id, PageFaultSlot, state)
	case isSyscall:
		// Kernel-mode syscalls (1-8) are dispatched directly by callers
		// that already know they're in kernel-previous mode; a syscall
		// reaching here from user-previous mode is a reserved-instruction
		// trap per spec.md §4.4.2, passed up on the general slot.
		k.PassUpOrDie(id, GeneralSlot, state)
	case isProgramTrap:
		k.PassUpOrDie(id, GeneralSlot, state)
	default:
		klog.Panicf("nucleus", "unknown exception code %d", code)
	}
}

// HandleInterrupt implements spec.md §4.4.1: check the per-processor timer,
// then the interval timer, then devices lines 3-7 in priority order,
// servicing exactly one source before returning (the caller re-enters the
// scheduler loop, which re-checks for further pending work).
func (k *Kernel) HandleInterrupt() {
	if k.procTimer.Fired() {
		k.onQuantumExpiry()
		return
	}
	if k.intervalTmr.Fired() {
		k.onIntervalTick()
		return
	}

	for _, line := range []bus.Line{bus.LineDisk, bus.LineFlash, bus.LineNetwork, bus.LinePrinter, bus.LineTerminal} {
		devBitmap := k.bus.PendingDevices(line)
		if devBitmap == 0 {
			continue
		}
		for devNum := 0; devNum < bus.DevicesPerLine; devNum++ {
			if devBitmap&(1<<uint(devNum)) == 0 {
				continue
			}
			k.serviceDeviceInterrupt(line, devNum)
			return
		}
	}
}

// onQuantumExpiry implements the line-1 case: save state (the caller has
// already written it into the PCB), charge elapsed time, requeue, clear
// current.
func (k *Kernel) onQuantumExpiry() {
	if k.current == NoProcess {
		return
	}
	id := k.current
	k.chargeCPU(id, k.now()-k.quantumStart, acct.ReasonQuantumExpiry)
	k.ready.insertTail(id)
	k.current = NoProcess
	k.log.Writef("quantum expiry pid=%d", id)
}

// onIntervalTick implements the line-2 case: reload, release every waiter
// on the pseudo-clock semaphore, reset it to 0.
func (k *Kernel) onIntervalTick() {
	k.intervalTmr.Reload()
	k.tickCount++

	addr := &k.deviceSems[PseudoClockIndex]
	for {
		waiter := k.asl.removeBlocked(addr)
		if waiter == NoProcess {
			break
		}
		k.softBlock--
		k.ready.insertTail(waiter)
	}
	*addr = 0

	k.wakeDelayed()
	k.log.Writef("interval tick, released waiters")
}

// ackCommand is written back to a device's command register purely to mark
// the interrupt serviced; every concrete device in internal/devices treats
// an unrecognized opcode as a no-op, so this deliberately doesn't collide
// with any real opcode (spec.md §4.4.1).
const ackCommand uint32 = 0xFE

// terminalRxState lets the dispatcher tell a terminal's two sub-device
// interrupt causes apart without widening bus.TerminalDevice (spec.md
// §4.4.1's "prefer transmit" rule only decides priority when both are
// pending; a single raised interrupt always belongs to whichever operation
// actually completed).
type terminalRxState interface {
	LastCompletedWasReceive() bool
}

// serviceDeviceInterrupt implements the lines 3-7 case: read status, ack,
// V the device semaphore, and if a waiter is released, copy status into its
// v0 and move it to ready.
func (k *Kernel) serviceDeviceInterrupt(line bus.Line, devNum int) {
	dev, err := k.bus.Device(line, devNum)
	if err != nil {
		return
	}
	var status uint32
	termRead := false
	if line == bus.LineTerminal {
		term, ok := dev.(bus.TerminalDevice)
		if !ok {
			return
		}
		if rx, ok := dev.(terminalRxState); ok && rx.LastCompletedWasReceive() {
			termRead = true
			status = term.ReadReceiveStatus()
		} else {
			status = term.ReadTransmitStatus()
		}
	} else {
		status = dev.ReadStatus()
	}

	dev.WriteCommand(ackCommand)
	k.bus.Acknowledge(line, devNum)

	idx := bus.SemaphoreIndex(line, devNum, termRead)
	addr := &k.deviceSems[idx]
	*addr++
	if *addr > 0 {
		return
	}
	waiter := k.asl.removeBlocked(addr)
	if waiter == NoProcess {
		return
	}
	k.softBlock--
	k.State(waiter).SetV0(status)
	k.ready.insertTail(waiter)
}
