package kernel

import (
	"testing"

	"github.com/pandos-go/kernel/internal/bus"
	"github.com/pandos-go/kernel/internal/devices"
)

func TestClassifyException(t *testing.T) {
	cases := []struct {
		code                                                   int
		interrupt, pageFault, syscall, trap bool
	}{
		{ExcInterrupt, true, false, false, false},
		{ExcTLBModification, false, true, false, false},
		{ExcTLBInvalidLoad, false, true, false, false},
		{ExcTLBInvalidStore, false, true, false, false},
		{ExcSyscall, false, false, true, false},
		{5, false, false, false, true},
		{11, false, false, false, true},
	}
	for _, c := range cases {
		gotI, gotP, gotS, gotT := ClassifyException(c.code)
		if gotI != c.interrupt || gotP != c.pageFault || gotS != c.syscall || gotT != c.trap {
			t.Errorf("ClassifyException(%d) = (%v,%v,%v,%v), want (%v,%v,%v,%v)",
				c.code, gotI, gotP, gotS, gotT, c.interrupt, c.pageFault, c.syscall, c.trap)
		}
	}
}

func TestPassUpOrDieTerminatesWithoutSupport(t *testing.T) {
	k := newTestKernel(t)
	id, _ := k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule()

	_, ok := k.PassUpOrDie(id, GeneralSlot, State{PC: 0x1000})
	if ok {
		t.Fatal("PassUpOrDie() ok = true, want false (no Support)")
	}
	if k.pcbs.get(id).inUse {
		t.Fatal("process still alive after pass-up-or-die with no Support")
	}
}

func TestPassUpOrDieDeliversToSupportContext(t *testing.T) {
	k := newTestKernel(t)
	sup := k.AllocSupport(NoProcess)
	sup.GeneralContext = ExceptionContext{PC: 0xDEAD}
	id, _ := k.CreateProcess(NoProcess, State{}, sup)
	k.Schedule()

	ctx, ok := k.PassUpOrDie(id, GeneralSlot, State{PC: 0x2000})
	if !ok {
		t.Fatal("PassUpOrDie() ok = false, want true")
	}
	if ctx.PC != 0xDEAD {
		t.Fatalf("ctx.PC = %#x, want %#x", ctx.PC, 0xDEAD)
	}
	if sup.GeneralState.PC != 0x2000 {
		t.Fatalf("GeneralState.PC = %#x, want %#x (saved faulting state)", sup.GeneralState.PC, 0x2000)
	}
}

func TestHandleInterruptPrefersProcessorTimer(t *testing.T) {
	var clock int64
	b := bus.New()
	k := New(b, WithClock(func() int64 { return clock }))
	id, _ := k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule()

	devices.NewDisk(b, 1, 4, devices.DiskGeometry{})
	b.Raise(bus.LineDisk, 1)
	clock += QuantumMicros + 1

	k.HandleInterrupt()

	if k.current != NoProcess {
		t.Fatal("current not cleared; expected quantum-expiry path to run first")
	}
	if !k.ready.removeArbitrary(id) {
		t.Fatal("process not requeued after quantum expiry")
	}
}

func TestHandleInterruptServicesOneDeviceAtATime(t *testing.T) {
	b := bus.New()
	k := newTestKernelOnBus(t, b)
	devices.NewDisk(b, 1, 4, devices.DiskGeometry{})
	devices.NewFlash(b, 0, 4, 0)

	id, _ := k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule()
	k.WaitIO(int(bus.LineDisk), 1, false)
	b.Raise(bus.LineDisk, 1)

	other, _ := k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule() // other
	k.WaitIO(int(bus.LineFlash), 0, false)
	b.Raise(bus.LineFlash, 0)

	k.HandleInterrupt() // must service disk (higher priority) only

	if k.ready.removeArbitrary(id) == false {
		t.Fatal("disk waiter not released by first HandleInterrupt call")
	}
	if k.ready.removeArbitrary(other) {
		t.Fatal("flash waiter released too early; only one device should be serviced per call")
	}
}

func newTestKernelOnBus(t *testing.T, b *bus.Bus) *Kernel {
	t.Helper()
	var clock int64
	return New(b, WithClock(func() int64 { return clock }))
}

func TestOnIntervalTickReleasesAllClockWaiters(t *testing.T) {
	k := newTestKernel(t)
	a, _ := k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule() // a
	k.WaitForClock()
	b, _ := k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule() // b
	k.WaitForClock()

	k.onIntervalTick()

	if !k.ready.removeArbitrary(a) || !k.ready.removeArbitrary(b) {
		t.Fatal("not all pseudo-clock waiters were released")
	}
	if k.SoftBlockCount() != 0 {
		t.Fatalf("SoftBlockCount() = %d, want 0", k.SoftBlockCount())
	}
}
