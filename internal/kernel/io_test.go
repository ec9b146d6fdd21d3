package kernel

import (
	"bytes"
	"testing"

	"github.com/pandos-go/kernel/internal/bus"
	"github.com/pandos-go/kernel/internal/devices"
)

func newIOTestKernel(t *testing.T) (*Kernel, *bus.Bus) {
	t.Helper()
	b := bus.New()
	var clock int64
	k := New(b, WithClock(func() int64 { return clock }))
	return k, b
}

func TestDiskPutGetRoundTrip(t *testing.T) {
	k, b := newIOTestKernel(t)
	if _, err := devices.NewDisk(b, 1, 8, devices.DiskGeometry{}); err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	id, _ := k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule()
	if k.current != id {
		t.Fatalf("current = %d, want %d", k.current, id)
	}

	var write [FrameSize]byte
	copy(write[:], "hello disk")
	if err := k.DiskPut(1, 3, &write); err != nil {
		t.Fatalf("DiskPut: %v", err)
	}
	if k.current != id {
		t.Fatalf("current = %d after DiskPut, want %d restored", k.current, id)
	}

	var read [FrameSize]byte
	if err := k.DiskGet(1, 3, &read); err != nil {
		t.Fatalf("DiskGet: %v", err)
	}
	if !bytes.Equal(write[:], read[:]) {
		t.Fatal("DiskGet returned different bytes than DiskPut wrote")
	}
}

func TestDiskGetRejectsDeviceZero(t *testing.T) {
	k, b := newIOTestKernel(t)
	devices.NewDisk(b, 0, 8, devices.DiskGeometry{})
	k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule()

	var buf [FrameSize]byte
	if err := k.DiskGet(0, 0, &buf); err == nil {
		t.Fatal("DiskGet(devNum=0, ...) succeeded, want error (reserved for backing store)")
	}
}

func TestDiskGetRejectsSectorOutOfRange(t *testing.T) {
	k, b := newIOTestKernel(t)
	devices.NewDisk(b, 1, 4, devices.DiskGeometry{})
	k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule()

	var buf [FrameSize]byte
	if err := k.DiskGet(1, 99, &buf); err == nil {
		t.Fatal("DiskGet with out-of-range sector succeeded, want error")
	}
}

func TestFlashRejectsReservedRange(t *testing.T) {
	k, b := newIOTestKernel(t)
	devices.NewFlash(b, 0, 64, 16)
	k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule()

	var buf [FrameSize]byte
	if err := k.FlashGet(0, 5, &buf); err == nil {
		t.Fatal("FlashGet into the reserved image range succeeded, want error")
	}
	if err := k.FlashPut(0, 5, &buf); err == nil {
		t.Fatal("FlashPut into the reserved image range succeeded, want error")
	}
}

func TestFlashPutGetOutsideReservedRange(t *testing.T) {
	k, b := newIOTestKernel(t)
	devices.NewFlash(b, 0, 64, 16)
	k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule()

	var write [FrameSize]byte
	copy(write[:], "flash payload")
	if err := k.FlashPut(0, 20, &write); err != nil {
		t.Fatalf("FlashPut: %v", err)
	}
	var read [FrameSize]byte
	if err := k.FlashGet(0, 20, &read); err != nil {
		t.Fatalf("FlashGet: %v", err)
	}
	if !bytes.Equal(write[:], read[:]) {
		t.Fatal("FlashGet returned different bytes than FlashPut wrote")
	}
}

func TestWriteToPrinterRejectsOverlongPayload(t *testing.T) {
	k, b := newIOTestKernel(t)
	devices.NewPrinter(b, 0)
	k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule()

	data := bytes.Repeat([]byte{'x'}, maxPrinterLen+1)
	if _, err := k.WriteToPrinter(0, data); err == nil {
		t.Fatal("WriteToPrinter with >128 bytes succeeded, want error")
	}
}

func TestWriteToPrinterDeliversBytes(t *testing.T) {
	k, b := newIOTestKernel(t)
	p, _ := devices.NewPrinter(b, 0)
	k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule()

	n, err := k.WriteToPrinter(0, []byte("hi"))
	if err != nil {
		t.Fatalf("WriteToPrinter: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	if p.Job() != "hi" {
		t.Fatalf("Job() = %q, want %q", p.Job(), "hi")
	}
}

func TestWriteThenReadFromTerminal(t *testing.T) {
	k, b := newIOTestKernel(t)
	term, _ := devices.NewTerminal(b, 0, 80, 24)
	k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule()

	if _, err := k.WriteToTerminal(0, []byte("echo")); err != nil {
		t.Fatalf("WriteToTerminal: %v", err)
	}
	if got := term.Screen(); got == "" {
		t.Fatal("terminal screen empty after write")
	}

	term.Feed([]byte("hi\n"))
	data, err := k.ReadFromTerminal(0, 16)
	if err != nil {
		t.Fatalf("ReadFromTerminal: %v", err)
	}
	if string(data) != "hi\n" {
		t.Fatalf("ReadFromTerminal() = %q, want %q", data, "hi\n")
	}
}

func TestDispatchSupportSyscallRoutesDelayAndLogicalSem(t *testing.T) {
	k, _ := newIOTestKernel(t)
	sup := k.AllocSupport(NoProcess)
	id, _ := k.CreateProcess(NoProcess, State{}, sup)
	k.Schedule()

	if _, _, err := k.DispatchSupportSyscall(id, SupportRequest{Syscall: SYSDelay, Seconds: 1}); err != nil {
		t.Fatalf("SYS18 via dispatcher: %v", err)
	}
	if !k.pcbs.get(id).blockedDelay {
		t.Fatal("process not delay-blocked after dispatched SYS18")
	}

	other, _ := k.CreateProcess(NoProcess, State{}, nil)
	k.current = other
	if _, _, err := k.DispatchSupportSyscall(other, SupportRequest{Syscall: SYSLogicalV, Key: 1}); err != nil {
		t.Fatalf("SYS20 via dispatcher: %v", err)
	}
	if v0, _, err := k.DispatchSupportSyscall(other, SupportRequest{Syscall: SYSGetTOD}); err != nil || v0 < 0 {
		t.Fatalf("SYS10 via dispatcher: v0=%d err=%v", v0, err)
	}
}
