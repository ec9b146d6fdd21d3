package kernel

import (
	"testing"

	"github.com/pandos-go/kernel/internal/bus"
)

func TestPBlocksAndVWakes(t *testing.T) {
	k := newTestKernel(t)
	a, _ := k.CreateProcess(NoProcess, State{}, nil)
	b, _ := k.CreateProcess(NoProcess, State{}, nil)

	var sem int32 = 1

	id, _ := k.Schedule() // a
	if id != a {
		t.Fatalf("expected a scheduled first, got %d", id)
	}
	k.P(&sem) // sem 1->0, no block

	id, _ = k.Schedule() // b
	if id != b {
		t.Fatalf("expected b scheduled, got %d", id)
	}
	k.P(&sem) // sem 0->-1, b blocks

	if k.current != NoProcess {
		t.Fatalf("current = %d, want NoProcess after block", k.current)
	}

	k.V(&sem) // sem -1->0, wakes b
	if got := k.ready.head(); got != b {
		t.Fatalf("ready head = %d, want %d", got, b)
	}
}

func TestWaitIOBlocksOnDeviceSemaphore(t *testing.T) {
	k := newTestKernel(t)
	id, _ := k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule()

	k.WaitIO(int(bus.LineDisk), 2, false)

	if k.current != NoProcess {
		t.Fatalf("current = %d, want NoProcess", k.current)
	}
	if k.SoftBlockCount() != 1 {
		t.Fatalf("SoftBlockCount() = %d, want 1", k.SoftBlockCount())
	}
	idx := bus.SemaphoreIndex(bus.LineDisk, 2, false)
	if k.asl.headBlocked(&k.deviceSems[idx]) != id {
		t.Fatalf("expected %d blocked on device semaphore %d", id, idx)
	}
}

func TestTerminateKillsWholeSubtree(t *testing.T) {
	k := newTestKernel(t)
	root, _ := k.CreateProcess(NoProcess, State{}, nil)
	child, _ := k.CreateProcess(root, State{}, nil)
	grandchild, _ := k.CreateProcess(child, State{}, nil)
	unrelated, _ := k.CreateProcess(NoProcess, State{}, nil)

	k.Terminate(root)

	if k.LiveProcesses() != 1 {
		t.Fatalf("LiveProcesses() = %d, want 1", k.LiveProcesses())
	}
	for _, id := range []ProcessID{root, child, grandchild} {
		if k.pcbs.get(id).inUse {
			t.Fatalf("pid %d still in use after Terminate", id)
		}
	}
	if !k.pcbs.get(unrelated).inUse {
		t.Fatal("unrelated process was wrongly terminated")
	}
}

func TestTerminateCancelsBlockedSemaphoreWait(t *testing.T) {
	k := newTestKernel(t)
	blocker, _ := k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule()
	var sem int32
	k.P(&sem) // blocks, sem = -1

	killer, _ := k.CreateProcess(NoProcess, State{}, nil)
	k.current = killer
	k.Terminate(blocker)

	if sem != 0 {
		t.Fatalf("sem = %d, want 0 after cascaded termination cancels the P", sem)
	}
	if k.pcbs.get(blocker).inUse {
		t.Fatal("blocker still in use")
	}
}

func TestTerminateOnDeviceBlockedDoesNotCancelSemaphore(t *testing.T) {
	k := newTestKernel(t)
	blocker, _ := k.CreateProcess(NoProcess, State{}, nil)
	k.Schedule()
	k.WaitIO(int(bus.LineDisk), 0, false)

	before := k.SoftBlockCount()
	k.current, _ = k.CreateProcess(NoProcess, State{}, nil)
	k.Terminate(blocker)

	if k.SoftBlockCount() != before-1 {
		t.Fatalf("SoftBlockCount() = %d, want %d", k.SoftBlockCount(), before-1)
	}
	idx := bus.SemaphoreIndex(bus.LineDisk, 0, false)
	if k.deviceSems[idx] != -1 {
		t.Fatalf("device semaphore = %d, want unchanged at -1 (I/O will still complete)", k.deviceSems[idx])
	}
}
