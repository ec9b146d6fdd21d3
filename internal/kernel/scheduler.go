package kernel

import (
	"errors"
	"time"

	"github.com/pandos-go/kernel/internal/acct"
	"github.com/pandos-go/kernel/internal/bus"
	"github.com/pandos-go/kernel/internal/devices"
	"github.com/pandos-go/kernel/internal/klog"
)

// QuantumMicros is the fixed round-robin time slice (spec.md §4.3).
const QuantumMicros int64 = 5000

// TickMicros is the pseudo-clock period (spec.md §4.4.1).
const TickMicros int64 = 100000

// SemCount is the size of the device+pseudo-clock semaphore array
// (spec.md §6.3: 48 device semaphores + 1 pseudo-clock semaphore).
const SemCount = 49

// PseudoClockIndex is the pseudo-clock semaphore's slot in that array.
const PseudoClockIndex = 48

// ErrHalt is returned by Schedule when the process count has reached zero
// (spec.md §4.3/§4.9: clean shutdown).
var ErrHalt = errors.New("kernel: halt, no live processes")

// ErrWaitForInterrupt is returned by Schedule when the ready queue is empty
// but at least one process is soft-blocked: the caller must deliver a
// pending interrupt (device completion or pseudo-clock tick) and retry.
var ErrWaitForInterrupt = errors.New("kernel: wait for interrupt")

// Kernel is the whole Nucleus+Support state machine: process table and
// queues, ASL, ready queue, device bus wiring, and the support structures
// layered on top. One Kernel models one uniprocessor machine (spec.md §5).
type Kernel struct {
	pcbs *pcbPool
	asl  *asl
	ready *pcbQueue

	current      ProcessID
	quantumStart int64

	softBlock int

	deviceSems [SemCount]int32

	// deviceMutexes are the per-device (and, for terminals, per-sub-device)
	// support-level mutex semaphores spec.md §5 lists among the kernel's
	// shared resources ("per-device registers + their DMA buffers:
	// per-device support-level mutex semaphore"): doIO acquires the one for
	// (line, devNum, termRead) across the whole command+wait pair, so a
	// device's completion status is always claimed by the process that
	// issued the matching command. Indexed the same way as deviceSems.
	deviceMutexes [SemCount]int32

	acct *acct.Recorder
	log  klog.Debug

	bus         *bus.Bus
	procTimer   *devices.ProcessorTimer
	intervalTmr *devices.IntervalTimer

	now func() int64

	supports *supportPool

	// adl/alsl back the delay daemon and logical-semaphore facility
	// (spec.md §4.7/§4.8); New builds both alongside the other pools.
	adl  *adl
	alsl *alsl

	swap       *swapPool
	sharedPT   [PageTableSize]PTE
	swapMutex  int32
	tlb        TLB
	backing    BackingStore

	// tickCount counts pseudo-clock ticks since boot; the delay daemon
	// (delay.go) measures wake times against it.
	tickCount int64
}

// Option customises a Kernel at construction, mirroring the functional
// options pattern the device layer uses.
type Option func(*kernelConfig)

// kernelConfig collects construction-time options before any clock-bearing
// field (the timers included) is built, so a single virtual clock can drive
// both the scheduler's own accounting and the processor/interval timers it
// arms (spec.md §4.3/§4.4.1) — the two must never drift apart, or a test
// advancing virtual time would never observe a quantum or tick fire.
type kernelConfig struct {
	wallClock func() time.Time
}

// WithClock overrides the microsecond clock used for CPU-time accounting
// and, through the same wallClock field WithVirtualClock sets, for arming the
// processor and interval timers — deterministic tests pass this instead of
// the real wall clock.
func WithClock(now func() int64) Option {
	return func(c *kernelConfig) {
		if now != nil {
			c.wallClock = func() time.Time { return time.UnixMicro(now()) }
		}
	}
}

// WithVirtualClock overrides the wall-clock source directly (time.Time
// granularity), for tests that want sub-microsecond control over timer
// arming without round-tripping through UnixMicro.
func WithVirtualClock(now func() time.Time) Option {
	return func(c *kernelConfig) {
		if now != nil {
			c.wallClock = now
		}
	}
}

// New constructs a Kernel with empty process/semaphore pools and the given
// device bus wired in for the interrupt handler to consult.
func New(b *bus.Bus, opts ...Option) *Kernel {
	cfg := &kernelConfig{wallClock: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}

	pool := newPCBPool()
	k := &Kernel{
		pcbs:    pool,
		asl:     newASL(pool),
		ready:   newPCBQueue(pool),
		current: NoProcess,
		acct:    acct.NewRecorder(),
		log:     klog.WithSource("nucleus"),
		bus:     b,
		now:     func() int64 { return cfg.wallClock().UnixMicro() },
	}
	k.procTimer = devices.NewProcessorTimer(devices.WithClock(cfg.wallClock))
	k.intervalTmr = devices.NewIntervalTimer(time.Duration(TickMicros)*time.Microsecond, devices.WithClock(cfg.wallClock))
	for i := range k.deviceMutexes {
		k.deviceMutexes[i] = 1
	}
	k.supports = newSupportPool()
	k.adl = newADL()
	k.alsl = newALSL(pool)
	k.swap = newSwapPool()
	k.swapMutex = 1
	return k
}

// DeviceSemaphore returns the address of the semaphore for a given
// bus.SemaphoreIndex result, or the pseudo-clock semaphore for
// PseudoClockIndex.
func (k *Kernel) DeviceSemaphore(idx int) SemAddr { return &k.deviceSems[idx] }

// LiveProcesses reports how many PCBs are currently allocated.
func (k *Kernel) LiveProcesses() int { return k.pcbs.live }

// SoftBlockCount reports how many processes are blocked on a device or the
// pseudo-clock semaphore (invariant I4), or in SYS18 Delay.
func (k *Kernel) SoftBlockCount() int { return k.softBlock }

// Current returns the currently running process, or NoProcess if the
// machine is idle between dispatches.
func (k *Kernel) Current() ProcessID { return k.current }

// Schedule implements spec.md §4.3: dequeue the ready head, or halt/wait/
// panic per the three empty-queue cases.
func (k *Kernel) Schedule() (ProcessID, error) {
	id := k.ready.removeHead()
	if id == NoProcess {
		switch {
		case k.pcbs.live == 0:
			klog.Halt("nucleus", "process count reached zero")
			return NoProcess, ErrHalt
		case k.softBlock > 0:
			k.procTimer.Disarm()
			return NoProcess, ErrWaitForInterrupt
		default:
			klog.Panicf("nucleus", "deadlock: %d live processes, 0 soft-blocked, empty ready queue", k.pcbs.live)
			return NoProcess, nil // unreached, Panicf panics
		}
	}

	k.current = id
	k.quantumStart = k.now()
	k.procTimer.Arm(time.Duration(QuantumMicros) * time.Microsecond)
	k.log.Writef("dispatch pid=%d", id)
	return id, nil
}

// chargeVoluntary adds the elapsed quantum time to the current process's
// accumulated CPU time (spec.md §4.3: "every path that voluntarily saves
// the current process's state ... adds now - quantumStart"). Call this
// immediately before clearing the current slot.
func (k *Kernel) chargeVoluntary(reason acct.Reason) {
	if k.current == NoProcess {
		return
	}
	elapsed := k.now() - k.quantumStart
	k.chargeCPU(k.current, elapsed, reason)
}

// State returns the saved processor state for id, so callers (the pager,
// the dispatcher) can inspect or mutate it directly.
func (k *Kernel) State(id ProcessID) *State {
	return &k.pcbs.get(id).state
}
