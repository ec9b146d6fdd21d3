package devices

import (
	"sync"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/vt"

	"github.com/pandos-go/kernel/internal/bus"
)

// Terminal is a byte-oriented transmit/receive device. Transmitted bytes are
// fed into a headless vt.Emulator so the echo scenario in spec.md §8.1 is
// observable as real terminal state (cursor, grid contents), not just a
// count; received bytes are drawn from an input queue a test or the CLI
// front end feeds via Feed. Grounded on the teacher's internal/term, with
// the graphics/window half dropped — a register-level device has no frame
// to render, only a screen buffer to inspect.
type Terminal struct {
	mu sync.Mutex

	emu *vt.Emulator

	txStatus    uint32
	rxStatus    uint32
	rxQueue     []byte
	rxHead      int
	lastRecv    byte
	lastWasRecv bool
	installed   bool

	bus    *bus.Bus
	devNum int
}

// NewTerminal returns a terminal with a cols x rows headless screen,
// registered on the bus at devNum.
func NewTerminal(b *bus.Bus, devNum int, cols, rows int) (*Terminal, error) {
	t := &Terminal{
		emu:      vt.NewEmulator(cols, rows),
		txStatus: bus.StatusReady,
		rxStatus: bus.StatusReady,
		bus:      b,
		devNum:   devNum,
	}
	if err := b.Register(bus.LineTerminal, devNum, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Terminal) Start() error { t.mu.Lock(); t.installed = true; t.mu.Unlock(); return nil }
func (t *Terminal) Stop() error  { t.mu.Lock(); t.installed = false; t.mu.Unlock(); return nil }
func (t *Terminal) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.txStatus, t.rxStatus = bus.StatusReady, bus.StatusReady
	t.rxQueue, t.rxHead = nil, 0
	return nil
}

// ReadStatus / WriteCommand satisfy bus.Device by deferring to the transmit
// sub-device, matching spec.md §4.4.1's "prefer the transmit sub-device".
func (t *Terminal) ReadStatus() uint32     { return t.ReadTransmitStatus() }
func (t *Terminal) WriteCommand(c uint32)  { t.WriteTransmitCommand(c) }
func (t *Terminal) ReadTransmitStatus() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.txStatus
}

// transmitCommand low byte is a CHAR_TRANSMIT opcode; the character to send
// is packed in the next byte, per spec.md §6.6.
const (
	cmdTransmitChar byte = 2
	cmdReceiveChar  byte = 2

	statusCharTransmitted uint32 = 5
	statusCharReceived    uint32 = 5
)

func (t *Terminal) WriteTransmitCommand(cmd uint32) {
	t.mu.Lock()
	op := byte(cmd & 0xFF)
	ch := byte((cmd >> 8) & 0xFF)
	t.mu.Unlock()

	if op != cmdTransmitChar {
		return
	}
	t.emu.Write([]byte{ch})
	t.mu.Lock()
	t.txStatus = (statusCharTransmitted & 0xFF) | uint32(ch)<<8
	t.lastWasRecv = false
	t.mu.Unlock()

	t.bus.Raise(bus.LineTerminal, t.devNum)
}

func (t *Terminal) ReadReceiveStatus() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rxStatus
}

func (t *Terminal) WriteReceiveCommand(cmd uint32) {
	op := byte(cmd & 0xFF)
	if op != cmdReceiveChar {
		return
	}
	t.mu.Lock()
	if t.rxHead >= len(t.rxQueue) {
		// no input buffered yet: status stays READY with no char latched,
		// the caller (kernel-SYS5 waiter) will simply not be woken until
		// Feed supplies a byte and Raise is called by the test harness/CLI.
		t.mu.Unlock()
		return
	}
	c := t.rxQueue[t.rxHead]
	t.rxHead++
	t.lastRecv = c
	t.rxStatus = (statusCharReceived & 0xFF) | uint32(c)<<8
	t.lastWasRecv = true
	t.mu.Unlock()

	t.bus.Raise(bus.LineTerminal, t.devNum)
}

// LastCompletedWasReceive reports whether the most recently completed
// operation was a receive rather than a transmit, letting the interrupt
// handler (internal/kernel/dispatch.go) pick the matching sub-device
// semaphore for a terminal interrupt (spec.md §4.4.1).
func (t *Terminal) LastCompletedWasReceive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastWasRecv
}

// Feed enqueues bytes as if typed at the keyboard, for tests and the CLI.
func (t *Terminal) Feed(data []byte) {
	t.mu.Lock()
	t.rxQueue = append(t.rxQueue, data...)
	t.mu.Unlock()
}

// Screen renders the emulator's current grid as plain text, for assertions.
func (t *Terminal) Screen() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.emu.Screen().String()
}

// Printer is a write-only byte device; Job passes its printed text through
// ansi.Strip so escape sequences do not reach traces, grounded on the
// teacher's use of charmbracelet/x/ansi.
type Printer struct {
	mu     sync.Mutex
	status uint32
	job    []byte

	bus    *bus.Bus
	devNum int
}

// NewPrinter returns a printer registered on the bus at devNum.
func NewPrinter(b *bus.Bus, devNum int) (*Printer, error) {
	p := &Printer{status: bus.StatusReady, bus: b, devNum: devNum}
	if err := b.Register(bus.LinePrinter, devNum, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Printer) Start() error { return nil }
func (p *Printer) Stop() error  { return nil }
func (p *Printer) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = bus.StatusReady
	p.job = nil
	return nil
}

func (p *Printer) ReadStatus() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

const cmdPrint byte = 2
const statusPrinted uint32 = 5

func (p *Printer) WriteCommand(cmd uint32) {
	op := byte(cmd & 0xFF)
	ch := byte((cmd >> 8) & 0xFF)
	if op != cmdPrint {
		return
	}
	p.mu.Lock()
	p.job = append(p.job, ch)
	p.status = statusPrinted
	p.mu.Unlock()

	p.bus.Raise(bus.LinePrinter, p.devNum)
}

// Job returns everything printed so far with ANSI escape sequences removed
// by ansi.Strip.
func (p *Printer) Job() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ansi.Strip(string(p.job))
}
