// Package bus models the machine's device bus: interrupt lines 1-7
// (1 processor timer, 2 interval timer, 3-7 devices), each device line
// carrying up to eight devices, and the per-device STATUS/COMMAND register
// pair that spec.md §6.6 describes. It is adapted from the teacher's
// internal/chipset package: the same registry-with-overlap-checks builder
// pattern and the same level-triggered LineSet design, retargeted from
// port-IO/MMIO dispatch onto the line+device-number addressing the
// interrupt handler (spec.md §4.4.1) and SYS5 (spec.md §4.4.2) both use.
package bus

import (
	"fmt"
	"sync"

	"github.com/pandos-go/kernel/internal/klog"
)

// Line identifies one of the five interrupt-priority device lines. Lines 1
// and 2 (processor timer, interval timer) are handled directly by the
// nucleus and never carry a Device; only lines 3-7 are registered here.
type Line uint8

const (
	LineDisk     Line = 3
	LineFlash    Line = 4
	LineNetwork  Line = 5
	LinePrinter  Line = 6
	LineTerminal Line = 7
)

// DevicesPerLine is the fixed fan-out of each interrupt line (spec.md §6.3).
const DevicesPerLine = 8

// Status codes observable on every device's status register (spec.md §6.6).
const (
	StatusUninstalled uint32 = 0
	StatusReady       uint32 = 1
	StatusBusy        uint32 = 3
)

// Device is the register-level contract every line/device-number slot must
// implement. WriteCommand both starts the operation and, for devices with
// only one outstanding command, clears any completed-status latch.
type Device interface {
	Start() error
	Stop() error
	Reset() error

	ReadStatus() uint32
	WriteCommand(cmd uint32)
}

// TerminalDevice additionally exposes independent transmit/receive status,
// since the semaphore map (spec.md §6.3) treats them as two sub-devices.
type TerminalDevice interface {
	Device
	ReadTransmitStatus() uint32
	WriteTransmitCommand(cmd uint32)
	ReadReceiveStatus() uint32
	WriteReceiveCommand(cmd uint32)
}

type slot struct {
	dev     Device
	pending bool
}

// Bus is the registry of all devices and the current pending-interrupt
// bitmap the dispatcher scans on every line-3..7 interrupt.
type Bus struct {
	mu sync.Mutex

	lines map[Line]*[DevicesPerLine]slot
	log   klog.Debug
}

// New returns an empty Bus.
func New() *Bus {
	b := &Bus{
		lines: make(map[Line]*[DevicesPerLine]slot),
		log:   klog.WithSource("bus"),
	}
	for _, l := range []Line{LineDisk, LineFlash, LineNetwork, LinePrinter, LineTerminal} {
		b.lines[l] = &[DevicesPerLine]slot{}
	}
	return b
}

// Register installs dev at (line, devNum). devNum must be in [0, 8).
func (b *Bus) Register(line Line, devNum int, dev Device) error {
	if devNum < 0 || devNum >= DevicesPerLine {
		return fmt.Errorf("bus: device number %d out of range for line %d", devNum, line)
	}
	row, ok := b.lines[line]
	if !ok {
		return fmt.Errorf("bus: unknown device line %d", line)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if row[devNum].dev != nil {
		return fmt.Errorf("bus: line %d device %d already registered", line, devNum)
	}
	row[devNum] = slot{dev: dev}
	b.log.Writef("registered line=%d dev=%d type=%T", line, devNum, dev)
	return nil
}

// Device returns the device registered at (line, devNum), or an error if
// none is installed (StatusUninstalled territory).
func (b *Bus) Device(line Line, devNum int) (Device, error) {
	row, ok := b.lines[line]
	if !ok || devNum < 0 || devNum >= DevicesPerLine {
		return nil, fmt.Errorf("bus: no such device line=%d dev=%d", line, devNum)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d := row[devNum].dev
	if d == nil {
		return nil, fmt.Errorf("bus: line %d device %d not installed", line, devNum)
	}
	return d, nil
}

// Raise marks (line, devNum) as having a completed, unacknowledged
// interrupt. Devices call this themselves when an operation finishes;
// synchronous simulated devices may call it directly from WriteCommand.
func (b *Bus) Raise(line Line, devNum int) {
	b.mu.Lock()
	row := b.lines[line]
	if row != nil && devNum >= 0 && devNum < DevicesPerLine {
		row[devNum].pending = true
	}
	b.mu.Unlock()
	b.log.Writef("interrupt raised line=%d dev=%d", line, devNum)
}

// PendingLines returns the bitmap of lines (bit N set for line N) that have
// at least one pending device interrupt — the "pending-lines bitmap" spec.md
// §4.4.1 reads from the Cause word.
func (b *Bus) PendingLines() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var bitmap uint8
	for line, row := range b.lines {
		for _, s := range row {
			if s.pending {
				bitmap |= 1 << uint(line)
				break
			}
		}
	}
	return bitmap
}

// PendingDevices returns the per-line interrupting-device bitmap spec.md
// §4.4.1 scans (bit N set for device number N).
func (b *Bus) PendingDevices(line Line) uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := b.lines[line]
	if !ok {
		return 0
	}
	var bitmap uint8
	for i, s := range row {
		if s.pending {
			bitmap |= 1 << uint(i)
		}
	}
	return bitmap
}

// Acknowledge clears the pending flag for (line, devNum); the interrupt
// handler calls this once it has read the device's status register and is
// about to write the ACK command, matching the ordering in spec.md §4.4.1.
func (b *Bus) Acknowledge(line Line, devNum int) {
	b.mu.Lock()
	if row := b.lines[line]; row != nil && devNum >= 0 && devNum < DevicesPerLine {
		row[devNum].pending = false
	}
	b.mu.Unlock()
}

// SemaphoreIndex implements the SYS5 formula from spec.md §6.3:
// (line - 3 + termRead) * 8 + devNum. termRead must be 0 or 1 and is only
// meaningful for line == LineTerminal.
func SemaphoreIndex(line Line, devNum int, termRead bool) int {
	read := 0
	if termRead {
		read = 1
	}
	return (int(line)-3+read)*DevicesPerLine + devNum
}
