package kernel

import (
	"fmt"

	"github.com/pandos-go/kernel/internal/bus"
)

// Support-level syscall numbers (spec.md §6.1), valid only in user mode and
// routed through a process's Support general-exception handler.
const (
	SYSTerminateUser    = 9
	SYSGetTOD           = 10
	SYSWriteToPrinter   = 11
	SYSWriteToTerminal  = 12
	SYSReadFromTerminal = 13
	SYSDiskPut          = 14
	SYSDiskGet          = 15
	SYSFlashPut         = 16
	SYSFlashGet         = 17
	SYSDelay            = 18
	SYSLogicalP         = 19
	SYSLogicalV         = 20
)

// sectorStore is the subset of internal/devices.Disk's method set the
// support-level disk syscalls need, satisfied structurally by the concrete
// device returned from the bus registry.
type sectorStore interface {
	ReadSector(sector int, buf *[FrameSize]byte) error
	WriteSector(sector int, buf *[FrameSize]byte) error
	TotalSectors() int
}

// blockStore is the analogous subset of internal/devices.Flash's method
// set.
type blockStore interface {
	ReadBlock(block int, buf *[FrameSize]byte) error
	WriteBlock(block int, buf *[FrameSize]byte) error
	ReservedBlocks() int
	TotalBlocks() int
}

// maxPrinterLen and maxTerminalLen bound a single SYS11/SYS12 write
// (spec.md §4.6: "more than 128 bytes in one call is a parameter error").
const (
	maxPrinterLen  = 128
	maxTerminalLen = 128
)

// reservedDiskNum is disk 0, dedicated to the pager's own backing store
// (spec.md §6.4): ordinary user disk I/O (SYS14/SYS15) may not target it.
const reservedDiskNum = 0

// doIO drives one register-level device operation to completion inside a
// single support-syscall call, resolving the SYS5/interrupt-handler split
// synchronously: the device completes and raises instantly (every device in
// this simulator is synchronous), so WaitIO's block and the interrupt
// handler's device-service step can both run back to back here instead of
// waiting for an external caller to pump interrupts. This still exercises
// the real soft-block/ASL/ready-queue machinery (spec.md §8's testable
// properties), it just doesn't let an unrelated ready process run in
// between — consistent with SPEC_FULL.md §0's call-driven simulation
// boundary, where there is no instruction stream to interleave against.
func (k *Kernel) doIO(line bus.Line, devNum int, termRead bool, cmd uint32) (uint32, error) {
	dev, err := k.bus.Device(line, devNum)
	if err != nil {
		return 0, err
	}
	waiter := k.current
	if waiter == NoProcess {
		return 0, fmt.Errorf("kernel: doIO called with no current process")
	}

	// Hold the per-device (per-sub-device for a terminal) mutex across the
	// whole command+wait pair (spec.md §5/§204): device completion goes to
	// the first waiter on the semaphore, so two processes issuing commands
	// to the same device back to back would otherwise risk one collecting
	// the other's result.
	mutex := &k.deviceMutexes[bus.SemaphoreIndex(line, devNum, termRead)]
	k.P(mutex)
	defer k.V(mutex)

	if termRead {
		term, ok := dev.(bus.TerminalDevice)
		if !ok {
			return 0, fmt.Errorf("kernel: doIO: device line=%d dev=%d is not a terminal", line, devNum)
		}
		term.WriteReceiveCommand(cmd)
	} else {
		dev.WriteCommand(cmd)
	}
	k.WaitIO(int(line), devNum, termRead)
	k.serviceDeviceInterrupt(line, devNum)

	if !k.ready.removeArbitrary(waiter) {
		return 0, fmt.Errorf("kernel: device line=%d dev=%d did not complete its pending request", line, devNum)
	}
	k.current = waiter
	return k.State(waiter).V0(), nil
}

// diskCommand/flashCommand pack an opcode and sector/block number the way
// Disk/Flash.WriteCommand expects (spec.md §6.6): low byte opcode, sector
// in the remaining bits.
func packCommand(op byte, target int) uint32 {
	return uint32(op) | uint32(target)<<8
}

const (
	opDiskRead  byte = 2
	opDiskWrite byte = 3

	opFlashRead    byte = 1
	opFlashProgram byte = 2
)

// DiskGet implements SYS15 (spec.md §4.6 #15): read sector into buf from
// the disk at devNum. devNum 0 is reserved for the pager's own backing
// store and is rejected here.
//
// spec.md describes this as a linear-sector-to-(cyl,head,sect) translation
// followed by a SEEK(cyl)+wait and a READ(head,sect)+wait pair; this
// simulator has no instruction-level DMA buffer to stage through, so
// ReadSector addresses the sector directly and the single doIO call below
// stands in for both command+wait pairs. Disk.Geometry() is read by
// nothing on this path as a result — it exists for a caller that wants to
// report the device's reported geometry, not to drive the transfer.
func (k *Kernel) DiskGet(devNum, sector int, buf *[FrameSize]byte) error {
	if devNum == reservedDiskNum {
		return fmt.Errorf("kernel: SYS15 disk get: device 0 is reserved for the backing store")
	}
	dev, err := k.bus.Device(bus.LineDisk, devNum)
	if err != nil {
		return err
	}
	store, ok := dev.(sectorStore)
	if !ok {
		return fmt.Errorf("kernel: SYS15 disk get: device %d has no sector storage", devNum)
	}
	if sector < 0 || sector >= store.TotalSectors() {
		return fmt.Errorf("kernel: SYS15 disk get: sector %d out of range", sector)
	}
	if _, err := k.doIO(bus.LineDisk, devNum, false, packCommand(opDiskRead, sector)); err != nil {
		return err
	}
	return store.ReadSector(sector, buf)
}

// DiskPut implements SYS14 (spec.md §4.6 #14): write buf to sector on the
// disk at devNum.
func (k *Kernel) DiskPut(devNum, sector int, buf *[FrameSize]byte) error {
	if devNum == reservedDiskNum {
		return fmt.Errorf("kernel: SYS14 disk put: device 0 is reserved for the backing store")
	}
	dev, err := k.bus.Device(bus.LineDisk, devNum)
	if err != nil {
		return err
	}
	store, ok := dev.(sectorStore)
	if !ok {
		return fmt.Errorf("kernel: SYS14 disk put: device %d has no sector storage", devNum)
	}
	if sector < 0 || sector >= store.TotalSectors() {
		return fmt.Errorf("kernel: SYS14 disk put: sector %d out of range", sector)
	}
	if err := store.WriteSector(sector, buf); err != nil {
		return err
	}
	_, err = k.doIO(bus.LineDisk, devNum, false, packCommand(opDiskWrite, sector))
	return err
}

// FlashGet implements SYS17 (spec.md §4.6 #17): read block into buf from
// the flash device at devNum. Blocks inside the boot-reserved image range
// are off-limits to ordinary user flash I/O (SPEC_FULL.md supplemented
// feature).
func (k *Kernel) FlashGet(devNum, block int, buf *[FrameSize]byte) error {
	dev, err := k.bus.Device(bus.LineFlash, devNum)
	if err != nil {
		return err
	}
	store, ok := dev.(blockStore)
	if !ok {
		return fmt.Errorf("kernel: SYS17 flash get: device %d has no block storage", devNum)
	}
	if block < store.ReservedBlocks() {
		return fmt.Errorf("kernel: SYS17 flash get: block %d is in the reserved image range [0,%d)", block, store.ReservedBlocks())
	}
	if block < 0 || block >= store.TotalBlocks() {
		return fmt.Errorf("kernel: SYS17 flash get: block %d out of range", block)
	}
	if _, err := k.doIO(bus.LineFlash, devNum, false, packCommand(opFlashRead, block)); err != nil {
		return err
	}
	return store.ReadBlock(block, buf)
}

// FlashPut implements SYS16 (spec.md §4.6 #16): write buf to block on the
// flash device at devNum.
func (k *Kernel) FlashPut(devNum, block int, buf *[FrameSize]byte) error {
	dev, err := k.bus.Device(bus.LineFlash, devNum)
	if err != nil {
		return err
	}
	store, ok := dev.(blockStore)
	if !ok {
		return fmt.Errorf("kernel: SYS16 flash put: device %d has no block storage", devNum)
	}
	if block < store.ReservedBlocks() {
		return fmt.Errorf("kernel: SYS16 flash put: block %d is in the reserved image range [0,%d)", block, store.ReservedBlocks())
	}
	if block < 0 || block >= store.TotalBlocks() {
		return fmt.Errorf("kernel: SYS16 flash put: block %d out of range", block)
	}
	if err := store.WriteBlock(block, buf); err != nil {
		return err
	}
	_, err = k.doIO(bus.LineFlash, devNum, false, packCommand(opFlashProgram, block))
	return err
}

const (
	opPrinterChar  = 2
	opTerminalChar = 2
)

// WriteToPrinter implements SYS11 (spec.md §4.6 #11): write data, one byte
// per device command, to the printer at devNum. Rejects requests over
// maxPrinterLen bytes.
func (k *Kernel) WriteToPrinter(devNum int, data []byte) (int, error) {
	if len(data) > maxPrinterLen {
		return 0, fmt.Errorf("kernel: SYS11 write to printer: %d bytes exceeds the %d-byte limit", len(data), maxPrinterLen)
	}
	for i, c := range data {
		status, err := k.doIO(bus.LinePrinter, devNum, false, packCommand(opPrinterChar, int(c)))
		if err != nil {
			return i, err
		}
		if status == 0 {
			return i, fmt.Errorf("kernel: SYS11 write to printer: device error status %d", status)
		}
	}
	return len(data), nil
}

// WriteToTerminal implements SYS12 (spec.md §4.6 #12): write data to the
// terminal at devNum's transmit sub-device.
func (k *Kernel) WriteToTerminal(devNum int, data []byte) (int, error) {
	if len(data) > maxTerminalLen {
		return 0, fmt.Errorf("kernel: SYS12 write to terminal: %d bytes exceeds the %d-byte limit", len(data), maxTerminalLen)
	}
	for i, c := range data {
		status, err := k.doIO(bus.LineTerminal, devNum, false, packCommand(opTerminalChar, int(c)))
		if err != nil {
			return i, err
		}
		if status&0xFF == 0 {
			return i, fmt.Errorf("kernel: SYS12 write to terminal: device error status %d", status)
		}
	}
	return len(data), nil
}

// ReadFromTerminal implements SYS13 (spec.md §4.6 #13): read up to maxLen
// bytes from the terminal at devNum's receive sub-device, one device
// command (and one WaitIO round trip) per byte, stopping early at a
// newline exactly as a line-oriented console read does.
func (k *Kernel) ReadFromTerminal(devNum int, maxLen int) ([]byte, error) {
	if maxLen > maxTerminalLen {
		maxLen = maxTerminalLen
	}
	var out []byte
	for len(out) < maxLen {
		status, err := k.doIO(bus.LineTerminal, devNum, true, packCommand(opTerminalChar, 0))
		if err != nil {
			return out, err
		}
		if status&0xFF == 0 {
			return out, fmt.Errorf("kernel: SYS13 read from terminal: device error status %d", status)
		}
		c := byte(status >> 8)
		out = append(out, c)
		if c == '\n' {
			break
		}
	}
	return out, nil
}

// GetTOD implements SYS10 (spec.md §4.6 #10): the current simulated
// microsecond clock.
func (k *Kernel) GetTOD() int64 { return k.now() }

// SupportTerminate implements SYS9 (spec.md §4.6 #9): the support-level
// "kill myself" entry point user processes call, which is exactly SYS2's
// cascaded termination (support-structure release included, syscalls_kernel.go
// killOne) applied to the caller's own subtree.
func (k *Kernel) SupportTerminate(id ProcessID) { k.Terminate(id) }
