package devices

import (
	"fmt"
	"sync"

	"github.com/pandos-go/kernel/internal/bus"
)

// SectorSize is the fixed disk/flash block size. It is declared again here
// (rather than imported) because internal/kernel already imports this
// package; the value must stay equal to kernel.FrameSize (spec.md §4.5/§6.4
// tie the two together: one backing-store sector holds exactly one page).
const SectorSize = 4096

// diskCmd opcodes, packed into WriteCommand's low byte; the target sector
// rides in the upper 24 bits (spec.md §6.6).
const (
	diskCmdSeek  byte = 1
	diskCmdRead  byte = 2
	diskCmdWrite byte = 3
)

const (
	diskStatusSeekEnded uint32 = 1
	diskStatusReadEnded uint32 = 1
	diskStatusWriteEnded uint32 = 1
)

// DiskGeometry is the cylinders/heads/sectors-per-track triple a real DATA1
// register read would report. NewDisk stores it and it never changes
// afterwards; Start() does not read it.
type DiskGeometry struct {
	Cylinders       uint32
	Heads           uint32
	SectorsPerTrack uint32
}

// Disk models one disk device (disk 0 is the one spec.md §6.4 uses as the
// backing store): a fixed-size array of SectorSize
// blocks, addressed through the ordinary STATUS/COMMAND register pair for
// timing/interrupt purposes, plus direct ReadSector/WriteSector methods the
// pager and the support-level disk syscalls use to actually move bytes —
// there is no emulated DMA engine (no instruction-level memory access
// exists in this simulator, SPEC_FULL.md §0), so register commands drive
// status/interrupt semantics while these methods perform the data copy a
// real DMA controller would.
type Disk struct {
	mu sync.Mutex

	geometry DiskGeometry
	blocks   [][SectorSize]byte

	status       uint32
	lastOp       byte
	lastSector   int
	installed    bool

	bus    *bus.Bus
	line   bus.Line
	devNum int
}

// NewDisk returns a disk with totalSectors blocks, registered on the bus at
// (line, devNum) so it can raise and be scanned for interrupts.
func NewDisk(b *bus.Bus, devNum int, totalSectors int, geom DiskGeometry) (*Disk, error) {
	d := &Disk{
		geometry: geom,
		blocks:   make([][SectorSize]byte, totalSectors),
		status:   bus.StatusReady,
		bus:      b,
		line:     bus.LineDisk,
		devNum:   devNum,
	}
	if err := b.Register(bus.LineDisk, devNum, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Disk) Start() error { d.mu.Lock(); d.installed = true; d.mu.Unlock(); return nil }
func (d *Disk) Stop() error  { d.mu.Lock(); d.installed = false; d.mu.Unlock(); return nil }
func (d *Disk) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = bus.StatusReady
	d.lastOp, d.lastSector = 0, 0
	return nil
}

func (d *Disk) ReadStatus() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Geometry reports the disk geometry passed to NewDisk (the stand-in for
// spec.md §6.6's DATA1 register).
func (d *Disk) Geometry() DiskGeometry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.geometry
}

// WriteCommand decodes op/sector, completes the seek/read/write instantly
// (a synchronous simulated device, like the teacher's devices), and raises
// the bus interrupt for the dispatcher to later service.
func (d *Disk) WriteCommand(cmd uint32) {
	op := byte(cmd & 0xFF)
	sector := int(cmd >> 8)

	d.mu.Lock()
	d.lastOp, d.lastSector = op, sector
	switch op {
	case diskCmdSeek:
		d.status = diskStatusSeekEnded
	case diskCmdRead:
		d.status = diskStatusReadEnded
	case diskCmdWrite:
		d.status = diskStatusWriteEnded
	default:
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.bus.Raise(d.line, d.devNum)
}

// ReadSector copies sector into buf. Called by the pager (as a
// kernel.BackingStore) and by the support-level disk-read syscall once the
// matching WriteCommand/WaitIO round trip has completed.
func (d *Disk) ReadSector(sector int, buf *[SectorSize]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector < 0 || sector >= len(d.blocks) {
		return fmt.Errorf("devices: disk sector %d out of range [0,%d)", sector, len(d.blocks))
	}
	*buf = d.blocks[sector]
	return nil
}

// WriteSector copies buf into sector.
func (d *Disk) WriteSector(sector int, buf *[SectorSize]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector < 0 || sector >= len(d.blocks) {
		return fmt.Errorf("devices: disk sector %d out of range [0,%d)", sector, len(d.blocks))
	}
	d.blocks[sector] = *buf
	return nil
}

// TotalSectors reports the disk's fixed capacity.
func (d *Disk) TotalSectors() int { return len(d.blocks) }
