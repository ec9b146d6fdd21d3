package devices

import (
	"fmt"
	"sync"

	"github.com/pandos-go/kernel/internal/bus"
)

// flashCmd opcodes, packed the same way as Disk's (spec.md §6.6): low byte
// is the opcode, the block number rides in the upper bits.
const (
	flashCmdRead    byte = 1
	flashCmdProgram byte = 2
)

const (
	flashStatusReadEnded    uint32 = 1
	flashStatusProgramEnded uint32 = 1
)

// Flash models a single flash device (spec.md §6.4/§6.6): fixed-size
// blocks, a register pair for status/interrupt timing, and direct
// ReadBlock/WriteBlock methods for the same DMA-free reason Disk has them.
// A contiguous prefix of blocks ([0, reservedBlocks)) holds bundled process
// images at boot and is never touched by user-level flash I/O syscalls
// (SPEC_FULL.md's supplemented "reserved flash block range" feature).
type Flash struct {
	mu sync.Mutex

	blocks          [][SectorSize]byte
	reservedBlocks  int
	status          uint32
	installed       bool

	bus    *bus.Bus
	devNum int
}

// NewFlash returns a flash device with totalBlocks blocks, the first
// reservedBlocks of which are off-limits to ordinary flash I/O.
func NewFlash(b *bus.Bus, devNum int, totalBlocks, reservedBlocks int) (*Flash, error) {
	f := &Flash{
		blocks:         make([][SectorSize]byte, totalBlocks),
		reservedBlocks: reservedBlocks,
		status:         bus.StatusReady,
		bus:            b,
		devNum:         devNum,
	}
	if err := b.Register(bus.LineFlash, devNum, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Flash) Start() error { f.mu.Lock(); f.installed = true; f.mu.Unlock(); return nil }
func (f *Flash) Stop() error  { f.mu.Lock(); f.installed = false; f.mu.Unlock(); return nil }
func (f *Flash) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = bus.StatusReady
	return nil
}

func (f *Flash) ReadStatus() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *Flash) WriteCommand(cmd uint32) {
	op := byte(cmd & 0xFF)

	f.mu.Lock()
	switch op {
	case flashCmdRead:
		f.status = flashStatusReadEnded
	case flashCmdProgram:
		f.status = flashStatusProgramEnded
	default:
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	f.bus.Raise(bus.LineFlash, f.devNum)
}

// ReservedBlocks reports how many leading blocks hold bundled process
// images rather than ordinary user data (SPEC_FULL.md supplemented
// feature).
func (f *Flash) ReservedBlocks() int { return f.reservedBlocks }

// ReadBlock copies block into buf. User-level flash I/O (SYS-level, via
// io.go) must reject block < ReservedBlocks(); the pager-equivalent boot
// loader that installs process images is the only caller allowed into the
// reserved range.
func (f *Flash) ReadBlock(block int, buf *[SectorSize]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if block < 0 || block >= len(f.blocks) {
		return fmt.Errorf("devices: flash block %d out of range [0,%d)", block, len(f.blocks))
	}
	*buf = f.blocks[block]
	return nil
}

// WriteBlock copies buf into block.
func (f *Flash) WriteBlock(block int, buf *[SectorSize]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if block < 0 || block >= len(f.blocks) {
		return fmt.Errorf("devices: flash block %d out of range [0,%d)", block, len(f.blocks))
	}
	f.blocks[block] = *buf
	return nil
}

// TotalBlocks reports the flash device's fixed capacity.
func (f *Flash) TotalBlocks() int { return len(f.blocks) }
