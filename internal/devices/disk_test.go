package devices

import (
	"testing"

	"github.com/pandos-go/kernel/internal/bus"
)

func TestDiskWriteCommandRaisesInterrupt(t *testing.T) {
	b := bus.New()
	d, err := NewDisk(b, 1, 16, DiskGeometry{Cylinders: 4, Heads: 2, SectorsPerTrack: 8})
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}

	d.WriteCommand(uint32(diskCmdRead) | uint32(3)<<8)

	if got := b.PendingDevices(bus.LineDisk); got != 1<<1 {
		t.Fatalf("PendingDevices() = %#b, want device 1 pending", got)
	}
	if d.ReadStatus() != diskStatusReadEnded {
		t.Fatalf("ReadStatus() = %d, want %d", d.ReadStatus(), diskStatusReadEnded)
	}
}

func TestDiskReadWriteSectorRoundTrip(t *testing.T) {
	b := bus.New()
	d, _ := NewDisk(b, 0, 4, DiskGeometry{})

	var write [SectorSize]byte
	write[0] = 0x7A
	if err := d.WriteSector(2, &write); err != nil {
		t.Fatalf("WriteSector: %v", err)
	}
	var read [SectorSize]byte
	if err := d.ReadSector(2, &read); err != nil {
		t.Fatalf("ReadSector: %v", err)
	}
	if read != write {
		t.Fatal("ReadSector returned different bytes than WriteSector wrote")
	}
}

func TestDiskSectorOutOfRange(t *testing.T) {
	b := bus.New()
	d, _ := NewDisk(b, 0, 4, DiskGeometry{})
	var buf [SectorSize]byte
	if err := d.ReadSector(4, &buf); err == nil {
		t.Fatal("ReadSector(4) on a 4-sector disk succeeded, want error")
	}
	if err := d.WriteSector(-1, &buf); err == nil {
		t.Fatal("WriteSector(-1) succeeded, want error")
	}
}

func TestDiskUnknownOpcodeIsNoop(t *testing.T) {
	b := bus.New()
	d, _ := NewDisk(b, 0, 4, DiskGeometry{})
	before := d.ReadStatus()
	d.WriteCommand(0xFE)
	if d.ReadStatus() != before {
		t.Fatal("unrecognized opcode changed device status")
	}
	if b.PendingDevices(bus.LineDisk) != 0 {
		t.Fatal("unrecognized opcode raised an interrupt")
	}
}
