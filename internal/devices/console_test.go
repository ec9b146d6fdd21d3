package devices

import (
	"testing"

	"github.com/pandos-go/kernel/internal/bus"
)

func TestTerminalTransmitWritesToScreen(t *testing.T) {
	b := bus.New()
	term, err := NewTerminal(b, 0, 80, 24)
	if err != nil {
		t.Fatalf("NewTerminal: %v", err)
	}

	for _, c := range []byte("hi") {
		term.WriteTransmitCommand(uint32(cmdTransmitChar) | uint32(c)<<8)
	}

	if term.LastCompletedWasReceive() {
		t.Fatal("LastCompletedWasReceive() = true after a transmit")
	}
	if got := b.PendingDevices(bus.LineTerminal); got != 1 {
		t.Fatalf("PendingDevices() = %#b, want device 0 pending", got)
	}
}

func TestTerminalReceiveWithNoInputDoesNotRaise(t *testing.T) {
	b := bus.New()
	term, _ := NewTerminal(b, 0, 80, 24)

	term.WriteReceiveCommand(uint32(cmdReceiveChar))

	if b.PendingDevices(bus.LineTerminal) != 0 {
		t.Fatal("receive with empty input queue raised an interrupt")
	}
}

func TestTerminalReceiveConsumesFedByte(t *testing.T) {
	b := bus.New()
	term, _ := NewTerminal(b, 0, 80, 24)
	term.Feed([]byte("A"))

	term.WriteReceiveCommand(uint32(cmdReceiveChar))

	if !term.LastCompletedWasReceive() {
		t.Fatal("LastCompletedWasReceive() = false after a completed receive")
	}
	if got := b.PendingDevices(bus.LineTerminal); got != 1 {
		t.Fatalf("PendingDevices() = %#b, want device 0 pending", got)
	}
	status := term.ReadReceiveStatus()
	if byte(status>>8) != 'A' {
		t.Fatalf("received char = %q, want 'A'", byte(status>>8))
	}
}

func TestPrinterJobAccumulatesBytes(t *testing.T) {
	b := bus.New()
	p, err := NewPrinter(b, 0)
	if err != nil {
		t.Fatalf("NewPrinter: %v", err)
	}
	for _, c := range []byte("ok") {
		p.WriteCommand(uint32(cmdPrint) | uint32(c)<<8)
	}
	if p.Job() != "ok" {
		t.Fatalf("Job() = %q, want %q", p.Job(), "ok")
	}
	if b.PendingDevices(bus.LinePrinter) != 1 {
		t.Fatal("printer did not raise an interrupt")
	}
}
