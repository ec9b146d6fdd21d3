package klog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// decodeRecords walks a compiled buffer and returns the source of each
// record it finds, in write order — enough to check that Write/Writef
// actually land in the log with the expected framing.
func decodeRecords(t *testing.T, data []byte) []string {
	t.Helper()
	var sources []string
	off := 0
	for off < len(data) {
		var header [16]byte
		copy(header[:], data[off:off+16])
		kind, sourceLen, dataLen := decodeHeader(header)
		if kind == DebugKindInvalid {
			t.Fatalf("decoded invalid record at offset %d", off)
		}
		start := off + 16
		sources = append(sources, string(data[start:start+int(sourceLen)]))
		off = start + int(sourceLen) + int(dataLen)
	}
	return sources
}

func TestWriteAppendsRecord(t *testing.T) {
	buf := new(logStructuredBuffer)
	func() {
		if err := Open(buf); err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer Close()
		Write("test", "hello, world")
	}()

	sources := decodeRecords(t, buf.Compile())
	if len(sources) != 1 || sources[0] != "test" {
		t.Fatalf("decodeRecords() = %v, want [\"test\"]", sources)
	}
}

func TestWritefFormatsMessage(t *testing.T) {
	buf := new(logStructuredBuffer)
	if err := Open(buf); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close()

	WithSource("pager").Writef("evicted frame=%d asid=%d", 3, 7)

	data := buf.Compile()
	var header [16]byte
	copy(header[:], data[:16])
	kind, sourceLen, dataLen := decodeHeader(header)
	if kind != DebugKindString {
		t.Fatalf("kind = %v, want DebugKindString", kind)
	}
	msg := string(data[16+int(sourceLen) : 16+int(sourceLen)+int(dataLen)])
	if msg != "evicted frame=3 asid=7" {
		t.Fatalf("message = %q, want %q", msg, "evicted frame=3 asid=7")
	}
}

func TestWriteBytesUsesByteKind(t *testing.T) {
	buf := new(logStructuredBuffer)
	if err := Open(buf); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close()

	WriteBytes("disk", []byte{0xDE, 0xAD})

	var header [16]byte
	copy(header[:], buf.Compile()[:16])
	kind, _, _ := decodeHeader(header)
	if kind != DebugKindBytes {
		t.Fatalf("kind = %v, want DebugKindBytes", kind)
	}
}

func TestWriteOrderingIsPreserved(t *testing.T) {
	buf := new(logStructuredBuffer)
	if err := Open(buf); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close()

	for i := 0; i < 10; i++ {
		Write("test", fmt.Sprintf("hello, world %d", i))
	}

	sources := decodeRecords(t, buf.Compile())
	if len(sources) != 10 {
		t.Fatalf("decodeRecords() returned %d records, want 10", len(sources))
	}
	for i, s := range sources {
		if s != "test" {
			t.Fatalf("record %d source = %q, want \"test\"", i, s)
		}
	}
}

func TestWriteIsConcurrencySafe(t *testing.T) {
	buf := new(logStructuredBuffer)
	if err := Open(buf); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				Write("test", fmt.Sprintf("hello, world %d/%d", i, j))
			}
		}(i)
	}
	wg.Wait()

	sources := decodeRecords(t, buf.Compile())
	if len(sources) != 40 {
		t.Fatalf("decodeRecords() returned %d records, want 40 (no lost or corrupted writes)", len(sources))
	}
}

func TestOpenFileWritesToDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")
	func() {
		if err := OpenFile(path); err != nil {
			t.Fatalf("OpenFile: %v", err)
		}
		defer Close()
		Write("test", "hello, world")
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	sources := decodeRecords(t, data)
	if len(sources) != 1 || sources[0] != "test" {
		t.Fatalf("decodeRecords() = %v, want [\"test\"]", sources)
	}
}

func TestOpenTwiceWarnsAboutDiscardedWriter(t *testing.T) {
	first := new(logStructuredBuffer)
	second := new(logStructuredBuffer)
	defer Close()

	if err := Open(first); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := Open(second); err == nil {
		t.Fatal("second Open() succeeded, want a warning error about the discarded writer")
	}
}

func TestPanicfRecordsThenPanics(t *testing.T) {
	buf := new(logStructuredBuffer)
	if err := Open(buf); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close()

	defer func() {
		if recover() == nil {
			t.Fatal("Panicf did not panic")
		}
		sources := decodeRecords(t, buf.Compile())
		if len(sources) != 1 || sources[0] != "nucleus" {
			t.Fatalf("decodeRecords() = %v, want [\"nucleus\"] recorded before the panic", sources)
		}
	}()
	Panicf("nucleus", "deadlock: %d live processes", 3)
}

func TestHaltRecordsWithoutPanicking(t *testing.T) {
	buf := new(logStructuredBuffer)
	if err := Open(buf); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close()

	Halt("nucleus", "process count reached zero")

	sources := decodeRecords(t, buf.Compile())
	if len(sources) != 1 || sources[0] != "nucleus" {
		t.Fatalf("decodeRecords() = %v, want [\"nucleus\"]", sources)
	}
}
