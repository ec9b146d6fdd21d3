// Package klog is the kernel's structured trace log: every subsystem holds
// a Debug handle obtained from WithSource and calls Writef on state
// transitions (device registration and raised interrupts, process
// creation/termination, dispatch, quantum expiry, pseudo-clock ticks, pager
// installs and evictions). Panicf and Halt are the two
// choke points spec.md §7 names for the kernel's terminal actions.
package klog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Each log line contains a timestamp, source, and message. The binary
// format is:
//   - 2 bytes type (0 = invalid, 1 = bytes, 2 = string)
//   - 2 bytes source length
//   - 4 bytes message length
//   - 8 bytes timestamp (nanoseconds since epoch)
//   - sourceLength bytes source
//   - messageLength bytes message
//
// Thread-safety is achieved by atomically reserving a byte range in the
// backing file before writing into it, so concurrent Writef calls never
// interleave.

type write struct {
	off  int64
	data []byte
}

// logStructuredBuffer is an in-memory Writer: WriteAt stores each write at
// its reserved offset, Compile flattens them back into a single byte slice.
// This package's tests open one of these directly instead of a real file.
type logStructuredBuffer struct {
	data    sync.Map
	maxSize atomic.Int64
}

func (b *logStructuredBuffer) WriteAt(p []byte, off int64) (n int, err error) {
	b.data.Store(off, write{
		off:  off,
		data: append([]byte{}, p...),
	})
	val := b.maxSize.Load()
	if val < int64(len(p))+off {
		for {
			if b.maxSize.CompareAndSwap(val, int64(len(p))+off) {
				break
			}
			val = b.maxSize.Load()
		}
	}
	return len(p), nil
}

func (b *logStructuredBuffer) Close() error {
	return nil
}

// Compile flattens every recorded write back into one contiguous byte
// slice in offset order.
func (b *logStructuredBuffer) Compile() []byte {
	data := make([]byte, b.maxSize.Load())
	b.data.Range(func(key, value any) bool {
		off := key.(int64)
		write := value.(write)
		copy(data[off:off+int64(len(write.data))], write.data)
		return true
	})
	return data
}

// Writer is anything klog can append trace records to.
type Writer interface {
	io.WriterAt
	io.Closer
}

type writer struct {
	w Writer
}

var (
	fh     atomic.Pointer[writer]
	offset atomic.Uint64
)

// OpenFile truncates filename and opens it as the trace log destination.
func OpenFile(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	return Open(f)
}

// Open installs w as the trace log destination. The returned error is a
// warning, not a fatal condition: it indicates a previously open writer was
// discarded without being closed.
func Open(w Writer) error {
	offset.Store(0)
	if fh.Swap(&writer{w: w}) != nil {
		return fmt.Errorf("klog: already open, discarded old writer")
	}
	return nil
}

// Close detaches the current trace log destination, closing it.
func Close() error {
	fh := fh.Swap(nil)
	if fh != nil {
		if err := fh.w.Close(); err != nil {
			return err
		}
	}
	offset.Store(0)
	return nil
}

// DebugKind tags a trace record as carrying raw bytes or a formatted
// string.
type DebugKind uint16

const (
	DebugKindInvalid DebugKind = iota
	DebugKindBytes
	DebugKindString
)

func encodeHeader(kind DebugKind, source string, data []byte) ([]byte, int64) {
	header := make([]byte, 16)
	binary.LittleEndian.PutUint16(header[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(header[2:4], uint16(len(source)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint64(header[8:16], uint64(time.Now().UnixNano()))
	return header, int64(len(source) + len(data) + 16)
}

func decodeHeader(header [16]byte) (kind DebugKind, sourceLength uint16, dataLength uint32) {
	kind = DebugKind(binary.LittleEndian.Uint16(header[0:2]))
	sourceLength = binary.LittleEndian.Uint16(header[2:4])
	dataLength = binary.LittleEndian.Uint32(header[4:8])
	return
}

func writeBytes(kind DebugKind, source string, data []byte) {
	fh := fh.Load()
	if fh == nil {
		return
	}

	header, size := encodeHeader(kind, source, data)
	off := offset.Add(uint64(size)) - uint64(size)
	if _, err := fh.w.WriteAt(header, int64(off)); err != nil {
		panic(err)
	}
	// write source after the header
	if _, err := fh.w.WriteAt([]byte(source), int64(off)+16); err != nil {
		panic(err)
	}
	// write data after the source
	if _, err := fh.w.WriteAt(data, int64(off)+16+int64(len(source))); err != nil {
		panic(err)
	}
}

// WriteBytes appends a raw-bytes trace record tagged with source.
func WriteBytes(source string, data []byte) {
	writeBytes(DebugKindBytes, source, data)
}

// Write appends a string trace record tagged with source.
func Write(source string, data string) {
	writeBytes(DebugKindString, source, []byte(data))
}

// Writef appends a formatted string trace record tagged with source.
func Writef(source string, format string, args ...any) {
	writeBytes(DebugKindString, source, fmt.Appendf(nil, format, args...))
}

// Debug is a source-bound handle onto the trace log, so a subsystem can
// hold one field instead of passing its source name to every call.
type Debug interface {
	WriteBytes(data []byte)
	Write(data string)
	Writef(format string, args ...any)
}

type debugImpl struct {
	source string
}

func (d *debugImpl) WriteBytes(data []byte) {
	writeBytes(DebugKindBytes, d.source, data)
}

func (d *debugImpl) Write(data string) {
	writeBytes(DebugKindString, d.source, []byte(data))
}

func (d *debugImpl) Writef(format string, args ...any) {
	writeBytes(DebugKindString, d.source, fmt.Appendf(nil, format, args...))
}

// WithSource returns a Debug handle bound to source.
func WithSource(source string) Debug {
	return &debugImpl{source: source}
}

// Panicf records a fatal-kernel-state trace entry under subsystem and then
// panics. Used by the few paths the spec marks as "panic": exhausted pools
// during init, an impossible PCB/ADL state, an unknown exception code, or a
// detected deadlock (live processes, zero soft-blocked, empty ready queue).
func Panicf(subsystem string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	Writef(subsystem, "PANIC: %s", msg)
	panic(fmt.Sprintf("%s: %s", subsystem, msg))
}

// Halt records the clean-shutdown trace entry (process count reached zero).
// The kernel loop itself still exits via Schedule returning ErrHalt; this
// only leaves a record of when and why.
func Halt(subsystem string, format string, args ...any) {
	Writef(subsystem, "HALT: %s", fmt.Sprintf(format, args...))
}
