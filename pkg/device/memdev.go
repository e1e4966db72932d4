package device

import (
	"bytes"
	"fmt"
)

// Operation names passed to a MemDevice fault hook.
const (
	OpRead    = "read"
	OpWrite   = "write"
	OpCompare = "compare"
	OpCRC     = "crc"
)

// WriteRecord captures one physical write issued against a MemDevice.
type WriteRecord[A Uint] struct {
	Addr A
	Len  int
}

// MemDevice is a RAM-backed Driver. Tests use it to observe physical I/O
// (every write is recorded) and to inject device faults through the Fault
// hook; the bench tool uses it as a zero-latency baseline.
type MemDevice[A Uint, C Uint] struct {
	data   []byte
	sum    Checksum[C]
	writes []WriteRecord[A]

	// Fault, when set, is consulted before every operation. A non-nil
	// return aborts the operation with that error, leaving the backing
	// bytes untouched.
	Fault func(op string, addr A, length int) error
}

// NewMemDevice creates a device of size bytes, zero-filled, using sum for
// CalculateCRC.
func NewMemDevice[A Uint, C Uint](size int, sum Checksum[C]) *MemDevice[A, C] {
	return &MemDevice[A, C]{
		data: make([]byte, size),
		sum:  sum,
	}
}

func (d *MemDevice[A, C]) check(op string, addr A, length int) error {
	if d.Fault != nil {
		if err := d.Fault(op, addr, length); err != nil {
			return err
		}
	}
	end := uint64(addr) + uint64(length)
	if end > uint64(len(d.data)) {
		return fmt.Errorf("%s of %d bytes at %#x: %w", op, length, addr, ErrOutOfRange)
	}
	return nil
}

// Read implements Driver.
func (d *MemDevice[A, C]) Read(p []byte, addr A) error {
	if err := d.check(OpRead, addr, len(p)); err != nil {
		return err
	}
	copy(p, d.data[int(addr):])
	return nil
}

// Write implements Driver.
func (d *MemDevice[A, C]) Write(p []byte, addr A) error {
	if err := d.check(OpWrite, addr, len(p)); err != nil {
		return err
	}
	copy(d.data[int(addr):], p)
	d.writes = append(d.writes, WriteRecord[A]{Addr: addr, Len: len(p)})
	return nil
}

// Compare implements Driver.
func (d *MemDevice[A, C]) Compare(pattern []byte, addr A) (bool, error) {
	if err := d.check(OpCompare, addr, len(pattern)); err != nil {
		return false, err
	}
	lo := int(addr)
	return bytes.Equal(pattern, d.data[lo:lo+len(pattern)]), nil
}

// CalculateCRC implements Driver.
func (d *MemDevice[A, C]) CalculateCRC(addr A, length int) (C, error) {
	if err := d.check(OpCRC, addr, length); err != nil {
		return 0, err
	}
	lo := int(addr)
	return d.sum(d.data[lo : lo+length]), nil
}

// Size returns the device capacity in bytes.
func (d *MemDevice[A, C]) Size() int {
	return len(d.data)
}

// Bytes exposes the backing store so tests can seed or corrupt device
// content directly, bypassing the Driver surface.
func (d *MemDevice[A, C]) Bytes() []byte {
	return d.data
}

// Writes returns every physical write recorded since the last reset.
func (d *MemDevice[A, C]) Writes() []WriteRecord[A] {
	return d.writes
}

// ResetWrites clears the write log.
func (d *MemDevice[A, C]) ResetWrites() {
	d.writes = d.writes[:0]
}
