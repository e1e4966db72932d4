// Package device defines the capability contract a byte-addressable storage
// device must supply to the cache and store layers, together with two
// implementations: a RAM-backed device for tests and tools, and a device
// backed by an image file.
package device

import (
	"errors"
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
)

// Uint constrains the caller-selected fixed-width integer types used for
// device addresses, lengths and checksums. The persisted layouts derive
// their field widths from these types, so only unsigned fixed-width forms
// are admitted.
type Uint interface {
	~uint16 | ~uint32 | ~uint64
}

// Driver is the set of primitives the storage layers require from a device.
// A is the device address type, C the checksum type.
//
// All calls are synchronous and return only when the I/O has completed.
// Any returned error is a device-level fault; the layers above surface it
// unchanged and never retry.
type Driver[A Uint, C Uint] interface {
	// Read fills p from device bytes starting at addr. Arbitrary length
	// and alignment.
	Read(p []byte, addr A) error

	// Write stores p to the device starting at addr. The page cache always
	// calls this with a full, aligned page; the stores call it with exact
	// header and payload extents.
	Write(p []byte, addr A) error

	// Compare reports whether device bytes at addr equal pattern. A clean
	// mismatch is (false, nil); a non-nil error means the device itself
	// failed.
	Compare(pattern []byte, addr A) (bool, error)

	// CalculateCRC computes the integrity checksum over length device
	// bytes starting at addr.
	CalculateCRC(addr A, length int) (C, error)
}

// Checksum computes a device's integrity sum over a byte slice. The device
// implementations in this package are parameterized by one of these so the
// same image can be checked with whichever algorithm its manifest declares.
type Checksum[C Uint] func(p []byte) C

// SumCRC32 is the IEEE CRC32 checksum.
func SumCRC32(p []byte) uint32 {
	return crc32.ChecksumIEEE(p)
}

// SumXXH64 is the 64-bit xxHash checksum.
func SumXXH64(p []byte) uint64 {
	return xxhash.Sum64(p)
}

// ErrOutOfRange reports an access beyond the end of the device.
var ErrOutOfRange = errors.New("access beyond device bounds")
