package storage

import (
	"unsafe"

	"github.com/PageVault/pagevault/pkg/device"
	"github.com/PageVault/pagevault/pkg/token"
)

// The persisted header layouts are an explicit contract: fields in a fixed
// order, little-endian, each exactly as wide as the caller-selected integer
// type, no padding. Offsets are computed here rather than taken from native
// struct layout.
//
// Single block: [FormatID:16][DataID:16][Length:A][Crc:C] then Length
// payload bytes.
//
// Chain page: [FormatID:16][DataID:16][TotalLength:L][PageOffset:L]
// [PageLength:L][PageCrc:C] then PageLength payload bytes.

func uintSize[T device.Uint]() int {
	var v T
	return int(unsafe.Sizeof(v))
}

func putUint[T device.Uint](b []byte, v T) {
	u := uint64(v)
	for i := 0; i < uintSize[T](); i++ {
		b[i] = byte(u >> (8 * i))
	}
}

func getUint[T device.Uint](b []byte) T {
	var u uint64
	for i := 0; i < uintSize[T](); i++ {
		u |= uint64(b[i]) << (8 * i)
	}
	return T(u)
}

const (
	formatIDOff = 0
	dataIDOff   = token.Size
	metricsOff  = 2 * token.Size
)

// BlockHeaderSize returns the single-block header size for the given
// address and checksum types.
func BlockHeaderSize[A device.Uint, C device.Uint]() int {
	return metricsOff + uintSize[A]() + uintSize[C]()
}

func blockLengthOff() int { return metricsOff }

func blockCRCOff[A device.Uint]() int { return metricsOff + uintSize[A]() }

// PageHeaderSize returns the chain page header size for the given length
// and checksum types.
func PageHeaderSize[L device.Uint, C device.Uint]() int {
	return metricsOff + 3*uintSize[L]() + uintSize[C]()
}

func pageTotalLengthOff() int { return metricsOff }

func pageOffsetOff[L device.Uint]() int { return metricsOff + uintSize[L]() }

func pageLengthOff[L device.Uint]() int { return metricsOff + 2*uintSize[L]() }

func pageCRCOff[L device.Uint]() int { return metricsOff + 3*uintSize[L]() }
