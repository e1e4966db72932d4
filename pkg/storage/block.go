// Package storage implements the persistent-storage integrity layer: a
// single-block store holding one identified, checksummed payload behind a
// fixed header, and a chained-page store splitting a payload across
// independently verifiable pages. Both are built directly on a device
// driver; corruption is always detectable, never masked.
package storage

import (
	"errors"
	"fmt"

	"github.com/PageVault/pagevault/pkg/device"
	"github.com/PageVault/pagevault/pkg/token"
)

// BlockFormatID is the magic identifying the single-block layout.
var BlockFormatID = token.MustParse("b024f2dc-72ea-11e8-858e-2cfda1e1cef5")

var (
	// ErrNoActiveBlock is returned by Reader.GetData before a successful Check.
	ErrNoActiveBlock = errors.New("no verified block, Check must succeed first")
	// ErrOutOfBounds rejects a read past the stored payload length.
	ErrOutOfBounds = errors.New("read exceeds stored payload length")
)

// Writer writes one identified, checksummed payload at a fixed device
// address. The header is written before the payload, so an interrupted
// write leaves a header CRC that either still matches the old payload or
// mismatches the half-written one; a reader can never mistake the wreck for
// a committed write. No redundant copy is kept: a torn write is detectable
// but not recoverable.
type Writer[A device.Uint, C device.Uint] struct {
	drv    device.Driver[A, C]
	addr   A
	dataID token.Token
}

// NewWriter creates a writer for the block at addr, tagging payloads with
// dataID.
func NewWriter[A device.Uint, C device.Uint](drv device.Driver[A, C], addr A, dataID token.Token) *Writer[A, C] {
	return &Writer[A, C]{drv: drv, addr: addr, dataID: dataID}
}

// SetData writes format identity, data identity, length, crc and then the
// payload, in that order. crc is the caller-computed checksum over payload,
// using the same algorithm as the device's CalculateCRC.
func (w *Writer[A, C]) SetData(payload []byte, crc C) error {
	if err := w.drv.Write(BlockFormatID.Bytes(), w.addr); err != nil {
		return fmt.Errorf("write format identity: %w", err)
	}
	if err := w.drv.Write(w.dataID.Bytes(), w.addr+A(dataIDOff)); err != nil {
		return fmt.Errorf("write data identity: %w", err)
	}

	lenBuf := make([]byte, uintSize[A]())
	putUint(lenBuf, A(len(payload)))
	if err := w.drv.Write(lenBuf, w.addr+A(blockLengthOff())); err != nil {
		return fmt.Errorf("write length: %w", err)
	}

	crcBuf := make([]byte, uintSize[C]())
	putUint(crcBuf, crc)
	if err := w.drv.Write(crcBuf, w.addr+A(blockCRCOff[A]())); err != nil {
		return fmt.Errorf("write crc: %w", err)
	}

	if err := w.drv.Write(payload, w.addr+A(BlockHeaderSize[A, C]())); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// Reader validates and reads single blocks. GetData requires a prior
// successful Check, which records the active block address and its stored
// payload length.
type Reader[A device.Uint, C device.Uint] struct {
	drv    device.Driver[A, C]
	active A
	length A
	valid  bool
}

// NewReader creates a reader over drv with no active block.
func NewReader[A device.Uint, C device.Uint](drv device.Driver[A, C]) *Reader[A, C] {
	return &Reader[A, C]{drv: drv}
}

// Check validates the block at addr: format magic, then the expected data
// identity, then the stored CRC against one recomputed over the payload.
// On CheckOK the block becomes the reader's active block.
func (r *Reader[A, C]) Check(addr A, dataID token.Token) (CheckResult, error) {
	ok, err := r.drv.Compare(BlockFormatID.Bytes(), addr)
	if err != nil {
		return CheckDeviceError, fmt.Errorf("compare format identity: %w", err)
	}
	if !ok {
		return CheckNoStorage, nil
	}

	ok, err = r.drv.Compare(dataID.Bytes(), addr+A(dataIDOff))
	if err != nil {
		return CheckDeviceError, fmt.Errorf("compare data identity: %w", err)
	}
	if !ok {
		return CheckAnotherStorage, nil
	}

	lenBuf := make([]byte, uintSize[A]())
	if err := r.drv.Read(lenBuf, addr+A(blockLengthOff())); err != nil {
		return CheckDeviceError, fmt.Errorf("read length: %w", err)
	}
	length := getUint[A](lenBuf)

	crcBuf := make([]byte, uintSize[C]())
	if err := r.drv.Read(crcBuf, addr+A(blockCRCOff[A]())); err != nil {
		return CheckDeviceError, fmt.Errorf("read crc: %w", err)
	}
	stored := getUint[C](crcBuf)

	computed, err := r.drv.CalculateCRC(addr+A(BlockHeaderSize[A, C]()), int(length))
	if err != nil {
		return CheckDeviceError, fmt.Errorf("calculate crc: %w", err)
	}
	if computed != stored {
		return CheckStorageError, fmt.Errorf("crc mismatch: stored %#x, computed %#x", stored, computed)
	}

	r.active = addr
	r.length = length
	r.valid = true
	return CheckOK, nil
}

// Length returns the stored payload length of the active block, and whether
// a block is active.
func (r *Reader[A, C]) Length() (A, bool) {
	return r.length, r.valid
}

// GetData reads len(dst) payload bytes at offset from the active block. A
// request past the stored length is rejected locally, before any device
// I/O.
func (r *Reader[A, C]) GetData(dst []byte, offset A) error {
	if !r.valid {
		return ErrNoActiveBlock
	}
	if uint64(offset)+uint64(len(dst)) > uint64(r.length) {
		return fmt.Errorf("%w: offset %d + %d bytes > %d", ErrOutOfBounds, offset, len(dst), r.length)
	}
	if len(dst) == 0 {
		return nil
	}
	if err := r.drv.Read(dst, r.active+A(BlockHeaderSize[A, C]())+offset); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	return nil
}
