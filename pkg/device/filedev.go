package device

import (
	"bytes"
	"fmt"
	"os"

	"github.com/PageVault/pagevault/pkg/common/log"
)

const compareChunkSize = 4096

// FileDevice is a Driver backed by a device image file. The image has a
// fixed capacity; accesses beyond it fail with ErrOutOfRange rather than
// growing the file, matching the fixed geometry of a physical part.
type FileDevice[A Uint, C Uint] struct {
	file   *os.File
	size   int64
	sum    Checksum[C]
	logger log.Logger
}

// FileOption configures a FileDevice.
type FileOption func(*fileOptions)

type fileOptions struct {
	logger log.Logger
}

// WithLogger routes device lifecycle and fault messages to logger.
func WithLogger(logger log.Logger) FileOption {
	return func(o *fileOptions) {
		o.logger = logger
	}
}

// OpenFile opens (creating if absent) the image at path with the given
// capacity, extending a short file with zeros. sum implements CalculateCRC.
func OpenFile[A Uint, C Uint](path string, size int64, sum Checksum[C], options ...FileOption) (*FileDevice[A, C], error) {
	opts := fileOptions{logger: log.Discard()}
	for _, option := range options {
		option(&opts)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open device image: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat device image: %w", err)
	}
	if info.Size() < size {
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to size device image: %w", err)
		}
	}

	opts.logger.Debug("opened device image %s (%d bytes)", path, size)

	return &FileDevice[A, C]{
		file:   file,
		size:   size,
		sum:    sum,
		logger: opts.logger,
	}, nil
}

func (d *FileDevice[A, C]) bounds(op string, addr A, length int) error {
	if uint64(addr)+uint64(length) > uint64(d.size) {
		return fmt.Errorf("%s of %d bytes at %#x: %w", op, length, addr, ErrOutOfRange)
	}
	return nil
}

// Read implements Driver.
func (d *FileDevice[A, C]) Read(p []byte, addr A) error {
	if err := d.bounds("read", addr, len(p)); err != nil {
		return err
	}
	if _, err := d.file.ReadAt(p, int64(addr)); err != nil {
		d.logger.Error("device read failed at %#x: %v", addr, err)
		return fmt.Errorf("device read at %#x: %w", addr, err)
	}
	return nil
}

// Write implements Driver.
func (d *FileDevice[A, C]) Write(p []byte, addr A) error {
	if err := d.bounds("write", addr, len(p)); err != nil {
		return err
	}
	if _, err := d.file.WriteAt(p, int64(addr)); err != nil {
		d.logger.Error("device write failed at %#x: %v", addr, err)
		return fmt.Errorf("device write at %#x: %w", addr, err)
	}
	return nil
}

// Compare implements Driver, reading the device region in chunks so large
// patterns do not require a second full-size buffer.
func (d *FileDevice[A, C]) Compare(pattern []byte, addr A) (bool, error) {
	if err := d.bounds("compare", addr, len(pattern)); err != nil {
		return false, err
	}
	buf := make([]byte, min(len(pattern), compareChunkSize))
	offset := int64(addr)
	for len(pattern) > 0 {
		n := min(len(pattern), len(buf))
		if _, err := d.file.ReadAt(buf[:n], offset); err != nil {
			return false, fmt.Errorf("device read at %#x: %w", offset, err)
		}
		if !bytes.Equal(buf[:n], pattern[:n]) {
			return false, nil
		}
		pattern = pattern[n:]
		offset += int64(n)
	}
	return true, nil
}

// CalculateCRC implements Driver.
func (d *FileDevice[A, C]) CalculateCRC(addr A, length int) (C, error) {
	if err := d.bounds("crc", addr, length); err != nil {
		return 0, err
	}
	buf := make([]byte, length)
	if _, err := d.file.ReadAt(buf, int64(addr)); err != nil {
		return 0, fmt.Errorf("device read at %#x: %w", addr, err)
	}
	return d.sum(buf), nil
}

// Size returns the device capacity in bytes.
func (d *FileDevice[A, C]) Size() int64 {
	return d.size
}

// Sync flushes pending writes to stable storage.
func (d *FileDevice[A, C]) Sync() error {
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("device sync: %w", err)
	}
	return nil
}

// Close syncs and releases the image file.
func (d *FileDevice[A, C]) Close() error {
	if err := d.file.Sync(); err != nil {
		d.file.Close()
		return fmt.Errorf("device sync on close: %w", err)
	}
	return d.file.Close()
}
