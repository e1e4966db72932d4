// Package cache implements a single-slot page translation cache. It converts
// linear, possibly unaligned read/write requests into page-aligned I/O
// against an injected device driver, keeping at most one page resident in
// RAM. The single slot is deliberate: RAM cost stays at one page regardless
// of address-space size, at the price of write amplification when callers
// interleave writes to far-apart addresses.
package cache

import (
	"errors"
	"fmt"

	"github.com/PageVault/pagevault/pkg/device"
)

// Driver is the device surface the cache needs. Write is only ever called
// with a full page at a page-aligned address; Read may be any extent.
type Driver[A device.Uint] interface {
	Read(p []byte, addr A) error
	Write(p []byte, addr A) error
}

// Status describes the cache slot.
type Status int

const (
	// StatusEmpty means no page is resident.
	StatusEmpty Status = iota
	// StatusClean means the resident page mirrors the device with no
	// pending modifications.
	StatusClean
	// StatusDirty means the resident page holds modifications not yet
	// written to the device.
	StatusDirty
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusClean:
		return "clean"
	case StatusDirty:
		return "dirty"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// FlushHook is invoked synchronously before a dirty page is written to the
// device, with the page buffer and its device address. An owner uses it to
// recompute control fields embedded in the page (for example a stored
// checksum) immediately before persistence. It is never invoked when the
// slot is not dirty.
type FlushHook[A device.Uint] func(buf []byte, addr A)

// ErrPageSize reports an invalid page size at construction.
var ErrPageSize = errors.New("page size must be a positive power of two")

// Cache is the single-slot page translation cache. It is not safe for
// concurrent use; the embedding system serializes access to one instance.
type Cache[A device.Uint] struct {
	drv      Driver[A]
	pageSize int
	addr     A // page-aligned resident address, meaningful when status != empty
	status   Status
	buf      []byte
}

// New creates an empty cache over drv. pageSize must be a power of two.
func New[A device.Uint](drv Driver[A], pageSize int) (*Cache[A], error) {
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrPageSize, pageSize)
	}
	return &Cache[A]{
		drv:      drv,
		pageSize: pageSize,
		buf:      make([]byte, pageSize),
	}, nil
}

// PageSize returns the page size in bytes.
func (c *Cache[A]) PageSize() int {
	return c.pageSize
}

// Status returns the slot status.
func (c *Cache[A]) Status() Status {
	return c.status
}

// Address returns the resident page address; meaningful only when the
// status is not empty.
func (c *Cache[A]) Address() A {
	return c.addr
}

func (c *Cache[A]) pageBase(addr A) A {
	return addr &^ (A(c.pageSize) - 1)
}

// InCache reports whether addr falls within the resident page.
func (c *Cache[A]) InCache(addr A) bool {
	return c.status != StatusEmpty && c.pageBase(addr) == c.addr
}

// Clear unconditionally empties the slot, discarding any unflushed
// modifications. The caller owns that data loss; it is the way to abandon a
// session without touching the device.
func (c *Cache[A]) Clear() {
	c.status = StatusEmpty
}

// Flush writes the resident page to the device if it is dirty. On success
// the slot becomes empty; on a device fault it stays dirty so the flush can
// be retried. A no-op for clean or empty slots.
func (c *Cache[A]) Flush(hook FlushHook[A]) error {
	if c.status != StatusDirty {
		return nil
	}
	if hook != nil {
		hook(c.buf, c.addr)
	}
	if err := c.drv.Write(c.buf, c.addr); err != nil {
		return fmt.Errorf("flush page %#x: %w", c.addr, err)
	}
	c.status = StatusEmpty
	return nil
}

// retarget makes the page containing addr the slot's target. A dirty slot
// holding a different page is flushed first; this is the only implicit
// flush. A clean slot holding a different page is discarded, since its
// buffer mirrors the old page.
func (c *Cache[A]) retarget(addr A, hook FlushHook[A]) error {
	base := c.pageBase(addr)
	if c.status == StatusDirty && c.addr != base {
		if err := c.Flush(hook); err != nil {
			return err
		}
	}
	if c.status == StatusClean && c.addr != base {
		c.status = StatusEmpty
	}
	c.addr = base
	return nil
}

// GetData reads len(dst) bytes starting at addr, which may span multiple
// pages and need not be aligned. Segments falling inside the resident page
// are served from the RAM buffer, so reads observe the caller's own
// unflushed writes; everything else is read from the device directly. On a
// device fault the error is returned immediately; bytes copied before the
// failure are not rolled back and the caller must treat the whole call as
// failed.
func (c *Cache[A]) GetData(dst []byte, addr A) error {
	for len(dst) > 0 {
		off := int(addr % A(c.pageSize))
		n := min(c.pageSize-off, len(dst))
		if c.InCache(addr) {
			copy(dst[:n], c.buf[off:off+n])
		} else if err := c.drv.Read(dst[:n], addr); err != nil {
			return fmt.Errorf("read %d bytes at %#x: %w", n, addr, err)
		}
		dst = dst[n:]
		addr += A(n)
	}
	return nil
}

// SetData writes len(src) bytes starting at addr, which may span multiple
// pages and need not be aligned. Aligned full-page runs are written straight
// to the device; everything else goes through the slot as a read-modify-write,
// with the page fringes read from the device first when the slot was empty so
// a later flush preserves them. hook is passed to any implicit flush.
//
// Known hazard: the full-page bypass does not resync the slot, so bypassing
// the page that is currently resident leaves the RAM mirror stale relative
// to the device.
//
// On a device fault the error is returned immediately and the slot reflects
// whatever was completed; there is no rollback.
func (c *Cache[A]) SetData(src []byte, addr A, hook FlushHook[A]) error {
	for len(src) > 0 {
		off := int(addr % A(c.pageSize))

		if off == 0 && len(src) >= c.pageSize {
			// whole aligned page, the slot stays untouched
			if err := c.drv.Write(src[:c.pageSize], addr); err != nil {
				return fmt.Errorf("write page %#x: %w", addr, err)
			}
			src = src[c.pageSize:]
			addr += A(c.pageSize)
			continue
		}

		if err := c.retarget(addr, hook); err != nil {
			return err
		}
		wasEmpty := c.status == StatusEmpty

		if wasEmpty && off > 0 {
			// leading fringe: not part of this write, must survive the flush
			if err := c.drv.Read(c.buf[:off], c.addr); err != nil {
				return fmt.Errorf("read leading fringe of page %#x: %w", c.addr, err)
			}
		}

		n := min(c.pageSize-off, len(src))
		copy(c.buf[off:off+n], src[:n])

		if wasEmpty && off+n < c.pageSize {
			// trailing fringe
			if err := c.drv.Read(c.buf[off+n:], addr+A(n)); err != nil {
				return fmt.Errorf("read trailing fringe of page %#x: %w", c.addr, err)
			}
		}

		c.status = StatusDirty
		src = src[n:]
		addr += A(n)
	}
	return nil
}

// Load makes the page containing addr resident as a clean mirror of the
// device (a read-through fill). A dirty slot already holding that page is
// left alone; a dirty slot holding a different page is flushed first, with
// hook applied.
func (c *Cache[A]) Load(addr A, hook FlushHook[A]) error {
	if err := c.retarget(addr, hook); err != nil {
		return err
	}
	if c.status != StatusEmpty {
		return nil
	}
	if err := c.drv.Read(c.buf, c.addr); err != nil {
		return fmt.Errorf("load page %#x: %w", c.addr, err)
	}
	c.status = StatusClean
	return nil
}
