package cache

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/PageVault/pagevault/pkg/device"
)

const testPageSize = 256

func newTestCache(t *testing.T, pages int) (*Cache[uint32], *device.MemDevice[uint32, uint32]) {
	t.Helper()
	dev := device.NewMemDevice[uint32, uint32](pages*testPageSize, device.SumCRC32)
	c, err := New[uint32](dev, testPageSize)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, dev
}

func fillPattern(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i)
	}
	return p
}

func TestNewRejectsBadPageSize(t *testing.T) {
	dev := device.NewMemDevice[uint32, uint32](1024, device.SumCRC32)
	for _, size := range []int{0, -1, 100, 257} {
		if _, err := New[uint32](dev, size); !errors.Is(err, ErrPageSize) {
			t.Errorf("page size %d: expected ErrPageSize, got %v", size, err)
		}
	}
	if _, err := New[uint32](dev, 256); err != nil {
		t.Errorf("page size 256: unexpected error %v", err)
	}
}

func TestRoundTripUnaligned(t *testing.T) {
	c, _ := newTestCache(t, 8)

	// spans four pages, starts and ends unaligned
	data := fillPattern(3*testPageSize+100, 7)
	const addr = uint32(testPageSize - 50)

	// write in uneven chunks
	for i, off := 0, 0; off < len(data); i++ {
		n := min(90+i*37, len(data)-off)
		if err := c.SetData(data[off:off+n], addr+uint32(off), nil); err != nil {
			t.Fatalf("SetData chunk at %d failed: %v", off, err)
		}
		off += n
	}

	got := make([]byte, len(data))
	if err := c.GetData(got, addr); err != nil {
		t.Fatalf("GetData failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch")
	}

	// still intact after a flush, read in split chunks
	if err := c.Flush(nil); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	got = make([]byte, len(data))
	half := len(data) / 2
	if err := c.GetData(got[:half], addr); err != nil {
		t.Fatalf("GetData first half failed: %v", err)
	}
	if err := c.GetData(got[half:], addr+uint32(half)); err != nil {
		t.Fatalf("GetData second half failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch after flush")
	}
}

// A partial write of 10 bytes at address 5 of an empty
// cache must preserve device bytes [0,5) and [15,256) for the flush, serve
// the new bytes from RAM before the flush, and land on the device after it.
func TestFringePreservationAndReadYourWrite(t *testing.T) {
	c, dev := newTestCache(t, 4)

	original := fillPattern(testPageSize, 0x40)
	copy(dev.Bytes(), original)

	update := fillPattern(10, 0xA0)
	if err := c.SetData(update, 5, nil); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	if c.Status() != StatusDirty {
		t.Errorf("expected dirty slot, got %s", c.Status())
	}

	// device still holds the old bytes
	if !bytes.Equal(dev.Bytes()[5:15], original[5:15]) {
		t.Errorf("device modified before flush")
	}

	// but the cache serves the new ones
	got := make([]byte, 10)
	if err := c.GetData(got, 5); err != nil {
		t.Fatalf("GetData failed: %v", err)
	}
	if !bytes.Equal(got, update) {
		t.Errorf("read-your-write mismatch: expected % x, got % x", update, got)
	}

	if err := c.Flush(nil); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if c.Status() != StatusEmpty {
		t.Errorf("expected empty slot after flush, got %s", c.Status())
	}

	page := dev.Bytes()[:testPageSize]
	if !bytes.Equal(page[:5], original[:5]) {
		t.Errorf("leading fringe clobbered")
	}
	if !bytes.Equal(page[5:15], update) {
		t.Errorf("update not persisted: % x", page[5:15])
	}
	if !bytes.Equal(page[15:], original[15:]) {
		t.Errorf("trailing fringe clobbered")
	}
}

func TestDirtyFlushBeforeSwitch(t *testing.T) {
	c, dev := newTestCache(t, 4)

	if err := c.SetData([]byte{1, 2, 3}, 10, nil); err != nil {
		t.Fatalf("SetData page A failed: %v", err)
	}
	dev.ResetWrites()

	// touching page B must flush page A exactly once, before anything else
	if err := c.SetData([]byte{9}, 2*testPageSize+7, nil); err != nil {
		t.Fatalf("SetData page B failed: %v", err)
	}

	writes := dev.Writes()
	if len(writes) != 1 {
		t.Fatalf("expected exactly 1 physical write, got %d", len(writes))
	}
	if writes[0].Addr != 0 || writes[0].Len != testPageSize {
		t.Errorf("expected full flush of page A, got addr %#x len %d", writes[0].Addr, writes[0].Len)
	}
	if dev.Bytes()[10] != 1 || dev.Bytes()[12] != 3 {
		t.Errorf("page A content not flushed")
	}
	if c.Address() != 2*testPageSize || c.Status() != StatusDirty {
		t.Errorf("page B not resident: addr %#x status %s", c.Address(), c.Status())
	}
}

func TestFailedFlushBlocksSwitch(t *testing.T) {
	c, dev := newTestCache(t, 4)

	if err := c.SetData([]byte{1, 2, 3}, 10, nil); err != nil {
		t.Fatalf("SetData page A failed: %v", err)
	}

	faultErr := errors.New("write fault")
	dev.Fault = func(op string, addr uint32, length int) error {
		if op == device.OpWrite {
			return faultErr
		}
		return nil
	}

	err := c.SetData([]byte{9}, 2*testPageSize+7, nil)
	if !errors.Is(err, faultErr) {
		t.Fatalf("expected write fault, got %v", err)
	}

	// the write to B must not have proceeded: A is still the dirty resident page
	if c.Status() != StatusDirty || c.Address() != 0 {
		t.Errorf("expected page A still dirty, got addr %#x status %s", c.Address(), c.Status())
	}
	if dev.Bytes()[2*testPageSize+7] != 0 {
		t.Errorf("page B byte written despite failed flush")
	}

	// flush is retryable once the device recovers
	dev.Fault = nil
	if err := c.Flush(nil); err != nil {
		t.Fatalf("retried Flush failed: %v", err)
	}
	if dev.Bytes()[10] != 1 {
		t.Errorf("page A not persisted by retried flush")
	}
}

func TestFlushHook(t *testing.T) {
	c, dev := newTestCache(t, 2)

	if err := c.SetData([]byte{5, 6, 7}, 3, nil); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	calls := 0
	hook := func(buf []byte, addr uint32) {
		calls++
		if addr != 0 {
			t.Errorf("hook address: expected 0, got %#x", addr)
		}
		if len(buf) != testPageSize {
			t.Errorf("hook buffer length: expected %d, got %d", testPageSize, len(buf))
		}
		// the hook's edits must be what hits the device
		buf[testPageSize-1] = 0xEE
	}

	if err := c.Flush(hook); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 hook call, got %d", calls)
	}
	if dev.Bytes()[testPageSize-1] != 0xEE {
		t.Errorf("hook modification not persisted")
	}

	// not invoked when the slot is not dirty
	if err := c.Flush(hook); err != nil {
		t.Fatalf("idle Flush failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("hook invoked on non-dirty slot")
	}
}

func TestClearDiscards(t *testing.T) {
	c, dev := newTestCache(t, 2)

	if err := c.SetData([]byte{0xFF}, 0, nil); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	c.Clear()

	if c.Status() != StatusEmpty {
		t.Errorf("expected empty slot, got %s", c.Status())
	}
	if err := c.Flush(nil); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if dev.Bytes()[0] != 0 {
		t.Errorf("discarded write reached the device")
	}
}

func TestFullPageBypass(t *testing.T) {
	c, dev := newTestCache(t, 4)

	page := fillPattern(testPageSize, 0x11)
	dev.ResetWrites()
	if err := c.SetData(page, testPageSize, nil); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	writes := dev.Writes()
	if len(writes) != 1 || writes[0].Addr != testPageSize || writes[0].Len != testPageSize {
		t.Fatalf("expected one direct page write, got %+v", writes)
	}
	if c.Status() != StatusEmpty {
		t.Errorf("bypass write touched the slot: %s", c.Status())
	}
}

// Pins the documented hazard: a full-page bypass write to the resident page
// leaves the RAM mirror stale, so a subsequent cached read returns the old
// bytes.
func TestFullPageBypassLeavesStaleCache(t *testing.T) {
	c, dev := newTestCache(t, 4)

	if err := c.Load(0, nil); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	page := fillPattern(testPageSize, 0x22)
	if err := c.SetData(page, 0, nil); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	if !bytes.Equal(dev.Bytes()[:testPageSize], page) {
		t.Fatalf("device not updated by bypass write")
	}

	got := make([]byte, 8)
	if err := c.GetData(got, 0); err != nil {
		t.Fatalf("GetData failed: %v", err)
	}
	if bytes.Equal(got, page[:8]) {
		t.Fatalf("cache unexpectedly resynced; the bypass leaves the slot stale")
	}
}

func TestLoadServesReads(t *testing.T) {
	c, dev := newTestCache(t, 2)

	original := fillPattern(testPageSize, 0x30)
	copy(dev.Bytes(), original)

	if err := c.Load(100, nil); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Status() != StatusClean || c.Address() != 0 {
		t.Fatalf("expected clean page 0 resident, got addr %#x status %s", c.Address(), c.Status())
	}

	// mutate the device behind the cache; reads must come from the mirror
	dev.Bytes()[100] ^= 0xFF
	got := make([]byte, 1)
	if err := c.GetData(got, 100); err != nil {
		t.Fatalf("GetData failed: %v", err)
	}
	if got[0] != original[100] {
		t.Errorf("read not served from clean mirror")
	}

	// a partial write to the clean resident page needs no fringe reads
	dev.Fault = func(op string, addr uint32, length int) error {
		if op == device.OpRead {
			return fmt.Errorf("unexpected device read during cached write")
		}
		return nil
	}
	if err := c.SetData([]byte{0x99}, 50, nil); err != nil {
		t.Fatalf("SetData on clean page failed: %v", err)
	}
	dev.Fault = nil

	if err := c.Flush(nil); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	page := dev.Bytes()[:testPageSize]
	if page[50] != 0x99 {
		t.Errorf("write to clean page lost")
	}
	// the flush rewrites the whole page from the mirror, byte 100 included
	if page[100] != original[100] {
		t.Errorf("flush did not write the mirrored page wholesale")
	}
}

func TestCleanSlotDroppedOnSwitch(t *testing.T) {
	c, dev := newTestCache(t, 4)

	copy(dev.Bytes(), fillPattern(testPageSize, 0x50))
	if err := c.Load(0, nil); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	dev.ResetWrites()

	// writing into another page must not flush the clean slot
	if err := c.SetData([]byte{1}, 2*testPageSize+9, nil); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	if len(dev.Writes()) != 0 {
		t.Errorf("clean slot was flushed on switch: %+v", dev.Writes())
	}
	if c.Address() != 2*testPageSize || c.Status() != StatusDirty {
		t.Errorf("new page not resident: addr %#x status %s", c.Address(), c.Status())
	}

	// fringes of the new page must have been read from the device, not
	// inherited from the stale clean buffer
	if err := c.Flush(nil); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	page := dev.Bytes()[2*testPageSize : 3*testPageSize]
	if page[9] != 1 {
		t.Errorf("write lost")
	}
	if page[0] != 0 || page[testPageSize-1] != 0 {
		t.Errorf("stale clean buffer leaked into the new page")
	}
}

func TestGetDataDeviceError(t *testing.T) {
	c, dev := newTestCache(t, 2)

	faultErr := errors.New("read fault")
	dev.Fault = func(op string, addr uint32, length int) error {
		return faultErr
	}

	got := make([]byte, 10)
	if err := c.GetData(got, 0); !errors.Is(err, faultErr) {
		t.Errorf("expected read fault, got %v", err)
	}
}

func TestSetDataFringeReadError(t *testing.T) {
	c, dev := newTestCache(t, 2)

	faultErr := errors.New("read fault")
	dev.Fault = func(op string, addr uint32, length int) error {
		if op == device.OpRead {
			return faultErr
		}
		return nil
	}

	if err := c.SetData([]byte{1, 2}, 5, nil); !errors.Is(err, faultErr) {
		t.Errorf("expected fringe read fault, got %v", err)
	}
}
