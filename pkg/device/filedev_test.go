package device

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func openTestImage(t *testing.T, size int64) *FileDevice[uint32, uint32] {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.img")
	dev, err := OpenFile[uint32, uint32](path, size, SumCRC32)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestFileDeviceRoundTrip(t *testing.T) {
	dev := openTestImage(t, 4096)

	data := []byte("image payload")
	if err := dev.Write(data, 512); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got := make([]byte, len(data))
	if err := dev.Read(got, 512); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read mismatch: %q", got)
	}

	ok, err := dev.Compare(data, 512)
	if err != nil || !ok {
		t.Errorf("Compare: expected match, got (%v, %v)", ok, err)
	}
	ok, err = dev.Compare([]byte("image payloat"), 512)
	if err != nil || ok {
		t.Errorf("Compare: expected clean mismatch, got (%v, %v)", ok, err)
	}

	sum, err := dev.CalculateCRC(512, len(data))
	if err != nil {
		t.Fatalf("CalculateCRC failed: %v", err)
	}
	if sum != SumCRC32(data) {
		t.Errorf("crc mismatch: %#x", sum)
	}
}

func TestFileDevicePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.img")

	dev, err := OpenFile[uint32, uint32](path, 1024, SumCRC32)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if err := dev.Write([]byte{0xAA, 0xBB}, 7); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	dev, err = OpenFile[uint32, uint32](path, 1024, SumCRC32)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer dev.Close()

	got := make([]byte, 2)
	if err := dev.Read(got, 7); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got[0] != 0xAA || got[1] != 0xBB {
		t.Errorf("content lost across reopen: % x", got)
	}
}

func TestFileDeviceBounds(t *testing.T) {
	dev := openTestImage(t, 128)

	if err := dev.Write([]byte{1}, 128); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("write at capacity: expected ErrOutOfRange, got %v", err)
	}
	if err := dev.Read(make([]byte, 64), 100); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("read past end: expected ErrOutOfRange, got %v", err)
	}
	if _, err := dev.CalculateCRC(0, 129); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("crc past end: expected ErrOutOfRange, got %v", err)
	}
}

func TestFileDeviceZeroFilled(t *testing.T) {
	dev := openTestImage(t, 256)

	got := make([]byte, 256)
	if err := dev.Read(got, 0); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	for i, b := range got {
		if b != 0 {
			t.Fatalf("fresh image not zero at %d: %#x", i, b)
		}
	}
}
