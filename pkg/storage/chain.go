package storage

import (
	"errors"
	"fmt"

	"github.com/PageVault/pagevault/pkg/device"
	"github.com/PageVault/pagevault/pkg/token"
)

// PageFormatID is the magic identifying the chained-page layout.
var PageFormatID = token.MustParse("d23c3b7a-75f9-11e8-8190-2cfda1e1cef5")

// ErrNoPage is returned by Locate when no candidate page covers the offset.
var ErrNoPage = errors.New("no chain page covers the requested offset")

// Metrics are the per-page fields of a chain page header. Every page of one
// chain shares TotalLength; PageOffset and PageLength describe this page's
// slice of the payload, and PageCrc covers exactly its PageLength payload
// bytes, independent of all other pages. That independence lets one page be
// rewritten without recomputing anything about the rest of the chain.
type Metrics[L device.Uint, C device.Uint] struct {
	TotalLength L
	PageOffset  L
	PageLength  L
	PageCrc     C
}

// CheckOptions select how much of a page CheckPage verifies. Skipping lets
// a caller scan for chain pages by identity alone before deciding which
// pages merit the cost of checksumming their payload.
type CheckOptions struct {
	// SkipCRC skips the payload CRC comparison; metrics bounds are still
	// checked.
	SkipCRC bool
	// SkipMetrics skips metrics and CRC both, validating identity only.
	SkipMetrics bool
}

// PageStore validates and writes one chain page at a time. It keeps no
// chain index; ordering and discovery are the caller's concern, typically
// by probing candidate addresses and reading PageOffset.
type PageStore[A device.Uint, L device.Uint, C device.Uint] struct {
	drv    device.Driver[A, C]
	dataID token.Token
	addr   A
}

// NewPageStore creates a store for pages of the dataset dataID.
func NewPageStore[A device.Uint, L device.Uint, C device.Uint](drv device.Driver[A, C], dataID token.Token) *PageStore[A, L, C] {
	return &PageStore[A, L, C]{drv: drv, dataID: dataID}
}

// Address returns the active page address: the last page that passed
// CheckPage or was given to SetAddress.
func (s *PageStore[A, L, C]) Address() A {
	return s.addr
}

// SetAddress positions the store on the page at addr for subsequent
// SetHeader and WritePayload calls.
func (s *PageStore[A, L, C]) SetAddress(addr A) {
	s.addr = addr
}

// MaxPayload returns the payload capacity of a page of pageCapacity bytes.
func MaxPayload[L device.Uint, C device.Uint](pageCapacity L) L {
	return pageCapacity - L(PageHeaderSize[L, C]())
}

// ReadMetrics reads the metric fields of the page header at addr.
func (s *PageStore[A, L, C]) ReadMetrics(addr A) (Metrics[L, C], error) {
	var m Metrics[L, C]

	buf := make([]byte, uintSize[L]())
	if err := s.drv.Read(buf, addr+A(pageTotalLengthOff())); err != nil {
		return m, fmt.Errorf("read total length: %w", err)
	}
	m.TotalLength = getUint[L](buf)

	if err := s.drv.Read(buf, addr+A(pageOffsetOff[L]())); err != nil {
		return m, fmt.Errorf("read page offset: %w", err)
	}
	m.PageOffset = getUint[L](buf)

	if err := s.drv.Read(buf, addr+A(pageLengthOff[L]())); err != nil {
		return m, fmt.Errorf("read page length: %w", err)
	}
	m.PageLength = getUint[L](buf)

	crcBuf := make([]byte, uintSize[C]())
	if err := s.drv.Read(crcBuf, addr+A(pageCRCOff[L]())); err != nil {
		return m, fmt.Errorf("read page crc: %w", err)
	}
	m.PageCrc = getUint[C](crcBuf)

	return m, nil
}

// CheckPage validates the page at addr in isolation. pageCapacity is the
// full page size including the header. Order: format magic, data identity,
// then (unless skipped) metric bounds, then (unless skipped) the payload
// CRC. The metric bounds reject corrupted or foreign metrics cheaply before
// the potentially large payload is touched. On CheckOK the page becomes the
// store's active page.
func (s *PageStore[A, L, C]) CheckPage(addr A, pageCapacity L, opts CheckOptions) (CheckResult, error) {
	ok, err := s.drv.Compare(PageFormatID.Bytes(), addr)
	if err != nil {
		return CheckDeviceError, fmt.Errorf("compare format identity: %w", err)
	}
	if !ok {
		return CheckNoStorage, nil
	}

	ok, err = s.drv.Compare(s.dataID.Bytes(), addr+A(dataIDOff))
	if err != nil {
		return CheckDeviceError, fmt.Errorf("compare data identity: %w", err)
	}
	if !ok {
		return CheckAnotherStorage, nil
	}

	if !opts.SkipMetrics {
		m, err := s.ReadMetrics(addr)
		if err != nil {
			return CheckDeviceError, err
		}
		if m.PageLength > MaxPayload[L, C](pageCapacity) ||
			m.PageLength > m.TotalLength ||
			m.PageOffset > m.TotalLength {
			return CheckStorageError, fmt.Errorf("metrics out of bounds: total %d, offset %d, length %d, capacity %d",
				m.TotalLength, m.PageOffset, m.PageLength, pageCapacity)
		}
		if !opts.SkipCRC {
			computed, err := s.drv.CalculateCRC(addr+A(PageHeaderSize[L, C]()), int(m.PageLength))
			if err != nil {
				return CheckDeviceError, fmt.Errorf("calculate page crc: %w", err)
			}
			if computed != m.PageCrc {
				return CheckStorageError, fmt.Errorf("page crc mismatch: stored %#x, computed %#x", m.PageCrc, computed)
			}
		}
	}

	s.addr = addr
	return CheckOK, nil
}

// SetHeader writes the format identity, data identity and metrics of the
// page at the store's active address. The header write is the atomic unit
// the store manages; payload bytes are written separately.
func (s *PageStore[A, L, C]) SetHeader(m Metrics[L, C]) error {
	if err := s.drv.Write(PageFormatID.Bytes(), s.addr); err != nil {
		return fmt.Errorf("write format identity: %w", err)
	}
	if err := s.drv.Write(s.dataID.Bytes(), s.addr+A(dataIDOff)); err != nil {
		return fmt.Errorf("write data identity: %w", err)
	}

	buf := make([]byte, uintSize[L]())
	putUint(buf, m.TotalLength)
	if err := s.drv.Write(buf, s.addr+A(pageTotalLengthOff())); err != nil {
		return fmt.Errorf("write total length: %w", err)
	}
	putUint(buf, m.PageOffset)
	if err := s.drv.Write(buf, s.addr+A(pageOffsetOff[L]())); err != nil {
		return fmt.Errorf("write page offset: %w", err)
	}
	putUint(buf, m.PageLength)
	if err := s.drv.Write(buf, s.addr+A(pageLengthOff[L]())); err != nil {
		return fmt.Errorf("write page length: %w", err)
	}

	crcBuf := make([]byte, uintSize[C]())
	putUint(crcBuf, m.PageCrc)
	if err := s.drv.Write(crcBuf, s.addr+A(pageCRCOff[L]())); err != nil {
		return fmt.Errorf("write page crc: %w", err)
	}
	return nil
}

// WritePayload writes this page's payload slice immediately after the
// header at the store's active address.
func (s *PageStore[A, L, C]) WritePayload(p []byte) error {
	if err := s.drv.Write(p, s.addr+A(PageHeaderSize[L, C]())); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// Locate probes candidate page addresses for the chain page whose payload
// slice covers offset, verifying identity and metric bounds but skipping
// payload CRCs, so a chain can be walked without checksumming every page.
// A device fault aborts the probe; pages failing identity or bounds checks
// are skipped.
func Locate[A device.Uint, L device.Uint, C device.Uint](s *PageStore[A, L, C], candidates []A, pageCapacity L, offset L) (A, Metrics[L, C], error) {
	for _, addr := range candidates {
		res, err := s.CheckPage(addr, pageCapacity, CheckOptions{SkipCRC: true})
		if res == CheckDeviceError {
			return 0, Metrics[L, C]{}, err
		}
		if res != CheckOK {
			continue
		}
		m, err := s.ReadMetrics(addr)
		if err != nil {
			return 0, Metrics[L, C]{}, err
		}
		if offset >= m.PageOffset && offset < m.PageOffset+m.PageLength {
			return addr, m, nil
		}
	}
	return 0, Metrics[L, C]{}, ErrNoPage
}
