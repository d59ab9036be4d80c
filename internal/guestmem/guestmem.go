// Package guestmem implements the paged guest address space shared by both
// CPU backends: a sparse, lazily-allocated page table over a bounded guest
// address range with big-endian, alignment-checked accessors.
package guestmem

import (
	"fmt"
	"log/slog"

	"github.com/macboot/runtime/internal/goerr"
	"github.com/macboot/runtime/internal/logctx"
)

const (
	// PageSize is the size of one host-backed page of guest memory.
	PageSize = 4096

	// pageShift is log2(PageSize), used to split an address into page
	// index and in-page offset.
	pageShift = 12
)

// Page is a fixed-size, zero-initialized host byte buffer backing one 4 KiB
// region of guest memory. A page never moves once allocated; guest pointers
// into it remain stable for the address space's lifetime.
type Page = [PageSize]byte

// Space is a paged guest address space: a flat array of page slots,
// `maxGuest/PageSize` entries, allocated lazily on first write. It has no
// swap and no eviction; pages are released only when the Space itself is
// discarded.
type Space struct {
	pages    []*Page
	maxGuest uint32
	log      *slog.Logger
}

// New creates a Space spanning [0, maxGuest). maxGuest must be a power of
// two; the reference configuration is 16 MiB for both supported ISAs.
func New(maxGuest uint32) *Space {
	return &Space{
		pages:    make([]*Page, maxGuest>>pageShift),
		maxGuest: maxGuest,
		log:      logctx.Module("guestmem"),
	}
}

// MaxGuest returns the exclusive upper bound of the address space.
func (s *Space) MaxGuest() uint32 { return s.maxGuest }

// GetPage returns the host page backing addr, allocating a zeroed page on
// first touch when allocate is true. It returns nil if addr is out of range,
// or if the page is absent and allocate is false.
func (s *Space) GetPage(addr uint32, allocate bool) *Page {
	if addr >= s.maxGuest {
		return nil
	}

	idx := addr >> pageShift

	if s.pages[idx] == nil {
		if !allocate {
			return nil
		}

		s.pages[idx] = new(Page)
	}

	return s.pages[idx]
}

// ReadU8 reads a single byte at addr. Out-of-range or unmapped reads are a
// bus fault.
func (s *Space) ReadU8(addr uint32) (uint8, error) {
	page := s.GetPage(addr, false)
	if page == nil {
		return 0, s.busError(addr)
	}

	return page[addr&(PageSize-1)], nil
}

// ReadU16 reads a big-endian 16-bit value at addr, which must be 2-byte
// aligned.
func (s *Space) ReadU16(addr uint32) (uint16, error) {
	if addr&1 != 0 {
		return 0, s.addressError(addr)
	}

	hi, err := s.ReadU8(addr)
	if err != nil {
		return 0, err
	}

	lo, err := s.ReadU8(addr + 1)
	if err != nil {
		return 0, err
	}

	return uint16(hi)<<8 | uint16(lo), nil
}

// ReadU32 reads a big-endian 32-bit value at addr, which must be 2-byte
// aligned (the classic 68K rule; 4-byte alignment is not required).
func (s *Space) ReadU32(addr uint32) (uint32, error) {
	if addr&1 != 0 {
		return 0, s.addressError(addr)
	}

	hi, err := s.ReadU16(addr)
	if err != nil {
		return 0, err
	}

	lo, err := s.ReadU16(addr + 2)
	if err != nil {
		return 0, err
	}

	return uint32(hi)<<16 | uint32(lo), nil
}

// WriteU8 writes a single byte at addr, allocating a page on first write.
func (s *Space) WriteU8(addr uint32, v uint8) error {
	page := s.GetPage(addr, true)
	if page == nil {
		return s.busError(addr)
	}

	page[addr&(PageSize-1)] = v

	return nil
}

// WriteU16 writes a big-endian 16-bit value at addr, which must be 2-byte
// aligned.
func (s *Space) WriteU16(addr uint32, v uint16) error {
	if addr&1 != 0 {
		return s.addressError(addr)
	}

	if err := s.WriteU8(addr, uint8(v>>8)); err != nil {
		return err
	}

	return s.WriteU8(addr+1, uint8(v))
}

// WriteU32 writes a big-endian 32-bit value at addr, which must be 2-byte
// aligned.
func (s *Space) WriteU32(addr uint32, v uint32) error {
	if addr&1 != 0 {
		return s.addressError(addr)
	}

	if err := s.WriteU16(addr, uint16(v>>16)); err != nil {
		return err
	}

	return s.WriteU16(addr+2, uint16(v))
}

// CopyIn copies src into guest memory starting at addr, allocating pages as
// needed across page boundaries.
func (s *Space) CopyIn(addr uint32, src []byte) error {
	for i, b := range src {
		if err := s.WriteU8(addr+uint32(i), b); err != nil {
			return err
		}
	}

	return nil
}

// CopyOut copies len(dst) bytes from guest memory starting at addr into dst.
func (s *Space) CopyOut(dst []byte, addr uint32) error {
	for i := range dst {
		b, err := s.ReadU8(addr + uint32(i))
		if err != nil {
			return err
		}

		dst[i] = b
	}

	return nil
}

func (s *Space) addressError(addr uint32) error {
	err := &goerr.AddressError{Addr: addr}
	s.log.Error("address error", "addr", fmt.Sprintf("%#x", addr))

	return err
}

func (s *Space) busError(addr uint32) error {
	err := &goerr.BusError{Addr: addr}
	s.log.Error("bus error", "addr", fmt.Sprintf("%#x", addr))

	return err
}
