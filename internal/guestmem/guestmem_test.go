package guestmem_test

import (
	"errors"
	"testing"

	"github.com/macboot/runtime/internal/goerr"
	"github.com/macboot/runtime/internal/guestmem"
	"pgregory.net/rapid"
)

const maxGuest = 16 << 20

func TestReadWriteU32RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		space := guestmem.New(maxGuest)

		addr := rapid.Uint32Range(0, maxGuest-4).Draw(t, "addr") &^ 1
		value := rapid.Uint32().Draw(t, "value")

		if err := space.WriteU32(addr, value); err != nil {
			t.Fatalf("WriteU32: %v", err)
		}

		got, err := space.ReadU32(addr)
		if err != nil {
			t.Fatalf("ReadU32: %v", err)
		}

		if got != value {
			t.Fatalf("ReadU32(%#x) = %#x, want %#x", addr, got, value)
		}
	})
}

func TestReadWriteU16RoundTrip(t *testing.T) {
	space := guestmem.New(maxGuest)

	if err := space.WriteU16(0x100, 0xBEEF); err != nil {
		t.Fatalf("WriteU16: %v", err)
	}

	got, err := space.ReadU16(0x100)
	if err != nil {
		t.Fatalf("ReadU16: %v", err)
	}

	if got != 0xBEEF {
		t.Fatalf("ReadU16 = %#x, want 0xBEEF", got)
	}
}

func TestMisalignedAccessIsAddressError(t *testing.T) {
	space := guestmem.New(maxGuest)

	_, err := space.ReadU32(0x101)
	if !errors.Is(err, goerr.ErrAddress) {
		t.Fatalf("ReadU32(odd addr) error = %v, want ErrAddress", err)
	}

	err = space.WriteU16(0x3, 0xAB)
	if !errors.Is(err, goerr.ErrAddress) {
		t.Fatalf("WriteU16(odd addr) error = %v, want ErrAddress", err)
	}
}

func TestAlignedAccessAtBoundaryOK(t *testing.T) {
	space := guestmem.New(maxGuest)

	if err := space.WriteU32(0x100, 0xCAFEBABE); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}

	if v, err := space.ReadU32(0x100); err != nil || v != 0xCAFEBABE {
		t.Fatalf("ReadU32 = %#x, %v, want 0xcafebabe, nil", v, err)
	}
}

func TestOutOfRangeIsBusError(t *testing.T) {
	space := guestmem.New(maxGuest)

	_, err := space.ReadU8(maxGuest)
	if !errors.Is(err, goerr.ErrBus) {
		t.Fatalf("ReadU8(out of range) error = %v, want ErrBus", err)
	}
}

func TestCopyInCopyOutCrossesPageBoundary(t *testing.T) {
	space := guestmem.New(maxGuest)

	const base = guestmem.PageSize - 4

	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := space.CopyIn(base, src); err != nil {
		t.Fatalf("CopyIn: %v", err)
	}

	dst := make([]byte, len(src))
	if err := space.CopyOut(dst, base); err != nil {
		t.Fatalf("CopyOut: %v", err)
	}

	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("CopyOut[%d] = %d, want %d", i, dst[i], src[i])
		}
	}
}

func TestGetPageLazyAllocation(t *testing.T) {
	space := guestmem.New(maxGuest)

	if page := space.GetPage(0x1000, false); page != nil {
		t.Fatalf("GetPage(allocate=false) on untouched page = %v, want nil", page)
	}

	if err := space.WriteU8(0x1000, 0xFF); err != nil {
		t.Fatalf("WriteU8: %v", err)
	}

	if page := space.GetPage(0x1000, false); page == nil {
		t.Fatalf("GetPage after write = nil, want allocated page")
	}
}
