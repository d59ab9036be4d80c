package lmglobals

import (
	"testing"

	"github.com/macboot/runtime/internal/guestmem"
)

func TestGetSetU32RoundTrip(tt *testing.T) {
	tt.Parallel()

	g := New(guestmem.New(1 << 16))

	g.SetU32(MemTop, 0x00600000)

	if got := g.GetU32(MemTop); got != 0x00600000 {
		tt.Fatalf("GetU32(MemTop) = %#x", got)
	}
}

func TestOutOfRangeReadReturnsZero(tt *testing.T) {
	tt.Parallel()

	g := New(guestmem.New(1 << 16))

	if got := g.GetU32(lowMemLimit + 4); got != 0 {
		tt.Fatalf("out-of-range read = %#x, want 0", got)
	}
}

func TestOutOfRangeWriteIgnored(tt *testing.T) {
	tt.Parallel()

	g := New(guestmem.New(1 << 16))

	g.SetU32(lowMemLimit+4, 0xDEADBEEF) // must not panic

	if got := g.GetU32(lowMemLimit + 4); got != 0 {
		tt.Fatalf("read back after ignored write = %#x, want 0", got)
	}
}

func TestIncrementTicks(tt *testing.T) {
	tt.Parallel()

	g := New(guestmem.New(1 << 16))

	for i := uint32(1); i <= 3; i++ {
		if got := g.IncrementTicks(); got != i {
			tt.Fatalf("IncrementTicks() = %d, want %d", got, i)
		}
	}
}
