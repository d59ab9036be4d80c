package codeparser

import (
	"errors"
	"testing"

	"github.com/macboot/runtime/internal/cpubackend"
	"github.com/macboot/runtime/internal/goerr"
)

func TestParseCode0(tt *testing.T) {
	tt.Parallel()

	// above=512, below=512, jt_size=8, jt_offset=0, one placeholder entry.
	data := []byte{
		0x00, 0x00, 0x02, 0x00,
		0x00, 0x00, 0x02, 0x00,
		0x00, 0x00, 0x00, 0x08,
		0x00, 0x00, 0x00, 0x00,
		0x4E, 0x4E, 0x4E, 0x4E, 0x4E, 0x4E, 0x4E, 0x4E,
	}

	info, err := ParseCode0(data)
	if err != nil {
		tt.Fatalf("ParseCode0: %v", err)
	}

	if info.AboveA5Size != 0x200 || info.BelowA5Size != 0x200 {
		tt.Fatalf("a5 sizes: above=%#x below=%#x", info.AboveA5Size, info.BelowA5Size)
	}

	if info.JTSize != 8 || info.JTCount() != 1 {
		tt.Fatalf("jt size/count: %d/%d", info.JTSize, info.JTCount())
	}

	if got := info.JTEntries[0]; got.Offset != 0x4E4E || got.Instruction != 0x4E4E || got.Target != 0x4E4E4E4E {
		tt.Fatalf("jt entry 0: %+v", got)
	}
}

func TestParseCode0BadFormat(tt *testing.T) {
	tt.Parallel()

	cases := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{0, 1, 2, 3}},
		{"above a5 too large", append(u32(0x200001), append(u32(0), append(u32(0), u32(0)...)...)...)},
		{"jt overruns resource", append(u32(0x200), append(u32(0x200), append(u32(0x100), u32(0)...)...)...)},
		{"jt exceeds above a5", append(u32(0x8), append(u32(0x200), append(u32(0x10), append(u32(0), make([]byte, 0x10)...)...)...)...)},
	}

	for _, tc := range cases {
		tc := tc

		tt.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := ParseCode0(tc.data); !errors.Is(err, goerr.ErrBadFormat) {
				t.Fatalf("want ErrBadFormat, got %v", err)
			}
		})
	}
}

// u32 is a tiny BE-encoding helper for building synthetic CODE 0 test
// buffers without pulling in encoding/binary in the test body.
func u32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func TestParseCodeNEntryAtBodyStart(tt *testing.T) {
	tt.Parallel()

	// entry=0, flags=0, body = push #2; _LoadSeg; RTS -- the exact bytes
	// from the two-segment boot scenario, which happen to also match the
	// prologue pattern. Entry must still land at body offset 0.
	data := []byte{
		0x00, 0x00,
		0x00, 0x00,
		0x3F, 0x3C, 0x00, 0x02, 0xA9, 0xF0, 0x4E, 0x75,
	}

	info, err := ParseCodeN(data)
	if err != nil {
		tt.Fatalf("ParseCodeN: %v", err)
	}

	if !info.HasPrologue {
		tt.Fatalf("expected prologue pattern to be detected")
	}

	if len(info.Body) != 8 {
		tt.Fatalf("body length = %d, want 8 (no bytes stripped)", len(info.Body))
	}

	const base = 0x4000

	if got, want := info.EntryAddr(base), uint32(base); got != want {
		tt.Fatalf("EntryAddr = %#x, want %#x", got, want)
	}
}

func TestParseCodeNNoPrologue(tt *testing.T) {
	tt.Parallel()

	data := []byte{0x00, 0x00, 0x00, 0x00, 0xA8, 0x00, 0x4E, 0x75}

	info, err := ParseCodeN(data)
	if err != nil {
		tt.Fatalf("ParseCodeN: %v", err)
	}

	if info.HasPrologue {
		tt.Fatalf("did not expect a prologue match")
	}

	if len(info.Body) != 4 {
		tt.Fatalf("body length = %d, want 4", len(info.Body))
	}
}

func TestParseCodeNTooShort(tt *testing.T) {
	tt.Parallel()

	if _, err := ParseCodeN([]byte{0, 1}); !errors.Is(err, goerr.ErrBadFormat) {
		tt.Fatalf("want ErrBadFormat, got %v", err)
	}
}

func TestScanRelocationsClassifiesByOperandSize(tt *testing.T) {
	tt.Parallel()

	code := []byte{
		0x4E, 0xF9, 0x00, 0x00, 0x00, 0x10, // JMP abs.L $10 -> JTImport, index 2
		0x4E, 0xB9, 0x00, 0x10, 0x00, 0x00, // JSR abs.L $100000 -> AbsSegBase
	}

	table := ScanRelocations(code)

	if len(table) != 2 {
		tt.Fatalf("len(table) = %d, want 2", len(table))
	}

	if table[0].Kind != cpubackend.JTImport || table[0].JTIndex != 2 || table[0].AtOffset != 2 {
		tt.Fatalf("entry 0 = %+v", table[0])
	}

	if table[1].Kind != cpubackend.AbsSegBase || table[1].Addend != 0x00100000 || table[1].AtOffset != 8 {
		tt.Fatalf("entry 1 = %+v", table[1])
	}
}
