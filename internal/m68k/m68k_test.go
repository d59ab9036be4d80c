package m68k_test

import (
	"encoding/binary"
	"testing"

	"github.com/macboot/runtime/internal/cpubackend"
	"github.com/macboot/runtime/internal/m68k"
)

// writeCode copies a sequence of 16-bit words into guest memory starting at
// addr, matching how the segment loader would lay down CODE bytes.
func writeCode(t *testing.T, as *m68k.AddressSpace, addr uint32, words ...uint16) {
	t.Helper()

	buf := make([]byte, len(words)*2)
	for i, w := range words {
		binary.BigEndian.PutUint16(buf[i*2:], w)
	}

	if err := as.Memory().CopyIn(addr, buf); err != nil {
		t.Fatalf("CopyIn: %v", err)
	}
}

func TestMoveImmediateToDataRegister(t *testing.T) {
	as := m68k.NewAddressSpace()

	// MOVE.W #$1234, D0  ->  0011 000 000 111 100 ; 0x1234
	writeCode(t, as, 0x1000, 0x303C, 0x1234)
	as.Regs().PC = 0x1000

	if err := as.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if got := as.Regs().D[0] & 0xFFFF; got != 0x1234 {
		t.Fatalf("D0 = %#x, want 0x1234", got)
	}

	if as.Regs().Zero() {
		t.Fatalf("Z flag set for a nonzero move")
	}
}

func TestClrSetsZeroFlag(t *testing.T) {
	as := m68k.NewAddressSpace()
	as.Regs().D[1] = 0xFFFFFFFF

	// CLR.L D1 -> 0100 0010 10 000 001
	writeCode(t, as, 0x1000, 0x4281)
	as.Regs().PC = 0x1000

	if err := as.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if as.Regs().D[1] != 0 {
		t.Fatalf("D1 = %#x, want 0", as.Regs().D[1])
	}

	if !as.Regs().Zero() {
		t.Fatalf("Z flag not set after CLR")
	}
}

func TestLeaLoadsEffectiveAddress(t *testing.T) {
	as := m68k.NewAddressSpace()

	// LEA $2000.W, A0 -> 0100 000 111 111 000 ; 0x2000
	writeCode(t, as, 0x1000, 0x41F8, 0x2000)
	as.Regs().PC = 0x1000

	if err := as.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if as.Regs().A[0] != 0x2000 {
		t.Fatalf("A0 = %#x, want 0x2000", as.Regs().A[0])
	}
}

func TestBraBranchesUnconditionally(t *testing.T) {
	as := m68k.NewAddressSpace()

	// BRA.S +4 -> 0110 0000 00000100
	writeCode(t, as, 0x1000, 0x6004)
	as.Regs().PC = 0x1000

	if err := as.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if want := uint32(0x1006); as.Regs().PC != want {
		t.Fatalf("PC = %#x, want %#x", as.Regs().PC, want)
	}
}

func TestJsrRtsRoundTrip(t *testing.T) {
	as := m68k.NewAddressSpace()
	as.Regs().A[7] = 0x8000

	// JSR $2000.L at 0x1000, then at 0x2000: RTS.
	writeCode(t, as, 0x1000, 0x4EB9, 0x0000)
	if err := as.Memory().WriteU32(0x1002, 0x2000); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	writeCode(t, as, 0x2000, 0x4E75)

	as.Regs().PC = 0x1000

	if err := as.Step(); err != nil {
		t.Fatalf("JSR Step: %v", err)
	}

	if as.Regs().PC != 0x2000 {
		t.Fatalf("PC after JSR = %#x, want 0x2000", as.Regs().PC)
	}

	if err := as.Step(); err != nil {
		t.Fatalf("RTS Step: %v", err)
	}

	if as.Regs().PC != 0x1006 {
		t.Fatalf("PC after RTS = %#x, want 0x1006", as.Regs().PC)
	}
}

func TestAddSetsCarryOnOverflow(t *testing.T) {
	as := m68k.NewAddressSpace()
	as.Regs().D[0] = 0xFFFFFFFF
	as.Regs().D[1] = 1

	// ADD.L D1, D0 -> 1101 000 0 10 000 001
	writeCode(t, as, 0x1000, 0xD081)
	as.Regs().PC = 0x1000

	if err := as.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if as.Regs().D[0] != 0 {
		t.Fatalf("D0 = %#x, want 0", as.Regs().D[0])
	}

	if !as.Regs().Carry() || !as.Regs().Extend() {
		t.Fatalf("carry/extend not set on ADD overflow")
	}

	if !as.Regs().Zero() {
		t.Fatalf("Z not set for wraparound-to-zero result")
	}
}

func TestAlineRangeDispatchesTrap(t *testing.T) {
	as := m68k.NewAddressSpace()

	called := false
	as.Traps().Install(0x42, func(cpubackend.AddressSpace, any) error {
		called = true
		return nil
	}, nil)

	writeCode(t, as, 0x1000, 0xA042)
	as.Regs().PC = 0x1000

	if err := as.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if !called {
		t.Fatalf("trap handler for 0x42 was not invoked")
	}
}

func TestAlineRangeUnregisteredTrapIsIgnored(t *testing.T) {
	as := m68k.NewAddressSpace()

	writeCode(t, as, 0x1000, 0xA099)
	as.Regs().PC = 0x1000

	err := as.Step()
	if err != nil {
		t.Fatalf("unregistered trap returned %v, want nil (logged and ignored)", err)
	}

	if as.Regs().PC != 0x1002 {
		t.Fatalf("PC = %#x, want 0x1002 (execution continues past the trap)", as.Regs().PC)
	}

	if as.Halted() {
		t.Fatalf("address space halted after an unregistered trap")
	}
}

// runCmpThenBcc executes CMP.L D1,D0 followed by one Bcc and reports
// whether the branch was taken.
func runCmpThenBcc(t *testing.T, d0, d1 uint32, bcc uint16) bool {
	t.Helper()

	as := m68k.NewAddressSpace()
	as.Regs().D[0] = d0
	as.Regs().D[1] = d1

	// CMP.L D1, D0 -> 1011 000 0 10 000 001
	writeCode(t, as, 0x1000, 0xB081, bcc)
	as.Regs().PC = 0x1000

	if err := as.Step(); err != nil {
		t.Fatalf("CMP Step: %v", err)
	}

	pcBefore := as.Regs().PC

	if err := as.Step(); err != nil {
		t.Fatalf("Bcc Step: %v", err)
	}

	return as.Regs().PC != pcBefore+2
}

func TestConditionCodesAfterCompare(t *testing.T) {
	const (
		beq = 0x6700 | 0x02
		bne = 0x6600 | 0x02
		bgt = 0x6E00 | 0x02
		blt = 0x6D00 | 0x02
		bhi = 0x6200 | 0x02
		bls = 0x6300 | 0x02
	)

	cases := []struct {
		name     string
		d0, d1   uint32
		bcc      uint16
		wantTake bool
	}{
		{"EQ taken when equal", 5, 5, beq, true},
		{"EQ not taken when unequal", 5, 6, beq, false},
		{"NE taken when unequal", 5, 6, bne, true},
		{"NE not taken when equal", 5, 5, bne, false},
		{"GT taken when D0>D1", 10, 3, bgt, true},
		{"GT not taken when D0<D1", 3, 10, bgt, false},
		{"LT taken when D0<D1", 3, 10, blt, true},
		{"HI taken when D0>D1 unsigned", 10, 3, bhi, true},
		{"LS taken when D0<=D1 unsigned", 3, 10, bls, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := runCmpThenBcc(t, c.d0, c.d1, c.bcc); got != c.wantTake {
				t.Fatalf("branch taken = %v, want %v", got, c.wantTake)
			}
		})
	}
}
