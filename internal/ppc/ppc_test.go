package ppc_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/macboot/runtime/internal/cpubackend"
	"github.com/macboot/runtime/internal/goerr"
	"github.com/macboot/runtime/internal/ppc"
)

func writeCode(t *testing.T, as *ppc.AddressSpace, addr uint32, words ...uint32) {
	t.Helper()

	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.BigEndian.PutUint32(buf[i*4:], w)
	}

	if err := as.Memory().CopyIn(addr, buf); err != nil {
		t.Fatalf("CopyIn: %v", err)
	}
}

func TestAddiLoadsImmediate(t *testing.T) {
	as := ppc.NewAddressSpace()

	// addi r3, r0, 100
	writeCode(t, as, 0x1000, 0x38600064)
	as.Regs().PC = 0x1000

	if err := as.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if as.Regs().GPR[3] != 100 {
		t.Fatalf("r3 = %d, want 100", as.Regs().GPR[3])
	}
}

func TestAddSetsCR0OnRc(t *testing.T) {
	as := ppc.NewAddressSpace()
	as.Regs().GPR[4] = 1
	as.Regs().GPR[5] = 0xFFFFFFFF // -1

	// add. r3, r4, r5 (rc=1) -> sum is 0
	writeCode(t, as, 0x1000, 31<<26|3<<21|4<<16|5<<11|266<<1|1)
	as.Regs().PC = 0x1000

	if err := as.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if as.Regs().GPR[3] != 0 {
		t.Fatalf("r3 = %#x, want 0", as.Regs().GPR[3])
	}

	if as.Regs().CRField(0)&0x2 == 0 {
		t.Fatalf("cr0 EQ bit not set for zero result: cr0=%#x", as.Regs().CRField(0))
	}
}

func TestUnconditionalBranchWithLink(t *testing.T) {
	as := ppc.NewAddressSpace()

	// bl +8 (AA=0, LK=1): opcode 18, LI=2 words<<2=8, AA=0, LK=1
	writeCode(t, as, 0x1000, 18<<26|(2<<2)|1)
	as.Regs().PC = 0x1000

	if err := as.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if as.Regs().PC != 0x1008 {
		t.Fatalf("PC = %#x, want 0x1008", as.Regs().PC)
	}

	if as.Regs().LR != 0x1004 {
		t.Fatalf("LR = %#x, want 0x1004", as.Regs().LR)
	}
}

func TestScDispatchesTrap(t *testing.T) {
	as := ppc.NewAddressSpace()
	as.Regs().GPR[0] = 7

	called := false
	as.Traps().Install(7, func(cpubackend.AddressSpace, any) error {
		called = true
		return nil
	}, nil)

	writeCode(t, as, 0x1000, 0x44000002) // sc
	as.Regs().PC = 0x1000

	if err := as.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if !called {
		t.Fatalf("trap handler not invoked")
	}
}

func TestScUnregisteredFaults(t *testing.T) {
	as := ppc.NewAddressSpace()
	as.Regs().GPR[0] = 99

	writeCode(t, as, 0x1000, 0x44000002)
	as.Regs().PC = 0x1000

	err := as.Step()
	if !errors.Is(err, goerr.ErrTrap) {
		t.Fatalf("error %v does not unwrap to the trap sentinel", err)
	}

	if !as.Halted() {
		t.Fatalf("address space not halted")
	}
}

func TestLwarxStwcxReservation(t *testing.T) {
	as := ppc.NewAddressSpace()
	as.Regs().GPR[4] = 0x2000 // base for lwarx/stwcx addressing (rA=0 here)
	as.Regs().GPR[5] = 0xABCD

	if err := as.Memory().WriteU32(0x2000, 0x11111111); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}

	// lwarx r3, r0, r4
	writeCode(t, as, 0x1000, 31<<26|3<<21|0<<16|4<<11|20<<1)
	// stwcx. r5, r0, r4
	writeCode(t, as, 0x1004, 31<<26|5<<21|0<<16|4<<11|150<<1|1)

	as.Regs().PC = 0x1000

	if err := as.Step(); err != nil {
		t.Fatalf("lwarx Step: %v", err)
	}

	if as.Regs().GPR[3] != 0x11111111 {
		t.Fatalf("r3 = %#x, want 0x11111111", as.Regs().GPR[3])
	}

	if err := as.Step(); err != nil {
		t.Fatalf("stwcx Step: %v", err)
	}

	if as.Regs().CRField(0)&0x2 == 0 {
		t.Fatalf("stwcx. did not set cr0 EQ on success")
	}

	v, err := as.Memory().ReadU32(0x2000)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}

	if v != 0xABCD {
		t.Fatalf("stored value = %#x, want 0xABCD", v)
	}
}
