package m68k

import (
	"log/slog"

	"github.com/macboot/runtime/internal/cpubackend"
	"github.com/macboot/runtime/internal/guestmem"
	"github.com/macboot/runtime/internal/logctx"
)

// MaxGuest is the reference guest address space size for the 68K backend.
const MaxGuest = 16 << 20

// InstructionBudget bounds a single EnterAt call (§5, reference 100,000).
const InstructionBudget = 100_000

// AddressSpace is the 68K backend's implementation of
// cpubackend.AddressSpace.
type AddressSpace struct {
	mem   *guestmem.Space
	traps *cpubackend.TrapTable
	regs  Registers

	halted  bool
	lastErr error

	bumpNext uint32 // next free guest address for MapExecutable/AllocateMemory

	immediate uint32 // scratch slot for the last-decoded immediate operand

	log *slog.Logger
}

// NewAddressSpace allocates a zeroed 68K address space over a fresh paged
// guest memory of size MaxGuest.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{
		mem:      guestmem.New(MaxGuest),
		traps:    &cpubackend.TrapTable{},
		bumpNext: 0x1000, // leave the low page for lmglobals
		log:      logctx.Module("m68k"),
	}
}

func (as *AddressSpace) Memory() *guestmem.Space      { return as.mem }
func (as *AddressSpace) Traps() *cpubackend.TrapTable { return as.traps }
func (as *AddressSpace) Halted() bool                 { return as.halted }
func (as *AddressSpace) SetHalted(h bool)             { as.halted = h }
func (as *AddressSpace) LastException() error         { return as.lastErr }
func (as *AddressSpace) SetLastException(err error)   { as.lastErr = err }

// Regs exposes the register file for tests and trap handlers.
func (as *AddressSpace) Regs() *Registers { return &as.regs }

// RegisterA5 reports the current value of A5, letting segload verify the
// A5-world construction invariant without widening cpubackend.Backend for a
// 68K-only check.
func (as *AddressSpace) RegisterA5() uint32 { return as.regs.A[5] }

func align16(addr uint32) uint32 { return (addr + 15) &^ 15 }

func (as *AddressSpace) bumpAlloc(size uint32) uint32 {
	base := align16(as.bumpNext)
	as.bumpNext = base + size

	return base
}

func (as *AddressSpace) fault(err error) error {
	as.halted = true
	as.lastErr = err
	as.log.Error("halted", "err", err, "pc", as.regs.PC)

	return err
}

// push32/pop32 implement the stack conventions of §4.5: A7 -= 4 then write,
// or read then A7 += 4.
func (as *AddressSpace) push32(v uint32) error {
	as.regs.A[7] -= 4
	return as.mem.WriteU32(as.regs.A[7], v)
}

func (as *AddressSpace) pop32() (uint32, error) {
	v, err := as.mem.ReadU32(as.regs.A[7])
	if err != nil {
		return 0, err
	}

	as.regs.A[7] += 4

	return v, nil
}

func (as *AddressSpace) push16(v uint16) error {
	as.regs.A[7] -= 2
	return as.mem.WriteU16(as.regs.A[7], v)
}

func (as *AddressSpace) pop16() (uint16, error) {
	v, err := as.mem.ReadU16(as.regs.A[7])
	if err != nil {
		return 0, err
	}

	as.regs.A[7] += 2

	return v, nil
}

// fetchWord reads the 16-bit word at PC and advances PC.
func (as *AddressSpace) fetchWord() (uint16, error) {
	v, err := as.mem.ReadU16(as.regs.PC)
	if err != nil {
		return 0, err
	}

	as.regs.PC += 2

	return v, nil
}

// fetchLong reads the 32-bit value at PC and advances PC.
func (as *AddressSpace) fetchLong() (uint32, error) {
	v, err := as.mem.ReadU32(as.regs.PC)
	if err != nil {
		return 0, err
	}

	as.regs.PC += 4

	return v, nil
}

var _ cpubackend.AddressSpace = (*AddressSpace)(nil)
