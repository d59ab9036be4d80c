package ppc

import (
	"log/slog"

	"github.com/macboot/runtime/internal/cpubackend"
	"github.com/macboot/runtime/internal/guestmem"
	"github.com/macboot/runtime/internal/logctx"
)

// MaxGuest is the reference guest address space size for the PowerPC
// backend.
const MaxGuest = 16 << 20

// InstructionBudget bounds a single EnterAt call.
const InstructionBudget = 100_000

// AddressSpace is the PowerPC backend's implementation of
// cpubackend.AddressSpace.
type AddressSpace struct {
	mem   *guestmem.Space
	traps *cpubackend.TrapTable
	regs  Registers

	halted  bool
	lastErr error

	bumpNext uint32

	tbr uint64 // combined 64-bit time base, split across TBL/TBU on read

	log *slog.Logger
}

// tick advances the time base by one, the host tick source backing the
// TBL/TBU SPRs.
func (as *AddressSpace) tick() { as.tbr++ }

// NewAddressSpace allocates a zeroed PowerPC address space over a fresh
// paged guest memory of size MaxGuest.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{
		mem:      guestmem.New(MaxGuest),
		traps:    &cpubackend.TrapTable{},
		bumpNext: 0x1000,
		log:      logctx.Module("ppc"),
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

// fetchWord reads the 32-bit instruction word at PC and advances PC. All
// PowerPC instructions are fixed-width 32 bits, unlike 68K's variable
// length encoding.
func (as *AddressSpace) fetchWord() (uint32, error) {
	v, err := as.mem.ReadU32(as.regs.PC)
	if err != nil {
		return 0, err
	}

	as.regs.PC += 4

	return v, nil
}

var _ cpubackend.AddressSpace = (*AddressSpace)(nil)
