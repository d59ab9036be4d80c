package m68k

import (
	"github.com/macboot/runtime/internal/cpubackend"
	"github.com/macboot/runtime/internal/goerr"
)

// BackendName is the registry key this package registers itself under.
const BackendName = "m68k_interp"

type backend struct{}

func init() {
	cpubackend.Register(BackendName, backend{})
}

func (backend) Name() string { return BackendName }

func (backend) CreateAddressSpace() cpubackend.AddressSpace {
	return NewAddressSpace()
}

func (backend) DestroyAddressSpace(cpubackend.AddressSpace) {}

func asOf(a cpubackend.AddressSpace) (*AddressSpace, error) {
	as, ok := a.(*AddressSpace)
	if !ok || as == nil {
		return nil, goerr.ErrParam
	}

	return as, nil
}

func (backend) MapExecutable(a cpubackend.AddressSpace, code []byte, flags cpubackend.Flags) (cpubackend.CodeHandle, uint32, error) {
	as, err := asOf(a)
	if err != nil {
		return cpubackend.CodeHandle{}, 0, err
	}

	base := as.bumpAlloc(uint32(len(code)))
	if err := as.mem.CopyIn(base, code); err != nil {
		return cpubackend.CodeHandle{}, 0, err
	}

	return cpubackend.CodeHandle{GuestBase: base, Size: uint32(len(code))}, base, nil
}

func (backend) UnmapExecutable(cpubackend.AddressSpace, cpubackend.CodeHandle) {}

func (backend) SetRegisterA5(a cpubackend.AddressSpace, value uint32) {
	as, err := asOf(a)
	if err != nil {
		return
	}

	as.regs.A[5] = value
}

func (backend) SetStacks(a cpubackend.AddressSpace, usp, ssp uint32) {
	as, err := asOf(a)
	if err != nil {
		return
	}

	as.regs.USP = usp
	as.regs.SSP = ssp
	as.regs.A[7] = usp
}

func (backend) InstallTrap(a cpubackend.AddressSpace, num uint16, handler cpubackend.TrapHandler, ctx any) {
	as, err := asOf(a)
	if err != nil {
		return
	}

	as.traps.Install(num, handler, ctx)
}

// WriteJTSlot writes a direct jump-table slot: a JMP abs.L opcode (0x4EF9)
// followed by the 32-bit target, the classic-Mac jump table entry shape.
func (backend) WriteJTSlot(a cpubackend.AddressSpace, slotAddr, target uint32) error {
	as, err := asOf(a)
	if err != nil {
		return err
	}

	if err := as.mem.WriteU16(slotAddr, 0x4EF9); err != nil {
		return err
	}

	return as.mem.WriteU32(slotAddr+2, target)
}

// LoadSegTrap is the A-line word dispatching _LoadSeg.
const LoadSegTrap = 0xA9F0

func (backend) LoadSegTrapNumber() uint16 { return LoadSegTrap }

// MakeLazyJTStub writes the classic 8-byte lazy jump-table stub:
// `3F 3C ii ii A9 F0 4E 75` — MOVE.W #segID,-(SP) to push the segment
// number, the _LoadSeg trap itself, then RTS, so the first call returns
// through the stub's own RTS once the trap has hot-patched the slot to a
// resolved jump. entryIdx is not written to guest bytes and is not
// recorded elsewhere; the handler recovers the slot address from PC (see
// ReadLoadSegSelector).
func (backend) MakeLazyJTStub(a cpubackend.AddressSpace, slotAddr uint32, segID int16, entryIdx int) error {
	as, err := asOf(a)
	if err != nil {
		return err
	}

	if err := as.mem.WriteU16(slotAddr, 0x3F3C); err != nil {
		return err
	}

	if err := as.mem.WriteU16(slotAddr+2, uint16(segID)); err != nil {
		return err
	}

	if err := as.mem.WriteU16(slotAddr+4, LoadSegTrap); err != nil {
		return err
	}

	return as.mem.WriteU16(slotAddr+6, 0x4E75)
}

// lazyStubSize is the 68K lazy jump-table stub's length: MOVE.W #seg_id,
// -(SP); TRAP #$A9F0; RTS.
const lazyStubSize = 8

// ReadLoadSegSelector pops _LoadSeg's segment-ID argument off the guest
// stack and recovers the calling lazy stub's slot address from the current
// PC: by the time the TRAP's handler runs, PC has advanced past the MOVE.W
// and TRAP words, leaving only the RTS unexecuted.
func (backend) ReadLoadSegSelector(a cpubackend.AddressSpace) (int16, uint32, error) {
	as, err := asOf(a)
	if err != nil {
		return 0, 0, err
	}

	seg, err := as.pop16()
	if err != nil {
		return 0, 0, err
	}

	return int16(seg), as.regs.PC - lazyStubSize + 2, nil
}

func (backend) EnterAt(a cpubackend.AddressSpace, entry uint32, flags cpubackend.Flags) error {
	as, err := asOf(a)
	if err != nil {
		return err
	}

	as.regs.PC = entry
	as.halted = false
	as.lastErr = nil

	return as.Run(InstructionBudget)
}

func (backend) Relocate(a cpubackend.AddressSpace, handle cpubackend.CodeHandle, table []cpubackend.RelocEntry, segBase, jtBase, a5Base uint32) error {
	as, err := asOf(a)
	if err != nil {
		return err
	}

	for _, r := range table {
		at := handle.GuestBase + r.AtOffset

		// PCRel16 patches only the instruction's 16-bit extension word
		// (a signed branch/displacement operand), never the full 32 bits.
		if r.Kind == cpubackend.PCRel16 {
			disp := int64(handle.GuestBase) + int64(r.Addend) - int64(at)
			if disp < -32768 || disp > 32767 {
				return &goerr.RelocError{Offset: r.AtOffset, Kind: r.Kind.String(), Reason: "displacement out of 16-bit range"}
			}

			if err := as.mem.WriteU16(at, uint16(int16(disp))); err != nil {
				return &goerr.RelocError{Offset: r.AtOffset, Kind: r.Kind.String(), Reason: err.Error()}
			}

			continue
		}

		var value uint32

		switch r.Kind {
		case cpubackend.AbsSegBase:
			value = segBase + r.Addend
		case cpubackend.A5Relative:
			value = a5Base + r.Addend
		case cpubackend.JTImport:
			value = jtBase + r.JTIndex*8 + r.Addend
		case cpubackend.PCRel32:
			value = handle.GuestBase + r.Addend
		case cpubackend.SegmentRef:
			value = segBase + r.Addend
		default:
			return &goerr.RelocError{Offset: r.AtOffset, Kind: r.Kind.String(), Reason: "unknown relocation kind"}
		}

		if err := as.mem.WriteU32(at, value); err != nil {
			return &goerr.RelocError{Offset: r.AtOffset, Kind: r.Kind.String(), Reason: err.Error()}
		}
	}

	return nil
}

func (backend) AllocateMemory(a cpubackend.AddressSpace, size uint32, flags cpubackend.Flags) (uint32, error) {
	as, err := asOf(a)
	if err != nil {
		return 0, err
	}

	return as.bumpAlloc(size), nil
}

func (backend) ReadMemory(a cpubackend.AddressSpace, addr uint32, dst []byte) error {
	as, err := asOf(a)
	if err != nil {
		return err
	}

	return as.mem.CopyOut(dst, addr)
}

func (backend) WriteMemory(a cpubackend.AddressSpace, addr uint32, src []byte) error {
	as, err := asOf(a)
	if err != nil {
		return err
	}

	return as.mem.CopyIn(addr, src)
}

var _ cpubackend.Backend = backend{}
