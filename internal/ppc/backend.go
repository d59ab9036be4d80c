package ppc

import (
	"github.com/macboot/runtime/internal/cpubackend"
	"github.com/macboot/runtime/internal/goerr"
)

// BackendName is the registry key this package registers itself under.
const BackendName = "ppc_interp"

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

// SetRegisterA5 sets R13, the small-data-area base PowerPC code reaches
// its globals through, to value.
func (backend) SetRegisterA5(a cpubackend.AddressSpace, value uint32) {
	as, err := asOf(a)
	if err != nil {
		return
	}

	as.regs.GPR[13] = value
}

func (backend) SetStacks(a cpubackend.AddressSpace, usp, ssp uint32) {
	as, err := asOf(a)
	if err != nil {
		return
	}

	as.regs.GPR[1] = usp // r1 is the PowerPC stack pointer by convention
	_ = ssp
}

func (backend) InstallTrap(a cpubackend.AddressSpace, num uint16, handler cpubackend.TrapHandler, ctx any) {
	as, err := asOf(a)
	if err != nil {
		return
	}

	as.traps.Install(num, handler, ctx)
}

// LoadSegTrap is the sc selector (R0 value) dispatching _LoadSeg; R3 is
// not part of the dispatch key. Unlike
// 68K's A-line encoding, PPC trap numbers are just small integers chosen
// by convention between the loader and the interpreter.
const LoadSegTrap = 1

func (backend) LoadSegTrapNumber() uint16 { return LoadSegTrap }

// WriteJTSlot writes the resolved 16-byte jump-table slot:
//
//	lis r11, hi16(target)
//	ori r11, r11, lo16(target)
//	mtctr r11
//	bctr
func (backend) WriteJTSlot(a cpubackend.AddressSpace, slotAddr, target uint32) error {
	as, err := asOf(a)
	if err != nil {
		return err
	}

	hi := target >> 16
	lo := target & 0xFFFF

	words := []uint32{
		15<<26 | 11<<21 | 0<<16 | hi,        // lis r11, hi16(target)
		24<<26 | 11<<21 | 11<<16 | lo,       // ori r11, r11, lo16(target)
		31<<26 | 11<<21 | encodeSPR(9) | 467<<1, // mtctr r11 (SPR 9 = CTR)
		0x4E800420,                           // bctr
	}

	for i, w := range words {
		if err := as.mem.WriteU32(slotAddr+uint32(i*4), w); err != nil {
			return err
		}
	}

	return nil
}

// lazyStubSize is the PPC lazy jump-table stub's length: li r3, seg_id; li
// r0, trap; sc; blr.
const lazyStubSize = 16

// MakeLazyJTStub writes the 16-byte lazy jump-table stub:
//
//	li r3, seg_id
//	li r0, LoadSegTrap
//	sc
//	blr
//
// R0 carries the trap selector and R3 carries the segment ID, per the
// standard PowerPC syscall ABI split between selector and argument
// registers. The segment-ID load comes first so a slot's leading word is
// the same `0x3860 | seg_id` pattern resolve_jump_index checks for.
// entryIdx is not written to guest bytes and is not recorded elsewhere,
// matching the 68K stub's design.
func (backend) MakeLazyJTStub(a cpubackend.AddressSpace, slotAddr uint32, segID int16, entryIdx int) error {
	as, err := asOf(a)
	if err != nil {
		return err
	}

	words := []uint32{
		14<<26 | 3<<21 | 0<<16 | uint32(uint16(segID)), // li r3, seg_id
		14<<26 | 0<<21 | 0<<16 | LoadSegTrap,            // li r0, LoadSegTrap
		17<<26 | 0x2,                                    // sc
		0x4E800020,                                       // blr
	}

	for i, w := range words {
		if err := as.mem.WriteU32(slotAddr+uint32(i*4), w); err != nil {
			return err
		}
	}

	return nil
}

// scInstrOffset is the lazy stub's sc instruction offset: past the two li
// words, before the trailing blr. By the time sc's trap handler runs, PC
// has advanced past it to scInstrOffset+4.
const scInstrOffset = 8

// ReadLoadSegSelector reads _LoadSeg's segment-ID argument from R3 and
// recovers the calling lazy stub's slot address from the current PC.
func (backend) ReadLoadSegSelector(a cpubackend.AddressSpace) (int16, uint32, error) {
	as, err := asOf(a)
	if err != nil {
		return 0, 0, err
	}

	segID := int16(uint16(as.regs.GPR[3]))

	return segID, as.regs.PC - (scInstrOffset + 4), nil
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

		// PCRel32 patches the 24-bit LI field of an existing branch word
		// in place, clearing AA/LK, rather than overwriting the whole
		// instruction.
		if r.Kind == cpubackend.PCRel32 {
			disp := int64(handle.GuestBase) + int64(r.Addend) - int64(at)
			if disp < -(1<<25) || disp > (1<<25)-1 || disp&0x3 != 0 {
				return &goerr.RelocError{Offset: r.AtOffset, Kind: r.Kind.String(), Reason: "displacement out of 24-bit branch range"}
			}

			old, err := as.mem.ReadU32(at)
			if err != nil {
				return &goerr.RelocError{Offset: r.AtOffset, Kind: r.Kind.String(), Reason: err.Error()}
			}

			word := (old &^ 0x03FFFFFF) | (uint32(disp) & 0x03FFFFFC)
			if err := as.mem.WriteU32(at, word); err != nil {
				return &goerr.RelocError{Offset: r.AtOffset, Kind: r.Kind.String(), Reason: err.Error()}
			}

			continue
		}

		var value uint32

		switch r.Kind {
		case cpubackend.AbsSegBase, cpubackend.SegmentRef:
			value = segBase + r.Addend
		case cpubackend.A5Relative:
			value = a5Base + r.Addend
		case cpubackend.JTImport:
			value = jtBase + r.JTIndex*16 + r.Addend
		case cpubackend.PCRel16:
			value = handle.GuestBase + r.Addend
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
