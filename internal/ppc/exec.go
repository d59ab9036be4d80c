package ppc

import "github.com/macboot/runtime/internal/goerr"

// field helpers, named the way the architecture manual names them.
func opcd(ir uint32) uint32 { return ir >> 26 }
func rt(ir uint32) byte     { return byte(ir >> 21 & 0x1F) }
func rs(ir uint32) byte     { return byte(ir >> 21 & 0x1F) }
func ra(ir uint32) byte     { return byte(ir >> 16 & 0x1F) }
func rb(ir uint32) byte     { return byte(ir >> 11 & 0x1F) }
func d(ir uint32) uint32    { return signExtend16(ir & 0xFFFF) }
func simm(ir uint32) uint32 { return signExtend16(ir & 0xFFFF) }
func uimm(ir uint32) uint32 { return ir & 0xFFFF }
func xo(ir uint32) uint32   { return ir >> 1 & 0x3FF }
func rcBit(ir uint32) bool  { return ir&0x1 != 0 }
func aaBit(ir uint32) bool  { return ir&0x2 != 0 }
func lkBit(ir uint32) bool  { return ir&0x1 != 0 }
func bo(ir uint32) uint8    { return byte(ir >> 21 & 0x1F) }
func bi(ir uint32) uint8    { return byte(ir >> 16 & 0x1F) }
func crfD(ir uint32) uint8  { return byte(ir >> 23 & 0x7) }
func sprField(ir uint32) uint16 {
	raw := ir >> 11 & 0x3FF
	return uint16((raw&0x1F)<<5 | (raw >> 5 & 0x1F))
}

// encodeSPR is sprField's inverse: given an SPR number, returns its
// contribution to an mtspr/mfspr instruction word (already positioned at
// bits 11-20).
func encodeSPR(spr uint32) uint32 {
	return (spr>>5&0x1F)<<11 | (spr&0x1F)<<16
}

// Decode fetches and decodes one instruction at the current PC, returning
// the operation to execute. PC is left just past the instruction word.
func (as *AddressSpace) Decode() (operation, error) {
	pc := as.regs.PC

	ir, err := as.fetchWord()
	if err != nil {
		return nil, err
	}

	switch opcd(ir) {
	case 2: // tdi -- not modeled; treat as illegal
	case 3: // twi -- not modeled
	case 11: // cmpi
		return cmpOp{field: crfD(ir), signed: true, ra: ra(ir), bIsImm: true, bImm: simm(ir)}, nil
	case 10: // cmpli
		return cmpOp{field: crfD(ir), signed: false, ra: ra(ir), bIsImm: true, bImm: uimm(ir)}, nil
	case 14: // addi
		return addiOp{rt: rt(ir), ra: ra(ir), simm: simm(ir)}, nil
	case 15: // addis
		return addiOp{rt: rt(ir), ra: ra(ir), simm: uimm(ir), isAA: true}, nil
	case 24: // ori (ori r0,r0,0 is the canonical PowerPC NOP)
		return threeRegOp{rt: ra(ir), ra: rt(ir), fn: func(a, _ uint32, x *Registers) uint32 {
			return a | uimm(ir)
		}}, nil
	case 28: // andi.
		return threeRegOp{rt: ra(ir), ra: rt(ir), rc: true, fn: func(a, _ uint32, x *Registers) uint32 {
			return a & uimm(ir)
		}}, nil
	case 16: // bc
		return branchOp{
			conditional: true,
			bo:          bo(ir),
			bi:          bi(ir),
			link:        lkBit(ir),
			target:      branchTarget(pc, signExtend16Shift(ir), aaBit(ir)),
		}, nil
	case 18: // b/ba/bl/bla
		return branchOp{
			link:   lkBit(ir),
			target: branchTarget(pc, signExtend26(ir&0x03FFFFFC), aaBit(ir)),
		}, nil
	case 17: // sc
		return scOp{}, nil
	case 32:
		return loadOp{rt: rt(ir), ra: ra(ir), disp: d(ir), size: 4}, nil
	case 34:
		return loadOp{rt: rt(ir), ra: ra(ir), disp: d(ir), size: 1}, nil
	case 40:
		return loadOp{rt: rt(ir), ra: ra(ir), disp: d(ir), size: 2}, nil
	case 36:
		return storeOp{rs: rs(ir), ra: ra(ir), disp: d(ir), size: 4}, nil
	case 38:
		return storeOp{rs: rs(ir), ra: ra(ir), disp: d(ir), size: 1}, nil
	case 44:
		return storeOp{rs: rs(ir), ra: ra(ir), disp: d(ir), size: 2}, nil
	case 19: // branch-register / CR-logic extended space
		switch xo(ir) {
		case 16: // bclr
			return branchOp{conditional: true, bo: bo(ir), bi: bi(ir), link: lkBit(ir), viaLR: true}, nil
		case 150: // isync
			return nopOp{}, nil
		case 528: // bcctr
			return branchOp{conditional: true, bo: bo(ir), bi: bi(ir), link: lkBit(ir), viaCTR: true}, nil
		}
	case 31: // extended arithmetic / memory / SPR space
		switch xo(ir) {
		case 266: // add
			return threeRegOp{rt: rt(ir), ra: ra(ir), rb: rb(ir), rc: rcBit(ir), fn: func(a, b uint32, _ *Registers) uint32 {
				return a + b
			}}, nil
		case 40: // subf
			return threeRegOp{rt: rt(ir), ra: ra(ir), rb: rb(ir), rc: rcBit(ir), fn: func(a, b uint32, _ *Registers) uint32 {
				return b - a
			}}, nil
		case 444: // or / mr (rA,rS,rS)
			return threeRegOp{rt: ra(ir), ra: rt(ir), rb: rb(ir), rc: rcBit(ir), fn: func(a, b uint32, _ *Registers) uint32 {
				return a | b
			}}, nil
		case 28: // and
			return threeRegOp{rt: ra(ir), ra: rt(ir), rb: rb(ir), rc: rcBit(ir), fn: func(a, b uint32, _ *Registers) uint32 {
				return a & b
			}}, nil
		case 316: // xor
			return threeRegOp{rt: ra(ir), ra: rt(ir), rb: rb(ir), rc: rcBit(ir), fn: func(a, b uint32, _ *Registers) uint32 {
				return a ^ b
			}}, nil
		case 0: // cmpw/cmpd (field-selected, word compare only here)
			return cmpOp{field: crfD(ir), signed: true, ra: ra(ir), rb: rb(ir)}, nil
		case 32: // cmplw
			return cmpOp{field: crfD(ir), signed: false, ra: ra(ir), rb: rb(ir)}, nil
		case 20: // lwarx
			return lwarxOp{rt: rt(ir), ra: ra(ir), rb: rb(ir)}, nil
		case 150: // stwcx.
			return stwcxOp{rs: rs(ir), ra: ra(ir), rb: rb(ir)}, nil
		case 339: // mfspr
			return mfsprOp{rt: rt(ir), spr: sprField(ir)}, nil
		case 467: // mtspr
			return mtsprOp{rs: rs(ir), spr: sprField(ir)}, nil
		case 598: // sync
			return nopOp{}, nil
		case 854: // eieio
			return nopOp{}, nil
		case 86: // dcbf
			return nopOp{}, nil
		case 54: // dcbst
			return nopOp{}, nil
		case 982: // icbi
			return nopOp{}, nil
		}
	case 63: // floating point: FPU subset unimplemented, fault rather than no-op
	case 4: // AltiVec: vector subset unimplemented, fault rather than no-op
	}

	return nil, as.fault(&goerr.IllegalInstructionError{PC: pc, Word: ir})
}

// signExtend16Shift extracts and left-shifts-by-2 the bc-family 14-bit
// displacement field.
func signExtend16Shift(ir uint32) uint32 {
	v := ir & 0xFFFC
	if v&0x8000 != 0 {
		v |= 0xFFFF0000
	}

	return v
}

// branchTarget computes a branch target: CIA + disp for relative branches
// (pc is the address of the branch instruction itself, captured before
// Decode advances PC past it), or disp directly when AA=1.
func branchTarget(pc, disp uint32, absolute bool) uint32 {
	if absolute {
		return disp
	}

	return pc + disp
}

// Step decodes and executes exactly one instruction.
func (as *AddressSpace) Step() error {
	as.tick()

	op, err := as.Decode()
	if err != nil {
		return err
	}

	if op == nil {
		return as.fault(&goerr.IllegalInstructionError{PC: as.regs.PC})
	}

	if err := op.execute(as); err != nil {
		as.halted = true
		as.lastErr = err

		return err
	}

	return nil
}

// Run steps until halted, an error occurs, or budget instructions have
// executed, whichever comes first.
func (as *AddressSpace) Run(budget int) error {
	for i := 0; i < budget; i++ {
		if as.halted {
			return as.lastErr
		}

		if err := as.Step(); err != nil {
			return err
		}
	}

	return nil
}
