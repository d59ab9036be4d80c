package m68k

import "github.com/macboot/runtime/internal/goerr"

// Decode fetches and decodes one instruction at the current PC, returning
// the operation to execute. PC is left just past the opcode word and any
// extension words the addressing modes consumed.
func (as *AddressSpace) Decode() (operation, error) {
	pc := as.regs.PC

	ir, err := as.fetchWord()
	if err != nil {
		return nil, err
	}

	// A-line space is reserved entirely for this runtime's trap convention;
	// checked first so it never falls through to the MOVE/4xxx/6xxx groups.
	if ir&0xF000 == 0xA000 {
		return trapOp{num: ir & 0x0FFF}, nil
	}

	switch {
	case ir&0xC000 == 0x0000 && ir&0x3000 != 0x0000 && moveSizeOf(uint8(ir>>12&0x3)) != 0:
		// MOVE/MOVEA: 00 ss RRR MMM mmm rrr (ss: size field, swapped vs
		// most other ops: 01=byte, 11=word, 10=long).
		size := moveSizeOf(uint8(ir >> 12 & 0x3))
		dstReg := byte(ir >> 9 & 0x7)
		dstMode := byte(ir >> 6 & 0x7)
		srcMode := byte(ir >> 3 & 0x7)
		srcReg := byte(ir & 0x7)

		return moveOp{size: size, srcMode: srcMode, srcReg: srcReg, dstMode: dstMode, dstReg: dstReg}, nil

	case ir&0xF1C0 == 0x41C0: // LEA: 0100 AAA111 mmmrrr
		an := byte(ir >> 9 & 0x7)
		mode := byte(ir >> 3 & 0x7)
		reg := byte(ir & 0x7)

		return leaOp{mode: mode, reg: reg, an: an}, nil

	case ir&0xFFC0 == 0x4840: // PEA: 0100 1000 01 mmmrrr
		mode := byte(ir >> 3 & 0x7)
		reg := byte(ir & 0x7)

		return peaOp{mode: mode, reg: reg}, nil

	case ir&0xFF00 == 0x4200: // CLR: 0100 0010 ss mmmrrr
		size, ok := opSizeFromBits2(uint8(ir >> 6 & 0x3))
		if !ok {
			break
		}

		mode := byte(ir >> 3 & 0x7)
		reg := byte(ir & 0x7)

		return clrOp{size: size, mode: mode, reg: reg}, nil

	case ir&0xFF00 == 0x4600: // NOT: 0100 0110 ss mmmrrr
		size, ok := opSizeFromBits2(uint8(ir >> 6 & 0x3))
		if !ok {
			break
		}

		mode := byte(ir >> 3 & 0x7)
		reg := byte(ir & 0x7)

		return notOp{size: size, mode: mode, reg: reg}, nil

	case ir&0xF000 == 0xD000: // ADD: 1101 DDD dir ss mmmrrr
		return decodeArith(ir, arithAdd)

	case ir&0xF000 == 0x9000: // SUB: 1001 DDD dir ss mmmrrr
		return decodeArith(ir, arithSub)

	case ir&0xF000 == 0xB000: // CMP: 1011 DDD dir ss mmmrrr (CMPA excluded)
		if ir&0x00C0 == 0x00C0 {
			break // CMPA not in the MVP opcode set
		}

		return decodeArith(ir, arithCmp)

	case ir&0xFFF8 == 0x4E50: // LINK An, #d16
		return linkOp{an: byte(ir & 0x7)}, nil

	case ir&0xFFF8 == 0x4E58: // UNLK An
		return unlkOp{an: byte(ir & 0x7)}, nil

	case ir&0xFFC0 == 0x4E80: // JSR
		return jsrOp{mode: byte(ir >> 3 & 0x7), reg: byte(ir & 0x7)}, nil

	case ir&0xFFC0 == 0x4EC0: // JMP
		return jmpOp{mode: byte(ir >> 3 & 0x7), reg: byte(ir & 0x7)}, nil

	case ir == 0x4E75: // RTS
		return rtsOp{}, nil

	case ir&0xF000 == 0x6000: // BRA/BSR/Bcc: 0110 cccc dddddddd
		cond := uint8(ir >> 8 & 0xF)
		disp8 := ir & 0xFF

		var target uint32

		switch disp8 {
		case 0x00:
			w, err := as.fetchWord()
			if err != nil {
				return nil, err
			}

			target = pc + 2 + signExtend(uint32(w), 2)
		case 0xFF:
			l, err := as.fetchLong()
			if err != nil {
				return nil, err
			}

			target = pc + 2 + l
		default:
			target = pc + 2 + signExtend(uint32(disp8), 1)
		}

		return branchOp{cond: cond, isBSR: cond == 1, target: target}, nil
	}

	return nil, as.fault(&goerr.IllegalInstructionError{PC: pc, Word: uint32(ir)})
}

// opSizeFromBits2 maps the common 2-bit size field (00=byte, 01=word,
// 10=long) used by CLR/NOT/ADD/SUB/CMP to a byte count.
func opSizeFromBits2(field uint8) (uint8, bool) {
	switch field {
	case 0:
		return 1, true
	case 1:
		return 2, true
	case 2:
		return 4, true
	}

	return 0, false
}

func decodeArith(ir uint16, kind arithKind) (operation, error) {
	size, ok := opSizeFromBits2(uint8(ir >> 6 & 0x3))
	if !ok {
		return nil, nil
	}

	dn := byte(ir >> 9 & 0x7)
	dir := ir&0x0100 != 0
	mode := byte(ir >> 3 & 0x7)
	reg := byte(ir & 0x7)

	return arithOp{kind: kind, size: size, dn: dn, dir: dir, mode: mode, reg: reg}, nil
}

// Step decodes and executes exactly one instruction.
func (as *AddressSpace) Step() error {
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
