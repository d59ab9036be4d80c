package m68k

import "github.com/macboot/runtime/internal/goerr"

// operand is a decoded effective address: either a register (direct) or a
// resolved guest memory location. Register operands read/write Registers
// directly; memory operands read/write through the AddressSpace.
type operand struct {
	reg   *uint32 // non-nil for register-direct modes (Dn, An)
	addr  uint32  // valid guest address for memory modes
	isMem bool
	isImm bool // immediate value, stashed in AddressSpace.immediate
}

// decodeEA decodes the 6-bit mode/register field (mode in bits 5-3, reg in
// bits 2-0) found in the low byte of most opcode words, advancing PC past
// any extension words the mode consumes. size is 1, 2, or 4.
//
// Pre-decrement reads the register, subtracts size, then uses the new value
// as the address. Post-increment uses the current value as the address,
// then adds size. A7 used as a byte pointer in either mode advances by 2
// instead of 1 to preserve stack word alignment.
func (as *AddressSpace) decodeEA(mode, reg uint8, size uint8) (operand, error) {
	switch mode {
	case 0: // Dn
		return operand{reg: &as.regs.D[reg]}, nil
	case 1: // An
		return operand{reg: &as.regs.A[reg]}, nil
	case 2: // (An)
		return operand{addr: as.regs.A[reg], isMem: true}, nil
	case 3: // (An)+
		step := uint32(size)
		if reg == 7 && size == 1 {
			step = 2
		}

		a := as.regs.A[reg]
		as.regs.A[reg] += step

		return operand{addr: a, isMem: true}, nil
	case 4: // -(An)
		step := uint32(size)
		if reg == 7 && size == 1 {
			step = 2
		}

		as.regs.A[reg] -= step

		return operand{addr: as.regs.A[reg], isMem: true}, nil
	case 5: // d16(An)
		disp, err := as.fetchWord()
		if err != nil {
			return operand{}, err
		}

		a := as.regs.A[reg] + signExtend(uint32(disp), 2)

		return operand{addr: a, isMem: true}, nil
	case 6: // d8(An, Xn)
		a, err := as.decodeBriefExtWord(as.regs.A[reg])
		if err != nil {
			return operand{}, err
		}

		return operand{addr: a, isMem: true}, nil
	case 7:
		switch reg {
		case 0: // abs.W
			w, err := as.fetchWord()
			if err != nil {
				return operand{}, err
			}

			return operand{addr: signExtend(uint32(w), 2), isMem: true}, nil
		case 1: // abs.L
			l, err := as.fetchLong()
			if err != nil {
				return operand{}, err
			}

			return operand{addr: l, isMem: true}, nil
		case 2: // d16(PC)
			base := as.regs.PC
			disp, err := as.fetchWord()
			if err != nil {
				return operand{}, err
			}

			return operand{addr: base + signExtend(uint32(disp), 2), isMem: true}, nil
		case 3: // d8(PC, Xn)
			a, err := as.decodeBriefExtWord(as.regs.PC)
			if err != nil {
				return operand{}, err
			}

			return operand{addr: a, isMem: true}, nil
		case 4: // immediate
			switch size {
			case 1, 2:
				w, err := as.fetchWord()
				if err != nil {
					return operand{}, err
				}

				v := uint32(w)
				as.immediate = v & sizeMask(size)

				return operand{isImm: true}, nil
			default:
				l, err := as.fetchLong()
				if err != nil {
					return operand{}, err
				}

				as.immediate = l

				return operand{isImm: true}, nil
			}
		}
	}

	return operand{}, as.fault(&goerr.IllegalInstructionError{PC: as.regs.PC, Word: uint32(mode)<<3 | uint32(reg)})
}

// decodeBriefExtWord decodes a brief extension word (d8(An/PC,Xn)) relative
// to base, consuming the one extension word. Only the brief (non-full) form
// is supported, matching the MVP opcode set's addressing needs.
func (as *AddressSpace) decodeBriefExtWord(base uint32) (uint32, error) {
	ext, err := as.fetchWord()
	if err != nil {
		return 0, err
	}

	xreg := (ext >> 12) & 0x7
	isAddr := ext&0x8000 != 0
	isLong := ext&0x800 != 0
	disp := signExtend(uint32(ext&0xFF), 1)

	var xval uint32
	if isAddr {
		xval = as.regs.A[xreg]
	} else {
		xval = as.regs.D[xreg]
	}

	if !isLong {
		xval = signExtend(xval, 2)
	}

	return base + xval + disp, nil
}

// readOperand loads the value at an operand, sign-agnostic (raw size*8 bit
// pattern in the low bits of the result).
func (as *AddressSpace) readOperand(op operand, size uint8) (uint32, error) {
	if op.isImm {
		return as.immediate, nil
	}

	if op.reg != nil {
		return *op.reg & sizeMask(size), nil
	}

	switch size {
	case 1:
		v, err := as.mem.ReadU8(op.addr)
		return uint32(v), err
	case 2:
		v, err := as.mem.ReadU16(op.addr)
		return uint32(v), err
	default:
		return as.mem.ReadU32(op.addr)
	}
}

// writeOperand stores value into an operand. Register-direct writes only
// replace the low size*8 bits, leaving the rest of the register untouched,
// per 68K semantics for byte/word operations on Dn.
func (as *AddressSpace) writeOperand(op operand, size uint8, value uint32) error {
	if op.reg != nil {
		mask := sizeMask(size)
		*op.reg = (*op.reg &^ mask) | (value & mask)

		return nil
	}

	switch size {
	case 1:
		return as.mem.WriteU8(op.addr, uint8(value))
	case 2:
		return as.mem.WriteU16(op.addr, uint16(value))
	default:
		return as.mem.WriteU32(op.addr, value)
	}
}
