package m68k

import "github.com/macboot/runtime/internal/goerr"

// An operation is one decoded instruction, ready to execute against an
// AddressSpace. Each opcode gets its own small struct, mirroring the
// fetch/decode/execute staging the rest of the runtime follows.
type operation interface {
	execute(as *AddressSpace) error
}

// moveSizeOf maps the 2-bit size field used by MOVE and MOVEA to a
// byte count: 1 -> byte, 3 -> word, 2 -> long. (MOVE's field ordering is the
// one 68K irregularity this decoder special-cases directly in Decode.)
func moveSizeOf(field uint8) uint8 {
	switch field {
	case 1:
		return 1
	case 3:
		return 2
	case 2:
		return 4
	}

	return 0
}

type moveOp struct {
	size        uint8
	srcMode, srcReg byte
	dstMode, dstReg byte
}

func (op moveOp) execute(as *AddressSpace) error {
	src, err := as.decodeEA(op.srcMode, op.srcReg, op.size)
	if err != nil {
		return err
	}

	v, err := as.readOperand(src, op.size)
	if err != nil {
		return err
	}

	// MOVEA (dstMode == 1) sign-extends into the full address register and
	// does not affect CCR.
	if op.dstMode == 1 {
		as.regs.A[op.dstReg] = signExtend(v, op.size)
		return nil
	}

	dst, err := as.decodeEA(op.dstMode, op.dstReg, op.size)
	if err != nil {
		return err
	}

	if err := as.writeOperand(dst, op.size, v); err != nil {
		return err
	}

	as.regs.setNZ(v, op.size)
	as.regs.setCCR(ccrV, false)
	as.regs.setCCR(ccrC, false)

	return nil
}

type leaOp struct {
	mode, reg byte
	an        byte
}

func (op leaOp) execute(as *AddressSpace) error {
	ea, err := as.decodeEA(op.mode, op.reg, 4)
	if err != nil {
		return err
	}

	if !ea.isMem {
		return as.fault(&goerr.IllegalInstructionError{PC: as.regs.PC})
	}

	as.regs.A[op.an] = ea.addr

	return nil
}

type peaOp struct {
	mode, reg byte
}

func (op peaOp) execute(as *AddressSpace) error {
	ea, err := as.decodeEA(op.mode, op.reg, 4)
	if err != nil {
		return err
	}

	if !ea.isMem {
		return as.fault(&goerr.IllegalInstructionError{PC: as.regs.PC})
	}

	return as.push32(ea.addr)
}

type clrOp struct {
	size      uint8
	mode, reg byte
}

func (op clrOp) execute(as *AddressSpace) error {
	ea, err := as.decodeEA(op.mode, op.reg, op.size)
	if err != nil {
		return err
	}

	if err := as.writeOperand(ea, op.size, 0); err != nil {
		return err
	}

	as.regs.setCCR(ccrZ, true)
	as.regs.setCCR(ccrN, false)
	as.regs.setCCR(ccrV, false)
	as.regs.setCCR(ccrC, false)

	return nil
}

type notOp struct {
	size      uint8
	mode, reg byte
}

func (op notOp) execute(as *AddressSpace) error {
	ea, err := as.decodeEA(op.mode, op.reg, op.size)
	if err != nil {
		return err
	}

	v, err := as.readOperand(ea, op.size)
	if err != nil {
		return err
	}

	result := (^v) & sizeMask(op.size)

	if err := as.writeOperand(ea, op.size, result); err != nil {
		return err
	}

	as.regs.setNZ(result, op.size)
	as.regs.setCCR(ccrV, false)
	as.regs.setCCR(ccrC, false)

	return nil
}

// arithOp implements ADD, SUB, and CMP Dn<->ea forms. dir false means
// ea -> Dn (Dn = Dn op ea); dir true means Dn -> ea (ea = ea op Dn). CMP
// never writes back and never affects X.
type arithKind uint8

const (
	arithAdd arithKind = iota
	arithSub
	arithCmp
)

type arithOp struct {
	kind      arithKind
	size      uint8
	dn        byte
	dir       bool
	mode, reg byte
}

func (op arithOp) execute(as *AddressSpace) error {
	ea, err := as.decodeEA(op.mode, op.reg, op.size)
	if err != nil {
		return err
	}

	eaVal, err := as.readOperand(ea, op.size)
	if err != nil {
		return err
	}

	dnVal := as.regs.D[op.dn] & sizeMask(op.size)

	var a, b uint32

	if op.dir {
		a, b = eaVal, dnVal
	} else {
		a, b = dnVal, eaVal
	}

	var result uint32
	var carry bool

	switch op.kind {
	case arithAdd:
		wide := uint64(a) + uint64(b)
		result = uint32(wide) & sizeMask(op.size)
		carry = wide&(uint64(sizeMask(op.size))+1) != 0
	case arithSub, arithCmp:
		wide := int64(a) - int64(b)
		result = uint32(wide) & sizeMask(op.size)
		carry = a < b
	}

	as.regs.setNZ(result, op.size)
	as.regs.setCCR(ccrV, false) // overflow detection not modeled, see design notes
	as.regs.setCCR(ccrC, carry)

	if op.kind != arithCmp {
		as.regs.setCCR(ccrX, carry)
	}

	if op.kind == arithCmp {
		return nil
	}

	if op.dir {
		return as.writeOperand(ea, op.size, result)
	}

	mask := sizeMask(op.size)
	as.regs.D[op.dn] = (as.regs.D[op.dn] &^ mask) | result

	return nil
}

type linkOp struct {
	an byte
}

func (op linkOp) execute(as *AddressSpace) error {
	if err := as.push32(as.regs.A[op.an]); err != nil {
		return err
	}

	as.regs.A[op.an] = as.regs.A[7]

	disp, err := as.fetchWord()
	if err != nil {
		return err
	}

	as.regs.A[7] += signExtend(uint32(disp), 2)

	return nil
}

type unlkOp struct {
	an byte
}

func (op unlkOp) execute(as *AddressSpace) error {
	as.regs.A[7] = as.regs.A[op.an]

	v, err := as.pop32()
	if err != nil {
		return err
	}

	as.regs.A[op.an] = v

	return nil
}

type jsrOp struct {
	mode, reg byte
}

func (op jsrOp) execute(as *AddressSpace) error {
	ea, err := as.decodeEA(op.mode, op.reg, 4)
	if err != nil {
		return err
	}

	if !ea.isMem {
		return as.fault(&goerr.IllegalInstructionError{PC: as.regs.PC})
	}

	if err := as.push32(as.regs.PC); err != nil {
		return err
	}

	as.regs.PC = ea.addr

	return nil
}

type jmpOp struct {
	mode, reg byte
}

func (op jmpOp) execute(as *AddressSpace) error {
	ea, err := as.decodeEA(op.mode, op.reg, 4)
	if err != nil {
		return err
	}

	if !ea.isMem {
		return as.fault(&goerr.IllegalInstructionError{PC: as.regs.PC})
	}

	as.regs.PC = ea.addr

	return nil
}

type rtsOp struct{}

func (op rtsOp) execute(as *AddressSpace) error {
	v, err := as.pop32()
	if err != nil {
		return err
	}

	as.regs.PC = v

	return nil
}

// branchOp implements BRA, BSR, and the 14 Bcc. target is the destination
// Decode already resolved from the sign-extended displacement, relative to
// the address of the extension word(s).
type branchOp struct {
	cond     uint8
	isBSR    bool
	target   uint32
}

func (op branchOp) execute(as *AddressSpace) error {
	if op.isBSR {
		if err := as.push32(as.regs.PC); err != nil {
			return err
		}

		as.regs.PC = op.target

		return nil
	}

	if condTrue(op.cond, &as.regs) {
		as.regs.PC = op.target
	}

	return nil
}

// trapOp dispatches the A-line opcode range 0xA000-0xAFFF, per this
// runtime's convention that the entire range is reserved for trap numbers
// (IR & 0x0FFF) rather than the real 68000's separate TRAP #n instruction.
type trapOp struct {
	num uint16
}

func (op trapOp) execute(as *AddressSpace) error {
	handled, err := as.traps.Invoke(op.num, as)
	if err != nil {
		return as.fault(err)
	}

	if !handled {
		as.log.Warn("unregistered trap, ignoring", "num", op.num, "pc", as.regs.PC)
		return nil
	}

	return nil
}
