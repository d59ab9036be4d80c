package ppc

import "github.com/macboot/runtime/internal/goerr"

type operation interface {
	execute(as *AddressSpace) error
}

// signExtend16/26 sign-extend the low n bits of v to 32 bits.
func signExtend16(v uint32) uint32 { return uint32(int32(int16(v))) }
func signExtend26(v uint32) uint32 {
	if v&0x02000000 != 0 {
		return v | 0xFC000000
	}

	return v
}

type addiOp struct {
	rt, ra byte
	simm   uint32
	isAA   bool // addis: simm<<16 instead of sign-extended simm
}

func (op addiOp) execute(as *AddressSpace) error {
	var base uint32
	if op.ra != 0 {
		base = as.regs.GPR[op.ra]
	}

	imm := op.simm
	if op.isAA {
		imm <<= 16
	}

	as.regs.GPR[op.rt] = base + imm

	return nil
}

type threeRegOp struct {
	rt, ra, rb byte
	rc         bool
	fn         func(a, b uint32, x *Registers) uint32
}

func (op threeRegOp) execute(as *AddressSpace) error {
	result := op.fn(as.regs.GPR[op.ra], as.regs.GPR[op.rb], &as.regs)
	as.regs.GPR[op.rt] = result

	if op.rc {
		as.regs.setCR0(result)
	}

	return nil
}

type cmpOp struct {
	field  uint8
	signed bool
	ra     byte
	bIsImm bool
	bImm   uint32
	rb     byte
}

func (op cmpOp) execute(as *AddressSpace) error {
	b := op.bImm
	if !op.bIsImm {
		b = as.regs.GPR[op.rb]
	}

	as.regs.compareField(op.field, as.regs.GPR[op.ra], b, op.signed)

	return nil
}

// loadOp/storeOp implement the fixed-width byte/half/word memory ops with
// d(rA) addressing. Loads are zero-extending only (lbz/lhz/lwz); there is
// no sign-extending (lha family) form.
type loadOp struct {
	rt, ra byte
	disp   uint32
	size   uint8
}

func (op loadOp) execute(as *AddressSpace) error {
	addr := op.disp
	if op.ra != 0 {
		addr += as.regs.GPR[op.ra]
	}

	switch op.size {
	case 1:
		v, err := as.mem.ReadU8(addr)
		if err != nil {
			return err
		}

		as.regs.GPR[op.rt] = uint32(v)
	case 2:
		v, err := as.mem.ReadU16(addr)
		if err != nil {
			return err
		}

		as.regs.GPR[op.rt] = uint32(v)
	default:
		v, err := as.mem.ReadU32(addr)
		if err != nil {
			return err
		}

		as.regs.GPR[op.rt] = v
	}

	return nil
}

type storeOp struct {
	rs, ra byte
	disp   uint32
	size   uint8
}

func (op storeOp) execute(as *AddressSpace) error {
	addr := op.disp
	if op.ra != 0 {
		addr += as.regs.GPR[op.ra]
	}

	v := as.regs.GPR[op.rs]

	switch op.size {
	case 1:
		return as.mem.WriteU8(addr, uint8(v))
	case 2:
		return as.mem.WriteU16(addr, uint16(v))
	default:
		return as.mem.WriteU32(addr, v)
	}
}

// branchOp implements b/ba/bl/bla (unconditional) and bc family,
// including the blr/bctr special forms (via viaLR/viaCTR).
type branchOp struct {
	link       bool
	absolute   bool
	target     uint32
	viaLR      bool
	viaCTR     bool
	conditional bool
	bo, bi     uint8
}

func (op branchOp) execute(as *AddressSpace) error {
	taken := true

	if op.conditional {
		ctrOK := true
		if op.bo&0x04 == 0 && !op.viaCTR { // bcctr never decrements CTR
			as.regs.CTR--
			ctrOK = (as.regs.CTR == 0) == (op.bo&0x02 != 0)
		}

		condOK := true
		if op.bo&0x10 == 0 { // branch if CR bit matches bo's test bit
			bit := as.regs.CR&(1<<uint(31-op.bi)) != 0
			condOK = bit == (op.bo&0x08 != 0)
		}

		taken = ctrOK && condOK
	}

	nextPC := as.regs.PC // already advanced past this instruction

	if op.link {
		as.regs.LR = nextPC
	}

	if !taken {
		return nil
	}

	switch {
	case op.viaLR:
		as.regs.PC = as.regs.LR &^ 0x3
	case op.viaCTR:
		as.regs.PC = as.regs.CTR &^ 0x3
	default:
		as.regs.PC = op.target
	}

	return nil
}

// lwarxOp/stwcxOp model the reservation in a trivially-always-succeeding
// way appropriate for a single-threaded interpreter: lwarx sets a
// reservation flag, stwcx. always succeeds, clears the flag, and sets
// cr0[EQ].
type lwarxOp struct {
	rt, ra, rb byte
}

func (op lwarxOp) execute(as *AddressSpace) error {
	addr := as.regs.GPR[op.rb]
	if op.ra != 0 {
		addr += as.regs.GPR[op.ra]
	}

	v, err := as.mem.ReadU32(addr)
	if err != nil {
		return err
	}

	as.regs.GPR[op.rt] = v
	as.regs.reserveValid = true
	as.regs.reserveAddr = addr

	return nil
}

type stwcxOp struct {
	rs, ra, rb byte
}

func (op stwcxOp) execute(as *AddressSpace) error {
	addr := as.regs.GPR[op.rb]
	if op.ra != 0 {
		addr += as.regs.GPR[op.ra]
	}

	ok := true // the reservation always succeeds in this single-threaded model
	as.regs.reserveValid = false

	field := uint32(0)
	if ok {
		field |= crEQ

		if err := as.mem.WriteU32(addr, as.regs.GPR[op.rs]); err != nil {
			return err
		}
	}

	if as.regs.XER&xerSO != 0 {
		field |= crSO
	}

	as.regs.SetCRField(0, field)

	return nil
}

// nopOp backs the cache/ordering instructions (sync, isync, dcbf, dcbst,
// icbi, eieio) which this interpreter treats as no-ops since it has no
// cache or memory-ordering model.
type nopOp struct{}

func (nopOp) execute(*AddressSpace) error { return nil }

// mfsprOp/mtsprOp expose a small set of SPRs: LR(8), CTR(9), and the
// read-only TBL(268)/TBU(269)/PVR(287)/DEC(22) registers.
type mfsprOp struct {
	rt  byte
	spr uint16
}

func (op mfsprOp) execute(as *AddressSpace) error {
	switch op.spr {
	case 8:
		as.regs.GPR[op.rt] = as.regs.LR
	case 9:
		as.regs.GPR[op.rt] = as.regs.CTR
	case 1:
		as.regs.GPR[op.rt] = as.regs.XER
	case 268: // TBL: low 32 bits of the host tick source
		as.regs.GPR[op.rt] = uint32(as.tbr)
	case 269: // TBU: high 32 bits of the host tick source
		as.regs.GPR[op.rt] = uint32(as.tbr >> 32)
	case 22: // DEC
		as.regs.GPR[op.rt] = 0
	case 287: // PVR: a PowerPC 603 identifier
		as.regs.GPR[op.rt] = 0x00030000
	default:
		return as.fault(&goerr.IllegalInstructionError{PC: as.regs.PC})
	}

	return nil
}

type mtsprOp struct {
	rs  byte
	spr uint16
}

func (op mtsprOp) execute(as *AddressSpace) error {
	switch op.spr {
	case 8:
		as.regs.LR = as.regs.GPR[op.rs]
	case 9:
		as.regs.CTR = as.regs.GPR[op.rs]
	case 1:
		as.regs.XER = as.regs.GPR[op.rs]
	default:
		return as.fault(&goerr.IllegalInstructionError{PC: as.regs.PC})
	}

	return nil
}

// scOp dispatches a trap selected by R0, following the standard PowerPC
// syscall ABI convention (R0 = selector, R3.. = arguments) so that a trap's
// argument registers, notably _LoadSeg's segment ID in R3, are free of the
// dispatch key.
type scOp struct{}

func (scOp) execute(as *AddressSpace) error {
	num := uint16(as.regs.GPR[0])

	handled, err := as.traps.Invoke(num, as)
	if err != nil {
		return as.fault(err)
	}

	if !handled {
		return as.fault(&goerr.TrapError{Num: uint16(num), Err: goerr.ErrNotFound})
	}

	return nil
}
