// Package ppc implements the cpubackend.Backend trait for a 32-bit
// PowerPC core: general and floating-point register files, CR/XER/SPR
// state, primary/extended opcode dispatch, and sc-based trap dispatch.
package ppc

// CR field bit meanings within each 4-bit CR field (LT, GT, EQ, SO).
const (
	crLT uint32 = 1 << 3
	crGT uint32 = 1 << 2
	crEQ uint32 = 1 << 1
	crSO uint32 = 1 << 0
)

// XER bits.
const (
	xerSO uint32 = 1 << 31
	xerOV uint32 = 1 << 30
	xerCA uint32 = 1 << 29
)

// Registers is the PowerPC register file: 32 GPRs, 32 FPRs, CR (8
// 4-bit fields packed big-endian, field 0 in the high nibble), XER,
// LR, CTR, a reduced SPR map, and the reservation flag used by
// lwarx/stwcx.
type Registers struct {
	GPR [32]uint32
	FPR [32]float64

	CR  uint32
	XER uint32
	LR  uint32
	CTR uint32
	PC  uint32

	MSR uint32

	reserveValid bool
	reserveAddr  uint32
}

// CRField returns the 4-bit value of CR field n (0 = cr0, highest bits).
func (r *Registers) CRField(n uint8) uint32 {
	shift := uint(28 - 4*n)
	return (r.CR >> shift) & 0xF
}

// SetCRField overwrites CR field n with the low 4 bits of value.
func (r *Registers) SetCRField(n uint8, value uint32) {
	shift := uint(28 - 4*n)
	mask := uint32(0xF) << shift
	r.CR = (r.CR &^ mask) | ((value & 0xF) << shift)
}

// setCR0 sets cr0 (LT/GT/EQ from a signed compare against zero, SO from
// the current XER summary overflow) per the standard "Rc=1" convention.
func (r *Registers) setCR0(result uint32) {
	var field uint32

	switch {
	case int32(result) < 0:
		field |= crLT
	case int32(result) > 0:
		field |= crGT
	default:
		field |= crEQ
	}

	if r.XER&xerSO != 0 {
		field |= crSO
	}

	r.SetCRField(0, field)
}

// compareField sets a CR field (cr0 for cmpw, caller-specified for cmp) from
// a signed or unsigned comparison of a against b.
func (r *Registers) compareField(n uint8, a, b uint32, signed bool) {
	var field uint32

	var lt, gt bool

	if signed {
		lt, gt = int32(a) < int32(b), int32(a) > int32(b)
	} else {
		lt, gt = a < b, a > b
	}

	switch {
	case lt:
		field |= crLT
	case gt:
		field |= crGT
	default:
		field |= crEQ
	}

	if r.XER&xerSO != 0 {
		field |= crSO
	}

	r.SetCRField(n, field)
}
