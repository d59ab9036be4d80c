// Package goerr defines the OSErr-style error taxonomy shared by every
// component of the runtime: the paged guest memory, the heap allocator, the
// CPU backends, and the segment loader all return errors that wrap one of
// these sentinels, so a caller can use errors.Is regardless of which
// subsystem raised it.
package goerr

import "errors"

// Sentinel error kinds. Each corresponds to one of the OSErr variants in the
// error handling design: invalid parameters, resource exhaustion, malformed
// input, or a guest-observable fault.
var (
	ErrParam              = errors.New("param error")
	ErrOutOfMemory        = errors.New("out of memory")
	ErrNotFound           = errors.New("not found")
	ErrBadFormat          = errors.New("bad format")
	ErrA5World            = errors.New("a5 world error")
	ErrJumpTable          = errors.New("jump table error")
	ErrReloc              = errors.New("relocation error")
	ErrAddress            = errors.New("address error")
	ErrIllegalInstruction = errors.New("illegal instruction")
	ErrTrap               = errors.New("trap error")
	ErrBus                = errors.New("bus error")
)

// AddressError reports a misaligned guest memory access (an out-of-range or
// unmapped access is a BusError). It
// carries the offending program counter and address so the serial log sink
// can report enough context to find the guest program point.
type AddressError struct {
	PC   uint32
	Addr uint32
}

func (e *AddressError) Error() string {
	return "address error: pc=" + hex32(e.PC) + " addr=" + hex32(e.Addr)
}

func (e *AddressError) Unwrap() error { return ErrAddress }

// BusError reports a read from an unmapped guest region.
type BusError struct {
	PC   uint32
	Addr uint32
}

func (e *BusError) Error() string {
	return "bus error: pc=" + hex32(e.PC) + " addr=" + hex32(e.Addr)
}

func (e *BusError) Unwrap() error { return ErrBus }

// IllegalInstructionError reports an unimplemented or reserved opcode.
type IllegalInstructionError struct {
	PC   uint32
	Word uint32
}

func (e *IllegalInstructionError) Error() string {
	return "illegal instruction: pc=" + hex32(e.PC) + " word=" + hex32(e.Word)
}

func (e *IllegalInstructionError) Unwrap() error { return ErrIllegalInstruction }

// TrapError reports a trap handler that returned a non-nil error, which
// halts the interpreter per the error handling design.
type TrapError struct {
	Num uint16
	Err error
}

func (e *TrapError) Error() string {
	return "trap error: num=" + hex16(uint16(e.Num)) + ": " + e.Err.Error()
}

func (e *TrapError) Unwrap() []error { return []error{ErrTrap, e.Err} }

// RelocError reports a relocation that would write out of segment bounds or
// violate alignment.
type RelocError struct {
	Offset uint32
	Kind   string
	Reason string
}

func (e *RelocError) Error() string {
	return "reloc error: offset=" + hex32(e.Offset) + " kind=" + e.Kind + ": " + e.Reason
}

func (e *RelocError) Unwrap() error { return ErrReloc }

// A5WorldError reports a violated A5-world construction invariant.
type A5WorldError struct {
	Reason string
}

func (e *A5WorldError) Error() string { return "a5 world error: " + e.Reason }

func (e *A5WorldError) Unwrap() error { return ErrA5World }

// JTError reports an unrecognized jump-table slot pattern or an out of range
// index.
type JTError struct {
	SlotAddr uint32
	Reason   string
}

func (e *JTError) Error() string {
	return "jt error: slot=" + hex32(e.SlotAddr) + ": " + e.Reason
}

func (e *JTError) Unwrap() error { return ErrJumpTable }

func hex32(v uint32) string {
	const digits = "0123456789abcdef"
	b := make([]byte, 10)
	b[0], b[1] = '0', 'x'

	for i := 0; i < 8; i++ {
		b[9-i] = digits[(v>>(4*i))&0xf]
	}

	return string(b)
}

func hex16(v uint16) string {
	const digits = "0123456789abcdef"
	b := make([]byte, 6)
	b[0], b[1] = '0', 'x'

	for i := 0; i < 4; i++ {
		b[5-i] = digits[(v>>(4*i))&0xf]
	}

	return string(b)
}
