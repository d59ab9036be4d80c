// Package cpubackend defines the ISA-neutral CPU backend trait (component D
// of the runtime): the operations a CPU interpreter must implement to serve
// as a target for the segment loader, independent of whether the concrete
// implementation is the 68K or the PowerPC interpreter.
package cpubackend

import "github.com/macboot/runtime/internal/guestmem"

// Flags describe a mapped or allocated guest memory region.
type Flags uint8

const (
	Executable Flags = 1 << iota
	Locked
	Purgeable
	A5World
)

// Has reports whether all bits of want are set in f.
func (f Flags) Has(want Flags) bool { return f&want == want }

// CodeHandle identifies a contiguous region of guest memory into which a
// CODE resource body has been copied by MapExecutable.
type CodeHandle struct {
	GuestBase           uint32
	Size                uint32
	HostPageFirstOffset uint32
	SegIndex            int16
}

// AddressSpace is the opaque, per-process state owned exclusively by one
// CPU backend instance: a page table, a register file, a trap table, and
// the bookkeeping needed to service lazy loads and relocations. Concrete
// backends (internal/m68k, internal/ppc) embed a *guestmem.Space and a
// *TrapTable and satisfy this interface; callers never see the concrete
// type.
type AddressSpace interface {
	// Memory returns the paged guest address space backing this process.
	Memory() *guestmem.Space

	// Traps returns the per-address-space trap table.
	Traps() *TrapTable

	// Halted reports whether the interpreter stopped on a fault or a
	// trap handler request.
	Halted() bool
	SetHalted(bool)

	// LastException is the error that halted the interpreter, if any.
	LastException() error
	SetLastException(error)
}

// TrapHandler services a guest trap or syscall. It observes and may mutate
// the address space (registers, memory, PC) through backend-specific
// accessors reached via ctx; a non-nil return halts the calling enter_at.
type TrapHandler func(as AddressSpace, ctx any) error

// Backend is the trait implemented by each CPU interpreter. A registry
// (see Register/Get/Default) maps names ("m68k_interp", "ppc_interp") to
// implementations.
type Backend interface {
	// Name identifies this backend in the registry.
	Name() string

	// CreateAddressSpace allocates a fresh, zeroed address space.
	CreateAddressSpace() AddressSpace

	// DestroyAddressSpace frees all pages and the address space itself.
	// Must not be called twice on the same AddressSpace.
	DestroyAddressSpace(AddressSpace)

	// MapExecutable copies bytes into guest memory at a bump-allocated,
	// 16-byte-aligned base, returning a handle and that base address.
	MapExecutable(as AddressSpace, bytes []byte, flags Flags) (CodeHandle, uint32, error)

	// UnmapExecutable drops the handle's bookkeeping; the underlying
	// memory is not reclaimed.
	UnmapExecutable(as AddressSpace, handle CodeHandle)

	// SetRegisterA5 sets the per-ISA globals-addressing register (A5 on
	// 68K, R13/SDA base on PPC).
	SetRegisterA5(as AddressSpace, value uint32)

	// SetStacks sets the user and supervisor stack pointers. PPC ignores
	// ssp.
	SetStacks(as AddressSpace, usp, ssp uint32)

	// InstallTrap stores a handler and its context at trap number num
	// (the low 12 bits of an A-line word on 68K, of which the trap table
	// keys on the low byte; a small selector on PPC, passed via R0).
	InstallTrap(as AddressSpace, num uint16, handler TrapHandler, ctx any)

	// WriteJTSlot hot-patches a jump-table slot to a direct jump to
	// target.
	WriteJTSlot(as AddressSpace, slotAddr uint32, target uint32) error

	// MakeLazyJTStub writes a short instruction sequence at slotAddr
	// that, when executed, traps to _LoadSeg carrying segID; entryIdx is
	// not written to guest memory, and the 68K and PPC backends do not
	// record it.
	MakeLazyJTStub(as AddressSpace, slotAddr uint32, segID int16, entryIdx int) error

	// EnterAt sets PC = entry, clears halted, and runs the interpreter
	// loop until halted or an instruction budget is exhausted.
	EnterAt(as AddressSpace, entry uint32, flags Flags) error

	// Relocate applies each entry of table against the mapped code
	// region identified by handle.
	Relocate(as AddressSpace, handle CodeHandle, table []RelocEntry, segBase, jtBase, a5Base uint32) error

	// AllocateMemory bump-allocates size zeroed, 16-byte-aligned bytes in
	// guest space.
	AllocateMemory(as AddressSpace, size uint32, flags Flags) (uint32, error)

	// ReadMemory and WriteMemory perform byte-wise BE-safe copies
	// into/out of guest memory.
	ReadMemory(as AddressSpace, addr uint32, dst []byte) error
	WriteMemory(as AddressSpace, addr uint32, src []byte) error

	// LoadSegTrapNumber returns this backend's trap number for _LoadSeg
	// (the A-line word 0xA9F0 on 68K; a small sc selector on PPC), so a
	// caller can install the handler without knowing which ISA it is
	// talking to.
	LoadSegTrapNumber() uint16

	// ReadLoadSegSelector reads the _LoadSeg trap's segment-ID argument
	// (68K: popped off the guest stack; PPC: R3) and recovers the calling
	// jump-table slot's address from the current PC, following the ISA's
	// lazy-stub calling convention.
	ReadLoadSegSelector(as AddressSpace) (segID int16, slotAddr uint32, err error)
}
