// Package lmglobals implements the Low-Memory Globals catalog (component I):
// a fixed set of named byte addresses in the low 4 KiB of guest memory, BE
// accessors through Paged Guest Memory, and the ~60 Hz tick source.
package lmglobals

import (
	"log/slog"

	"github.com/macboot/runtime/internal/guestmem"
	"github.com/macboot/runtime/internal/logctx"
)

// Named low-memory global addresses, the subset named in the external
// interfaces design. Each region begins at the address and occupies the
// width implied by its accessor below.
const (
	MemTop    uint32 = 0x0108 // u32: top of available RAM
	SysZone   uint32 = 0x02A6 // u32: system heap zone pointer
	ApplZone  uint32 = 0x02AA // u32: application heap zone pointer
	Ticks     uint32 = 0x016A // u32: ~60 Hz tick counter since boot
	CurrentA5 uint32 = 0x0904 // u32: the running application's A5 value
	ThePort   uint32 = 0x0A86 // u32: current QuickDraw GrafPort pointer
)

// lowMemLimit is the exclusive upper bound of the low-memory region this
// package knows the layout of; any access at or above it is out of range.
const lowMemLimit = 0x1000

// Globals is an accessor bound to one guest address space's low-memory
// region.
type Globals struct {
	mem *guestmem.Space
	log *slog.Logger
}

// New binds a Globals accessor to mem.
func New(mem *guestmem.Space) *Globals {
	return &Globals{mem: mem, log: logctx.Module("lmglobals")}
}

// GetU8/GetU16/GetU32 read a low-memory global. An out-of-range address
// returns 0 and logs a warning rather than an error, per the design's
// "out-of-range reads return 0" rule — low-memory reads are not a guest-
// observable fault path.
func (g *Globals) GetU8(addr uint32) uint8 {
	if addr >= lowMemLimit {
		g.outOfRange("read", addr)
		return 0
	}

	v, err := g.mem.ReadU8(addr)
	if err != nil {
		return 0
	}

	return v
}

func (g *Globals) GetU16(addr uint32) uint16 {
	if addr >= lowMemLimit {
		g.outOfRange("read", addr)
		return 0
	}

	v, err := g.mem.ReadU16(addr)
	if err != nil {
		return 0
	}

	return v
}

func (g *Globals) GetU32(addr uint32) uint32 {
	if addr >= lowMemLimit {
		g.outOfRange("read", addr)
		return 0
	}

	v, err := g.mem.ReadU32(addr)
	if err != nil {
		return 0
	}

	return v
}

// SetU8/SetU16/SetU32 write a low-memory global. A write to an out-of-range
// address is dropped and logged as a warning.
func (g *Globals) SetU8(addr uint32, v uint8) {
	if addr >= lowMemLimit {
		g.outOfRange("write", addr)
		return
	}

	_ = g.mem.WriteU8(addr, v)
}

func (g *Globals) SetU16(addr uint32, v uint16) {
	if addr >= lowMemLimit {
		g.outOfRange("write", addr)
		return
	}

	_ = g.mem.WriteU16(addr, v)
}

func (g *Globals) SetU32(addr uint32, v uint32) {
	if addr >= lowMemLimit {
		g.outOfRange("write", addr)
		return
	}

	_ = g.mem.WriteU32(addr, v)
}

func (g *Globals) outOfRange(op string, addr uint32) {
	g.log.Warn("low-memory global out of range", "op", op, "addr", addr)
}

// IncrementTicks reads Ticks, adds one, and writes it back. It is the
// realization of the host timer's os_utils_increment_ticks() callback,
// invoked at approximately 60 Hz by whatever drives the guest's clock.
func (g *Globals) IncrementTicks() uint32 {
	v := g.GetU32(Ticks) + 1
	g.SetU32(Ticks, v)

	if v%300 == 0 { // rate-limited: once every ~5 simulated seconds at 60 Hz
		g.log.Debug("tick", "ticks", v)
	}

	return v
}
