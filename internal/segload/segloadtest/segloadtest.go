// Package segloadtest assembles small, hand-built CODE resource sets into
// an in-memory resource.Store and a bound segload.Loader, the in-process
// stand-in for a real resource-fork boot described by the external
// interfaces design's TestResource_Get.
package segloadtest

import (
	"encoding/binary"

	"github.com/macboot/runtime/internal/cpubackend"
	"github.com/macboot/runtime/internal/m68k"
	"github.com/macboot/runtime/internal/resource"
	"github.com/macboot/runtime/internal/segload"
)

// TraceTrapNumber is the custom trap CODE 2's body in TwoSegmentBoot
// executes (`TRAP $A800`).
const TraceTrapNumber = 0xA800

// stackTop is a guest address near the top of the 68K backend's address
// space, used as both USP and SSP for scenarios that run guest code far
// enough to push a return address.
const stackTop = m68k.MaxGuest - 0x100

// TwoSegmentBoot is the classic two-segment 68K boot scenario: CODE 0
// describes a single-slot jump table; CODE 1's entry point immediately
// lazy-loads CODE 2 by executing the same byte pattern as a lazy
// jump-table stub; CODE 2's body executes one custom trap the scenario
// watches for via TraceLog.
type TwoSegmentBoot struct {
	Store    *resource.Store
	Loader   *segload.Loader
	TraceLog []string
}

// NewTwoSegmentBoot assembles the scenario's CODE resources into a fresh
// store, initializes a segment loader bound to the 68K interpreter, sets up
// guest stacks, and installs the _LoadSeg trap plus the trace trap.
func NewTwoSegmentBoot() (*TwoSegmentBoot, error) {
	store := resource.NewStore()
	store.Put(resource.CODE, 0, code0Bytes())
	store.Put(resource.CODE, 1, code1Bytes())
	store.Put(resource.CODE, 2, code2Bytes())

	loader, err := segload.NewLoader(m68k.BackendName, store)
	if err != nil {
		return nil, err
	}

	boot := &TwoSegmentBoot{Store: store, Loader: loader}

	backend := loader.Backend()
	as := loader.AddressSpace()

	backend.SetStacks(as, stackTop, stackTop)
	loader.InstallLoadSegTrap()
	backend.InstallTrap(as, TraceTrapNumber, func(cpubackend.AddressSpace, any) error {
		boot.TraceLog = append(boot.TraceLog, "CODE 2 executed")
		return nil
	}, nil)

	return boot, nil
}

// code0Bytes is CODE 0: above/below A5 regions of 512 bytes each and a
// single 8-byte jump-table slot at A5, with a placeholder entry (overwritten
// by buildJumpTable regardless of its content).
func code0Bytes() []byte {
	buf := make([]byte, 16+8)
	binary.BigEndian.PutUint32(buf[0:4], 0x200) // above_a5_size
	binary.BigEndian.PutUint32(buf[4:8], 0x200) // below_a5_size
	binary.BigEndian.PutUint32(buf[8:12], 8)    // jt_size
	binary.BigEndian.PutUint32(buf[12:16], 0)   // jt_offset_from_a5
	copy(buf[16:24], []byte{0x4E, 0x4E, 0x4E, 0x4E, 0x4E, 0x4E, 0x4E, 0x4E})

	return buf
}

// code1Bytes is CODE 1: entry_offset 0, whose body is shaped exactly like a
// lazy jump-table stub pushing segment 2, so entering it directly loads
// CODE 2 on first call.
func code1Bytes() []byte {
	return []byte{
		0x00, 0x00, // entry_offset
		0x00, 0x00, // flags
		0x3F, 0x3C, 0x00, 0x02, // MOVE.W #2, -(SP)
		0xA9, 0xF0, // TRAP _LoadSeg
		0x4E, 0x75, // RTS
	}
}

// code2Bytes is CODE 2: entry_offset 0, body executes the scenario's trace
// trap then returns.
func code2Bytes() []byte {
	return []byte{
		0x00, 0x00, // entry_offset
		0x00, 0x00, // flags
		0xA8, 0x00, // TRAP $A800
		0x4E, 0x75, // RTS
	}
}
