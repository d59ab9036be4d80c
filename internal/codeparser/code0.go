// Package codeparser parses classic Mac CODE resources (component G): CODE 0,
// which carries A5-world layout and jump-table metadata, and CODE N, which
// carries one segment's executable bytes plus an optional linker prologue.
// It also runs the heuristic relocation scan a CPU backend's Relocate
// consumes.
package codeparser

import (
	"encoding/binary"
	"fmt"

	"github.com/macboot/runtime/internal/goerr"
)

const (
	code0HeaderSize = 16
	jtEntrySize     = 8

	// maxA5Size is the sanity guard on above/below-A5 sizes: 1 MiB each.
	maxA5Size = 1 << 20
)

// JTEntry is one 8-byte jump-table entry as laid out in a CODE 0 resource:
// an offset (unused by this parser beyond preserving it), the raw
// instruction word found there, and its embedded target.
type JTEntry struct {
	Offset      uint16
	Instruction uint16
	Target      uint32
}

// CODE0Info is the parsed A5-world metadata from a CODE 0 resource.
type CODE0Info struct {
	AboveA5Size    uint32
	BelowA5Size    uint32
	JTSize         uint32
	JTOffsetFromA5 uint32
	JTEntries      []JTEntry
}

// JTCount is jt_size / 8, the number of jump-table slots this segment's A5
// world provides.
func (c CODE0Info) JTCount() int { return int(c.JTSize / jtEntrySize) }

// ParseCode0 parses a CODE 0 resource body: a 16-byte BE header followed by
// jt_size bytes of 8-byte jump-table entries.
//
//	offset  size  field
//	  0      4    above_a5_size
//	  4      4    below_a5_size
//	  8      4    jt_size
//	 12      4    jt_offset_from_a5
//	 16   jt_size  jt_entries ({u16 off, u16 ins, u32 target} each)
func ParseCode0(data []byte) (CODE0Info, error) {
	if len(data) < code0HeaderSize {
		return CODE0Info{}, fmt.Errorf("%w: code0 header too small: %d bytes", goerr.ErrBadFormat, len(data))
	}

	info := CODE0Info{
		AboveA5Size:    binary.BigEndian.Uint32(data[0:4]),
		BelowA5Size:    binary.BigEndian.Uint32(data[4:8]),
		JTSize:         binary.BigEndian.Uint32(data[8:12]),
		JTOffsetFromA5: binary.BigEndian.Uint32(data[12:16]),
	}

	if info.AboveA5Size > maxA5Size || info.BelowA5Size > maxA5Size {
		return CODE0Info{}, fmt.Errorf("%w: a5 region too large: above=%d below=%d", goerr.ErrBadFormat, info.AboveA5Size, info.BelowA5Size)
	}

	if uint64(code0HeaderSize)+uint64(info.JTSize) > uint64(len(data)) {
		return CODE0Info{}, fmt.Errorf("%w: jump table overruns resource: jt_size=%d resource_size=%d", goerr.ErrBadFormat, info.JTSize, len(data))
	}

	if info.JTSize > info.AboveA5Size {
		return CODE0Info{}, fmt.Errorf("%w: jt_size %d exceeds above_a5_size %d", goerr.ErrBadFormat, info.JTSize, info.AboveA5Size)
	}

	if info.JTSize%jtEntrySize != 0 {
		return CODE0Info{}, fmt.Errorf("%w: jt_size %d not a multiple of %d", goerr.ErrBadFormat, info.JTSize, jtEntrySize)
	}

	count := info.JTCount()
	info.JTEntries = make([]JTEntry, count)

	for i := 0; i < count; i++ {
		base := code0HeaderSize + i*jtEntrySize
		info.JTEntries[i] = JTEntry{
			Offset:      binary.BigEndian.Uint16(data[base : base+2]),
			Instruction: binary.BigEndian.Uint16(data[base+2 : base+4]),
			Target:      binary.BigEndian.Uint32(data[base+4 : base+8]),
		}
	}

	return info, nil
}
