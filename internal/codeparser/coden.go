package codeparser

import (
	"encoding/binary"
	"fmt"

	"github.com/macboot/runtime/internal/goerr"
)

const (
	codeNHeaderSize = 4
	prologueSize    = 6

	// loadSegTrap is the A-line word ending a linker prologue: MOVE.W
	// #segID,-(SP); _LoadSeg. Only the trailing word is fixed; the
	// segment ID in between is whatever the linker wrote.
	loadSegTrap = 0xA9F0
	moveToStack = 0x3F3C
)

// CodeNInfo is the parsed header of a CODE N (N >= 1) resource: the
// entry-point offset, the flags word, and the full body (everything past
// the 4-byte header) that gets mapped into guest memory as one unit.
//
// HasPrologue/PrologueSize report whether a linker stub
// (`0x3F3C ???? 0xA9F0`) was detected immediately after the header, for
// callers that want to log or special-case it, but the stub bytes are not
// stripped from Body: entry_offset is always relative to the full body, so
// a segment whose entire payload happens to look like a prologue (as in a
// hand-built test CODE resource) still runs starting at entry_offset.
type CodeNInfo struct {
	EntryOffset  uint16
	Flags        uint16
	HasPrologue  bool
	PrologueSize int
	Body         []byte
}

// EntryAddr returns the guest address execution begins at, given the base
// address Body was mapped to.
func (c CodeNInfo) EntryAddr(base uint32) uint32 {
	return base + uint32(c.EntryOffset)
}

// ParseCodeN parses a CODE N resource body: a 4-byte BE header followed by
// executable bytes, with an optional 6-byte linker prologue
// (`0x3F3C ???? 0xA9F0`) immediately after the header.
func ParseCodeN(data []byte) (CodeNInfo, error) {
	if len(data) < codeNHeaderSize {
		return CodeNInfo{}, fmt.Errorf("%w: codeN header too small: %d bytes", goerr.ErrBadFormat, len(data))
	}

	info := CodeNInfo{
		EntryOffset: binary.BigEndian.Uint16(data[0:2]),
		Flags:       binary.BigEndian.Uint16(data[2:4]),
		Body:        data[codeNHeaderSize:],
	}

	if len(info.Body) >= prologueSize &&
		binary.BigEndian.Uint16(info.Body[0:2]) == moveToStack &&
		binary.BigEndian.Uint16(info.Body[4:6]) == loadSegTrap {
		info.HasPrologue = true
		info.PrologueSize = prologueSize
	}

	return info, nil
}
