package codeparser

import (
	"encoding/binary"

	"github.com/macboot/runtime/internal/cpubackend"
)

const (
	opJmpAbsLong = 0x4EF9
	opJsrAbsLong = 0x4EB9

	// jtIndexGuess is the threshold below which a JMP/JSR abs.L operand
	// is assumed to be a jump-table offset rather than a segment-absolute
	// address. This is the documented heuristic: a real linker would emit
	// explicit relocation records instead.
	jtIndexGuess = 1 << 16
)

// ScanRelocations runs the heuristic linear scan described for the CODE
// parser: wherever a JMP abs.L (0x4EF9) or JSR abs.L (0x4EB9) opcode word is
// found, its 32-bit operand is classified as either a jump-table import (if
// under 64 KiB) or a segment-absolute reference (otherwise). The scan never
// looks inside an operand for a false-positive opcode word; it simply steps
// past each consumed instruction.
func ScanRelocations(code []byte) []cpubackend.RelocEntry {
	var table []cpubackend.RelocEntry

	for i := 0; i+6 <= len(code); {
		word := binary.BigEndian.Uint16(code[i : i+2])

		if word != opJmpAbsLong && word != opJsrAbsLong {
			i += 2
			continue
		}

		operand := binary.BigEndian.Uint32(code[i+2 : i+6])

		if operand < jtIndexGuess {
			table = append(table, cpubackend.RelocEntry{
				Kind:     cpubackend.JTImport,
				AtOffset: uint32(i + 2),
				JTIndex:  operand / 8,
			})
		} else {
			table = append(table, cpubackend.RelocEntry{
				Kind:     cpubackend.AbsSegBase,
				AtOffset: uint32(i + 2),
				Addend:   operand,
			})
		}

		i += 6
	}

	return table
}
