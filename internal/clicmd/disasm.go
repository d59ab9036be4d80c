package clicmd

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/macboot/runtime/internal/codeparser"
	"github.com/macboot/runtime/internal/resource"
)

// newDisasmCommand builds "macboot disasm": parse one CODE N resource and
// print a best-effort instruction listing without executing anything,
// recognizing only the handful of opcode shapes this runtime's backends
// themselves produce or consume (jump-table slots, traps, RTS/blr).
func newDisasmCommand() *cobra.Command {
	var (
		resourcePath string
		id           int16
		isa          string
	)

	cmd := &cobra.Command{
		Use:   "disasm",
		Short: "best-effort instruction listing for one CODE N resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadResourceFile(resourcePath)
			if err != nil {
				return err
			}

			handle, err := store.GetResource(resource.CODE, resource.ID(id))
			if err != nil {
				return err
			}
			defer handle.Release()

			data, err := handle.Data()
			if err != nil {
				return err
			}

			info, err := codeparser.ParseCodeN(data)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "entry_offset=%#x flags=%#x has_prologue=%v\n", info.EntryOffset, info.Flags, info.HasPrologue)

			switch isa {
			case "ppc":
				disasmPPC(out, info.Body)
			default:
				disasm68K(out, info.Body)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&resourcePath, "resource", "", "path to a resource image file")
	cmd.Flags().Int16Var(&id, "id", 1, "CODE resource id to disassemble")
	cmd.Flags().StringVar(&isa, "isa", "m68k", "instruction shape to recognize: m68k or ppc")

	return cmd
}

func disasm68K(out io.Writer, body []byte) {
	for off := 0; off+2 <= len(body); off += 2 {
		word := binary.BigEndian.Uint16(body[off:])

		var mnem string

		switch {
		case word == 0x4E75:
			mnem = "rts"
		case word == 0x4EF9:
			mnem = "jmp abs.l"
			off += 4
		case word == 0x4EB9:
			mnem = "jsr abs.l"
			off += 4
		case word == 0x3F3C:
			mnem = "move.w #imm,-(sp)"
			off += 2
		case word&0xFFF0 == 0xA9F0:
			mnem = "trap _loadseg"
		case word&0xF000 == 0xA000:
			mnem = fmt.Sprintf("trap %#x", word&0x0FFF)
		default:
			mnem = fmt.Sprintf(".word %#04x", word)
		}

		fmt.Fprintf(out, "  %04x: %s\n", off, mnem)
	}
}

func disasmPPC(out io.Writer, body []byte) {
	for off := 0; off+4 <= len(body); off += 4 {
		word := binary.BigEndian.Uint32(body[off:])

		var mnem string

		switch {
		case word == 0x4E800020:
			mnem = "blr"
		case word>>26 == 17:
			mnem = "sc"
		case word>>26 == 14:
			rd := word >> 21 & 0x1F
			imm := int16(word & 0xFFFF)
			mnem = fmt.Sprintf("li r%d, %d", rd, imm)
		case word>>26 == 15:
			rd := word >> 21 & 0x1F
			mnem = fmt.Sprintf("lis r%d, %#x", rd, word&0xFFFF)
		case word>>26 == 24:
			rd, ra := word>>21&0x1F, word>>16&0x1F
			mnem = fmt.Sprintf("ori r%d, r%d, %#x", rd, ra, word&0xFFFF)
		default:
			mnem = fmt.Sprintf(".long %#08x", word)
		}

		fmt.Fprintf(out, "  %04x: %s\n", off, mnem)
	}
}
