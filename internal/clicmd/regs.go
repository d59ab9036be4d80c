package clicmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/macboot/runtime/internal/cpubackend"
	"github.com/macboot/runtime/internal/m68k"
	"github.com/macboot/runtime/internal/ppc"
)

// newRegsCommand builds "macboot regs": run the entry segment to
// completion or fault, then dump the backend's register file.
func newRegsCommand() *cobra.Command {
	var f commonFlags

	cmd := &cobra.Command{
		Use:   "regs",
		Short: "run a CODE resource fork and dump the resulting register file",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, seg, err := bootLoader(f)
			if err != nil {
				return err
			}
			defer loader.Cleanup()

			backend := loader.Backend()
			as := loader.AddressSpace()

			runErr := backend.EnterAt(as, seg.EntryAddr, 0)

			fmt.Fprint(cmd.OutOrStdout(), formatRegisters(as))

			return runErr
		},
	}

	f.register(cmd)

	return cmd
}

// formatRegisters prints a backend's register file. clicmd is the one
// place allowed to know about concrete backend types — segload and
// cpubackend stay backend-agnostic.
func formatRegisters(as cpubackend.AddressSpace) string {
	switch as := as.(type) {
	case *m68k.AddressSpace:
		r := as.Regs()

		s := fmt.Sprintf("PC=%#08x SR=%#04x USP=%#08x SSP=%#08x\n", r.PC, r.SR, r.USP, r.SSP)
		for i, d := range r.D {
			s += fmt.Sprintf("D%d=%#08x ", i, d)
		}
		s += "\n"
		for i, a := range r.A {
			s += fmt.Sprintf("A%d=%#08x ", i, a)
		}
		s += "\n"

		return s
	case *ppc.AddressSpace:
		r := as.Regs()

		s := fmt.Sprintf("PC=%#08x CR=%#08x XER=%#08x LR=%#08x CTR=%#08x MSR=%#08x\n",
			r.PC, r.CR, r.XER, r.LR, r.CTR, r.MSR)
		for i, g := range r.GPR {
			s += fmt.Sprintf("R%d=%#08x ", i, g)
			if i%8 == 7 {
				s += "\n"
			}
		}

		return s
	default:
		return fmt.Sprintf("regs: unrecognized address space type %T\n", as)
	}
}
