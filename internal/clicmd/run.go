package clicmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newRunCommand builds "macboot run": load a resource image, boot the
// entry segment through a chosen backend, enter_at its entry point, and
// report the outcome, generalized from the teacher's exec subcommand.
func newRunCommand() *cobra.Command {
	var f commonFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "load a CODE resource fork and execute it against a chosen backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, seg, err := bootLoader(f)
			if err != nil {
				return err
			}
			defer loader.Cleanup()

			backend := loader.Backend()
			as := loader.AddressSpace()

			runErr := backend.EnterAt(as, seg.EntryAddr, 0)

			if runErr != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "halted: %s\n", runErr)
				return runErr
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ran to instruction budget, entry=%#x\n", seg.EntryAddr)

			return nil
		},
	}

	f.register(cmd)

	return cmd
}
