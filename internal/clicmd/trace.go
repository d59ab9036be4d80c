package clicmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/macboot/runtime/internal/logctx"
)

// newTraceCommand builds "macboot trace": run like "run", but at debug log
// level, surfacing the segment loader's own a5-world/segment-load/_LoadSeg
// instrumentation (already emitted via logctx.Module("segload")) instead of
// adding a second, parallel tracing mechanism.
func newTraceCommand() *cobra.Command {
	var f commonFlags

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "run a CODE resource fork with segment-loader tracing at debug level",
		RunE: func(cmd *cobra.Command, args []string) error {
			prev := logctx.LogLevel.Level()
			logctx.LogLevel.Set(slog.LevelDebug)
			defer logctx.LogLevel.Set(prev)

			loader, seg, err := bootLoader(f)
			if err != nil {
				return err
			}
			defer loader.Cleanup()

			runErr := loader.Backend().EnterAt(loader.AddressSpace(), seg.EntryAddr, 0)

			fmt.Fprintf(cmd.OutOrStdout(), "trace complete, entry=%#x err=%v\n", seg.EntryAddr, runErr)

			return nil
		},
	}

	f.register(cmd)

	return cmd
}
