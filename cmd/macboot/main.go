// macboot is the development harness for the System 7.1-compatible
// segment-loader runtime: run/regs/disasm/trace subcommands over a
// hand-built resource image and a chosen CPU backend.
package main

import (
	"os"

	"github.com/macboot/runtime/internal/clicmd"
)

func main() {
	if err := clicmd.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
