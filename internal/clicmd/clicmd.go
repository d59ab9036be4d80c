// Package clicmd wires the macboot development harness's subcommands
// (run, regs, disasm, trace) as cobra commands, the way moby-moby builds
// its own CLI surface rather than a hand-rolled flag.FlagSet dispatcher.
package clicmd

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/macboot/runtime/internal/logctx"
	"github.com/macboot/runtime/internal/resource"
	"github.com/macboot/runtime/internal/segload"
)

// NewRootCommand builds the macboot root command and attaches every
// subcommand this package defines.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "macboot",
		Short:         "development harness for the System 7.1-compatible segment-loader runtime",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newRegsCommand())
	root.AddCommand(newDisasmCommand())
	root.AddCommand(newTraceCommand())

	return root
}

// commonFlags are the --backend/--resource/--entry-segment flags every subcommand
// that boots a segment loader shares.
type commonFlags struct {
	backend  string
	resource string
	entry    int16
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.backend, "backend", "m68k_interp", "registered CPU backend (m68k_interp, ppc_interp)")
	cmd.Flags().StringVar(&f.resource, "resource", "", "path to a resource image file (see loadResourceFile)")
	cmd.Flags().Int16Var(&f.entry, "entry-segment", 1, "segment ID whose entry point to enter_at after boot")
}

// bootLoader loads f.resource, constructs a segment loader against f.backend,
// installs the _LoadSeg trap, and runs the entry-segments launch sequence.
// The caller still owns calling EnterAt on the returned segment's entry.
func bootLoader(f commonFlags) (*segload.Loader, segload.Segment, error) {
	log.Debug("booting", "resource", f.resource, "backend", f.backend, "entry_segment", f.entry)

	store, err := loadResourceFile(f.resource)
	if err != nil {
		return nil, segload.Segment{}, fmt.Errorf("load resource file: %w", err)
	}

	loader, err := segload.NewLoader(f.backend, store)
	if err != nil {
		return nil, segload.Segment{}, fmt.Errorf("new loader: %w", err)
	}

	if err := loader.EnsureEntrySegmentsLoaded(); err != nil {
		return nil, segload.Segment{}, fmt.Errorf("ensure entry segments loaded: %w", err)
	}

	loader.InstallLoadSegTrap()

	seg, ok := loader.Segment(f.entry)
	if !ok {
		return nil, segload.Segment{}, fmt.Errorf("entry segment %d not loaded", f.entry)
	}

	return loader, seg, nil
}

// loadResourceFile reads a resource image: one "TYPE ID HEXBYTES" record per
// line (TYPE a four-character resource type such as CODE, ID a signed
// decimal, HEXBYTES the resource's raw bytes hex-encoded), a text+hex
// record shape generalized from internal/encoding's Intel-Hex-style object
// code files to CODE resources' {type, id, blob} keying instead of
// addressed words. Blank lines and lines starting with '#' are ignored.
func loadResourceFile(path string) (*resource.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	store := resource.NewStore()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("resource file %s:%d: want 3 fields, got %d", path, lineNo, len(fields))
		}

		if len(fields[0]) != 4 {
			return nil, fmt.Errorf("resource file %s:%d: resource type %q is not 4 characters", path, lineNo, fields[0])
		}

		var typ uint32
		for _, c := range []byte(fields[0]) {
			typ = typ<<8 | uint32(c)
		}

		id, err := strconv.ParseInt(fields[1], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("resource file %s:%d: bad id %q: %w", path, lineNo, fields[1], err)
		}

		data, err := hex.DecodeString(fields[2])
		if err != nil {
			return nil, fmt.Errorf("resource file %s:%d: bad hex data: %w", path, lineNo, err)
		}

		store.Put(resource.Type(typ), resource.ID(id), data)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return store, nil
}

var log = logctx.Module("clicmd")
