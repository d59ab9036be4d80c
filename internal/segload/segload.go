// Package segload implements the segment loader (component H): it parses
// classic Mac CODE resources via internal/codeparser, constructs the A5
// world, builds a lazy jump table, and loads code segments on demand into a
// cpubackend.AddressSpace, hot-patching jump-table slots as segments
// resolve.
package segload

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/macboot/runtime/internal/codeparser"
	"github.com/macboot/runtime/internal/cpubackend"
	"github.com/macboot/runtime/internal/goerr"
	"github.com/macboot/runtime/internal/logctx"
	"github.com/macboot/runtime/internal/resource"
)

// entriesPerSegment is the jump-table slot-to-segment mapping used by
// buildJumpTable: seg_id = (i/entriesPerSegment)+1. A production loader
// would instead consult linker-provided per-entry metadata; this is a
// documented simplification.
const entriesPerSegment = 16

// A5World is the constructed per-process globals/jump-table layout.
type A5World struct {
	BelowBase      uint32
	A5Base         uint32
	AboveBase      uint32
	JTBase         uint32
	JTOffsetFromA5 uint32
	JTSize         uint32
	JTCount        int
}

// Loader is the segment loader's per-process state: the bound CPU backend
// and address space, the constructed A5 world, the segment table, and the
// resource-fetch interface it loads CODE resources through.
type Loader struct {
	backend cpubackend.Backend
	as      cpubackend.AddressSpace

	a5World A5World

	segments map[int16]*Segment

	getter resource.Getter

	code0 codeparser.CODE0Info

	launchTime time.Time

	bootID string

	log *slog.Logger
}

// BootID returns the loader's boot correlation ID, a random identifier
// minted once in NewLoader and attached to every log line this Loader
// emits, so that lines from concurrently booted Loaders (as in a test suite
// that boots several in sequence) can be told apart in a shared log stream.
func (l *Loader) BootID() string { return l.bootID }

// NewLoader looks up backendName in the cpubackend registry, creates a
// fresh address space, and returns a Loader bound to getter for resource
// fetches. It does not itself load any segments; call
// EnsureEntrySegmentsLoaded for that.
func NewLoader(backendName string, getter resource.Getter) (*Loader, error) {
	b, ok := cpubackend.Get(backendName)
	if !ok {
		return nil, fmt.Errorf("%w: backend %q not registered", goerr.ErrParam, backendName)
	}

	bootID := uuid.NewString()

	return &Loader{
		backend:  b,
		as:       b.CreateAddressSpace(),
		segments: make(map[int16]*Segment),
		getter:   getter,
		bootID:   bootID,
		log:      logctx.Module("segload").With("boot_id", bootID),
	}, nil
}

// AddressSpace returns the loader's bound address space, for callers that
// need to call EnterAt or inspect guest memory directly.
func (l *Loader) AddressSpace() cpubackend.AddressSpace { return l.as }

// A5World returns the constructed A5 world, valid only after
// EnsureEntrySegmentsLoaded has succeeded.
func (l *Loader) A5World() A5World { return l.a5World }

// Backend returns the loader's bound CPU backend, for callers that need to
// call EnterAt directly once entry segments are loaded.
func (l *Loader) Backend() cpubackend.Backend { return l.backend }

// EnsureEntrySegmentsLoaded runs the four-step launch sequence: parse CODE
// 0, install the A5 world, build the lazy jump table, and load segment 1
// (which also applies its relocations). It does not install the _LoadSeg
// trap (call InstallLoadSegTrap explicitly) and does not call EnterAt;
// both are separate, caller-driven steps.
func (l *Loader) EnsureEntrySegmentsLoaded() error {
	handle, err := l.getter.GetResource(resource.CODE, 0)
	if err != nil {
		return fmt.Errorf("code0: %w", err)
	}
	defer handle.Release()

	data, err := handle.Data()
	if err != nil {
		return fmt.Errorf("code0: %w", err)
	}

	info, err := codeparser.ParseCode0(data)
	if err != nil {
		return fmt.Errorf("code0: %w", err)
	}

	l.code0 = info

	if err := l.installA5World(info); err != nil {
		return err
	}

	if err := l.buildJumpTable(info); err != nil {
		return err
	}

	l.launchTime = time.Now()

	return l.loadSegment(1)
}

// installA5World allocates the below-A5 and above-A5 regions as a single
// contiguous bump allocation, so a5_below_base + below_size == a5_base holds
// exactly with no intervening alignment drift, then registers A5 and
// verifies the four invariants of the A5-world data model.
func (l *Loader) installA5World(info codeparser.CODE0Info) error {
	total := info.BelowA5Size + info.AboveA5Size

	base, err := l.backend.AllocateMemory(l.as, total, cpubackend.A5World)
	if err != nil {
		return fmt.Errorf("%w: allocate a5 world: %v", goerr.ErrA5World, err)
	}

	world := A5World{
		BelowBase:      base,
		A5Base:         base + info.BelowA5Size,
		JTOffsetFromA5: info.JTOffsetFromA5,
		JTSize:         info.JTSize,
		JTCount:        info.JTCount(),
	}
	world.AboveBase = world.A5Base
	world.JTBase = world.A5Base + info.JTOffsetFromA5

	l.backend.SetRegisterA5(l.as, world.A5Base)

	if err := verifyA5World(world, info, l.as); err != nil {
		return err
	}

	l.a5World = world

	l.log.Debug("a5 world installed",
		"below_base", world.BelowBase, "a5_base", world.A5Base,
		"jt_base", world.JTBase, "jt_count", world.JTCount)

	return nil
}

// a5RegisterReader is implemented by backends where A5 is a real register
// (68K); backends with no A5 concept (PPC) simply skip this invariant
// check.
type a5RegisterReader interface {
	RegisterA5() uint32
}

// verifyA5World checks every A5-world invariant rather than stopping at the
// first violation, so a malformed CODE 0 resource is diagnosed in one error
// instead of one ParseCode0/retry cycle per broken field.
func verifyA5World(world A5World, info codeparser.CODE0Info, as cpubackend.AddressSpace) error {
	var result *multierror.Error

	if world.BelowBase+info.BelowA5Size != world.A5Base {
		result = multierror.Append(result, &goerr.A5WorldError{Reason: "below region does not end at a5_base"})
	}
	if world.JTBase != world.A5Base+info.JTOffsetFromA5 {
		result = multierror.Append(result, &goerr.A5WorldError{Reason: "jt_base does not match a5_base + jt_offset_from_a5"})
	}
	if uint32(world.JTCount)*8 != world.JTSize {
		result = multierror.Append(result, &goerr.A5WorldError{Reason: "jt_count * 8 does not match jt_size"})
	}
	if info.BelowA5Size > 1<<20 || info.AboveA5Size > 1<<20 {
		result = multierror.Append(result, &goerr.A5WorldError{Reason: "a5 region exceeds 1 MiB sanity guard"})
	}
	if r, ok := as.(a5RegisterReader); ok && r.RegisterA5() != world.A5Base {
		result = multierror.Append(result, &goerr.A5WorldError{Reason: "A5 register does not equal a5_base after construction"})
	}

	return result.ErrorOrNil()
}

// buildJumpTable writes a lazy stub into each of jt_count slots. Slot i is
// mapped to seg_id = (i/entriesPerSegment)+1, entry_idx = i%entriesPerSegment.
func (l *Loader) buildJumpTable(info codeparser.CODE0Info) error {
	for i := 0; i < info.JTCount(); i++ {
		slotAddr := l.a5World.JTBase + uint32(i*8)
		segID := int16(i/entriesPerSegment) + 1
		entryIdx := i % entriesPerSegment

		if err := l.backend.MakeLazyJTStub(l.as, slotAddr, segID, entryIdx); err != nil {
			return fmt.Errorf("%w: slot %d: %v", goerr.ErrJumpTable, i, err)
		}
	}

	return nil
}

// InstallLoadSegTrap registers the _LoadSeg trap handler at the backend's
// trap number. Exposed as its own step (rather than folded into
// EnsureEntrySegmentsLoaded) so a caller can install it before or after
// building the A5 world, matching the segment loader's external surface.
func (l *Loader) InstallLoadSegTrap() {
	l.backend.InstallTrap(l.as, l.backend.LoadSegTrapNumber(), l.handleLoadSeg, l)
}

// loadSegment maps and relocates CODE id, recording a Loaded descriptor.
// Returning immediately if the segment is already loaded.
func (l *Loader) loadSegment(id int16) error {
	if seg, ok := l.segments[id]; ok && seg.State == Loaded {
		return nil
	}

	l.segments[id] = &Segment{SegID: id, State: Loading}

	handle, err := l.getter.GetResource(resource.CODE, resource.ID(id))
	if err != nil {
		delete(l.segments, id)
		return fmt.Errorf("load segment %d: %w", id, err)
	}
	defer handle.Release()

	data, err := handle.Data()
	if err != nil {
		delete(l.segments, id)
		return fmt.Errorf("load segment %d: %w", id, err)
	}

	info, err := codeparser.ParseCodeN(data)
	if err != nil {
		delete(l.segments, id)
		return fmt.Errorf("load segment %d: %w", id, err)
	}

	codeHandle, base, err := l.backend.MapExecutable(l.as, info.Body, cpubackend.Executable)
	if err != nil {
		delete(l.segments, id)
		return fmt.Errorf("load segment %d: map: %w", id, err)
	}

	table := codeparser.ScanRelocations(info.Body)

	if err := l.backend.Relocate(l.as, codeHandle, table, base, l.a5World.JTBase, l.a5World.A5Base); err != nil {
		l.backend.UnmapExecutable(l.as, codeHandle)
		delete(l.segments, id)
		return fmt.Errorf("load segment %d: %w", id, err)
	}

	l.segments[id] = &Segment{
		Handle:    codeHandle,
		BaseAddr:  base,
		EntryAddr: info.EntryAddr(base),
		Size:      uint32(len(info.Body)),
		State:     Loaded,
		SegID:     id,
		RefCount:  1,
	}

	l.log.Debug("segment loaded", "seg_id", id, "base", base, "entry", info.EntryAddr(base), "size", len(info.Body))

	return nil
}

// handleLoadSeg is the _LoadSeg trap handler, installed once at the
// backend's LoadSegTrapNumber slot. It reads the segment ID and the calling
// lazy stub's slot address from the current trap context, loads the
// segment, and hot-patches the slot to a direct jump to the segment's entry
// point.
func (l *Loader) handleLoadSeg(as cpubackend.AddressSpace, ctx any) error {
	segID, slotAddr, err := l.backend.ReadLoadSegSelector(as)
	if err != nil {
		return fmt.Errorf("_LoadSeg: %w", err)
	}

	if err := l.loadSegment(segID); err != nil {
		return fmt.Errorf("_LoadSeg: %w", err)
	}

	seg := l.segments[segID]

	if err := l.backend.WriteJTSlot(as, slotAddr, seg.EntryAddr); err != nil {
		return fmt.Errorf("_LoadSeg: hot patch slot %#x: %w", slotAddr, err)
	}

	l.log.Debug("_LoadSeg resolved", "seg_id", segID, "slot", slotAddr, "entry", seg.EntryAddr)

	return nil
}

// ResolveJumpIndex reads the jt_index'th jump-table slot, loading its
// segment first if the slot still holds a lazy stub, and returns the
// resolved entry address.
func (l *Loader) ResolveJumpIndex(jtIndex int) (uint32, error) {
	if jtIndex < 0 || jtIndex >= l.a5World.JTCount {
		return 0, &goerr.JTError{Reason: "jt_index out of range"}
	}

	slotAddr := l.a5World.JTBase + uint32(jtIndex*8)

	addr, resolved, err := l.resolveSlot(slotAddr)
	if err != nil {
		return 0, err
	}

	if resolved {
		return addr, nil
	}

	segID := int16(jtIndex/entriesPerSegment) + 1
	if err := l.loadSegment(segID); err != nil {
		return 0, err
	}

	if err := l.backend.WriteJTSlot(l.as, slotAddr, l.segments[segID].EntryAddr); err != nil {
		return 0, fmt.Errorf("hot patch slot %#x: %w", slotAddr, err)
	}

	addr, resolved, err = l.resolveSlot(slotAddr)
	if err != nil {
		return 0, err
	}

	if !resolved {
		return 0, &goerr.JTError{SlotAddr: slotAddr, Reason: "slot still unresolved after load"}
	}

	return addr, nil
}

// resolveSlot inspects a jump-table slot's first opcode word, per
// resolve_jump_index: 0x4EF9 (68K JMP abs.L) means already resolved; 0x3F3C
// (68K lazy stub) or a PPC "li r3, seg_id" word means lazy. Any other
// pattern, including a resolved PPC slot, is a JTError.
func (l *Loader) resolveSlot(slotAddr uint32) (addr uint32, resolved bool, err error) {
	mem := l.as.Memory()

	word, err := mem.ReadU16(slotAddr)
	if err != nil {
		return 0, false, err
	}

	switch word {
	case 0x4EF9: // JMP abs.L: resolved
		target, err := mem.ReadU32(slotAddr + 2)
		if err != nil {
			return 0, false, err
		}

		return target, true, nil
	case 0x3F3C: // 68K lazy stub: MOVE.W #seg_id, -(SP)
		return 0, false, nil
	case 0x3860: // PPC lazy stub: li r3, seg_id (high half of 0x38600000 | id)
		return 0, false, nil
	default:
		return 0, false, &goerr.JTError{SlotAddr: slotAddr, Reason: "unrecognized jump-table slot pattern"}
	}
}

// UnloadSegment releases a loaded segment's mapping. Entry segment 1 is
// never actually unmapped by the backend (UnmapExecutable is bookkeeping
// only); this just drops the descriptor so a later reference reloads it.
func (l *Loader) UnloadSegment(id int16) error {
	seg, ok := l.segments[id]
	if !ok || seg.State != Loaded {
		return nil
	}

	l.backend.UnmapExecutable(l.as, seg.Handle)
	delete(l.segments, id)

	return nil
}

// GetSegmentEntryPoint returns the entry address of a loaded segment,
// loading it first if necessary.
func (l *Loader) GetSegmentEntryPoint(id int16) (uint32, error) {
	if err := l.loadSegment(id); err != nil {
		return 0, err
	}

	return l.segments[id].EntryAddr, nil
}

// Segment returns the current descriptor for id, or ok=false if it has
// never been loaded.
func (l *Loader) Segment(id int16) (Segment, bool) {
	seg, ok := l.segments[id]
	if !ok {
		return Segment{}, false
	}

	return *seg, true
}

// Cleanup destroys the loader's address space. The loader must not be used
// afterward.
func (l *Loader) Cleanup() {
	l.backend.DestroyAddressSpace(l.as)
}
