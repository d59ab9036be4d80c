package segload_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/macboot/runtime/internal/goerr"
	"github.com/macboot/runtime/internal/m68k"
	"github.com/macboot/runtime/internal/resource"
	"github.com/macboot/runtime/internal/segload"
	"github.com/macboot/runtime/internal/segload/segloadtest"
)

// code0 builds a minimal CODE 0 resource: a 16-byte header plus jtSize bytes
// of placeholder jump-table entries (content irrelevant, buildJumpTable
// overwrites every slot regardless).
func code0(above, below, jtSize, jtOffset uint32) []byte {
	buf := make([]byte, 16+int(jtSize))
	binary.BigEndian.PutUint32(buf[0:4], above)
	binary.BigEndian.PutUint32(buf[4:8], below)
	binary.BigEndian.PutUint32(buf[8:12], jtSize)
	binary.BigEndian.PutUint32(buf[12:16], jtOffset)

	return buf
}

// codeN builds a minimal CODE N resource: a 4-byte header plus body.
func codeN(entryOffset uint16, body []byte) []byte {
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint16(buf[0:2], entryOffset)
	copy(buf[4:], body)

	return buf
}

func TestA5WorldInvariants(t *testing.T) {
	t.Parallel()

	store := resource.NewStore()
	store.Put(resource.CODE, 0, code0(0x200, 0x200, 0x40, 0))
	store.Put(resource.CODE, 1, codeN(0, []byte{0x4E, 0x75})) // RTS

	loader, err := segload.NewLoader(m68k.BackendName, store)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	if err := loader.EnsureEntrySegmentsLoaded(); err != nil {
		t.Fatalf("EnsureEntrySegmentsLoaded: %v", err)
	}

	world := loader.A5World()

	// BelowBase comes from the backend's allocator and isn't itself under
	// test here; every other field is fully determined by the CODE 0 header
	// above (below=0x200, jt_size=0x40, jt_offset_from_a5=0) once BelowBase
	// is known, so compare the whole struct in one diff instead of one
	// Errorf per field.
	want := segload.A5World{
		BelowBase:      world.BelowBase,
		A5Base:         world.BelowBase + 0x200,
		AboveBase:      world.BelowBase + 0x200,
		JTBase:         world.BelowBase + 0x200,
		JTOffsetFromA5: 0,
		JTSize:         0x40,
		JTCount:        8,
	}

	if diff := cmp.Diff(want, world); diff != "" {
		t.Errorf("A5World mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSegmentUnmappedReturnsNotFoundWithoutMutatingTable(t *testing.T) {
	t.Parallel()

	store := resource.NewStore()
	store.Put(resource.CODE, 0, code0(0x10, 0x10, 0, 0))
	// CODE 1 deliberately absent.

	loader, err := segload.NewLoader(m68k.BackendName, store)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	err = loader.EnsureEntrySegmentsLoaded()
	if !errors.Is(err, goerr.ErrNotFound) {
		t.Fatalf("EnsureEntrySegmentsLoaded err = %v, want wrapping %v", err, goerr.ErrNotFound)
	}

	if _, ok := loader.Segment(1); ok {
		t.Fatalf("segment table still holds an entry for a failed load")
	}
}

func TestResolveJumpIndexLoadsOnDemand(t *testing.T) {
	t.Parallel()

	store := resource.NewStore()
	store.Put(resource.CODE, 0, code0(0x10, 0x10, 8, 0)) // one slot -> seg 1
	store.Put(resource.CODE, 1, codeN(0, []byte{0x4E, 0x71, 0x4E, 0x75}))

	loader, err := segload.NewLoader(m68k.BackendName, store)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	// EnsureEntrySegmentsLoaded already loads segment 1 as part of the launch
	// sequence but leaves slot 0 holding its lazy stub; ResolveJumpIndex
	// must patch it and return segment 1's entry.
	if err := loader.EnsureEntrySegmentsLoaded(); err != nil {
		t.Fatalf("EnsureEntrySegmentsLoaded: %v", err)
	}

	seg, ok := loader.Segment(1)
	if !ok || seg.State != segload.Loaded {
		t.Fatalf("segment 1 not loaded: %+v", seg)
	}

	addr, err := loader.ResolveJumpIndex(0)
	if err != nil {
		t.Fatalf("ResolveJumpIndex(0): %v", err)
	}

	if addr != seg.EntryAddr {
		t.Fatalf("ResolveJumpIndex(0) = %#x, want segment 1 entry %#x", addr, seg.EntryAddr)
	}

	if _, err := loader.ResolveJumpIndex(1); err == nil {
		t.Fatalf("ResolveJumpIndex(1) err = nil, want out-of-range JTError")
	}
}

func TestUnloadSegmentDropsDescriptor(t *testing.T) {
	t.Parallel()

	store := resource.NewStore()
	store.Put(resource.CODE, 0, code0(0x10, 0x10, 0, 0))
	store.Put(resource.CODE, 1, codeN(0, []byte{0x4E, 0x75}))

	loader, err := segload.NewLoader(m68k.BackendName, store)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	if err := loader.EnsureEntrySegmentsLoaded(); err != nil {
		t.Fatalf("EnsureEntrySegmentsLoaded: %v", err)
	}

	if err := loader.UnloadSegment(1); err != nil {
		t.Fatalf("UnloadSegment: %v", err)
	}

	if _, ok := loader.Segment(1); ok {
		t.Fatalf("segment 1 descriptor still present after UnloadSegment")
	}

	addr, err := loader.GetSegmentEntryPoint(1)
	if err != nil {
		t.Fatalf("GetSegmentEntryPoint after unload: %v", err)
	}

	if addr == 0 {
		t.Fatalf("GetSegmentEntryPoint reloaded with a zero entry address")
	}
}

// TestLazyLoadRoundTripLogsTraceAndPatchesSlot exercises the two-segment
// boot scenario end to end. CODE 1's body is shaped exactly like a lazy
// jump-table stub, so entering it directly triggers _LoadSeg(2) and
// hot-patches CODE 1's own calling site, per the documented convention that
// a cold jump-table call resolves and returns via the stub's own trailing
// RTS without reaching the target segment ("one extra round trip"). A
// second call through the now-resolved site is what actually reaches CODE
// 2's body and fires its trap.
func TestLazyLoadRoundTripLogsTraceAndPatchesSlot(t *testing.T) {
	t.Parallel()

	boot, err := segloadtest.NewTwoSegmentBoot()
	if err != nil {
		t.Fatalf("NewTwoSegmentBoot: %v", err)
	}

	loader := boot.Loader

	if err := loader.EnsureEntrySegmentsLoaded(); err != nil {
		t.Fatalf("EnsureEntrySegmentsLoaded: %v", err)
	}

	seg1, ok := loader.Segment(1)
	if !ok {
		t.Fatalf("segment 1 not loaded")
	}

	backend := loader.Backend()
	as := loader.AddressSpace()

	if err := backend.EnterAt(as, seg1.EntryAddr, 0); err != nil {
		t.Logf("first EnterAt returned %v (expected: trailing RTS with no caller-pushed return address)", err)
	}

	var patched [2]byte
	if err := backend.ReadMemory(as, seg1.EntryAddr, patched[:]); err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}

	if patched != [2]byte{0x4E, 0xF9} {
		t.Fatalf("calling site not hot-patched to JMP abs.L: got % x", patched)
	}

	seg2, ok := loader.Segment(2)
	if !ok || seg2.State != segload.Loaded {
		t.Fatalf("segment 2 not loaded: %+v", seg2)
	}

	if len(boot.TraceLog) != 0 {
		t.Fatalf("trace log fired before CODE 2 ever ran: %v", boot.TraceLog)
	}

	if err := backend.EnterAt(as, seg1.EntryAddr, 0); err != nil {
		t.Logf("second EnterAt returned %v", err)
	}

	if len(boot.TraceLog) != 1 || boot.TraceLog[0] != "CODE 2 executed" {
		t.Fatalf("trace log = %v, want exactly one %q entry", boot.TraceLog, "CODE 2 executed")
	}
}
