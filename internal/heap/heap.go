package heap

import (
	"github.com/macboot/runtime/internal/goerr"
)

// Reference zone sizes (§4.3): a 2 MiB system zone and a 6 MiB application
// zone.
const (
	SystemZoneSize      = 2 << 20
	ApplicationZoneSize = 6 << 20
)

// Ptr is a non-relocatable allocation returned by NewPtr. Unlike a Handle, a
// Ptr's address never changes; it is pinned for its entire lifetime and so
// is skipped by compaction.
type Ptr struct {
	zone *Zone
	off  uint32 // block header offset
}

// Addr returns the payload bytes backing p. The slice is invalidated by
// DisposePtr but never moves before then.
func (p Ptr) Addr() []byte {
	size := p.zone.readLogicalSize(p.off)
	start := p.zone.payloadOffset(p.off)

	return p.zone.buf[start : start+size]
}

// Handle is a relocatable allocation returned by NewHandle: indirection
// through a stable master-pointer slot whose target payload address may
// change under compaction.
type Handle struct {
	zone *Zone
	slot int32
}

// Deref returns the handle's current payload, or nil and false if the
// handle has been purged.
func (h Handle) Deref() ([]byte, bool) {
	mp := h.zone.mp[h.slot]
	if mp.blockOffset == noBlock {
		return nil, false
	}

	off := mp.blockOffset - headerSize
	size := h.zone.readLogicalSize(off)

	return h.zone.buf[mp.blockOffset : mp.blockOffset+size], true
}

func (h Handle) headerOffset() (uint32, bool) {
	mp := h.zone.mp[h.slot]
	if mp.blockOffset == noBlock {
		return 0, false
	}

	return mp.blockOffset - headerSize, true
}

// Manager owns the two preconfigured heap zones (system and application)
// and the current-zone selector that routes NewPtr/NewHandle calls, mirroring
// the classic Memory Manager's global current zone.
type Manager struct {
	system  *Zone
	app     *Zone
	current *Zone
}

// NewManager creates a Manager with a 2 MiB system zone and a 6 MiB
// application zone, with the application zone selected as current.
func NewManager() *Manager {
	m := &Manager{
		system: NewZone("system", SystemZoneSize),
		app:    NewZone("application", ApplicationZoneSize),
	}
	m.current = m.app

	return m
}

// SystemZone returns the preconfigured system zone.
func (m *Manager) SystemZone() *Zone { return m.system }

// ApplicationZone returns the preconfigured application zone.
func (m *Manager) ApplicationZone() *Zone { return m.app }

// GetZone returns the current zone.
func (m *Manager) GetZone() *Zone { return m.current }

// SetZone changes the current zone used by NewPtr and NewHandle.
func (m *Manager) SetZone(z *Zone) { m.current = z }

// NewPtr allocates n bytes, uninitialized, from the current zone.
func (m *Manager) NewPtr(n uint32) (Ptr, error) {
	return m.newPtrIn(m.current, n, false)
}

// NewPtrClear allocates n zeroed bytes from the current zone.
func (m *Manager) NewPtrClear(n uint32) (Ptr, error) {
	return m.newPtrIn(m.current, n, true)
}

func (m *Manager) newPtrIn(z *Zone, n uint32, clear bool) (Ptr, error) {
	aligned := alignUp(n + headerSize)
	if aligned < minBlock {
		aligned = minBlock
	}

	off, err := z.alloc(aligned)
	if err != nil {
		return Ptr{}, err
	}

	z.setFlags(off, flagPtr)
	z.writeLogicalSize(off, n)

	if clear {
		start := z.payloadOffset(off)
		size := z.readSize(off)
		clearBytes(z.buf[start : start+size-headerSize])
	}

	return Ptr{zone: z, off: off}, nil
}

// DisposePtr releases p's storage back to its zone.
func (m *Manager) DisposePtr(p Ptr) error {
	return p.zone.dealloc(p.off)
}

// GetPtrSize returns the usable payload size of p.
func (m *Manager) GetPtrSize(p Ptr) uint32 {
	return p.zone.readLogicalSize(p.off)
}

// NewHandle allocates n bytes, uninitialized, from the current zone,
// returning an indirected Handle.
func (m *Manager) NewHandle(n uint32) (Handle, error) {
	return m.newHandleIn(m.current, n, false)
}

// NewHandleClear allocates n zeroed bytes from the current zone.
func (m *Manager) NewHandleClear(n uint32) (Handle, error) {
	return m.newHandleIn(m.current, n, true)
}

func (m *Manager) newHandleIn(z *Zone, n uint32, clear bool) (Handle, error) {
	aligned := alignUp(n + headerSize)
	if aligned < minBlock {
		aligned = minBlock
	}

	off, err := z.alloc(aligned)
	if err != nil {
		return Handle{}, err
	}

	payload := z.payloadOffset(off)
	slot := z.newMasterPointer(payload)

	z.writeHeader(off, z.readSize(off), flagHandle, z.readPrevSize(off), slot+1)
	z.writeLogicalSize(off, n)

	if clear {
		size := z.readSize(off)
		clearBytes(z.buf[payload : payload+size-headerSize])
	}

	return Handle{zone: z, slot: slot}, nil
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// DisposeHandle releases h's storage and frees its master-pointer slot for
// reuse.
func (m *Manager) DisposeHandle(h Handle) error {
	off, ok := h.headerOffset()
	if !ok {
		// Already purged: just free the slot, nothing to coalesce.
		h.zone.freeMasterPointer(h.slot)
		return nil
	}

	return h.zone.dealloc(off)
}

// HLock pins h's payload against compaction moves.
func (m *Manager) HLock(h Handle) {
	if off, ok := h.headerOffset(); ok {
		h.zone.setFlags(off, h.zone.readFlags(off)|flagLocked)
	}
}

// HUnlock releases a pin set by HLock.
func (m *Manager) HUnlock(h Handle) {
	if off, ok := h.headerOffset(); ok {
		h.zone.setFlags(off, h.zone.readFlags(off)&^flagLocked)
	}
}

// HPurge marks h eligible for reclamation by PurgeMem when unlocked.
func (m *Manager) HPurge(h Handle) {
	if off, ok := h.headerOffset(); ok {
		h.zone.setFlags(off, h.zone.readFlags(off)|flagPurgeable)
	}
}

// HNoPurge clears the purgeable flag set by HPurge.
func (m *Manager) HNoPurge(h Handle) {
	if off, ok := h.headerOffset(); ok {
		h.zone.setFlags(off, h.zone.readFlags(off)&^flagPurgeable)
	}
}

// GetHandleSize returns h's current payload size, or 0 if purged.
func (m *Manager) GetHandleSize(h Handle) uint32 {
	off, ok := h.headerOffset()
	if !ok {
		return 0
	}

	return h.zone.readLogicalSize(off)
}

// SetHandleSize resizes h's payload to n bytes. A shrink, or a change that
// still fits the current block, stays in place; a grow beyond the current
// block always relocates to a fresh block (it never extends in place). A
// locked handle that needs to grow beyond its current block fails with
// ParamErr, since a locked block's address may not change.
func (m *Manager) SetHandleSize(h Handle, n uint32) error {
	off, ok := h.headerOffset()
	if !ok {
		return goerr.ErrParam
	}

	z := h.zone
	aligned := alignUp(n + headerSize)

	if aligned < minBlock {
		aligned = minBlock
	}

	curSize := z.readSize(off)

	switch {
	case aligned == curSize:
		z.writeLogicalSize(off, n)
		return nil

	case aligned < curSize:
		remainder := curSize - aligned
		if remainder < minBlock {
			z.writeLogicalSize(off, n)
			return nil
		}

		prevSize := z.readPrevSize(off)
		flags := z.readFlags(off)
		slotPlusOne := z.readMasterPtr(off)

		z.writeHeader(off, aligned, flags, prevSize, slotPlusOne)
		z.writeLogicalSize(off, n)

		tailOff := off + aligned
		z.writeHeader(tailOff, remainder, flagFree, aligned, 0)
		z.writeFreeNode(tailOff, noBlock, noBlock)
		z.freelistInsert(tailOff)

		if next := off + curSize; next < z.size() {
			z.setPrevSize(next, remainder)
		}

		return nil

	default: // grow
		flags := z.readFlags(off)
		if flags&flagLocked != 0 {
			return goerr.ErrParam
		}

		newOff, err := z.alloc(aligned)
		if err != nil {
			return err
		}

		oldPayload := z.payloadOffset(off)
		newPayload := z.payloadOffset(newOff)
		copyLen := curSize - headerSize
		copy(z.buf[newPayload:newPayload+copyLen], z.buf[oldPayload:oldPayload+copyLen])

		z.writeHeader(newOff, z.readSize(newOff), flags, z.readPrevSize(newOff), h.slot+1)
		z.writeLogicalSize(newOff, n)
		z.mp[h.slot].blockOffset = newPayload

		// The slot now belongs to the new block; detach the old one so
		// dealloc does not free it.
		z.writeHeader(off, curSize, flags, z.readPrevSize(off), 0)

		return z.dealloc(off)
	}
}

// FreeMem returns the current zone's total free bytes.
func (m *Manager) FreeMem() uint32 { return m.current.FreeMem() }

// MaxMem returns the current zone's largest contiguous free block.
func (m *Manager) MaxMem() uint32 { return m.current.MaxMem() }

// CompactMem compacts the current zone.
func (m *Manager) CompactMem(need uint32) uint32 { return m.current.CompactMem(need) }

// PurgeMem purges the current zone.
func (m *Manager) PurgeMem() { m.current.PurgeMem() }
