// Package heap implements the classic Mac zone-based allocator: segregated
// freelists, master-pointer handle indirection, coalescing, compaction, and
// purge. It backs both the runtime's own bookkeeping and the guest-visible
// Memory Manager surface (see Manager in heap.go).
package heap

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/macboot/runtime/internal/goerr"
	"github.com/macboot/runtime/internal/logctx"
)

// Block flags, stored in the single flags byte of a block header.
const (
	flagFree      = 1 << iota // block is on a freelist
	flagPtr                   // block belongs to a NewPtr allocation (non-relocatable)
	flagHandle                // block belongs to a NewHandle allocation (relocatable)
	flagLocked                // HLock'd: compaction must not move it
	flagPurgeable             // HPurge may reclaim it when unlocked
)

const (
	headerSize  = 20 // size(4) flags(1) pad(3) prevSize(4) masterPtr(4) logicalSize(4)
	freeNodeLen = 8  // next(4) prev(4), written into the payload of a free block
	minBlock    = headerSize + freeNodeLen

	numClasses = 8
)

// noBlock marks an empty freelist ring or an absent neighbor.
const noBlock = ^uint32(0)

// classThresholds gives the inclusive upper bound on payload-carrying block
// size for each of the 8 segregated size classes; the last class is
// unbounded.
var classThresholds = [numClasses]uint32{64, 128, 256, 512, 1024, 2048, 4096, noBlock}

func classOf(size uint32) int {
	for i, t := range classThresholds {
		if size <= t {
			return i
		}
	}

	return numClasses - 1
}

func alignUp(n uint32) uint32 { return (n + 7) &^ 7 }

// mpSlot is one entry in a zone's master-pointer table.
type mpSlot struct {
	blockOffset uint32 // noBlock when purged or unallocated
	allocated   bool   // false when the slot is free for reuse
}

// Zone is a contiguous heap region with its own master-pointer table,
// freelists, and compactor, per §4.3 of the runtime's heap design.
type Zone struct {
	name string
	buf  []byte

	freeHead [numClasses]uint32
	mp       []mpSlot

	log *slog.Logger
}

// NewZone allocates a zone of the given size, containing a single free block
// spanning the whole span.
func NewZone(name string, size uint32) *Zone {
	z := &Zone{
		name: name,
		buf:  make([]byte, size),
		log:  logctx.Module("heap." + name),
	}

	for i := range z.freeHead {
		z.freeHead[i] = noBlock
	}

	z.writeHeader(0, size, flagFree, 0, 0)
	z.writeFreeNode(0, noBlock, noBlock)
	z.freeHead[classOf(size)] = 0

	return z
}

func (z *Zone) size() uint32 { return uint32(len(z.buf)) }

// --- header access -------------------------------------------------------

func (z *Zone) readSize(off uint32) uint32 {
	return binary.BigEndian.Uint32(z.buf[off : off+4])
}

func (z *Zone) readFlags(off uint32) byte { return z.buf[off+4] }

func (z *Zone) readPrevSize(off uint32) uint32 {
	return binary.BigEndian.Uint32(z.buf[off+8 : off+12])
}

func (z *Zone) readMasterPtr(off uint32) int32 {
	return int32(binary.BigEndian.Uint32(z.buf[off+12 : off+16]))
}

// readLogicalSize/writeLogicalSize access the requested (pre-alignment)
// payload size recorded alongside the physical block header, distinct from
// readSize's padded/aligned block size. It lives just past the classic
// four-field header so a raw block-region copy (CompactMem's relocation)
// carries it along for free.
func (z *Zone) readLogicalSize(off uint32) uint32 {
	return binary.BigEndian.Uint32(z.buf[off+16 : off+20])
}

func (z *Zone) writeLogicalSize(off, n uint32) {
	binary.BigEndian.PutUint32(z.buf[off+16:off+20], n)
}

func (z *Zone) writeHeader(off, size uint32, flags byte, prevSize uint32, masterPtr int32) {
	binary.BigEndian.PutUint32(z.buf[off:off+4], size)
	z.buf[off+4] = flags
	z.buf[off+5], z.buf[off+6], z.buf[off+7] = 0, 0, 0
	binary.BigEndian.PutUint32(z.buf[off+8:off+12], prevSize)
	binary.BigEndian.PutUint32(z.buf[off+12:off+16], uint32(masterPtr))
}

func (z *Zone) setFlags(off uint32, flags byte) { z.buf[off+4] = flags }

func (z *Zone) setPrevSize(off, prev uint32) {
	binary.BigEndian.PutUint32(z.buf[off+8:off+12], prev)
}

func (z *Zone) payloadOffset(off uint32) uint32 { return off + headerSize }

// --- freelist node access (payload of a FREE block) -----------------------

func (z *Zone) readNext(off uint32) uint32 {
	return binary.BigEndian.Uint32(z.buf[off+headerSize : off+headerSize+4])
}

func (z *Zone) readPrev(off uint32) uint32 {
	return binary.BigEndian.Uint32(z.buf[off+headerSize+4 : off+headerSize+8])
}

func (z *Zone) writeFreeNode(off, next, prev uint32) {
	binary.BigEndian.PutUint32(z.buf[off+headerSize:off+headerSize+4], next)
	binary.BigEndian.PutUint32(z.buf[off+headerSize+4:off+headerSize+8], prev)
}

// --- freelist ring operations ----------------------------------------------

// freelistInsert inserts the block at off, LIFO, at the head of its size
// class's ring.
func (z *Zone) freelistInsert(off uint32) {
	size := z.readSize(off)
	class := classOf(size)
	head := z.freeHead[class]

	if head == noBlock {
		z.writeFreeNode(off, off, off)
	} else {
		tail := z.readPrev(head)
		z.writeFreeNode(off, head, tail)
		z.setNext(tail, off)
		z.setPrev(head, off)
	}

	z.freeHead[class] = off
}

func (z *Zone) setNext(off, next uint32) {
	binary.BigEndian.PutUint32(z.buf[off+headerSize:off+headerSize+4], next)
}

func (z *Zone) setPrev(off, prev uint32) {
	binary.BigEndian.PutUint32(z.buf[off+headerSize+4:off+headerSize+8], prev)
}

// freelistRemove unlinks the block at off from its size class's ring. The
// block's own size field must still reflect the class it was inserted
// under.
func (z *Zone) freelistRemove(off uint32) {
	size := z.readSize(off)
	class := classOf(size)

	next := z.readNext(off)
	prev := z.readPrev(off)

	if next == off { // sole member of the ring
		z.freeHead[class] = noBlock
		return
	}

	z.setNext(prev, next)
	z.setPrev(next, prev)

	if z.freeHead[class] == off {
		z.freeHead[class] = next
	}
}

// --- master pointer table ---------------------------------------------------

func (z *Zone) newMasterPointer(blockOffset uint32) int32 {
	for i := range z.mp {
		if !z.mp[i].allocated {
			z.mp[i] = mpSlot{blockOffset: blockOffset, allocated: true}
			return int32(i)
		}
	}

	z.mp = append(z.mp, mpSlot{blockOffset: blockOffset, allocated: true})

	return int32(len(z.mp) - 1)
}

func (z *Zone) freeMasterPointer(idx int32) {
	z.mp[idx] = mpSlot{blockOffset: noBlock, allocated: false}
}

// --- allocation --------------------------------------------------------

// alloc finds, splits, and removes from its freelist a block of at least
// aligned bytes (aligned already includes the header, i.e. it is the
// aligned total block size), returning the block's offset.
func (z *Zone) alloc(aligned uint32) (uint32, error) {
	off, ok := z.findFree(aligned)

	if !ok {
		z.CompactMem(aligned)

		off, ok = z.findFree(aligned)
		if !ok {
			return 0, goerr.ErrOutOfMemory
		}
	}

	z.freelistRemove(off)

	size := z.readSize(off)
	prevSize := z.readPrevSize(off)

	remainder := size - aligned
	if remainder >= minBlock {
		tailOff := off + aligned
		z.writeHeader(tailOff, remainder, flagFree, aligned, 0)
		z.writeFreeNode(tailOff, noBlock, noBlock)
		z.freelistInsert(tailOff)

		if next := off + size; next < z.size() {
			z.setPrevSize(next, remainder)
		}

		z.writeHeader(off, aligned, 0, prevSize, 0)
	} else {
		z.writeHeader(off, size, 0, prevSize, 0)
	}

	return off, nil
}

func (z *Zone) findFree(aligned uint32) (uint32, bool) {
	for class := classOf(aligned); class < numClasses; class++ {
		head := z.freeHead[class]
		if head == noBlock {
			continue
		}

		cur := head

		for {
			if z.readSize(cur) >= aligned {
				return cur, true
			}

			cur = z.readNext(cur)
			if cur == head {
				break
			}
		}
	}

	return 0, false
}

// dealloc returns the block at off to its zone, coalescing with free
// neighbors.
func (z *Zone) dealloc(off uint32) error {
	if err := z.validateBlock(off); err != nil {
		z.log.Error("discarding invalid block on dispose", "offset", fmt.Sprintf("%#x", off), "err", err)
		return err
	}

	if mp := z.readMasterPtr(off); mp != 0 {
		z.freeMasterPointer(mp - 1)
	}

	size := z.readSize(off)
	prevSize := z.readPrevSize(off)

	// Coalesce forward.
	if next := off + size; next < z.size() && z.readFlags(next)&flagFree != 0 {
		z.freelistRemove(next)
		size += z.readSize(next)
	}

	// Coalesce backward.
	if prevSize > 0 {
		prevOff := off - prevSize
		if z.readFlags(prevOff)&flagFree != 0 {
			z.freelistRemove(prevOff)
			size += z.readSize(prevOff)
			off = prevOff
			prevSize = z.readPrevSize(prevOff)
		}
	}

	z.writeHeader(off, size, flagFree, prevSize, 0)
	z.writeFreeNode(off, noBlock, noBlock)

	if next := off + size; next < z.size() {
		z.setPrevSize(next, size)
	}

	z.freelistInsert(off)

	if err := z.validateFreelists(); err != nil {
		z.log.Error("freelist corruption detected, resetting zone freelists", "zone", z.name, "err", err)

		for i := range z.freeHead {
			z.freeHead[i] = noBlock
		}
	}

	return nil
}

func (z *Zone) validateBlock(off uint32) error {
	if off >= z.size() {
		return goerr.ErrParam
	}

	size := z.readSize(off)
	if size == 0 || alignUp(size) != size || off+size > z.size() {
		return goerr.ErrParam
	}

	if prev := z.readPrevSize(off); prev > off {
		return goerr.ErrParam
	}

	return nil
}

func (z *Zone) validateFreelists() error {
	for class, head := range z.freeHead {
		if head == noBlock {
			continue
		}

		cur := head
		count := uint32(0)

		for {
			if cur >= z.size() {
				return fmt.Errorf("%w: node %#x out of zone bounds", goerr.ErrParam, cur)
			}

			if z.readFlags(cur)&flagFree == 0 {
				return fmt.Errorf("%w: node %#x not marked FREE", goerr.ErrParam, cur)
			}

			if classOf(z.readSize(cur)) != class {
				return fmt.Errorf("%w: node %#x wrong size class", goerr.ErrParam, cur)
			}

			next := z.readNext(cur)
			if z.readPrev(next) != cur {
				return fmt.Errorf("%w: node %#x ring broken", goerr.ErrParam, cur)
			}

			cur = next
			count++

			if cur == head {
				break
			}

			if count > z.size() {
				return fmt.Errorf("%w: ring %d does not terminate", goerr.ErrParam, class)
			}
		}
	}

	return nil
}

// --- purge and compaction --------------------------------------------------

// PurgeMem releases every unlocked, purgeable handle block in the zone,
// NULLing its master pointer.
func (z *Zone) PurgeMem() {
	off := uint32(0)

	for off < z.size() {
		size := z.readSize(off)
		flags := z.readFlags(off)

		if flags&(flagHandle|flagPurgeable) == flagHandle|flagPurgeable && flags&flagLocked == 0 {
			mp := z.readMasterPtr(off)
			if mp != 0 {
				z.mp[mp-1].blockOffset = noBlock
			}

			// Detach the block from its slot so dealloc leaves the slot
			// allocated: the purged handle keeps it until DisposeHandle.
			z.writeHeader(off, size, flags, z.readPrevSize(off), 0)

			next := off + size
			_ = z.dealloc(off)
			off = next

			continue
		}

		off += size
	}
}

// CompactMem purges, then shifts relocatable unlocked handle blocks down to
// close gaps left by locked or non-relocatable blocks, returning the zone's
// new maximum free block size. need is advisory (logged, not enforced).
func (z *Zone) CompactMem(need uint32) uint32 {
	z.PurgeMem()

	type live struct {
		origOff   uint32
		size      uint32
		flags     byte
		masterPtr int32
	}

	var blocks []live

	for off := uint32(0); off < z.size(); {
		size := z.readSize(off)
		flags := z.readFlags(off)

		if flags&flagFree == 0 {
			blocks = append(blocks, live{off, size, flags, z.readMasterPtr(off)})
		}

		off += size
	}

	writePos := uint32(0)

	type placed struct {
		off, size uint32
		flags     byte
		masterPtr int32
		free      bool
	}

	var layout []placed

	for _, b := range blocks {
		relocatable := b.flags&flagHandle != 0 && b.flags&flagLocked == 0

		if !relocatable {
			if writePos < b.origOff {
				layout = append(layout, placed{off: writePos, size: b.origOff - writePos, free: true})
			}

			layout = append(layout, placed{off: b.origOff, size: b.size, flags: b.flags, masterPtr: b.masterPtr})
			writePos = b.origOff + b.size

			continue
		}

		if writePos != b.origOff {
			copy(z.buf[writePos:writePos+b.size], z.buf[b.origOff:b.origOff+b.size])

			if b.masterPtr != 0 {
				z.mp[b.masterPtr-1].blockOffset = z.payloadOffset(writePos)
			}
		}

		layout = append(layout, placed{off: writePos, size: b.size, flags: b.flags, masterPtr: b.masterPtr})
		writePos += b.size
	}

	if writePos < z.size() {
		layout = append(layout, placed{off: writePos, size: z.size() - writePos, free: true})
	}

	for i := range z.freeHead {
		z.freeHead[i] = noBlock
	}

	prevSize := uint32(0)
	maxFree := uint32(0)

	for _, p := range layout {
		if p.free {
			z.writeHeader(p.off, p.size, flagFree, prevSize, 0)
			z.writeFreeNode(p.off, noBlock, noBlock)
			z.freelistInsert(p.off)

			if p.size > maxFree {
				maxFree = p.size
			}
		} else {
			z.writeHeader(p.off, p.size, p.flags, prevSize, p.masterPtr)
		}

		prevSize = p.size
	}

	z.log.Debug("compacted zone", "zone", z.name, "need", need, "max_free", maxFree)

	return maxFree
}

// FreeMem returns the sum of all FREE block sizes in the zone.
func (z *Zone) FreeMem() uint32 {
	var total uint32

	for off := uint32(0); off < z.size(); {
		size := z.readSize(off)
		if z.readFlags(off)&flagFree != 0 {
			total += size
		}

		off += size
	}

	return total
}

// MaxMem returns the size of the largest single FREE block in the zone.
func (z *Zone) MaxMem() uint32 {
	var max uint32

	for off := uint32(0); off < z.size(); {
		size := z.readSize(off)
		if z.readFlags(off)&flagFree != 0 && size > max {
			max = size
		}

		off += size
	}

	return max
}
