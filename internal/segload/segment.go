package segload

import "github.com/macboot/runtime/internal/cpubackend"

// State is a code segment's position in the load/purge lifecycle.
type State int

const (
	Unloaded State = iota
	Loading
	Loaded
	Purgeable
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "Unloaded"
	case Loading:
		return "Loading"
	case Loaded:
		return "Loaded"
	case Purgeable:
		return "Purgeable"
	default:
		return "State(?)"
	}
}

// maxSegments is the segment-table capacity of the data model (seg_id is a
// 16-bit signed quantity). Loader's map-backed segment table does not
// check it, and buildJumpTable's seg_id = (i/16)+1 mapping is not bounded
// by it.
const maxSegments = 256

// Segment is a code-segment descriptor: the loader's record of one mapped
// CODE resource.
type Segment struct {
	Handle    cpubackend.CodeHandle
	BaseAddr  uint32
	EntryAddr uint32
	Size      uint32
	State     State
	Purgeable bool
	SegID     int16
	RefCount  int
}
