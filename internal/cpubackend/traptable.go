package cpubackend

import "github.com/macboot/runtime/internal/goerr"

// trapSlots is the trap table's size: a trap number is keyed by its low
// byte, so $A9F0 (_LoadSeg) and $A800 land in slots 0xF0 and 0x00, and
// A-line words that differ only in bits 8-11 share a slot. PPC traps,
// selected by a small integer in R0, live in the same table.
const trapSlots = 1 << 8

// TrapTable is a per-address-space array mapping trap numbers to host
// callbacks plus their opaque context, component J of the runtime's
// design.
type TrapTable struct {
	slots [trapSlots]trapEntry
}

type trapEntry struct {
	handler TrapHandler
	ctx     any
}

// Install stores handler and ctx at num & 0xFF, overwriting any previous
// registration.
func (t *TrapTable) Install(num uint16, handler TrapHandler, ctx any) {
	t.slots[num&(trapSlots-1)] = trapEntry{handler: handler, ctx: ctx}
}

// Lookup returns the handler and context registered at num, or ok=false if
// none is registered.
func (t *TrapTable) Lookup(num uint16) (TrapHandler, any, bool) {
	e := t.slots[num&(trapSlots-1)]
	if e.handler == nil {
		return nil, nil, false
	}

	return e.handler, e.ctx, true
}

// Invoke calls the handler registered at num, if any, wrapping a non-nil
// return in a TrapError. Unregistered traps are logged by the caller and
// otherwise ignored, per the error handling design.
func (t *TrapTable) Invoke(num uint16, as AddressSpace) (handled bool, err error) {
	handler, ctx, ok := t.Lookup(num)
	if !ok {
		return false, nil
	}

	if err := handler(as, ctx); err != nil {
		return true, &goerr.TrapError{Num: num, Err: err}
	}

	return true, nil
}
