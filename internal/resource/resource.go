// Package resource implements the external resource-fetch interface the
// segment loader consumes: GetResource(type, id) -> Handle, an in-memory
// test-time store standing in for a real resource fork, and the PackBits
// codec used to compress resource data on disk.
package resource

import (
	"fmt"
	"sync"

	"github.com/macboot/runtime/internal/goerr"
)

// Type is a four-character resource type, e.g. 'CODE'.
type Type uint32

// CODE is the resource type carrying A5-world metadata (id 0) and
// executable segments (id >= 1).
const CODE Type = 0x434F4445 // "CODE"

// ID identifies one resource of a given Type.
type ID int16

// Handle is an opaque reference to a resource's bytes, matching the real
// Resource Manager's double-indirection: the handle stays valid even if the
// underlying bytes move, and releasing it twice is a silent no-op rather
// than a fault, per the original Resource Manager's ReleaseResourceHandle.
type Handle struct {
	mu       sync.Mutex
	data     []byte
	released bool
}

// Data returns the resource bytes. Calling it after Release returns
// goerr.ErrParam.
func (h *Handle) Data() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil, fmt.Errorf("%w: use of released resource handle", goerr.ErrParam)
	}

	return h.data, nil
}

// Release marks the handle as no longer in use. A second call is a no-op,
// matching ReleaseResourceHandle's "not found, free anyway" / "already
// cleared" behavior rather than raising an error.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.data = nil
	h.released = true
}

// Getter is the external resource-fetch interface the segment loader is
// built against; the real implementation and Store (below) both satisfy it.
type Getter interface {
	GetResource(t Type, id ID) (*Handle, error)
}

type key struct {
	t  Type
	id ID
}

// Store is an in-memory resource store used in place of a real resource
// fork, selected at test/boot time. It implements Getter.
type Store struct {
	mu        sync.Mutex
	resources map[key][]byte
}

// NewStore creates an empty in-memory resource store.
func NewStore() *Store {
	return &Store{resources: make(map[key][]byte)}
}

// Put installs a resource's bytes. A later GetResource call for the same
// type and id returns a fresh Handle wrapping a copy of data, so callers
// mutating their returned handle's bytes cannot corrupt the store.
func (s *Store) Put(t Type, id ID, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	s.resources[key{t, id}] = cp
}

// GetResource implements Getter, the test-time stand-in named
// TestResource_Get in the external interfaces design.
func (s *Store) GetResource(t Type, id ID) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.resources[key{t, id}]
	if !ok {
		return nil, fmt.Errorf("%w: resource %#x/%d", goerr.ErrNotFound, uint32(t), id)
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	return &Handle{data: cp}, nil
}
