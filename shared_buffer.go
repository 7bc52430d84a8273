package mojocore

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v2"
)

// MappingID stands in for the raw pointer MapBuffer returns in the
// original ABI (spec.md §4.5). Go does not hand out stable addresses of
// GC-managed memory, so this module returns a synthetic, process-wide
// unique id instead; UnmapBuffer must be given exactly the id a prior
// MapBuffer returned, matching the spec's "must match a previously
// returned pointer exactly."
type MappingID uint64

var nextMappingID uint64

func allocMappingID() MappingID {
	return MappingID(atomic.AddUint64(&nextMappingID, 1))
}

// sharedBufferRegion is the refcounted backing memory behind one or more
// SharedBufferDispatcher handles (spec.md §3, §4.5).
type sharedBufferRegion struct {
	mu       sync.Mutex
	bytes    []byte
	refCount int

	// mappings is the small auxiliary map spec.md §9 calls for, keyed by
	// the synthetic MappingID, so UnmapBuffer can validate its argument
	// without scanning all regions. Grounded on the generic concurrent
	// KV store pattern in bgpfix/pipe.go (Pipe.KV *xsync.MapOf[string,
	// any]), used here as a per-region side table; Core keeps the separate
	// process-wide MappingID -> region index that UnmapBuffer consults.
	mappings *xsync.MapOf[MappingID, *mapping]
}

type mapping struct {
	region    *sharedBufferRegion
	offset    uint64
	length    uint64
	writable  bool
}

// SharedBufferDispatcher is one handle's view of a shared memory region.
type SharedBufferDispatcher struct {
	region *sharedBufferRegion
	size   uint64

	mu     sync.Mutex
	closed bool
}

// NewSharedBuffer allocates a page-rounded region of numBytes
// (spec.md §4.5).
func NewSharedBuffer(numBytes uint64) (*SharedBufferDispatcher, error) {
	if numBytes == 0 {
		return nil, newErr("CreateSharedBuffer", CodeInvalidArgument)
	}
	rounded := roundUpPage(numBytes)
	region := &sharedBufferRegion{
		bytes:    make([]byte, rounded),
		refCount: 1,
		mappings: xsync.NewIntegerMapOf[MappingID, *mapping](),
	}
	return &SharedBufferDispatcher{region: region, size: numBytes}, nil
}

func (b *SharedBufferDispatcher) Kind() DispatcherKind { return KindSharedBuffer }

func (b *SharedBufferDispatcher) defaultRights() Rights {
	return RightRead | RightWrite | RightGetOptions | RightSetOptions | RightDuplicate | RightTransfer | RightExecute
}

// SignalsState: shared buffers never set any signal (spec.md §4.5 has no
// dynamic signal behavior for buffers); satisfiable is the empty set.
func (b *SharedBufferDispatcher) SignalsState() SignalsState { return SignalsState{} }

func (b *SharedBufferDispatcher) addWaiter(w *waiter) (interface{}, bool) {
	// no signal can ever become satisfied; a wait against any bit is
	// immediately FAILED_PRECONDITION.
	w.deliver(CodeFailedPrecondition, SignalsState{})
	return nil, true
}

func (b *SharedBufferDispatcher) removeWaiter(interface{}) {}

// Close drops this handle's reference to the region, freeing the backing
// memory once the last reference is gone (spec.md §4.1: "if it was the
// last reference, destruction runs immediately").
func (b *SharedBufferDispatcher) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	r := b.region
	r.mu.Lock()
	r.refCount--
	dead := r.refCount == 0
	r.mu.Unlock()
	if dead {
		r.bytes = nil
	}
	return nil
}

// duplicate creates a new dispatcher sharing the same region, bumping its
// refcount (spec.md §4.5: DuplicateBufferHandle).
func (b *SharedBufferDispatcher) duplicate() *SharedBufferDispatcher {
	b.region.mu.Lock()
	b.region.refCount++
	b.region.mu.Unlock()
	return &SharedBufferDispatcher{region: b.region, size: b.size}
}

// MapBuffer maps [offset, offset+numBytes) for reading, and for writing
// too when writable is set (spec.md §4.5).
func (b *SharedBufferDispatcher) MapBuffer(offset, numBytes uint64, writable bool) (MappingID, []byte, error) {
	if offset+numBytes < offset || offset+numBytes > b.size {
		return 0, nil, newErr("MapBuffer", CodeInvalidArgument)
	}
	r := b.region
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bytes == nil {
		return 0, nil, newErr("MapBuffer", CodeInvalidArgument)
	}
	id := allocMappingID()
	view := r.bytes[offset : offset+numBytes]
	r.mappings.Store(id, &mapping{region: r, offset: offset, length: numBytes, writable: writable})
	return id, view, nil
}

// UnmapBuffer releases a mapping previously returned by MapBuffer
// (spec.md §4.5: "must match a previously returned pointer exactly").
func (b *SharedBufferDispatcher) UnmapBuffer(id MappingID) error {
	return b.region.unmap(id)
}

// unmap drops a mapping by id. The real ABI's UnmapBuffer takes only a
// pointer, not a handle, so Core looks the owning region up by MappingID
// directly (core.go keeps a process-wide MappingID -> region index) rather
// than requiring the caller's original SharedBufferDispatcher.
func (r *sharedBufferRegion) unmap(id MappingID) error {
	if _, ok := r.mappings.LoadAndDelete(id); !ok {
		return newErr("UnmapBuffer", CodeInvalidArgument)
	}
	return nil
}

// GetBufferInformation returns the size requested at creation, not the
// page-rounded length of the backing region (spec.md §4.5).
func (b *SharedBufferDispatcher) GetBufferInformation() (sizeBytes uint64) {
	return b.size
}
