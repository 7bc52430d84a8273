package mojocore

import "sync"

// Handle is an opaque, process-local, rights-gated reference to a
// Dispatcher (spec.md §3). The zero value is reserved as InvalidHandle.
type Handle uint32

// InvalidHandle is never allocated by HandleTable.Add.
const InvalidHandle Handle = 0

// Rights is the per-handle capability bitmask (spec.md §3). Rights are
// monotonically reducible per handle and never affect other handles
// sharing the same dispatcher.
type Rights uint32

const (
	RightDuplicate Rights = 1 << iota
	RightTransfer
	RightRead
	RightWrite
	RightGetOptions
	RightSetOptions
	RightExecute // buffer-specific: executable mapping
)

const rightsAll = RightDuplicate | RightTransfer | RightRead | RightWrite |
	RightGetOptions | RightSetOptions | RightExecute

func (r Rights) Has(want Rights) bool { return r&want == want }

type handleEntry struct {
	dispatcher Dispatcher
	rights     Rights
}

// HandleTable maps 32-bit handle IDs to (dispatcher, rights) pairs
// (spec.md §4.1). All operations are serialized by a single table-level
// lock, which is always released before any dispatcher-specific call —
// mirroring the teacher's `descs map[int]*fdDesc` guarded by
// `pendingMutex`, looked up and released before per-fd work runs
// (socket515-gaio/watcher.go: handlePending/releaseConn).
type HandleTable struct {
	mu      sync.Mutex
	entries map[Handle]*handleEntry
	nextID  uint32
	limit   int
}

// NewHandleTable creates an empty table with the given maximum live-handle
// count (0 means MaxHandles from limits.go).
func NewHandleTable(limit int) *HandleTable {
	if limit <= 0 {
		limit = MaxHandles
	}
	return &HandleTable{
		entries: make(map[Handle]*handleEntry),
		nextID:  1,
		limit:   limit,
	}
}

// Add allocates a fresh handle bound to dispatcher with the given rights.
func (t *HandleTable) Add(dispatcher Dispatcher, rights Rights) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) >= t.limit {
		return InvalidHandle, newErr("HandleTable.Add", CodeResourceExhausted)
	}
	for {
		id := t.nextID
		t.nextID++
		if t.nextID == 0 {
			t.nextID = 1 // wrap past InvalidHandle
		}
		if id == uint32(InvalidHandle) {
			continue
		}
		h := Handle(id)
		if _, exists := t.entries[h]; exists {
			continue
		}
		t.entries[h] = &handleEntry{dispatcher: dispatcher, rights: rights}
		return h, nil
	}
}

// lookup resolves h without releasing the caller from needing to drop the
// table lock before invoking dispatcher methods — callers copy out the
// entry fields and return promptly.
func (t *HandleTable) lookup(h Handle) (*handleEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return nil, newErr("HandleTable.lookup", CodeInvalidArgument)
	}
	return e, nil
}

// Lookup resolves h to its dispatcher and rights.
func (t *HandleTable) Lookup(h Handle) (Dispatcher, Rights, error) {
	e, err := t.lookup(h)
	if err != nil {
		return nil, 0, err
	}
	return e.dispatcher, e.rights, nil
}

// GetRights returns h's current rights (spec.md §4.1: requires handle
// validity only).
func (t *HandleTable) GetRights(h Handle) (Rights, error) {
	e, err := t.lookup(h)
	if err != nil {
		return 0, newErr("GetRights", CodeInvalidArgument)
	}
	return e.rights, nil
}

// Close removes h's binding and, if it was the last reference to its
// dispatcher, destroys the dispatcher. Always valid on a live handle.
func (t *HandleTable) Close(h Handle) error {
	t.mu.Lock()
	e, ok := t.entries[h]
	if !ok {
		t.mu.Unlock()
		return newErr("Close", CodeInvalidArgument)
	}
	delete(t.entries, h)
	for _, other := range t.entries {
		if other.dispatcher == e.dispatcher {
			// another handle still references the dispatcher.
			t.mu.Unlock()
			return nil
		}
	}
	t.mu.Unlock()

	return e.dispatcher.Close()
}

// Duplicate creates a new handle sharing dispatcher and rights with h
// (spec.md §4.1: requires DUPLICATE).
func (t *HandleTable) Duplicate(h Handle) (Handle, error) {
	e, err := t.lookup(h)
	if err != nil {
		return InvalidHandle, err
	}
	if !e.rights.Has(RightDuplicate) {
		return InvalidHandle, newErr("Duplicate", CodePermissionDenied)
	}
	return t.Add(e.dispatcher, e.rights)
}

// DuplicateWithReducedRights creates a new handle to the same dispatcher
// with rightsToRemove cleared (spec.md §4.1: requires DUPLICATE).
func (t *HandleTable) DuplicateWithReducedRights(h Handle, rightsToRemove Rights) (Handle, error) {
	e, err := t.lookup(h)
	if err != nil {
		return InvalidHandle, err
	}
	if !e.rights.Has(RightDuplicate) {
		return InvalidHandle, newErr("DuplicateWithReducedRights", CodePermissionDenied)
	}
	return t.Add(e.dispatcher, e.rights&^rightsToRemove)
}

// ReplaceWithReducedRights atomically closes h and returns a new handle to
// the same dispatcher with rightsToRemove cleared. Requires no right: a
// handle always implies replacement authority on itself (spec.md §4.1).
func (t *HandleTable) ReplaceWithReducedRights(h Handle, rightsToRemove Rights) (Handle, error) {
	t.mu.Lock()
	e, ok := t.entries[h]
	if !ok {
		t.mu.Unlock()
		return InvalidHandle, newErr("ReplaceWithReducedRights", CodeInvalidArgument)
	}
	delete(t.entries, h)
	newRights := e.rights &^ rightsToRemove
	t.mu.Unlock()

	return t.Add(e.dispatcher, newRights)
}

// TransferOut removes h from the table for handle-transfer across a
// message pipe (spec.md §4.3: requires TRANSFER). The dispatcher and its
// rights are returned for re-insertion into the receiver's table; no
// Close is run, since the reference moves rather than drops.
func (t *HandleTable) TransferOut(h Handle) (Dispatcher, Rights, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return nil, 0, newErr("TransferOut", CodeInvalidArgument)
	}
	if !e.rights.Has(RightTransfer) {
		return nil, 0, newErr("TransferOut", CodePermissionDenied)
	}
	delete(t.entries, h)
	return e.dispatcher, e.rights, nil
}

// AddTransferred installs a dispatcher+rights pair received over a
// message pipe as a fresh handle (spec.md §4.3: "install with fresh IDs,
// same rights they had on send").
func (t *HandleTable) AddTransferred(dispatcher Dispatcher, rights Rights) (Handle, error) {
	return t.Add(dispatcher, rights)
}
