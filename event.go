package mojocore

import (
	"container/list"
	"sync"
)

// eventRegion is the refcounted mutable state behind one or more
// EventDispatcher handles produced by duplication: the SIGNAL0..4 bits
// and waiter broker are shared; only refCount (here) and each handle's
// own closed flag (on EventDispatcher itself) are handle-local. Mirrors
// sharedBufferRegion/SharedBufferDispatcher's split (shared_buffer.go).
type eventRegion struct {
	mu        sync.Mutex
	satisfied Signals
	broker    signalBroker
	refCount  int
}

// EventDispatcher is a dispatcher whose only dynamic state is the
// SIGNAL0..SIGNAL4 bits (spec.md §4.6).
type EventDispatcher struct {
	region *eventRegion

	mu     sync.Mutex
	closed bool
}

// NewEvent creates an Event with no signals set (spec.md §4.6).
func NewEvent() *EventDispatcher {
	return &EventDispatcher{region: &eventRegion{refCount: 1}}
}

func (e *EventDispatcher) Kind() DispatcherKind { return KindEvent }
func (e *EventDispatcher) defaultRights() Rights {
	return RightRead | RightWrite | RightGetOptions | RightSetOptions | RightDuplicate | RightTransfer
}

func (e *EventDispatcher) stateLocked() SignalsState {
	r := e.region
	return SignalsState{Satisfied: r.satisfied & SignalAll, Satisfiable: SignalAll}
}

func (e *EventDispatcher) SignalsState() SignalsState {
	r := e.region
	r.mu.Lock()
	defer r.mu.Unlock()
	return e.stateLocked()
}

func (e *EventDispatcher) addWaiter(w *waiter) (interface{}, bool) {
	r := e.region
	r.mu.Lock()
	defer r.mu.Unlock()
	state := e.stateLocked()
	if state.Satisfied&w.signals != 0 {
		w.deliver(CodeOK, state)
		return nil, true
	}
	if state.Satisfiable&w.signals == 0 {
		w.deliver(CodeFailedPrecondition, state)
		return nil, true
	}
	return r.broker.register(w), false
}

func (e *EventDispatcher) removeWaiter(token interface{}) {
	if token == nil {
		return
	}
	r := e.region
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broker.unregister(token.(*list.Element))
}

// duplicate hands out a new EventDispatcher sharing e's region, bumping
// its refcount — the same pattern SharedBufferDispatcher.duplicate uses
// for its region (shared_buffer.go).
func (e *EventDispatcher) duplicate() *EventDispatcher {
	r := e.region
	r.mu.Lock()
	r.refCount++
	r.mu.Unlock()
	return &EventDispatcher{region: r}
}

// Close drops this handle's reference. The region's signal state and
// broker are only torn down once the last duplicate has closed
// (spec.md §4.1: "if it was the last reference"); until then a surviving
// handle's in-flight waiter must not be spuriously cancelled.
func (e *EventDispatcher) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	r := e.region
	r.mu.Lock()
	r.refCount--
	if r.refCount == 0 {
		r.broker.cancelAll(SignalsState{Satisfied: r.satisfied & SignalAll, Satisfiable: SignalAll})
	}
	r.mu.Unlock()
	return nil
}

// Signal implements MojoEventSignal(h, clear, set): requires WRITE
// (checked by the caller); both masks must be subsets of SignalAll
// (spec.md §4.6).
func (e *EventDispatcher) Signal(clear, set Signals) error {
	if clear&^SignalAll != 0 || set&^SignalAll != 0 {
		return newErr("MojoEventSignal", CodeInvalidArgument)
	}
	r := e.region
	r.mu.Lock()
	defer r.mu.Unlock()
	r.satisfied = (r.satisfied &^ clear) | set
	r.broker.notify(e.stateLocked())
	return nil
}

// eventPairShared is the per-pair state behind two EventPairDispatcher
// halves: each half only carries PEER_CLOSED plus its own SIGNAL0..4 bits
// (spec.md §4.6), under one shared lock (spec.md §5 rule 3).
type eventPairShared struct {
	mu        sync.Mutex
	satisfied [2]Signals
	closed    [2]bool
	brokers   [2]signalBroker
}

// EventPairDispatcher is one half of an event pair.
type EventPairDispatcher struct {
	shared *eventPairShared
	side   int
}

// NewEventPair creates two connected halves (spec.md §4.6).
func NewEventPair() (h0, h1 *EventPairDispatcher) {
	s := &eventPairShared{}
	return &EventPairDispatcher{shared: s, side: 0}, &EventPairDispatcher{shared: s, side: 1}
}

func (h *EventPairDispatcher) Kind() DispatcherKind { return KindEventPair }
func (h *EventPairDispatcher) defaultRights() Rights {
	return RightRead | RightWrite | RightGetOptions | RightSetOptions | RightTransfer
}
func (h *EventPairDispatcher) other() int { return 1 - h.side }

// stateLocked mirrors spec.md §9's decided resolution of the EventPair
// open question: closing one half removes SIGNAL0..4 from the other
// half's satisfiable mask (no further transitions possible), but leaves
// whatever was already satisfied intact, since satisfied must stay a
// subset of satisfiable only going forward, never retroactively.
func (h *EventPairDispatcher) stateLocked() SignalsState {
	s := h.shared
	peerClosed := s.closed[h.other()]

	satisfied := s.satisfied[h.side] & SignalAll
	satisfiable := SignalAll
	if peerClosed {
		satisfiable = satisfied // only bits already true remain possible
	}
	if peerClosed {
		satisfied |= SignalPeerClosed
	}
	satisfiable |= SignalPeerClosed
	return SignalsState{Satisfied: satisfied, Satisfiable: satisfiable}
}

func (h *EventPairDispatcher) SignalsState() SignalsState {
	s := h.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	return h.stateLocked()
}

func (h *EventPairDispatcher) addWaiter(w *waiter) (interface{}, bool) {
	s := h.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	state := h.stateLocked()
	if state.Satisfied&w.signals != 0 {
		w.deliver(CodeOK, state)
		return nil, true
	}
	if state.Satisfiable&w.signals == 0 {
		w.deliver(CodeFailedPrecondition, state)
		return nil, true
	}
	return s.brokers[h.side].register(w), false
}

func (h *EventPairDispatcher) removeWaiter(token interface{}) {
	if token == nil {
		return
	}
	s := h.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokers[h.side].unregister(token.(*list.Element))
}

func (h *EventPairDispatcher) Close() error {
	s := h.shared
	s.mu.Lock()
	if s.closed[h.side] {
		s.mu.Unlock()
		return nil
	}
	s.closed[h.side] = true
	s.brokers[h.side].cancelAll(SignalsState{})

	peer := &EventPairDispatcher{shared: s, side: h.other()}
	s.brokers[peer.side].notify(peer.stateLocked())
	s.mu.Unlock()
	return nil
}

// Signal implements MojoSignal for one half of an event pair.
func (h *EventPairDispatcher) Signal(clear, set Signals) error {
	if clear&^SignalAll != 0 || set&^SignalAll != 0 {
		return newErr("MojoSignal", CodeInvalidArgument)
	}
	s := h.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	s.satisfied[h.side] = (s.satisfied[h.side] &^ clear) | set
	s.brokers[h.side].notify(h.stateLocked())
	return nil
}
