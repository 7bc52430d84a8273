package mojocore

import (
	"container/list"
	"sync"
)

// transferredHandle is a dispatcher+rights pair in flight inside a
// message, already removed from any HandleTable (spec.md §4.3: "remove
// from the sender's handle table and enqueue").
type transferredHandle struct {
	dispatcher Dispatcher
	rights     Rights
}

// pipeMessage is one queued datagram: bytes plus attached handles,
// delivered as an atomic unit (spec.md §3, §5).
type pipeMessage struct {
	bytes   []byte
	handles []transferredHandle
}

// messagePipeShared is the two-queue structure shared by both endpoints
// of a message pipe, under one lock per spec.md §5 rule 3 ("peered
// dispatchers... share a single lock"). queues[i] holds messages written
// by the peer for endpoint i to read, mirroring the teacher's per-fd
// desc.readers/desc.writers list.List FIFOs.
type messagePipeShared struct {
	mu      sync.Mutex
	queues  [2]list.List
	closed  [2]bool
	brokers [2]signalBroker
	logger  *coreLogger
}

// MessagePipeEndpoint is one side of a message pipe (spec.md §4.3).
type MessagePipeEndpoint struct {
	shared *messagePipeShared
	side   int
}

// NewMessagePipe creates two connected endpoints, each with
// READ|WRITE|GET_OPTIONS|SET_OPTIONS|TRANSFER and no DUPLICATE
// (spec.md §4.3).
func NewMessagePipe(logger *coreLogger) (e0, e1 *MessagePipeEndpoint) {
	shared := &messagePipeShared{logger: logger}
	return &MessagePipeEndpoint{shared: shared, side: 0},
		&MessagePipeEndpoint{shared: shared, side: 1}
}

func (e *MessagePipeEndpoint) Kind() DispatcherKind { return KindMessagePipe }

func (e *MessagePipeEndpoint) defaultRights() Rights {
	return RightRead | RightWrite | RightGetOptions | RightSetOptions | RightTransfer
}

func (e *MessagePipeEndpoint) other() int { return 1 - e.side }

// peerClosedNow reports whether e's peer has already closed, checked by
// Core.WriteMessage before it starts removing handles from the sender's
// table, so a closed peer never causes a partial handle transfer.
func (e *MessagePipeEndpoint) peerClosedNow() bool {
	s := e.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed[e.other()]
}

// stateLocked computes the current SignalsState for e.side. Caller must hold
// shared.mu.
func (e *MessagePipeEndpoint) stateLocked() SignalsState {
	s := e.shared
	peerClosed := s.closed[e.other()]
	queueLen := s.queues[e.side].Len()

	var satisfied, satisfiable Signals
	if queueLen > 0 {
		satisfied |= SignalReadable
	}
	if queueLen > 0 || !peerClosed {
		satisfiable |= SignalReadable
	}
	if !peerClosed {
		satisfied |= SignalWritable
		satisfiable |= SignalWritable
	}
	if peerClosed {
		satisfied |= SignalPeerClosed
	}
	satisfiable |= SignalPeerClosed
	return SignalsState{Satisfied: satisfied, Satisfiable: satisfiable}
}

func (e *MessagePipeEndpoint) SignalsState() SignalsState {
	s := e.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.stateLocked()
}

func (e *MessagePipeEndpoint) addWaiter(w *waiter) (interface{}, bool) {
	s := e.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	state := e.stateLocked()
	if state.Satisfied&w.signals != 0 {
		w.deliver(CodeOK, state)
		return nil, true
	}
	if state.Satisfiable&w.signals == 0 {
		w.deliver(CodeFailedPrecondition, state)
		return nil, true
	}
	elem := s.brokers[e.side].register(w)
	return elem, false
}

func (e *MessagePipeEndpoint) removeWaiter(token interface{}) {
	if token == nil {
		return
	}
	s := e.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokers[e.side].unregister(token.(*list.Element))
}

// Close tears down e's side. Any messages still queued for e (and thus
// never going to be read) have their attached handles closed to avoid
// leaking dispatchers, matching spec.md §3's "destruction... triggers
// peer-closed signal propagation where applicable."
func (e *MessagePipeEndpoint) Close() error {
	s := e.shared
	s.mu.Lock()
	if s.closed[e.side] {
		s.mu.Unlock()
		return nil
	}
	s.closed[e.side] = true

	// drop unread messages destined for this endpoint, closing any
	// handles they still carry.
	var undelivered []transferredHandle
	q := &s.queues[e.side]
	for el := q.Front(); el != nil; el = el.Next() {
		undelivered = append(undelivered, el.Value.(*pipeMessage).handles...)
	}
	q.Init()

	// wake this side's own waiters (being destroyed -> CANCELLED).
	s.brokers[e.side].cancelAll(SignalsState{})

	// recompute and propagate to the peer.
	peerEP := &MessagePipeEndpoint{shared: s, side: e.other()}
	peerState := peerEP.stateLocked()
	s.brokers[peerEP.side].notify(peerState)
	s.mu.Unlock()

	for _, th := range undelivered {
		th.dispatcher.Close()
	}
	return nil
}

// writeMessage implements spec.md §4.3. handles have already been
// validated (TRANSFER right, not self) and removed from the sender's
// table by the caller (core.go); writeMessage only enqueues them.
func (e *MessagePipeEndpoint) writeMessage(data []byte, handles []transferredHandle) error {
	s := e.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed[e.other()] {
		return newErr("WriteMessage", CodeFailedPrecondition)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	s.queues[e.other()].PushBack(&pipeMessage{bytes: buf, handles: handles})

	peerEP := &MessagePipeEndpoint{shared: s, side: e.other()}
	s.brokers[e.other()].notify(peerEP.stateLocked())
	return nil
}

// readMessage implements spec.md §4.3's peek/size/copy/dequeue contract.
// It returns the message's byte/handle counts even when the provided
// buffers are too small, matching the "peek size" boundary behavior.
func (e *MessagePipeEndpoint) readMessage(byteCap, handleCap int, mayDiscard bool) (data []byte, handles []transferredHandle, msgBytes, msgHandles int, err error) {
	s := e.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	q := &s.queues[e.side]
	front := q.Front()
	if front == nil {
		if s.closed[e.other()] {
			return nil, nil, 0, 0, newErr("ReadMessage", CodeFailedPrecondition)
		}
		return nil, nil, 0, 0, newErrSub("ReadMessage", CodeUnavailable, SubcodeShouldWait)
	}

	msg := front.Value.(*pipeMessage)
	msgBytes = len(msg.bytes)
	msgHandles = len(msg.handles)

	if msgBytes > byteCap || msgHandles > handleCap {
		if mayDiscard {
			q.Remove(front)
			for _, th := range msg.handles {
				th.dispatcher.Close()
			}
			e.notifyOwnStateLocked()
		}
		return nil, nil, msgBytes, msgHandles, newErr("ReadMessage", CodeResourceExhausted)
	}

	q.Remove(front)
	e.notifyOwnStateLocked()
	return msg.bytes, msg.handles, msgBytes, msgHandles, nil
}

// notifyOwnStateLocked recomputes and broadcasts e's own signal state
// after its queue changed. Caller must hold shared.mu.
func (e *MessagePipeEndpoint) notifyOwnStateLocked() {
	s := e.shared
	s.brokers[e.side].notify(e.stateLocked())
}
