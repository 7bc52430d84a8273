package mojocore

// DispatcherKind tags the concrete variant behind a Dispatcher, used only
// for logging/diagnostics (type switches elsewhere use the interface
// methods, not this tag) — spec.md §9 allows either a tagged variant or a
// polymorphic abstraction; this module uses the latter and keeps Kind()
// purely for observability.
type DispatcherKind uint8

const (
	KindMessagePipe DispatcherKind = iota
	KindDataPipeProducer
	KindDataPipeConsumer
	KindSharedBuffer
	KindEvent
	KindEventPair
	KindWaitSet
)

func (k DispatcherKind) String() string {
	switch k {
	case KindMessagePipe:
		return "MessagePipe"
	case KindDataPipeProducer:
		return "DataPipeProducer"
	case KindDataPipeConsumer:
		return "DataPipeConsumer"
	case KindSharedBuffer:
		return "SharedBuffer"
	case KindEvent:
		return "Event"
	case KindEventPair:
		return "EventPair"
	case KindWaitSet:
		return "WaitSet"
	default:
		return "Unknown"
	}
}

// Dispatcher is the kernel object behind a Handle (spec.md §3). Every
// operation in §4 ultimately resolves a Handle to a Dispatcher via the
// HandleTable and calls one of these, or a type-specific method reached
// by asserting to the dispatcher's concrete type.
type Dispatcher interface {
	Kind() DispatcherKind

	// SignalsState returns the dispatcher's current (satisfied,
	// satisfiable) pair. Implementations take their own lock.
	SignalsState() SignalsState

	// addWaiter registers w to be woken by future signal transitions,
	// unless the current state already resolves it (OK or
	// FAILED_PRECONDITION), in which case addWaiter resolves it
	// immediately and returns resolvedNow=true with a nil token (no
	// registration took place).
	addWaiter(w *waiter) (token interface{}, resolvedNow bool)

	// removeWaiter cancels a registration made by addWaiter. Safe to call
	// after the waiter already fired.
	removeWaiter(token interface{})

	// Close releases the dispatcher's share of whatever it owns. Called
	// by HandleTable.Close once the last handle referencing it is
	// dropped; on a peered dispatcher this triggers peer-closed signal
	// propagation.
	Close() error
}

// rightsGate is implemented by dispatchers that need to hand out a
// default set of rights at creation time, queried by Core's CreateXxx
// helpers.
type rightsGate interface {
	defaultRights() Rights
}
