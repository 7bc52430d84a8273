package mojocore

import (
	"sync"
	"time"
)

// WaitSetResult is one outcome delivered by WaitSetWait (spec.md §4.7).
type WaitSetResult struct {
	Cookie uint64
	Code   Code
	State  SignalsState
}

// wsEntry is one long-lived monitored (handle, signals, cookie) triple.
// Each entry runs its own monitor goroutine that keeps re-arming a waiter
// against disp so it behaves like the spec's "long-lived waiter... triggers
// independently of a caller being blocked," rather than a single-shot wait —
// grounded on the teacher's one-goroutine-per-connection shape
// (socket515-gaio's per-fdDesc bookkeeping), here one per wait-set entry
// instead of one per file descriptor.
type wsEntry struct {
	cookie  uint64
	disp    Dispatcher
	signals Signals

	current *waiter // the waiter currently outstanding against disp, if any
	token   interface{}
	removed bool
}

// WaitSetDispatcher implements spec.md §4.7.
type WaitSetDispatcher struct {
	mu      sync.Mutex
	closed  bool
	entries map[uint64]*wsEntry

	readyOrder []uint64
	readyMap   map[uint64]WaitSetResult
	wake       chan struct{} // buffered 1; signalled whenever readyOrder grows
}

// NewWaitSet creates an empty wait set (spec.md §4.7).
func NewWaitSet() *WaitSetDispatcher {
	return &WaitSetDispatcher{
		entries:  make(map[uint64]*wsEntry),
		readyMap: make(map[uint64]WaitSetResult),
		wake:     make(chan struct{}, 1),
	}
}

func (ws *WaitSetDispatcher) Kind() DispatcherKind { return KindWaitSet }

func (ws *WaitSetDispatcher) defaultRights() Rights {
	return RightRead | RightWrite | RightGetOptions | RightSetOptions | RightTransfer
}

// SignalsState: a wait set itself never carries a dynamic signal; readiness
// is retrieved only through WaitSetWait, not the generic Wait/WaitMany path.
func (ws *WaitSetDispatcher) SignalsState() SignalsState { return SignalsState{} }

func (ws *WaitSetDispatcher) addWaiter(w *waiter) (interface{}, bool) {
	w.deliver(CodeFailedPrecondition, SignalsState{})
	return nil, true
}

func (ws *WaitSetDispatcher) removeWaiter(interface{}) {}

// Close tears down every monitored entry and wakes any blocked WaitSetWait
// with CANCELLED.
func (ws *WaitSetDispatcher) Close() error {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil
	}
	ws.closed = true
	cookies := make([]uint64, 0, len(ws.entries))
	for c := range ws.entries {
		cookies = append(cookies, c)
	}
	ws.mu.Unlock()

	for _, c := range cookies {
		ws.Remove(c)
	}
	ws.wakeUp()
	return nil
}

func (ws *WaitSetDispatcher) wakeUp() {
	select {
	case ws.wake <- struct{}{}:
	default:
	}
}

// Add inserts a new monitored entry (spec.md §4.7).
func (ws *WaitSetDispatcher) Add(disp Dispatcher, signals Signals, cookie uint64) error {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return newErr("WaitSetAdd", CodeFailedPrecondition)
	}
	if _, exists := ws.entries[cookie]; exists {
		ws.mu.Unlock()
		return newErr("WaitSetAdd", CodeAlreadyExists)
	}
	e := &wsEntry{cookie: cookie, disp: disp, signals: signals}
	ws.entries[cookie] = e
	ws.mu.Unlock()

	go ws.monitor(e)
	return nil
}

// Remove detaches cookie, cancelling its outstanding waiter if any
// (spec.md §4.7).
func (ws *WaitSetDispatcher) Remove(cookie uint64) error {
	ws.mu.Lock()
	e, ok := ws.entries[cookie]
	if !ok {
		ws.mu.Unlock()
		return newErr("WaitSetRemove", CodeNotFound)
	}
	delete(ws.entries, cookie)
	e.removed = true
	cur := e.current
	tok := e.token
	ws.removeReadyLocked(cookie)
	ws.mu.Unlock()

	e.disp.removeWaiter(tok)
	if cur != nil {
		// unblocks monitor's pending receive even if disp never fires again;
		// a no-op if disp already delivered (waiter.deliver is once-only).
		cur.deliver(CodeCancelled, SignalsState{})
	}
	return nil
}

// monitor keeps one entry continuously armed against its dispatcher,
// pushing a WaitSetResult every time the waiter resolves. CANCELLED and
// FAILED_PRECONDITION are both permanent (the entry was torn down, or
// e.signals can never become satisfiable again since satisfiable only
// shrinks), so neither re-arms. An OK delivery, on the other hand, may
// reflect a signal that is still latched true (a set SIGNAL0, bytes still
// sitting in a data pipe): addWaiter would resolve immediately again and
// peg this goroutine at 100% CPU, so monitor waits for the condition to
// actually clear before looking again.
func (ws *WaitSetDispatcher) monitor(e *wsEntry) {
	for {
		ws.mu.Lock()
		if e.removed {
			ws.mu.Unlock()
			return
		}
		w := newWaiter(e.signals)
		token, _ := e.disp.addWaiter(w)
		e.current = w
		e.token = token
		ws.mu.Unlock()

		out := <-w.ch

		ws.mu.Lock()
		if e.removed {
			ws.mu.Unlock()
			return
		}
		ws.pushReadyLocked(e.cookie, out.code, out.state)
		if out.code == CodeCancelled || out.code == CodeFailedPrecondition {
			delete(ws.entries, e.cookie)
			ws.mu.Unlock()
			return
		}
		ws.mu.Unlock()

		if !ws.waitForClear(e) {
			return
		}
	}
}

// waitForClear blocks until e.signals is no longer satisfied on e.disp.
// The signal model only raises wake events on becoming satisfied or
// becoming permanently unsatisfiable, never on merely clearing, so this
// polls at a modest interval rather than spinning. Returns false if the
// entry was removed while waiting.
func (ws *WaitSetDispatcher) waitForClear(e *wsEntry) bool {
	const pollInterval = 2 * time.Millisecond
	for {
		ws.mu.Lock()
		removed := e.removed
		ws.mu.Unlock()
		if removed {
			return false
		}
		if e.disp.SignalsState().Satisfied&e.signals == 0 {
			return true
		}
		time.Sleep(pollInterval)
	}
}

// pushReadyLocked records a result for cookie, replacing any prior one still
// pending delivery. Caller must hold ws.mu.
func (ws *WaitSetDispatcher) pushReadyLocked(cookie uint64, code Code, state SignalsState) {
	if _, exists := ws.readyMap[cookie]; !exists {
		ws.readyOrder = append(ws.readyOrder, cookie)
	}
	ws.readyMap[cookie] = WaitSetResult{Cookie: cookie, Code: code, State: state}
	ws.wakeUp()
}

func (ws *WaitSetDispatcher) removeReadyLocked(cookie uint64) {
	if _, exists := ws.readyMap[cookie]; !exists {
		return
	}
	delete(ws.readyMap, cookie)
	for i, c := range ws.readyOrder {
		if c == cookie {
			ws.readyOrder = append(ws.readyOrder[:i], ws.readyOrder[i+1:]...)
			break
		}
	}
}

// drain pops up to maxResults ready results in arrival order, returning the
// total that were ready before draining (spec.md §4.7's out_max_results).
func (ws *WaitSetDispatcher) drain(maxResults int) ([]WaitSetResult, int) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	total := len(ws.readyOrder)
	n := maxResults
	if n > total {
		n = total
	}
	out := make([]WaitSetResult, 0, n)
	for i := 0; i < n; i++ {
		c := ws.readyOrder[i]
		out = append(out, ws.readyMap[c])
		delete(ws.readyMap, c)
	}
	ws.readyOrder = ws.readyOrder[n:]
	return out, total
}

// WaitSetWait implements spec.md §4.7's blocking retrieval.
func (ws *WaitSetDispatcher) WaitSetWait(deadline uint64, maxResults int, clk Clock, sched *deadlineScheduler) ([]WaitSetResult, int, error) {
	var timeoutCh chan struct{}
	var pd *pendingDeadline
	if deadline != 0 && deadline != Indefinite {
		timeoutCh = make(chan struct{}, 1)
		when, indefinite := deadlineTicks(clk, deadline)
		if !indefinite {
			pd = sched.schedule(when, func() {
				select {
				case timeoutCh <- struct{}{}:
				default:
				}
			})
		}
	}
	if pd != nil {
		defer sched.cancel(pd)
	}

	for {
		ws.mu.Lock()
		n := len(ws.readyOrder)
		closed := ws.closed
		ws.mu.Unlock()

		if n > 0 {
			out, total := ws.drain(maxResults)
			return out, total, nil
		}
		if closed {
			return nil, 0, newErr("WaitSetWait", CodeCancelled)
		}
		if deadline == 0 {
			return nil, 0, newErr("WaitSetWait", CodeDeadlineExceeded)
		}
		if deadline == Indefinite {
			<-ws.wake
			continue
		}
		select {
		case <-ws.wake:
		case <-timeoutCh:
			return nil, 0, newErr("WaitSetWait", CodeDeadlineExceeded)
		}
	}
}
