package mojocore

import "reflect"

// Wait blocks the calling goroutine until one of signals becomes satisfied
// or unsatisfiable on d, or deadline microseconds elapse (spec.md §4.2).
// deadline == Indefinite disables the timer; deadline == 0 makes the
// immediate three-way test the entire operation.
func Wait(d Dispatcher, signals Signals, deadline uint64, clk Clock, sched *deadlineScheduler) (Code, SignalsState) {
	w := newWaiter(signals)
	token, resolved := d.addWaiter(w)
	if resolved {
		out := <-w.ch
		return out.code, out.state
	}

	if deadline == 0 {
		d.removeWaiter(token)
		return CodeDeadlineExceeded, d.SignalsState()
	}

	var pd *pendingDeadline
	if deadline != Indefinite {
		when, indefinite := deadlineTicks(clk, deadline)
		if !indefinite {
			pd = sched.schedule(when, func() {
				w.deliver(CodeDeadlineExceeded, d.SignalsState())
			})
		}
	}

	out := <-w.ch
	if pd != nil {
		sched.cancel(pd)
	}
	d.removeWaiter(token)
	return out.code, out.state
}

// WaitMany evaluates the OR of signals[i] against ds[i] for every i
// (spec.md §4.2). If any condition resolves immediately, the
// lowest-numbered such index wins and states are refreshed for every
// dispatcher before return. Otherwise one waiter is registered per
// dispatcher and the first to fire wakes the whole group; index is -1 if
// the group instead times out.
func WaitMany(ds []Dispatcher, signals []Signals, deadline uint64, clk Clock, sched *deadlineScheduler) (index int, code Code, states []SignalsState) {
	n := len(ds)
	waiters := make([]*waiter, n)
	tokens := make([]interface{}, n)
	resolvedIdx := -1
	var resolvedOut waitOutcome

	for i := 0; i < n; i++ {
		w := newWaiter(signals[i])
		waiters[i] = w
		tok, resolved := ds[i].addWaiter(w)
		tokens[i] = tok
		if resolved {
			out := <-w.ch
			if resolvedIdx == -1 {
				resolvedIdx = i
				resolvedOut = out
			}
		}
	}

	if resolvedIdx != -1 {
		for i := 0; i < n; i++ {
			ds[i].removeWaiter(tokens[i])
		}
		return resolvedIdx, resolvedOut.code, refreshStates(ds)
	}

	if deadline == 0 {
		for i := 0; i < n; i++ {
			ds[i].removeWaiter(tokens[i])
		}
		return -1, CodeDeadlineExceeded, refreshStates(ds)
	}

	timeoutCh := make(chan struct{}, 1)
	var pd *pendingDeadline
	if deadline != Indefinite {
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

	cases := make([]reflect.SelectCase, n+1)
	for i, w := range waiters {
		cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(w.ch)}
	}
	cases[n] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timeoutCh)}

	chosen, recv, _ := reflect.Select(cases)
	if pd != nil {
		sched.cancel(pd)
	}
	for i := 0; i < n; i++ {
		ds[i].removeWaiter(tokens[i])
	}

	if chosen == n {
		return -1, CodeDeadlineExceeded, refreshStates(ds)
	}
	out := recv.Interface().(waitOutcome)
	return chosen, out.code, refreshStates(ds)
}

func refreshStates(ds []Dispatcher) []SignalsState {
	states := make([]SignalsState, len(ds))
	for i, d := range ds {
		states[i] = d.SignalsState()
	}
	return states
}
