package mojocore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitSetAddSignalWait(t *testing.T) {
	core := NewCore(CoreOptions{})
	wsH, err := core.CreateWaitSet(nil)
	require.NoError(t, err)

	eventH, err := core.CreateEvent(nil)
	require.NoError(t, err)

	require.NoError(t, core.WaitSetAdd(wsH, eventH, Signal0, 7, nil))
	require.NoError(t, core.SignalEvent(eventH, 0, Signal0))

	results, total, err := core.WaitSetWait(wsH, Indefinite, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, results, 1)
	require.Equal(t, uint64(7), results[0].Cookie)
	require.Equal(t, CodeOK, results[0].Code)
}

func TestWaitSetAddDuplicateCookieFails(t *testing.T) {
	core := NewCore(CoreOptions{})
	wsH, err := core.CreateWaitSet(nil)
	require.NoError(t, err)
	eventH, err := core.CreateEvent(nil)
	require.NoError(t, err)

	require.NoError(t, core.WaitSetAdd(wsH, eventH, Signal0, 1, nil))
	err = core.WaitSetAdd(wsH, eventH, Signal1, 1, nil)
	require.Equal(t, CodeAlreadyExists, CodeOf(err))
}

func TestWaitSetRemoveUnknownCookieFails(t *testing.T) {
	core := NewCore(CoreOptions{})
	wsH, err := core.CreateWaitSet(nil)
	require.NoError(t, err)

	err = core.WaitSetRemove(wsH, 999)
	require.Equal(t, CodeNotFound, CodeOf(err))
}

func TestWaitSetWaitTimesOutWithNoReadyEntries(t *testing.T) {
	core := NewCore(CoreOptions{})
	wsH, err := core.CreateWaitSet(nil)
	require.NoError(t, err)
	eventH, err := core.CreateEvent(nil)
	require.NoError(t, err)
	require.NoError(t, core.WaitSetAdd(wsH, eventH, Signal0, 1, nil))

	_, _, err = core.WaitSetWait(wsH, 0, 10)
	require.Equal(t, CodeDeadlineExceeded, CodeOf(err))
}

func TestWaitSetRemoveStopsFurtherDelivery(t *testing.T) {
	core := NewCore(CoreOptions{})
	wsH, err := core.CreateWaitSet(nil)
	require.NoError(t, err)
	eventH, err := core.CreateEvent(nil)
	require.NoError(t, err)
	require.NoError(t, core.WaitSetAdd(wsH, eventH, Signal0, 3, nil))

	require.NoError(t, core.WaitSetRemove(wsH, 3))
	require.NoError(t, core.SignalEvent(eventH, 0, Signal0))

	_, _, err = core.WaitSetWait(wsH, 0, 10)
	require.Equal(t, CodeDeadlineExceeded, CodeOf(err))
}

func TestWaitSetCloseWakesBlockedWaitWithCancelled(t *testing.T) {
	core := NewCore(CoreOptions{})
	wsH, err := core.CreateWaitSet(nil)
	require.NoError(t, err)

	resultCh := make(chan error, 1)
	go func() {
		_, _, err := core.WaitSetWait(wsH, Indefinite, 10)
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, core.Close(wsH))

	select {
	case err := <-resultCh:
		require.Equal(t, CodeCancelled, CodeOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("WaitSetWait did not unblock after the wait set closed")
	}
}

func TestWaitSetAddReArmsAfterSignalClearsAndRetriggers(t *testing.T) {
	core := NewCore(CoreOptions{})
	wsH, err := core.CreateWaitSet(nil)
	require.NoError(t, err)
	eventH, err := core.CreateEvent(nil)
	require.NoError(t, err)

	require.NoError(t, core.WaitSetAdd(wsH, eventH, Signal0, 5, nil))
	require.NoError(t, core.SignalEvent(eventH, 0, Signal0))

	results, _, err := core.WaitSetWait(wsH, Indefinite, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, CodeOK, results[0].Code)

	// Clearing and re-setting the bit must produce a fresh ready result
	// once the monitor goroutine notices the clear (rather than spinning
	// forever on the latched-true state it just reported).
	require.NoError(t, core.SignalEvent(eventH, Signal0, 0))
	// the monitor polls for the clear, so keep the bit clear long enough
	// for it to be observed.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, core.SignalEvent(eventH, 0, Signal0))

	require.Eventually(t, func() bool {
		results, _, err := core.WaitSetWait(wsH, 0, 10)
		return err == nil && len(results) == 1 && results[0].Code == CodeOK
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWaitSetAddOnClosedPeerStopsMonitoringAfterFailedPrecondition(t *testing.T) {
	core := NewCore(CoreOptions{})
	wsH, err := core.CreateWaitSet(nil)
	require.NoError(t, err)
	h0, h1, err := core.CreateMessagePipe(nil)
	require.NoError(t, err)

	require.NoError(t, core.WaitSetAdd(wsH, h0, SignalReadable, 9, nil))
	require.NoError(t, core.Close(h1))

	results, _, err := core.WaitSetWait(wsH, Indefinite, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, CodeFailedPrecondition, results[0].Code)

	// FAILED_PRECONDITION is permanent (satisfiable only shrinks), so the
	// entry must have been torn down rather than spinning on re-arms that
	// would just resolve the same way forever.
	_, _, err = core.WaitSetWait(wsH, 0, 10)
	require.Equal(t, CodeDeadlineExceeded, CodeOf(err))
}

func TestWaitSetDrainRespectsMaxResults(t *testing.T) {
	core := NewCore(CoreOptions{})
	wsH, err := core.CreateWaitSet(nil)
	require.NoError(t, err)

	const n = 4
	events := make([]Handle, n)
	for i := 0; i < n; i++ {
		eventH, err := core.CreateEvent(nil)
		require.NoError(t, err)
		events[i] = eventH
		require.NoError(t, core.WaitSetAdd(wsH, eventH, Signal0, uint64(i), nil))
	}
	for _, e := range events {
		require.NoError(t, core.SignalEvent(e, 0, Signal0))
	}

	// give the monitor goroutines time to observe all four signalled events
	// before draining, so total reflects the full ready set.
	time.Sleep(50 * time.Millisecond)

	results, total, err := core.WaitSetWait(wsH, Indefinite, 2)
	require.NoError(t, err)
	require.Equal(t, n, total)
	require.Len(t, results, 2)
}
