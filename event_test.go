package mojocore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventSignalRoundTrip(t *testing.T) {
	core := NewCore(CoreOptions{})
	h, err := core.CreateEvent(nil)
	require.NoError(t, err)

	state, err := core.SignalsState(h)
	require.NoError(t, err)
	require.Zero(t, state.Satisfied)
	require.Equal(t, SignalAll, state.Satisfiable)

	require.NoError(t, core.SignalEvent(h, 0, Signal0|Signal2))
	state, err = core.SignalsState(h)
	require.NoError(t, err)
	require.Equal(t, Signal0|Signal2, state.Satisfied)

	require.NoError(t, core.SignalEvent(h, Signal0, Signal3))
	state, err = core.SignalsState(h)
	require.NoError(t, err)
	require.Equal(t, Signal2|Signal3, state.Satisfied)
}

func TestEventSignalRejectsBitsOutsideSignalAll(t *testing.T) {
	core := NewCore(CoreOptions{})
	h, err := core.CreateEvent(nil)
	require.NoError(t, err)

	err = core.SignalEvent(h, 0, SignalReadable)
	require.Equal(t, CodeInvalidArgument, CodeOf(err))
}

func TestEventSignalRequiresWriteRight(t *testing.T) {
	core := NewCore(CoreOptions{})
	h, err := core.CreateEvent(nil)
	require.NoError(t, err)

	readOnly, err := core.DuplicateHandleWithReducedRights(h, RightWrite)
	require.NoError(t, err)

	err = core.SignalEvent(readOnly, 0, Signal0)
	require.Equal(t, CodePermissionDenied, CodeOf(err))
}

func TestEventWaitResolvesOnceBitIsSet(t *testing.T) {
	core := NewCore(CoreOptions{})
	h, err := core.CreateEvent(nil)
	require.NoError(t, err)

	code, _, err := core.Wait(h, Signal1, 0)
	require.NoError(t, err)
	require.Equal(t, CodeDeadlineExceeded, code)

	require.NoError(t, core.SignalEvent(h, 0, Signal1))
	code, state, err := core.Wait(h, Signal1, 0)
	require.NoError(t, err)
	require.Equal(t, CodeOK, code)
	require.NotZero(t, state.Satisfied&Signal1)
}

func TestEventPairClosureShrinksOtherHalfSatisfiableButKeepsSatisfiedBits(t *testing.T) {
	core := NewCore(CoreOptions{})
	h0, h1, err := core.CreateEventPair(nil)
	require.NoError(t, err)

	require.NoError(t, core.SignalEvent(h0, 0, Signal4))

	require.NoError(t, core.Close(h1))

	state, err := core.SignalsState(h0)
	require.NoError(t, err)
	require.NotZero(t, state.Satisfied&Signal4, "a signal set before the peer closed must remain satisfied")
	require.NotZero(t, state.Satisfied&SignalPeerClosed)
	require.Equal(t, Signal4, state.Satisfiable&SignalAll, "only the already-true bit may remain satisfiable once the peer is gone")
}

func TestEventPairSignalOneHalfDoesNotAffectTheOther(t *testing.T) {
	core := NewCore(CoreOptions{})
	h0, h1, err := core.CreateEventPair(nil)
	require.NoError(t, err)

	require.NoError(t, core.SignalEvent(h0, 0, Signal0))

	state, err := core.SignalsState(h1)
	require.NoError(t, err)
	require.Zero(t, state.Satisfied&Signal0)
}

func TestEventDuplicateSurvivesClosingTheOtherHandle(t *testing.T) {
	core := NewCore(CoreOptions{})
	h0, err := core.CreateEvent(nil)
	require.NoError(t, err)

	h1, err := core.DuplicateHandle(h0)
	require.NoError(t, err)

	require.NoError(t, core.Close(h0))

	// h0 being the last handle a caller happened to hold must not tear
	// down the event out from under h1: it is still a live reference.
	require.NoError(t, core.SignalEvent(h1, 0, Signal0))
	code, state, err := core.Wait(h1, Signal0, 0)
	require.NoError(t, err)
	require.Equal(t, CodeOK, code)
	require.NotZero(t, state.Satisfied&Signal0)

	require.NoError(t, core.Close(h1))
}

func TestEventDuplicateCloseDoesNotCancelSurvivingWaiter(t *testing.T) {
	core := NewCore(CoreOptions{})
	h0, err := core.CreateEvent(nil)
	require.NoError(t, err)
	h1, err := core.DuplicateHandle(h0)
	require.NoError(t, err)

	resultCh := make(chan Code, 1)
	go func() {
		code, _, _ := core.Wait(h1, Signal0, Indefinite)
		resultCh <- code
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, core.Close(h0))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, core.SignalEvent(h1, 0, Signal0))

	select {
	case code := <-resultCh:
		require.Equal(t, CodeOK, code, "closing a duplicate handle must not cancel the survivor's in-flight wait")
	case <-time.After(2 * time.Second):
		t.Fatal("Wait on the surviving handle never resolved")
	}

	require.NoError(t, core.Close(h1))
}
