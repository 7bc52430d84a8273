package mojocore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessagePipeTransfersHandleAtomically(t *testing.T) {
	core := NewCore(CoreOptions{})

	h0, h1, err := core.CreateMessagePipe(nil)
	require.NoError(t, err)

	bufH, err := core.CreateSharedBuffer(4096, nil)
	require.NoError(t, err)

	require.NoError(t, core.WriteMessage(h0, []byte("payload"), []Handle{bufH}, WriteMessageFlagNone))

	// the sender's table no longer holds the transferred handle.
	_, err = core.GetRights(bufH)
	require.Equal(t, CodeInvalidArgument, CodeOf(err))

	data, handles, mb, mh, err := core.ReadMessage(h1, 64, 4, ReadMessageFlagNone)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
	require.Equal(t, len(data), mb)
	require.Equal(t, 1, mh)
	require.Len(t, handles, 1)

	_, _, err = core.MapBuffer(handles[0], 0, 4096, MapBufferFlagNone)
	require.NoError(t, err)
}

func TestMessagePipeWriteRejectsHandleWithoutTransferRight(t *testing.T) {
	core := NewCore(CoreOptions{})
	h0, h1, err := core.CreateMessagePipe(nil)
	require.NoError(t, err)
	defer core.Close(h1)

	bufH, err := core.CreateSharedBuffer(4096, nil)
	require.NoError(t, err)
	reduced, err := core.DuplicateHandleWithReducedRights(bufH, RightTransfer)
	require.NoError(t, err)

	err = core.WriteMessage(h0, nil, []Handle{reduced}, WriteMessageFlagNone)
	require.Equal(t, CodePermissionDenied, CodeOf(err))

	// validation failed before any handle was removed from the table.
	_, err = core.GetRights(reduced)
	require.NoError(t, err)
}

func TestMessagePipeCannotAttachItself(t *testing.T) {
	core := NewCore(CoreOptions{})
	h0, _, err := core.CreateMessagePipe(nil)
	require.NoError(t, err)

	err = core.WriteMessage(h0, nil, []Handle{h0}, WriteMessageFlagNone)
	require.Equal(t, CodeInvalidArgument, CodeOf(err))
}

func TestMessagePipeReadTooSmallWithoutDiscardLeavesMessageQueued(t *testing.T) {
	core := NewCore(CoreOptions{})
	h0, h1, err := core.CreateMessagePipe(nil)
	require.NoError(t, err)

	require.NoError(t, core.WriteMessage(h0, []byte("hello"), nil, WriteMessageFlagNone))

	_, _, mb, mh, err := core.ReadMessage(h1, 2, 0, ReadMessageFlagNone)
	require.Equal(t, CodeResourceExhausted, CodeOf(err))
	require.Equal(t, 5, mb)
	require.Equal(t, 0, mh)

	// message is still there: a full-size read now succeeds.
	data, _, _, _, err := core.ReadMessage(h1, 5, 0, ReadMessageFlagNone)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestMessagePipeReadMayDiscardDropsOversizedMessage(t *testing.T) {
	core := NewCore(CoreOptions{})
	h0, h1, err := core.CreateMessagePipe(nil)
	require.NoError(t, err)

	require.NoError(t, core.WriteMessage(h0, []byte("hello"), nil, WriteMessageFlagNone))

	_, _, _, _, err = core.ReadMessage(h1, 2, 0, ReadMessageFlagMayDiscard)
	require.Equal(t, CodeResourceExhausted, CodeOf(err))

	_, _, _, _, err = core.ReadMessage(h1, 64, 0, ReadMessageFlagNone)
	require.Equal(t, CodeUnavailable, CodeOf(err), "discarded message must not still be queued")
}

func TestMessagePipeWriteOversizedPayloadResourceExhausted(t *testing.T) {
	core := NewCore(CoreOptions{})
	h0, _, err := core.CreateMessagePipe(nil)
	require.NoError(t, err)

	err = core.WriteMessage(h0, make([]byte, MaxMessageBytes+1), nil, WriteMessageFlagNone)
	require.Equal(t, CodeResourceExhausted, CodeOf(err))
}

func TestMessagePipeClosePropagatesPeerClosedSignal(t *testing.T) {
	core := NewCore(CoreOptions{})
	h0, h1, err := core.CreateMessagePipe(nil)
	require.NoError(t, err)

	require.NoError(t, core.Close(h1))

	state, err := core.SignalsState(h0)
	require.NoError(t, err)
	require.NotZero(t, state.Satisfied&SignalPeerClosed)
	require.Zero(t, state.Satisfiable&SignalWritable)
}
