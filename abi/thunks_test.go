package abi

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xtaci/mojocore"
)

func TestThunkTableSizeMatchesFieldCount(t *testing.T) {
	table := DefaultThunkTable()
	require.Equal(t, uint32(35), table.Size)
}

func TestThunkTableMessagePipeRoundTrip(t *testing.T) {
	Init(mojocore.CoreOptions{})
	table := DefaultThunkTable()

	h0, h1, res := table.CreateMessagePipe(nil)
	require.True(t, res.OK())

	res = table.WriteMessage(h0, []byte("hi"), nil, mojocore.WriteMessageFlagNone)
	require.True(t, res.OK())

	data, _, nb, _, res := table.ReadMessage(h1, 16, 0, mojocore.ReadMessageFlagNone)
	require.True(t, res.OK())
	require.Equal(t, 2, nb)
	require.Equal(t, "hi", string(data))
}

func TestThunkTablePackErrorPreservesCode(t *testing.T) {
	Init(mojocore.CoreOptions{})
	table := DefaultThunkTable()

	_, res := table.GetRights(mojocore.InvalidHandle)
	require.False(t, res.OK())
	require.Equal(t, mojocore.CodeInvalidArgument, res.Code())
	require.Equal(t, SpaceSystem, res.Space())
}

func TestResultPacksAndUnpacks(t *testing.T) {
	r := MakeResult(mojocore.CodeResourceExhausted, SpaceSystem, mojocore.SubcodeBusy)
	require.Equal(t, mojocore.CodeResourceExhausted, r.Code())
	require.Equal(t, SpaceSystem, r.Space())
	require.Equal(t, mojocore.SubcodeBusy, r.Subcode())
	require.False(t, r.OK())
}
