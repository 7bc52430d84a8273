package mojocore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSharedBufferMapThenUnmap(t *testing.T) {
	core := NewCore(CoreOptions{})
	h, err := core.CreateSharedBuffer(100, nil)
	require.NoError(t, err)

	id, view, err := core.MapBuffer(h, 0, 100, MapBufferFlagWritable)
	require.NoError(t, err)
	require.Len(t, view, 100)

	view[0] = 0x42
	require.NoError(t, core.UnmapBuffer(id))

	err = core.UnmapBuffer(id)
	require.Equal(t, CodeInvalidArgument, CodeOf(err), "unmapping twice must fail")
}

func TestSharedBufferMapOutOfRangeOffset(t *testing.T) {
	core := NewCore(CoreOptions{})
	h, err := core.CreateSharedBuffer(100, nil)
	require.NoError(t, err)

	_, _, err = core.MapBuffer(h, 50, 100, MapBufferFlagNone)
	require.Equal(t, CodeInvalidArgument, CodeOf(err))
}

func TestSharedBufferSizeIsRoundedUpToPageButReportedAsRequested(t *testing.T) {
	core := NewCore(CoreOptions{})
	h, err := core.CreateSharedBuffer(10, nil)
	require.NoError(t, err)

	size, err := core.GetBufferInformation(h)
	require.NoError(t, err)
	require.Equal(t, uint64(10), size)
}

func TestSharedBufferDuplicateKeepsRegionAliveUntilLastClose(t *testing.T) {
	core := NewCore(CoreOptions{})
	h, err := core.CreateSharedBuffer(4096, nil)
	require.NoError(t, err)

	dup, err := core.DuplicateHandle(h)
	require.NoError(t, err)

	require.NoError(t, core.Close(h))

	// the duplicate still refers to live backing memory.
	_, _, err = core.MapBuffer(dup, 0, 4096, MapBufferFlagNone)
	require.NoError(t, err)

	require.NoError(t, core.Close(dup))
}

func TestSharedBufferZeroSizeRejected(t *testing.T) {
	core := NewCore(CoreOptions{})
	_, err := core.CreateSharedBuffer(0, nil)
	require.Equal(t, CodeInvalidArgument, CodeOf(err))
}

func TestSharedBufferMapRequiresWriteRightForWritableMapping(t *testing.T) {
	core := NewCore(CoreOptions{})
	h, err := core.CreateSharedBuffer(4096, nil)
	require.NoError(t, err)

	readOnly, err := core.DuplicateHandleWithReducedRights(h, RightWrite)
	require.NoError(t, err)

	_, _, err = core.MapBuffer(readOnly, 0, 4096, MapBufferFlagWritable)
	require.Equal(t, CodePermissionDenied, CodeOf(err))

	_, _, err = core.MapBuffer(readOnly, 0, 4096, MapBufferFlagNone)
	require.NoError(t, err)
}
