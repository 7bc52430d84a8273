package mojocore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	closed   bool
	closeErr error
}

func (f *fakeDispatcher) Kind() DispatcherKind      { return KindEvent }
func (f *fakeDispatcher) SignalsState() SignalsState { return SignalsState{} }
func (f *fakeDispatcher) addWaiter(w *waiter) (interface{}, bool) {
	w.deliver(CodeFailedPrecondition, SignalsState{})
	return nil, true
}
func (f *fakeDispatcher) removeWaiter(interface{}) {}
func (f *fakeDispatcher) Close() error {
	f.closed = true
	return f.closeErr
}

func TestHandleTableAddLookup(t *testing.T) {
	tbl := NewHandleTable(0)
	d := &fakeDispatcher{}

	h, err := tbl.Add(d, RightRead|RightWrite)
	require.NoError(t, err)
	require.NotEqual(t, InvalidHandle, h)

	gotDisp, gotRights, err := tbl.Lookup(h)
	require.NoError(t, err)
	require.Same(t, d, gotDisp)
	require.Equal(t, RightRead|RightWrite, gotRights)
}

func TestHandleTableLookupInvalid(t *testing.T) {
	tbl := NewHandleTable(0)
	_, _, err := tbl.Lookup(Handle(999))
	require.Equal(t, CodeInvalidArgument, CodeOf(err))
}

func TestHandleTableDuplicateRequiresRight(t *testing.T) {
	tbl := NewHandleTable(0)
	d := &fakeDispatcher{}
	h, err := tbl.Add(d, RightRead)
	require.NoError(t, err)

	_, err = tbl.Duplicate(h)
	require.Equal(t, CodePermissionDenied, CodeOf(err))
}

func TestHandleTableDuplicateRoundTripLeavesOriginalRightsUnchanged(t *testing.T) {
	tbl := NewHandleTable(0)
	d := &fakeDispatcher{}
	h, err := tbl.Add(d, RightRead|RightDuplicate|RightWrite)
	require.NoError(t, err)

	dup, err := tbl.Duplicate(h)
	require.NoError(t, err)
	require.NoError(t, tbl.Close(dup))

	rights, err := tbl.GetRights(h)
	require.NoError(t, err)
	require.Equal(t, RightRead|RightDuplicate|RightWrite, rights)
	require.False(t, d.closed, "closing the duplicate must not close the shared dispatcher")
}

func TestHandleTableDuplicateWithReducedRights(t *testing.T) {
	tbl := NewHandleTable(0)
	d := &fakeDispatcher{}
	h, err := tbl.Add(d, RightRead|RightWrite|RightDuplicate)
	require.NoError(t, err)

	reduced, err := tbl.DuplicateWithReducedRights(h, RightWrite)
	require.NoError(t, err)

	rights, err := tbl.GetRights(reduced)
	require.NoError(t, err)
	require.Equal(t, RightRead|RightDuplicate, rights)

	// original is untouched.
	rights, err = tbl.GetRights(h)
	require.NoError(t, err)
	require.Equal(t, RightRead|RightWrite|RightDuplicate, rights)
}

func TestHandleTableReplaceWithReducedRights(t *testing.T) {
	tbl := NewHandleTable(0)
	d := &fakeDispatcher{}
	h, err := tbl.Add(d, RightRead|RightWrite)
	require.NoError(t, err)

	replacement, err := tbl.ReplaceWithReducedRights(h, RightWrite)
	require.NoError(t, err)
	require.NotEqual(t, h, replacement)

	_, _, err = tbl.Lookup(h)
	require.Equal(t, CodeInvalidArgument, CodeOf(err), "old handle must no longer resolve")

	rights, err := tbl.GetRights(replacement)
	require.NoError(t, err)
	require.Equal(t, RightRead, rights)
}

func TestHandleTableCloseDestroysOnLastReference(t *testing.T) {
	tbl := NewHandleTable(0)
	d := &fakeDispatcher{}
	h, err := tbl.Add(d, RightDuplicate)
	require.NoError(t, err)

	dup, err := tbl.Duplicate(h)
	require.NoError(t, err)

	require.NoError(t, tbl.Close(h))
	require.False(t, d.closed, "dispatcher must survive while a duplicate handle remains")

	require.NoError(t, tbl.Close(dup))
	require.True(t, d.closed, "dispatcher must be destroyed once its last handle closes")
}

func TestHandleTableTransferOutRequiresTransferRight(t *testing.T) {
	tbl := NewHandleTable(0)
	d := &fakeDispatcher{}
	h, err := tbl.Add(d, RightRead)
	require.NoError(t, err)

	_, _, err = tbl.TransferOut(h)
	require.Equal(t, CodePermissionDenied, CodeOf(err))

	_, _, err = tbl.Lookup(h)
	require.NoError(t, err, "a failed TransferOut must not remove the handle")
}

func TestHandleTableTransferOutRemovesHandle(t *testing.T) {
	tbl := NewHandleTable(0)
	d := &fakeDispatcher{}
	h, err := tbl.Add(d, RightTransfer)
	require.NoError(t, err)

	gotDisp, gotRights, err := tbl.TransferOut(h)
	require.NoError(t, err)
	require.Same(t, d, gotDisp)
	require.Equal(t, RightTransfer, gotRights)

	_, _, err = tbl.Lookup(h)
	require.Equal(t, CodeInvalidArgument, CodeOf(err))
}

func TestHandleTableResourceExhausted(t *testing.T) {
	tbl := NewHandleTable(1)
	_, err := tbl.Add(&fakeDispatcher{}, RightRead)
	require.NoError(t, err)

	_, err = tbl.Add(&fakeDispatcher{}, RightRead)
	require.Equal(t, CodeResourceExhausted, CodeOf(err))
}
