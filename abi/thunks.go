package abi

import (
	"reflect"
	"sync"

	"github.com/xtaci/mojocore"
)

var (
	defaultCoreOnce sync.Once
	defaultCore     *mojocore.Core
)

// Init installs the process-wide Core used by every thunk below. Calling it
// is optional: the first thunk call lazily creates a Core with default
// options (a no-op logger, the system clock) if Init was never called.
func Init(opts mojocore.CoreOptions) {
	defaultCore = mojocore.NewCore(opts)
}

func core() *mojocore.Core {
	defaultCoreOnce.Do(func() {
		if defaultCore == nil {
			defaultCore = mojocore.NewCore(mojocore.CoreOptions{})
		}
	})
	return defaultCore
}

// ThunkTable is the ABI-frozen struct of entry points described in
// spec.md §6: a leading Size field followed by one function value per
// Mojo<Verb>, in the exact order listed there. New entries only ever
// append past the end.
type ThunkTable struct {
	Size uint32

	// Handle table
	Close                             func(h mojocore.Handle) Result
	GetRights                         func(h mojocore.Handle) (mojocore.Rights, Result)
	DuplicateHandle                   func(h mojocore.Handle) (mojocore.Handle, Result)
	DuplicateHandleWithReducedRights  func(h mojocore.Handle, rightsToRemove mojocore.Rights) (mojocore.Handle, Result)
	ReplaceHandleWithReducedRights    func(h mojocore.Handle, rightsToRemove mojocore.Rights) (mojocore.Handle, Result)

	// Wait
	Wait             func(h mojocore.Handle, signals mojocore.Signals, deadline uint64) (mojocore.SignalsState, Result)
	WaitMany         func(handles []mojocore.Handle, signals []mojocore.Signals, deadline uint64) (int, []mojocore.SignalsState, Result)
	GetTimeTicksNow  func() mojocore.TimeTicks

	// Message pipe
	CreateMessagePipe func(opts *mojocore.CreateMessagePipeOptions) (mojocore.Handle, mojocore.Handle, Result)
	WriteMessage      func(h mojocore.Handle, data []byte, handles []mojocore.Handle, flags mojocore.WriteMessageFlags) Result
	ReadMessage       func(h mojocore.Handle, byteCap, handleCap int, flags mojocore.ReadMessageFlags) ([]byte, []mojocore.Handle, int, int, Result)

	// Data pipe
	CreateDataPipe              func(opts *mojocore.CreateDataPipeOptions) (mojocore.Handle, mojocore.Handle, Result)
	WriteData                   func(h mojocore.Handle, data []byte, flags mojocore.WriteDataFlags) (int, Result)
	BeginWriteData               func(h mojocore.Handle) ([]byte, Result)
	EndWriteData                func(h mojocore.Handle, numBytesWritten int) Result
	ReadData                    func(h mojocore.Handle, dst []byte, flags mojocore.ReadDataFlags) (int, Result)
	BeginReadData                func(h mojocore.Handle) ([]byte, Result)
	EndReadData                  func(h mojocore.Handle, numBytesRead int) Result
	SetDataPipeProducerOptions   func(h mojocore.Handle, writeThreshold uint32) Result
	SetDataPipeConsumerOptions   func(h mojocore.Handle, readThreshold uint32) Result
	GetDataPipeProducerOptions   func(h mojocore.Handle) (uint32, Result)
	GetDataPipeConsumerOptions   func(h mojocore.Handle) (uint32, Result)

	// Shared buffer
	CreateSharedBuffer   func(numBytes uint64, opts *mojocore.CreateSharedBufferOptions) (mojocore.Handle, Result)
	DuplicateBufferHandle func(h mojocore.Handle, opts *mojocore.DuplicateBufferHandleOptions) (mojocore.Handle, Result)
	MapBuffer            func(h mojocore.Handle, offset, numBytes uint64, flags mojocore.MapBufferFlags) (mojocore.MappingID, []byte, Result)
	UnmapBuffer          func(id mojocore.MappingID) Result
	GetBufferInformation func(h mojocore.Handle) (uint64, Result)

	// Events
	MojoCreateEvent     func(opts *mojocore.CreateEventOptions) (mojocore.Handle, Result)
	MojoEventSignal     func(h mojocore.Handle, clear, set mojocore.Signals) Result
	MojoCreateEventPair func(opts *mojocore.CreateEventPairOptions) (mojocore.Handle, mojocore.Handle, Result)
	MojoSignal          func(h mojocore.Handle, clear, set mojocore.Signals) Result

	// Wait set
	CreateWaitSet func(opts *mojocore.CreateWaitSetOptions) (mojocore.Handle, Result)
	WaitSetAdd    func(ws, target mojocore.Handle, signals mojocore.Signals, cookie uint64, opts *mojocore.WaitSetAddOptions) Result
	WaitSetRemove func(ws mojocore.Handle, cookie uint64) Result
	WaitSetWait   func(ws mojocore.Handle, deadline uint64, maxResults int) ([]mojocore.WaitSetResult, int, Result)
}

// DefaultThunkTable returns a ThunkTable bound to the process-wide Core,
// sized to its own field count at the point of construction.
func DefaultThunkTable() *ThunkTable {
	t := &ThunkTable{
		Close: func(h mojocore.Handle) Result {
			return packError(core().Close(h))
		},
		GetRights: func(h mojocore.Handle) (mojocore.Rights, Result) {
			r, err := core().GetRights(h)
			return r, packError(err)
		},
		DuplicateHandle: func(h mojocore.Handle) (mojocore.Handle, Result) {
			nh, err := core().DuplicateHandle(h)
			return nh, packError(err)
		},
		DuplicateHandleWithReducedRights: func(h mojocore.Handle, rightsToRemove mojocore.Rights) (mojocore.Handle, Result) {
			nh, err := core().DuplicateHandleWithReducedRights(h, rightsToRemove)
			return nh, packError(err)
		},
		ReplaceHandleWithReducedRights: func(h mojocore.Handle, rightsToRemove mojocore.Rights) (mojocore.Handle, Result) {
			nh, err := core().ReplaceWithReducedRights(h, rightsToRemove)
			return nh, packError(err)
		},

		Wait: func(h mojocore.Handle, signals mojocore.Signals, deadline uint64) (mojocore.SignalsState, Result) {
			code, state, err := core().Wait(h, signals, deadline)
			if err != nil {
				return state, packError(err)
			}
			return state, MakeResult(code, SpaceSystem, mojocore.SubcodeNone)
		},
		WaitMany: func(handles []mojocore.Handle, signals []mojocore.Signals, deadline uint64) (int, []mojocore.SignalsState, Result) {
			idx, code, states, err := core().WaitMany(handles, signals, deadline)
			if err != nil {
				return idx, states, packError(err)
			}
			return idx, states, MakeResult(code, SpaceSystem, mojocore.SubcodeNone)
		},
		GetTimeTicksNow: func() mojocore.TimeTicks {
			return core().GetTimeTicksNow()
		},

		CreateMessagePipe: func(opts *mojocore.CreateMessagePipeOptions) (mojocore.Handle, mojocore.Handle, Result) {
			h0, h1, err := core().CreateMessagePipe(opts)
			return h0, h1, packError(err)
		},
		WriteMessage: func(h mojocore.Handle, data []byte, handles []mojocore.Handle, flags mojocore.WriteMessageFlags) Result {
			return packError(core().WriteMessage(h, data, handles, flags))
		},
		ReadMessage: func(h mojocore.Handle, byteCap, handleCap int, flags mojocore.ReadMessageFlags) ([]byte, []mojocore.Handle, int, int, Result) {
			data, handles, nb, nh, err := core().ReadMessage(h, byteCap, handleCap, flags)
			return data, handles, nb, nh, packError(err)
		},

		CreateDataPipe: func(opts *mojocore.CreateDataPipeOptions) (mojocore.Handle, mojocore.Handle, Result) {
			p, cns, err := core().CreateDataPipe(opts)
			return p, cns, packError(err)
		},
		WriteData: func(h mojocore.Handle, data []byte, flags mojocore.WriteDataFlags) (int, Result) {
			n, err := core().WriteData(h, data, flags)
			return n, packError(err)
		},
		BeginWriteData: func(h mojocore.Handle) ([]byte, Result) {
			span, err := core().BeginWriteData(h)
			return span, packError(err)
		},
		EndWriteData: func(h mojocore.Handle, numBytesWritten int) Result {
			return packError(core().EndWriteData(h, numBytesWritten))
		},
		ReadData: func(h mojocore.Handle, dst []byte, flags mojocore.ReadDataFlags) (int, Result) {
			n, err := core().ReadData(h, dst, flags)
			return n, packError(err)
		},
		BeginReadData: func(h mojocore.Handle) ([]byte, Result) {
			span, err := core().BeginReadData(h)
			return span, packError(err)
		},
		EndReadData: func(h mojocore.Handle, numBytesRead int) Result {
			return packError(core().EndReadData(h, numBytesRead))
		},
		SetDataPipeProducerOptions: func(h mojocore.Handle, writeThreshold uint32) Result {
			return packError(core().SetDataPipeProducerOptions(h, writeThreshold))
		},
		SetDataPipeConsumerOptions: func(h mojocore.Handle, readThreshold uint32) Result {
			return packError(core().SetDataPipeConsumerOptions(h, readThreshold))
		},
		GetDataPipeProducerOptions: func(h mojocore.Handle) (uint32, Result) {
			v, err := core().GetDataPipeProducerOptions(h)
			return v, packError(err)
		},
		GetDataPipeConsumerOptions: func(h mojocore.Handle) (uint32, Result) {
			v, err := core().GetDataPipeConsumerOptions(h)
			return v, packError(err)
		},

		CreateSharedBuffer: func(numBytes uint64, opts *mojocore.CreateSharedBufferOptions) (mojocore.Handle, Result) {
			h, err := core().CreateSharedBuffer(numBytes, opts)
			return h, packError(err)
		},
		DuplicateBufferHandle: func(h mojocore.Handle, opts *mojocore.DuplicateBufferHandleOptions) (mojocore.Handle, Result) {
			nh, err := core().DuplicateBufferHandle(h, opts)
			return nh, packError(err)
		},
		MapBuffer: func(h mojocore.Handle, offset, numBytes uint64, flags mojocore.MapBufferFlags) (mojocore.MappingID, []byte, Result) {
			id, view, err := core().MapBuffer(h, offset, numBytes, flags)
			return id, view, packError(err)
		},
		UnmapBuffer: func(id mojocore.MappingID) Result {
			return packError(core().UnmapBuffer(id))
		},
		GetBufferInformation: func(h mojocore.Handle) (uint64, Result) {
			sz, err := core().GetBufferInformation(h)
			return sz, packError(err)
		},

		MojoCreateEvent: func(opts *mojocore.CreateEventOptions) (mojocore.Handle, Result) {
			h, err := core().CreateEvent(opts)
			return h, packError(err)
		},
		MojoEventSignal: func(h mojocore.Handle, clear, set mojocore.Signals) Result {
			return packError(core().SignalEvent(h, clear, set))
		},
		MojoCreateEventPair: func(opts *mojocore.CreateEventPairOptions) (mojocore.Handle, mojocore.Handle, Result) {
			h0, h1, err := core().CreateEventPair(opts)
			return h0, h1, packError(err)
		},
		MojoSignal: func(h mojocore.Handle, clear, set mojocore.Signals) Result {
			return packError(core().SignalEvent(h, clear, set))
		},

		CreateWaitSet: func(opts *mojocore.CreateWaitSetOptions) (mojocore.Handle, Result) {
			h, err := core().CreateWaitSet(opts)
			return h, packError(err)
		},
		WaitSetAdd: func(ws, target mojocore.Handle, signals mojocore.Signals, cookie uint64, opts *mojocore.WaitSetAddOptions) Result {
			return packError(core().WaitSetAdd(ws, target, signals, cookie, opts))
		},
		WaitSetRemove: func(ws mojocore.Handle, cookie uint64) Result {
			return packError(core().WaitSetRemove(ws, cookie))
		},
		WaitSetWait: func(ws mojocore.Handle, deadline uint64, maxResults int) ([]mojocore.WaitSetResult, int, Result) {
			results, total, err := core().WaitSetWait(ws, deadline, maxResults)
			return results, total, packError(err)
		},
	}
	// Size counts every entry point field, excluding Size itself.
	t.Size = uint32(reflect.TypeOf(*t).NumField() - 1)
	return t
}
