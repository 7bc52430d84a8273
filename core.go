package mojocore

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v2"
	"github.com/rs/zerolog"
)

// opLogEntry is one entry in Core's diagnostic operation ring
// (SPEC_FULL.md §4.9).
type opLogEntry struct {
	Ticks TimeTicks
	Op    string
	Code  Code
}

const recentOpsCapacity = 256

// CoreOptions configures a Core (SPEC_FULL.md's ambient-stack addition to
// spec.md §6). Both fields are optional; zero values fall back to a no-op
// logger and the system monotonic clock.
type CoreOptions struct {
	Logger *zerolog.Logger
	Clock  Clock
}

// Core is the process-wide kernel object: one HandleTable, one
// deadlineScheduler, and the diagnostic op log, mirroring spec.md §2's
// single-process scope.
type Core struct {
	Table *HandleTable

	clk   Clock
	sched *deadlineScheduler
	log   *coreLogger

	// mappingRegions lets UnmapBuffer take only a MappingID, matching the
	// real ABI's UnmapBuffer(ptr) signature, without needing the caller to
	// still hold a live handle to the originating SharedBufferDispatcher.
	mappingRegions *xsync.MapOf[MappingID, *sharedBufferRegion]

	opMu  sync.Mutex
	ops   []opLogEntry
	opIdx int
}

// NewCore creates a Core ready to serve CreateXxx/WriteXxx/Wait calls.
func NewCore(opts CoreOptions) *Core {
	clk := opts.Clock
	if clk == nil {
		clk = newSystemClock()
	}
	c := &Core{
		Table:          NewHandleTable(0),
		clk:            clk,
		log:            newCoreLogger(opts.Logger),
		mappingRegions: xsync.NewIntegerMapOf[MappingID, *sharedBufferRegion](),
		ops:            make([]opLogEntry, recentOpsCapacity),
	}
	c.sched = newDeadlineScheduler(clk)
	return c
}

func (c *Core) recordOp(op string, code Code) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.ops[c.opIdx%recentOpsCapacity] = opLogEntry{Ticks: c.clk.Now(), Op: op, Code: code}
	c.opIdx++
}

// RecentOps returns the last (up to recentOpsCapacity) operations recorded,
// oldest first (SPEC_FULL.md §4.9).
func (c *Core) RecentOps() []opLogEntry {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.opIdx == 0 {
		return nil
	}
	if c.opIdx <= recentOpsCapacity {
		out := make([]opLogEntry, c.opIdx)
		copy(out, c.ops[:c.opIdx])
		return out
	}
	out := make([]opLogEntry, recentOpsCapacity)
	start := c.opIdx % recentOpsCapacity
	copy(out, c.ops[start:])
	copy(out[recentOpsCapacity-start:], c.ops[:start])
	return out
}

// GetTimeTicksNow returns the current reading of the injected Clock
// (spec.md §4.2, §5).
func (c *Core) GetTimeTicksNow() TimeTicks { return c.clk.Now() }

func requireRights(rights, want Rights, op string) error {
	if !rights.Has(want) {
		return newErr(op, CodePermissionDenied)
	}
	return nil
}

// --- Handle table passthroughs (spec.md §4.1) -----------------------------

func (c *Core) Close(h Handle) error {
	err := c.Table.Close(h)
	c.recordOp("Close", CodeOf(err))
	return err
}

func (c *Core) GetRights(h Handle) (Rights, error) { return c.Table.GetRights(h) }

// SignalsState returns h's dispatcher's current (satisfied, satisfiable)
// pair (spec.md §4.2's signals_state()).
func (c *Core) SignalsState(h Handle) (SignalsState, error) {
	disp, _, err := c.Table.Lookup(h)
	if err != nil {
		return SignalsState{}, err
	}
	return disp.SignalsState(), nil
}

// DuplicateHandle special-cases shared buffers and events, whose duplicates
// must bump the refcount of their shared region (spec.md §4.5's
// DuplicateBufferHandle), while every other dispatcher kind just shares the
// existing instance (spec.md §4.1's plain Duplicate).
func (c *Core) DuplicateHandle(h Handle) (Handle, error) {
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return InvalidHandle, err
	}
	if !rights.Has(RightDuplicate) {
		return InvalidHandle, newErr("DuplicateHandle", CodePermissionDenied)
	}
	switch d := disp.(type) {
	case *SharedBufferDispatcher:
		return c.Table.Add(d.duplicate(), rights)
	case *EventDispatcher:
		return c.Table.Add(d.duplicate(), rights)
	}
	return c.Table.Add(disp, rights)
}

// DuplicateHandleWithReducedRights mirrors DuplicateHandle but clears
// rightsToRemove on the new handle.
func (c *Core) DuplicateHandleWithReducedRights(h Handle, rightsToRemove Rights) (Handle, error) {
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return InvalidHandle, err
	}
	if !rights.Has(RightDuplicate) {
		return InvalidHandle, newErr("DuplicateHandleWithReducedRights", CodePermissionDenied)
	}
	newRights := rights &^ rightsToRemove
	switch d := disp.(type) {
	case *SharedBufferDispatcher:
		return c.Table.Add(d.duplicate(), newRights)
	case *EventDispatcher:
		return c.Table.Add(d.duplicate(), newRights)
	}
	return c.Table.Add(disp, newRights)
}

func (c *Core) ReplaceWithReducedRights(h Handle, rightsToRemove Rights) (Handle, error) {
	return c.Table.ReplaceWithReducedRights(h, rightsToRemove)
}

// --- Wait engine (spec.md §4.2) -------------------------------------------

func (c *Core) Wait(h Handle, signals Signals, deadline uint64) (Code, SignalsState, error) {
	disp, _, err := c.Table.Lookup(h)
	if err != nil {
		return CodeInvalidArgument, SignalsState{}, err
	}
	code, state := Wait(disp, signals, deadline, c.clk, c.sched)
	c.recordOp("Wait", code)
	return code, state, nil
}

func (c *Core) WaitMany(handles []Handle, signals []Signals, deadline uint64) (int, Code, []SignalsState, error) {
	if len(handles) != len(signals) {
		return -1, CodeInvalidArgument, nil, newErr("WaitMany", CodeInvalidArgument)
	}
	disps := make([]Dispatcher, len(handles))
	for i, h := range handles {
		d, _, err := c.Table.Lookup(h)
		if err != nil {
			return -1, CodeInvalidArgument, nil, err
		}
		disps[i] = d
	}
	index, code, states := WaitMany(disps, signals, deadline, c.clk, c.sched)
	c.recordOp("WaitMany", code)
	return index, code, states, nil
}

// --- Message pipe (spec.md §4.3) ------------------------------------------

func (c *Core) CreateMessagePipe(opts *CreateMessagePipeOptions) (h0, h1 Handle, err error) {
	if opts != nil {
		if err := validateFlags("CreateMessagePipe", opts.Flags, FlagNone); err != nil {
			return InvalidHandle, InvalidHandle, err
		}
	}
	e0, e1 := NewMessagePipe(c.log)
	rights := e0.defaultRights()
	h0, err = c.Table.Add(e0, rights)
	if err != nil {
		return InvalidHandle, InvalidHandle, err
	}
	h1, err = c.Table.Add(e1, rights)
	if err != nil {
		c.Table.Close(h0)
		return InvalidHandle, InvalidHandle, err
	}
	c.log.Debug().Uint32("h0", uint32(h0)).Uint32("h1", uint32(h1)).Msg("created message pipe")
	c.recordOp("CreateMessagePipe", CodeOK)
	return h0, h1, nil
}

func (c *Core) WriteMessage(h Handle, data []byte, handles []Handle, flags WriteMessageFlags) error {
	if err := validateFlags("WriteMessage", uint32(flags), uint32(WriteMessageFlagNone)); err != nil {
		return err
	}
	if len(data) > MaxMessageBytes {
		return newErr("WriteMessage", CodeResourceExhausted)
	}
	if len(handles) > MaxMessageHandles {
		return newErr("WriteMessage", CodeResourceExhausted)
	}
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return err
	}
	ep, ok := disp.(*MessagePipeEndpoint)
	if !ok {
		return newErr("WriteMessage", CodeInvalidArgument)
	}
	if err := requireRights(rights, RightWrite, "WriteMessage"); err != nil {
		return err
	}
	if ep.peerClosedNow() {
		return newErr("WriteMessage", CodeFailedPrecondition)
	}

	// Pass 1: validate every attached handle without mutating anything, so
	// a bad handle anywhere in the list transfers none of them.
	for _, hh := range handles {
		if hh == h {
			return newErr("WriteMessage", CodeInvalidArgument)
		}
		_, hr, err := c.Table.Lookup(hh)
		if err != nil {
			return err
		}
		if !hr.Has(RightTransfer) {
			return newErr("WriteMessage", CodePermissionDenied)
		}
	}

	// Pass 2: remove each validated handle from the sender's table. Barring
	// a concurrent close racing pass 1, this cannot fail; such a race is an
	// accepted narrow window in this simplified transfer implementation.
	transferred := make([]transferredHandle, 0, len(handles))
	for _, hh := range handles {
		d, r, err := c.Table.TransferOut(hh)
		if err != nil {
			return err
		}
		transferred = append(transferred, transferredHandle{dispatcher: d, rights: r})
	}

	if err := ep.writeMessage(data, transferred); err != nil {
		c.recordOp("WriteMessage", CodeOf(err))
		return err
	}
	c.recordOp("WriteMessage", CodeOK)
	return nil
}

func (c *Core) ReadMessage(h Handle, byteCap, handleCap int, flags ReadMessageFlags) (data []byte, handles []Handle, msgBytes, msgHandles int, err error) {
	if err := validateFlags("ReadMessage", uint32(flags), uint32(ReadMessageFlagMayDiscard)); err != nil {
		return nil, nil, 0, 0, err
	}
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	ep, ok := disp.(*MessagePipeEndpoint)
	if !ok {
		return nil, nil, 0, 0, newErr("ReadMessage", CodeInvalidArgument)
	}
	if err := requireRights(rights, RightRead, "ReadMessage"); err != nil {
		return nil, nil, 0, 0, err
	}

	mayDiscard := flags&ReadMessageFlagMayDiscard != 0
	raw, rawHandles, mb, mh, err := ep.readMessage(byteCap, handleCap, mayDiscard)
	c.recordOp("ReadMessage", CodeOf(err))
	if err != nil {
		return nil, nil, mb, mh, err
	}

	handles = make([]Handle, len(rawHandles))
	for i, th := range rawHandles {
		nh, aerr := c.Table.AddTransferred(th.dispatcher, th.rights)
		if aerr != nil {
			th.dispatcher.Close()
			return raw, handles[:i], mb, mh, aerr
		}
		handles[i] = nh
	}
	return raw, handles, mb, mh, nil
}

// --- Data pipe (spec.md §4.4) ---------------------------------------------

func (c *Core) CreateDataPipe(opts *CreateDataPipeOptions) (producer, consumer Handle, err error) {
	elementSize := uint32(1)
	var capacity uint32
	if opts != nil {
		if err := validateFlags("CreateDataPipe", opts.Flags, FlagNone); err != nil {
			return InvalidHandle, InvalidHandle, err
		}
		if opts.ElementSize != 0 {
			elementSize = opts.ElementSize
		}
		capacity = opts.Capacity
	}
	p, cns, err := NewDataPipe(elementSize, capacity, c.log)
	if err != nil {
		return InvalidHandle, InvalidHandle, err
	}
	producer, err = c.Table.Add(p, p.defaultRights())
	if err != nil {
		return InvalidHandle, InvalidHandle, err
	}
	consumer, err = c.Table.Add(cns, cns.defaultRights())
	if err != nil {
		c.Table.Close(producer)
		return InvalidHandle, InvalidHandle, err
	}
	c.log.Debug().Uint32("producer", uint32(producer)).Uint32("consumer", uint32(consumer)).Msg("created data pipe")
	c.recordOp("CreateDataPipe", CodeOK)
	return producer, consumer, nil
}

func (c *Core) WriteData(h Handle, data []byte, flags WriteDataFlags) (int, error) {
	if err := validateFlags("WriteData", uint32(flags), uint32(WriteDataFlagAllOrNone)); err != nil {
		return 0, err
	}
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return 0, err
	}
	p, ok := disp.(*DataPipeProducer)
	if !ok {
		return 0, newErr("WriteData", CodeInvalidArgument)
	}
	if err := requireRights(rights, RightWrite, "WriteData"); err != nil {
		return 0, err
	}
	n, err := p.WriteData(data, flags)
	c.recordOp("WriteData", CodeOf(err))
	return n, err
}

func (c *Core) ReadData(h Handle, dst []byte, flags ReadDataFlags) (int, error) {
	known := uint32(ReadDataFlagAllOrNone | ReadDataFlagPeek | ReadDataFlagDiscard | ReadDataFlagQuery)
	if err := validateFlags("ReadData", uint32(flags), known); err != nil {
		return 0, err
	}
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return 0, err
	}
	cns, ok := disp.(*DataPipeConsumer)
	if !ok {
		return 0, newErr("ReadData", CodeInvalidArgument)
	}
	if err := requireRights(rights, RightRead, "ReadData"); err != nil {
		return 0, err
	}
	n, err := cns.ReadData(dst, flags)
	c.recordOp("ReadData", CodeOf(err))
	return n, err
}

func (c *Core) BeginWriteData(h Handle) ([]byte, error) {
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return nil, err
	}
	p, ok := disp.(*DataPipeProducer)
	if !ok {
		return nil, newErr("BeginWriteData", CodeInvalidArgument)
	}
	if err := requireRights(rights, RightWrite, "BeginWriteData"); err != nil {
		return nil, err
	}
	return p.BeginWriteData()
}

func (c *Core) EndWriteData(h Handle, numBytesWritten int) error {
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return err
	}
	p, ok := disp.(*DataPipeProducer)
	if !ok {
		return newErr("EndWriteData", CodeInvalidArgument)
	}
	if err := requireRights(rights, RightWrite, "EndWriteData"); err != nil {
		return err
	}
	return p.EndWriteData(numBytesWritten)
}

func (c *Core) BeginReadData(h Handle) ([]byte, error) {
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return nil, err
	}
	cns, ok := disp.(*DataPipeConsumer)
	if !ok {
		return nil, newErr("BeginReadData", CodeInvalidArgument)
	}
	if err := requireRights(rights, RightRead, "BeginReadData"); err != nil {
		return nil, err
	}
	return cns.BeginReadData()
}

func (c *Core) EndReadData(h Handle, numBytesRead int) error {
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return err
	}
	cns, ok := disp.(*DataPipeConsumer)
	if !ok {
		return newErr("EndReadData", CodeInvalidArgument)
	}
	if err := requireRights(rights, RightRead, "EndReadData"); err != nil {
		return err
	}
	return cns.EndReadData(numBytesRead)
}

func (c *Core) SetDataPipeProducerOptions(h Handle, writeThreshold uint32) error {
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return err
	}
	p, ok := disp.(*DataPipeProducer)
	if !ok {
		return newErr("SetDataPipeProducerOptions", CodeInvalidArgument)
	}
	if err := requireRights(rights, RightSetOptions, "SetDataPipeProducerOptions"); err != nil {
		return err
	}
	return p.SetProducerOptions(writeThreshold)
}

func (c *Core) GetDataPipeProducerOptions(h Handle) (uint32, error) {
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return 0, err
	}
	p, ok := disp.(*DataPipeProducer)
	if !ok {
		return 0, newErr("GetDataPipeProducerOptions", CodeInvalidArgument)
	}
	if err := requireRights(rights, RightGetOptions, "GetDataPipeProducerOptions"); err != nil {
		return 0, err
	}
	return p.GetProducerOptions(), nil
}

func (c *Core) SetDataPipeConsumerOptions(h Handle, readThreshold uint32) error {
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return err
	}
	cns, ok := disp.(*DataPipeConsumer)
	if !ok {
		return newErr("SetDataPipeConsumerOptions", CodeInvalidArgument)
	}
	if err := requireRights(rights, RightSetOptions, "SetDataPipeConsumerOptions"); err != nil {
		return err
	}
	return cns.SetConsumerOptions(readThreshold)
}

func (c *Core) GetDataPipeConsumerOptions(h Handle) (uint32, error) {
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return 0, err
	}
	cns, ok := disp.(*DataPipeConsumer)
	if !ok {
		return 0, newErr("GetDataPipeConsumerOptions", CodeInvalidArgument)
	}
	if err := requireRights(rights, RightGetOptions, "GetDataPipeConsumerOptions"); err != nil {
		return 0, err
	}
	return cns.GetConsumerOptions(), nil
}

// --- Shared buffer (spec.md §4.5) -----------------------------------------

func (c *Core) CreateSharedBuffer(numBytes uint64, opts *CreateSharedBufferOptions) (Handle, error) {
	if opts != nil {
		if err := validateFlags("CreateSharedBuffer", opts.Flags, FlagNone); err != nil {
			return InvalidHandle, err
		}
	}
	b, err := NewSharedBuffer(numBytes)
	if err != nil {
		return InvalidHandle, err
	}
	h, err := c.Table.Add(b, b.defaultRights())
	if err != nil {
		return InvalidHandle, err
	}
	c.recordOp("CreateSharedBuffer", CodeOK)
	return h, nil
}

func (c *Core) DuplicateBufferHandle(h Handle, opts *DuplicateBufferHandleOptions) (Handle, error) {
	if opts != nil {
		if err := validateFlags("DuplicateBufferHandle", opts.Flags, FlagNone); err != nil {
			return InvalidHandle, err
		}
	}
	return c.DuplicateHandle(h)
}

func (c *Core) MapBuffer(h Handle, offset, numBytes uint64, flags MapBufferFlags) (MappingID, []byte, error) {
	if err := validateFlags("MapBuffer", uint32(flags), uint32(MapBufferFlagWritable)); err != nil {
		return 0, nil, err
	}
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return 0, nil, err
	}
	b, ok := disp.(*SharedBufferDispatcher)
	if !ok {
		return 0, nil, newErr("MapBuffer", CodeInvalidArgument)
	}
	writable := flags&MapBufferFlagWritable != 0
	if err := requireRights(rights, RightRead, "MapBuffer"); err != nil {
		return 0, nil, err
	}
	if writable {
		if err := requireRights(rights, RightWrite, "MapBuffer"); err != nil {
			return 0, nil, err
		}
	}
	id, view, err := b.MapBuffer(offset, numBytes, writable)
	if err != nil {
		return 0, nil, err
	}
	c.mappingRegions.Store(id, b.region)
	return id, view, nil
}

func (c *Core) UnmapBuffer(id MappingID) error {
	region, ok := c.mappingRegions.LoadAndDelete(id)
	if !ok {
		return newErr("UnmapBuffer", CodeInvalidArgument)
	}
	return region.unmap(id)
}

func (c *Core) GetBufferInformation(h Handle) (uint64, error) {
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return 0, err
	}
	b, ok := disp.(*SharedBufferDispatcher)
	if !ok {
		return 0, newErr("GetBufferInformation", CodeInvalidArgument)
	}
	if err := requireRights(rights, RightGetOptions, "GetBufferInformation"); err != nil {
		return 0, err
	}
	return b.GetBufferInformation(), nil
}

// --- Event / EventPair (spec.md §4.6) -------------------------------------

func (c *Core) CreateEvent(opts *CreateEventOptions) (Handle, error) {
	if opts != nil {
		if err := validateFlags("CreateEvent", opts.Flags, FlagNone); err != nil {
			return InvalidHandle, err
		}
	}
	e := NewEvent()
	return c.Table.Add(e, e.defaultRights())
}

func (c *Core) CreateEventPair(opts *CreateEventPairOptions) (h0, h1 Handle, err error) {
	if opts != nil {
		if err := validateFlags("CreateEventPair", opts.Flags, FlagNone); err != nil {
			return InvalidHandle, InvalidHandle, err
		}
	}
	e0, e1 := NewEventPair()
	h0, err = c.Table.Add(e0, e0.defaultRights())
	if err != nil {
		return InvalidHandle, InvalidHandle, err
	}
	h1, err = c.Table.Add(e1, e1.defaultRights())
	if err != nil {
		c.Table.Close(h0)
		return InvalidHandle, InvalidHandle, err
	}
	return h0, h1, nil
}

// signaler is implemented by both EventDispatcher and EventPairDispatcher.
type signaler interface {
	Signal(clear, set Signals) error
}

func (c *Core) SignalEvent(h Handle, clear, set Signals) error {
	disp, rights, err := c.Table.Lookup(h)
	if err != nil {
		return err
	}
	s, ok := disp.(signaler)
	if !ok {
		return newErr("MojoEventSignal", CodeInvalidArgument)
	}
	if err := requireRights(rights, RightWrite, "MojoEventSignal"); err != nil {
		return err
	}
	return s.Signal(clear, set)
}

// --- Wait set (spec.md §4.7) ----------------------------------------------

func (c *Core) CreateWaitSet(opts *CreateWaitSetOptions) (Handle, error) {
	if opts != nil {
		if err := validateFlags("CreateWaitSet", opts.Flags, FlagNone); err != nil {
			return InvalidHandle, err
		}
	}
	ws := NewWaitSet()
	return c.Table.Add(ws, ws.defaultRights())
}

func (c *Core) WaitSetAdd(wsHandle, target Handle, signals Signals, cookie uint64, opts *WaitSetAddOptions) error {
	if opts != nil {
		if err := validateFlags("WaitSetAdd", opts.Flags, FlagNone); err != nil {
			return err
		}
	}
	wsDisp, _, err := c.Table.Lookup(wsHandle)
	if err != nil {
		return err
	}
	ws, ok := wsDisp.(*WaitSetDispatcher)
	if !ok {
		return newErr("WaitSetAdd", CodeInvalidArgument)
	}
	targetDisp, _, err := c.Table.Lookup(target)
	if err != nil {
		return err
	}
	return ws.Add(targetDisp, signals, cookie)
}

func (c *Core) WaitSetRemove(wsHandle Handle, cookie uint64) error {
	wsDisp, _, err := c.Table.Lookup(wsHandle)
	if err != nil {
		return err
	}
	ws, ok := wsDisp.(*WaitSetDispatcher)
	if !ok {
		return newErr("WaitSetRemove", CodeInvalidArgument)
	}
	return ws.Remove(cookie)
}

func (c *Core) WaitSetWait(wsHandle Handle, deadline uint64, maxResults int) ([]WaitSetResult, int, error) {
	wsDisp, _, err := c.Table.Lookup(wsHandle)
	if err != nil {
		return nil, 0, err
	}
	ws, ok := wsDisp.(*WaitSetDispatcher)
	if !ok {
		return nil, 0, newErr("WaitSetWait", CodeInvalidArgument)
	}
	results, total, err := ws.WaitSetWait(deadline, maxResults, c.clk, c.sched)
	c.recordOp("WaitSetWait", CodeOf(err))
	return results, total, err
}
