package mojocore

import (
	"container/list"
	"sync"
)

// dataPipeShared is the producer+consumer state behind a data pipe
// (spec.md §3, §4.4): one ring, one element size, per-side thresholds and
// two-phase exclusivity, all under a single lock shared by both sides
// (spec.md §5 rule 3), the same shape as messagePipeShared.
type dataPipeShared struct {
	mu sync.Mutex

	elementSize uint32
	capacity    uint32
	ring        *ringBuffer

	producerClosed bool
	consumerClosed bool

	writeThreshold uint32 // 0 => default (capacity)
	readThreshold  uint32 // 0 => default (elementSize)

	twoPhaseWriteActive bool
	twoPhaseWriteLen    int
	twoPhaseReadActive  bool
	twoPhaseReadLen     int

	brokerProducer signalBroker
	brokerConsumer signalBroker

	logger *coreLogger
}

// DataPipeProducer is the write-only side of a data pipe.
type DataPipeProducer struct{ shared *dataPipeShared }

// DataPipeConsumer is the read-only side of a data pipe.
type DataPipeConsumer struct{ shared *dataPipeShared }

// NewDataPipe validates opts and creates a connected producer/consumer
// pair (spec.md §4.4).
func NewDataPipe(elementSize, capacity uint32, logger *coreLogger) (*DataPipeProducer, *DataPipeConsumer, error) {
	if elementSize == 0 {
		return nil, nil, newErr("CreateDataPipe", CodeInvalidArgument)
	}
	if capacity == 0 {
		capacity = DefaultDataPipeCapacity
		// round to a multiple of elementSize
		capacity = ((capacity + elementSize - 1) / elementSize) * elementSize
	}
	if capacity%elementSize != 0 {
		return nil, nil, newErr("CreateDataPipe", CodeInvalidArgument)
	}
	if capacity > MaxDataPipeCapacity {
		return nil, nil, newErr("CreateDataPipe", CodeResourceExhausted)
	}
	s := &dataPipeShared{
		elementSize: elementSize,
		capacity:    capacity,
		ring:        newRingBuffer(int(capacity)),
		logger:      logger,
	}
	return &DataPipeProducer{shared: s}, &DataPipeConsumer{shared: s}, nil
}

func (p *DataPipeProducer) Kind() DispatcherKind { return KindDataPipeProducer }
func (c *DataPipeConsumer) Kind() DispatcherKind { return KindDataPipeConsumer }

func (p *DataPipeProducer) defaultRights() Rights {
	return RightWrite | RightGetOptions | RightSetOptions | RightTransfer
}
func (c *DataPipeConsumer) defaultRights() Rights {
	return RightRead | RightGetOptions | RightSetOptions | RightTransfer
}

func (s *dataPipeShared) effectiveWriteThreshold() uint32 {
	if s.writeThreshold == 0 {
		return s.capacity
	}
	return s.writeThreshold
}

func (s *dataPipeShared) effectiveReadThreshold() uint32 {
	if s.readThreshold == 0 {
		return s.elementSize
	}
	return s.readThreshold
}

// satisfiableWhileOpenOrMet implements the recurring "remains satisfiable
// while bytes remain, or while the peer could still supply more" rule
// used for READABLE/READ_THRESHOLD (spec.md §4.4).
func satisfiableWhileOpenOrMet(peerClosed bool, have, threshold uint32) bool {
	return !peerClosed || have >= threshold
}

// producerStateLocked computes the producer's SignalsState. Caller must
// hold shared.mu.
func (s *dataPipeShared) producerStateLocked() SignalsState {
	free := uint32(s.ring.free())
	var satisfied, satisfiable Signals

	open := !s.consumerClosed
	if open && free >= s.elementSize && !s.twoPhaseWriteActive {
		satisfied |= SignalWritable
	}
	if open {
		satisfiable |= SignalWritable
	}
	if open && free >= s.effectiveWriteThreshold() && !s.twoPhaseWriteActive {
		satisfied |= SignalWriteThreshold
	}
	if open {
		satisfiable |= SignalWriteThreshold
	}
	if s.consumerClosed {
		satisfied |= SignalPeerClosed
	}
	satisfiable |= SignalPeerClosed
	return SignalsState{Satisfied: satisfied, Satisfiable: satisfiable}
}

// consumerStateLocked computes the consumer's SignalsState. Caller must
// hold shared.mu.
func (s *dataPipeShared) consumerStateLocked() SignalsState {
	avail := uint32(s.ring.available())
	var satisfied, satisfiable Signals

	if avail >= s.elementSize && !s.twoPhaseReadActive {
		satisfied |= SignalReadable
	}
	if satisfiableWhileOpenOrMet(s.producerClosed, avail, s.elementSize) {
		satisfiable |= SignalReadable
	}
	if avail >= s.effectiveReadThreshold() && !s.twoPhaseReadActive {
		satisfied |= SignalReadThreshold
	}
	if satisfiableWhileOpenOrMet(s.producerClosed, avail, s.effectiveReadThreshold()) {
		satisfiable |= SignalReadThreshold
	}
	if s.producerClosed {
		satisfied |= SignalPeerClosed
	}
	satisfiable |= SignalPeerClosed
	return SignalsState{Satisfied: satisfied, Satisfiable: satisfiable}
}

func (s *dataPipeShared) notifyBoth() {
	s.brokerProducer.notify(s.producerStateLocked())
	s.brokerConsumer.notify(s.consumerStateLocked())
}

func (p *DataPipeProducer) SignalsState() SignalsState {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()
	return p.shared.producerStateLocked()
}

func (c *DataPipeConsumer) SignalsState() SignalsState {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	return c.shared.consumerStateLocked()
}

func (p *DataPipeProducer) addWaiter(w *waiter) (interface{}, bool) {
	s := p.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.producerStateLocked()
	if state.Satisfied&w.signals != 0 {
		w.deliver(CodeOK, state)
		return nil, true
	}
	if state.Satisfiable&w.signals == 0 {
		w.deliver(CodeFailedPrecondition, state)
		return nil, true
	}
	return s.brokerProducer.register(w), false
}

func (p *DataPipeProducer) removeWaiter(token interface{}) {
	if token == nil {
		return
	}
	s := p.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokerProducer.unregister(token.(*list.Element))
}

func (c *DataPipeConsumer) addWaiter(w *waiter) (interface{}, bool) {
	s := c.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.consumerStateLocked()
	if state.Satisfied&w.signals != 0 {
		w.deliver(CodeOK, state)
		return nil, true
	}
	if state.Satisfiable&w.signals == 0 {
		w.deliver(CodeFailedPrecondition, state)
		return nil, true
	}
	return s.brokerConsumer.register(w), false
}

func (c *DataPipeConsumer) removeWaiter(token interface{}) {
	if token == nil {
		return
	}
	s := c.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokerConsumer.unregister(token.(*list.Element))
}

func (p *DataPipeProducer) Close() error {
	s := p.shared
	s.mu.Lock()
	if s.producerClosed {
		s.mu.Unlock()
		return nil
	}
	s.producerClosed = true
	s.twoPhaseWriteActive = false
	s.brokerProducer.cancelAll(SignalsState{})
	s.notifyBoth()
	s.mu.Unlock()
	return nil
}

func (c *DataPipeConsumer) Close() error {
	s := c.shared
	s.mu.Lock()
	if s.consumerClosed {
		s.mu.Unlock()
		return nil
	}
	s.consumerClosed = true
	s.twoPhaseReadActive = false
	s.brokerConsumer.cancelAll(SignalsState{})
	s.notifyBoth()
	s.mu.Unlock()
	return nil
}

// WriteData implements the one-phase write of spec.md §4.4.
func (p *DataPipeProducer) WriteData(data []byte, flags WriteDataFlags) (n int, err error) {
	s := p.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(data)%int(s.elementSize) != 0 {
		if flags&WriteDataFlagAllOrNone != 0 {
			return 0, newErr("WriteData", CodeOutOfRange)
		}
		return 0, newErr("WriteData", CodeInvalidArgument)
	}
	if len(data) == 0 {
		s.notifyBoth()
		return 0, nil
	}
	if s.consumerClosed {
		return 0, newErr("WriteData", CodeFailedPrecondition)
	}

	free := s.ring.free()
	if s.twoPhaseWriteActive {
		free = 0
	}

	if flags&WriteDataFlagAllOrNone != 0 && len(data) > free {
		return 0, newErr("WriteData", CodeOutOfRange)
	}

	avail := len(data)
	if avail > free {
		avail = free
	}
	avail -= avail % int(s.elementSize)

	if avail == 0 {
		if s.consumerClosed {
			return 0, newErr("WriteData", CodeFailedPrecondition)
		}
		return 0, newErrSub("WriteData", CodeUnavailable, SubcodeShouldWait)
	}

	written := s.ring.write(data[:avail])
	s.notifyBoth()
	return written, nil
}

// ReadData implements the one-phase read of spec.md §4.4, including PEEK,
// DISCARD and QUERY.
func (p *DataPipeConsumer) ReadData(dst []byte, flags ReadDataFlags) (n int, err error) {
	s := p.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	if flags.exclusiveCount() > 1 {
		return 0, newErr("ReadData", CodeInvalidArgument)
	}

	if flags&ReadDataFlagQuery != 0 {
		return s.ring.available(), nil
	}

	avail := s.ring.available()
	if s.twoPhaseReadActive {
		avail = 0
	}

	want := len(dst)
	discardMode := flags&ReadDataFlagDiscard != 0
	if discardMode {
		// dst is unused in DISCARD mode; the caller passes the number of
		// bytes to discard via len(dst).
		want = len(dst)
	}
	if want%int(s.elementSize) != 0 {
		return 0, newErr("ReadData", CodeInvalidArgument)
	}

	if flags&ReadDataFlagAllOrNone != 0 && want > avail {
		if s.producerClosed {
			return 0, newErr("ReadData", CodeFailedPrecondition)
		}
		return 0, newErr("ReadData", CodeOutOfRange)
	}

	n = want
	if n > avail {
		n = avail
	}
	n -= n % int(s.elementSize)

	if n == 0 {
		if s.producerClosed {
			return 0, newErr("ReadData", CodeFailedPrecondition)
		}
		return 0, newErrSub("ReadData", CodeUnavailable, SubcodeShouldWait)
	}

	switch {
	case discardMode:
		n = s.ring.discard(n)
	case flags&ReadDataFlagPeek != 0:
		n = s.ring.read(dst[:n], false)
	default:
		n = s.ring.read(dst[:n], true)
	}
	s.notifyBoth()
	return n, nil
}

// BeginWriteData reserves the contiguous free span at the write cursor
// (spec.md §4.4 two-phase write).
func (p *DataPipeProducer) BeginWriteData() (span []byte, err error) {
	s := p.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.twoPhaseWriteActive {
		return nil, newErrSub("BeginWriteData", CodeFailedPrecondition, SubcodeBusy)
	}

	span = s.ring.beginWrite()
	if len(span) == 0 {
		if s.consumerClosed {
			return nil, newErr("BeginWriteData", CodeFailedPrecondition)
		}
		return nil, newErrSub("BeginWriteData", CodeUnavailable, SubcodeShouldWait)
	}

	s.twoPhaseWriteActive = true
	s.twoPhaseWriteLen = len(span)
	s.notifyBoth()
	return span, nil
}

// EndWriteData commits k bytes of a prior BeginWriteData span. Per
// spec.md §7, an invalid k still ends the two-phase session.
func (p *DataPipeProducer) EndWriteData(k int) error {
	s := p.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.twoPhaseWriteActive {
		return newErr("EndWriteData", CodeFailedPrecondition)
	}
	n := s.twoPhaseWriteLen
	s.twoPhaseWriteActive = false
	s.twoPhaseWriteLen = 0

	if k < 0 || k > n || k%int(s.elementSize) != 0 {
		s.notifyBoth()
		return newErr("EndWriteData", CodeInvalidArgument)
	}
	if k > 0 {
		s.ring.commitWrite(k)
	}
	s.notifyBoth()
	return nil
}

// BeginReadData reserves the contiguous filled span at the read cursor.
func (c *DataPipeConsumer) BeginReadData() (span []byte, err error) {
	s := c.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.twoPhaseReadActive {
		return nil, newErrSub("BeginReadData", CodeFailedPrecondition, SubcodeBusy)
	}

	span = s.ring.beginRead()
	if len(span) == 0 {
		if s.producerClosed {
			return nil, newErr("BeginReadData", CodeFailedPrecondition)
		}
		return nil, newErrSub("BeginReadData", CodeUnavailable, SubcodeShouldWait)
	}

	s.twoPhaseReadActive = true
	s.twoPhaseReadLen = len(span)
	s.notifyBoth()
	return span, nil
}

// EndReadData commits (consumes) k bytes of a prior BeginReadData span.
func (c *DataPipeConsumer) EndReadData(k int) error {
	s := c.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.twoPhaseReadActive {
		return newErr("EndReadData", CodeFailedPrecondition)
	}
	n := s.twoPhaseReadLen
	s.twoPhaseReadActive = false
	s.twoPhaseReadLen = 0

	if k < 0 || k > n || k%int(s.elementSize) != 0 {
		s.notifyBoth()
		return newErr("EndReadData", CodeInvalidArgument)
	}
	if k > 0 {
		s.ring.commitRead(k)
	}
	s.notifyBoth()
	return nil
}

// SetProducerOptions implements SetDataPipeProducerOptions (spec.md §4.4).
func (p *DataPipeProducer) SetProducerOptions(writeThreshold uint32) error {
	s := p.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	if writeThreshold != 0 && (writeThreshold%s.elementSize != 0 || writeThreshold > s.capacity) {
		return newErr("SetDataPipeProducerOptions", CodeInvalidArgument)
	}
	s.writeThreshold = writeThreshold
	s.notifyBoth()
	return nil
}

// GetProducerOptions returns the configured write threshold (0 = default).
func (p *DataPipeProducer) GetProducerOptions() uint32 {
	s := p.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeThreshold
}

// SetConsumerOptions implements SetDataPipeConsumerOptions.
func (c *DataPipeConsumer) SetConsumerOptions(readThreshold uint32) error {
	s := c.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	if readThreshold != 0 && (readThreshold%s.elementSize != 0 || readThreshold > s.capacity) {
		return newErr("SetDataPipeConsumerOptions", CodeInvalidArgument)
	}
	s.readThreshold = readThreshold
	s.notifyBoth()
	return nil
}

// GetConsumerOptions returns the configured read threshold (0 = default).
func (c *DataPipeConsumer) GetConsumerOptions() uint32 {
	s := c.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readThreshold
}
