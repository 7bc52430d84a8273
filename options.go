package mojocore

// FlagNone is the zero value every options flags field recognizes
// (spec.md §3/§6: "every flag field has a defined NONE = 0").
const FlagNone uint32 = 0

// validateFlags returns CodeUnimplemented if flags sets any bit outside
// known, per spec.md §3 ("error if nonzero bits fall in unknown flag
// positions") and §6 ("unknown bits set => UNIMPLEMENTED").
func validateFlags(op string, flags uint32, known uint32) error {
	if flags&^known != 0 {
		return newErr(op, CodeUnimplemented)
	}
	return nil
}

// Every *Options struct below corresponds 1:1 to spec.md §3's enumerated
// option structs. StructSize mirrors the wire's length prefix; this
// module's Go API is called directly (not decoded off a byte buffer), so
// StructSize is informational only and is never read.

type CreateMessagePipeOptions struct {
	StructSize uint32
	Flags      uint32
}

type CreateDataPipeOptions struct {
	StructSize  uint32
	Flags       uint32
	ElementSize uint32
	Capacity    uint32
}

type DataPipeProducerOptions struct {
	StructSize     uint32
	Flags          uint32
	WriteThreshold uint32
}

type DataPipeConsumerOptions struct {
	StructSize    uint32
	Flags         uint32
	ReadThreshold uint32
}

type CreateSharedBufferOptions struct {
	StructSize uint32
	Flags      uint32
}

// DuplicateBufferHandleFlags
const (
	DuplicateBufferHandleFlagNone = FlagNone
)

type DuplicateBufferHandleOptions struct {
	StructSize uint32
	Flags      uint32
}

type CreateEventOptions struct {
	StructSize uint32
	Flags      uint32
}

type CreateEventPairOptions struct {
	StructSize uint32
	Flags      uint32
}

type CreateWaitSetOptions struct {
	StructSize uint32
	Flags      uint32
}

type WaitSetAddOptions struct {
	StructSize uint32
	Flags      uint32
}

// MapBufferFlags
type MapBufferFlags uint32

const (
	MapBufferFlagNone MapBufferFlags = 0
	// MapBufferFlagWritable requests a writable mapping; requires WRITE.
	MapBufferFlagWritable MapBufferFlags = 1 << iota
)

// WriteMessageFlags / ReadMessageFlags (spec.md §4.3).
type WriteMessageFlags uint32

const (
	WriteMessageFlagNone WriteMessageFlags = 0
)

type ReadMessageFlags uint32

const (
	ReadMessageFlagNone       ReadMessageFlags = 0
	ReadMessageFlagMayDiscard ReadMessageFlags = 1 << iota
)

// ReadDataFlags (spec.md §4.4): PEEK, DISCARD, QUERY are mutually
// exclusive; ALL_OR_NONE composes with any of them.
type ReadDataFlags uint32

const (
	ReadDataFlagNone ReadDataFlags = 0
	ReadDataFlagAllOrNone ReadDataFlags = 1 << iota
	ReadDataFlagPeek
	ReadDataFlagDiscard
	ReadDataFlagQuery
)

func (f ReadDataFlags) exclusiveCount() int {
	n := 0
	for _, bit := range []ReadDataFlags{ReadDataFlagPeek, ReadDataFlagDiscard, ReadDataFlagQuery} {
		if f&bit != 0 {
			n++
		}
	}
	return n
}

type WriteDataFlags uint32

const (
	WriteDataFlagNone     WriteDataFlags = 0
	WriteDataFlagAllOrNone WriteDataFlags = 1 << iota
)
