package mojocore

// Implementation-defined upper bounds (spec.md §9 open question, decided
// in SPEC_FULL.md §9). The spec only requires that these exist and that
// exceeding them returns CodeResourceExhausted; the concrete values are
// generous but finite.
const (
	// MaxHandles bounds a HandleTable's live-handle count.
	MaxHandles = 1 << 20

	// MaxDataPipeCapacity bounds CreateDataPipe's capacity_bytes.
	MaxDataPipeCapacity = 256 << 20

	// DefaultDataPipeCapacity is used when CreateDataPipe's capacity is 0.
	DefaultDataPipeCapacity = 64 << 10

	// MaxMessageBytes bounds a single WriteMessage payload.
	MaxMessageBytes = 256 << 20

	// MaxMessageHandles bounds the handles attached to one message.
	MaxMessageHandles = 1 << 16

	// pageSize is the rounding granularity for CreateSharedBuffer.
	pageSize = 4096
)

func roundUpPage(n uint64) uint64 {
	if n == 0 {
		return pageSize
	}
	return (n + pageSize - 1) &^ (pageSize - 1)
}
