package mojocore

import "github.com/rs/zerolog"

// coreLogger is the structured logger embedded in Core and handed down to
// the shared state behind message pipes and data pipes, so dispatcher-level
// code can log without importing Core itself. Grounded on bgpfix/pipe.go's
// `*zerolog.Logger` embed plus its `apply(opts)` nil ⇒ zerolog.Nop() rule.
type coreLogger struct {
	*zerolog.Logger
}

func newCoreLogger(l *zerolog.Logger) *coreLogger {
	if l == nil {
		nop := zerolog.Nop()
		l = &nop
	}
	return &coreLogger{Logger: l}
}
