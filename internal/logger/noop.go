package logger

// Noop is a logger that discards everything. Useful in tests and as a
// default when no logger is supplied.
type Noop struct{}

// NewNoop creates a no-op logger.
func NewNoop() Interface { return &Noop{} }

// Debug does nothing.
func (*Noop) Debug(string, ...any) {}

// Info does nothing.
func (*Noop) Info(string, ...any) {}

// Warn does nothing.
func (*Noop) Warn(string, ...any) {}

// Error does nothing.
func (*Noop) Error(string, ...any) {}

// Fatal does nothing.
func (*Noop) Fatal(string, ...any) {}

// With returns the same no-op logger.
func (n *Noop) With(...any) Interface { return n }
