package logger

import "context"

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped fields attached to one connection's
// context.Context: which client, which store operation, which file.
type LogContext struct {
	ClientID int
	Op       string
	Name     string
}

// Field key constants, used both here and by the color text handler.
const (
	KeyClientID = "client_id"
	KeyOp       = "op"
	KeyName     = "name"
)

// WithContext returns a child of ctx carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext attached to ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// WithOp returns a copy of lc with Op set, leaving the original untouched.
func (lc *LogContext) WithOp(op string) *LogContext {
	clone := lc.clone()
	if clone != nil {
		clone.Op = op
	}
	return clone
}

// WithName returns a copy of lc with Name set.
func (lc *LogContext) WithName(name string) *LogContext {
	clone := lc.clone()
	if clone != nil {
		clone.Name = name
	}
	return clone
}

func (lc *LogContext) clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}
