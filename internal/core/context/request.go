// Package context carries the identity of the request a ledger operation runs for.
package context

import "context"

// Request identifies who asked for a ledger change and how to correlate it.
// StaffID is whatever the caller sent; authentication happens upstream.
type Request struct {
	TraceID   string
	RequestID string
	StaffID   string
}

type requestKey struct{}

// WithRequest stores r in ctx.
func WithRequest(ctx context.Context, r Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

// RequestFrom returns the request stored in ctx.
func RequestFrom(ctx context.Context) (Request, bool) {
	r, ok := ctx.Value(requestKey{}).(Request)
	return r, ok
}

// StaffFrom returns the acting staff member, or fallback when the request names none.
func StaffFrom(ctx context.Context, fallback string) string {
	if fallback != "" {
		return fallback
	}
	r, _ := RequestFrom(ctx)
	return r.StaffID
}

// LogFields returns the non-empty identifiers as key/value pairs.
func (r Request) LogFields() []any {
	fields := make([]any, 0, 6)
	for _, kv := range [...][2]string{
		{"trace_id", r.TraceID},
		{"request_id", r.RequestID},
		{"staff_id", r.StaffID},
	} {
		if kv[1] != "" {
			fields = append(fields, kv[0], kv[1])
		}
	}
	return fields
}
