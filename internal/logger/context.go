package logger

import "context"

// contextKey is unexported so no other package can collide with our key.
type contextKey struct{}

var requestIDKey = contextKey{}

// WithRequestID stamps the context with the request ID so log lines emitted
// anywhere under an API call can be correlated.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID reads the stamped request ID; empty outside an HTTP request,
// which is how engine-tick log lines look.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
