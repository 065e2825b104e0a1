package apperrors

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// GenerateRequestID returns a fresh request correlation ID
func GenerateRequestID() string {
	return uuid.New().String()
}

// WithRequestID stamps the context with a request correlation ID. The logger
// picks it up so every line of one request shares the same ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// GetRequestID reads the request ID from the context, empty when unset
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
