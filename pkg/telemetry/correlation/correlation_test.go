package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "cid-1")
	ctx, cid := EnsureCorrelationID(ctx)
	assert.Equal(t, "cid-1", cid)
	assert.Equal(t, "cid-1", ExtractCorrelationID(ctx))
}

func TestEnsureCorrelationIDGeneratesULID(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	assert.Len(t, cid, 26)
	assert.Equal(t, cid, ExtractCorrelationID(ctx))
}

func TestHeadersIncludeRemoteSpan(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "cid-2")
	ctx = ContextWithRemoteSpan(ctx, "4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")

	headers := Headers(ctx)
	assert.Equal(t, "cid-2", headers["correlation_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", headers["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", headers["span_id"])
	assert.True(t, trace.SpanContextFromContext(ctx).IsRemote())
}

func TestHeadersEmptyContext(t *testing.T) {
	assert.Empty(t, Headers(context.Background()))
}
