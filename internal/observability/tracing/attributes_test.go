package tracing

import (
	"errors"
	"testing"

	"github.com/smallbiznis/signflow/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("envelope_id", "1"),
		attribute.String("signer.email", "a@example.com"),
		attribute.String("invitation_token", "abc"),
		attribute.Int("http.status_code", 200),
	)
	keys := make([]attribute.Key, 0, len(attrs))
	for _, a := range attrs {
		keys = append(keys, a.Key)
	}
	assert.Equal(t, []attribute.Key{"envelope_id", "http.status_code"}, keys)
}

func TestSafeErrorUsesClassification(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	assert.EqualError(t, SafeError(apperror.Conflict("envelope_not_draft", "envelope alice@example.com")), "conflict:envelope_not_draft")
	assert.EqualError(t, SafeError(errors.New("dial tcp 10.0.0.1")), "internal_error")
}
