package tracing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/signflow/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracedEngine(t *testing.T) (*gin.Engine, *tracetest.SpanRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	r := gin.New()
	r.Use(GinMiddleware(WithTracerProvider(tp)))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/objects/:token", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/broken", func(c *gin.Context) {
		_ = c.Error(apperror.SigningUnavailable("authority_down", "kms key ring signflow-dev unreachable"))
		c.Status(http.StatusServiceUnavailable)
	})
	return r, recorder
}

func serve(r *gin.Engine, path string) {
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestGinMiddlewareNamesSpanByRoute(t *testing.T) {
	r, recorder := newTracedEngine(t)
	serve(r, "/objects/secret-token")

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /objects/:token", spans[0].Name())

	route, ok := attrValue(spans[0].Attributes(), "http.route")
	require.True(t, ok)
	assert.Equal(t, "/objects/:token", route.AsString())
	status, ok := attrValue(spans[0].Attributes(), "http.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(http.StatusOK), status.AsInt64())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestGinMiddlewareSkipsHealthRoutes(t *testing.T) {
	r, recorder := newTracedEngine(t)
	serve(r, "/healthz")
	assert.Empty(t, recorder.Ended())
}

func TestGinMiddlewareMarksServerErrors(t *testing.T) {
	r, recorder := newTracedEngine(t)
	r.GET("/plain", func(c *gin.Context) {
		_ = c.Error(errors.New("dial tcp 10.0.0.1"))
		c.Status(http.StatusInternalServerError)
	})
	serve(r, "/broken")
	serve(r, "/plain")

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.Equal(t, codes.Error, span.Status().Code)
		require.Len(t, span.Events(), 1)
	}
	msg, ok := attrValue(spans[0].Events()[0].Attributes, "exception.message")
	require.True(t, ok)
	assert.Equal(t, "signing_unavailable:authority_down", msg.AsString())
	msg, ok = attrValue(spans[1].Events()[0].Attributes, "exception.message")
	require.True(t, ok)
	assert.Equal(t, "internal_error", msg.AsString())
}
