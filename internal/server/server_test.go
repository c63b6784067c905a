package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/signflow/internal/clock"
	"github.com/smallbiznis/signflow/internal/objectstore"
	"github.com/smallbiznis/signflow/internal/observability"
	"github.com/smallbiznis/signflow/internal/testutil"
	"github.com/smallbiznis/signflow/pkg/apperror"
	"github.com/smallbiznis/signflow/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const baseURL = "http://ops.local/objects"

type fixture struct {
	server *Server
	store  *objectstore.GormStore
	clock  *clock.FakeClock
}

func setup(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.OpenDB(t, &objectstore.StoredObject{})
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	store := objectstore.NewGormStore(db, zap.NewNop(), clk,
		objectstore.NewURLSigner([]byte("secret"), baseURL, clk.Now))

	registry := prometheus.NewRegistry()
	engine := NewEngine(observability.Config{Environment: "test"}, telemetry.NewMetrics(registry))
	srv := NewServer(ServerParams{
		Gin:      engine,
		DB:       db,
		Log:      zap.NewNop(),
		Objects:  store,
		Gatherer: registry,
	})
	return fixture{server: srv, store: store, clock: clk}
}

func (f fixture) do(method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestHealthRoutes(t *testing.T) {
	f := setup(t)

	rec := f.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)
	assert.NotContains(t, rec.Body.String(), "redis")

	rec = f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "signflow_api_requests_total")
}

func TestDownloadObject(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.store.PutObject(ctx, "documents", "documents/1/2/msa.pdf", []byte("%PDF-1.7"), "application/pdf")
	require.NoError(t, err)
	url, err := f.store.GetObjectURL(ctx, "documents", "documents/1/2/msa.pdf", time.Minute, "")
	require.NoError(t, err)
	path := "/objects/" + strings.TrimPrefix(url, baseURL+"/")

	rec := f.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.7", rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "private, no-store", rec.Header().Get("Cache-Control"))

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	rec = f.do(http.MethodGet, path, http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, rec.Code)

	f.clock.Advance(2 * time.Minute)
	rec = f.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "object_url_expired", decodeError(t, rec).Code)
}

func TestDownloadObjectRejectsTamperedToken(t *testing.T) {
	f := setup(t)

	rec := f.do(http.MethodGet, "/objects/not-a-token", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "forbidden", payload.Type)
	assert.Equal(t, "invalid_object_url", payload.Code)
	assert.Empty(t, payload.Details)
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	f := setup(t)
	rec := f.do(http.MethodGet, "/envelopes", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
	}{
		{apperror.Conflict("version_mismatch", "stale"), http.StatusConflict, "conflict"},
		{apperror.ConsentRequired("consent_missing", "no consent"), http.StatusPreconditionFailed, "consent_required"},
		{apperror.AlreadyUsed("invitation_already_used", "used"), http.StatusGone, "already_used"},
		{apperror.SigningUnavailable("authority_down", "down"), http.StatusServiceUnavailable, "signing_unavailable"},
		{apperror.Validation("invalid_title", "bad"), http.StatusBadRequest, "validation_error"},
		{apperror.RateLimited("rate_limited", "slow down"), http.StatusTooManyRequests, "rate_limited"},
		{context.DeadlineExceeded, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.typ, payload.Type, tc.err.Error())
	}
}

func TestRateLimitedSetsRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	r.GET("/limited", func(c *gin.Context) {
		AbortWithError(c, apperror.RateLimited("rate_limited", "slow down").With("retry_after_ms", int64(1500)))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/limited", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}
