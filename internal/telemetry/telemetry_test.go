package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetry_NilIsNoop(t *testing.T) {
	var tel *Telemetry

	ctx := context.Background()

	tel.RecordDownload(ctx, "written", time.Second)
	tel.RecordCacheHit(ctx)
	tel.RecordRedirect(ctx, http.StatusFound)
	tel.RecordBytesWritten(ctx, 10)
	tel.RecordAdmission(1, 2)
	tel.RecordHTTPRequest(http.MethodGet, "/", "2xx", time.Millisecond)
	tel.IncrementHTTPInFlight()
	tel.DecrementHTTPInFlight()

	err := tel.InstrumentDownload(ctx, func(context.Context) (string, error) {
		return "offline", errors.New("offline")
	})
	assert.EqualError(t, err, "offline")
	assert.NoError(t, tel.Shutdown(ctx))
	assert.NotNil(t, tel.Tracer())
}

func TestTelemetry_ExportsMetrics(t *testing.T) {
	ctx := context.Background()

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "fileloader-test", ServiceVersion: "test"})
	require.NoError(t, err)

	defer func() { assert.NoError(t, tel.Shutdown(ctx)) }()

	require.NoError(t, tel.InstrumentDownload(ctx, func(context.Context) (string, error) {
		return "written", nil
	}))
	tel.RecordCacheHit(ctx)
	tel.RecordAdmission(2, 1)
	require.NoError(t, tel.InstrumentDBOperation(ctx, "get_record", func(context.Context) error { return nil }))

	rr := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "downloads")
	assert.Contains(t, rr.Body.String(), `outcome="written"`)
	assert.Contains(t, rr.Body.String(), "cache_hits")
	assert.Contains(t, rr.Body.String(), "admission_active")
}
