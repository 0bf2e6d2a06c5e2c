package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest/internal/metrics"
)

func TestNewBackend_RequiresURL(t *testing.T) {
	_, err := NewBackend("ingest", " ")
	require.Error(t, err)
}

func TestBackend_RecordsKnownMetrics(t *testing.T) {
	b, err := NewBackend("", "http://localhost:9091")
	require.NoError(t, err)

	b.IncCounter(metrics.RowsTotal, 2, metrics.Labels{"table": "t"})
	b.IncCounter(metrics.RowsTotal, 3, metrics.Labels{"table": "t"})
	b.IncCounter(metrics.RequestsTotal, 1, metrics.Labels{"status": "error"})
	b.IncCounter("unknown_total", 1, nil)
	b.ObserveHistogram(metrics.DurationSeconds, 0.2, metrics.Labels{"stage": "ingest", "status": "success"})

	assert.Equal(t, 5.0, testutil.ToFloat64(b.counters[metrics.RowsTotal].WithLabelValues("t")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.counters[metrics.RequestsTotal].WithLabelValues("error", "unknown")))
	assert.Equal(t, 1, testutil.CollectAndCount(b.histograms[metrics.DurationSeconds]))
}

func TestBackend_FlushPushesToGateway(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(raw)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	b, err := NewBackend("ingest_job", gw.URL)
	require.NoError(t, err)
	b.IncCounter(metrics.SchemaChangesTotal, 1, metrics.Labels{"action": "created"})

	require.NoError(t, b.Flush())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/ingest_job", path)
	assert.NotEmpty(t, body)
}

func TestBackend_FlushReportsGatewayError(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer gw.Close()

	b, err := NewBackend("ingest", gw.URL)
	require.NoError(t, err)
	err = b.Flush()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompush: push")
}

func TestBackend_Handler(t *testing.T) {
	b, err := NewBackend("ingest", "http://localhost:9091")
	require.NoError(t, err)
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"table": "table_people"})

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `ingest_rows_total{table="table_people"} 1`))
}
