package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopWhenDisabled(t *testing.T) {
	if IsEnabled() {
		t.Skip("registry already initialized by another test")
	}
	assert.IsType(t, NoopStorageMetrics{}, NewStorageMetrics("s"))
	assert.IsType(t, NoopAdapterMetrics{}, NewAdapterMetrics("nats"))
}

func TestStorageMetrics(t *testing.T) {
	InitRegistry()

	a := NewStorageMetrics("alpha")
	b := NewStorageMetrics("beta") // must not panic on duplicate registration

	a.RecordOperation("put", time.Millisecond, nil)
	a.RecordOperation("put", time.Millisecond, errors.New("boom"))
	b.RecordStaleDrop("delete")
	a.RecordReclamation(3, 1, 2, time.Second)

	vecs := getStorageVectors(GetRegistry())
	assert.Equal(t, 1.0, testutil.ToFloat64(vecs.operationsTotal.WithLabelValues("alpha", "put", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(vecs.operationsTotal.WithLabelValues("alpha", "put", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(vecs.staleDropsTotal.WithLabelValues("beta", "delete")))
	assert.Equal(t, 3.0, testutil.ToFloat64(vecs.reclaimedTotal.WithLabelValues("alpha")))
	assert.Equal(t, 2.0, testutil.ToFloat64(vecs.orphanRecords.WithLabelValues("alpha")))
}

func TestServerEndpoints(t *testing.T) {
	InitRegistry()
	NewAdapterMetrics("nats").RecordMessage("put", nil)

	srv := NewServer(ServerConfig{})
	assert.Equal(t, 9090, srv.Port())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "fsstore_adapter_messages_total"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
