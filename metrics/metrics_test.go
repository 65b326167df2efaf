package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsEndpoint(t *testing.T) {
	counter, latency := MakeMetrics("device_pki_test", "endpoint")
	counter.With("method", "identity").Add(1)
	latency.With("method", "identity").Observe(12)

	ms, err := New("device_pki_test", "127.0.0.1:0")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	ms.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `device_pki_test_endpoint_request_count{method="identity"} 1`)
	assert.Contains(t, string(body), `device_pki_test_build_info{version=`)
}
