package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveLayerQuery(t *testing.T) {
	okBefore := testutil.ToFloat64(LayerQueriesTotal.WithLabelValues("overlay", "ok"))
	errBefore := testutil.ToFloat64(LayerQueriesTotal.WithLabelValues("overlay", "error"))

	ObserveLayerQuery("overlay", time.Now(), nil)
	ObserveLayerQuery("overlay", time.Now(), errors.New("boom"))
	ObserveLayerQuery("overlay", time.Now(), errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(LayerQueriesTotal.WithLabelValues("overlay", "ok")))
	assert.Equal(t, errBefore+2, testutil.ToFloat64(LayerQueriesTotal.WithLabelValues("overlay", "error")))
}

func TestObserveHTTP(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/api/layers", "200"))
	ObserveHTTP("/api/layers", http.StatusOK, 12*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/api/layers", "200")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveLayerQuery("area_summary", time.Now(), nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "siterisk_layer_queries_total")
	assert.Contains(t, string(body), "siterisk_layer_query_duration_seconds")
}
