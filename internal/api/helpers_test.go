package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/siterisk/internal/config"
	"github.com/sells-group/siterisk/internal/overlay"
	"github.com/sells-group/siterisk/internal/polygon"
)

const siteGeoJSON = `{"type":"Polygon","coordinates":[[[-1.5,52],[-1.49,52],[-1.49,52.01],[-1.5,52.01],[-1.5,52]]]}`

// fakeAnalyzer records calls and returns canned results.
type fakeAnalyzer struct {
	mu    sync.Mutex
	calls []string

	layers     []string
	layersErr  error
	info       *overlay.LayerInfo
	infoErr    error
	analysis   *overlay.AnalysisResult
	analyzeErr error
	points     overlay.LayerResult
	area       *overlay.AreaSummary
	areaErr    error
	prox       *overlay.ProximitySummary
	proxErr    error
	coverage   *overlay.CoverageSummary
	assessment *overlay.Assessment

	gotLayers    []string
	gotLayer     string
	gotAttr      string
	gotDistance  float64
	gotAssessOpt overlay.AssessOptions
}

func (f *fakeAnalyzer) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAnalyzer) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeAnalyzer) ListLayers(context.Context) ([]string, error) {
	f.record("ListLayers")
	return f.layers, f.layersErr
}

func (f *fakeAnalyzer) DescribeLayer(_ context.Context, layer string) (*overlay.LayerInfo, error) {
	f.record("DescribeLayer")
	f.gotLayer = layer
	return f.info, f.infoErr
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ *polygon.Polygon, layers []string) (*overlay.AnalysisResult, error) {
	f.record("Analyze")
	f.gotLayers = layers
	return f.analysis, f.analyzeErr
}

func (f *fakeAnalyzer) Overlay(_ context.Context, _ *polygon.Polygon, layer string) overlay.LayerResult {
	f.record("Overlay")
	f.gotLayer = layer
	return f.points
}

func (f *fakeAnalyzer) AreaSummary(_ context.Context, _ *polygon.Polygon, layer, attr string) (*overlay.AreaSummary, error) {
	f.record("AreaSummary")
	f.gotLayer, f.gotAttr = layer, attr
	return f.area, f.areaErr
}

func (f *fakeAnalyzer) Proximity(_ context.Context, _ *polygon.Polygon, layer string, distanceM float64, nameAttr string) (*overlay.ProximitySummary, error) {
	f.record("Proximity")
	f.gotLayer, f.gotDistance, f.gotAttr = layer, distanceM, nameAttr
	return f.prox, f.proxErr
}

func (f *fakeAnalyzer) Coverage(_ context.Context, _ *polygon.Polygon, layers []string) (*overlay.CoverageSummary, error) {
	f.record("Coverage")
	f.gotLayers = layers
	return f.coverage, nil
}

func (f *fakeAnalyzer) Assess(_ context.Context, _ *polygon.Polygon, opts overlay.AssessOptions) (*overlay.Assessment, error) {
	f.record("Assess")
	f.gotAssessOpt = opts
	return f.assessment, nil
}

func testDefaults() config.DefaultsConfig {
	return config.DefaultsConfig{
		LegacyLayer:             "Cluster_Maps",
		ALCLayer:                "ALC UK",
		ALCAttribute:            "ALC_GRADE",
		FloodLayers:             []string{"Flood risk areas"},
		RenewablesLayer:         "Renewables",
		RenewablesNameAttribute: "name",
		RenewablesDistanceM:     5000,
	}
}

func newTestServer(t *testing.T, a Analyzer, opts ...Option) http.Handler {
	t.Helper()
	cfg := config.ServerConfig{BasePath: "/api", MaxBodyBytes: 1 << 20}
	return NewServer(a, cfg, testDefaults(), opts...).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"), rec.Body.String())
	return rec
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }
