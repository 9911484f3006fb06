package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/siterisk/internal/cache"
	"github.com/sells-group/siterisk/internal/config"
	"github.com/sells-group/siterisk/internal/overlay"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func decodeResponse(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &fakeAnalyzer{})

	for _, path := range []string{"/health", "/api/health"} {
		rec := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.JSONEq(t, `{"status":"OK","message":"Backend server is running"}`, rec.Body.String())
	}
}

func TestHealth_DatastoreDown(t *testing.T) {
	h := newTestServer(t, &fakeAnalyzer{}, WithPinger(fakePinger{err: errors.New("connection refused")}))

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"DEGRADED","message":"Backend server is running","database":"unreachable"}`, rec.Body.String())
}

func TestListLayers(t *testing.T) {
	h := newTestServer(t, &fakeAnalyzer{layers: []string{"ALC UK", "Cluster_Maps"}})

	rec := do(t, h, http.MethodGet, "/api/layers", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"layers":["ALC UK","Cluster_Maps"]}`, rec.Body.String())
}

func TestListLayers_CatalogUnavailable(t *testing.T) {
	h := newTestServer(t, &fakeAnalyzer{
		layersErr: eris.Wrap(overlay.ErrCatalogUnavailable, "list layers in schema \"public\""),
	})

	rec := do(t, h, http.MethodGet, "/api/layers", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	out := decodeResponse(t, rec.Body.Bytes())
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "layer catalog unavailable")
}

func TestDescribeLayer(t *testing.T) {
	fa := &fakeAnalyzer{info: &overlay.LayerInfo{Name: "ALC UK", Schema: "public", RowCount: 42}}
	h := newTestServer(t, fa)

	rec := do(t, h, http.MethodGet, "/api/layers/ALC%20UK", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ALC UK", fa.gotLayer)

	out := decodeResponse(t, rec.Body.Bytes())
	assert.Equal(t, true, out["success"])
	layer := out["layer"].(map[string]any)
	assert.Equal(t, "ALC UK", layer["name"])
	assert.Equal(t, float64(42), layer["row_count"])
}

func TestDescribeLayer_NotFound(t *testing.T) {
	h := newTestServer(t, &fakeAnalyzer{infoErr: eris.Wrapf(overlay.ErrLayerNotFound, "layer %q", "Nope")})

	rec := do(t, h, http.MethodGet, "/api/layers/Nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyze(t *testing.T) {
	fa := &fakeAnalyzer{analysis: &overlay.AnalysisResult{
		Results: overlay.LayerResults{
			{Layer: "Cluster_Maps", Result: overlay.LayerResult{
				Count: 1,
				Features: []overlay.Feature{{
					Type:       "Feature",
					Properties: map[string]any{"id": 1},
					Geometry:   json.RawMessage(`{"type":"Point","coordinates":[-1.495,52.005]}`),
				}},
			}},
			{Layer: "Missing", Result: overlay.LayerResult{
				Features: []overlay.Feature{},
				Error:    `relation "public.Missing" does not exist`,
			}},
		},
		TotalFeatures: 1,
	}}
	h := newTestServer(t, fa)

	body := `{"polygon":` + siteGeoJSON + `,"layers":["Cluster_Maps","Missing"]}`
	for _, path := range []string{"/api/analyze", "/api/analyze-polygon"} {
		rec := do(t, h, http.MethodPost, path, body)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.JSONEq(t, `{
			"success": true,
			"results": {
				"Cluster_Maps": {"count":1,"features":[{"type":"Feature","properties":{"id":1},"geometry":{"type":"Point","coordinates":[-1.495,52.005]}}]},
				"Missing": {"count":0,"features":[],"error":"relation \"public.Missing\" does not exist"}
			},
			"totalFeatures": 1
		}`, rec.Body.String())
		assert.True(t, strings.Index(rec.Body.String(), "Cluster_Maps") < strings.Index(rec.Body.String(), "Missing"))
	}
	assert.Equal(t, []string{"Cluster_Maps", "Missing"}, fa.gotLayers)
}

func TestAnalyze_FeatureWrappedPolygon(t *testing.T) {
	fa := &fakeAnalyzer{analysis: &overlay.AnalysisResult{Results: overlay.LayerResults{}}}
	h := newTestServer(t, fa)

	body := `{"polygon":{"type":"Feature","properties":{},"geometry":` + siteGeoJSON + `}}`
	rec := do(t, h, http.MethodPost, "/api/analyze", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"results":{},"totalFeatures":0}`, rec.Body.String())
}

func TestAnalyze_BadRequests(t *testing.T) {
	h := newTestServer(t, &fakeAnalyzer{})

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"empty body", "", "polygon is required"},
		{"missing polygon", `{"layers":["x"]}`, "polygon is required"},
		{"malformed json", `{"polygon":`, "invalid JSON body"},
		{"point geometry", `{"polygon":{"type":"Point","coordinates":[0,0]}}`, "invalid polygon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/analyze", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			out := decodeResponse(t, rec.Body.Bytes())
			assert.Equal(t, false, out["success"])
			assert.Contains(t, out["error"], tt.wantErr)
		})
	}
}

func TestAnalyze_BodyTooLarge(t *testing.T) {
	cfg := config.ServerConfig{BasePath: "/api", MaxBodyBytes: 64}
	h := NewServer(&fakeAnalyzer{}, cfg, testDefaults()).Handler()

	body := `{"polygon":` + siteGeoJSON + `}`
	rec := do(t, h, http.MethodPost, "/api/analyze", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAnalyze_EngineErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"catalog unavailable", eris.Wrap(overlay.ErrCatalogUnavailable, "list layers"), http.StatusServiceUnavailable},
		{"too large", eris.Wrap(overlay.ErrInvalidPolygon, "polygon area 3.2 ha exceeds the 1.0 ha limit"), http.StatusBadRequest},
		{"cancelled", context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, &fakeAnalyzer{analyzeErr: tt.err})
			rec := do(t, h, http.MethodPost, "/api/analyze", `{"polygon":`+siteGeoJSON+`}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAreaSummary(t *testing.T) {
	fa := &fakeAnalyzer{area: &overlay.AreaSummary{
		Layer:          "ALC UK",
		GroupAttribute: "ALC_GRADE",
		TotalAreaHa:    100,
		ByCategory: []overlay.CategoryArea{
			{Category: strPtr("Grade 2"), AreaHa: 60, Percent: floatPtr(60)},
			{Category: strPtr("Grade 3"), AreaHa: 40, Percent: floatPtr(40)},
		},
	}}
	h := newTestServer(t, fa)

	rec := do(t, h, http.MethodPost, "/api/area-summary",
		`{"polygon":`+siteGeoJSON+`,"layer":"ALC UK","groupAttribute":"ALC_GRADE"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ALC UK", fa.gotLayer)
	assert.Equal(t, "ALC_GRADE", fa.gotAttr)
	assert.JSONEq(t, `{
		"success": true,
		"layer": "ALC UK",
		"group_attribute": "ALC_GRADE",
		"total_area_ha": 100,
		"by_grade": [
			{"grade":"Grade 2","area_ha":60,"percent":60},
			{"grade":"Grade 3","area_ha":40,"percent":40}
		]
	}`, rec.Body.String())
}

func TestAreaSummary_LayerFailureIs500(t *testing.T) {
	fa := &fakeAnalyzer{areaErr: &overlay.LayerQueryError{Layer: "ALC UK", Err: errors.New("column t.ALC_GRADE does not exist")}}
	h := newTestServer(t, fa)

	rec := do(t, h, http.MethodPost, "/api/area-summary",
		`{"polygon":`+siteGeoJSON+`,"layer":"ALC UK","groupAttribute":"ALC_GRADE"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"layer \"ALC UK\": column t.ALC_GRADE does not exist"}`, rec.Body.String())
}

func TestALCSummary_UsesDefaults(t *testing.T) {
	fa := &fakeAnalyzer{area: &overlay.AreaSummary{ByCategory: []overlay.CategoryArea{}}}
	h := newTestServer(t, fa)

	rec := do(t, h, http.MethodPost, "/api/alc-summary", `{"polygon":`+siteGeoJSON+`}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ALC UK", fa.gotLayer)
	assert.Equal(t, "ALC_GRADE", fa.gotAttr)
}

func TestProximity(t *testing.T) {
	fa := &fakeAnalyzer{prox: &overlay.ProximitySummary{
		Layer:     "Renewables",
		DistanceM: 5000,
		Nearest:   &overlay.Nearest{Name: "Hill Farm Solar", DistanceKm: 7.3},
	}}
	h := newTestServer(t, fa)

	rec := do(t, h, http.MethodPost, "/api/proximity",
		`{"polygon":`+siteGeoJSON+`,"layer":"Renewables","distance_m":5000,"nameAttribute":"site_name"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5000.0, fa.gotDistance)
	assert.Equal(t, "site_name", fa.gotAttr)
	assert.JSONEq(t, `{
		"success": true,
		"layer": "Renewables",
		"distance_m": 5000,
		"within_distance": 0,
		"nearest": {"name":"Hill Farm Solar","distance_km":7.3}
	}`, rec.Body.String())
}

func TestProximity_DistanceRequired(t *testing.T) {
	fa := &fakeAnalyzer{}
	h := newTestServer(t, fa)

	rec := do(t, h, http.MethodPost, "/api/proximity", `{"polygon":`+siteGeoJSON+`,"layer":"Renewables"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, fa.callCount("Proximity"))
}

func TestRenewablesProximity(t *testing.T) {
	fa := &fakeAnalyzer{prox: &overlay.ProximitySummary{Layer: "Renewables"}}
	h := newTestServer(t, fa)

	rec := do(t, h, http.MethodPost, "/api/renewables-proximity", `{"polygon":`+siteGeoJSON+`}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renewables", fa.gotLayer)
	assert.Equal(t, 5000.0, fa.gotDistance)
	assert.Equal(t, "name", fa.gotAttr)

	rec = do(t, h, http.MethodPost, "/api/renewables-proximity", `{"polygon":`+siteGeoJSON+`,"distance_m":2000}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2000.0, fa.gotDistance)
}

func TestCoverage_LayerSelection(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want []string
	}{
		{"defaults", "/api/coverage", `{"polygon":` + siteGeoJSON + `}`, []string{"Flood risk areas"}},
		{"explicit layers", "/api/coverage", `{"polygon":` + siteGeoJSON + `,"layers":["Flood Zone 2","Flood Zone 3"]}`, []string{"Flood Zone 2", "Flood Zone 3"}},
		{"tables alias", "/api/flood-summary", `{"polygon":` + siteGeoJSON + `,"tables":["Flood Zone 3"]}`, []string{"Flood Zone 3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := &fakeAnalyzer{coverage: &overlay.CoverageSummary{ByLayer: []overlay.LayerCoverage{}}}
			h := newTestServer(t, fa)

			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, fa.gotLayers)
			assert.Equal(t, true, decodeResponse(t, rec.Body.Bytes())["success"])
		})
	}
}

func TestAssessment(t *testing.T) {
	fa := &fakeAnalyzer{assessment: &overlay.Assessment{
		Findings: []overlay.Finding{overlay.AgriculturalFinding(nil)},
	}}
	h := newTestServer(t, fa)

	rec := do(t, h, http.MethodPost, "/api/assessment", `{"polygon":`+siteGeoJSON+`}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ALC UK", fa.gotAssessOpt.ALCLayer)
	assert.Equal(t, []string{"Flood risk areas"}, fa.gotAssessOpt.FloodLayers)
	assert.Equal(t, 5000.0, fa.gotAssessOpt.RenewablesDistanceM)

	out := decodeResponse(t, rec.Body.Bytes())
	assert.Equal(t, true, out["success"])
	findings := out["findings"].([]any)
	require.Len(t, findings, 1)
	assert.Equal(t, overlay.RiskUnknown, findings[0].(map[string]any)["risk"])
}

func TestFindPointsInPolygon(t *testing.T) {
	fa := &fakeAnalyzer{points: overlay.LayerResult{
		Count: 1,
		Features: []overlay.Feature{{
			Type:       "Feature",
			Properties: map[string]any{"cluster": "A"},
			Geometry:   json.RawMessage(`{"type":"Point","coordinates":[-1.495,52.005]}`),
		}},
	}}
	h := newTestServer(t, fa)

	rec := do(t, h, http.MethodPost, "/api/find-points-in-polygon", `{"polygon":`+siteGeoJSON+`}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Cluster_Maps", fa.gotLayer)
	assert.JSONEq(t, `{
		"success": true,
		"count": 1,
		"features": [{"type":"Feature","properties":{"cluster":"A"},"geometry":{"type":"Point","coordinates":[-1.495,52.005]}}]
	}`, rec.Body.String())
}

func TestFindPointsInPolygon_LayerFailure(t *testing.T) {
	fa := &fakeAnalyzer{points: overlay.LayerResult{
		Features: []overlay.Feature{},
		Error:    `relation "public.Cluster_Maps" does not exist`,
	}}
	h := newTestServer(t, fa)

	rec := do(t, h, http.MethodPost, "/api/find-points-in-polygon", `{"polygon":`+siteGeoJSON+`}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"layer \"Cluster_Maps\": relation \"public.Cluster_Maps\" does not exist"}`, rec.Body.String())
}

func TestCache_ServesRepeatRequests(t *testing.T) {
	fa := &fakeAnalyzer{area: &overlay.AreaSummary{
		Layer:       "ALC UK",
		TotalAreaHa: 12.35,
		ByCategory:  []overlay.CategoryArea{},
	}}
	h := newTestServer(t, fa, WithCache(cache.NewMemory(10, time.Minute)))

	body := `{"polygon":` + siteGeoJSON + `,"layer":"ALC UK","groupAttribute":"ALC_GRADE"}`
	first := do(t, h, http.MethodPost, "/api/area-summary", body)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := do(t, h, http.MethodPost, "/api/area-summary", body)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, fa.callCount("AreaSummary"))
}

func TestCache_SkipsDegradedResults(t *testing.T) {
	fa := &fakeAnalyzer{analysis: &overlay.AnalysisResult{Results: overlay.LayerResults{
		{Layer: "Missing", Result: overlay.LayerResult{Features: []overlay.Feature{}, Error: "boom"}},
	}}}
	h := newTestServer(t, fa, WithCache(cache.NewMemory(10, time.Minute)))

	body := `{"polygon":` + siteGeoJSON + `,"layers":["Missing"]}`
	do(t, h, http.MethodPost, "/api/analyze", body)
	rec := do(t, h, http.MethodPost, "/api/analyze", body)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 2, fa.callCount("Analyze"))
}

func TestCache_HitMatchesMissByteForByte(t *testing.T) {
	fa := &fakeAnalyzer{analysis: &overlay.AnalysisResult{
		Results: overlay.LayerResults{{Layer: "Cluster_Maps", Result: overlay.LayerResult{
			Count: 1,
			Features: []overlay.Feature{{
				Type: "Feature",
				Properties: map[string]any{
					"uprn": json.Number("100023336956123457"),
					"cap":  json.Number("1.10"),
					"tags": []any{json.Number("7"), "solar"},
				},
				Geometry: json.RawMessage(`{"type":"Point","coordinates":[-1.495,52.005]}`),
			}},
		}}},
		TotalFeatures: 1,
	}}
	h := newTestServer(t, fa, WithCache(cache.NewMemory(10, time.Minute)))

	body := `{"polygon":` + siteGeoJSON + `,"layers":["Cluster_Maps"]}`
	miss := do(t, h, http.MethodPost, "/api/analyze", body)
	require.Equal(t, "MISS", miss.Header().Get("X-Cache"))
	assert.Contains(t, miss.Body.String(), `"uprn":100023336956123457`)
	assert.Contains(t, miss.Body.String(), `"cap":1.10`)

	hit := do(t, h, http.MethodPost, "/api/analyze", body)
	require.Equal(t, "HIT", hit.Header().Get("X-Cache"))
	assert.Equal(t, miss.Body.String(), hit.Body.String())
	assert.Equal(t, 1, fa.callCount("Analyze"))
}
