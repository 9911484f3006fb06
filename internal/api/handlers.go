package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/siterisk/internal/cache"
	"github.com/sells-group/siterisk/internal/overlay"
	"github.com/sells-group/siterisk/internal/polygon"
)

const healthTimeout = 2 * time.Second

type analyzeRequest struct {
	Polygon json.RawMessage `json:"polygon"`
	Layers  []string        `json:"layers"`
}

type areaSummaryRequest struct {
	Polygon        json.RawMessage `json:"polygon"`
	Layer          string          `json:"layer"`
	GroupAttribute string          `json:"groupAttribute"`
}

type proximityRequest struct {
	Polygon       json.RawMessage `json:"polygon"`
	Layer         string          `json:"layer"`
	DistanceM     *float64        `json:"distance_m"`
	NameAttribute string          `json:"nameAttribute"`
}

type coverageRequest struct {
	Polygon json.RawMessage `json:"polygon"`
	Layers  []string        `json:"layers"`
	Tables  []string        `json:"tables"`
}

type polygonRequest struct {
	Polygon json.RawMessage `json:"polygon"`
}

type layersResponse struct {
	Success bool     `json:"success"`
	Layers  []string `json:"layers"`
}

type layerResponse struct {
	Success bool               `json:"success"`
	Layer   *overlay.LayerInfo `json:"layer"`
}

type analysisResponse struct {
	Success bool `json:"success"`
	*overlay.AnalysisResult
}

type areaSummaryResponse struct {
	Success bool `json:"success"`
	*overlay.AreaSummary
}

type proximityResponse struct {
	Success bool `json:"success"`
	*overlay.ProximitySummary
}

type coverageResponse struct {
	Success bool `json:"success"`
	*overlay.CoverageSummary
}

type assessmentResponse struct {
	Success bool `json:"success"`
	*overlay.Assessment
}

type pointsResponse struct {
	Success bool `json:"success"`
	overlay.LayerResult
}

type healthResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Database string `json:"database,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "OK", Message: "Backend server is running"}
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			zap.L().Warn("health: datastore unreachable",
				zap.String("component", "api"),
				zap.String("request_id", RequestID(r.Context())),
				zap.Error(err),
			)
			resp.Status = "DEGRADED"
			resp.Database = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListLayers(w http.ResponseWriter, r *http.Request) {
	layers, err := s.analyzer.ListLayers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, layersResponse{Success: true, Layers: layers})
}

func (s *Server) handleDescribeLayer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	info, err := s.analyzer.DescribeLayer(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, layerResponse{Success: true, Layer: info})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	poly, ok := s.decodeWithPolygon(w, r, &req, func() json.RawMessage { return req.Polygon })
	if !ok {
		return
	}

	key := cache.Key("analyze", append([]string{poly.Fingerprint()}, req.Layers...)...)
	res, err := withCache(r.Context(), s.cache, w, key, func() (*overlay.AnalysisResult, bool, error) {
		res, err := s.analyzer.Analyze(r.Context(), poly, req.Layers)
		if err != nil {
			return nil, false, err
		}
		for _, lr := range res.Results {
			if lr.Result.Failed() {
				return res, false, nil
			}
		}
		return res, true, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysisResponse{Success: true, AnalysisResult: res})
}

func (s *Server) handleAreaSummary(w http.ResponseWriter, r *http.Request) {
	var req areaSummaryRequest
	poly, ok := s.decodeWithPolygon(w, r, &req, func() json.RawMessage { return req.Polygon })
	if !ok {
		return
	}
	s.areaSummary(w, r, poly, req.Layer, req.GroupAttribute)
}

func (s *Server) handleALCSummary(w http.ResponseWriter, r *http.Request) {
	var req polygonRequest
	poly, ok := s.decodeWithPolygon(w, r, &req, func() json.RawMessage { return req.Polygon })
	if !ok {
		return
	}
	s.areaSummary(w, r, poly, s.defaults.ALCLayer, s.defaults.ALCAttribute)
}

func (s *Server) areaSummary(w http.ResponseWriter, r *http.Request, poly *polygon.Polygon, layer, attr string) {
	key := cache.Key("area-summary", poly.Fingerprint(), layer, attr)
	res, err := withCache(r.Context(), s.cache, w, key, func() (*overlay.AreaSummary, bool, error) {
		res, err := s.analyzer.AreaSummary(r.Context(), poly, layer, attr)
		return res, err == nil, err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, areaSummaryResponse{Success: true, AreaSummary: res})
}

func (s *Server) handleProximity(w http.ResponseWriter, r *http.Request) {
	var req proximityRequest
	poly, ok := s.decodeWithPolygon(w, r, &req, func() json.RawMessage { return req.Polygon })
	if !ok {
		return
	}
	if req.DistanceM == nil {
		writeError(w, r, eris.Wrap(overlay.ErrInvalidArgument, "distance_m is required"))
		return
	}
	s.proximity(w, r, poly, req.Layer, *req.DistanceM, req.NameAttribute)
}

func (s *Server) handleRenewablesProximity(w http.ResponseWriter, r *http.Request) {
	var req proximityRequest
	poly, ok := s.decodeWithPolygon(w, r, &req, func() json.RawMessage { return req.Polygon })
	if !ok {
		return
	}
	distance := s.defaults.RenewablesDistanceM
	if req.DistanceM != nil {
		distance = *req.DistanceM
	}
	s.proximity(w, r, poly, s.defaults.RenewablesLayer, distance, s.defaults.RenewablesNameAttribute)
}

func (s *Server) proximity(w http.ResponseWriter, r *http.Request, poly *polygon.Polygon, layer string, distanceM float64, nameAttr string) {
	key := cache.Key("proximity", poly.Fingerprint(), layer, strconv.FormatFloat(distanceM, 'g', -1, 64), nameAttr)
	res, err := withCache(r.Context(), s.cache, w, key, func() (*overlay.ProximitySummary, bool, error) {
		res, err := s.analyzer.Proximity(r.Context(), poly, layer, distanceM, nameAttr)
		return res, err == nil, err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proximityResponse{Success: true, ProximitySummary: res})
}

func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	var req coverageRequest
	poly, ok := s.decodeWithPolygon(w, r, &req, func() json.RawMessage { return req.Polygon })
	if !ok {
		return
	}
	layers := req.Layers
	if len(layers) == 0 {
		layers = req.Tables
	}
	if len(layers) == 0 {
		layers = s.defaults.FloodLayers
	}

	key := cache.Key("coverage", append([]string{poly.Fingerprint()}, layers...)...)
	res, err := withCache(r.Context(), s.cache, w, key, func() (*overlay.CoverageSummary, bool, error) {
		res, err := s.analyzer.Coverage(r.Context(), poly, layers)
		if err != nil {
			return nil, false, err
		}
		for _, lc := range res.ByLayer {
			if lc.Error != "" {
				return res, false, nil
			}
		}
		return res, true, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, coverageResponse{Success: true, CoverageSummary: res})
}

func (s *Server) handleAssessment(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	poly, ok := s.decodeWithPolygon(w, r, &req, func() json.RawMessage { return req.Polygon })
	if !ok {
		return
	}

	opts := s.assessOptions(req.Layers)
	key := cache.Key("assessment", append([]string{poly.Fingerprint()}, req.Layers...)...)
	res, err := withCache(r.Context(), s.cache, w, key, func() (*overlay.Assessment, bool, error) {
		res, err := s.analyzer.Assess(r.Context(), poly, opts)
		if err != nil {
			return nil, false, err
		}
		return res, len(res.Errors) == 0, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assessmentResponse{Success: true, Assessment: res})
}

func (s *Server) assessOptions(layers []string) overlay.AssessOptions {
	return overlay.AssessOptions{
		Layers:                  layers,
		ALCLayer:                s.defaults.ALCLayer,
		ALCAttribute:            s.defaults.ALCAttribute,
		FloodLayers:             s.defaults.FloodLayers,
		RenewablesLayer:         s.defaults.RenewablesLayer,
		RenewablesNameAttribute: s.defaults.RenewablesNameAttribute,
		RenewablesDistanceM:     s.defaults.RenewablesDistanceM,
	}
}

// handleFindPoints overlays the legacy layer and reports its matches at the
// top level of the response.
func (s *Server) handleFindPoints(w http.ResponseWriter, r *http.Request) {
	var req polygonRequest
	poly, ok := s.decodeWithPolygon(w, r, &req, func() json.RawMessage { return req.Polygon })
	if !ok {
		return
	}

	res := s.analyzer.Overlay(r.Context(), poly, s.defaults.LegacyLayer)
	if res.Failed() {
		writeError(w, r, &overlay.LayerQueryError{Layer: s.defaults.LegacyLayer, Err: eris.New(res.Error)})
		return
	}
	writeJSON(w, http.StatusOK, pointsResponse{Success: true, LayerResult: res})
}

// decodeWithPolygon decodes the body into dst and parses the polygon field
// that raw returns. It writes the error response itself and reports false
// when the request cannot proceed.
func (s *Server) decodeWithPolygon(w http.ResponseWriter, r *http.Request, dst any, raw func() json.RawMessage) (*polygon.Polygon, bool) {
	if err := decodeBody(w, r, s.cfg.MaxBodyBytes, dst); err != nil {
		writeError(w, r, err)
		return nil, false
	}
	poly, err := polygon.Parse(raw())
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return poly, true
}

// withCache returns a cached result for key when one exists. Otherwise it
// runs compute and stores the result if compute reports it cacheable.
func withCache[T any](ctx context.Context, c cache.Cache, w http.ResponseWriter, key string, compute func() (*T, bool, error)) (*T, error) {
	if c != nil {
		var hit T
		if cache.GetJSON(ctx, c, key, &hit) {
			w.Header().Set("X-Cache", "HIT")
			return &hit, nil
		}
		w.Header().Set("X-Cache", "MISS")
	}

	res, cacheable, err := compute()
	if err != nil {
		return nil, err
	}
	if cacheable && c != nil {
		cache.SetJSON(ctx, c, key, res)
	}
	return res, nil
}
