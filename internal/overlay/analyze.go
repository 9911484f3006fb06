package overlay

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/siterisk/internal/polygon"
)

// Analyze overlays poly with each layer concurrently. An empty layer list
// means every catalog layer. Per-layer failures are recorded in the result;
// only an invalid polygon, an unavailable catalog, or cancellation of ctx
// fail the whole call.
func (e *Engine) Analyze(ctx context.Context, poly *polygon.Polygon, layers []string) (*AnalysisResult, error) {
	if err := e.checkPolygon(poly); err != nil {
		return nil, err
	}

	resolved := dedupe(layers)
	if len(resolved) == 0 {
		all, err := e.catalog.ListLayers(ctx)
		if err != nil {
			return nil, err
		}
		resolved = all
	}

	start := time.Now()
	results := make(LayerResults, len(resolved))

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, layer := range resolved {
		g.Go(func() error {
			results[i] = NamedResult{Layer: layer, Result: e.Overlay(ctx, poly, layer)}
			return nil // layer failures live in the result
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "overlay: analyze cancelled")
	}

	var total, failed int
	for _, r := range results {
		total += r.Result.Count
		if r.Result.Failed() {
			failed++
		}
	}

	e.log().Info("analysis complete",
		zap.Int("layers", len(results)),
		zap.Int("failed_layers", failed),
		zap.Int("total_features", total),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &AnalysisResult{Results: results, TotalFeatures: total}, nil
}
