package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/siterisk/internal/overlay"
	"github.com/sells-group/siterisk/internal/polygon"
)

// analysisFunc runs one engine operation for a parsed polygon.
type analysisFunc func(ctx context.Context, engine *overlay.Engine, poly *polygon.Polygon) (any, error)

// runAnalysis reads --polygon, connects, runs fn and prints the result in
// the --output format.
func runAnalysis(cmd *cobra.Command, fn analysisFunc) error {
	if err := cfg.Validate("analyze"); err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("polygon")
	format, _ := cmd.Flags().GetString("output")

	poly, err := readPolygon(path, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	zap.L().Debug("running analysis",
		zap.String("command", cmd.Name()),
		zap.Float64("area_ha", poly.AreaHa()),
	)

	result, err := fn(ctx, newEngine(pool), poly)
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), format, result)
}

func addPolygonFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("polygon", "p", "", "GeoJSON Feature or Polygon file (- for stdin)")
	cmd.Flags().StringP("output", "o", "json", "output format: json or yaml")
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Overlay a polygon with layers",
	Long:  "Intersects the polygon with each layer and prints the matching features per layer. Without --layers every catalog layer is used.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		layers, _ := cmd.Flags().GetString("layers")
		return runAnalysis(cmd, func(ctx context.Context, engine *overlay.Engine, poly *polygon.Polygon) (any, error) {
			return engine.Analyze(ctx, poly, splitAndTrim(layers))
		})
	},
}

var areaSummaryCmd = &cobra.Command{
	Use:   "area-summary",
	Short: "Break the site area down by a layer attribute",
	RunE: func(cmd *cobra.Command, _ []string) error {
		layer, _ := cmd.Flags().GetString("layer")
		attr, _ := cmd.Flags().GetString("attribute")
		if layer == "" {
			layer, attr = cfg.Defaults.ALCLayer, cfg.Defaults.ALCAttribute
		}
		return runAnalysis(cmd, func(ctx context.Context, engine *overlay.Engine, poly *polygon.Polygon) (any, error) {
			return engine.AreaSummary(ctx, poly, layer, attr)
		})
	},
}

var proximityCmd = &cobra.Command{
	Use:   "proximity",
	Short: "Count layer features near the site and find the nearest",
	RunE: func(cmd *cobra.Command, _ []string) error {
		layer, _ := cmd.Flags().GetString("layer")
		distance, _ := cmd.Flags().GetFloat64("distance")
		nameAttr, _ := cmd.Flags().GetString("name-attribute")
		if layer == "" {
			layer = cfg.Defaults.RenewablesLayer
			if nameAttr == "" {
				nameAttr = cfg.Defaults.RenewablesNameAttribute
			}
		}
		if !cmd.Flags().Changed("distance") {
			distance = cfg.Defaults.RenewablesDistanceM
		}
		return runAnalysis(cmd, func(ctx context.Context, engine *overlay.Engine, poly *polygon.Polygon) (any, error) {
			return engine.Proximity(ctx, poly, layer, distance, nameAttr)
		})
	},
}

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Report the share of the site covered by layers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		raw, _ := cmd.Flags().GetString("layers")
		layers := splitAndTrim(raw)
		if len(layers) == 0 {
			layers = cfg.Defaults.FloodLayers
		}
		return runAnalysis(cmd, func(ctx context.Context, engine *overlay.Engine, poly *polygon.Polygon) (any, error) {
			return engine.Coverage(ctx, poly, layers)
		})
	},
}

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Run every summary for a site and derive findings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		raw, _ := cmd.Flags().GetString("layers")
		layers := splitAndTrim(raw)
		return runAnalysis(cmd, func(ctx context.Context, engine *overlay.Engine, poly *polygon.Polygon) (any, error) {
			return engine.Assess(ctx, poly, assessOptions(layers))
		})
	},
}

func assessOptions(layers []string) overlay.AssessOptions {
	d := cfg.Defaults
	return overlay.AssessOptions{
		Layers:                  layers,
		ALCLayer:                d.ALCLayer,
		ALCAttribute:            d.ALCAttribute,
		FloodLayers:             d.FloodLayers,
		RenewablesLayer:         d.RenewablesLayer,
		RenewablesNameAttribute: d.RenewablesNameAttribute,
		RenewablesDistanceM:     d.RenewablesDistanceM,
	}
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, areaSummaryCmd, proximityCmd, coverageCmd, assessCmd} {
		addPolygonFlags(c)
		rootCmd.AddCommand(c)
	}

	analyzeCmd.Flags().String("layers", "", "comma-separated layer names (default: all catalog layers)")
	assessCmd.Flags().String("layers", "", "comma-separated layers for the overlay section (default: all)")
	coverageCmd.Flags().String("layers", "", "comma-separated layer names (default: defaults.flood_layers)")

	areaSummaryCmd.Flags().String("layer", "", "layer to summarize (default: defaults.alc_layer)")
	areaSummaryCmd.Flags().String("attribute", "", "attribute to group by (default: defaults.alc_attribute)")

	proximityCmd.Flags().String("layer", "", "layer to search (default: defaults.renewables_layer)")
	proximityCmd.Flags().Float64("distance", 0, "search radius in meters (default: defaults.renewables_distance_m)")
	proximityCmd.Flags().String("name-attribute", "", "attribute reported for the nearest feature")
}
