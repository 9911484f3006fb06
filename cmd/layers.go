package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/siterisk/internal/layerload"
	"github.com/sells-group/siterisk/internal/overlay"
)

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "Inspect and load spatial layers",
}

var layersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the layers available for analysis",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("load"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		catalog := overlay.NewCatalog(pool, cfg.Catalog.Schema, cfg.Catalog.Exclude)
		layers, err := catalog.ListLayers(ctx)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("output")
		if format == "text" {
			out := cmd.OutOrStdout()
			for _, l := range layers {
				fmt.Fprintln(out, l)
			}
			return nil
		}
		return writeOutput(cmd.OutOrStdout(), format, layers)
	},
}

var layersDescribeCmd = &cobra.Command{
	Use:   "describe <layer>",
	Short: "Show geometry metadata, row count and size for a layer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("load"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		info, err := newEngine(pool).DescribeLayer(ctx, args[0])
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("output")
		return writeOutput(cmd.OutOrStdout(), format, info)
	},
}

var layersLoadCmd = &cobra.Command{
	Use:   "load <shapefile>",
	Short: "Load a shapefile (.shp or .zip) into a new layer table",
	Long: `Reads a shapefile and bulk-loads it into <schema>.<name> with one text column
per attribute and a GiST-indexed geometry column. Multi-part polygons are
stored as MultiPolygon and lines as MultiLineString.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("load"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		name, _ := cmd.Flags().GetString("name")
		schema, _ := cmd.Flags().GetString("schema")
		srid, _ := cmd.Flags().GetInt("srid")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		replace, _ := cmd.Flags().GetBool("replace")
		if schema == "" {
			schema = cfg.Catalog.Schema
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		log := zap.L().With(zap.String("command", "layers.load"))
		log.Info("loading shapefile", zap.String("path", args[0]), zap.String("schema", schema))

		res, err := layerload.Load(ctx, pool, args[0], layerload.Options{
			Schema:     schema,
			Name:       name,
			SRID:       srid,
			GeomColumn: cfg.Analysis.GeomColumn,
			BatchSize:  batchSize,
			Replace:    replace,
		})
		if err != nil {
			return err
		}

		log.Info("layer loaded",
			zap.String("table", res.Table),
			zap.Int64("rows", res.Rows),
			zap.Int("skipped", res.Skipped),
			zap.Duration("elapsed", res.Elapsed),
		)
		format, _ := cmd.Flags().GetString("output")
		return writeOutput(cmd.OutOrStdout(), format, res)
	},
}

func init() {
	layersListCmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	layersDescribeCmd.Flags().StringP("output", "o", "json", "output format: json or yaml")

	layersLoadCmd.Flags().String("name", "", "table name (default: file base name)")
	layersLoadCmd.Flags().String("schema", "", "target schema (default: catalog.schema)")
	layersLoadCmd.Flags().Int("srid", 4326, "SRID of the source coordinates")
	layersLoadCmd.Flags().Int("batch-size", 0, "rows per COPY batch (default 5000)")
	layersLoadCmd.Flags().Bool("replace", false, "drop and recreate an existing table")
	layersLoadCmd.Flags().StringP("output", "o", "json", "output format: json or yaml")

	layersCmd.AddCommand(layersListCmd, layersDescribeCmd, layersLoadCmd)
	rootCmd.AddCommand(layersCmd)
}
