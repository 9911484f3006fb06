package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/siterisk/internal/api"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		resultCache, closeCache := newCache(cfg.Cache)
		defer closeCache()

		opts := []api.Option{api.WithPinger(pool)}
		if resultCache != nil {
			opts = append(opts, api.WithCache(resultCache))
		}
		server := api.NewServer(newEngine(pool), cfg.Server, cfg.Defaults, opts...)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := server.NewHTTPServer(fmt.Sprintf(":%d", port))

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("base_path", cfg.Server.BasePath),
			zap.Bool("cache", resultCache != nil),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
