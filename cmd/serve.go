package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemirror/internal/api"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service that starts and reports mirror runs",
		Long: `Serves POST /v1/crawls to start runs in the background and the
/v1/crawls endpoints to inspect them. Crawl defaults come from the crawl
section of the config. PORT overrides --port when set.`,
		RunE: runServeCommand,
	}
	cmd.Flags().Int("port", 8080, "listen port")
	return cmd
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	port := rt.cfg.Server.Port
	if raw := os.Getenv("PORT"); raw != "" {
		if v, convErr := strconv.Atoi(raw); convErr == nil && v > 0 {
			port = v
		}
	}
	return serve(cmd.Context(), newHTTPServer(rt, fmt.Sprintf(":%d", port)), rt.logger)
}

func newHTTPServer(rt *runtime, addr string) *http.Server {
	server := api.NewServer(rt.app, rt.app.Runs, rt.app.Recorder, rt.cfg.CrawlOptions(), rt.logger)
	return &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serve runs srv until ctx is canceled, then drains it.
func serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
