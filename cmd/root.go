// Package cmd defines and implements the CLI commands for the pagemirror executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemirror/internal/app"
	"github.com/JakeFAU/pagemirror/internal/config"
	"github.com/JakeFAU/pagemirror/internal/logging"
	"github.com/JakeFAU/pagemirror/internal/telemetry"
)

// newApp is the application factory. It's a variable so tests can isolate
// the metrics registry.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.NewApp(ctx, cfg, logger)
}

type runtimeKey struct{}

// runtime carries what PersistentPreRunE built to the subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	app    *app.App
	tp     *sdktrace.TracerProvider
}

func (r *runtime) close() {
	if r.app != nil {
		r.app.Close()
		r.app = nil
	}
	if r.tp != nil {
		_ = r.tp.Shutdown(context.Background())
		r.tp = nil
	}
	if r.logger != nil {
		_ = logging.Sync(r.logger)
		r.logger = nil
	}
}

// newRootCmd creates the root command. The returned runtime is released by
// PersistentPostRun on success; callers close it again after Execute so
// failing commands release it too.
func newRootCmd() (*cobra.Command, *runtime) {
	rt := &runtime{}
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "pagemirror",
		Short: "Mirror web pages and their media for offline use.",
		Long: `pagemirror downloads a page, and optionally the same-site pages it links to,
together with its images, videos, scripts and stylesheets. Saved pages are
rewritten to reference the local copies.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			rt.cfg, rt.logger = cfg, logger
			tp, err := telemetry.InitTracerProvider(cmd.Context(), telemetry.ServiceName)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			rt.tp = tp
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			rt.app = a
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, rt))
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) {
			rt.close()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().Bool("dev", true, "development logging: console output with colored levels")

	cmd.AddCommand(newCrawlCmd(), newServeCmd())
	return cmd, rt
}

// Execute runs the CLI until completion or SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, rt := newRootCmd()
	defer rt.close()
	return root.ExecuteContext(ctx)
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil || rt.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}
