package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/orchestra/internal/httpapi"
)

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bootstrap the engine and serve its services over HTTP",
	Long:  `Bootstraps the engine eagerly, so a bad configuration or definition fails the process at startup, then serves the HTTP API until SIGINT or SIGTERM.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from orchestra.http.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := rt.boot.Engine(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	settings := httpapi.SettingsFromConfig(rt.props)
	if serveAddr != "" {
		settings.Addr = serveAddr
	}
	server, err := httpapi.NewServer(settings, rt.boot,
		httpapi.WithLogger(rt.logger.WithField("component", "httpapi")),
		httpapi.WithMetrics(rt.metrics))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rt.logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}
