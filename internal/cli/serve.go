// Package cli defines the anthroproxy command tree, following the
// teacher's internal/cli pattern of one constructor function per
// *cobra.Command taking its dependencies as parameters.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"anthroproxy/internal/config"
	"anthroproxy/internal/promptcache"
	"anthroproxy/internal/proxy"
	"anthroproxy/internal/tracesink"
)

// ServeCommand builds the "serve" subcommand: load config, construct one
// proxy.Server per configured backend, and listen.
func ServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the anthroproxy translation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "anthroproxy.yaml", "path to the YAML config file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if len(cfg.Backends) == 0 {
		return fmt.Errorf("no backends configured in %s", configPath)
	}

	sink := tracesink.Noop()
	if cfg.Server.TraceLogPath != "" {
		sink = tracesink.NewFile(cfg.Server.TraceLogPath)
	}

	cache := promptcache.New(
		cfg.CacheSweepIntervalOrDefault(10*time.Minute),
		promptcache.WithTTL(cfg.CacheTTLOrDefault(time.Hour)),
	)
	defer cache.Close()

	// A real SDK provider (no exporter configured yet) rather than the
	// no-op default, so spans are actually sampled/recorded and ready for
	// a batcher to be attached once one is wired in.
	tracerProvider := sdktrace.NewTracerProvider()
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logrus.WithError(err).Warn("tracer provider shutdown failed")
		}
	}()
	tracer := tracerProvider.Tracer("anthroproxy")

	// The teacher's Server multiplexes multiple providers behind one gin
	// engine by name; anthroproxy generalizes that to one proxy.Server per
	// configured backend, each mounted on its own sub-router keyed by
	// backend id, so a single process can front several backends at once.
	router := gin.New()
	router.Use(gin.Recovery())
	for _, desc := range cfg.Backends {
		srv := proxy.NewServer(desc, cache, proxy.WithTraceSink(sink), proxy.WithTracer(tracer))
		srv.RegisterRoutes(router.Group("/" + desc.ID))
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}

	go func() {
		logrus.Infof("anthroproxy listening on %s", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server exited unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logrus.Info("shutting down")
	return httpServer.Close()
}
