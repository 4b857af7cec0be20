package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cowatch/internal/config"
	"cowatch/internal/core"
	"cowatch/internal/hertzapi"
	"cowatch/internal/httpapi"
	"cowatch/internal/logging"
	"cowatch/internal/metrics"
	"cowatch/internal/storage"
)

const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:          "cowatch",
	Short:        "Co-watching client core: relay connection, room state and player sync",
	SilenceUsage: true,
	RunE:         run,
}

var (
	flagConfigDir string
	flagPrimary   bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfigDir, "config", "", "directory holding cowatch.yaml")
	flags.BoolVar(&flagPrimary, "primary", true, "start as the primary tab")
	config.AddFlags(flags)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfigDir, cmd.PersistentFlags())
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Console)

	kv, err := storage.Open(cfg.Storage.Dir)
	if err != nil {
		return err
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Warn().Err(err).Msg("close storage")
		}
	}()

	collector := metrics.NewPrometheusCollector(nil)
	opts := core.OptionsFrom(cfg)
	opts.StartPrimary = flagPrimary
	c, err := core.New(opts, kv, collector, log)
	if err != nil {
		return fmt.Errorf("new core: %w", err)
	}

	// 优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		if err := c.Run(ctx); err != nil {
			log.Error().Err(err).Msg("core run")
		}
	}()

	shutdown, err := startBridge(cfg.Bridge, c, collector, log)
	if err != nil {
		stop()
		<-coreDone
		return err
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful bridge shutdown failed")
	}
	<-coreDone
	log.Info().Msg("stopped")
	return nil
}

// startBridge serves the collaborator bridge on the configured engine and returns its shutdown.
func startBridge(cfg config.Bridge, c *core.Core, collector metrics.Collector, log zerolog.Logger) (func(context.Context) error, error) {
	switch cfg.Engine {
	case config.EngineHertz:
		// 创建Hertz服务器
		h := server.Default(server.WithHostPorts(cfg.Addr))
		router := hertzapi.NewRouter(h, c, logging.Component(log, "bridge"))
		go func() {
			log.Info().Str("addr", cfg.Addr).Msg("starting hertz bridge")
			router.Spin()
		}()
		return router.Shutdown, nil
	case config.EngineEcho:
		srv := &http.Server{
			Addr:              cfg.Addr,
			Handler:           httpapi.NewServer(c, collector.Handler(), logging.Component(log, "bridge")).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.Addr).Msg("starting echo bridge")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("bridge listen")
			}
		}()
		return srv.Shutdown, nil
	default:
		return nil, fmt.Errorf("unknown bridge engine %q", cfg.Engine)
	}
}
