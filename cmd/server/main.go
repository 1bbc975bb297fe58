// Command server runs the bulk provisioning HTTP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/rickicode/bulkpanel"
	"github.com/rickicode/bulkpanel/api"
	"github.com/rickicode/bulkpanel/engine"
	"github.com/rickicode/bulkpanel/flow"
	"github.com/rickicode/bulkpanel/job"
	"github.com/rickicode/bulkpanel/observability"
	"github.com/rickicode/bulkpanel/provision"
	"github.com/rickicode/bulkpanel/store/memory"
	redisstore "github.com/rickicode/bulkpanel/store/redis"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "bulkpanel-server",
		Short:        "Bulk hosting provisioning service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("listen", ":8080", "HTTP listen address")
	flags.String("store", "memory", "job store backend: memory or redis")
	flags.String("redis-addr", "localhost:6379", "redis address (store=redis)")
	flags.Int("concurrency", 0, "max in-flight item workflows per job (0 = default)")
	flags.Int("max-attempts", 0, "attempts per item (0 = default)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	viper.SetEnvPrefix("BULKPANEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	cobra.CheckErr(viper.BindPFlags(flags))

	return cmd
}

func run(ctx context.Context) error {
	logger := newLogger(viper.GetString("log-level"))
	slog.SetDefault(logger)

	cfg := bulkpanel.DefaultConfig()
	if n := viper.GetInt("concurrency"); n > 0 {
		cfg.Concurrency = n
	}
	if n := viper.GetInt("max-attempts"); n > 0 {
		cfg.MaxAttempts = n
	}

	store, err := newStore(ctx, logger, cfg)
	if err != nil {
		return err
	}

	registry := flow.NewRegistry()
	if err := provision.RegisterAll(registry, provision.DefaultDeps(logger)); err != nil {
		return fmt.Errorf("register workflows: %w", err)
	}

	eng, err := engine.New(store, registry,
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithExtensions(observability.NewMetrics()),
	)
	if err != nil {
		return err
	}
	if err := eng.Start(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              viper.GetString("listen"),
		Handler:           api.NewServer(eng, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", slog.Any("error", err))
		}
		return eng.Close(shutdownCtx)
	})

	return g.Wait()
}

func newStore(ctx context.Context, logger *slog.Logger, cfg bulkpanel.Config) (job.Store, error) {
	switch backend := viper.GetString("store"); backend {
	case "memory", "":
		return memory.New(
			memory.WithLogRetention(cfg.LogRetention),
			memory.WithLogger(logger),
		), nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: viper.GetString("redis-addr")})
		s := redisstore.New(client,
			redisstore.WithLogRetention(cfg.LogRetention),
			redisstore.WithLogger(logger),
			redisstore.WithTerminalTTL(cfg.JobRetention),
		)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("redis unreachable: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
