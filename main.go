package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/deemkeen/lemmings/activitypub"
	"github.com/deemkeen/lemmings/cache"
	"github.com/deemkeen/lemmings/db"
	"github.com/deemkeen/lemmings/federation"
	"github.com/deemkeen/lemmings/util"
	"github.com/deemkeen/lemmings/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           util.Name,
		Short:         "lemmings - a federated link aggregator speaking ActivityPub",
		Version:       util.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(createUserCmd())
	rootCmd.AddCommand(createCommunityCmd())
	rootCmd.AddCommand(postCmd())
	rootCmd.AddCommand(followCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the root logger. debug gets the human readable console
// encoder, every other level the production JSON encoder.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// app is what every command needs: configuration, logger and database.
type app struct {
	conf   *util.AppConfig
	logger *zap.Logger
	db     *db.DB
	fed    *activitypub.Federation
}

func openApp() (*app, error) {
	boot, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	conf, err := util.ReadConf(boot)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(conf.Conf.LogLevel)
	if err != nil {
		return nil, err
	}
	database, err := db.Open(util.ResolveDatabasePath(conf.Conf.Database), logger)
	if err != nil {
		return nil, err
	}
	return &app{
		conf:   conf,
		logger: logger,
		db:     database,
		fed:    activitypub.NewFederation(conf, database, logger),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
	a.logger.Sync()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the federation queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	a.logger.Info("starting", zap.String("version", util.GetNameAndVersion()), zap.String("domain", a.fed.Domain()))
	if strings.HasPrefix(a.fed.Domain(), "localhost") && !a.conf.Conf.Federation.Debug {
		a.logger.Warn("domain is localhost, other instances will not reach this one")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := federation.NewMetrics(registry)

	siteCache, err := cache.Open(ctx, a.conf.Conf.RedisAddr, a.conf.Conf.SiteCacheTtl, a.logger)
	if err != nil {
		return err
	}
	defer siteCache.Close()

	server := web.NewServer(a.fed, siteCache, metrics, registry)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.ListenAndServe(ctx) })
	if a.conf.Conf.Federation.Enabled {
		supervisor := federation.NewSupervisor(a.fed, metrics)
		g.Go(func() error { return supervisor.Run(ctx) })
	} else {
		a.logger.Info("federation is disabled")
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
