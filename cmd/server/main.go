package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/mcoot/partyrelay/internal/api"
	"github.com/mcoot/partyrelay/internal/config"
	"github.com/mcoot/partyrelay/internal/factory"
	"github.com/mcoot/partyrelay/internal/logger"
	"github.com/mcoot/partyrelay/internal/metrics"
	"github.com/mcoot/partyrelay/internal/relay"
	"github.com/mcoot/partyrelay/internal/services/auth"
	redisstorage "github.com/mcoot/partyrelay/internal/storage/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Build factory config from environment
	factoryCfg := factory.Config{
		AuthConfig: auth.Config{
			Secret:    cfg.JWTSecret,
			Issuer:    cfg.JWTIssuer,
			AccessTTL: cfg.TokenTTL,
		},
		Logger:      log,
		StorageType: cfg.Storage,
		SQLitePath:  cfg.SQLitePath,
	}

	relayCfg := relay.DefaultConfig()
	relayCfg.PingInterval = cfg.PingInterval
	relayCfg.PingTimeout = cfg.PingTimeout
	relayCfg.OriginPatterns = originPatterns(cfg.CORSOrigins)
	factoryCfg.RelayConfig = &relayCfg

	if cfg.Storage == config.StorageRedis {
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = cfg.RedisURL
		factoryCfg.RedisConfig = &redisCfg
	}

	app, err := factory.New(ctx, factoryCfg)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("failed to close application", logger.Err(err))
		}
	}()

	if cfg.GamesFile != "" {
		n, err := app.CatalogService.LoadFromFile(ctx, cfg.GamesFile)
		if err != nil {
			return fmt.Errorf("load games: %w", err)
		}
		log.Info("game catalogue loaded", slog.Int("games", n), slog.String("path", cfg.GamesFile))
	}

	router := api.NewRouter(api.RouterConfig{
		Logger:      log,
		AuthService: app.AuthService,
		Sessions:    app.SessionController,
		Relay:       app.Relay,
		Storage:     app.Storage,
		CORSOrigins: cfg.CORSOrigins,
	})

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Host
	serverConfig.Port = cfg.Port
	serverConfig.ShutdownTimeout = cfg.ShutdownTimeout
	server := api.NewServer(router, serverConfig, log)
	server.RegisterOnShutdown(app.Registry.CloseAll)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		return server.Shutdown(context.Background())
	})

	log.Info("server started",
		slog.String("addr", cfg.Addr()),
		slog.String("storage", cfg.Storage))

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("server stopped")
	return nil
}

// originPatterns converts CORS origins into websocket origin host patterns
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		patterns = append(patterns, relay.OriginPattern(o))
	}
	return patterns
}
