package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/automaxprocs/maxprocs"

	"chart2png/internal/config"
	"chart2png/internal/http/middleware"
	"chart2png/internal/http/server"
	"chart2png/internal/infra/apikeys"
	"chart2png/internal/infra/chrome"
	"chart2png/internal/infra/logging"
	"chart2png/internal/render"
)

func main() {
	cfg := config.Load()
	// Allow common container env var to override exec_path.
	if cfg.Chrome.ExecPath == "" {
		if v := os.Getenv("CHROME_BIN"); v != "" {
			cfg.Chrome.ExecPath = v
		}
	}
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	// maxprocs.Set only fails on an invalid GOMAXPROCS env, where runtime defaults apply.
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logging.Debug(fmt.Sprintf(format, args...))
	}))

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Cache.RedisHost,
		DB:   cfg.Cache.PNGCacheDB,
	})
	defer rdb.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var keys middleware.KeyStore
	store := apikeys.NewStore(cfg.Auth.Postgres)
	if store.Enabled() {
		if err := store.Load(ctx); err != nil {
			logging.Error("Failed to load API keys", "error", err)
		}
		go store.RefreshPeriodically(ctx, cfg.Auth.ReloadInterval)
		defer store.Close()
		keys = store
	} else {
		logging.Warn("No API key database configured; serving public clients only")
	}

	provider := chrome.NewProvider(cfg, chrome.CDPLauncher{})
	app := server.New(server.Deps{
		Config:   cfg,
		Redis:    rdb,
		Renderer: render.New(provider, cfg),
		Stats:    provider,
		Keys:     keys,
	})

	idleConnsClosed := make(chan struct{})
	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed

	if err := provider.Close(); err != nil {
		logging.Error("Browser close failed", "error", err)
	}
}

// startServer starts the Fiber app and blocks until a shutdown signal.
func startServer(app *fiber.App, cfg config.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)
	<-sigint

	logging.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}
