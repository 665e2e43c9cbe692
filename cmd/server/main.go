package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pinscout/internal/api"
	"pinscout/internal/browser"
	"pinscout/internal/cache"
	"pinscout/internal/config"
	"pinscout/internal/harvester"
	"pinscout/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.toml", "TOML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	l := logger.New(cfg.Logging.Format, cfg.Logging.Level)
	slog.SetDefault(l)

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.RemoteURL,
		Bin:              cfg.Browser.Bin,
		Headful:          cfg.Browser.Headful,
		NoSandbox:        cfg.Browser.NoSandbox,
		OperationTimeout: cfg.Browser.GetOperationTimeout(),
		BlockResources:   cfg.Browser.BlockResources,
		Logger:           l,
	})

	svc := harvester.New(mgr, cache.New(cfg.Cache.Capacity, cfg.Cache.GetTTL()), harvester.Config{
		Credentials: harvester.Credentials{Email: cfg.Login.Email, Password: cfg.Login.Password},
		PauseMin:    cfg.Scrape.GetPauseMin(),
		PauseMax:    cfg.Scrape.GetPauseMax(),
	}, harvester.WithLogger(l))

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(svc, l, cfg.API.Key),
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		l.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			l.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	l.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if err := mgr.Close(); err != nil {
		l.Warn("browser close failed", "error", err)
	}
	l.Info("bye")
}
