// Package main provides the room & relay server binary. It runs the
// control-plane HTTP API and the relay-plane TCP acceptor over one shared
// in-memory room registry.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/blockduel/relay/internal/config"
	"github.com/blockduel/relay/internal/httpapi"
	"github.com/blockduel/relay/internal/observability"
	"github.com/blockduel/relay/internal/relay"
	"github.com/blockduel/relay/internal/room"
	"github.com/blockduel/relay/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting relay server",
		zap.String("http_addr", cfg.HTTP.Addr()),
		zap.String("relay_addr", cfg.Relay.Addr()),
	)

	// Build services
	manager := room.NewManager(cfg.Rooms)

	handlers := httpapi.NewHandlers(manager, logger.Named("httpapi"))
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      httpapi.NewRouter(handlers),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	relayLogger := logger.Named("relay")
	relayHandler := relay.NewHandler(manager, relay.DefaultInspector(), cfg.Relay.JoinTimeout, relayLogger)
	acceptor := relay.NewAcceptor(cfg.Relay, relayHandler, relayLogger)

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("http", &server.FuncService{
		StartFn: func() error {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		StopFn: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(ctx)
		},
	})

	lifecycle.Add("relay", &server.FuncService{
		StartFn: func() error {
			return acceptor.ListenAndServe()
		},
		StopFn: func() {
			acceptor.Stop()
		},
	})

	logger.Info("relay server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
