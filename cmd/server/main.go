package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arsteg/effortlesshrmapp-sub000/internal/auth"
	"github.com/arsteg/effortlesshrmapp-sub000/internal/config"
	"github.com/arsteg/effortlesshrmapp-sub000/internal/natsbridge"
	"github.com/arsteg/effortlesshrmapp-sub000/internal/redis"
	"github.com/arsteg/effortlesshrmapp-sub000/internal/ws"
)

func main() {
	if err := config.LoadEnvFile(""); err != nil {
		slog.Error("Failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if !verifier.Enabled() {
		logger.Warn("JWT_SECRET not set, connections are not authenticated")
	}

	var (
		publisher ws.Publisher
		subscribe func(*ws.Hub)
	)

	switch cfg.Broker {
	case config.BrokerRedis:
		redisClient, err := redis.NewClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Error("Failed to initialize Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()

		publisher = redisClient
		subscribe = func(hub *ws.Hub) {
			go func() {
				if err := redis.SubscribeToEvents(ctx, redisClient, hub); err != nil {
					logger.Error("Redis subscription ended", "error", err)
					stop()
				}
			}()
		}

	case config.BrokerNATS:
		bridge, err := natsbridge.NewBridge(cfg.NatsURL, logger)
		if err != nil {
			logger.Error("Failed to initialize NATS", "error", err)
			os.Exit(1)
		}
		defer bridge.Close()

		publisher = bridge
		subscribe = func(hub *ws.Hub) {
			if err := bridge.Subscribe(ctx, hub); err != nil {
				logger.Error("Failed to subscribe to NATS", "error", err)
				os.Exit(1)
			}
		}

	case config.BrokerLocal:
		logger.Info("Using in-process delivery")

	default:
		logger.Error("Unknown broker", "broker", cfg.Broker)
		os.Exit(1)
	}

	// Create hub
	hub := ws.NewHub(publisher, cfg.SendQueue, logger)
	go hub.Run(ctx)

	if subscribe != nil {
		subscribe(hub)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           ws.NewServeMux(hub, verifier),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("WebSocket server starting", "port", cfg.Port, "broker", cfg.Broker)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
