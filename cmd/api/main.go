package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"bazaar.app/internal/auth"
	"bazaar.app/internal/config"
	"bazaar.app/internal/conversation"
	"bazaar.app/internal/httpapi"
	"bazaar.app/internal/messaging"
	"bazaar.app/internal/migrate"
	"bazaar.app/internal/obs"
	"bazaar.app/internal/realtime"
	"bazaar.app/internal/store/pg"
	"bazaar.app/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("bazaar-api: %v", err)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)
	obs.SetLevel(cfg.LogLevel)
	logger := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: PostgreSQL when a DSN is set, process memory otherwise.
	var (
		users         auth.UserStore
		conversations conversation.Store
		messages      conversation.MessageStore
		ready         httpapi.ReadyProbe
	)
	if cfg.PostgresDSN != "" {
		store, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		if cfg.MigrateOnStart {
			mgr, err := migrate.NewManager(store.DB())
			if err != nil {
				return err
			}
			migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err = mgr.Up(migrateCtx)
			cancel()
			if err != nil {
				return err
			}
		}
		users, conversations, messages = store.Users(), store.Conversations(), store.Messages()
		ready = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		logger.Warn("BAZAAR_PG_DSN not set; using in-memory storage")
		mem := conversation.NewMemory()
		users, conversations, messages = auth.NewMemoryUserStore(), mem.Conversations(), mem.Messages()
	}

	tokens, err := auth.NewTokenService(cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	directory, err := auth.NewDirectory(users, tokens)
	if err != nil {
		return err
	}

	hub := stream.NewHub()
	if cfg.RedisAddr != "" {
		client := stream.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		defer client.Close()
		relay := stream.NewRedisRelay(client, cfg.RedisChannel, hub)
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error("redis relay stopped", "error", err)
			}
		}()
	}

	gateway, err := messaging.NewGateway(conversations, messages, hub)
	if err != nil {
		return err
	}
	wsLog := logger.With("component", "realtime")
	handshake, err := realtime.NewHandshake(tokens, users, realtime.WithLogger(wsLog))
	if err != nil {
		return err
	}
	rt, err := realtime.NewServer(handshake, gateway, hub, realtime.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         wsLog,
	})
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Deps{
		Directory:      directory,
		Gateway:        gateway,
		Realtime:       rt,
		Ready:          ready,
		Version:        version,
		AllowedOrigins: cfg.AllowedOrigins,
		RateBurst:      cfg.RateBurst,
		RatePerSec:     cfg.RatePerSec,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewGRPCHealth(ready)
		health.Register(grpcSrv)
		go health.Watch(ctx, 10*time.Second)
		go func() {
			logger.Info("grpc health listening", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.Error("grpc serve", "error", err)
			}
		}()
		defer health.Shutdown()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting bazaar-api", "version", version, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	err = srv.Shutdown(shutdownCtx)
	// Upgraded sockets are hijacked and outlive srv.Shutdown; close them
	// before the deferred store and redis teardown runs.
	if wsErr := rt.Shutdown(shutdownCtx); wsErr != nil {
		logger.Warn("ws connections still open at shutdown", "error", wsErr, "open", rt.Active())
	}
	if err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
