package main

import (
	"chat-sync/auth"
	"chat-sync/contract"
	"chat-sync/gateway"
	grpc2 "chat-sync/grpc"
	"chat-sync/internal"
	"chat-sync/notification"
	"chat-sync/presence"
	"chat-sync/runtime"
	"chat-sync/services"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// Returning instead of exiting lets every defer (database close first of all) run.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	//  Defer will be executed before run() returned anything to main()
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Engine
	orchestrator, err := runtime.NewOrchestrator(log, db, notifier(log, config), config.Runtime())
	if err != nil {
		return fmt.Errorf("orchestrator creation failed: %w", err)
	}
	if config.RedisAddr != "" {
		client, err := presence.NewRedisClient(ctx, config.RedisAddr, config.RedisPassword, config.RedisDB)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer func() { _ = client.Close() }()
		orchestrator.WithRedisMirror(presence.NewRedisMirror(client, log, config.ConnectionBufferSize*16))
		log.Info("Presence mirrored to Redis", "address", config.RedisAddr)
	}
	if err = orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator failed to start: %w", err)
	}

	// 5. Servers
	verifier := auth.NewVerifier(config.JWTSecret, config.AuthTokenDuration)
	server := gateway.NewServer(ctx, log, services.NewChatService(orchestrator), verifier, config.Gateway())
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{
		Addr:              address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcAddress := fmt.Sprintf("%s:%d", config.Host, config.GrpcPort)
	listener, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddress, err)
	}
	health := grpc2.NewHealthServer(log)

	// Use an error channel to capture Serve() issues
	errChan := make(chan error, 2)
	go func() {
		if err := health.Serve(listener); err != nil {
			errChan <- fmt.Errorf("gRPC health server error: %w", err)
		}
	}()
	go func() {
		log.Info("Starting gateway", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("gateway error: %w", err)
		}
	}()
	health.MarkServing()

	// 6. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 7. Final Cleanup
	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Gateway shutdown incomplete", "error", err)
	}
	orchestrator.Stop()
	log.Info("Program stopped cleanly")

	return nil
}

func notifier(log *slog.Logger, config internal.Config) contract.INotifier {
	if config.NotifyWebhookURL == "" {
		return notification.NewLogNotifier(log)
	}
	client := resty.New().
		SetTimeout(5 * time.Second).
		SetHeader("Content-Type", "application/json")
	log.Info("Notifications sent to webhook", "url", config.NotifyWebhookURL)
	return notification.NewWebhookNotifier(client, config.NotifyWebhookURL)
}
