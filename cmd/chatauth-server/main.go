package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/MrEthical07/chatauth"
	"github.com/MrEthical07/chatauth/internal/accounts"
	"github.com/MrEthical07/chatauth/internal/audit"
	"github.com/MrEthical07/chatauth/internal/config"
	"github.com/MrEthical07/chatauth/internal/httpapi"
	"github.com/MrEthical07/chatauth/internal/logging"
	otelexport "github.com/MrEthical07/chatauth/metrics/export/otel"
	promexport "github.com/MrEthical07/chatauth/metrics/export/prometheus"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.NewLogger(cfg.Environment)
	slog.SetDefault(logger)

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------- ACCOUNTS --------
	if err := accounts.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrating account store: %w", err)
	}
	repo, err := accounts.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening account store: %w", err)
	}
	defer repo.Close()

	// -------- SHARED STORE --------
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	// -------- ENGINE --------
	builder := chatauth.New().
		WithConfig(cfg.Engine()).
		WithRedis(rdb).
		WithAccounts(repo).
		WithLogger(logger)

	if sink := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAuditTopic, logger); sink != nil {
		defer func() {
			if err := sink.Close(); err != nil {
				logger.Warn("closing audit sink", "error", err)
			}
		}()
		builder = builder.WithAuditSink(sink)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer engine.Close()

	if err := engine.Warmup(ctx); err != nil {
		logger.Warn("redis not reachable at startup", "addr", cfg.RedisAddr, "error", err)
	}

	// -------- METRICS --------
	if cfg.OTLPEndpoint != "" {
		shutdown, err := startOTel(ctx, cfg.OTLPEndpoint, engine)
		if err != nil {
			return fmt.Errorf("starting otel metrics: %w", err)
		}
		defer shutdown()
	}

	api := httpapi.New(engine, httpapi.Options{
		Metrics:           promexport.NewExporter(engine).Handler(),
		TrustForwardedFor: cfg.TrustProxyHeaders,
		SecureCookies:     cfg.IsProduction(),
		Logger:            logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
	}()

	logger.Info("starting server",
		slog.String("listen", cfg.HTTPAddr),
		slog.String("version", Version),
		slog.String("environment", cfg.Environment),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// startOTel pushes engine metrics to an OTLP/gRPC collector.
func startOTel(ctx context.Context, endpoint string, engine *chatauth.Engine) (func(), error) {
	exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpointURL(endpoint))
	if err != nil {
		return nil, err
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", "chatauth"),
		attribute.String("service.version", Version),
	)
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(provider)

	exporter, err := otelexport.NewExporter(provider.Meter("github.com/MrEthical07/chatauth"), engine)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	return func() {
		_ = exporter.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("otel meter provider shutdown", "error", err)
		}
	}, nil
}
