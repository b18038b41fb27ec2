package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"canvas-api/internal/canvas"
	"canvas-api/internal/config"
	"canvas-api/internal/convstore"
	"canvas-api/internal/debug"
	"canvas-api/internal/handler"
	"canvas-api/internal/loadbalancer"
	"canvas-api/internal/middleware"
	"canvas-api/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", "", "Path to config.json/config.yaml")
	flag.Parse()

	cfg, resolvedCfgPath, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Config loaded", "path", resolvedCfgPath)

	if cfg.DebugEnabled {
		debug.CleanupAllLogs()
		slog.Info("Debug trace logs cleared")
	}

	s, err := store.New(store.Options{
		Mode:          cfg.StoreMode,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		RedisPrefix:   cfg.RedisPrefix,
		SQLitePath:    cfg.SQLitePath,
	})
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer s.Close()
	slog.Info("Store initialized", "mode", cfg.StoreMode)

	lb := loadbalancer.NewWithCacheTTL(s, time.Duration(cfg.LoadBalancerCacheTTL)*time.Second)

	registry := buildRegistry(cfg)
	slog.Info("Conversation registry ready", "mode", cfg.ConvRegistryMode)

	client := canvas.NewClient(canvas.Options{
		APIBaseURL: cfg.CanvasAPIBaseURL,
		WSBaseURL:  cfg.CanvasWSBaseURL,
	})

	h := handler.New(cfg, client, lb, s, registry)

	limiter := middleware.NewConcurrencyLimiter(cfg.ConcurrencyLimit,
		time.Duration(cfg.ConcurrencyTimeout)*time.Second,
		time.Duration(cfg.RequestTimeout)*time.Second)
	guard := middleware.Chain(
		middleware.Logging,
		limiter.Limit,
		func(next http.HandlerFunc) http.HandlerFunc {
			return middleware.ApiKeyAuth(s, cfg.RequireApiKey, next)
		},
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", guard(h.HandleChatCompletions))
	mux.HandleFunc("/v1/models", middleware.Logging(h.HandleModels))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("/metrics", promhttp.Handler())

	if cfg.DebugEnabled {
		mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
		slog.Info("pprof enabled", "path", "/debug/pprof/")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	if cfg.AutoRefreshToken {
		interval := time.Duration(cfg.TokenRefreshInterval) * time.Minute
		if interval <= 0 {
			interval = 30 * time.Minute
		}
		slog.Info("Auto refresh token enabled", "interval", interval.String())
		go runTokenRefresh(ctx, s, cfg.AuthBaseURL, interval)
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-quit
		slog.Info("Received signal, starting graceful shutdown", "signal", sig)

		cancelBackground()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		close(idleConnsClosed)
	}()

	slog.Info("Server running", "port", cfg.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("Server start failed", "error", err)
		os.Exit(1)
	}

	<-idleConnsClosed
	slog.Info("Server shutdown gracefully")
}

func buildRegistry(cfg *config.Config) convstore.Registry {
	ttl := time.Duration(cfg.ConvRegistryTTLSeconds) * time.Second
	stats := convstore.NewStats()

	var base convstore.Registry
	switch strings.ToLower(strings.TrimSpace(cfg.ConvRegistryMode)) {
	case "redis":
		base = convstore.NewRedisRegistry(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, ttl, cfg.RedisPrefix+"conv:")
	default:
		base = convstore.NewMemoryRegistry(cfg.ConvRegistrySize, ttl)
	}
	return convstore.NewInstrumentedRegistry(base, stats)
}
