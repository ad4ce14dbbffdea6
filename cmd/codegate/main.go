package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/codegate/pkg/api"
	"github.com/Mindburn-Labs/codegate/pkg/codecache"
	"github.com/Mindburn-Labs/codegate/pkg/codesource"
	"github.com/Mindburn-Labs/codegate/pkg/config"
	"github.com/Mindburn-Labs/codegate/pkg/execlog"
	"github.com/Mindburn-Labs/codegate/pkg/gateway"
	"github.com/Mindburn-Labs/codegate/pkg/sandbox"
	"github.com/Mindburn-Labs/codegate/pkg/store"
	"github.com/Mindburn-Labs/codegate/pkg/vault"
)

func main() {
	profilesDir := flag.String("profiles", "", "directory with profile_*.yaml overlays")
	profileCode := flag.String("profile", "", "deployment profile code to apply")
	flag.Parse()

	cfg := config.Load()
	if *profileCode != "" {
		p, err := config.LoadProfile(*profilesDir, *profileCode)
		if err != nil {
			log.Fatalf("load profile: %v", err)
		}
		p.Apply(cfg)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx := context.Background()

	// Store: SQL-over-HTTP when SQLD_API_URL is set, direct driver
	// otherwise (sqlite file or postgres URL).
	var client store.Client
	if cfg.SqldAPIURL != "" {
		client = store.NewHTTPClient(cfg.SqldAPIURL)
		logger.Info("store: sql-over-http", "url", cfg.SqldAPIURL)
	} else {
		sc, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		client = sc
		logger.Info("store: direct", "dsn", cfg.DatabaseURL)
	}

	if err := store.EnsureSchema(ctx, client); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	// Code cache, optionally fronted by Redis.
	var codes codecache.Store = codecache.New(client)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		codes = codecache.NewHotCache(rdb, codes, cfg.RedisTTL)
		logger.Info("code cache: redis hot layer", "addr", cfg.RedisAddr)
	}

	fetcher := codesource.New(cfg.IPFSGateways...)

	limits := limitsFrom(cfg)

	v := vault.New(client)
	logs := execlog.NewLogger(client)
	orch := gateway.New(v, sandbox.NewWasiExecutor(), logs, limits)

	srv := api.NewServer(orch, v, logs, codes, fetcher.Fetch, client, cfg.PublicFileURL)
	limiter := api.NewGlobalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	httpSrv := &http.Server{
		Addr:              cfg.Bind,
		Handler:           srv.Routes(limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("codegate listening", "bind", cfg.Bind)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func limitsFrom(cfg *config.Config) sandbox.Limits {
	return sandbox.Limits{
		TimeLimit:         cfg.TimeLimit,
		InstructionBudget: cfg.InstructionBudget,
		MemoryBytes:       cfg.MemoryBytes,
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
