// Package app wires the collection service together and runs it.
package app

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shrike/internal/authgov"
	"shrike/internal/cache"
	"shrike/internal/collector"
	"shrike/internal/config"
	"shrike/internal/database"
	"shrike/internal/geolite"
	"shrike/internal/orchestrator"
	"shrike/internal/reconcile"
	"shrike/internal/support"
)

const (
	defaultPort     = 8082
	shutdownTimeout = 10 * time.Second
)

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	portFlag := flag.Int("port", defaultPort, "Port for the metrics and health endpoints")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	flag.Parse()

	config.SetProductionMode(*productionFlag)
	log.SetLevel(config.LogLevel())
	config.ReadSettings()

	if config.RegisterBoot(time.Now().UTC()) {
		cfg := config.GetConfig()
		cfg.Collection.ForceDisable = true
		config.SetConfig(cfg)
	}

	if _, err := database.SetupDB(); err != nil {
		return fmt.Errorf("setup database: %w", err)
	}

	redisClient, redisErr := support.GetRedisClient()
	if redisErr != nil {
		log.Warn("Redis unavailable, running without leader lock and volatile cache", "error", redisErr)
	}
	defer func() {
		if err := support.CloseRedisClient(); err != nil {
			log.Warn("error closing redis client", "error", err)
		}
	}()

	var tiered *cache.TieredCache
	if redisClient != nil {
		tiered = cache.New(redisClient)
	} else {
		tiered = cache.New(nil)
	}

	geo := geolite.OpenOptional(config.GetConfig().GeoLite.DatabasePath)
	defer geo.Close()

	governor := authgov.New()
	engine := reconcile.New(tiered, geo)
	collectors := collector.NewCollectors(governor)
	orch := orchestrator.New(governor, engine, collectors)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.StartCollectionRoutine(ctx, redisErr == nil)

	port := resolvePort(*portFlag)
	server := newHTTPServer(port, tiered)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("error shutting down http server", "error", err)
		}
	}()

	log.Info("Starting service", "port", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("Shutdown complete")
	return nil
}

// newHTTPServer serves the operational surface: Prometheus metrics and a
// health report carrying the serving cache tier.
func newHTTPServer(port int, tiered *cache.TieredCache) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     "ok",
			"cache_tier": tiered.Tier(),
		})
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}

func resolvePort(fallback int) int {
	raw := os.Getenv("PORT")
	if raw == "" {
		return fallback
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", "PORT", "value", raw)
		return fallback
	}
	return port
}
