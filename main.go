package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediaproxy/work/config"
	"mediaproxy/work/logger"
	"mediaproxy/work/proxy"
	"mediaproxy/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

const shutdownTimeout = 10 * time.Second

// our main app worker
func main() {

	exampleConfig := flag.String("example-config", "", "write an example config file to this path and exit")
	flag.Parse()

	if *exampleConfig != "" {
		if err := config.CreateExampleConfig(*exampleConfig); err != nil {
			log.Fatalf("Failed to write example config: %v", err)
		}
		return
	}

	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	// load our config
	cfg := config.LoadConfig()

	// Set up logging
	logger.Configure(cfg.LogLevel, os.Stdout, cfg.LogJSON)

	// Create proxy instance with its buffer, session, cache and worker pools
	proxyInstance, err := proxy.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize proxy: %v", err)
	}

	server := proxy.NewServer(cfg, proxyInstance)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

	// show info
	logger.Info("Starting Media Proxy %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Proxy Path: %s", server.ProxyPath())
	logger.Info("  - Chunk Size: %s", utils.FormatBytes(int64(cfg.ChunkSize)))
	logger.Info("  - Replay Buffer: %s", utils.FormatBytes(int64(cfg.RetainBytes())))
	logger.Info("  - Client Timeout: %s", cfg.ClientTimeout)
	logger.Info("  - Upstream Timeout: %s", cfg.UpstreamTimeout)
	logger.Info("  - Upstream Rate Limit: %d/s per host", cfg.UpstreamRateLimit)
	logger.Info("  - Segment Cache: %v (behind %d, ahead %d, dir %s)", cfg.CachingEnabled(), cfg.CacheBehind, cfg.CacheAhead, cfg.CacheDir)
	logger.Info("  - Prefetch Workers: %d", cfg.WorkerThreads)
	logger.Info("  - Manifest Compression: %v", cfg.CompressManifests)
	logger.Info("  - Metrics Enabled: %v", cfg.MetricsEnabled)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)
	logger.Info("  - Log Level: %s", logger.GetLogLevel())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range signals {

		// SIGHUP re-reads the config; only the log level applies without a restart
		if sig == syscall.SIGHUP {
			config.ClearConfigCache()
			reloaded := config.LoadConfig()
			logger.SetLogLevel(reloaded.LogLevel)
			logger.Info("Config reloaded, log level %s", logger.GetLogLevel())
			continue
		}

		logger.Info("Received %s, shutting down...", sig)
		break
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Shutdown incomplete: %v", err)
	}

}
