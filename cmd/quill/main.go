package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ha1tch/quill/pkg/cache"
	"github.com/ha1tch/quill/pkg/catalog"
	"github.com/ha1tch/quill/pkg/config"
	"github.com/ha1tch/quill/pkg/logging"
	"github.com/ha1tch/quill/pkg/relations"
	"github.com/ha1tch/quill/pkg/server"
	"github.com/ha1tch/quill/pkg/storage"
	"github.com/ha1tch/quill/pkg/validation"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: $CONFIG_FILE)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, logCloser := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	defer logCloser.Close()
	if cfg.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	}

	printBanner(cfg)

	// Initialize storage
	storeConfig := map[string]interface{}{
		"base_dir": cfg.BaseDir,
		"db_path":  cfg.DBPath,
	}
	if cfg.StorageType == "jsonfile" {
		if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
			logger.Fatal().Err(err).Msg("Failed to create base directory")
		}
	}

	store, err := storage.NewStore(cfg.StorageType, storeConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer store.Close()

	if infoProvider, ok := store.(storage.InfoProvider); ok {
		info := infoProvider.Info()
		logger.Info().
			Str("type", info.Type).
			Str("version", info.Version).
			Bool("supports_relation_index", info.SupportsRelationIndex).
			Msg("Storage initialized")
	}

	// Initialize cache
	cacheInstance := cache.New(cache.Options{
		Type:      cfg.CacheType,
		Size:      cfg.CacheSize,
		TTL:       time.Duration(cfg.CacheTTL) * time.Second,
		RedisHost: cfg.RedisHost,
		RedisPort: cfg.RedisPort,
	}, logger)
	defer cacheInstance.Close()

	catalogs := catalog.NewCatalogs(store, logger, relations.Options{Locking: cfg.RelationLocking})
	if !cfg.RelationLocking {
		logger.Warn().Msg("Relation locking disabled, concurrent edits of related entities may lose updates")
	}

	srv := server.New(cfg, store, catalogs, cacheInstance, validation.NewDefaultValidator(), logger)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info().Msg("Shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Shutdown did not complete")
		}
	}()

	logger.Info().Msg("Server ready to accept requests")
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server stopped")
}

func printBanner(cfg *config.Config) {
	lightBlue := "\033[1;36m"
	reset := "\033[0m"

	fmt.Print(lightBlue)
	fmt.Println("//////////////////////////// quill " + config.Version + " ////////////////////////////")
	fmt.Print(reset)

	fmt.Println("----------------------------------------------------------------------")
	fmt.Println("Server Configuration:")
	fmt.Printf("  Host: %s\n", cfg.Host)
	fmt.Printf("  Port: %d\n", cfg.Port)
	fmt.Printf("  CORS origins: %v\n", cfg.CORSOrigins)
	fmt.Println()
	fmt.Println("Storage Configuration:")
	fmt.Printf("  Type: %s\n", cfg.StorageType)
	if cfg.StorageType == "sqlite" {
		fmt.Printf("  Database: %s\n", cfg.DBPath)
	} else {
		fmt.Printf("  Directory: %s\n", cfg.BaseDir)
	}
	fmt.Println()
	fmt.Println("Cache Configuration:")
	fmt.Printf("  Type: %s\n", cfg.CacheType)
	fmt.Printf("  TTL: %d seconds\n", cfg.CacheTTL)
	if cfg.CacheType == "redis" {
		fmt.Printf("  Redis: %s:%d\n", cfg.RedisHost, cfg.RedisPort)
	}
	fmt.Println()
	fmt.Println("Relations:")
	fmt.Printf("  Per-entity locking: %v\n", cfg.RelationLocking)
	fmt.Printf("  Max entity size: %d bytes\n", cfg.MaxEntitySize)
	fmt.Println("----------------------------------------------------------------------")
	fmt.Println()
}
