// Package main implements the fanoutlab server binary: the in-process
// broker, the fanout workers and the HTTP and gRPC APIs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fanoutlab/fanoutlab/internal/app"
	"github.com/fanoutlab/fanoutlab/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		httpAddr    string
		grpcAddr    string
		storageType string
		noWorkers   bool
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP API address")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC server address")
	flag.StringVar(&storageType, "storage", "", "Storage type: local, s3")
	flag.BoolVar(&noWorkers, "no-workers", false, "Do not start the fanout consumers")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fanoutlab - pub/sub fanout trace lab\n\n")
		fmt.Fprintf(os.Stderr, "Usage: fanoutlab [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  FANOUTLAB_DATA_DIR              Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  FANOUTLAB_HTTP_ADDR             HTTP API address\n")
		fmt.Fprintf(os.Stderr, "  FANOUTLAB_GRPC_ADDR             gRPC server address\n")
		fmt.Fprintf(os.Stderr, "  FANOUTLAB_STORAGE_TYPE          Storage type (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  FANOUTLAB_STORAGE_S3_BUCKET     Bucket for s3 storage\n")
		fmt.Fprintf(os.Stderr, "  FANOUTLAB_BROKER_MAX_RECEIVE_COUNT  Receives before redrive\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("fanoutlab version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if grpcAddr != "" {
		cfg.GRPC.Addr = grpcAddr
	}
	if storageType != "" {
		cfg.Storage.Type = storageType
	}
	if noWorkers {
		cfg.Workers.Enabled = false
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	printBanner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the optional file and the environment.
func loadConfig(configFile string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printBanner(cfg *config.Config) {
	log.Printf("fanoutlab %s", version)
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  Storage:  %s", cfg.Storage.Type)
	log.Printf("  HTTP:     %s", cfg.HTTP.Addr)
	if cfg.GRPC.Enabled {
		log.Printf("  gRPC:     %s", cfg.GRPC.Addr)
	}
	log.Printf("  Topic:    %s (max receives %d, visibility %v)",
		cfg.Broker.Topic, cfg.Broker.MaxReceiveCount, cfg.Broker.VisibilityTimeout)
	log.Printf("  Workers:  %v", cfg.Workers.Enabled)
}
