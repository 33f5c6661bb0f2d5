package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/codefionn/webtaskbench/internal/config"
	"github.com/codefionn/webtaskbench/internal/envapi"
	"github.com/codefionn/webtaskbench/internal/logger"
	"github.com/codefionn/webtaskbench/internal/pidfile"
	"github.com/codefionn/webtaskbench/internal/store"
)

var (
	configPath = flag.String("config", "webtaskbench.json", "Path to configuration file")
	port       = flag.Int("port", 0, "Port to listen on (overrides config)")
	dbPath     = flag.String("db", "", "Path to SQLite database (overrides config)")
	seedDir    = flag.String("seeds", "", "Directory of seed JSON files to load at startup")
	pidPath    = flag.String("pidfile", "", "Write a PID file and refuse to start while another daemon holds it")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.EnvAPIPort = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *seedDir != "" {
		cfg.SeedDir = *seedDir
	}

	lg, err := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogPath, "envd")
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer lg.Close()

	if *pidPath != "" {
		pf, err := pidfile.Acquire(*pidPath)
		if err != nil {
			log.Fatalf("Failed to acquire pidfile: %v", err)
		}
		defer pf.Release()
	}

	st, err := store.Open(cfg.DBPath, lg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	if cfg.SeedDir != "" {
		if _, statErr := os.Stat(cfg.SeedDir); statErr == nil {
			if err := st.LoadSeedDir(cfg.SeedDir); err != nil {
				log.Fatalf("Failed to load seeds: %v", err)
			}
		}
	}

	server := envapi.NewServer(st, cfg.EnvAPIPort, lg)

	fmt.Printf("Environment API on http://localhost:%d\n", cfg.EnvAPIPort)
	log.Printf("Database: %s", cfg.DBPath)

	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
