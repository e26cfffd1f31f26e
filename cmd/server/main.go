package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/NicolasHaas/gomsg/pkg/datastore"
	"github.com/NicolasHaas/gomsg/pkg/logging"
	"github.com/NicolasHaas/gomsg/pkg/server"
	"github.com/NicolasHaas/gomsg/pkg/store"
	"github.com/NicolasHaas/gomsg/pkg/version"
)

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.ControlAddr, "control", cfg.ControlAddr, "TCP bind address for the line protocol")
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP bind address for /metrics, /healthz and /ws (empty to disable)")
	flag.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "Database driver: sqlite or pgx")
	flag.StringVar(&cfg.DBDSN, "db", cfg.DBDSN, "SQLite file path or PostgreSQL DSN")
	flag.IntVar(&cfg.MaxConnections, "max-conns", cfg.MaxConnections, "Concurrent connection workers (0 = unbounded)")
	flag.IntVar(&cfg.MaxLineLength, "max-line", cfg.MaxLineLength, "Longest accepted command line in bytes (0 = default)")
	flag.StringVar(&cfg.UsersFile, "users-file", cfg.UsersFile, "YAML file of users to create on startup")
	flag.BoolVar(&cfg.SeedAdmin, "seed-admin", cfg.SeedAdmin, "Create the default admin account if missing")
	flag.DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for metrics log lines (0 to disable)")
	flag.BoolVar(&cfg.ExportUsers, "export-users", false, "Export all users as YAML and exit")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: "+logging.LevelNames())
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	memory := flag.Bool("memory", false, "Keep all data in memory (nothing is persisted)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	var repo datastore.Repository
	if *memory {
		repo = store.NewMemory()
	} else {
		st, err := datastore.Open(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			slog.Error("open database", "driver", cfg.DBDriver, "err", err)
			os.Exit(1)
		}
		repo = st
	}

	// Handle export command (run and exit)
	if cfg.ExportUsers {
		data, err := server.ExportUsersYAML(context.Background(), repo)
		_ = repo.Close()
		if err != nil {
			slog.Error("export users", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	slog.Info("starting gomsg server", "version", version.Full(), "driver", cfg.DBDriver, "memory", *memory)
	srv := server.New(cfg, server.Dependencies{Repo: repo})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
