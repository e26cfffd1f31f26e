// Package server implements the gomsg server: the connection manager, the
// active identity registry and the command dispatcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/NicolasHaas/gomsg/pkg/datastore"
)

// Config holds server configuration. Fields with an env tag can be set from
// GOMSG_-prefixed environment variables (see LoadConfig).
type Config struct {
	ControlAddr     string        `env:"CONTROL_ADDR"`     // TCP bind address for the line protocol
	HTTPAddr        string        `env:"HTTP_ADDR"`        // /metrics, /healthz and /ws (empty = disabled)
	DBDriver        string        `env:"DB_DRIVER"`        // "sqlite" or "pgx"
	DBDSN           string        `env:"DB_DSN"`           // SQLite path or PostgreSQL connection string
	MaxConnections  int           `env:"MAX_CONNECTIONS"`  // concurrent workers, 0 = unbounded
	MaxLineLength   int           `env:"MAX_LINE_LENGTH"`  // longest accepted command line in bytes
	UsersFile       string        `env:"USERS_FILE"`       // YAML file of users to create on startup
	SeedAdmin       bool          `env:"SEED_ADMIN"`       // create the default admin when absent
	AdminUsername   string        `env:"ADMIN_USERNAME"`   // default admin account
	AdminPassword   string        `env:"ADMIN_PASSWORD"`   // default admin password
	MetricsInterval time.Duration `env:"METRICS_INTERVAL"` // periodic metrics log, 0 = disabled
	LogLevel        string        `env:"LOG_LEVEL"`
	LogFormat       string        `env:"LOG_FORMAT"`

	// CLI-only actions (run and exit)
	ExportUsers bool // export all users as YAML and exit
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ControlAddr:     ":8000",
		HTTPAddr:        ":8001",
		DBDriver:        datastore.DriverSQLite,
		DBDSN:           "gomsg.db",
		MaxConnections:  10,
		SeedAdmin:       true,
		AdminUsername:   "alp",
		AdminPassword:   "alp",
		MetricsInterval: 60 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	switch c.DBDriver {
	case datastore.DriverSQLite, datastore.DriverPostgres:
	default:
		return fmt.Errorf("server: unknown db driver %q", c.DBDriver)
	}
	if c.ControlAddr == "" {
		return errors.New("server: control address is required")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("server: max connections must not be negative, got %d", c.MaxConnections)
	}
	if c.MaxLineLength < 0 {
		return fmt.Errorf("server: max line length must not be negative, got %d", c.MaxLineLength)
	}
	if c.MetricsInterval < 0 {
		return fmt.Errorf("server: metrics interval must not be negative, got %s", c.MetricsInterval)
	}
	if c.SeedAdmin && (c.AdminUsername == "" || c.AdminPassword == "") {
		return errors.New("server: admin seeding needs a username and password")
	}
	return nil
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Repo and will Close() it on shutdown.
type Dependencies struct {
	Repo datastore.Repository
}

// Server is the main gomsg server.
type Server struct {
	cfg        Config
	repo       datastore.Repository
	registry   *Registry
	dispatcher *Dispatcher
	metrics    *Metrics
	conns      *connSet
	workers    *semaphore.Weighted // nil when MaxConnections is 0

	mu        sync.Mutex
	controlLn net.Listener
	httpLn    net.Listener
	httpSrv   *http.Server
	group     *errgroup.Group
	groupCtx  context.Context

	shutdownOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	metrics := NewMetrics()
	registry := NewRegistry()
	s := &Server{
		cfg:        cfg,
		repo:       deps.Repo,
		registry:   registry,
		dispatcher: NewDispatcher(deps.Repo, registry, metrics, nil),
		metrics:    metrics,
		conns:      newConnSet(),
		ctx:        ctx,
		cancel:     cancel,
	}
	if cfg.MaxConnections > 0 {
		s.workers = semaphore.NewWeighted(int64(cfg.MaxConnections))
	}
	return s
}

// Registry returns the active identity registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Dispatcher returns the command dispatcher.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// ControlAddr returns the bound TCP address, or nil before Start.
func (s *Server) ControlAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.controlLn == nil {
		return nil
	}
	return s.controlLn.Addr()
}

// HTTPAddr returns the bound HTTP address, or nil when disabled or before Start.
func (s *Server) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}
