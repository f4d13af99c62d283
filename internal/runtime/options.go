package runtime

import (
	"fmt"
	"log/slog"

	"github.com/arcfield/agentbridge/internal/pkg/config"
	"github.com/arcfield/agentbridge/internal/storage"
	"github.com/arcfield/agentbridge/internal/storage/memory"
	"github.com/arcfield/agentbridge/internal/storage/sqlite"
)

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator) error

// WithConfig uses an already-loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *Orchestrator) error {
		o.cfg = cfg
		return nil
	}
}

// WithConfigFile loads configuration from the given YAML file, layered
// under environment overrides.
func WithConfigFile(path string) Option {
	return func(o *Orchestrator) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		o.cfg = cfg
		return nil
	}
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		o.logger = logger
		return nil
	}
}

// WithSQLite persists the billing ledger to SQLite at the given path
// (default for single-instance deployments).
func WithSQLite(path string) Option {
	return func(o *Orchestrator) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("create sqlite store: %w", err)
		}
		o.store = store
		return nil
	}
}

// WithMemoryStore keeps the billing ledger in memory. Meant for tests and
// ephemeral deployments.
func WithMemoryStore() Option {
	return func(o *Orchestrator) error {
		o.store = memory.New()
		return nil
	}
}

// WithLedgerStore injects a custom ledger implementation.
func WithLedgerStore(store storage.LedgerStore) Option {
	return func(o *Orchestrator) error {
		o.store = store
		return nil
	}
}

// WithoutSweeper disables the periodic inactivity sweep. Tests drive
// Broker.Sweep directly instead.
func WithoutSweeper() Option {
	return func(o *Orchestrator) error {
		o.sweeper = false
		return nil
	}
}
