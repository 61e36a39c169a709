package jsondb

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/jsondb/internal/config"
	"github.com/roach88/jsondb/internal/crypt"
	"github.com/roach88/jsondb/internal/kvstore"
	"github.com/roach88/jsondb/internal/migrate"
	"github.com/roach88/jsondb/internal/store"
)

// OpenBackend opens the backend named by cfg.
func OpenBackend(cfg *config.Config, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return store.Open(cfg.Path)
	case config.BackendBadger:
		return kvstore.Open(cfg.Path, logger)
	case config.BackendMemory:
		return kvstore.Open("", logger)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// FromConfig builds Options from cfg, opening the backend. The caller owns
// the backend until it is passed to Open.
func FromConfig(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (Options, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var cipher *crypt.Cipher
	if cfg.EncryptionKey != "" {
		c, err := crypt.NewCipher(cfg.EncryptionKey)
		if err != nil {
			return Options{}, err
		}
		cipher = c
	}
	marker, err := crypt.NewMarker(cfg.SensitivePaths, cfg.SensitiveFields)
	if err != nil {
		return Options{}, err
	}
	adapter := crypt.NewAdapter(cipher, marker)

	var migrator *migrate.Migrator
	if cfg.Migrations != "" {
		plan, err := migrate.LoadPlan(cfg.Migrations)
		if err != nil {
			return Options{}, err
		}
		migrator = migrate.New(migrate.WithLogger(logger), migrate.WithAdapter(adapter))
		if err := plan.Register(migrator); err != nil {
			return Options{}, err
		}
	}

	backend, err := OpenBackend(cfg, logger)
	if err != nil {
		return Options{}, err
	}

	return Options{
		Backend:       backend,
		Logger:        logger,
		Registerer:    reg,
		Crypt:         adapter,
		Indexes:       cfg.Indexes,
		Migrator:      migrator,
		SchemaVersion: cfg.SchemaVersion,
	}, nil
}
