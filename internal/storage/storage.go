// Package storage provides the record store backends for ledger and
// recommendation documents. Every backend guarantees per-record atomicity;
// no backend performs cross-record transactions.
package storage

import (
	"context"
	"fmt"

	"github.com/StreetsDigital/aip-coordinator/internal/config"
	"github.com/StreetsDigital/aip-coordinator/internal/ledger"
	"github.com/StreetsDigital/aip-coordinator/internal/weave"
)

// Store is the combined record store: ledger records keyed by serve token
// and recommendation records keyed by (session_id, message_id).
type Store interface {
	ledger.Store
	weave.Store

	// Close releases backend resources
	Close() error
}

// Build constructs the store selected by the ledger configuration
func Build(ctx context.Context, cfg config.LedgerConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendInMemory:
		return NewMemoryStore(), nil
	case config.BackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			URL:    cfg.Option("url"),
			Prefix: cfg.Option("prefix"),
		})
	case config.BackendPostgres:
		return NewPostgresStore(ctx, PostgresOptions{
			DSN: cfg.Option("dsn"),
		})
	case config.BackendDocumentStore:
		return NewFirestoreStore(ctx, FirestoreOptions{
			ProjectID:  cfg.Option("project_id"),
			Collection: cfg.Option("collection"),
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
