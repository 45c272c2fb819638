// File: internal/registry/postgres.go
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool abstracts the pgxpool.Pool so the store can be mocked in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGRegistry is the Postgres-backed account registry, for deployments where
// several hosts share one account pool.
type PGRegistry struct {
	pool DBPool
	log  *zap.Logger
}

var _ Registry = (*PGRegistry)(nil)

// NewPGRegistry verifies the connection and returns the store.
func NewPGRegistry(ctx context.Context, pool DBPool, logger *zap.Logger) (*PGRegistry, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PGRegistry{
		pool: pool,
		log:  logger.Named("pg_registry"),
	}, nil
}

// ConnectPG dials the DSN and returns a live pool.
func ConnectPG(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return pool, nil
}

// MarkDoLater updates the account row. Zero rows affected means the account
// is unknown to the registry, which is logged and tolerated.
func (r *PGRegistry) MarkDoLater(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET status = $1, updated_at = $2
		WHERE lower(email) = $3;
	`, StatusDoLater, time.Now().UTC(), email)
	if err != nil {
		return fmt.Errorf("failed to mark account doLater: %w", err)
	}

	if tag.RowsAffected() == 0 {
		r.log.Warn("Account not present in registry; doLater mark skipped.", zap.String("email", email))
		return nil
	}
	r.log.Info("Account parked for a later pass.", zap.String("email", email))
	return nil
}
