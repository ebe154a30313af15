package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/cognition"
)

// Store wraps a PostgreSQL connection pool. Cognition records are read and
// written through a Tx obtained from Begin.
type Store struct {
	db     *pgxpool.Pool
	index  cognition.VectorIndex
	logger *zap.Logger
}

var _ cognition.Backend = (*Store)(nil)

// New creates a Store with a pgx connection pool.
func New(dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Store{db: pool, logger: logger}, nil
}

// UseVectorIndex routes embedding writes and similarity search through idx
// instead of pgvector. Searches fall back to pgvector when idx fails.
func (s *Store) UseVectorIndex(idx cognition.VectorIndex) {
	s.index = idx
}

// Migrate reads and executes all .up.sql files from the migrations directory.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Begin starts a transaction. The returned Tx implements cognition.Store;
// the caller must Commit or Rollback it.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx, index: s.index, logger: s.logger}, nil
}

// InTx runs fn in a transaction, committing when fn succeeds and rolling
// back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(cognition.Store) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return tx.Commit(ctx)
}

// Scopes lists every (tenant, agent) pair that owns a live record.
func (s *Store) Scopes(ctx context.Context) ([]cognition.Scope, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT tenant_id, agent_id FROM (
			SELECT tenant_id, agent_id FROM beliefs WHERE deleted_at IS NULL
			UNION SELECT tenant_id, agent_id FROM goals WHERE deleted_at IS NULL
			UNION SELECT tenant_id, agent_id FROM intentions WHERE deleted_at IS NULL
			UNION SELECT tenant_id, agent_id FROM episodes WHERE deleted_at IS NULL
			UNION SELECT tenant_id, agent_id FROM facts WHERE deleted_at IS NULL
			UNION SELECT tenant_id, agent_id FROM procedures WHERE deleted_at IS NULL
			UNION SELECT tenant_id, agent_id FROM working_memory WHERE deleted_at IS NULL
		) scopes
		ORDER BY tenant_id, agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	scopes, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (cognition.Scope, error) {
		var sc cognition.Scope
		err := r.Scan(&sc.TenantID, &sc.AgentID)
		return sc, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan scope: %w", err)
	}
	return scopes, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.db.Close()
}
