package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger stores entries in a single uploads table keyed by
// (project_id, fingerprint). The primary key enforces the concurrency
// invariant: duplicate records racing from multiple workers resolve to a
// single row, and a duplicate-key write is treated as success.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

const createUploadsTable = `
CREATE TABLE IF NOT EXISTS uploads (
	project_id  TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	source_path TEXT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (project_id, fingerprint)
)`

func NewPostgresLedger(ctx context.Context, dsn string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, createUploadsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create uploads table: %w", err)
	}

	return &PostgresLedger{pool: pool}, nil
}

func (l *PostgresLedger) Contains(ctx context.Context, projectID, fp string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM uploads WHERE project_id = $1 AND fingerprint = $2)`,
		projectID, fp,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query uploads: %w", err)
	}
	return exists, nil
}

func (l *PostgresLedger) Record(ctx context.Context, projectID, fp, sourcePath string) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO uploads (project_id, fingerprint, source_path)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (project_id, fingerprint) DO NOTHING`,
		projectID, fp, sourcePath,
	)
	if err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Load(ctx context.Context, projectID string) (map[string]struct{}, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT fingerprint FROM uploads WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprints: %w", err)
	}
	defer rows.Close()

	fps := make(map[string]struct{})
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fps[fp] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fingerprints: %w", err)
	}

	return fps, nil
}

func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}
