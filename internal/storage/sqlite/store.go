// Package sqlite is the SQLite-backed LedgerStore used by single-instance
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arcfield/agentbridge/internal/billing"
	"github.com/arcfield/agentbridge/internal/domain"
	"github.com/arcfield/agentbridge/internal/storage"
)

// Store is a SQLite implementation of LedgerStore.
type Store struct {
	db *sql.DB
}

var _ storage.LedgerStore = (*Store)(nil)

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS claims (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			feature_type TEXT NOT NULL,
			source TEXT NOT NULL,
			confidence REAL NOT NULL,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_audits (
			session_id TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_session ON claims(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_source ON claims(source)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) SaveClaims(ctx context.Context, claims []domain.BillingClaim) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, c := range claims {
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal claim metadata: %w", err)
		}

		// Claim ids are content-derived; replaying a terminal notification
		// must not duplicate rows.
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO claims (id, session_id, feature_type, source, confidence, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.SessionID, c.Type, string(c.Source), c.Confidence, string(metadata), c.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert claim: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) SaveAudit(ctx context.Context, snap billing.Snapshot) error {
	snapshot, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_audits (session_id, snapshot, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET snapshot = excluded.snapshot`,
		snap.SessionID, string(snapshot), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *Store) ListClaims(ctx context.Context, opts storage.ListOptions) ([]domain.BillingClaim, error) {
	query := `SELECT id, session_id, feature_type, source, confidence, metadata, created_at FROM claims`
	var args []any
	if opts.SessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, opts.SessionID)
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()

	var claims []domain.BillingClaim
	for rows.Next() {
		var c domain.BillingClaim
		var source, metadata string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Type, &source, &c.Confidence, &metadata, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		c.Source = domain.ClaimSource(source)
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &c.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal claim metadata: %w", err)
			}
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
