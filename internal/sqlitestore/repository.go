// Package sqlitestore persists audit chains in SQLite. Event rows are
// written once and never updated; only chain metadata changes.
package sqlitestore

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/yourorg/yourapp/apps/audit/internal/trail"
)

var ErrSealedBody = errors.New("sealed event body cannot be opened")

type Options struct {
	Path string
	// SealKey enables XChaCha20-Poly1305 sealing of event bodies when set.
	SealKey    []byte
	MaxRetries uint64
	Logger     *slog.Logger
}

// Repository implements trail.ChainRepository.
type Repository struct {
	db         *sql.DB
	aead       cipher.AEAD
	maxRetries uint64
	logger     *slog.Logger
}

func Open(ctx context.Context, opts Options) (*Repository, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	db, err := sql.Open("sqlite3", opts.Path+"?_journal_mode=WAL&_busy_timeout=2000")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)

	r := &Repository{db: db, maxRetries: opts.MaxRetries, logger: opts.Logger}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.maxRetries == 0 {
		r.maxRetries = 5
	}
	if len(opts.SealKey) > 0 {
		aead, err := chacha20poly1305.NewX(opts.SealKey)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init sealing: %w", err)
		}
		r.aead = aead
	}
	if err := r.initDB(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit database: %w", err)
	}
	return r, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) initDB(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_chains (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			created_at INTEGER NOT NULL,
			metadata TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			chain_id TEXT NOT NULL REFERENCES audit_chains(id),
			sequence INTEGER NOT NULL,
			event_id TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL,
			current_hash TEXT NOT NULL,
			sealed INTEGER NOT NULL DEFAULT 0,
			body BLOB NOT NULL,
			PRIMARY KEY (chain_id, sequence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) LoadChains(ctx context.Context) ([]trail.Chain, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, description, created_at, metadata FROM audit_chains ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query chains: %w", err)
	}
	var chains []trail.Chain
	for rows.Next() {
		var (
			c           trail.Chain
			description sql.NullString
			createdAt   int64
			meta        string
		)
		if err := rows.Scan(&c.ID, &c.Name, &description, &createdAt, &meta); err != nil {
			rows.Close()
			return nil, err
		}
		c.Description = description.String
		c.CreatedAt = time.UnixMilli(createdAt).UTC()
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode metadata of chain %s: %w", c.ID, err)
		}
		chains = append(chains, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range chains {
		events, err := r.loadEvents(ctx, chains[i].ID)
		if err != nil {
			return nil, err
		}
		chains[i].Events = events
	}
	return chains, nil
}

func (r *Repository) loadEvents(ctx context.Context, chainID string) ([]trail.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT event_id, sealed, body FROM audit_events WHERE chain_id = ? ORDER BY sequence`, chainID)
	if err != nil {
		return nil, fmt.Errorf("query events of chain %s: %w", chainID, err)
	}
	defer rows.Close()

	events := []trail.AuditEvent{}
	for rows.Next() {
		var (
			eventID string
			sealed  bool
			body    []byte
		)
		if err := rows.Scan(&eventID, &sealed, &body); err != nil {
			return nil, err
		}
		if sealed {
			if body, err = r.open(chainID, eventID, body); err != nil {
				return nil, err
			}
		}
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var e trail.AuditEvent
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", eventID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *Repository) SaveChain(ctx context.Context, c trail.Chain) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return err
	}
	return r.withRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO audit_chains (id, name, description, created_at, metadata) VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.Description, c.CreatedAt.UnixMilli(), string(meta))
		return err
	})
}

func (r *Repository) AppendEvent(ctx context.Context, chainID string, e trail.AuditEvent, meta trail.ChainMetadata) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	sealed := false
	if r.aead != nil {
		if body, err = r.seal(chainID, e.ID, body); err != nil {
			return err
		}
		sealed = true
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return r.withRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO audit_events (chain_id, sequence, event_id, created_at, current_hash, sealed, body) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			chainID, e.Sequence, e.ID, e.Timestamp.UnixMilli(), e.CurrentHash, sealed, body); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE audit_chains SET metadata = ? WHERE id = ?`, string(metaJSON), chainID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (r *Repository) UpdateChainMetadata(ctx context.Context, chainID string, meta trail.ChainMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return r.withRetry(ctx, func() error {
		res, err := r.db.ExecContext(ctx, `UPDATE audit_chains SET metadata = ? WHERE id = ?`, string(metaJSON), chainID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return backoff.Permanent(&trail.ChainNotFoundError{ChainID: chainID})
		}
		return nil
	})
}

// withRetry retries busy and locked errors with exponential backoff; any
// other error is returned at once.
func (r *Repository) withRetry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.maxRetries), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return backoff.Permanent(err)
		}
		r.logger.Warn("sqlite busy, retrying", "attempt", attempt, "err", err)
		return err
	}, policy)
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func (r *Repository) seal(chainID, eventID string, plain []byte) ([]byte, error) {
	nonce := make([]byte, r.aead.NonceSize(), r.aead.NonceSize()+len(plain)+r.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal event %s: %w", eventID, err)
	}
	return r.aead.Seal(nonce, nonce, plain, []byte(chainID+"/"+eventID)), nil
}

func (r *Repository) open(chainID, eventID string, sealed []byte) ([]byte, error) {
	if r.aead == nil {
		return nil, fmt.Errorf("event %s: %w: no key configured", eventID, ErrSealedBody)
	}
	n := r.aead.NonceSize()
	if len(sealed) < n {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrSealedBody)
	}
	plain, err := r.aead.Open(nil, sealed[:n], sealed[n:], []byte(chainID+"/"+eventID))
	if err != nil {
		return nil, fmt.Errorf("event %s: %w: %v", eventID, ErrSealedBody, err)
	}
	return plain, nil
}

var _ trail.ChainRepository = (*Repository)(nil)
