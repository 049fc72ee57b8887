// Package storage provides durable SQLite-backed persistence for the action
// cache, build leases, and the distributed peer registry.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("not found")

//go:embed migrations/*.sql
var migrationFS embed.FS

// CacheEntryRecord is the persisted form of an action cache hit.
type CacheEntryRecord struct {
	Fingerprint  string
	OutputsJSON  string
	ExitStatus   int
	StderrDigest string
	DurationMS   int64
	RecordedAt   time.Time
}

// LeaseRecord is the persisted form of an in-flight build lease.
type LeaseRecord struct {
	Fingerprint string
	Token       string
	AcquiredAt  time.Time
	ExpiresAt   time.Time
}

// PeerRecord is the persisted form of a known distributed-layer peer.
type PeerRecord struct {
	ID               string
	Address          string
	CapabilitiesJSON string
	TrustScore       float64
	Quarantined      bool
	LastHeartbeatAt  time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SQLiteStore is a CGo-free sqlite-backed store for cache and lease state.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// applies any pending migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version TEXT PRIMARY KEY);`); err != nil {
		return err
	}
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, e := range entries {
		v := e.Name()
		var exists string
		err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE version = ?", v).Scan(&exists)
		if err == nil {
			continue
		} else if err != sql.ErrNoRows {
			return err
		}
		body, err := migrationFS.ReadFile("migrations/" + v)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, string(body)); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations(version) VALUES(?)", v); err != nil {
			return err
		}
	}
	return nil
}

// PutCacheEntry writes a cache entry, replacing any prior entry for the
// same fingerprint (a fingerprint recomputation always supersedes history).
func (s *SQLiteStore) PutCacheEntry(ctx context.Context, rec CacheEntryRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO cache_entries(fingerprint,outputs_json,exit_status,stderr_digest,duration_ms,recorded_at) VALUES(?,?,?,?,?,?) "+
			"ON CONFLICT(fingerprint) DO UPDATE SET outputs_json=excluded.outputs_json, exit_status=excluded.exit_status, stderr_digest=excluded.stderr_digest, duration_ms=excluded.duration_ms, recorded_at=excluded.recorded_at",
		rec.Fingerprint, rec.OutputsJSON, rec.ExitStatus, rec.StderrDigest, rec.DurationMS, rec.RecordedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// GetCacheEntry looks up a cache entry by fingerprint.
func (s *SQLiteStore) GetCacheEntry(ctx context.Context, fingerprint string) (CacheEntryRecord, error) {
	var r CacheEntryRecord
	var recordedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT fingerprint,outputs_json,exit_status,stderr_digest,duration_ms,recorded_at FROM cache_entries WHERE fingerprint=?",
		fingerprint).Scan(&r.Fingerprint, &r.OutputsJSON, &r.ExitStatus, &r.StderrDigest, &r.DurationMS, &recordedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
	return r, nil
}

// CountCacheEntries reports how many cache entries are currently stored.
func (s *SQLiteStore) CountCacheEntries(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries").Scan(&n)
	return n, err
}

// ErrLeaseHeld is returned by TryAcquireLease when another holder's lease is
// still live.
var ErrLeaseHeld = errors.New("lease already held")

// TryAcquireLease inserts a lease row if none exists (or the existing one has
// expired), atomically. Returns ErrLeaseHeld if another holder's lease is
// still live.
func (s *SQLiteStore) TryAcquireLease(ctx context.Context, fingerprint, token string, now time.Time, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existingToken, expiresAt string
	err = tx.QueryRowContext(ctx, "SELECT token,expires_at FROM build_leases WHERE fingerprint=?", fingerprint).Scan(&existingToken, &expiresAt)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == nil {
		expiry, _ := time.Parse(time.RFC3339Nano, expiresAt)
		if now.Before(expiry) {
			return ErrLeaseHeld
		}
	}

	nowStr := now.UTC().Format(time.RFC3339Nano)
	expStr := now.Add(ttl).UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO build_leases(fingerprint,token,acquired_at,expires_at) VALUES(?,?,?,?) "+
			"ON CONFLICT(fingerprint) DO UPDATE SET token=excluded.token, acquired_at=excluded.acquired_at, expires_at=excluded.expires_at",
		fingerprint, token, nowStr, expStr); err != nil {
		return err
	}
	return tx.Commit()
}

// ReleaseLease drops a lease row if it's still held by token. Releasing a
// lease the caller doesn't hold (already expired and reassigned) is a no-op.
func (s *SQLiteStore) ReleaseLease(ctx context.Context, fingerprint, token string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM build_leases WHERE fingerprint=? AND token=?", fingerprint, token)
	return err
}

// RenewLease extends a held lease's expiry, failing if token no longer owns it.
func (s *SQLiteStore) RenewLease(ctx context.Context, fingerprint, token string, now time.Time, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, "UPDATE build_leases SET expires_at=? WHERE fingerprint=? AND token=?",
		now.Add(ttl).UTC().Format(time.RFC3339Nano), fingerprint, token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertPeer records or updates a known peer's address, capabilities, and
// heartbeat bookkeeping.
func (s *SQLiteStore) UpsertPeer(ctx context.Context, rec PeerRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO peers(id,address,capabilities_json,trust_score,quarantined,last_heartbeat_at,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?) "+
			"ON CONFLICT(id) DO UPDATE SET address=excluded.address, capabilities_json=excluded.capabilities_json, trust_score=excluded.trust_score, quarantined=excluded.quarantined, last_heartbeat_at=excluded.last_heartbeat_at, updated_at=excluded.updated_at",
		rec.ID, rec.Address, rec.CapabilitiesJSON, rec.TrustScore, boolToInt(rec.Quarantined), rec.LastHeartbeatAt.UTC().Format(time.RFC3339Nano), rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// ListPeers returns every known peer ordered by id for deterministic output.
func (s *SQLiteStore) ListPeers(ctx context.Context) ([]PeerRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id,address,capabilities_json,trust_score,quarantined,last_heartbeat_at,created_at,updated_at FROM peers ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PeerRecord
	for rows.Next() {
		var r PeerRecord
		var quarantined int
		var lastHB, created, updated string
		if err := rows.Scan(&r.ID, &r.Address, &r.CapabilitiesJSON, &r.TrustScore, &quarantined, &lastHB, &created, &updated); err != nil {
			return nil, err
		}
		r.Quarantined = quarantined != 0
		r.LastHeartbeatAt, _ = time.Parse(time.RFC3339Nano, lastHB)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
