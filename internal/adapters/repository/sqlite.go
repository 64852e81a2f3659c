package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/metrics"
)

const lockFileName = "voxmeter.lock"

// SQLiteStore persists everything in a single SQLite file. The data directory
// is held under an exclusive file lock for the lifetime of the store so that
// only one process writes the ledger.
type SQLiteStore struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the store under dataDir, acquires the
// directory lock and applies migrations.
func OpenSQLite(ctx context.Context, dataDir string, opts ...Option) (*SQLiteStore, error) {
	o := sqliteOptions{fileName: defaultFileName, busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	lockName := lockFileName
	if o.fileName != defaultFileName {
		lockName = strings.TrimSuffix(o.fileName, filepath.Ext(o.fileName)) + ".lock"
	}
	lock := flock.New(filepath.Join(dataDir, lockName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dataDir)
	}

	dbPath := filepath.Join(dataDir, o.fileName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single connection: writes are serialized and pragmas stick.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", o.busyTimeout.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath, lock: lock}
	if err := store.applyMigrations(ctx); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database and releases the directory lock.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
		err = fmt.Errorf("release lock: %w", unlockErr)
	}
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

const entryColumns = `seq, id, identity_key, kind, operation_id, identity_class, occurred_at,
    duration_seconds, source_label, bytes, output_chars, checkpoint_source`

func (s *SQLiteStore) Append(ctx context.Context, entry model.Entry) (model.Entry, error) {
	if _, err := validateEntry(entry); err != nil {
		return model.Entry{}, err
	}
	start := time.Now()
	defer func() { metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds())) }()

	var res sql.Result
	var err error
	switch entry.Kind {
	case model.KindUsage:
		u := entry.Usage
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO ledger_entries (id, identity_key, kind, operation_id, identity_class,
                occurred_at, duration_seconds, source_label, bytes, output_chars)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.IdentityKey, model.KindUsage, nullableString(u.OperationID), string(u.IdentityClass),
			formatTime(u.OccurredAt), u.DurationSeconds, u.SourceLabel, u.Bytes, u.OutputChars)
	case model.KindCheckpoint:
		c := entry.Checkpoint
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO ledger_entries (id, identity_key, kind, occurred_at, duration_seconds, checkpoint_source)
             VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.IdentityKey, model.KindCheckpoint, formatTime(c.AsOf), c.ConsumedSeconds, string(c.Source))
	}
	if err != nil {
		return model.Entry{}, fmt.Errorf("append entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return model.Entry{}, fmt.Errorf("last insert id: %w", err)
	}
	entry.Seq = seq
	return entry, nil
}

func (s *SQLiteStore) Entries(ctx context.Context, identityKey string) ([]model.Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds())) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE identity_key = ? ORDER BY seq`, identityKey)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) IdentityKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT identity_key FROM ledger_entries ORDER BY identity_key`)
	if err != nil {
		return nil, fmt.Errorf("query identity keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan identity key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) DeleteIdentity(ctx context.Context, identityKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE identity_key = ?`, identityKey); err != nil {
		return fmt.Errorf("delete identity entries: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ledger_entries`); err != nil {
		return fmt.Errorf("delete all entries: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetOverride(ctx context.Context, identityKey string, totalMinutes float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quota_overrides (identity_key, total_minutes, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(identity_key) DO UPDATE SET total_minutes = excluded.total_minutes, updated_at = excluded.updated_at`,
		identityKey, totalMinutes, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set override: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Override(ctx context.Context, identityKey string) (float64, bool, error) {
	var minutes float64
	err := s.db.QueryRowContext(ctx,
		`SELECT total_minutes FROM quota_overrides WHERE identity_key = ?`, identityKey).Scan(&minutes)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get override: %w", err)
	}
	return minutes, true, nil
}

func (s *SQLiteStore) DeleteOverride(ctx context.Context, identityKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM quota_overrides WHERE identity_key = ?`, identityKey); err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Records(ctx context.Context) ([]model.RegistryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT canonical_id, account_key, visitor_id, fingerprint, device_json, consumed_seconds, last_report_id, updated_at
         FROM registry ORDER BY canonical_id`)
	if err != nil {
		return nil, fmt.Errorf("query registry: %w", err)
	}
	defer rows.Close()

	var out []model.RegistryRecord
	for rows.Next() {
		var (
			rec                   model.RegistryRecord
			account, visitor, fp  sql.NullString
			reportID              sql.NullString
			deviceJSON, updatedAt string
		)
		if err := rows.Scan(&rec.CanonicalID, &account, &visitor, &fp, &deviceJSON, &rec.ConsumedSeconds, &reportID, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan registry record: %w", err)
		}
		rec.AccountKey, rec.VisitorID, rec.Fingerprint = account.String, visitor.String, fp.String
		rec.LastReportID = reportID.String
		if err := json.Unmarshal([]byte(deviceJSON), &rec.Device); err != nil {
			return nil, fmt.Errorf("decode device signals: %w", err)
		}
		rec.UpdatedAt = parseTime(updatedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutRecord(ctx context.Context, rec model.RegistryRecord) error {
	if rec.CanonicalID == "" {
		return fmt.Errorf("%w: canonical id is empty", ErrInvalidEntry)
	}
	device, err := json.Marshal(rec.Device)
	if err != nil {
		return fmt.Errorf("encode device signals: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO registry (canonical_id, account_key, visitor_id, fingerprint, device_json, consumed_seconds, last_report_id, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(canonical_id) DO UPDATE SET
            account_key = excluded.account_key,
            visitor_id = excluded.visitor_id,
            fingerprint = excluded.fingerprint,
            device_json = excluded.device_json,
            consumed_seconds = excluded.consumed_seconds,
            last_report_id = excluded.last_report_id,
            updated_at = excluded.updated_at`,
		rec.CanonicalID, nullableString(rec.AccountKey), nullableString(rec.VisitorID),
		nullableString(rec.Fingerprint), string(device), rec.ConsumedSeconds,
		nullableString(rec.LastReportID), formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put registry record: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (model.Entry, error) {
	var (
		seq                                 int64
		id, identityKey, kind, occurredAt   string
		operationID, class, label, cpSource sql.NullString
		seconds                             float64
		bytes                               int64
		chars                               int
	)
	if err := row.Scan(&seq, &id, &identityKey, &kind, &operationID, &class, &occurredAt,
		&seconds, &label, &bytes, &chars, &cpSource); err != nil {
		return model.Entry{}, fmt.Errorf("scan entry: %w", err)
	}

	e := model.Entry{Seq: seq, Kind: model.EntryKind(kind)}
	switch e.Kind {
	case model.KindUsage:
		e.Usage = &model.UsageEvent{
			ID:              id,
			OperationID:     operationID.String,
			IdentityKey:     identityKey,
			IdentityClass:   model.ParseClass(class.String),
			OccurredAt:      parseTime(occurredAt),
			DurationSeconds: seconds,
			SourceLabel:     label.String,
			Bytes:           bytes,
			OutputChars:     chars,
		}
	case model.KindCheckpoint:
		e.Checkpoint = &model.Checkpoint{
			ID:              id,
			IdentityKey:     identityKey,
			ConsumedSeconds: seconds,
			AsOf:            parseTime(occurredAt),
			Source:          model.CheckpointSource(cpSource.String),
		}
	default:
		return model.Entry{}, fmt.Errorf("%w: stored kind %q", ErrInvalidEntry, kind)
	}
	return e, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
