package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	client_cookie TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	token TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	weight INTEGER NOT NULL DEFAULT 1,
	request_count INTEGER NOT NULL DEFAULT 0,
	last_used_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS api_keys (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	key_hash TEXT NOT NULL UNIQUE,
	key_prefix TEXT NOT NULL DEFAULT '',
	key_suffix TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	last_used_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func newSQLiteStore(path string) (*sqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "canvas.db"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes itself; one connection avoids
	// SQLITE_BUSY churn under concurrent handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) CreateAccount(ctx context.Context, acc *Account) error {
	now := time.Now()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now
	if acc.Weight <= 0 {
		acc.Weight = 1
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (name, client_cookie, user_id, email, token, enabled, weight, request_count, last_used_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.Name, acc.ClientCookie, acc.UserID, acc.Email, acc.Token,
		acc.Enabled, acc.Weight, acc.RequestCount, nullableTime(acc.LastUsedAt), acc.CreatedAt, acc.UpdatedAt)
	if err != nil {
		return err
	}
	acc.ID, err = res.LastInsertId()
	return err
}

func (s *sqliteStore) UpdateAccount(ctx context.Context, acc *Account) error {
	acc.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET name=?, client_cookie=?, user_id=?, email=?, token=?, enabled=?, weight=?, request_count=?, last_used_at=?, updated_at=?
		 WHERE id=?`,
		acc.Name, acc.ClientCookie, acc.UserID, acc.Email, acc.Token,
		acc.Enabled, acc.Weight, acc.RequestCount, nullableTime(acc.LastUsedAt), acc.UpdatedAt, acc.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoRows
	}
	return nil
}

func (s *sqliteStore) DeleteAccount(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id=?`, id)
	return err
}

const accountColumns = `id, name, client_cookie, user_id, email, token, enabled, weight, request_count, last_used_at, created_at, updated_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (*Account, error) {
	var acc Account
	var lastUsed sql.NullTime
	err := row.Scan(&acc.ID, &acc.Name, &acc.ClientCookie, &acc.UserID, &acc.Email, &acc.Token,
		&acc.Enabled, &acc.Weight, &acc.RequestCount, &lastUsed, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		acc.LastUsedAt = lastUsed.Time
	}
	return &acc, nil
}

func (s *sqliteStore) GetAccount(ctx context.Context, id int64) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id=?`, id))
}

func (s *sqliteStore) listAccounts(ctx context.Context, onlyEnabled bool) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if onlyEnabled {
		query += ` WHERE enabled=1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func (s *sqliteStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	return s.listAccounts(ctx, false)
}

func (s *sqliteStore) GetEnabledAccounts(ctx context.Context) ([]*Account, error) {
	return s.listAccounts(ctx, true)
}

func (s *sqliteStore) IncrementRequestCount(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET request_count=request_count+1, last_used_at=? WHERE id=?`,
		time.Now(), id)
	return err
}

func (s *sqliteStore) CreateApiKey(ctx context.Context, key *ApiKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (name, key_hash, key_prefix, key_suffix, enabled, last_used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.Name, key.KeyHash, key.KeyPrefix, key.KeySuffix, key.Enabled, key.LastUsedAt, key.CreatedAt)
	if err != nil {
		return err
	}
	key.ID, err = res.LastInsertId()
	return err
}

const apiKeyColumns = `id, name, key_hash, key_prefix, key_suffix, enabled, last_used_at, created_at`

func scanApiKey(row interface{ Scan(...interface{}) error }) (*ApiKey, error) {
	var key ApiKey
	var lastUsed sql.NullTime
	err := row.Scan(&key.ID, &key.Name, &key.KeyHash, &key.KeyPrefix, &key.KeySuffix,
		&key.Enabled, &lastUsed, &key.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		key.LastUsedAt = &lastUsed.Time
	}
	return &key, nil
}

func (s *sqliteStore) ListApiKeys(ctx context.Context) ([]*ApiKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*ApiKey
	for rows.Next() {
		key, err := scanApiKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *sqliteStore) GetApiKeyByHash(ctx context.Context, hash string) (*ApiKey, error) {
	return scanApiKey(s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=?`, hash))
}

func (s *sqliteStore) UpdateApiKeyLastUsed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at=? WHERE id=?`, time.Now(), id)
	return err
}

func (s *sqliteStore) DeleteApiKey(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	return err
}

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoRows
	}
	return value, err
}

func (s *sqliteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
