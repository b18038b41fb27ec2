// Package store persists the Canvas credential pool and caller API keys,
// with interchangeable redis and sqlite backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNoRows = errors.New("no rows in result set")

// Account is one Canvas credential in the pool. Token holds the most
// recently fetched JWT; the refresh loop keeps it current.
type Account struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	ClientCookie string    `json:"client_cookie"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Token        string    `json:"token"`
	Enabled      bool      `json:"enabled"`
	Weight       int       `json:"weight"`
	RequestCount int64     `json:"request_count"`
	LastUsedAt   time.Time `json:"last_used_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ApiKey struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	KeySuffix  string     `json:"key_suffix"`
	Enabled    bool       `json:"enabled"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

type accountStore interface {
	CreateAccount(ctx context.Context, acc *Account) error
	UpdateAccount(ctx context.Context, acc *Account) error
	DeleteAccount(ctx context.Context, id int64) error
	GetAccount(ctx context.Context, id int64) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	GetEnabledAccounts(ctx context.Context) ([]*Account, error)
	IncrementRequestCount(ctx context.Context, id int64) error
}

type apiKeyStore interface {
	CreateApiKey(ctx context.Context, key *ApiKey) error
	ListApiKeys(ctx context.Context) ([]*ApiKey, error)
	GetApiKeyByHash(ctx context.Context, hash string) (*ApiKey, error)
	UpdateApiKeyLastUsed(ctx context.Context, id int64) error
	DeleteApiKey(ctx context.Context, id int64) error
}

type settingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

type backend interface {
	accountStore
	apiKeyStore
	settingsStore
	Close() error
}

// Store is the facade the rest of the relay talks to.
type Store struct {
	backend backend
}

type Options struct {
	Mode          string // "redis" or "sqlite"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	SQLitePath    string
}

func New(opts Options) (*Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Mode)) {
	case "", "redis":
		b, err := newRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis store: %w", err)
		}
		return &Store{backend: b}, nil
	case "sqlite":
		b, err := newSQLiteStore(opts.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to init sqlite store: %w", err)
		}
		return &Store{backend: b}, nil
	default:
		return nil, fmt.Errorf("unsupported store mode %q", opts.Mode)
	}
}

func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

func (s *Store) CreateAccount(ctx context.Context, acc *Account) error {
	return s.backend.CreateAccount(ctx, acc)
}

func (s *Store) UpdateAccount(ctx context.Context, acc *Account) error {
	return s.backend.UpdateAccount(ctx, acc)
}

func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	return s.backend.DeleteAccount(ctx, id)
}

func (s *Store) GetAccount(ctx context.Context, id int64) (*Account, error) {
	return s.backend.GetAccount(ctx, id)
}

func (s *Store) ListAccounts(ctx context.Context) ([]*Account, error) {
	return s.backend.ListAccounts(ctx)
}

func (s *Store) GetEnabledAccounts(ctx context.Context) ([]*Account, error) {
	return s.backend.GetEnabledAccounts(ctx)
}

func (s *Store) IncrementRequestCount(ctx context.Context, id int64) error {
	return s.backend.IncrementRequestCount(ctx, id)
}

func (s *Store) CreateApiKey(ctx context.Context, key *ApiKey) error {
	return s.backend.CreateApiKey(ctx, key)
}

func (s *Store) ListApiKeys(ctx context.Context) ([]*ApiKey, error) {
	return s.backend.ListApiKeys(ctx)
}

func (s *Store) GetApiKeyByHash(ctx context.Context, hash string) (*ApiKey, error) {
	return s.backend.GetApiKeyByHash(ctx, hash)
}

func (s *Store) UpdateApiKeyLastUsed(ctx context.Context, id int64) error {
	return s.backend.UpdateApiKeyLastUsed(ctx, id)
}

func (s *Store) DeleteApiKey(ctx context.Context, id int64) error {
	return s.backend.DeleteApiKey(ctx, id)
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	return s.backend.GetSetting(ctx, key)
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return s.backend.SetSetting(ctx, key, value)
}
