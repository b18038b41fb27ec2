package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	prefix string
}

func newRedisStore(addr, password string, db int, prefix string) (*redisStore, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "canvas:"
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &redisStore{client: client, prefix: prefix}, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) accountKey(id int64) string  { return s.prefix + "accounts:" + strconv.FormatInt(id, 10) }
func (s *redisStore) accountIDsKey() string       { return s.prefix + "accounts:ids" }
func (s *redisStore) accountEnabledKey() string   { return s.prefix + "accounts:enabled" }
func (s *redisStore) accountNextIDKey() string    { return s.prefix + "accounts:next_id" }
func (s *redisStore) apiKeyKey(id int64) string   { return s.prefix + "apikeys:" + strconv.FormatInt(id, 10) }
func (s *redisStore) apiKeyIDsKey() string        { return s.prefix + "apikeys:ids" }
func (s *redisStore) apiKeyNextIDKey() string     { return s.prefix + "apikeys:next_id" }
func (s *redisStore) apiKeyHashKey(h string) string { return s.prefix + "apikeys:hash:" + h }
func (s *redisStore) settingKey(key string) string  { return s.prefix + "settings:" + key }

func (s *redisStore) CreateAccount(ctx context.Context, acc *Account) error {
	id, err := s.client.Incr(ctx, s.accountNextIDKey()).Result()
	if err != nil {
		return err
	}

	now := time.Now()
	acc.ID = id
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.accountKey(id), data, 0)
	pipe.SAdd(ctx, s.accountIDsKey(), id)
	if acc.Enabled {
		pipe.SAdd(ctx, s.accountEnabledKey(), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) UpdateAccount(ctx context.Context, acc *Account) error {
	if acc.ID == 0 {
		return ErrNoRows
	}
	acc.UpdatedAt = time.Now()

	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.accountKey(acc.ID), data, 0)
	pipe.SAdd(ctx, s.accountIDsKey(), acc.ID)
	if acc.Enabled {
		pipe.SAdd(ctx, s.accountEnabledKey(), acc.ID)
	} else {
		pipe.SRem(ctx, s.accountEnabledKey(), acc.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) DeleteAccount(ctx context.Context, id int64) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.accountKey(id))
	pipe.SRem(ctx, s.accountIDsKey(), id)
	pipe.SRem(ctx, s.accountEnabledKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) GetAccount(ctx context.Context, id int64) (*Account, error) {
	value, err := s.client.Get(ctx, s.accountKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	var acc Account
	if err := json.Unmarshal([]byte(value), &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *redisStore) accountsFromSet(ctx context.Context, setKey string) ([]*Account, error) {
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}

	var accounts []*Account
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		acc, err := s.GetAccount(ctx, id)
		if errors.Is(err, ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *redisStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	return s.accountsFromSet(ctx, s.accountIDsKey())
}

func (s *redisStore) GetEnabledAccounts(ctx context.Context) ([]*Account, error) {
	return s.accountsFromSet(ctx, s.accountEnabledKey())
}

func (s *redisStore) IncrementRequestCount(ctx context.Context, id int64) error {
	acc, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	acc.RequestCount++
	acc.LastUsedAt = time.Now()
	return s.UpdateAccount(ctx, acc)
}

func (s *redisStore) CreateApiKey(ctx context.Context, key *ApiKey) error {
	id, err := s.client.Incr(ctx, s.apiKeyNextIDKey()).Result()
	if err != nil {
		return err
	}

	key.ID = id
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}

	data, err := json.Marshal(struct {
		*ApiKey
		KeyHash string `json:"key_hash"`
	}{key, key.KeyHash})
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.apiKeyKey(id), data, 0)
	pipe.SAdd(ctx, s.apiKeyIDsKey(), id)
	pipe.Set(ctx, s.apiKeyHashKey(key.KeyHash), id, 0)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) getApiKey(ctx context.Context, id int64) (*ApiKey, error) {
	value, err := s.client.Get(ctx, s.apiKeyKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}

	var record struct {
		ApiKey
		KeyHash string `json:"key_hash"`
	}
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return nil, err
	}
	key := record.ApiKey
	key.KeyHash = record.KeyHash
	return &key, nil
}

func (s *redisStore) ListApiKeys(ctx context.Context) ([]*ApiKey, error) {
	ids, err := s.client.SMembers(ctx, s.apiKeyIDsKey()).Result()
	if err != nil {
		return nil, err
	}

	var keys []*ApiKey
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		key, err := s.getApiKey(ctx, id)
		if errors.Is(err, ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return keys, nil
}

func (s *redisStore) GetApiKeyByHash(ctx context.Context, hash string) (*ApiKey, error) {
	raw, err := s.client.Get(ctx, s.apiKeyHashKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, ErrNoRows
	}
	return s.getApiKey(ctx, id)
}

func (s *redisStore) UpdateApiKeyLastUsed(ctx context.Context, id int64) error {
	key, err := s.getApiKey(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	key.LastUsedAt = &now

	data, err := json.Marshal(struct {
		*ApiKey
		KeyHash string `json:"key_hash"`
	}{key, key.KeyHash})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.apiKeyKey(id), data, 0).Err()
}

func (s *redisStore) DeleteApiKey(ctx context.Context, id int64) error {
	key, err := s.getApiKey(ctx, id)
	if errors.Is(err, ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.apiKeyKey(id))
	pipe.SRem(ctx, s.apiKeyIDsKey(), id)
	pipe.Del(ctx, s.apiKeyHashKey(key.KeyHash))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) GetSetting(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.settingKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoRows
	}
	return value, err
}

func (s *redisStore) SetSetting(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.settingKey(key), value, 0).Err()
}
