package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/recordsportal/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// RedisPassword is optional. ENV: REDIS_PASSWORD
	RedisPassword string `env:"REDIS_PASSWORD"`
	// RedisDB selects the logical database. ENV: REDIS_DB
	RedisDB int `env:"REDIS_DB,default=0"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=portal:"`
	// ExpiryGrace is added to every record's expiry hint. ENV: SESSIONS_EXPIRY_GRACE
	ExpiryGrace time.Duration `env:"SESSIONS_EXPIRY_GRACE,default=5m"`
}

type Store struct {
	client    *redis.Client
	keyPrefix string
	grace     time.Duration
}

// New connects to Redis and verifies the connection with PING.
func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewFromClient(cl, cfg.KeyPrefix, cfg.ExpiryGrace), nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("redisstore: decode env: %w", err)
	}
	return New(cfg)
}

// NewFromClient wraps an existing client. The store takes ownership and
// closes it in Close.
func NewFromClient(client *redis.Client, keyPrefix string, grace time.Duration) *Store {
	if keyPrefix == "" {
		keyPrefix = "portal:"
	}
	if grace < 0 {
		grace = 0
	}
	return &Store{client: client, keyPrefix: keyPrefix, grace: grace}
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(token string) string { return s.keyPrefix + "session:" + token }

func (s *Store) Get(ctx context.Context, token string) (*sessions.Session, error) {
	val, err := s.client.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sessions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get: %w", err)
	}

	var rec sessions.Session
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("redisstore: failed to unmarshal: %w", err)
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, rec sessions.Session, expiresAt time.Time) error {
	return s.set(ctx, rec, expiresAt, "")
}

// Update uses SET XX so the write only lands on a key that still exists.
func (s *Store) Update(ctx context.Context, rec sessions.Session, expiresAt time.Time) error {
	return s.set(ctx, rec, expiresAt, "XX")
}

func (s *Store) set(ctx context.Context, rec sessions.Session, expiresAt time.Time, mode string) error {
	if rec.Token == "" || rec.Principal == "" {
		return errors.New("redisstore: missing token or principal")
	}

	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = time.Until(expiresAt) + s.grace
		if ttl <= 0 {
			// Already past any useful lifetime; drop instead of storing.
			return s.client.Del(ctx, s.key(rec.Token)).Err()
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redisstore: failed to marshal: %w", err)
	}
	err = s.client.SetArgs(ctx, s.key(rec.Token), data, redis.SetArgs{Mode: mode, TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return sessions.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redisstore: set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("redisstore: del: %w", err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, fn func(sessions.Session) error) error {
	pattern := s.keyPrefix + "session:*"
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redisstore: scan: %w", err)
		}
		if len(keys) > 0 {
			vals, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("redisstore: mget: %w", err)
			}
			for _, v := range vals {
				raw, ok := v.(string)
				if !ok {
					// Deleted between SCAN and MGET.
					continue
				}
				var rec sessions.Session
				if err := json.Unmarshal([]byte(raw), &rec); err != nil {
					return fmt.Errorf("redisstore: failed to unmarshal: %w", err)
				}
				if err := fn(rec); err != nil {
					return err
				}
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Interface compliance
var _ sessions.Store = (*Store)(nil)
