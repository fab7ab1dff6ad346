// Package redisstore keeps conversation threads in Redis as JSON values.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/duckmesh/text2sql/internal/config"
	"github.com/duckmesh/text2sql/internal/conversation"
)

const defaultKeyPrefix = "text2sql:thread:"

var _ conversation.ThreadStore = (*Store)(nil)

// Client is the subset of *goredis.Client the store uses.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

type Store struct {
	client Client
	prefix string
	ttl    time.Duration
}

// New returns a store. A zero ttl keeps threads until they are deleted.
func New(client Client, prefix string, ttl time.Duration) *Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis address is required")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (s *Store) key(threadID string) string {
	return s.prefix + threadID
}

func (s *Store) Load(ctx context.Context, threadID string) (conversation.State, bool, error) {
	raw, err := s.client.Get(ctx, s.key(threadID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return conversation.State{}, false, nil
	}
	if err != nil {
		return conversation.State{}, false, fmt.Errorf("redis get thread: %w", err)
	}
	var state conversation.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return conversation.State{}, false, fmt.Errorf("decode thread %q: %w", threadID, err)
	}
	return state, true, nil
}

func (s *Store) Save(ctx context.Context, threadID string, state conversation.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode thread %q: %w", threadID, err)
	}
	if err := s.client.Set(ctx, s.key(threadID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set thread: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, s.key(threadID)).Err(); err != nil {
		return fmt.Errorf("redis del thread: %w", err)
	}
	return nil
}
