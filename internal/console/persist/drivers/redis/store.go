package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/rbacadmin/internal/console/persist"
	goredis "github.com/redis/go-redis/v9"
)

// Store keeps the session record as a JSON value in Redis, so several
// console processes on one machine can share a login.
type Store struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
}

var _ persist.Store = (*Store)(nil)

// Connect dials addr and pings it.
func Connect(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("persist/redis: ping: %w", err)
	}
	return client, nil
}

// NewStore wraps client. Records expire after ttl when ttl > 0, which
// should match the refresh token lifetime. key defaults to
// persist.DefaultKey.
func NewStore(client *goredis.Client, key string, ttl time.Duration) *Store {
	if key == "" {
		key = persist.DefaultKey
	}
	return &Store{client: client, key: key, ttl: ttl}
}

func (s *Store) Load(ctx context.Context) (persist.Record, error) {
	payload, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return persist.Record{}, persist.ErrNotFound
		}
		return persist.Record{}, err
	}

	var r persist.Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return persist.Record{}, fmt.Errorf("persist/redis: decode record: %w", err)
	}
	return r, nil
}

func (s *Store) Save(ctx context.Context, r persist.Record) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, payload, s.ttl).Err()
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return err
	}
	return nil
}

func (s *Store) Close() error { return s.client.Close() }
