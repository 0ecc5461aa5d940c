// Package pagecache keeps raw GetFeature page bodies in Redis so a re-run of
// the same query can skip the network.
package pagecache

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammed-shakir/wfs-dump/internal/cache/redisstore"
)

const DefaultTTL = 10 * time.Minute

// Store implements executor.BodyCache on top of redisstore.
type Store struct {
	cli *redisstore.Client
	ttl time.Duration
}

// NewRedisStore returns a store whose entries expire after ttl. A ttl <= 0
// means DefaultTTL.
func NewRedisStore(cli *redisstore.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{cli: cli, ttl: ttl}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok, err := s.cli.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("pagecache get: %w", err)
	}
	if ok && len(b) == 0 {
		return nil, false, nil
	}
	return b, ok, nil
}

func (s *Store) Put(ctx context.Context, key string, body []byte) error {
	if len(body) == 0 {
		return nil
	}
	if err := s.cli.Set(ctx, key, body, s.ttl); err != nil {
		return fmt.Errorf("pagecache put: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.cli.Del(ctx, key); err != nil {
		return fmt.Errorf("pagecache delete: %w", err)
	}
	return nil
}
