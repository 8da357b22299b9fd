package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	platformredis "fundgate/internal/platform/redis"
	id "fundgate/pkg/domain"
)

// allowanceTTL keeps day keys a little past rollover so in-flight refunds
// still find them.
const allowanceTTL = 26 * time.Hour

// RedisStore tracks counters as INCRBY keys with a TTL. Capital amounts on
// the instant lane fit int64 by construction (the daily cap bounds them).
type RedisStore struct {
	client *platformredis.Client
}

func NewRedis(client *platformredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(account id.Account, day string) string {
	return fmt.Sprintf("fundgate:allowance:%s:%s", account, day)
}

func (s *RedisStore) Add(ctx context.Context, account id.Account, day string, capital *big.Int) (*big.Int, error) {
	if !capital.IsInt64() {
		return nil, fmt.Errorf("capital %s exceeds counter range", capital)
	}
	k := key(account, day)
	total, err := s.client.IncrBy(ctx, k, capital.Int64()).Result()
	if err != nil {
		return nil, fmt.Errorf("incr allowance: %w", err)
	}
	// Set the TTL on first touch; NX keeps later adds from extending it.
	if total == capital.Int64() {
		if err := s.client.ExpireNX(ctx, k, allowanceTTL).Err(); err != nil {
			return nil, fmt.Errorf("expire allowance key: %w", err)
		}
	}
	return big.NewInt(total), nil
}

func (s *RedisStore) Subtract(ctx context.Context, account id.Account, day string, capital *big.Int) error {
	if !capital.IsInt64() {
		return fmt.Errorf("capital %s exceeds counter range", capital)
	}
	if err := s.client.DecrBy(ctx, key(account, day), capital.Int64()).Err(); err != nil {
		return fmt.Errorf("decr allowance: %w", err)
	}
	return nil
}

func (s *RedisStore) Consumed(ctx context.Context, account id.Account, day string) (*big.Int, error) {
	total, err := s.client.Get(ctx, key(account, day)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("get allowance: %w", err)
	}
	if total < 0 {
		total = 0
	}
	return big.NewInt(total), nil
}
