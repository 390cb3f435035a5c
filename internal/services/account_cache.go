package services

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"

	"BlinkPay/utils"
)

const accountCachePrefix = "blinkpay:account:"

// accountCache is the subset of redis.Cmdable the checker needs.
type accountCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedAccountChecker remembers accounts known to exist. Only positive
// answers are cached since an account may be created at any time.
type CachedAccountChecker struct {
	next  AccountChecker
	cache accountCache
	ttl   time.Duration
	log   *utils.Logger
}

func NewCachedAccountChecker(next AccountChecker, cache accountCache, ttl time.Duration, log *utils.Logger) *CachedAccountChecker {
	if log == nil {
		log = utils.NopLogger()
	}
	return &CachedAccountChecker{next: next, cache: cache, ttl: ttl, log: log}
}

func (c *CachedAccountChecker) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	key := accountCachePrefix + account.String()

	v, err := c.cache.Get(ctx, key).Result()
	switch {
	case err == nil && v == "1":
		return true, nil
	case err != nil && !errors.Is(err, redis.Nil):
		// 缓存不可用时直接查链
		c.log.Warn("account cache read failed", "account", account.String(), "err", err)
	}

	exists, err := c.next.AccountExists(ctx, account)
	if err != nil {
		return false, err
	}
	if exists {
		if err := c.cache.Set(ctx, key, "1", c.ttl).Err(); err != nil {
			c.log.Warn("account cache write failed", "account", account.String(), "err", err)
		}
	}
	return exists, nil
}

// cachingChain overlays an account checker on a Chain.
type cachingChain struct {
	Chain
	accounts AccountChecker
}

// WithAccountCache routes AccountExists of chain through the redis cache.
func WithAccountCache(chain Chain, rdb redis.Cmdable, ttl time.Duration, log *utils.Logger) Chain {
	return &cachingChain{
		Chain:    chain,
		accounts: NewCachedAccountChecker(chain, rdb, ttl, log),
	}
}

func (c *cachingChain) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	return c.accounts.AccountExists(ctx, account)
}
