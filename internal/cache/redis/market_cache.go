package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

const marketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache. Views are stored as JSON strings
// under market:{lower-hex address} with a short TTL; the engine rewrites the
// entry after every operation that touches the market.
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{c: c, ttl: marketTTL}
}

func marketKey(a common.Address) string { return "market:" + strings.ToLower(a.Hex()) }

// Set stores a market view.
func (mc *MarketCache) Set(ctx context.Context, v domain.MarketView) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", v.Address.Hex(), err)
	}
	if err := mc.c.rdb.Set(ctx, mc.c.key(marketKey(v.Address)), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set market %s: %w", v.Address.Hex(), err)
	}
	return nil
}

// Get returns a cached view, or domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, a common.Address) (domain.MarketView, error) {
	data, err := mc.c.rdb.Get(ctx, mc.c.key(marketKey(a))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketView{}, domain.ErrNotFound
		}
		return domain.MarketView{}, fmt.Errorf("redis: get market %s: %w", a.Hex(), err)
	}
	var v domain.MarketView
	if err := json.Unmarshal(data, &v); err != nil {
		return domain.MarketView{}, fmt.Errorf("redis: unmarshal market %s: %w", a.Hex(), err)
	}
	return v, nil
}

// Invalidate removes a cached view.
func (mc *MarketCache) Invalidate(ctx context.Context, a common.Address) error {
	if err := mc.c.rdb.Del(ctx, mc.c.key(marketKey(a))).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", a.Hex(), err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
