// internal/service/order/infrastructure/adapter/stock_redis_adapter.go
package adapter

import (
	"context"
	"fmt"
	"strconv"

	"fulfillment/internal/pkg/redis"
	"fulfillment/internal/service/order/domain"

	"github.com/pkg/errors"
)

const (
	conditionalStockScriptName = "conditional_stock"

	fieldCountInStock = "countInStock"
	fieldSelled       = "selled"
)

// StockRedisAdapter 是 domain.StockLedger 接口的 Redis 实现。
// 每个商品一个 hash，检查与修改在同一个 Lua 脚本里完成。
type StockRedisAdapter struct {
	redisClient *redis.Client
}

// NewStockRedisAdapter 创建适配器，并在创建时加载 Lua 脚本。
func NewStockRedisAdapter(redisClient *redis.Client) (*StockRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(conditionalStockScriptName, conditionalStockScript); err != nil {
		return nil, errors.Wrap(err, "failed to load critical stock script")
	}
	return &StockRedisAdapter{redisClient: redisClient}, nil
}

func stockKey(productID string) string {
	return fmt.Sprintf("stock:{%s}", productID)
}

func (a *StockRedisAdapter) TryReserve(ctx context.Context, productID string, amount int) (*domain.StockEntry, error) {
	return a.run(ctx, productID, amount, fieldCountInStock, fieldSelled, domain.ErrInsufficientStock)
}

func (a *StockRedisAdapter) TryRelease(ctx context.Context, productID string, amount int) (*domain.StockEntry, error) {
	return a.run(ctx, productID, amount, fieldSelled, fieldCountInStock, domain.ErrInsufficientCommitted)
}

func (a *StockRedisAdapter) run(ctx context.Context, productID string, amount int, guard, other string, insufficient error) (*domain.StockEntry, error) {
	result, err := a.redisClient.RunScript(ctx, conditionalStockScriptName, []string{stockKey(productID)}, amount, guard, other)
	if err != nil {
		return nil, errors.Wrapf(err, "stock script failed for %s", productID)
	}
	return parseStockScriptResult(productID, result, insufficient)
}

// parseStockScriptResult 解析脚本返回值：{0} 不存在，{-1} 数量不足，{1, countInStock, selled} 成功。
func parseStockScriptResult(productID string, result interface{}, insufficient error) (*domain.StockEntry, error) {
	values, ok := result.([]interface{})
	if !ok || len(values) == 0 {
		return nil, errors.Errorf("unexpected result type from stock script: %T", result)
	}
	code, ok := values[0].(int64)
	if !ok {
		return nil, errors.Errorf("unexpected result code type from stock script: %T", values[0])
	}

	switch code {
	case 0:
		return nil, domain.ErrProductNotFound
	case -1:
		return nil, insufficient
	case 1:
		if len(values) != 3 {
			return nil, errors.Errorf("stock script returned %d values", len(values))
		}
		count, ok1 := values[1].(int64)
		selled, ok2 := values[2].(int64)
		if !ok1 || !ok2 {
			return nil, errors.New("stock script returned non-integer counters")
		}
		return &domain.StockEntry{ProductID: productID, CountInStock: int(count), Selled: int(selled)}, nil
	default:
		return nil, errors.Errorf("unknown result code from stock script: %d", code)
	}
}

// SeedStock (测试和管理用) 直接覆盖商品的两个计数
func (a *StockRedisAdapter) SeedStock(ctx context.Context, entry domain.StockEntry) error {
	err := a.redisClient.GetClient().HSet(ctx, stockKey(entry.ProductID),
		fieldCountInStock, entry.CountInStock,
		fieldSelled, entry.Selled,
	).Err()
	return errors.Wrapf(err, "failed to seed stock %s", entry.ProductID)
}

func (a *StockRedisAdapter) GetStock(ctx context.Context, productID string) (*domain.StockEntry, error) {
	values, err := a.redisClient.GetClient().HGetAll(ctx, stockKey(productID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read stock %s", productID)
	}
	if len(values) == 0 {
		return nil, domain.ErrProductNotFound
	}
	count, _ := strconv.Atoi(values[fieldCountInStock])
	selled, _ := strconv.Atoi(values[fieldSelled])
	return &domain.StockEntry{ProductID: productID, CountInStock: count, Selled: selled}, nil
}

var conditionalStockScript = `
-- KEYS[1]: 商品库存 hash, 例如: stock:{product_123}
-- ARGV[1]: 数量
-- ARGV[2]: 需要满足 >= 数量 的字段 (预留时为 countInStock, 释放时为 selled)
-- ARGV[3]: 另一个字段，增加同样的数量

if redis.call('exists', KEYS[1]) == 0 then
    return {0} -- 商品不存在
end

local amount = tonumber(ARGV[1])
local current = tonumber(redis.call('hget', KEYS[1], ARGV[2]) or '0')
if current < amount then
    return {-1} -- 数量不足，不做任何修改
end

redis.call('hincrby', KEYS[1], ARGV[2], -amount)
redis.call('hincrby', KEYS[1], ARGV[3], amount)

local counters = redis.call('hmget', KEYS[1], 'countInStock', 'selled')
return {1, tonumber(counters[1]), tonumber(counters[2])}
`
