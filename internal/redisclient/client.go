package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/cart_add.lua
var cartAddScript string

//go:embed scripts/cart_set.lua
var cartSetScript string

//go:embed scripts/lock_release.lua
var lockReleaseScript string

// cartTTL is how long an untouched cart survives.
const cartTTL = 30 * 24 * time.Hour

type Client struct {
	rdb           *redis.Client
	addScript     *redis.Script
	setScript     *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing connection
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		addScript:     redis.NewScript(cartAddScript),
		setScript:     redis.NewScript(cartSetScript),
		releaseScript: redis.NewScript(lockReleaseScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func cartKey(userID int64) string {
	return fmt.Sprintf("cart:%d", userID)
}

func couponKey(userID int64) string {
	return fmt.Sprintf("cart:%d:coupon", userID)
}

func cartField(productID int64, size string) string {
	return strconv.FormatInt(productID, 10) + ":" + size
}

func parseCartField(field string) (int64, string, error) {
	id, size, _ := strings.Cut(field, ":")
	productID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed cart field %q", field)
	}
	return productID, size, nil
}

// AddCartItem atomically adds quantity to a cart line unless the line would
// exceed max or stock. It returns the script outcome (0, -1 for the cap, -2
// for stock) and the new or requested line quantity.
func (c *Client) AddCartItem(ctx context.Context, userID, productID int64, size string, quantity, max, stock int) (int, int, error) {
	key := cartKey(userID)

	result, err := c.addScript.Run(ctx, c.rdb, []string{key}, cartField(productID, size), quantity, max, stock).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("cart add script failed: %w", err)
	}

	pair, ok := result.([]interface{})
	if !ok || len(pair) != 2 {
		return 0, 0, fmt.Errorf("unexpected script result %v", result)
	}
	outcome, ok1 := pair[0].(int64)
	qty, ok2 := pair[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("unexpected script result %v", result)
	}

	if outcome == 0 {
		c.rdb.Expire(ctx, key, cartTTL)
	}
	return int(qty), int(outcome), nil
}

// SetCartItem sets a cart line's quantity; zero or less removes it
func (c *Client) SetCartItem(ctx context.Context, userID, productID int64, size string, quantity int) error {
	key := cartKey(userID)

	if err := c.setScript.Run(ctx, c.rdb, []string{key}, cartField(productID, size), quantity).Err(); err != nil {
		return fmt.Errorf("cart set script failed: %w", err)
	}

	c.rdb.Expire(ctx, key, cartTTL)
	return nil
}

// RemoveCartItem deletes a cart line
func (c *Client) RemoveCartItem(ctx context.Context, userID, productID int64, size string) error {
	return c.rdb.HDel(ctx, cartKey(userID), cartField(productID, size)).Err()
}

// GetCart returns every line in the cart
func (c *Client) GetCart(ctx context.Context, userID int64) ([]models.CartLine, error) {
	result, err := c.rdb.HGetAll(ctx, cartKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	lines := make([]models.CartLine, 0, len(result))
	for field, value := range result {
		productID, size, err := parseCartField(field)
		if err != nil {
			return nil, err
		}
		qty, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("malformed quantity for %q: %w", field, err)
		}
		lines = append(lines, models.CartLine{ProductID: productID, Size: size, Quantity: qty})
	}
	return lines, nil
}

// ClearCart deletes the whole cart
func (c *Client) ClearCart(ctx context.Context, userID int64) error {
	return c.rdb.Del(ctx, cartKey(userID)).Err()
}

// SetAppliedCoupon records the cart's active coupon, replacing any previous one
func (c *Client) SetAppliedCoupon(ctx context.Context, userID int64, code string) error {
	return c.rdb.Set(ctx, couponKey(userID), code, cartTTL).Err()
}

// GetAppliedCoupon returns the cart's active coupon code or ""
func (c *Client) GetAppliedCoupon(ctx context.Context, userID int64) (string, error) {
	code, err := c.rdb.Get(ctx, couponKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return code, err
}

// ClearAppliedCoupon drops the cart's active coupon
func (c *Client) ClearAppliedCoupon(ctx context.Context, userID int64) error {
	return c.rdb.Del(ctx, couponKey(userID)).Err()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey returns the value stored under an idempotency key
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	value, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// AcquireLock acquires a distributed lock and returns the owner token
// needed to release it
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if token still owns it. A lock
// that expired and was taken by someone else is left alone.
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	return c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Err()
}
