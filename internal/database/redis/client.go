// Package redis keeps the miner's live state in Redis: the current job per
// ticker, accepted/rejected counters and a rolling hashrate window.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the miner
type Client struct {
	rdb *redis.Client
	now func() time.Time
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient parses cfg.URL, connects and pings the server
func NewClient(cfg *Config) (*Client, error) {
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb, now: time.Now}, nil
}

// Options converts cfg into go-redis options. Zero values keep the
// defaults from the URL.
func Options(cfg *Config) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Keys

// JobKey is where the current job for a ticker is stored
func JobKey(ticker string) string {
	return fmt.Sprintf("job:%s", ticker)
}

// CounterKey names a share counter, e.g. shares:PEPE:1A1z...:accepted
func CounterKey(ticker, miner, status string) string {
	return fmt.Sprintf("shares:%s:%s:%s", ticker, miner, status)
}

// HashrateKey names the sorted set holding recent hashrate samples
func HashrateKey(ticker, miner string) string {
	return fmt.Sprintf("hashrate:%s:%s", ticker, miner)
}

// Job management

// SetCurrentJob stores the current job for a ticker
func (c *Client) SetCurrentJob(ctx context.Context, ticker string, jobData any) error {
	jsonData, err := json.Marshal(jobData)
	if err != nil {
		return fmt.Errorf("failed to marshal job data: %w", err)
	}

	if err := c.rdb.Set(ctx, JobKey(ticker), jsonData, 0).Err(); err != nil {
		return fmt.Errorf("failed to set current job: %w", err)
	}

	return nil
}

// GetCurrentJob retrieves the current job for a ticker
func (c *Client) GetCurrentJob(ctx context.Context, ticker string, dest any) error {
	jsonData, err := c.rdb.Get(ctx, JobKey(ticker)).Result()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("no current job")
		}
		return fmt.Errorf("failed to get current job: %w", err)
	}

	if err := json.Unmarshal([]byte(jsonData), dest); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	return nil
}

// Statistics and counters

// IncrementCounter increments a counter and refreshes its expiration.
// A zero expiration keeps the counter forever.
func (c *Client) IncrementCounter(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	if expiration > 0 {
		pipe.Expire(ctx, key, expiration)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return incrCmd.Val(), nil
}

// GetCounter retrieves a counter value
func (c *Client) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return val, nil
}

// SetHashrate adds a hashrate sample and trims samples older than window
func (c *Client) SetHashrate(ctx context.Context, ticker, miner string, hashrate float64, window time.Duration) error {
	key := HashrateKey(ticker, miner)
	now := c.now()

	member := &redis.Z{
		Score:  float64(now.Unix()),
		Member: HashrateMember(now, hashrate),
	}

	pipe := c.rdb.Pipeline()
	pipe.ZAdd(ctx, key, *member)
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.Unix()-int64(window.Seconds()), 10))
	pipe.Expire(ctx, key, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set hashrate: %w", err)
	}

	return nil
}

// GetAverageHashrate averages the samples recorded within window
func (c *Client) GetAverageHashrate(ctx context.Context, ticker, miner string, window time.Duration) (float64, error) {
	minScore := c.now().Add(-window).Unix()

	values, err := c.rdb.ZRangeByScore(ctx, HashrateKey(ticker, miner), &redis.ZRangeBy{
		Min: strconv.FormatInt(minScore, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get hashrate values: %w", err)
	}

	return AverageHashrate(values), nil
}

// HashrateMember encodes a sample so equal rates at different times stay
// distinct members of the sorted set
func HashrateMember(at time.Time, hashrate float64) string {
	return strconv.FormatInt(at.UnixNano(), 10) + ":" + strconv.FormatFloat(hashrate, 'f', -1, 64)
}

// AverageHashrate averages members written by HashrateMember, skipping
// anything malformed
func AverageHashrate(members []string) float64 {
	var total float64
	var n int
	for _, m := range members {
		_, raw, ok := strings.Cut(m, ":")
		if !ok {
			continue
		}
		hashrate, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		total += hashrate
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}
