// Package coord wraps the shared Redis coordination store.
//
// Rate counters, message queues, session state, and assignment locks all live
// here so that every service instance observes the same state. Callers are
// expected to degrade gracefully when the store is unreachable (fail-open).
package coord

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/logging"
)

// Client wraps a Redis connection with an availability flag.
type Client struct {
	rdb       *redis.Client
	log       *logging.Logger
	available atomic.Bool
}

// Connect creates a Redis client and verifies the connection with a ping.
func Connect(cfg config.RedisConfig, log *logging.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis connection test failed: %w", err)
	}

	c := &Client{rdb: rdb, log: log.Sub("coord")}
	c.available.Store(true)
	c.log.Info().Str("addr", cfg.Addr).Msg("connected to coordination store")
	return c, nil
}

// Redis returns the underlying client for direct commands.
func (c *Client) Redis() *redis.Client { return c.rdb }

// Available reports whether the store answered its last health probe.
func (c *Client) Available() bool { return c.available.Load() }

// MarkUnavailable records a failed operation. The next successful probe
// clears the flag.
func (c *Client) MarkUnavailable(err error) {
	if c.available.CompareAndSwap(true, false) {
		c.log.Warn().Err(err).Msg("coordination store unavailable, degrading to direct processing")
	}
}

// Probe pings the store and updates the availability flag.
func (c *Client) Probe(ctx context.Context) bool {
	if _, err := c.rdb.Ping(ctx).Result(); err != nil {
		c.available.Store(false)
		return false
	}
	if c.available.CompareAndSwap(false, true) {
		c.log.Info().Msg("coordination store recovered")
	}
	return true
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
