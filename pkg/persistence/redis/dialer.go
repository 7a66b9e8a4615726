package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultPingTimeout = 5 * time.Second
)

// Client is the subset of the go-redis command surface the adapter needs.
// *redis.Client satisfies it.
type Client interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HExists(ctx context.Context, key, field string) *redis.BoolCmd
	HKeys(ctx context.Context, key string) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Dialer is the connection factory an adapter is bound to at construction.
// Every Dial returns a new, verified connection owned by the caller.
type Dialer interface {
	Dial(ctx context.Context) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Client, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Client, error) {
	return f(ctx)
}

// Config holds Redis connection configuration.
type Config struct {
	// URL is a redis:// or rediss:// URL, credentials and database included.
	URL string
	// Prefix is prepended to every partition name.
	Prefix       string
	MaxConns     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// PingTimeout bounds the PING that verifies a fresh connection.
	PingTimeout time.Duration
}

func (c *Config) normalize() {
	c.URL = strings.TrimSpace(c.URL)
	c.Prefix = strings.TrimSpace(c.Prefix)
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = defaultPingTimeout
	}
}

type urlDialer struct {
	opts        *redis.Options
	pingTimeout time.Duration
}

// NewDialer parses cfg.URL once and returns a Dialer producing *redis.Client
// connections for that endpoint.
func NewDialer(cfg Config) (Dialer, error) {
	cfg.normalize()
	if cfg.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	opts.DialTimeout = cfg.DialTimeout
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	return &urlDialer{opts: opts, pingTimeout: cfg.PingTimeout}, nil
}

// Dial creates a client and verifies it with PING. The client is closed when
// verification fails.
func (d *urlDialer) Dial(ctx context.Context) (Client, error) {
	opts := *d.opts
	client := redis.NewClient(&opts)

	pingCtx, cancel := context.WithTimeout(ctx, d.pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
