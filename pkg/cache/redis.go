// Package cache publishes finished cycles to redis for dashboards and the
// CLI.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	TTL         time.Duration
	PoolSize    int
	DialTimeout time.Duration
}

// RedisPublisher stores the latest cycle under <prefix>:<symbol>:snapshot
// and announces every cycle on <prefix>:<symbol>:cycles.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
	symbol string
	ttl    time.Duration
}

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, symbol string) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is empty")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	pctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewPublisher(client, cfg.Prefix, symbol, cfg.TTL), nil
}

// NewPublisher wraps an existing client.
func NewPublisher(client redis.UniversalClient, prefix, symbol string, ttl time.Duration) *RedisPublisher {
	if prefix == "" {
		prefix = "signal"
	}
	return &RedisPublisher{
		client: client,
		prefix: prefix,
		symbol: strings.ToUpper(symbol),
		ttl:    ttl,
	}
}

func (p *RedisPublisher) SnapshotKey() string { return p.wrapKey("snapshot") }

func (p *RedisPublisher) Channel() string { return p.wrapKey("cycles") }

func (p *RedisPublisher) wrapKey(key string) string {
	return fmt.Sprintf("%s:%s:%s", p.prefix, p.symbol, key)
}

// PublishCycle writes the report and its channel notification in one
// transaction.
func (p *RedisPublisher) PublishCycle(ctx context.Context, cycleID string, report any) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode cycle %s: %w", cycleID, err)
	}
	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.SnapshotKey(), data, p.ttl)
	pipe.Publish(ctx, p.Channel(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish cycle %s: %w", cycleID, err)
	}
	return nil
}

// Latest decodes the stored snapshot into dest.
func (p *RedisPublisher) Latest(ctx context.Context, dest any) error {
	data, err := p.client.Get(ctx, p.SnapshotKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

// Follow streams raw cycle payloads until ctx is done.
func (p *RedisPublisher) Follow(ctx context.Context) (<-chan []byte, error) {
	sub := p.client.Subscribe(ctx, p.Channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", p.Channel(), err)
	}
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *RedisPublisher) Close() error { return p.client.Close() }
