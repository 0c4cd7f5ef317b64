package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Klingon-tech/hive-ledger-validator/internal/log"
)

// publisher is the part of *redis.Client the publisher needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisOptions configures the redis publisher.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Timeout  time.Duration
}

// RedisPublisher publishes a summary of every processed block to a redis
// pub/sub channel.
type RedisPublisher struct {
	client  publisher
	closer  func() error
	channel string
	timeout time.Duration
}

// blockSummary is the published message.
type blockSummary struct {
	Height uint64   `json:"block_num"`
	Hash   string   `json:"hash"`
	Head   uint64   `json:"head_block"`
	Events int      `json:"events"`
	Tables []string `json:"tables"`
}

// NewRedisPublisher connects to redis and checks the connection.
func NewRedisPublisher(ctx context.Context, opts RedisOptions) (*RedisPublisher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	log.Plugin.Info().Str("addr", opts.Addr).Str("channel", opts.Channel).Msg("Connected to redis")

	p := newRedisPublisher(rdb, opts.Channel, opts.Timeout)
	p.closer = rdb.Close
	return p, nil
}

func newRedisPublisher(client publisher, channel string, timeout time.Duration) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, timeout: timeout}
}

// Name implements Plugin.
func (p *RedisPublisher) Name() string { return "redis" }

// BeforeBlock implements Plugin.
func (p *RedisPublisher) BeforeBlock(uint64) error { return nil }

// AfterBlock publishes the block summary.
func (p *RedisPublisher) AfterBlock(ev BlockEvent) error {
	msg, err := json.Marshal(summarize(ev))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, msg).Err(); err != nil {
		return fmt.Errorf("publish block %d: %w", ev.Height, err)
	}
	return nil
}

// Close releases the connection.
func (p *RedisPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

func summarize(ev BlockEvent) blockSummary {
	s := blockSummary{Height: ev.Height, Hash: ev.Hash.String(), Head: ev.Head, Events: len(ev.Events), Tables: []string{}}
	seen := make(map[string]bool)
	for _, e := range ev.Events {
		if !seen[e.Table] {
			seen[e.Table] = true
			s.Tables = append(s.Tables, e.Table)
		}
	}
	return s
}
