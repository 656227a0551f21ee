package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the exchange connection settings.
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisTransport implements Transport over Redis pub/sub. Routing keys
// map to channels and dot-segment wildcard patterns map to PSUBSCRIBE
// glob patterns, so "order.*" binds the way a topic exchange would.
type RedisTransport struct {
	cfg RedisConfig
}

func NewRedisTransport(cfg RedisConfig) *RedisTransport {
	return &RedisTransport{cfg: cfg}
}

func (t *RedisTransport) Dial(ctx context.Context) (Session, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         t.cfg.Address,
		Password:     t.cfg.Password,
		DB:           t.cfg.DB,
		PoolSize:     t.cfg.PoolSize,
		ReadTimeout:  t.cfg.ReadTimeout,
		WriteTimeout: t.cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to exchange: %w", err)
	}

	return &redisSession{client: client}, nil
}

type redisSession struct {
	client *redis.Client

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func (s *redisSession) Publish(ctx context.Context, routingKey string, body []byte) error {
	return s.client.Publish(ctx, routingKey, body).Err()
}

func (s *redisSession) Consume(ctx context.Context, patterns []string) (<-chan Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pubsub != nil {
		return nil, fmt.Errorf("session already consuming")
	}

	pubsub := s.client.PSubscribe(ctx, patterns...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to bind patterns: %w", err)
	}
	s.pubsub = pubsub

	deliveries := make(chan Delivery, 100)
	go func() {
		defer close(deliveries)
		for msg := range pubsub.Channel() {
			select {
			case deliveries <- Delivery{RoutingKey: msg.Channel, Body: []byte(msg.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return deliveries, nil
}

func (s *redisSession) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisSession) Close() error {
	s.mu.Lock()
	if s.pubsub != nil {
		s.pubsub.Close()
		s.pubsub = nil
	}
	s.mu.Unlock()
	return s.client.Close()
}
