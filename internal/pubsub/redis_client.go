package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohamedkhairy/chat-server/internal/config"
	"github.com/mohamedkhairy/chat-server/internal/storage"
	"github.com/mohamedkhairy/chat-server/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// PresenceClient implements storage.RedisClient on top of go-redis
type PresenceClient struct {
	rdb *redis.Client
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(cfg config.RedisConfig) (storage.RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
		logger.Int("db", cfg.DB),
	)

	return NewPresenceClient(rdb), nil
}

// NewPresenceClient wraps an existing go-redis client
func NewPresenceClient(rdb *redis.Client) *PresenceClient {
	return &PresenceClient{rdb: rdb}
}

// UpdatePresence adds or removes the member and publishes the payload in a
// single MULTI/EXEC, so subscribers never observe an announcement that the
// set does not reflect.
func (c *PresenceClient) UpdatePresence(ctx context.Context, update storage.PresenceUpdate) error {
	var payload []byte
	if update.Channel != "" {
		var err error
		payload, err = json.Marshal(update.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal presence payload: %w", err)
		}
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if update.Online {
			pipe.SAdd(ctx, update.SetKey, update.Member)
		} else {
			pipe.SRem(ctx, update.SetKey, update.Member)
		}
		if update.Channel != "" {
			pipe.Publish(ctx, update.Channel, payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update presence of %s: %w", update.Member, err)
	}
	return nil
}

// SetMembers lists a set
func (c *PresenceClient) SetMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

// SetIsMember checks set membership
func (c *PresenceClient) SetIsMember(ctx context.Context, key string, member string) (bool, error) {
	return c.rdb.SIsMember(ctx, key, member).Result()
}

// Delete removes a key
func (c *PresenceClient) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *PresenceClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *PresenceClient) Close() error {
	return c.rdb.Close()
}
