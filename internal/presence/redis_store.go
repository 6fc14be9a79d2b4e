package presence

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore mirrors registry liveness into Redis so dashboards and the
// analytics services can see which devices are online without talking to the
// gateway. Keys expire on their own, so a crashed gateway leaves no device
// stuck online.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("could not connect to Redis: %w", err)
	}

	log.Println("Connected to Redis successfully!")
	return &RedisStore{client: client}, nil
}

func statusKey(deviceID string) string {
	return fmt.Sprintf("device:%s:status", deviceID)
}

// SetOnline marks the device online for at most ttl.
func (s *RedisStore) SetOnline(ctx context.Context, deviceID string, ttl time.Duration) error {
	return s.client.Set(ctx, statusKey(deviceID), "online", ttl).Err()
}

// SetOffline removes the device's presence key.
func (s *RedisStore) SetOffline(ctx context.Context, deviceID string) error {
	return s.client.Del(ctx, statusKey(deviceID)).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
