package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KVClient defines the interface for remote key-value operations to enable mocking
type KVClient interface {
	// Get returns the value at key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value at key with a TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Ping checks if the store is reachable
	Ping(ctx context.Context) error

	// Close closes the connection
	Close() error
}

// RealKVClient wraps the go-redis client
type RealKVClient struct {
	client *redis.Client
}

// NewKVClient creates a new Redis-backed key-value client
func NewKVClient(addr, password string, db int) KVClient {
	return &RealKVClient{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (r *RealKVClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RealKVClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RealKVClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RealKVClient) Close() error {
	return r.client.Close()
}
