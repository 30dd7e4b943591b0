package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "mycroft:identity"

// RedisBackend stores the identity as one JSON value under a single key; SET
// replaces it atomically.
type RedisBackend struct {
	rc  redis.Cmdable
	key string
}

func NewRedisBackend(rc redis.Cmdable, key string) (*RedisBackend, error) {
	if rc == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	if key == "" {
		key = DefaultRedisKey
	}

	return &RedisBackend{rc: rc, key: key}, nil
}

func (b *RedisBackend) Load(ctx context.Context) (Identity, error) {
	data, err := b.rc.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Identity{}, nil
	} else if err != nil {
		return Identity{}, err
	}

	var id Identity

	err = json.Unmarshal(data, &id)
	if err != nil {
		return Identity{}, fmt.Errorf("decoding %s: %w", b.key, err)
	}

	return id, nil
}

func (b *RedisBackend) Save(ctx context.Context, id Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}

	return b.rc.Set(ctx, b.key, data, 0).Err()
}
