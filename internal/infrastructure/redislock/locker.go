package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "stockkeeper:job-lock:"

// ErrNotAcquired is returned when another replica holds the lock.
var ErrNotAcquired = errors.New("job lock held by another instance")

// unlockScript deletes the key only if it still carries our token, so an
// expired lock taken over by another replica is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out SET NX PX locks so a scheduled job runs on one replica
// at a time. It satisfies gocron.Locker.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewLocker(client redis.UniversalClient, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl}
}

// NewClient connects to Redis and checks the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (l *Locker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring job lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &lock{client: l.client, key: keyPrefix + key, token: token}, nil
}

type lock struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *lock) Unlock(ctx context.Context) error {
	if err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("releasing job lock %s: %w", l.key, err)
	}
	return nil
}
