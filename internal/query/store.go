package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	storePrefix       = "query"
	invalidateChannel = "query.invalidate"
)

// Store is a cache shared between server instances. Values are versioned per
// resource kind so that bumping a kind orphans every value stored under it.
// Reads and writes name the version observed when the fetch started; a write
// for a version that has since been bumped is dropped.
type Store interface {
	Version(ctx context.Context, kind string) (int64, error)
	Get(ctx context.Context, key Key, version int64) ([]byte, bool, error)
	Set(ctx context.Context, key Key, version int64, value []byte) error
	Bump(ctx context.Context, kind string) error
}

// RedisStore implements Store on Redis and broadcasts bumps so peers
// invalidate their local entries.
type RedisStore struct {
	client   *redis.Client
	ttl      time.Duration
	instance string
}

// NewRedisStore instantiates the store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, instance: uuid.NewString()}
}

// Version returns the current version of kind. Missing versions read as 0.
func (s *RedisStore) Version(ctx context.Context, kind string) (int64, error) {
	if s == nil || s.client == nil {
		return 0, nil
	}
	ver, err := s.client.Get(ctx, versionKey(kind)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func dataKey(key Key, version int64) string {
	sum := sha256.Sum256([]byte(key.String()))
	return fmt.Sprintf("%s:data:%s:%d:%s", storePrefix, key.Kind(), version, hex.EncodeToString(sum[:12]))
}

// setIfVersion writes ARGV[2] to KEYS[2] only while KEYS[1] still holds the
// version ARGV[1]. ARGV[3] is the ttl in milliseconds, 0 for none.
var setIfVersion = redis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// Get loads the value stored for key under version.
func (s *RedisStore) Get(ctx context.Context, key Key, version int64) ([]byte, bool, error) {
	if s == nil || s.client == nil {
		return nil, false, nil
	}
	payload, err := s.client.Get(ctx, dataKey(key, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Set stores a value under version unless the kind has been bumped past it.
func (s *RedisStore) Set(ctx context.Context, key Key, version int64, value []byte) error {
	if s == nil || s.client == nil {
		return nil
	}
	keys := []string{versionKey(key.Kind()), dataKey(key, version)}
	return setIfVersion.Run(ctx, s.client, keys, strconv.FormatInt(version, 10), value, s.ttl.Milliseconds()).Err()
}

// Bump increments the version of kind and publishes the invalidation.
func (s *RedisStore) Bump(ctx context.Context, kind string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Incr(ctx, versionKey(kind)).Err(); err != nil {
		return err
	}
	return s.client.Publish(ctx, invalidateChannel, s.instance+"|"+kind).Err()
}

// Listen invalidates local entries of c whenever another instance bumps a
// kind. It returns once the subscription is established.
func (s *RedisStore) Listen(ctx context.Context, c *Client) error {
	if s == nil || s.client == nil {
		return nil
	}
	pubsub := s.client.Subscribe(ctx, invalidateChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				origin, kind, found := strings.Cut(msg.Payload, "|")
				if !found || origin == s.instance || kind == "" {
					continue
				}
				c.invalidateLocal(Key{kind})
			}
		}
	}()
	return nil
}

func versionKey(kind string) string {
	return storePrefix + ":version:" + kind
}
