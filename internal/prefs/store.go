// Package prefs persists small per-identity view preferences, such as the
// columns chosen for a table, scoped to an entity instance.
package prefs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound indicates no value is stored under the key.
var ErrNotFound = errors.New("prefs: not found")

// ErrInvalidScope indicates a scope or key with missing or reserved parts.
var ErrInvalidScope = errors.New("prefs: invalid scope")

const keyPrefix = "prefs"

// Scope addresses the preferences of one owner for one entity instance.
type Scope struct {
	Entity   string
	Instance string
	Owner    string
}

func (s Scope) key(name string) (string, error) {
	parts := []string{s.Owner, s.Entity, s.Instance, name}
	for _, p := range parts {
		if p == "" || strings.Contains(p, ":") {
			return "", ErrInvalidScope
		}
	}
	return keyPrefix + ":" + strings.Join(parts, ":"), nil
}

// Store keeps preferences in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore constructs a Store. A zero ttl keeps values indefinitely.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Get returns the stored value.
func (s *Store) Get(ctx context.Context, scope Scope, name string) ([]byte, error) {
	key, err := scope.key(name)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return raw, err
}

// Set stores value.
func (s *Store) Set(ctx context.Context, scope Scope, name string, value []byte) error {
	key, err := scope.key(name)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, value, s.ttl).Err()
}

// Delete removes the value. Deleting a missing value is not an error.
func (s *Store) Delete(ctx context.Context, scope Scope, name string) error {
	key, err := scope.key(name)
	if err != nil {
		return err
	}
	return s.client.Del(ctx, key).Err()
}
