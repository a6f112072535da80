// Package store implements the Store (spec §2, §6): a shared key-value
// store with expiring locks, pub/sub channels, and atomic set/delete,
// backed by github.com/go-redis/redis/v8. The transaction idiom (TxPipeline,
// HSet/Del batches) is grounded on the teacher's sonic.ConfigDBClient
// (pipeline.go, configdb.go), generalized here from "write rows to a
// device's CONFIG_DB" to "write lock/queue/task bookkeeping to a shared
// Store".
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrLockBusy is returned by Acquire when the named lock is already held.
var ErrLockBusy = errors.New("store: lock busy")

// Store wraps a Redis client with the primitives the Task Fabric,
// Reconciler, and Config Generator need.
type Store struct {
	client *redis.Client
}

// New wraps an existing *redis.Client.
func New(client *redis.Client) *Store { return &Store{client: client} }

// Dial connects to addr (host:port) and returns a Store.
func Dial(ctx context.Context, addr string, db int) (*Store, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: connect to %s: %w", addr, err)
	}
	return New(c), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.client.Close() }

// LockHandle is returned by Acquire; the caller must Release it (or let it
// auto-expire) per spec §4.1.
type LockHandle struct {
	Name  string
	Token string
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Acquire attempts to take the named lock with a mandatory auto-release
// TTL. Acquisition fails with ErrLockBusy if already held — a transient,
// retriable condition per spec §7.
func (s *Store) Acquire(ctx context.Context, name string, autoRelease time.Duration) (*LockHandle, error) {
	if autoRelease <= 0 {
		return nil, fmt.Errorf("store: lock %q requires a finite auto-release", name)
	}
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	ok, err := s.client.SetNX(ctx, lockKey(name), token, autoRelease).Result()
	if err != nil {
		return nil, fmt.Errorf("store: acquire %q: %w", name, err)
	}
	if !ok {
		return nil, ErrLockBusy
	}
	return &LockHandle{Name: name, Token: token}, nil
}

// Release drops the lock if still owned by this handle. Releasing a lock
// that has already expired (or was stolen) is a no-op, not an error.
func (s *Store) Release(ctx context.Context, h *LockHandle) error {
	_, err := releaseScript.Run(ctx, s.client, []string{lockKey(h.Name)}, h.Token).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("store: release %q: %w", h.Name, err)
	}
	return nil
}

// IsLocked reports whether the named lock is currently held, without
// acquiring it.
func (s *Store) IsLocked(ctx context.Context, name string) (bool, error) {
	n, err := s.client.Exists(ctx, lockKey(name)).Result()
	if err != nil {
		return false, fmt.Errorf("store: check lock %q: %w", name, err)
	}
	return n > 0, nil
}

func lockKey(name string) string { return "lock:" + name }

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Set writes a value with an optional TTL (ttl<=0 means no expiry).
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("store: set %q: %w", key, err)
	}
	return nil
}

// Get reads a value; returns ("", false, nil) if absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %q: %w", key, err)
	}
	return v, true, nil
}

// Delete removes a key. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

// Publish writes message onto channel.
func (s *Store) Publish(ctx context.Context, channel, message string) error {
	if err := s.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("store: publish %q: %w", channel, err)
	}
	return nil
}

// Subscribe returns a *redis.PubSub for channel; callers read via
// .Channel() or .ReceiveMessage(ctx).
func (s *Store) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return s.client.Subscribe(ctx, channel)
}

// Enqueue durably pushes a value onto a named queue (a Redis list).
func (s *Store) Enqueue(ctx context.Context, queue, value string) error {
	if err := s.client.LPush(ctx, queueKey(queue), value).Err(); err != nil {
		return fmt.Errorf("store: enqueue %q: %w", queue, err)
	}
	return nil
}

// Dequeue blocks up to timeout for a value on queue, returning ("", false,
// nil) on timeout.
func (s *Store) Dequeue(ctx context.Context, queue string, timeout time.Duration) (string, bool, error) {
	res, err := s.client.BRPop(ctx, timeout, queueKey(queue)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: dequeue %q: %w", queue, err)
	}
	// BRPop returns [key, value]
	return res[1], true, nil
}

func queueKey(queue string) string { return "queue:" + queue }

// HSetAll writes a hash atomically via a TxPipeline, mirroring the
// MULTI/EXEC batching in the teacher's PipelineSet.
func (s *Store) HSetAll(ctx context.Context, key string, fields map[string]string) error {
	pipe := s.client.TxPipeline()
	if len(fields) == 0 {
		pipe.HSet(ctx, key, "_", "_")
	} else {
		args := make([]interface{}, 0, len(fields)*2)
		for k, v := range fields {
			args = append(args, k, v)
		}
		pipe.HSet(ctx, key, args...)
	}
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return fmt.Errorf("store: hset %q: %w", key, err)
	}
	return nil
}

// HGetAll reads a hash back.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: hgetall %q: %w", key, err)
	}
	return m, nil
}
