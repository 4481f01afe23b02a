// Redis-backed checkpoint persistence for shared multi-worker runs.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis checkpoint backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all checkpoint keys
	Prefix string

	// TTL is the time-to-live for checkpoint keys (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	// PoolSize is the maximum number of connections
	PoolSize int

	// MinIdleConns is the minimum number of idle connections
	MinIdleConns int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:      address,
		Prefix:       "combatscribe:checkpoints:",
		TTL:          24 * time.Hour,
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisBackend stores checkpoints in Redis for low-latency shared access.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend creates a new Redis checkpoint backend.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBackend{
		cfg:    cfg,
		client: client,
	}, nil
}

// key returns the Redis key for a run id.
func (b *RedisBackend) key(runID string) string {
	return b.cfg.Prefix + runID
}

// dirIndexKey returns the key for the triple-directory index.
func (b *RedisBackend) dirIndexKey(tripleDir string) string {
	return b.cfg.Prefix + "index:dir:" + sanitizeKey(tripleDir)
}

// incompleteSetKey returns the key for the incomplete checkpoints set.
func (b *RedisBackend) incompleteSetKey() string {
	return b.cfg.Prefix + "incomplete"
}

// sanitizeKey removes characters that may cause issues in Redis keys.
func sanitizeKey(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// Save persists a checkpoint to Redis.
func (b *RedisBackend) Save(ctx context.Context, cp *Checkpoint) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	// Use pipeline for atomic operations
	pipe := b.client.Pipeline()

	// Set the checkpoint data
	if b.cfg.TTL > 0 {
		pipe.Set(ctx, b.key(cp.RunID), data, b.cfg.TTL)
	} else {
		pipe.Set(ctx, b.key(cp.RunID), data, 0)
	}

	// Update triple-directory index
	pipe.Set(ctx, b.dirIndexKey(cp.TripleDir), cp.RunID, b.cfg.TTL)

	// Update incomplete set
	if cp.Phase != "complete" {
		pipe.SAdd(ctx, b.incompleteSetKey(), cp.RunID)
	} else {
		pipe.SRem(ctx, b.incompleteSetKey(), cp.RunID)
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint to Redis: %w", err)
	}

	return nil
}

// Load retrieves a checkpoint from Redis.
func (b *RedisBackend) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.key(runID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to load checkpoint from Redis: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if cp.Sessions == nil {
		cp.Sessions = make(map[string]*SessionResult)
	}

	return &cp, nil
}

// Delete removes a checkpoint from Redis.
func (b *RedisBackend) Delete(ctx context.Context, runID string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	// First load to get the triple dir for index cleanup
	cp, err := b.Load(ctx, runID)
	if err != nil && err != os.ErrNotExist {
		return err
	}

	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.key(runID))
	pipe.SRem(ctx, b.incompleteSetKey(), runID)
	if cp != nil {
		pipe.Del(ctx, b.dirIndexKey(cp.TripleDir))
	}

	_, err = pipe.Exec(ctx)
	return err
}

// ListIncomplete returns all checkpoints that haven't completed.
func (b *RedisBackend) ListIncomplete(ctx context.Context) ([]*Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	ids, err := b.client.SMembers(ctx, b.incompleteSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get incomplete checkpoints: %w", err)
	}

	var checkpoints []*Checkpoint
	for _, id := range ids {
		cp, err := b.Load(ctx, id)
		if err != nil {
			// Remove stale entries
			b.client.SRem(ctx, b.incompleteSetKey(), id)
			continue
		}
		if cp.Phase != "complete" {
			checkpoints = append(checkpoints, cp)
		} else {
			b.client.SRem(ctx, b.incompleteSetKey(), id)
		}
	}

	return checkpoints, nil
}

// FindByTripleDir finds an incomplete checkpoint for a triple directory.
func (b *RedisBackend) FindByTripleDir(ctx context.Context, tripleDir string) (*Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	runID, err := b.client.Get(ctx, b.dirIndexKey(tripleDir)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to find checkpoint by triple dir: %w", err)
	}

	cp, err := b.Load(ctx, runID)
	if err != nil {
		return nil, err
	}

	if cp.Phase == "complete" {
		return nil, os.ErrNotExist
	}

	return cp, nil
}

// Name returns "redis".
func (b *RedisBackend) Name() string {
	return "redis"
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// --- Distributed Locking for Multi-Worker Support ---

// ErrSessionLocked reports that another worker holds a session's lock.
var ErrSessionLocked = errors.New("session lock already held")

// SessionLock fences one session within a shared run.
type SessionLock interface {
	// Release drops the lock if this holder still owns it.
	Release(ctx context.Context) error
	// Extend renews the lock TTL while a long session is processing.
	Extend(ctx context.Context) error
}

// Lock is the Redis implementation of SessionLock.
type Lock struct {
	backend *RedisBackend
	key     string
	value   string
	ttl     time.Duration
}

// AcquireLock attempts to acquire a distributed lock for a session so
// concurrent workers sharing a run never process the same session twice.
// Returns ErrSessionLocked when another worker already holds it.
func (b *RedisBackend) AcquireLock(ctx context.Context, sessionID string, ttl time.Duration) (SessionLock, error) {
	lockKey := b.cfg.Prefix + "lock:" + sessionID
	lockValue := fmt.Sprintf("%d", time.Now().UnixNano())

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	// Try to acquire lock with SET NX EX
	ok, err := b.client.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrSessionLocked
	}

	return &Lock{
		backend: b,
		key:     lockKey,
		value:   lockValue,
		ttl:     ttl,
	}, nil
}

// Release releases the distributed lock.
func (l *Lock) Release(ctx context.Context) error {
	// Use Lua script to ensure we only release our own lock
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	_, err := script.Run(ctx, l.backend.client, []string{l.key}, l.value).Result()
	return err
}

// Extend extends the lock TTL.
func (l *Lock) Extend(ctx context.Context) error {
	// Use Lua script to extend only our own lock
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)

	ttlMs := l.ttl.Milliseconds()
	result, err := script.Run(ctx, l.backend.client, []string{l.key}, l.value, ttlMs).Int()
	if err != nil {
		return err
	}
	if result == 0 {
		return fmt.Errorf("lock no longer held")
	}
	return nil
}
