// Package registry implements the sandbox registry (C3): the process-local
// map from sandbox id to its Actor, optionally mirrored into a shared
// cache so a read-role replica of the control plane can answer status
// queries about sandboxes owned by a different process. The shared cache
// is best-effort: a write failure is logged and otherwise ignored, and
// reads always fall back to the local map first.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/akshayaggarwal99/boxed/internal/actor"
	"github.com/akshayaggarwal99/boxed/internal/apierr"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// entryMeta is the shared-cache-visible projection of one actor, written
// best-effort whenever a local actor is registered or removed.
type entryMeta struct {
	SandboxID string    `json:"sandbox_id"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cache is the shared keyed store backing cross-process sandbox lookups.
// *redis.Client satisfies this directly.
type Cache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

// redisCache adapts *redis.Client to Cache.
type redisCache struct{ rdb *redis.Client }

func NewRedisCache(rdb *redis.Client) Cache { return &redisCache{rdb: rdb} }

func (c *redisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

func (c *redisCache) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

func (c *redisCache) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

const cacheKeyPrefix = "sandbox:"
const cacheTTL = 24 * time.Hour

// lockSet is a per-sandbox-id set of non-reentrant mutexes guarding mutating
// operations (internal/api takes it for stop, create_session,
// close_session, write_file and upload), so two concurrent requests against
// the same sandbox id serialize instead of racing the driver.
type lockSet struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockSet() *lockSet { return &lockSet{locks: make(map[string]*sync.Mutex)} }

func (l *lockSet) get(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// Registry is the process-local sandbox directory.
type Registry struct {
	mu     sync.RWMutex
	actors map[string]*actor.Actor
	cache  Cache
	locks  *lockSet
}

func New(cache Cache) *Registry {
	return &Registry{
		actors: make(map[string]*actor.Actor),
		cache:  cache,
		locks:  newLockSet(),
	}
}

// Lock returns the per-sandbox-id mutex for mutating operations. Callers
// must Unlock it. Reads (Get) do not need this lock.
func (r *Registry) Lock(id string) func() {
	m := r.locks.get(id)
	m.Lock()
	return m.Unlock
}

// Register adds act to the local map and mirrors its state to the shared
// cache, if configured.
func (r *Registry) Register(ctx context.Context, act *actor.Actor) {
	r.mu.Lock()
	r.actors[act.ID()] = act
	r.mu.Unlock()
	r.mirror(ctx, act)
}

// Get returns the locally registered actor for id, or ErrNotFound. Unlike
// the Python original's global dict, a miss here does NOT consult the
// shared cache — the cache only carries enough metadata for a read-role
// status query (see Lookup), never a live Actor, since an Actor handle is
// only meaningful inside the process whose driver created it.
func (r *Registry) Get(id string) (*actor.Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	act, ok := r.actors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apierr.ErrNotFound, id)
	}
	return act, nil
}

// Remove deletes id from the local map and best-effort evicts it from the
// shared cache.
func (r *Registry) Remove(ctx context.Context, id string) {
	r.mu.Lock()
	delete(r.actors, id)
	r.mu.Unlock()
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, cacheKeyPrefix+id); err != nil {
		log.Warn().Err(err).Str("sandbox_id", id).Msg("failed to evict sandbox from shared cache")
	}
}

// List returns all locally registered actors. A read-role replica with no
// local actors will return an empty list; it serves status purely from
// internal/status's persisted documents instead.
func (r *Registry) List() []*actor.Actor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*actor.Actor, 0, len(r.actors))
	for _, act := range r.actors {
		out = append(out, act)
	}
	return out
}

// Lookup reports whether id is known to the shared cache, for a read-role
// process that does not own the actor locally. It does not reconstruct an
// Actor — only enough to say "yes, some writer process has this sandbox".
func (r *Registry) Lookup(ctx context.Context, id string) (bool, error) {
	if _, err := r.Get(id); err == nil {
		return true, nil
	}
	if r.cache == nil {
		return false, nil
	}
	_, err := r.cache.Get(ctx, cacheKeyPrefix+id)
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("sandbox_id", id).Msg("shared cache lookup failed")
		return false, nil
	}
	return true, nil
}

func (r *Registry) mirror(ctx context.Context, act *actor.Actor) {
	if r.cache == nil {
		return
	}
	meta := entryMeta{SandboxID: act.ID(), State: string(act.State()), UpdatedAt: time.Now()}
	if err := r.cache.Set(ctx, cacheKeyPrefix+act.ID(), meta, cacheTTL); err != nil {
		log.Warn().Err(err).Str("sandbox_id", act.ID()).Msg("failed to mirror sandbox to shared cache")
	}
}
