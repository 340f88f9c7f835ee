// Package pool implements the warmup pool (C4): a background-maintained
// stock of pre-created, READY sandboxes per (image, spec) key, so a
// caller that needs a sandbox with a common spec gets one immediately
// instead of waiting out a full Create+Start+wait-until-alive cycle.
//
// Grounded on the ghostpool PoolManager pattern (channel-backed idle
// queue + active map + background maintenance loop), generalized from a
// single pool to one pool per spec key and from a fixed scrub script to
// driver.Stop/Create.
package pool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/akshayaggarwal99/boxed/internal/driver"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Config tunes pool behavior, sourced from internal/config.
type Config struct {
	TargetSize         int
	MaxConcurrentBuild int64
	MaxIdleDuration    time.Duration
	MaintainInterval   time.Duration
	MaxBackoff         time.Duration
}

func DefaultConfig() Config {
	return Config{
		TargetSize:         2,
		MaxConcurrentBuild: 4,
		MaxIdleDuration:    10 * time.Minute,
		MaintainInterval:   2 * time.Second,
		MaxBackoff:         30 * time.Second,
	}
}

// entry is one idle, pre-built sandbox waiting to be claimed.
type entry struct {
	id        string
	idleSince time.Time
}

// keyPool is the per-spec idle queue the ghostpool design keeps as one
// flat struct; here it is instantiated once per distinct spec key rather
// than once per process.
type keyPool struct {
	spec      driver.SandboxSpec
	available chan entry
	active    map[string]bool
	mu        sync.Mutex
}

// Pool implements driver.PooledDriver by delegating the underlying
// container lifecycle to an inner driver.Driver and layering warm-pool
// bookkeeping, keyed by a hash of each SandboxSpec, on top.
type Pool struct {
	inner driver.Driver
	cfg   Config
	sem   *semaphore.Weighted

	mu    sync.Mutex
	pools map[string]*keyPool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(inner driver.Driver, cfg Config) *Pool {
	return &Pool{
		inner:  inner,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrentBuild),
		pools:  make(map[string]*keyPool),
		stopCh: make(chan struct{}),
	}
}

// specKey hashes the parts of a spec that make two sandboxes
// interchangeable from the pool's perspective. Labels are excluded since
// they're caller-supplied metadata, not part of the container shape.
func specKey(spec driver.SandboxSpec) string {
	norm := struct {
		Image   string
		CPUs    float64
		Memory  int64
		WorkDir string
	}{spec.Image, spec.CPUs, spec.MemoryBytes, spec.WorkDir}
	data, _ := json.Marshal(norm)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func (p *Pool) keyPoolFor(spec driver.SandboxSpec) *keyPool {
	key := specKey(spec)
	p.mu.Lock()
	defer p.mu.Unlock()
	kp, ok := p.pools[key]
	if !ok {
		kp = &keyPool{
			spec:      spec,
			available: make(chan entry, p.cfg.TargetSize*2),
			active:    make(map[string]bool),
		}
		p.pools[key] = kp
		p.wg.Add(1)
		go p.maintain(key, kp)
	}
	return kp
}

// maintain runs for the lifetime of the pool, topping up a key's idle
// queue up to TargetSize with bounded concurrency and exponential-backoff
// retries on build failure, and retiring entries that have sat idle past
// MaxIdleDuration.
func (p *Pool) maintain(key string, kp *keyPool) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.MaintainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.retireIdle(kp)
			p.topUp(key, kp)
		}
	}
}

func (p *Pool) retireIdle(kp *keyPool) {
	kp.mu.Lock()
	n := len(kp.available)
	kp.mu.Unlock()

	for i := 0; i < n; i++ {
		select {
		case e := <-kp.available:
			if time.Since(e.idleSince) > p.cfg.MaxIdleDuration {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := p.inner.Stop(ctx, e.id); err != nil {
					log.Warn().Err(err).Str("sandbox_id", e.id).Msg("failed to retire idle pooled sandbox")
				}
				cancel()
				continue
			}
			kp.available <- e
		default:
			return
		}
	}
}

func (p *Pool) topUp(key string, kp *keyPool) {
	kp.mu.Lock()
	deficit := p.cfg.TargetSize - len(kp.available)
	kp.mu.Unlock()

	for i := 0; i < deficit; i++ {
		if !p.sem.TryAcquire(1) {
			return
		}
		go func() {
			defer p.sem.Release(1)
			p.buildWithBackoff(kp)
		}()
	}
}

func (p *Pool) buildWithBackoff(kp *keyPool) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = p.cfg.MaxBackoff

	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		id, err := p.buildOne(ctx, kp.spec)
		if err != nil {
			return err
		}
		select {
		case kp.available <- entry{id: id, idleSince: time.Now()}:
		default:
			p.inner.Stop(ctx, id)
		}
		return nil
	}, b)
	if err != nil {
		log.Warn().Err(err).Msg("pool build retries exhausted")
	}
}

func (p *Pool) buildOne(ctx context.Context, spec driver.SandboxSpec) (string, error) {
	id, err := p.inner.Create(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("create pooled sandbox: %w", err)
	}
	if err := p.inner.Start(ctx, id); err != nil {
		p.inner.Stop(ctx, id)
		return "", fmt.Errorf("start pooled sandbox: %w", err)
	}
	return id, nil
}

// WarmUp blocks until count additional idle sandboxes exist for spec (on
// top of whatever the background loop already built).
func (p *Pool) WarmUp(ctx context.Context, spec driver.SandboxSpec, count int) ([]string, error) {
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if !p.sem.TryAcquire(1) {
			if err := p.sem.Acquire(ctx, 1); err != nil {
				return ids, err
			}
		}
		id, err := p.buildOne(ctx, spec)
		p.sem.Release(1)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
		kp := p.keyPoolFor(spec)
		select {
		case kp.available <- entry{id: id, idleSince: time.Now()}:
		default:
		}
	}
	return ids, nil
}

// Claim hands off a pre-warmed sandbox if one is idle, or synchronously
// builds one on a pool miss.
func (p *Pool) Claim(ctx context.Context, spec driver.SandboxSpec) (string, error) {
	kp := p.keyPoolFor(spec)

	select {
	case e := <-kp.available:
		kp.mu.Lock()
		kp.active[e.id] = true
		kp.mu.Unlock()
		return e.id, nil
	default:
	}

	id, err := p.buildOne(ctx, spec)
	if err != nil {
		return "", err
	}
	kp.mu.Lock()
	kp.active[id] = true
	kp.mu.Unlock()
	return id, nil
}

// PoolStatus reports current occupancy for spec's key.
func (p *Pool) PoolStatus(ctx context.Context, spec driver.SandboxSpec) (*driver.PoolStats, error) {
	kp := p.keyPoolFor(spec)
	kp.mu.Lock()
	defer kp.mu.Unlock()
	avail := len(kp.available)
	inUse := len(kp.active)
	return &driver.PoolStats{
		Available: avail,
		InUse:     inUse,
		Total:     avail + inUse,
		Target:    p.cfg.TargetSize,
	}, nil
}

// Stop removes id from its pool's active set if it was claimed via Claim,
// then stops it on the inner driver in every case. A stopped sandbox is
// never returned to the idle queue.
func (p *Pool) Stop(ctx context.Context, id string) error {
	p.mu.Lock()
	for _, kp := range p.pools {
		kp.mu.Lock()
		if kp.active[id] {
			delete(kp.active, id)
			kp.mu.Unlock()
			p.mu.Unlock()
			return p.inner.Stop(ctx, id)
		}
		kp.mu.Unlock()
	}
	p.mu.Unlock()
	return p.inner.Stop(ctx, id)
}

// Shutdown stops the background maintenance goroutines. It does not tear
// down already-built sandboxes.
func (p *Pool) Shutdown() {
	close(p.stopCh)
	p.wg.Wait()
}

// The remaining Driver methods pass straight through to the inner driver,
// except Create, which claims via Claim, and Start, which is a no-op since
// buildOne already started every sandbox Claim hands out.

func (p *Pool) Create(ctx context.Context, spec driver.SandboxSpec) (string, error) {
	return p.Claim(ctx, spec)
}

func (p *Pool) Start(ctx context.Context, id string) error {
	return nil // already started by buildOne when pooled
}

func (p *Pool) Connect(ctx context.Context, id string, shell string) (io.ReadWriteCloser, error) {
	return p.inner.Connect(ctx, id, shell)
}

func (p *Pool) Exec(ctx context.Context, id string, cmd []string) (string, int, error) {
	return p.inner.Exec(ctx, id, cmd)
}

func (p *Pool) PortMapping(ctx context.Context, id string) (map[int]int, error) {
	return p.inner.PortMapping(ctx, id)
}

func (p *Pool) ListFiles(ctx context.Context, id, path string) ([]*driver.FileEntry, error) {
	return p.inner.ListFiles(ctx, id, path)
}

func (p *Pool) PutFile(ctx context.Context, id, path string, content io.Reader) error {
	return p.inner.PutFile(ctx, id, path, content)
}

func (p *Pool) GetFile(ctx context.Context, id, path string) (io.ReadCloser, error) {
	return p.inner.GetFile(ctx, id, path)
}

func (p *Pool) Info(ctx context.Context, id string) (*driver.SandboxInfo, error) {
	return p.inner.Info(ctx, id)
}

func (p *Pool) List(ctx context.Context, states []driver.SandboxState) ([]*driver.SandboxInfo, error) {
	return p.inner.List(ctx, states)
}

func (p *Pool) DriverName() string { return "pool(" + p.inner.DriverName() + ")" }

func (p *Pool) Healthy(ctx context.Context) error { return p.inner.Healthy(ctx) }

func (p *Pool) Close() error {
	p.Shutdown()
	return p.inner.Close()
}
