package pool

import (
	"context"
	"testing"
	"time"

	"github.com/akshayaggarwal99/boxed/internal/driver"
	"github.com/akshayaggarwal99/boxed/internal/driver/fakedriver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		TargetSize:         2,
		MaxConcurrentBuild: 4,
		MaxIdleDuration:    time.Minute,
		MaintainInterval:   20 * time.Millisecond,
		MaxBackoff:         200 * time.Millisecond,
	}
}

func TestClaimBuildsSynchronouslyOnPoolMiss(t *testing.T) {
	p := New(fakedriver.New(), testConfig())
	defer p.Shutdown()

	spec := driver.SandboxSpec{Image: "python:3.10-slim", CPUs: 1, MemoryBytes: 256 << 20}
	id, err := p.Claim(context.Background(), spec)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestMaintainFillsIdleQueueToTargetSize(t *testing.T) {
	p := New(fakedriver.New(), testConfig())
	defer p.Shutdown()

	spec := driver.SandboxSpec{Image: "python:3.10-slim", CPUs: 1, MemoryBytes: 256 << 20}
	// keyPoolFor starts the background maintain loop for this spec's key.
	p.keyPoolFor(spec)

	require.Eventually(t, func() bool {
		stats, err := p.PoolStatus(context.Background(), spec)
		return err == nil && stats.Available == testConfig().TargetSize
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopReturnsClaimedSandboxToInnerDriver(t *testing.T) {
	inner := fakedriver.New()
	p := New(inner, testConfig())
	defer p.Shutdown()

	spec := driver.SandboxSpec{Image: "python:3.10-slim", CPUs: 1, MemoryBytes: 256 << 20}
	id, err := p.Claim(context.Background(), spec)
	require.NoError(t, err)

	require.NoError(t, p.Stop(context.Background(), id))

	_, err = inner.Info(context.Background(), id)
	assert.ErrorIs(t, err, driver.ErrSandboxNotFound)
}
