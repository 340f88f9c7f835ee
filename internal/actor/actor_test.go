package actor

import (
	"context"
	"testing"
	"time"

	"github.com/akshayaggarwal99/boxed/internal/apierr"
	"github.com/akshayaggarwal99/boxed/internal/driver"
	"github.com/akshayaggarwal99/boxed/internal/driver/fakedriver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReadyActor(t *testing.T, drv *fakedriver.FakeDriver) *Actor {
	t.Helper()
	ctx := context.Background()
	id, err := drv.Create(ctx, driver.SandboxSpec{Image: "python:3.10-slim", CPUs: 1, MemoryBytes: 256 << 20})
	require.NoError(t, err)
	require.NoError(t, drv.Start(ctx, id))
	a := New(id, drv, "")
	require.NoError(t, a.WaitUntilAlive(ctx, time.Second, 10*time.Millisecond))
	return a
}

func TestActorRejectsOperationsUntilReady(t *testing.T) {
	drv := fakedriver.New()
	ctx := context.Background()
	id, err := drv.Create(ctx, driver.SandboxSpec{Image: "x", CPUs: 1, MemoryBytes: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, drv.Start(ctx, id))

	drv.SetExecFunc(func(string, []string) (string, int, error) { return "", 1, nil })
	a := New(id, drv, "")

	_, err = a.Execute(ctx, []string{"true"})
	assert.ErrorIs(t, err, apierr.ErrNotReady)
}

func TestActorExecuteAfterReady(t *testing.T) {
	drv := fakedriver.New()
	drv.SetExecFunc(func(id string, cmd []string) (string, int, error) {
		if len(cmd) > 0 && cmd[0] == "true" {
			return "", 0, nil
		}
		return "hello\n", 0, nil
	})
	a := newReadyActor(t, drv)

	resp, err := a.Execute(context.Background(), []string{"echo", "hello"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.ExitCode)
	assert.Equal(t, "hello\n", resp.Stdout)
}

func TestSessionLifecycle(t *testing.T) {
	drv := fakedriver.New()
	drv.SetExecFunc(func(id string, cmd []string) (string, int, error) { return "ok\n", 0, nil })
	a := newReadyActor(t, drv)
	ctx := context.Background()

	_, err := a.RunInSession(ctx, "missing", "echo hi")
	assert.Error(t, err)

	require.NoError(t, a.CreateSession(ctx, "s1", nil, ""))
	obs, err := a.RunInSession(ctx, "s1", "echo hi")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", obs.Output)

	stats := a.GetStatistics(ctx)
	assert.Equal(t, []string{"s1"}, stats.SessionNames)

	require.NoError(t, a.CloseSession(ctx, "s1"))
	_, err = a.RunInSession(ctx, "s1", "echo hi")
	assert.Error(t, err)
}

func TestWriteThenReadFile(t *testing.T) {
	drv := fakedriver.New()
	a := newReadyActor(t, drv)
	ctx := context.Background()

	require.NoError(t, a.WriteFile(ctx, "hello.txt", "hello world"))
	content, err := a.ReadFile(ctx, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", content)
}
