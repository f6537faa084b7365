//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNotificationGuard(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb, err := NewClient(ctx, Config{Addr: endpoint})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	g := NewNotificationGuard(rdb, time.Minute, time.Hour)
	require.NoError(t, g.Ping(ctx))

	first, err := g.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := g.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, second)

	require.NoError(t, g.Release(ctx, "evt-1"))
	again, err := g.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, again)

	ttl, err := rdb.TTL(ctx, keyPrefix+"evt-1").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, g.Complete(ctx, "evt-1"))
	ttl, err = rdb.TTL(ctx, keyPrefix+"evt-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Minute)

	// A processed key survives a late release.
	require.NoError(t, g.Release(ctx, "evt-1"))
	claimed, err := g.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, g.Release(ctx, "never-claimed"))
}
