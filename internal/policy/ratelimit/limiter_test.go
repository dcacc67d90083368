package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterDelaysSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://example.com/a.json"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://EXAMPLE.com/b.json"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://one.example/"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://two.example/"))
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLimiterDisabledAndCanceled(t *testing.T) {
	t.Parallel()

	unlimited := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, unlimited.Wait(context.Background(), "https://example.com/"))
	}

	slow := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	require.NoError(t, slow.Wait(context.Background(), "https://example.com/"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, slow.Wait(ctx, "https://example.com/"))
}
