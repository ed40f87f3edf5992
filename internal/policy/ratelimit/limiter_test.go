package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitThrottlesSameHost(t *testing.T) {
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://rbi.org.in/Scripts/a.aspx"))

	// 10 RPS with burst 1 leaves the bucket empty for ~100ms.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://RBI.org.in/Scripts/b.aspx"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://rbi.org.in/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://rbidocs.rbi.org.in/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterDisabledAndCancelled(t *testing.T) {
	unlimited := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, unlimited.Wait(context.Background(), "https://rbi.org.in"))
	}

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://rbi.org.in"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, l.Wait(ctx, "https://rbi.org.in"))
}
