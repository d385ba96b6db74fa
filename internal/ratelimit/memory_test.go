package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, rps float64, burst int) *MemoryLimiter {
	t.Helper()
	m := NewMemoryLimiter(rps, burst)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m
}

// drain consumes tokens for key until Allow denies, returning how many
// requests got through.
func drain(t *testing.T, m *MemoryLimiter, key string, max int) int {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < max; i++ {
		ok, err := m.Allow(ctx, key)
		require.NoError(t, err)
		if !ok {
			return i
		}
	}
	return max
}

func TestMemoryLimiter_BurstThenDeny(t *testing.T) {
	tests := []struct {
		name  string
		burst int
	}{
		{"single token", 1},
		{"typical ingest burst", 20},
		{"large burst", 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestLimiter(t, 5, tt.burst)

			allowed := drain(t, m, "203.0.113.7", tt.burst+1)
			assert.Equal(t, tt.burst, allowed, "ingest client gets exactly the burst before throttling")

			ok, err := m.Allow(context.Background(), "203.0.113.7")
			require.NoError(t, err)
			assert.False(t, ok, "bucket stays empty immediately after exhaustion")
		})
	}
}

func TestMemoryLimiter_RefillsOverTime(t *testing.T) {
	// 1000 tokens/s refills one token per millisecond, fast enough to
	// observe without a slow test.
	m := newTestLimiter(t, 1000, 2)
	ctx := context.Background()

	drain(t, m, "agent-gw", 2)
	ok, err := m.Allow(ctx, "agent-gw")
	require.NoError(t, err)
	require.False(t, ok)

	time.Sleep(5 * time.Millisecond)

	ok, err = m.Allow(ctx, "agent-gw")
	require.NoError(t, err)
	assert.True(t, ok, "tokens accrue while the client backs off")
}

func TestMemoryLimiter_RefillCappedAtBurst(t *testing.T) {
	m := newTestLimiter(t, 1000, 3)
	ctx := context.Background()

	_, err := m.Allow(ctx, "agent-gw")
	require.NoError(t, err)

	// Backdate the bucket so the next refill computes far more than the
	// capacity. Idle clients must not bank unbounded tokens.
	m.mu.Lock()
	m.buckets["agent-gw"].lastAccess = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	assert.Equal(t, 3, drain(t, m, "agent-gw", 10), "idle time refills at most the burst capacity")
}

func TestMemoryLimiter_KeysAreIsolated(t *testing.T) {
	m := newTestLimiter(t, 5, 1)
	ctx := context.Background()

	drain(t, m, "203.0.113.7", 1)
	ok, err := m.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	require.False(t, ok, "first client exhausted")

	ok, err = m.Allow(ctx, "198.51.100.4")
	require.NoError(t, err)
	assert.True(t, ok, "one noisy ingest client must not starve another")
}

func TestMemoryLimiter_ConcurrentSameKey(t *testing.T) {
	const (
		goroutines = 10
		perG       = 10
		burst      = 50
	)
	m := newTestLimiter(t, 1, burst)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				ok, err := m.Allow(ctx, "shared-client")
				if err != nil {
					t.Errorf("Allow: %v", err)
					return
				}
				if ok {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// 100 racing requests against a burst of 50: the token count is the
	// only thing that may admit more than the burst (slow scheduling can
	// refill a fraction of a token), so allow a margin of one.
	assert.GreaterOrEqual(t, allowed, 1)
	assert.LessOrEqual(t, allowed, burst+1)
}

func TestMemoryLimiter_EvictsStaleClients(t *testing.T) {
	m := newTestLimiter(t, 5, 5)
	ctx := context.Background()

	_, err := m.Allow(ctx, "departed")
	require.NoError(t, err)
	_, err = m.Allow(ctx, "active")
	require.NoError(t, err)

	m.mu.Lock()
	m.buckets["departed"].lastAccess = time.Now().Add(-staleThreshold - time.Minute)
	m.mu.Unlock()

	m.evictStale()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.NotContains(t, m.buckets, "departed", "idle clients are dropped to bound memory")
	assert.Contains(t, m.buckets, "active", "recently seen clients keep their bucket")
}

func TestMemoryLimiter_CloseIsIdempotent(t *testing.T) {
	m := NewMemoryLimiter(5, 5)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNoopLimiter_NeverThrottles(t *testing.T) {
	var l NoopLimiter
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(ctx, "any")
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, l.Close())
}
