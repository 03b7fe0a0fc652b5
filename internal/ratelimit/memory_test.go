package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterBurstThenDeny(t *testing.T) {
	// Very slow refill so only the burst capacity matters.
	m := NewMemoryLimiter(0.001, 3)
	defer m.Close()

	ctx := t.Context()
	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst should pass", i)
	}

	ok, err := m.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "request beyond burst should be limited")
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m := NewMemoryLimiter(0.001, 1)
	defer m.Close()

	ctx := t.Context()
	ok, _ := m.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "a")
	assert.False(t, ok)

	// A different key starts with its own full bucket.
	ok, _ = m.Allow(ctx, "b")
	assert.True(t, ok)
}

func TestMemoryLimiterRefill(t *testing.T) {
	// 100 tokens/sec: ~50ms is plenty for one token.
	m := NewMemoryLimiter(100, 1)
	defer m.Close()

	ctx := t.Context()
	ok, _ := m.Allow(ctx, "k")
	require.True(t, ok)
	ok, _ = m.Allow(ctx, "k")
	require.False(t, ok)

	time.Sleep(50 * time.Millisecond)

	ok, err := m.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "bucket should refill over time")
}

func TestMemoryLimiterCloseIsIdempotent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

func TestMemoryLimiterConcurrentAccess(t *testing.T) {
	m := NewMemoryLimiter(1000, 1000)
	defer m.Close()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				_, _ = m.Allow(t.Context(), fmt.Sprintf("key-%d", n%4))
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l Limiter = NoopLimiter{}
	ok, err := l.Allow(t.Context(), "anything")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, l.Close())
}
