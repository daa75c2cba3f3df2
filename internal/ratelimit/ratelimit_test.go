package ratelimit

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(store WindowStore, policies map[Scope]Policy) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := New(store, policies, log.New(io.Discard, "", 0))
	l.now = clock.now
	return l, clock
}

func TestAdmitThreeThenReject(t *testing.T) {
	l, clock := newTestLimiter(NewMemoryStore(0), nil)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Admit("c1", 3, 60*time.Second), "call %d", i+1)
	}
	assert.False(t, l.Admit("c1", 3, 60*time.Second), "4th call in window")
	assert.False(t, l.Admit("c1", 3, 60*time.Second), "rejection does not consume")

	clock.t = clock.t.Add(61 * time.Second)
	assert.True(t, l.Admit("c1", 3, 60*time.Second), "new window")
}

func TestResetRequiresStrictlyAfter(t *testing.T) {
	l, clock := newTestLimiter(NewMemoryStore(0), nil)

	assert.True(t, l.Admit("c1", 1, 10*time.Second))
	clock.t = clock.t.Add(10 * time.Second)
	assert.False(t, l.Admit("c1", 1, 10*time.Second), "now == reset keeps the window")
	clock.t = clock.t.Add(time.Nanosecond)
	assert.True(t, l.Admit("c1", 1, 10*time.Second))
}

func TestClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(NewMemoryStore(0), nil)

	assert.True(t, l.Admit("a", 1, time.Minute))
	assert.False(t, l.Admit("a", 1, time.Minute))
	assert.True(t, l.Admit("b", 1, time.Minute))
}

// Fixed windows admit up to 2×limit around a boundary. This is accepted
// behavior; the test pins it so a change is deliberate.
func TestFixedWindowBoundaryBurst(t *testing.T) {
	l, clock := newTestLimiter(NewMemoryStore(0), nil)

	assert.True(t, l.Admit("c1", 3, 60*time.Second))
	clock.t = clock.t.Add(59 * time.Second)
	assert.True(t, l.Admit("c1", 3, 60*time.Second))
	assert.True(t, l.Admit("c1", 3, 60*time.Second))

	clock.t = clock.t.Add(2 * time.Second)
	admitted := 0
	for i := 0; i < 3; i++ {
		if l.Admit("c1", 3, 60*time.Second) {
			admitted++
		}
	}
	assert.Equal(t, 3, admitted, "full limit available right after the boundary")
}

func TestScopesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(NewMemoryStore(0), map[Scope]Policy{
		ScopeTranscribe: {Limit: 1, Window: time.Minute},
		ScopeSynthesize: {Limit: 2, Window: time.Minute},
	})
	ctx := context.Background()

	assert.True(t, l.AdmitScope(ctx, ScopeTranscribe, "c1").Allowed)
	assert.False(t, l.AdmitScope(ctx, ScopeTranscribe, "c1").Allowed)

	assert.True(t, l.AdmitScope(ctx, ScopeSynthesize, "c1").Allowed)
	assert.True(t, l.AdmitScope(ctx, ScopeSynthesize, "c1").Allowed)
	assert.False(t, l.AdmitScope(ctx, ScopeSynthesize, "c1").Allowed)

	assert.True(t, l.AdmitScope(ctx, ScopeRead, "c1").Allowed, "unconfigured scope admits")
}

func TestRejectionCarriesRetryAfter(t *testing.T) {
	l, clock := newTestLimiter(NewMemoryStore(0), map[Scope]Policy{
		ScopeClassify: {Limit: 1, Window: 60 * time.Second},
	})
	ctx := context.Background()

	require.True(t, l.AdmitScope(ctx, ScopeClassify, "c1").Allowed)
	clock.t = clock.t.Add(20 * time.Second)
	d := l.AdmitScope(ctx, ScopeClassify, "c1")
	require.False(t, d.Allowed)
	assert.Equal(t, 40*time.Second, d.RetryAfter)
	assert.Equal(t, "40", d.RetryAfterSeconds())
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	assert.Equal(t, "1", Decision{RetryAfter: 0}.RetryAfterSeconds())
	assert.Equal(t, "2", Decision{RetryAfter: 1500 * time.Millisecond}.RetryAfterSeconds())
}

type brokenStore struct{}

func (brokenStore) Take(context.Context, string, int, time.Duration, time.Time) (Decision, error) {
	return Decision{}, errors.New("down")
}

func TestStoreErrorFailsOpen(t *testing.T) {
	l, _ := newTestLimiter(brokenStore{}, map[Scope]Policy{ScopeClassify: {Limit: 1, Window: time.Minute}})
	for i := 0; i < 5; i++ {
		assert.True(t, l.AdmitScope(context.Background(), ScopeClassify, "c1").Allowed)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	t0 := time.Unix(1000, 0)

	_, _ = s.Take(ctx, "short", 1, time.Second, t0)
	_, _ = s.Take(ctx, "long", 1, time.Hour, t0)
	require.Equal(t, 2, s.Len())

	removed := s.Sweep(t0.Add(2 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreMaxEntriesBound(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	t0 := time.Unix(1000, 0)

	_, _ = s.Take(ctx, "a", 1, time.Hour, t0)
	_, _ = s.Take(ctx, "b", 1, time.Hour, t0)
	d, err := s.Take(ctx, "c", 1, time.Hour, t0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStoreEvictionKeepsLiveWindows(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	t0 := time.Unix(1000, 0)

	// "old" resets first and is the one evicted.
	_, _ = s.Take(ctx, "old", 3, time.Minute, t0)
	for i := 0; i < 3; i++ {
		_, _ = s.Take(ctx, "a", 3, time.Hour, t0)
	}
	d, _ := s.Take(ctx, "a", 3, time.Hour, t0)
	require.False(t, d.Allowed)

	d, err := s.Take(ctx, "b", 3, time.Hour, t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, s.Len())

	d, err = s.Take(ctx, "a", 3, time.Hour, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed, "client at its limit must stay rejected")
}

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ""), mr
}

func TestRedisStoreFixedWindow(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		d, err := store.Take(ctx, "c1", 3, time.Minute, now)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d", i+1)
	}
	d, err := store.Take(ctx, "c1", 3, time.Minute, now)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	count, err := mr.Get("hotline:rl:c1")
	require.NoError(t, err)
	assert.Equal(t, "3", count, "rejection leaves the counter unchanged")

	mr.FastForward(61 * time.Second)
	d, err = store.Take(ctx, "c1", 3, time.Minute, now)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisStoreThroughLimiter(t *testing.T) {
	store, mr := setupRedisStore(t)
	l, _ := newTestLimiter(store, map[Scope]Policy{ScopeWSAudio: {Limit: 1, Window: time.Minute}})
	ctx := context.Background()

	assert.True(t, l.AdmitScope(ctx, ScopeWSAudio, "10.0.0.1").Allowed)
	assert.False(t, l.AdmitScope(ctx, ScopeWSAudio, "10.0.0.1").Allowed)

	mr.Close()
	assert.True(t, l.AdmitScope(ctx, ScopeWSAudio, "10.0.0.1").Allowed, "redis outage fails open")
}
