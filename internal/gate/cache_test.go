package gate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCache(t *testing.T) {
	cache := NewCache(5*time.Minute, 100)
	require.NotNil(t, cache)
	assert.True(t, cache.Enabled())
}

func TestCache_Disabled(t *testing.T) {
	cache := NewCache(0, 100)
	assert.False(t, cache.Enabled())

	cache.Set("typecheck", CheckResult{Passed: true})
	_, ok := cache.Get("typecheck")
	assert.False(t, ok, "disabled cache stores nothing")
}

func TestCache_SetAndGet(t *testing.T) {
	cache := NewCache(5*time.Minute, 100)

	cache.Set("typecheck", CheckResult{Name: "typecheck", Passed: true, Message: "no type errors"})

	res, ok := cache.Get("typecheck")
	assert.True(t, ok)
	assert.True(t, res.Passed)
	assert.Equal(t, "no type errors", res.Message)

	_, ok = cache.Get("tests")
	assert.False(t, ok, "unknown signature should miss")
}

func TestCache_ExpiredEntry(t *testing.T) {
	cache := NewCache(50*time.Millisecond, 100)

	cache.Set("tests", CheckResult{Passed: true})
	_, ok := cache.Get("tests")
	assert.True(t, ok, "entry should exist immediately")

	time.Sleep(80 * time.Millisecond)

	_, ok = cache.Get("tests")
	assert.False(t, ok, "entry should be expired")
}

func TestCache_EvictsLRU(t *testing.T) {
	cache := NewCache(5*time.Minute, 2)

	cache.Set("a", CheckResult{Message: "a"})
	cache.Set("b", CheckResult{Message: "b"})

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := cache.Get("a")
	require.True(t, ok)

	cache.Set("c", CheckResult{Message: "c"})

	_, ok = cache.Get("a")
	assert.True(t, ok, "recently used entry survives")
	_, ok = cache.Get("b")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = cache.Get("c")
	assert.True(t, ok)
}

func TestCache_Clear(t *testing.T) {
	cache := NewCache(5*time.Minute, 100)
	for i := 0; i < 5; i++ {
		cache.Set(fmt.Sprintf("sig-%d", i), CheckResult{})
	}

	cache.Clear()

	for i := 0; i < 5; i++ {
		_, ok := cache.Get(fmt.Sprintf("sig-%d", i))
		assert.False(t, ok)
	}
}

func TestPhaseLimiter(t *testing.T) {
	t.Run("zero cooldown always allows", func(t *testing.T) {
		limiter := newPhaseLimiter(0)
		for i := 0; i < 5; i++ {
			assert.True(t, limiter.Allow("sess_1", "plan"))
		}
	})

	t.Run("throttles repeat checks per phase", func(t *testing.T) {
		limiter := newPhaseLimiter(time.Hour)

		assert.True(t, limiter.Allow("sess_1", "plan"))
		assert.False(t, limiter.Allow("sess_1", "plan"))

		assert.True(t, limiter.Allow("sess_1", "ship"), "other phases are independent")
		assert.True(t, limiter.Allow("sess_2", "plan"), "other sessions are independent")
	})

	t.Run("window reopens after the cooldown", func(t *testing.T) {
		limiter := newPhaseLimiter(30 * time.Millisecond)

		assert.True(t, limiter.Allow("sess_1", "plan"))
		assert.False(t, limiter.Allow("sess_1", "plan"))

		time.Sleep(50 * time.Millisecond)
		assert.True(t, limiter.Allow("sess_1", "plan"))
	})
}
