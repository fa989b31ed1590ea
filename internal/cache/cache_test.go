package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenlabs/websentry/internal/cache"
)

func TestMemory_SetGet(t *testing.T) {
	t.Parallel()
	c := cache.NewMemory(time.Hour)
	defer c.Close()

	c.Set("scan:example.com", []byte(`{"score":85}`), time.Minute)

	got, ok := c.Get("scan:example.com")
	require.True(t, ok)
	assert.Equal(t, `{"score":85}`, string(got))

	_, ok = c.Get("scan:other.com")
	assert.False(t, ok)
}

func TestMemory_ExpiredEntryNotServed(t *testing.T) {
	t.Parallel()
	// Long sweep interval so expiry is enforced by Get, not the janitor.
	c := cache.NewMemory(time.Hour)
	defer c.Close()

	c.Set("k", []byte("v"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestMemory_JanitorSweepsExpired(t *testing.T) {
	t.Parallel()
	c := cache.NewMemory(20 * time.Millisecond)
	defer c.Close()

	c.Set("a", []byte("1"), 5*time.Millisecond)
	c.Set("b", []byte("2"), time.Hour)

	assert.Eventually(t, func() bool { return c.Len() == 1 },
		time.Second, 10*time.Millisecond)

	_, ok := c.Get("b")
	assert.True(t, ok)
}

func TestMemory_ZeroTTLIgnored(t *testing.T) {
	t.Parallel()
	c := cache.NewMemory(time.Hour)
	defer c.Close()

	c.Set("k", []byte("v"), 0)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestMemory_Delete(t *testing.T) {
	t.Parallel()
	c := cache.NewMemory(time.Hour)
	defer c.Close()

	c.Set("k", []byte("v"), time.Minute)
	c.Delete("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestMemory_CloseIdempotent(t *testing.T) {
	t.Parallel()
	c := cache.NewMemory(time.Minute)
	c.Close()
	c.Close()
}
