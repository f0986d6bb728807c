package lru

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newByteCache(capacity int, maxBytes int64) *Cache[string, []byte] {
	return New[string, []byte](capacity, WithMaxWeight[string, []byte](maxBytes, Bytes))
}

func TestBasicGetPut(t *testing.T) {
	c := New[string, []byte](2)

	assert.True(t, c.Put("artifact-a", []byte("spec")))
	assert.True(t, c.Put("artifact-b", []byte("script")))

	v, ok := c.Get("artifact-a")
	require.True(t, ok)
	assert.Equal(t, "spec", string(v))

	v, ok = c.Get("artifact-b")
	require.True(t, ok)
	assert.Equal(t, "script", string(v))
}

func TestEvictionByCount(t *testing.T) {
	c := New[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // "b" becomes LRU
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
}

func TestEvictionByWeight(t *testing.T) {
	c := newByteCache(10, 10)

	c.Put("script", bytes.Repeat([]byte("s"), 4))
	c.Put("summary", bytes.Repeat([]byte("e"), 4))
	c.Get("script")

	// 4 + 4 + 6 > 10: the least recently used body goes first.
	require.True(t, c.Put("keyframe", bytes.Repeat([]byte("k"), 6)))

	_, ok := c.Get("summary")
	assert.False(t, ok)
	_, ok = c.Get("script")
	assert.True(t, ok)

	s := c.Stats()
	assert.Equal(t, int64(10), s.Weight)
	assert.Equal(t, 2, s.Entries)
	assert.Equal(t, uint64(1), s.Evictions)
}

func TestEvictionByWeight_RemovesSeveral(t *testing.T) {
	c := newByteCache(10, 10)
	for _, k := range []string{"a", "b", "c"} {
		c.Put(k, []byte("xxx"))
	}

	c.Put("big", bytes.Repeat([]byte("x"), 9))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(9), c.Stats().Weight)
}

func TestOversizedValueIsRejected(t *testing.T) {
	c := newByteCache(10, 8)
	c.Put("a", []byte("small"))

	assert.False(t, c.Put("huge", bytes.Repeat([]byte("x"), 9)))
	_, ok := c.Get("huge")
	assert.False(t, ok)

	// Replacing an entry with an oversized value drops the stale one.
	assert.False(t, c.Put("a", bytes.Repeat([]byte("x"), 9)))
	_, ok = c.Get("a")
	assert.False(t, ok)

	s := c.Stats()
	assert.Equal(t, uint64(2), s.Rejected)
	assert.Zero(t, s.Weight)
}

func TestUpdateExistingAdjustsWeight(t *testing.T) {
	c := newByteCache(2, 100)
	c.Put("a", []byte("v1"))
	c.Put("b", []byte("v1"))

	c.Put("a", []byte("version-two"))

	v, _ := c.Get("a")
	assert.Equal(t, "version-two", string(v))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(13), c.Stats().Weight)
}

func TestDelete(t *testing.T) {
	c := newByteCache(2, 100)
	c.Put("a", []byte("abc"))
	c.Put("b", []byte("de"))

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(2), c.Stats().Weight)
}

func TestWithMaxWeight_IgnoresInvalid(t *testing.T) {
	c := New[string, []byte](2, WithMaxWeight[string, []byte](0, Bytes))
	assert.True(t, c.Put("a", bytes.Repeat([]byte("x"), 1<<10)))
	assert.Zero(t, c.Stats().Weight)
}

func TestPanicOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[string, int](0) })
}

func TestStats(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)

	c.Get("a")
	c.Get("b")
	c.Get("missing")
	c.Put("c", 3)

	s := c.Stats()
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, uint64(1), s.Evictions)
	assert.InDelta(t, 2.0/3.0, s.HitRate(), 1e-9)
	assert.Zero(t, Stats{}.HitRate())
}

func TestConcurrentAccess(t *testing.T) {
	c := newByteCache(100, 1000)
	var wg sync.WaitGroup

	for g := 0; g < 10; g++ {
		wg.Add(2)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.Put(fmt.Sprintf("%d-%d", offset, i), bytes.Repeat([]byte("x"), i%20))
			}
		}(g)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.Get(fmt.Sprintf("%d-%d", offset, i))
			}
		}(g)
	}
	wg.Wait()

	s := c.Stats()
	assert.LessOrEqual(t, s.Entries, 100)
	assert.LessOrEqual(t, s.Weight, int64(1000))
}

func BenchmarkPut(b *testing.B) {
	c := New[int, int](1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Put(i, i)
	}
}

func ExampleCache() {
	cache := New[string, []byte](10, WithMaxWeight[string, []byte](8, Bytes))

	cache.Put("summary", []byte("abcd"))
	cache.Put("script", []byte("efgh"))
	cache.Get("summary") // promotes "summary"

	cache.Put("table", []byte("ij")) // over 8 bytes: evicts "script"

	_, ok := cache.Get("script")
	fmt.Println(ok)
	fmt.Println(cache.Stats().Weight)

	// Output:
	// false
	// 6
}
