package keylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMap_ReleasesEntries(t *testing.T) {
	k := New()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.Len())
	unlockA()
	unlockB()
	assert.Equal(t, 0, k.Len())
}

func TestMap_SerializesSameKey(t *testing.T) {
	k := New()
	unlock := k.Lock("p1/episode_script/1")

	acquired := make(chan struct{})
	go func() {
		defer k.Lock("p1/episode_script/1")()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired
}

func TestMap_DifferentKeysDoNotBlock(t *testing.T) {
	k := New()
	unlock := k.Lock("a")
	defer unlock()

	done := make(chan struct{})
	go func() {
		k.Lock("b")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b waited for a")
	}
}

func TestMap_Counter(t *testing.T) {
	k := New()
	var (
		wg sync.WaitGroup
		n  int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer k.Lock("counter")()
			n++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, n)
	assert.Equal(t, 0, k.Len())
}
