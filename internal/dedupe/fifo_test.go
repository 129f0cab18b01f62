// ABOUTME: Tests for the dedup FIFO used between the dual receive paths.
// ABOUTME: Validates duplicate detection, capacity eviction, TTL expiry, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndMark_NewKey(t *testing.T) {
	f := New(256, 0)

	assert.False(t, f.CheckAndMark("pkt-1"))
	assert.True(t, f.CheckAndMark("pkt-1"))
	assert.True(t, f.Seen("pkt-1"))
	assert.False(t, f.Seen("pkt-2"))
}

func TestCapacityEviction_FIFOOrder(t *testing.T) {
	f := New(3, 0)

	f.CheckAndMark("a")
	f.CheckAndMark("b")
	f.CheckAndMark("c")
	// "a" is oldest; inserting "d" evicts it.
	f.CheckAndMark("d")

	assert.False(t, f.Seen("a"))
	assert.True(t, f.Seen("b"))
	assert.True(t, f.Seen("c"))
	assert.True(t, f.Seen("d"))
	assert.Equal(t, 3, f.Len())
}

func TestTTLExpiry(t *testing.T) {
	f := New(16, 20*time.Millisecond)

	assert.False(t, f.CheckAndMark("pkt"))
	assert.True(t, f.CheckAndMark("pkt"))

	time.Sleep(30 * time.Millisecond)

	// Expired: treated as new again.
	assert.False(t, f.Seen("pkt"))
	assert.False(t, f.CheckAndMark("pkt"))
	assert.True(t, f.CheckAndMark("pkt"))
}

func TestReMarkAfterExpiry_SurvivesOldSlotEviction(t *testing.T) {
	f := New(2, 10*time.Millisecond)

	f.CheckAndMark("x")
	time.Sleep(15 * time.Millisecond)
	// Re-mark after expiry: a second slot now references "x".
	assert.False(t, f.CheckAndMark("x"))

	// Fill until the stale "x" slot is evicted; the fresh one must survive.
	f.CheckAndMark("y")
	assert.True(t, f.Seen("x"))
}

func TestConcurrentAccess(t *testing.T) {
	f := New(256, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				f.CheckAndMark(fmt.Sprintf("k-%d-%d", n, j))
				f.Seen(fmt.Sprintf("k-%d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, f.Len(), 256)
}

func TestTinyCapacity(t *testing.T) {
	f := New(0, 0) // clamped to 1

	assert.False(t, f.CheckAndMark("a"))
	assert.False(t, f.CheckAndMark("b"))
	assert.False(t, f.Seen("a"))
	assert.True(t, f.Seen("b"))
}
