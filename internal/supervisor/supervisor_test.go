// ABOUTME: Tests for the RX watchdog and sync ticker loops.
// ABOUTME: Uses scripted clocks and counters instead of real radios.

package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	enabled     atomic.Bool
	inventories atomic.Int32
	prunes      atomic.Int32
}

func (f *fakeSyncer) Enabled() bool { return f.enabled.Load() }
func (f *fakeSyncer) SendInventories(context.Context) error {
	f.inventories.Add(1)
	return nil
}
func (f *fakeSyncer) PruneRx(context.Context) { f.prunes.Add(1) }

type fakeClock struct {
	mu   sync.Mutex
	last time.Time
	set  bool
}

func (f *fakeClock) LastRX() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.set
}

func (f *fakeClock) ResetLastRX() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = time.Now()
	f.set = true
}

func (f *fakeClock) setLast(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = t
	f.set = true
}

type fakeReconnector struct {
	count atomic.Int32
	err   error
}

func (f *fakeReconnector) Reconnect() error {
	f.count.Add(1)
	return f.err
}

func TestWatchdog_ReconnectsWhenStale(t *testing.T) {
	syncer := &fakeSyncer{}
	clock := &fakeClock{}
	link := &fakeReconnector{}
	s := New(syncer, clock, link, time.Hour, 10*time.Millisecond, 50*time.Millisecond, nil)

	clock.setLast(time.Now().Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.RunWatchdog(ctx)

	require.Eventually(t, func() bool { return link.count.Load() >= 1 }, time.Second, 5*time.Millisecond)

	// The clock was reset, so the next tick does not reconnect again.
	n := link.count.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, n, link.count.Load())
}

func TestWatchdog_NoLastRXNoReconnect(t *testing.T) {
	syncer := &fakeSyncer{}
	clock := &fakeClock{}
	link := &fakeReconnector{}
	s := New(syncer, clock, link, time.Hour, 5*time.Millisecond, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.RunWatchdog(ctx)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, link.count.Load())
}

func TestWatchdog_FreshRXNoReconnect(t *testing.T) {
	syncer := &fakeSyncer{}
	clock := &fakeClock{}
	link := &fakeReconnector{}
	s := New(syncer, clock, link, time.Hour, 5*time.Millisecond, time.Minute, nil)

	clock.setLast(time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.RunWatchdog(ctx)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, link.count.Load())
}

func TestSyncTicker_RespectsEnabledFlag(t *testing.T) {
	syncer := &fakeSyncer{}
	clock := &fakeClock{}
	link := &fakeReconnector{}
	s := New(syncer, clock, link, 10*time.Millisecond, time.Hour, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.RunSyncTicker(ctx)

	// Disabled: buffers are still pruned, inventories are not sent.
	require.Eventually(t, func() bool { return syncer.prunes.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, syncer.inventories.Load())

	syncer.enabled.Store(true)
	require.Eventually(t, func() bool { return syncer.inventories.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestLoops_StopOnCancel(t *testing.T) {
	syncer := &fakeSyncer{}
	clock := &fakeClock{}
	link := &fakeReconnector{}
	s := New(syncer, clock, link, 5*time.Millisecond, 5*time.Millisecond, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { s.RunSyncTicker(ctx); done <- struct{}{} }()
	go func() { s.RunWatchdog(ctx); done <- struct{}{} }()

	cancel()
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("loop did not stop on cancel")
		}
	}
}
