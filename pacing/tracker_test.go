package pacing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/use-agent/mediagate/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

const tt = models.PlatformTikTok

func TestUnknownPlatformIsNotThrottled(t *testing.T) {
	tr := NewTracker(DefaultConfig(), newFakeClock().Now)
	assert.False(t, tr.ShouldThrottle(tt))
	assert.Equal(t, PhaseIdle, tr.Snapshot(tt).Phase)
}

func TestMarkRateLimitedThrottlesUntilCooldownElapses(t *testing.T) {
	clk := newFakeClock()
	tr := NewTracker(DefaultConfig(), clk.Now)

	d := tr.MarkRateLimited(tt)
	assert.Equal(t, 30*time.Second, d)
	assert.True(t, tr.ShouldThrottle(tt))

	clk.Advance(29 * time.Second)
	assert.True(t, tr.ShouldThrottle(tt))

	clk.Advance(time.Second)
	assert.False(t, tr.ShouldThrottle(tt))
	assert.NotEqual(t, PhaseCooldown, tr.Snapshot(tt).Phase)
}

func TestBurstThresholdStartsCooldown(t *testing.T) {
	clk := newFakeClock()
	tr := NewTracker(DefaultConfig(), clk.Now)

	for i := 0; i < 29; i++ {
		tr.TrackRequest(tt)
		clk.Advance(time.Second)
	}
	assert.False(t, tr.ShouldThrottle(tt))
	assert.Equal(t, PhaseActive, tr.Snapshot(tt).Phase)

	tr.TrackRequest(tt)
	assert.True(t, tr.ShouldThrottle(tt))
	snap := tr.Snapshot(tt)
	assert.Equal(t, PhaseCooldown, snap.Phase)
	assert.Equal(t, 30*time.Second, snap.CooldownRemaining)

	clk.Advance(30 * time.Second)
	assert.False(t, tr.ShouldThrottle(tt))
}

func TestCounterResetsAfterWindow(t *testing.T) {
	clk := newFakeClock()
	tr := NewTracker(DefaultConfig(), clk.Now)

	for i := 0; i < 20; i++ {
		tr.TrackRequest(tt)
	}
	clk.Advance(61 * time.Second)
	assert.Equal(t, PhaseIdle, tr.Snapshot(tt).Phase)

	for i := 0; i < 20; i++ {
		tr.TrackRequest(tt)
	}
	assert.False(t, tr.ShouldThrottle(tt))
	assert.Equal(t, 20, tr.Snapshot(tt).RequestsInWindow)
}

func TestMarkRateLimitedBackoffGrowsWithCount(t *testing.T) {
	tests := []struct {
		requests int
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{9, 30 * time.Second},
		{10, 60 * time.Second},
		{19, 60 * time.Second},
		{20, 120 * time.Second},
		{29, 120 * time.Second},
	}
	for _, tc := range tests {
		clk := newFakeClock()
		cfg := DefaultConfig()
		cfg.BurstThreshold = 1000
		tr := NewTracker(cfg, clk.Now)
		for i := 0; i < tc.requests; i++ {
			tr.TrackRequest(tt)
		}
		assert.Equal(t, tc.want, tr.MarkRateLimited(tt), "requests=%d", tc.requests)
	}
}

func TestPlatformsAreIndependent(t *testing.T) {
	tr := NewTracker(DefaultConfig(), newFakeClock().Now)
	tr.MarkRateLimited(models.PlatformInstagram)
	assert.True(t, tr.ShouldThrottle(models.PlatformInstagram))
	assert.False(t, tr.ShouldThrottle(models.PlatformYouTube))
}

func TestConcurrentTracking(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BurstThreshold = 10000
	tr := NewTracker(cfg, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				tr.TrackRequest(tt)
				tr.ShouldThrottle(tt)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, tr.Snapshot(tt).RequestsInWindow)
}
