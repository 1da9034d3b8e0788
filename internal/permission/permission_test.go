package permission

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"leaderkey/internal/logging"
	"leaderkey/internal/metrics"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakePlatform struct {
	trusted bool
	prompts int
}

func (f *fakePlatform) Trusted() bool { return f.trusted }
func (f *fakePlatform) Prompt()       { f.prompts++ }

func TestRateLimiterBurst(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	rl := newRateLimiter(10, 3, clock.now)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(), "burst %d", i)
	}
	assert.False(t, rl.Allow())
	assert.Equal(t, 100*time.Millisecond, rl.Next())

	clock.advance(100 * time.Millisecond)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestRateLimiterBlockAndReset(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	rl := newRateLimiter(1, 1, clock.now)

	rl.Block(time.Minute)
	assert.False(t, rl.Allow())
	assert.Equal(t, time.Minute, rl.Next())

	rl.Reset()
	assert.True(t, rl.Allow())
}

func TestEvery(t *testing.T) {
	rl := Every(5 * time.Second)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
	assert.InDelta(t, float64(5*time.Second), float64(rl.Next()), float64(50*time.Millisecond))
}

func TestRequestRateLimited(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	platform := &fakePlatform{}
	m := metrics.Discard()
	p := New(Options{Platform: platform, Logger: logging.Discard(), Metrics: m})
	p.limiter = newRateLimiter(1/DefaultInterval.Seconds(), 1, clock.now)

	assert.True(t, p.Request())
	for i := 0; i < 10; i++ {
		clock.advance(400 * time.Millisecond)
		assert.False(t, p.Request())
	}
	assert.Equal(t, 1, platform.prompts)

	clock.advance(1500 * time.Millisecond)
	assert.True(t, p.Request())
	assert.Equal(t, 2, platform.prompts)

	prompts, suppressed := p.Stats()
	assert.Equal(t, uint64(2), prompts)
	assert.Equal(t, uint64(10), suppressed)
	assert.Equal(t, uint64(2), m.PermissionPrompt.Value())
}

func TestRequestWhenTrusted(t *testing.T) {
	platform := &fakePlatform{trusted: true}
	p := New(Options{Platform: platform, Logger: logging.Discard()})

	assert.True(t, p.Trusted())
	assert.False(t, p.Request())
	assert.Zero(t, platform.prompts)
}
