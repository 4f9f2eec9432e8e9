package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually driven Clock for tests. Tickers created from it
// fire when Advance moves time past their next deadline.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	created chan struct{}
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{
		now:     t.UTC(),
		created: make(chan struct{}, 64),
	}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t without firing tickers.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

// Advance moves the clock forward and fires every ticker whose deadline
// was reached. A ticker fires at most once per Advance call, matching the
// dropped-tick behaviour of time.Ticker.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.fireIfDue(now)
	}
}

func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	t := &fakeTicker{
		clock:  c,
		ch:     make(chan time.Time, 1),
		period: d,
		next:   c.now.Add(d),
	}
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()

	select {
	case c.created <- struct{}{}:
	default:
	}
	return t
}

// WaitForTickers blocks until n tickers have been created or the timeout
// elapses. It reports whether the count was reached.
func (c *FakeClock) WaitForTickers(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		c.mu.Lock()
		count := len(c.tickers)
		c.mu.Unlock()
		if count >= n {
			return true
		}
		select {
		case <-c.created:
		case <-deadline:
			return false
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (c *FakeClock) removeTicker(t *fakeTicker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.tickers {
		if existing == t {
			c.tickers = append(c.tickers[:i], c.tickers[i+1:]...)
			return
		}
	}
}

type fakeTicker struct {
	clock *FakeClock

	mu      sync.Mutex
	ch      chan time.Time
	period  time.Duration
	next    time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Reset(d time.Duration) {
	if d <= 0 {
		panic("clock: non-positive interval for Reset")
	}
	now := t.clock.Now()
	t.mu.Lock()
	t.period = d
	t.next = now.Add(d)
	t.stopped = false
	t.mu.Unlock()
}

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.clock.removeTicker(t)
}

func (t *fakeTicker) fireIfDue(now time.Time) {
	t.mu.Lock()
	if t.stopped || now.Before(t.next) {
		t.mu.Unlock()
		return
	}
	for !t.next.After(now) {
		t.next = t.next.Add(t.period)
	}
	t.mu.Unlock()

	select {
	case t.ch <- now:
	default:
	}
}
