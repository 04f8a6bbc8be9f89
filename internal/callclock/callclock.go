// Package callclock counts the seconds a call has been connected.
//
// A [Clock] is armed when its call enters the connected state and disarmed
// when it leaves. At most one ticker runs per Clock no matter how often Arm
// is called, and ticks delivered by a ticker that has since been disarmed are
// ignored.
package callclock

import (
	"fmt"
	"sync"
	"time"
)

// Ticker is the subset of [time.Ticker] the clock depends on.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// NewStdTicker wraps [time.NewTicker].
func NewStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

// Option is a functional option for [New].
type Option func(*Clock)

// WithTicker replaces the ticker factory. Tests use it to drive the clock
// deterministically.
func WithTicker(fn func(time.Duration) Ticker) Option {
	return func(c *Clock) { c.newTicker = fn }
}

// WithOnTick registers fn to be called with the new second count after each
// accepted tick. fn runs on the clock's goroutine without the lock held.
func WithOnTick(fn func(seconds int64)) Option {
	return func(c *Clock) { c.onTick = fn }
}

// Clock is a one-second accumulator. The zero value is not usable; call New.
type Clock struct {
	mu      sync.Mutex
	seconds int64
	gen     uint64
	stop    func()

	newTicker func(time.Duration) Ticker
	onTick    func(int64)
}

// New returns a disarmed clock at zero.
func New(opts ...Option) *Clock {
	c := &Clock{newTicker: NewStdTicker}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Arm starts counting. Calling Arm on an armed clock does nothing.
func (c *Clock) Arm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}

	c.gen++
	gen := c.gen
	t := c.newTicker(time.Second)
	done := make(chan struct{})
	c.stop = func() {
		t.Stop()
		close(done)
	}
	go c.run(gen, t.C(), done)
}

// Disarm stops counting and keeps the current value. Idempotent.
func (c *Clock) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return
	}
	c.stop()
	c.stop = nil
	c.gen++
}

// Reset sets the count back to zero without changing whether it is armed.
func (c *Clock) Reset() {
	c.mu.Lock()
	c.seconds = 0
	c.mu.Unlock()
}

// Armed reports whether a ticker is running.
func (c *Clock) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

// Seconds returns the elapsed connected seconds.
func (c *Clock) Seconds() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seconds
}

// Format returns the elapsed time as MM:SS.
func (c *Clock) Format() string {
	return Format(c.Seconds())
}

// Format renders seconds as zero-padded MM:SS. Minutes are not wrapped into
// hours.
func Format(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func (c *Clock) run(gen uint64, ticks <-chan time.Time, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticks:
			c.tick(gen)
		}
	}
}

func (c *Clock) tick(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.stop == nil {
		c.mu.Unlock()
		return
	}
	c.seconds++
	s := c.seconds
	fn := c.onTick
	c.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}
