// Package mock provides a manually driven ticker factory for callclock tests.
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/frontdesk/internal/callclock"
)

// Ticker is a ticker whose ticks are sent by the test.
type Ticker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

// C implements callclock.Ticker.
func (t *Ticker) C() <-chan time.Time { return t.ch }

// Stop implements callclock.Ticker.
func (t *Ticker) Stop() { t.once.Do(func() { close(t.stopped) }) }

// Stopped reports whether Stop has been called.
func (t *Ticker) Stopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

// Factory creates Tickers and remembers every one it handed out.
type Factory struct {
	mu      sync.Mutex
	tickers []*Ticker
}

// New satisfies the factory signature expected by callclock.WithTicker.
func (f *Factory) New(time.Duration) callclock.Ticker {
	t := &Ticker{ch: make(chan time.Time), stopped: make(chan struct{})}
	f.mu.Lock()
	f.tickers = append(f.tickers, t)
	f.mu.Unlock()
	return t
}

// Created returns how many tickers were created.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

// Active returns how many created tickers have not been stopped.
func (f *Factory) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tickers {
		if !t.Stopped() {
			n++
		}
	}
	return n
}

// Tick delivers one tick on the most recent ticker. It returns false without
// delivering when no ticker exists or the latest one was stopped.
func (f *Factory) Tick() bool {
	f.mu.Lock()
	if len(f.tickers) == 0 {
		f.mu.Unlock()
		return false
	}
	t := f.tickers[len(f.tickers)-1]
	f.mu.Unlock()

	if t.Stopped() {
		return false
	}
	select {
	case t.ch <- time.Now():
		return true
	case <-t.stopped:
		return false
	}
}
