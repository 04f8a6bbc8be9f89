package transport

import (
	"sync"
	"sync/atomic"
)

// Listeners is a registry of callbacks for one event type. Transport
// implementations embed one per channel. The zero value is ready to use.
type Listeners[T any] struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func(T)
	ids  []uint64
}

// Add registers fn and returns the handle that removes it.
func (l *Listeners[T]) Add(fn func(T)) Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[uint64]func(T))
	}
	l.next++
	id := l.next
	l.fns[id] = fn
	l.ids = append(l.ids, id)
	return &listenerHandle[T]{owner: l, id: id}
}

// Emit calls every registered listener with v in registration order. A
// listener removed before Emit observes it is not called.
func (l *Listeners[T]) Emit(v T) {
	l.mu.Lock()
	ids := make([]uint64, len(l.ids))
	copy(ids, l.ids)
	l.mu.Unlock()

	for _, id := range ids {
		l.mu.Lock()
		fn, ok := l.fns[id]
		l.mu.Unlock()
		if ok {
			fn(v)
		}
	}
}

// Len returns the number of registered listeners.
func (l *Listeners[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

// Clear removes every listener.
func (l *Listeners[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = nil
	l.ids = nil
}

func (l *Listeners[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.fns[id]; !ok {
		return
	}
	delete(l.fns, id)
	for i, v := range l.ids {
		if v == id {
			l.ids = append(l.ids[:i], l.ids[i+1:]...)
			break
		}
	}
}

type listenerHandle[T any] struct {
	once  sync.Once
	owner *Listeners[T]
	id    uint64
}

func (h *listenerHandle[T]) Unsubscribe() {
	h.once.Do(func() { h.owner.remove(h.id) })
}

// Latch is a one-shot event such as a lost connection. It remembers the
// value it fired with: a listener added after Fire is still called, in its
// own goroutine, so that callers registering under their own lock cannot
// deadlock. The zero value is ready to use.
type Latch[T any] struct {
	mu    sync.Mutex
	fired bool
	val   T
	l     Listeners[T]
}

// Add registers fn. If the latch already fired, fn is scheduled with the
// recorded value unless the returned handle is released first.
func (l *Latch[T]) Add(fn func(T)) Subscription {
	l.mu.Lock()
	if !l.fired {
		sub := l.l.Add(fn)
		l.mu.Unlock()
		return sub
	}
	v := l.val
	l.mu.Unlock()

	h := &lateHandle{}
	go func() {
		if !h.released.Load() {
			fn(v)
		}
	}()
	return h
}

// Fire records v and calls every registered listener. Only the first call
// has an effect; it reports whether this call fired the latch.
func (l *Latch[T]) Fire(v T) bool {
	l.mu.Lock()
	if l.fired {
		l.mu.Unlock()
		return false
	}
	l.fired, l.val = true, v
	l.mu.Unlock()

	l.l.Emit(v)
	return true
}

// Fired reports whether Fire was called.
func (l *Latch[T]) Fired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fired
}

// Len returns the number of listeners still registered.
func (l *Latch[T]) Len() int { return l.l.Len() }

type lateHandle struct {
	released atomic.Bool
}

func (h *lateHandle) Unsubscribe() { h.released.Store(true) }
