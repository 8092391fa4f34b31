package team

import "sync"

// listenerRegistry fans a team's post-mutation notifications out to
// subscribers. Kept separate from Team's state mutex so a listener may
// freely read back into the team without deadlocking.
type listenerRegistry struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func()
}

// Subscribe registers fn to run after every mutation or merge that
// advances the team's head. The returned function unsubscribes.
// Listeners run synchronously on the mutating goroutine, after the
// team's lock has been released.
func (t *Team) Subscribe(fn func()) func() {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	if t.reg.listeners == nil {
		t.reg.listeners = make(map[int]func())
	}
	id := t.reg.nextID
	t.reg.nextID++
	t.reg.listeners[id] = fn
	return func() {
		t.reg.mu.Lock()
		defer t.reg.mu.Unlock()
		delete(t.reg.listeners, id)
	}
}

// notify runs every subscribed listener. Callers must not hold t.mu.
func (t *Team) notify() {
	t.reg.mu.Lock()
	fns := make([]func(), 0, len(t.reg.listeners))
	for _, fn := range t.reg.listeners {
		fns = append(fns, fn)
	}
	t.reg.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
