package pairsync

import "sync"

// NetworkMonitor observes device connectivity transitions and fans out
// edge-triggered online/offline events to listeners.
//
// The monitor has no way to probe connectivity itself; the host platform
// feeds transitions through SetOnline. Until the first report arrives the
// monitor assumes online, so writes are attempted directly instead of being
// queued on a guess.
type NetworkMonitor struct {
	mu        sync.Mutex
	online    bool
	listeners map[int]func(online bool)
	nextID    int
}

// NewNetworkMonitor creates a monitor that starts in the online state.
func NewNetworkMonitor() *NetworkMonitor {
	return &NetworkMonitor{
		online:    true,
		listeners: make(map[int]func(bool)),
	}
}

// IsOnline returns the last known connectivity state.
func (m *NetworkMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a connectivity transition reported by the host.
// Listeners fire only on actual edges; repeating the current state is a
// no-op. Listeners are invoked outside the monitor lock.
func (m *NetworkMonitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Subscribe registers a listener for connectivity edges and returns a
// function that removes it. Safe to call the returned function more than
// once.
func (m *NetworkMonitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}
