package pairsync

import (
	"testing"
)

func TestNetworkMonitor_InitialStateOnline(t *testing.T) {
	m := NewNetworkMonitor()
	if !m.IsOnline() {
		t.Error("monitor should start online")
	}
}

func TestNetworkMonitor_EdgeTriggered(t *testing.T) {
	m := NewNetworkMonitor()

	var transitions []bool
	unsub := m.Subscribe(func(online bool) {
		transitions = append(transitions, online)
	})
	defer unsub()

	m.SetOnline(true) // no change, no callback
	m.SetOnline(false)
	m.SetOnline(false) // no change, no callback
	m.SetOnline(true)

	want := []bool{false, true}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %d: %v", len(want), len(transitions), transitions)
	}
	for i, v := range want {
		if transitions[i] != v {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], v)
		}
	}
}

func TestNetworkMonitor_Unsubscribe(t *testing.T) {
	m := NewNetworkMonitor()

	calls := 0
	unsub := m.Subscribe(func(bool) { calls++ })

	m.SetOnline(false)
	unsub()
	m.SetOnline(true)

	if calls != 1 {
		t.Errorf("expected 1 callback before unsubscribe, got %d", calls)
	}

	// Unsubscribing twice is harmless.
	unsub()
}

func TestNetworkMonitor_MultipleListeners(t *testing.T) {
	m := NewNetworkMonitor()

	var a, b int
	m.Subscribe(func(bool) { a++ })
	m.Subscribe(func(bool) { b++ })

	m.SetOnline(false)
	m.SetOnline(true)

	if a != 2 || b != 2 {
		t.Errorf("both listeners should see both transitions, got a=%d b=%d", a, b)
	}
}
