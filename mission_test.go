package pairsync

import (
	"testing"
)

func TestMissionProgress_Status(t *testing.T) {
	mp := &MissionProgress{ID: "r1", PairID: "p1", MissionID: "m1", InitiatorID: "alice"}

	if got := mp.Status(); got != StatusPhotoPending {
		t.Errorf("expected %s, got %s", StatusPhotoPending, got)
	}

	mp.PhotoURL = "https://cdn.example.com/photo.jpg"
	if got := mp.Status(); got != StatusAwaitingMessages {
		t.Errorf("expected %s, got %s", StatusAwaitingMessages, got)
	}

	mp.Message1 = "hello"
	if got := mp.Status(); got != StatusAwaitingMessages {
		t.Errorf("one message should still be %s, got %s", StatusAwaitingMessages, got)
	}

	mp.Message2 = "hi back"
	if got := mp.Status(); got != StatusCompleted {
		t.Errorf("expected %s, got %s", StatusCompleted, got)
	}
	if !mp.Terminal() {
		t.Error("completed mission should be terminal")
	}

	t.Run("CancelledWinsOverEverything", func(t *testing.T) {
		cancelled := mp.Clone()
		cancelled.Cancelled = true
		if got := cancelled.Status(); got != StatusCancelled {
			t.Errorf("expected %s, got %s", StatusCancelled, got)
		}
		if !cancelled.Terminal() {
			t.Error("cancelled mission should be terminal")
		}
	})
}

func TestMissionProgress_StatusFor(t *testing.T) {
	mp := &MissionProgress{
		ID:          "r1",
		InitiatorID: "alice",
		PhotoURL:    "https://cdn.example.com/photo.jpg",
		Message1:    "from alice",
	}

	if got := mp.StatusFor("alice"); got != StatusAwaitingPartnerMessage {
		t.Errorf("initiator with own message filled: expected %s, got %s", StatusAwaitingPartnerMessage, got)
	}
	if got := mp.StatusFor("bob"); got != StatusAwaitingMessages {
		t.Errorf("partner still owes a message: expected %s, got %s", StatusAwaitingMessages, got)
	}
}

func TestMissionProgress_MessageSlots(t *testing.T) {
	mp := &MissionProgress{InitiatorID: "alice"}

	if slot := mp.MessageSlot("alice"); slot != 1 {
		t.Errorf("initiator slot = %d, want 1", slot)
	}
	if slot := mp.MessageSlot("bob"); slot != 2 {
		t.Errorf("partner slot = %d, want 2", slot)
	}

	mp.setMessage(1, "from alice")
	mp.setMessage(2, "from bob")

	if got := mp.MessageFor("alice"); got != "from alice" {
		t.Errorf("MessageFor(alice) = %q", got)
	}
	if got := mp.MessageFor("bob"); got != "from bob" {
		t.Errorf("MessageFor(bob) = %q", got)
	}
	if got := mp.PartnerMessageFor("alice"); got != "from bob" {
		t.Errorf("PartnerMessageFor(alice) = %q", got)
	}
	if got := mp.PartnerMessageFor("bob"); got != "from alice" {
		t.Errorf("PartnerMessageFor(bob) = %q", got)
	}
}

func TestTemporaryIDs(t *testing.T) {
	id := NewTemporaryID()
	if !IsTemporaryID(id) {
		t.Errorf("expected %q to be temporary", id)
	}
	if IsTemporaryID("rec-12345") {
		t.Error("remote id misdetected as temporary")
	}
	if id2 := NewTemporaryID(); id2 == id {
		t.Error("temporary ids should be unique")
	}
}

func TestPendingPhotoURL(t *testing.T) {
	if !isPendingPhotoURL(pendingPhotoScheme + "op-1") {
		t.Error("placeholder not detected")
	}
	if isPendingPhotoURL("https://cdn.example.com/photo.jpg") {
		t.Error("real URL misdetected as placeholder")
	}
	if isPendingPhotoURL("") {
		t.Error("empty URL misdetected as placeholder")
	}
}

func TestLogicalClock(t *testing.T) {
	var clock logicalClock

	prev := clock.Next()
	for i := 0; i < 100; i++ {
		ts := clock.Next()
		if ts <= prev {
			t.Fatalf("clock went backwards: %d after %d", ts, prev)
		}
		prev = ts
	}

	t.Run("ObserveAdvances", func(t *testing.T) {
		future := prev + 1_000_000
		clock.Observe(future)
		if ts := clock.Next(); ts <= future {
			t.Errorf("Next() = %d, want > observed %d", ts, future)
		}
	})

	t.Run("ObserveIgnoresPast", func(t *testing.T) {
		before := clock.Next()
		clock.Observe(before - 500)
		if ts := clock.Next(); ts <= before {
			t.Errorf("observing an old timestamp moved the clock backwards")
		}
	})
}
