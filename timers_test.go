package main

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleReplacesTheSlotHolder(t *testing.T) {
	ts := NewTimerService()
	defer ts.CancelRoom("r")

	var slow, fast atomic.Int32
	ts.Schedule("r", SlotPhase, time.Hour, func() { slow.Add(1) })
	ts.Schedule("r", SlotPhase, 10*time.Millisecond, func() { fast.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for fast.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fast.Load() != 1 {
		t.Fatal("replacement timer did not fire")
	}
	if slow.Load() != 0 {
		t.Error("replaced timer fired anyway")
	}
	if ts.active("r", SlotPhase) {
		t.Error("slot should be empty after firing")
	}
}

func TestDisplacedTimerNeverRunsItsCallback(t *testing.T) {
	ts := NewTimerService()
	defer ts.CancelRoom("r")

	var fired atomic.Int32
	ts.Schedule("r", SlotPhase, 10*time.Millisecond, func() { fired.Add(1) })

	// Swap the slot holder out from under the armed timer. When it fires it
	// must notice it lost the slot and return without the callback.
	usurper := time.AfterFunc(time.Hour, func() {})
	defer usurper.Stop()
	key := timerKey{roomID: "r", slot: SlotPhase}
	ts.mu.Lock()
	ts.timers[key] = usurper
	ts.mu.Unlock()

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("displaced timer ran its callback")
	}
	if !ts.active("r", SlotPhase) {
		t.Error("displaced timer removed the holder from its slot")
	}
}

func TestCancelStopsTheTimer(t *testing.T) {
	ts := NewTimerService()
	var fired atomic.Int32
	ts.Schedule("r", SlotPhase, 20*time.Millisecond, func() { fired.Add(1) })
	ts.Cancel("r", SlotPhase)

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("cancelled timer fired")
	}
	if ts.active("r", SlotPhase) {
		t.Error("slot should be empty after cancel")
	}
}

func TestCancelRoomDropsEverySlot(t *testing.T) {
	ts := NewTimerService()
	var fired atomic.Int32
	for _, slot := range []string{SlotPhase, SlotSpeaker, SlotHunter} {
		ts.Schedule("r", slot, 20*time.Millisecond, func() { fired.Add(1) })
	}
	ts.Schedule("other", SlotPhase, time.Hour, func() {})
	defer ts.CancelRoom("other")

	ts.CancelRoom("r")
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("%d timers fired after CancelRoom", fired.Load())
	}
	if !ts.active("other", SlotPhase) {
		t.Error("CancelRoom reached into another room")
	}
}
