package main

import (
	"sync"
	"time"
)

// Timer slots. A room holds at most one timer per slot; scheduling under an
// occupied slot cancels the prior timer first.
const (
	SlotPhase   = "phase"
	SlotSpeaker = "speaker"
	SlotHunter  = "hunter"
)

type timerKey struct {
	roomID string
	slot   string
}

// TimerService owns every scheduled-in-the-future callback, keyed by room
// and slot. It replaces ad hoc timeout maps: no orphaned timers, no double
// resolution.
type TimerService struct {
	mu     sync.Mutex
	timers map[timerKey]*time.Timer
}

func NewTimerService() *TimerService {
	return &TimerService{timers: make(map[timerKey]*time.Timer)}
}

// Schedule arms fn to run after d, cancelling any timer already held under
// the same room and slot.
func (ts *TimerService) Schedule(roomID, slot string, d time.Duration, fn func()) {
	key := timerKey{roomID: roomID, slot: slot}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if prev, ok := ts.timers[key]; ok {
		prev.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		ts.mu.Lock()
		// A reschedule may have replaced this timer between firing and
		// acquiring the lock; only the current holder may run.
		if ts.timers[key] != t {
			ts.mu.Unlock()
			return
		}
		delete(ts.timers, key)
		ts.mu.Unlock()
		fn()
	})
	ts.timers[key] = t
}

// Cancel stops the timer in a slot, if any.
func (ts *TimerService) Cancel(roomID, slot string) {
	key := timerKey{roomID: roomID, slot: slot}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.timers[key]; ok {
		t.Stop()
		delete(ts.timers, key)
	}
}

// CancelRoom drops every timer belonging to a room. Called on room deletion.
func (ts *TimerService) CancelRoom(roomID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for key, t := range ts.timers {
		if key.roomID == roomID {
			t.Stop()
			delete(ts.timers, key)
		}
	}
}

// active reports whether a slot currently holds a timer. Test hook.
func (ts *TimerService) active(roomID, slot string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.timers[timerKey{roomID: roomID, slot: slot}]
	return ok
}
