package main

import (
	"testing"
	"time"
)

func backdate(room *Room, age time.Duration) {
	room.mu.Lock()
	room.lastActivity = time.Now().Add(-age)
	room.mu.Unlock()
}

func TestSweepReclaimsOnlyStaleDeadRooms(t *testing.T) {
	env := newTestEnv(t)

	// Idle room with no actors at all.
	if _, err := env.reg.CreateRoom("ghost", "nobody", "nobody"); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	// Idle room populated only by AI actors.
	env.seat("bots", "carol")
	if err := env.engine.AddAIPlayers("bots", "carol", []AIPlayerSpec{{UserID: "ai-1", Username: "Grumpy Miller"}}); err != nil {
		t.Fatalf("AddAIPlayers failed: %v", err)
	}
	if err := env.engine.LeaveRoom("bots", "carol"); err != nil {
		t.Fatalf("LeaveRoom failed: %v", err)
	}

	// Idle room whose game finished.
	env.seat("ended", "a", "b")
	env.startScripted("ended", map[string]string{"a": RoleWerewolf, "b": RoleVillager})
	if err := env.engine.WerewolfVote("ended", "a", "b"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}

	// Idle room with living humans waiting: not reclaimable.
	env.seat("lobby", "dave", "erin")

	// Fresh room: too young to sweep.
	env.seat("fresh", "frank")

	for _, id := range []string{"ghost", "bots", "ended", "lobby"} {
		room, ok := env.reg.GetRoom(id)
		if !ok {
			t.Fatalf("room %s missing", id)
		}
		backdate(room, 2*time.Hour)
	}

	sweeper, err := NewSweeper(env.engine, "", time.Hour)
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}
	sweeper.Sweep()

	for _, id := range []string{"ghost", "bots", "ended"} {
		if _, ok := env.reg.GetRoom(id); ok {
			t.Errorf("room %s should have been swept", id)
		}
	}
	for _, id := range []string{"lobby", "fresh"} {
		if _, ok := env.reg.GetRoom(id); !ok {
			t.Errorf("room %s should have survived the sweep", id)
		}
	}
}

func TestNewSweeperRejectsBadSchedules(t *testing.T) {
	env := newTestEnv(t)
	if _, err := NewSweeper(env.engine, "every full moon", time.Hour); err == nil {
		t.Error("invalid cron spec should be rejected")
	}

	sweeper, err := NewSweeper(env.engine, "@every 1h", time.Hour)
	if err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	sweeper.Start()
	sweeper.Stop()
}
