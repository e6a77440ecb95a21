package main

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper reclaims abandoned rooms on a cron schedule. A room is stale when
// it has seen no activity for the TTL and is either empty, populated only by
// AI actors, or sitting in the ended state.
type Sweeper struct {
	engine *Engine
	ttl    time.Duration
	c      *cron.Cron
}

func NewSweeper(engine *Engine, schedule string, ttl time.Duration) (*Sweeper, error) {
	s := &Sweeper{engine: engine, ttl: ttl, c: cron.New()}
	if schedule == "" {
		return s, nil
	}
	if _, err := s.c.AddFunc(schedule, s.Sweep); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) Start() { s.c.Start() }

func (s *Sweeper) Stop() { s.c.Stop() }

// Sweep runs one pass. Exposed so tests and admin tooling can trigger it
// without waiting for the schedule.
func (s *Sweeper) Sweep() {
	cutoff := time.Now().Add(-s.ttl)
	var swept []string
	for _, room := range s.engine.reg.Rooms() {
		room.mu.Lock()
		stale := room.lastActivity.Before(cutoff) && s.reclaimable(room)
		room.mu.Unlock()
		if stale {
			swept = append(swept, room.ID)
		}
	}
	for _, roomID := range swept {
		s.engine.timers.CancelRoom(roomID)
		s.engine.reg.DeleteRoom(roomID)
		log.Printf("Sweeper: reclaimed stale room %s", roomID)
		s.engine.logger.LogGameEvent(roomID, "room swept after %s idle", s.ttl)
	}
	if len(swept) > 0 {
		s.engine.broadcastRooms()
	}
}

// reclaimable reports whether a room can be deleted. Caller holds room.mu.
func (s *Sweeper) reclaimable(room *Room) bool {
	humans := 0
	for _, a := range room.actors {
		if !a.IsAI {
			humans++
		}
	}
	if humans == 0 {
		return true
	}
	return room.lifecycleState() == RoomEnded
}
