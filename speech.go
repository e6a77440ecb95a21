package main

import "log"

// Day discussion: living actors speak one at a time in ascending seating
// order. Each turn has an exclusive window; the speaker may yield early with
// endSpeech and the timer yields for them otherwise.

// currentSpeaker returns the userId holding the floor, or "" outside a
// speaking turn.
func (g *GameState) currentSpeaker() string {
	if g.Phase != PhaseDay || g.SpeakerIdx < 0 || g.SpeakerIdx >= len(g.SpeakerOrder) {
		return ""
	}
	return g.SpeakerOrder[g.SpeakerIdx]
}

// advanceSpeaker hands the floor to the next living speaker, entering the
// vote phase after the last one. Callers hold the room lock.
func (e *Engine) advanceSpeaker(room *Room) {
	g := room.game
	e.timers.Cancel(room.ID, SlotSpeaker)

	for {
		g.SpeakerIdx++
		if g.SpeakerIdx >= len(g.SpeakerOrder) {
			e.enterVote(room)
			return
		}
		// Skip actors who died or left since the order was built.
		if a, ok := room.actors[g.currentSpeaker()]; ok && a.IsAlive {
			break
		}
	}

	speaker := room.actors[g.currentSpeaker()]
	msg := room.systemMessage(ChannelGame, "It is "+speaker.Username+"'s turn to speak.")
	e.notifyRoom(room, Event{Type: EventChat, Data: msg})
	e.notifyRoom(room, Event{Type: EventSpeakerTurn, Data: map[string]any{
		"userId":   speaker.UserID,
		"username": speaker.Username,
		"position": speaker.Position,
	}})
	log.Printf("Room %s: speaker turn for %s (position %d)", room.ID, speaker.Username, speaker.Position)

	seq := g.phaseSeq
	idx := g.SpeakerIdx
	e.timers.Schedule(room.ID, SlotSpeaker, e.cfg.speechTimeout(), func() {
		e.speakerDeadline(room.ID, seq, idx)
	})
	if speaker.IsAI {
		e.scheduleAISpeech(room, speaker.UserID)
	}
}

// speakerDeadline ends an overrun turn. The index guard makes a stale fire
// for an already-advanced turn a no-op.
func (e *Engine) speakerDeadline(roomID string, seq, idx int) {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	g := room.game
	if g == nil || !g.IsActive || g.phaseSeq != seq || g.Phase != PhaseDay || g.SpeakerIdx != idx {
		return
	}
	log.Printf("Room %s: speaker turn timed out", roomID)
	e.advanceSpeaker(room)
}
