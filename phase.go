package main

import (
	"fmt"
	"log"
	"sort"
)

// Phase entry and resolution. Every function here runs with the room lock
// held; deadline timers re-acquire it through the *Deadline callbacks and
// verify the phase sequence number so a stale fire resolves nothing.

func (e *Engine) enterNight(room *Room) {
	g := room.game
	g.phaseSeq++
	g.Phase = PhaseNight
	if g.DayCount > 0 {
		// Subsequent nights; the first is set up by newGameState.
		g.resetVotes()
	}
	g.resetNightActions()
	g.Completed = make(map[string]bool)
	g.Required = make(map[string]bool)
	for _, a := range room.aliveActors() {
		a.HasVoted = false
		a.NightActionDone = false
		switch a.Role {
		case RoleWerewolf, RoleSeer, RoleWitch:
			g.Required[a.UserID] = true
		}
	}

	e.logger.LogGameEvent(room.ID, "night %d begins, %d alive", g.Round, len(room.aliveActors()))
	msg := room.systemMessage(ChannelGame, fmt.Sprintf("Night %d falls. The village sleeps.", g.Round))
	e.notifyRoom(room, Event{Type: EventChat, Data: msg})
	e.pushGameSnapshot(room)

	for _, a := range room.aliveActors() {
		if a.IsAI || !g.Required[a.UserID] {
			continue
		}
		e.notify.Send(a.UserID, Event{Type: EventNightAction, Data: map[string]any{
			"role":    a.Role,
			"round":   g.Round,
			"targets": e.nightTargets(room, a),
		}})
	}

	seq := g.phaseSeq
	e.timers.Schedule(room.ID, SlotPhase, e.cfg.nightTimeout(), func() {
		e.phaseDeadline(room.ID, seq)
	})
	e.scheduleAINightActions(room)
	e.checkNightCompletion(room)
}

// nightTargets lists the legal targets for a role's night prompt.
func (e *Engine) nightTargets(room *Room, actor *Actor) []map[string]string {
	var out []map[string]string
	for _, t := range room.aliveByPosition() {
		if actor.Role == RoleWerewolf && t.Role == RoleWerewolf {
			continue
		}
		if actor.Role == RoleSeer && t.UserID == actor.UserID {
			continue
		}
		out = append(out, map[string]string{"userId": t.UserID, "username": t.Username})
	}
	return out
}

// maybeSetNightVictim fixes the tentative kill once every living werewolf
// has voted, then prompts the witch with it. A re-vote recomputes it.
func (e *Engine) maybeSetNightVictim(room *Room) {
	g := room.game
	wolves := room.aliveWithRole(RoleWerewolf)
	for _, w := range wolves {
		if _, ok := g.Night.WerewolfVotes[w.UserID]; !ok {
			return
		}
	}
	victim, _, ok := tallyVotes(g.werewolfVoteCounts())
	if !ok {
		g.LastNightDeath = ""
	} else {
		g.LastNightDeath = victim
	}

	for _, witch := range room.aliveWithRole(RoleWitch) {
		if witch.IsAI {
			continue
		}
		data := map[string]any{
			"hasAntidote": g.WitchItems.HasAntidote,
			"hasPoison":   g.WitchItems.HasPoison,
		}
		if g.LastNightDeath != "" {
			if v, ok := room.actors[g.LastNightDeath]; ok {
				data["victimId"] = v.UserID
				data["victimName"] = v.Username
			}
		}
		e.notify.Send(witch.UserID, Event{Type: EventWitchAction, Data: data})
	}
}

// checkNightCompletion resolves the night early once every required actor
// has acted or skipped. Requirements of actors who died or left lapse.
func (e *Engine) checkNightCompletion(room *Room) {
	g := room.game
	if g == nil || !g.IsActive || g.Phase != PhaseNight {
		return
	}
	for id := range g.Required {
		a, ok := room.actors[id]
		if !ok || !a.IsAlive {
			continue
		}
		if !g.Completed[id] {
			return
		}
	}
	e.resolveNight(room)
}

func (e *Engine) resolveNight(room *Room) {
	g := room.game
	e.timers.Cancel(room.ID, SlotPhase)

	victim, _, ok := tallyVotes(g.werewolfVoteCounts())
	if !ok {
		victim = ""
	}
	g.LastNightDeath = victim

	var deaths []DeathEntry
	saved := false
	if victim != "" {
		if victim == g.Night.WitchSave {
			saved = true
		} else if target, ok := room.actors[victim]; ok && target.IsAlive {
			deaths = append(deaths, applyDeath(room, target, CauseWerewolf, 0))
		}
	}
	if p := g.Night.WitchPoison; p != "" {
		if target, ok := room.actors[p]; ok && target.IsAlive {
			deaths = append(deaths, applyDeath(room, target, CausePoison, 0))
		}
	}
	g.NightSaved = saved

	log.Printf("Room %s: night %d resolved, %d deaths (saved: %v)", room.ID, g.Round, len(deaths), saved)
	e.logger.LogGameEvent(room.ID, "night %d resolved, %d deaths, saved=%v", g.Round, len(deaths), saved)
	e.enterDay(room, deaths, saved)
}

func (e *Engine) enterDay(room *Room, deaths []DeathEntry, saved bool) {
	g := room.game
	g.phaseSeq++
	g.Phase = PhaseDay
	g.DayCount++
	g.Round++
	g.IsFirstNight = false

	var text string
	if len(deaths) == 0 {
		text = "Dawn breaks. The night passed peacefully."
	} else {
		names := make([]string, 0, len(deaths))
		for _, d := range deaths {
			names = append(names, d.Username)
		}
		sort.Strings(names)
		text = "Dawn breaks. Found dead: " + joinNames(names)
	}
	msg := room.systemMessage(ChannelGame, text)
	e.notifyRoom(room, Event{Type: EventChat, Data: msg})
	e.notifyRoom(room, Event{Type: EventDeath, Data: map[string]any{
		"deaths": deaths,
		"saved":  saved,
	}})

	if ended := e.checkWin(room); ended {
		return
	}
	e.pushGameSnapshot(room)

	g.SpeakerOrder = nil
	for _, a := range room.aliveByPosition() {
		g.SpeakerOrder = append(g.SpeakerOrder, a.UserID)
	}
	g.SpeakerIdx = -1
	e.advanceSpeaker(room)
}

func (e *Engine) enterVote(room *Room) {
	g := room.game
	g.phaseSeq++
	g.Phase = PhaseVote
	e.timers.Cancel(room.ID, SlotSpeaker)
	g.resetVotes()
	g.Completed = make(map[string]bool)
	g.Required = make(map[string]bool)
	for _, a := range room.aliveActors() {
		a.HasVoted = false
		g.Required[a.UserID] = true
	}

	msg := room.systemMessage(ChannelGame, "Discussion is over. The village votes.")
	e.notifyRoom(room, Event{Type: EventChat, Data: msg})
	e.notifyRoom(room, Event{Type: EventVoteRequired, Data: map[string]any{
		"round":   g.Round,
		"targets": e.voteTargets(room),
	}})
	e.pushGameSnapshot(room)

	seq := g.phaseSeq
	e.timers.Schedule(room.ID, SlotPhase, e.cfg.voteTimeout(), func() {
		e.phaseDeadline(room.ID, seq)
	})
	e.scheduleAIVotes(room)
	e.checkVoteCompletion(room)
}

func (e *Engine) voteTargets(room *Room) []map[string]string {
	var out []map[string]string
	for _, t := range room.aliveByPosition() {
		out = append(out, map[string]string{"userId": t.UserID, "username": t.Username})
	}
	return out
}

func (e *Engine) checkVoteCompletion(room *Room) {
	g := room.game
	if g == nil || !g.IsActive || g.Phase != PhaseVote || g.PendingHunter != "" {
		return
	}
	for id := range g.Required {
		a, ok := room.actors[id]
		if !ok || !a.IsAlive {
			continue
		}
		if !g.Completed[id] {
			return
		}
	}
	e.resolveVote(room)
}

// VoteTargetTally is one row of the published vote breakdown.
type VoteTargetTally struct {
	UserID   string   `json:"userId"`
	Username string   `json:"username"`
	Count    int      `json:"count"`
	Voters   []string `json:"voters"`
}

// tallySnapshot builds the per-target vote breakdown with voter names.
func (e *Engine) tallySnapshot(room *Room, tiedIDs []string) map[string]any {
	g := room.game
	var rows []VoteTargetTally
	for target, voters := range g.Votes {
		row := VoteTargetTally{UserID: target, Count: len(voters)}
		if a, ok := room.actors[target]; ok {
			row.Username = a.Username
		}
		for voterID := range voters {
			name := voterID
			if a, ok := room.actors[voterID]; ok {
				name = a.Username
			}
			row.Voters = append(row.Voters, name)
		}
		sort.Strings(row.Voters)
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].UserID < rows[j].UserID
	})
	data := map[string]any{"round": g.Round, "tallies": rows}
	if len(tiedIDs) > 0 {
		var names []string
		for _, id := range tiedIDs {
			if a, ok := room.actors[id]; ok {
				names = append(names, a.Username)
			}
		}
		sort.Strings(names)
		data["tiedCandidates"] = names
	}
	return data
}

func (e *Engine) resolveVote(room *Room) {
	g := room.game
	if g.PendingHunter != "" {
		// Ballots are already resolved; the hunter shot decides what happens next.
		return
	}
	e.timers.Cancel(room.ID, SlotPhase)

	counts := g.voteCounts()
	target, max, ok := tallyVotes(counts)
	if !ok {
		var tied []string
		if max > 0 {
			for id, n := range counts {
				if n == max {
					tied = append(tied, id)
				}
			}
			sort.Strings(tied)
		}
		e.notifyRoom(room, Event{Type: EventVoteTally, Data: e.tallySnapshot(room, tied)})
		var text string
		if max == 0 {
			text = "No votes were cast. No one is eliminated."
		} else {
			text = "The vote is tied. No one is eliminated."
		}
		msg := room.systemMessage(ChannelGame, text)
		e.notifyRoom(room, Event{Type: EventChat, Data: msg})
		log.Printf("Room %s: vote resolved with no elimination (max %d)", room.ID, max)
		e.afterElimination(room)
		return
	}

	e.notifyRoom(room, Event{Type: EventVoteTally, Data: e.tallySnapshot(room, nil)})
	eliminated, present := room.actors[target]
	if !present || !eliminated.IsAlive {
		// Plurality target left or died mid-phase; nothing to eliminate.
		e.afterElimination(room)
		return
	}

	entry := applyDeath(room, eliminated, CauseVote, max)
	msg := room.systemMessage(ChannelGame,
		fmt.Sprintf("%s was voted out with %d votes. They were a %s.", eliminated.Username, max, eliminated.Role))
	e.notifyRoom(room, Event{Type: EventChat, Data: msg})
	e.notifyRoom(room, Event{Type: EventDeath, Data: map[string]any{"deaths": []DeathEntry{entry}}})
	log.Printf("Room %s: %s eliminated by vote (%d votes)", room.ID, eliminated.Username, max)
	e.logger.LogGameEvent(room.ID, "%s eliminated by vote with %d votes (role %s)", eliminated.Username, max, eliminated.Role)

	if eliminated.Role == RoleHunter {
		e.suspendForHunter(room, eliminated)
		return
	}
	e.afterElimination(room)
}

// suspendForHunter pauses the vote-to-night transition until the dead
// hunter shoots or the short deadline fires.
func (e *Engine) suspendForHunter(room *Room, hunter *Actor) {
	g := room.game
	g.PendingHunter = hunter.UserID

	msg := room.systemMessage(ChannelGame, hunter.Username+" was the hunter and raises their gun one last time.")
	e.notifyRoom(room, Event{Type: EventChat, Data: msg})
	if !hunter.IsAI {
		e.notify.Send(hunter.UserID, Event{Type: EventHunterPrompt, Data: map[string]any{
			"targets": e.voteTargets(room),
		}})
	}

	seq := g.phaseSeq
	e.timers.Schedule(room.ID, SlotHunter, e.cfg.hunterTimeout(), func() {
		e.hunterDeadline(room.ID, seq)
	})
	if hunter.IsAI {
		e.scheduleAIHunterShot(room)
	}
}

// applyHunterShot kills the target and resumes the suspended flow.
func (e *Engine) applyHunterShot(room *Room, hunter, target *Actor) {
	g := room.game
	g.PendingHunter = ""
	g.Night.HunterShot = target.UserID

	entry := applyDeath(room, target, CauseHunter, 0)
	msg := room.systemMessage(ChannelGame,
		fmt.Sprintf("%s takes %s down with their final shot.", hunter.Username, target.Username))
	e.notifyRoom(room, Event{Type: EventChat, Data: msg})
	e.notifyRoom(room, Event{Type: EventDeath, Data: map[string]any{"deaths": []DeathEntry{entry}}})
	log.Printf("Room %s: hunter %s shot %s", room.ID, hunter.Username, target.Username)

	e.afterElimination(room)
}

// autoHunterShot picks a uniformly random living target when the hunter is
// an AI or the deadline fires without a shot.
func (e *Engine) autoHunterShot(room *Room) {
	g := room.game
	hunter, ok := room.actors[g.PendingHunter]
	if !ok {
		g.PendingHunter = ""
		e.afterElimination(room)
		return
	}
	alive := room.aliveActors()
	if len(alive) == 0 {
		g.PendingHunter = ""
		e.afterElimination(room)
		return
	}
	target := alive[e.reg.intn(len(alive))]
	e.applyHunterShot(room, hunter, target)
}

// afterElimination runs the win check and re-enters night if the game goes
// on.
func (e *Engine) afterElimination(room *Room) {
	if ended := e.checkWin(room); ended {
		return
	}
	e.enterNight(room)
}

// checkWin evaluates the pluggable win rule and finishes the game when it
// fires.
func (e *Engine) checkWin(room *Room) bool {
	ended, winner, message := e.win(room.aliveActors())
	if !ended {
		return false
	}
	e.finishGame(room, winner, message)
	return true
}

// finishGame marks the game ended. Roles stay assigned for the final reveal
// until the room is reset or restarted.
func (e *Engine) finishGame(room *Room, winner, message string) {
	g := room.game
	g.phaseSeq++
	g.Phase = ""
	g.IsActive = false
	g.Winner = winner
	e.timers.CancelRoom(room.ID)

	reveal := make(map[string]string, len(room.actors))
	for _, a := range room.actorList() {
		reveal[a.UserID] = a.Role
	}
	msg := room.systemMessage(ChannelGame, message)
	e.notifyRoom(room, Event{Type: EventChat, Data: msg})
	e.notifyRoom(room, Event{Type: EventGameEnded, Data: map[string]any{
		"winner":  winner,
		"message": message,
		"roles":   reveal,
		"deaths":  append([]DeathEntry(nil), g.DeathRecord...),
	}})
	log.Printf("Room %s: game ended, winner=%q", room.ID, winner)
	e.logger.LogGameEvent(room.ID, "game ended, winner=%q", winner)

	e.narrateEpilogue(room, winner)
}

// Deadline callbacks. Each re-checks room, game and phase sequence; a room
// that vanished between scheduling and firing is a benign no-op.

func (e *Engine) phaseDeadline(roomID string, seq int) {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	g := room.game
	if g == nil || !g.IsActive || g.phaseSeq != seq {
		return
	}
	log.Printf("Room %s: phase %s deadline reached", roomID, g.Phase)
	switch g.Phase {
	case PhaseNight:
		e.resolveNight(room)
	case PhaseVote:
		e.resolveVote(room)
	}
}

func (e *Engine) hunterDeadline(roomID string, seq int) {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	g := room.game
	if g == nil || !g.IsActive || g.phaseSeq != seq || g.PendingHunter == "" {
		return
	}
	log.Printf("Room %s: hunter deadline reached, picking a random target", roomID)
	e.autoHunterShot(room)
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		out := names[0]
		for _, n := range names[1:] {
			out += ", " + n
		}
		return out
	}
}
