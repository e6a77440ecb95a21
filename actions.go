package main

import "log"

// Action kinds accepted by skipAction.
const (
	ActionNight = "night"
	ActionVote  = "vote"
)

// Each handler here validates one actor command against phase, role and
// target legality, records the intent, and re-checks early phase
// completion. Tallying happens only at phase resolution. A rejected call
// leaves the room exactly as it was.

// PlayerVote casts or moves a day-vote ballot.
func (e *Engine) PlayerVote(roomID, voterID, targetID string) error {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return validationError("Room %s does not exist", roomID)
	}
	room.mu.Lock()
	defer room.mu.Unlock()

	g := room.game
	if g == nil || !g.IsActive || g.Phase != PhaseVote {
		return permissionError("Voting is only allowed during the vote phase")
	}
	if g.PendingHunter != "" {
		return stateConflictError("The vote is over; waiting for the hunter")
	}
	voter, ok := room.actors[voterID]
	if !ok {
		return stateConflictError("You are not in this game")
	}
	if !voter.IsAlive {
		return stateConflictError("Dead players cannot vote")
	}
	if voterID == targetID {
		return validationError("You cannot vote for yourself")
	}
	target, ok := room.actors[targetID]
	if !ok {
		return validationError("Target not found")
	}
	if !target.IsAlive {
		return stateConflictError("Cannot vote for a dead player")
	}

	g.recordVote(voterID, targetID)
	voter.HasVoted = true
	g.Completed[voterID] = true
	room.touch()

	log.Printf("Room %s: %s voted to eliminate %s", roomID, voter.Username, target.Username)
	e.notifyRoom(room, Event{Type: EventVoteTally, Data: e.tallySnapshot(room, nil)})
	e.checkVoteCompletion(room)
	return nil
}

// WerewolfVote records a werewolf's kill vote. Once every living werewolf
// has voted, the tentative victim is fixed and the witch is prompted.
func (e *Engine) WerewolfVote(roomID, voterID, targetID string) error {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return validationError("Room %s does not exist", roomID)
	}
	room.mu.Lock()
	defer room.mu.Unlock()

	g := room.game
	if g == nil || !g.IsActive || g.Phase != PhaseNight {
		return permissionError("Kill votes are only allowed during the night")
	}
	voter, ok := room.actors[voterID]
	if !ok {
		return stateConflictError("You are not in this game")
	}
	if voter.Role != RoleWerewolf {
		return permissionError("Only werewolves can vote at night")
	}
	if !voter.IsAlive {
		return stateConflictError("Dead players cannot vote")
	}
	target, ok := room.actors[targetID]
	if !ok {
		return validationError("Target not found")
	}
	if !target.IsAlive {
		return stateConflictError("Cannot target a dead player")
	}
	if target.Role == RoleWerewolf {
		return validationError("Werewolves cannot target their own")
	}

	g.Night.WerewolfVotes[voterID] = targetID
	voter.NightActionDone = true
	g.Completed[voterID] = true
	room.touch()

	log.Printf("Room %s: werewolf %s voted to kill %s", roomID, voter.Username, target.Username)
	e.maybeSetNightVictim(room)
	e.checkNightCompletion(room)
	return nil
}

// SeerCheck reveals privately whether the target is a werewolf. One check
// per night.
func (e *Engine) SeerCheck(roomID, seerID, targetID string) error {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return validationError("Room %s does not exist", roomID)
	}
	room.mu.Lock()
	defer room.mu.Unlock()

	g := room.game
	if g == nil || !g.IsActive || g.Phase != PhaseNight {
		return permissionError("You can only investigate during the night")
	}
	seer, ok := room.actors[seerID]
	if !ok {
		return stateConflictError("You are not in this game")
	}
	if seer.Role != RoleSeer {
		return permissionError("Only the seer can investigate")
	}
	if !seer.IsAlive {
		return stateConflictError("Dead players cannot act")
	}
	if g.Night.SeerCheck != "" {
		return stateConflictError("You have already investigated this night")
	}
	if seerID == targetID {
		return validationError("You cannot investigate yourself")
	}
	target, ok := room.actors[targetID]
	if !ok {
		return validationError("Target not found")
	}
	if !target.IsAlive {
		return stateConflictError("Cannot investigate a dead player")
	}

	g.Night.SeerCheck = targetID
	seer.NightActionDone = true
	g.Completed[seerID] = true
	room.touch()

	e.notify.Send(seerID, Event{Type: EventSeerResult, Data: map[string]any{
		"round":      g.Round,
		"targetId":   targetID,
		"username":   target.Username,
		"isWerewolf": target.Role == RoleWerewolf,
	}})
	log.Printf("Room %s: seer %s investigated %s", roomID, seer.Username, target.Username)
	e.checkNightCompletion(room)
	return nil
}

// Witch actions.
const (
	WitchSave   = "save"
	WitchPoison = "poison"
)

// WitchAction spends the antidote or the poison. The antidote only works on
// tonight's victim, and never on the witch herself on the first night.
func (e *Engine) WitchAction(roomID, witchID, action, targetID string) error {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return validationError("Room %s does not exist", roomID)
	}
	room.mu.Lock()
	defer room.mu.Unlock()

	g := room.game
	if g == nil || !g.IsActive || g.Phase != PhaseNight {
		return permissionError("Potions can only be used during the night")
	}
	witch, ok := room.actors[witchID]
	if !ok {
		return stateConflictError("You are not in this game")
	}
	if witch.Role != RoleWitch {
		return permissionError("Only the witch can use potions")
	}
	if !witch.IsAlive {
		return stateConflictError("Dead players cannot act")
	}

	switch action {
	case WitchSave:
		if !g.WitchItems.HasAntidote {
			return stateConflictError("The antidote has already been used")
		}
		if g.LastNightDeath == "" || targetID != g.LastNightDeath {
			return validationError("The antidote only works on tonight's victim")
		}
		if g.IsFirstNight && targetID == witchID {
			return permissionError("The witch cannot save herself on the first night")
		}
		g.Night.WitchSave = targetID
		g.WitchItems.HasAntidote = false
	case WitchPoison:
		if !g.WitchItems.HasPoison {
			return stateConflictError("The poison has already been used")
		}
		if targetID == witchID {
			return validationError("The witch cannot poison herself")
		}
		target, ok := room.actors[targetID]
		if !ok {
			return validationError("Target not found")
		}
		if !target.IsAlive {
			return stateConflictError("Cannot poison a dead player")
		}
		g.Night.WitchPoison = targetID
		g.WitchItems.HasPoison = false
	default:
		return validationError("Unknown witch action %q", action)
	}

	witch.NightActionDone = true
	g.Completed[witchID] = true
	room.touch()

	log.Printf("Room %s: witch %s used %s on %s", roomID, witch.Username, action, targetID)
	e.checkNightCompletion(room)
	return nil
}

// HunterShoot fires the just-eliminated hunter's revenge shot.
func (e *Engine) HunterShoot(roomID, hunterID, targetID string) error {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return validationError("Room %s does not exist", roomID)
	}
	room.mu.Lock()
	defer room.mu.Unlock()

	g := room.game
	if g == nil || !g.IsActive {
		return permissionError("No game in progress")
	}
	if g.PendingHunter == "" || g.PendingHunter != hunterID {
		return permissionError("You have no revenge shot to take")
	}
	hunter, ok := room.actors[hunterID]
	if !ok {
		return stateConflictError("You are not in this game")
	}
	if hunter.IsAlive {
		return stateConflictError("The revenge shot is only available when eliminated")
	}
	target, ok := room.actors[targetID]
	if !ok {
		return validationError("Target not found")
	}
	if !target.IsAlive {
		return stateConflictError("Cannot shoot a dead player")
	}

	e.timers.Cancel(roomID, SlotHunter)
	e.applyHunterShot(room, hunter, target)
	return nil
}

// SkipAction marks an actor's required action complete without effect.
// Calling it twice is the same as calling it once.
func (e *Engine) SkipAction(roomID, userID, kind string) error {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return validationError("Room %s does not exist", roomID)
	}
	room.mu.Lock()
	defer room.mu.Unlock()

	g := room.game
	if g == nil || !g.IsActive {
		return permissionError("No game in progress")
	}
	actor, ok := room.actors[userID]
	if !ok {
		return stateConflictError("You are not in this game")
	}
	if !actor.IsAlive {
		return stateConflictError("Dead players cannot act")
	}

	switch kind {
	case ActionNight:
		if g.Phase != PhaseNight {
			return permissionError("There is no night action to skip")
		}
		actor.NightActionDone = true
		g.Completed[userID] = true
		room.touch()
		e.checkNightCompletion(room)
	case ActionVote:
		if g.Phase != PhaseVote {
			return permissionError("There is no vote to skip")
		}
		if g.PendingHunter != "" {
			return stateConflictError("The vote is over; waiting for the hunter")
		}
		g.Completed[userID] = true
		room.touch()
		e.checkVoteCompletion(room)
	default:
		return validationError("Unknown action kind %q", kind)
	}
	return nil
}

// ForceNextPhase resolves the current phase immediately. Owner-only; it
// takes the same resolution path the deadline timer would.
func (e *Engine) ForceNextPhase(roomID, callerID string) error {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return validationError("Room %s does not exist", roomID)
	}
	room.mu.Lock()
	defer room.mu.Unlock()

	caller, ok := room.actors[callerID]
	if !ok {
		return stateConflictError("You are not in room %s", roomID)
	}
	if !caller.IsOwner {
		return permissionError("Only the room owner can force the next phase")
	}
	g := room.game
	if g == nil || !g.IsActive {
		return stateConflictError("No game in progress")
	}

	log.Printf("Room %s: owner %s forced phase %s to resolve", roomID, callerID, g.Phase)
	if g.PendingHunter != "" {
		e.timers.Cancel(roomID, SlotHunter)
		e.autoHunterShot(room)
		return nil
	}
	switch g.Phase {
	case PhaseNight:
		e.resolveNight(room)
	case PhaseDay:
		e.timers.Cancel(roomID, SlotSpeaker)
		e.enterVote(room)
	case PhaseVote:
		e.resolveVote(room)
	}
	return nil
}

// EndSpeech lets the current speaker yield their day-discussion turn early.
func (e *Engine) EndSpeech(roomID, userID string) error {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return validationError("Room %s does not exist", roomID)
	}
	room.mu.Lock()
	defer room.mu.Unlock()

	g := room.game
	if g == nil || !g.IsActive || g.Phase != PhaseDay {
		return permissionError("There is no speech to end")
	}
	if g.currentSpeaker() != userID {
		return permissionError("Not your turn to speak")
	}
	e.advanceSpeaker(room)
	return nil
}
