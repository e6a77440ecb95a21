package main

import (
	"log"
	"strings"
)

// WinChecker decides whether the game has ended given the living actors.
// Pluggable so variant win rules can replace the default.
type WinChecker func(alive []*Actor) (ended bool, winner string, message string)

// lastFactionStanding is the default rule: werewolves win when no
// non-werewolf survives, villagers win when no werewolf survives.
func lastFactionStanding(alive []*Actor) (bool, string, string) {
	var wolves, others int
	for _, a := range alive {
		if a.Role == RoleWerewolf {
			wolves++
		} else {
			others++
		}
	}
	switch {
	case wolves == 0 && others == 0:
		return true, "", "No one survived the night."
	case wolves == 0:
		return true, RoleVillager, "All werewolves are dead. The village wins."
	case others == 0:
		return true, RoleWerewolf, "The werewolves have taken the village."
	default:
		return false, "", ""
	}
}

// Engine drives every room through its lifecycle and game phases. All
// dependencies are injected; there is no process-wide game state.
type Engine struct {
	reg      *Registry
	timers   *TimerService
	notify   Notifier
	cfg      AppConfig
	logger   *AppLogger
	narrator Narrator
	win      WinChecker
}

func NewEngine(reg *Registry, timers *TimerService, notify Notifier, cfg AppConfig, logger *AppLogger) *Engine {
	return &Engine{
		reg:    reg,
		timers: timers,
		notify: notify,
		cfg:    cfg,
		logger: logger,
		win:    lastFactionStanding,
	}
}

// notifyRoom fans an event out to every human actor in the room. Callers
// hold the room lock.
func (e *Engine) notifyRoom(room *Room, event Event) {
	for _, a := range room.actorList() {
		if !a.IsAI {
			e.notify.Send(a.UserID, event)
		}
	}
}

func (e *Engine) notifyRoleChannel(room *Room, event Event) {
	for _, a := range room.actorList() {
		if !a.IsAI && a.Role == RoleWerewolf {
			e.notify.Send(a.UserID, event)
		}
	}
}

func (e *Engine) pushMemberSnapshot(room *Room) {
	e.notifyRoom(room, Event{Type: EventRoomMembers, Data: room.memberSnapshot()})
}

func (e *Engine) pushGameSnapshot(room *Room) {
	e.notifyRoom(room, Event{Type: EventGameState, Data: room.gameSnapshot()})
}

// broadcastRooms pushes the rooms-list snapshot to every bound session.
// Must not be called while holding a room lock.
func (e *Engine) broadcastRooms() {
	rooms := e.reg.Rooms()
	summaries := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		summaries = append(summaries, room.summary())
		room.mu.Unlock()
	}
	e.notify.Broadcast(Event{Type: EventRoomsList, Data: summaries})
}

// SendRoomsList pushes the rooms-list snapshot to one user on request.
// Must not be called while holding a room lock.
func (e *Engine) SendRoomsList(userID string) {
	rooms := e.reg.Rooms()
	summaries := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		summaries = append(summaries, room.summary())
		room.mu.Unlock()
	}
	e.notify.Send(userID, Event{Type: EventRoomsList, Data: summaries})
}

// JoinRoom places an actor in a room, leaving any previous room first.
// Joining a room you are already in is a no-op success.
func (e *Engine) JoinRoom(roomID, userID, username, avatarRef string) error {
	if prev, ok := e.reg.roomOf(userID); ok && prev.ID != roomID {
		e.LeaveRoom(prev.ID, userID)
	}

	room := e.reg.GetOrCreateRoom(roomID, userID, username)
	room.mu.Lock()
	room.touch()

	if existing, ok := room.actors[userID]; ok {
		// Upsert in place, never replace: in-game flags survive a rejoin.
		existing.Username = username
		if avatarRef != "" {
			existing.AvatarRef = avatarRef
		}
		e.deliverHistory(room, userID)
		room.mu.Unlock()
		return nil
	}

	if len(room.actors) >= maxRoomActors {
		room.mu.Unlock()
		return capacityError("Room %s is full", roomID)
	}

	actor := &Actor{UserID: userID, Username: username, AvatarRef: avatarRef, IsAlive: true}
	if userID == room.CreatorID {
		actor.IsOwner = true
	}
	room.actors[userID] = actor

	msg := room.systemMessage(ChannelMain, username+" joined the room")
	e.notifyRoom(room, Event{Type: EventChat, Data: msg})
	e.pushMemberSnapshot(room)
	e.deliverHistory(room, userID)
	room.mu.Unlock()

	log.Printf("Player %s (%s) joined room %s", userID, username, roomID)
	e.broadcastRooms()
	return nil
}

// deliverHistory re-sends the retained chat lines to one user. The role
// channel carries werewolf night talk, so only werewolves get it back.
// Callers hold the room lock.
func (e *Engine) deliverHistory(room *Room, userID string) {
	channels := []string{ChannelMain, ChannelGame}
	if a, ok := room.actors[userID]; ok && a.Role == RoleWerewolf {
		channels = append(channels, ChannelRole)
	}
	for _, channel := range channels {
		for _, line := range room.history(channel) {
			e.notify.Send(userID, Event{Type: EventChat, Data: line})
		}
	}
}

// LeaveRoom removes an actor. Ownership transfers to the lexically-first
// remaining human; an emptied room is deleted with all its timers.
func (e *Engine) LeaveRoom(roomID, userID string) error {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return validationError("Room %s does not exist", roomID)
	}

	room.mu.Lock()
	actor, ok := room.actors[userID]
	if !ok {
		room.mu.Unlock()
		return stateConflictError("You are not in room %s", roomID)
	}
	wasOwner := actor.IsOwner
	delete(room.actors, userID)
	room.touch()

	if len(room.actors) == 0 {
		room.mu.Unlock()
		e.timers.CancelRoom(roomID)
		e.reg.DeleteRoom(roomID)
		e.broadcastRooms()
		return nil
	}

	if wasOwner {
		room.transferOwnership()
	}
	msg := room.systemMessage(ChannelMain, actor.Username+" left the room")
	e.notifyRoom(room, Event{Type: EventChat, Data: msg})
	e.pushMemberSnapshot(room)
	room.mu.Unlock()

	log.Printf("Player %s left room %s", userID, roomID)
	e.broadcastRooms()
	return nil
}

// ToggleReady flips an actor's ready flag outside of a running game.
func (e *Engine) ToggleReady(roomID, userID string) error {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return validationError("Room %s does not exist", roomID)
	}
	room.mu.Lock()
	actor, ok := room.actors[userID]
	if !ok {
		room.mu.Unlock()
		return stateConflictError("You are not in room %s", roomID)
	}
	if room.game != nil && room.game.IsActive {
		room.mu.Unlock()
		return stateConflictError("Game already in progress")
	}
	actor.IsReady = !actor.IsReady
	room.touch()
	e.pushMemberSnapshot(room)
	room.mu.Unlock()
	e.broadcastRooms()
	return nil
}

// AIPlayerSpec names an AI actor to add.
type AIPlayerSpec struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarRef string `json:"avatarRef,omitempty"`
}

// AddAIPlayers seats AI actors. Duplicate ids are rejected before any actor
// is added, so the call either applies fully or not at all.
func (e *Engine) AddAIPlayers(roomID, callerID string, specs []AIPlayerSpec) error {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return validationError("Room %s does not exist", roomID)
	}
	room.mu.Lock()
	if _, ok := room.actors[callerID]; !ok {
		room.mu.Unlock()
		return stateConflictError("You are not in room %s", roomID)
	}
	if room.game != nil && room.game.IsActive {
		room.mu.Unlock()
		return stateConflictError("Game already in progress")
	}
	seen := make(map[string]bool)
	for _, spec := range specs {
		if spec.UserID == "" {
			room.mu.Unlock()
			return validationError("AI player is missing a userId")
		}
		if seen[spec.UserID] {
			room.mu.Unlock()
			return validationError("Duplicate AI player id %s", spec.UserID)
		}
		seen[spec.UserID] = true
		if _, ok := room.actors[spec.UserID]; ok {
			room.mu.Unlock()
			return stateConflictError("Player %s is already in the room", spec.UserID)
		}
	}
	if len(room.actors)+len(specs) > maxRoomActors {
		room.mu.Unlock()
		return capacityError("Room %s is full", roomID)
	}
	for _, spec := range specs {
		room.actors[spec.UserID] = &Actor{
			UserID:    spec.UserID,
			Username:  spec.Username,
			AvatarRef: spec.AvatarRef,
			IsAI:      true,
			IsReady:   true,
			IsAlive:   true,
		}
	}
	room.touch()
	e.pushMemberSnapshot(room)
	room.mu.Unlock()
	e.broadcastRooms()
	return nil
}

// SendMessage posts a chat line. The role channel is gated: werewolves only
// at night, the current speaker only during day discussion.
func (e *Engine) SendMessage(roomID, userID, channel, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return validationError("Message is empty")
	}
	if channel != ChannelMain && channel != ChannelGame && channel != ChannelRole {
		return validationError("Unknown channel %q", channel)
	}

	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return validationError("Room %s does not exist", roomID)
	}
	room.mu.Lock()
	defer room.mu.Unlock()

	actor, ok := room.actors[userID]
	if !ok {
		return stateConflictError("You are not in room %s", roomID)
	}

	wolvesOnly := false
	if channel == ChannelRole && room.game != nil && room.game.IsActive {
		g := room.game
		switch g.Phase {
		case PhaseNight:
			if actor.Role != RoleWerewolf {
				return permissionError("Only werewolves may talk at night")
			}
			wolvesOnly = true
		case PhaseDay:
			if speaker := g.currentSpeaker(); speaker != userID {
				return permissionError("Not your turn to speak")
			}
		}
	}

	msg := room.appendMessage(ChatMessage{
		UserID:   userID,
		Username: actor.Username,
		Channel:  channel,
		Text:     text,
	})
	room.touch()
	if wolvesOnly {
		e.notifyRoleChannel(room, Event{Type: EventChat, Data: msg})
	} else {
		e.notifyRoom(room, Event{Type: EventChat, Data: msg})
	}
	return nil
}

// StartGame deals roles and seats and enters the first night. The room must
// be in the ready state.
func (e *Engine) StartGame(roomID, callerID string) error {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return validationError("Room %s does not exist", roomID)
	}
	room.mu.Lock()
	if _, ok := room.actors[callerID]; !ok {
		room.mu.Unlock()
		return stateConflictError("You are not in room %s", roomID)
	}
	if state := room.lifecycleState(); state != RoomReady {
		room.mu.Unlock()
		return stateConflictError("Room is not ready to start (state: %s)", state)
	}

	room.game = newGameState()
	assignRoles(e.reg, room, e.cfg.roleCounts())
	room.touch()

	for _, a := range room.actorList() {
		if a.IsAI {
			continue
		}
		e.notify.Send(a.UserID, Event{Type: EventRoleAssigned, Data: map[string]any{
			"role":        a.Role,
			"description": roleDescriptions[a.Role],
			"position":    a.Position,
		}})
	}
	msg := room.systemMessage(ChannelGame, "The game has started. Night falls on the village.")
	e.notifyRoom(room, Event{Type: EventChat, Data: msg})

	log.Printf("Game started in room %s with %d players", roomID, len(room.actors))
	e.enterNight(room)
	room.mu.Unlock()

	e.broadcastRooms()
	return nil
}

// EndGame tears the game down and returns the room to the waiting state.
// Owner-only: abandoning a live game is the owner's call.
func (e *Engine) EndGame(roomID, callerID string) error {
	return e.resetRoomState(roomID, callerID, "The game was ended by the room owner.")
}

// ResetRoom clears game state, actor flags and all chat channels.
func (e *Engine) ResetRoom(roomID, callerID string) error {
	return e.resetRoomState(roomID, callerID, "The room was reset.")
}

func (e *Engine) resetRoomState(roomID, callerID, announcement string) error {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return validationError("Room %s does not exist", roomID)
	}
	room.mu.Lock()
	caller, ok := room.actors[callerID]
	if !ok {
		room.mu.Unlock()
		return stateConflictError("You are not in room %s", roomID)
	}
	if !caller.IsOwner {
		room.mu.Unlock()
		return permissionError("Only the room owner can do that")
	}

	room.game = nil
	room.resetActors()
	room.clearChannels()
	room.touch()
	room.mu.Unlock()
	e.timers.CancelRoom(roomID)

	room.mu.Lock()
	msg := room.systemMessage(ChannelMain, announcement)
	e.notifyRoom(room, Event{Type: EventChat, Data: msg})
	e.pushMemberSnapshot(room)
	room.mu.Unlock()

	log.Printf("Room %s reset by %s", roomID, callerID)
	e.broadcastRooms()
	return nil
}

// RestartGame replaces an ended game with a fresh one for the same roster.
func (e *Engine) RestartGame(roomID, callerID string) error {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return validationError("Room %s does not exist", roomID)
	}
	room.mu.Lock()
	caller, ok := room.actors[callerID]
	if !ok {
		room.mu.Unlock()
		return stateConflictError("You are not in room %s", roomID)
	}
	if !caller.IsOwner {
		room.mu.Unlock()
		return permissionError("Only the room owner can restart the game")
	}
	if room.game == nil || room.game.IsActive {
		room.mu.Unlock()
		return stateConflictError("No finished game to restart")
	}
	if len(room.actors) < 2 {
		room.mu.Unlock()
		return stateConflictError("Not enough players to restart")
	}

	room.resetActors()
	room.game = newGameState()
	assignRoles(e.reg, room, e.cfg.roleCounts())
	room.touch()

	for _, a := range room.actorList() {
		if a.IsAI {
			continue
		}
		e.notify.Send(a.UserID, Event{Type: EventRoleAssigned, Data: map[string]any{
			"role":        a.Role,
			"description": roleDescriptions[a.Role],
			"position":    a.Position,
		}})
	}
	msg := room.systemMessage(ChannelGame, "A new game begins. Night falls on the village.")
	e.notifyRoom(room, Event{Type: EventChat, Data: msg})

	log.Printf("Game restarted in room %s", roomID)
	e.enterNight(room)
	room.mu.Unlock()

	e.broadcastRooms()
	return nil
}

// RoleList returns every role with its description, for the pre-game peek.
func (e *Engine) RoleList() map[string]string {
	out := make(map[string]string, len(roleDescriptions))
	for role, desc := range roleDescriptions {
		out[role] = desc
	}
	return out
}
