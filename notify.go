package main

// Event is a single outbound notification frame. Data is marshalled to JSON
// at the transport boundary, never inspected by the engine.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Event types pushed to clients.
const (
	EventRoomsList     = "rooms_list"
	EventRoomMembers   = "room_members"
	EventRoomState     = "room_state"
	EventGameState     = "game_state"
	EventChat          = "chat"
	EventSystem        = "system"
	EventRoleAssigned  = "role_assigned"
	EventNightAction   = "night_action_required"
	EventWitchAction   = "witch_action_required"
	EventSeerResult    = "seer_result"
	EventVoteRequired  = "vote_required"
	EventSpeakerTurn   = "speaker_turn"
	EventVoteTally     = "vote_tally"
	EventDeath         = "death_announcement"
	EventHunterPrompt  = "hunter_prompt"
	EventGameEnded     = "game_ended"
	EventRoleList      = "role_list"
	EventError         = "error"
)

// Notifier is the outbound boundary. The engine fires events at it and never
// blocks on delivery; the websocket hub is the production implementation and
// tests substitute a recording one.
type Notifier interface {
	Send(userID string, event Event)
	Broadcast(event Event)
}

// sendError pushes a rejection reason to the offending player only.
func sendError(n Notifier, userID string, err error) {
	n.Send(userID, Event{Type: EventError, Data: map[string]string{
		"kind":    errorKind(err),
		"message": err.Error(),
	}})
}
