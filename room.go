package main

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxRoomActors = 8

// chatHistoryLimit caps each channel at the most recent entries; older lines
// are dropped and re-delivered history never exceeds this.
const chatHistoryLimit = 100

// Chat channels. The role channel is gated: werewolves only at night, the
// current speaker only during day discussion.
const (
	ChannelMain = "main"
	ChannelGame = "game"
	ChannelRole = "role"
)

// Room lifecycle, coarser than the in-game phase.
const (
	RoomWaiting = "waiting"
	RoomReady   = "ready"
	RoomPlaying = "playing"
	RoomEnded   = "ended"
)

// Actor is one participant, human or AI. Role and position are assigned at
// game start and cleared at game end.
type Actor struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarRef string `json:"avatarRef,omitempty"`
	IsAI      bool   `json:"isAI"`
	IsReady   bool   `json:"isReady"`
	IsOwner   bool   `json:"isRoomOwner"`
	Role      string `json:"-"`
	Position  int    `json:"position,omitempty"`
	IsAlive   bool   `json:"isAlive"`

	HasVoted        bool `json:"-"`
	NightActionDone bool `json:"-"`
}

// ChatMessage is one line in a room channel.
type ChatMessage struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId,omitempty"`
	Username string    `json:"username,omitempty"`
	Channel  string    `json:"channel"`
	Text     string    `json:"text"`
	System   bool      `json:"system,omitempty"`
	SentAt   time.Time `json:"sentAt"`
}

// Room owns its actors, chat channels and at most one GameState. All
// mutation happens under mu; rooms never share locks with each other.
type Room struct {
	mu sync.Mutex

	ID        string
	CreatorID string
	CreatedAt time.Time

	actors   map[string]*Actor
	game     *GameState
	channels map[string][]ChatMessage

	// lastActivity feeds the stale-room sweeper.
	lastActivity time.Time
}

func newRoom(roomID, creatorID string) *Room {
	return &Room{
		ID:        roomID,
		CreatorID: creatorID,
		CreatedAt: time.Now(),
		actors:    make(map[string]*Actor),
		channels: map[string][]ChatMessage{
			ChannelMain: nil,
			ChannelGame: nil,
			ChannelRole: nil,
		},
		lastActivity: time.Now(),
	}
}

func (r *Room) touch() {
	r.lastActivity = time.Now()
}

// lifecycleState derives the coarse room status. Callers hold r.mu.
func (r *Room) lifecycleState() string {
	if r.game != nil && r.game.IsActive {
		return RoomPlaying
	}
	if r.game != nil && !r.game.IsActive {
		return RoomEnded
	}
	if len(r.actors) >= 2 && r.allReadyOrAI() {
		return RoomReady
	}
	return RoomWaiting
}

func (r *Room) allReadyOrAI() bool {
	for _, a := range r.actors {
		if !a.IsAI && !a.IsReady {
			return false
		}
	}
	return true
}

// actorList returns actors sorted by userId for stable snapshots.
func (r *Room) actorList() []*Actor {
	out := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// aliveActors returns living actors sorted by userId.
func (r *Room) aliveActors() []*Actor {
	var out []*Actor
	for _, a := range r.actorList() {
		if a.IsAlive {
			out = append(out, a)
		}
	}
	return out
}

// aliveByPosition returns living actors in speaking order.
func (r *Room) aliveByPosition() []*Actor {
	out := r.aliveActors()
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (r *Room) aliveWithRole(role string) []*Actor {
	var out []*Actor
	for _, a := range r.actorList() {
		if a.IsAlive && a.Role == role {
			out = append(out, a)
		}
	}
	return out
}

// transferOwnership hands the room to the lexically-first remaining non-AI
// actor. No-op when only AI actors remain.
func (r *Room) transferOwnership() {
	var next *Actor
	for _, a := range r.actorList() {
		if !a.IsAI {
			next = a
			break
		}
	}
	if next == nil {
		return
	}
	for _, a := range r.actors {
		a.IsOwner = false
	}
	next.IsOwner = true
	r.CreatorID = next.UserID
}

// appendMessage records a chat line, dropping the oldest past the cap.
func (r *Room) appendMessage(msg ChatMessage) ChatMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	lines := append(r.channels[msg.Channel], msg)
	if len(lines) > chatHistoryLimit {
		lines = lines[len(lines)-chatHistoryLimit:]
	}
	r.channels[msg.Channel] = lines
	return msg
}

func (r *Room) systemMessage(channel, text string) ChatMessage {
	return r.appendMessage(ChatMessage{Channel: channel, Text: text, System: true})
}

// history returns a copy of a channel's retained lines.
func (r *Room) history(channel string) []ChatMessage {
	lines := r.channels[channel]
	out := make([]ChatMessage, len(lines))
	copy(out, lines)
	return out
}

func (r *Room) clearChannels() {
	for ch := range r.channels {
		r.channels[ch] = nil
	}
}

// resetActors clears per-game actor state after a game ends.
func (r *Room) resetActors() {
	for _, a := range r.actors {
		a.Role = ""
		a.Position = 0
		a.IsAlive = true
		a.IsReady = false
		a.HasVoted = false
		a.NightActionDone = false
	}
}

// RoomSummary is the rooms-list snapshot entry.
type RoomSummary struct {
	RoomID     string `json:"roomId"`
	CreatorID  string `json:"creatorId"`
	ActorCount int    `json:"actorCount"`
	State      string `json:"state"`
}

func (r *Room) summary() RoomSummary {
	return RoomSummary{
		RoomID:     r.ID,
		CreatorID:  r.CreatorID,
		ActorCount: len(r.actors),
		State:      r.lifecycleState(),
	}
}

// MemberSnapshot is the per-room roster pushed on membership changes.
type MemberSnapshot struct {
	RoomID string   `json:"roomId"`
	State  string   `json:"state"`
	Actors []*Actor `json:"actors"`
}

func (r *Room) memberSnapshot() MemberSnapshot {
	return MemberSnapshot{RoomID: r.ID, State: r.lifecycleState(), Actors: r.actorList()}
}
