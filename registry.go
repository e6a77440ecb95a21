package main

import (
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// actionsPerSecond caps how many commands a single session may issue inside
// a one second window. The burst equals the cap so the sixth command in a
// window is the first to be rejected.
const actionsPerSecond = 5

// Session maps a logged-in user to their delivery channel. One session per
// userId: binding a new one invalidates the old.
type Session struct {
	UserID   string
	Username string
	client   *Client
	limiter  *rate.Limiter
}

// Registry is the only cross-room shared state: the room directory and the
// session directory. Everything else is room-scoped.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	sessions map[string]*Session

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewRegistry builds an empty registry. seed makes role shuffles and random
// hunter targets reproducible; pass 0 to seed from the clock.
func NewRegistry(seed int64) *Registry {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Registry{
		rooms:    make(map[string]*Room),
		sessions: make(map[string]*Session),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// intn draws from the shared seeded source. Guarded because room goroutines
// and timer callbacks draw concurrently.
func (reg *Registry) intn(n int) int {
	reg.rngMu.Lock()
	defer reg.rngMu.Unlock()
	return reg.rng.Intn(n)
}

func (reg *Registry) shuffle(n int, swap func(i, j int)) {
	reg.rngMu.Lock()
	defer reg.rngMu.Unlock()
	reg.rng.Shuffle(n, swap)
}

// CreateRoom registers a new room. Fails if the id is taken; the join
// boundary uses GetOrCreateRoom instead.
func (reg *Registry) CreateRoom(roomID, creatorID, creatorName string) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.rooms[roomID]; ok {
		return nil, stateConflictError("Room %s already exists", roomID)
	}
	room := newRoom(roomID, creatorID)
	reg.rooms[roomID] = room
	log.Printf("Room created: id=%s creator=%s (%s)", roomID, creatorID, creatorName)
	return room, nil
}

func (reg *Registry) GetRoom(roomID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[roomID]
	return room, ok
}

func (reg *Registry) GetOrCreateRoom(roomID, creatorID, creatorName string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if room, ok := reg.rooms[roomID]; ok {
		return room
	}
	room := newRoom(roomID, creatorID)
	reg.rooms[roomID] = room
	log.Printf("Room created: id=%s creator=%s (%s)", roomID, creatorID, creatorName)
	return room
}

func (reg *Registry) DeleteRoom(roomID string) {
	reg.mu.Lock()
	_, ok := reg.rooms[roomID]
	delete(reg.rooms, roomID)
	reg.mu.Unlock()
	if ok {
		log.Printf("Room deleted: id=%s", roomID)
	}
}

// Rooms returns a stable-ordered snapshot of all rooms.
func (reg *Registry) Rooms() []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// roomOf finds the room currently containing userID, if any. Used by the
// join boundary to leave a previous room first.
func (reg *Registry) roomOf(userID string) (*Room, bool) {
	for _, room := range reg.Rooms() {
		room.mu.Lock()
		_, in := room.actors[userID]
		room.mu.Unlock()
		if in {
			return room, true
		}
	}
	return nil, false
}

// BindSession registers the delivery channel for a user. A second concurrent
// session for the same userId forcibly invalidates the first; the displaced
// client is returned so the transport can close it.
func (reg *Registry) BindSession(userID, username string, client *Client) (displaced *Client) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if prev, ok := reg.sessions[userID]; ok && prev.client != nil && prev.client != client {
		displaced = prev.client
	}
	reg.sessions[userID] = &Session{
		UserID:   userID,
		Username: username,
		client:   client,
		limiter:  rate.NewLimiter(rate.Every(time.Second/actionsPerSecond), actionsPerSecond),
	}
	return displaced
}

// UnbindSession drops the session only if it still points at the given
// client, so a displaced connection cannot unbind its successor.
func (reg *Registry) UnbindSession(userID string, client *Client) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if sess, ok := reg.sessions[userID]; ok && sess.client == client {
		delete(reg.sessions, userID)
	}
}

// ResolveChannel looks up the delivery channel for a user on demand. The
// game model never holds a transport handle.
func (reg *Registry) ResolveChannel(userID string) (*Client, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	sess, ok := reg.sessions[userID]
	if !ok || sess.client == nil {
		return nil, false
	}
	return sess.client, true
}

// Allow applies the per-session rate limit. Unknown sessions are allowed;
// they fail later at the auth check instead.
func (reg *Registry) Allow(userID string) bool {
	reg.mu.RLock()
	sess, ok := reg.sessions[userID]
	reg.mu.RUnlock()
	if !ok {
		return true
	}
	return sess.limiter.Allow()
}

// SessionIDs returns the userIds of all bound sessions.
func (reg *Registry) SessionIDs() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ids := make([]string, 0, len(reg.sessions))
	for id := range reg.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
