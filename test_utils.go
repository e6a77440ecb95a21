package main

import (
	"sync"
	"testing"
	"time"
)

// recordingNotifier is a test double for the Notifier interface. It records
// every event per recipient plus all broadcasts.
type recordingNotifier struct {
	mu         sync.Mutex
	sent       map[string][]Event
	broadcasts []Event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(map[string][]Event)}
}

func (n *recordingNotifier) Send(userID string, event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent[userID] = append(n.sent[userID], event)
}

func (n *recordingNotifier) Broadcast(event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, event)
}

// eventsFor returns a copy of everything sent to one user.
func (n *recordingNotifier) eventsFor(userID string) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Event, len(n.sent[userID]))
	copy(out, n.sent[userID])
	return out
}

// lastOfType returns the most recent event of a type sent to a user.
func (n *recordingNotifier) lastOfType(userID, eventType string) (Event, bool) {
	events := n.eventsFor(userID)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == eventType {
			return events[i], true
		}
	}
	return Event{}, false
}

func (n *recordingNotifier) countOfType(userID, eventType string) int {
	count := 0
	for _, ev := range n.eventsFor(userID) {
		if ev.Type == eventType {
			count++
		}
	}
	return count
}

// chatTextsFor collects the text of every chat event sent to a user.
func (n *recordingNotifier) chatTextsFor(userID string) []string {
	var out []string
	for _, ev := range n.eventsFor(userID) {
		if ev.Type != EventChat {
			continue
		}
		if msg, ok := ev.Data.(ChatMessage); ok {
			out = append(out, msg.Text)
		}
	}
	return out
}

func (n *recordingNotifier) sawChatText(userID, text string) bool {
	for _, line := range n.chatTextsFor(userID) {
		if line == text {
			return true
		}
	}
	return false
}

// testEnv bundles an engine with all its injected test doubles. Timeouts are
// long so real timers never fire mid-test; deadline paths are exercised by
// calling the deadline callbacks directly.
type testEnv struct {
	t      *testing.T
	logger *TestLogger
	reg    *Registry
	timers *TimerService
	notify *recordingNotifier
	engine *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	logger := NewTestLogger(t)

	cfg := defaultConfig()
	cfg.NightSeconds = 600
	cfg.VoteSeconds = 600
	cfg.SpeechSeconds = 600
	cfg.HunterSeconds = 600
	cfg.AIMinDelayMS = 1
	cfg.AIMaxDelayMS = 5

	reg := NewRegistry(1)
	timers := NewTimerService()
	notify := newRecordingNotifier()
	engine := NewEngine(reg, timers, notify, cfg, logger.AppLogger)

	env := &testEnv{
		t:      t,
		logger: logger,
		reg:    reg,
		timers: timers,
		notify: notify,
		engine: engine,
	}
	t.Cleanup(func() {
		for _, room := range reg.Rooms() {
			timers.CancelRoom(room.ID)
		}
		logger.Close()
	})
	return env
}

// seat joins a set of human players into a room, failing the test on any
// rejection. The first name becomes the room creator.
func (env *testEnv) seat(roomID string, names ...string) {
	env.t.Helper()
	for _, name := range names {
		if err := env.engine.JoinRoom(roomID, name, name, ""); err != nil {
			env.t.Fatalf("JoinRoom(%s, %s) failed: %v", roomID, name, err)
		}
	}
}

func (env *testEnv) readyAll(roomID string) {
	env.t.Helper()
	room, ok := env.reg.GetRoom(roomID)
	if !ok {
		env.t.Fatalf("room %s does not exist", roomID)
	}
	room.mu.Lock()
	var humans []string
	for _, a := range room.actorList() {
		if !a.IsAI && !a.IsReady {
			humans = append(humans, a.UserID)
		}
	}
	room.mu.Unlock()
	for _, id := range humans {
		if err := env.engine.ToggleReady(roomID, id); err != nil {
			env.t.Fatalf("ToggleReady(%s) failed: %v", id, err)
		}
	}
}

// startScripted starts a game and then overrides the shuffled deal with a
// fixed userId->role mapping so scenario tests are deterministic. The night
// requirement set is rebuilt to match the forced roles.
func (env *testEnv) startScripted(roomID string, roles map[string]string) *Room {
	env.t.Helper()
	env.readyAll(roomID)
	var owner string
	room, ok := env.reg.GetRoom(roomID)
	if !ok {
		env.t.Fatalf("room %s does not exist", roomID)
	}
	room.mu.Lock()
	for _, a := range room.actorList() {
		if a.IsOwner {
			owner = a.UserID
		}
	}
	room.mu.Unlock()
	if err := env.engine.StartGame(roomID, owner); err != nil {
		env.t.Fatalf("StartGame failed: %v", err)
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	g := room.game
	for id, role := range roles {
		a, ok := room.actors[id]
		if !ok {
			env.t.Fatalf("no actor %s to assign role %s", id, role)
		}
		a.Role = role
		g.RoleAssignments[id] = role
	}
	g.Required = make(map[string]bool)
	g.Completed = make(map[string]bool)
	for _, a := range room.aliveActors() {
		switch a.Role {
		case RoleWerewolf, RoleSeer, RoleWitch:
			g.Required[a.UserID] = true
		}
	}
	return room
}

// phase reads the current phase under the room lock.
func (env *testEnv) phase(room *Room) string {
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.game == nil {
		return ""
	}
	return room.game.Phase
}

func (env *testEnv) alive(room *Room, userID string) bool {
	room.mu.Lock()
	defer room.mu.Unlock()
	a, ok := room.actors[userID]
	return ok && a.IsAlive
}

// endAllSpeeches walks the day discussion to the vote phase by yielding each
// speaker's turn in order.
func (env *testEnv) endAllSpeeches(room *Room) {
	env.t.Helper()
	for i := 0; i < maxRoomActors+1; i++ {
		room.mu.Lock()
		g := room.game
		speaker := ""
		if g != nil && g.Phase == PhaseDay {
			speaker = g.currentSpeaker()
		}
		room.mu.Unlock()
		if speaker == "" {
			return
		}
		if err := env.engine.EndSpeech(room.ID, speaker); err != nil {
			env.t.Fatalf("EndSpeech(%s) failed: %v", speaker, err)
		}
	}
}

// waitFor polls a condition until it holds or the deadline passes. Used for
// the asynchronous AI paths.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
