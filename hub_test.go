package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// hubFixture wires a real hub, engine and auth store behind an httptest
// server, with clients talking actual websockets.
type hubFixture struct {
	t      *testing.T
	auth   *AuthService
	hub    *Hub
	server *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	db, err := sqlx.Connect("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := initDB(db); err != nil {
		t.Fatalf("initDB: %v", err)
	}
	logger := NewTestLogger(t)

	cfg := defaultConfig()
	cfg.NightSeconds = 600
	cfg.VoteSeconds = 600
	cfg.SpeechSeconds = 600
	cfg.HunterSeconds = 600

	reg := NewRegistry(1)
	timers := NewTimerService()
	auth := NewAuthService(db, logger.AppLogger)
	hub := newHub(reg, auth, logger.AppLogger)
	engine := NewEngine(reg, timers, hub, cfg, logger.AppLogger)
	hub.attachEngine(engine)
	go hub.run()

	server := httptest.NewServer(http.HandlerFunc(hub.handleWebSocket))
	t.Cleanup(func() {
		server.Close()
		hub.stop()
		for _, room := range reg.Rooms() {
			timers.CancelRoom(room.ID)
		}
		logger.Close()
		db.Close()
	})
	return &hubFixture{t: t, auth: auth, hub: hub, server: server}
}

// signup creates an account and returns its session cookie.
func (f *hubFixture) signup(name string) *http.Cookie {
	f.t.Helper()
	rec := postForm(f.auth.handleSignup, "/signup", url.Values{"name": {name}})
	if rec.Code != http.StatusOK {
		f.t.Fatalf("signup %s: status %d, body %s", name, rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	f.t.Fatal("signup set no session cookie")
	return nil
}

func (f *hubFixture) dial(cookie *http.Cookie) *websocket.Conn {
	f.t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http")
	header := http.Header{"Cookie": {cookie.String()}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		f.t.Fatalf("websocket dial: %v", err)
	}
	f.t.Cleanup(func() { conn.Close() })
	return conn
}

func wsSend(t *testing.T, conn *websocket.Conn, msg WSMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("websocket write: %v", err)
	}
}

// wsExpect reads frames until one of the wanted type arrives.
func wsExpect(t *testing.T, conn *websocket.Conn, eventType string) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", eventType, err)
		}
		var frame struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("bad frame %q: %v", raw, err)
		}
		if frame.Type != eventType {
			continue
		}
		var data map[string]any
		if len(frame.Data) > 0 {
			json.Unmarshal(frame.Data, &data)
		}
		return data
	}
}

func TestWebSocketRequiresASession(t *testing.T) {
	f := newHubFixture(t)
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("anonymous dial should fail the handshake")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake response = %v, want 401", resp)
	}
}

func TestWebSocketRoomFlow(t *testing.T) {
	f := newHubFixture(t)
	alice := f.dial(f.signup("alice"))
	bob := f.dial(f.signup("bob"))

	wsSend(t, alice, WSMessage{Action: "join_room", RoomID: "tavern"})
	members := wsExpect(t, alice, EventRoomMembers)
	if members["roomId"] != "tavern" {
		t.Errorf("room snapshot for %v, want tavern", members["roomId"])
	}

	wsSend(t, bob, WSMessage{Action: "join_room", RoomID: "tavern"})
	wsExpect(t, bob, EventRoomMembers)

	// Alice hears bob arrive and both see his chat line.
	wsSend(t, bob, WSMessage{Action: "send_message", RoomID: "tavern", Channel: ChannelMain, Text: "evening all"})
	for {
		data := wsExpect(t, alice, EventChat)
		if data["text"] == "evening all" {
			if data["username"] != "bob" {
				t.Errorf("chat attributed to %v, want bob", data["username"])
			}
			break
		}
	}

	// A malformed frame only bounces back to the sender.
	if err := bob.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	errData := wsExpect(t, bob, EventError)
	if errData["kind"] != ErrValidation || errData["message"] != "Malformed command" {
		t.Errorf("error frame = %v", errData)
	}

	wsSend(t, bob, WSMessage{Action: "list_rooms"})
	wsExpect(t, bob, EventRoomsList)
}

func TestSecondSessionDisplacesTheFirst(t *testing.T) {
	f := newHubFixture(t)
	cookie := f.signup("alice")

	first := f.dial(cookie)
	wsSend(t, first, WSMessage{Action: "join_room", RoomID: "tavern"})
	wsExpect(t, first, EventRoomMembers)

	second := f.dial(cookie)

	// The displaced connection is told why and then closed by the server.
	data := wsExpect(t, first, EventSystem)
	if data["message"] != "Signed in from another session." {
		t.Errorf("system frame = %v", data)
	}
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// The new session still owns the seat: rejoining is an upsert that
	// replays the retained history instead of seating a second actor.
	wsSend(t, second, WSMessage{Action: "join_room", RoomID: "tavern"})
	for {
		data := wsExpect(t, second, EventChat)
		if data["text"] == "alice joined the room" {
			break
		}
	}
	wsSend(t, second, WSMessage{Action: "toggle_ready", RoomID: "tavern"})
	members := wsExpect(t, second, EventRoomMembers)
	actors, _ := members["actors"].([]any)
	if len(actors) != 1 {
		t.Errorf("room has %d actors after displacement, want the original seat", len(actors))
	}
}
