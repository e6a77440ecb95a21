package main

import (
	"compress/gzip"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

func disableCaching(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Cache-Control", "no-cache")

		next.ServeHTTP(w, r)
	})
}

// shouldCompress determines if a content type should be gzip compressed
func shouldCompress(contentType string) bool {
	compressiblePrefixes := []string{
		"text/",
		"application/json",
		"application/javascript",
	}
	for _, prefix := range compressiblePrefixes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// responseWriter wraps http.ResponseWriter to handle conditional gzip compression
type responseWriter struct {
	http.ResponseWriter
	gz            *gzip.Writer
	wrappedWriter http.ResponseWriter
	acceptGzip    bool
	headerSent    bool
}

// WriteHeader checks content type and sets up compression if appropriate
func (w *responseWriter) WriteHeader(statusCode int) {
	if w.headerSent {
		return
	}
	w.headerSent = true

	contentType := w.Header().Get("Content-Type")

	if contentType != "" && shouldCompress(contentType) && w.acceptGzip {
		w.gz = gzip.NewWriter(w.wrappedWriter)
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.headerSent {
		w.WriteHeader(http.StatusOK)
	}

	if w.gz != nil {
		return w.gz.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) Flush() {
	if w.gz != nil {
		w.gz.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *responseWriter) Close() error {
	if w.gz != nil {
		return w.gz.Close()
	}
	return nil
}

// compress adds gzip compression to compressible responses
func compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{
			ResponseWriter: w,
			wrappedWriter:  w,
			acceptGzip:     strings.Contains(r.Header.Get("Accept-Encoding"), "gzip"),
		}
		defer wrapped.Close()

		next.ServeHTTP(wrapped, r)
	})
}

// handleWSMessage routes a client command to the engine. Any rejection comes
// back to the sender as an error event with a machine-readable kind.
func handleWSMessage(engine *Engine, client *Client, message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("WebSocket unmarshal error for user %s: %v", client.userID, err)
		sendError(engine.notify, client.userID, validationError("Malformed command"))
		return
	}

	if !engine.reg.Allow(client.userID) {
		sendError(engine.notify, client.userID, rateLimitError())
		return
	}

	// Commands after the first few omit the room id; fall back to the room
	// the user is currently in.
	roomID := msg.RoomID
	if roomID == "" {
		if room, ok := engine.reg.roomOf(client.userID); ok {
			roomID = room.ID
		}
	}

	var err error
	switch msg.Action {
	case "join_room":
		err = engine.JoinRoom(roomID, client.userID, client.username, msg.AvatarRef)
	case "leave_room":
		err = engine.LeaveRoom(roomID, client.userID)
	case "toggle_ready":
		err = engine.ToggleReady(roomID, client.userID)
	case "add_ai_players":
		err = engine.AddAIPlayers(roomID, client.userID, msg.Players)
	case "send_message":
		err = engine.SendMessage(roomID, client.userID, msg.Channel, msg.Text)
	case "list_rooms":
		engine.SendRoomsList(client.userID)
	case "role_list":
		engine.notify.Send(client.userID, Event{Type: EventRoleList, Data: engine.RoleList()})
	case "start_game":
		err = engine.StartGame(roomID, client.userID)
	case "restart_game":
		err = engine.RestartGame(roomID, client.userID)
	case "end_game":
		err = engine.EndGame(roomID, client.userID)
	case "reset_room":
		err = engine.ResetRoom(roomID, client.userID)
	case "next_phase":
		err = engine.ForceNextPhase(roomID, client.userID)
	case "werewolf_vote":
		err = engine.WerewolfVote(roomID, client.userID, msg.TargetID)
	case "seer_check":
		err = engine.SeerCheck(roomID, client.userID, msg.TargetID)
	case "witch_action":
		err = engine.WitchAction(roomID, client.userID, msg.WitchAction, msg.TargetID)
	case "player_vote":
		err = engine.PlayerVote(roomID, client.userID, msg.TargetID)
	case "hunter_shoot":
		err = engine.HunterShoot(roomID, client.userID, msg.TargetID)
	case "skip_action":
		err = engine.SkipAction(roomID, client.userID, msg.Kind)
	case "end_speech":
		err = engine.EndSpeech(roomID, client.userID)
	default:
		log.Printf("Unknown action: %s from user %s (%s)", msg.Action, client.userID, client.username)
		err = validationError("Unknown action %q", msg.Action)
	}

	if err != nil {
		engine.logger.DebugLog("handleWSMessage", "Action %s by %s rejected: %v", msg.Action, client.username, err)
		sendError(engine.notify, client.userID, err)
	}
}

func main() {
	fv := registerFlags()
	flag.Parse()
	cfg := loadConfig(*fv.configPath)
	fv.applyTo(&cfg)

	// Set up logging to both stdout and file
	logFile, err := os.OpenFile("werewolf.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	logger, err := NewAppLogger(cfg.toLogConfig())
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Close()
	if logger.IsEnabled() {
		log.Println("Extended logging enabled")
	}

	db, err := sqlx.Connect("sqlite3", cfg.DB)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()
	if err := initDB(db); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}

	reg := NewRegistry(cfg.RandomSeed)
	timers := NewTimerService()
	auth := NewAuthService(db, logger)
	hub := newHub(reg, auth, logger)
	engine := NewEngine(reg, timers, hub, cfg, logger)
	engine.narrator = newNarrator(cfg)
	hub.attachEngine(engine)

	go hub.run()
	defer hub.stop()

	sweeper, err := NewSweeper(engine, cfg.SweepSchedule, time.Duration(cfg.RoomTTLMinutes)*time.Minute)
	if err != nil {
		log.Fatal("Failed to set up room sweeper:", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Wrap handlers with compression, caching control, and optional logging
	wrapHandler := func(pattern string, handler http.HandlerFunc) {
		var h http.Handler = handler
		h = compress(h)
		h = disableCaching(h)
		if logger.logRequests {
			http.Handle(pattern, &LoggingHandler{Handler: h, Logger: logger})
		} else {
			http.Handle(pattern, h)
		}
	}

	wrapHandler("/signup", auth.handleSignup)
	wrapHandler("/login", auth.handleLogin)
	wrapHandler("/logout", auth.handleLogout)
	wrapHandler("/ws", hub.handleWebSocket)
	wrapHandler("/rooms", func(w http.ResponseWriter, r *http.Request) {
		rooms := reg.Rooms()
		summaries := make([]RoomSummary, 0, len(rooms))
		for _, room := range rooms {
			room.mu.Lock()
			summaries = append(summaries, room.summary())
			room.mu.Unlock()
		}
		writeJSON(w, http.StatusOK, summaries)
	})

	log.Println("Server starting on", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, nil))
}
