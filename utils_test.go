package main

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNilLoggerIsSafe(t *testing.T) {
	var al *AppLogger
	al.LogRequest("GET", "/rooms", nil, nil, nil)
	al.LogWSMessage("IN", "alice", "{}")
	al.LogGameEvent("tavern", "night %d begins", 1)
	al.DebugLog("test", "nothing to see")
	al.Close()
	if al.IsEnabled() {
		t.Error("nil logger reports itself enabled")
	}
}

func TestAppLoggerWritesGameLog(t *testing.T) {
	dir := t.TempDir()
	al, err := NewAppLogger(LogConfig{OutputDir: dir, LogGame: true})
	if err != nil {
		t.Fatalf("NewAppLogger: %v", err)
	}
	al.LogGameEvent("tavern", "night %d begins, %d alive", 1, 4)
	al.LogGameEvent("tavern", "game ended, winner=%q", "villager")
	al.Close()

	data, err := os.ReadFile(filepath.Join(dir, "game.log"))
	if err != nil {
		t.Fatalf("read game log: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "[room tavern] night 1 begins, 4 alive") {
		t.Errorf("game log missing the event:\n%s", text)
	}
	if !strings.Contains(text, `winner="villager"`) {
		t.Errorf("game log missing the game end:\n%s", text)
	}
	if !al.IsEnabled() {
		t.Error("logger with game logging on should report enabled")
	}
}

func TestLoggingHandlerPreservesTheResponse(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})
	handler := &LoggingHandler{Handler: inner, Logger: nil}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if rec.Header().Get("X-Test") != "yes" {
		t.Error("header lost through the recorder copy")
	}
	if rec.Body.String() != "short and stout" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestCompressNegotiatesWithTheRequest(t *testing.T) {
	handler := compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %q", body)
	}

	// No Accept-Encoding means identity.
	req = httptest.NewRequest(http.MethodGet, "/rooms", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding = %q, want none", got)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Errorf("identity body = %q", rec.Body.String())
	}
}
