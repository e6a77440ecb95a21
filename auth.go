package main

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const sessionCookieName = "werewolf_session"

// AuthService owns account signup, login and session resolution. Sessions
// are opaque tokens stored server side; the cookie carries only the token.
type AuthService struct {
	db     *sqlx.DB
	logger *AppLogger
}

func NewAuthService(db *sqlx.DB, logger *AppLogger) *AuthService {
	return &AuthService{db: db, logger: logger}
}

func generateSecretCode() (string, error) {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func (s *AuthService) setSessionCookie(w http.ResponseWriter, playerID string) {
	token := uuid.NewString()
	if err := insertSession(s.db, token, playerID); err != nil {
		log.Printf("setSessionCookie: insert session: %v", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// getUserFromSession resolves the session cookie to a player id and name.
func (s *AuthService) getUserFromSession(r *http.Request) (userID, username string, err error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return "", "", err
	}
	player, err := getPlayerBySessionToken(s.db, cookie.Value)
	if err != nil {
		return "", "", err
	}
	return player.ID, player.Name, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *AuthService) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.FormValue("name")
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "Name is required")
		return
	}

	_, err := getPlayerByName(s.db, name)
	if err == nil {
		writeJSONError(w, http.StatusConflict, "Name already taken. Use login with secret code if this is you.")
		return
	}
	if err != sql.ErrNoRows {
		log.Printf("handleSignup: get player: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	secretCode, err := generateSecretCode()
	if err != nil {
		log.Printf("handleSignup: generateSecretCode: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	player := Player{
		ID:         uuid.NewString(),
		Name:       name,
		SecretCode: secretCode,
		AvatarRef:  r.FormValue("avatar_ref"),
	}
	if err := insertPlayer(s.db, player); err != nil {
		log.Printf("handleSignup: insert player: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	log.Printf("New player created: name='%s', id=%s", name, player.ID)
	s.logger.DebugLog("handleSignup", "Player '%s' signed up with ID %s", name, player.ID)

	s.setSessionCookie(w, player.ID)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":          player.ID,
		"name":        player.Name,
		"secret_code": player.SecretCode,
	})
}

func (s *AuthService) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.FormValue("name")
	secretCode := r.FormValue("secret_code")
	if name == "" || secretCode == "" {
		writeJSONError(w, http.StatusBadRequest, "Name and secret code are required")
		return
	}

	player, err := getPlayerByName(s.db, name)
	if err == sql.ErrNoRows || (err == nil && player.SecretCode != secretCode) {
		writeJSONError(w, http.StatusUnauthorized, "Invalid name or secret code")
		return
	}
	if err != nil {
		log.Printf("handleLogin: get player: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}

	log.Printf("Player logged in: name='%s', id=%s", name, player.ID)
	s.logger.DebugLog("handleLogin", "Player '%s' logged in with ID %s", name, player.ID)
	s.setSessionCookie(w, player.ID)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":   player.ID,
		"name": player.Name,
	})
}

func (s *AuthService) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, username, _ := s.getUserFromSession(r)

	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		deleteSession(s.db, cookie.Value)
	}

	log.Printf("Player logged out: name='%s', id=%s", username, userID)
	s.logger.DebugLog("handleLogout", "Player '%s' (%s) logged out", username, userID)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
