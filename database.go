package main

import (
	"log"
	"time"

	"github.com/jmoiron/sqlx"
)

// Player is a registered account. Game state never touches the database;
// only accounts and sessions persist.
type Player struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	SecretCode string    `db:"secret_code"`
	AvatarRef  string    `db:"avatar_ref"`
	CreatedAt  time.Time `db:"created_at"`
}

func initDB(db *sqlx.DB) error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS player (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		secret_code TEXT NOT NULL,
		avatar_ref TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS session (
		token TEXT PRIMARY KEY,
		player_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (player_id) REFERENCES player(id)
	);
	CREATE INDEX IF NOT EXISTS idx_session_player ON session(player_id);
	`
	if _, err := db.Exec(schema); err != nil {
		log.Printf("initDB error: %v", err)
		return err
	}
	log.Printf("Database initialized successfully")
	return nil
}

func getPlayerByName(db *sqlx.DB, name string) (Player, error) {
	var p Player
	err := db.Get(&p, "SELECT id, name, secret_code, avatar_ref, created_at FROM player WHERE name = ?", name)
	return p, err
}

func getPlayerBySessionToken(db *sqlx.DB, token string) (Player, error) {
	var p Player
	err := db.Get(&p, `
		SELECT p.id, p.name, p.secret_code, p.avatar_ref, p.created_at
		FROM session s
			JOIN player p ON s.player_id = p.id
		WHERE s.token = ?`, token)
	return p, err
}

func insertPlayer(db *sqlx.DB, p Player) error {
	_, err := db.Exec("INSERT INTO player (id, name, secret_code, avatar_ref) VALUES (?, ?, ?, ?)",
		p.ID, p.Name, p.SecretCode, p.AvatarRef)
	return err
}

func insertSession(db *sqlx.DB, token, playerID string) error {
	_, err := db.Exec("INSERT INTO session (token, player_id) VALUES (?, ?)", token, playerID)
	return err
}

func deleteSession(db *sqlx.DB, token string) error {
	_, err := db.Exec("DELETE FROM session WHERE token = ?", token)
	return err
}
