package main

import "time"

// Game phases. The empty string means no phase is active.
const (
	PhaseNight = "night"
	PhaseDay   = "day"
	PhaseVote  = "vote"
)

// Roles.
const (
	RoleWerewolf = "werewolf"
	RoleVillager = "villager"
	RoleSeer     = "seer"
	RoleWitch    = "witch"
	RoleHunter   = "hunter"
)

// Death causes recorded in the death ledger.
const (
	CauseWerewolf = "werewolf"
	CausePoison   = "poison"
	CauseVote     = "vote"
	CauseHunter   = "hunter"
)

var roleDescriptions = map[string]string{
	RoleWerewolf: "Each night the werewolves agree on one victim. Win when no other faction survives.",
	RoleVillager: "No night power. Find the werewolves and vote them out by day.",
	RoleSeer:     "Each night, learn whether one player is a werewolf.",
	RoleWitch:    "Holds one antidote and one poison, each usable once per game.",
	RoleHunter:   "When voted out, fires a final shot at a living player.",
}

// RoleCounts is the special-role makeup of a game; remaining seats are
// padded with villagers so the pool always covers the actor count.
type RoleCounts struct {
	Werewolves int `json:"werewolves"`
	Seers      int `json:"seers"`
	Witches    int `json:"witches"`
	Hunters    int `json:"hunters"`
}

// VoteDetail is one recorded ballot.
type VoteDetail struct {
	TargetID string    `json:"targetId"`
	CastAt   time.Time `json:"castAt"`
}

// DeathEntry is one append-only row of the death ledger.
type DeathEntry struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	Cause     string `json:"cause"`
	Day       int    `json:"day"`
	VoteCount int    `json:"voteCount,omitempty"`
}

// WitchItems are single-use for the life of one game.
type WitchItems struct {
	HasAntidote bool `json:"hasAntidote"`
	HasPoison   bool `json:"hasPoison"`
}

// NightActions is the night ledger: recorded intent, resolved only at phase
// end.
type NightActions struct {
	WerewolfVotes map[string]string // voter -> target
	WitchSave     string
	WitchPoison   string
	SeerCheck     string
	HunterShot    string
}

// GameState is the authoritative per-room round data, replaced wholesale on
// restart. Mutated only under the owning room's lock.
type GameState struct {
	IsActive     bool
	Phase        string
	Round        int
	DayCount     int
	IsFirstNight bool

	RoleAssignments     map[string]string
	PositionAssignments map[string]int

	Votes       map[string]map[string]bool // target -> set of voters
	VoteDetails map[string]VoteDetail      // voter -> ballot

	Night      NightActions
	WitchItems WitchItems

	DeathRecord    []DeathEntry
	LastNightDeath string
	NightSaved     bool

	Required  map[string]bool
	Completed map[string]bool

	// PendingHunter holds the just-eliminated hunter whose shot suspends
	// the vote-to-night transition.
	PendingHunter string

	// Speaker turn state during day discussion.
	SpeakerOrder []string
	SpeakerIdx   int

	Winner string

	// phaseSeq increments on every phase change so stale timer fires
	// resolve nothing.
	phaseSeq int
}

func newGameState() *GameState {
	return &GameState{
		IsActive:            true,
		Round:               1,
		DayCount:            0,
		IsFirstNight:        true,
		RoleAssignments:     make(map[string]string),
		PositionAssignments: make(map[string]int),
		Votes:               make(map[string]map[string]bool),
		VoteDetails:         make(map[string]VoteDetail),
		Night:               NightActions{WerewolfVotes: make(map[string]string)},
		WitchItems:          WitchItems{HasAntidote: true, HasPoison: true},
		Required:            make(map[string]bool),
		Completed:           make(map[string]bool),
		SpeakerIdx:          -1,
	}
}

func (g *GameState) resetVotes() {
	g.Votes = make(map[string]map[string]bool)
	g.VoteDetails = make(map[string]VoteDetail)
}

func (g *GameState) resetNightActions() {
	g.Night = NightActions{WerewolfVotes: make(map[string]string)}
	g.LastNightDeath = ""
	g.NightSaved = false
}

// recordVote moves a voter's ballot to target, removing any prior ballot
// first so a voter appears under at most one target.
func (g *GameState) recordVote(voterID, targetID string) {
	if prev, ok := g.VoteDetails[voterID]; ok {
		delete(g.Votes[prev.TargetID], voterID)
		if len(g.Votes[prev.TargetID]) == 0 {
			delete(g.Votes, prev.TargetID)
		}
	}
	if g.Votes[targetID] == nil {
		g.Votes[targetID] = make(map[string]bool)
	}
	g.Votes[targetID][voterID] = true
	g.VoteDetails[voterID] = VoteDetail{TargetID: targetID, CastAt: time.Now()}
}

// tallyVotes returns the unique plurality target, or ok=false on a tie
// across two or more targets or when no ballots were cast.
func tallyVotes(counts map[string]int) (target string, max int, ok bool) {
	tied := false
	for id, n := range counts {
		switch {
		case n > max:
			max, target, tied = n, id, false
		case n == max && n > 0:
			tied = true
		}
	}
	if max == 0 || tied {
		return "", max, false
	}
	return target, max, true
}

func (g *GameState) voteCounts() map[string]int {
	counts := make(map[string]int)
	for target, voters := range g.Votes {
		counts[target] = len(voters)
	}
	return counts
}

func (g *GameState) werewolfVoteCounts() map[string]int {
	counts := make(map[string]int)
	for _, target := range g.Night.WerewolfVotes {
		counts[target]++
	}
	return counts
}

// buildRolePool expands the configured counts and pads with villagers up to
// the actor count. Special roles beyond the seat count are dropped from the
// tail so the pool is never short.
func buildRolePool(counts RoleCounts, actorCount int) []string {
	var pool []string
	add := func(role string, n int) {
		for i := 0; i < n; i++ {
			pool = append(pool, role)
		}
	}
	add(RoleWerewolf, counts.Werewolves)
	add(RoleSeer, counts.Seers)
	add(RoleWitch, counts.Witches)
	add(RoleHunter, counts.Hunters)
	if len(pool) > actorCount {
		pool = pool[:actorCount]
	}
	for len(pool) < actorCount {
		pool = append(pool, RoleVillager)
	}
	return pool
}

// assignRoles deals shuffled roles and seating positions 1..N to the room's
// actors. Callers hold the room lock.
func assignRoles(reg *Registry, room *Room, counts RoleCounts) {
	actors := room.actorList()
	pool := buildRolePool(counts, len(actors))
	reg.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	positions := make([]int, len(actors))
	for i := range positions {
		positions[i] = i + 1
	}
	reg.shuffle(len(positions), func(i, j int) { positions[i], positions[j] = positions[j], positions[i] })

	g := room.game
	for i, a := range actors {
		a.Role = pool[i]
		a.Position = positions[i]
		a.IsAlive = true
		a.HasVoted = false
		a.NightActionDone = false
		g.RoleAssignments[a.UserID] = pool[i]
		g.PositionAssignments[a.UserID] = positions[i]
	}
}

// applyDeath marks an actor dead and appends to the death ledger. Callers
// hold the room lock and have verified the actor is alive.
func applyDeath(room *Room, actor *Actor, cause string, voteCount int) DeathEntry {
	actor.IsAlive = false
	entry := DeathEntry{
		UserID:    actor.UserID,
		Username:  actor.Username,
		Role:      actor.Role,
		Cause:     cause,
		Day:       room.game.DayCount,
		VoteCount: voteCount,
	}
	room.game.DeathRecord = append(room.game.DeathRecord, entry)
	return entry
}

// GameSnapshot is the public per-room game view. Role assignments stay
// private; only deaths reveal roles.
type GameSnapshot struct {
	RoomID     string       `json:"roomId"`
	Phase      string       `json:"phase"`
	Round      int          `json:"round"`
	DayCount   int          `json:"dayCount"`
	WitchItems WitchItems   `json:"witchItems"`
	Deaths     []DeathEntry `json:"deaths"`
	Speaker    string       `json:"currentSpeaker,omitempty"`
	Winner     string       `json:"winner,omitempty"`
}

func (r *Room) gameSnapshot() GameSnapshot {
	g := r.game
	snap := GameSnapshot{
		RoomID:     r.ID,
		Phase:      g.Phase,
		Round:      g.Round,
		DayCount:   g.DayCount,
		WitchItems: g.WitchItems,
		Deaths:     append([]DeathEntry(nil), g.DeathRecord...),
		Winner:     g.Winner,
	}
	if g.Phase == PhaseDay && g.SpeakerIdx >= 0 && g.SpeakerIdx < len(g.SpeakerOrder) {
		snap.Speaker = g.SpeakerOrder[g.SpeakerIdx]
	}
	return snap
}
