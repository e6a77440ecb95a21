package main

import (
	"testing"
)

func TestNightKillResolvesIntoDay(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleVillager, "c": RoleVillager, "d": RoleSeer,
	})

	if err := env.engine.WerewolfVote("keep", "a", "b"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}
	if got := env.phase(room); got != PhaseNight {
		t.Fatalf("night resolved before the seer acted, phase = %q", got)
	}
	if err := env.engine.SeerCheck("keep", "d", "a"); err != nil {
		t.Fatalf("SeerCheck failed: %v", err)
	}

	if got := env.phase(room); got != PhaseDay {
		t.Errorf("phase = %q, want %q", got, PhaseDay)
	}
	if env.alive(room, "b") {
		t.Error("victim b should be dead")
	}
	if !env.notify.sawChatText("a", "Dawn breaks. Found dead: b") {
		t.Errorf("missing death announcement, got %v", env.notify.chatTextsFor("a"))
	}

	result, ok := env.notify.lastOfType("d", EventSeerResult)
	if !ok {
		t.Fatal("seer got no investigation result")
	}
	data := result.Data.(map[string]any)
	if data["isWerewolf"] != true || data["targetId"] != "a" {
		t.Errorf("seer result = %v, want a revealed as werewolf", data)
	}
	if env.notify.countOfType("a", EventSeerResult) != 0 {
		t.Error("seer result leaked to another player")
	}
}

func TestSplitWerewolfVoteKillsNobody(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d", "e")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleWerewolf,
		"c": RoleVillager, "d": RoleVillager, "e": RoleVillager,
	})

	if err := env.engine.WerewolfVote("keep", "a", "c"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}
	if err := env.engine.WerewolfVote("keep", "b", "d"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}

	if got := env.phase(room); got != PhaseDay {
		t.Errorf("phase = %q, want %q", got, PhaseDay)
	}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if !env.alive(room, id) {
			t.Errorf("%s should be alive after a split kill vote", id)
		}
	}
	if !env.notify.sawChatText("c", "Dawn breaks. The night passed peacefully.") {
		t.Errorf("missing peaceful dawn announcement, got %v", env.notify.chatTextsFor("c"))
	}
}

func TestWitchSaveNegatesKill(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleVillager, "c": RoleWitch, "d": RoleVillager,
	})

	if err := env.engine.WerewolfVote("keep", "a", "b"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}
	prompt, ok := env.notify.lastOfType("c", EventWitchAction)
	if !ok {
		t.Fatal("witch was not prompted after the kill vote settled")
	}
	if data := prompt.Data.(map[string]any); data["victimId"] != "b" {
		t.Errorf("witch prompt victim = %v, want b", data["victimId"])
	}
	if err := env.engine.WitchAction("keep", "c", WitchSave, "b"); err != nil {
		t.Fatalf("WitchAction save failed: %v", err)
	}

	if got := env.phase(room); got != PhaseDay {
		t.Errorf("phase = %q, want %q", got, PhaseDay)
	}
	if !env.alive(room, "b") {
		t.Error("saved victim b should be alive")
	}
	if !env.notify.sawChatText("b", "Dawn breaks. The night passed peacefully.") {
		t.Error("a saved night should read as peaceful")
	}

	room.mu.Lock()
	hasAntidote := room.game.WitchItems.HasAntidote
	room.mu.Unlock()
	if hasAntidote {
		t.Error("antidote should be spent")
	}
	death, ok := env.notify.lastOfType("a", EventDeath)
	if !ok {
		t.Fatal("no dawn death announcement event")
	}
	if data := death.Data.(map[string]any); data["saved"] != true {
		t.Errorf("death announcement saved = %v, want true", data["saved"])
	}
}

func TestWitchSaveRestrictions(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d")
	env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleWitch, "c": RoleVillager, "d": RoleVillager,
	})

	// Antidote before any victim is fixed.
	err := env.engine.WitchAction("keep", "b", WitchSave, "c")
	if errorKind(err) != ErrValidation {
		t.Errorf("save with no victim: kind = %q, want %q (%v)", errorKind(err), ErrValidation, err)
	}

	if err := env.engine.WerewolfVote("keep", "a", "b"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}

	// First-night self-save is banned even though b is tonight's victim.
	err = env.engine.WitchAction("keep", "b", WitchSave, "b")
	if errorKind(err) != ErrPermission {
		t.Errorf("first night self-save: kind = %q, want %q (%v)", errorKind(err), ErrPermission, err)
	}
	// Antidote on someone other than the victim.
	err = env.engine.WitchAction("keep", "b", WitchSave, "c")
	if errorKind(err) != ErrValidation {
		t.Errorf("save on non-victim: kind = %q, want %q (%v)", errorKind(err), ErrValidation, err)
	}
	// Self-poison.
	err = env.engine.WitchAction("keep", "b", WitchPoison, "b")
	if errorKind(err) != ErrValidation {
		t.Errorf("self poison: kind = %q, want %q (%v)", errorKind(err), ErrValidation, err)
	}
}

func TestWitchPoisonIsIndependentOfTheKill(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleVillager, "c": RoleWitch, "d": RoleVillager,
	})

	if err := env.engine.WerewolfVote("keep", "a", "b"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}
	if err := env.engine.WitchAction("keep", "c", WitchPoison, "d"); err != nil {
		t.Fatalf("WitchAction poison failed: %v", err)
	}

	if env.alive(room, "b") || env.alive(room, "d") {
		t.Error("both the kill victim and the poison target should be dead")
	}
	if !env.notify.sawChatText("a", "Dawn breaks. Found dead: b, d") {
		t.Errorf("missing combined death announcement, got %v", env.notify.chatTextsFor("a"))
	}
	room.mu.Lock()
	hasPoison := room.game.WitchItems.HasPoison
	room.mu.Unlock()
	if hasPoison {
		t.Error("poison should be spent")
	}
}

func TestWitchMaySaveHerselfAfterTheFirstNight(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleWitch, "c": RoleVillager, "d": RoleVillager,
	})

	// Night 1: the wolf takes c, the witch holds her potions.
	if err := env.engine.WerewolfVote("keep", "a", "c"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}
	if err := env.engine.SkipAction("keep", "b", ActionNight); err != nil {
		t.Fatalf("SkipAction(night) failed: %v", err)
	}
	env.endAllSpeeches(room)
	for _, id := range []string{"a", "b", "d"} {
		if err := env.engine.SkipAction("keep", id, ActionVote); err != nil {
			t.Fatalf("SkipAction(vote, %s) failed: %v", id, err)
		}
	}
	if got := env.phase(room); got != PhaseNight {
		t.Fatalf("phase = %q, want %q for night 2", got, PhaseNight)
	}

	// Night 2: the witch herself is the victim, and now the antidote works.
	if err := env.engine.WerewolfVote("keep", "a", "b"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}
	if err := env.engine.WitchAction("keep", "b", WitchSave, "b"); err != nil {
		t.Fatalf("later-night self-save rejected: %v", err)
	}
	if !env.alive(room, "b") {
		t.Error("saved witch should be alive")
	}
	if !env.notify.sawChatText("d", "Dawn breaks. The night passed peacefully.") {
		t.Errorf("self-save should make the night peaceful, got %v", env.notify.chatTextsFor("d"))
	}
}

func TestWitchPotionsAreSingleUse(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleWitch, "c": RoleSeer, "d": RoleVillager,
	})

	if err := env.engine.WerewolfVote("keep", "a", "d"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}
	if err := env.engine.WitchAction("keep", "b", WitchSave, "d"); err != nil {
		t.Fatalf("WitchAction(save) failed: %v", err)
	}
	if err := env.engine.WitchAction("keep", "b", WitchSave, "d"); errorKind(err) != ErrStateConflict {
		t.Errorf("second save: kind = %q, want %q", errorKind(err), ErrStateConflict)
	}

	if err := env.engine.WitchAction("keep", "b", WitchPoison, "c"); err != nil {
		t.Fatalf("WitchAction(poison) failed: %v", err)
	}
	if err := env.engine.WitchAction("keep", "b", WitchPoison, "d"); errorKind(err) != ErrStateConflict {
		t.Errorf("second poison: kind = %q, want %q", errorKind(err), ErrStateConflict)
	}

	// The spent potions still land exactly once at resolution.
	if err := env.engine.SeerCheck("keep", "c", "a"); err != nil {
		t.Fatalf("SeerCheck failed: %v", err)
	}
	if got := env.phase(room); got != PhaseDay {
		t.Fatalf("phase = %q, want %q", got, PhaseDay)
	}
	if !env.alive(room, "d") {
		t.Error("saved victim should be alive")
	}
	if env.alive(room, "c") {
		t.Error("poisoned player should be dead")
	}
	if !env.notify.sawChatText("a", "Dawn breaks. Found dead: c") {
		t.Errorf("missing dawn announcement, got %v", env.notify.chatTextsFor("a"))
	}
}

func TestTiedVoteEliminatesNobody(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleVillager, "c": RoleVillager, "d": RoleVillager,
	})

	if err := env.engine.SkipAction("keep", "a", ActionNight); err != nil {
		t.Fatalf("SkipAction failed: %v", err)
	}
	env.endAllSpeeches(room)
	if got := env.phase(room); got != PhaseVote {
		t.Fatalf("phase = %q, want %q", got, PhaseVote)
	}

	for voter, target := range map[string]string{"a": "b", "b": "a", "c": "a", "d": "b"} {
		if err := env.engine.PlayerVote("keep", voter, target); err != nil {
			t.Fatalf("PlayerVote(%s -> %s) failed: %v", voter, target, err)
		}
	}

	if !env.notify.sawChatText("c", "The vote is tied. No one is eliminated.") {
		t.Errorf("missing tie announcement, got %v", env.notify.chatTextsFor("c"))
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		if !env.alive(room, id) {
			t.Errorf("%s should survive a tied vote", id)
		}
	}
	if got := env.phase(room); got != PhaseNight {
		t.Errorf("phase after tied vote = %q, want %q", got, PhaseNight)
	}

	tally, ok := env.notify.lastOfType("a", EventVoteTally)
	if !ok {
		t.Fatal("no vote tally published")
	}
	data := tally.Data.(map[string]any)
	tied, _ := data["tiedCandidates"].([]string)
	if len(tied) != 2 || tied[0] != "a" || tied[1] != "b" {
		t.Errorf("tiedCandidates = %v, want [a b]", data["tiedCandidates"])
	}
}

func TestVoteEliminationRevealsRoleAndVillageWins(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleVillager, "c": RoleVillager, "d": RoleSeer,
	})

	if err := env.engine.WerewolfVote("keep", "a", "b"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}
	if err := env.engine.SeerCheck("keep", "d", "a"); err != nil {
		t.Fatalf("SeerCheck failed: %v", err)
	}
	env.endAllSpeeches(room)

	for voter, target := range map[string]string{"c": "a", "d": "a", "a": "c"} {
		if err := env.engine.PlayerVote("keep", voter, target); err != nil {
			t.Fatalf("PlayerVote(%s -> %s) failed: %v", voter, target, err)
		}
	}

	if !env.notify.sawChatText("c", "a was voted out with 2 votes. They were a werewolf.") {
		t.Errorf("missing elimination reveal, got %v", env.notify.chatTextsFor("c"))
	}
	if !env.notify.sawChatText("c", "All werewolves are dead. The village wins.") {
		t.Error("missing village victory announcement")
	}

	ended, ok := env.notify.lastOfType("c", EventGameEnded)
	if !ok {
		t.Fatal("no game ended event")
	}
	data := ended.Data.(map[string]any)
	if data["winner"] != RoleVillager {
		t.Errorf("winner = %v, want %q", data["winner"], RoleVillager)
	}
	roles := data["roles"].(map[string]string)
	if roles["a"] != RoleWerewolf || roles["d"] != RoleSeer {
		t.Errorf("final role reveal = %v", roles)
	}

	room.mu.Lock()
	active := room.game.IsActive
	room.mu.Unlock()
	if active {
		t.Error("game should be over")
	}
}

func TestWerewolvesWinWhenNoOthersRemain(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleVillager, "c": RoleVillager,
	})

	if err := env.engine.WerewolfVote("keep", "a", "b"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}
	env.endAllSpeeches(room)
	for _, id := range []string{"a", "c"} {
		if err := env.engine.SkipAction("keep", id, ActionVote); err != nil {
			t.Fatalf("SkipAction(%s) failed: %v", id, err)
		}
	}
	if !env.notify.sawChatText("c", "No votes were cast. No one is eliminated.") {
		t.Error("missing empty vote announcement")
	}
	if got := env.phase(room); got != PhaseNight {
		t.Fatalf("phase = %q, want second night", got)
	}

	if err := env.engine.WerewolfVote("keep", "a", "c"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}

	if !env.notify.sawChatText("a", "The werewolves have taken the village.") {
		t.Errorf("missing werewolf victory, got %v", env.notify.chatTextsFor("a"))
	}
	ended, ok := env.notify.lastOfType("a", EventGameEnded)
	if !ok {
		t.Fatal("no game ended event")
	}
	if data := ended.Data.(map[string]any); data["winner"] != RoleWerewolf {
		t.Errorf("winner = %v, want %q", data["winner"], RoleWerewolf)
	}
}

func TestHunterRevengeSuspendsTheFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d", "e")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleHunter,
		"c": RoleVillager, "d": RoleVillager, "e": RoleVillager,
	})

	if err := env.engine.WerewolfVote("keep", "a", "c"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}
	env.endAllSpeeches(room)

	for voter, target := range map[string]string{"a": "b", "d": "b", "e": "b", "b": "a"} {
		if err := env.engine.PlayerVote("keep", voter, target); err != nil {
			t.Fatalf("PlayerVote(%s -> %s) failed: %v", voter, target, err)
		}
	}

	room.mu.Lock()
	pending := room.game.PendingHunter
	room.mu.Unlock()
	if pending != "b" {
		t.Fatalf("PendingHunter = %q, want b", pending)
	}
	if _, ok := env.notify.lastOfType("b", EventHunterPrompt); !ok {
		t.Error("eliminated hunter got no shot prompt")
	}
	// Nobody else holds a revenge shot.
	if err := env.engine.HunterShoot("keep", "d", "a"); errorKind(err) != ErrPermission {
		t.Errorf("HunterShoot by non-hunter: kind = %q, want %q", errorKind(err), ErrPermission)
	}

	if err := env.engine.HunterShoot("keep", "b", "a"); err != nil {
		t.Fatalf("HunterShoot failed: %v", err)
	}
	if env.alive(room, "a") {
		t.Error("revenge target should be dead")
	}
	if !env.notify.sawChatText("d", "b takes a down with their final shot.") {
		t.Errorf("missing revenge announcement, got %v", env.notify.chatTextsFor("d"))
	}
	if !env.notify.sawChatText("d", "All werewolves are dead. The village wins.") {
		t.Error("shooting the last werewolf should end the game")
	}
}

func TestVoteIsFrozenWhileTheHunterAims(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d", "e")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleHunter,
		"c": RoleVillager, "d": RoleVillager, "e": RoleVillager,
	})

	if err := env.engine.WerewolfVote("keep", "a", "c"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}
	env.endAllSpeeches(room)
	for voter, target := range map[string]string{"a": "b", "d": "b", "e": "b", "b": "a"} {
		if err := env.engine.PlayerVote("keep", voter, target); err != nil {
			t.Fatalf("PlayerVote(%s -> %s) failed: %v", voter, target, err)
		}
	}

	room.mu.Lock()
	seq := room.game.phaseSeq
	pending := room.game.PendingHunter
	room.mu.Unlock()
	if pending != "b" {
		t.Fatalf("PendingHunter = %q, want b", pending)
	}

	// Late ballots and skips bounce while the shot is pending.
	if err := env.engine.PlayerVote("keep", "d", "a"); errorKind(err) != ErrStateConflict {
		t.Errorf("re-vote during suspension: kind = %q, want %q", errorKind(err), ErrStateConflict)
	}
	if err := env.engine.SkipAction("keep", "e", ActionVote); errorKind(err) != ErrStateConflict {
		t.Errorf("vote skip during suspension: kind = %q, want %q", errorKind(err), ErrStateConflict)
	}

	// Nor may the vote deadline resolve the same ballots a second time.
	env.engine.phaseDeadline("keep", seq)

	room.mu.Lock()
	phase := room.game.Phase
	pending = room.game.PendingHunter
	room.mu.Unlock()
	if phase != PhaseVote || pending != "b" {
		t.Fatalf("phase = %q pending = %q, want suspension intact", phase, pending)
	}
	if !env.alive(room, "a") {
		t.Fatal("a second resolution eliminated another player")
	}

	if err := env.engine.HunterShoot("keep", "b", "a"); err != nil {
		t.Fatalf("HunterShoot failed: %v", err)
	}
	if env.alive(room, "a") {
		t.Error("revenge target should be dead")
	}
}

func TestHunterDeadlinePicksRandomTarget(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d", "e")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleHunter,
		"c": RoleVillager, "d": RoleVillager, "e": RoleVillager,
	})

	if err := env.engine.WerewolfVote("keep", "a", "c"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}
	env.endAllSpeeches(room)
	for voter, target := range map[string]string{"a": "b", "d": "b", "e": "b", "b": "a"} {
		if err := env.engine.PlayerVote("keep", voter, target); err != nil {
			t.Fatalf("PlayerVote(%s -> %s) failed: %v", voter, target, err)
		}
	}

	room.mu.Lock()
	seq := room.game.phaseSeq
	aliveBefore := len(room.aliveActors())
	room.mu.Unlock()

	env.engine.hunterDeadline("keep", seq)

	room.mu.Lock()
	pending := room.game.PendingHunter
	aliveAfter := len(room.aliveActors())
	room.mu.Unlock()
	if pending != "" {
		t.Errorf("PendingHunter = %q, want cleared", pending)
	}
	if aliveAfter != aliveBefore-1 {
		t.Errorf("alive went %d -> %d, want exactly one shot victim", aliveBefore, aliveAfter)
	}
}

func TestPhaseDeadlineResolvesNight(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleVillager, "c": RoleVillager, "d": RoleVillager,
	})

	room.mu.Lock()
	seq := room.game.phaseSeq
	room.mu.Unlock()
	env.engine.phaseDeadline("keep", seq)

	if got := env.phase(room); got != PhaseDay {
		t.Errorf("phase = %q, want %q after the night deadline", got, PhaseDay)
	}
	if !env.notify.sawChatText("b", "Dawn breaks. The night passed peacefully.") {
		t.Error("a timed-out night with no kill vote should be peaceful")
	}
}

func TestStaleDeadlineIsANoOp(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleVillager, "c": RoleVillager, "d": RoleVillager,
	})

	room.mu.Lock()
	staleSeq := room.game.phaseSeq
	room.mu.Unlock()

	// Owner a resolves the night by hand; the old night deadline is now stale.
	if err := env.engine.ForceNextPhase("keep", "a"); err != nil {
		t.Fatalf("ForceNextPhase failed: %v", err)
	}
	if got := env.phase(room); got != PhaseDay {
		t.Fatalf("phase = %q, want %q", got, PhaseDay)
	}

	env.engine.phaseDeadline("keep", staleSeq)
	if got := env.phase(room); got != PhaseDay {
		t.Errorf("stale deadline changed the phase to %q", got)
	}
}

func TestForceNextPhaseIsOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleVillager, "c": RoleVillager, "d": RoleVillager,
	})

	err := env.engine.ForceNextPhase("keep", "b")
	if errorKind(err) != ErrPermission {
		t.Errorf("non-owner force: kind = %q, want %q (%v)", errorKind(err), ErrPermission, err)
	}

	// Owner walks night -> day -> vote.
	if err := env.engine.ForceNextPhase("keep", "a"); err != nil {
		t.Fatalf("forcing the night failed: %v", err)
	}
	if got := env.phase(room); got != PhaseDay {
		t.Fatalf("phase = %q, want %q", got, PhaseDay)
	}
	if err := env.engine.ForceNextPhase("keep", "a"); err != nil {
		t.Fatalf("forcing the day failed: %v", err)
	}
	if got := env.phase(room); got != PhaseVote {
		t.Errorf("phase = %q, want %q", got, PhaseVote)
	}
}

func TestSkipActionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleSeer, "c": RoleVillager, "d": RoleVillager,
	})

	if err := env.engine.SkipAction("keep", "b", ActionNight); err != nil {
		t.Fatalf("first skip failed: %v", err)
	}
	if err := env.engine.SkipAction("keep", "b", ActionNight); err != nil {
		t.Fatalf("second skip failed: %v", err)
	}
	if got := env.phase(room); got != PhaseNight {
		t.Errorf("phase = %q, werewolf has not acted yet", got)
	}
	if err := env.engine.SkipAction("keep", "a", ActionNight); err != nil {
		t.Fatalf("werewolf skip failed: %v", err)
	}
	if got := env.phase(room); got != PhaseDay {
		t.Errorf("phase = %q, want %q once all required actors skipped", got, PhaseDay)
	}
}

func TestDayAdvancesRoundAndDayCount(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleVillager, "c": RoleVillager, "d": RoleVillager,
	})

	room.mu.Lock()
	round, days := room.game.Round, room.game.DayCount
	firstNight := room.game.IsFirstNight
	room.mu.Unlock()
	if round != 1 || days != 0 || !firstNight {
		t.Fatalf("fresh game round=%d days=%d firstNight=%v, want 1, 0, true", round, days, firstNight)
	}

	if err := env.engine.SkipAction("keep", "a", ActionNight); err != nil {
		t.Fatalf("SkipAction failed: %v", err)
	}

	room.mu.Lock()
	round, days = room.game.Round, room.game.DayCount
	firstNight = room.game.IsFirstNight
	room.mu.Unlock()
	if round != 2 || days != 1 || firstNight {
		t.Errorf("after first dawn round=%d days=%d firstNight=%v, want 2, 1, false", round, days, firstNight)
	}
}

func TestSpeakingOrderFollowsSeating(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleVillager, "c": RoleVillager, "d": RoleVillager,
	})

	if err := env.engine.WerewolfVote("keep", "a", "b"); err != nil {
		t.Fatalf("WerewolfVote failed: %v", err)
	}

	room.mu.Lock()
	var want []string
	for _, a := range room.aliveByPosition() {
		want = append(want, a.UserID)
	}
	got := append([]string(nil), room.game.SpeakerOrder...)
	first := room.game.currentSpeaker()
	room.mu.Unlock()

	if len(got) != len(want) {
		t.Fatalf("speaker order %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("speaker order %v, want seating order %v", got, want)
		}
	}
	for _, id := range got {
		if id == "b" {
			t.Error("dead actor b should not be in the speaking order")
		}
	}
	if first != want[0] {
		t.Errorf("first speaker = %q, want %q", first, want[0])
	}

	// Only the floor holder may yield.
	other := want[1]
	if err := env.engine.EndSpeech("keep", other); errorKind(err) != ErrPermission {
		t.Errorf("EndSpeech by %s: kind = %q, want %q", other, errorKind(err), ErrPermission)
	}
	if err := env.engine.EndSpeech("keep", first); err != nil {
		t.Fatalf("EndSpeech by the speaker failed: %v", err)
	}
	room.mu.Lock()
	second := room.game.currentSpeaker()
	room.mu.Unlock()
	if second != want[1] {
		t.Errorf("floor moved to %q, want %q", second, want[1])
	}
}

func TestSpeakerDeadlineAdvancesOnlyTheCurrentTurn(t *testing.T) {
	env := newTestEnv(t)
	env.seat("keep", "a", "b", "c", "d")
	room := env.startScripted("keep", map[string]string{
		"a": RoleWerewolf, "b": RoleVillager, "c": RoleVillager, "d": RoleVillager,
	})
	if err := env.engine.SkipAction("keep", "a", ActionNight); err != nil {
		t.Fatalf("SkipAction failed: %v", err)
	}

	room.mu.Lock()
	seq := room.game.phaseSeq
	idx := room.game.SpeakerIdx
	first := room.game.currentSpeaker()
	room.mu.Unlock()

	env.engine.speakerDeadline("keep", seq, idx)
	room.mu.Lock()
	second := room.game.currentSpeaker()
	room.mu.Unlock()
	if second == first {
		t.Error("deadline did not advance the speaker")
	}

	// The stale fire for the already-finished turn does nothing.
	env.engine.speakerDeadline("keep", seq, idx)
	room.mu.Lock()
	third := room.game.currentSpeaker()
	room.mu.Unlock()
	if third != second {
		t.Errorf("stale speaker deadline moved the floor from %q to %q", second, third)
	}
}
