package main

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const narratorSystemPrompt = `You are the narrator of a werewolf social deduction game set in a medieval village. Given the public game log, write a short dramatic epilogue (2-3 sentences) for the finished game. Be gothic and atmospheric.`

const aiSpeechSystemPrompt = `You are a villager in a werewolf social deduction game. Given the public game log, say one short suspicious or defensive sentence for the day discussion. Stay in character, no meta commentary.`

// Narrator generates flavor text from the public game log. onChunk streams
// partial output as it arrives.
type Narrator interface {
	Narrate(ctx context.Context, system string, lines []string, onChunk func(string)) (string, error)
}

type llmNarrator struct {
	llm      llms.Model
	callOpts []llms.CallOption
}

func (n *llmNarrator) Narrate(ctx context.Context, system string, lines []string, onChunk func(string)) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, "Game log so far:\n"+strings.Join(lines, "\n")),
	}

	var fullText strings.Builder
	opts := append(n.callOpts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		text := string(chunk)
		fullText.WriteString(text)
		if onChunk != nil {
			onChunk(text)
		}
		return nil
	}))

	_, err := n.llm.GenerateContent(ctx, messages, opts...)
	return strings.TrimSpace(fullText.String()), err
}

func buildNarratorOpts(cfg AppConfig) []llms.CallOption {
	var opts []llms.CallOption
	if cfg.NarratorTemperature != "" {
		if f, err := strconv.ParseFloat(cfg.NarratorTemperature, 64); err == nil {
			opts = append(opts, llms.WithTemperature(f))
			log.Printf("Narrator: temperature=%.2f", f)
		} else {
			log.Printf("Narrator: invalid temperature %q: %v", cfg.NarratorTemperature, err)
		}
	}
	return opts
}

// newNarrator builds the configured LLM narrator, or nil when disabled.
func newNarrator(cfg AppConfig) Narrator {
	model := cfg.NarratorModel
	callOpts := buildNarratorOpts(cfg)

	switch cfg.NarratorProvider {
	case "ollama":
		llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(cfg.NarratorOllamaURL))
		if err != nil {
			log.Printf("Narrator: failed to init Ollama (%s at %s): %v", model, cfg.NarratorOllamaURL, err)
			return nil
		}
		log.Printf("Narrator: Ollama model=%s url=%s", model, cfg.NarratorOllamaURL)
		return &llmNarrator{llm: llm, callOpts: callOpts}
	case "openai":
		llm, err := openai.New(openai.WithModel(model))
		if err != nil {
			log.Printf("Narrator: failed to init OpenAI (%s): %v", model, err)
			return nil
		}
		log.Printf("Narrator: OpenAI model=%s", model)
		return &llmNarrator{llm: llm, callOpts: callOpts}
	case "claude":
		llm, err := anthropic.New(anthropic.WithModel(model))
		if err != nil {
			log.Printf("Narrator: failed to init Claude (%s): %v", model, err)
			return nil
		}
		log.Printf("Narrator: Claude model=%s", model)
		return &llmNarrator{llm: llm, callOpts: callOpts}
	case "openai-compatible":
		if cfg.NarratorURL == "" {
			log.Printf("Narrator: narrator_url is required for openai-compatible provider")
			return nil
		}
		opts := []openai.Option{openai.WithModel(model), openai.WithBaseURL(cfg.NarratorURL)}
		if cfg.NarratorAPIKey != "" {
			opts = append(opts, openai.WithToken(cfg.NarratorAPIKey))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			log.Printf("Narrator: failed to init openai-compatible (%s at %s): %v", model, cfg.NarratorURL, err)
			return nil
		}
		log.Printf("Narrator: openai-compatible model=%s url=%s", model, cfg.NarratorURL)
		return &llmNarrator{llm: llm, callOpts: callOpts}
	default:
		log.Printf("Narrator: disabled (set narrator_provider to enable)")
		return nil
	}
}

// ============================================================================
// AI actor behaviour
// ============================================================================

var cannedSpeeches = []string{
	"I was home all night, I swear it.",
	"Someone is acting very quiet today.",
	"I don't trust the ones who vote too quickly.",
	"The wolves are among us, look at who benefits.",
	"I have nothing to hide. Do you?",
}

// aiDelay returns a jittered think time so AI actions do not land in the
// same instant as the phase change.
func (e *Engine) aiDelay() time.Duration {
	min, max := e.cfg.aiDelayRange()
	if max <= min {
		return min
	}
	return min + time.Duration(e.reg.intn(int(max-min)))
}

// scheduleAINightActions queues the night moves of every living AI actor
// with a night role. Callers hold the room lock; the moves themselves go
// through the normal validated action path later.
func (e *Engine) scheduleAINightActions(room *Room) {
	g := room.game
	seq := g.phaseSeq
	for _, a := range room.aliveActors() {
		if !a.IsAI || !g.Required[a.UserID] {
			continue
		}
		aiID, role := a.UserID, a.Role
		delay := e.aiDelay()
		go func() {
			time.Sleep(delay)
			e.runAINightAction(room.ID, aiID, role, seq)
		}()
	}
}

func (e *Engine) runAINightAction(roomID, aiID, role string, seq int) {
	if !e.aiStillRelevant(roomID, seq) {
		return
	}
	switch role {
	case RoleWerewolf:
		if target, ok := e.aiPickTarget(roomID, aiID, true); ok {
			if err := e.WerewolfVote(roomID, aiID, target); err != nil {
				e.aiSkipQuietly(roomID, aiID, ActionNight)
			}
			return
		}
		e.aiSkipQuietly(roomID, aiID, ActionNight)
	case RoleSeer:
		if target, ok := e.aiPickTarget(roomID, aiID, false); ok {
			if err := e.SeerCheck(roomID, aiID, target); err != nil {
				e.aiSkipQuietly(roomID, aiID, ActionNight)
			}
			return
		}
		e.aiSkipQuietly(roomID, aiID, ActionNight)
	default:
		// AI witch hoards her potions.
		e.aiSkipQuietly(roomID, aiID, ActionNight)
	}
}

// scheduleAIVotes queues a random ballot for every living AI actor.
func (e *Engine) scheduleAIVotes(room *Room) {
	seq := room.game.phaseSeq
	for _, a := range room.aliveActors() {
		if !a.IsAI {
			continue
		}
		aiID := a.UserID
		delay := e.aiDelay()
		go func() {
			time.Sleep(delay)
			if !e.aiStillRelevant(room.ID, seq) {
				return
			}
			if target, ok := e.aiPickTarget(room.ID, aiID, false); ok {
				if err := e.PlayerVote(room.ID, aiID, target); err != nil {
					e.aiSkipQuietly(room.ID, aiID, ActionVote)
				}
				return
			}
			e.aiSkipQuietly(room.ID, aiID, ActionVote)
		}()
	}
}

// scheduleAISpeech has an AI speaker say one line and yield the floor.
func (e *Engine) scheduleAISpeech(room *Room, aiID string) {
	seq := room.game.phaseSeq
	delay := e.aiDelay()
	go func() {
		time.Sleep(delay)
		if !e.aiStillRelevant(room.ID, seq) {
			return
		}
		line := e.aiSpeechLine(room)
		if err := e.SendMessage(room.ID, aiID, ChannelRole, line); err != nil {
			return
		}
		e.EndSpeech(room.ID, aiID)
	}()
}

// aiSpeechLine asks the narrator for a line, falling back to a canned one.
func (e *Engine) aiSpeechLine(room *Room) string {
	fallback := cannedSpeeches[e.reg.intn(len(cannedSpeeches))]
	if e.narrator == nil {
		return fallback
	}
	room.mu.Lock()
	lines := chatTexts(room.history(ChannelGame))
	room.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	text, err := e.narrator.Narrate(ctx, aiSpeechSystemPrompt, lines, nil)
	if err != nil || text == "" {
		return fallback
	}
	return text
}

// scheduleAIHunterShot queues the revenge shot of an eliminated AI hunter.
func (e *Engine) scheduleAIHunterShot(room *Room) {
	seq := room.game.phaseSeq
	delay := e.aiDelay()
	go func() {
		time.Sleep(delay)
		r, ok := e.reg.GetRoom(room.ID)
		if !ok {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		g := r.game
		if g == nil || !g.IsActive || g.phaseSeq != seq || g.PendingHunter == "" {
			return
		}
		e.timers.Cancel(r.ID, SlotHunter)
		e.autoHunterShot(r)
	}()
}

// aiStillRelevant rejects queued AI work for a phase that already moved on.
func (e *Engine) aiStillRelevant(roomID string, seq int) bool {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	g := room.game
	return g != nil && g.IsActive && g.phaseSeq == seq
}

// aiPickTarget draws a uniformly random living target, excluding the AI
// itself and, for werewolves, their packmates.
func (e *Engine) aiPickTarget(roomID, aiID string, excludeWolves bool) (string, bool) {
	room, ok := e.reg.GetRoom(roomID)
	if !ok {
		return "", false
	}
	room.mu.Lock()
	var candidates []string
	for _, a := range room.aliveActors() {
		if a.UserID == aiID {
			continue
		}
		if excludeWolves && a.Role == RoleWerewolf {
			continue
		}
		candidates = append(candidates, a.UserID)
	}
	room.mu.Unlock()
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[e.reg.intn(len(candidates))], true
}

// aiSkipQuietly skips the AI's required action, swallowing rejections from
// phases that already resolved.
func (e *Engine) aiSkipQuietly(roomID, aiID, kind string) {
	if err := e.SkipAction(roomID, aiID, kind); err != nil {
		log.Printf("Room %s: AI %s skip ignored: %v", roomID, aiID, err)
	}
}

// narrateEpilogue streams a short end-of-game story into the game channel.
// Partial text is pushed every 300ms under a stable message id so clients
// can render it progressively. Callers hold the room lock.
func (e *Engine) narrateEpilogue(room *Room, winner string) {
	if e.narrator == nil {
		return
	}
	lines := chatTexts(room.history(ChannelGame))
	msgID := uuid.NewString()
	rid := room.ID

	go func() {
		var mu sync.Mutex
		var buf strings.Builder

		push := func(text string, final bool) {
			r, ok := e.reg.GetRoom(rid)
			if !ok {
				return
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			msg := ChatMessage{ID: msgID, Channel: ChannelGame, Text: text, System: true, SentAt: time.Now()}
			if final {
				r.appendMessage(msg)
			}
			e.notifyRoom(r, Event{Type: EventChat, Data: msg})
		}

		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(300 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					text := strings.TrimSpace(buf.String())
					mu.Unlock()
					if text != "" {
						push(text, false)
					}
				case <-done:
					return
				}
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, err := e.narrator.Narrate(ctx, narratorSystemPrompt, lines, func(chunk string) {
			mu.Lock()
			buf.WriteString(chunk)
			mu.Unlock()
		})
		close(done)
		if err != nil {
			log.Printf("Room %s: narrator error: %v", rid, err)
			return
		}

		mu.Lock()
		finalText := strings.TrimSpace(buf.String())
		mu.Unlock()
		if finalText != "" {
			push(finalText, true)
			log.Printf("Room %s: narrator epilogue complete (winner=%q)", rid, winner)
		}
	}()
}

func chatTexts(lines []ChatMessage) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Text)
	}
	return out
}
