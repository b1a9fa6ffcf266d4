package main

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
)

const storytellerSystemPrompt = `You are a dramatic storyteller for a werewolf game played by AI villagers. When players die, you tell a short atmospheric story about their fate. Keep it to 2-3 sentences. Be gothic and dramatic, fitting for a village plagued by werewolves.`

// Storyteller generates a dramatic story after deaths in the game.
// onChunk is called with each text chunk as it streams in.
type Storyteller interface {
	Tell(ctx context.Context, history []string, onChunk func(string)) (string, error)
}

type llmStoryteller struct {
	llm          llms.Model
	systemPrompt string
	callOpts     []llms.CallOption
}

func (s *llmStoryteller) Tell(ctx context.Context, history []string, onChunk func(string)) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, s.systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman,
			"What just happened:\n"+strings.Join(history, "\n")+
				"\n\nTell a short dramatic story (2-3 sentences) about what just happened to the victims."),
	}

	var fullText strings.Builder
	opts := append(append([]llms.CallOption{}, s.callOpts...), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		text := string(chunk)
		fullText.WriteString(text)
		if onChunk != nil {
			onChunk(text)
		}
		return nil
	}))

	_, err := s.llm.GenerateContent(ctx, messages, opts...)
	return strings.TrimSpace(fullText.String()), err
}

// buildCallOpts builds LLM call options from the config.
func buildCallOpts(cfg AppConfig) []llms.CallOption {
	var opts []llms.CallOption

	if cfg.StorytellerTemperature != "" {
		if f, err := strconv.ParseFloat(cfg.StorytellerTemperature, 64); err == nil {
			opts = append(opts, llms.WithTemperature(f))
			log.Printf("Storyteller: temperature=%.2f", f)
		} else {
			log.Printf("Storyteller: invalid temperature %q: %v", cfg.StorytellerTemperature, err)
		}
	}

	if cfg.StorytellerThinking != "" {
		mode := llms.ThinkingMode(cfg.StorytellerThinking)
		switch mode {
		case llms.ThinkingModeNone, llms.ThinkingModeLow, llms.ThinkingModeMedium, llms.ThinkingModeHigh, llms.ThinkingModeAuto:
			opts = append(opts, llms.WithThinkingMode(mode))
			log.Printf("Storyteller: thinking=%s", mode)
		default:
			log.Printf("Storyteller: invalid thinking %q (valid: none, low, medium, high, auto)", cfg.StorytellerThinking)
		}
	}

	return opts
}

// storytellerCredentials maps the storyteller settings onto the provider
// switch shared with player decisions.
func storytellerCredentials(cfg AppConfig) Credentials {
	creds := Credentials{Provider: cfg.StorytellerProvider}
	switch cfg.StorytellerProvider {
	case providerOllama:
		creds.URL = cfg.StorytellerOllamaURL
	case providerGroq:
		creds.APIKey = cfg.GroqAPIKey
	case providerOpenAICompatible:
		creds.URL = cfg.StorytellerURL
		creds.APIKey = cfg.StorytellerAPIKey
	}
	return creds
}

// initStoryteller returns nil when no provider is configured (feature disabled).
func initStoryteller(cfg AppConfig, hc *http.Client) Storyteller {
	provider := cfg.StorytellerProvider
	model := cfg.StorytellerModel
	if provider == "" {
		log.Printf("Storyteller: disabled (set storyteller_provider to enable)")
		return nil
	}
	if !knownProvider(provider) {
		log.Printf("Storyteller: unknown provider %q, disabled", provider)
		return nil
	}
	if provider == providerOpenAICompatible && cfg.StorytellerURL == "" {
		log.Printf("Storyteller: storyteller_url is required for openai-compatible provider")
		return nil
	}

	llm, err := newChatModel(context.Background(), storytellerCredentials(cfg), model, hc)
	if err != nil {
		log.Printf("Storyteller: failed to init %s (%s): %v", provider, model, err)
		return nil
	}
	log.Printf("Storyteller: %s model=%s", provider, model)
	return &llmStoryteller{llm: llm, systemPrompt: storytellerSystemPrompt, callOpts: buildCallOpts(cfg)}
}

// narration is the payload of a narration event.
type narration struct {
	Day   int    `json:"day"`
	Phase string `json:"phase"`
	Text  string `json:"text"`
	Done  bool   `json:"done"`
}

// narrator streams a story about a phase's deaths to the session's watchers.
type narrator struct {
	teller   Storyteller
	notifier Notifier
	flush    time.Duration
	timeout  time.Duration
	wg       sync.WaitGroup
}

func newNarrator(teller Storyteller, notifier Notifier) *narrator {
	if teller == nil || notifier == nil {
		return nil
	}
	return &narrator{teller: teller, notifier: notifier, flush: 300 * time.Millisecond, timeout: 30 * time.Second}
}

// maybeNarrate returns immediately; story text appears progressively as
// narration events, the last one with Done set. Failures are only logged.
func (n *narrator) maybeNarrate(sessionKey string, day int, phase string, deaths []string) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		var mu sync.Mutex
		var buf strings.Builder

		// Flush goroutine: pushes partial text to watchers every tick
		done := make(chan struct{})
		flushed := make(chan struct{})
		go func() {
			defer close(flushed)
			ticker := time.NewTicker(n.flush)
			defer ticker.Stop()
			last := ""
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					text := strings.TrimSpace(buf.String())
					mu.Unlock()
					if text != "" && text != last {
						last = text
						n.notifier.Publish(sessionKey, "narration", narration{Day: day, Phase: phase, Text: text})
					}
				case <-done:
					return
				}
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		_, err := n.teller.Tell(ctx, deaths, func(chunk string) {
			mu.Lock()
			buf.WriteString(chunk)
			mu.Unlock()
		})

		close(done)
		<-flushed

		if err != nil {
			log.Printf("maybeNarrate: storyteller error: %v", err)
			return
		}

		mu.Lock()
		finalText := strings.TrimSpace(buf.String())
		mu.Unlock()
		if finalText == "" {
			return
		}

		n.notifier.Publish(sessionKey, "narration", narration{Day: day, Phase: phase, Text: finalText, Done: true})
		log.Printf("Storyteller: completed story for day %d %s", day, phase)
	}()
}

// wait blocks until every narration in flight has finished.
func (n *narrator) wait() {
	n.wg.Wait()
}
