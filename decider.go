package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Supported model providers
const (
	providerOpenAICompatible = "openai-compatible"
	providerOpenAI           = "openai"
	providerClaude           = "claude"
	providerGemini           = "gemini"
	providerGroq             = "groq"
	providerOllama           = "ollama"
)

const (
	groqBaseURL      = "https://api.groq.com/openai/v1"
	defaultOllamaURL = "http://localhost:11434"
)

func knownProvider(p string) bool {
	switch p {
	case providerOpenAICompatible, providerOpenAI, providerClaude, providerGemini, providerGroq, providerOllama:
		return true
	}
	return false
}

var errEmptyReply = errors.New("model returned an empty reply")

// ChatRequest is one decision request sent on behalf of a player.
type ChatRequest struct {
	SessionKey string
	PlayerID   string
	Model      string
	Prompt     string
}

// ChatClient performs one blocking chat completion. Any error, including an
// empty reply, counts as a failed call.
type ChatClient interface {
	Complete(ctx context.Context, creds Credentials, req ChatRequest) (string, error)
}

// ChatHistory persists each player's conversation between calls.
type ChatHistory interface {
	LoadHistory(ctx context.Context, key, playerID string, limit int) ([]ChatMessage, error)
	AppendHistory(ctx context.Context, key, playerID string, msgs ...ChatMessage) error
	ClearHistory(ctx context.Context, key string) error
}

// llmChatClient sends decisions through langchaingo, building the provider
// client from the session's credentials on every call.
type llmChatClient struct {
	httpClient  *http.Client
	history     ChatHistory
	historySize int
	callOpts    []llms.CallOption
}

func newLLMChatClient(cfg AppConfig, history ChatHistory, logger *AppLogger) *llmChatClient {
	return &llmChatClient{
		httpClient:  &http.Client{Transport: &LoggingRoundTripper{Transport: http.DefaultTransport, Logger: logger}},
		history:     history,
		historySize: cfg.DecisionHistory,
		callOpts:    buildDecisionCallOpts(cfg),
	}
}

func buildDecisionCallOpts(cfg AppConfig) []llms.CallOption {
	var opts []llms.CallOption
	if cfg.DecisionTemperature != "" {
		if f, err := strconv.ParseFloat(cfg.DecisionTemperature, 64); err == nil {
			opts = append(opts, llms.WithTemperature(f))
			log.Printf("Decisions: temperature=%.2f", f)
		} else {
			log.Printf("Decisions: invalid temperature %q: %v", cfg.DecisionTemperature, err)
		}
	}
	return opts
}

func (c *llmChatClient) Complete(ctx context.Context, creds Credentials, req ChatRequest) (string, error) {
	model, err := newChatModel(ctx, creds, req.Model, c.httpClient)
	if err != nil {
		return "", err
	}

	var messages []llms.MessageContent
	if c.history != nil {
		prior, err := c.history.LoadHistory(ctx, req.SessionKey, req.PlayerID, c.historySize)
		if err != nil {
			logError("llmChatClient: LoadHistory", err)
		}
		for _, m := range prior {
			role := llms.ChatMessageTypeHuman
			if m.Role == "assistant" {
				role = llms.ChatMessageTypeAI
			}
			messages = append(messages, llms.TextParts(role, m.Content))
		}
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	resp, err := model.GenerateContent(ctx, messages, c.callOpts...)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", errEmptyReply
	}
	content := resp.Choices[0].Content

	if c.history != nil {
		err := c.history.AppendHistory(ctx, req.SessionKey, req.PlayerID,
			ChatMessage{Role: "user", Content: req.Prompt},
			ChatMessage{Role: "assistant", Content: content})
		if err != nil {
			logError("llmChatClient: AppendHistory", err)
		}
	}
	return content, nil
}

// newChatModel builds a langchaingo model for one provider.
func newChatModel(ctx context.Context, creds Credentials, model string, hc *http.Client) (llms.Model, error) {
	switch creds.Provider {
	case "", providerOpenAICompatible:
		if creds.URL == "" {
			return nil, errors.New("api url is required for openai-compatible provider")
		}
		opts := []openai.Option{
			openai.WithModel(model),
			openai.WithBaseURL(normalizeBaseURL(creds.URL)),
			openai.WithHTTPClient(hc),
		}
		if creds.APIKey != "" {
			opts = append(opts, openai.WithToken(creds.APIKey))
		}
		return openai.New(opts...)
	case providerOpenAI:
		opts := []openai.Option{openai.WithModel(model), openai.WithHTTPClient(hc)}
		if creds.URL != "" {
			opts = append(opts, openai.WithBaseURL(normalizeBaseURL(creds.URL)))
		}
		if creds.APIKey != "" {
			opts = append(opts, openai.WithToken(creds.APIKey))
		}
		return openai.New(opts...)
	case providerGroq:
		return openai.New(
			openai.WithModel(model),
			openai.WithBaseURL(groqBaseURL),
			openai.WithToken(creds.APIKey),
			openai.WithHTTPClient(hc),
		)
	case providerClaude:
		opts := []anthropic.Option{anthropic.WithModel(model), anthropic.WithHTTPClient(hc)}
		if creds.URL != "" {
			opts = append(opts, anthropic.WithBaseURL(creds.URL))
		}
		if creds.APIKey != "" {
			opts = append(opts, anthropic.WithToken(creds.APIKey))
		}
		return anthropic.New(opts...)
	case providerGemini:
		opts := []googleai.Option{googleai.WithDefaultModel(model)}
		if creds.APIKey != "" {
			opts = append(opts, googleai.WithAPIKey(creds.APIKey))
		}
		return googleai.New(ctx, opts...)
	case providerOllama:
		url := creds.URL
		if url == "" {
			url = defaultOllamaURL
		}
		return ollama.New(ollama.WithModel(model), ollama.WithServerURL(url), ollama.WithHTTPClient(hc))
	}
	return nil, fmt.Errorf("unknown provider %q", creds.Provider)
}

// normalizeBaseURL turns whatever endpoint a user pasted into the base URL of
// an OpenAI-compatible API, ending in /v1.
func normalizeBaseURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	for _, suffix := range []string{"/chat/completions", "/models"} {
		u = strings.TrimSuffix(u, suffix)
	}
	u = strings.TrimRight(u, "/")
	if i := strings.Index(u, "/v1/"); i >= 0 {
		u = u[:i+len("/v1")]
	}
	if !strings.HasSuffix(u, "/v1") {
		u += "/v1"
	}
	return u
}
