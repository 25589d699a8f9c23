// Package dialogue implements the counterpart reply generator over an
// OpenAI-compatible chat-completions API.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deegee85/negotiation-lab/internal/domain"
	"github.com/sashabaranov/go-openai"
)

// OpenAIGenerator produces persona replies via the chat-completions API.
type OpenAIGenerator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// Config holds generator settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // optional; for OpenAI-compatible endpoints
	Timeout time.Duration
}

// NewOpenAIGenerator creates a generator client.
func NewOpenAIGenerator(cfg Config) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
		slog.Warn("OPENAI_MODEL not set, defaulting", "model", cfg.Model)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("Initializing dialogue generator", "model", cfg.Model)
	return &OpenAIGenerator{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

// Generate returns the counterpart's reply for the ordered turn history plus
// the incoming user message. Failures are wrapped as domain.ErrUpstream; the
// engine recovers them with a fallback reply.
func (g *OpenAIGenerator) Generate(ctx context.Context, systemPrompt string, history []domain.Turn, userText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, turn := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    roleFor(turn.Speaker),
			Content: turn.Text,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userText,
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", domain.ErrUpstream)
	}
	return resp.Choices[0].Message.Content, nil
}

// roleFor maps transcript speakers onto chat roles. System-authored turns
// (deadline notices, feedback) are presented as assistant messages so the
// model sees them as part of the visible conversation, not as instructions.
func roleFor(speaker domain.Speaker) string {
	if speaker == domain.SpeakerUser {
		return openai.ChatMessageRoleUser
	}
	return openai.ChatMessageRoleAssistant
}
