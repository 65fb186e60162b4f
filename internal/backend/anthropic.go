package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicBackend implements the chat-completion-api kind against the
// Anthropic Messages API. Each routed message becomes a single-turn
// request: system prompt (persona + participant roster) plus the user
// prompt. The bridge keeps no conversation history by design.
type anthropicBackend struct {
	client  *anthropic.Client
	target  Target
	timeout time.Duration
	system  string
}

func newAnthropic(target Target, timeout time.Duration, participants []string) *anthropicBackend {
	opts := []option.RequestOption{}
	if target.AuthSecret != "" {
		opts = append(opts, option.WithAPIKey(target.AuthSecret))
	}
	if target.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(target.Endpoint))
	}
	client := anthropic.NewClient(opts...)

	return &anthropicBackend{
		client:  &client,
		target:  target,
		timeout: timeout,
		system:  chatSystemPrompt(target, participants),
	}
}

func (b *anthropicBackend) Name() string { return b.target.Name }

func (b *anthropicBackend) Invoke(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	model := b.target.Model
	if model == "" {
		model = "claude-sonnet-4-5"
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: b.system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	message, err := b.client.Messages.New(ctx, params, option.WithRequestTimeout(b.timeout))
	if err != nil {
		if terr := timeoutErr(b.target.Name, err); terr != err {
			return "", terr
		}
		// Provider error envelopes (quota, invalid auth, ...) arrive as
		// SDK errors — surface them typed instead of crashing upstream.
		return "", &Error{Kind: ErrProvider, Backend: b.target.Name, Detail: err.Error()}
	}

	var content string
	for _, block := range message.Content {
		if textBlock, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += textBlock.Text
		}
	}
	if content == "" {
		return "", &Error{Kind: ErrBadResponse, Backend: b.target.Name, Detail: "response contained no text blocks"}
	}

	slog.Info("chat completion",
		"backend", b.target.Name,
		"model", string(message.Model),
		"input_tokens", message.Usage.InputTokens,
		"output_tokens", message.Usage.OutputTokens,
	)
	return content, nil
}
