package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// localInference implements the local-http-inference kind against any
// OpenAI-compatible /v1/chat/completions endpoint (llama.cpp server,
// vLLM, ...). No auth header is sent unless a secret is configured.
type localInference struct {
	client  *openai.Client
	target  Target
	timeout time.Duration
	system  string
}

func newLocalInference(target Target, timeout time.Duration, participants []string) *localInference {
	cfg := openai.DefaultConfig(target.AuthSecret)
	cfg.BaseURL = target.Endpoint
	return &localInference{
		client:  openai.NewClientWithConfig(cfg),
		target:  target,
		timeout: timeout,
		system:  chatSystemPrompt(target, participants),
	}
}

func (b *localInference) Name() string { return b.target.Name }

func (b *localInference) Invoke(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	model := b.target.Model
	if model == "" {
		model = "local"
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: b.system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   1024,
		Temperature: 0.7,
	})
	if err != nil {
		if terr := timeoutErr(b.target.Name, err); terr != err {
			return "", terr
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &Error{
				Kind:    ErrProvider,
				Backend: b.target.Name,
				Detail:  fmt.Sprintf("HTTP %d: %s", apiErr.HTTPStatusCode, apiErr.Message),
			}
		}
		return "", &Error{Kind: ErrProvider, Backend: b.target.Name, Detail: err.Error()}
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &Error{Kind: ErrBadResponse, Backend: b.target.Name, Detail: "no choices in response"}
	}

	slog.Info("local inference completion",
		"backend", b.target.Name,
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Choices[0].Message.Content, nil
}
