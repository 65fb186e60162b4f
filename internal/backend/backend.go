// Package backend provides a uniform interface over the bridge's
// heterogeneous inference and command destinations: a cloud
// chat-completion API, a local OpenAI-compatible inference server, and
// a terminal-session injection target.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind identifies the wire shape of a backend target.
type Kind string

const (
	// KindChatCompletion is a cloud chat-completion API (Anthropic).
	KindChatCompletion Kind = "chat-completion-api"
	// KindLocalInference is a locally reachable OpenAI-compatible server.
	KindLocalInference Kind = "local-http-inference"
	// KindSessionInject writes commands into a long-running terminal
	// session instead of generating text.
	KindSessionInject Kind = "terminal-session-injection"
)

// Target is a named inference or command destination, constructed from
// configuration at startup and immutable thereafter.
type Target struct {
	Name         string `json:"name"`
	Kind         Kind   `json:"kind"`
	Endpoint     string `json:"endpoint,omitempty"`      // API base URL, or session name for injection
	AuthSecret   string `json:"auth_secret,omitempty"`   // API key; empty for local inference
	Model        string `json:"model,omitempty"`         // model identifier where the backend needs one
	SystemPrompt string `json:"system_prompt,omitempty"` // identity/persona carried on chat requests
}

// ErrorKind classifies backend failures.
type ErrorKind string

const (
	ErrTimeout     ErrorKind = "timeout"
	ErrProvider    ErrorKind = "provider"     // provider-side error envelope (quota, auth, ...)
	ErrBadResponse ErrorKind = "bad_response" // unparseable or empty response
	ErrInject      ErrorKind = "inject"       // session injection failed
)

// Error is a typed backend failure. The poll loop surfaces it to the
// room as a short failure notice; it never aborts the loop.
type Error struct {
	Kind    ErrorKind
	Backend string
	Detail  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend %s: %s: %s", e.Backend, e.Kind, e.Detail)
}

// Invoker is the common capability of all backend kinds. Invoke sends
// a normalized prompt or command and returns the generated text, or an
// empty string for fire-and-forget kinds. No retries happen inside an
// Invoker — retry policy, if any, belongs to the caller.
type Invoker interface {
	Name() string
	Invoke(ctx context.Context, prompt string) (string, error)
}

// New constructs the Invoker for a target. Every invocation is bounded
// by timeout; a deadline hit maps to Error{Kind: ErrTimeout}.
func New(target Target, timeout time.Duration, participants []string) (Invoker, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	switch target.Kind {
	case KindChatCompletion:
		return newAnthropic(target, timeout, participants), nil
	case KindLocalInference:
		return newLocalInference(target, timeout, participants), nil
	case KindSessionInject:
		return newSessionInjector(target, timeout), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q for %q", target.Kind, target.Name)
	}
}

// timeoutErr maps a context deadline into the typed timeout error,
// passing other errors through unchanged.
func timeoutErr(backend string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrTimeout, Backend: backend, Detail: "request exceeded deadline"}
	}
	return err
}

// chatSystemPrompt assembles the system prompt for generative
// backends: the configured persona plus the roster of other known
// participants, so replies can address people by name.
func chatSystemPrompt(target Target, participants []string) string {
	sys := target.SystemPrompt
	if sys == "" {
		sys = "You are a helpful AI assistant participating in a Matrix chat room."
	}
	if len(participants) > 0 {
		sys += "\n\nOther participants in this room:"
		for _, p := range participants {
			sys += "\n- " + p
		}
	}
	return sys
}
